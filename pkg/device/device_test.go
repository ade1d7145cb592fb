package device

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strconv"
	"testing"
	"time"

	"avaneesh/dnp3-bridge/internal/simulator"
	"avaneesh/dnp3-bridge/pkg/app"
	"avaneesh/dnp3-bridge/pkg/channel"
	"avaneesh/dnp3-bridge/pkg/point"
	"avaneesh/dnp3-bridge/pkg/tree"
)

var testConfig = Config{
	Network:           &NetworkParams{Host: "127.0.0.1", Port: 20000},
	MasterAddress:     17,
	OutstationAddress: 4,
	ResponseTimeout:   500 * time.Millisecond,
}

// pipeDialer connects the adapter to an in-memory simulator
func pipeDialer(t *testing.T) (Dialer, *simulator.Outstation) {
	t.Helper()
	local, remote := channel.NewPipe()
	och := channel.New("outstation", remote, nil)
	out, err := simulator.New(simulator.Config{LocalAddress: 4, RemoteAddress: 17}, och, nil)
	if err != nil {
		t.Fatalf("simulator.New() error = %v", err)
	}
	if err := och.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { och.Close() })
	return func(context.Context, Config) (channel.PhysicalChannel, error) { return local, nil }, out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"network", testConfig, false},
		{"serial", Config{Serial: &SerialParams{Port: "COM3", BaudRate: 9600}}, false},
		{"none", Config{}, true},
		{"both", Config{Serial: &SerialParams{Port: "COM3", BaudRate: 9600}, Network: testConfig.Network}, true},
		{"blank host", Config{Network: &NetworkParams{Port: 20000}}, true},
		{"bad port", Config{Network: &NetworkParams{Host: "h", Port: 70000}}, true},
		{"bad protocol", Config{Network: &NetworkParams{Host: "h", Port: 1, Protocol: "sctp"}}, true},
		{"blank serial port", Config{Serial: &SerialParams{BaudRate: 9600}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdapter_ReadAndOperate(t *testing.T) {
	dial, out := pipeDialer(t)
	db := out.Database()
	db.Update(simulator.PointTypeAnalog, 0, 12.5)
	db.Update(simulator.PointTypeBinaryOutput, 1, 1)
	db.ClearEvents()

	a := NewAdapter(nil, WithDialer(dial))
	s, err := a.Open(context.Background(), testConfig, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	got, err := s.ReadStatic(ctx)
	if err != nil {
		t.Fatalf("ReadStatic() error = %v", err)
	}
	want := []point.Raw{{Group: 0x10, Index: 1, Value: "true"}, {Group: 0x30, Index: 0, Value: "12.5"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadStatic() = %v, expected %v", got, want)
	}

	if err := s.Operate(ctx, point.Encode(point.BinaryOutput, 1, tree.Bool(false))); err != nil {
		t.Fatalf("Operate() error = %v", err)
	}
	events, err := s.ReadEvents(ctx)
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	want = []point.Raw{{Group: 0x10, Index: 1, Value: "false"}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("ReadEvents() = %v, expected %v", events, want)
	}

	if err := s.Operate(ctx, point.Encode(point.BinaryOutput, 70000, tree.Bool(true))); !errors.Is(err, ErrComm) {
		t.Errorf("Operate(out of range) error = %v", err)
	}
	out.SetControlStatus(app.ControlStatusHardwareError)
	if err := s.Operate(ctx, point.Encode(point.BinaryOutput, 1, tree.Bool(true))); !errors.Is(err, ErrComm) {
		t.Errorf("Operate() with failing status error = %v", err)
	}
}

func TestAdapter_OperateAnalogDouble(t *testing.T) {
	dial, out := pipeDialer(t)
	out.Database().Update(simulator.PointTypeAnalogOutput, 3, 0)

	s, err := NewAdapter(nil, WithDialer(dial)).Open(context.Background(), testConfig, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	for _, v := range []float64{42.5, 100000.01} {
		if err := s.Operate(context.Background(), point.Encode(point.AnalogOutput, 3, tree.Number(v))); err != nil {
			t.Fatalf("Operate(%g) error = %v", v, err)
		}
		if got, _ := out.Database().Value(simulator.PointTypeAnalogOutput, 3); got != v {
			t.Errorf("AO 3 = %v, expected %v", got, v)
		}
	}
}

func TestAdapter_Unsolicited(t *testing.T) {
	dial, out := pipeDialer(t)
	got := make(chan []point.Raw, 1)

	cfg := testConfig
	cfg.EnableUnsolicited = true
	s, err := NewAdapter(nil, WithDialer(dial)).Open(context.Background(), cfg, func(r []point.Raw) { got <- r })
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if !out.UnsolicitedEnabled() {
		t.Fatal("Expected Open to enable unsolicited responses")
	}
	out.Database().Update(simulator.PointTypeDoubleBit, 2, float64(app.DoubleBitOff))
	if err := out.PushUnsolicited(); err != nil {
		t.Fatalf("PushUnsolicited() error = %v", err)
	}

	select {
	case records := <-got:
		want := []point.Raw{{Group: 0x03, Index: 2, Value: "Off"}}
		if !reflect.DeepEqual(records, want) {
			t.Errorf("handler got %v, expected %v", records, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unsolicited records")
	}
}

func TestAdapter_CommFailureAndClose(t *testing.T) {
	dial, out := pipeDialer(t)
	out.SetSilent(true)

	s, err := NewAdapter(nil, WithDialer(dial)).Open(context.Background(), testConfig, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.ReadStatic(context.Background()); !errors.Is(err, ErrComm) {
		t.Errorf("ReadStatic() error = %v, expected ErrComm", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := s.ReadEvents(context.Background()); !errors.Is(err, ErrComm) {
		t.Errorf("ReadEvents() after Close error = %v", err)
	}
}

func TestAdapter_ConnectionFailure(t *testing.T) {
	failing := func(context.Context, Config) (channel.PhysicalChannel, error) {
		return nil, errors.New("refused")
	}
	if _, err := NewAdapter(nil, WithDialer(failing)).Open(context.Background(), testConfig, nil); !errors.Is(err, ErrConnection) {
		t.Errorf("Open() error = %v, expected ErrConnection", err)
	}
	if _, err := NewAdapter(nil).Open(context.Background(), Config{}, nil); !errors.Is(err, ErrConnection) {
		t.Errorf("Open(invalid) error = %v, expected ErrConnection", err)
	}
}

func TestAdapter_TCP(t *testing.T) {
	srv, err := simulator.Listen("127.0.0.1:0", simulator.Config{LocalAddress: 4, RemoteAddress: 17}, nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)
	defer srv.Close()
	srv.Database().Update(simulator.PointTypeCounter, 5, 99)

	host, port, _ := net.SplitHostPort(srv.Addr().String())
	p, _ := strconv.Atoi(port)
	cfg := testConfig
	cfg.Network = &NetworkParams{Host: host, Port: p, Protocol: ProtocolTCP}

	s, err := NewAdapter(nil).Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	got, err := s.ReadStatic(ctx)
	if err != nil {
		t.Fatalf("ReadStatic() error = %v", err)
	}
	want := []point.Raw{{Group: 0x20, Index: 5, Value: "99"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadStatic() = %v, expected %v", got, want)
	}
}

package master

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"avaneesh/dnp3-bridge/internal/simulator"
	"avaneesh/dnp3-bridge/pkg/app"
	"avaneesh/dnp3-bridge/pkg/channel"
)

type fixture struct {
	master     *Master
	outstation *simulator.Outstation
	db         *simulator.Database
	unsol      chan []Element
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	a, b := channel.NewPipe()
	mch := channel.New("master", a, nil)
	och := channel.New("outstation", b, nil)

	out, err := simulator.New(simulator.Config{LocalAddress: 4, RemoteAddress: 17}, och, nil)
	if err != nil {
		t.Fatalf("simulator.New() error = %v", err)
	}
	unsol := make(chan []Element, 4)
	m, err := New(Config{LocalAddress: 17, RemoteAddress: 4, ResponseTimeout: 500 * time.Millisecond},
		UnsolicitedFunc(func(e []Element) { unsol <- e }), mch, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := och.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := mch.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		m.Close()
		mch.Close()
		och.Close()
	})
	return &fixture{master: m, outstation: out, db: out.Database(), unsol: unsol}
}

func (f *fixture) seed() {
	f.db.Update(simulator.PointTypeBinary, 0, 1)
	f.db.Update(simulator.PointTypeBinary, 1, 0)
	f.db.Update(simulator.PointTypeDoubleBit, 0, float64(app.DoubleBitOn))
	f.db.Update(simulator.PointTypeBinaryOutput, 0, 1)
	f.db.Update(simulator.PointTypeCounter, 0, 7)
	f.db.Update(simulator.PointTypeAnalog, 3, 12.5)
	f.db.Update(simulator.PointTypeAnalogOutput, 1, 3.25)
	f.db.ClearEvents()
}

var seededElements = []Element{
	{Group: 0x01, Index: 0, Value: "true"},
	{Group: 0x01, Index: 1, Value: "false"},
	{Group: 0x03, Index: 0, Value: "On"},
	{Group: 0x10, Index: 0, Value: "true"},
	{Group: 0x20, Index: 0, Value: "7"},
	{Group: 0x30, Index: 3, Value: "12.5"},
	{Group: 0x40, Index: 1, Value: "3.25"},
}

func TestMaster_ReadStatic(t *testing.T) {
	f := newFixture(t)
	f.seed()

	got, err := f.master.ReadStatic(context.Background())
	if err != nil {
		t.Fatalf("ReadStatic() error = %v", err)
	}
	if !reflect.DeepEqual(got, seededElements) {
		t.Errorf("ReadStatic() = %v, expected %v", got, seededElements)
	}
}

func TestMaster_ReadStaticMultiFragment(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.outstation.SetFragmentSize(12)

	got, err := f.master.ReadStatic(context.Background())
	if err != nil {
		t.Fatalf("ReadStatic() error = %v", err)
	}
	if !reflect.DeepEqual(got, seededElements) {
		t.Errorf("ReadStatic() = %v, expected %v", got, seededElements)
	}

	deadline := time.Now().Add(time.Second)
	for f.outstation.Confirms() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.outstation.Confirms() == 0 {
		t.Error("Expected the master to confirm intermediate fragments")
	}
}

func TestMaster_ReadEvents(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.db.Update(simulator.PointTypeAnalog, 3, 20)

	got, err := f.master.ReadEvents(context.Background())
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	want := []Element{{Group: 0x30, Index: 3, Value: "20"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadEvents() = %v, expected %v", got, want)
	}

	got, err = f.master.ReadEvents(context.Background())
	if err != nil {
		t.Fatalf("second ReadEvents() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("second ReadEvents() = %v, expected none", got)
	}
}

func TestMaster_DirectOperate(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()

	if err := f.master.DirectOperateCROB(ctx, 0, app.NewCROB(app.ControlCodeLatchOff, 0, 0)); err != nil {
		t.Fatalf("DirectOperateCROB() error = %v", err)
	}
	if v, _ := f.db.Value(simulator.PointTypeBinaryOutput, 0); v != 0 {
		t.Errorf("BO[0] = %v after latch off", v)
	}

	if err := f.master.DirectOperateAnalog(ctx, 1, app.NewAnalogOutputFloat(42.5)); err != nil {
		t.Fatalf("DirectOperateAnalog() error = %v", err)
	}
	if v, _ := f.db.Value(simulator.PointTypeAnalogOutput, 1); v != 42.5 {
		t.Errorf("AO[1] = %v, expected 42.5", v)
	}

	if err := f.master.DirectOperateAnalog(ctx, 1, app.NewAnalogOutputInt32(-3)); err != nil {
		t.Fatalf("DirectOperateAnalog(int32) error = %v", err)
	}
	if v, _ := f.db.Value(simulator.PointTypeAnalogOutput, 1); v != -3 {
		t.Errorf("AO[1] = %v, expected -3", v)
	}
}

func TestMaster_DirectOperateFailures(t *testing.T) {
	tests := []struct {
		name   string
		status uint8
		index  uint16
	}{
		{"local mode", app.ControlStatusLocal, 0},
		{"unknown point", app.ControlStatusSuccess, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed()
			f.outstation.SetControlStatus(tt.status)

			err := f.master.DirectOperateCROB(context.Background(), tt.index, app.NewCROB(app.ControlCodeLatchOn, 0, 0))
			if !errors.Is(err, ErrControlFailed) {
				t.Errorf("DirectOperateCROB() error = %v, expected ErrControlFailed", err)
			}
		})
	}
}

func TestMaster_Timeout(t *testing.T) {
	f := newFixture(t)
	f.outstation.SetSilent(true)

	start := time.Now()
	_, err := f.master.ReadStatic(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadStatic() error = %v, expected ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("timed out after %v", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.master.ReadEvents(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadEvents() with cancelled context error = %v", err)
	}
}

func TestMaster_Unsolicited(t *testing.T) {
	f := newFixture(t)
	f.seed()

	if err := f.outstation.PushUnsolicited(); !errors.Is(err, simulator.ErrUnsolicitedDisabled) {
		t.Fatalf("PushUnsolicited() before enable error = %v", err)
	}
	if err := f.master.EnableUnsolicited(context.Background()); err != nil {
		t.Fatalf("EnableUnsolicited() error = %v", err)
	}
	if !f.outstation.UnsolicitedEnabled() {
		t.Fatal("Expected unsolicited to be enabled")
	}

	f.db.Update(simulator.PointTypeBinary, 1, 1)
	if err := f.outstation.PushUnsolicited(); err != nil {
		t.Fatalf("PushUnsolicited() error = %v", err)
	}

	select {
	case got := <-f.unsol:
		want := []Element{{Group: 0x01, Index: 1, Value: "true"}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("unsolicited = %v, expected %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unsolicited data")
	}

	deadline := time.Now().Add(time.Second)
	for f.outstation.Confirms() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.outstation.Confirms() != 1 {
		t.Errorf("Confirms() = %d, expected 1", f.outstation.Confirms())
	}
}

func TestMaster_Close(t *testing.T) {
	f := newFixture(t)
	if err := f.master.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.master.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := f.master.ReadStatic(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadStatic() after Close error = %v", err)
	}
}

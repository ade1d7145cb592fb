package outstation

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"avaneesh/dnp3-bridge/pkg/app"
	"avaneesh/dnp3-bridge/pkg/point"
	"avaneesh/dnp3-bridge/pkg/tree"
)

// newTestController creates an outstation node under root and starts it
func newTestController(t *testing.T, root *tree.Node, cfg Config, opener *fakeOpener, host *fakeHost) *Controller {
	t.Helper()
	n := root.CreateChild(cfg.Name)
	cfg.WriteTo(n)
	c := New(n, Options{Opener: opener, Host: host, Registry: NewRegistry()})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(c.Shutdown)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pointNode(t *testing.T, c *Controller, cat point.Category, index uint32) *tree.Node {
	t.Helper()
	n, err := c.Node().Find(cat.FolderName() + "/" + point.Name(cat, index))
	if err != nil {
		t.Fatalf("%s not found: %v", point.Name(cat, index), err)
	}
	return n
}

func TestController_Start(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})

	if c.State() != StateActive {
		t.Errorf("State() = %v", c.State())
	}
	for _, name := range []string{ActionRemove, ActionEdit, ActionDiscover, ActionUpdate} {
		n := c.Node().Child(name)
		if n == nil || n.Action() == nil || n.Serializable() {
			t.Errorf("action %q not published", name)
		}
	}
	if v := c.Node().Child(NodeStatus).Value(); v.AsString() != "Active" {
		t.Errorf("Status = %v", v)
	}
	if opener.configs[0].MasterAddress != 17 || opener.configs[0].OutstationAddress != 4 {
		t.Errorf("opened %v", opener.configs[0])
	}
}

func TestController_StartCoercesIntervals(t *testing.T) {
	root := tree.NewRoot("root")
	cfg := ipConfig("A")
	cfg.EventPollInterval, cfg.StaticPollInterval = 30000, 10000
	c := newTestController(t, root, cfg, &fakeOpener{}, &fakeHost{})

	if v, _ := c.Node().Attribute(AttrEventInterval); v.AsNumber() != 10000 {
		t.Errorf("event interval attribute = %v", v)
	}
	if c.Config().EventPollInterval != 10000 || c.cadence.PollsPerDiscover != 1 {
		t.Errorf("config %+v cadence %+v", c.Config(), c.cadence)
	}
}

func TestController_StartFailures(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{err: errRefused}
	n := root.CreateChild("A")
	ipConfig("A").WriteTo(n)
	c := New(n, Options{Opener: opener})
	if err := c.Start(context.Background()); !errors.Is(err, errRefused) {
		t.Errorf("Start() error = %v", err)
	}
	if c.State() != StateUnconfigured {
		t.Errorf("State() = %v", c.State())
	}
	if n.Child(ActionEdit) == nil || n.Child(ActionRemove) == nil {
		t.Error("Expected actions after a failed open")
	}
	if err := c.Discover(context.Background()); err != nil {
		t.Errorf("Discover() without session error = %v", err)
	}

	bad := root.CreateChild("B")
	bad.SetAttribute(AttrIsSerial, tree.Bool(true))
	cb := New(bad, Options{Opener: &fakeOpener{}})
	if err := cb.Start(context.Background()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Start(missing attributes) error = %v", err)
	}
	if cb.State() != StateUnconfigured || bad.Child(ActionEdit) == nil {
		t.Errorf("State() = %v", cb.State())
	}
}

func TestController_Discover(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{
		{Group: 0x01, Index: 0, Value: "true"},
		{Group: 0x03, Index: 1, Value: "On"},
		{Group: 0x10, Index: 2, Value: "false"},
		{Group: 0x20, Index: 3, Value: "42"},
		{Group: 0x30, Index: 4, Value: "12.5"},
		{Group: 0x40, Index: 5, Value: "3.25"},
		{Group: 0x99, Index: 6, Value: "1"},
		{Group: 0x30, Index: 7, Value: "garbage"},
	}}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})

	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	tests := []struct {
		cat      point.Category
		index    uint32
		want     tree.Value
		writable bool
	}{
		{point.BinaryInput, 0, tree.Bool(true), false},
		{point.DoubleBitInput, 1, tree.String("On"), false},
		{point.BinaryOutput, 2, tree.Bool(false), true},
		{point.CounterInput, 3, tree.Number(42), false},
		{point.AnalogInput, 4, tree.Number(12.5), false},
		{point.AnalogOutput, 5, tree.Number(3.25), true},
	}
	for _, tt := range tests {
		n := pointNode(t, c, tt.cat, tt.index)
		if !n.Value().Equal(tt.want) {
			t.Errorf("%s = %v, expected %v", n.Name(), n.Value(), tt.want)
		}
		if (n.Writable() == tree.PermissionWrite) != tt.writable {
			t.Errorf("%s writable = %v", n.Name(), n.Writable())
		}
		if n.ValueType() != tt.cat.ValueType() {
			t.Errorf("%s type = %v", n.Name(), n.ValueType())
		}
	}

	if _, err := c.Node().Find("Analog Inputs/Analog Input 7"); !errors.Is(err, tree.ErrNotFound) {
		t.Error("Expected the undecodable point to be skipped")
	}
	if len(c.Node().Child(point.AnalogInput.FolderName()).Children()) != 1 {
		t.Error("Expected one analog input")
	}
	stats := c.Statistics()
	if stats.Discovers() != 1 || stats.DroppedRecords() != 1 || stats.DecodeFailures() != 1 {
		t.Errorf("stats = %v", stats.Snapshot())
	}
}

func TestController_ReadFailureLeavesTreeStale(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{{Group: 0x30, Index: 0, Value: "1"}}}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})
	ctx := context.Background()

	if err := c.Discover(ctx); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	s := opener.last()
	s.mu.Lock()
	s.readErr = errRefused
	s.mu.Unlock()
	s.SetStatic(point.Raw{Group: 0x30, Index: 0, Value: "2"})

	if err := c.Update(ctx); !errors.Is(err, errRefused) {
		t.Errorf("Update() error = %v", err)
	}
	if v := pointNode(t, c, point.AnalogInput, 0).Value(); !v.Equal(tree.Number(1)) {
		t.Errorf("value = %v", v)
	}
	if c.Statistics().Failures() != 1 {
		t.Errorf("failures = %d", c.Statistics().Failures())
	}
}

// With 5000/25000 ticks 1 to 4 update and tick 5 discovers, repeatedly
func TestController_TickScenario(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})
	if c.cadence.PollsPerDiscover != 5 {
		t.Fatalf("PollsPerDiscover = %d", c.cadence.PollsPerDiscover)
	}

	for i := 0; i < 10; i++ {
		c.Tick(context.Background())
	}
	want := []string{
		"events", "events", "events", "events", "static",
		"events", "events", "events", "events", "static",
	}
	if got := opener.last().Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v", got)
	}
}

func TestController_SubscribeGatesPolling(t *testing.T) {
	root := tree.NewRoot("root")
	var raws []point.Raw
	for i := uint32(0); i < 5; i++ {
		raws = append(raws, point.Raw{Group: 0x30, Index: i, Value: "1"})
	}
	opener := &fakeOpener{template: raws}
	cfg := ipConfig("A")
	cfg.EventPollInterval, cfg.StaticPollInterval = 60000, 60000
	c := newTestController(t, root, cfg, opener, &fakeHost{})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	before := len(opener.last().Calls())

	var handles []tree.Handle
	var nodes []*tree.Node
	for i := uint32(0); i < 5; i++ {
		n := pointNode(t, c, point.AnalogInput, i)
		nodes = append(nodes, n)
		handles = append(handles, n.Subscribe(func(tree.Value) {}))
	}
	if !c.Polling() || c.Subscribers() != 5 {
		t.Fatalf("polling %v with %d subscribers", c.Polling(), c.Subscribers())
	}
	if c.Statistics().PollStarts() != 1 {
		t.Errorf("PollStarts = %d", c.Statistics().PollStarts())
	}

	// the first tick is immediate
	waitFor(t, "first tick", func() bool { return len(opener.last().Calls()) > before })

	for i, n := range nodes {
		n.Unsubscribe(handles[i])
		if i < len(nodes)-1 && !c.Polling() {
			t.Fatalf("polling stopped with %d subscribers left", c.Subscribers())
		}
	}
	if c.Polling() || c.Statistics().PollStops() != 1 {
		t.Errorf("polling %v, PollStops = %d", c.Polling(), c.Statistics().PollStops())
	}
	nodes[0].Unsubscribe(handles[0])
	if c.Statistics().PollStops() != 1 {
		t.Error("Expected a repeated unsubscribe to be ignored")
	}
}

func TestController_HandleWrite(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{
		{Group: 0x10, Index: 1, Value: "false"},
		{Group: 0x40, Index: 2, Value: "0"},
		{Group: 0x30, Index: 0, Value: "1"},
	}}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	s := opener.last()
	bo := pointNode(t, c, point.BinaryOutput, 1)
	ao := pointNode(t, c, point.AnalogOutput, 2)

	// updates from the device and writes of the same value are not commands
	bo.SetValue(tree.Bool(true))
	bo.SetValue(tree.Bool(false))
	if err := bo.Write(tree.Bool(false)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	c.wg.Wait()
	if ops := s.Ops(); len(ops) != 0 {
		t.Fatalf("unexpected operates %v", ops)
	}

	if err := pointNode(t, c, point.AnalogInput, 0).Write(tree.Number(5)); !errors.Is(err, tree.ErrNotWritable) {
		t.Errorf("Write(AI) error = %v", err)
	}

	// write, operate, then discover
	s.SetStatic(point.Raw{Group: 0x10, Index: 1, Value: "true"}, point.Raw{Group: 0x40, Index: 2, Value: "7.5"})
	calls := len(s.Calls())
	if err := bo.Write(tree.Bool(true)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	c.wg.Wait()
	if err := ao.Write(tree.Number(7.5)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	c.wg.Wait()

	ops := s.Ops()
	if len(ops) != 2 {
		t.Fatalf("operates = %v", ops)
	}
	for _, op := range ops {
		switch op.Category {
		case point.BinaryOutput:
			if op.Index != 1 || op.CROB.ControlCode != app.ControlCodeLatchOn {
				t.Errorf("BO command = %+v", op)
			}
		case point.AnalogOutput:
			if op.Index != 2 || op.Analog.Value != 7.5 {
				t.Errorf("AO command = %+v", op)
			}
		default:
			t.Errorf("unexpected command %v", op)
		}
	}
	got := s.Calls()[calls:]
	if len(got) != 4 {
		t.Fatalf("calls = %v", got)
	}
	for i := 0; i < len(got); i += 2 {
		if got[i] != "operate" || got[i+1] != "static" {
			t.Errorf("calls = %v", got)
		}
	}
	if c.Statistics().Controls() != 2 {
		t.Errorf("Controls = %d", c.Statistics().Controls())
	}

	// a rejected control does not discover
	s.mu.Lock()
	s.opErr = errRefused
	s.mu.Unlock()
	calls = len(s.Calls())
	err := c.HandleWrite(context.Background(), point.BinaryOutput, 1,
		tree.ValuePair{Current: tree.Bool(false), Previous: tree.Bool(true), External: true})
	if !errors.Is(err, errRefused) {
		t.Errorf("HandleWrite() error = %v", err)
	}
	if got := s.Calls()[calls:]; !reflect.DeepEqual(got, []string{"operate"}) {
		t.Errorf("calls after rejected control = %v", got)
	}
}

func TestController_Unsolicited(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})

	opener.handlers[0]([]point.Raw{{Group: 0x03, Index: 2, Value: "Off"}, {Group: 0x77, Index: 0, Value: "x"}})
	if v := pointNode(t, c, point.DoubleBitInput, 2).Value(); v.AsString() != "Off" {
		t.Errorf("value = %v", v)
	}
	if c.Statistics().Unsolicited() != 2 || c.Statistics().DroppedRecords() != 1 {
		t.Errorf("stats = %v", c.Statistics().Snapshot())
	}
}

func TestController_Remove(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{{Group: 0x30, Index: 0, Value: "1"}}}
	host := &fakeHost{}
	n := root.CreateChild("S1")
	serialConfig("S1").WriteTo(n)
	reg := NewRegistry()
	c := New(n, Options{Opener: opener, Host: host, Registry: reg})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !reg.Contains(c) {
		t.Error("Expected a serial controller in the registry")
	}
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	ai := pointNode(t, c, point.AnalogInput, 0)
	ai.Subscribe(func(tree.Value) {})

	if err := n.Child(ActionRemove).Invoke(nil); err != nil {
		t.Fatalf("Invoke(remove) error = %v", err)
	}
	if root.HasChild("S1") || n.Parent() != nil {
		t.Error("Expected the subtree to be detached")
	}
	if c.State() != StateRemoved || c.Polling() || reg.Contains(c) {
		t.Errorf("state %v polling %v registered %v", c.State(), c.Polling(), reg.Contains(c))
	}
	if opener.last().Closed() != 1 {
		t.Errorf("Closed = %d", opener.last().Closed())
	}
	if !reflect.DeepEqual(host.forgotten, []string{"S1"}) {
		t.Errorf("forgotten = %v", host.forgotten)
	}

	ai.Subscribe(func(tree.Value) {})
	if c.Polling() {
		t.Error("Expected a removed controller not to poll")
	}
}

func TestController_Rename(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{
		{Group: 0x30, Index: 0, Value: "12.5"},
		{Group: 0x10, Index: 1, Value: "true"},
	}}
	host := &fakeHost{}
	c := newTestController(t, root, ipConfig("A"), opener, host)
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	first := opener.last()

	next, err := c.Rename(context.Background(), "B")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	t.Cleanup(next.Shutdown)

	if root.HasChild("A") {
		t.Error("Expected A to be removed")
	}
	b := root.Child("B")
	if b == nil || next.Node() != b {
		t.Fatal("Expected B to exist")
	}
	if v := pointNode(t, next, point.AnalogInput, 0).Value(); !v.Equal(tree.Number(12.5)) {
		t.Errorf("AI 0 = %v", v)
	}
	bo := pointNode(t, next, point.BinaryOutput, 1)
	if !bo.Value().AsBool() || bo.Writable() != tree.PermissionWrite {
		t.Errorf("BO 1 = %v writable %v", bo.Value(), bo.Writable())
	}
	if v, _ := b.Attribute(AttrHost); v.AsString() != "127.0.0.1" {
		t.Errorf("Host = %v", v)
	}
	if next.State() != StateActive || c.State() != StateRemoved {
		t.Errorf("states %v, %v", next.State(), c.State())
	}
	if first.Closed() != 1 || opener.opened() != 2 {
		t.Errorf("first closed %d, opened %d", first.Closed(), opener.opened())
	}
	if len(host.tracked) != 1 || host.tracked[0] != next {
		t.Errorf("tracked = %v", host.tracked)
	}
	if !reflect.DeepEqual(host.forgotten, []string{"A"}) || !reflect.DeepEqual(host.persisted, []string{"B"}) {
		t.Errorf("forgotten %v persisted %v", host.forgotten, host.persisted)
	}

	// the adopted point is bound to the new controller
	opener.last().SetStatic(point.Raw{Group: 0x10, Index: 1, Value: "false"})
	if err := bo.Write(tree.Bool(false)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	next.wg.Wait()
	if ops := opener.last().Ops(); len(ops) != 1 || ops[0].CROB.ControlCode != app.ControlCodeLatchOff {
		t.Errorf("operates = %v", ops)
	}

	root.CreateChild("C")
	if _, err := next.Rename(context.Background(), "C"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Rename(duplicate) error = %v", err)
	}
}

func TestController_Edit(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{{Group: 0x30, Index: 0, Value: "1"}}}
	host := &fakeHost{}
	c := newTestController(t, root, ipConfig("A"), opener, host)
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	root.CreateChild("Other")

	edit := c.Node().Child(ActionEdit)
	params := func() tree.Params {
		p := tree.Params{}
		for _, param := range edit.Action().Params {
			p[param.Name] = param.Default
		}
		return p
	}

	p := params()
	if p.Str(ParamName) != "A" || p.Num(AttrEventInterval) != 5 {
		t.Fatalf("edit defaults = %v", p)
	}

	p[ParamName] = tree.String("Other")
	if err := edit.Invoke(p); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Edit(duplicate) error = %v", err)
	}
	p = params()
	p[AttrEventInterval] = tree.Number(0)
	if err := edit.Invoke(p); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Edit(zero interval) error = %v", err)
	}
	if opener.opened() != 1 {
		t.Fatal("Expected rejected edits to change nothing")
	}

	p = params()
	p[AttrPort] = tree.Number(20001)
	p[AttrEventInterval] = tree.Number(30)
	if err := edit.Invoke(p); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if opener.opened() != 2 || opener.sessions[0].Closed() != 1 {
		t.Errorf("opened %d, first closed %d", opener.opened(), opener.sessions[0].Closed())
	}
	cfg := c.Config()
	if cfg.Device.Network.Port != 20001 || cfg.EventPollInterval != 25000 {
		t.Errorf("config after edit = %+v %+v", cfg, cfg.Device.Network)
	}
	if v := pointNode(t, c, point.AnalogInput, 0).Value(); !v.Equal(tree.Number(1)) {
		t.Errorf("points not kept: %v", v)
	}
	if c.State() != StateActive || !reflect.DeepEqual(host.persisted, []string{"A"}) {
		t.Errorf("state %v persisted %v", c.State(), host.persisted)
	}

	p = params()
	p[ParamName] = tree.String("Renamed")
	if err := edit.Invoke(p); err != nil {
		t.Fatalf("Edit(rename) error = %v", err)
	}
	if root.HasChild("A") || !root.HasChild("Renamed") {
		t.Error("Expected the edit to rename")
	}
	for _, tracked := range host.tracked {
		t.Cleanup(tracked.Shutdown)
	}
}

func TestController_RefreshEditAction(t *testing.T) {
	root := tree.NewRoot("root")
	host := &fakeHost{}
	n := root.CreateChild("S1")
	serialConfig("S1").WriteTo(n)
	c := New(n, Options{Opener: &fakeOpener{}, Host: host})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Shutdown()

	port, _ := n.Child(ActionEdit).Action().Param(AttrCOMPort)
	if port.Type != tree.TypeString {
		t.Errorf("COM Port type = %v", port.Type)
	}

	host.ports = []string{"COM1", "COM3"}
	c.RefreshEditAction()
	port, _ = n.Child(ActionEdit).Action().Param(AttrCOMPort)
	if !port.Type.IsEnum() || port.Default.AsString() != "COM3" {
		t.Errorf("COM Port after scan = %+v", port)
	}
}

// editParams returns the edit action defaults, which reproduce the current
// configuration
func editParams(c *Controller) tree.Params {
	p := tree.Params{}
	for _, param := range c.Node().Child(ActionEdit).Action().Params {
		p[param.Name] = param.Default
	}
	return p
}

func startGated(t *testing.T, root *tree.Node) (*Controller, *gatedSession) {
	t.Helper()
	s := newGatedSession()
	n := root.CreateChild("A")
	ipConfig("A").WriteTo(n)
	c := New(n, Options{Opener: &gatedOpener{session: s}})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return c, s
}

func TestController_SerializesSessionCalls(t *testing.T) {
	root := tree.NewRoot("root")
	c, s := startGated(t, root)
	ctx := context.Background()

	if err := c.Node().Child(ActionDiscover).Invoke(nil); err != nil {
		t.Fatalf("Invoke(discover) error = %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Tick(ctx)
	}()
	go func() {
		defer wg.Done()
		c.HandleWrite(ctx, point.BinaryOutput, 1,
			tree.ValuePair{Current: tree.Bool(true), Previous: tree.Bool(false), External: true})
	}()

	<-s.entered
	time.Sleep(50 * time.Millisecond)
	if got := s.inflight.Load(); got != 1 {
		t.Errorf("%d requests in flight", got)
	}
	close(s.release)
	wg.Wait()
	c.wg.Wait()

	if got := s.maxInflight.Load(); got != 1 {
		t.Errorf("at most %d requests were in flight, expected 1", got)
	}
	// discover, update, operate and the discover that follows it
	if got := s.Events(); len(got) != 8 {
		t.Errorf("events = %v", got)
	}
	c.Shutdown()
}

func TestController_CloseWaitsForRequestInFlight(t *testing.T) {
	tests := []struct {
		name string
		stop func(c *Controller)
	}{
		{"remove", func(c *Controller) { c.Remove() }},
		{"edit", func(c *Controller) { c.Edit(context.Background(), editParams(c)) }},
		{"shutdown", func(c *Controller) { c.Shutdown() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tree.NewRoot("root")
			c, s := startGated(t, root)
			t.Cleanup(c.Shutdown)

			go c.Discover(context.Background())
			<-s.entered

			stopped := make(chan struct{})
			go func() {
				tt.stop(c)
				close(stopped)
			}()
			select {
			case <-stopped:
				t.Fatal("returned while a request was in flight")
			case <-time.After(50 * time.Millisecond):
			}
			close(s.release)
			select {
			case <-stopped:
			case <-time.After(2 * time.Second):
				t.Fatal("timed out")
			}

			want := []string{"static", "static done", "close"}
			if got := s.Events(); len(got) < 3 || !reflect.DeepEqual(got[:3], want) {
				t.Errorf("events = %v, expected %v first", got, want)
			}
		})
	}
}

func TestController_ConcurrentSubscribeStartsOnce(t *testing.T) {
	const points = 20
	root := tree.NewRoot("root")
	var raws []point.Raw
	for i := uint32(0); i < points; i++ {
		raws = append(raws, point.Raw{Group: 0x30, Index: i, Value: "1"})
	}
	cfg := ipConfig("A")
	cfg.EventPollInterval, cfg.StaticPollInterval = 60000, 60000
	c := newTestController(t, root, cfg, &fakeOpener{template: raws}, &fakeHost{})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	nodes := c.Node().Child(point.AnalogInput.FolderName()).Children()
	handles := make([]tree.Handle, len(nodes))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			handles[i] = n.Subscribe(func(tree.Value) {})
		}()
	}
	close(start)
	wg.Wait()
	if c.Subscribers() != points || !c.Polling() || c.Statistics().PollStarts() != 1 {
		t.Fatalf("subscribers %d polling %v PollStarts %d", c.Subscribers(), c.Polling(), c.Statistics().PollStarts())
	}

	start = make(chan struct{})
	for i, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			n.Unsubscribe(handles[i])
		}()
	}
	close(start)
	wg.Wait()
	if c.Subscribers() != 0 || c.Polling() || c.Statistics().PollStops() != 1 {
		t.Errorf("subscribers %d polling %v PollStops %d", c.Subscribers(), c.Polling(), c.Statistics().PollStops())
	}
}

func TestController_NoPollingAfterShutdown(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{{Group: 0x30, Index: 0, Value: "1"}}}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	ai := pointNode(t, c, point.AnalogInput, 0)

	c.Shutdown()
	h := ai.Subscribe(func(tree.Value) {})
	if c.Polling() {
		t.Error("Expected a stopped controller not to poll")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.Polling() {
		t.Error("Expected Start to resume polling for observed points")
	}
	ai.Unsubscribe(h)
	if c.Polling() {
		t.Error("Expected polling to stop with the last observer")
	}
}

func TestController_WriteDuringEditReachesNewSession(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{{Group: 0x10, Index: 1, Value: "false"}}}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	bo := pointNode(t, c, point.BinaryOutput, 1)

	opener.setOnOpen(func() {
		if err := bo.Write(tree.Bool(true)); err != nil {
			t.Errorf("Write() error = %v", err)
		}
	})
	if err := c.Edit(context.Background(), editParams(c)); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	opener.setOnOpen(nil)
	c.wg.Wait()

	if ops := opener.sessions[0].Ops(); len(ops) != 0 {
		t.Errorf("operates on the closed session = %v", ops)
	}
	if ops := opener.last().Ops(); len(ops) != 1 || ops[0].CROB.ControlCode != app.ControlCodeLatchOn {
		t.Errorf("operates on the new session = %v", ops)
	}
}

func TestController_WriteDuringRenameIsForwarded(t *testing.T) {
	root := tree.NewRoot("root")
	opener := &fakeOpener{template: []point.Raw{{Group: 0x40, Index: 2, Value: "0"}}}
	c := newTestController(t, root, ipConfig("A"), opener, &fakeHost{})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	ao := pointNode(t, c, point.AnalogOutput, 2)

	opener.setOnOpen(func() {
		if err := ao.Write(tree.Number(7.5)); err != nil {
			t.Errorf("Write() error = %v", err)
		}
	})
	next, err := c.Rename(context.Background(), "B")
	opener.setOnOpen(nil)
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	t.Cleanup(next.Shutdown)
	c.wg.Wait()
	next.wg.Wait()

	if ops := opener.sessions[0].Ops(); len(ops) != 0 {
		t.Errorf("operates on the closed session = %v", ops)
	}
	if ops := opener.last().Ops(); len(ops) != 1 || ops[0].Analog.Value != 7.5 || ops[0].Index != 2 {
		t.Errorf("operates on the renamed outstation = %v", ops)
	}
	if next.Statistics().Controls() != 1 {
		t.Errorf("Controls = %d", next.Statistics().Controls())
	}
}

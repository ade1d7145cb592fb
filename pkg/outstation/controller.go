// Package outstation runs one DNP3 outstation under a tree node: it owns the
// device session, mirrors points into the node's subtree, polls while any
// point is observed and turns external writes into direct operates.
package outstation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/device"
	"avaneesh/dnp3-bridge/pkg/point"
	"avaneesh/dnp3-bridge/pkg/tree"
)

// State is the lifecycle state of a controller
type State int

const (
	StateUnconfigured State = iota
	StateInitializing
	StateActive
	StateReinitializing
	StateStopped
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "Unconfigured"
	case StateInitializing:
		return "Initializing"
	case StateActive:
		return "Active"
	case StateReinitializing:
		return "Reinitializing"
	case StateStopped:
		return "Stopped"
	case StateRemoved:
		return "Removed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Names of the administrative and read-only children of an outstation node
const (
	ActionRemove   = "remove"
	ActionEdit     = "edit"
	ActionDiscover = "discover"
	ActionUpdate   = "update"

	NodeStatus     = "Status"
	NodeStatistics = "Statistics"
)

// Host is the owner of a set of controllers
type Host interface {
	SerialPorts() []string
	Persist(n *tree.Node)
	Forget(c *Controller)
	Track(c *Controller)
}

// Options are shared by every controller of a manager
type Options struct {
	Opener            device.Opener
	Registry          *Registry
	Host              Host
	Logger            logger.Logger
	ResponseTimeout   time.Duration
	EnableUnsolicited bool
}

// Controller manages one outstation
type Controller struct {
	node   *tree.Node
	opts   Options
	logger logger.Logger

	stateMu sync.Mutex
	state   State
	config  Config
	cadence Cadence

	// reqMu serializes every session call. It is held from binding until
	// the session is open, so writes wait for the session rather than miss it.
	reqMu     sync.Mutex
	session   device.Session
	successor *Controller // set by Rename, guarded by reqMu

	subMu       sync.Mutex
	subscribers map[tree.Handle]struct{}
	pollCancel  context.CancelFunc
	halted      bool // no polling until the next Start

	wg    sync.WaitGroup
	stats Statistics
}

// New creates a controller over an outstation node. Call Start to connect.
func New(node *tree.Node, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Host == nil {
		opts.Host = nopHost{}
	}
	if opts.Opener == nil {
		opts.Opener = device.NewAdapter(opts.Logger)
	}
	prefix := "outstation " + strings.ReplaceAll(node.Name(), "%", "%%")
	return &Controller{
		node:        node,
		opts:        opts,
		logger:      logger.WithPrefix(opts.Logger, prefix),
		subscribers: make(map[tree.Handle]struct{}),
	}
}

// Name returns the outstation name
func (c *Controller) Name() string {
	return c.node.Name()
}

// Node returns the outstation node
func (c *Controller) Node() *tree.Node {
	return c.node
}

// State returns the lifecycle state
func (c *Controller) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Config returns the configuration of the last Start
func (c *Controller) Config() Config {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.config
}

// Statistics returns the activity counters
func (c *Controller) Statistics() *Statistics {
	return &c.stats
}

// IsSerial reports whether the node is configured as serial attached
func (c *Controller) IsSerial() bool {
	v, _ := c.node.Attribute(AttrIsSerial)
	return v.AsBool()
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	if c.state == StateRemoved {
		c.stateMu.Unlock()
		return
	}
	c.state = s
	c.stateMu.Unlock()
	c.node.CreateChild(NodeStatus).SetValue(tree.String(s.String()))
}

// Start reads the configuration from the node and opens the device session.
// Administrative actions are published even when either step fails so the
// operator can fix the configuration with edit.
func (c *Controller) Start(ctx context.Context) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	c.resumePoll()
	c.publishStatus()
	c.setState(StateInitializing)

	cfg, err := FromNode(c.node)
	if err == nil {
		if cfg.Normalize() {
			c.logger.Warn("Static interval %dms is shorter than the event interval, event interval set to %dms",
				cfg.StaticPollInterval, cfg.EventPollInterval)
			c.node.SetAttribute(AttrEventInterval, tree.Number(float64(cfg.EventPollInterval)))
		}
		err = cfg.Validate()
	}
	if c.IsSerial() {
		c.opts.Registry.Add(c)
	} else {
		c.opts.Registry.Remove(c)
	}
	if err != nil {
		c.logger.Error("Invalid configuration: %v", err)
		c.setState(StateUnconfigured)
		c.publishActions()
		return err
	}

	c.stateMu.Lock()
	c.config = cfg
	c.cadence = NewCadence(cfg.EventPollInterval, cfg.StaticPollInterval)
	c.stateMu.Unlock()

	c.bindExisting()
	c.publishActions()

	dcfg := cfg.Device
	dcfg.ResponseTimeout = c.opts.ResponseTimeout
	dcfg.EnableUnsolicited = c.opts.EnableUnsolicited

	s, err := c.opts.Opener.Open(ctx, dcfg, c.onUnsolicited)
	if err != nil {
		c.stats.failures.Add(1)
		c.logger.Warn("Failed to open %s: %v", dcfg, err)
		c.setState(StateUnconfigured)
		c.publishStatistics()
		return err
	}
	c.session = s

	c.setState(StateActive)
	c.logger.Info("Started (%d polls per discover)", c.cadence.PollsPerDiscover)
	return nil
}

// Discover issues a static read and applies every returned point. Without
// a session it does nothing.
func (c *Controller) Discover(ctx context.Context) error {
	return c.read(ctx, true)
}

// Update issues an event read and applies the changed points
func (c *Controller) Update(ctx context.Context) error {
	return c.read(ctx, false)
}

func (c *Controller) read(ctx context.Context, static bool) error {
	defer c.publishStatistics()
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if c.session == nil {
		return nil
	}

	var raws []point.Raw
	var err error
	if static {
		raws, err = c.session.ReadStatic(ctx)
	} else {
		raws, err = c.session.ReadEvents(ctx)
	}
	if err != nil {
		c.stats.failures.Add(1)
		c.logger.Warn("Read failed: %v", err)
		return err
	}
	if static {
		c.stats.discovers.Add(1)
	} else {
		c.stats.updates.Add(1)
	}
	c.apply(raws)
	return nil
}

// Tick runs one poll cycle: an update, or a discover every
// PollsPerDiscover ticks
func (c *Controller) Tick(ctx context.Context) {
	c.stateMu.Lock()
	discover := c.cadence.Next()
	c.stateMu.Unlock()
	if discover {
		c.Discover(ctx)
	} else {
		c.Update(ctx)
	}
}

func (c *Controller) onUnsolicited(raws []point.Raw) {
	c.stats.unsolicited.Add(uint64(len(raws)))
	c.apply(raws)
	c.publishStatistics()
}

// apply mirrors raw records into the subtree. Unknown group codes are
// dropped and values that fail to decode are skipped.
func (c *Controller) apply(raws []point.Raw) {
	for _, raw := range raws {
		rec, ok, err := point.Translate(raw)
		if !ok {
			c.stats.droppedRecords.Add(1)
			c.logger.Debug("Dropped record with group code 0x%02X index %d", raw.Group, raw.Index)
			continue
		}
		if err != nil {
			c.stats.decodeFailures.Add(1)
			c.logger.Warn("%s: %v", point.Name(rec.Category, rec.Index), err)
			continue
		}
		c.updatePoint(rec)
	}
}

func (c *Controller) updatePoint(rec point.Record) {
	folder := c.node.CreateChild(rec.Category.FolderName())
	name := point.Name(rec.Category, rec.Index)
	n := folder.Child(name)
	if n == nil {
		n = folder.CreateChild(name)
		c.bind(n, rec.Category, rec.Index)
	}
	n.SetValue(rec.Value)
}

// bind prepares a point node and attaches the controller as its listener
func (c *Controller) bind(n *tree.Node, cat point.Category, index uint32) {
	n.SetValueType(cat.ValueType())
	if cat.Writable() {
		n.SetWritable(tree.PermissionWrite)
	} else {
		n.SetWritable(tree.PermissionNone)
	}
	n.SetListener(&binding{c: c, category: cat, index: index})
}

// bindExisting adopts point nodes that already exist under the outstation,
// after a rename or a restart
func (c *Controller) bindExisting() {
	for _, cat := range point.Categories {
		folder := c.node.Child(cat.FolderName())
		if folder == nil {
			continue
		}
		for _, n := range folder.Children() {
			got, index, ok := point.ParseName(n.Name())
			if !ok || got != cat {
				continue
			}
			c.bind(n, cat, index)
		}
	}
}

// HandleWrite turns an external write on an output point into a direct
// operate followed by a discover. Writes by the controller itself and
// writes that do not change the value are ignored.
func (c *Controller) HandleWrite(ctx context.Context, cat point.Category, index uint32, pair tree.ValuePair) error {
	if !cat.Writable() || !pair.External || pair.Current.Equal(pair.Previous) {
		return nil
	}
	cmd := point.Encode(cat, index, pair.Current)

	c.reqMu.Lock()
	if c.session == nil {
		next := c.successor
		c.reqMu.Unlock()
		if next != nil {
			c.logger.Debug("Forwarding %s to %s", cmd, next.Name())
			return next.HandleWrite(ctx, cat, index, pair)
		}
		c.logger.Warn("Dropped %s, not connected", cmd)
		return fmt.Errorf("%w: %s not connected", device.ErrConnection, c.Name())
	}
	err := c.session.Operate(ctx, cmd)
	c.reqMu.Unlock()
	if err != nil {
		c.stats.failures.Add(1)
		c.logger.Warn("%s failed: %v", cmd, err)
		c.publishStatistics()
		return err
	}
	c.stats.controls.Add(1)
	c.logger.Info("%s", cmd)
	return c.Discover(ctx)
}

// subscribe adds an observer; the first one starts the poll loop unless the
// controller is shut down
func (c *Controller) subscribe(h tree.Handle) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers[h] = struct{}{}
	if !c.halted {
		c.startPollLocked()
	}
}

// unsubscribe removes an observer; the last one stops the poll loop
func (c *Controller) unsubscribe(h tree.Handle) {
	c.subMu.Lock()
	if _, ok := c.subscribers[h]; ok {
		delete(c.subscribers, h)
		if len(c.subscribers) == 0 {
			c.stopPollLocked()
		}
	}
	c.subMu.Unlock()
}

// Subscribers returns the number of live point observers
func (c *Controller) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscribers)
}

// Polling reports whether the poll loop is scheduled
func (c *Controller) Polling() bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.pollCancel != nil
}

func (c *Controller) startPollLocked() {
	if c.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	c.stats.pollStarts.Add(1)
	c.logger.Debug("Polling started")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx)
	}()
}

// stopPollLocked cancels future ticks. A tick in flight runs to completion.
func (c *Controller) stopPollLocked() {
	if c.pollCancel == nil {
		return
	}
	c.pollCancel()
	c.pollCancel = nil
	c.stats.pollStops.Add(1)
	c.logger.Debug("Polling stopped")
}

// stopPoll stops polling until the next Start
func (c *Controller) stopPoll() {
	c.subMu.Lock()
	c.halted = true
	c.stopPollLocked()
	c.subMu.Unlock()
}

// resumePoll lifts a stopPoll, restarting the loop when points are observed
func (c *Controller) resumePoll() {
	if c.State() == StateRemoved {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.halted = false
	if len(c.subscribers) > 0 {
		c.startPollLocked()
	}
}

// pollLoop ticks immediately, then at a fixed delay of the event interval
// after each tick completes
func (c *Controller) pollLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		c.Tick(context.WithoutCancel(ctx))
		timer.Reset(c.eventInterval())
	}
}

func (c *Controller) eventInterval() time.Duration {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.config.EventPollInterval == 0 {
		return time.Second
	}
	return time.Duration(c.config.EventPollInterval) * time.Millisecond
}

// closeSession waits for the request in flight, then closes the session
func (c *Controller) closeSession() {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.closeSessionLocked()
}

func (c *Controller) closeSessionLocked() {
	s := c.session
	c.session = nil
	if s != nil {
		if err := s.Close(); err != nil {
			c.logger.Warn("Close failed: %v", err)
		}
	}
}

// async runs fn on a tracked goroutine
func (c *Controller) async(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(context.Background())
	}()
}

// Shutdown stops polling and closes the session. The subtree is kept.
func (c *Controller) Shutdown() {
	c.stopPoll()
	c.closeSession()
	c.setState(StateStopped)
}

// Remove stops the controller and deletes its subtree. The host forgets
// the outstation.
func (c *Controller) Remove() {
	c.Shutdown()
	if parent := c.node.Parent(); parent != nil {
		parent.RemoveChild(c.node.Name())
	}
	c.opts.Registry.Remove(c)
	c.opts.Host.Forget(c)
	c.setState(StateRemoved)
	c.logger.Info("Removed")
}

// Rename moves the outstation to a new node: the configuration and point
// values are copied, a new controller starts over the copy and this one is
// removed. It returns the new controller.
func (c *Controller) Rename(ctx context.Context, name string) (*Controller, error) {
	parent := c.node.Parent()
	if parent == nil {
		return nil, fmt.Errorf("%w: %s is not attached", ErrConfiguration, c.Name())
	}
	if name == c.Name() {
		return c, nil
	}
	if parent.HasChild(name) {
		return nil, fmt.Errorf("%w: an outstation named %q already exists", ErrConfiguration, name)
	}

	n := parent.Restore(name, c.node.Snapshot())
	next := New(n, c.opts)
	c.opts.Host.Track(next)

	// the device may only accept one connection. Writes on the old nodes
	// wait until the successor is started and are then forwarded to it.
	c.stopPoll()
	c.reqMu.Lock()
	c.closeSessionLocked()
	c.successor = next
	if err := next.Start(ctx); err != nil {
		next.logger.Warn("Start after rename failed: %v", err)
	}
	c.reqMu.Unlock()
	c.Remove()
	c.opts.Host.Persist(n)
	c.logger.Info("Renamed to %s", name)
	return next, nil
}

// Edit applies the edit action parameters. Configuration errors are
// returned before anything changes. A new name renames the outstation,
// otherwise the session is reopened with the new configuration and the
// points are kept.
func (c *Controller) Edit(ctx context.Context, p tree.Params) error {
	cfg, err := ParamsToConfig(p, c.IsSerial())
	if err != nil {
		return err
	}
	if cfg.Name != c.Name() {
		if parent := c.node.Parent(); parent != nil && parent.HasChild(cfg.Name) {
			return fmt.Errorf("%w: an outstation named %q already exists", ErrConfiguration, cfg.Name)
		}
	}
	cfg.WriteTo(c.node)

	if cfg.Name != c.Name() {
		_, err := c.Rename(ctx, cfg.Name)
		return err
	}

	c.reqMu.Lock()
	c.setState(StateReinitializing)
	c.closeSessionLocked()
	if err := c.startLocked(ctx); err != nil {
		c.logger.Warn("Restart after edit failed: %v", err)
	}
	c.reqMu.Unlock()
	c.opts.Host.Persist(c.node)
	return nil
}

// RefreshEditAction rebuilds the edit action, after a serial port scan
func (c *Controller) RefreshEditAction() {
	if c.State() == StateRemoved {
		return
	}
	c.node.CreateChild(ActionEdit).SetAction(c.editAction())
}

func (c *Controller) publishActions() {
	c.node.CreateChild(ActionRemove).SetAction(&tree.Action{
		Permission: tree.PermissionConfig,
		Handler: func(tree.Params) error {
			c.Remove()
			return nil
		},
	})
	c.node.CreateChild(ActionEdit).SetAction(c.editAction())
	c.node.CreateChild(ActionDiscover).SetAction(&tree.Action{
		Permission: tree.PermissionRead,
		Handler: func(tree.Params) error {
			c.async(func(ctx context.Context) { c.Discover(ctx) })
			return nil
		},
	})
	c.node.CreateChild(ActionUpdate).SetAction(&tree.Action{
		Permission: tree.PermissionRead,
		Handler: func(tree.Params) error {
			c.async(func(ctx context.Context) { c.Update(ctx) })
			return nil
		},
	})
}

func (c *Controller) editAction() *tree.Action {
	return &tree.Action{
		Permission: tree.PermissionConfig,
		Params:     Parameters(c.opts.Host.SerialPorts(), c.editDefaults()),
		Handler: func(p tree.Params) error {
			return c.Edit(context.Background(), p)
		},
	}
}

// editDefaults is the current configuration, or a best effort one when the
// node attributes do not parse
func (c *Controller) editDefaults() Config {
	if cfg, err := FromNode(c.node); err == nil {
		return cfg
	}
	cfg := Config{Name: c.Name()}
	if c.IsSerial() {
		cfg.Device.Serial = &device.SerialParams{}
	} else {
		cfg.Device.Network = &device.NetworkParams{}
	}
	return cfg
}

func (c *Controller) publishStatus() {
	status := c.node.CreateChild(NodeStatus)
	status.SetValueType(tree.TypeString)
	status.SetSerializable(false)
	c.node.CreateChild(NodeStatistics).SetSerializable(false)
	c.publishStatistics()
}

func (c *Controller) publishStatistics() {
	if c.State() == StateRemoved {
		return
	}
	stats := c.node.CreateChild(NodeStatistics)
	for name, v := range c.stats.Snapshot() {
		n := stats.CreateChild(name)
		n.SetValueType(tree.TypeNumber)
		n.SetValue(tree.Number(float64(v)))
	}
}

func (c *Controller) String() string {
	return fmt.Sprintf("Outstation[%s, %s]", c.Name(), c.State())
}

type nopHost struct{}

func (nopHost) SerialPorts() []string { return nil }
func (nopHost) Persist(*tree.Node)    {}
func (nopHost) Forget(*Controller)    {}
func (nopHost) Track(*Controller)     {}

// Package dnp3 is the link manager of the bridge: it restores persisted
// outstations under a root node, publishes the actions that add them and
// owns the controllers and the serial port registry.
package dnp3

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/channel"
	"avaneesh/dnp3-bridge/pkg/device"
	"avaneesh/dnp3-bridge/pkg/outstation"
	"avaneesh/dnp3-bridge/pkg/store"
	"avaneesh/dnp3-bridge/pkg/tree"
)

// Names of the manager actions under the root node
const (
	ActionAddSerial = "add serial outstation"
	ActionAddIP     = "add ip outstation"
	ActionScanPorts = "scan for serial ports"
)

// Store persists outstation attributes. *store.Store implements it.
type Store interface {
	Load(ctx context.Context) (map[string]store.Attributes, error)
	Save(ctx context.Context, outstation string, attrs store.Attributes) error
	Delete(ctx context.Context, outstation string) error
}

// Options configure a Manager
type Options struct {
	Store             Store // nil disables persistence
	Opener            device.Opener
	Seeds             []outstation.Config
	ResponseTimeout   time.Duration
	EnableUnsolicited bool
	ScanPorts         func() ([]string, error)
}

// Manager owns every outstation under the root node
type Manager struct {
	root     *tree.Node
	opts     Options
	logger   logger.Logger
	registry *outstation.Registry

	mu          sync.RWMutex
	controllers map[string]*outstation.Controller

	// addMu makes the name check and node creation of an add atomic
	addMu sync.Mutex

	portsMu sync.RWMutex
	ports   []string
}

// NewManager creates a manager over root
func NewManager(root *tree.Node, opts Options, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if opts.Opener == nil {
		opts.Opener = device.NewAdapter(log)
	}
	if opts.ScanPorts == nil {
		opts.ScanPorts = channel.ListSerialPorts
	}
	return &Manager{
		root:        root,
		opts:        opts,
		logger:      log,
		registry:    outstation.NewRegistry(),
		controllers: make(map[string]*outstation.Controller),
	}
}

// Root returns the root node
func (m *Manager) Root() *tree.Node {
	return m.root
}

// Registry returns the serial controller registry
func (m *Manager) Registry() *outstation.Registry {
	return m.registry
}

// Start restores persisted outstations, seeds configured ones that do not
// exist yet and publishes the manager actions. A failing outstation is
// logged and does not stop the others.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Manager: Starting")
	if m.opts.Store != nil {
		saved, err := m.opts.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load outstations: %w", err)
		}
		for name, attrs := range saved {
			n := m.root.CreateChild(name)
			for k, v := range attrs {
				n.SetAttribute(k, v)
			}
		}
	}

	var restored []*outstation.Controller
	for _, n := range m.root.Children() {
		if !n.Serializable() {
			continue
		}
		backfill(n)
		c := outstation.New(n, m.controllerOptions())
		m.Track(c)
		restored = append(restored, c)
	}
	m.startAll(ctx, restored)

	for _, cfg := range m.opts.Seeds {
		if m.root.HasChild(cfg.Name) {
			continue
		}
		if _, err := m.AddOutstation(ctx, cfg); err != nil {
			m.logger.Error("Manager: Seed %s: %v", cfg.Name, err)
		}
	}

	m.root.CreateChild(ActionScanPorts).SetAction(&tree.Action{
		Permission: tree.PermissionRead,
		Handler: func(tree.Params) error {
			m.ScanSerialPorts()
			return nil
		},
	})
	m.publishAddIP()
	m.ScanSerialPorts()
	m.logger.Info("Manager: Started with %d outstations", m.Count())
	return nil
}

func (m *Manager) startAll(ctx context.Context, controllers []*outstation.Controller) {
	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *outstation.Controller) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				m.logger.Warn("Manager: %s did not start: %v", c.Name(), err)
			}
		}(c)
	}
	wg.Wait()
}

// backfill sets defaults for attributes missing from older configurations
func backfill(n *tree.Node) {
	isSerial, ok := n.Attribute(outstation.AttrIsSerial)
	if !ok {
		isSerial = tree.Bool(false)
		n.SetAttribute(outstation.AttrIsSerial, isSerial)
	}
	if isSerial.AsBool() {
		setDefault(n, outstation.AttrCOMPort, tree.String("COM3"))
		setDefault(n, outstation.AttrBaudRate, tree.Number(9600))
		setDefault(n, outstation.AttrDataBits, tree.Number(8))
		setDefault(n, outstation.AttrStopBits, tree.Number(1))
		setDefault(n, outstation.AttrParity, tree.Number(0))
	} else {
		setDefault(n, outstation.AttrHost, tree.String("0.0.0.0"))
		setDefault(n, outstation.AttrPort, tree.Number(20000))
		setDefault(n, outstation.AttrProtocol, tree.String(device.ProtocolTCP))
	}
	setDefault(n, outstation.AttrMasterAddress, tree.Number(0))
	setDefault(n, outstation.AttrOutstationAddress, tree.Number(0))
	setDefault(n, outstation.AttrEventInterval, tree.Number(5000))
	setDefault(n, outstation.AttrStaticInterval, tree.Number(25000))
}

func setDefault(n *tree.Node, key string, v tree.Value) {
	if _, ok := n.Attribute(key); !ok {
		n.SetAttribute(key, v)
	}
}

func (m *Manager) controllerOptions() outstation.Options {
	return outstation.Options{
		Opener:            m.opts.Opener,
		Registry:          m.registry,
		Host:              m,
		Logger:            m.logger,
		ResponseTimeout:   m.opts.ResponseTimeout,
		EnableUnsolicited: m.opts.EnableUnsolicited,
	}
}

// AddOutstation creates, persists and starts an outstation. Only
// configuration errors are returned; a device that cannot be reached is
// logged and left for the operator to edit.
func (m *Manager) AddOutstation(ctx context.Context, cfg outstation.Config) (*outstation.Controller, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.addMu.Lock()
	if m.root.HasChild(cfg.Name) {
		m.addMu.Unlock()
		return nil, fmt.Errorf("%w: an outstation named %q already exists", outstation.ErrConfiguration, cfg.Name)
	}
	n := m.root.CreateChild(cfg.Name)
	cfg.WriteTo(n)
	m.addMu.Unlock()

	c := outstation.New(n, m.controllerOptions())
	m.Track(c)
	m.Persist(n)
	if err := c.Start(ctx); err != nil {
		m.logger.Warn("Manager: %s did not start: %v", cfg.Name, err)
	}
	m.logger.Info("Manager: Added outstation %s", cfg.Name)
	return c, nil
}

func addDefaults(serial bool) outstation.Config {
	cfg := outstation.Config{
		EventPollInterval:  5000,
		StaticPollInterval: 25000,
	}
	cfg.Device.MasterAddress = 17
	cfg.Device.OutstationAddress = 4
	if serial {
		cfg.Device.Serial = &device.SerialParams{BaudRate: 9600, DataBits: 8, StopBits: 1}
	} else {
		cfg.Device.Network = &device.NetworkParams{Host: "0.0.0.0", Port: 20000, Protocol: device.ProtocolTCP}
	}
	return cfg
}

func (m *Manager) addAction(serial bool) *tree.Action {
	return &tree.Action{
		Permission: tree.PermissionConfig,
		Params:     outstation.Parameters(m.SerialPorts(), addDefaults(serial)),
		Handler: func(p tree.Params) error {
			cfg, err := outstation.ParamsToConfig(p, serial)
			if err != nil {
				return err
			}
			_, err = m.AddOutstation(context.Background(), cfg)
			return err
		},
	}
}

func (m *Manager) publishAddIP() {
	m.root.CreateChild(ActionAddIP).SetAction(m.addAction(false))
}

// ScanSerialPorts enumerates the serial ports and rebuilds every action
// that offers them. An enumeration failure yields no ports.
func (m *Manager) ScanSerialPorts() []string {
	ports, err := m.opts.ScanPorts()
	if err != nil {
		m.logger.Warn("Manager: %v", err)
		ports = nil
	}
	sort.Strings(ports)
	ports = slices.Compact(ports)

	m.portsMu.Lock()
	m.ports = ports
	m.portsMu.Unlock()

	m.root.CreateChild(ActionAddSerial).SetAction(m.addAction(true))
	for _, c := range m.registry.Controllers() {
		c.RefreshEditAction()
	}
	m.logger.Debug("Manager: Found serial ports %v", ports)
	return ports
}

// SerialPorts returns the ports found by the last scan
func (m *Manager) SerialPorts() []string {
	m.portsMu.RLock()
	defer m.portsMu.RUnlock()
	return slices.Clone(m.ports)
}

// Persist saves the attributes of an outstation node
func (m *Manager) Persist(n *tree.Node) {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.Save(context.Background(), n.Name(), n.Attributes()); err != nil {
		m.logger.Error("Manager: Failed to persist %s: %v", n.Name(), err)
	}
}

// Forget drops a removed controller and its persisted attributes
func (m *Manager) Forget(c *outstation.Controller) {
	m.mu.Lock()
	if m.controllers[c.Name()] == c {
		delete(m.controllers, c.Name())
	}
	m.mu.Unlock()
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.Delete(context.Background(), c.Name()); err != nil {
		m.logger.Error("Manager: Failed to delete %s: %v", c.Name(), err)
	}
}

// Track registers a controller under its name
func (m *Manager) Track(c *outstation.Controller) {
	m.mu.Lock()
	m.controllers[c.Name()] = c
	m.mu.Unlock()
}

// Outstation returns the controller with the given name
func (m *Manager) Outstation(name string) (*outstation.Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[name]
	return c, ok
}

// Outstations returns every controller ordered by name
func (m *Manager) Outstations() []*outstation.Controller {
	m.mu.RLock()
	out := make([]*outstation.Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Count returns the number of outstations
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.controllers)
}

// Shutdown stops polling and closes every session. Subtrees are kept.
func (m *Manager) Shutdown() {
	m.logger.Info("Manager: Shutting down")
	for _, c := range m.Outstations() {
		c.Shutdown()
	}
	m.logger.Info("Manager: Shutdown complete")
}

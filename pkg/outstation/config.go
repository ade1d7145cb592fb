package outstation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"avaneesh/dnp3-bridge/pkg/device"
	"avaneesh/dnp3-bridge/pkg/tree"
)

// ErrConfiguration is returned for parameters that violate an invariant
var ErrConfiguration = errors.New("configuration error")

// Attribute names stored on an outstation node
const (
	AttrIsSerial          = "Is Serial"
	AttrCOMPort           = "COM Port"
	AttrBaudRate          = "Baud Rate"
	AttrDataBits          = "Data Bits"
	AttrStopBits          = "Stop Bits"
	AttrParity            = "Parity"
	AttrHost              = "Host"
	AttrPort              = "Port"
	AttrProtocol          = "Network Protocol"
	AttrMasterAddress     = "Master Address"
	AttrOutstationAddress = "Outstation Address"
	AttrEventInterval     = "Event Polling Interval"
	AttrStaticInterval    = "Static Polling Interval"
)

// Config is the configuration of one outstation. Intervals are in
// milliseconds.
type Config struct {
	Name               string
	Device             device.Config
	EventPollInterval  uint64
	StaticPollInterval uint64
}

// IsSerial reports whether the outstation is serial attached
func (c Config) IsSerial() bool {
	return c.Device.Serial != nil
}

// Normalize coerces the event interval down to the static interval when it
// is longer. It reports whether anything changed.
func (c *Config) Normalize() bool {
	if c.StaticPollInterval < c.EventPollInterval {
		c.EventPollInterval = c.StaticPollInterval
		return true
	}
	return false
}

// Validate checks the invariants an operator can violate
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrConfiguration)
	}
	if strings.Contains(c.Name, "/") {
		return fmt.Errorf("%w: name %q contains '/'", ErrConfiguration, c.Name)
	}
	if c.EventPollInterval == 0 || c.StaticPollInterval == 0 {
		return fmt.Errorf("%w: polling intervals must be positive", ErrConfiguration)
	}
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// WriteTo stores the configuration as attributes of n
func (c Config) WriteTo(n *tree.Node) {
	n.SetAttribute(AttrIsSerial, tree.Bool(c.IsSerial()))
	if s := c.Device.Serial; s != nil {
		n.SetAttribute(AttrCOMPort, tree.String(s.Port))
		n.SetAttribute(AttrBaudRate, tree.Number(float64(s.BaudRate)))
		n.SetAttribute(AttrDataBits, tree.Number(float64(s.DataBits)))
		n.SetAttribute(AttrStopBits, tree.Number(float64(s.StopBits)))
		n.SetAttribute(AttrParity, tree.Number(float64(s.Parity)))
	}
	if net := c.Device.Network; net != nil {
		n.SetAttribute(AttrHost, tree.String(net.Host))
		n.SetAttribute(AttrPort, tree.Number(float64(net.Port)))
		proto := net.Protocol
		if proto == "" {
			proto = device.ProtocolTCP
		}
		n.SetAttribute(AttrProtocol, tree.String(proto))
	}
	n.SetAttribute(AttrMasterAddress, tree.Number(float64(c.Device.MasterAddress)))
	n.SetAttribute(AttrOutstationAddress, tree.Number(float64(c.Device.OutstationAddress)))
	n.SetAttribute(AttrEventInterval, tree.Number(float64(c.EventPollInterval)))
	n.SetAttribute(AttrStaticInterval, tree.Number(float64(c.StaticPollInterval)))
}

// FromNode reads the configuration stored on n
func FromNode(n *tree.Node) (Config, error) {
	r := attrReader{n: n}
	c := Config{Name: n.Name()}
	if r.bool(AttrIsSerial) {
		c.Device.Serial = &device.SerialParams{
			Port:     r.str(AttrCOMPort),
			BaudRate: r.int(AttrBaudRate),
			DataBits: r.int(AttrDataBits),
			StopBits: r.int(AttrStopBits),
			Parity:   r.int(AttrParity),
		}
	} else {
		c.Device.Network = &device.NetworkParams{
			Host:     r.str(AttrHost),
			Port:     r.int(AttrPort),
			Protocol: r.optStr(AttrProtocol, device.ProtocolTCP),
		}
	}
	c.Device.MasterAddress = r.addr(AttrMasterAddress)
	c.Device.OutstationAddress = r.addr(AttrOutstationAddress)
	c.EventPollInterval = r.uint(AttrEventInterval)
	c.StaticPollInterval = r.uint(AttrStaticInterval)
	if r.err != nil {
		return Config{}, r.err
	}
	return c, nil
}

// attrReader collects the first missing or mistyped attribute
type attrReader struct {
	n   *tree.Node
	err error
}

func (r *attrReader) get(key string, kind tree.Kind) (tree.Value, bool) {
	v, ok := r.n.Attribute(key)
	if !ok || v.Kind() != kind {
		if r.err == nil {
			r.err = fmt.Errorf("%w: %s: attribute %q missing or not a %s", ErrConfiguration, r.n.Name(), key, kind)
		}
		return tree.Null(), false
	}
	return v, true
}

func (r *attrReader) bool(key string) bool {
	v, _ := r.get(key, tree.KindBool)
	return v.AsBool()
}

func (r *attrReader) str(key string) string {
	v, _ := r.get(key, tree.KindString)
	return v.AsString()
}

func (r *attrReader) optStr(key, def string) string {
	if v, ok := r.n.Attribute(key); ok && v.Kind() == tree.KindString && v.AsString() != "" {
		return v.AsString()
	}
	return def
}

func (r *attrReader) int(key string) int {
	v, _ := r.get(key, tree.KindNumber)
	return int(v.AsNumber())
}

func (r *attrReader) uint(key string) uint64 {
	v, ok := r.get(key, tree.KindNumber)
	if ok && v.AsNumber() < 0 {
		r.err = fmt.Errorf("%w: %s: %q is negative", ErrConfiguration, r.n.Name(), key)
		return 0
	}
	return uint64(v.AsNumber())
}

func (r *attrReader) addr(key string) uint16 {
	v, ok := r.get(key, tree.KindNumber)
	if ok && (v.AsNumber() < 0 || v.AsNumber() > math.MaxUint16) {
		r.err = fmt.Errorf("%w: %s: %q out of range", ErrConfiguration, r.n.Name(), key)
		return 0
	}
	return uint16(v.AsNumber())
}

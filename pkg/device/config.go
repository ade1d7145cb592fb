package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Network protocols an outstation can be reached over
const (
	ProtocolTCP  = "tcp"
	ProtocolUDP  = "udp"
	ProtocolQUIC = "quic"
)

// Protocols lists the supported network protocols
var Protocols = []string{ProtocolTCP, ProtocolUDP, ProtocolQUIC}

// SerialParams are the parameters of a serial attached outstation
type SerialParams struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   int // 0 none, 1 odd, 2 even
}

// NetworkParams are the parameters of a network attached outstation
type NetworkParams struct {
	Host     string
	Port     int
	Protocol string // tcp when empty
}

// Address returns "host:port"
func (n NetworkParams) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Config describes one outstation connection. Exactly one of Serial and
// Network is set.
type Config struct {
	Serial  *SerialParams
	Network *NetworkParams

	MasterAddress     uint16
	OutstationAddress uint16

	ResponseTimeout   time.Duration // master default when zero
	EnableUnsolicited bool
}

// Validate checks the transport parameters
func (c Config) Validate() error {
	switch {
	case c.Serial == nil && c.Network == nil:
		return errors.New("no transport configured")
	case c.Serial != nil && c.Network != nil:
		return errors.New("both serial and network transports configured")
	case c.Serial != nil:
		if c.Serial.Port == "" {
			return errors.New("serial port is required")
		}
		if c.Serial.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate %d", c.Serial.BaudRate)
		}
	default:
		if c.Network.Host == "" {
			return errors.New("host is required")
		}
		if c.Network.Port <= 0 || c.Network.Port > 65535 {
			return fmt.Errorf("invalid port %d", c.Network.Port)
		}
		switch c.Network.Protocol {
		case "", ProtocolTCP, ProtocolUDP, ProtocolQUIC:
		default:
			return fmt.Errorf("unsupported protocol %q", c.Network.Protocol)
		}
	}
	return nil
}

func (c Config) String() string {
	if c.Serial != nil {
		return fmt.Sprintf("serial %s %d/%d/%d/%d %d->%d", c.Serial.Port, c.Serial.BaudRate,
			c.Serial.DataBits, c.Serial.StopBits, c.Serial.Parity, c.MasterAddress, c.OutstationAddress)
	}
	if c.Network != nil {
		proto := c.Network.Protocol
		if proto == "" {
			proto = ProtocolTCP
		}
		return fmt.Sprintf("%s %s %d->%d", proto, c.Network.Address(), c.MasterAddress, c.OutstationAddress)
	}
	return "unconfigured"
}

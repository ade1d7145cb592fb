package channel

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialChannelConfig holds serial port parameters
type SerialChannelConfig struct {
	Port         string // "COM3", "/dev/ttyUSB0"
	BaudRate     int
	DataBits     int
	StopBits     int // 1 or 2
	Parity       int // 0 none, 1 odd, 2 even
	WriteTimeout time.Duration
}

// SerialChannel implements PhysicalChannel over a serial port
type SerialChannel struct {
	*streamChannel
	port serial.Port
}

// NewSerialChannel opens the serial port
func NewSerialChannel(config SerialChannelConfig) (*SerialChannel, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		Parity:   mapParity(config.Parity),
		StopBits: mapStopBits(config.StopBits),
	}
	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Port, err)
	}
	return &SerialChannel{
		streamChannel: newStreamChannel(port, port.Close, config.WriteTimeout),
		port:          port,
	}, nil
}

// ListSerialPorts enumerates the serial ports present on the host
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

func mapParity(p int) serial.Parity {
	switch p {
	case 1:
		return serial.OddParity
	case 2:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func mapStopBits(s int) serial.StopBits {
	if s == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

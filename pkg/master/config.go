package master

import (
	"time"

	"avaneesh/dnp3-bridge/pkg/app"
)

// DefaultResponseTimeout bounds the wait for each response fragment
const DefaultResponseTimeout = 5 * time.Second

// Config configures a master session
type Config struct {
	// Identity
	ID string

	// Link layer
	LocalAddress  uint16 // master
	RemoteAddress uint16 // outstation

	// Timeouts
	ResponseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.ID == "" {
		c.ID = "master"
	}
	return c
}

// Element is one point value as the bridge consumes it: the static group
// code, the point index and the rendered value
type Element struct {
	Group uint8 // BCD: group 30 is 0x30
	Index uint32
	Value string
}

// ElementFromMeasurement converts a decoded measurement
func ElementFromMeasurement(m app.Measurement) Element {
	return Element{Group: m.GroupCode(), Index: m.Index, Value: m.ValueString()}
}

func toElements(ms []app.Measurement) []Element {
	out := make([]Element, len(ms))
	for i, m := range ms {
		out[i] = ElementFromMeasurement(m)
	}
	return out
}

// UnsolicitedHandler receives the point values carried by unsolicited
// responses. It is called from the channel read loop and must not block.
type UnsolicitedHandler interface {
	OnUnsolicited(elements []Element)
}

// UnsolicitedFunc adapts a function to UnsolicitedHandler
type UnsolicitedFunc func(elements []Element)

// OnUnsolicited implements UnsolicitedHandler
func (f UnsolicitedFunc) OnUnsolicited(elements []Element) {
	f(elements)
}

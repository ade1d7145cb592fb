package outstation

// Cadence decides per poll tick between an event read and a full static
// read so that one static read happens every PollsPerDiscover ticks
type Cadence struct {
	PollsPerDiscover       uint32
	PollsSinceLastDiscover uint32
}

// NewCadence derives the cadence from the two intervals. Callers normalize
// the intervals first; a static interval shorter than the event interval
// still yields one poll per discover.
func NewCadence(eventMs, staticMs uint64) Cadence {
	per := uint64(1)
	if eventMs > 0 && staticMs/eventMs > 1 {
		per = staticMs / eventMs
	}
	if per > 1<<32-1 {
		per = 1<<32 - 1
	}
	return Cadence{PollsPerDiscover: uint32(per)}
}

// Next advances one tick and reports whether the tick is a discover
func (c *Cadence) Next() bool {
	if c.PollsSinceLastDiscover+1 < c.PollsPerDiscover {
		c.PollsSinceLastDiscover++
		return false
	}
	c.PollsSinceLastDiscover = 0
	return true
}

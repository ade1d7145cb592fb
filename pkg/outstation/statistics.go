package outstation

import "sync/atomic"

// Statistics counts controller activity
type Statistics struct {
	discovers      atomic.Uint64
	updates        atomic.Uint64
	controls       atomic.Uint64
	failures       atomic.Uint64
	decodeFailures atomic.Uint64
	pollStarts     atomic.Uint64
	pollStops      atomic.Uint64
	unsolicited    atomic.Uint64
	droppedRecords atomic.Uint64
}

// Discovers returns the number of completed static reads
func (s *Statistics) Discovers() uint64 { return s.discovers.Load() }

// Updates returns the number of completed event reads
func (s *Statistics) Updates() uint64 { return s.updates.Load() }

// Controls returns the number of successful direct operates
func (s *Statistics) Controls() uint64 { return s.controls.Load() }

// Failures returns the number of failed session calls
func (s *Statistics) Failures() uint64 { return s.failures.Load() }

// DecodeFailures returns the number of records whose value did not parse
func (s *Statistics) DecodeFailures() uint64 { return s.decodeFailures.Load() }

// PollStarts returns how often the poll timer was started
func (s *Statistics) PollStarts() uint64 { return s.pollStarts.Load() }

// PollStops returns how often the poll timer was stopped
func (s *Statistics) PollStops() uint64 { return s.pollStops.Load() }

// Unsolicited returns the number of records received unsolicited
func (s *Statistics) Unsolicited() uint64 { return s.unsolicited.Load() }

// DroppedRecords returns the number of records with unknown group codes
func (s *Statistics) DroppedRecords() uint64 { return s.droppedRecords.Load() }

// Snapshot returns every counter by display name
func (s *Statistics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"Discovers":       s.Discovers(),
		"Updates":         s.Updates(),
		"Controls":        s.Controls(),
		"Failures":        s.Failures(),
		"Decode Failures": s.DecodeFailures(),
		"Poll Starts":     s.PollStarts(),
		"Poll Stops":      s.PollStops(),
		"Unsolicited":     s.Unsolicited(),
		"Dropped Records": s.DroppedRecords(),
	}
}

package simulator

import (
	"slices"
	"sync"

	"avaneesh/dnp3-bridge/pkg/app"
)

// PointType identifies a point table in the database
type PointType int

const (
	PointTypeBinary PointType = iota
	PointTypeDoubleBit
	PointTypeCounter
	PointTypeAnalog
	PointTypeBinaryOutput
	PointTypeAnalogOutput
)

func (t PointType) String() string {
	switch t {
	case PointTypeBinary:
		return "Binary"
	case PointTypeDoubleBit:
		return "DoubleBit"
	case PointTypeCounter:
		return "Counter"
	case PointTypeAnalog:
		return "Analog"
	case PointTypeBinaryOutput:
		return "BinaryOutput"
	case PointTypeAnalogOutput:
		return "AnalogOutput"
	}
	return "Unknown"
}

// point holds a current value. Booleans are stored as 0/1 and double-bit
// states as their two-bit code.
type point struct {
	value float64
	flags uint8
}

// Event is a buffered change of one point
type Event struct {
	Type  PointType
	Index uint16
	Value float64
}

// Database stores point values and the events their changes produce
type Database struct {
	tables map[PointType]map[uint16]point
	events []Event

	maxEvents int
	overflow  bool

	mu sync.Mutex
}

// NewDatabase creates an empty database buffering at most maxEvents
func NewDatabase(maxEvents int) *Database {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	db := &Database{
		tables:    make(map[PointType]map[uint16]point),
		maxEvents: maxEvents,
	}
	for t := PointTypeBinary; t <= PointTypeAnalogOutput; t++ {
		db.tables[t] = make(map[uint16]point)
	}
	return db
}

// Update stores a value. A change to an existing point, or a new point,
// produces an event.
func (db *Database) Update(t PointType, index uint16, value float64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	table := db.tables[t]
	old, exists := table[index]
	table[index] = point{value: value, flags: app.FlagOnline}
	if exists && old.value == value {
		return
	}
	if len(db.events) >= db.maxEvents {
		db.events = db.events[1:]
		db.overflow = true
	}
	db.events = append(db.events, Event{Type: t, Index: index, Value: value})
}

// Value returns the current value of a point
func (db *Database) Value(t PointType, index uint16) (float64, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.tables[t][index]
	return p.value, ok
}

// Remove deletes a point without producing an event
func (db *Database) Remove(t PointType, index uint16) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.tables[t], index)
}

// HasEvents reports whether any events are buffered
func (db *Database) HasEvents() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.events) > 0
}

// TakeEvents returns and clears the buffered events
func (db *Database) TakeEvents() []Event {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := db.events
	db.events = nil
	db.overflow = false
	return out
}

// ClearEvents drops the buffered events
func (db *Database) ClearEvents() {
	db.TakeEvents()
}

// snapshot returns the sorted indices of one table with a copy of its points
func (db *Database) snapshot(t PointType) ([]uint16, map[uint16]point) {
	db.mu.Lock()
	defer db.mu.Unlock()
	table := make(map[uint16]point, len(db.tables[t]))
	indices := make([]uint16, 0, len(db.tables[t]))
	for i, p := range db.tables[t] {
		table[i] = p
		indices = append(indices, i)
	}
	slices.Sort(indices)
	return indices, table
}

func (db *Database) iin() app.IIN {
	db.mu.Lock()
	defer db.mu.Unlock()
	var iin app.IIN
	if len(db.events) > 0 {
		iin.IIN1 |= app.IIN1Class1Events
	}
	if db.overflow {
		iin.IIN2 |= app.IIN2EventBufferOverflow
	}
	return iin
}

package app

import (
	"encoding/binary"
	"math"
	"strconv"
)

// Flag bits for measurement objects
const (
	FlagOnline   uint8 = 0x01
	FlagRestart  uint8 = 0x02
	FlagCommLost uint8 = 0x04
	FlagState    uint8 = 0x80 // binary state
)

// DoubleBit is the state of a double-bit binary input
type DoubleBit uint8

const (
	DoubleBitIntermediate DoubleBit = iota
	DoubleBitOff
	DoubleBitOn
	DoubleBitIndeterminate
)

func (d DoubleBit) String() string {
	switch d & 0x03 {
	case DoubleBitIntermediate:
		return "Intermediate"
	case DoubleBitOff:
		return "Off"
	case DoubleBitOn:
		return "On"
	default:
		return "Indeterminate"
	}
}

// Measurement is one decoded point value from a response
type Measurement struct {
	Group     uint8 // static group, event groups are folded onto theirs
	Variation uint8 // variation as received
	Index     uint32
	Flags     uint8
	Bool      bool
	DoubleBit DoubleBit
	Number    float64
}

// StaticGroup maps event groups onto the static group of the same point type.
// It returns 0 for groups that do not carry point values.
func StaticGroup(group uint8) uint8 {
	switch group {
	case GroupBinaryInput, GroupBinaryInputEvent:
		return GroupBinaryInput
	case GroupDoubleBitBinaryInput, GroupDoubleBitBinaryEvent:
		return GroupDoubleBitBinaryInput
	case GroupBinaryOutput, GroupBinaryOutputEvent:
		return GroupBinaryOutput
	case GroupCounter, GroupCounterEvent:
		return GroupCounter
	case GroupAnalogInput, GroupAnalogInputEvent:
		return GroupAnalogInput
	case GroupAnalogOutputStatus, GroupAnalogOutputEvent:
		return GroupAnalogOutputStatus
	}
	return 0
}

// GroupCode returns the static group number written as two decimal digits
// in one octet, so group 30 becomes 0x30
func (m Measurement) GroupCode() uint8 {
	return (m.Group/10)<<4 | m.Group%10
}

// ValueString renders the value the way the point translator parses it
func (m Measurement) ValueString() string {
	switch m.Group {
	case GroupBinaryInput, GroupBinaryOutput:
		return strconv.FormatBool(m.Bool)
	case GroupDoubleBitBinaryInput:
		return m.DoubleBit.String()
	}
	return strconv.FormatFloat(m.Number, 'g', -1, 64)
}

// DecodeMeasurements walks every object header in a response and returns the
// point values it carries. Objects that are not point values (control echoes,
// time objects) are skipped. Parsing stops at the first header it cannot size.
func DecodeMeasurements(objects []byte) ([]Measurement, error) {
	p := NewParser(objects)
	var out []Measurement
	for p.HasMore() {
		h, err := p.ReadObjectHeader()
		if err != nil {
			return out, err
		}
		objs, err := p.readObjects(h)
		if err != nil {
			return out, err
		}
		static := StaticGroup(h.Group)
		if static == 0 {
			continue
		}
		layout := layouts[groupVariation{h.Group, h.Variation}]
		if layout.bits > 0 {
			out = append(out, unpack(h, static, layout.bits, objs)...)
			continue
		}
		for _, o := range objs {
			out = append(out, decodeObject(static, h.Variation, layout, o))
		}
	}
	return out, nil
}

func unpack(h *ObjectHeader, static uint8, bits int, objs []object) []Measurement {
	if len(objs) == 0 {
		return nil
	}
	count := int(GetCount(h.Range))
	data := objs[0].data
	out := make([]Measurement, 0, count)
	for i := 0; i < count; i++ {
		bit := i * bits
		v := (data[bit/8] >> (bit % 8)) & (1<<bits - 1)
		m := Measurement{
			Group:     static,
			Variation: h.Variation,
			Index:     objs[0].index + uint32(i),
			Flags:     FlagOnline,
		}
		if bits == 1 {
			m.Bool = v != 0
		} else {
			m.DoubleBit = DoubleBit(v)
		}
		out = append(out, m)
	}
	return out
}

func decodeObject(static, variation uint8, layout objectLayout, o object) Measurement {
	m := Measurement{Group: static, Variation: variation, Index: o.index}
	data := o.data
	if layout.flags {
		m.Flags = data[0]
		data = data[1:]
	} else {
		m.Flags = FlagOnline
	}

	switch layout.format {
	case fmtFlags:
		m.Bool = m.Flags&FlagState != 0
		m.DoubleBit = DoubleBit(m.Flags >> 6)
	case fmtInt16:
		m.Number = float64(int16(binary.LittleEndian.Uint16(data)))
	case fmtInt32:
		m.Number = float64(int32(binary.LittleEndian.Uint32(data)))
	case fmtUint16:
		m.Number = float64(binary.LittleEndian.Uint16(data))
	case fmtUint32:
		m.Number = float64(binary.LittleEndian.Uint32(data))
	case fmtFloat32:
		m.Number = float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))
	case fmtFloat64:
		m.Number = math.Float64frombits(binary.LittleEndian.Uint64(data))
	}
	return m
}

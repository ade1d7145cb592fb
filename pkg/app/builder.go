package app

import (
	"encoding/binary"
	"math"
)

// ObjectBuilder helps construct object headers and data
type ObjectBuilder struct {
	buf []byte
}

// NewObjectBuilder creates a new object builder
func NewObjectBuilder() *ObjectBuilder {
	return &ObjectBuilder{}
}

// AddHeader adds an object header. The range is written according to the
// qualifier; a mismatched range type writes zeros.
func (b *ObjectBuilder) AddHeader(group, variation uint8, qualifier QualifierCode, rng Range) {
	b.buf = append(b.buf, group, variation, uint8(qualifier))

	switch spec := qualifier.RangeSpec(); spec {
	case 0x00, 0x01, 0x02:
		r, _ := rng.(StartStopRange)
		b.addUint(1<<spec, r.Start)
		b.addUint(1<<spec, r.Stop)
	case 0x07, 0x08, 0x09:
		r, _ := rng.(CountRange)
		b.addUint(1<<(spec-0x07), r.Count)
	}
}

func (b *ObjectBuilder) addUint(width int, v uint32) {
	switch width {
	case 1:
		b.buf = append(b.buf, uint8(v))
	case 2:
		b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(v))
	default:
		b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	}
}

// AddByte adds a single byte
func (b *ObjectBuilder) AddByte(v uint8) {
	b.buf = append(b.buf, v)
}

// AddUint16 adds a 16-bit value (little endian)
func (b *ObjectBuilder) AddUint16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

// AddUint32 adds a 32-bit value (little endian)
func (b *ObjectBuilder) AddUint32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

// AddInt32 adds a signed 32-bit value (little endian)
func (b *ObjectBuilder) AddInt32(v int32) {
	b.AddUint32(uint32(v))
}

// AddFloat32 adds an IEEE-754 single (little endian)
func (b *ObjectBuilder) AddFloat32(v float32) {
	b.AddUint32(math.Float32bits(v))
}

// AddFloat64 adds an IEEE-754 double (little endian)
func (b *ObjectBuilder) AddFloat64(v float64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, math.Float64bits(v))
}

// AddRawData adds raw data without a header
func (b *ObjectBuilder) AddRawData(data []byte) {
	b.buf = append(b.buf, data...)
}

// Build returns a copy of the constructed object data
func (b *ObjectBuilder) Build() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Reset clears the builder for reuse
func (b *ObjectBuilder) Reset() {
	b.buf = b.buf[:0]
}

// BuildClassRead builds group 60 headers for the given classes
func BuildClassRead(classes ...ClassField) []byte {
	b := NewObjectBuilder()
	for _, class := range classes {
		if v, ok := class.Variation(); ok {
			b.AddHeader(GroupClassData, v, QualifierNoRange, NoRange{})
		}
	}
	return b.Build()
}

// BuildIntegrityPoll builds a Class 0 (static data) read
func BuildIntegrityPoll() []byte {
	return BuildClassRead(Class0)
}

// BuildEventPoll builds a Class 1,2,3 (event data) read
func BuildEventPoll() []byte {
	return BuildClassRead(Class1, Class2, Class3)
}

// BuildEnableUnsolicited builds objects for an enable unsolicited request
func BuildEnableUnsolicited() []byte {
	return BuildEventPoll()
}

// BuildCROB builds a single g12v1 object with a 16-bit index prefix
func BuildCROB(index uint16, crob CROB) []byte {
	b := NewObjectBuilder()
	b.AddHeader(GroupBinaryOutputCommand, CROBVariation, Qualifier16BitIndexPrefixed, CountRange{Count: 1})
	b.AddUint16(index)
	b.AddRawData(crob.Serialize())
	return b.Build()
}

// BuildAnalogOutput builds a single group 41 object with a 16-bit index
// prefix. Variations 1 (int32) and 3 (float32) are supported.
func BuildAnalogOutput(index uint16, ao AnalogOutput) []byte {
	b := NewObjectBuilder()
	b.AddHeader(GroupAnalogOutputCommand, ao.Variation, Qualifier16BitIndexPrefixed, CountRange{Count: 1})
	b.AddUint16(index)
	b.AddRawData(ao.Serialize())
	return b.Build()
}

package app

// Object Group numbers
const (
	GroupBinaryInput          uint8 = 1
	GroupBinaryInputEvent     uint8 = 2
	GroupDoubleBitBinaryInput uint8 = 3
	GroupDoubleBitBinaryEvent uint8 = 4
	GroupBinaryOutput         uint8 = 10
	GroupBinaryOutputEvent    uint8 = 11
	GroupBinaryOutputCommand  uint8 = 12
	GroupCounter              uint8 = 20
	GroupFrozenCounter        uint8 = 21
	GroupCounterEvent         uint8 = 22
	GroupAnalogInput          uint8 = 30
	GroupAnalogInputEvent     uint8 = 32
	GroupAnalogOutputStatus   uint8 = 40
	GroupAnalogOutputCommand  uint8 = 41
	GroupAnalogOutputEvent    uint8 = 42
	GroupTimeDate             uint8 = 50
	GroupCommonTimeOfOccur    uint8 = 51
	GroupTimeDelay            uint8 = 52
	GroupClassData            uint8 = 60
	GroupInternalIndications  uint8 = 80
)

// Variations used when building requests and static responses
const (
	VariationAny uint8 = 0

	BinaryInputPacked    uint8 = 1
	BinaryInputWithFlags uint8 = 2

	DoubleBitPacked    uint8 = 1
	DoubleBitWithFlags uint8 = 2

	BinaryOutputPacked    uint8 = 1
	BinaryOutputWithFlags uint8 = 2

	Counter32BitWithFlag uint8 = 1
	Counter16BitWithFlag uint8 = 2

	AnalogInput32Bit uint8 = 1
	AnalogInput16Bit uint8 = 2
	AnalogInputFloat uint8 = 5

	AnalogOutputStatus32Bit uint8 = 1
	AnalogOutputStatusFloat uint8 = 3

	AnalogOutputCommand32Bit  uint8 = 1
	AnalogOutputCommandFloat  uint8 = 3
	AnalogOutputCommandDouble uint8 = 4

	CROBVariation uint8 = 1
)

// QualifierCode is the object header qualifier octet: index prefix code in
// bits 4-6, range specifier in bits 0-3
type QualifierCode uint8

const (
	Qualifier8BitStartStop      QualifierCode = 0x00
	Qualifier16BitStartStop     QualifierCode = 0x01
	Qualifier32BitStartStop     QualifierCode = 0x02
	QualifierNoRange            QualifierCode = 0x06
	Qualifier8BitCount          QualifierCode = 0x07
	Qualifier16BitCount         QualifierCode = 0x08
	Qualifier32BitCount         QualifierCode = 0x09
	Qualifier8BitIndexPrefixed  QualifierCode = 0x17 // 8-bit count, 8-bit index prefix
	Qualifier16BitIndexPrefixed QualifierCode = 0x28 // 16-bit count, 16-bit index prefix
	Qualifier32BitIndexPrefixed QualifierCode = 0x39 // 32-bit count, 32-bit index prefix
)

// RangeSpec returns the range specifier nibble
func (q QualifierCode) RangeSpec() uint8 {
	return uint8(q) & 0x0F
}

// PrefixSize returns the size in octets of the index prefix on each object,
// or -1 for prefix codes the bridge does not handle
func (q QualifierCode) PrefixSize() int {
	switch (uint8(q) >> 4) & 0x07 {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 4
	default:
		return -1
	}
}

// ObjectHeader represents a DNP3 object header
type ObjectHeader struct {
	Group     uint8
	Variation uint8
	Qualifier QualifierCode
	Range     Range
}

// Range represents the range field of an object header
type Range interface {
	isRange()
}

// StartStopRange represents start-stop index range
type StartStopRange struct {
	Start uint32
	Stop  uint32
}

func (StartStopRange) isRange() {}

// CountRange represents count-based range
type CountRange struct {
	Count uint32
}

func (CountRange) isRange() {}

// NoRange represents headers with no range
type NoRange struct{}

func (NoRange) isRange() {}

// GetCount returns the number of objects a range describes
func GetCount(r Range) uint32 {
	switch v := r.(type) {
	case StartStopRange:
		if v.Stop >= v.Start {
			return v.Stop - v.Start + 1
		}
	case CountRange:
		return v.Count
	}
	return 0
}

// ClassField represents DNP3 class assignments
type ClassField uint8

const (
	Class0   ClassField = 1 << 0
	Class1   ClassField = 1 << 1
	Class2   ClassField = 1 << 2
	Class3   ClassField = 1 << 3
	ClassAll ClassField = Class1 | Class2 | Class3
)

// Variation returns the group 60 variation selecting this class
func (c ClassField) Variation() (uint8, bool) {
	switch c {
	case Class0:
		return 1, true
	case Class1:
		return 2, true
	case Class2:
		return 3, true
	case Class3:
		return 4, true
	}
	return 0, false
}

// numFormat describes the value encoding inside a fixed size object
type numFormat uint8

const (
	fmtNone numFormat = iota
	fmtFlags
	fmtInt16
	fmtInt32
	fmtUint16
	fmtUint32
	fmtFloat32
	fmtFloat64
)

type objectLayout struct {
	size   int
	flags  bool // leading flags octet
	format numFormat
	bits   int // packed objects: bits per point, size is 0
}

type groupVariation struct{ group, variation uint8 }

var layouts = map[groupVariation]objectLayout{
	{1, 1}: {bits: 1},
	{1, 2}: {size: 1, flags: true, format: fmtFlags},
	{2, 1}: {size: 1, flags: true, format: fmtFlags},
	{2, 2}: {size: 7, flags: true, format: fmtFlags},
	{2, 3}: {size: 3, flags: true, format: fmtFlags},
	{3, 1}: {bits: 2},
	{3, 2}: {size: 1, flags: true, format: fmtFlags},
	{4, 1}: {size: 1, flags: true, format: fmtFlags},
	{4, 2}: {size: 7, flags: true, format: fmtFlags},
	{4, 3}: {size: 3, flags: true, format: fmtFlags},
	{10, 1}: {bits: 1},
	{10, 2}: {size: 1, flags: true, format: fmtFlags},
	{11, 1}: {size: 1, flags: true, format: fmtFlags},
	{11, 2}: {size: 7, flags: true, format: fmtFlags},
	{12, 1}: {size: 11},

	{20, 1}: {size: 5, flags: true, format: fmtUint32},
	{20, 2}: {size: 3, flags: true, format: fmtUint16},
	{20, 5}: {size: 4, format: fmtUint32},
	{20, 6}: {size: 2, format: fmtUint16},
	{22, 1}: {size: 5, flags: true, format: fmtUint32},
	{22, 2}: {size: 3, flags: true, format: fmtUint16},
	{22, 5}: {size: 11, flags: true, format: fmtUint32},
	{22, 6}: {size: 9, flags: true, format: fmtUint16},

	{30, 1}: {size: 5, flags: true, format: fmtInt32},
	{30, 2}: {size: 3, flags: true, format: fmtInt16},
	{30, 3}: {size: 4, format: fmtInt32},
	{30, 4}: {size: 2, format: fmtInt16},
	{30, 5}: {size: 5, flags: true, format: fmtFloat32},
	{30, 6}: {size: 9, flags: true, format: fmtFloat64},
	{32, 1}: {size: 5, flags: true, format: fmtInt32},
	{32, 2}: {size: 3, flags: true, format: fmtInt16},
	{32, 3}: {size: 11, flags: true, format: fmtInt32},
	{32, 4}: {size: 9, flags: true, format: fmtInt16},
	{32, 5}: {size: 5, flags: true, format: fmtFloat32},
	{32, 6}: {size: 9, flags: true, format: fmtFloat64},
	{32, 7}: {size: 11, flags: true, format: fmtFloat32},
	{32, 8}: {size: 15, flags: true, format: fmtFloat64},

	{40, 1}: {size: 5, flags: true, format: fmtInt32},
	{40, 2}: {size: 3, flags: true, format: fmtInt16},
	{40, 3}: {size: 5, flags: true, format: fmtFloat32},
	{40, 4}: {size: 9, flags: true, format: fmtFloat64},
	{41, 1}: {size: 5},
	{41, 2}: {size: 3},
	{41, 3}: {size: 5},
	{41, 4}: {size: 9},
	{42, 1}: {size: 5, flags: true, format: fmtInt32},
	{42, 2}: {size: 3, flags: true, format: fmtInt16},
	{42, 3}: {size: 11, flags: true, format: fmtInt32},
	{42, 4}: {size: 9, flags: true, format: fmtInt16},
	{42, 5}: {size: 5, flags: true, format: fmtFloat32},
	{42, 6}: {size: 9, flags: true, format: fmtFloat64},
	{42, 7}: {size: 11, flags: true, format: fmtFloat32},
	{42, 8}: {size: 15, flags: true, format: fmtFloat64},

	{50, 1}: {size: 6},
	{51, 1}: {size: 6},
	{51, 2}: {size: 6},
	{52, 1}: {size: 2},
	{52, 2}: {size: 2},
}

// ObjectSize returns the fixed size of one object, 0 for packed or unknown
// objects
func ObjectSize(group, variation uint8) int {
	return layouts[groupVariation{group, variation}].size
}

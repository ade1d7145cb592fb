// Package point translates between the point records a DNP3 master reports
// and typed tree values.
package point

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"avaneesh/dnp3-bridge/pkg/app"
	"avaneesh/dnp3-bridge/pkg/tree"
)

// ErrDecode is returned when a raw value does not parse for its category
var ErrDecode = errors.New("point decode failed")

// Category is one of the six point types the bridge publishes
type Category uint8

const (
	BinaryInput Category = iota
	DoubleBitInput
	AnalogInput
	CounterInput
	BinaryOutput
	AnalogOutput
)

// Categories lists every category in display order
var Categories = []Category{BinaryInput, DoubleBitInput, AnalogInput, CounterInput, BinaryOutput, AnalogOutput}

// DoubleBitStates are the enumerated states of a double-bit input
var DoubleBitStates = []string{"Intermediate", "Off", "On", "Indeterminate"}

var displayNames = [...]string{
	BinaryInput:    "Binary Input",
	DoubleBitInput: "Double Input",
	AnalogInput:    "Analog Input",
	CounterInput:   "Counter Input",
	BinaryOutput:   "Control Output",
	AnalogOutput:   "Analog Output",
}

// groupCodes maps the master's BCD static group code to a category
var groupCodes = map[uint8]Category{
	0x00: BinaryInput,
	0x01: BinaryInput,
	0x03: DoubleBitInput,
	0x10: BinaryOutput,
	0x20: CounterInput,
	0x30: AnalogInput,
	0x40: AnalogOutput,
}

// CategoryForGroupCode looks up the category of a group code. Unknown codes
// report false and the record is dropped.
func CategoryForGroupCode(code uint8) (Category, bool) {
	c, ok := groupCodes[code]
	return c, ok
}

// DisplayName returns the label used in point names
func (c Category) DisplayName() string {
	if int(c) < len(displayNames) {
		return displayNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// FolderName returns the name of the node grouping the category's points
func (c Category) FolderName() string {
	return c.DisplayName() + "s"
}

func (c Category) String() string {
	return c.DisplayName()
}

// Writable reports whether writes to the category are forwarded to the device
func (c Category) Writable() bool {
	return c == BinaryOutput || c == AnalogOutput
}

// ValueType returns the tree type of the category's point nodes
func (c Category) ValueType() tree.ValueType {
	switch c {
	case BinaryInput, BinaryOutput:
		return tree.TypeBool
	case DoubleBitInput:
		return tree.EnumType(DoubleBitStates...)
	}
	return tree.TypeNumber
}

// Decode parses the string a master reports for a point
func Decode(c Category, raw string) (tree.Value, error) {
	switch c {
	case BinaryInput, BinaryOutput:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return tree.Null(), fmt.Errorf("%w: %s %q is not a bool", ErrDecode, c, raw)
		}
		return tree.Bool(b), nil
	case DoubleBitInput:
		for _, s := range DoubleBitStates {
			if s == raw {
				return tree.String(raw), nil
			}
		}
		return tree.Null(), fmt.Errorf("%w: %s %q is not a double-bit state", ErrDecode, c, raw)
	case AnalogInput, CounterInput, AnalogOutput:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return tree.Null(), fmt.Errorf("%w: %s %q is not a number", ErrDecode, c, raw)
		}
		return tree.Number(f), nil
	}
	return tree.Null(), fmt.Errorf("%w: unknown category %d", ErrDecode, uint8(c))
}

// Name returns the node name of a point, "<DisplayName> <index>"
func Name(c Category, index uint32) string {
	return c.DisplayName() + " " + strconv.FormatUint(uint64(index), 10)
}

// ParseName inverts Name
func ParseName(name string) (Category, uint32, bool) {
	for _, c := range Categories {
		prefix := c.DisplayName() + " "
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		index, err := strconv.ParseUint(name[len(prefix):], 10, 32)
		if err != nil {
			return 0, 0, false
		}
		return c, uint32(index), true
	}
	return 0, 0, false
}

// Raw is one point record as a master reports it
type Raw struct {
	Group uint8 // BCD static group code
	Index uint32
	Value string
}

// Record is a translated point
type Record struct {
	Category Category
	Index    uint32
	Value    tree.Value
}

// Translate decodes a raw record. ok is false for unknown group codes; err
// wraps ErrDecode when the value does not parse.
func Translate(r Raw) (rec Record, ok bool, err error) {
	c, ok := CategoryForGroupCode(r.Group)
	if !ok {
		return Record{}, false, nil
	}
	v, err := Decode(c, r.Value)
	if err != nil {
		return Record{}, true, err
	}
	return Record{Category: c, Index: r.Index, Value: v}, true, nil
}

// Command is a direct operate for one output point
type Command struct {
	Category Category
	Index    uint32
	CROB     app.CROB         // BinaryOutput
	Analog   app.AnalogOutput // AnalogOutput
}

// Encode builds the direct operate for a write. Only writable categories
// may be encoded; anything else panics.
func Encode(c Category, index uint32, v tree.Value) Command {
	switch c {
	case BinaryOutput:
		code := app.ControlCodeLatchOff
		if v.AsBool() {
			code = app.ControlCodeLatchOn
		}
		return Command{Category: c, Index: index, CROB: app.NewCROB(code, 0, 0)}
	case AnalogOutput:
		n := v.AsNumber()
		if float64(float32(n)) == n {
			return Command{Category: c, Index: index, Analog: app.NewAnalogOutputFloat(float32(n))}
		}
		// not exact in single precision
		return Command{Category: c, Index: index, Analog: app.NewAnalogOutputDouble(n)}
	}
	panic(fmt.Sprintf("point: encode called for non-writable category %s", c))
}

func (cmd Command) String() string {
	if cmd.Category == BinaryOutput {
		return fmt.Sprintf("%s: %s", Name(cmd.Category, cmd.Index), cmd.CROB)
	}
	return fmt.Sprintf("%s: %g", Name(cmd.Category, cmd.Index), cmd.Analog.Value)
}

package app

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidObjectHeader = errors.New("invalid object header")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrUnknownObject       = errors.New("unknown object")
)

// Parser walks object headers and data of an APDU
type Parser struct {
	data   []byte
	offset int
}

// NewParser creates a new parser for object data
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// HasMore returns true if there is more data to parse
func (p *Parser) HasMore() bool {
	return p.offset < len(p.data)
}

// Remaining returns the number of bytes remaining
func (p *Parser) Remaining() int {
	return len(p.data) - p.offset
}

// ReadObjectHeader reads an object header and its range field
func (p *Parser) ReadObjectHeader() (*ObjectHeader, error) {
	if p.Remaining() < 3 {
		return nil, ErrInsufficientData
	}
	h := &ObjectHeader{
		Group:     p.data[p.offset],
		Variation: p.data[p.offset+1],
		Qualifier: QualifierCode(p.data[p.offset+2]),
	}
	p.offset += 3

	if h.Qualifier.PrefixSize() < 0 {
		return nil, fmt.Errorf("%w: unsupported qualifier 0x%02X", ErrInvalidObjectHeader, uint8(h.Qualifier))
	}

	switch h.Qualifier.RangeSpec() {
	case 0x00, 0x01, 0x02:
		width := 1 << h.Qualifier.RangeSpec()
		start, err := p.ReadUint(width)
		if err != nil {
			return nil, err
		}
		stop, err := p.ReadUint(width)
		if err != nil {
			return nil, err
		}
		h.Range = StartStopRange{Start: start, Stop: stop}
	case 0x06:
		h.Range = NoRange{}
	case 0x07, 0x08, 0x09:
		count, err := p.ReadUint(1 << (h.Qualifier.RangeSpec() - 0x07))
		if err != nil {
			return nil, err
		}
		h.Range = CountRange{Count: count}
	default:
		return nil, fmt.Errorf("%w: unsupported qualifier 0x%02X", ErrInvalidObjectHeader, uint8(h.Qualifier))
	}
	return h, nil
}

// ReadUint reads a little-endian unsigned integer of 1, 2 or 4 octets
func (p *Parser) ReadUint(width int) (uint32, error) {
	b, err := p.ReadBytes(width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint32(b[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return binary.LittleEndian.Uint32(b), nil
	}
	return 0, fmt.Errorf("unsupported integer width %d", width)
}

// ReadBytes reads n bytes from the parser
func (p *Parser) ReadBytes(n int) ([]byte, error) {
	if n < 0 || p.Remaining() < n {
		return nil, ErrInsufficientData
	}
	data := p.data[p.offset : p.offset+n]
	p.offset += n
	return data, nil
}

// Skip skips n bytes
func (p *Parser) Skip(n int) error {
	_, err := p.ReadBytes(n)
	return err
}

// object is one fixed size object with its resolved point index
type object struct {
	index uint32
	data  []byte
}

// readObjects reads the objects following h. Packed objects are returned as
// one object holding the packed octets with the start index.
func (p *Parser) readObjects(h *ObjectHeader) ([]object, error) {
	count := GetCount(h.Range)
	if count == 0 {
		return nil, nil
	}

	layout, known := layouts[groupVariation{h.Group, h.Variation}]
	if !known {
		return nil, fmt.Errorf("%w: g%dv%d", ErrUnknownObject, h.Group, h.Variation)
	}

	if layout.bits > 0 {
		r, ok := h.Range.(StartStopRange)
		if !ok {
			return nil, fmt.Errorf("%w: packed g%dv%d without start-stop range", ErrInvalidObjectHeader, h.Group, h.Variation)
		}
		n := (uint64(count)*uint64(layout.bits) + 7) / 8
		if n > uint64(p.Remaining()) {
			return nil, fmt.Errorf("%w: %d packed g%dv%d objects", ErrInsufficientData, count, h.Group, h.Variation)
		}
		data, err := p.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		return []object{{index: r.Start, data: data}}, nil
	}

	var start uint32
	if r, ok := h.Range.(StartStopRange); ok {
		start = r.Start
	}
	prefix := h.Qualifier.PrefixSize()
	// the count comes from the device; never size a buffer the data cannot fill
	if uint64(count)*uint64(prefix+layout.size) > uint64(p.Remaining()) {
		return nil, fmt.Errorf("%w: %d g%dv%d objects", ErrInsufficientData, count, h.Group, h.Variation)
	}
	objects := make([]object, 0, count)
	for i := uint32(0); i < count; i++ {
		index := start + i
		if prefix > 0 {
			v, err := p.ReadUint(prefix)
			if err != nil {
				return nil, err
			}
			index = v
		}
		data, err := p.ReadBytes(layout.size)
		if err != nil {
			return nil, err
		}
		objects = append(objects, object{index: index, data: data})
	}
	return objects, nil
}

package app

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Control codes for CROB
const (
	ControlCodeNUL      uint8 = 0x00
	ControlCodePulseOn  uint8 = 0x01
	ControlCodePulseOff uint8 = 0x02
	ControlCodeLatchOn  uint8 = 0x03
	ControlCodeLatchOff uint8 = 0x04
	ControlCodeCloseOn  uint8 = 0x41
	ControlCodeTripOff  uint8 = 0x81
)

// Control status codes returned in command echoes
const (
	ControlStatusSuccess       uint8 = 0
	ControlStatusTimeout       uint8 = 1
	ControlStatusNoSelect      uint8 = 2
	ControlStatusFormatError   uint8 = 3
	ControlStatusNotSupported  uint8 = 4
	ControlStatusAlreadyActive uint8 = 5
	ControlStatusHardwareError uint8 = 6
	ControlStatusLocal         uint8 = 7
	ControlStatusTooManyOps    uint8 = 8
	ControlStatusNotAuthorized uint8 = 9
)

var controlStatusNames = [...]string{
	"Success", "Timeout", "No SELECT", "Format Error", "Not Supported",
	"Already Active", "Hardware Error", "Local Mode", "Too Many Operations", "Not Authorized",
}

// ControlStatusString returns a human-readable status message
func ControlStatusString(status uint8) string {
	if int(status) < len(controlStatusNames) {
		return controlStatusNames[status]
	}
	return fmt.Sprintf("Unknown (%d)", status)
}

// CROB represents a Control Relay Output Block (Group 12, Var 1)
type CROB struct {
	ControlCode uint8
	Count       uint8
	OnTime      uint32 // ms
	OffTime     uint32 // ms
	Status      uint8
}

// NewCROB creates a CROB executed once
func NewCROB(code uint8, onTime, offTime uint32) CROB {
	return CROB{ControlCode: code, Count: 1, OnTime: onTime, OffTime: offTime}
}

// Serialize converts CROB to wire format (11 bytes)
func (c CROB) Serialize() []byte {
	buf := make([]byte, 11)
	buf[0] = c.ControlCode
	buf[1] = c.Count
	binary.LittleEndian.PutUint32(buf[2:], c.OnTime)
	binary.LittleEndian.PutUint32(buf[6:], c.OffTime)
	buf[10] = c.Status
	return buf
}

// ParseCROB parses CROB from wire format
func ParseCROB(data []byte) (CROB, error) {
	if len(data) < 11 {
		return CROB{}, fmt.Errorf("CROB data too short: %d bytes", len(data))
	}
	return CROB{
		ControlCode: data[0],
		Count:       data[1],
		OnTime:      binary.LittleEndian.Uint32(data[2:]),
		OffTime:     binary.LittleEndian.Uint32(data[6:]),
		Status:      data[10],
	}, nil
}

func (c CROB) String() string {
	return fmt.Sprintf("CROB{Code=0x%02X, Count=%d, OnTime=%dms, OffTime=%dms, Status=%s}",
		c.ControlCode, c.Count, c.OnTime, c.OffTime, ControlStatusString(c.Status))
}

// AnalogOutput is an analog output command (Group 41). Variation 1 carries
// an int32, variation 3 a float32 and variation 4 a float64.
type AnalogOutput struct {
	Variation uint8
	Value     float64
	Status    uint8
}

// NewAnalogOutputFloat creates a g41v3 command
func NewAnalogOutputFloat(v float32) AnalogOutput {
	return AnalogOutput{Variation: AnalogOutputCommandFloat, Value: float64(v)}
}

// NewAnalogOutputDouble creates a g41v4 command
func NewAnalogOutputDouble(v float64) AnalogOutput {
	return AnalogOutput{Variation: AnalogOutputCommandDouble, Value: v}
}

// NewAnalogOutputInt32 creates a g41v1 command
func NewAnalogOutputInt32(v int32) AnalogOutput {
	return AnalogOutput{Variation: AnalogOutputCommand32Bit, Value: float64(v)}
}

// Serialize converts the command to wire format (5 bytes, 9 for g41v4)
func (a AnalogOutput) Serialize() []byte {
	if a.Variation == AnalogOutputCommandDouble {
		buf := make([]byte, 9)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(a.Value))
		buf[8] = a.Status
		return buf
	}
	buf := make([]byte, 5)
	if a.Variation == AnalogOutputCommand32Bit {
		binary.LittleEndian.PutUint32(buf, uint32(int32(a.Value)))
	} else {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(a.Value)))
	}
	buf[4] = a.Status
	return buf
}

// ParseAnalogOutput parses a g41v1, g41v3 or g41v4 object
func ParseAnalogOutput(variation uint8, data []byte) (AnalogOutput, error) {
	if variation == AnalogOutputCommandDouble {
		if len(data) < 9 {
			return AnalogOutput{}, fmt.Errorf("analog output data too short: %d bytes", len(data))
		}
		return AnalogOutput{
			Variation: variation,
			Value:     math.Float64frombits(binary.LittleEndian.Uint64(data)),
			Status:    data[8],
		}, nil
	}
	if len(data) < 5 {
		return AnalogOutput{}, fmt.Errorf("analog output data too short: %d bytes", len(data))
	}
	raw := binary.LittleEndian.Uint32(data)
	ao := AnalogOutput{Variation: variation, Status: data[4]}
	switch variation {
	case AnalogOutputCommand32Bit:
		ao.Value = float64(int32(raw))
	case AnalogOutputCommandFloat:
		ao.Value = float64(math.Float32frombits(raw))
	default:
		return AnalogOutput{}, fmt.Errorf("unsupported analog output variation %d", variation)
	}
	return ao, nil
}

// ControlEcho is a command object found in a control response
type ControlEcho struct {
	Group  uint8
	Index  uint32
	Status uint8
}

// DecodeControlEchoes extracts the status of every g12v1 and g41 object in a
// direct operate response
func DecodeControlEchoes(objects []byte) ([]ControlEcho, error) {
	p := NewParser(objects)
	var out []ControlEcho
	for p.HasMore() {
		h, err := p.ReadObjectHeader()
		if err != nil {
			return out, err
		}
		objs, err := p.readObjects(h)
		if err != nil {
			return out, err
		}
		if h.Group != GroupBinaryOutputCommand && h.Group != GroupAnalogOutputCommand {
			continue
		}
		for _, o := range objs {
			out = append(out, ControlEcho{Group: h.Group, Index: o.index, Status: o.data[len(o.data)-1]})
		}
	}
	return out, nil
}

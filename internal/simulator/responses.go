package simulator

import (
	"avaneesh/dnp3-bridge/pkg/app"
)

type encoding struct {
	group, variation uint8
}

var staticEncodings = map[PointType]encoding{
	PointTypeBinary:       {app.GroupBinaryInput, app.BinaryInputWithFlags},
	PointTypeDoubleBit:    {app.GroupDoubleBitBinaryInput, app.DoubleBitWithFlags},
	PointTypeBinaryOutput: {app.GroupBinaryOutput, app.BinaryOutputWithFlags},
	PointTypeCounter:      {app.GroupCounter, app.Counter32BitWithFlag},
	PointTypeAnalog:       {app.GroupAnalogInput, app.AnalogInputFloat},
	PointTypeAnalogOutput: {app.GroupAnalogOutputStatus, app.AnalogOutputStatusFloat},
}

var eventEncodings = map[PointType]encoding{
	PointTypeBinary:       {app.GroupBinaryInputEvent, 1},
	PointTypeDoubleBit:    {app.GroupDoubleBitBinaryEvent, 1},
	PointTypeBinaryOutput: {app.GroupBinaryOutputEvent, 1},
	PointTypeCounter:      {app.GroupCounterEvent, 1},
	PointTypeAnalog:       {app.GroupAnalogInputEvent, 5},
	PointTypeAnalogOutput: {app.GroupAnalogOutputEvent, 5},
}

// responseOrder is the order of static objects in a Class 0 response
var responseOrder = []PointType{
	PointTypeBinary, PointTypeDoubleBit, PointTypeBinaryOutput,
	PointTypeCounter, PointTypeAnalog, PointTypeAnalogOutput,
}

func addValue(b *app.ObjectBuilder, t PointType, flags uint8, value float64) {
	switch t {
	case PointTypeBinary, PointTypeBinaryOutput:
		if value != 0 {
			flags |= app.FlagState
		}
		b.AddByte(flags)
	case PointTypeDoubleBit:
		b.AddByte(flags | uint8(value)&0x03<<6)
	case PointTypeCounter:
		b.AddByte(flags)
		b.AddUint32(uint32(value))
	case PointTypeAnalog, PointTypeAnalogOutput:
		b.AddByte(flags)
		b.AddFloat32(float32(value))
	}
}

// staticChunks encodes every point as one header per run of consecutive
// indices
func (db *Database) staticChunks() [][]byte {
	var chunks [][]byte
	for _, t := range responseOrder {
		enc := staticEncodings[t]
		indices, table := db.snapshot(t)
		for start := 0; start < len(indices); {
			end := start
			for end+1 < len(indices) && indices[end+1] == indices[end]+1 {
				end++
			}
			b := app.NewObjectBuilder()
			b.AddHeader(enc.group, enc.variation, app.Qualifier16BitStartStop,
				app.StartStopRange{Start: uint32(indices[start]), Stop: uint32(indices[end])})
			for _, i := range indices[start : end+1] {
				addValue(b, t, table[i].flags, table[i].value)
			}
			chunks = append(chunks, b.Build())
			start = end + 1
		}
	}
	return chunks
}

// eventChunks encodes events as index-prefixed objects, one header each
func eventChunks(events []Event) [][]byte {
	chunks := make([][]byte, 0, len(events))
	for _, e := range events {
		enc := eventEncodings[e.Type]
		b := app.NewObjectBuilder()
		b.AddHeader(enc.group, enc.variation, app.Qualifier16BitIndexPrefixed, app.CountRange{Count: 1})
		b.AddUint16(e.Index)
		addValue(b, e.Type, app.FlagOnline, e.Value)
		chunks = append(chunks, b.Build())
	}
	return chunks
}

// fragment packs chunks into fragments of at most size octets. A chunk
// larger than size gets a fragment of its own.
func fragment(chunks [][]byte, size int) [][]byte {
	if size <= 0 {
		var all []byte
		for _, c := range chunks {
			all = append(all, c...)
		}
		return [][]byte{all}
	}
	var out [][]byte
	var cur []byte
	for _, c := range chunks {
		if len(cur) > 0 && len(cur)+len(c) > size {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, c...)
	}
	return append(out, cur)
}

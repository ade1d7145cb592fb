// Package transport implements the DNP3 transport function that splits
// application fragments into link frame sized segments and reassembles them.
package transport

import (
	"bytes"
	"errors"
)

// Transport layer constants
const (
	MaxSegmentSize    = 249 // one link frame of user data minus the header
	HeaderSize        = 1
	MaxReassemblySize = 2048
)

// Transport header bits
const (
	TransportFIN     uint8 = 0x80
	TransportFIR     uint8 = 0x40
	TransportSeqMask uint8 = 0x3F
)

var (
	ErrEmptySegment   = errors.New("empty transport segment")
	ErrBufferOverflow = errors.New("reassembly buffer overflow")
)

// Segment represents a transport layer segment
type Segment struct {
	FIN  bool
	FIR  bool
	Seq  uint8
	Data []byte
}

// Header builds the transport header byte
func (s Segment) Header() uint8 {
	h := s.Seq & TransportSeqMask
	if s.FIR {
		h |= TransportFIR
	}
	if s.FIN {
		h |= TransportFIN
	}
	return h
}

// Serialize converts the segment to wire format
func (s Segment) Serialize() []byte {
	out := make([]byte, HeaderSize+len(s.Data))
	out[0] = s.Header()
	copy(out[1:], s.Data)
	return out
}

// ParseSegment splits a link frame payload into its header fields and data
func ParseSegment(data []byte) (Segment, error) {
	if len(data) < HeaderSize {
		return Segment{}, ErrEmptySegment
	}
	h := data[0]
	return Segment{
		FIR:  h&TransportFIR != 0,
		FIN:  h&TransportFIN != 0,
		Seq:  h & TransportSeqMask,
		Data: data[1:],
	}, nil
}

// Layer is one direction pair of transport state: a transmit sequence and
// a receive reassembly buffer. It is not safe for concurrent use.
type Layer struct {
	txSeq uint8

	rx          bytes.Buffer
	expectedSeq uint8
	inProgress  bool
}

// NewLayer creates a new transport layer
func NewLayer() *Layer {
	return &Layer{}
}

// Send segments an APDU into link frame payloads
func (l *Layer) Send(apdu []byte) [][]byte {
	if len(apdu) == 0 {
		return nil
	}
	var out [][]byte
	for offset := 0; offset < len(apdu); offset += MaxSegmentSize {
		end := min(offset+MaxSegmentSize, len(apdu))
		seg := Segment{
			FIR:  offset == 0,
			FIN:  end == len(apdu),
			Seq:  l.txSeq,
			Data: apdu[offset:end],
		}
		out = append(out, seg.Serialize())
		l.txSeq = (l.txSeq + 1) & TransportSeqMask
	}
	return out
}

// Receive feeds one link frame payload into reassembly. It returns the
// complete APDU once a FIN segment closes an in-sequence run, nil otherwise.
// Segments that arrive out of sequence or without a preceding FIR are
// discarded until the next FIR.
func (l *Layer) Receive(data []byte) ([]byte, error) {
	seg, err := ParseSegment(data)
	if err != nil {
		return nil, err
	}

	if seg.FIR {
		l.rx.Reset()
		l.inProgress = true
		l.expectedSeq = seg.Seq
	} else if !l.inProgress {
		return nil, nil
	}

	if seg.Seq != l.expectedSeq {
		l.resetRx()
		return nil, nil
	}
	if l.rx.Len()+len(seg.Data) > MaxReassemblySize {
		l.resetRx()
		return nil, ErrBufferOverflow
	}

	l.rx.Write(seg.Data)
	l.expectedSeq = (l.expectedSeq + 1) & TransportSeqMask

	if !seg.FIN {
		return nil, nil
	}
	apdu := bytes.Clone(l.rx.Bytes())
	l.resetRx()
	return apdu, nil
}

// InProgress reports whether a multi-segment APDU is being reassembled
func (l *Layer) InProgress() bool {
	return l.inProgress
}

// Reset clears both sequence state and any partial reassembly
func (l *Layer) Reset() {
	l.resetRx()
	l.txSeq = 0
}

func (l *Layer) resetRx() {
	l.rx.Reset()
	l.inProgress = false
	l.expectedSeq = 0
}

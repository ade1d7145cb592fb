package link

import (
	"fmt"
)

// IsPrimary marks frames sent by the initiating station
type IsPrimary bool

const (
	PrimaryFrame   IsPrimary = true
	SecondaryFrame IsPrimary = false
)

// MinFrameSize is the size of a frame without user data
const MinFrameSize = HeaderSize

// Frame represents a DNP3 link layer frame
type Frame struct {
	Control     uint8
	Destination uint16
	Source      uint16

	// Derived from Control
	Dir          Direction
	IsPrimary    IsPrimary
	FCB          bool
	FCV          bool // DFC on secondary frames
	FunctionCode FunctionCode

	UserData []byte // without block CRCs
}

// NewFrame creates a new link frame
func NewFrame(dir Direction, isPrimary IsPrimary, fc FunctionCode, dst, src uint16, data []byte) *Frame {
	f := &Frame{
		Dir:          dir,
		IsPrimary:    isPrimary,
		FunctionCode: fc,
		Destination:  dst,
		Source:       src,
		UserData:     data,
	}
	f.buildControl()
	return f
}

// NewAck builds the secondary ACK answering a confirmed primary frame
func NewAck(req *Frame) *Frame {
	return NewFrame(!req.Dir, SecondaryFrame, FuncAck, req.Source, req.Destination, nil)
}

// NewLinkStatus builds the secondary LINK STATUS answering a REQUEST LINK STATUS
func NewLinkStatus(req *Frame) *Frame {
	return NewFrame(!req.Dir, SecondaryFrame, FuncLinkStatusResponse, req.Source, req.Destination, nil)
}

func (f *Frame) buildControl() {
	f.Control = uint8(f.FunctionCode) & CtrlFuncMask
	if f.Dir == DirectionMasterToOutstation {
		f.Control |= CtrlDIR
	}
	if f.IsPrimary == PrimaryFrame {
		f.Control |= CtrlPRM
		if f.FCV {
			f.Control |= CtrlFCV
			if f.FCB {
				f.Control |= CtrlFCB
			}
		}
	}
}

func (f *Frame) parseControl() {
	f.FunctionCode = FunctionCode(f.Control & CtrlFuncMask)
	f.Dir = Direction(f.Control&CtrlDIR != 0)
	f.IsPrimary = IsPrimary(f.Control&CtrlPRM != 0)
	f.FCV = f.Control&CtrlFCV != 0
	if f.IsPrimary == PrimaryFrame {
		f.FCB = f.Control&CtrlFCB != 0
	}
}

// SetFCB sets the Frame Count Bit and marks it valid
func (f *Frame) SetFCB(fcb bool) {
	f.FCB = fcb
	f.FCV = true
	f.buildControl()
}

// Serialize converts the frame to wire format with CRCs
func (f *Frame) Serialize() ([]byte, error) {
	dataLen := len(f.UserData)
	if dataLen > MaxDataSize {
		return nil, ErrFrameTooLong
	}

	out := make([]byte, 8, HeaderSize+framedDataSize(dataLen))
	out[0] = StartByte1
	out[1] = StartByte2
	out[2] = byte(dataLen + 5)
	out[3] = f.Control
	out[4] = byte(f.Destination)
	out[5] = byte(f.Destination >> 8)
	out[6] = byte(f.Source)
	out[7] = byte(f.Source >> 8)

	crc := CalculateCRC(out)
	out = append(out, byte(crc), byte(crc>>8))
	return append(out, AddCRCs(f.UserData)...), nil
}

// FrameSize returns the total wire size announced by a frame header.
// header must hold at least the first three octets.
func FrameSize(header []byte) (int, error) {
	if len(header) < 3 {
		return 0, ErrFrameTooShort
	}
	if header[0] != StartByte1 || header[1] != StartByte2 {
		return 0, ErrInvalidStartBytes
	}
	length := int(header[2])
	if length < 5 {
		return 0, ErrInvalidLength
	}
	return HeaderSize + framedDataSize(length-5), nil
}

// Parse parses one frame from the front of data and returns it with the
// number of octets it occupied
func Parse(data []byte) (*Frame, int, error) {
	if len(data) < MinFrameSize {
		return nil, len(data), ErrFrameTooShort
	}
	size, err := FrameSize(data)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < size {
		return nil, 0, ErrFrameTooShort
	}
	if !VerifyCRC(data[:HeaderSize]) {
		return nil, 0, ErrInvalidCRC
	}

	f := &Frame{
		Control:     data[3],
		Destination: uint16(data[4]) | uint16(data[5])<<8,
		Source:      uint16(data[6]) | uint16(data[7])<<8,
	}
	f.parseControl()

	if size > HeaderSize {
		userData, err := RemoveCRCs(data[HeaderSize:size])
		if err != nil {
			return nil, 0, err
		}
		f.UserData = userData
	}
	return f, size, nil
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	fcb := ""
	if f.IsPrimary == PrimaryFrame && f.FCV {
		fcb = fmt.Sprintf("FCB=%t, ", f.FCB)
	}
	return fmt.Sprintf("Frame{Dir=%s, Func=%d, Dst=%d, Src=%d, %sDataLen=%d}",
		f.Dir, f.FunctionCode, f.Destination, f.Source, fcb, len(f.UserData))
}

package link

import "errors"

// Start bytes
const (
	StartByte1 uint8 = 0x05
	StartByte2 uint8 = 0x64
)

// Frame sizes
const (
	HeaderSize   = 10  // start bytes, length, control, addresses and header CRC
	MaxDataSize  = 250 // user data octets in one frame
	BlockSize    = 16  // user data octets covered by one CRC
	MaxFrameSize = HeaderSize + MaxDataSize + 2*((MaxDataSize+BlockSize-1)/BlockSize)
)

// FunctionCode is the low nibble of the control byte
type FunctionCode uint8

// Primary (PRM=1) function codes
const (
	FuncResetLink           FunctionCode = 0x00
	FuncTestLinkStates      FunctionCode = 0x02
	FuncUserDataConfirmed   FunctionCode = 0x03
	FuncUserDataUnconfirmed FunctionCode = 0x04
	FuncRequestLinkStatus   FunctionCode = 0x09
)

// Secondary (PRM=0) function codes
const (
	FuncAck                FunctionCode = 0x00
	FuncNack               FunctionCode = 0x01
	FuncLinkStatusResponse FunctionCode = 0x0B
	FuncLinkNotSupported   FunctionCode = 0x0F
)

// Control field bits
const (
	CtrlDIR      uint8 = 0x80
	CtrlPRM      uint8 = 0x40
	CtrlFCB      uint8 = 0x20
	CtrlFCV      uint8 = 0x10
	CtrlFuncMask uint8 = 0x0F
)

// Errors
var (
	ErrInvalidStartBytes = errors.New("invalid start bytes")
	ErrInvalidLength     = errors.New("invalid frame length")
	ErrInvalidCRC        = errors.New("invalid CRC")
	ErrFrameTooShort     = errors.New("frame too short")
	ErrFrameTooLong      = errors.New("frame too long")
)

// Direction indicates frame direction
type Direction bool

const (
	DirectionMasterToOutstation Direction = true
	DirectionOutstationToMaster Direction = false
)

func (d Direction) String() string {
	if d {
		return "Master->Outstation"
	}
	return "Outstation->Master"
}

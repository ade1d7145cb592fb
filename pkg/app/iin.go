package app

import "fmt"

// IIN holds the two internal indication octets of a response
type IIN struct {
	IIN1 uint8
	IIN2 uint8
}

// IIN1 bits
const (
	IIN1AllStations   uint8 = 0x01
	IIN1Class1Events  uint8 = 0x02
	IIN1Class2Events  uint8 = 0x04
	IIN1Class3Events  uint8 = 0x08
	IIN1NeedTime      uint8 = 0x10
	IIN1LocalControl  uint8 = 0x20
	IIN1DeviceTrouble uint8 = 0x40
	IIN1DeviceRestart uint8 = 0x80
)

// IIN2 bits
const (
	IIN2NoFuncCodeSupport   uint8 = 0x01
	IIN2ObjectUnknown       uint8 = 0x02
	IIN2ParameterError      uint8 = 0x04
	IIN2EventBufferOverflow uint8 = 0x08
	IIN2AlreadyExecuting    uint8 = 0x10
	IIN2ConfigCorrupt       uint8 = 0x20
)

// HasEvents reports whether any class 1, 2 or 3 events are pending
func (i IIN) HasEvents() bool {
	return i.IIN1&(IIN1Class1Events|IIN1Class2Events|IIN1Class3Events) != 0
}

// RequestRejected reports whether the outstation refused the request outright
func (i IIN) RequestRejected() bool {
	return i.IIN2&(IIN2NoFuncCodeSupport|IIN2ObjectUnknown|IIN2ParameterError) != 0
}

func (i IIN) String() string {
	return fmt.Sprintf("[%02X,%02X]", i.IIN1, i.IIN2)
}

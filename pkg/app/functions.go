package app

import "fmt"

// FunctionCode represents DNP3 application function codes
type FunctionCode uint8

// Application function codes used by the bridge
const (
	FuncConfirm             FunctionCode = 0x00
	FuncRead                FunctionCode = 0x01
	FuncWrite               FunctionCode = 0x02
	FuncSelect              FunctionCode = 0x03
	FuncOperate             FunctionCode = 0x04
	FuncDirectOperate       FunctionCode = 0x05
	FuncDirectOperateNoAck  FunctionCode = 0x06
	FuncEnableUnsolicited   FunctionCode = 0x14
	FuncDisableUnsolicited  FunctionCode = 0x15
	FuncResponse            FunctionCode = 0x81
	FuncUnsolicitedResponse FunctionCode = 0x82
)

var functionNames = map[FunctionCode]string{
	FuncConfirm:             "Confirm",
	FuncRead:                "Read",
	FuncWrite:               "Write",
	FuncSelect:              "Select",
	FuncOperate:             "Operate",
	FuncDirectOperate:       "DirectOperate",
	FuncDirectOperateNoAck:  "DirectOperateNoAck",
	FuncEnableUnsolicited:   "EnableUnsolicited",
	FuncDisableUnsolicited:  "DisableUnsolicited",
	FuncResponse:            "Response",
	FuncUnsolicitedResponse: "UnsolicitedResponse",
}

// String returns string representation of function code
func (f FunctionCode) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(f))
}

// IsResponse returns true for codes sent by an outstation
func (f FunctionCode) IsResponse() bool {
	return f == FuncResponse || f == FuncUnsolicitedResponse
}

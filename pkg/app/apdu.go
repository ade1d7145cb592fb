package app

import (
	"fmt"
	"strings"
)

// Application Control Field bits
const (
	AppCtrlFIR     uint8 = 0x80
	AppCtrlFIN     uint8 = 0x40
	AppCtrlCON     uint8 = 0x20
	AppCtrlUNS     uint8 = 0x10
	AppCtrlSeqMask uint8 = 0x0F
)

// APDU represents an Application Protocol Data Unit
type APDU struct {
	FIR      bool
	FIN      bool
	CON      bool
	UNS      bool
	Sequence uint8

	FunctionCode FunctionCode
	IIN          IIN // responses only

	Objects []byte
}

// NewRequestAPDU creates a single fragment request
func NewRequestAPDU(fc FunctionCode, seq uint8, objects []byte) *APDU {
	return &APDU{
		FIR:          true,
		FIN:          true,
		Sequence:     seq & AppCtrlSeqMask,
		FunctionCode: fc,
		Objects:      objects,
	}
}

// NewConfirmAPDU creates the confirm answering a response or unsolicited
// response with the given control fields
func NewConfirmAPDU(seq uint8, unsolicited bool) *APDU {
	a := NewRequestAPDU(FuncConfirm, seq, nil)
	a.UNS = unsolicited
	return a
}

// NewResponseAPDU creates a single fragment solicited response
func NewResponseAPDU(seq uint8, iin IIN, objects []byte) *APDU {
	return &APDU{
		FIR:          true,
		FIN:          true,
		Sequence:     seq & AppCtrlSeqMask,
		FunctionCode: FuncResponse,
		IIN:          iin,
		Objects:      objects,
	}
}

// NewUnsolicitedAPDU creates an unsolicited response requesting confirmation
func NewUnsolicitedAPDU(seq uint8, iin IIN, objects []byte) *APDU {
	a := NewResponseAPDU(seq, iin, objects)
	a.FunctionCode = FuncUnsolicitedResponse
	a.UNS = true
	a.CON = true
	return a
}

// Control returns the application control octet
func (a *APDU) Control() uint8 {
	c := a.Sequence & AppCtrlSeqMask
	if a.FIR {
		c |= AppCtrlFIR
	}
	if a.FIN {
		c |= AppCtrlFIN
	}
	if a.CON {
		c |= AppCtrlCON
	}
	if a.UNS {
		c |= AppCtrlUNS
	}
	return c
}

// Serialize converts APDU to wire format
func (a *APDU) Serialize() []byte {
	out := make([]byte, 0, 4+len(a.Objects))
	out = append(out, a.Control(), uint8(a.FunctionCode))
	if a.FunctionCode.IsResponse() {
		out = append(out, a.IIN.IIN1, a.IIN.IIN2)
	}
	return append(out, a.Objects...)
}

// Parse parses wire format data into an APDU
func Parse(data []byte) (*APDU, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("APDU too short: %d bytes", len(data))
	}

	c := data[0]
	a := &APDU{
		FIR:          c&AppCtrlFIR != 0,
		FIN:          c&AppCtrlFIN != 0,
		CON:          c&AppCtrlCON != 0,
		UNS:          c&AppCtrlUNS != 0,
		Sequence:     c & AppCtrlSeqMask,
		FunctionCode: FunctionCode(data[1]),
	}

	offset := 2
	if a.FunctionCode.IsResponse() {
		if len(data) < 4 {
			return nil, fmt.Errorf("response APDU too short for IIN: %d bytes", len(data))
		}
		a.IIN = IIN{IIN1: data[2], IIN2: data[3]}
		offset = 4
	}
	if offset < len(data) {
		a.Objects = data[offset:]
	}
	return a, nil
}

// String returns string representation of APDU
func (a *APDU) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "APDU{Func=%s, Seq=%d", a.FunctionCode, a.Sequence)
	for _, f := range []struct {
		set  bool
		name string
	}{{a.FIR, "FIR"}, {a.FIN, "FIN"}, {a.CON, "CON"}, {a.UNS, "UNS"}} {
		if f.set {
			b.WriteString(", " + f.name)
		}
	}
	if a.FunctionCode.IsResponse() {
		fmt.Fprintf(&b, ", IIN=%s", a.IIN)
	}
	fmt.Fprintf(&b, ", ObjectsLen=%d}", len(a.Objects))
	return b.String()
}

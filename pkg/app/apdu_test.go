package app

import (
	"bytes"
	"testing"
)

func TestAPDUSerializeParse(t *testing.T) {
	tests := []struct {
		name    string
		apdu    *APDU
		control uint8
	}{
		{
			name:    "class 0 read",
			apdu:    NewRequestAPDU(FuncRead, 5, BuildIntegrityPoll()),
			control: 0xC5,
		},
		{
			name:    "response with IIN",
			apdu:    NewResponseAPDU(3, IIN{IIN1: IIN1Class1Events}, nil),
			control: 0xC3,
		},
		{
			name:    "unsolicited",
			apdu:    NewUnsolicitedAPDU(7, IIN{IIN1: IIN1DeviceRestart}, []byte{0x02, 0x01, 0x17, 0x01, 0x00, 0x81}),
			control: 0xF7,
		},
		{
			name:    "unsolicited confirm",
			apdu:    NewConfirmAPDU(7, true),
			control: 0xD7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.apdu.Serialize()
			if data[0] != tt.control {
				t.Errorf("control = 0x%02X, expected 0x%02X", data[0], tt.control)
			}

			parsed, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if parsed.FunctionCode != tt.apdu.FunctionCode || parsed.Sequence != tt.apdu.Sequence {
				t.Errorf("Parse() = %s, expected %s", parsed, tt.apdu)
			}
			if parsed.FIR != tt.apdu.FIR || parsed.FIN != tt.apdu.FIN || parsed.CON != tt.apdu.CON || parsed.UNS != tt.apdu.UNS {
				t.Errorf("control flags mismatch: got %s, expected %s", parsed, tt.apdu)
			}
			if parsed.IIN != tt.apdu.IIN {
				t.Errorf("IIN = %s, expected %s", parsed.IIN, tt.apdu.IIN)
			}
			if !bytes.Equal(parsed.Objects, tt.apdu.Objects) {
				t.Errorf("Objects = % X, expected % X", parsed.Objects, tt.apdu.Objects)
			}
		})
	}
}

func TestParse_TooShort(t *testing.T) {
	if _, err := Parse([]byte{0xC0}); err == nil {
		t.Error("Expected error for one byte APDU")
	}
	if _, err := Parse([]byte{0xC0, 0x81, 0x00}); err == nil {
		t.Error("Expected error for response without full IIN")
	}
}

func TestIIN(t *testing.T) {
	if !(IIN{IIN1: IIN1Class2Events}).HasEvents() {
		t.Error("Expected class 2 events to be reported")
	}
	if (IIN{IIN1: IIN1DeviceRestart}).HasEvents() {
		t.Error("Restart bit is not an event")
	}
	if !(IIN{IIN2: IIN2ObjectUnknown}).RequestRejected() {
		t.Error("Expected object unknown to reject the request")
	}
}

func TestFunctionCodeString(t *testing.T) {
	if got := FuncDirectOperate.String(); got != "DirectOperate" {
		t.Errorf("String() = %q", got)
	}
	if got := FunctionCode(0x7F).String(); got != "Unknown(0x7F)" {
		t.Errorf("String() = %q", got)
	}
}

package link

import (
	"errors"
	"testing"
)

func TestCalculateCRC_ResetLinkHeader(t *testing.T) {
	// Reset link states, master 1 to outstation 1
	header := []byte{0x05, 0x64, 0x05, 0xC0, 0x01, 0x00, 0x00, 0x04}
	got := CalculateCRC(header)
	if got != 0x21E9 {
		t.Errorf("CalculateCRC() = 0x%04X, expected 0x21E9", got)
	}
	if !VerifyCRC(AppendCRC(header)) {
		t.Error("VerifyCRC rejected AppendCRC output")
	}
}

func TestVerifyCRC_Corrupted(t *testing.T) {
	data := AppendCRC([]byte{0x01, 0x02, 0x03})
	data[1] ^= 0xFF
	if VerifyCRC(data) {
		t.Error("Expected corrupted data to fail verification")
	}
	if VerifyCRC([]byte{0x01}) {
		t.Error("Expected single byte to fail verification")
	}
}

func TestAddRemoveCRCs(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		wireSize int
	}{
		{"empty", 0, 0},
		{"partial block", 5, 7},
		{"one block", 16, 18},
		{"block and a half", 24, 28},
		{"max frame", MaxDataSize, MaxDataSize + 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i * 7)
			}
			wire := AddCRCs(data)
			if len(wire) != tt.wireSize {
				t.Fatalf("AddCRCs() length = %d, expected %d", len(wire), tt.wireSize)
			}
			back, err := RemoveCRCs(wire)
			if err != nil {
				t.Fatalf("RemoveCRCs() error = %v", err)
			}
			if len(back) != len(data) {
				t.Fatalf("RemoveCRCs() length = %d, expected %d", len(back), len(data))
			}
			for i := range data {
				if back[i] != data[i] {
					t.Fatalf("byte %d = 0x%02X, expected 0x%02X", i, back[i], data[i])
				}
			}
		})
	}
}

func TestRemoveCRCs_BadBlock(t *testing.T) {
	wire := AddCRCs(make([]byte, 20))
	wire[17] ^= 0x01
	if _, err := RemoveCRCs(wire); !errors.Is(err, ErrInvalidCRC) {
		t.Errorf("RemoveCRCs() error = %v, expected ErrInvalidCRC", err)
	}
}

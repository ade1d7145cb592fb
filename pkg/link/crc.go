package link

// DNP3 CRC-16: polynomial 0x3D65, processed LSB first (reversed 0xA6BC),
// initial value 0 and final complement. Transmitted little-endian.

var crcTable = func() (table [256]uint16) {
	const poly uint16 = 0xA6BC
	for i := range table {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// CalculateCRC calculates the DNP3 CRC of data
func CalculateCRC(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return ^crc
}

// VerifyCRC reports whether the last two bytes of data are the CRC of the rest
func VerifyCRC(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	n := len(data) - 2
	return CalculateCRC(data[:n]) == uint16(data[n])|uint16(data[n+1])<<8
}

// AppendCRC appends the CRC of data to a copy of data
func AppendCRC(data []byte) []byte {
	out := make([]byte, len(data), len(data)+2)
	copy(out, data)
	crc := CalculateCRC(data)
	return append(out, byte(crc), byte(crc>>8))
}

// AddCRCs splits user data into 16 byte blocks, each followed by its CRC
func AddCRCs(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out := make([]byte, 0, framedDataSize(len(data)))
	for start := 0; start < len(data); start += BlockSize {
		end := min(start+BlockSize, len(data))
		block := data[start:end]
		crc := CalculateCRC(block)
		out = append(out, block...)
		out = append(out, byte(crc), byte(crc>>8))
	}
	return out
}

// RemoveCRCs verifies and strips the block CRCs added by AddCRCs
func RemoveCRCs(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]byte, 0, len(data))
	for pos := 0; pos < len(data); {
		size := min(BlockSize, len(data)-pos-2)
		if size <= 0 {
			return nil, ErrInvalidCRC
		}
		if !VerifyCRC(data[pos : pos+size+2]) {
			return nil, ErrInvalidCRC
		}
		out = append(out, data[pos:pos+size]...)
		pos += size + 2
	}
	return out, nil
}

// framedDataSize is the number of octets n bytes of user data occupy on the wire
func framedDataSize(n int) int {
	if n <= 0 {
		return 0
	}
	return n + 2*((n+BlockSize-1)/BlockSize)
}

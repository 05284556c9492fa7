package lora

import "github.com/sigurn/crc16"

// LoRa payload CRC: polynomial 0x1021, initial value 0, no reflection.
var loraCRCParams = crc16.Params{
	Poly:  0x1021,
	Init:  0x0000,
	Check: 0x31C3,
	Name:  "LoRa",
}

var crcTable = crc16.MakeTable(loraCRCParams)

// CRC calculates the payload CRC-16.
func CRC(in []byte) uint16 {
	return crc16.Checksum(in, crcTable)
}

// CheckCRC reports whether the two bytes trailing payload (LSB first) match
// its CRC.
func CheckCRC(payload []byte, trailer []byte) bool {
	if len(trailer) < 2 {
		return false
	}
	crc := CRC(payload)
	return trailer[0] == byte(crc) && trailer[1] == byte(crc>>8)
}

// AppendCRC appends the CRC of payload to it, LSB first.
func AppendCRC(payload []byte) []byte {
	crc := CRC(payload)
	out := make([]byte, 0, len(payload)+2)
	out = append(out, payload...)
	return append(out, byte(crc), byte(crc>>8))
}

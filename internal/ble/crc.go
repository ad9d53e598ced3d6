package ble

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrOutOfRange is returned when a read would run past the end of a payload.
var ErrOutOfRange = errors.New("buffer access out of range")

// crcPolynomial is 0x18005 with the implicit top bit dropped.
const crcPolynomial = 0x8005

// CRC16 computes a CRC-16 (polynomial 0x8005) over length bytes of data starting at offset.
// Input bytes are bit-reflected before mixing when reflectIn is set, and the
// final register is bit-reflected when reflectOut is set.
func CRC16(data []byte, offset, length int, reflectIn, reflectOut bool, seed, finalXor uint16) (uint16, error) {
	if offset < 0 || length < 0 || offset+length > len(data) {
		return 0, fmt.Errorf("crc16 over [%d:%d] of %d bytes: %w", offset, offset+length, len(data), ErrOutOfRange)
	}

	crc := seed
	for _, b := range data[offset : offset+length] {
		if reflectIn {
			b = bits.Reverse8(b)
		}
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	if reflectOut {
		crc = bits.Reverse16(crc)
	}
	return crc ^ finalXor, nil
}

// ModbusCRC16 is CRC16 with the CRC-16/MODBUS parameters the sensors use.
func ModbusCRC16(data []byte, offset, length int) (uint16, error) {
	return CRC16(data, offset, length, true, true, 0xFFFF, 0x0000)
}

package utils

import "strings"

const hexDigits = "0123456789abcdef"

// Hex4 formats a uint16 as four lowercase hex digits, e.g. a CRC "4b37".
func Hex4(v uint16) string {
	return string([]byte{
		hexDigits[(v>>12)&0xF],
		hexDigits[(v>>8)&0xF],
		hexDigits[(v>>4)&0xF],
		hexDigits[v&0xF],
	})
}

// BytesToHex renders b as contiguous lowercase hex, the form used in payload dumps.
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexDigits[x>>4], hexDigits[x&0x0F])
	}
	return string(out)
}

// NormalizeAddress lowercases a device address and converts dash separators
// to colons, so "AA-BB-CC-DD-EE-FF" and "aa:bb:cc:dd:ee:ff" compare equal.
func NormalizeAddress(addr string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(addr)), "-", ":")
}

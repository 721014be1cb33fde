package curf

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// NormalizeHex strips whitespace and an optional 0x prefix and uppercases the result.
func NormalizeHex(s string) string {
	s = strings.Join(strings.Fields(s), "")
	if len(s) > 1 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strings.ToUpper(s)
}

// ParseHex decodes a hex payload such as "22F190" or "22 F1 90".
func ParseHex(s string) ([]byte, error) {
	n := NormalizeHex(s)
	if len(n)%2 != 0 {
		return nil, &ConfigurationError{Field: "payload", Value: s, Reason: "odd number of hex digits"}
	}
	b, err := hex.DecodeString(n)
	if err != nil {
		return nil, &ConfigurationError{Field: "payload", Value: s, Reason: "not a hex string", Err: err}
	}
	return b, nil
}

// ParseIdentifier parses a hex arbitration ID with or without 0x prefix.
func ParseIdentifier(s string) (uint32, error) {
	n := NormalizeHex(s)
	if n == "" {
		return 0, &ConfigurationError{Field: "identifier", Value: s, Reason: "empty"}
	}
	id, err := strconv.ParseUint(n, 16, 32)
	if err != nil || id > 0x1FFFFFFF {
		return 0, &ConfigurationError{Field: "identifier", Value: s, Reason: "not a valid CAN identifier", Err: err}
	}
	return uint32(id), nil
}

// FormatIdentifier renders id as uppercase hex without leading zeros, the form used when
// comparing identifiers.
func FormatIdentifier(id uint32) string {
	return strings.ToUpper(strconv.FormatUint(uint64(id), 16))
}

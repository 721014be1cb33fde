// Package dtc decodes diagnostic trouble codes and their statusOfDTC byte.
package dtc

// DecodeCode decodes the two high bytes of a DTC (A,B) into a string like "P0122".
// Returns "" if both bytes are zero.
//
//	A7..A6  system letter P, C, B, U
//	A5..A4  second digit 0..3
//	A3..A0  third digit
//	B7..B4  fourth digit
//	B3..B0  fifth digit
//
// E1 03 -> 1110 0001 0000 0011 -> U2103
func DecodeCode(a, b byte) string {
	if a == 0 && b == 0 {
		return ""
	}
	const hexDigits = "0123456789ABCDEF"
	systemChars := [4]byte{'P', 'C', 'B', 'U'}

	code := make([]byte, 5)
	code[0] = systemChars[(a>>6)&0x03]
	code[1] = '0' + (a>>4)&0x03
	code[2] = hexDigits[a&0x0F]
	code[3] = hexDigits[(b>>4)&0x0F]
	code[4] = hexDigits[b&0x0F]
	return string(code)
}

// DTC is one record of a reportDTCByStatusMask response
type DTC struct {
	Code   string
	Low    byte
	Status byte
}

func (d DTC) String() string {
	return d.Code + "-" + hexByte(d.Low) + " (" + StatusString(d.Status) + ")"
}

func hexByte(b byte) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0F]})
}

// ParseReport splits a 59 02 response payload into its DTC records. The availability
// mask is returned first.
func ParseReport(payload []byte) (byte, []DTC, bool) {
	if len(payload) < 3 || payload[0] != 0x59 || payload[1] != 0x02 {
		return 0, nil, false
	}
	var out []DTC
	for rec := payload[3:]; len(rec) >= 4; rec = rec[4:] {
		out = append(out, DTC{
			Code:   DecodeCode(rec[0], rec[1]),
			Low:    rec[2],
			Status: rec[3],
		})
	}
	return payload[2], out, true
}

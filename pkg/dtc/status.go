package dtc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/roffe/curf"
)

// StatusBit is the position of a flag in the statusOfDTC byte, 0 being the LSB
type StatusBit int

const (
	TestFailed StatusBit = iota
	TestFailedThisMonitoringCycle
	PendingDTC
	ConfirmedDTC
	TestNotCompletedSinceLastClear
	TestFailedSinceLastClear
	TestNotCompletedThisMonitoringCycle
	WarningIndicatorRequested
)

var statusBitNames = [8]string{
	"testFailed",
	"testFailedThisMonitoringCycle",
	"pendingDTC",
	"confirmedDTC",
	"testNotCompletedSinceLastClear",
	"testFailedSinceLastClear",
	"testNotCompletedThisMonitoringCycle",
	"warningIndicatorRequested",
}

func (b StatusBit) String() string {
	if b < 0 || int(b) >= len(statusBitNames) {
		return fmt.Sprintf("StatusBit(%d)", int(b))
	}
	return statusBitNames[b]
}

// StatusBitNames lists the bit names ordered by bit position
func StatusBitNames() []string {
	return statusBitNames[:]
}

// ParseStatusBit resolves a bit name, it is case sensitive
func ParseStatusBit(name string) (StatusBit, error) {
	for i, n := range statusBitNames {
		if n == name {
			return StatusBit(i), nil
		}
	}
	return 0, &curf.ConfigurationError{
		Field:  "statusOfDTC bit",
		Value:  name,
		Reason: "bit name must be one of: " + strings.Join(statusBitNames[:], ", "),
	}
}

// ResponseMarker is the positive response SID of ReadDTCInformation
const ResponseMarker = "59"

// statusWindow renders the snapshot as an integer in binary, zero padded to at least
// 32 digits, and returns digits 39 to 46. For a 59 04 record this is the statusOfDTC
// byte that follows the 3 byte DTC, since the marker's leading zero bit is not rendered.
func statusWindow(snapshot string) (string, error) {
	n, ok := new(big.Int).SetString(snapshot, 16)
	if !ok {
		return "", &curf.ConfigurationError{Field: "snapshot", Value: snapshot, Reason: "not a hex string"}
	}
	bits := fmt.Sprintf("%032b", n)
	if len(bits) < 47 {
		return "", &curf.ConfigurationError{Field: "snapshot", Value: snapshot, Reason: "too short to hold a statusOfDTC byte"}
	}
	return bits[39:47], nil
}

// BitValue returns bit b of the 8 digit MSB first window as '0' or '1'
func BitValue(window string, b StatusBit) byte {
	return window[7-int(b)]
}

// StatusByte extracts the statusOfDTC byte of a ReadDTCInformation response
func StatusByte(snapshot string) (byte, error) {
	snapshot = curf.NormalizeHex(snapshot)
	if !strings.HasPrefix(snapshot, ResponseMarker) {
		return 0, &curf.MismatchError{What: "DTC response marker", Expected: ResponseMarker, Observed: snapshot}
	}
	window, err := statusWindow(snapshot)
	if err != nil {
		return 0, err
	}
	var status byte
	for i := 0; i < 8; i++ {
		status = status<<1 | (window[i] - '0')
	}
	return status, nil
}

// CheckStatusBit verifies that the named statusOfDTC bit in snapshot equals expected ("0" or "1")
func CheckStatusBit(bitName, expected, snapshot string) error {
	snapshot = curf.NormalizeHex(snapshot)
	if !strings.HasPrefix(snapshot, ResponseMarker) {
		return &curf.MismatchError{What: "DTC response marker", Expected: ResponseMarker, Observed: snapshot}
	}
	bit, err := ParseStatusBit(bitName)
	if err != nil {
		return err
	}
	if expected != "0" && expected != "1" {
		return &curf.ConfigurationError{Field: "bit value", Value: expected, Reason: "must be 0 or 1"}
	}
	window, err := statusWindow(snapshot)
	if err != nil {
		return err
	}
	if got := BitValue(window, bit); got != expected[0] {
		return &curf.MismatchError{What: bitName, Expected: expected, Observed: string(got)}
	}
	return nil
}

// StatusString describes the flags set in a statusOfDTC byte
func StatusString(status byte) string {
	var out []string
	for i := len(statusBitNames) - 1; i >= 0; i-- {
		if status&(1<<i) != 0 {
			out = append(out, statusBitNames[i])
		}
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ", ")
}

// CheckSnapshot verifies that maskRecord followed by didValue appears in snapshot after
// its first character
func CheckSnapshot(snapshot, maskRecord, didValue string) error {
	snapshot = strings.ToUpper(snapshot)
	want := strings.ToUpper(maskRecord + didValue)
	if strings.Index(snapshot, want) > 0 {
		return nil
	}
	return &curf.MismatchError{What: "DTC snapshot record", Expected: want, Observed: snapshot}
}

package dtc

import (
	"testing"

	"github.com/roffe/curf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 59 04 | DTC 12 34 56 | status 09 | record 01 ...
const snapshot = "590412345609010203"

func TestStatusByte(t *testing.T) {
	tests := []struct {
		name     string
		snapshot string
		want     byte
	}{
		{"snapshot record", snapshot, 0x09},
		{"status only", "5904A1B2C3FF", 0xFF},
		{"lowercase with spaces", "59 04 a1 b2 c3 80", 0x80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StatusByte(tt.snapshot)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckStatusBit(t *testing.T) {
	tests := []struct {
		bit  string
		want string
	}{
		{"testFailed", "1"},
		{"testFailedThisMonitoringCycle", "0"},
		{"pendingDTC", "0"},
		{"confirmedDTC", "1"},
		{"testNotCompletedSinceLastClear", "0"},
		{"testFailedSinceLastClear", "0"},
		{"testNotCompletedThisMonitoringCycle", "0"},
		{"warningIndicatorRequested", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.bit, func(t *testing.T) {
			require.NoError(t, CheckStatusBit(tt.bit, tt.want, snapshot))
			other := "0"
			if tt.want == "0" {
				other = "1"
			}
			var mm *curf.MismatchError
			require.ErrorAs(t, CheckStatusBit(tt.bit, other, snapshot), &mm)
			assert.Equal(t, tt.want, mm.Observed)
		})
	}
}

func TestBitValueTable(t *testing.T) {
	for i := 0; i < 8; i++ {
		status := byte(1 << i)
		window := ""
		for j := 7; j >= 0; j-- {
			if status&(1<<j) != 0 {
				window += "1"
			} else {
				window += "0"
			}
		}
		for b := TestFailed; b <= WarningIndicatorRequested; b++ {
			want := byte('0')
			if int(b) == i {
				want = '1'
			}
			assert.Equal(t, want, BitValue(window, b), "status %08b bit %s", status, b)
		}
	}
}

func TestCheckStatusBitErrors(t *testing.T) {
	var cfgErr *curf.ConfigurationError
	err := CheckStatusBit("failed", "1", snapshot)
	require.ErrorAs(t, err, &cfgErr)
	for _, name := range StatusBitNames() {
		assert.Contains(t, err.Error(), name)
	}

	require.ErrorAs(t, CheckStatusBit("testFailed", "2", snapshot), &cfgErr)
	require.ErrorAs(t, CheckStatusBit("testFailed", "1", "5904"), &cfgErr)

	var mm *curf.MismatchError
	require.ErrorAs(t, CheckStatusBit("testFailed", "1", "6204123456090102"), &mm)
	assert.Equal(t, ResponseMarker, mm.Expected)
}

func TestCheckSnapshot(t *testing.T) {
	require.NoError(t, CheckSnapshot("5904123456092001F190AA", "2001", "f190"))
	require.Error(t, CheckSnapshot("5904123456092001F190AA", "2001", "F191"))
	// a match at the very start does not count
	require.Error(t, CheckSnapshot("2001F190", "2001", "F190"))
}

func TestDecodeCode(t *testing.T) {
	tests := []struct {
		a, b byte
		want string
	}{
		{0xE1, 0x03, "U2103"},
		{0x01, 0x22, "P0122"},
		{0x41, 0x00, "C0100"},
		{0x9A, 0xBC, "B1ABC"},
		{0x00, 0x00, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeCode(tt.a, tt.b))
	}
}

func TestParseReport(t *testing.T) {
	mask, dtcs, ok := ParseReport([]byte{0x59, 0x02, 0xFF, 0xE1, 0x03, 0x00, 0x09, 0x01, 0x22, 0x11, 0x08})
	require.True(t, ok)
	assert.Equal(t, byte(0xFF), mask)
	require.Len(t, dtcs, 2)
	assert.Equal(t, "U2103", dtcs[0].Code)
	assert.Equal(t, byte(0x09), dtcs[0].Status)
	assert.Equal(t, "P0122-11 (confirmedDTC)", dtcs[1].String())

	_, _, ok = ParseReport([]byte{0x7F, 0x19, 0x31})
	assert.False(t, ok)
}

package curf

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"22F190", []byte{0x22, 0xF1, 0x90}, false},
		{"22 f1 90", []byte{0x22, 0xF1, 0x90}, false},
		{"0x3E80", []byte{0x3E, 0x80}, false},
		{"", []byte{}, false},
		{"123", nil, true},
		{"ZZ", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if tt.wantErr {
				var cfgErr *ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"7E0", 0x7E0, false},
		{"0x18DA10F1", 0x18DA10F1, false},
		{"18daf110", 0x18DAF110, false},
		{"", 0, true},
		{"G1", 0, true},
		{"20000000", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseIdentifier(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, "7E0", FormatIdentifier(0x7E0))
	assert.Equal(t, "18DA10F1", FormatIdentifier(0x18DA10F1))
}

func TestFrame(t *testing.T) {
	data := []byte{0x41, 0x42}
	f := NewFrame(0x7E8, data, Incoming)
	data[0] = 0
	assert.Equal(t, "4142", f.HexData())
	assert.Equal(t, 2, f.DLC())
	assert.False(t, f.Extended)
	assert.True(t, NewFrame(0x800, nil, Incoming).Extended)
	assert.True(t, NewExtendedFrame(0x10, nil, Incoming).Extended)

	c := f.Clone()
	c.Data[1] = 0xFF
	assert.Equal(t, "4142", f.HexData())
	assert.Contains(t, f.String(), "0x7E8")
	assert.Contains(t, f.String(), "41 42")
}

func TestErrors(t *testing.T) {
	te := &TimeoutError{Timeout: 1500 * time.Millisecond, Frames: []uint32{0x7E8}, Type: "frame", Detail: "last frame received was 0x100#00"}
	assert.Equal(t, "frame timeout (1500ms) for frame 0x7E8: last frame received was 0x100#00", te.Error())
	assert.True(t, IsTimeout(fmt.Errorf("wrapped: %w", te)))
	assert.False(t, IsTimeout(errors.New("other")))

	pe := &PeriodError{Identifier: "321", Expected: 100 * time.Millisecond}
	assert.Equal(t, "frame 0x321: no message received", pe.Error())

	inner := errors.New("boom")
	ce := &ConfigurationError{Field: "payload", Value: "X", Reason: "not a hex string", Err: inner}
	assert.ErrorIs(t, ce, inner)

	assert.False(t, IsRecoverable(Unrecoverable(inner)))
	assert.ErrorIs(t, Unrecoverable(inner), inner)
	assert.True(t, IsRecoverable(inner))
}

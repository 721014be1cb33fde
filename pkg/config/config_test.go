package config

import (
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/isotp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/session.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Virtual", cfg.Adapter)
	assert.Equal(t, "vcan1", cfg.Port)
	assert.Equal(t, 250.0, cfg.CANRate)
	assert.Equal(t, "TC_042", cfg.TestName)
	assert.Equal(t, uint(3), cfg.OpenAttempts, "defaults are kept")
	assert.True(t, cfg.Capture)

	require.NotNil(t, cfg.ISOTP)
	addr, err := cfg.ISOTP.Address()
	require.NoError(t, err)
	assert.Equal(t, isotp.Normal11bits, addr.Mode())
	assert.Equal(t, uint32(0x7E0), addr.TxArbitrationID(isotp.Physical))

	p, err := cfg.ISOTP.Params()
	require.NoError(t, err)
	assert.Equal(t, byte(5), p.StMin)
	assert.Equal(t, byte(8), p.BlockSize)
	require.NotNil(t, p.Padding)
	assert.Equal(t, byte(0xCC), *p.Padding)
	assert.Equal(t, 500*time.Millisecond, p.RxConsecutiveFrameTimeout)
	assert.Equal(t, time.Second, p.RxFlowControlTimeout)

	ac := cfg.AdapterConfig()
	assert.Equal(t, "vcan1", ac.Port)
	assert.Equal(t, 250.0, ac.CANRate)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("test_name: smoke\n"))
	require.NoError(t, err)
	assert.Equal(t, "Virtual", cfg.Adapter)
	assert.Equal(t, "outputs", cfg.OutputDir)
	assert.Nil(t, cfg.ISOTP)

	cfg, err = Parse([]byte("isotp:\n  source: \"18DA10F1\"\n  destination: \"18DAF110\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "Normal_29bits", cfg.ISOTP.Mode)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "adapter: [\n"},
		{"bad log level", "log_level: loud\n"},
		{"zero attempts", "open_attempts: 0\n"},
		{"bad mode", "isotp:\n  source: \"7E0\"\n  destination: \"7E8\"\n  addressing_mode: Normal_12bits\n"},
		{"missing destination", "isotp:\n  source: \"7E0\"\n"},
		{"reserved stmin", "isotp:\n  source: \"7E0\"\n  destination: \"7E8\"\n  addressing_mode: Normal_11bits\n  stmin: 0x80\n"},
		{"padding too large", "isotp:\n  source: \"7E0\"\n  destination: \"7E8\"\n  addressing_mode: Normal_11bits\n  padding: 256\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("log_level: loud\n"))
	var cfgErr *curf.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoggerFactory(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	f, ok := cfg.LoggerFactory().(*logging.DefaultLoggerFactory)
	require.True(t, ok)
	assert.Equal(t, logging.LogLevelWarn, f.DefaultLogLevel)

	cfg.Debug = true
	f = cfg.LoggerFactory().(*logging.DefaultLoggerFactory)
	assert.Equal(t, logging.LogLevelDebug, f.DefaultLogLevel)
}

// Package config loads session settings from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/isotp"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Adapter      string  `yaml:"adapter"`
	Port         string  `yaml:"port"`
	PortBaudrate int     `yaml:"port_baudrate"`
	CANRate      float64 `yaml:"can_rate"`
	Database     string  `yaml:"database"`
	TestName     string  `yaml:"test_name"`
	OutputDir    string  `yaml:"output_dir"`
	Capture      bool    `yaml:"capture"`
	OpenAttempts uint    `yaml:"open_attempts"`
	LogLevel     string  `yaml:"log_level"`
	Debug        bool    `yaml:"debug"`
	ISOTP        *ISOTP  `yaml:"isotp,omitempty"`
}

type ISOTP struct {
	Source                  string        `yaml:"source"`
	Destination             string        `yaml:"destination"`
	Mode                    string        `yaml:"addressing_mode"`
	StMin                   int           `yaml:"stmin"`
	BlockSize               int           `yaml:"block_size"`
	Padding                 *int          `yaml:"padding,omitempty"`
	FlowControlTimeout      time.Duration `yaml:"flow_control_timeout"`
	ConsecutiveFrameTimeout time.Duration `yaml:"consecutive_frame_timeout"`
	WftMax                  int           `yaml:"wftmax"`
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func Default() *Config {
	return &Config{
		Adapter:      "Virtual",
		Port:         "vcan0",
		PortBaudrate: 115200,
		CANRate:      500,
		OutputDir:    "outputs",
		Capture:      true,
		OpenAttempts: 3,
		LogLevel:     "info",
	}
}

// DefaultISOTP returns the segmentation settings used when a file leaves them out
func DefaultISOTP() *ISOTP {
	p := isotp.DefaultParams()
	return &ISOTP{
		Mode:                    isotp.Normal29bits.String(),
		StMin:                   int(p.StMin),
		BlockSize:               int(p.BlockSize),
		FlowControlTimeout:      p.RxFlowControlTimeout,
		ConsecutiveFrameTimeout: p.RxConsecutiveFrameTimeout,
		WftMax:                  p.WftMax,
	}
}

// Load reads a YAML file on top of the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	var raw struct {
		ISOTP *yaml.Node `yaml:"isotp"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if raw.ISOTP != nil {
		cfg.ISOTP = DefaultISOTP()
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		return &curf.ConfigurationError{Field: "log_level", Value: c.LogLevel, Reason: "must be one of disabled, error, warn, info, debug, trace"}
	}
	if c.CANRate < 0 {
		return &curf.ConfigurationError{Field: "can_rate", Value: strconv.FormatFloat(c.CANRate, 'f', -1, 64), Reason: "must not be negative"}
	}
	if c.OpenAttempts == 0 {
		return &curf.ConfigurationError{Field: "open_attempts", Value: "0", Reason: "must be at least 1"}
	}
	if c.ISOTP != nil {
		if _, err := c.ISOTP.Address(); err != nil {
			return err
		}
		if _, err := c.ISOTP.Params(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) AdapterConfig() *curf.AdapterConfig {
	return &curf.AdapterConfig{
		Debug:        c.Debug,
		Port:         c.Port,
		PortBaudrate: c.PortBaudrate,
		CANRate:      c.CANRate,
	}
}

// LoggerFactory returns a factory writing to stderr at the configured level, debug
// forces the debug level
func (c *Config) LoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stderr
	if lvl, ok := logLevels[strings.ToLower(c.LogLevel)]; ok {
		f.DefaultLogLevel = lvl
	}
	if c.Debug && f.DefaultLogLevel < logging.LogLevelDebug {
		f.DefaultLogLevel = logging.LogLevelDebug
	}
	return f
}

// Address resolves the addressing mode and identifiers
func (i *ISOTP) Address() (*isotp.Address, error) {
	mode, err := isotp.ParseAddressingMode(i.Mode)
	if err != nil {
		return nil, err
	}
	src, err := curf.ParseIdentifier(i.Source)
	if err != nil {
		return nil, err
	}
	dst, err := curf.ParseIdentifier(i.Destination)
	if err != nil {
		return nil, err
	}
	return isotp.AddressFor(mode, src, dst)
}

func (i *ISOTP) Params() (isotp.Params, error) {
	p := isotp.DefaultParams()
	if i.StMin < 0 || i.StMin > 0xFF {
		return p, &curf.ConfigurationError{Field: "stmin", Value: strconv.Itoa(i.StMin), Reason: "must fit in a byte"}
	}
	if i.BlockSize < 0 || i.BlockSize > 0xFF {
		return p, &curf.ConfigurationError{Field: "block_size", Value: strconv.Itoa(i.BlockSize), Reason: "must fit in a byte"}
	}
	p.StMin = byte(i.StMin)
	p.BlockSize = byte(i.BlockSize)
	if i.Padding != nil {
		if *i.Padding < 0 || *i.Padding > 0xFF {
			return p, &curf.ConfigurationError{Field: "padding", Value: strconv.Itoa(*i.Padding), Reason: "must fit in a byte"}
		}
		pad := byte(*i.Padding)
		p.Padding = &pad
	}
	if i.FlowControlTimeout > 0 {
		p.RxFlowControlTimeout = i.FlowControlTimeout
	}
	if i.ConsecutiveFrameTimeout > 0 {
		p.RxConsecutiveFrameTimeout = i.ConsecutiveFrameTimeout
	}
	p.WftMax = i.WftMax
	if err := p.Validate(); err != nil {
		return p, &curf.ConfigurationError{Field: "isotp", Value: i.Mode, Err: err}
	}
	return p, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/scanner"
	"gopkg.in/yaml.v3"
)

// Supported output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel        logrus.Level `yaml:"log_level"`
	DeviceName      string       `yaml:"device_name" default:"blescanner"`
	AllowDuplicates bool         `yaml:"allow_duplicates" default:"false"`
	Interval        uint16       `yaml:"interval" default:"23"`
	Window          uint16       `yaml:"window" default:"23"`
	ScanDuration    uint32       `yaml:"scan_duration" default:"3"`
	Whitelist       []string     `yaml:"whitelist"`
	OutputFormat    string       `yaml:"output_format" default:"table"` // table, json
}

// fileConfig mirrors Config with a textual log level, as written by humans.
type fileConfig struct {
	LogLevel        *string  `yaml:"log_level"`
	DeviceName      *string  `yaml:"device_name"`
	AllowDuplicates *bool    `yaml:"allow_duplicates"`
	Interval        *uint16  `yaml:"interval"`
	Window          *uint16  `yaml:"window"`
	ScanDuration    *uint32  `yaml:"scan_duration"`
	Whitelist       []string `yaml:"whitelist"`
	OutputFormat    *string  `yaml:"output_format"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if fc.LogLevel != nil {
		level, err := logrus.ParseLevel(*fc.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", *fc.LogLevel, err)
		}
		cfg.LogLevel = level
	}
	if fc.DeviceName != nil {
		cfg.DeviceName = *fc.DeviceName
	}
	if fc.AllowDuplicates != nil {
		cfg.AllowDuplicates = *fc.AllowDuplicates
	}
	if fc.Interval != nil {
		cfg.Interval = *fc.Interval
	}
	if fc.Window != nil {
		cfg.Window = *fc.Window
	}
	if fc.ScanDuration != nil {
		cfg.ScanDuration = *fc.ScanDuration
	}
	if fc.Whitelist != nil {
		cfg.Whitelist = fc.Whitelist
	}
	if fc.OutputFormat != nil {
		cfg.OutputFormat = strings.ToLower(*fc.OutputFormat)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise surface as radio errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Window > c.Interval {
		errs = append(errs, fmt.Errorf("scan window (%d) must not exceed scan interval (%d)", c.Window, c.Interval))
	}
	switch c.OutputFormat {
	case FormatTable, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unsupported output format %q (use %s or %s)", c.OutputFormat, FormatTable, FormatJSON))
	}
	for _, addr := range c.Whitelist {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, fmt.Errorf("whitelist contains an empty address"))
			break
		}
	}

	return errors.Join(errs...)
}

// ScannerConfig converts to the radio parameters consumed by scanner.Initialize.
func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		DeviceName:      c.DeviceName,
		AllowDuplicates: c.AllowDuplicates,
		Interval:        c.Interval,
		Window:          c.Window,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

package scanner

import (
	"github.com/mcuadros/go-defaults"
)

// DefaultScanDuration is the scan cycle length used until SetScanDuration is called.
const DefaultScanDuration uint32 = 3

// minimalDuplicateCache is the dedup cache size requested when the cache is unused.
const minimalDuplicateCache = 10

// Config holds radio parameters applied once by Initialize.
// Interval and Window are in 0.625 ms units and are passed through untouched.
type Config struct {
	DeviceName      string `default:"blescanner"`
	AllowDuplicates bool   `default:"false"`
	Interval        uint16 `default:"23"`
	Window          uint16 `default:"23"`
}

// DefaultConfig returns the stock scanner configuration.
func DefaultConfig() Config {
	cfg := Config{}
	defaults.SetDefaults(&cfg)
	return cfg
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DeviceName == "" {
		c.DeviceName = def.DeviceName
	}
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.Window == 0 {
		c.Window = def.Window
	}
	return c
}

package scanner

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/radio"
)

// scanErrorReportInterval throttles the start failure warning.
const scanErrorReportInterval = 100

// defaultReservedSubscribers sizes the subscriber registry up front.
const defaultReservedSubscribers = 10

// Stats is a point-in-time view of the scanner state.
type Stats struct {
	Initialized      bool
	ScanningEnabled  bool
	ScanDuration     uint32
	ScanErrors       uint64
	WhitelistEnabled bool
	Subscribers      int
}

// Scanner owns the single radio scan session and forwards every result to
// its subscribers.
//
// Drive it by calling Update from the host loop; each call starts a new scan
// cycle when scanning is enabled and the radio is idle.
type Scanner struct {
	driver  radio.Driver
	runtime *radio.Runtime
	hub     *Hub
	logger  *logrus.Logger

	mu               sync.Mutex
	config           Config
	initialized      bool
	scanningEnabled  bool
	scanDuration     uint32
	scanErrors       uint64
	whitelistEnabled bool
	starting         bool
}

// NewScanner creates a scanner bound to driver. Scanners sharing a physical
// radio must share rt so that the stack is brought up only once; a nil rt
// gets a private runtime.
func NewScanner(driver radio.Driver, rt *radio.Runtime, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if rt == nil {
		rt = radio.NewRuntime()
	}

	return &Scanner{
		driver:          driver,
		runtime:         rt,
		hub:             NewHub(logger, defaultReservedSubscribers),
		logger:          logger,
		scanningEnabled: true,
		scanDuration:    DefaultScanDuration,
	}
}

// Initialize brings the radio up (once per runtime), applies cfg and registers
// the scanner as the driver's result sink. Zero fields of cfg take their
// defaults.
func (s *Scanner) Initialize(cfg Config) error {
	if s.driver == nil {
		return ErrNilDriver
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	cfg = cfg.withDefaults()

	if !s.runtime.Initialized() {
		if cfg.AllowDuplicates {
			// dedup cache goes unused when every report is wanted
			s.driver.SetDuplicateCacheSize(minimalDuplicateCache)
		}
		if err := s.driver.Initialize(cfg.DeviceName); err != nil {
			return fmt.Errorf("failed to initialize radio: %w", err)
		}
		s.runtime.MarkInitialized()
	} else {
		s.logger.Debug("Radio already initialized, applying scan parameters only")
	}

	s.driver.RegisterResultSink(s, cfg.AllowDuplicates)
	s.driver.SetInterval(cfg.Interval)
	s.driver.SetWindow(cfg.Window)

	s.config = cfg
	s.initialized = true

	s.logger.WithFields(logrus.Fields{
		"device_name":      cfg.DeviceName,
		"allow_duplicates": cfg.AllowDuplicates,
		"interval":         cfg.Interval,
		"window":           cfg.Window,
	}).Info("BLE scanner initialized")

	return nil
}

// Update is the scheduling tick. It starts a scan cycle when scanning is
// enabled and no scan is running. A failed start is counted and retried on
// the next tick; only a missing Initialize is reported as an error.
//
// The driver may block while the cycle spins up, so it is called without
// holding the scanner lock; concurrent ticks during that window are no-ops.
func (s *Scanner) Update() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if !s.scanningEnabled || s.starting || s.driver.IsScanning() {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	duration := s.scanDuration
	s.mu.Unlock()

	if duration == 0 {
		// continuous scans must not accumulate results
		s.driver.SetMaxResults(0)
	}
	started := s.driver.Start(duration, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false

	if !started {
		s.scanErrors++
		if s.scanErrors%scanErrorReportInterval == 0 {
			s.logger.WithField("scan_errors", s.scanErrors).
				Warnf("BLE scan error (%dx)", scanErrorReportInterval)
		}
		return nil
	}

	s.logger.WithField("duration", duration).Debug("BLE scan cycle started")
	return nil
}

// EnableScanning turns scan cycles on or off. Disabling stops a running scan
// immediately; enabling takes effect on the next Update. It may be called
// from a subscriber's OnResult.
func (s *Scanner) EnableScanning(enable bool) {
	s.mu.Lock()
	s.scanningEnabled = enable
	s.mu.Unlock()

	if enable || s.driver == nil {
		return
	}

	// the driver waits for its scan goroutine, which may be delivering to a
	// subscriber that needs s.mu
	if err := s.driver.Stop(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop BLE scan")
		return
	}
	s.logger.Debug("BLE scanning disabled")
}

// SetScanDuration sets the length of the following scan cycles in seconds.
// 0 scans continuously until scanning is disabled.
func (s *Scanner) SetScanDuration(seconds uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanDuration = seconds
}

// Subscribe registers sub for advertisements. Duplicate calls are no-ops.
func (s *Scanner) Subscribe(sub Subscriber) {
	s.hub.Subscribe(sub)
}

// Unsubscribe removes sub. Unknown subscribers are ignored.
func (s *Scanner) Unsubscribe(sub Subscriber) {
	s.hub.Unsubscribe(sub)
}

// OnResult is the driver's result sink.
func (s *Scanner) OnResult(adv radio.Advertisement) {
	s.hub.OnResult(adv)
}

// Stats returns a snapshot of the scanner state.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Initialized:      s.initialized,
		ScanningEnabled:  s.scanningEnabled,
		ScanDuration:     s.scanDuration,
		ScanErrors:       s.scanErrors,
		WhitelistEnabled: s.whitelistEnabled,
		Subscribers:      s.hub.Len(),
	}
}

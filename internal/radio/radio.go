// Package radio declares the narrow capability surface the scan coordinator
// uses to drive a BLE radio stack.
//
// The scanner package never talks to a concrete stack; it depends on Driver
// only, which lets tests substitute a recording stub and lets production code
// plug in the go-ble adapter from the goble subpackage.
package radio

import "sync/atomic"

// FilterPolicy selects which advertisers the radio reports.
type FilterPolicy uint8

const (
	// AcceptAll reports every advertiser.
	AcceptAll FilterPolicy = iota
	// WhitelistOnly reports advertisers stored in the driver whitelist only.
	WhitelistOnly
)

func (p FilterPolicy) String() string {
	switch p {
	case AcceptAll:
		return "accept_all"
	case WhitelistOnly:
		return "whitelist_only"
	default:
		return "unknown"
	}
}

// Advertisement is a discovered advertisement as reported by the driver.
// The coordinator passes it through to subscribers untouched.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
	ManufacturerData() []byte
	Services() []string
}

// ResultSink receives every advertisement observed by the driver.
type ResultSink interface {
	OnResult(adv Advertisement)
}

// Driver is the radio capability consumed by the scanner.
//
// Start reports success as a bool because a failed start is a routine,
// retryable condition (radio busy, controller error) rather than a fault.
type Driver interface {
	// Initialize brings the radio stack up under the given device name.
	Initialize(deviceName string) error

	SetDuplicateCacheSize(n int)
	SetInterval(units uint16)
	SetWindow(units uint16)
	RegisterResultSink(sink ResultSink, allowDuplicates bool)

	IsScanning() bool
	// Start begins a scan lasting seconds (0 = until Stop). When
	// restartActive is false a scan already in progress is left alone.
	Start(seconds uint32, restartActive bool) bool
	Stop() error
	// SetMaxResults caps how many results the driver retains between scans.
	SetMaxResults(n int)

	WhitelistAdd(address string) bool
	WhitelistRemove(address string) bool
	WhitelistCount() int
	SetFilterPolicy(policy FilterPolicy)
}

// Runtime carries process-wide radio state that must survive the lifetime of
// individual scanners, namely whether the stack has already been brought up.
// Share one Runtime between every scanner bound to the same radio.
type Runtime struct {
	initialized atomic.Bool
}

// NewRuntime returns a Runtime with the radio not yet initialized.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Initialized reports whether the radio stack has been brought up.
func (r *Runtime) Initialized() bool {
	return r.initialized.Load()
}

// MarkInitialized records that the radio stack is up.
func (r *Runtime) MarkInitialized() {
	r.initialized.Store(true)
}

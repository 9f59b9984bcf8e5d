package testutils

import (
	"fmt"
	"sync"

	"github.com/srg/blescan/internal/radio"
)

// FakeDriver is a recording radio.Driver for unit tests.
//
// Every call is appended to Calls in a compact "Name(args)" form so tests can
// assert on ordering. A successful Start leaves the fake "scanning" until
// FinishScan or Stop is called.
type FakeDriver struct {
	mu sync.Mutex

	// Behaviour knobs
	StartResult bool
	InitErr     error
	StopErr     error
	// OnStart runs after every successful Start, outside the fake's lock,
	// so it may call Deliver.
	OnStart func()

	// Recorded state
	Calls               []string
	InitCount           int
	StartCount          int
	StopCount           int
	Scanning            bool
	DeviceName          string
	DuplicateCacheSize  int
	Interval            uint16
	Window              uint16
	MaxResults          int
	Policy              radio.FilterPolicy
	Sink                radio.ResultSink
	SinkAllowDuplicates bool
	whitelist           []string
}

// NewFakeDriver returns a driver whose Start succeeds.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{StartResult: true, MaxResults: -1, DuplicateCacheSize: -1}
}

func (d *FakeDriver) record(format string, args ...interface{}) {
	d.Calls = append(d.Calls, fmt.Sprintf(format, args...))
}

func (d *FakeDriver) Initialize(deviceName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Initialize(%s)", deviceName)
	d.InitCount++
	if d.InitErr != nil {
		return d.InitErr
	}
	d.DeviceName = deviceName
	return nil
}

func (d *FakeDriver) SetDuplicateCacheSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetDuplicateCacheSize(%d)", n)
	d.DuplicateCacheSize = n
}

func (d *FakeDriver) SetInterval(units uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetInterval(%d)", units)
	d.Interval = units
}

func (d *FakeDriver) SetWindow(units uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetWindow(%d)", units)
	d.Window = units
}

func (d *FakeDriver) RegisterResultSink(sink radio.ResultSink, allowDuplicates bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("RegisterResultSink(%t)", allowDuplicates)
	d.Sink = sink
	d.SinkAllowDuplicates = allowDuplicates
}

func (d *FakeDriver) IsScanning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Scanning
}

func (d *FakeDriver) Start(seconds uint32, restartActive bool) bool {
	d.mu.Lock()
	d.record("Start(%d,%t)", seconds, restartActive)
	d.StartCount++
	if d.StartResult {
		d.Scanning = true
	}
	ok, onStart := d.StartResult, d.OnStart
	d.mu.Unlock()

	if ok && onStart != nil {
		onStart()
	}
	return ok
}

func (d *FakeDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Stop()")
	d.StopCount++
	d.Scanning = false
	return d.StopErr
}

func (d *FakeDriver) SetMaxResults(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetMaxResults(%d)", n)
	d.MaxResults = n
}

// WhitelistAdd rejects addresses already present, like a controller
// whitelist that is out of slots for duplicates.
func (d *FakeDriver) WhitelistAdd(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("WhitelistAdd(%s)", address)
	for _, a := range d.whitelist {
		if a == address {
			return false
		}
	}
	d.whitelist = append(d.whitelist, address)
	return true
}

func (d *FakeDriver) WhitelistRemove(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("WhitelistRemove(%s)", address)
	for i, a := range d.whitelist {
		if a == address {
			d.whitelist = append(d.whitelist[:i], d.whitelist[i+1:]...)
			return true
		}
	}
	return false
}

func (d *FakeDriver) WhitelistCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.whitelist)
}

func (d *FakeDriver) SetFilterPolicy(policy radio.FilterPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetFilterPolicy(%s)", policy)
	d.Policy = policy
}

// FinishScan simulates the scan duration elapsing.
func (d *FakeDriver) FinishScan() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Scanning = false
}

// Deliver pushes adv into the registered sink as the radio would.
func (d *FakeDriver) Deliver(adv radio.Advertisement) {
	d.mu.Lock()
	sink := d.Sink
	d.mu.Unlock()
	if sink != nil {
		sink.OnResult(adv)
	}
}

// CallsSnapshot returns a copy of the recorded calls.
func (d *FakeDriver) CallsSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Calls))
	copy(out, d.Calls)
	return out
}

// ResetCalls forgets recorded calls, keeping the driver state.
func (d *FakeDriver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = nil
	d.StartCount = 0
	d.StopCount = 0
}

// Whitelist returns a copy of the stored addresses.
func (d *FakeDriver) Whitelist() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.whitelist))
	copy(out, d.whitelist)
	return out
}

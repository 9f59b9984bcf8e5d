// Package goble implements radio.Driver on top of github.com/go-ble/ble.
//
// go-ble scans are blocking calls bounded by a context; the driver runs each
// scan cycle on its own goroutine so that Start returns right away, and keeps
// the bookkeeping an embedded BLE stack would otherwise do in firmware:
// duplicate suppression, the retained result list, and the address whitelist.
//
// On Linux the whitelist and filter policy are also pushed to the controller
// through HCI commands. Elsewhere they are enforced in software only.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/hci"
	"github.com/go-ble/ble/linux/hci/cmd"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/internal/radio"
)

// Scan parameter constants (Bluetooth Core Spec Vol 4, Part E, 7.8.10)
const (
	scanTypeActive      uint8 = 0x01
	ownAddressPublic    uint8 = 0x00
	filterAcceptAll     uint8 = 0x00
	filterWhitelistOnly uint8 = 0x01
	whitelistAddrPublic uint8 = 0x00
)

const (
	defaultScanUnits     = 0x0010
	defaultStartupWindow = 20 * time.Millisecond
)

// Controller is the HCI surface used for whitelist storage and scan
// parameters. *hci.HCI satisfies it.
type Controller interface {
	Send(c hci.Command, r hci.CommandRP) error
	SetScanParams(param cmd.LESetScanParameters) error
}

// Scanner is the part of ble.Device the driver needs.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// DeviceFactory opens the platform BLE device. The Controller may be nil when
// the platform gives no HCI access.
type DeviceFactory func(name string) (Scanner, Controller, error)

// Option configures a Driver.
type Option func(*Driver)

// WithFactory replaces the platform device factory.
func WithFactory(f DeviceFactory) Option {
	return func(d *Driver) { d.factory = f }
}

// WithLogger sets the driver logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithStartupWindow sets how long Start waits for an immediate scan failure.
func WithStartupWindow(window time.Duration) Option {
	return func(d *Driver) { d.startupWindow = window }
}

// Driver implements radio.Driver over go-ble.
type Driver struct {
	factory       DeviceFactory
	logger        *logrus.Logger
	startupWindow time.Duration

	mu        sync.Mutex
	dev       Scanner
	ctrl      Controller
	params    cmd.LESetScanParameters
	policy    radio.FilterPolicy
	sink      radio.ResultSink
	allowDup  bool
	dups      *dupCache
	results   *resultStore
	whitelist *hashmap.Map[string, [6]byte]
	cancel    context.CancelFunc
	done      <-chan struct{}

	scanning  atomic.Bool
	scanGID   atomic.Uint64
	delivered atomic.Int64
	failures  atomic.Int64
}

// NewDriver creates a driver. The device is opened by Initialize.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		factory:       DefaultFactory,
		startupWindow: defaultStartupWindow,
		params: cmd.LESetScanParameters{
			LEScanType:           scanTypeActive,
			LEScanInterval:       defaultScanUnits,
			LEScanWindow:         defaultScanUnits,
			OwnAddressType:       ownAddressPublic,
			ScanningFilterPolicy: filterAcceptAll,
		},
		dups:      newDupCache(DefaultDuplicateCacheSize),
		results:   newResultStore(DefaultMaxResults),
		whitelist: hashmap.New[string, [6]byte](),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logrus.New()
	}
	return d
}

// Initialize opens the BLE device.
func (d *Driver) Initialize(deviceName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev != nil {
		return nil
	}
	if d.factory == nil {
		return fmt.Errorf("failed to create BLE device: %w", radio.ErrNotAvailable)
	}

	dev, ctrl, err := d.factory(deviceName)
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", radio.NormalizeError(err))
	}
	d.dev = dev
	d.ctrl = ctrl

	d.logger.WithFields(logrus.Fields{
		"device_name": deviceName,
		"hci":         ctrl != nil,
	}).Info("BLE device opened")
	return nil
}

func (d *Driver) SetDuplicateCacheSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dups.reset(n)
}

func (d *Driver) SetInterval(units uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params.LEScanInterval = units
}

func (d *Driver) SetWindow(units uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params.LEScanWindow = units
}

func (d *Driver) RegisterResultSink(sink radio.ResultSink, allowDuplicates bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
	d.allowDup = allowDuplicates
}

func (d *Driver) IsScanning() bool {
	return d.scanning.Load()
}

// Start launches a scan cycle on a background goroutine. It reports failure
// when the device is not open, when a scan is already running and
// restartActive is false, or when the scan fails within the startup window.
func (d *Driver) Start(seconds uint32, restartActive bool) bool {
	if d.onScanGoroutine() {
		// the running cycle cannot be awaited from its own callback
		d.logger.Warn("BLE scan start requested from a result callback")
		return false
	}
	if d.scanning.Load() {
		if !restartActive {
			return false
		}
		if err := d.Stop(); err != nil {
			return false
		}
	}

	d.mu.Lock()
	if d.dev == nil {
		d.mu.Unlock()
		d.logger.Warn("BLE scan requested before device initialization")
		return false
	}

	if d.ctrl != nil {
		if err := d.ctrl.SetScanParams(d.params); err != nil {
			d.mu.Unlock()
			d.logger.WithError(err).Warn("Failed to apply BLE scan parameters")
			return false
		}
	}

	d.results.clear()
	d.dups.reset(d.dups.size)

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if seconds > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(seconds)*time.Second)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	dev := d.dev
	allowDup := d.allowDup
	errCh := make(chan error, 1)

	d.scanning.Store(true)
	d.cancel = cancel
	d.done = groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		defer d.scanning.Store(false)
		defer cancel()
		d.scanGID.Store(groutine.GetGID())
		defer d.scanGID.Store(0)

		err := radio.NormalizeError(dev.Scan(ctx, allowDup, d.handle))
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			d.failures.Add(1)
			d.logger.WithError(err).Warn("BLE scan failed")
			errCh <- err
			return
		}
		d.logger.WithField("delivered", d.delivered.Load()).Debug("BLE scan cycle ended")
	})
	d.mu.Unlock()

	select {
	case <-errCh:
		return false
	case <-time.After(d.startupWindow):
		return true
	}
}

// Stop cancels the running scan and waits for the scan goroutine to exit.
// Called from a result callback it only cancels: the scan goroutine is the
// caller and winds down once the callback returns.
func (d *Driver) Stop() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if d.onScanGoroutine() {
		return nil
	}
	<-done
	return nil
}

func (d *Driver) onScanGoroutine() bool {
	gid := d.scanGID.Load()
	return gid != 0 && gid == groutine.GetGID()
}

func (d *Driver) SetMaxResults(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results.setMax(n)
}

// WhitelistAdd stores address in the whitelist. Adding a stored address
// succeeds without touching the controller.
func (d *Driver) WhitelistAdd(address string) bool {
	key, hciAddr, err := normalizeAddress(address)
	if err != nil {
		d.logger.WithError(err).Warn("Rejected whitelist address")
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.whitelist.Get(key); ok {
		return true
	}
	if d.ctrl != nil {
		c := &cmd.LEAddDeviceToWhiteList{AddressType: whitelistAddrPublic, Address: hciAddr}
		if err := d.ctrl.Send(c, nil); err != nil {
			d.logger.WithError(radio.NormalizeError(err)).WithField("address", key).Warn("Controller rejected whitelist add")
			return false
		}
	}
	d.whitelist.Set(key, hciAddr)
	return true
}

// WhitelistRemove drops address from the whitelist. Unknown addresses fail.
func (d *Driver) WhitelistRemove(address string) bool {
	key, _, err := normalizeAddress(address)
	if err != nil {
		d.logger.WithError(err).Warn("Rejected whitelist address")
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	hciAddr, ok := d.whitelist.Get(key)
	if !ok {
		return false
	}
	if d.ctrl != nil {
		c := &cmd.LERemoveDeviceFromWhiteList{AddressType: whitelistAddrPublic, Address: hciAddr}
		if err := d.ctrl.Send(c, nil); err != nil {
			d.logger.WithError(radio.NormalizeError(err)).WithField("address", key).Warn("Controller rejected whitelist remove")
			return false
		}
	}
	d.whitelist.Del(key)
	return true
}

func (d *Driver) WhitelistCount() int {
	return d.whitelist.Len()
}

// SetFilterPolicy selects the reporting policy. The controller picks it up
// with the next scan cycle; software filtering applies at once.
func (d *Driver) SetFilterPolicy(policy radio.FilterPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.policy = policy
	if policy == radio.WhitelistOnly {
		d.params.ScanningFilterPolicy = filterWhitelistOnly
	} else {
		d.params.ScanningFilterPolicy = filterAcceptAll
	}
}

// Results returns the advertisements retained during the current cycle,
// oldest first.
func (d *Driver) Results() []radio.Advertisement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.results.snapshot()
}

// Stats reports delivery counters.
func (d *Driver) Stats() (delivered, failures int64) {
	return d.delivered.Load(), d.failures.Load()
}

// handle runs on the scan goroutine for every advertisement go-ble reports.
func (d *Driver) handle(a ble.Advertisement) {
	adv := NewAdvertisement(a)
	addr := strings.ToUpper(adv.Addr())

	d.mu.Lock()
	if d.policy == radio.WhitelistOnly && d.whitelist.Len() > 0 {
		if _, ok := d.whitelist.Get(addr); !ok {
			d.mu.Unlock()
			return
		}
	}
	if !d.allowDup && d.dups.seenBefore(addr) {
		d.mu.Unlock()
		return
	}
	d.results.put(addr, adv)
	sink := d.sink
	d.mu.Unlock()

	if sink == nil {
		return
	}
	d.delivered.Add(1)
	sink.OnResult(adv)
}

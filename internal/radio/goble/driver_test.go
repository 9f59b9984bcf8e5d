package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/hci"
	"github.com/go-ble/ble/linux/hci/cmd"
	"github.com/srg/blescan/internal/radio"
	"github.com/srg/blescan/internal/testutils"
	"github.com/srg/blescan/scanner"
	"github.com/srg/blescan/subscriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// fakeAdv overrides the accessors the driver reads; the embedded interface
// covers the rest of ble.Advertisement.
type fakeAdv struct {
	ble.Advertisement
	addr string
	name string
}

func (a fakeAdv) Addr() ble.Addr           { return ble.NewAddr(a.addr) }
func (a fakeAdv) LocalName() string        { return a.name }
func (a fakeAdv) RSSI() int                { return -60 }
func (a fakeAdv) Connectable() bool        { return true }
func (a fakeAdv) ManufacturerData() []byte { return nil }
func (a fakeAdv) Services() []ble.UUID     { return nil }

// fakeScanner emits its advertisements, then blocks until the context ends.
type fakeScanner struct {
	mu       sync.Mutex
	ads      []ble.Advertisement
	err      error
	calls    int
	allowDup []bool
}

func (s *fakeScanner) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	s.mu.Lock()
	s.calls++
	s.allowDup = append(s.allowDup, allowDup)
	ads, err := s.ads, s.err
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, a := range ads {
		h(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeController struct {
	mu      sync.Mutex
	sent    []hci.Command
	params  []cmd.LESetScanParameters
	sendErr error
}

func (c *fakeController) Send(command hci.Command, _ hci.CommandRP) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, command)
	return nil
}

func (c *fakeController) SetScanParams(param cmd.LESetScanParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = append(c.params, param)
	return nil
}

func (c *fakeController) lastParams() cmd.LESetScanParameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[len(c.params)-1]
}

type sinkRecorder struct {
	mu    sync.Mutex
	addrs []string
}

func (s *sinkRecorder) OnResult(adv radio.Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs = append(s.addrs, adv.Addr())
}

func (s *sinkRecorder) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.addrs...)
}

type DriverTestSuite struct {
	suite.Suite

	helper   *testutils.TestHelper
	scanner  *fakeScanner
	ctrl     *fakeController
	factoryN int
	driver   *Driver
	sink     *sinkRecorder
}

func (suite *DriverTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.scanner = &fakeScanner{}
	suite.ctrl = &fakeController{}
	suite.factoryN = 0
	suite.sink = &sinkRecorder{}
	suite.driver = NewDriver(
		WithLogger(suite.helper.Logger),
		WithStartupWindow(5*time.Millisecond),
		WithFactory(func(name string) (Scanner, Controller, error) {
			suite.factoryN++
			return suite.scanner, suite.ctrl, nil
		}),
	)
}

func (suite *DriverTestSuite) TearDownTest() {
	suite.NoError(suite.driver.Stop())
}

func (suite *DriverTestSuite) open(allowDup bool) {
	suite.Require().NoError(suite.driver.Initialize("test"))
	suite.driver.RegisterResultSink(suite.sink, allowDup)
}

func adv(addr string) ble.Advertisement {
	return fakeAdv{addr: addr, name: "dev-" + addr}
}

func (suite *DriverTestSuite) TestInitialize_OpensDeviceOnce() {
	suite.Require().NoError(suite.driver.Initialize("a"))
	suite.Require().NoError(suite.driver.Initialize("b"))

	suite.Equal(1, suite.factoryN)
}

func (suite *DriverTestSuite) TestInitialize_NormalizesFactoryError() {
	d := NewDriver(WithLogger(suite.helper.Logger), WithFactory(func(string) (Scanner, Controller, error) {
		return nil, nil, errors.New("bluetooth is turned off")
	}))

	err := d.Initialize("x")

	suite.ErrorIs(err, radio.ErrBluetoothOff)
}

func (suite *DriverTestSuite) TestStart_FailsBeforeInitialize() {
	suite.False(suite.driver.Start(1, false))
	suite.False(suite.driver.IsScanning())
}

func (suite *DriverTestSuite) TestStart_DeliversAdvertisementsAndStops() {
	suite.scanner.ads = []ble.Advertisement{adv("aa:bb:cc:dd:ee:01"), adv("aa:bb:cc:dd:ee:02")}
	suite.open(false)

	suite.Require().True(suite.driver.Start(0, false))
	suite.True(suite.driver.IsScanning())
	suite.Eventually(func() bool { return len(suite.sink.received()) == 2 }, time.Second, 5*time.Millisecond)

	suite.False(suite.driver.Start(0, false), "second start MUST fail while scanning")

	suite.Require().NoError(suite.driver.Stop())
	suite.False(suite.driver.IsScanning(), "Stop MUST wait for the scan goroutine")
	suite.Equal([]bool{false}, suite.scanner.allowDup)
}

func (suite *DriverTestSuite) TestStart_RestartActive() {
	suite.open(false)

	suite.Require().True(suite.driver.Start(0, false))
	suite.Require().True(suite.driver.Start(0, true))

	suite.Eventually(func() bool {
		suite.scanner.mu.Lock()
		defer suite.scanner.mu.Unlock()
		return suite.scanner.calls == 2
	}, time.Second, 5*time.Millisecond)
	suite.True(suite.driver.IsScanning())
}

func (suite *DriverTestSuite) TestStart_TimedScanEndsOnItsOwn() {
	suite.open(false)

	suite.Require().True(suite.driver.Start(1, false))

	suite.Eventually(func() bool { return !suite.driver.IsScanning() }, 3*time.Second, 20*time.Millisecond)
}

func (suite *DriverTestSuite) TestStart_ImmediateFailureReportsFalse() {
	suite.scanner.err = errors.New("hci: command disallowed")
	suite.driver.startupWindow = time.Second
	suite.open(false)

	suite.False(suite.driver.Start(1, false))
	_, failures := suite.driver.Stats()
	suite.Equal(int64(1), failures)
}

func (suite *DriverTestSuite) TestDuplicateSuppression() {
	a := adv("aa:bb:cc:dd:ee:01")
	suite.scanner.ads = []ble.Advertisement{a, a, adv("aa:bb:cc:dd:ee:02"), a}

	suite.Run("filtered", func() {
		suite.open(false)
		suite.Require().True(suite.driver.Start(0, false))
		suite.Eventually(func() bool { return len(suite.sink.received()) == 2 }, time.Second, 5*time.Millisecond)
		suite.Require().NoError(suite.driver.Stop())
	})

	suite.Run("allowed", func() {
		suite.SetupTest()
		suite.scanner.ads = []ble.Advertisement{a, a, adv("aa:bb:cc:dd:ee:02"), a}
		suite.open(true)
		suite.Require().True(suite.driver.Start(0, false))
		suite.Eventually(func() bool { return len(suite.sink.received()) == 4 }, time.Second, 5*time.Millisecond)
		suite.Require().NoError(suite.driver.Stop())
	})

	suite.Run("full cache stops suppressing new addresses", func() {
		suite.SetupTest()
		b := adv("aa:bb:cc:dd:ee:02")
		suite.scanner.ads = []ble.Advertisement{a, b, b, a}
		suite.open(false)
		suite.driver.SetDuplicateCacheSize(1)
		suite.Require().True(suite.driver.Start(0, false))
		suite.Eventually(func() bool { return len(suite.sink.received()) == 3 }, time.Second, 5*time.Millisecond)
		suite.Require().NoError(suite.driver.Stop())
	})
}

func (suite *DriverTestSuite) TestRetainedResults() {
	suite.scanner.ads = []ble.Advertisement{
		adv("aa:bb:cc:dd:ee:01"), adv("aa:bb:cc:dd:ee:02"), adv("aa:bb:cc:dd:ee:03"),
	}

	suite.Run("capped at zero retains nothing", func() {
		suite.open(false)
		suite.driver.SetMaxResults(0)
		suite.Require().True(suite.driver.Start(0, false))
		suite.Eventually(func() bool { return len(suite.sink.received()) == 3 }, time.Second, 5*time.Millisecond)
		suite.Empty(suite.driver.Results())
		suite.Require().NoError(suite.driver.Stop())
	})

	suite.Run("evicts oldest beyond cap", func() {
		suite.SetupTest()
		suite.scanner.ads = []ble.Advertisement{
			adv("aa:bb:cc:dd:ee:01"), adv("aa:bb:cc:dd:ee:02"), adv("aa:bb:cc:dd:ee:03"),
		}
		suite.open(false)
		suite.driver.SetMaxResults(2)
		suite.Require().True(suite.driver.Start(0, false))
		suite.Eventually(func() bool { return len(suite.sink.received()) == 3 }, time.Second, 5*time.Millisecond)

		results := suite.driver.Results()
		suite.Require().Len(results, 2)
		suite.Equal("aa:bb:cc:dd:ee:02", results[0].Addr())
		suite.Equal("aa:bb:cc:dd:ee:03", results[1].Addr())
		suite.Require().NoError(suite.driver.Stop())
	})
}

func (suite *DriverTestSuite) TestWhitelist_ControllerCommands() {
	suite.open(false)

	suite.True(suite.driver.WhitelistAdd("AA:BB:CC:DD:EE:01"))
	suite.True(suite.driver.WhitelistAdd("aa:bb:cc:dd:ee:01"), "re-adding MUST be idempotent")
	suite.Equal(1, suite.driver.WhitelistCount())

	suite.Require().Len(suite.ctrl.sent, 1, "duplicate add MUST NOT reach the controller")
	add, ok := suite.ctrl.sent[0].(*cmd.LEAddDeviceToWhiteList)
	suite.Require().True(ok)
	suite.Equal([6]byte{0x01, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, add.Address, "address MUST be sent in HCI byte order")

	suite.False(suite.driver.WhitelistRemove("11:22:33:44:55:66"), "removing unknown address MUST fail")
	suite.False(suite.driver.WhitelistAdd("not-an-address"))

	suite.True(suite.driver.WhitelistRemove("AA:BB:CC:DD:EE:01"))
	suite.Equal(0, suite.driver.WhitelistCount())
	suite.Require().Len(suite.ctrl.sent, 2)
	_, ok = suite.ctrl.sent[1].(*cmd.LERemoveDeviceFromWhiteList)
	suite.True(ok)
}

func (suite *DriverTestSuite) TestWhitelist_ControllerRejection() {
	suite.open(false)
	suite.ctrl.sendErr = errors.New("command disallowed")

	suite.False(suite.driver.WhitelistAdd("AA:BB:CC:DD:EE:01"))
	suite.Equal(0, suite.driver.WhitelistCount())
}

func (suite *DriverTestSuite) TestFilterPolicy_AppliedToControllerAndSoftware() {
	suite.scanner.ads = []ble.Advertisement{adv("aa:bb:cc:dd:ee:01"), adv("aa:bb:cc:dd:ee:02")}
	suite.open(false)
	suite.driver.SetInterval(40)
	suite.driver.SetWindow(30)
	suite.Require().True(suite.driver.WhitelistAdd("AA:BB:CC:DD:EE:02"))
	suite.driver.SetFilterPolicy(radio.WhitelistOnly)

	suite.Require().True(suite.driver.Start(0, false))
	suite.Eventually(func() bool { return len(suite.sink.received()) == 1 }, time.Second, 5*time.Millisecond)

	params := suite.ctrl.lastParams()
	suite.Equal(filterWhitelistOnly, params.ScanningFilterPolicy)
	suite.Equal(uint16(40), params.LEScanInterval)
	suite.Equal(uint16(30), params.LEScanWindow)
	suite.Equal([]string{"aa:bb:cc:dd:ee:02"}, suite.sink.received())
}

func (suite *DriverTestSuite) TestStop_FromResultCallbackOnlyCancels() {
	suite.scanner.ads = []ble.Advertisement{adv("aa:bb:cc:dd:ee:01")}
	suite.Require().NoError(suite.driver.Initialize("test"))

	stopped := make(chan error, 1)
	suite.driver.RegisterResultSink(subscriber.NewFunc(func(radio.Advertisement) {
		stopped <- suite.driver.Stop()
	}), false)

	suite.Require().True(suite.driver.Start(0, false))

	select {
	case err := <-stopped:
		suite.NoError(err)
	case <-time.After(time.Second):
		suite.FailNow("Stop from the result callback MUST NOT block")
	}
	suite.Eventually(func() bool { return !suite.driver.IsScanning() }, time.Second, 5*time.Millisecond)
}

func (suite *DriverTestSuite) TestStart_FromResultCallbackIsRejected() {
	suite.scanner.ads = []ble.Advertisement{adv("aa:bb:cc:dd:ee:01")}
	suite.Require().NoError(suite.driver.Initialize("test"))

	restarted := make(chan bool, 1)
	suite.driver.RegisterResultSink(subscriber.NewFunc(func(radio.Advertisement) {
		restarted <- suite.driver.Start(0, true)
	}), false)

	suite.Require().True(suite.driver.Start(0, false))

	select {
	case ok := <-restarted:
		suite.False(ok)
	case <-time.After(time.Second):
		suite.FailNow("Start from the result callback MUST NOT block")
	}
	suite.True(suite.driver.IsScanning(), "the running cycle MUST be left alone")
}

// A subscriber that disables scanning from OnResult re-enters the scanner on
// the scan goroutine; neither the scanner nor the driver may wait on it.
func (suite *DriverTestSuite) TestScanner_SubscriberDisablesScanningFromCallback() {
	suite.scanner.ads = []ble.Advertisement{adv("aa:bb:cc:dd:ee:01")}

	s := scanner.NewScanner(suite.driver, radio.NewRuntime(), suite.helper.Logger)
	suite.Require().NoError(s.Initialize(scanner.Config{}))
	s.SetScanDuration(0)

	var (
		mu   sync.Mutex
		seen []string
	)
	s.Subscribe(subscriber.NewFunc(func(a radio.Advertisement) {
		mu.Lock()
		seen = append(seen, a.Addr())
		mu.Unlock()
		s.EnableScanning(false)
	}))

	updated := make(chan error, 1)
	go func() { updated <- s.Update() }()

	select {
	case err := <-updated:
		suite.Require().NoError(err)
	case <-time.After(2 * time.Second):
		suite.FailNow("Update deadlocked")
	}

	suite.Eventually(func() bool { return !suite.driver.IsScanning() }, time.Second, 5*time.Millisecond,
		"scan goroutine MUST exit after the subscriber disabled scanning")

	stats := make(chan scanner.Stats, 1)
	go func() { stats <- s.Stats() }()
	select {
	case st := <-stats:
		suite.False(st.ScanningEnabled)
	case <-time.After(time.Second):
		suite.FailNow("Stats deadlocked")
	}

	suite.Require().NoError(s.Update())
	suite.False(suite.driver.IsScanning(), "disabled scanner MUST NOT restart the radio")

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]string{"aa:bb:cc:dd:ee:01"}, seen)
}

func TestDriverTestSuite(t *testing.T) {
	suite.Run(t, new(DriverTestSuite))
}

func TestDriver_SatisfiesRadioDriver(t *testing.T) {
	var d radio.Driver = NewDriver()
	require.NotNil(t, d)
}

func TestNormalizeAddress(t *testing.T) {
	key, hciAddr, err := normalizeAddress(" aa:bb:cc:dd:ee:ff ")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", key)
	assert.Equal(t, [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, hciAddr)

	_, _, err = normalizeAddress("00:00:5e:00:53:01:02:03")
	assert.ErrorIs(t, err, radio.ErrInvalidAddr)
}

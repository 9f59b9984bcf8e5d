package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/internal/radio"
	"github.com/srg/blescan/internal/radio/goble"
	"github.com/srg/blescan/pkg/config"
	"github.com/srg/blescan/scanner"
	"github.com/srg/blescan/subscriber"
	"golang.org/x/term"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE advertisements",
	Long: `Scan for Bluetooth Low Energy advertisements in the vicinity.

The radio is driven in scan cycles of --duration seconds (0 scans
continuously). Without --watch a single cycle is run and the discovered
devices are printed; with --watch cycles are restarted until Ctrl+C and the
device table is refreshed every second.`,
	Example: `  blescan scan
  blescan scan --duration 10 --format json
  blescan scan --watch --whitelist AA:BB:CC:DD:EE:FF`,
	RunE: runScan,
}

var (
	scanDuration        uint32
	scanInterval        uint16
	scanWindow          uint16
	scanAllowDuplicates bool
	scanWhitelist       []string
	scanTick            time.Duration
	scanFormat          string
	scanWatch           bool
)

const (
	defaultTick        = 100 * time.Millisecond
	watchRedraw        = time.Second
	asyncBufferSize    = 256
	collectorEventSize = 256
)

// newDriver builds the radio driver; tests replace it with a fake.
var newDriver = func(logger *logrus.Logger) radio.Driver {
	return goble.NewDriver(goble.WithLogger(logger))
}

var stdoutIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func init() {
	registerScanFlags()
}

func registerScanFlags() {
	def := config.DefaultConfig()
	scanCmd.Flags().Uint32VarP(&scanDuration, "duration", "d", def.ScanDuration, "Scan cycle length in seconds (0 for continuous)")
	scanCmd.Flags().Uint16Var(&scanInterval, "interval", def.Interval, "Scan interval in 0.625 ms units")
	scanCmd.Flags().Uint16Var(&scanWindow, "window", def.Window, "Scan window in 0.625 ms units")
	scanCmd.Flags().BoolVar(&scanAllowDuplicates, "allow-duplicates", def.AllowDuplicates, "Report every advertisement, not just the first per device")
	scanCmd.Flags().StringSliceVar(&scanWhitelist, "whitelist", nil, "Only report devices with these addresses")
	scanCmd.Flags().DurationVar(&scanTick, "tick", defaultTick, "How often the scan cycle is re-armed")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", def.OutputFormat, "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Keep scanning and refresh the device table")
}

// applyScanFlags overrides cfg with flags the user set explicitly.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.ScanDuration = scanDuration
	}
	if flags.Changed("interval") {
		cfg.Interval = scanInterval
	}
	if flags.Changed("window") {
		cfg.Window = scanWindow
	}
	if flags.Changed("allow-duplicates") {
		cfg.AllowDuplicates = scanAllowDuplicates
	}
	if flags.Changed("whitelist") {
		cfg.Whitelist = scanWhitelist
	}
	if flags.Changed("format") {
		cfg.OutputFormat = strings.ToLower(scanFormat)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if scanTick <= 0 {
		return fmt.Errorf("invalid tick %s: must be > 0", scanTick)
	}
	for _, addr := range cfg.Whitelist {
		if _, err := net.ParseMAC(addr); err != nil {
			return fmt.Errorf("%w: %s", radio.ErrInvalidAddr, addr)
		}
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	color.NoColor = !stdoutIsTerminal()

	s := scanner.NewScanner(newDriver(logger), radio.NewRuntime(), logger)
	if err := s.Initialize(cfg.ScannerConfig()); err != nil {
		return err
	}
	defer s.EnableScanning(false)

	if len(cfg.Whitelist) > 0 {
		if err := s.EnableWhitelist(true); err != nil {
			return err
		}
		for _, addr := range cfg.Whitelist {
			if err := s.AddAddressToWhitelist(addr); err != nil {
				return err
			}
		}
	}
	s.SetScanDuration(cfg.ScanDuration)

	collector := subscriber.NewCollector(logger, collectorEventSize)
	async, err := subscriber.NewAsync(collector, asyncBufferSize, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := async.Start(ctx); err != nil {
		return err
	}
	s.Subscribe(async)

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()

	// A single cycle ends after its duration; watch mode and continuous
	// scans run until cancelled.
	runCtx := ctx
	var onTick func()
	if scanWatch {
		onTick = watchRedrawer(out, collector, cfg.OutputFormat)
	} else if cfg.ScanDuration > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(ctx, time.Duration(cfg.ScanDuration)*time.Second)
		defer stop()
	}

	logger.WithFields(logrus.Fields{
		"duration":  cfg.ScanDuration,
		"whitelist": len(cfg.Whitelist),
		"watch":     scanWatch,
	}).Info("Scanning for BLE devices")

	if err := driveScanner(runCtx, s, scanTick, onTick); err != nil {
		return err
	}

	s.Unsubscribe(async)
	async.Stop()

	if m := async.Metrics(); m.Overwritten > 0 {
		logger.WithField("overwritten", m.Overwritten).Warn("Some advertisements were dropped before processing")
	}
	logger.WithFields(logrus.Fields{
		"devices":     collector.Len(),
		"scan_errors": s.Stats().ScanErrors,
	}).Debug("Scan finished")

	if scanWatch {
		clearScreen(out)
	}
	return displayDevices(out, collector.Snapshot(), cfg.OutputFormat)
}

// driveScanner re-arms the scanner every tick until ctx is done.
func driveScanner(ctx context.Context, s *scanner.Scanner, tick time.Duration, onTick func()) error {
	if err := s.Update(); err != nil {
		return err
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Update(); err != nil {
				return err
			}
			if onTick != nil {
				onTick()
			}
		}
	}
}

// watchRedrawer returns a tick callback that reprints the device table at
// most once per watchRedraw.
func watchRedrawer(w io.Writer, c *subscriber.Collector, format string) func() {
	last := time.Now()
	return func() {
		if time.Since(last) < watchRedraw {
			return
		}
		last = time.Now()
		clearScreen(w)
		_ = displayDevices(w, c.Snapshot(), format)
	}
}

type deviceView struct {
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	RSSI             int       `json:"rssi"`
	Connectable      bool      `json:"connectable"`
	Services         []string  `json:"services,omitempty"`
	ManufacturerData string    `json:"manufacturer_data,omitempty"`
	Count            int       `json:"count"`
	LastSeen         time.Time `json:"last_seen"`
}

func newDeviceView(s subscriber.Sighting) deviceView {
	adv := s.Advertisement
	return deviceView{
		Name:             adv.LocalName(),
		Address:          s.Address,
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		Services:         adv.Services(),
		ManufacturerData: hex.EncodeToString(adv.ManufacturerData()),
		Count:            s.Count,
		LastSeen:         s.LastSeen,
	}
}

func displayDevices(w io.Writer, sightings []subscriber.Sighting, format string) error {
	views := make([]deviceView, 0, len(sightings))
	for _, s := range sightings {
		views = append(views, newDeviceView(s))
	}

	switch format {
	case config.FormatJSON:
		return displayDevicesJSON(w, views)
	default:
		return displayDevicesTable(w, views)
	}
}

func displayDevicesTable(w io.Writer, views []deviceView) error {
	if len(views) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	header := color.New(color.Bold)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header.Sprint("NAME\tADDRESS\tRSSI\tCONN\tSERVICES\tSEEN"))

	for _, v := range views {
		name := v.Name
		if name == "" {
			name = "<unknown>"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(v.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		conn := "no"
		if v.Connectable {
			conn = "yes"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dx\n",
			name, v.Address, rssiColor(v.RSSI).Sprintf("%d dBm", v.RSSI), conn, services, v.Count)
	}

	return tw.Flush()
}

// rssiColor grades signal strength: green is close, red is at the edge of range.
func rssiColor(rssi int) *color.Color {
	switch {
	case rssi >= -60:
		return color.New(color.FgGreen)
	case rssi >= -80:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func displayDevicesJSON(w io.Writer, views []deviceView) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(views)
}

func clearScreen(w io.Writer) {
	if color.NoColor {
		return
	}
	fmt.Fprint(w, "\033[2J\033[H")
}

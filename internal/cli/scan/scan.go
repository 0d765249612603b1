package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Murali47k/pig3on/internal/app"
	"github.com/Murali47k/pig3on/internal/cli/settings"
	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/logging"
	"github.com/Murali47k/pig3on/internal/termio"
)

func Run(args []string) {
	if hasHelpFlag(args) {
		printScanUsage()
		return
	}
	res, err := settings.Resolve(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	asJSON := false
	for _, arg := range res.Args {
		if arg == "--json" {
			asJSON = true
			continue
		}
		fmt.Fprintf(os.Stderr, "unknown argument: %s\n", arg)
		printScanUsage()
		os.Exit(2)
	}

	cfg := res.Config
	logger := logging.New("pig3on-scan", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !asJSON {
		fmt.Fprintln(termio.Stdout(), "Searching for nearby Pig3on devices...")
	}
	devices, err := app.Scan(ctx, logger, app.ScanConfig{
		Identity:      discovery.Identity{Name: cfg.DeviceName, Version: cfg.Version},
		DiscoveryPort: cfg.DiscoveryPort,
		TransferPort:  cfg.TransferPort,
		Timeout:       cfg.ScanTimeout,
	})
	if err != nil {
		logger.Error("scan failed", "error", err)
		termio.Flush()
		os.Exit(1)
	}

	if asJSON {
		err = writeJSON(termio.Stdout(), devices)
	} else {
		printDevices(termio.Stdout(), devices)
	}
	termio.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// PrintDevices writes the numbered device list shown by scan and send.
func PrintDevices(w io.Writer, devices []discovery.Device) {
	printDevices(w, devices)
}

func printDevices(w io.Writer, devices []discovery.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found. Make sure the other device is running 'pig3on receive'.")
		return
	}
	fmt.Fprintf(w, "Found %d device(s):\n", len(devices))
	for i, dev := range devices {
		line := fmt.Sprintf("  %d. %s (%s:%d)", i+1, dev.Name, dev.Address, dev.Port)
		if dev.Version != "" {
			line += " v" + dev.Version
		}
		fmt.Fprintln(w, line)
	}
}

func writeJSON(w io.Writer, devices []discovery.Device) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

func printScanUsage() {
	fmt.Fprintln(os.Stderr, "usage: pig3on scan [--json]")
	fmt.Fprintln(os.Stderr, "  --json                     print devices as JSON")
	settings.SettingsUsage(os.Stderr)
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

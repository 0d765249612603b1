package sender

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Murali47k/pig3on/internal/app"
	"github.com/Murali47k/pig3on/internal/cli/scan"
	"github.com/Murali47k/pig3on/internal/cli/settings"
	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/logging"
	"github.com/Murali47k/pig3on/internal/progress"
	"github.com/Murali47k/pig3on/internal/termio"
	"github.com/Murali47k/pig3on/internal/transport"
)

type options struct {
	paths      []string
	to         string
	addr       string
	eventsAddr string
}

func Run(args []string) {
	if len(args) == 0 {
		printSenderUsage()
		os.Exit(2)
	}
	if hasHelpFlag(args) {
		printSenderUsage()
		return
	}

	res, err := settings.Resolve(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts, err := parseArgs(res.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printSenderUsage()
		os.Exit(2)
	}

	cfg := res.Config
	logger := logging.New("pig3on-send", cfg.LogLevel)
	tr, err := transport.New(cfg.Transport)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hub *events.Hub
	if opts.eventsAddr != "" {
		hub = startFeed(ctx, opts.eventsAddr, logger)
	}

	if opts.addr == "" {
		fmt.Fprintln(termio.Stdout(), "Searching for nearby Pig3on devices...")
		termio.Flush()
	}
	summary, err := app.RunSend(ctx, logger, app.SendConfig{
		Identity:      discovery.Identity{Name: cfg.DeviceName, Version: cfg.Version},
		DiscoveryPort: cfg.DiscoveryPort,
		TransferPort:  cfg.TransferPort,
		ScanTimeout:   cfg.ScanTimeout,
		Transport:     tr,
		Paths:         opts.paths,
		Target:        opts.to,
		Addr:          opts.addr,
		Choose:        chooseDevice(ctx),
		Events:        hub,
		ProgressOut:   termio.StdoutFile(),
	})
	printSummary(termio.Stdout(), summary)
	termio.Flush()
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Operation cancelled by user")
			os.Exit(130)
		}
		logger.Error("send failed", "error", err)
		os.Exit(1)
	}
	if len(summary.Failed) > 0 {
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	var opts options
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--to" && i+1 < len(args) {
			i++
			opts.to = args[i]
			continue
		}
		if arg == "--addr" && i+1 < len(args) {
			i++
			opts.addr = args[i]
			continue
		}
		if arg == "--events-addr" && i+1 < len(args) {
			i++
			opts.eventsAddr = args[i]
			continue
		}
		if strings.HasPrefix(arg, "--") {
			return opts, fmt.Errorf("unknown flag: %s", arg)
		}
		opts.paths = append(opts.paths, arg)
	}
	if len(opts.paths) == 0 {
		return opts, fmt.Errorf("no files given")
	}
	if opts.to != "" && opts.addr != "" {
		return opts, fmt.Errorf("--to and --addr are mutually exclusive")
	}
	return opts, nil
}

func startFeed(ctx context.Context, addr string, logger *slog.Logger) *events.Hub {
	hub := events.NewHub()
	go func() {
		if err := events.Serve(ctx, addr, hub, logger); err != nil {
			logger.Error("event feed stopped", "error", err)
		}
	}()
	if u, err := app.FeedURL(addr); err == nil {
		fmt.Fprintf(termio.Stdout(), "Event feed: %s\n", u)
	}
	return hub
}

// chooseDevice asks the user to pick a device when a scan finds several.
func chooseDevice(ctx context.Context) app.Chooser {
	return func(devices []discovery.Device) (int, error) {
		scan.PrintDevices(termio.Stdout(), devices)
		answer, err := termio.Prompt(ctx, "\nSelect device number: ")
		if err != nil {
			return -1, err
		}
		n, err := strconv.Atoi(answer)
		if err != nil {
			return -1, fmt.Errorf("invalid input %q", answer)
		}
		return n - 1, nil
	}
}

func printSummary(w io.Writer, summary app.SendSummary) {
	for _, res := range summary.Sent {
		fmt.Fprintf(w, "Sent %s (%s) in %s\n",
			res.Metadata.Filename,
			progress.FormatBytes(int64(res.Metadata.Size)),
			res.Duration.Round(time.Millisecond))
	}
	for _, failed := range summary.Failed {
		fmt.Fprintf(w, "Failed %s: %v\n", failed.Path, failed.Err)
	}
	if len(summary.Sent) > 0 || len(summary.Failed) > 0 {
		fmt.Fprintf(w, "%d sent, %d failed to %s\n", len(summary.Sent), len(summary.Failed), summary.Peer)
	}
}

func printSenderUsage() {
	fmt.Fprintln(os.Stderr, "usage: pig3on send <file>... [--to NAME|ADDR] [--addr HOST[:PORT]] [--events-addr ADDR]")
	fmt.Fprintln(os.Stderr, "  --to NAME|ADDR             send to the scanned device with this name or address")
	fmt.Fprintln(os.Stderr, "  --addr HOST[:PORT]         skip discovery and pair with this address")
	fmt.Fprintln(os.Stderr, "  --events-addr ADDR         serve a websocket event feed on ADDR (e.g. :8090)")
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

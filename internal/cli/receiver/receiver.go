package receiver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Murali47k/pig3on/internal/app"
	"github.com/Murali47k/pig3on/internal/cli/settings"
	"github.com/Murali47k/pig3on/internal/config"
	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/logging"
	"github.com/Murali47k/pig3on/internal/session"
	"github.com/Murali47k/pig3on/internal/termio"
	"github.com/Murali47k/pig3on/internal/transport"
)

type options struct {
	autoAccept bool
	eventsAddr string
}

func Run(args []string) {
	if hasHelpFlag(args) {
		printReceiverUsage()
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
		printReceiverUsage()
		os.Exit(2)
	}

	cfg := res.Config
	logger := logging.New("pig3on-receive", cfg.LogLevel)
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

	listener := app.NewListener(logger, app.ListenerConfig{
		Identity:      discovery.Identity{Name: cfg.DeviceName, Version: cfg.Version},
		DiscoveryPort: cfg.DiscoveryPort,
		TransferPort:  cfg.TransferPort,
		DownloadDir:   cfg.DownloadDir,
		Transport:     tr,
		Consent:       consent(opts.autoAccept),
		Events:        hub,
		ProgressOut:   termio.StdoutFile(),
	})
	if err := listener.Start(ctx); err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}

	printBanner(termio.Stdout(), cfg, tr.Name())
	termio.Flush()

	if err := listener.Serve(ctx); err != nil {
		logger.Error("listener stopped", "error", err)
		os.Exit(1)
	}
	fmt.Fprintln(termio.Stdout(), "\nStopped listening")
	termio.Flush()
}

func parseArgs(args []string) (options, error) {
	var opts options
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--auto-accept" || arg == "-y" {
			opts.autoAccept = true
			continue
		}
		if arg == "--events-addr" && i+1 < len(args) {
			i++
			opts.eventsAddr = args[i]
			continue
		}
		if strings.HasPrefix(arg, "-") {
			return opts, fmt.Errorf("unknown flag: %s", arg)
		}
		return opts, fmt.Errorf("unexpected argument: %s", arg)
	}
	return opts, nil
}

// consent returns the pairing prompt, or an accept-all policy.
func consent(autoAccept bool) session.ConsentFunc {
	if autoAccept {
		return func(context.Context, string) bool { return true }
	}
	return func(ctx context.Context, remoteAddr string) bool {
		return termio.Confirm(ctx, fmt.Sprintf("\nPairing request from %s. Accept?", remoteAddr))
	}
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

func printBanner(w io.Writer, cfg config.Config, transportName string) {
	fmt.Fprintf(w, "Listening for incoming files as %q\n", cfg.DeviceName)
	for _, addr := range app.LocalAddrs(cfg.TransferPort) {
		fmt.Fprintf(w, "  %s://%s\n", transportName, addr)
	}
	fmt.Fprintf(w, "Discovery on UDP port %d\n", cfg.DiscoveryPort)
	fmt.Fprintf(w, "Saving to %s\n", cfg.DownloadDir)
	fmt.Fprintln(w, "Press Ctrl+C to stop")
}

func printReceiverUsage() {
	fmt.Fprintln(os.Stderr, "usage: pig3on receive [--auto-accept] [--events-addr ADDR]")
	fmt.Fprintln(os.Stderr, "  --auto-accept, -y          accept every pairing request without asking")
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

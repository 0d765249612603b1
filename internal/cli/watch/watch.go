package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Murali47k/pig3on/internal/app"
	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/logging"
	"github.com/Murali47k/pig3on/internal/termio"
)

// Run implements "pig3on watch ADDR": it prints the event feed of a
// running send or receive started with --events-addr.
func Run(args []string) {
	if len(args) != 1 || hasHelpFlag(args) {
		printWatchUsage()
		if len(args) != 1 {
			os.Exit(2)
		}
		return
	}
	feedURL, err := feedURLFor(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New("pig3on-watch", "info")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := events.Dial(ctx, feedURL, logger)
	if err != nil {
		logger.Error("connect to event feed failed", "url", feedURL, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	out := termio.Stdout()
	err = client.ReadLoop(ctx, func(ev events.Event) {
		printEvent(out, ev)
	})
	termio.Flush()
	if err != nil && ctx.Err() == nil {
		logger.Error("event feed lost", "error", err)
		os.Exit(1)
	}
}

// feedURLFor accepts a full ws:// URL or a host:port.
func feedURLFor(target string) (string, error) {
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		return target, nil
	}
	return app.FeedURL(target)
}

func printEvent(w io.Writer, ev events.Event) {
	data := ""
	if ev.Data != nil {
		if raw, err := json.Marshal(ev.Data); err == nil {
			data = " " + string(raw)
		}
	}
	id := ev.TransferID
	if id == "" {
		id = ev.SessionID
	}
	if id != "" {
		id = " [" + id + "]"
	}
	line := fmt.Sprintf("%s %-16s%s%s", ev.Time.Format("15:04:05.000"), ev.Type, id, data)
	fmt.Fprintln(w, strings.TrimRight(line, " "))
}

func printWatchUsage() {
	fmt.Fprintln(os.Stderr, "usage: pig3on watch HOST:PORT|ws://HOST:PORT/events")
	fmt.Fprintln(os.Stderr, "prints the event feed of a send or receive started with --events-addr")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

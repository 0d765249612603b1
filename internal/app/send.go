package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/logging"
	"github.com/Murali47k/pig3on/internal/session"
	"github.com/Murali47k/pig3on/internal/transfer"
	"github.com/Murali47k/pig3on/internal/transport"
)

// ErrNoFiles means send was called without paths.
var ErrNoFiles = errors.New("no files to send")

// SendConfig configures the send flow.
type SendConfig struct {
	Identity      discovery.Identity
	DiscoveryPort int
	TransferPort  int
	ScanTimeout   time.Duration
	BroadcastAddr string
	Transport     transport.Transport
	Paths         []string
	// Target selects a scanned device by name or address.
	Target string
	// Addr skips discovery and pairs with host[:port] directly.
	Addr string
	// Choose picks among several scanned devices.
	Choose       Chooser
	Events       events.Publisher
	ProgressOut  io.Writer
	ReplyTimeout time.Duration
}

// FileError records one file that failed to send.
type FileError struct {
	Path string
	Err  error
}

// SendSummary reports what a send run did.
type SendSummary struct {
	Peer   discovery.Device
	Sent   []transfer.Result
	Failed []FileError
}

// RunSend finds a peer, pairs with it and sends every path over the one
// session, then disconnects. A file the peer refuses or that fails its
// checksum is recorded in Failed and the run moves on; a broken session
// stops the run with an error.
func RunSend(ctx context.Context, logger *slog.Logger, cfg SendConfig) (SendSummary, error) {
	logger = logging.OrDiscard(logger)
	var summary SendSummary
	if len(cfg.Paths) == 0 {
		return summary, ErrNoFiles
	}
	for _, path := range cfg.Paths {
		info, err := os.Stat(path)
		if err != nil {
			return summary, fmt.Errorf("file not found: %s", path)
		}
		if !info.Mode().IsRegular() {
			return summary, fmt.Errorf("not a regular file: %s", path)
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = transport.TCP{}
	}
	if cfg.Events == nil {
		cfg.Events = (*events.Hub)(nil)
	}

	peer, err := resolvePeer(ctx, logger, cfg)
	if err != nil {
		return summary, err
	}
	summary.Peer = peer

	manager := session.NewManager(cfg.Identity.Name, cfg.Transport, logger)
	logger.Info("connecting", "peer", peer.String(), "port", peer.Port, "transport", cfg.Transport.Name())
	s, err := manager.Connect(ctx, peer)
	if err != nil {
		return summary, fmt.Errorf("pair with %s: %w", peer, err)
	}
	cfg.Events.Publish(events.Event{Type: events.TypePaired, SessionID: s.ID, Data: peer})
	defer func() {
		_ = manager.Disconnect()
		cfg.Events.Publish(events.Event{Type: events.TypeDisconnected, SessionID: s.ID, Data: peer})
	}()

	rep := newReporter(ctx, "sending", cfg.ProgressOut, cfg.Events)
	defer rep.close()
	rep.setSession(s.ID)
	engine := transfer.NewEngine(transfer.Options{
		ReplyTimeout: cfg.ReplyTimeout,
		ProgressFn:   rep.observe,
		Logger:       logger.With("session_id", s.ID),
	})

	for _, path := range cfg.Paths {
		res, err := engine.SendFile(ctx, s.Channel(), path)
		name := res.Metadata.Filename
		if name == "" {
			name = path
		}
		rep.finish(res.TransferID, name, res.Metadata.Size, err)
		if err == nil {
			summary.Sent = append(summary.Sent, res)
			continue
		}
		summary.Failed = append(summary.Failed, FileError{Path: path, Err: err})
		if transfer.Fatal(err) && !isLocalFileError(err) {
			return summary, fmt.Errorf("send %s: %w", path, err)
		}
		logger.Warn("file not sent", "file", path, "error", err)
	}
	return summary, nil
}

// isLocalFileError reports file system failures on the sending side. The
// engine has either not announced the file yet or has aborted it with
// ERROR, so the session stays in step.
func isLocalFileError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && !errors.Is(err, transfer.ErrCanceled)
}

func resolvePeer(ctx context.Context, logger *slog.Logger, cfg SendConfig) (discovery.Device, error) {
	if cfg.Addr != "" {
		host, port, err := parseAddr(cfg.Addr, cfg.TransferPort)
		if err != nil {
			return discovery.Device{}, err
		}
		return discovery.Device{Name: host, Address: host, Port: port}, nil
	}

	devices, err := Scan(ctx, logger, ScanConfig{
		Identity:      cfg.Identity,
		DiscoveryPort: cfg.DiscoveryPort,
		TransferPort:  cfg.TransferPort,
		Timeout:       cfg.ScanTimeout,
		BroadcastAddr: cfg.BroadcastAddr,
		Events:        cfg.Events,
	})
	if err != nil {
		return discovery.Device{}, err
	}
	return SelectDevice(devices, cfg.Target, cfg.Choose)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/framing"
	"github.com/Murali47k/pig3on/internal/logging"
	"github.com/Murali47k/pig3on/internal/session"
	"github.com/Murali47k/pig3on/internal/transfer"
	"github.com/Murali47k/pig3on/internal/transport"
)

// ListenerConfig configures listening mode.
type ListenerConfig struct {
	Identity      discovery.Identity
	DiscoveryPort int
	TransferPort  int
	DownloadDir   string
	Transport     transport.Transport
	// Consent decides incoming pairing requests. Nil rejects them all.
	Consent      session.ConsentFunc
	Events       events.Publisher
	ProgressOut  io.Writer
	ReplyTimeout time.Duration
}

// Listener is listening mode: a discovery responder and a pairing
// listener sharing one lifetime. Accepted sessions receive files until the
// peer leaves or the stream breaks.
type Listener struct {
	cfg       ListenerConfig
	logger    *slog.Logger
	manager   *session.Manager
	responder *discovery.Responder
	ln        transport.Listener
	reporter  *reporter
	engine    *transfer.Engine
}

// NewListener creates a Listener. Call Start, then Serve.
func NewListener(logger *slog.Logger, cfg ListenerConfig) *Listener {
	logger = logging.OrDiscard(logger)
	if cfg.Transport == nil {
		cfg.Transport = transport.TCP{}
	}
	if cfg.Events == nil {
		cfg.Events = (*events.Hub)(nil)
	}
	return &Listener{
		cfg:     cfg,
		logger:  logger,
		manager: session.NewManager(cfg.Identity.Name, cfg.Transport, logger),
	}
}

// Start creates the download directory and binds the pairing and
// discovery sockets. A zero TransferPort binds an ephemeral port, which is
// then advertised to scanners.
func (l *Listener) Start(ctx context.Context) error {
	if err := os.MkdirAll(l.cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	ln, err := l.cfg.Transport.Listen(ctx, ":"+strconv.Itoa(l.cfg.TransferPort))
	if err != nil {
		return fmt.Errorf("listen transfer port %d: %w", l.cfg.TransferPort, err)
	}
	transferPort := portOf(ln.Addr())

	responder := &discovery.Responder{
		Identity:     l.cfg.Identity,
		Port:         l.cfg.DiscoveryPort,
		TransferPort: transferPort,
		Logger:       l.logger,
	}
	if err := responder.Listen(); err != nil {
		ln.Close()
		return err
	}

	l.ln = ln
	l.responder = responder
	return nil
}

// TransferAddr is the bound pairing address, or nil before Start.
func (l *Listener) TransferAddr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// DiscoveryAddr is the bound discovery address, or nil before Start.
func (l *Listener) DiscoveryAddr() net.Addr {
	if l.responder == nil {
		return nil
	}
	return l.responder.Addr()
}

// Status reports the pairing state.
func (l *Listener) Status() session.Status {
	return l.manager.Status()
}

// Serve answers discovery and pairing until ctx is done.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.reporter = newReporter(ctx, "receiving", l.cfg.ProgressOut, l.cfg.Events)
	defer l.reporter.close()
	l.engine = transfer.NewEngine(transfer.Options{
		ReplyTimeout: l.cfg.ReplyTimeout,
		ProgressFn:   l.reporter.observe,
		Logger:       l.logger,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.responder.Run(ctx)
	}()

	err := l.manager.Serve(ctx, l.ln, l.consent, l.serve)
	cancel()
	wg.Wait()
	return err
}

// Run is Start followed by Serve.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

func (l *Listener) consent(ctx context.Context, remoteAddr string) bool {
	l.cfg.Events.Publish(events.Event{
		Type: events.TypePairingRequest,
		Data: map[string]string{"address": remoteAddr},
	})
	if l.cfg.Consent == nil {
		return false
	}
	return l.cfg.Consent(ctx, remoteAddr)
}

// serve receives files on s one after another. Non-fatal failures (a
// refused or corrupted file) leave the session open for the next file.
func (l *Listener) serve(ctx context.Context, s *session.Session) error {
	logger := l.logger.With("session_id", s.ID, "peer", s.Peer.Address)
	l.reporter.setSession(s.ID)
	l.cfg.Events.Publish(events.Event{Type: events.TypePaired, SessionID: s.ID, Data: s.Peer})
	defer l.cfg.Events.Publish(events.Event{Type: events.TypeDisconnected, SessionID: s.ID, Data: s.Peer})

	ch := s.Channel()
	for {
		rec, err := l.engine.ReceiveFile(ctx, ch, l.cfg.DownloadDir)
		if rec.Received {
			l.reporter.finish(rec.TransferID, rec.Metadata.Filename, rec.Metadata.Size, err)
		}
		switch {
		case err == nil && rec.Received:
			logger.Info("file saved", "path", rec.Path, "size", rec.Metadata.Size, "duration", rec.Duration)
		case err == nil:
		case !transfer.Fatal(err):
			logger.Warn("transfer failed", "file", rec.Metadata.Filename, "error", err)
		case errors.Is(err, framing.ErrConnectionClosed), errors.Is(err, transfer.ErrCanceled):
			logger.Info("peer disconnected")
			return nil
		default:
			return err
		}
	}
}

func portOf(addr net.Addr) int {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

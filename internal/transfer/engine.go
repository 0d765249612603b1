// Package transfer moves one file over a paired session with the
// stop-and-wait packet protocol: announce, READY, packets each answered by
// ACK, COMPLETE, then the receiver's checksum verdict.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Murali47k/pig3on/internal/bufpool"
	"github.com/Murali47k/pig3on/internal/framing"
	"github.com/Murali47k/pig3on/pkg/protocol"
)

const (
	// DefaultReplyTimeout bounds each wait for the peer inside a transfer.
	DefaultReplyTimeout = 30 * time.Second
	// DefaultNotifyTimeout bounds the best-effort CANCEL or ERROR sent on
	// the way out of a failed transfer.
	DefaultNotifyTimeout = 2 * time.Second
)

// Channel is the framed message stream a transfer borrows from a session.
// *framing.Channel implements it.
type Channel interface {
	Send(ctx context.Context, msg any) error
	Receive(ctx context.Context) (protocol.Message, error)
}

// Progress is reported after every acknowledged packet.
type Progress struct {
	TransferID   string
	Filename     string
	Packet       uint32
	TotalPackets uint32
	Bytes        uint64
	TotalBytes   uint64
}

// ProgressFn receives per-packet progress. It runs on the transfer
// goroutine and must not block.
type ProgressFn func(Progress)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	ReplyTimeout  time.Duration
	NotifyTimeout time.Duration
	Cipher        Cipher
	ProgressFn    ProgressFn
	Logger        *slog.Logger
}

// Engine runs the sender and receiver state machines. An Engine holds no
// per-transfer state and may be reused, but each Channel must carry at
// most one transfer at a time.
type Engine struct {
	opts    Options
	buffers *bufpool.Classes
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.Cipher == nil {
		opts.Cipher = Passthrough{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{opts: opts, buffers: bufpool.NewClasses()}
}

func (e *Engine) progress(p Progress) {
	if e.opts.ProgressFn != nil {
		e.opts.ProgressFn(p)
	}
}

// await receives the next message within the reply timeout.
func (e *Engine) await(ctx context.Context, ch Channel) (protocol.Message, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.opts.ReplyTimeout)
	defer cancel()
	return ch.Receive(stepCtx)
}

func (e *Engine) send(ctx context.Context, ch Channel, msg any) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.opts.ReplyTimeout)
	defer cancel()
	return ch.Send(stepCtx, msg)
}

// notify makes one best-effort attempt to tell the peer why we stopped and
// reports whether it was sent. It ignores cancellation of ctx, which is
// usually why it is called.
func (e *Engine) notify(ctx context.Context, ch Channel, msg any, logger *slog.Logger) bool {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotifyTimeout)
	defer cancel()
	if err := ch.Send(nctx, msg); err != nil {
		logger.Debug("peer notification failed", "error", err)
		return false
	}
	return true
}

// abort sends msg to explain cause and returns cause. When the peer got
// the message and cause left no half-read or half-written frame behind,
// the result wraps ErrAborted so the session can carry the next transfer.
func (e *Engine) abort(ctx context.Context, ch Channel, msg any, cause error, logger *slog.Logger) error {
	if e.notify(ctx, ch, msg, logger) && inStep(cause) {
		return fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	return cause
}

// inStep reports whether both ends still agree on where the next frame
// starts after err. Broken or timed-out streams and oversized frames do
// not qualify.
func inStep(err error) bool {
	var netErr *framing.NetworkError
	return !framing.IsClosed(err) &&
		!errors.As(err, &netErr) &&
		!errors.Is(err, framing.ErrFrameTooLarge) &&
		!errors.Is(err, ErrCanceled)
}

// classify turns a failed step into the error returned to the caller. A
// canceled ctx wins over whatever the step reported.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}

// peerGone reports whether err means there is nobody left to notify.
func peerGone(err error) bool {
	return framing.IsClosed(err) ||
		errors.Is(err, ErrPeerCanceled) ||
		errors.Is(err, ErrPeerFailed)
}

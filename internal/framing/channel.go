// Package framing carries wire messages over a byte stream as
// length-prefixed frames: a 4-byte big-endian payload length followed by
// the UTF-8 JSON payload.
package framing

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Murali47k/pig3on/pkg/protocol"
)

const (
	lengthPrefixSize = 4

	// MaxFrameSize bounds a single payload. Larger length prefixes are
	// treated as a protocol violation rather than an allocation request.
	MaxFrameSize = 1 << 30
)

var (
	// ErrConnectionClosed indicates the peer closed the stream before a
	// full frame arrived.
	ErrConnectionClosed = errors.New("connection closed by peer")
	// ErrProtocol indicates bytes that do not form a valid message.
	ErrProtocol = errors.New("protocol error")
	// ErrFrameTooLarge indicates a length prefix above MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocol, MaxFrameSize)
)

// NetworkError is a socket-level failure (refused, reset, timed out).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// Stream is the established bidirectional byte stream a Channel runs on.
// net.Conn and QUIC streams satisfy it.
type Stream interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Channel sends and receives framed messages. It is not safe for
// concurrent use: the protocol on top of it is strict request/response.
type Channel struct {
	s Stream
}

// New wraps an established stream.
func New(s Stream) *Channel {
	return &Channel{s: s}
}

// Send encodes msg and writes it as one frame. A deadline on ctx becomes
// the write deadline; cancelling ctx interrupts a blocked write.
func (c *Channel) Send(ctx context.Context, msg any) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	return c.bounded(ctx, "write", c.s.SetWriteDeadline, func() error {
		return c.writeFull(frame)
	})
}

// Receive reads exactly one frame and decodes it. It returns
// ErrConnectionClosed when the stream ends mid-frame and an error wrapping
// ErrProtocol when the payload does not decode.
func (c *Channel) Receive(ctx context.Context) (protocol.Message, error) {
	var msg protocol.Message
	err := c.bounded(ctx, "read", c.s.SetReadDeadline, func() error {
		var hdr [lengthPrefixSize]byte
		if err := c.readFull(hdr[:]); err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n > MaxFrameSize {
			return ErrFrameTooLarge
		}

		payload := make([]byte, n)
		if err := c.readFull(payload); err != nil {
			return err
		}

		decoded, err := protocol.Decode(payload)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		msg = decoded
		return nil
	})
	return msg, err
}

// bounded runs op with the stream deadline tied to ctx.
func (c *Channel) bounded(ctx context.Context, op string, setDeadline func(time.Time) error, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return contextError(op, err)
	}

	deadline, _ := ctx.Deadline()
	_ = setDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
	})

	err := fn()
	if !stop() {
		// ctx fired; the stream deadline was forced into the past.
		_ = setDeadline(time.Time{})
		if err != nil {
			return contextError(op, ctx.Err())
		}
		return nil
	}
	_ = setDeadline(time.Time{})
	return err
}

func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, Err: err}
	}
	return fmt.Errorf("framing %s: %w", op, err)
}

func (c *Channel) readFull(buf []byte) error {
	_, err := io.ReadFull(c.s, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrConnectionClosed
	default:
		return &NetworkError{Op: "read", Err: err}
	}
}

func (c *Channel) writeFull(buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := c.s.Write(buf[written:])
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
				return ErrConnectionClosed
			}
			return &NetworkError{Op: "write", Err: err}
		}
		written += n
	}
	return nil
}

// IsClosed reports whether err means the peer is gone and the session
// cannot be used any further.
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}

package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Murali47k/pig3on/internal/framing"
	"github.com/Murali47k/pig3on/pkg/protocol"
)

// Result describes a completed send.
type Result struct {
	TransferID string
	Metadata   Metadata
	Duration   time.Duration
}

// SendFile runs the sender state machine for the file at path over ch.
// Every failure after the announcement makes one attempt to tell the peer
// (CANCEL when ctx was canceled, ERROR otherwise) unless the peer already
// left or aborted.
func (e *Engine) SendFile(ctx context.Context, ch Channel, path string) (Result, error) {
	start := time.Now()
	id := uuid.NewString()
	logger := e.opts.Logger.With("transfer_id", id, "file", path)

	meta, err := Describe(path)
	if err != nil {
		return Result{}, err
	}
	res := Result{TransferID: id, Metadata: meta}
	logger.Info("sending file",
		"size", meta.Size,
		"packet_size", meta.PacketSize,
		"packets", meta.TotalPackets,
		"checksum", meta.Checksum)

	if err := e.send(ctx, ch, meta.Message()); err != nil {
		return res, classify(ctx, err)
	}

	reply, err := e.await(ctx, ch)
	if err != nil {
		err = classify(ctx, err)
		if errors.Is(err, ErrCanceled) {
			e.notify(ctx, ch, protocol.Cancel(), logger)
		}
		return res, err
	}
	if !reply.IsStatus(protocol.StatusReady) {
		return res, fmt.Errorf("%w: got %s %s", ErrPeerNotReady, reply.Describe(), reply.Reason())
	}

	if err := e.sendPackets(ctx, ch, path, id, meta); err != nil {
		err = classify(ctx, err)
		switch {
		case errors.Is(err, ErrCanceled):
			e.notify(ctx, ch, protocol.Cancel(), logger)
		case !peerGone(err):
			err = e.abort(ctx, ch, protocol.Abort(err.Error()), err, logger)
		}
		logger.Warn("send failed", "error", err)
		return res, err
	}

	if err := e.send(ctx, ch, protocol.Complete()); err != nil {
		return res, classify(ctx, err)
	}
	verdict, err := e.await(ctx, ch)
	if err != nil {
		err = classify(ctx, err)
		if errors.Is(err, ErrCanceled) {
			e.notify(ctx, ch, protocol.Cancel(), logger)
		}
		return res, err
	}

	switch {
	case verdict.IsStatus(protocol.StatusSuccess):
	case verdict.IsStatus(protocol.StatusError):
		if verdict.Reason() == checksumMismatchMessage {
			return res, fmt.Errorf("%w: reported by receiver", ErrChecksumMismatch)
		}
		return res, fmt.Errorf("%w: %s", ErrPeerFailed, verdict.Reason())
	default:
		return res, fmt.Errorf("%w: expected final verdict, got %s", ErrUnexpectedReply, verdict.Describe())
	}

	res.Duration = time.Since(start)
	logger.Info("file sent", "duration", res.Duration)
	return res, nil
}

// sendPackets streams the file as numbered packets, waiting for an ACK
// after each one.
func (e *Engine) sendPackets(ctx context.Context, ch Channel, path, id string, meta Metadata) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := e.buffers.Get(int(meta.PacketSize))
	defer e.buffers.Put(buf)

	var sent uint64
	for n := uint32(0); n < meta.TotalPackets; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		read, err := io.ReadFull(f, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%s shrank during transfer", meta.Filename)
			}
			return fmt.Errorf("read %s: %w", path, err)
		}

		payload, err := e.opts.Cipher.Encrypt(buf[:read])
		if err != nil {
			return fmt.Errorf("encrypt packet %d: %w", n, err)
		}
		packet := protocol.Packet{PacketNum: n, Data: hex.EncodeToString(payload)}
		if err := e.send(ctx, ch, packet); err != nil {
			return err
		}

		reply, err := e.await(ctx, ch)
		if err != nil {
			return err
		}
		if err := expectAck(reply, n); err != nil {
			return err
		}

		sent += uint64(read)
		e.progress(Progress{
			TransferID:   id,
			Filename:     meta.Filename,
			Packet:       n + 1,
			TotalPackets: meta.TotalPackets,
			Bytes:        sent,
			TotalBytes:   meta.Size,
		})
	}
	return nil
}

func expectAck(reply protocol.Message, n uint32) error {
	switch {
	case reply.IsStatus(protocol.StatusAck):
		return nil
	case reply.Kind == protocol.KindCancel:
		return ErrPeerCanceled
	case reply.Kind == protocol.KindError, reply.IsStatus(protocol.StatusError):
		return fmt.Errorf("%w: %s", ErrPeerFailed, reply.Reason())
	default:
		return fmt.Errorf("%w: packet %d answered with %s", ErrUnexpectedReply, n, reply.Describe())
	}
}

var _ Channel = (*framing.Channel)(nil)

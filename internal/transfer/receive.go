package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Murali47k/pig3on/internal/framing"
	"github.com/Murali47k/pig3on/pkg/protocol"
)

// Receipt describes the outcome of ReceiveFile. Received is false when the
// first message was not a transfer announcement.
type Receipt struct {
	TransferID string
	Received   bool
	Metadata   Metadata
	Path       string
	Duration   time.Duration
}

// partialPattern names the file a transfer writes into until its
// checksum is verified.
const partialPattern = ".pig3on-*.part"

// receiveState lives for one ReceiveFile call.
type receiveState struct {
	file    *os.File
	tmpPath string
	hasher  hash.Hash
	packets uint32
	bytes   uint64
}

// discard closes and deletes the partial output file.
func (st *receiveState) discard() {
	if st.file != nil {
		_ = st.file.Close()
		st.file = nil
	}
	_ = os.Remove(st.tmpPath)
}

// ReceiveFile runs the receiver state machine on ch, storing the file in
// downloadDir. It waits for the announcement without a timeout. Content is
// written to a partial file that replaces the destination only after the
// checksum matches; any failure deletes it and leaves an existing file of
// the same name untouched.
func (e *Engine) ReceiveFile(ctx context.Context, ch Channel, downloadDir string) (Receipt, error) {
	first, err := ch.Receive(ctx)
	if err != nil {
		err = classify(ctx, err)
		if errors.Is(err, framing.ErrProtocol) && inStep(err) {
			// The bad frame was consumed whole; the next one can still be read.
			return Receipt{}, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return Receipt{}, err
	}
	if first.Kind != protocol.KindFileTransfer {
		e.opts.Logger.Debug("not a transfer request", "kind", first.Describe())
		return Receipt{}, nil
	}

	start := time.Now()
	meta := metadataFrom(first.FileTransfer)
	rec := Receipt{TransferID: uuid.NewString(), Received: true, Metadata: meta}
	logger := e.opts.Logger.With("transfer_id", rec.TransferID, "file", meta.Filename)
	logger.Info("incoming file", "size", meta.Size, "packets", meta.TotalPackets)

	if err := meta.check(); err != nil {
		e.refuse(ctx, ch, err)
		logger.Warn("refusing transfer", "error", err)
		return rec, err
	}
	path, err := resolvePath(downloadDir, meta.Filename)
	if err != nil {
		e.refuse(ctx, ch, err)
		logger.Warn("refusing transfer", "error", err)
		return rec, err
	}
	rec.Path = path

	f, err := os.CreateTemp(filepath.Dir(path), partialPattern)
	if err != nil {
		err = fmt.Errorf("create partial file in %s: %w", downloadDir, err)
		if e.refuse(ctx, ch, err) {
			err = fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return rec, err
	}
	// CreateTemp opens with 0600; the stored file gets the usual mode.
	_ = f.Chmod(0o644)
	st := &receiveState{file: f, tmpPath: f.Name(), hasher: sha256.New()}

	if err := e.send(ctx, ch, protocol.Ready()); err != nil {
		st.discard()
		return rec, classify(ctx, err)
	}

	if err := e.receivePackets(ctx, ch, st, rec.TransferID, meta); err != nil {
		st.discard()
		err = classify(ctx, err)
		switch {
		case errors.Is(err, ErrCanceled):
			e.notify(ctx, ch, protocol.Cancel(), logger)
		case !peerGone(err):
			err = e.abort(ctx, ch, protocol.Abort(err.Error()), err, logger)
		}
		logger.Warn("receive failed", "error", err, "packets", st.packets)
		return rec, err
	}

	if err := st.file.Close(); err != nil {
		st.file = nil
		st.discard()
		return rec, e.abort(ctx, ch, protocol.Failure(err.Error()), fmt.Errorf("close %s: %w", st.tmpPath, err), logger)
	}
	st.file = nil

	actual := hex.EncodeToString(st.hasher.Sum(nil))
	if !strings.EqualFold(actual, meta.Checksum) {
		st.discard()
		if err := e.send(ctx, ch, protocol.Failure(checksumMismatchMessage)); err != nil {
			logger.Debug("verdict not delivered", "error", err)
		}
		logger.Warn("checksum mismatch", "expected", meta.Checksum, "actual", actual)
		return rec, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, meta.Checksum, actual)
	}

	if err := os.Rename(st.tmpPath, path); err != nil {
		st.discard()
		return rec, e.abort(ctx, ch, protocol.Failure(err.Error()), fmt.Errorf("store %s: %w", path, err), logger)
	}

	if err := e.send(ctx, ch, protocol.Success()); err != nil {
		// The file is intact; only the verdict was lost.
		logger.Warn("verdict not delivered", "error", err)
		rec.Duration = time.Since(start)
		return rec, classify(ctx, err)
	}

	rec.Duration = time.Since(start)
	logger.Info("file received", "path", path, "duration", rec.Duration)
	return rec, nil
}

// refuse answers an announcement with an ERROR status instead of READY and
// reports whether the answer was delivered.
func (e *Engine) refuse(ctx context.Context, ch Channel, cause error) bool {
	msg := cause.Error()
	switch {
	case errors.Is(cause, ErrInvalidFilename):
		msg = invalidFilenameMessage
	case errors.Is(cause, ErrInvalidMetadata), errors.Is(cause, ErrFileTooLarge):
		msg = invalidMetadataMessage
	}
	if err := e.send(ctx, ch, protocol.Failure(msg)); err != nil {
		e.opts.Logger.Debug("refusal not delivered", "error", err)
		return false
	}
	return true
}

// receivePackets appends packets in arrival order until every announced
// packet is written and COMPLETE arrives, or COMPLETE arrives early.
func (e *Engine) receivePackets(ctx context.Context, ch Channel, st *receiveState, id string, meta Metadata) error {
	for {
		msg, err := e.await(ctx, ch)
		if err != nil {
			return err
		}

		switch msg.Kind {
		case protocol.KindComplete:
			return nil
		case protocol.KindCancel:
			return ErrPeerCanceled
		case protocol.KindError:
			return fmt.Errorf("%w: %s", ErrPeerFailed, msg.Reason())
		case protocol.KindPacket:
		default:
			return fmt.Errorf("%w: expected packet, got %s", ErrUnexpectedReply, msg.Describe())
		}

		if st.packets >= meta.TotalPackets {
			return fmt.Errorf("%w: packet beyond the announced %d", ErrUnexpectedReply, meta.TotalPackets)
		}
		if err := e.writePacket(st, msg.Packet, meta); err != nil {
			return err
		}
		if err := e.send(ctx, ch, protocol.Ack()); err != nil {
			return err
		}

		e.progress(Progress{
			TransferID:   id,
			Filename:     meta.Filename,
			Packet:       st.packets,
			TotalPackets: meta.TotalPackets,
			Bytes:        st.bytes,
			TotalBytes:   meta.Size,
		})
	}
}

func (e *Engine) writePacket(st *receiveState, p *protocol.Packet, meta Metadata) error {
	if uint64(len(p.Data)) > 2*uint64(MaxPacketSize) {
		return fmt.Errorf("%w: packet %d too large", ErrUnexpectedReply, p.PacketNum)
	}
	raw := e.buffers.Get(hex.DecodedLen(len(p.Data)))
	defer e.buffers.Put(raw)

	n, err := hex.Decode(raw, []byte(p.Data))
	if err != nil {
		return fmt.Errorf("%w: packet %d: %v", ErrUnexpectedReply, p.PacketNum, err)
	}
	data, err := e.opts.Cipher.Decrypt(raw[:n])
	if err != nil {
		return fmt.Errorf("decrypt packet %d: %w", p.PacketNum, err)
	}
	if uint64(len(data)) > uint64(meta.PacketSize) || st.bytes+uint64(len(data)) > meta.Size {
		return fmt.Errorf("%w: packet %d overruns the announced size", ErrUnexpectedReply, p.PacketNum)
	}

	if _, err := st.file.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", st.tmpPath, err)
	}
	st.hasher.Write(data)
	st.packets++
	st.bytes += uint64(len(data))
	return nil
}

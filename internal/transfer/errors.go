package transfer

import (
	"errors"
	"fmt"

	"github.com/Murali47k/pig3on/internal/framing"
)

var (
	// ErrUnexpectedReply is a reply of the wrong type or status for the
	// current protocol step.
	ErrUnexpectedReply = fmt.Errorf("%w: unexpected reply", framing.ErrProtocol)
	// ErrPeerNotReady means the receiver answered the metadata with
	// something other than READY.
	ErrPeerNotReady = fmt.Errorf("%w: peer not ready to receive", framing.ErrProtocol)
	// ErrInvalidMetadata is a FILE_TRANSFER announcement whose fields do
	// not add up.
	ErrInvalidMetadata = fmt.Errorf("%w: invalid file metadata", framing.ErrProtocol)
	// ErrChecksumMismatch means the received bytes do not hash to the
	// announced checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrCanceled means the local side canceled the transfer.
	ErrCanceled = errors.New("transfer canceled")
	// ErrPeerCanceled means the peer sent CANCEL.
	ErrPeerCanceled = errors.New("transfer canceled by peer")
	// ErrPeerFailed means the peer aborted with ERROR or returned an ERROR
	// verdict.
	ErrPeerFailed = errors.New("transfer failed on peer")
	// ErrFileTooLarge means the file would need packets above MaxPacketSize.
	ErrFileTooLarge = errors.New("file too large")
	// ErrInvalidFilename means the announced name cannot be stored safely.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrAborted wraps a failure that ended the transfer on a frame
	// boundary, after the peer was told. The session stays usable.
	ErrAborted = errors.New("transfer aborted")
)

// Wire texts the receiver puts in ERROR replies.
const (
	checksumMismatchMessage = "Checksum mismatch"
	invalidFilenameMessage  = "invalid filename"
	invalidMetadataMessage  = "invalid metadata"
)

// Fatal reports whether err leaves the session's stream in an unknown
// state, so the session should be torn down rather than reused. Refusals,
// verdicts, peer aborts and local aborts the peer was told about are not
// fatal.
func Fatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAborted),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrPeerCanceled),
		errors.Is(err, ErrPeerFailed),
		errors.Is(err, ErrPeerNotReady),
		errors.Is(err, ErrInvalidFilename),
		errors.Is(err, ErrInvalidMetadata),
		errors.Is(err, ErrFileTooLarge):
		return false
	default:
		return true
	}
}

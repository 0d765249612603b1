package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Murali47k/pig3on/internal/framing"
	"github.com/Murali47k/pig3on/pkg/protocol"
)

const (
	// MinPacketSize is the packet size floor.
	MinPacketSize = 8192
	// TargetPackets is how many packets a file is split into once it is
	// larger than TargetPackets*MinPacketSize.
	TargetPackets = 100
	// MaxPacketSize is the largest packet whose hex-encoded frame still
	// fits in framing.MaxFrameSize.
	MaxPacketSize = (framing.MaxFrameSize - packetFrameOverhead) / 2

	// packetFrameOverhead covers the JSON around the hex data, e.g.
	// {"packet_num":4294967295,"data":""}.
	packetFrameOverhead = 64

	hashBufferSize = 64 * 1024
)

// Metadata describes a file about to be sent.
type Metadata struct {
	Filename     string
	Size         uint64
	PacketSize   uint32
	TotalPackets uint32
	Checksum     string
}

// PacketSizeFor returns max(MinPacketSize, size/TargetPackets).
func PacketSizeFor(size uint64) uint64 {
	ps := size / TargetPackets
	if ps < MinPacketSize {
		ps = MinPacketSize
	}
	return ps
}

// TotalPacketsFor returns ceil(size/packetSize).
func TotalPacketsFor(size, packetSize uint64) uint64 {
	if packetSize == 0 {
		return 0
	}
	return (size + packetSize - 1) / packetSize
}

// Describe computes the metadata for the file at path, hashing its full
// content with a streaming read.
func Describe(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Metadata{}, fmt.Errorf("%s is not a regular file", path)
	}

	name := filepath.Base(path)
	if err := validateFilename(name); err != nil {
		return Metadata{}, err
	}

	size := uint64(info.Size())
	packetSize := PacketSizeFor(size)
	if packetSize > MaxPacketSize {
		return Metadata{}, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashBufferSize)); err != nil {
		return Metadata{}, fmt.Errorf("hash %s: %w", path, err)
	}

	return Metadata{
		Filename:     name,
		Size:         size,
		PacketSize:   uint32(packetSize),
		TotalPackets: uint32(TotalPacketsFor(size, packetSize)),
		Checksum:     hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Message returns the FILE_TRANSFER announcement for m.
func (m Metadata) Message() protocol.FileTransfer {
	return protocol.FileTransfer{
		Type:         protocol.TypeFileTransfer,
		Filename:     m.Filename,
		Size:         m.Size,
		PacketSize:   m.PacketSize,
		TotalPackets: m.TotalPackets,
		Checksum:     m.Checksum,
	}
}

func metadataFrom(ft *protocol.FileTransfer) Metadata {
	return Metadata{
		Filename:     ft.Filename,
		Size:         ft.Size,
		PacketSize:   ft.PacketSize,
		TotalPackets: ft.TotalPackets,
		Checksum:     ft.Checksum,
	}
}

// check validates an announcement before any file is created.
func (m Metadata) check() error {
	if err := validateFilename(m.Filename); err != nil {
		return err
	}
	if m.PacketSize == 0 && m.TotalPackets > 0 {
		return fmt.Errorf("%w: zero packet size", ErrInvalidMetadata)
	}
	if m.PacketSize > MaxPacketSize {
		return fmt.Errorf("%w: packet size %d", ErrFileTooLarge, m.PacketSize)
	}
	if uint64(m.TotalPackets) != TotalPacketsFor(m.Size, uint64(m.PacketSize)) {
		return fmt.Errorf("%w: %d packets of %d bytes cannot hold %d bytes",
			ErrInvalidMetadata, m.TotalPackets, m.PacketSize, m.Size)
	}
	return nil
}

package app

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/progress"
	"github.com/Murali47k/pig3on/internal/transfer"
)

const progressUpdateInterval = 250 * time.Millisecond

func shouldUpdateProgress(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	if now.UnixNano()-prev < int64(progressUpdateInterval) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, now.UnixNano())
}

// progressData is the payload of progress and transfer lifecycle events.
type progressData struct {
	Filename     string `json:"filename"`
	Packet       uint32 `json:"packet,omitempty"`
	TotalPackets uint32 `json:"total_packets,omitempty"`
	Bytes        uint64 `json:"bytes"`
	TotalBytes   uint64 `json:"total_bytes"`
	Error        string `json:"error,omitempty"`
}

// reporter turns engine progress into a terminal bar and feed events. It
// follows one transfer at a time; a progress report for a new transfer ID
// starts a new bar.
type reporter struct {
	ctx    context.Context
	label  string
	out    io.Writer
	events events.Publisher

	lastEvent int64

	mu        sync.Mutex
	sessionID string
	current   string
	tracker   *progress.Tracker
	stop      func()
}

// newReporter creates a reporter. A nil out disables the bar; a nil
// publisher disables events.
func newReporter(ctx context.Context, label string, out io.Writer, pub events.Publisher) *reporter {
	if pub == nil {
		pub = (*events.Hub)(nil)
	}
	return &reporter{
		ctx:     ctx,
		label:   label,
		out:     out,
		events:  pub,
		tracker: progress.NewTracker(label),
	}
}

func (r *reporter) setSession(id string) {
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

func (r *reporter) session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// observe is the engine's ProgressFn.
func (r *reporter) observe(p transfer.Progress) {
	r.mu.Lock()
	if p.TransferID != r.current {
		r.startLocked(p.TransferID, p.Filename, p.TotalBytes, p.TotalPackets)
	}
	r.tracker.Update(p.Packet, int64(p.Bytes))
	sessionID := r.sessionID
	r.mu.Unlock()

	if p.Packet == p.TotalPackets || shouldUpdateProgress(&r.lastEvent, time.Now()) {
		r.events.Publish(events.Event{
			Type:       events.TypeProgress,
			SessionID:  sessionID,
			TransferID: p.TransferID,
			Data: progressData{
				Filename:     p.Filename,
				Packet:       p.Packet,
				TotalPackets: p.TotalPackets,
				Bytes:        p.Bytes,
				TotalBytes:   p.TotalBytes,
			},
		})
	}
}

func (r *reporter) startLocked(id, filename string, size uint64, packets uint32) {
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	r.current = id
	r.tracker.Begin(filename, int64(size), packets)
	if r.out != nil {
		r.stop = progress.Render(r.ctx, r.out, r.tracker.View)
	}
	r.publishStartLocked(id, filename, size, packets)
}

func (r *reporter) publishStartLocked(id, filename string, size uint64, packets uint32) {
	r.events.Publish(events.Event{
		Type:       events.TypeTransferStart,
		SessionID:  r.sessionID,
		TransferID: id,
		Data:       progressData{Filename: filename, TotalPackets: packets, TotalBytes: size},
	})
}

// finish closes the bar for transfer id and publishes its outcome.
func (r *reporter) finish(id, filename string, size uint64, err error) {
	r.mu.Lock()
	if id == r.current {
		if r.stop != nil {
			r.stop()
			r.stop = nil
		}
		r.current = ""
	} else if err == nil && id != "" {
		// Empty files complete without a packet, so nothing started them.
		r.publishStartLocked(id, filename, size, 0)
	}
	sessionID := r.sessionID
	r.mu.Unlock()

	ev := events.Event{
		Type:       events.TypeTransferDone,
		SessionID:  sessionID,
		TransferID: id,
		Data:       progressData{Filename: filename, Bytes: size, TotalBytes: size},
	}
	if err != nil {
		ev.Type = events.TypeTransferFailed
		ev.Data = progressData{Filename: filename, TotalBytes: size, Error: err.Error()}
	}
	r.events.Publish(ev)
}

// close stops any bar still drawing.
func (r *reporter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	r.current = ""
}

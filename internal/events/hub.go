// Package events fans pig3on activity (discovery, pairing, progress,
// results) out to websocket subscribers.
package events

import (
	"sync"
	"time"
)

// Event types.
const (
	TypeDevice         = "device"
	TypePairingRequest = "pairing_request"
	TypePaired         = "paired"
	TypeDisconnected   = "disconnected"
	TypeTransferStart  = "transfer_start"
	TypeProgress       = "progress"
	TypeTransferDone   = "transfer_done"
	TypeTransferFailed = "transfer_failed"
)

// Event is one JSON message on the feed.
type Event struct {
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
	SessionID  string    `json:"session_id,omitempty"`
	TransferID string    `json:"transfer_id,omitempty"`
	Data       any       `json:"data,omitempty"`
}

// Publisher accepts events. A nil *Hub is a valid Publisher that drops
// everything, so callers need not check whether a feed is configured.
type Publisher interface {
	Publish(Event)
}

const subscriberBuffer = 256

type subscriber struct {
	ch chan Event
}

// Hub delivers published events to every subscriber. Slow subscribers
// lose events instead of stalling publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	now    func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), now: time.Now}
}

// Subscribe registers a subscriber and returns its event channel and a
// cancel function. The channel is closed by cancel or by Close.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Publish stamps ev and offers it to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

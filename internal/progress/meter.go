package progress

import (
	"sync"
	"time"
)

// rateWindow is the shortest interval folded into the smoothed rate.
// Packets on a fast link arrive much closer together than this.
const rateWindow = 100 * time.Millisecond

// Stats is a point-in-time snapshot of one file's progress.
type Stats struct {
	Packet       uint32
	TotalPackets uint32
	BytesDone    int64
	Total        int64
	RateBps      float64
	ETA          time.Duration
	Percent      float64
	StartedAt    time.Time
}

// Meter tracks acknowledged packets and bytes for one file at a time and
// keeps an exponentially smoothed byte rate.
type Meter struct {
	mu sync.Mutex

	packet       uint32
	totalPackets uint32
	done         int64
	total        int64

	startedAt  time.Time
	sampleAt   time.Time
	sampleDone int64
	rateBps    float64
	alpha      float64
	now        func() time.Time
}

// NewMeter returns a meter on the wall clock.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.3, now: now}
}

// Begin resets the meter for a file of totalBytes split into totalPackets.
func (m *Meter) Begin(totalBytes int64, totalPackets uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packet = 0
	m.totalPackets = totalPackets
	m.done = 0
	m.total = totalBytes
	m.startedAt = m.now()
	m.sampleAt = m.startedAt
	m.sampleDone = 0
	m.rateBps = 0
}

// Record moves the meter to the cumulative position after packet. Positions
// behind the current one are ignored.
func (m *Meter) Record(packet uint32, done int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if done < m.done || packet < m.packet {
		return
	}
	m.packet = packet
	m.done = done

	now := m.now()
	elapsed := now.Sub(m.sampleAt)
	if elapsed < rateWindow {
		return
	}
	inst := float64(m.done-m.sampleDone) / elapsed.Seconds()
	if m.rateBps == 0 {
		m.rateBps = inst
	} else {
		m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
	}
	m.sampleAt = now
	m.sampleDone = m.done
}

// Snapshot returns the current stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Packet:       m.packet,
		TotalPackets: m.totalPackets,
		BytesDone:    m.done,
		Total:        m.total,
		RateBps:      m.rateBps,
		StartedAt:    m.startedAt,
	}
	switch {
	case m.total > 0:
		stats.Percent = float64(m.done) / float64(m.total) * 100
	case m.totalPackets == 0 && !m.startedAt.IsZero():
		stats.Percent = 100
	}
	if m.rateBps > 0 && m.total > m.done {
		stats.ETA = time.Duration(float64(m.total-m.done) / m.rateBps * float64(time.Second))
	}
	return stats
}

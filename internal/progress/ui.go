package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// View is what the renderer draws for one transfer.
type View struct {
	Label        string
	Filename     string
	Packet       uint32
	TotalPackets uint32
	Stats        Stats
}

// Tracker wraps a Meter with the name of the file being moved, so a
// renderer can poll it.
type Tracker struct {
	label string
	meter *Meter

	mu       sync.Mutex
	filename string
}

// NewTracker creates a tracker whose views carry label ("sending",
// "receiving").
func NewTracker(label string) *Tracker {
	return &Tracker{label: label, meter: NewMeter()}
}

// Begin resets the tracker for a new file.
func (t *Tracker) Begin(filename string, totalBytes int64, totalPackets uint32) {
	t.mu.Lock()
	t.filename = filename
	t.mu.Unlock()
	t.meter.Begin(totalBytes, totalPackets)
}

// Update records the cumulative position after a packet.
func (t *Tracker) Update(packet uint32, bytes int64) {
	t.meter.Record(packet, bytes)
}

// View returns the current state.
func (t *Tracker) View() View {
	t.mu.Lock()
	filename := t.filename
	t.mu.Unlock()
	stats := t.meter.Snapshot()
	return View{
		Label:        t.label,
		Filename:     filename,
		Packet:       stats.Packet,
		TotalPackets: stats.TotalPackets,
		Stats:        stats,
	}
}

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
)

func colorize(s string, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + colorReset
}

func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Render redraws the bar from view until the returned stop function is
// called. On a terminal the bar is redrawn in place every 100ms; otherwise
// one plain line is printed per second.
func Render(ctx context.Context, w io.Writer, view func() View) func() {
	interval := 100 * time.Millisecond
	isTTY := IsTTY(w)
	if !isTTY {
		interval = time.Second
	} else {
		fmt.Fprint(w, "\033[?25l")
	}
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	var renderMu sync.Mutex

	renderOnce := func() {
		renderMu.Lock()
		defer renderMu.Unlock()
		line := formatLine(view())
		if isTTY {
			fmt.Fprintf(w, "\r\033[K%s", colorize(line, colorGreen, true))
		} else {
			fmt.Fprintln(w, line)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				renderOnce()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			renderOnce()
			if isTTY {
				fmt.Fprint(w, "\n\033[?25h")
			}
		})
	}
}

func formatLine(v View) string {
	name := v.Filename
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%s %s %s %5.1f%%  %s  ETA %s  (%s/%s, packet %d/%d)",
		v.Label,
		name,
		renderBar(v.Stats.Percent, 30),
		v.Stats.Percent,
		formatRate(v.Stats.RateBps),
		formatETA(v.Stats.ETA),
		FormatBytes(v.Stats.BytesDone),
		FormatBytes(v.Stats.Total),
		v.Packet,
		v.TotalPackets,
	)
}

func renderBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int((percent / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func formatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	if bps >= g {
		return fmt.Sprintf("%.2f GB/s", bps/float64(g))
	}
	if bps >= m {
		return fmt.Sprintf("%.1f MB/s", bps/float64(m))
	}
	if bps >= k {
		return fmt.Sprintf("%.0f KB/s", bps/float64(k))
	}
	return fmt.Sprintf("%.0f B/s", bps)
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	secs := int(d.Seconds())
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatBytes renders a size with two decimals in the largest unit below
// 1024 of it, e.g. "1.50 MB".
func FormatBytes(n int64) string {
	size := float64(n)
	if size < 0 {
		size = 0
	}
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f TB", size)
}

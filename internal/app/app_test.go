package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/events"
	"github.com/Murali47k/pig3on/internal/session"
	"github.com/Murali47k/pig3on/internal/transfer"
	"github.com/Murali47k/pig3on/internal/transport"
	"github.com/Murali47k/pig3on/pkg/protocol"
)

type testListener struct {
	l             *Listener
	dir           string
	discoveryPort int
	transferPort  int
}

func startListener(t *testing.T, allow bool, tr transport.Transport, hub *events.Hub) *testListener {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "downloads")
	cfg := ListenerConfig{
		Identity:    discovery.Identity{Name: "desk", Version: "1.0.0"},
		DownloadDir: dir,
		Transport:   tr,
		Consent:     func(context.Context, string) bool { return allow },
	}
	if hub != nil {
		cfg.Events = hub
	}
	l := NewListener(nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})

	return &testListener{
		l:             l,
		dir:           dir,
		discoveryPort: l.DiscoveryAddr().(*net.UDPAddr).Port,
		transferPort:  portOf(l.TransferAddr()),
	}
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := bytes.Repeat([]byte("pig3on!"), size/7+1)[:size]
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func sendConfig(tl *testListener, paths ...string) SendConfig {
	return SendConfig{
		Identity:      discovery.Identity{Name: "laptop", Version: "1.0.0"},
		DiscoveryPort: tl.discoveryPort,
		TransferPort:  tl.transferPort,
		ScanTimeout:   300 * time.Millisecond,
		BroadcastAddr: "127.0.0.1",
		Paths:         paths,
	}
}

func TestRunSend_DiscoversPairsAndDelivers(t *testing.T) {
	hub := events.NewHub()
	feed, cancel := hub.Subscribe()
	defer cancel()

	tl := startListener(t, true, transport.TCP{}, hub)
	src := t.TempDir()
	a := writeFile(t, src, "a.bin", 100_000)
	b := writeFile(t, src, "b.txt", 0)

	summary, err := RunSend(context.Background(), nil, sendConfig(tl, a, b))
	require.NoError(t, err)
	require.Empty(t, summary.Failed)
	require.Len(t, summary.Sent, 2)
	require.Equal(t, "desk", summary.Peer.Name)
	require.Equal(t, tl.transferPort, summary.Peer.Port)

	for _, path := range []string{a, b} {
		want, err := os.ReadFile(path)
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(tl.dir, filepath.Base(path)))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// The listener frees its slot once the sender disconnects.
	require.Eventually(t, func() bool { return !tl.l.Status().Connected }, 5*time.Second, 20*time.Millisecond)

	seen := map[string]int{}
	deadline := time.After(2 * time.Second)
	for seen[events.TypeDisconnected] == 0 {
		select {
		case ev := <-feed:
			seen[ev.Type]++
		case <-deadline:
			t.Fatalf("missing disconnect event, saw %v", seen)
		}
	}
	require.Equal(t, 1, seen[events.TypePairingRequest])
	require.Equal(t, 1, seen[events.TypePaired])
	require.Equal(t, 2, seen[events.TypeTransferDone])
	require.GreaterOrEqual(t, seen[events.TypeTransferStart], 1)
	require.GreaterOrEqual(t, seen[events.TypeProgress], 1)
}

func TestRunSend_DirectAddrOverQUIC(t *testing.T) {
	tl := startListener(t, true, &transport.QUIC{}, nil)
	a := writeFile(t, t.TempDir(), "q.bin", 20_000)

	cfg := sendConfig(tl, a)
	cfg.Transport = &transport.QUIC{}
	cfg.Addr = "127.0.0.1"
	summary, err := RunSend(context.Background(), nil, cfg)
	require.NoError(t, err)
	require.Len(t, summary.Sent, 1)
	require.Equal(t, "127.0.0.1", summary.Peer.Address)

	got, err := os.ReadFile(filepath.Join(tl.dir, "q.bin"))
	require.NoError(t, err)
	require.Len(t, got, 20_000)
}

func TestRunSend_Rejected(t *testing.T) {
	tl := startListener(t, false, transport.TCP{}, nil)
	a := writeFile(t, t.TempDir(), "a.bin", 10)

	_, err := RunSend(context.Background(), nil, sendConfig(tl, a))
	require.ErrorIs(t, err, session.ErrRejected)
	_, statErr := os.Stat(filepath.Join(tl.dir, "a.bin"))
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestListener_SessionSurvivesGarbledPacket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tl := startListener(t, true, transport.TCP{}, nil)
	manager := session.NewManager("laptop", transport.TCP{}, nil)
	s, err := manager.Connect(ctx, discovery.Device{Name: "desk", Address: "127.0.0.1", Port: tl.transferPort})
	require.NoError(t, err)
	defer manager.Disconnect()
	ch := s.Channel()

	// A broken packet for the first file.
	require.NoError(t, ch.Send(ctx, protocol.FileTransfer{
		Type:         protocol.TypeFileTransfer,
		Filename:     "broken.bin",
		Size:         4,
		PacketSize:   transfer.MinPacketSize,
		TotalPackets: 1,
		Checksum:     strings.Repeat("0", 64),
	}))
	reply, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.True(t, reply.IsStatus(protocol.StatusReady))
	require.NoError(t, ch.Send(ctx, protocol.Packet{PacketNum: 0, Data: "zz-not-hex"}))
	reply, err = ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, protocol.KindError, reply.Kind)

	// The same session still carries the next file.
	path := writeFile(t, t.TempDir(), "good.bin", 30_000)
	res, err := transfer.NewEngine(transfer.Options{}).SendFile(ctx, ch, path)
	require.NoError(t, err)
	require.Equal(t, uint64(30_000), res.Metadata.Size)

	got, err := os.ReadFile(filepath.Join(tl.dir, "good.bin"))
	require.NoError(t, err)
	require.Len(t, got, 30_000)
	require.NoFileExists(t, filepath.Join(tl.dir, "broken.bin"))
	require.True(t, tl.l.Status().Connected)
}

func TestRunSend_NoDevices(t *testing.T) {
	silent, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	a := writeFile(t, t.TempDir(), "a.bin", 10)
	_, err = RunSend(context.Background(), nil, SendConfig{
		DiscoveryPort: silent.LocalAddr().(*net.UDPAddr).Port,
		TransferPort:  37778,
		ScanTimeout:   200 * time.Millisecond,
		BroadcastAddr: "127.0.0.1",
		Paths:         []string{a},
	})
	require.ErrorIs(t, err, ErrNoDevices)
}

func TestRunSend_BadPaths(t *testing.T) {
	_, err := RunSend(context.Background(), nil, SendConfig{})
	require.ErrorIs(t, err, ErrNoFiles)

	_, err = RunSend(context.Background(), nil, SendConfig{Paths: []string{filepath.Join(t.TempDir(), "missing")}})
	require.ErrorContains(t, err, "file not found")

	_, err = RunSend(context.Background(), nil, SendConfig{Paths: []string{t.TempDir()}})
	require.ErrorContains(t, err, "not a regular file")
}

func TestSelectDevice(t *testing.T) {
	devices := []discovery.Device{
		{Name: "Desk", Address: "192.168.1.10", Port: 37778},
		{Name: "Laptop", Address: "192.168.1.11", Port: 40000},
	}

	_, err := SelectDevice(nil, "", nil)
	require.ErrorIs(t, err, ErrNoDevices)

	dev, err := SelectDevice(devices[:1], "", nil)
	require.NoError(t, err)
	require.Equal(t, "Desk", dev.Name)

	for _, target := range []string{"laptop", "192.168.1.11", "192.168.1.11:40000"} {
		dev, err := SelectDevice(devices, target, nil)
		require.NoError(t, err, target)
		require.Equal(t, "Laptop", dev.Name, target)
	}

	_, err = SelectDevice(devices, "phone", nil)
	require.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = SelectDevice(devices, "", nil)
	require.ErrorIs(t, err, ErrAmbiguousDevice)

	dev, err = SelectDevice(devices, "", func([]discovery.Device) (int, error) { return 1, nil })
	require.NoError(t, err)
	require.Equal(t, "Laptop", dev.Name)

	_, err = SelectDevice(devices, "", func([]discovery.Device) (int, error) { return 5, nil })
	require.Error(t, err)
}

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		port     int
		wantFail bool
	}{
		{in: "192.168.1.5:4000", host: "192.168.1.5", port: 4000},
		{in: "192.168.1.5", host: "192.168.1.5", port: 37778},
		{in: "[::1]:9", host: "::1", port: 9},
		{in: "host:notaport", wantFail: true},
		{in: "host:70000", wantFail: true},
		{in: ":4000", wantFail: true},
	}
	for _, tc := range cases {
		host, port, err := parseAddr(tc.in, 37778)
		if tc.wantFail {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.host, host)
		require.Equal(t, tc.port, port)
	}
}

func TestFeedURL(t *testing.T) {
	u, err := FeedURL(":8090")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8090/events", u)

	u, err = FeedURL("192.168.1.5:8090")
	require.NoError(t, err)
	require.Equal(t, "ws://192.168.1.5:8090/events", u)

	_, err = FeedURL("nope")
	require.Error(t, err)
}

func TestLocalAddrs(t *testing.T) {
	addrs := LocalAddrs(37778)
	require.NotEmpty(t, addrs)
	for _, addr := range addrs {
		_, port, err := net.SplitHostPort(addr)
		require.NoError(t, err)
		require.Equal(t, "37778", port)
	}
}

func TestShouldUpdateProgress(t *testing.T) {
	var last int64
	now := time.Unix(1000, 0)
	require.True(t, shouldUpdateProgress(&last, now))
	require.False(t, shouldUpdateProgress(&last, now.Add(100*time.Millisecond)))
	require.True(t, shouldUpdateProgress(&last, now.Add(progressUpdateInterval)))
}

func TestReporter_Events(t *testing.T) {
	hub := events.NewHub()
	feed, cancel := hub.Subscribe()
	defer cancel()

	r := newReporter(context.Background(), "receiving", nil, hub)
	r.setSession("s1")
	r.observe(transfer.Progress{TransferID: "t1", Filename: "a", Packet: 1, TotalPackets: 2, Bytes: 10, TotalBytes: 20})
	r.observe(transfer.Progress{TransferID: "t1", Filename: "a", Packet: 2, TotalPackets: 2, Bytes: 20, TotalBytes: 20})
	r.finish("t1", "a", 20, nil)
	r.finish("t2", "b", 5, errors.New("boom"))

	var types []string
	for len(types) < 5 {
		select {
		case ev := <-feed:
			require.Equal(t, "s1", ev.SessionID)
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("got only %v", types)
		}
	}
	require.Equal(t, []string{
		events.TypeTransferStart,
		events.TypeProgress,
		events.TypeProgress,
		events.TypeTransferDone,
		events.TypeTransferFailed,
	}, types)

	view := r.tracker.View()
	require.Equal(t, "a", view.Filename)
	require.Equal(t, uint32(2), view.Packet)
}

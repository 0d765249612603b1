package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Murali47k/pig3on/pkg/protocol"
)

func startResponder(t *testing.T, name string, transferPort int) (*Responder, int) {
	t.Helper()
	r := &Responder{
		Identity:     Identity{Name: name, Version: "1.0.0"},
		TransferPort: transferPort,
		PollInterval: 50 * time.Millisecond,
	}
	require.NoError(t, r.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, r.Addr().(*net.UDPAddr).Port
}

func loopbackScanner(port int) *Scanner {
	return &Scanner{
		Identity:      Identity{Name: "scanner", Version: "1.0.0"},
		Port:          port,
		BroadcastAddr: "127.0.0.1",
		FallbackPort:  37778,
	}
}

// fakePeer answers every DISCOVER with the given raw replies.
func fakePeer(t *testing.T, replies ...[]byte) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			_, src, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			for _, reply := range replies {
				_, _ = conn.WriteTo(reply, src)
			}
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := protocol.Encode(v)
	require.NoError(t, err)
	return data
}

func TestScan_FindsResponder(t *testing.T) {
	_, port := startResponder(t, "laptop", 40001)

	devices, err := loopbackScanner(port).Scan(context.Background(), 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, Device{Name: "laptop", Address: "127.0.0.1", Port: 40001, Version: "1.0.0"}, devices[0])
	require.Equal(t, "127.0.0.1:40001", devices[0].HostPort())
}

func TestScan_NoPeersIsEmptyNotError(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	start := time.Now()
	devices, err := loopbackScanner(port).Scan(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, devices)
	require.Empty(t, devices)
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestScan_FirstResponsePerAddressWins(t *testing.T) {
	port := fakePeer(t,
		mustEncode(t, protocol.NewDiscoverResponse("first", 5000, "1.0.0")),
		mustEncode(t, protocol.NewDiscoverResponse("second", 6000, "1.0.0")),
	)

	devices, err := loopbackScanner(port).Scan(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "first", devices[0].Name)
	require.Equal(t, 5000, devices[0].Port)
}

func TestScan_SkipsGarbageAndFillsDefaults(t *testing.T) {
	port := fakePeer(t,
		[]byte("not json at all"),
		[]byte(`{"type":"DISCOVER","name":"echo","version":"1.0.0"}`),
		[]byte(`{"type":"DISCOVER_RESPONSE","version":"0.9"}`),
	)

	devices, err := loopbackScanner(port).Scan(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "Unknown", devices[0].Name)
	require.Equal(t, 37778, devices[0].Port)
	require.Equal(t, "0.9", devices[0].Version)
}

func TestScan_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loopbackScanner(9).Scan(ctx, time.Second)
	require.Error(t, err)
}

func TestResponder_IgnoresNonDiscover(t *testing.T) {
	_, port := startResponder(t, "desk", 40002)

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}

	_, err = conn.WriteTo([]byte("{broken"), dst)
	require.NoError(t, err)
	_, err = conn.WriteTo(mustEncode(t, protocol.NewDiscoverResponse("x", 1, "1")), dst)
	require.NoError(t, err)
	_, err = conn.WriteTo(mustEncode(t, protocol.NewDiscover("scanner", "1.0.0")), dst)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, maxDatagramSize)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	msg, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, protocol.KindDiscoverResponse, msg.Kind)
	require.Equal(t, "desk", msg.DiscoverResponse.Name)
	require.Equal(t, 40002, msg.DiscoverResponse.Port)

	// Only the DISCOVER is answered.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = conn.ReadFrom(buf)
	require.Error(t, err)
}

func TestResponder_StopsOnCancel(t *testing.T) {
	r := &Responder{Identity: Identity{Name: "n"}, PollInterval: 20 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("responder did not stop after cancel")
	}
	require.Nil(t, r.Addr())
}

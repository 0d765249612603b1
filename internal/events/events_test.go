package events

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.Len())

	hub.Publish(Event{Type: TypePaired, SessionID: "s1"})
	ev := <-events
	require.Equal(t, TypePaired, ev.Type)
	require.Equal(t, "s1", ev.SessionID)
	require.False(t, ev.Time.IsZero())

	cancel()
	cancel()
	require.Equal(t, 0, hub.Len())
	_, ok := <-events
	require.False(t, ok)
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(Event{Type: TypeProgress})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.Len(t, events, subscriberBuffer)
}

func TestHub_NilIsNoop(t *testing.T) {
	var hub *Hub
	var p Publisher = hub
	p.Publish(Event{Type: TypeDevice})
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	events, _ := hub.Subscribe()
	hub.Close()
	_, ok := <-events
	require.False(t, ok)

	late, _ := hub.Subscribe()
	_, ok = <-late
	require.False(t, ok)
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(Handler(hub, nil))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(Event{Type: TypeTransferDone, TransferID: "t1", Data: map[string]any{"file": "a.txt"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, TypeTransferDone, got["type"])
	require.Equal(t, "t1", got["transfer_id"])
	require.Equal(t, "a.txt", got["data"].(map[string]any)["file"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeListener_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, hub, nil) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestClient_ReadLoop(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(Handler(hub, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(Event{Type: TypePaired, SessionID: "s1"})
	hub.Publish(Event{Type: TypeDisconnected, SessionID: "s1"})
	hub.Close()

	var got []Event
	err = client.ReadLoop(ctx, func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, TypePaired, got[0].Type)
	require.Equal(t, "s1", got[1].SessionID)
}

func TestClient_ReadLoopCanceled(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(Handler(hub, nil))
	defer srv.Close()

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = client.ReadLoop(ctx, func(Event) {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_NotAFeed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.ErrorContains(t, err, "404")
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client reads a remote event feed.
type Client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Dial connects to the feed at feedURL (ws://host:port/events).
func Dial(ctx context.Context, feedURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, resp, err := dialer.DialContext(ctx, feedURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}
	return &Client{conn: conn, logger: logger}, nil
}

// ReadLoop calls onEvent for every event until the feed closes or ctx is
// done. A feed closed by the server returns nil.
func (c *Client) ReadLoop(ctx context.Context, onEvent func(Event)) error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	stop := context.AfterFunc(ctx, func() {
		// Closing the connection forces ReadMessage to unblock.
		c.conn.Close()
	})
	defer stop()

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Warn("invalid event", "error", err)
			continue
		}
		onEvent(ev)
	}
}

// Close says goodbye and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

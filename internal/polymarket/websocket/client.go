// Package websocket streams market channel events from Polymarket.
package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daszybak/polymarket_capture/internal/clock"
	"github.com/daszybak/polymarket_capture/internal/stream"
	"github.com/daszybak/polymarket_capture/internal/window"
)

const (
	HandshakeTimeout    = 30 * time.Second
	DefaultCloseTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	PingInterval        = 50 * time.Second

	// inboundBuffer is how many frames the reader may run ahead of Next.
	inboundBuffer  = 256
	maxLoggedFrame = 64
)

var errSessionClosed = errors.New("session closed")

var _ stream.Session = (*Client)(nil)

type Client struct {
	conn  *websocket.Conn
	clock clock.Clock
	log   *slog.Logger

	inbound chan frame
	// readErr is written by readLoop before inbound is closed.
	readErr error

	done   chan struct{}
	closed atomic.Bool
}

// frame is an inbound message stamped with its arrival time.
type frame struct {
	data []byte
	at   time.Time
}

// ControlMessage subscribes to or unsubscribes from a set of assets.
type ControlMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

func New(ctx context.Context, url string, endpoint string, c clock.Clock, logger *slog.Logger) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url+endpoint, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("couldn't dial %s: %w", url+endpoint, err)
	}
	logger.Debug("connected to websocket", "endpoint", endpoint, "status", resp.Status)

	client := &Client{
		conn:    conn,
		clock:   c,
		log:     logger,
		inbound: make(chan frame, inboundBuffer),
		done:    make(chan struct{}),
	}
	go client.readLoop()
	go client.pingLoop()

	return client, nil
}

func (c *Client) readLoop() {
	defer close(c.inbound)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.inbound <- frame{data: msg, at: c.clock.Now()}:
		case <-c.done:
			c.readErr = errSessionClosed
			return
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(DefaultWriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// Close sends a normal closure frame and releases the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(DefaultCloseTimeout),
	)
	if err != nil {
		c.log.Debug("failed to send close message", "error", err)
	}

	return c.conn.Close()
}

// Send writes a subscribe or unsubscribe message. On a closed session it
// only logs a warning.
func (c *Client) Send(ctx context.Context, tokens window.Tokens, op stream.Operation) error {
	if c.closed.Load() {
		c.log.Warn("unable to send control message, no open connection", "operation", op)
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("couldn't set write deadline: %w", err)
	}

	msg := ControlMessage{
		AssetsIDs: tokens.Slice(),
		Operation: string(op),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("couldn't send %s: %w", op, err)
	}
	return nil
}

// Next waits for the next JSON message, the end of the connection, or the
// deadline. Frames that are not JSON are logged and skipped. Frames are
// judged by when they arrived: one that arrived before the deadline is
// still delivered after it, one that arrived at or after it is dropped.
func (c *Client) Next(ctx context.Context, deadline time.Time) (stream.Event, error) {
	var expired <-chan time.Time

	for {
		var (
			f        frame
			ok       bool
			received bool
		)
		select {
		case f, ok = <-c.inbound:
			received = true
		default:
		}

		if !received {
			if !c.clock.Now().Before(deadline) {
				return stream.Deadline(), nil
			}
			if expired == nil {
				expired = c.clock.After(window.Until(c.clock, deadline))
			}
			select {
			case <-ctx.Done():
				return stream.Event{}, fmt.Errorf("waiting for message: %w", ctx.Err())
			case <-expired:
				// Queued frames may still predate the deadline.
				expired = nil
				continue
			case f, ok = <-c.inbound:
			}
		}

		if !ok {
			return stream.Lost(c.lostReason()), nil
		}
		if !f.at.Before(deadline) {
			c.log.Debug("dropping message received after deadline", "size", len(f.data))
			return stream.Deadline(), nil
		}
		record, err := Decode(f.data)
		if err != nil {
			c.log.Warn("skipping frame that is not JSON", "frame", truncate(f.data), "error", err)
			continue
		}
		return stream.Message(record), nil
	}
}

func (c *Client) lostReason() error {
	if c.readErr == nil {
		return errSessionClosed
	}
	return fmt.Errorf("connection closed: %w", c.readErr)
}

// Decode validates a frame as JSON and compacts it onto a single line.
func Decode(raw []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(raw)); err != nil {
		return nil, fmt.Errorf("couldn't decode message: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

func truncate(raw []byte) string {
	if len(raw) > maxLoggedFrame {
		return string(raw[:maxLoggedFrame]) + "..."
	}
	return string(raw)
}

// Dialer opens market channel sessions against one endpoint.
type Dialer struct {
	URL      string
	Endpoint string
	Clock    clock.Clock
	Logger   *slog.Logger
}

var _ stream.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context) (stream.Session, error) {
	c := d.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return New(ctx, d.URL, d.Endpoint, c, logger)
}

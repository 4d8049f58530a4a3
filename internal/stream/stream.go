// Package stream describes a live market-data session independent of the
// transport that carries it.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/daszybak/polymarket_capture/internal/window"
)

// Operation is the verb of a control message.
type Operation string

const (
	Subscribe   Operation = "subscribe"
	Unsubscribe Operation = "unsubscribe"
)

// Kind tags which variant an Event holds.
type Kind int

const (
	// MessageReceived carries one decoded inbound message in Record.
	MessageReceived Kind = iota + 1
	// DeadlineReached means the deadline passed before another message.
	DeadlineReached
	// ConnectionLost means the peer ended the connection; Reason says why.
	ConnectionLost
)

func (k Kind) String() string {
	switch k {
	case MessageReceived:
		return "message_received"
	case DeadlineReached:
		return "deadline_reached"
	case ConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is the result of waiting on a Session.
type Event struct {
	Kind   Kind
	Record json.RawMessage
	Reason error
}

func Message(record json.RawMessage) Event {
	return Event{Kind: MessageReceived, Record: record}
}

func Deadline() Event {
	return Event{Kind: DeadlineReached}
}

func Lost(reason error) Event {
	return Event{Kind: ConnectionLost, Reason: reason}
}

// Session is one live connection to the streaming endpoint. A Session is
// never repaired: once it reports ConnectionLost it is closed and replaced.
type Session interface {
	// Send writes a control message for tokens.
	Send(ctx context.Context, tokens window.Tokens, op Operation) error
	// Next blocks until a message arrives, the peer goes away, or deadline
	// passes. The error is non-nil only when ctx is done.
	Next(ctx context.Context, deadline time.Time) (Event, error)
	// Close releases the connection. Closing twice is safe.
	Close() error
}

// Dialer opens new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}

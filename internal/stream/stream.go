// Package stream implements the long-lived push connections that deliver live
// room messages. A Dialer opens a connection and returns a Handle whose event
// channel carries one Event per payload; transport-level reconnects happen
// inside the handle, bounded by a retry budget. The channel is closed when the
// connection loop stops, whether through Stop, a fatal error, or an exhausted
// budget.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventKind classifies transport events.
type EventKind int

const (
	// EventItem carries one raw payload (a JSON document for the chat service).
	EventItem EventKind = iota
	// EventError reports a fatal transport error; the loop stops after it.
	EventError
	// EventMaxReconnects reports that the reconnect budget is exhausted; the loop stops after it.
	EventMaxReconnects
)

func (k EventKind) String() string {
	switch k {
	case EventItem:
		return "item"
	case EventError:
		return "error"
	case EventMaxReconnects:
		return "max_reconnects"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted by a Handle.
type Event struct {
	Kind EventKind
	// Payload is the item body for EventItem and the server's response body for EventError.
	Payload []byte
	// Err is set for EventError.
	Err error
	// Timeout is the last backoff delay used before giving up (EventMaxReconnects).
	Timeout time.Duration
	// Retries is the number of reconnect attempts made (EventMaxReconnects).
	Retries int
}

// Target describes where and how to connect.
type Target struct {
	Host     string
	Path     string
	Username string
	Password string
	// Timeout bounds each connection attempt up to the response headers.
	Timeout time.Duration
	// IdleTimeout drops a connection that sends nothing, keep-alives included,
	// for this long. Zero means Timeout.
	IdleTimeout time.Duration
	TLS         bool
}

// ErrIdle is returned by a connection that went silent past its idle timeout.
// The handle treats it as a lost connection.
var ErrIdle = errors.New("stream: connection idle")

func (t Target) idleTimeout() time.Duration {
	if t.IdleTimeout > 0 {
		return t.IdleTimeout
	}
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// Handle is a running stream.
type Handle interface {
	// Events delivers payloads in arrival order. It is closed when the stream stops.
	Events() <-chan Event
	// Stop tears the connection down. It does not wait for the loop to exit and is idempotent.
	Stop()
}

// Dialer opens streams. The first connection attempt happens inside Dial;
// later drops are retried by the returned Handle.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Handle, error)
}

// StatusError is a non-retryable HTTP status returned by the streaming endpoint.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("stream: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("stream: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retry bounds reconnect attempts after a dropped connection.
type Retry struct {
	// MaxRetries is the number of reconnects tolerated without a healthy
	// connection in between. Zero means DefaultMaxRetries.
	MaxRetries int
	// Backoff is the linear backoff step. Zero means DefaultBackoff.
	Backoff time.Duration
	// MaxBackoff caps the delay between attempts. Zero means DefaultMaxBackoff.
	MaxBackoff time.Duration
	// StableAfter is how long a connection must stay up without delivering
	// anything before the budget is restored. Zero means DefaultStableAfter.
	StableAfter time.Duration
}

// Defaults for Retry and Target.
const (
	DefaultMaxRetries  = 10
	DefaultBackoff     = 250 * time.Millisecond
	DefaultMaxBackoff  = 16 * time.Second
	DefaultTimeout     = 6 * time.Second
	DefaultStableAfter = time.Minute
)

func (r Retry) withDefaults() Retry {
	if r.MaxRetries <= 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.Backoff <= 0 {
		r.Backoff = DefaultBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = DefaultMaxBackoff
	}
	if r.StableAfter <= 0 {
		r.StableAfter = DefaultStableAfter
	}
	return r
}

// delay returns the wait before reconnect attempt n (1-based).
func (r Retry) delay(attempt int) time.Duration {
	d := time.Duration(attempt) * r.Backoff
	if d > r.MaxBackoff {
		return r.MaxBackoff
	}
	return d
}

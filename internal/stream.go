// Package stream defines domain types and interfaces for the Boreas
// streaming client. This package has no project imports -- it is the
// dependency root.
package stream

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// --- Wire frames ---

// Frame is one parsed server-sent event: a single delimiter-bounded block
// of the wire format after field parsing. Frames are value types; they are
// produced by the parser, consumed once by the typed event layer, and
// discarded.
type Frame struct {
	ID    string        // last "id:" line in the block, "" when absent
	Event string        // last "event:" line in the block, "" when absent
	Data  string        // "data:" lines joined with "\n", in arrival order
	Retry time.Duration // server-requested reconnect interval, 0 when absent
}

// --- Connection lifecycle ---

// ConnState is the lifecycle state of a single logical stream connection.
// Exactly one instance exists per connection; only the connection itself
// mutates it.
type ConnState int

const (
	// StateDisconnected is the initial state before Connect.
	StateDisconnected ConnState = iota
	// StateConnecting means the transport open is in flight.
	StateConnecting
	// StateConnected means frames are flowing.
	StateConnected
	// StateReconnecting means a backoff timer is pending after an
	// unexpected drop.
	StateReconnecting
	// StateClosed is terminal: explicit close or retries exhausted.
	// A new connection instance is required afterwards.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReconnectPolicy configures exponential backoff for a dropped stream.
// Immutable per connection instance.
type ReconnectPolicy struct {
	BaseInterval time.Duration // first retry delay
	MaxAttempts  int           // consecutive failures before giving up
	Multiplier   float64       // growth factor per attempt
}

// DefaultReconnectPolicy returns the standard policy: 5s base, 5 attempts,
// doubling each time (5s, 10s, 20s, 40s, 80s).
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseInterval: 5 * time.Second,
		MaxAttempts:  5,
		Multiplier:   2,
	}
}

// Delay returns the backoff delay for the given 1-based attempt number:
// BaseInterval * Multiplier^(attempt-1).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseInterval) * math.Pow(p.Multiplier, float64(attempt-1)))
}

// --- Typed events ---

// EventKind discriminates the application-level stream protocol.
type EventKind int

const (
	// EventStart marks the beginning of a streamed answer.
	EventStart EventKind = iota
	// EventToken carries one content fragment.
	EventToken
	// EventDone marks successful completion of a logical request.
	EventDone
	// EventError carries a protocol-level application error.
	EventError
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a typed application event interpreted from a Frame's payload.
// Done and Error terminate the logical request identified by RequestID but
// do not close the underlying transport.
type Event struct {
	Kind      EventKind
	Content   string          // token text, set for EventToken
	Message   string          // error description, set for EventError
	RequestID string          // from payload, frame id, or generated
	Metadata  json.RawMessage // verbatim "metadata" object, nil when absent
}

// --- Transcripts ---

// Transcript is one completed question/answer exchange as recorded after
// the stream for its request terminates.
type Transcript struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Status     string    `json:"status"` // "done" or "error"
	Error      string    `json:"error,omitempty"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder persists completed transcripts. Implementations must be safe
// for use from a single stream goroutine; nil recorders are allowed and
// mean no persistence.
type Recorder interface {
	SaveTranscript(ctx context.Context, t *Transcript) error
}

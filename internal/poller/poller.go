// Package poller defines the pluggable, non-blocking-from-the-service's-
// perspective transport abstraction (spec §4.D). Concrete implementations
// live in poller/tcp and poller/ws.
package poller

import "github.com/webitel/corehub/internal/corerr"

// EventKind tags which transport event occurred.
type EventKind int8

const (
	EventAccept EventKind = iota
	EventConnected
	EventReadable
	EventWritable
	EventClosed
)

// Event is delivered over the channel returned by Poller.Events. The
// service loop's poll step (spec §4.G step 3) selects on this channel;
// nothing about a Poller implementation may block that select beyond the
// configured poll timeout.
type Event struct {
	Kind       EventKind
	ListenerID uint64
	SessionID  uint64
	PeerAddr   string
	Bytes      []byte
	Reason     *corerr.Error
}

// Poller is the unified interface over the platform's readiness mechanism,
// per spec §4.D. Go exposes no user-mode non-blocking poll primitive to
// application code, so "non-blocking" here means "never blocks the owning
// service goroutine": each connection's actual blocking I/O lives on its
// own goroutine that only ever feeds Events().
type Poller interface {
	// Listen opens a listener and returns its id. Accepted connections are
	// announced as EventAccept.
	Listen(addr string) (listenerID uint64, err error)

	// Connect dials addr and returns the new session's id; an
	// EventConnected for it follows on Events(). A failed dial is returned
	// as an error and emits no event.
	Connect(addr string) (sessionID uint64, err error)

	// Send queues bytes for sessionID. Returns a *corerr.Error with
	// KindWouldBlock once the session's outbound buffer exceeds its
	// high-water mark (spec §4.D's back-pressure rule); the caller must
	// propagate that to the component, not retry internally.
	Send(sessionID uint64, data []byte) error

	// Close tears down sessionID. lingerMs>0 allows queued sends to flush
	// before the underlying connection closes.
	Close(sessionID uint64, lingerMs int64) error

	// Events is the single channel all accept/connect/readable/writable/
	// closed notifications arrive on.
	Events() <-chan Event

	// Shutdown closes every listener and session and closes the Events
	// channel.
	Shutdown() error
}

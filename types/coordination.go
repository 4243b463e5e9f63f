package types

import "context"

// CreateMode selects the lifetime of a node created through a CoordinationClient.
type CreateMode int

const (
	// Persistent nodes live until explicitly deleted.
	Persistent CreateMode = iota

	// Ephemeral nodes are removed by the coordination service when the session
	// that created them ends.
	Ephemeral
)

// String returns the string representation of the create mode.
func (m CreateMode) String() string {
	switch m {
	case Persistent:
		return "persistent"
	case Ephemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// SessionEventType classifies session notifications emitted by a CoordinationClient.
type SessionEventType int

const (
	// SessionEstablished is emitted when Connect obtains a new session.
	SessionEstablished SessionEventType = iota

	// SessionExpired is emitted when the coordination service drops the session.
	// Every ephemeral node owned by the session is gone once this is observed.
	SessionExpired

	// SessionClosed is emitted when the client is closed locally.
	SessionClosed
)

// String returns the string representation of the event type.
func (t SessionEventType) String() string {
	switch t {
	case SessionEstablished:
		return "established"
	case SessionExpired:
		return "expired"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionEvent is a session lifecycle notification.
type SessionEvent struct {
	Type      SessionEventType
	SessionID string
}

// WatchEvent is delivered at most once on the channel returned by WatchChildren.
type WatchEvent struct {
	// Path is the watched parent path.
	Path string
	// Err is set when the watch was torn down instead of triggered
	// (for example because the session ended).
	Err error
}

// CoordinationClient is the coordination-service primitive the participant runs on.
//
// The path namespace is hierarchical ("/cluster/INSTANCES/inst/MESSAGES"). A node may
// exist without its parent; Children lists the direct children of a path and
// returns ErrNoNode only when neither the node nor any child exists.
//
// Implementations must:
//   - Make Create an atomic create-if-absent returning ErrNodeExists on conflict
//   - Remove ephemeral nodes once the creating session ends
//   - Deliver child watches at most once (one-shot), re-armed by calling WatchChildren again
//   - Honor context deadlines on every round trip
//
// Shipped implementations: coordination/memory, coordination/natskv, coordination/redis.
type CoordinationClient interface {
	// Connect establishes a new session and returns its id.
	Connect(ctx context.Context) (string, error)

	// Close ends the session. Ephemeral nodes owned by the session are removed.
	Close(ctx context.Context) error

	// IsConnected reports whether a session is currently held.
	IsConnected() bool

	// SessionID returns the current session id ("" when disconnected).
	SessionID() string

	// SessionEvents returns a channel of session lifecycle notifications.
	// The channel is never closed; events are dropped if nobody is receiving.
	SessionEvents() <-chan SessionEvent

	// Exists reports whether a node exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Create creates a node at path, failing with ErrNodeExists if one exists.
	Create(ctx context.Context, path string, data []byte, mode CreateMode) error

	// Get returns the payload of the node at path, or ErrNoNode.
	Get(ctx context.Context, path string) ([]byte, error)

	// Set replaces the payload of an existing node, or returns ErrNoNode.
	Set(ctx context.Context, path string, data []byte) error

	// Delete removes the node at path, or returns ErrNoNode.
	Delete(ctx context.Context, path string) error

	// Children lists the names of the direct children of path.
	Children(ctx context.Context, path string) ([]string, error)

	// WatchChildren lists the direct children of path and arms a one-shot watch
	// that fires when a child is added or removed. The watch is armed before the
	// listing is taken so no change between the two is lost.
	WatchChildren(ctx context.Context, path string) ([]string, <-chan WatchEvent, error)
}

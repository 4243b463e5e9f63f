package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the helix participant.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Manager, Session, Engine, Coordination)
//   - Use consistent messages across similar error types

// Manager errors - Public API errors returned by Manager component.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClientRequired is returned when the coordination client is nil.
	ErrClientRequired = errors.New("coordination client is required")

	// ErrFactoryRequired is returned when the state model factory is nil.
	ErrFactoryRequired = errors.New("state model factory is required")

	// ErrNotConnected is returned when an operation requires a live session.
	ErrNotConnected = errors.New("participant not connected")

	// ErrUnsupportedInstanceType is returned for instance types other than PARTICIPANT.
	ErrUnsupportedInstanceType = errors.New("unsupported instance type")
)

// Session errors - Session bootstrap pipeline errors.
var (
	// ErrDuplicateInstance is returned when a live instance record already exists
	// for the same (cluster, instance) pair.
	ErrDuplicateInstance = errors.New("duplicate live instance")

	// ErrCoordinationService indicates a connectivity or RPC failure talking to
	// the coordination service.
	ErrCoordinationService = errors.New("coordination service error")

	// ErrSessionTimeout is returned when a bounded coordination round trip expires.
	ErrSessionTimeout = errors.New("session timeout")

	// ErrSessionAborted is returned when the pipeline is cancelled by Disconnect
	// or by session loss before it completes.
	ErrSessionAborted = errors.New("session establishment aborted")

	// ErrSessionExpired is reported when the coordination service expires the session.
	ErrSessionExpired = errors.New("session expired")
)

// Engine errors - Transition dispatch errors. Each is isolated to one message.
var (
	// ErrUnsupportedTransition is returned when no handler is registered for the
	// requested (from, to) pair.
	ErrUnsupportedTransition = errors.New("unsupported transition")

	// ErrStaleMessage is returned when a message's from-state does not match the
	// partition's current state, or the message targets another session.
	ErrStaleMessage = errors.New("stale message")

	// ErrTransitionFailed is returned when a transition handler returns an error.
	ErrTransitionFailed = errors.New("transition handler failed")

	// ErrInvalidMessage is returned when a message record cannot be decoded.
	ErrInvalidMessage = errors.New("invalid message")
)

// Coordination errors - Node-level errors every CoordinationClient adapter returns.
var (
	// ErrNodeExists is returned by Create when the path already holds a node.
	ErrNodeExists = errors.New("node already exists")

	// ErrNoNode is returned when the path does not hold a node.
	ErrNoNode = errors.New("node does not exist")

	// ErrInvalidPath is returned for paths the adapter cannot represent.
	ErrInvalidPath = errors.New("invalid node path")

	// ErrClientClosed is returned for operations on a closed client.
	ErrClientClosed = errors.New("coordination client closed")
)

// StepError reports which session bootstrap step failed.
type StepError struct {
	// Step is the name of the failed pipeline step.
	Step string
	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("session step %q failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying failure.
func (e *StepError) Unwrap() error {
	return e.Err
}

// TransitionError carries the partition and transition a dispatch failure belongs to.
type TransitionError struct {
	Partition string
	From      string
	To        string
	// Current is the partition state observed when the message was rejected.
	Current string
	Err     error
}

// Error implements error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("partition %s: %s -> %s (current %s): %v", e.Partition, e.From, e.To, e.Current, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

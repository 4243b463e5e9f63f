package types

import "context"

// Hooks defines callbacks for Manager lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the session pipeline or message dispatch. A hook may
// outlive the operation that triggered it, so its context can already be done.
//
// Hook errors are logged but never fail participant operations.
//
// Example:
//
//	hooks := &helix.Hooks{
//	    OnTransition: func(ctx context.Context, partition, from, to string) error {
//	        log.Printf("%s: %s -> %s", partition, from, to)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnStateChanged is called when the session state transitions.
	OnStateChanged func(ctx context.Context, from, to SessionState) error

	// OnTransition is called after a partition completes a state transition.
	OnTransition func(ctx context.Context, partition, from, to string) error

	// OnError is called for recoverable errors: pre-connect callback failures,
	// per-message dispatch failures and session loss.
	OnError func(ctx context.Context, err error) error
}

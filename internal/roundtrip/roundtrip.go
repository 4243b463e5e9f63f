// Package roundtrip bounds coordination-service calls and classifies their errors.
package roundtrip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/helix/types"
)

// Do runs fn with a per-call deadline and maps its error onto the participant
// error taxonomy.
//
// Classification:
//   - Node errors (ErrNodeExists, ErrNoNode, ErrInvalidPath) pass through unchanged
//   - An expired per-call deadline becomes types.ErrSessionTimeout
//   - Cancellation of the parent context is returned as-is
//   - Anything else is wrapped with types.ErrCoordinationService
//
// Parameters:
//   - ctx: Parent context (cancelled by Disconnect)
//   - timeout: Per-call bound (<= 0 disables the bound)
//   - op: Operation name used in error messages (e.g. "exists /c/LIVEINSTANCES/i")
//   - fn: The round trip
func Do(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

// Value is Do for round trips that return a result.
func Value[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := fn(callCtx)
	if err == nil {
		return result, nil
	}

	return zero, Classify(ctx, op, err)
}

// Classify maps a raw adapter error onto the participant error taxonomy.
func Classify(parent context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrNodeExists),
		errors.Is(err, types.ErrNoNode),
		errors.Is(err, types.ErrInvalidPath):
		return err
	case parent.Err() != nil:
		return fmt.Errorf("%s: %w", op, parent.Err())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, types.ErrSessionTimeout):
		return fmt.Errorf("%w: %s: %w", types.ErrSessionTimeout, op, err)
	case errors.Is(err, types.ErrCoordinationService):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", types.ErrCoordinationService, op, err)
	}
}

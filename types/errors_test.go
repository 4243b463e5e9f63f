package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("all errors are distinct", func(t *testing.T) {
		allErrors := []error{
			ErrInvalidConfig,
			ErrClientRequired,
			ErrFactoryRequired,
			ErrNotConnected,
			ErrUnsupportedInstanceType,
			ErrDuplicateInstance,
			ErrCoordinationService,
			ErrSessionTimeout,
			ErrSessionAborted,
			ErrSessionExpired,
			ErrUnsupportedTransition,
			ErrStaleMessage,
			ErrTransitionFailed,
			ErrInvalidMessage,
			ErrNodeExists,
			ErrNoNode,
			ErrInvalidPath,
			ErrClientClosed,
		}

		for i, a := range allErrors {
			for j, b := range allErrors {
				if i != j {
					require.False(t, errors.Is(a, b), "%v should not match %v", a, b)
				}
			}
		}
	})
}

func TestStepError(t *testing.T) {
	err := &StepError{Step: "create-live-instance", Err: fmt.Errorf("%w: boom", ErrCoordinationService)}

	require.ErrorIs(t, err, ErrCoordinationService)
	require.Contains(t, err.Error(), "create-live-instance")

	var stepErr *StepError
	wrapped := fmt.Errorf("connect: %w", err)
	require.ErrorAs(t, wrapped, &stepErr)
	require.Equal(t, "create-live-instance", stepErr.Step)
}

func TestTransitionError(t *testing.T) {
	err := &TransitionError{Partition: "p0", From: "ONLINE", To: "OFFLINE", Current: "ONLINE", Err: ErrUnsupportedTransition}

	require.ErrorIs(t, err, ErrUnsupportedTransition)
	require.NotErrorIs(t, err, ErrStaleMessage)
	require.Equal(t, "partition p0: ONLINE -> OFFLINE (current ONLINE): unsupported transition", err.Error())
}

package roundtrip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arloliu/helix/types"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		err := Do(t.Context(), time.Second, "noop", func(context.Context) error { return nil })
		require.NoError(t, err)
	})

	t.Run("node errors pass through", func(t *testing.T) {
		err := Do(t.Context(), time.Second, "create", func(context.Context) error { return types.ErrNodeExists })
		require.ErrorIs(t, err, types.ErrNodeExists)
		require.NotErrorIs(t, err, types.ErrCoordinationService)
	})

	t.Run("deadline becomes session timeout", func(t *testing.T) {
		err := Do(t.Context(), 20*time.Millisecond, "exists", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.ErrorIs(t, err, types.ErrSessionTimeout)
		require.Contains(t, err.Error(), "exists")
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := Do(ctx, time.Second, "exists", func(ctx context.Context) error { return ctx.Err() })
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, types.ErrSessionTimeout)
	})

	t.Run("other errors are coordination errors", func(t *testing.T) {
		boom := errors.New("connection refused")
		err := Do(t.Context(), time.Second, "get", func(context.Context) error { return boom })
		require.ErrorIs(t, err, types.ErrCoordinationService)
		require.ErrorIs(t, err, boom)
	})
}

func TestValue(t *testing.T) {
	got, err := Value(t.Context(), time.Second, "children", func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)

	got, err = Value(t.Context(), time.Second, "children", func(context.Context) ([]string, error) {
		return []string{"partial"}, types.ErrNoNode
	})
	require.ErrorIs(t, err, types.ErrNoNode)
	require.Nil(t, got)
}

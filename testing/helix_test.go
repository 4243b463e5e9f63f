package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helix/coordination/memory"
	"github.com/arloliu/helix/internal/liveness"
	"github.com/arloliu/helix/internal/messaging"
	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/types"
)

func connectedClient(t *testing.T) *memory.Client {
	t.Helper()

	c := memory.NewClient(nil)
	_, err := c.Connect(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return c
}

func TestEnqueueMessage(t *testing.T) {
	c := connectedClient(t)
	ctx := t.Context()

	sent, err := EnqueueMessage(ctx, c, "foo", "bar", types.Message{
		Resource:  "db",
		Partition: "db_0",
		FromState: "OFFLINE",
		ToState:   "ONLINE",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)
	require.Equal(t, types.MessageTypeStateTransition, sent.Type)
	require.NotZero(t, sent.CreateTimestamp)

	pending, err := PendingMessages(ctx, c, "foo", "bar")
	require.NoError(t, err)
	require.Equal(t, []string{sent.ID}, pending)

	data, err := c.Get(ctx, paths.Message("foo", "bar", sent.ID))
	require.NoError(t, err)
	got, err := messaging.DecodeMessage(sent.ID, data)
	require.NoError(t, err)
	require.Equal(t, "db_0", got.Partition)
	require.Equal(t, "ONLINE", got.ToState)

	t.Run("second message reuses queue node", func(t *testing.T) {
		_, err := EnqueueMessage(ctx, c, "foo", "bar", types.Message{Partition: "db_1", FromState: "OFFLINE", ToState: "ONLINE"})
		require.NoError(t, err)

		pending, err := PendingMessages(ctx, c, "foo", "bar")
		require.NoError(t, err)
		require.Len(t, pending, 2)
	})
}

func TestPendingMessages_EmptyQueue(t *testing.T) {
	c := connectedClient(t)

	pending, err := PendingMessages(t.Context(), c, "foo", "nobody")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestReadLiveInstance(t *testing.T) {
	c := connectedClient(t)
	ctx := t.Context()

	rec := liveness.LiveInstance{InstanceName: "bar", Version: "v", RuntimeName: "1@h", SessionID: c.SessionID()}
	data, err := rec.Marshal()
	require.NoError(t, err)
	require.NoError(t, c.Create(ctx, paths.LiveInstance("foo", "bar"), data, types.Ephemeral))

	got, err := ReadLiveInstance(ctx, c, "foo", "bar")
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestReadCurrentStates(t *testing.T) {
	c := connectedClient(t)
	ctx := t.Context()

	rec := types.NewRecord("db")
	rec.MapFields["db_0"] = map[string]string{"CURRENT_STATE": "ONLINE"}
	data, err := rec.Marshal()
	require.NoError(t, err)
	require.NoError(t, c.Create(ctx, paths.CurrentState("foo", "bar", "s1", "db"), data, types.Persistent))

	states, err := ReadCurrentStates(ctx, c, "foo", "bar", "s1", "db")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"db_0": "ONLINE"}, states)
}

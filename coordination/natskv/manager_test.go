package natskv_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/helix"
	"github.com/arloliu/helix/coordination/natskv"
	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/statemodel"
	helixtest "github.com/arloliu/helix/testing"
	"github.com/arloliu/helix/types"
)

func TestManager_OverNATS(t *testing.T) {
	_, nc := helixtest.StartEmbeddedNATS(t)
	ctx := t.Context()

	newClient := func() *natskv.Client {
		c, err := natskv.New(ctx, nc, natskv.Config{
			SessionTTL: 3 * time.Second,
			Storage:    jetstream.MemoryStorage,
		})
		require.NoError(t, err)

		return c
	}

	noop := func(context.Context, types.Message, types.NotificationContext) error { return nil }
	def, err := statemodel.NewDefinition("OnlineOffline", []string{"OFFLINE", "ONLINE"},
		statemodel.WithTransition("OFFLINE", "ONLINE", noop),
		statemodel.WithTransition("ONLINE", "OFFLINE", noop),
	)
	require.NoError(t, err)

	cfg := helix.TestConfig()
	cfg.ClusterName = "foo"
	cfg.InstanceName = "bar"

	mgr, err := helix.NewManager(&cfg, newClient(), statemodel.NewFactory(def),
		helix.WithLogger(logging.NewTest(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Disconnect(context.Background()) })

	controller := newClient()
	_, err = controller.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = controller.Close(context.Background()) })

	require.NoError(t, mgr.Connect(ctx))
	require.True(t, mgr.IsConnected())

	live, err := helixtest.ReadLiveInstance(ctx, controller, "foo", "bar")
	require.NoError(t, err)
	require.Equal(t, mgr.SessionID(), live.SessionID)

	_, err = helixtest.EnqueueMessage(ctx, controller, "foo", "bar", types.Message{
		Resource:      "db",
		Partition:     "db_0",
		FromState:     "OFFLINE",
		ToState:       "ONLINE",
		StateModelDef: "OnlineOffline",
		TargetSession: mgr.SessionID(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, ok := mgr.CurrentState("db_0")
		return ok && state == "ONLINE"
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		states, err := helixtest.ReadCurrentStates(ctx, controller, "foo", "bar", mgr.SessionID(), "db")
		return err == nil && states["db_0"] == "ONLINE"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, mgr.Disconnect(ctx))

	ok, err := controller.Exists(ctx, "/foo/LIVEINSTANCES/bar")
	require.NoError(t, err)
	require.False(t, ok)
}

package statemodel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arloliu/helix/types"
	"github.com/stretchr/testify/require"
)

func transitionMsg(partition, from, to string) types.Message {
	return types.Message{
		ID:        partition + "-" + from + "-" + to,
		Type:      types.MessageTypeStateTransition,
		Resource:  "db",
		Partition: partition,
		FromState: from,
		ToState:   to,
	}
}

func onlineOffline(t *testing.T, opts ...DefinitionOption) *Definition {
	t.Helper()

	def, err := NewDefinition("OnlineOffline", []string{"OFFLINE", "ONLINE"}, opts...)
	require.NoError(t, err)

	return def
}

func TestStateModel_Transition(t *testing.T) {
	var calls []string
	def := onlineOffline(t, WithTransition("OFFLINE", "ONLINE",
		func(_ context.Context, msg types.Message, nctx types.NotificationContext) error {
			calls = append(calls, msg.Partition+"@"+nctx.InstanceName)
			return nil
		}))

	m := NewFactory(def).CreateNewStateModel("db_0")
	require.Equal(t, "db_0", m.Partition())
	require.Equal(t, "OFFLINE", m.CurrentState())

	err := m.Transition(t.Context(), transitionMsg("db_0", "OFFLINE", "ONLINE"), types.NotificationContext{InstanceName: "i1"})
	require.NoError(t, err)
	require.Equal(t, "ONLINE", m.CurrentState())
	require.Equal(t, []string{"db_0@i1"}, calls)
}

func TestStateModel_UnsupportedTransition(t *testing.T) {
	def := onlineOffline(t, WithTransition("OFFLINE", "ONLINE", noopHandler))
	m := NewFactory(def).CreateNewStateModel("db_0")
	require.NoError(t, m.SetCurrentState("ONLINE"))

	err := m.Transition(t.Context(), transitionMsg("db_0", "ONLINE", "OFFLINE"), types.NotificationContext{})
	require.ErrorIs(t, err, types.ErrUnsupportedTransition)
	require.Equal(t, "ONLINE", m.CurrentState())

	var te *types.TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "db_0", te.Partition)
	require.Equal(t, "ONLINE", te.From)
	require.Equal(t, "OFFLINE", te.To)
}

func TestStateModel_StaleMessage(t *testing.T) {
	called := false
	def := onlineOffline(t,
		WithTransition("OFFLINE", "ONLINE", noopHandler),
		WithTransition("ONLINE", "OFFLINE", func(context.Context, types.Message, types.NotificationContext) error {
			called = true
			return nil
		}),
	)
	m := NewFactory(def).CreateNewStateModel("db_0")

	err := m.Transition(t.Context(), transitionMsg("db_0", "ONLINE", "OFFLINE"), types.NotificationContext{})
	require.ErrorIs(t, err, types.ErrStaleMessage)
	require.False(t, called)
	require.Equal(t, "OFFLINE", m.CurrentState())
}

func TestStateModel_HandlerFailure(t *testing.T) {
	boom := errors.New("disk full")

	t.Run("error", func(t *testing.T) {
		def := onlineOffline(t, WithTransition("OFFLINE", "ONLINE",
			func(context.Context, types.Message, types.NotificationContext) error { return boom }))
		m := NewFactory(def).CreateNewStateModel("db_0")

		err := m.Transition(t.Context(), transitionMsg("db_0", "OFFLINE", "ONLINE"), types.NotificationContext{})
		require.ErrorIs(t, err, types.ErrTransitionFailed)
		require.ErrorIs(t, err, boom)
		require.Equal(t, "OFFLINE", m.CurrentState())
	})

	t.Run("panic", func(t *testing.T) {
		def := onlineOffline(t, WithTransition("OFFLINE", "ONLINE",
			func(context.Context, types.Message, types.NotificationContext) error { panic("bad handler") }))
		m := NewFactory(def).CreateNewStateModel("db_0")

		err := m.Transition(t.Context(), transitionMsg("db_0", "OFFLINE", "ONLINE"), types.NotificationContext{})
		require.ErrorIs(t, err, types.ErrTransitionFailed)
		require.Contains(t, err.Error(), "bad handler")
		require.Equal(t, "OFFLINE", m.CurrentState())
	})
}

func TestStateModel_SetCurrentState(t *testing.T) {
	m := NewFactory(onlineOffline(t)).CreateNewStateModel("db_0")

	require.NoError(t, m.SetCurrentState("ONLINE"))
	require.Equal(t, "ONLINE", m.CurrentState())

	err := m.SetCurrentState("DROPPED")
	require.ErrorIs(t, err, ErrUnknownState)
	require.Equal(t, "ONLINE", m.CurrentState())
}

func TestStateModel_ConcurrentTransitionsSerialize(t *testing.T) {
	var (
		mu     sync.Mutex
		active int
		maxAct int
	)
	track := func(context.Context, types.Message, types.NotificationContext) error {
		mu.Lock()
		active++
		maxAct = max(maxAct, active)
		mu.Unlock()

		mu.Lock()
		active--
		mu.Unlock()

		return nil
	}

	def := onlineOffline(t,
		WithTransition("OFFLINE", "ONLINE", track),
		WithTransition("ONLINE", "OFFLINE", track),
	)
	m := NewFactory(def).CreateNewStateModel("db_0")

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			_ = m.Transition(t.Context(), transitionMsg("db_0", "OFFLINE", "ONLINE"), types.NotificationContext{})
			_ = m.Transition(t.Context(), transitionMsg("db_0", "ONLINE", "OFFLINE"), types.NotificationContext{})
		})
	}
	wg.Wait()

	require.Equal(t, 1, maxAct)
	require.Contains(t, []string{"OFFLINE", "ONLINE"}, m.CurrentState())
}

package statemodel

import (
	"context"
	"testing"

	"github.com/arloliu/helix/types"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, types.Message, types.NotificationContext) error { return nil }

func TestNewDefinition(t *testing.T) {
	t.Run("defaults to OFFLINE", func(t *testing.T) {
		def, err := NewDefinition("OnlineOffline", []string{"OFFLINE", "ONLINE"},
			WithTransition("OFFLINE", "ONLINE", noopHandler),
		)
		require.NoError(t, err)
		require.Equal(t, "OnlineOffline", def.Name())
		require.Equal(t, DefaultInitialState, def.InitialState())
		require.Equal(t, []string{"OFFLINE", "ONLINE"}, def.States())
		require.Equal(t, []Transition{{From: "OFFLINE", To: "ONLINE"}}, def.Transitions())
		require.True(t, def.HasState("ONLINE"))
		require.False(t, def.HasState("DROPPED"))
	})

	t.Run("custom initial state", func(t *testing.T) {
		def, err := NewDefinition("MasterSlave", []string{"MASTER", "SLAVE", "OFFLINE"},
			WithInitialState("SLAVE"),
		)
		require.NoError(t, err)
		require.Equal(t, "SLAVE", def.InitialState())
	})

	t.Run("states are copied", func(t *testing.T) {
		states := []string{"OFFLINE", "ONLINE"}
		def, err := NewDefinition("m", states)
		require.NoError(t, err)

		states[0] = "MUTATED"
		require.Equal(t, "OFFLINE", def.States()[0])
	})
}

func TestNewDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		states []string
		opts   []DefinitionOption
	}{
		{name: "empty name", model: "", states: []string{"OFFLINE"}},
		{name: "no states", model: "m", states: nil},
		{name: "empty state", model: "m", states: []string{"OFFLINE", ""}},
		{name: "duplicate state", model: "m", states: []string{"OFFLINE", "OFFLINE"}},
		{name: "default initial not declared", model: "m", states: []string{"ONLINE"}},
		{
			name: "initial not declared", model: "m", states: []string{"OFFLINE"},
			opts: []DefinitionOption{WithInitialState("ONLINE")},
		},
		{
			name: "unknown from", model: "m", states: []string{"OFFLINE", "ONLINE"},
			opts: []DefinitionOption{WithTransition("DROPPED", "ONLINE", noopHandler)},
		},
		{
			name: "unknown to", model: "m", states: []string{"OFFLINE", "ONLINE"},
			opts: []DefinitionOption{WithTransition("OFFLINE", "DROPPED", noopHandler)},
		},
		{
			name: "nil handler", model: "m", states: []string{"OFFLINE", "ONLINE"},
			opts: []DefinitionOption{WithTransition("OFFLINE", "ONLINE", nil)},
		},
		{
			name: "duplicate transition", model: "m", states: []string{"OFFLINE", "ONLINE"},
			opts: []DefinitionOption{
				WithTransition("OFFLINE", "ONLINE", noopHandler),
				WithTransition("OFFLINE", "ONLINE", noopHandler),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := NewDefinition(tt.model, tt.states, tt.opts...)
			require.ErrorIs(t, err, ErrInvalidDefinition)
			require.Nil(t, def)
		})
	}
}

func TestTransition_String(t *testing.T) {
	require.Equal(t, "OFFLINE-ONLINE", Transition{From: "OFFLINE", To: "ONLINE"}.String())
}

package statemodel

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/arloliu/helix/types"
)

// StateModel is the state machine instance owned by a single partition.
//
// It is safe for concurrent use; transitions are applied one at a time.
type StateModel struct {
	partition string
	def       *Definition
	handlers  map[Transition]Handler

	mu      sync.Mutex
	current string
}

func newStateModel(def *Definition, partition string) *StateModel {
	return &StateModel{
		partition: partition,
		def:       def,
		handlers:  maps.Clone(def.handlers),
		current:   def.initial,
	}
}

// Partition returns the partition this model belongs to.
func (m *StateModel) Partition() string { return m.partition }

// Definition returns the definition the model was built from.
func (m *StateModel) Definition() *Definition { return m.def }

// States returns the declared states.
func (m *StateModel) States() []string { return m.def.States() }

// CurrentState returns the partition's current state.
func (m *StateModel) CurrentState() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// SetCurrentState overrides the current state without running a handler.
//
// Used to restore state carried over from a previous session.
//
// Returns:
//   - error: ErrUnknownState if state is not declared by the model
func (m *StateModel) SetCurrentState(state string) error {
	if !m.def.HasState(state) {
		return fmt.Errorf("%w: %q in model %s", ErrUnknownState, state, m.def.name)
	}

	m.mu.Lock()
	m.current = state
	m.mu.Unlock()

	return nil
}

// Transition applies msg to the partition.
//
// The handler runs synchronously while the model is locked, so concurrent
// calls for the same partition are applied in the order they acquire the lock.
//
// Returns:
//   - error: *types.TransitionError wrapping ErrStaleMessage,
//     ErrUnsupportedTransition or ErrTransitionFailed; nil on success
func (m *StateModel) Transition(ctx context.Context, msg types.Message, nctx types.NotificationContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fail := func(err error) error {
		return &types.TransitionError{
			Partition: m.partition,
			From:      msg.FromState,
			To:        msg.ToState,
			Current:   m.current,
			Err:       err,
		}
	}

	if msg.FromState != m.current {
		return fail(types.ErrStaleMessage)
	}

	handler, ok := m.handlers[Transition{From: msg.FromState, To: msg.ToState}]
	if !ok {
		return fail(types.ErrUnsupportedTransition)
	}

	if err := runHandler(ctx, handler, msg, nctx); err != nil {
		return fail(fmt.Errorf("%w: %w", types.ErrTransitionFailed, err))
	}

	m.current = msg.ToState

	return nil
}

func runHandler(ctx context.Context, h Handler, msg types.Message, nctx types.NotificationContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h(ctx, msg, nctx)
}

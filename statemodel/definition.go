package statemodel

import (
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/helix/types"
)

// DefaultInitialState is the initial state used when a definition does not name one.
const DefaultInitialState = "OFFLINE"

// Handler runs a single state transition for a partition.
//
// Returning an error (or panicking) fails the transition and leaves the
// partition in its previous state.
type Handler func(ctx context.Context, msg types.Message, nctx types.NotificationContext) error

// Transition identifies an edge of the state machine.
type Transition struct {
	From string
	To   string
}

// String returns "FROM-TO".
func (t Transition) String() string {
	return t.From + "-" + t.To
}

// Definition is an immutable state-model declaration.
type Definition struct {
	name     string
	states   []string
	initial  string
	handlers map[Transition]Handler
	order    []Transition
}

// DefinitionOption configures a Definition.
type DefinitionOption func(*definitionBuilder)

type definitionBuilder struct {
	initial     string
	transitions []Transition
	handlers    []Handler
}

// WithInitialState sets the state new partitions start in.
//
// Default: DefaultInitialState ("OFFLINE").
func WithInitialState(state string) DefinitionOption {
	return func(b *definitionBuilder) {
		b.initial = state
	}
}

// WithTransition registers the handler for the from -> to edge.
//
// Parameters:
//   - from: Source state (must be declared)
//   - to: Target state (must be declared)
//   - handler: Transition handler (must not be nil)
func WithTransition(from, to string, handler Handler) DefinitionOption {
	return func(b *definitionBuilder) {
		b.transitions = append(b.transitions, Transition{From: from, To: to})
		b.handlers = append(b.handlers, handler)
	}
}

// NewDefinition builds and validates a state-model definition.
//
// Parameters:
//   - name: Definition name, matched against Message.StateModelDef
//   - states: Ordered legal states (non-empty, unique)
//   - opts: Initial state and transition handlers
//
// Returns:
//   - *Definition: Validated definition
//   - error: ErrInvalidDefinition describing the first violation
func NewDefinition(name string, states []string, opts ...DefinitionOption) (*Definition, error) {
	b := &definitionBuilder{initial: DefaultInitialState}
	for _, opt := range opts {
		opt(b)
	}

	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: %s: at least one state is required", ErrInvalidDefinition, name)
	}

	seen := make(map[string]struct{}, len(states))
	for _, s := range states {
		if s == "" {
			return nil, fmt.Errorf("%w: %s: empty state name", ErrInvalidDefinition, name)
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate state %q", ErrInvalidDefinition, name, s)
		}
		seen[s] = struct{}{}
	}

	if _, ok := seen[b.initial]; !ok {
		return nil, fmt.Errorf("%w: %s: initial state %q is not declared", ErrInvalidDefinition, name, b.initial)
	}

	handlers := make(map[Transition]Handler, len(b.transitions))
	for i, tr := range b.transitions {
		if _, ok := seen[tr.From]; !ok {
			return nil, fmt.Errorf("%w: %s: transition %s: state %q is not declared", ErrInvalidDefinition, name, tr, tr.From)
		}
		if _, ok := seen[tr.To]; !ok {
			return nil, fmt.Errorf("%w: %s: transition %s: state %q is not declared", ErrInvalidDefinition, name, tr, tr.To)
		}
		if b.handlers[i] == nil {
			return nil, fmt.Errorf("%w: %s: transition %s has a nil handler", ErrInvalidDefinition, name, tr)
		}
		if _, dup := handlers[tr]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate transition %s", ErrInvalidDefinition, name, tr)
		}
		handlers[tr] = b.handlers[i]
	}

	return &Definition{
		name:     name,
		states:   slices.Clone(states),
		initial:  b.initial,
		handlers: handlers,
		order:    slices.Clone(b.transitions),
	}, nil
}

// Name returns the definition name.
func (d *Definition) Name() string { return d.name }

// States returns a copy of the declared states in declaration order.
func (d *Definition) States() []string { return slices.Clone(d.states) }

// InitialState returns the state new partitions start in.
func (d *Definition) InitialState() string { return d.initial }

// Transitions returns the registered edges in registration order.
func (d *Definition) Transitions() []Transition { return slices.Clone(d.order) }

// HasState reports whether state is declared.
func (d *Definition) HasState(state string) bool {
	return slices.Contains(d.states, state)
}

// Package hooks provides default lifecycle hook implementations.
package hooks

import (
	"context"

	"github.com/arloliu/helix/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var _ func(context.Context, types.SessionState, types.SessionState) error = (*NopHooks)(nil).OnStateChanged

var _ func(context.Context, string, string, string) error = (*NopHooks)(nil).OnTransition

var _ func(context.Context, error) error = (*NopHooks)(nil).OnError

// NewNop creates a new no-op hooks implementation.
func NewNop() *types.Hooks {
	h := &NopHooks{}
	return &types.Hooks{
		OnStateChanged: h.OnStateChanged,
		OnTransition:   h.OnTransition,
		OnError:        h.OnError,
	}
}

// Fill returns a copy of h where every nil callback is replaced by a no-op.
// A nil h yields NewNop().
func Fill(h *types.Hooks) *types.Hooks {
	if h == nil {
		return NewNop()
	}

	nop := &NopHooks{}
	out := *h
	if out.OnStateChanged == nil {
		out.OnStateChanged = nop.OnStateChanged
	}
	if out.OnTransition == nil {
		out.OnTransition = nop.OnTransition
	}
	if out.OnError == nil {
		out.OnError = nop.OnError
	}

	return &out
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.SessionState) error {
	return nil
}

// OnTransition is a no-op implementation.
func (h *NopHooks) OnTransition(_ context.Context, _, _, _ string) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}

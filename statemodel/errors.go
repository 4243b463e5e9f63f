package statemodel

import "errors"

// Definition validation errors.
var (
	// ErrInvalidDefinition is returned when a state-model definition is malformed.
	ErrInvalidDefinition = errors.New("invalid state model definition")

	// ErrUnknownState is returned when a state is not declared by the model.
	ErrUnknownState = errors.New("unknown state")

	// ErrUnknownDefinition is returned when a factory has no definition with the requested name.
	ErrUnknownDefinition = errors.New("unknown state model definition")
)

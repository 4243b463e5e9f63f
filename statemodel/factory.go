package statemodel

import "fmt"

// Factory creates StateModel instances from registered definitions.
//
// The factory keeps no partition cache: every call returns a fresh model.
// Ownership of the partition -> model mapping belongs to the caller.
type Factory struct {
	def   *Definition
	named map[string]*Definition
}

// NewFactory creates a factory whose default definition is def.
//
// Additional definitions can be registered so that messages naming a
// different StateModelDef get the matching model.
//
// Parameters:
//   - def: Default definition (must not be nil)
//   - extra: Additional definitions, looked up by Name()
func NewFactory(def *Definition, extra ...*Definition) *Factory {
	f := &Factory{
		def:   def,
		named: make(map[string]*Definition, 1+len(extra)),
	}
	if def != nil {
		f.named[def.name] = def
	}
	for _, d := range extra {
		if d != nil {
			f.named[d.name] = d
		}
	}

	return f
}

// Definition returns the default definition.
func (f *Factory) Definition() *Definition { return f.def }

// CreateNewStateModel instantiates the default model for partition, starting
// in the definition's initial state.
func (f *Factory) CreateNewStateModel(partition string) *StateModel {
	return newStateModel(f.def, partition)
}

// CreateStateModel instantiates the model registered under name. An empty name
// selects the default definition.
//
// Returns:
//   - *StateModel: New model in its initial state
//   - error: ErrUnknownDefinition if name is not registered
func (f *Factory) CreateStateModel(name, partition string) (*StateModel, error) {
	if name == "" {
		return f.CreateNewStateModel(partition), nil
	}

	def, ok := f.named[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDefinition, name)
	}

	return newStateModel(def, partition), nil
}

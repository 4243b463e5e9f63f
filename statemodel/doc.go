// Package statemodel declares partition state models and builds their
// per-partition instances.
//
// A Definition lists the legal states of a model, its initial state and an
// explicit transition table mapping (from, to) pairs to handlers. The table is
// fixed when the Definition is built; a StateModel copies it at construction
// and never discovers handlers at dispatch time.
//
// Example:
//
//	def, err := statemodel.NewDefinition("OnlineOffline", []string{"OFFLINE", "ONLINE"},
//	    statemodel.WithTransition("OFFLINE", "ONLINE", bringOnline),
//	    statemodel.WithTransition("ONLINE", "OFFLINE", takeOffline),
//	)
//	if err != nil {
//	    return err
//	}
//	factory := statemodel.NewFactory(def)
//	mgr, err := helix.NewManager(cfg, client, factory)
//
// # Transition semantics
//
// StateModel.Transition applies a message to its partition:
//   - FromState differs from the current state: types.ErrStaleMessage, no handler runs
//   - No handler for (FromState, ToState): types.ErrUnsupportedTransition
//   - Handler returns an error or panics: types.ErrTransitionFailed
//   - Handler succeeds: the current state becomes ToState
//
// Every failure leaves the current state unchanged and is returned as a
// *types.TransitionError. Transitions on one StateModel are serialized.
package statemodel

package helix

import (
	"github.com/arloliu/helix/internal/liveness"
	"github.com/arloliu/helix/types"
)

// Re-export types from the types package.
//
// Internal packages depend on `types` rather than the root package, which
// keeps the import graph acyclic while users get helix.SessionState,
// helix.Logger and friends.
type (
	SessionState        = types.SessionState
	Message             = types.Message
	NotificationContext = types.NotificationContext
	Record              = types.Record
	InstanceType        = types.InstanceType
	StepError           = types.StepError
	TransitionError     = types.TransitionError

	// LiveInstance is the decoded LIVEINSTANCES record of a participant.
	LiveInstance = liveness.LiveInstance
)

// Re-export interfaces from the types package for convenience.
type (
	CoordinationClient = types.CoordinationClient
	MetricsCollector   = types.MetricsCollector
	Logger             = types.Logger
	Hooks              = types.Hooks
)

// Re-export SessionState constants from the types package.
const (
	StateDisconnected        = types.StateDisconnected
	StateConnecting          = types.StateConnecting
	StateEstablishingSession = types.StateEstablishingSession
	StateParticipating       = types.StateParticipating
)

// InstanceTypeParticipant is the only instance type a Manager serves.
const InstanceTypeParticipant = types.InstanceTypeParticipant

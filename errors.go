package helix

import "github.com/arloliu/helix/types"

// Sentinel errors re-exported from the types package.
var (
	ErrInvalidConfig           = types.ErrInvalidConfig
	ErrClientRequired          = types.ErrClientRequired
	ErrFactoryRequired         = types.ErrFactoryRequired
	ErrNotConnected            = types.ErrNotConnected
	ErrUnsupportedInstanceType = types.ErrUnsupportedInstanceType

	ErrDuplicateInstance   = types.ErrDuplicateInstance
	ErrCoordinationService = types.ErrCoordinationService
	ErrSessionTimeout      = types.ErrSessionTimeout
	ErrSessionAborted      = types.ErrSessionAborted
	ErrSessionExpired      = types.ErrSessionExpired

	ErrUnsupportedTransition = types.ErrUnsupportedTransition
	ErrStaleMessage          = types.ErrStaleMessage
	ErrTransitionFailed      = types.ErrTransitionFailed
	ErrInvalidMessage        = types.ErrInvalidMessage
)

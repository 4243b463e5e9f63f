package types

// SessionState represents the participant session lifecycle state.
//
// States follow a defined progression during normal operation:
//
//	StateDisconnected → StateConnecting → StateEstablishingSession → StateParticipating
//
// Closing the connection or losing the session returns to StateDisconnected
// from any state.
type SessionState int

const (
	// StateDisconnected indicates no coordination session is held.
	StateDisconnected SessionState = iota

	// StateConnecting indicates the coordination client is connecting.
	StateConnecting

	// StateEstablishingSession indicates the session bootstrap pipeline is running.
	StateEstablishingSession

	// StateParticipating indicates the instance is live and processing messages.
	StateParticipating
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateEstablishingSession:
		return "EstablishingSession"
	case StateParticipating:
		return "Participating"
	default:
		return "Unknown"
	}
}

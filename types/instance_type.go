package types

// InstanceType is the role an instance plays in the cluster.
type InstanceType string

// Instance types. Only InstanceTypeParticipant is served by this library.
const (
	InstanceTypeController            InstanceType = "CONTROLLER"
	InstanceTypeParticipant           InstanceType = "PARTICIPANT"
	InstanceTypeSpectator             InstanceType = "SPECTATOR"
	InstanceTypeControllerParticipant InstanceType = "CONTROLLER_PARTICIPANT"
	InstanceTypeAdministrator         InstanceType = "ADMINISTRATOR"
)

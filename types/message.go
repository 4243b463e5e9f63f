package types

import "time"

// MessageTypeStateTransition is the only message type the participant acts on.
const MessageTypeStateTransition = "STATE_TRANSITION"

// Message is a state transition request addressed to one partition.
//
// Messages are stored as Records under the instance's MESSAGES node; the
// mapstructure tags name the simpleFields keys each field is decoded from.
type Message struct {
	ID              string `mapstructure:"MSG_ID"`
	Type            string `mapstructure:"MSG_TYPE"`
	Resource        string `mapstructure:"RESOURCE_NAME"`
	Partition       string `mapstructure:"PARTITION_NAME"`
	FromState       string `mapstructure:"FROM_STATE"`
	ToState         string `mapstructure:"TO_STATE"`
	TargetSession   string `mapstructure:"TGT_SESSION_ID"`
	StateModelDef   string `mapstructure:"STATE_MODEL_DEF"`
	CreateTimestamp int64  `mapstructure:"CREATE_TIMESTAMP"`

	// Payload is opaque controller data, carried in mapFields["PAYLOAD"].
	Payload map[string]string `mapstructure:"-"`
}

// CreatedAt returns the message creation time.
func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.CreateTimestamp)
}

// NotificationContext is passed to transition handlers alongside the message.
type NotificationContext struct {
	ClusterName  string
	InstanceName string
	SessionID    string
	// ReceivedAt is when the participant picked the message up.
	ReceivedAt time.Time
}

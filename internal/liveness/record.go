package liveness

import (
	"errors"
	"fmt"
	"os"

	"github.com/arloliu/helix/types"
)

// Live-instance simple field keys.
const (
	FieldVersion      = "HELIX_VERSION"
	FieldLiveInstance = "LIVE_INSTANCE"
	FieldSessionID    = "SESSION_ID"
)

// ErrMalformedRecord is returned when a live-instance payload is missing required fields.
var ErrMalformedRecord = errors.New("malformed live instance record")

// LiveInstance is the liveness record a participant publishes for its session.
type LiveInstance struct {
	InstanceName string
	Version      string
	// RuntimeName identifies the process as "<pid>@<host>".
	RuntimeName string
	SessionID   string
}

// Record converts the live instance into its stored record shape.
func (li LiveInstance) Record() types.Record {
	rec := types.NewRecord(li.InstanceName)
	rec.SimpleFields[FieldVersion] = li.Version
	rec.SimpleFields[FieldLiveInstance] = li.RuntimeName
	rec.SimpleFields[FieldSessionID] = li.SessionID

	return rec
}

// Marshal encodes the live instance as indented JSON.
func (li LiveInstance) Marshal() ([]byte, error) {
	return li.Record().Marshal()
}

// ParseLiveInstance decodes a stored live-instance payload.
//
// Returns:
//   - LiveInstance: Decoded record
//   - error: ErrMalformedRecord when the id or session id is missing
func ParseLiveInstance(data []byte) (LiveInstance, error) {
	rec, err := types.ParseRecord(data)
	if err != nil {
		return LiveInstance{}, err
	}

	li := LiveInstance{
		InstanceName: rec.ID,
		Version:      rec.SimpleFields[FieldVersion],
		RuntimeName:  rec.SimpleFields[FieldLiveInstance],
		SessionID:    rec.SimpleFields[FieldSessionID],
	}
	if li.InstanceName == "" || li.SessionID == "" {
		return LiveInstance{}, fmt.Errorf("%w: id=%q session=%q", ErrMalformedRecord, li.InstanceName, li.SessionID)
	}

	return li, nil
}

// RuntimeName returns "<pid>@<host>" for the current process.
func RuntimeName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	return fmt.Sprintf("%d@%s", os.Getpid(), host)
}

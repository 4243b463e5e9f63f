package carryover

import (
	"strconv"
	"time"

	"github.com/arloliu/helix/types"
)

// Current-state record keys.
const (
	FieldSessionID     = "SESSION_ID"
	FieldStateModelDef = "STATE_MODEL_DEF"
	FieldUpdatedAt     = "UPDATE_TIMESTAMP"
	FieldCurrentState  = "CURRENT_STATE"
)

// Seed is a partition state restored for the current session.
type Seed struct {
	Resource  string
	Partition string
	State     string

	// StateModelDef names the definition the state was recorded under; empty
	// for records written without one.
	StateModelDef string
}

func newResourceRecord(resource, session string) types.Record {
	rec := types.NewRecord(resource)
	rec.SimpleFields[FieldSessionID] = session

	return rec
}

func stateModelDef(rec types.Record) string {
	return rec.SimpleFields[FieldStateModelDef]
}

// setStateModelDef keeps an existing definition name; a resource is bound to
// one definition for its lifetime.
func setStateModelDef(rec types.Record, def string) {
	if def != "" && stateModelDef(rec) == "" {
		rec.SimpleFields[FieldStateModelDef] = def
	}
}

func partitionState(rec types.Record, partition string) (string, bool) {
	fields, ok := rec.MapFields[partition]
	if !ok {
		return "", false
	}
	state, ok := fields[FieldCurrentState]

	return state, ok && state != ""
}

func setPartitionState(rec types.Record, partition, state string) {
	rec.MapFields[partition] = map[string]string{FieldCurrentState: state}
}

func touch(rec types.Record, now time.Time) {
	rec.SimpleFields[FieldUpdatedAt] = strconv.FormatInt(now.UnixMilli(), 10)
}

func updatedAt(rec types.Record) int64 {
	ts, err := strconv.ParseInt(rec.SimpleFields[FieldUpdatedAt], 10, 64)
	if err != nil {
		return 0
	}

	return ts
}

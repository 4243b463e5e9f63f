package messaging

import (
	"testing"

	"github.com/arloliu/helix/types"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessage(t *testing.T) {
	msg := types.Message{
		ID:              "m-1",
		Type:            types.MessageTypeStateTransition,
		Resource:        "db",
		Partition:       "db_0",
		FromState:       "OFFLINE",
		ToState:         "ONLINE",
		TargetSession:   "s1",
		StateModelDef:   "OnlineOffline",
		CreateTimestamp: 1700000000123,
		Payload:         map[string]string{"reason": "rebalance"},
	}

	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	rec, err := types.ParseRecord(data)
	require.NoError(t, err)
	require.Equal(t, "db_0", rec.SimpleFields["PARTITION_NAME"])
	require.Equal(t, "1700000000123", rec.SimpleFields["CREATE_TIMESTAMP"])
	require.Equal(t, "rebalance", rec.MapFields[PayloadField]["reason"])

	got, err := DecodeMessage("m-1", data)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestDecodeMessage(t *testing.T) {
	t.Run("id falls back to node name", func(t *testing.T) {
		data := []byte(`{"id":"x","simpleFields":{"MSG_TYPE":"STATE_TRANSITION","PARTITION_NAME":"P","FROM_STATE":"OFFLINE","TO_STATE":"ONLINE"}}`)
		msg, err := DecodeMessage("node-7", data)
		require.NoError(t, err)
		require.Equal(t, "node-7", msg.ID)
		require.Zero(t, msg.CreateTimestamp)
		require.Nil(t, msg.Payload)
	})

	t.Run("unsupported type", func(t *testing.T) {
		data := []byte(`{"id":"x","simpleFields":{"MSG_TYPE":"TASK_REPLY","PARTITION_NAME":"P","FROM_STATE":"A","TO_STATE":"B"}}`)
		_, err := DecodeMessage("x", data)
		require.ErrorIs(t, err, types.ErrInvalidMessage)
	})

	t.Run("missing fields", func(t *testing.T) {
		data := []byte(`{"id":"x","simpleFields":{"MSG_TYPE":"STATE_TRANSITION","PARTITION_NAME":"P"}}`)
		_, err := DecodeMessage("x", data)
		require.ErrorIs(t, err, types.ErrInvalidMessage)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		data := []byte(`{"id":"x","simpleFields":{"MSG_TYPE":"STATE_TRANSITION","PARTITION_NAME":"P","FROM_STATE":"A","TO_STATE":"B","CREATE_TIMESTAMP":"yesterday"}}`)
		_, err := DecodeMessage("x", data)
		require.ErrorIs(t, err, types.ErrInvalidMessage)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := DecodeMessage("x", []byte("{"))
		require.ErrorIs(t, err, types.ErrInvalidMessage)
	})
}

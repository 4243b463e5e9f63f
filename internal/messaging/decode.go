package messaging

import (
	"fmt"
	"maps"

	"github.com/mitchellh/mapstructure"

	"github.com/arloliu/helix/types"
)

// PayloadField is the mapFields key carrying the opaque message payload.
const PayloadField = "PAYLOAD"

// DecodeMessage converts a stored message record into a Message.
//
// Simple fields are decoded by their mapstructure tags with weak typing, so
// numeric fields such as CREATE_TIMESTAMP may be stored as strings.
//
// Parameters:
//   - name: Node name, used as the id when MSG_ID is absent
//   - data: Record payload
//
// Returns:
//   - types.Message: Decoded message
//   - error: types.ErrInvalidMessage for undecodable or incomplete records
func DecodeMessage(name string, data []byte) (types.Message, error) {
	rec, err := types.ParseRecord(data)
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: %s: %w", types.ErrInvalidMessage, name, err)
	}

	input := make(map[string]any, len(rec.SimpleFields))
	for k, v := range rec.SimpleFields {
		input[k] = v
	}

	var msg types.Message
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &msg,
	})
	if err != nil {
		return types.Message{}, err
	}
	if err := dec.Decode(input); err != nil {
		return types.Message{}, fmt.Errorf("%w: %s: %w", types.ErrInvalidMessage, name, err)
	}

	if msg.ID == "" {
		msg.ID = name
	}
	if payload, ok := rec.MapFields[PayloadField]; ok {
		msg.Payload = maps.Clone(payload)
	}

	if msg.Type != types.MessageTypeStateTransition {
		return msg, fmt.Errorf("%w: %s: unsupported message type %q", types.ErrInvalidMessage, name, msg.Type)
	}
	if msg.Partition == "" || msg.FromState == "" || msg.ToState == "" {
		return msg, fmt.Errorf("%w: %s: partition, from and to states are required", types.ErrInvalidMessage, name)
	}

	return msg, nil
}

// EncodeMessage converts msg into its stored record form.
func EncodeMessage(msg types.Message) ([]byte, error) {
	input := make(map[string]any)
	if err := mapstructure.Decode(msg, &input); err != nil {
		return nil, fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	rec := types.NewRecord(msg.ID)
	for k, v := range input {
		s := fmt.Sprint(v)
		if s == "" {
			continue
		}
		rec.SimpleFields[k] = s
	}
	if len(msg.Payload) > 0 {
		rec.MapFields[PayloadField] = maps.Clone(msg.Payload)
	}

	return rec.Marshal()
}

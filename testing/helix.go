package testing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/helix/internal/carryover"
	"github.com/arloliu/helix/internal/liveness"
	"github.com/arloliu/helix/internal/messaging"
	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/types"
)

// EnqueueMessage writes a transition message to an instance's MESSAGES queue
// the way a controller would.
//
// Missing fields are filled in: ID with a random UUID, Type with
// STATE_TRANSITION and CreateTimestamp with the current time.
//
// Parameters:
//   - ctx: Context for the coordination round trips
//   - client: Connected coordination client
//   - cluster, instance: Target participant
//   - msg: Message to enqueue
//
// Returns:
//   - types.Message: The message as written (with generated fields)
//   - error: Encoding or coordination failure
func EnqueueMessage(ctx context.Context, client types.CoordinationClient, cluster, instance string, msg types.Message) (types.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = types.MessageTypeStateTransition
	}
	if msg.CreateTimestamp == 0 {
		msg.CreateTimestamp = time.Now().UnixMilli()
	}

	data, err := messaging.EncodeMessage(msg)
	if err != nil {
		return msg, err
	}

	queue := paths.Messages(cluster, instance)
	if err := client.Create(ctx, queue, nil, types.Persistent); err != nil && !errors.Is(err, types.ErrNodeExists) {
		return msg, fmt.Errorf("create %s: %w", queue, err)
	}

	if err := client.Create(ctx, paths.Message(cluster, instance, msg.ID), data, types.Persistent); err != nil {
		return msg, fmt.Errorf("enqueue %s: %w", msg.ID, err)
	}

	return msg, nil
}

// PendingMessages returns the ids of messages still queued for an instance.
func PendingMessages(ctx context.Context, client types.CoordinationClient, cluster, instance string) ([]string, error) {
	ids, err := client.Children(ctx, paths.Messages(cluster, instance))
	if errors.Is(err, types.ErrNoNode) {
		return nil, nil
	}

	return ids, err
}

// ReadLiveInstance reads and parses an instance's live record.
func ReadLiveInstance(ctx context.Context, client types.CoordinationClient, cluster, instance string) (liveness.LiveInstance, error) {
	data, err := client.Get(ctx, paths.LiveInstance(cluster, instance))
	if err != nil {
		return liveness.LiveInstance{}, err
	}

	return liveness.ParseLiveInstance(data)
}

// ReadCurrentStates returns partition -> state for one resource of a session.
func ReadCurrentStates(ctx context.Context, client types.CoordinationClient, cluster, instance, session, resource string) (map[string]string, error) {
	data, err := client.Get(ctx, paths.CurrentState(cluster, instance, session, resource))
	if err != nil {
		return nil, err
	}

	rec, err := types.ParseRecord(data)
	if err != nil {
		return nil, err
	}

	states := make(map[string]string, len(rec.MapFields))
	for partition, fields := range rec.MapFields {
		states[partition] = fields[carryover.FieldCurrentState]
	}

	return states, nil
}

// Package heartbeat keeps coordination sessions alive.
//
// Coordination adapters that emulate ephemeral nodes with TTL-bound entries
// (NATS KV, Redis) must refresh those entries before they expire. A Publisher
// runs a Beat function at a fixed interval and reports failures so the adapter
// can declare the session expired.
//
// # Publisher Lifecycle
//
//  1. Create publisher with New(beat, interval)
//  2. Optionally register OnFailure
//  3. Start beating with Start(ctx); the first beat runs synchronously
//  4. Stop with Stop()
//
// Example:
//
//	publisher := heartbeat.New(func(ctx context.Context) error {
//	    return refreshSession(ctx, sessionID)
//	}, ttl/3)
//	publisher.OnFailure(func(err error, sinceSuccess time.Duration) {
//	    if sinceSuccess > ttl {
//	        go expire(sessionID)
//	    }
//	})
//	if err := publisher.Start(ctx); err != nil {
//	    return err
//	}
//	defer publisher.Stop()
//
// # Timing
//
// The interval should be about a third of the entry TTL so two consecutive
// missed beats are tolerated before the entries expire.
package heartbeat

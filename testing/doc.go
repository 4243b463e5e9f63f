// Package testing provides test utilities for helix participants.
//
// It follows Go's convention of providing testing utilities in a dedicated
// package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream for the natskv adapter
//   - EnqueueMessage: Write a controller-style transition message to an instance queue
//   - ReadLiveInstance / ReadCurrentStates: Inspect what a participant published
//
// Example usage:
//
//	import (
//	    "testing"
//	    helixtest "github.com/arloliu/helix/testing"
//	)
//
//	func TestMyHandler(t *testing.T) {
//	    _, nc := helixtest.StartEmbeddedNATS(t)
//	    // Build a natskv client on nc and a Manager on top of it
//	}
package testing

// Package types provides core type definitions and interfaces for the helix participant.
//
// This package contains shared types that are used across multiple packages in the
// library. By keeping these types in a separate package, we avoid import cycles
// between the root helix package, the statemodel package and the internal
// implementations.
//
// Key types:
//   - SessionState: Participant session lifecycle state
//   - CoordinationClient: The coordination-service primitive the participant runs on
//   - Record: ZNRecord-shaped node payload
//   - Message: State transition request sent by the controller
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types

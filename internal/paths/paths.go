// Package paths builds the coordination-service node paths used by a participant.
//
// Layout:
//
//	/{cluster}/LIVEINSTANCES/{instance}                                   ephemeral
//	/{cluster}/INSTANCES/{instance}/MESSAGES/{msgID}                      persistent
//	/{cluster}/INSTANCES/{instance}/CURRENTSTATES/{session}/{resource}    persistent
package paths

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arloliu/helix/types"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.=-]+$`)

// ValidSegment reports whether s can be used as a single path segment.
//
// The character set is what ZooKeeper, NATS KV keys and Redis keys accept
// once "." is mapped by the NATS adapter, so host-style instance names such as
// "host.example.com_12000" are valid. The relative segments "." and ".." are not.
func ValidSegment(s string) bool {
	if s == "." || s == ".." {
		return false
	}

	return segmentPattern.MatchString(s)
}

// LiveInstance returns the liveness record path for an instance.
func LiveInstance(cluster, instance string) string {
	return fmt.Sprintf("/%s/LIVEINSTANCES/%s", cluster, instance)
}

// Instance returns the base path of an instance.
func Instance(cluster, instance string) string {
	return fmt.Sprintf("/%s/INSTANCES/%s", cluster, instance)
}

// Messages returns the message queue path of an instance.
func Messages(cluster, instance string) string {
	return Instance(cluster, instance) + "/MESSAGES"
}

// Message returns the path of one queued message.
func Message(cluster, instance, msgID string) string {
	return Messages(cluster, instance) + "/" + msgID
}

// CurrentStates returns the path holding one child per recorded session.
func CurrentStates(cluster, instance string) string {
	return Instance(cluster, instance) + "/CURRENTSTATES"
}

// SessionCurrentStates returns the path holding one child per resource for a session.
func SessionCurrentStates(cluster, instance, session string) string {
	return CurrentStates(cluster, instance) + "/" + session
}

// CurrentState returns the current-state record path for a (session, resource) pair.
func CurrentState(cluster, instance, session, resource string) string {
	return SessionCurrentStates(cluster, instance, session) + "/" + resource
}

// Split validates an absolute path and returns its segments.
//
// Returns:
//   - []string: Path segments (empty for "/")
//   - error: types.ErrInvalidPath if the path is relative or holds an invalid segment
func Split(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q is not absolute", types.ErrInvalidPath, path)
	}

	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}, nil
	}

	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if !ValidSegment(seg) {
			return nil, fmt.Errorf("%w: segment %q in %q", types.ErrInvalidPath, seg, path)
		}
	}

	return segments, nil
}

// Parent returns the parent of path ("/" for top-level nodes).
func Parent(path string) string {
	idx := strings.LastIndex(strings.TrimRight(path, "/"), "/")
	if idx <= 0 {
		return "/"
	}

	return path[:idx]
}

// Base returns the last segment of path.
func Base(path string) string {
	trimmed := strings.TrimRight(path, "/")

	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

// Join appends a child name to a parent path.
func Join(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}

	return parent + "/" + child
}

// Package memory provides an in-process CoordinationClient for tests and
// single-process deployments.
//
// Several clients can share one Store to model independent processes talking
// to the same coordination service. Faults and delays can be injected per
// operation, and a session can be expired on demand.
package memory

import (
	"slices"
	"strings"
	"sync"

	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/types"
)

type watcher struct {
	ch      chan types.WatchEvent
	session string
}

type node struct {
	data  []byte
	mode  types.CreateMode
	owner string // session id for ephemeral nodes
}

// Store is the shared node tree.
type Store struct {
	mu       sync.Mutex
	nodes    map[string]*node
	watchers map[string][]watcher
}

// NewStore creates an empty node tree.
func NewStore() *Store {
	return &Store{
		nodes:    make(map[string]*node),
		watchers: make(map[string][]watcher),
	}
}

// Paths returns every stored node path, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.nodes))
	for p := range s.nodes {
		out = append(out, p)
	}
	slices.Sort(out)

	return out
}

func (s *Store) create(path string, data []byte, mode types.CreateMode, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[path]; ok {
		return types.ErrNodeExists
	}

	n := &node{data: slices.Clone(data), mode: mode}
	if mode == types.Ephemeral {
		n.owner = owner
	}
	s.nodes[path] = n
	s.fireLocked(paths.Parent(path))

	return nil
}

func (s *Store) get(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return nil, types.ErrNoNode
	}

	return slices.Clone(n.data), nil
}

func (s *Store) exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.nodes[path]

	return ok
}

func (s *Store) set(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return types.ErrNoNode
	}
	n.data = slices.Clone(data)

	return nil
}

func (s *Store) remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[path]; !ok {
		return types.ErrNoNode
	}
	delete(s.nodes, path)
	s.fireLocked(paths.Parent(path))

	return nil
}

// children lists the immediate child names of path. A path with neither a
// node nor descendants yields ErrNoNode.
func (s *Store) children(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.childrenLocked(path)
}

func (s *Store) childrenLocked(path string) ([]string, error) {
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}

	seen := make(map[string]struct{})
	for p := range s.nodes {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = struct{}{}
	}

	_, self := s.nodes[path]
	if !self && len(seen) == 0 {
		return nil, types.ErrNoNode
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	slices.Sort(out)

	return out, nil
}

func (s *Store) watch(path, session string) ([]string, <-chan types.WatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.childrenLocked(path)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan types.WatchEvent, 1)
	s.watchers[path] = append(s.watchers[path], watcher{ch: ch, session: session})

	return children, ch, nil
}

// fireLocked delivers a one-shot event to every watcher of path.
func (s *Store) fireLocked(path string) {
	for _, w := range s.watchers[path] {
		w.ch <- types.WatchEvent{Path: path}
		close(w.ch)
	}
	delete(s.watchers, path)
}

// dropSession removes the session's ephemeral nodes and returns their paths.
func (s *Store) dropSession(session string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for p, n := range s.nodes {
		if n.mode == types.Ephemeral && n.owner == session {
			delete(s.nodes, p)
			removed = append(removed, p)
		}
	}
	for _, p := range removed {
		s.fireLocked(paths.Parent(p))
	}

	return removed
}

// cancelWatches terminates every pending watch of session with err.
func (s *Store) cancelWatches(session string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, list := range s.watchers {
		kept := list[:0]
		for _, w := range list {
			if w.session == session {
				w.ch <- types.WatchEvent{Path: path, Err: err}
				close(w.ch)
				continue
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			delete(s.watchers, path)
		} else {
			s.watchers[path] = kept
		}
	}
}

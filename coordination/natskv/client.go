// Package natskv implements types.CoordinationClient on NATS JetStream KeyValue.
//
// Nodes are KV entries whose keys are the path segments joined with ".":
// "/foo/INSTANCES/bar/MESSAGES/m1" is stored as "foo.INSTANCES.bar.MESSAGES.m1".
// A "." inside a segment is stored as "/", which never appears in a segment,
// so "/foo/INSTANCES/h.example.com" becomes "foo.INSTANCES.h/example/com".
// Persistent nodes live in a bucket without TTL. Ephemeral nodes live in a
// second bucket whose TTL is the session TTL; the owning client refreshes them
// with a heartbeat, so they vanish once the client stops refreshing.
//
// Create maps to KV Create (atomic create-if-absent). Child watches are KV
// watches on "<parent>.*" that fire when a child key appears or is deleted.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/helix/internal/heartbeat"
	"github.com/arloliu/helix/internal/kvutil"
	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/types"
)

// Defaults for Config.
const (
	DefaultNodeBucket      = "helix-nodes"
	DefaultEphemeralBucket = "helix-ephemeral"
	DefaultSessionTTL      = 10 * time.Second
)

// sessionKeyPrefix holds one ephemeral marker key per session.
const sessionKeyPrefix = "__sessions"

var (
	// ErrConnectionRequired is returned by New when no NATS connection is given.
	ErrConnectionRequired = errors.New("nats connection is required")

	errSessionLost = errors.New("ephemeral entry lost")
)

// Config configures the NATS KV client.
type Config struct {
	// NodeBucket stores persistent nodes.
	NodeBucket string
	// EphemeralBucket stores session-owned nodes with SessionTTL expiry.
	EphemeralBucket string
	// SessionTTL is how long ephemeral nodes survive without a heartbeat.
	SessionTTL time.Duration
	// Storage selects file or memory storage for both buckets.
	Storage jetstream.StorageType
	// Replicas is the bucket replication factor (default 1).
	Replicas int

	Logger types.Logger
}

// Client is a CoordinationClient backed by two JetStream KV buckets.
type Client struct {
	cfg       Config
	logger    types.Logger
	nc        *nats.Conn
	nodes     jetstream.KeyValue
	ephemeral jetstream.KeyValue
	events    chan types.SessionEvent

	// lifecycle serializes Connect and session teardown.
	lifecycle sync.Mutex

	mu         sync.Mutex
	sessionID  string
	sessionCtx context.Context
	endSession context.CancelFunc
	keepalive  *heartbeat.Publisher
	owned      map[string]ownedEntry
}

// ownedEntry is an ephemeral entry this client keeps alive.
type ownedEntry struct {
	data     []byte
	revision uint64
}

// New opens (creating if needed) the node buckets.
//
// Parameters:
//   - ctx: Bounds bucket creation
//   - nc: Connected NATS connection with JetStream enabled
//   - cfg: Bucket names and session TTL; zero values take defaults
//
// Returns:
//   - *Client: Disconnected client; call Connect to open a session
//   - error: ErrConnectionRequired or a bucket creation failure
func New(ctx context.Context, nc *nats.Conn, cfg Config) (*Client, error) {
	if nc == nil {
		return nil, ErrConnectionRequired
	}
	if cfg.NodeBucket == "" {
		cfg.NodeBucket = DefaultNodeBucket
	}
	if cfg.EphemeralBucket == "" {
		cfg.EphemeralBucket = DefaultEphemeralBucket
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	nodes, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.NodeBucket,
		Description: "helix persistent nodes",
		History:     1,
		Storage:     cfg.Storage,
		Replicas:    cfg.Replicas,
	}, 3)
	if err != nil {
		return nil, err
	}

	ephemeral, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.EphemeralBucket,
		Description: "helix ephemeral nodes",
		History:     1,
		TTL:         cfg.SessionTTL,
		Storage:     cfg.Storage,
		Replicas:    cfg.Replicas,
	}, 3)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		nc:        nc,
		nodes:     nodes,
		ephemeral: ephemeral,
		events:    make(chan types.SessionEvent, 16),
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}

	return c, nil
}

// Connect opens a session. It returns the current session if one is open.
func (c *Client) Connect(ctx context.Context) (string, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if sid := c.SessionID(); sid != "" {
		return sid, nil
	}
	if !c.nc.IsConnected() {
		return "", fmt.Errorf("connect: %w", nats.ErrConnectionClosed)
	}

	sid := uuid.NewString()
	marker := sessionKeyPrefix + "." + sid
	rev, err := c.ephemeral.Create(ctx, marker, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	if err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}

	keepalive := heartbeat.New(c.refresh, c.cfg.SessionTTL/3)
	keepalive.OnFailure(func(err error, since time.Duration) {
		c.logger.Warn("session heartbeat failed", "session", sid, "since_success", since, "error", err)
		if errors.Is(err, errSessionLost) || since >= c.cfg.SessionTTL {
			go c.end(sid, types.SessionExpired)
		}
	})

	c.mu.Lock()
	c.sessionID = sid
	c.sessionCtx, c.endSession = context.WithCancel(context.Background())
	c.owned = map[string]ownedEntry{marker: {revision: rev}}
	c.keepalive = keepalive
	c.mu.Unlock()

	if err := keepalive.Start(ctx); err != nil {
		c.mu.Lock()
		c.endSession()
		c.sessionID, c.owned, c.keepalive, c.endSession = "", nil, nil, nil
		c.mu.Unlock()
		_ = c.ephemeral.Delete(context.WithoutCancel(ctx), marker)

		return "", err
	}

	c.emit(types.SessionEvent{Type: types.SessionEstablished, SessionID: sid})

	return sid, nil
}

// Close ends the session and deletes its ephemeral nodes.
//
// Close waits for an in-flight Connect, so the session it opens is closed too.
func (c *Client) Close(_ context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.endLocked(c.SessionID(), types.SessionClosed)

	return nil
}

// end tears down session sid if it is still the current one.
func (c *Client) end(sid string, kind types.SessionEventType) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.endLocked(sid, kind)
}

// endLocked is end with lifecycle held.
func (c *Client) endLocked(sid string, kind types.SessionEventType) {
	c.mu.Lock()
	if sid == "" || c.sessionID != sid {
		c.mu.Unlock()
		return
	}
	keepalive, owned, endSession := c.keepalive, c.owned, c.endSession
	c.sessionID, c.owned, c.keepalive, c.endSession = "", nil, nil, nil
	c.mu.Unlock()

	_ = keepalive.Stop()
	endSession()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SessionTTL)
	defer cancel()

	for key := range owned {
		if err := c.ephemeral.Delete(ctx, key); err != nil && !kvutil.IsNotFound(err) {
			c.logger.Warn("failed to delete ephemeral node", "key", key, "error", err)
		}
	}

	c.logger.Info("session ended", "session", sid, "reason", kind.String())
	c.emit(types.SessionEvent{Type: kind, SessionID: sid})
}

// refresh re-writes every owned ephemeral entry, resetting its TTL.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	owned := make(map[string]ownedEntry, len(c.owned))
	for k, v := range c.owned {
		owned[k] = v
	}
	c.mu.Unlock()

	for key, entry := range owned {
		rev, err := c.ephemeral.Update(ctx, key, entry.data, entry.revision)
		if err != nil {
			if !c.owns(key) {
				continue
			}
			if kvutil.IsConflict(err) || kvutil.IsNotFound(err) {
				return fmt.Errorf("%w: %s", errSessionLost, key)
			}

			return err
		}

		c.mu.Lock()
		if cur, ok := c.owned[key]; ok && cur.revision == entry.revision {
			cur.revision = rev
			c.owned[key] = cur
		}
		c.mu.Unlock()
	}

	return nil
}

func (c *Client) owns(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.owned[key]
	return ok
}

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool {
	return c.SessionID() != ""
}

// SessionID returns the current session id, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID
}

// SessionEvents returns the session lifecycle stream.
func (c *Client) SessionEvents() <-chan types.SessionEvent { return c.events }

// Exists reports whether path exists.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	key, err := c.key(path)
	if err != nil {
		return false, err
	}

	_, _, err = c.lookup(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, types.ErrNoNode):
		return false, nil
	default:
		return false, err
	}
}

// Create creates path, failing with ErrNodeExists if it exists.
func (c *Client) Create(ctx context.Context, path string, data []byte, mode types.CreateMode) error {
	key, err := c.key(path)
	if err != nil {
		return err
	}

	target, other := c.nodes, c.ephemeral
	if mode == types.Ephemeral {
		target, other = c.ephemeral, c.nodes
	}

	if _, err := other.Get(ctx, key); err == nil {
		return fmt.Errorf("%w: %s", types.ErrNodeExists, path)
	} else if !kvutil.IsNotFound(err) {
		return err
	}

	rev, err := target.Create(ctx, key, data)
	if err != nil {
		if kvutil.IsConflict(err) {
			return fmt.Errorf("%w: %s", types.ErrNodeExists, path)
		}

		return err
	}

	if mode == types.Ephemeral {
		c.mu.Lock()
		if c.owned != nil {
			c.owned[key] = ownedEntry{data: slices.Clone(data), revision: rev}
		}
		c.mu.Unlock()
	}

	return nil
}

// Get returns the data of path.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := c.key(path)
	if err != nil {
		return nil, err
	}

	_, entry, err := c.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	return entry.Value(), nil
}

// Set replaces the data of an existing node.
func (c *Client) Set(ctx context.Context, path string, data []byte) error {
	key, err := c.key(path)
	if err != nil {
		return err
	}

	bucket, entry, err := c.lookup(ctx, key)
	if err != nil {
		return err
	}

	rev, err := bucket.Update(ctx, key, data, entry.Revision())
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}

	c.mu.Lock()
	if cur, ok := c.owned[key]; ok {
		cur.data, cur.revision = slices.Clone(data), rev
		c.owned[key] = cur
	}
	c.mu.Unlock()

	return nil
}

// Delete removes path.
func (c *Client) Delete(ctx context.Context, path string) error {
	key, err := c.key(path)
	if err != nil {
		return err
	}

	bucket, _, err := c.lookup(ctx, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.owned, key)
	c.mu.Unlock()

	return bucket.Delete(ctx, key)
}

// Children lists the direct children of path.
func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	key, err := c.prefix(path)
	if err != nil {
		return nil, err
	}

	return c.children(ctx, path, key)
}

// WatchChildren arms a one-shot child watch on path and lists its children.
func (c *Client) WatchChildren(ctx context.Context, path string) ([]string, <-chan types.WatchEvent, error) {
	key, err := c.prefix(path)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	sessionCtx := c.sessionCtx
	connected := c.sessionID != ""
	c.mu.Unlock()
	if !connected {
		return nil, nil, types.ErrClientClosed
	}

	pattern := "*"
	if key != "" {
		pattern = key + ".*"
	}

	watchCtx, stop := context.WithCancel(sessionCtx)
	watchers := make([]jetstream.KeyWatcher, 0, 2)
	for _, kv := range []jetstream.KeyValue{c.nodes, c.ephemeral} {
		w, err := kv.Watch(watchCtx, pattern, jetstream.UpdatesOnly())
		if err != nil {
			stop()
			stopWatchers(watchers)

			return nil, nil, fmt.Errorf("watch %s: %w", path, err)
		}
		watchers = append(watchers, w)
	}

	children, err := c.children(ctx, path, key)
	if err != nil {
		stop()
		stopWatchers(watchers)

		return nil, nil, err
	}

	snapshot := make(map[string]struct{}, len(children))
	for _, name := range children {
		snapshot[name] = struct{}{}
	}

	events := make(chan types.WatchEvent, 1)
	go c.awaitChange(watchCtx, stop, path, key, snapshot, watchers, events)

	return children, events, nil
}

func (c *Client) awaitChange(
	ctx context.Context,
	stop context.CancelFunc,
	path, key string,
	snapshot map[string]struct{},
	watchers []jetstream.KeyWatcher,
	events chan<- types.WatchEvent,
) {
	defer close(events)
	defer stopWatchers(watchers)
	defer stop()

	merged := make(chan jetstream.KeyValueEntry)
	for _, w := range watchers {
		go func() {
			for {
				select {
				case entry, ok := <-w.Updates():
					if !ok {
						return
					}
					select {
					case merged <- entry:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			events <- types.WatchEvent{Path: path, Err: types.ErrClientClosed}
			return
		case entry := <-merged:
			if entry == nil {
				continue
			}

			name := strings.TrimPrefix(entry.Key(), key+".")
			if key == "" {
				name = entry.Key()
			}
			name = decodeSegment(name)
			_, known := snapshot[name]

			switch entry.Operation() {
			case jetstream.KeyValuePut:
				if known {
					continue
				}
			default:
				if !known {
					continue
				}
			}

			events <- types.WatchEvent{Path: path}
			return
		}
	}
}

func stopWatchers(watchers []jetstream.KeyWatcher) {
	for _, w := range watchers {
		_ = w.Stop()
	}
}

// children lists direct child names of path from both buckets.
func (c *Client) children(ctx context.Context, path, key string) ([]string, error) {
	if !c.IsConnected() {
		return nil, types.ErrClientClosed
	}

	filter := ">"
	if key != "" {
		filter = key + ".>"
	}

	seen := make(map[string]struct{})
	for _, kv := range []jetstream.KeyValue{c.nodes, c.ephemeral} {
		lister, err := kv.ListKeysFiltered(ctx, filter)
		if err != nil {
			if errors.Is(err, jetstream.ErrNoKeysFound) {
				continue
			}

			return nil, fmt.Errorf("list %s: %w", path, err)
		}

		for k := range lister.Keys() {
			rest := k
			if key != "" {
				rest = strings.TrimPrefix(k, key+".")
			}
			name, _, _ := strings.Cut(rest, ".")
			if key == "" && name == sessionKeyPrefix {
				continue
			}
			seen[decodeSegment(name)] = struct{}{}
		}
		_ = lister.Stop()
	}

	if len(seen) == 0 {
		if key == "" {
			return []string{}, nil
		}
		if _, _, err := c.lookup(ctx, key); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	slices.Sort(out)

	return out, nil
}

// lookup finds the live entry for key in either bucket.
func (c *Client) lookup(ctx context.Context, key string) (jetstream.KeyValue, jetstream.KeyValueEntry, error) {
	if !c.IsConnected() {
		return nil, nil, types.ErrClientClosed
	}

	for _, kv := range []jetstream.KeyValue{c.ephemeral, c.nodes} {
		entry, err := kv.Get(ctx, key)
		if err == nil {
			return kv, entry, nil
		}
		if !kvutil.IsNotFound(err) {
			return nil, nil, err
		}
	}

	return nil, nil, fmt.Errorf("%w: %s", types.ErrNoNode, key)
}

// key converts a node path into a KV key.
func (c *Client) key(path string) (string, error) {
	key, err := c.prefix(path)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("%w: root is not a node", types.ErrInvalidPath)
	}

	return key, nil
}

// prefix converts a path into its KV key, "" for the root.
func (c *Client) prefix(path string) (string, error) {
	segments, err := paths.Split(path)
	if err != nil {
		return "", err
	}

	encoded := make([]string, len(segments))
	for i, seg := range segments {
		encoded[i] = strings.ReplaceAll(seg, ".", "/")
	}

	return strings.Join(encoded, "."), nil
}

// decodeSegment maps a key token back to its path segment.
func decodeSegment(token string) string {
	return strings.ReplaceAll(token, "/", ".")
}

func (c *Client) emit(ev types.SessionEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("dropping session event", "type", ev.Type.String(), "session", ev.SessionID)
	}
}

var _ types.CoordinationClient = (*Client)(nil)

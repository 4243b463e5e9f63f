// Package redis implements types.CoordinationClient on a Redis server.
//
// Nodes are string keys under "<prefix>:node:<path>". Every node is listed in
// the set "<prefix>:children:<parent>" of each ancestor, which makes Children a
// set read instead of a key scan. Ephemeral nodes carry a TTL refreshed by a
// session heartbeat, and the session itself is the key "<prefix>:session:<id>".
// Child watches are Redis pub/sub subscriptions on "<prefix>:watch:<path>",
// published whenever a child set gains or loses a member.
//
// Nodes whose TTL lapses are pruned lazily from child sets the next time the
// parent is listed; such expiries do not publish a watch event.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/arloliu/helix/internal/heartbeat"
	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/types"
)

const (
	// DefaultKeyPrefix namespaces every key the client writes.
	DefaultKeyPrefix = "helix"

	// DefaultSessionTTL is how long a session survives without a heartbeat.
	DefaultSessionTTL = 10 * time.Second
)

var (
	// ErrConnectionRequired is returned by New when no Redis client is given.
	ErrConnectionRequired = errors.New("redis client is required")

	errSessionLost = errors.New("session key lost")
)

// Config configures the Redis coordination client.
type Config struct {
	// KeyPrefix namespaces all keys. Default: "helix".
	KeyPrefix string
	// SessionTTL bounds how long ephemeral nodes outlive a silent session.
	SessionTTL time.Duration
	// Logger receives adapter diagnostics.
	Logger types.Logger
}

// Client is a CoordinationClient backed by Redis.
type Client struct {
	cfg    Config
	logger types.Logger
	rdb    goredis.UniversalClient
	events chan types.SessionEvent

	lifecycle sync.Mutex

	mu         sync.Mutex
	sessionID  string
	sessionCtx context.Context
	endSession context.CancelFunc
	keepalive  *heartbeat.Publisher
	owned      map[string]struct{}
}

// New creates a Redis coordination client.
//
// The client does not own rdb; closing the coordination session leaves the
// Redis connection pool open.
//
// Parameters:
//   - rdb: Redis client (single node, sentinel or cluster)
//   - cfg: Key prefix and session TTL; zero values take defaults
//
// Returns:
//   - *Client: Disconnected client; call Connect to open a session
//   - error: ErrConnectionRequired when rdb is nil
//
// Example:
//
//	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:6379"})
//	client, err := redis.New(rdb, redis.Config{KeyPrefix: "helix"})
func New(rdb goredis.UniversalClient, cfg Config) (*Client, error) {
	if rdb == nil {
		return nil, ErrConnectionRequired
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		rdb:    rdb,
		events: make(chan types.SessionEvent, 16),
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

	sid := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, c.sessionKey(sid), time.Now().UTC().Format(time.RFC3339Nano), c.cfg.SessionTTL).Result()
	if err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("register session: id %s already in use", sid)
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
	c.owned = make(map[string]struct{})
	c.keepalive = keepalive
	c.mu.Unlock()

	if err := keepalive.Start(ctx); err != nil {
		c.mu.Lock()
		c.endSession()
		c.sessionID, c.owned, c.keepalive, c.endSession = "", nil, nil, nil
		c.mu.Unlock()
		_ = c.rdb.Del(context.WithoutCancel(ctx), c.sessionKey(sid)).Err()

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

	for path := range owned {
		if err := c.remove(ctx, path); err != nil && !errors.Is(err, types.ErrNoNode) {
			c.logger.Warn("failed to delete ephemeral node", "path", path, "error", err)
		}
	}
	if err := c.rdb.Del(ctx, c.sessionKey(sid)).Err(); err != nil {
		c.logger.Warn("failed to delete session key", "session", sid, "error", err)
	}

	c.logger.Info("session ended", "session", sid, "reason", kind.String())
	c.emit(types.SessionEvent{Type: kind, SessionID: sid})
}

// refresh extends the TTL of the session key and every owned ephemeral node.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	sid := c.sessionID
	owned := make([]string, 0, len(c.owned))
	for path := range c.owned {
		owned = append(owned, path)
	}
	c.mu.Unlock()

	if sid == "" {
		return nil
	}

	cmds, err := c.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.PExpire(ctx, c.sessionKey(sid), c.cfg.SessionTTL)
		for _, path := range owned {
			p.PExpire(ctx, c.nodeKey(path), c.cfg.SessionTTL)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	for i, cmd := range cmds {
		ok, err := cmd.(*goredis.BoolCmd).Result()
		if err != nil {
			return fmt.Errorf("refresh session: %w", err)
		}
		if ok {
			continue
		}
		if i == 0 {
			return fmt.Errorf("%w: %s", errSessionLost, sid)
		}
		if c.owns(owned[i-1]) {
			return fmt.Errorf("%w: %s", errSessionLost, owned[i-1])
		}
	}

	return nil
}

func (c *Client) owns(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.owned[path]
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
	segments, err := c.node(path)
	if err != nil {
		return false, err
	}

	n, err := c.rdb.Exists(ctx, c.nodeKey(join(segments))).Result()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// Create creates path, failing with ErrNodeExists if it exists.
func (c *Client) Create(ctx context.Context, path string, data []byte, mode types.CreateMode) error {
	segments, err := c.node(path)
	if err != nil {
		return err
	}
	canonical := join(segments)

	var ttl int64
	if mode == types.Ephemeral {
		ttl = c.cfg.SessionTTL.Milliseconds()
	}

	// Level j is the j-th ancestor; level 1 is the parent.
	keys := []string{c.nodeKey(canonical)}
	args := []any{data, ttl}
	levels := []string{canonical}
	for j := len(segments) - 1; j >= 0; j-- {
		parent := join(segments[:j])
		keys = append(keys, c.childrenKey(parent))
		args = append(args, segments[j])
		levels = append(levels, parent)
	}

	res, err := createScript.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if n, ok := res.(int64); ok && n < 0 {
		return fmt.Errorf("%w: %s", types.ErrNodeExists, path)
	}

	if mode == types.Ephemeral {
		c.mu.Lock()
		if c.owned != nil {
			c.owned[canonical] = struct{}{}
		}
		c.mu.Unlock()
	}

	c.publish(ctx, levels, res)

	return nil
}

// Get returns the data of path.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	segments, err := c.node(path)
	if err != nil {
		return nil, err
	}

	data, err := c.rdb.Get(ctx, c.nodeKey(join(segments))).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", types.ErrNoNode, path)
	}

	return data, err
}

// Set replaces the data of an existing node, keeping its TTL.
func (c *Client) Set(ctx context.Context, path string, data []byte) error {
	segments, err := c.node(path)
	if err != nil {
		return err
	}

	err = c.rdb.SetArgs(ctx, c.nodeKey(join(segments)), data, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%w: %s", types.ErrNoNode, path)
	}

	return err
}

// Delete removes path.
func (c *Client) Delete(ctx context.Context, path string) error {
	segments, err := c.node(path)
	if err != nil {
		return err
	}
	canonical := join(segments)

	c.mu.Lock()
	delete(c.owned, canonical)
	c.mu.Unlock()

	return c.remove(ctx, canonical)
}

// remove deletes a canonical path and prunes emptied ancestors.
func (c *Client) remove(ctx context.Context, path string) error {
	segments, err := paths.Split(path)
	if err != nil {
		return err
	}

	var keys []string
	var args []any
	levels := make([]string, 0, len(segments)+1)
	for j := len(segments); j >= 0; j-- {
		level := join(segments[:j])
		keys = append(keys, c.nodeKey(level), c.childrenKey(level))
		if j > 0 {
			args = append(args, segments[j-1])
		}
		levels = append(levels, level)
	}

	res, err := deleteScript.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if n, ok := res.(int64); ok && n < 0 {
		return fmt.Errorf("%w: %s", types.ErrNoNode, path)
	}

	c.publish(ctx, levels, res)

	return nil
}

// Children lists the direct children of path.
func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	segments, err := c.segments(path)
	if err != nil {
		return nil, err
	}

	return c.children(ctx, path, join(segments))
}

// WatchChildren arms a one-shot child watch on path and lists its children.
func (c *Client) WatchChildren(ctx context.Context, path string) ([]string, <-chan types.WatchEvent, error) {
	segments, err := c.segments(path)
	if err != nil {
		return nil, nil, err
	}
	canonical := join(segments)

	c.mu.Lock()
	sessionCtx := c.sessionCtx
	connected := c.sessionID != ""
	c.mu.Unlock()
	if !connected {
		return nil, nil, types.ErrClientClosed
	}

	sub := c.rdb.Subscribe(ctx, c.watchChannel(canonical))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", path, err)
	}

	children, err := c.children(ctx, path, canonical)
	if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	events := make(chan types.WatchEvent, 1)
	go func() {
		defer close(events)
		defer func() { _ = sub.Close() }()

		select {
		case <-sessionCtx.Done():
			events <- types.WatchEvent{Path: path, Err: types.ErrClientClosed}
		case _, ok := <-sub.Channel():
			if !ok {
				events <- types.WatchEvent{Path: path, Err: types.ErrClientClosed}
				return
			}
			events <- types.WatchEvent{Path: path}
		}
	}()

	return children, events, nil
}

func (c *Client) children(ctx context.Context, path, canonical string) ([]string, error) {
	if !c.IsConnected() {
		return nil, types.ErrClientClosed
	}

	base := canonical + "/"
	if canonical == "/" {
		base = "/"
	}

	res, err := childrenScript.Run(ctx, c.rdb,
		[]string{c.childrenKey(canonical), c.nodeKey(canonical)},
		c.nodeKey(base), c.childrenKey(base),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	if n, ok := res.(int64); ok && n < 0 {
		if canonical == "/" {
			return []string{}, nil
		}

		return nil, fmt.Errorf("%w: %s", types.ErrNoNode, path)
	}

	members, _ := res.([]any)
	out := make([]string, 0, len(members))
	for _, m := range members {
		if s, ok := m.(string); ok {
			out = append(out, s)
		}
	}
	slices.Sort(out)

	return out, nil
}

// publish notifies watchers of every level listed in a script result.
func (c *Client) publish(ctx context.Context, levels []string, res any) {
	changed, _ := res.([]any)
	for _, v := range changed {
		idx, ok := v.(int64)
		if !ok || idx < 0 || int(idx) >= len(levels) {
			continue
		}
		if err := c.rdb.Publish(ctx, c.watchChannel(levels[idx]), "").Err(); err != nil {
			c.logger.Warn("failed to publish child change", "path", levels[idx], "error", err)
		}
	}
}

// node validates a non-root path for a connected client.
func (c *Client) node(path string) ([]string, error) {
	segments, err := c.segments(path)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: root is not a node", types.ErrInvalidPath)
	}

	return segments, nil
}

func (c *Client) segments(path string) ([]string, error) {
	segments, err := paths.Split(path)
	if err != nil {
		return nil, err
	}
	if !c.IsConnected() {
		return nil, types.ErrClientClosed
	}

	return segments, nil
}

func (c *Client) nodeKey(path string) string {
	return c.cfg.KeyPrefix + ":node:" + path
}

func (c *Client) childrenKey(path string) string {
	return c.cfg.KeyPrefix + ":children:" + path
}

func (c *Client) watchChannel(path string) string {
	return c.cfg.KeyPrefix + ":watch:" + path
}

func (c *Client) sessionKey(sid string) string {
	return c.cfg.KeyPrefix + ":session:" + sid
}

func (c *Client) emit(ev types.SessionEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("dropping session event", "type", ev.Type.String(), "session", ev.SessionID)
	}
}

// join renders segments as an absolute path.
func join(segments []string) string {
	return "/" + strings.Join(segments, "/")
}

var _ types.CoordinationClient = (*Client)(nil)

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/types"
)

// Operation names accepted by SetFault and SetDelay.
const (
	OpConnect       = "connect"
	OpExists        = "exists"
	OpCreate        = "create"
	OpGet           = "get"
	OpSet           = "set"
	OpDelete        = "delete"
	OpChildren      = "children"
	OpWatchChildren = "watch"
)

// Client is an in-memory types.CoordinationClient.
type Client struct {
	store  *Store
	events chan types.SessionEvent

	mu        sync.Mutex
	sessionID string
	connected bool
	faults    map[string]error
	delays    map[string]time.Duration
	onOp      func(op, path string)
}

var _ types.CoordinationClient = (*Client)(nil)

// NewClient creates a disconnected client on store. A nil store gets a private one.
func NewClient(store *Store) *Client {
	if store == nil {
		store = NewStore()
	}

	return &Client{
		store:  store,
		events: make(chan types.SessionEvent, 16),
		faults: make(map[string]error),
		delays: make(map[string]time.Duration),
	}
}

// Store returns the backing node tree.
func (c *Client) Store() *Store { return c.store }

// SetFault makes every subsequent op fail with err. A nil err clears the fault.
func (c *Client) SetFault(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		delete(c.faults, op)
		return
	}
	c.faults[op] = err
}

// SetDelay makes op wait d (or until its context ends) before running.
func (c *Client) SetDelay(op string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d <= 0 {
		delete(c.delays, op)
		return
	}
	c.delays[op] = d
}

// OnOperation registers fn to observe every operation before it runs.
func (c *Client) OnOperation(fn func(op, path string)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onOp = fn
}

// Connect opens a new session.
func (c *Client) Connect(ctx context.Context) (string, error) {
	if err := c.before(ctx, OpConnect, "", false); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.connected {
		id := c.sessionID
		c.mu.Unlock()

		return id, nil
	}
	c.sessionID = uuid.NewString()
	c.connected = true
	id := c.sessionID
	c.mu.Unlock()

	c.emit(types.SessionEvent{Type: types.SessionEstablished, SessionID: id})

	return id, nil
}

// Close ends the session, removing its ephemeral nodes.
func (c *Client) Close(_ context.Context) error {
	c.end(types.SessionClosed)
	return nil
}

// ExpireSession simulates the service expiring the session.
func (c *Client) ExpireSession() {
	c.end(types.SessionExpired)
}

func (c *Client) end(kind types.SessionEventType) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	id := c.sessionID
	c.connected = false
	c.sessionID = ""
	c.mu.Unlock()

	c.store.dropSession(id)
	c.store.cancelWatches(id, types.ErrClientClosed)
	c.emit(types.SessionEvent{Type: kind, SessionID: id})
}

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
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
	if err := c.before(ctx, OpExists, path, true); err != nil {
		return false, err
	}

	return c.store.exists(path), nil
}

// Create creates path. Ephemeral nodes are removed when the session ends.
func (c *Client) Create(ctx context.Context, path string, data []byte, mode types.CreateMode) error {
	if err := c.before(ctx, OpCreate, path, true); err != nil {
		return err
	}

	return c.store.create(path, data, mode, c.SessionID())
}

// Get returns the data of path.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	if err := c.before(ctx, OpGet, path, true); err != nil {
		return nil, err
	}

	return c.store.get(path)
}

// Set replaces the data of an existing node.
func (c *Client) Set(ctx context.Context, path string, data []byte) error {
	if err := c.before(ctx, OpSet, path, true); err != nil {
		return err
	}

	return c.store.set(path, data)
}

// Delete removes path.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.before(ctx, OpDelete, path, true); err != nil {
		return err
	}

	return c.store.remove(path)
}

// Children lists the immediate children of path.
func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	if err := c.before(ctx, OpChildren, path, true); err != nil {
		return nil, err
	}

	return c.store.children(path)
}

// WatchChildren lists the children of path and arms a one-shot watch that
// fires on the next child creation or deletion.
func (c *Client) WatchChildren(ctx context.Context, path string) ([]string, <-chan types.WatchEvent, error) {
	if err := c.before(ctx, OpWatchChildren, path, true); err != nil {
		return nil, nil, err
	}

	return c.store.watch(path, c.SessionID())
}

func (c *Client) before(ctx context.Context, op, path string, needSession bool) error {
	if path != "" {
		if _, err := paths.Split(path); err != nil {
			return err
		}
	}

	c.mu.Lock()
	fault := c.faults[op]
	delay := c.delays[op]
	hook := c.onOp
	connected := c.connected
	c.mu.Unlock()

	if hook != nil {
		hook(op, path)
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if fault != nil {
		return fmt.Errorf("%s %s: %w", op, path, fault)
	}
	if needSession && !connected {
		return types.ErrClientClosed
	}

	return nil
}

func (c *Client) emit(ev types.SessionEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

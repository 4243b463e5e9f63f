// Package messaging watches the instance's message queue and feeds state
// transition messages to the engine.
package messaging

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/helix/internal/engine"
	"github.com/arloliu/helix/internal/hooks"
	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/metrics"
	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/internal/roundtrip"
	"github.com/arloliu/helix/types"
)

// Message outcome labels recorded through ChannelMetrics.
const (
	ResultDispatched = "dispatched"
	ResultFailed     = "failed"
	ResultInvalid    = "invalid"
	ResultStale      = "stale"
)

var (
	// ErrAlreadySubscribed is returned when Subscribe is called twice.
	ErrAlreadySubscribed = errors.New("message channel already subscribed")
)

// Dispatcher applies a batch of messages. Implemented by *engine.Engine.
type Dispatcher interface {
	DispatchBatch(ctx context.Context, msgs []types.Message) []engine.Result
}

// Config configures a Channel.
type Config struct {
	ClusterName  string
	InstanceName string
	// SessionID is the session messages must target; messages addressed to
	// another session are discarded as stale.
	SessionID        string
	OperationTimeout time.Duration
	// RetryBackoff and MaxBackoff bound watch re-arm retries.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks
}

// Channel is the message listener for one session.
type Channel struct {
	client     types.CoordinationClient
	dispatcher Dispatcher
	cfg        Config
	path       string

	logger  types.Logger
	metrics types.MetricsCollector
	hooks   *types.Hooks

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	seen   map[string]struct{}
}

// New creates an unsubscribed channel.
func New(client types.CoordinationClient, dispatcher Dispatcher, cfg Config) *Channel {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = max(5*time.Second, cfg.RetryBackoff)
	}

	c := &Channel{
		client:     client,
		dispatcher: dispatcher,
		cfg:        cfg,
		path:       paths.Messages(cfg.ClusterName, cfg.InstanceName),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		hooks:      hooks.Fill(cfg.Hooks),
		seen:       make(map[string]struct{}),
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}

	return c
}

// Path returns the watched MESSAGES path.
func (c *Channel) Path() string { return c.path }

// Subscribe arms the first watch and starts the listener loop.
//
// The first watch is armed synchronously so setup failures surface to the
// caller; later failures are logged and retried.
//
// Parameters:
//   - ctx: Bounds setup; the loop itself runs until Stop
//
// Returns:
//   - error: ErrAlreadySubscribed or a classified coordination error
func (c *Channel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return ErrAlreadySubscribed
	}

	err := roundtrip.Do(ctx, c.cfg.OperationTimeout, "create "+c.path, func(ctx context.Context) error {
		return c.client.Create(ctx, c.path, nil, types.Persistent)
	})
	if err != nil && !errors.Is(err, types.ErrNodeExists) {
		return err
	}

	children, events, err := c.arm(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.loop(loopCtx, children, events)

	c.logger.Info("subscribed to messages", "path", c.path, "session", c.cfg.SessionID, "pending", len(children))

	return nil
}

// Stop cancels the listener loop and waits for it to exit.
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop exits. It is nil before Subscribe.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.done
}

func (c *Channel) loop(ctx context.Context, children []string, events <-chan types.WatchEvent) {
	defer close(c.done)

	backoff := c.cfg.RetryBackoff
	for {
		// A failed read leaves its message queued; nothing will fire the watch
		// for it again, so the listing is re-read on a backoff timer.
		var retry <-chan time.Time
		if c.process(ctx, children) {
			backoff = c.cfg.RetryBackoff
		} else {
			retry = time.After(backoff)
			backoff = min(backoff*2, c.cfg.MaxBackoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-retry:
			listed, err := c.list(ctx)
			if errors.Is(err, types.ErrClientClosed) {
				c.logger.Info("stopping message listener, session closed", "path", c.path)
				return
			}
			if err != nil {
				c.logger.Warn("failed to list messages", "path", c.path, "error", err)
				continue
			}
			children = listed

			continue
		case ev := <-events:
			if errors.Is(ev.Err, types.ErrClientClosed) {
				c.logger.Info("message watch closed with session", "path", c.path)
				return
			}
			if ev.Err != nil {
				c.logger.Warn("message watch error", "path", c.path, "error", ev.Err)
			}
		}

		var err error
		children, events, err = c.rearm(ctx)
		if err != nil {
			return
		}
	}
}

// list reads the queue without arming a watch.
func (c *Channel) list(ctx context.Context) ([]string, error) {
	return roundtrip.Value(ctx, c.cfg.OperationTimeout, "children "+c.path,
		func(ctx context.Context) ([]string, error) {
			return c.client.Children(ctx, c.path)
		})
}

// rearm arms the next watch, retrying with exponential backoff until it
// succeeds, the loop is cancelled or the session is closed.
func (c *Channel) rearm(ctx context.Context) ([]string, <-chan types.WatchEvent, error) {
	backoff := c.cfg.RetryBackoff
	for {
		children, events, err := c.arm(ctx)
		if err == nil {
			c.metrics.RecordWatchRearm(true)
			return children, events, nil
		}
		c.metrics.RecordWatchRearm(false)

		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errors.Is(err, types.ErrClientClosed) {
			c.logger.Info("stopping message listener, session closed", "path", c.path)
			return nil, nil, err
		}

		c.logger.Warn("failed to re-arm message watch", "path", c.path, "error", err, "retry_in", backoff)
		c.reportError(ctx, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Channel) arm(ctx context.Context) ([]string, <-chan types.WatchEvent, error) {
	var events <-chan types.WatchEvent
	children, err := roundtrip.Value(ctx, c.cfg.OperationTimeout, "watch "+c.path,
		func(ctx context.Context) ([]string, error) {
			ch, ev, err := c.client.WatchChildren(ctx, c.path)
			events = ev
			return ch, err
		})
	if err != nil {
		return nil, nil, err
	}

	return children, events, nil
}

// process reads, orders, dispatches and deletes the unseen messages in children.
// It returns false when some message could not be read and is still queued.
func (c *Channel) process(ctx context.Context, children []string) bool {
	c.pruneSeen(children)

	type queued struct {
		name string
		msg  types.Message
	}

	var batch []queued
	complete := true
	for _, name := range children {
		if ctx.Err() != nil {
			return true
		}
		if _, ok := c.seen[name]; ok {
			continue
		}

		msg, ok, err := c.read(ctx, name)
		if err != nil {
			complete = false
			continue
		}
		if !ok {
			continue
		}
		c.seen[name] = struct{}{}

		if msg.TargetSession != "" && msg.TargetSession != c.cfg.SessionID {
			c.metrics.RecordMessage(ResultStale)
			c.logger.Debug("discarding message for another session",
				"message", msg.ID,
				"target_session", msg.TargetSession,
				"session", c.cfg.SessionID,
			)
			c.remove(ctx, name)

			continue
		}

		batch = append(batch, queued{name: name, msg: msg})
	}

	if len(batch) == 0 {
		return complete
	}

	slices.SortStableFunc(batch, func(a, b queued) int {
		if r := cmp.Compare(a.msg.CreateTimestamp, b.msg.CreateTimestamp); r != 0 {
			return r
		}
		return cmp.Compare(a.msg.ID, b.msg.ID)
	})

	msgs := make([]types.Message, len(batch))
	for i, q := range batch {
		msgs[i] = q.msg
	}

	for _, res := range c.dispatcher.DispatchBatch(ctx, msgs) {
		switch {
		case res.Err == nil:
			c.metrics.RecordMessage(ResultDispatched)
		case errors.Is(res.Err, types.ErrStaleMessage):
			c.metrics.RecordMessage(ResultStale)
			c.logger.Info("stale transition message discarded", "message", res.Message.ID, "error", res.Err)
		case errors.Is(res.Err, types.ErrInvalidMessage):
			c.metrics.RecordMessage(ResultInvalid)
			c.logger.Warn("invalid transition message", "message", res.Message.ID, "error", res.Err)
			c.reportError(ctx, res.Err)
		default:
			c.metrics.RecordMessage(ResultFailed)
			c.logger.Error("transition failed", "message", res.Message.ID, "error", res.Err)
			c.reportError(ctx, res.Err)
		}
	}

	for _, q := range batch {
		c.remove(ctx, q.name)
	}

	return complete
}

// read fetches and decodes one message node. Invalid messages are reported
// and removed; a vanished node is skipped silently. A non-nil error means the
// node could not be read and should be retried.
func (c *Channel) read(ctx context.Context, name string) (types.Message, bool, error) {
	path := paths.Message(c.cfg.ClusterName, c.cfg.InstanceName, name)

	data, err := roundtrip.Value(ctx, c.cfg.OperationTimeout, "get "+path,
		func(ctx context.Context) ([]byte, error) {
			return c.client.Get(ctx, path)
		})
	if errors.Is(err, types.ErrNoNode) {
		return types.Message{}, false, nil
	}
	if err != nil {
		c.metrics.RecordMessage(ResultFailed)
		c.logger.Warn("failed to read message", "path", path, "error", err)
		c.reportError(ctx, err)

		return types.Message{}, false, err
	}

	msg, err := DecodeMessage(name, data)
	if err != nil {
		c.seen[name] = struct{}{}
		c.metrics.RecordMessage(ResultInvalid)
		c.logger.Warn("discarding undecodable message", "path", path, "error", err)
		c.reportError(ctx, err)
		c.remove(ctx, name)

		return types.Message{}, false, nil
	}

	return msg, true, nil
}

func (c *Channel) remove(ctx context.Context, name string) {
	path := paths.Message(c.cfg.ClusterName, c.cfg.InstanceName, name)
	err := roundtrip.Do(ctx, c.cfg.OperationTimeout, "delete "+path, func(ctx context.Context) error {
		return c.client.Delete(ctx, path)
	})
	if err != nil && !errors.Is(err, types.ErrNoNode) {
		c.logger.Warn("failed to delete handled message", "path", path, "error", err)
		c.reportError(ctx, fmt.Errorf("delete message %s: %w", name, err))
	}
}

// pruneSeen forgets handled messages whose nodes are gone.
func (c *Channel) pruneSeen(children []string) {
	present := make(map[string]struct{}, len(children))
	for _, name := range children {
		present[name] = struct{}{}
	}
	for name := range c.seen {
		if _, ok := present[name]; !ok {
			delete(c.seen, name)
		}
	}
}

func (c *Channel) reportError(ctx context.Context, err error) {
	go func() {
		if herr := c.hooks.OnError(ctx, err); herr != nil {
			c.logger.Error("error hook failed", "error", herr)
		}
	}()
}

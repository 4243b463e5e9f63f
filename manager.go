package helix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/helix/internal/carryover"
	"github.com/arloliu/helix/internal/engine"
	"github.com/arloliu/helix/internal/hooks"
	"github.com/arloliu/helix/internal/liveness"
	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/internal/messaging"
	"github.com/arloliu/helix/internal/metrics"
	"github.com/arloliu/helix/internal/roundtrip"
	"github.com/arloliu/helix/internal/session"
	"github.com/arloliu/helix/statemodel"
	"github.com/arloliu/helix/types"
)

// Version is the participant version published in the live instance record.
const Version = "0.6.1-goparticipant"

// Manager is a Helix participant: it joins a cluster as a live instance and
// applies controller-issued state transitions to its partitions.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Session state transitions are atomic
//   - Disconnect never waits for an in-flight Connect pipeline
//
// Lifecycle:
//   - Create with NewManager()
//   - Register pre-connect callbacks with AddPreConnectCallback()
//   - Call Connect() to establish the session and start processing messages
//   - Call Disconnect() to leave the cluster
//
// A lost session (expiry) returns the manager to StateDisconnected and is
// reported through Hooks.OnError; call Connect again to rejoin.
type Manager struct {
	cfg     Config
	client  CoordinationClient
	factory *statemodel.Factory

	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger

	coordinator *session.Coordinator
	engine      *engine.Engine
	liveness    *liveness.Registrar
	carryover   *carryover.Manager

	// State management
	state     atomic.Int32 // SessionState
	sessionID atomic.Value // string

	// ctx is handed to hooks.
	ctx context.Context

	// Per-session resources, guarded by mu. generation changes whenever a
	// session attempt starts or is torn down so stale attempts can detect it.
	mu         sync.Mutex
	generation uint64
	attempt    uint64 // generation of the latest Connect
	abort      context.CancelFunc
	channel    *messaging.Channel
	stopWatch  context.CancelFunc
	watchDone  chan struct{}
}

// NewManager creates a new Manager instance with the provided configuration.
//
// Returns a concrete *Manager struct following the "accept interfaces, return structs" principle.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - client: Coordination service client (coordination/memory, natskv or redis)
//   - factory: State model factory for the partitions this participant serves
//   - opts: Optional configuration (hooks, metrics, logger, tracer, callbacks)
//
// Returns:
//   - *Manager: Initialized manager in StateDisconnected
//   - error: ErrClientRequired, ErrFactoryRequired or a configuration error
//
// Example:
//
//	cfg := helix.DefaultConfig()
//	cfg.ClusterName, cfg.InstanceName = "foo", "localhost_12000"
//	mgr, err := helix.NewManager(&cfg, client, statemodel.NewFactory(def))
func NewManager(cfg *Config, client CoordinationClient, factory *statemodel.Factory, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if client == nil {
		return nil, ErrClientRequired
	}
	if factory == nil {
		return nil, ErrFactoryRequired
	}

	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	m := &Manager{
		cfg:     *cfg,
		client:  client,
		factory: factory,
		hooks:   hooks.Fill(options.hooks),
		metrics: metricsCollector,
		logger:  loggerInstance,
		ctx:     context.Background(),
	}

	m.state.Store(int32(StateDisconnected))
	m.sessionID.Store("")

	m.coordinator = session.NewCoordinator(session.Config{
		Logger:  m.logger,
		Metrics: m.metrics,
		Hooks:   m.hooks,
	})
	for _, cb := range options.callbacks {
		m.coordinator.AddPreConnectCallback(cb)
	}

	m.liveness = liveness.NewRegistrar(client, liveness.Config{
		ClusterName:      cfg.ClusterName,
		InstanceName:     cfg.InstanceName,
		Version:          Version,
		OperationTimeout: cfg.OperationTimeout,
		Logger:           m.logger,
	})

	m.carryover = carryover.New(client, carryover.Config{
		ClusterName:      cfg.ClusterName,
		InstanceName:     cfg.InstanceName,
		OperationTimeout: cfg.OperationTimeout,
		Logger:           m.logger,
		Metrics:          m.metrics,
	})

	m.engine = engine.New(engine.Config{
		Factory:      factory,
		Notification: m.notification,
		Parallelism:  cfg.DispatchParallelism,
		Recorder:     m.recordState,
		Logger:       m.logger,
		Metrics:      m.metrics,
		Hooks:        m.hooks,
		Tracer:       options.tracer,
	})

	return m, nil
}

// Connect establishes a coordination session and joins the cluster.
//
// Connect is a no-op when the manager is not in StateDisconnected. Otherwise it
// opens a session (bounded by ConnectTimeout) and runs the establishment
// pipeline. On failure every resource acquired by the attempt is released and
// the manager returns to StateDisconnected, so the caller may retry.
//
// Parameters:
//   - ctx: Bounds the whole attempt; cancelling it aborts the pipeline
//
// Returns:
//   - error: *StepError naming the failed step (wrapping ErrDuplicateInstance,
//     ErrCoordinationService, ErrSessionTimeout or ErrSessionAborted), or a
//     connect failure
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.State() != StateDisconnected {
		m.mu.Unlock()
		return nil
	}

	m.generation++
	gen := m.generation
	m.attempt = gen
	pctx, abort := context.WithCancel(ctx)
	m.abort = abort
	prevWatch := m.watchDone
	m.transitionState(StateDisconnected, StateConnecting)
	m.mu.Unlock()

	defer abort()

	// The previous session watcher shares the client's event stream.
	if prevWatch != nil {
		select {
		case <-prevWatch:
		case <-pctx.Done():
		}
	}

	m.engine.Reset()

	sid, err := roundtrip.Value(pctx, m.cfg.ConnectTimeout, "connect", m.client.Connect)
	if err != nil {
		m.fail(gen, err)
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		// The session opened after Disconnect already closed the client.
		// Close it unless a newer attempt is using it.
		orphaned := m.attempt == gen
		m.mu.Unlock()
		if orphaned {
			m.closeOrphan(ctx, sid)
		}

		return fmt.Errorf("connect: %w", ErrSessionAborted)
	}

	m.sessionID.Store(sid)
	m.channel = messaging.New(m.client, m.engine, messaging.Config{
		ClusterName:      m.cfg.ClusterName,
		InstanceName:     m.cfg.InstanceName,
		SessionID:        sid,
		OperationTimeout: m.cfg.OperationTimeout,
		RetryBackoff:     m.cfg.WatchRetryBackoff,
		MaxBackoff:       m.cfg.WatchRetryMaxBackoff,
		Logger:           m.logger,
		Metrics:          m.metrics,
		Hooks:            m.hooks,
	})

	watchCtx, stopWatch := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopWatch, m.watchDone = stopWatch, done
	go m.watchSession(watchCtx, done, gen, sid)

	participants := session.Participants{
		Liveness:  m.liveness,
		Carryover: m.carryover,
		Engine:    m.engine,
		Channel:   m.channel,
	}
	m.transitionState(StateConnecting, StateEstablishingSession)
	m.mu.Unlock()

	m.logger.Info("session established, joining cluster",
		"cluster", m.cfg.ClusterName,
		"instance", m.cfg.InstanceName,
		"session", sid,
	)

	alive := func() bool {
		return m.current(gen) && m.client.IsConnected()
	}
	if err := m.coordinator.Establish(pctx, sid, participants, alive); err != nil {
		m.fail(gen, err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return fmt.Errorf("connect: %w", ErrSessionAborted)
	}
	m.transitionState(StateEstablishingSession, StateParticipating)

	return nil
}

// Disconnect leaves the cluster.
//
// It cancels an in-flight Connect pipeline without waiting for it, stops the
// message listener, closes the coordination session (removing the live
// instance node) and destroys all partition state models. It is a no-op in
// StateDisconnected.
//
// Parameters:
//   - ctx: Bounds cleanup, in addition to ShutdownTimeout
//
// Returns:
//   - error: Session close failure (the manager is Disconnected regardless)
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.State() == StateDisconnected {
		m.mu.Unlock()
		return nil
	}

	m.generation++
	from := m.State()
	res := m.detachLocked()
	m.mu.Unlock()

	m.logger.Info("disconnecting", "cluster", m.cfg.ClusterName, "instance", m.cfg.InstanceName, "state", from.String())

	err := m.teardown(ctx, res)
	m.transitionState(from, StateDisconnected)

	return err
}

// IsConnected reports whether the manager holds a coordination session.
func (m *Manager) IsConnected() bool {
	return m.State() != StateDisconnected && m.client.IsConnected()
}

// AddPreConnectCallback registers a callback run before the live instance node
// is created on every subsequent session establishment.
//
// Callbacks run synchronously in registration order. Errors and panics are
// logged and reported through Hooks.OnError without aborting the connection.
func (m *Manager) AddPreConnectCallback(cb func(ctx context.Context) error) {
	m.coordinator.AddPreConnectCallback(cb)
}

// ClusterName returns the configured cluster name.
func (m *Manager) ClusterName() string {
	return m.cfg.ClusterName
}

// InstanceName returns the configured instance name.
func (m *Manager) InstanceName() string {
	return m.cfg.InstanceName
}

// InstanceType returns the instance role; always PARTICIPANT.
func (m *Manager) InstanceType() InstanceType {
	return m.cfg.InstanceType
}

// SessionID returns the current session id, or "" when disconnected.
func (m *Manager) SessionID() string {
	id, _ := m.sessionID.Load().(string)
	return id
}

// Version returns the participant version.
func (m *Manager) Version() string {
	return Version
}

// State returns the current session state.
//
// Returns:
//   - SessionState: One of Disconnected, Connecting, EstablishingSession, Participating
func (m *Manager) State() SessionState {
	return SessionState(m.state.Load())
}

// CurrentState returns the state of a partition this participant serves.
//
// Returns:
//   - string: Current state of the partition's state model
//   - bool: false if the partition has no state model yet
func (m *Manager) CurrentState(partition string) (string, bool) {
	return m.engine.CurrentState(partition)
}

// Partitions returns the sorted names of partitions with a state model.
func (m *Manager) Partitions() []string {
	return m.engine.Partitions()
}

// WaitState waits for the Manager to reach the expected state.
//
// Parameters:
//   - expectedState: The state to wait for
//   - timeout: Maximum time to wait
//
// Returns:
//   - <-chan error: Receives nil on success or context.DeadlineExceeded on timeout
//
// Example:
//
//	if err := <-mgr.WaitState(helix.StateParticipating, 5*time.Second); err != nil {
//	    log.Fatal(err)
//	}
func (m *Manager) WaitState(expectedState SessionState, timeout time.Duration) <-chan error {
	ch := make(chan error, 1) // Buffered to prevent goroutine leak

	go func() {
		defer close(ch)

		if m.State() == expectedState {
			ch <- nil
			return
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()

		for {
			select {
			case <-ticker.C:
				if m.State() == expectedState {
					ch <- nil
					return
				}
			case <-timeoutTimer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// sessionResources are the per-session resources released on teardown.
type sessionResources struct {
	abort     context.CancelFunc
	channel   *messaging.Channel
	stopWatch context.CancelFunc
}

// detachLocked takes ownership of the per-session resources. mu must be held.
func (m *Manager) detachLocked() sessionResources {
	res := sessionResources{abort: m.abort, channel: m.channel, stopWatch: m.stopWatch}
	m.abort, m.channel, m.stopWatch = nil, nil, nil

	return res
}

// teardown releases session resources and closes the client.
func (m *Manager) teardown(ctx context.Context, res sessionResources) error {
	if res.abort != nil {
		res.abort()
	}
	if res.channel != nil {
		res.channel.Stop()
	}
	if res.stopWatch != nil {
		res.stopWatch()
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if cerr := m.client.Close(closeCtx); cerr != nil {
		err = fmt.Errorf("close session: %w", cerr)
		m.logError("failed to close coordination session", "error", cerr)
	}

	m.engine.Reset()
	m.sessionID.Store("")

	return err
}

// closeOrphan closes a session that no attempt owns anymore.
func (m *Manager) closeOrphan(ctx context.Context, sid string) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.client.Close(closeCtx); err != nil {
		m.logError("failed to close aborted session", "session", sid, "error", err)
		return
	}
	m.logger.Info("closed session opened by aborted connect", "session", sid)
}

// fail tears down a failed attempt if it is still the current one.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	from := m.State()
	res := m.detachLocked()
	m.mu.Unlock()

	m.logError("session establishment failed", "state", from.String(), "error", cause)

	_ = m.teardown(context.Background(), res)
	m.transitionState(from, StateDisconnected)
}

// current reports whether gen is still the active session attempt.
func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return gen == m.generation
}

// watchSession tears the participant down when the session ends underneath it.
func (m *Manager) watchSession(ctx context.Context, done chan struct{}, gen uint64, sid string) {
	defer close(done)

	events := m.client.SessionEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.SessionID != sid {
				continue
			}
			if ev.Type == types.SessionExpired || ev.Type == types.SessionClosed {
				m.loseSession(gen, ev)
				return
			}
		}
	}
}

func (m *Manager) loseSession(gen uint64, ev types.SessionEvent) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	from := m.State()
	res := m.detachLocked()
	m.mu.Unlock()

	err := fmt.Errorf("%w: session %s %s", ErrSessionExpired, ev.SessionID, ev.Type)
	m.logError("coordination session lost", "session", ev.SessionID, "event", ev.Type.String(), "state", from.String())

	_ = m.teardown(context.Background(), res)
	m.transitionState(from, StateDisconnected)

	go func() {
		if herr := m.hooks.OnError(m.ctx, err); herr != nil {
			m.logError("error hook failed", "error", herr)
		}
	}()
}

// notification builds the context handed to transition handlers.
func (m *Manager) notification() NotificationContext {
	return NotificationContext{
		ClusterName:  m.cfg.ClusterName,
		InstanceName: m.cfg.InstanceName,
		SessionID:    m.SessionID(),
		ReceivedAt:   time.Now(),
	}
}

// recordState writes a completed transition to the current session's
// CURRENTSTATES record.
func (m *Manager) recordState(ctx context.Context, resource, def, partition, state string) error {
	if resource == "" {
		return nil
	}

	sid := m.SessionID()
	if sid == "" {
		return ErrNotConnected
	}

	err := m.carryover.Record(ctx, sid, resource, def, partition, state)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// transitionState atomically moves from one session state to another.
//
// The move is skipped when it is not a valid transition or when the current
// state is no longer from.
func (m *Manager) transitionState(from, to SessionState) {
	if !m.isValidTransition(from, to) {
		m.logError("invalid state transition attempted",
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	if !m.state.CompareAndSwap(int32(from), int32(to)) { //nolint:gosec // State values are controlled enum
		return
	}

	m.logger.Info("state transition",
		"from", from.String(),
		"to", to.String(),
		"instance", m.cfg.InstanceName,
	)

	// Run hook in background to avoid blocking the state machine
	go func() {
		if err := m.hooks.OnStateChanged(m.ctx, from, to); err != nil {
			m.logError("state change hook error", "from", from, "to", to, "error", err)
		}
	}()

	m.metrics.RecordStateTransition(from, to)
}

// isValidTransition validates that a state transition is allowed.
func (m *Manager) isValidTransition(from, to SessionState) bool {
	validTransitions := map[SessionState][]SessionState{
		StateDisconnected:        {StateConnecting},
		StateConnecting:          {StateEstablishingSession, StateDisconnected},
		StateEstablishingSession: {StateParticipating, StateDisconnected},
		StateParticipating:       {StateDisconnected},
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func (m *Manager) logError(msg string, keysAndValues ...any) {
	m.logger.Error(msg, keysAndValues...)
}

package helix

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/helix/internal/paths"
	"github.com/arloliu/helix/types"
)

// Coordination backends understood by the bundled command and adapters.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendRedis  = "redis"
)

// NATSConfig configures the NATS JetStream KV coordination adapter.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `yaml:"url" env:"URL"`

	// NodeBucket stores persistent nodes (message queue, current states).
	NodeBucket string `yaml:"nodeBucket" env:"NODE_BUCKET"`

	// EphemeralBucket stores session-scoped nodes; entries expire after SessionTTL
	// unless kept alive.
	EphemeralBucket string `yaml:"ephemeralBucket" env:"EPHEMERAL_BUCKET"`

	// SessionTTL is how long ephemeral nodes survive without a keepalive.
	// Keepalives are sent every SessionTTL/3.
	SessionTTL time.Duration `yaml:"sessionTtl" env:"SESSION_TTL"`
}

// RedisConfig configures the Redis coordination adapter.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr" env:"ADDR"`

	// KeyPrefix namespaces every key written by the adapter.
	KeyPrefix string `yaml:"keyPrefix" env:"KEY_PREFIX"`

	// SessionTTL is how long ephemeral keys survive without a keepalive.
	SessionTTL time.Duration `yaml:"sessionTtl" env:"SESSION_TTL"`
}

// CoordinationConfig selects and configures the coordination backend.
type CoordinationConfig struct {
	// Backend is one of "memory", "nats" or "redis".
	Backend string `yaml:"backend" env:"BACKEND"`

	NATS  NATSConfig  `yaml:"nats" envPrefix:"NATS_"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
// Environment variables use the HELIX_ prefix (HELIX_CLUSTER_NAME,
// HELIX_COORDINATION_NATS_URL, ...).
type Config struct {
	// ClusterName is the cluster this participant joins. Must be a valid path segment.
	ClusterName string `yaml:"clusterName" env:"CLUSTER_NAME"`

	// InstanceName identifies this participant within the cluster, commonly
	// "<host>_<port>". Must be a valid path segment.
	InstanceName string `yaml:"instanceName" env:"INSTANCE_NAME"`

	// InstanceType is the role of the instance. Only PARTICIPANT is supported.
	InstanceType types.InstanceType `yaml:"instanceType" env:"INSTANCE_TYPE"`

	// ConnectTimeout bounds opening the coordination session.
	ConnectTimeout time.Duration `yaml:"connectTimeout" env:"CONNECT_TIMEOUT"`

	// OperationTimeout bounds each coordination round trip (exists, create, get, ...).
	// Expiry surfaces as ErrSessionTimeout.
	OperationTimeout time.Duration `yaml:"operationTimeout" env:"OPERATION_TIMEOUT"`

	// ShutdownTimeout bounds Disconnect's cleanup (listener stop, session close).
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`

	// DispatchParallelism is the number of partitions that may transition concurrently.
	// Messages for the same partition are always applied sequentially.
	DispatchParallelism int `yaml:"dispatchParallelism" env:"DISPATCH_PARALLELISM"`

	// WatchRetryBackoff is the initial delay before retrying a failed message watch.
	WatchRetryBackoff time.Duration `yaml:"watchRetryBackoff" env:"WATCH_RETRY_BACKOFF"`

	// WatchRetryMaxBackoff caps the exponential watch retry delay.
	WatchRetryMaxBackoff time.Duration `yaml:"watchRetryMaxBackoff" env:"WATCH_RETRY_MAX_BACKOFF"`

	// Coordination selects and configures the coordination backend.
	Coordination CoordinationConfig `yaml:"coordination" envPrefix:"COORDINATION_"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// ClusterName and InstanceName have no default and must be set.
func DefaultConfig() Config {
	return Config{
		InstanceType:         types.InstanceTypeParticipant,
		ConnectTimeout:       30 * time.Second,
		OperationTimeout:     10 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		DispatchParallelism:  8,
		WatchRetryBackoff:    100 * time.Millisecond,
		WatchRetryMaxBackoff: 5 * time.Second,
		Coordination: CoordinationConfig{
			Backend: BackendNATS,
			NATS: NATSConfig{
				URL:             "nats://127.0.0.1:4222",
				NodeBucket:      "helix-nodes",
				EphemeralBucket: "helix-ephemeral",
				SessionTTL:      10 * time.Second,
			},
			Redis: RedisConfig{
				Addr:       "127.0.0.1:6379",
				KeyPrefix:  "helix",
				SessionTTL: 10 * time.Second,
			},
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.InstanceType == "" {
		cfg.InstanceType = defaults.InstanceType
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.DispatchParallelism == 0 {
		cfg.DispatchParallelism = defaults.DispatchParallelism
	}
	if cfg.WatchRetryBackoff == 0 {
		cfg.WatchRetryBackoff = defaults.WatchRetryBackoff
	}
	if cfg.WatchRetryMaxBackoff == 0 {
		cfg.WatchRetryMaxBackoff = defaults.WatchRetryMaxBackoff
	}

	co, dco := &cfg.Coordination, defaults.Coordination
	if co.Backend == "" {
		co.Backend = dco.Backend
	}
	if co.NATS.URL == "" {
		co.NATS.URL = dco.NATS.URL
	}
	if co.NATS.NodeBucket == "" {
		co.NATS.NodeBucket = dco.NATS.NodeBucket
	}
	if co.NATS.EphemeralBucket == "" {
		co.NATS.EphemeralBucket = dco.NATS.EphemeralBucket
	}
	if co.NATS.SessionTTL == 0 {
		co.NATS.SessionTTL = dco.NATS.SessionTTL
	}
	if co.Redis.Addr == "" {
		co.Redis.Addr = dco.Redis.Addr
	}
	if co.Redis.KeyPrefix == "" {
		co.Redis.KeyPrefix = dco.Redis.KeyPrefix
	}
	if co.Redis.SessionTTL == 0 {
		co.Redis.SessionTTL = dco.Redis.SessionTTL
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
//
// Parameters:
//   - path: YAML file path
//
// Returns:
//   - Config: Loaded configuration (not yet validated)
//   - error: Read or decode failure
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ConfigFromEnv overlays HELIX_* environment variables on base.
//
// Example:
//
//	cfg, err := helix.ConfigFromEnv(helix.DefaultConfig())
func ConfigFromEnv(base Config) (Config, error) {
	cfg := base
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "HELIX_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - ClusterName and InstanceName are non-empty path segments
//   - InstanceType is PARTICIPANT
//   - ConnectTimeout, OperationTimeout and ShutdownTimeout are > 0
//   - DispatchParallelism >= 1
//   - 0 < WatchRetryBackoff <= WatchRetryMaxBackoff
//   - Backend is memory, nats or redis
//
// Returns:
//   - error: Wraps ErrInvalidConfig or ErrUnsupportedInstanceType, nil if valid
func (cfg *Config) Validate() error {
	if cfg.ClusterName == "" || !paths.ValidSegment(cfg.ClusterName) {
		return fmt.Errorf("%w: ClusterName %q must match [A-Za-z0-9_.=-]+", ErrInvalidConfig, cfg.ClusterName)
	}
	if cfg.InstanceName == "" || !paths.ValidSegment(cfg.InstanceName) {
		return fmt.Errorf("%w: InstanceName %q must match [A-Za-z0-9_.=-]+", ErrInvalidConfig, cfg.InstanceName)
	}
	if cfg.InstanceType != types.InstanceTypeParticipant {
		return fmt.Errorf("%w: %q", ErrUnsupportedInstanceType, cfg.InstanceType)
	}
	if cfg.ConnectTimeout <= 0 || cfg.OperationTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: ConnectTimeout (%v), OperationTimeout (%v) and ShutdownTimeout (%v) must be > 0",
			ErrInvalidConfig, cfg.ConnectTimeout, cfg.OperationTimeout, cfg.ShutdownTimeout)
	}
	if cfg.DispatchParallelism < 1 {
		return fmt.Errorf("%w: DispatchParallelism must be >= 1, got %d", ErrInvalidConfig, cfg.DispatchParallelism)
	}
	if cfg.WatchRetryBackoff <= 0 || cfg.WatchRetryMaxBackoff < cfg.WatchRetryBackoff {
		return fmt.Errorf("%w: WatchRetryBackoff (%v) must be > 0 and <= WatchRetryMaxBackoff (%v)",
			ErrInvalidConfig, cfg.WatchRetryBackoff, cfg.WatchRetryMaxBackoff)
	}

	switch cfg.Coordination.Backend {
	case BackendMemory, BackendNATS, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown coordination backend %q", ErrInvalidConfig, cfg.Coordination.Backend)
	}

	return nil
}

// ValidateWithWarnings logs warnings for valid but non-recommended values.
//
// This is called after Validate() in NewManager() to provide operator guidance.
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.OperationTimeout > cfg.ConnectTimeout {
		logger.Warn("OperationTimeout exceeds ConnectTimeout",
			"operationTimeout", cfg.OperationTimeout,
			"connectTimeout", cfg.ConnectTimeout,
		)
	}

	if cfg.DispatchParallelism > 256 {
		logger.Warn("DispatchParallelism is very high, handlers may contend for resources",
			"dispatchParallelism", cfg.DispatchParallelism,
		)
	}

	switch cfg.Coordination.Backend {
	case BackendNATS:
		if cfg.Coordination.NATS.SessionTTL < 3*time.Second {
			logger.Warn("NATS SessionTTL is short, brief stalls may expire the session",
				"sessionTtl", cfg.Coordination.NATS.SessionTTL,
				"recommended", "10s or higher",
			)
		}
	case BackendRedis:
		if cfg.Coordination.Redis.SessionTTL < 3*time.Second {
			logger.Warn("Redis SessionTTL is short, brief stalls may expire the session",
				"sessionTtl", cfg.Coordination.Redis.SessionTTL,
				"recommended", "10s or higher",
			)
		}
	}
}

// TestConfig returns a configuration with fast timings for tests.
//
// Example:
//
//	cfg := helix.TestConfig()
//	cfg.ClusterName = "foo"
//	cfg.InstanceName = "bar"
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.Coordination.Backend = BackendMemory
	cfg.ConnectTimeout = 2 * time.Second
	cfg.OperationTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.DispatchParallelism = 4
	cfg.WatchRetryBackoff = 10 * time.Millisecond
	cfg.WatchRetryMaxBackoff = 100 * time.Millisecond
	cfg.Coordination.NATS.SessionTTL = 2 * time.Second
	cfg.Coordination.Redis.SessionTTL = 2 * time.Second

	return cfg
}

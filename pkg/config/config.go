// Package config loads and validates the supportdesk.yaml configuration.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize and
// threaded through the application.
type Config struct {
	configDir string

	Server     *ServerConfig
	Dispatcher *DispatcherConfig
	Transport  *TransportConfig
	Presence   *PresenceConfig
	Store      *StoreConfig
	Turn       *TurnConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig controls the HTTP and WebSocket surface.
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`

	// AllowedOrigins feeds both CORS and the WebSocket origin check.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`

	// AllowQueryIdentity lets /ws take ?username= when no auth proxy header
	// is present. Development only.
	AllowQueryIdentity bool `yaml:"allow_query_identity"`
}

// DispatcherConfig sizes the inbound event worker set.
type DispatcherConfig struct {
	// WorkerCount is the number of event workers per replica.
	WorkerCount int `yaml:"worker_count"`

	// QueueSize is the per-worker inbox capacity. Submitting to a full
	// inbox blocks the connection's read loop.
	QueueSize int `yaml:"queue_size"`

	// GracefulShutdownTimeout bounds how long Stop waits for queued events.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// TransportMode selects how pushes reach users.
type TransportMode string

// Transport modes.
const (
	// TransportModeLocal delivers to connections on this replica only.
	TransportModeLocal TransportMode = "local"
	// TransportModePostgres fans out through PostgreSQL NOTIFY/LISTEN.
	TransportModePostgres TransportMode = "postgres"
)

// TransportConfig controls push delivery.
type TransportConfig struct {
	Mode TransportMode `yaml:"mode"`

	// PayloadTTL is how long oversized NOTIFY payloads are kept for
	// listeners to resolve.
	PayloadTTL      time.Duration `yaml:"payload_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PresenceBackend selects where agent availability lives.
type PresenceBackend string

// Presence backends.
const (
	PresenceBackendMemory   PresenceBackend = "memory"
	PresenceBackendRedis    PresenceBackend = "redis"
	PresenceBackendDatabase PresenceBackend = "database"
)

// PresenceConfig controls the availability tracker.
type PresenceConfig struct {
	Backend PresenceBackend `yaml:"backend"`
	Redis   *RedisConfig    `yaml:"redis"`
}

// RedisConfig holds connection settings for the Redis presence backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Key is the hash holding agent → availability.
	Key string `yaml:"key"`
}

// StoreBackend selects the session store implementation.
type StoreBackend string

// Store backends.
const (
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendMemory   StoreBackend = "memory"
)

// StoreConfig selects the session store.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`
}

// TurnConfig is handed to browsers so they can fetch TURN credentials.
type TurnConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

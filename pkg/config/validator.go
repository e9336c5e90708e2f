package config

import (
	"fmt"
	"strconv"
)

// ConfigValidator validates configuration with clear error messages.
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll validates every section, stopping at the first error.
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateDispatcher(); err != nil {
		return err
	}
	if err := v.validateTransport(); err != nil {
		return err
	}
	if err := v.validatePresence(); err != nil {
		return err
	}
	return v.validateStore()
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s == nil {
		return NewValidationError("server", "", fmt.Errorf("%w: server configuration is nil", ErrMissingRequiredField))
	}
	port, err := strconv.Atoi(s.HTTPPort)
	if err != nil || port < 1 || port > 65535 {
		return NewValidationError("server", "http_port", fmt.Errorf("%w: %q is not a valid port", ErrInvalidValue, s.HTTPPort))
	}
	if s.WSWriteTimeout <= 0 {
		return NewValidationError("server", "ws_write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateDispatcher() error {
	d := v.cfg.Dispatcher
	if d == nil {
		return NewValidationError("dispatcher", "", fmt.Errorf("%w: dispatcher configuration is nil", ErrMissingRequiredField))
	}
	if d.WorkerCount < 1 || d.WorkerCount > 256 {
		return NewValidationError("dispatcher", "worker_count", fmt.Errorf("%w: must be between 1 and 256", ErrInvalidValue))
	}
	if d.QueueSize < 1 {
		return NewValidationError("dispatcher", "queue_size", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if d.GracefulShutdownTimeout <= 0 {
		return NewValidationError("dispatcher", "graceful_shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateTransport() error {
	t := v.cfg.Transport
	if t == nil {
		return NewValidationError("transport", "", fmt.Errorf("%w: transport configuration is nil", ErrMissingRequiredField))
	}
	switch t.Mode {
	case TransportModeLocal:
	case TransportModePostgres:
		if v.cfg.Store != nil && v.cfg.Store.Backend == StoreBackendMemory {
			return NewValidationError("transport", "mode", fmt.Errorf("%w: postgres transport requires the postgres store", ErrInvalidValue))
		}
		if t.PayloadTTL <= 0 || t.CleanupInterval <= 0 {
			return NewValidationError("transport", "payload_ttl", fmt.Errorf("%w: payload_ttl and cleanup_interval must be positive", ErrInvalidValue))
		}
	default:
		return NewValidationError("transport", "mode", fmt.Errorf("%w: unknown mode %q", ErrInvalidValue, t.Mode))
	}
	return nil
}

func (v *ConfigValidator) validatePresence() error {
	p := v.cfg.Presence
	if p == nil {
		return NewValidationError("presence", "", fmt.Errorf("%w: presence configuration is nil", ErrMissingRequiredField))
	}
	switch p.Backend {
	case PresenceBackendMemory:
	case PresenceBackendDatabase:
		if v.cfg.Store != nil && v.cfg.Store.Backend == StoreBackendMemory {
			return NewValidationError("presence", "backend", fmt.Errorf("%w: database presence requires the postgres store", ErrInvalidValue))
		}
	case PresenceBackendRedis:
		if p.Redis == nil || p.Redis.Addr == "" {
			return NewValidationError("presence", "redis.addr", ErrMissingRequiredField)
		}
		if p.Redis.Key == "" {
			return NewValidationError("presence", "redis.key", ErrMissingRequiredField)
		}
	default:
		return NewValidationError("presence", "backend", fmt.Errorf("%w: unknown backend %q", ErrInvalidValue, p.Backend))
	}
	return nil
}

func (v *ConfigValidator) validateStore() error {
	s := v.cfg.Store
	if s == nil {
		return NewValidationError("store", "", fmt.Errorf("%w: store configuration is nil", ErrMissingRequiredField))
	}
	switch s.Backend {
	case StoreBackendPostgres, StoreBackendMemory:
		return nil
	default:
		return NewValidationError("store", "backend", fmt.Errorf("%w: unknown backend %q", ErrInvalidValue, s.Backend))
	}
}

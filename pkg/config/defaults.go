package config

import "time"

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPPort:       "8080",
		WSWriteTimeout: 10 * time.Second,
	}
}

// DefaultDispatcherConfig returns the built-in dispatcher defaults.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		WorkerCount:             8,
		QueueSize:               64,
		GracefulShutdownTimeout: 10 * time.Second,
	}
}

// DefaultTransportConfig returns the built-in transport defaults.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		Mode:            TransportModeLocal,
		PayloadTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// DefaultPresenceConfig returns the built-in presence defaults.
func DefaultPresenceConfig() *PresenceConfig {
	return &PresenceConfig{
		Backend: PresenceBackendDatabase,
		Redis: &RedisConfig{
			Addr: "localhost:6379",
			Key:  "supportdesk:presence",
		},
	}
}

// DefaultStoreConfig returns the built-in store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{Backend: StoreBackendPostgres}
}

// DefaultTurnConfig returns the built-in TURN defaults.
func DefaultTurnConfig() *TurnConfig {
	return &TurnConfig{
		Endpoint: "https://support-system-eac.metered.live/api/v1/turn/credentials",
	}
}

package api

import (
	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck is the status of a single component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string                  `json:"status"`
	Version     string                  `json:"version"`
	Checks      map[string]HealthCheck  `json:"checks"`
	Database    *database.HealthStatus  `json:"database,omitempty"`
	Dispatcher  *queue.DispatcherHealth `json:"dispatcher,omitempty"`
	Connections int                     `json:"connections"`
}

// TurnConfigResponse is returned by GET /api/turn-config.
type TurnConfigResponse struct {
	APIKey   string `json:"apiKey"`
	Endpoint string `json:"endpoint"`
}

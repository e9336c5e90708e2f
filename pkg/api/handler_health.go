package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/pkg/version"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Unhealthy components make the endpoint return 503 so that the readiness
// probe takes the pod out of rotation.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:  statusHealthy,
		Version: version.GitCommit,
		Checks:  make(map[string]HealthCheck),
	}

	if s.dbClient != nil {
		dbHealth, err := database.Health(ctx, s.dbClient.DB())
		resp.Database = dbHealth
		if err != nil {
			resp.Status = statusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: statusUnhealthy, Message: err.Error()}
		} else {
			resp.Checks["database"] = HealthCheck{Status: statusHealthy}
		}
	}

	if s.dispatcher != nil {
		dh := s.dispatcher.Health()
		resp.Dispatcher = dh
		if dh.IsHealthy {
			resp.Checks["dispatcher"] = HealthCheck{Status: statusHealthy}
		} else {
			resp.Status = statusUnhealthy
			resp.Checks["dispatcher"] = HealthCheck{Status: statusUnhealthy, Message: "dispatcher not running"}
		}
	}

	// Optional backends degrade rather than fail: chat keeps working with
	// stale presence data.
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			if resp.Status == statusHealthy {
				resp.Status = statusDegraded
			}
			resp.Checks[name] = HealthCheck{Status: statusDegraded, Message: err.Error()}
			continue
		}
		resp.Checks[name] = HealthCheck{Status: statusHealthy}
	}

	if s.connManager != nil {
		resp.Connections = s.connManager.ActiveConnections()
	}

	code := http.StatusOK
	if resp.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// Package api serves the HTTP surface: the WebSocket endpoint, the
// read-only chat REST endpoints used as a polling fallback, and health.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/supportdesk/pkg/config"
	"github.com/codeready-toolchain/supportdesk/pkg/database"
	"github.com/codeready-toolchain/supportdesk/pkg/events"
	"github.com/codeready-toolchain/supportdesk/pkg/queue"
	"github.com/codeready-toolchain/supportdesk/pkg/services"
)

// Pinger is implemented by optional backends reported on /health
// (presence.Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	cfg         *config.Config
	dbClient    *database.Client // nil with the memory store
	query       *services.ChatQueryService
	dispatcher  *queue.Dispatcher
	connManager *events.ConnectionManager
	checks      map[string]Pinger
}

// NewServer creates a new API server with gin.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	query *services.ChatQueryService,
	dispatcher *queue.Dispatcher,
	connManager *events.ConnectionManager,
) *Server {
	e := gin.New()
	e.Use(gin.Recovery())
	if gin.Mode() == gin.DebugMode {
		e.Use(gin.Logger())
	} else {
		e.Use(accessLog())
	}
	e.Use(securityHeaders())
	if len(cfg.Server.AllowedOrigins) > 0 {
		e.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s := &Server{
		engine:      e,
		cfg:         cfg,
		dbClient:    dbClient,
		query:       query,
		dispatcher:  dispatcher,
		connManager: connManager,
		checks:      make(map[string]Pinger),
	}
	s.setupRoutes()
	return s
}

// AddHealthCheck reports an extra backend on /health.
func (s *Server) AddHealthCheck(name string, p Pinger) {
	s.checks[name] = p
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/ws", s.requireIdentity(s.cfg.Server.AllowQueryIdentity), s.wsHandler)

	api := s.engine.Group("/api", s.requireIdentity(false))
	api.GET("/turn-config", s.turnConfigHandler)

	chat := api.Group("/chat")
	chat.GET("/status", s.statusHandler)
	chat.GET("/session/:id/messages", s.sessionMessagesHandler)
	chat.GET("/history", s.historyHandler)
	chat.GET("/history/all", s.allHistoryHandler)
	chat.GET("/queue", s.queueHandler)
	chat.GET("/agent/sessions", s.agentSessionsHandler)
	chat.GET("/calls", s.callsHandler)
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the HTTP server on the given address. Blocks until shutdown.
// Request contexts derive from ctx; canceling it closes the WebSocket
// connections, which Shutdown does not track.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

package api

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades GET /ws and hands the connection to the manager. The
// connection lives until the client disconnects or the server shuts down.
func (s *Server) wsHandler(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedOrigins
	}

	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		// Accept has already written the HTTP error response.
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	s.connManager.HandleConnection(c.Request.Context(), conn, identity(c))
}

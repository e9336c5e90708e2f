package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// turnConfigHandler handles GET /api/turn-config.
func (s *Server) turnConfigHandler(c *gin.Context) {
	resp := TurnConfigResponse{}
	if t := s.cfg.Turn; t != nil {
		resp.APIKey = t.APIKey
		resp.Endpoint = t.Endpoint
	}
	c.JSON(http.StatusOK, resp)
}

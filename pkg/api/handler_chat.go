package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/supportdesk/pkg/services"
)

// statusHandler handles GET /api/chat/status.
func (s *Server) statusHandler(c *gin.Context) {
	st, err := s.query.Status(c.Request.Context(), identity(c))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// sessionMessagesHandler handles GET /api/chat/session/:id/messages.
func (s *Server) sessionMessagesHandler(c *gin.Context) {
	msgs, err := s.query.SessionMessages(c.Request.Context(), c.Param("id"), identity(c))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// historyHandler handles GET /api/chat/history.
func (s *Server) historyHandler(c *gin.Context) {
	views, err := s.query.History(c.Request.Context(), identity(c))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// allHistoryHandler handles GET /api/chat/history/all.
func (s *Server) allHistoryHandler(c *gin.Context) {
	hq := services.HistoryQuery{
		StudentName: c.Query("studentName"),
		AgentName:   c.Query("agentName"),
		Status:      c.Query("status"),
		StartDate:   c.Query("startDate"),
		EndDate:     c.Query("endDate"),
	}
	views, err := s.query.AllHistory(c.Request.Context(), identity(c), hq)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// queueHandler handles GET /api/chat/queue.
func (s *Server) queueHandler(c *gin.Context) {
	st, err := s.query.Queue(c.Request.Context(), identity(c))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// agentSessionsHandler handles GET /api/chat/agent/sessions.
func (s *Server) agentSessionsHandler(c *gin.Context) {
	views, err := s.query.AgentSessions(c.Request.Context(), identity(c))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// callsHandler handles GET /api/chat/calls.
func (s *Server) callsHandler(c *gin.Context) {
	records, err := s.query.Calls(c.Request.Context(), identity(c), c.Query("sessionId"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

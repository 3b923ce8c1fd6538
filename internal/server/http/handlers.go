package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"specpilot/internal/agent/ports"
	"specpilot/internal/cache"
	"specpilot/internal/invoker"
	"specpilot/internal/shared/errors"
)

// TurnRequest is the body of POST /api/sessions/:id/turns.
type TurnRequest struct {
	Message string `json:"message" binding:"required"`
}

// InvalidateRequest is the body of POST /api/cache/invalidate.
type InvalidateRequest struct {
	Agent string   `json:"agent"`
	Tags  []string `json:"tags"`
}

// InvalidateResponse reports how many entries were dropped.
type InvalidateResponse struct {
	Removed int `json:"removed"`
}

// HealthResponse summarises breaker and pool state.
type HealthResponse struct {
	Status   string                         `json:"status"`
	Uptime   string                         `json:"uptime"`
	Breakers []errors.CircuitBreakerMetrics `json:"breakers"`
	Pool     invoker.PoolStats              `json:"pool"`
	Invoker  invoker.Stats                  `json:"invoker"`
}

// MessagesResponse lists a session's history.
type MessagesResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []ports.Message `json:"messages"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	state, err := s.router.Create(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeData(c, http.StatusCreated, state)
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.router.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, session.State)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.router.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetMessages(c *gin.Context) {
	sessionID := c.Param("id")
	messages, err := s.router.History(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if messages == nil {
		messages = []ports.Message{}
	}
	writeData(c, http.StatusOK, MessagesResponse{SessionID: sessionID, Messages: messages})
}

func (s *Server) handleAdvance(c *gin.Context) {
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.NewInputError("message", "request body must be JSON with a non-empty message"))
		return
	}
	result, err := s.router.Advance(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, result)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cache == nil {
		writeData(c, http.StatusOK, cache.Stats{})
		return
	}
	writeData(c, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheInvalidate(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.NewInputError("body", "request body must be JSON"))
		return
	}
	req.Agent = strings.TrimSpace(req.Agent)
	if req.Agent == "" && len(req.Tags) == 0 {
		s.writeError(c, errors.NewInputError("agent", "agent or tags is required"))
		return
	}
	removed := 0
	if s.cache != nil {
		if req.Agent != "" {
			removed += s.cache.InvalidateByAgent(req.Agent)
		}
		if len(req.Tags) > 0 {
			removed += s.cache.InvalidateByTags(req.Tags...)
		}
	}
	s.logger.Info("Cache invalidation removed %d entries (agent=%q, tags=%v)", removed, req.Agent, req.Tags)
	writeData(c, http.StatusOK, InvalidateResponse{Removed: removed})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: s.now().Sub(s.startTime).Round(time.Second).String(),
	}
	if s.invoker != nil {
		resp.Breakers = s.invoker.Breakers().Snapshot()
		resp.Pool = s.invoker.Pool().Stats()
		resp.Invoker = s.invoker.Stats()
		for _, breaker := range resp.Breakers {
			if breaker.State == errors.StateOpen {
				resp.Status = "degraded"
			}
		}
	}
	writeData(c, http.StatusOK, resp)
}

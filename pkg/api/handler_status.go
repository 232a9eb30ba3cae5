package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iagenerativa/hlcs/pkg/memory"
	"github.com/iagenerativa/hlcs/pkg/models"
	"github.com/iagenerativa/hlcs/pkg/toolserver"
)

// healthProbeTimeout bounds the backend probes on the status surface.
const healthProbeTimeout = 5 * time.Second

// HealthCheck handles GET /health: liveness only, no backend probes.
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /v1/status. The basic shape is public; component
// statistics require the operator token.
func (s *Server) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	toolHealth := s.deps.Tools.Health(ctx)
	status := "ok"
	if toolHealth != toolserver.HealthOK {
		status = "degraded"
	}

	body := gin.H{
		"status":         status,
		"tool_server":    toolHealth,
		"local_reasoner": s.deps.Local.Enabled(),
		"queue":          s.deps.Limiter.Stats(),
	}
	if s.isOperator(c) {
		body["metacognition"] = s.deps.Analyzer.Stats()
		body["consensus"] = s.deps.Engine.Stats()
		body["planner"] = s.deps.Planner.Stats()
		body["events_dropped"] = s.deps.Bus.Dropped()
		body["feature_flags"] = s.deps.Flags.List()
	}
	c.JSON(http.StatusOK, body)
}

// Capabilities handles GET /v1/capabilities: the configured capability
// map plus the tools the server actually advertises right now.
func (s *Server) Capabilities(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	body := gin.H{"capabilities": s.deps.Router.Snapshot()}
	tools, err := s.deps.Tools.ListTools(ctx)
	if err != nil {
		body["tools_error"] = "tool server unreachable"
	} else {
		body["tools"] = tools
	}
	c.JSON(http.StatusOK, body)
}

// Consolidate handles POST /v1/memory/consolidate (operator only).
func (s *Server) Consolidate(c *gin.Context) {
	result, err := s.deps.Memory.Consolidate(c.Request.Context())
	if err != nil {
		writeError(c, models.Wrap(models.KindInternal, "consolidation failed", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// SearchEpisodes handles GET /v1/memory/episodes (operator only).
func (s *Server) SearchEpisodes(c *gin.Context) {
	f := memory.Filters{
		SessionID: c.Query("session_id"),
		UserID:    c.Query("user_id"),
		Limit:     50,
	}
	episodes, err := s.deps.Memory.Search(c.Request.Context(), c.Query("q"), f)
	if err != nil {
		writeError(c, models.Wrap(models.KindInternal, "episode search failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": episodes})
}

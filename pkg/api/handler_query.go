package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// ProcessQueryRequest is the body for POST /v1/query.
type ProcessQueryRequest struct {
	Text        string              `json:"text" binding:"required"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	UserID      string              `json:"user_id,omitempty"`
	SessionID   string              `json:"session_id,omitempty"`
	Options     models.QueryOptions `json:"options"`
}

// ProcessQuery handles POST /v1/query: admission, the full pipeline, and
// the response with diagnostics stripped for non-operator callers.
func (s *Server) ProcessQuery(c *gin.Context) {
	var req ProcessQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}

	query := models.NewQuery(req.Text, req.Attachments)
	query.UserID = req.UserID
	query.SessionID = req.SessionID
	query.Options = req.Options

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout())
	defer cancel()

	if err := s.deps.Limiter.Admit(query.ID, cancel); err != nil {
		writeError(c, err)
		return
	}
	defer s.deps.Limiter.Release(query.ID)

	result, err := s.deps.Orchestrator.Process(ctx, query)
	if err != nil {
		writeError(c, err)
		return
	}

	if !s.isOperator(c) {
		result.Diagnostics = nil
	}
	c.JSON(http.StatusOK, gin.H{
		"query_id": query.ID,
		"result":   result,
	})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iagenerativa/hlcs/pkg/flags"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// ListFlags handles GET /v1/flags (operator only).
func (s *Server) ListFlags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flags": s.deps.Flags.List()})
}

// SetFlagRequest is the body for PUT /v1/flags/:name.
type SetFlagRequest struct {
	Enabled           bool     `json:"enabled"`
	Strategy          string   `json:"strategy"`
	RolloutPercentage float64  `json:"rollout_percentage"`
	Whitelist         []string `json:"whitelist"`
}

// SetFlag handles PUT /v1/flags/:name (operator only).
func (s *Server) SetFlag(c *gin.Context) {
	var req SetFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	flag := flags.Flag{
		Name:              c.Param("name"),
		Enabled:           req.Enabled,
		Strategy:          flags.Strategy(req.Strategy),
		RolloutPercentage: req.RolloutPercentage,
		Whitelist:         req.Whitelist,
	}
	if err := s.deps.Flags.Set(flag); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flag)
}

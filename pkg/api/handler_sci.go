package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iagenerativa/hlcs/pkg/consensus"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// RegisterParticipantRequest is the body for POST /v1/sci/participants.
type RegisterParticipantRequest struct {
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Verified bool   `json:"verified"`
}

// RegisterParticipant handles POST /v1/sci/participants.
func (s *Server) RegisterParticipant(c *gin.Context) {
	var req RegisterParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	p, err := s.deps.Engine.RegisterParticipant(req.Name, consensus.Role(req.Role), req.Verified)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// ListParticipants handles GET /v1/sci/participants.
func (s *Server) ListParticipants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"participants": s.deps.Engine.Participants()})
}

// OpenDecisionRequest is the body for POST /v1/sci/decisions.
type OpenDecisionRequest struct {
	Title             string   `json:"title" binding:"required"`
	Description       string   `json:"description"`
	DecisionType      string   `json:"decision_type"`
	Criticality       float64  `json:"criticality"`
	RecommendedOption string   `json:"recommended_option"`
	RequiredRoles     []string `json:"required_roles"`
	ConsensusType     string   `json:"consensus_type"`
	DeadlineMS        int      `json:"deadline_ms"`
}

// OpenDecision handles POST /v1/sci/decisions.
func (s *Server) OpenDecision(c *gin.Context) {
	var req OpenDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}

	deadline := s.cfg.ConsensusDeadline()
	if req.DeadlineMS > 0 {
		deadline = time.Duration(req.DeadlineMS) * time.Millisecond
	}
	roles := make([]consensus.Role, 0, len(req.RequiredRoles))
	for _, r := range req.RequiredRoles {
		roles = append(roles, consensus.Role(r))
	}

	d, err := s.deps.Engine.OpenDecision(consensus.OpenParams{
		Title:             req.Title,
		Description:       req.Description,
		DecisionType:      req.DecisionType,
		Criticality:       req.Criticality,
		RecommendedOption: req.RecommendedOption,
		RequiredRoles:     roles,
		ConsensusType:     consensus.Type(req.ConsensusType),
		Deadline:          time.Now().Add(deadline),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GetDecision handles GET /v1/sci/decisions/:id.
func (s *Server) GetDecision(c *gin.Context) {
	d, err := s.deps.Engine.Decision(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// CastVoteRequest is the body for POST /v1/sci/votes.
type CastVoteRequest struct {
	DecisionID    string `json:"decision_id" binding:"required"`
	ParticipantID string `json:"participant_id" binding:"required"`
	Choice        string `json:"choice" binding:"required"`
	Rationale     string `json:"rationale"`
}

// CastVote handles POST /v1/sci/votes.
func (s *Server) CastVote(c *gin.Context) {
	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	if err := s.deps.Engine.CastVote(req.DecisionID, req.ParticipantID,
		consensus.Choice(req.Choice), req.Rationale); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TallyDecision handles POST /v1/sci/decisions/:id/tally.
func (s *Server) TallyDecision(c *gin.Context) {
	result, err := s.deps.Engine.Tally(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

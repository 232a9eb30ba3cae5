package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iagenerativa/hlcs/pkg/models"
	"github.com/iagenerativa/hlcs/pkg/planning"
)

// CreateGoalRequest is the body for POST /v1/planning/goals.
type CreateGoalRequest struct {
	Title           string   `json:"title" binding:"required"`
	Description     string   `json:"description"`
	Priority        string   `json:"priority"`
	ParentID        string   `json:"parent_id"`
	DependencyIDs   []string `json:"dependency_ids"`
	SuccessCriteria []string `json:"success_criteria"`
}

// CreateGoal handles POST /v1/planning/goals.
func (s *Server) CreateGoal(c *gin.Context) {
	var req CreateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	goal, err := s.deps.Planner.CreateGoal(planning.GoalParams{
		Title:           req.Title,
		Description:     req.Description,
		Priority:        planning.Priority(req.Priority),
		ParentID:        req.ParentID,
		DependencyIDs:   req.DependencyIDs,
		SuccessCriteria: req.SuccessCriteria,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, goal)
}

// ListGoals handles GET /v1/planning/goals.
func (s *Server) ListGoals(c *gin.Context) {
	if c.Query("executable") == "true" {
		c.JSON(http.StatusOK, gin.H{"goals": s.deps.Planner.ListExecutable()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"goals": s.deps.Planner.Goals()})
}

// GetGoal handles GET /v1/planning/goals/:id.
func (s *Server) GetGoal(c *gin.Context) {
	goal, err := s.deps.Planner.Goal(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, goal)
}

// CancelGoal handles POST /v1/planning/goals/:id/cancel.
func (s *Server) CancelGoal(c *gin.Context) {
	if err := s.deps.Planner.CancelGoal(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreatePlanRequest is the body for POST /v1/planning/plans.
type CreatePlanRequest struct {
	GoalID   string `json:"goal_id" binding:"required"`
	Strategy string `json:"strategy" binding:"required"`
}

// CreatePlan handles POST /v1/planning/plans.
func (s *Server) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	plan, err := s.deps.Planner.CreatePlan(req.GoalID, planning.PlanStrategy(req.Strategy))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// GetPlan handles GET /v1/planning/plans/:id.
func (s *Server) GetPlan(c *gin.Context) {
	plan, err := s.deps.Planner.Plan(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// ExecutePlan handles POST /v1/planning/plans/:id/execute. Execution runs
// in the background with each step dispatched through the orchestration
// pipeline; the caller polls the plan for progress.
func (s *Server) ExecutePlan(c *gin.Context) {
	planID := c.Param("id")
	if _, err := s.deps.Planner.Plan(planID); err != nil {
		writeError(c, err)
		return
	}

	executor := planning.StepExecutorFunc(func(ctx context.Context, step planning.Step) (string, error) {
		result, err := s.deps.Orchestrator.Process(ctx, models.NewQuery(step.Description, nil))
		if err != nil {
			return "", err
		}
		return result.Answer, nil
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := s.deps.Planner.ExecutePlan(ctx, planID, executor); err != nil {
			s.logger.Warn("Background plan execution failed", "plan_id", planID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"plan_id": planID, "status": "executing"})
}

// RecordMilestoneRequest is the body for POST /v1/planning/milestones.
type RecordMilestoneRequest struct {
	GoalID     string    `json:"goal_id" binding:"required"`
	Title      string    `json:"title" binding:"required"`
	TargetDate time.Time `json:"target_date"`
	Criteria   []string  `json:"criteria" binding:"required"`
}

// RecordMilestone handles POST /v1/planning/milestones.
func (s *Server) RecordMilestone(c *gin.Context) {
	var req RecordMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	m, err := s.deps.Planner.RecordMilestone(planning.MilestoneParams{
		GoalID:     req.GoalID,
		Title:      req.Title,
		TargetDate: req.TargetDate,
		Criteria:   req.Criteria,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// CheckMilestone handles POST /v1/planning/milestones/:id/check.
func (s *Server) CheckMilestone(c *gin.Context) {
	var req struct {
		Evidence []string `json:"evidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	m, err := s.deps.Planner.CheckMilestone(c.Param("id"), req.Evidence)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// MilestoneProgress handles GET /v1/planning/goals/:id/milestones.
func (s *Server) MilestoneProgress(c *gin.Context) {
	report, err := s.deps.Planner.MilestoneProgress(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CreateScenarioRequest is the body for POST /v1/planning/scenarios.
type CreateScenarioRequest struct {
	Title       string               `json:"title" binding:"required"`
	Assumptions planning.Assumptions `json:"assumptions"`
}

// CreateScenario handles POST /v1/planning/scenarios.
func (s *Server) CreateScenario(c *gin.Context) {
	var req CreateScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	scenario, err := s.deps.Planner.CreateScenario(req.Title, req.Assumptions)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scenario)
}

// CompareScenarios handles POST /v1/planning/scenarios/compare.
func (s *Server) CompareScenarios(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	ranked, err := s.deps.Planner.CompareScenarios(req.IDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranked": ranked})
}

// CreateHypothesisRequest is the body for POST /v1/planning/hypotheses.
type CreateHypothesisRequest struct {
	Statement       string   `json:"statement" binding:"required"`
	Rationale       string   `json:"rationale"`
	Procedure       []string `json:"procedure"`
	Criteria        []string `json:"criteria"`
	PriorConfidence float64  `json:"prior_confidence"`
}

// CreateHypothesis handles POST /v1/planning/hypotheses.
func (s *Server) CreateHypothesis(c *gin.Context) {
	var req CreateHypothesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.Wrap(models.KindInvalidInput, "invalid request body", err))
		return
	}
	h, err := s.deps.Planner.CreateHypothesis(planning.HypothesisParams{
		Statement:       req.Statement,
		Rationale:       req.Rationale,
		Procedure:       req.Procedure,
		Criteria:        req.Criteria,
		PriorConfidence: req.PriorConfidence,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h)
}

// TestHypothesis handles POST /v1/planning/hypotheses/:id/test. The
// evidence run asks the pipeline to evaluate the hypothesis procedure and
// scores the resulting answer.
func (s *Server) TestHypothesis(c *gin.Context) {
	runner := planning.HypothesisRunnerFunc(func(ctx context.Context, h planning.Hypothesis) (float64, []string, error) {
		prompt := "Evaluate this hypothesis against the stated criteria: " + h.Statement
		result, err := s.deps.Orchestrator.Process(ctx, models.NewQuery(prompt, nil))
		if err != nil {
			return 0, nil, err
		}
		return result.Quality, []string{result.Answer}, nil
	})

	h, err := s.deps.Planner.TestHypothesis(c.Request.Context(), c.Param("id"), runner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

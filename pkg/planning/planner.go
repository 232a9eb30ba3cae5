// Package planning implements the strategic planner: the hierarchical goal
// graph, rule-based plan decomposition, dependency-ordered step execution
// with retries, milestones, scenario simulation, and hypothesis testing.
package planning

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/google/uuid"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/events"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// Planner owns the goal, plan, milestone, scenario, and hypothesis tables.
// Entities are index-addressed by id; cross-references never hold pointers.
type Planner struct {
	cfg config.PlannerConfig
	bus *events.Bus

	mu         sync.Mutex
	goals      map[string]*Goal
	plans      map[string]*Plan
	milestones map[string]*Milestone
	scenarios  map[string]*Scenario
	hypotheses map[string]*Hypothesis

	// cancels maps goal id to the cancel functions of its running plan
	// executions, so cancelling a goal stops its executors.
	cancels map[string][]func()

	sem    chan struct{}
	logger *slog.Logger
}

// NewPlanner builds an empty planner. The step semaphore caps concurrent
// step executions across all plans.
func NewPlanner(cfg config.PlannerConfig, bus *events.Bus) *Planner {
	concurrency := cfg.StepConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Planner{
		cfg:        cfg,
		bus:        bus,
		goals:      make(map[string]*Goal),
		plans:      make(map[string]*Plan),
		milestones: make(map[string]*Milestone),
		scenarios:  make(map[string]*Scenario),
		hypotheses: make(map[string]*Hypothesis),
		cancels:    make(map[string][]func()),
		sem:        make(chan struct{}, concurrency),
		logger:     slog.With("component", "planner"),
	}
}

// GoalParams are the caller-supplied fields for a new goal.
type GoalParams struct {
	Title           string
	Description     string
	Priority        Priority
	ParentID        string
	DependencyIDs   []string
	SuccessCriteria []string
}

// CreateGoal validates the params against the existing graph and inserts
// the goal. Cyclic hierarchy or dependencies fail INVALID_INPUT.
func (p *Planner) CreateGoal(params GoalParams) (*Goal, error) {
	if params.Title == "" {
		return nil, models.E(models.KindInvalidInput, "goal title is empty")
	}
	if params.Priority == "" {
		params.Priority = PriorityMedium
	}
	if !ValidPriority(params.Priority) {
		return nil, models.Ef(models.KindInvalidInput, "unknown priority %q", params.Priority)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if params.ParentID != "" {
		if _, ok := p.goals[params.ParentID]; !ok {
			return nil, models.Ef(models.KindNotFound, "parent goal %s not found", params.ParentID)
		}
	}
	for _, dep := range params.DependencyIDs {
		if _, ok := p.goals[dep]; !ok {
			return nil, models.Ef(models.KindNotFound, "dependency goal %s not found", dep)
		}
	}

	id := uuid.NewString()
	if err := p.checkGoalAcyclicLocked(id, params.ParentID, params.DependencyIDs); err != nil {
		return nil, err
	}

	now := time.Now()
	g := &Goal{
		ID:              id,
		Title:           params.Title,
		Description:     params.Description,
		Priority:        params.Priority,
		Status:          GoalPending,
		ParentID:        params.ParentID,
		DependencyIDs:   params.DependencyIDs,
		SuccessCriteria: params.SuccessCriteria,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	p.goals[id] = g

	p.logger.Info("Goal created", "goal_id", id, "title", g.Title, "priority", g.Priority)
	out := *g
	return &out, nil
}

// checkGoalAcyclicLocked rebuilds the hierarchy and dependency graphs with
// the candidate edges and lets the graph library veto cycles.
func (p *Planner) checkGoalAcyclicLocked(id, parentID string, deps []string) error {
	hierarchy := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	depGraph := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	_ = hierarchy.AddVertex(id)
	_ = depGraph.AddVertex(id)
	for gid := range p.goals {
		_ = hierarchy.AddVertex(gid)
		_ = depGraph.AddVertex(gid)
	}
	for gid, g := range p.goals {
		if g.ParentID != "" {
			if err := hierarchy.AddEdge(g.ParentID, gid); err != nil &&
				!errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return models.Wrap(models.KindInvalidInput, "goal hierarchy is cyclic", err)
			}
		}
		for _, dep := range g.DependencyIDs {
			if err := depGraph.AddEdge(dep, gid); err != nil &&
				!errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return models.Wrap(models.KindInvalidInput, "goal dependencies are cyclic", err)
			}
		}
	}

	if parentID != "" {
		if err := hierarchy.AddEdge(parentID, id); err != nil &&
			!errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return models.Wrap(models.KindInvalidInput, "goal hierarchy would become cyclic", err)
		}
	}
	for _, dep := range deps {
		if err := depGraph.AddEdge(dep, id); err != nil &&
			!errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return models.Wrap(models.KindInvalidInput, "goal dependencies would become cyclic", err)
		}
	}
	return nil
}

// AddGoalDependency wires an edge from an existing goal to another. This
// is the one mutation that can close a loop, so it runs the full cycle
// check before committing.
func (p *Planner) AddGoalDependency(goalID, dependsOn string) error {
	if goalID == dependsOn {
		return models.E(models.KindInvalidInput, "goal cannot depend on itself")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.goals[goalID]
	if !ok {
		return models.Ef(models.KindNotFound, "goal %s not found", goalID)
	}
	if _, ok := p.goals[dependsOn]; !ok {
		return models.Ef(models.KindNotFound, "dependency goal %s not found", dependsOn)
	}
	for _, dep := range g.DependencyIDs {
		if dep == dependsOn {
			return nil
		}
	}

	if err := p.checkGoalAcyclicLocked(goalID, g.ParentID, append(append([]string(nil), g.DependencyIDs...), dependsOn)); err != nil {
		return err
	}
	g.DependencyIDs = append(g.DependencyIDs, dependsOn)
	g.UpdatedAt = time.Now()
	return nil
}

// Goal returns a snapshot of one goal.
func (p *Planner) Goal(id string) (*Goal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return nil, models.Ef(models.KindNotFound, "goal %s not found", id)
	}
	out := *g
	return &out, nil
}

// Goals returns a snapshot of every goal.
func (p *Planner) Goals() []Goal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Goal, 0, len(p.goals))
	for _, g := range p.goals {
		out = append(out, *g)
	}
	return out
}

// ListExecutable returns the goals ready to run: PENDING with every
// dependency COMPLETED.
func (p *Planner) ListExecutable() []Goal {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Goal
	for _, g := range p.goals {
		if g.Status == GoalPending && p.depsCompletedLocked(g) {
			out = append(out, *g)
		}
	}
	return out
}

func (p *Planner) depsCompletedLocked(g *Goal) bool {
	for _, dep := range g.DependencyIDs {
		d, ok := p.goals[dep]
		if !ok || d.Status != GoalCompleted {
			return false
		}
	}
	return true
}

// CancelGoal transitions the goal and all incomplete descendants to
// CANCELLED and signals running step executors to stop.
func (p *Planner) CancelGoal(id string) error {
	p.mu.Lock()
	g, ok := p.goals[id]
	if !ok {
		p.mu.Unlock()
		return models.Ef(models.KindNotFound, "goal %s not found", id)
	}

	cancelled := p.cancelSubtreeLocked(g)
	var cancels []func()
	for _, gid := range cancelled {
		cancels = append(cancels, p.cancels[gid]...)
		delete(p.cancels, gid)
	}
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, gid := range cancelled {
		p.bus.Publish(events.TopicGoalCancelled, map[string]any{"goal_id": gid})
	}
	p.logger.Info("Goal cancelled", "goal_id", id, "affected", len(cancelled))
	return nil
}

// cancelSubtreeLocked marks the goal and its incomplete descendants
// CANCELLED and returns the affected ids.
func (p *Planner) cancelSubtreeLocked(root *Goal) []string {
	var affected []string
	queue := []*Goal{root}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if !g.Status.Terminal() {
			g.Status = GoalCancelled
			g.UpdatedAt = time.Now()
			affected = append(affected, g.ID)
			for _, plan := range p.plans {
				if plan.GoalID == g.ID && plan.Status != PlanCompleted {
					p.cancelPlanStepsLocked(plan)
				}
			}
		}
		for _, child := range p.goals {
			if child.ParentID == g.ID {
				queue = append(queue, child)
			}
		}
	}
	return affected
}

func (p *Planner) cancelPlanStepsLocked(plan *Plan) {
	plan.Status = PlanCancelled
	for i := range plan.Steps {
		if plan.Steps[i].Status == StepPending || plan.Steps[i].Status == StepInProgress {
			plan.Steps[i].Status = StepCancelled
		}
	}
}

// setGoalStatus transitions a goal, refusing to leave terminal states.
func (p *Planner) setGoalStatus(id string, status GoalStatus, progress float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return models.Ef(models.KindNotFound, "goal %s not found", id)
	}
	if g.Status.Terminal() {
		return models.Ef(models.KindPrecondition, "goal %s is already %s", id, g.Status)
	}
	g.Status = status
	if progress > g.Progress {
		g.Progress = progress
	}
	g.UpdatedAt = time.Now()
	return nil
}

// Statistics is the planner section of /v1/status.
type Statistics struct {
	Goals           int `json:"goals"`
	ExecutableGoals int `json:"executable_goals"`
	CompletedGoals  int `json:"completed_goals"`
	Plans           int `json:"plans"`
	RunningPlans    int `json:"running_plans"`
	Hypotheses      int `json:"hypotheses"`
	Scenarios       int `json:"scenarios"`
}

// Stats returns aggregate counters over the planner tables.
func (p *Planner) Stats() Statistics {
	executable := len(p.ListExecutable())

	p.mu.Lock()
	defer p.mu.Unlock()
	s := Statistics{
		Goals:           len(p.goals),
		ExecutableGoals: executable,
		Plans:           len(p.plans),
		Hypotheses:      len(p.hypotheses),
		Scenarios:       len(p.scenarios),
	}
	for _, g := range p.goals {
		if g.Status == GoalCompleted {
			s.CompletedGoals++
		}
	}
	for _, plan := range p.plans {
		if plan.Status == PlanRunning {
			s.RunningPlans++
		}
	}
	return s
}

func stepEstimateMinutes() int { return 10 }

func newStepID() string { return uuid.NewString() }

func fmtStepDescription(criterion string, idx int) string {
	return fmt.Sprintf("step %d: satisfy %q", idx+1, criterion)
}

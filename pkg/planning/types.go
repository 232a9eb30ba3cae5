package planning

import "time"

// Priority ranks a goal.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// GoalStatus is a goal's lifecycle state.
type GoalStatus string

const (
	GoalPending    GoalStatus = "PENDING"
	GoalInProgress GoalStatus = "IN_PROGRESS"
	GoalCompleted  GoalStatus = "COMPLETED"
	GoalFailed     GoalStatus = "FAILED"
	GoalPaused     GoalStatus = "PAUSED"
	GoalCancelled  GoalStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s GoalStatus) Terminal() bool {
	return s == GoalCompleted || s == GoalFailed || s == GoalCancelled
}

// Goal is one node in the hierarchical goal graph. Cross-references are
// ids; the planner's tables own all lifetimes.
type Goal struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Priority        Priority   `json:"priority"`
	Status          GoalStatus `json:"status"`
	ParentID        string     `json:"parent_id,omitempty"`
	DependencyIDs   []string   `json:"dependency_ids,omitempty"`
	SuccessCriteria []string   `json:"success_criteria,omitempty"`
	Progress        float64    `json:"progress"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PlanStrategy selects how a goal decomposes into steps.
type PlanStrategy string

const (
	StrategySequential PlanStrategy = "SEQUENTIAL"
	StrategyParallel   PlanStrategy = "PARALLEL"
	StrategyHybrid     PlanStrategy = "HYBRID"
)

// StepStatus is a step's lifecycle state.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepCancelled  StepStatus = "CANCELLED"
)

// Step is one unit of plan execution.
type Step struct {
	ID               string     `json:"id"`
	Description      string     `json:"description"`
	RequiredTools    []string   `json:"required_tools,omitempty"`
	DependsOnStepIDs []string   `json:"depends_on_step_ids,omitempty"`
	Status           StepStatus `json:"status"`
	Attempts         int        `json:"attempts"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Result           string     `json:"result,omitempty"`
}

// PlanStatus is a plan's lifecycle state.
type PlanStatus string

const (
	PlanPending   PlanStatus = "PENDING"
	PlanRunning   PlanStatus = "RUNNING"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanFailed    PlanStatus = "FAILED"
	PlanCancelled PlanStatus = "CANCELLED"
)

// Plan is the executable decomposition of one goal.
type Plan struct {
	ID                    string       `json:"id"`
	GoalID                string       `json:"goal_id"`
	Strategy              PlanStrategy `json:"strategy"`
	Steps                 []Step       `json:"steps"`
	Status                PlanStatus   `json:"status"`
	TotalEstimatedMinutes int          `json:"total_estimated_minutes"`
}

// Milestone marks a checkpoint on the way to a goal.
type Milestone struct {
	ID         string    `json:"id"`
	GoalID     string    `json:"goal_id"`
	Title      string    `json:"title"`
	TargetDate time.Time `json:"target_date"`
	Criteria   []string  `json:"criteria"`
	Achieved   bool      `json:"achieved"`
	AchievedAt time.Time `json:"achieved_at,omitempty"`
}

// Assumptions parameterize a scenario simulation.
type Assumptions struct {
	Complexity  string   `json:"complexity,omitempty"` // low | medium | high
	Resources   []string `json:"resources,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// Scenario is a what-if evaluated by a pure scoring function.
type Scenario struct {
	ID                          string      `json:"id"`
	Title                       string      `json:"title"`
	Assumptions                 Assumptions `json:"assumptions"`
	SimulatedSuccessProbability float64     `json:"simulated_success_probability"`
	Reasoning                   string      `json:"reasoning,omitempty"`
}

// HypothesisOutcome is the verdict after testing a hypothesis.
type HypothesisOutcome string

const (
	OutcomeUntested     HypothesisOutcome = "UNTESTED"
	OutcomeConfirmed    HypothesisOutcome = "CONFIRMED"
	OutcomeRefuted      HypothesisOutcome = "REFUTED"
	OutcomeInconclusive HypothesisOutcome = "INCONCLUSIVE"
)

// Hypothesis is a testable claim with prior and posterior confidence.
type Hypothesis struct {
	ID                  string            `json:"id"`
	Statement           string            `json:"statement"`
	Rationale           string            `json:"rationale,omitempty"`
	Procedure           []string          `json:"procedure,omitempty"`
	Criteria            []string          `json:"criteria,omitempty"`
	PriorConfidence     float64           `json:"prior_confidence"`
	PosteriorConfidence float64           `json:"posterior_confidence"`
	Outcome             HypothesisOutcome `json:"outcome"`
	Evidence            []string          `json:"evidence,omitempty"`
}

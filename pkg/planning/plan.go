package planning

import (
	"strings"

	"github.com/google/uuid"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// resourceTags are the shared-resource markers HYBRID decomposition keys
// on: criteria naming the same resource must not run concurrently.
var resourceTags = []string{"database", "cluster", "network", "filesystem", "gpu"}

// toolKeywords maps criterion vocabulary to the capability a step needs.
// Ordered so derived tool lists are deterministic.
var toolKeywords = []struct {
	keyword string
	tool    string
}{
	{"search", "retriever"},
	{"research", "retriever"},
	{"retrieve", "retriever"},
	{"summarize", "synthesize"},
	{"synthesize", "synthesize"},
	{"combine", "synthesize"},
	{"classify", "classifier"},
	{"transcribe", "audio_transcriber"},
	{"analyze", "image_analyzer"},
}

// CreatePlan decomposes a goal into steps under the given strategy.
func (p *Planner) CreatePlan(goalID string, strategy PlanStrategy) (*Plan, error) {
	switch strategy {
	case StrategySequential, StrategyParallel, StrategyHybrid:
	default:
		return nil, models.Ef(models.KindInvalidInput, "unknown plan strategy %q", strategy)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.goals[goalID]
	if !ok {
		return nil, models.Ef(models.KindNotFound, "goal %s not found", goalID)
	}
	if g.Status.Terminal() {
		return nil, models.Ef(models.KindPrecondition, "goal %s is already %s", goalID, g.Status)
	}

	criteria := g.SuccessCriteria
	if len(criteria) == 0 {
		criteria = []string{"achieve: " + g.Title}
	}

	steps := decompose(criteria, strategy)
	plan := &Plan{
		ID:                    uuid.NewString(),
		GoalID:                goalID,
		Strategy:              strategy,
		Steps:                 steps,
		Status:                PlanPending,
		TotalEstimatedMinutes: len(steps) * stepEstimateMinutes(),
	}
	p.plans[plan.ID] = plan

	p.logger.Info("Plan created", "plan_id", plan.ID, "goal_id", goalID,
		"strategy", strategy, "steps", len(steps))
	out := clonePlan(plan)
	return &out, nil
}

// Plan returns a snapshot of one plan.
func (p *Planner) Plan(id string) (*Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[id]
	if !ok {
		return nil, models.Ef(models.KindNotFound, "plan %s not found", id)
	}
	out := clonePlan(plan)
	return &out, nil
}

func clonePlan(plan *Plan) Plan {
	out := *plan
	out.Steps = append([]Step(nil), plan.Steps...)
	return out
}

// decompose builds one step per criterion and wires dependencies per the
// strategy.
func decompose(criteria []string, strategy PlanStrategy) []Step {
	steps := make([]Step, len(criteria))
	for i, criterion := range criteria {
		steps[i] = Step{
			ID:            newStepID(),
			Description:   fmtStepDescription(criterion, i),
			RequiredTools: toolsForCriterion(criterion),
			Status:        StepPending,
		}
	}

	switch strategy {
	case StrategySequential:
		// A chain: each step depends on its predecessor.
		for i := 1; i < len(steps); i++ {
			steps[i].DependsOnStepIDs = []string{steps[i-1].ID}
		}
	case StrategyParallel:
		// No inter-step dependencies.
	case StrategyHybrid:
		// Criteria touching the same resource become sequential
		// siblings; the rest stay parallel.
		lastByTag := map[string]int{}
		for i, criterion := range criteria {
			tag := resourceTag(criterion)
			if tag == "" {
				continue
			}
			if prev, ok := lastByTag[tag]; ok {
				steps[i].DependsOnStepIDs = []string{steps[prev].ID}
			}
			lastByTag[tag] = i
		}
	}
	return steps
}

func resourceTag(criterion string) string {
	lower := strings.ToLower(criterion)
	for _, tag := range resourceTags {
		if strings.Contains(lower, tag) {
			return tag
		}
	}
	return ""
}

func toolsForCriterion(criterion string) []string {
	lower := strings.ToLower(criterion)
	var tools []string
	seen := map[string]bool{}
	for _, entry := range toolKeywords {
		if strings.Contains(lower, entry.keyword) && !seen[entry.tool] {
			tools = append(tools, entry.tool)
			seen[entry.tool] = true
		}
	}
	return tools
}

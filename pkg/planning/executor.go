package planning

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/iagenerativa/hlcs/pkg/events"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// StepExecutor runs one step and reports its result. The planner owns
// scheduling, dependencies, and retries; the executor owns the work.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step Step) (string, error)
}

// StepExecutorFunc adapts a function to the StepExecutor interface.
type StepExecutorFunc func(ctx context.Context, step Step) (string, error)

func (f StepExecutorFunc) ExecuteStep(ctx context.Context, step Step) (string, error) {
	return f(ctx, step)
}

// ExecutePlan runs every step of a plan, honoring the dependency graph:
// independent steps run concurrently under the global step cap, dependent
// steps wait for their predecessors. Fails PRECONDITION when the plan's
// goal is not executable.
func (p *Planner) ExecutePlan(ctx context.Context, planID string, executor StepExecutor) error {
	p.mu.Lock()
	plan, ok := p.plans[planID]
	if !ok {
		p.mu.Unlock()
		return models.Ef(models.KindNotFound, "plan %s not found", planID)
	}
	goal, ok := p.goals[plan.GoalID]
	if !ok {
		p.mu.Unlock()
		return models.Ef(models.KindNotFound, "goal %s not found", plan.GoalID)
	}
	if goal.Status != GoalPending && goal.Status != GoalPaused {
		p.mu.Unlock()
		return models.Ef(models.KindPrecondition, "goal %s is %s, not executable", goal.ID, goal.Status)
	}
	if !p.depsCompletedLocked(goal) {
		p.mu.Unlock()
		return models.Ef(models.KindPrecondition, "goal %s has incomplete dependencies", goal.ID)
	}
	if plan.Status != PlanPending {
		p.mu.Unlock()
		return models.Ef(models.KindPrecondition, "plan %s is %s, not executable", planID, plan.Status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	plan.Status = PlanRunning
	goal.Status = GoalInProgress
	goal.UpdatedAt = time.Now()
	goalID := goal.ID
	p.cancels[goalID] = append(p.cancels[goalID], cancel)
	p.mu.Unlock()

	p.logger.Info("Plan execution started", "plan_id", planID, "goal_id", goalID)
	err := p.runSteps(runCtx, planID, executor)

	p.mu.Lock()
	plan = p.plans[planID]
	goal = p.goals[goalID]
	switch {
	case err == nil:
		plan.Status = PlanCompleted
		if !goal.Status.Terminal() {
			goal.Status = GoalCompleted
			goal.Progress = 1.0
			goal.UpdatedAt = time.Now()
		}
	case runCtx.Err() != nil:
		// Cancellation already transitioned statuses via CancelGoal, or
		// the caller's context expired mid-run.
		if plan.Status == PlanRunning {
			p.cancelPlanStepsLocked(plan)
		}
		if !goal.Status.Terminal() {
			goal.Status = GoalCancelled
			goal.UpdatedAt = time.Now()
		}
	default:
		plan.Status = PlanFailed
		if !goal.Status.Terminal() {
			goal.Status = GoalFailed
			goal.UpdatedAt = time.Now()
		}
	}
	delete(p.cancels, goalID)
	completed := goal.Status == GoalCompleted
	p.mu.Unlock()

	if completed {
		p.bus.Publish(events.TopicGoalCompleted, map[string]any{
			"goal_id": goalID, "plan_id": planID,
		})
	}
	p.logger.Info("Plan execution finished", "plan_id", planID,
		"goal_id", goalID, "error", err)
	return err
}

// runSteps schedules steps in dependency waves: every pass runs all steps
// whose dependencies have completed, concurrently, until none remain.
func (p *Planner) runSteps(ctx context.Context, planID string, executor StepExecutor) error {
	for {
		ready := p.readySteps(planID)
		if len(ready) == 0 {
			if p.unfinishedSteps(planID) == 0 {
				return nil
			}
			// Remaining steps are unreachable: a dependency failed.
			return models.Ef(models.KindPrecondition,
				"plan %s has unrunnable steps after a failure", planID)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, stepID := range ready {
			group.Go(func() error {
				select {
				case p.sem <- struct{}{}:
					defer func() { <-p.sem }()
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
				return p.runStep(groupCtx, planID, stepID, executor)
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
	}
}

// readySteps lists pending steps whose dependencies are all COMPLETED.
func (p *Planner) readySteps(planID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[planID]
	if !ok {
		return nil
	}
	status := make(map[string]StepStatus, len(plan.Steps))
	for _, s := range plan.Steps {
		status[s.ID] = s.Status
	}

	var ready []string
	for _, s := range plan.Steps {
		if s.Status != StepPending {
			continue
		}
		ok := true
		for _, dep := range s.DependsOnStepIDs {
			if status[dep] != StepCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s.ID)
		}
	}
	return ready
}

func (p *Planner) unfinishedSteps(planID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[planID]
	if !ok {
		return 0
	}
	n := 0
	for _, s := range plan.Steps {
		if s.Status == StepPending || s.Status == StepInProgress {
			n++
		}
	}
	return n
}

// runStep executes one step with deterministic retry backoff. Attempts are
// counted per try; the step fails terminally once the attempt budget is
// exhausted.
func (p *Planner) runStep(ctx context.Context, planID, stepID string, executor StepExecutor) error {
	snapshot, ok := p.markStepRunning(planID, stepID)
	if !ok {
		return nil // cancelled before start
	}

	maxAttempts := p.cfg.MaxStepAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var result string
	operation := func() error {
		step, ok := p.incrementAttempts(planID, stepID)
		if !ok {
			return backoff.Permanent(context.Canceled)
		}
		out, err := executor.ExecuteStep(ctx, step)
		if err != nil {
			return err
		}
		result = out
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(stepBackoff(stepID, p.cfg.BackoffInitialMS), uint64(maxAttempts-1)), ctx))

	p.finishStep(planID, stepID, result, err)
	if err != nil {
		p.bus.Publish(events.TopicStepFailed, map[string]any{
			"plan_id": planID, "step_id": stepID, "error": err.Error(),
		})
		return models.Wrap(models.KindInternal, "step "+snapshot.Description+" failed", err)
	}
	p.bus.Publish(events.TopicStepCompleted, map[string]any{
		"plan_id": planID, "step_id": stepID,
	})
	return nil
}

// stepBackoff builds an exponential backoff whose initial interval is
// seeded from the step id, with jitter disabled so retry timing is
// reproducible in tests.
func stepBackoff(stepID string, initialMS int) backoff.BackOff {
	if initialMS <= 0 {
		initialMS = 100
	}
	h := fnv.New32a()
	h.Write([]byte(stepID))
	seedMS := initialMS + int(h.Sum32()%50)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(seedMS) * time.Millisecond
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p *Planner) markStepRunning(planID, stepID string) (Step, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := p.findStepLocked(planID, stepID)
	if step == nil || step.Status != StepPending {
		return Step{}, false
	}
	now := time.Now()
	step.Status = StepInProgress
	step.StartedAt = &now
	return *step, true
}

func (p *Planner) incrementAttempts(planID, stepID string) (Step, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := p.findStepLocked(planID, stepID)
	if step == nil || step.Status != StepInProgress {
		return Step{}, false
	}
	step.Attempts++
	return *step, true
}

func (p *Planner) finishStep(planID, stepID, result string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := p.findStepLocked(planID, stepID)
	if step == nil || step.Status != StepInProgress {
		return
	}
	now := time.Now()
	step.FinishedAt = &now
	if err != nil {
		step.Status = StepFailed
	} else {
		step.Status = StepCompleted
		step.Result = result
	}
	p.updateProgressLocked(planID)
}

func (p *Planner) findStepLocked(planID, stepID string) *Step {
	plan, ok := p.plans[planID]
	if !ok {
		return nil
	}
	for i := range plan.Steps {
		if plan.Steps[i].ID == stepID {
			return &plan.Steps[i]
		}
	}
	return nil
}

// updateProgressLocked recomputes goal progress from the plan's step
// statuses: (completed + 0.5 * in progress) / total. Progress never
// decreases within a run.
func (p *Planner) updateProgressLocked(planID string) {
	plan, ok := p.plans[planID]
	if !ok || len(plan.Steps) == 0 {
		return
	}
	var completed, inProgress int
	for _, s := range plan.Steps {
		switch s.Status {
		case StepCompleted:
			completed++
		case StepInProgress:
			inProgress++
		}
	}
	progress := (float64(completed) + 0.5*float64(inProgress)) / float64(len(plan.Steps))

	goal, ok := p.goals[plan.GoalID]
	if !ok {
		return
	}
	if progress > goal.Progress {
		goal.Progress = progress
		goal.UpdatedAt = time.Now()
	}
}

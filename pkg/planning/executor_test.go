package planning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagenerativa/hlcs/pkg/models"
)

func TestExecutePlanSequentialSuccess(t *testing.T) {
	p := newTestPlanner(t)

	g, err := p.CreateGoal(GoalParams{
		Title:           "report",
		SuccessCriteria: []string{"search sources", "summarize findings", "classify audience"},
	})
	require.NoError(t, err)
	plan, err := p.CreatePlan(g.ID, StrategySequential)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	executor := StepExecutorFunc(func(ctx context.Context, step Step) (string, error) {
		mu.Lock()
		order = append(order, step.Description)
		mu.Unlock()
		return "done: " + step.Description, nil
	})

	require.NoError(t, p.ExecutePlan(context.Background(), plan.ID, executor))

	require.Len(t, order, 3)
	assert.True(t, strings.HasPrefix(order[0], "step 1"))
	assert.True(t, strings.HasPrefix(order[1], "step 2"))
	assert.True(t, strings.HasPrefix(order[2], "step 3"))

	got, err := p.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanCompleted, got.Status)
	for _, s := range got.Steps {
		assert.Equal(t, StepCompleted, s.Status)
		assert.Equal(t, 1, s.Attempts)
		assert.NotEmpty(t, s.Result)
	}

	goal, err := p.Goal(g.ID)
	require.NoError(t, err)
	assert.Equal(t, GoalCompleted, goal.Status)
	assert.Equal(t, 1.0, goal.Progress)
}

func TestExecutePlanRetriesFlakyStep(t *testing.T) {
	p := newTestPlanner(t)

	g, err := p.CreateGoal(GoalParams{
		Title:           "flaky",
		SuccessCriteria: []string{"one", "two", "three"},
	})
	require.NoError(t, err)
	plan, err := p.CreatePlan(g.ID, StrategySequential)
	require.NoError(t, err)

	flakyID := plan.Steps[1].ID
	var mu sync.Mutex
	failed := false
	executor := StepExecutorFunc(func(ctx context.Context, step Step) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if step.ID == flakyID && !failed {
			failed = true
			return "", errors.New("transient backend hiccup")
		}
		return "ok", nil
	})

	require.NoError(t, p.ExecutePlan(context.Background(), plan.ID, executor))

	got, err := p.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanCompleted, got.Status)
	assert.Equal(t, 1, got.Steps[0].Attempts)
	assert.Equal(t, 2, got.Steps[1].Attempts)
	assert.Equal(t, 1, got.Steps[2].Attempts)

	goal, err := p.Goal(g.ID)
	require.NoError(t, err)
	assert.Equal(t, GoalCompleted, goal.Status)
	assert.Equal(t, 1.0, goal.Progress)
}

func TestExecutePlanFailsAfterAttemptBudget(t *testing.T) {
	p := newTestPlanner(t)

	g, err := p.CreateGoal(GoalParams{
		Title:           "doomed",
		SuccessCriteria: []string{"one", "two"},
	})
	require.NoError(t, err)
	plan, err := p.CreatePlan(g.ID, StrategySequential)
	require.NoError(t, err)

	executor := StepExecutorFunc(func(ctx context.Context, step Step) (string, error) {
		if strings.HasPrefix(step.Description, "step 2") {
			return "", errors.New("permanent failure")
		}
		return "ok", nil
	})

	err = p.ExecutePlan(context.Background(), plan.ID, executor)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInternal))

	got, err := p.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanFailed, got.Status)
	assert.Equal(t, StepCompleted, got.Steps[0].Status)
	assert.Equal(t, StepFailed, got.Steps[1].Status)
	assert.Equal(t, 2, got.Steps[1].Attempts)

	goal, err := p.Goal(g.ID)
	require.NoError(t, err)
	assert.Equal(t, GoalFailed, goal.Status)
	assert.Equal(t, 0.5, goal.Progress)
}

func TestExecutePlanParallelRunsConcurrently(t *testing.T) {
	p := newTestPlanner(t)

	g, err := p.CreateGoal(GoalParams{
		Title:           "fanout",
		SuccessCriteria: []string{"a", "b", "c", "d"},
	})
	require.NoError(t, err)
	plan, err := p.CreatePlan(g.ID, StrategyParallel)
	require.NoError(t, err)

	var mu sync.Mutex
	running, peak := 0, 0
	executor := StepExecutorFunc(func(ctx context.Context, step Step) (string, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return "ok", nil
	})

	require.NoError(t, p.ExecutePlan(context.Background(), plan.ID, executor))
	assert.Greater(t, peak, 1)
	assert.LessOrEqual(t, peak, 4)
}

func TestExecutePlanPreconditions(t *testing.T) {
	p := newTestPlanner(t)

	_, err := p.Plan("missing")
	assert.True(t, models.IsKind(err, models.KindNotFound))

	err = p.ExecutePlan(context.Background(), "missing", nil)
	assert.True(t, models.IsKind(err, models.KindNotFound))

	blocker, err := p.CreateGoal(GoalParams{Title: "blocker"})
	require.NoError(t, err)
	g, err := p.CreateGoal(GoalParams{Title: "g", DependencyIDs: []string{blocker.ID}})
	require.NoError(t, err)
	plan, err := p.CreatePlan(g.ID, StrategySequential)
	require.NoError(t, err)

	err = p.ExecutePlan(context.Background(), plan.ID, nil)
	assert.True(t, models.IsKind(err, models.KindPrecondition))

	require.NoError(t, p.CancelGoal(g.ID))
	err = p.ExecutePlan(context.Background(), plan.ID, nil)
	assert.True(t, models.IsKind(err, models.KindPrecondition))
}

func TestExecutePlanCancelledMidRun(t *testing.T) {
	p := newTestPlanner(t)

	g, err := p.CreateGoal(GoalParams{
		Title:           "long",
		SuccessCriteria: []string{"one", "two"},
	})
	require.NoError(t, err)
	plan, err := p.CreatePlan(g.ID, StrategySequential)
	require.NoError(t, err)

	started := make(chan struct{})
	executor := StepExecutorFunc(func(ctx context.Context, step Step) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- p.ExecutePlan(context.Background(), plan.ID, executor) }()

	<-started
	require.NoError(t, p.CancelGoal(g.ID))

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not stop after cancellation")
	}

	goal, err := p.Goal(g.ID)
	require.NoError(t, err)
	assert.Equal(t, GoalCancelled, goal.Status)

	got, err := p.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanCancelled, got.Status)
	for _, s := range got.Steps {
		assert.NotEqual(t, StepInProgress, s.Status)
		assert.NotEqual(t, StepPending, s.Status)
	}
}

func TestHypothesisVerdicts(t *testing.T) {
	p := newTestPlanner(t)

	tests := []struct {
		name          string
		prior         float64
		score         float64
		wantOutcome   HypothesisOutcome
		wantPosterior float64
	}{
		{"confirmed", 0.5, 0.9, OutcomeConfirmed, 0.8},
		{"confirmed capped", 0.8, 1.0, OutcomeConfirmed, 0.95},
		{"inconclusive", 0.5, 0.5, OutcomeInconclusive, 0.5},
		{"refuted", 0.5, 0.1, OutcomeRefuted, 0.2},
		{"refuted floored", 0.2, 0.0, OutcomeRefuted, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := p.CreateHypothesis(HypothesisParams{
				Statement:       "retrieval improves answers",
				PriorConfidence: tt.prior,
			})
			require.NoError(t, err)
			assert.Equal(t, OutcomeUntested, h.Outcome)

			runner := HypothesisRunnerFunc(func(ctx context.Context, h Hypothesis) (float64, []string, error) {
				return tt.score, []string{"observed run"}, nil
			})
			tested, err := p.TestHypothesis(context.Background(), h.ID, runner)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, tested.Outcome)
			assert.InDelta(t, tt.wantPosterior, tested.PosteriorConfidence, 1e-9)
			assert.Equal(t, []string{"observed run"}, tested.Evidence)
		})
	}
}

func TestHypothesisErrors(t *testing.T) {
	p := newTestPlanner(t)

	_, err := p.CreateHypothesis(HypothesisParams{})
	assert.True(t, models.IsKind(err, models.KindInvalidInput))

	_, err = p.CreateHypothesis(HypothesisParams{Statement: "x", PriorConfidence: 1.5})
	assert.True(t, models.IsKind(err, models.KindInvalidInput))

	_, err = p.TestHypothesis(context.Background(), "missing", nil)
	assert.True(t, models.IsKind(err, models.KindNotFound))

	h, err := p.CreateHypothesis(HypothesisParams{Statement: "x", PriorConfidence: 0.5})
	require.NoError(t, err)
	runner := HypothesisRunnerFunc(func(ctx context.Context, h Hypothesis) (float64, []string, error) {
		return 0, nil, errors.New("probe crashed")
	})
	_, err = p.TestHypothesis(context.Background(), h.ID, runner)
	assert.True(t, models.IsKind(err, models.KindInternal))
}

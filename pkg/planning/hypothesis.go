package planning

import (
	"context"

	"github.com/google/uuid"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// Hypothesis verdict thresholds on the evidence score.
const (
	hypothesisConfirm    = 0.8
	hypothesisInconcl    = 0.4
	hypothesisShift      = 0.3
	hypothesisConfidence = 0.95
	hypothesisFloor      = 0.05
)

// HypothesisParams are the caller-supplied fields for a new hypothesis.
type HypothesisParams struct {
	Statement       string
	Rationale       string
	Procedure       []string
	Criteria        []string
	PriorConfidence float64
}

// CreateHypothesis stores a testable claim in the UNTESTED state.
func (p *Planner) CreateHypothesis(params HypothesisParams) (*Hypothesis, error) {
	if params.Statement == "" {
		return nil, models.E(models.KindInvalidInput, "hypothesis statement is empty")
	}
	if params.PriorConfidence < 0 || params.PriorConfidence > 1 {
		return nil, models.Ef(models.KindInvalidInput,
			"prior confidence %.2f outside [0, 1]", params.PriorConfidence)
	}

	h := &Hypothesis{
		ID:                  uuid.NewString(),
		Statement:           params.Statement,
		Rationale:           params.Rationale,
		Procedure:           params.Procedure,
		Criteria:            params.Criteria,
		PriorConfidence:     params.PriorConfidence,
		PosteriorConfidence: params.PriorConfidence,
		Outcome:             OutcomeUntested,
	}

	p.mu.Lock()
	p.hypotheses[h.ID] = h
	p.mu.Unlock()

	p.logger.Info("Hypothesis created", "hypothesis_id", h.ID,
		"prior", params.PriorConfidence)
	out := *h
	return &out, nil
}

// Hypothesis returns a snapshot of one hypothesis.
func (p *Planner) Hypothesis(id string) (*Hypothesis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hypotheses[id]
	if !ok {
		return nil, models.Ef(models.KindNotFound, "hypothesis %s not found", id)
	}
	out := *h
	return &out, nil
}

// HypothesisRunner gathers evidence for a hypothesis and scores it in
// [0, 1], optionally returning evidence notes.
type HypothesisRunner interface {
	RunHypothesis(ctx context.Context, h Hypothesis) (score float64, evidence []string, err error)
}

// HypothesisRunnerFunc adapts a function to the HypothesisRunner interface.
type HypothesisRunnerFunc func(ctx context.Context, h Hypothesis) (float64, []string, error)

func (f HypothesisRunnerFunc) RunHypothesis(ctx context.Context, h Hypothesis) (float64, []string, error) {
	return f(ctx, h)
}

// TestHypothesis runs the caller's evidence procedure and settles the
// verdict: scores of 0.8 or more confirm and raise confidence by 0.3
// (capped at 0.95), scores of 0.4 or more are inconclusive and leave
// confidence at the prior, anything lower refutes and lowers confidence
// by 0.3 (floored at 0.05).
func (p *Planner) TestHypothesis(ctx context.Context, id string, runner HypothesisRunner) (*Hypothesis, error) {
	p.mu.Lock()
	h, ok := p.hypotheses[id]
	if !ok {
		p.mu.Unlock()
		return nil, models.Ef(models.KindNotFound, "hypothesis %s not found", id)
	}
	snapshot := *h
	p.mu.Unlock()

	score, evidence, err := runner.RunHypothesis(ctx, snapshot)
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "hypothesis test failed", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok = p.hypotheses[id]
	if !ok {
		return nil, models.Ef(models.KindNotFound, "hypothesis %s not found", id)
	}

	switch {
	case score >= hypothesisConfirm:
		h.Outcome = OutcomeConfirmed
		h.PosteriorConfidence = h.PriorConfidence + hypothesisShift
		if h.PosteriorConfidence > hypothesisConfidence {
			h.PosteriorConfidence = hypothesisConfidence
		}
	case score >= hypothesisInconcl:
		h.Outcome = OutcomeInconclusive
		h.PosteriorConfidence = h.PriorConfidence
	default:
		h.Outcome = OutcomeRefuted
		h.PosteriorConfidence = h.PriorConfidence - hypothesisShift
		if h.PosteriorConfidence < hypothesisFloor {
			h.PosteriorConfidence = hypothesisFloor
		}
	}
	h.Evidence = append(h.Evidence, evidence...)

	p.logger.Info("Hypothesis tested", "hypothesis_id", id,
		"score", score, "outcome", h.Outcome, "posterior", h.PosteriorConfidence)
	out := *h
	return &out, nil
}

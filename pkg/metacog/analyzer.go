// Package metacog implements the meta-cognitive layer: per-query ignorance
// and self-doubt assessment, routing recommendations, and answer quality
// scoring.
package metacog

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// Analyzer is the single realization of the meta-cognition capability set
// {classify complexity, evaluate quality, route decision}. Route and
// Evaluate are pure; Analyze reads the clock for the temporal snapshot and
// keeps aggregate counters for the status surface.
type Analyzer struct {
	defaultStrategy Strategy

	mu              sync.Mutex
	decisions       int
	confidenceSum   float64
	recentQualities []float64

	logger *slog.Logger
}

// NewAnalyzer builds an analyzer with the configured default strategy.
// Unknown strategy names fall back to ADAPTIVE.
func NewAnalyzer(defaultStrategy string) *Analyzer {
	s := Strategy(strings.ToUpper(defaultStrategy))
	switch s {
	case StrategyConservative, StrategyExploratory, StrategyBalanced, StrategyAdaptive:
	default:
		s = StrategyAdaptive
	}
	return &Analyzer{
		defaultStrategy: s,
		logger:          slog.With("component", "metacog"),
	}
}

// Analyze produces the per-query MetaState. It fails only on empty query
// text; any internal problem degrades to a conservative zero-confidence
// state instead of propagating.
func (a *Analyzer) Analyze(query models.Query, ctx Context) (state MetaState, err error) {
	if strings.TrimSpace(query.Text) == "" {
		return MetaState{}, models.E(models.KindInvalidInput, "query text is empty")
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Analysis panicked, degrading to conservative state", "panic", r)
			state = conservativeState(fmt.Sprintf("analysis error: %v", r))
			err = nil
		}
	}()

	ignorance := a.assessIgnorance(query, ctx)
	temporal := temporalSnapshot(ctx, time.Now())

	state = MetaState{
		Ignorance:   ignorance,
		SelfDoubt:   a.assessSelfDoubt(query, ctx, ignorance),
		Temporal:    temporal,
		Strategy:    a.selectStrategy(query, ctx),
		Complexity:  classifyComplexity(query, ctx.Episodes),
		Criticality: classifyCriticality(query.Text),
	}
	state.Narrative = buildNarrative(ctx.Episodes, FocusLearning)

	a.mu.Lock()
	a.decisions++
	a.confidenceSum += state.SelfDoubt.Composite
	a.mu.Unlock()

	return state, nil
}

// assessIgnorance scores the capability gap and classifies its kind.
func (a *Analyzer) assessIgnorance(query models.Query, ctx Context) Ignorance {
	required := requiredCapabilities(query)

	var gaps []string
	present := 0
	for _, cap := range required {
		found := false
		for _, b := range ctx.Backends {
			if b.has(cap) {
				found = true
				break
			}
		}
		if found {
			present++
		} else {
			gaps = append(gaps, cap)
		}
	}

	score := 0.0
	if len(required) > 0 {
		score = clip01(1 - float64(present)/float64(len(required)))
	}

	ig := Ignorance{Score: score, Gaps: gaps}
	switch {
	case len(gaps) > 0:
		ig.Type = IgnoranceKnownUnknowns
	case len(ctx.Episodes) == 0:
		ig.Type = IgnoranceUnknownUnknowns
	case hasConflictingEvidence(ctx.Episodes):
		ig.Type = IgnoranceEpistemic
	default:
		// Generative backends are stochastic; residual uncertainty is
		// aleatory once capabilities and history check out.
		ig.Type = IgnoranceAleatory
	}
	return ig
}

// assessSelfDoubt derives the confidence dimensions and their composite.
func (a *Analyzer) assessSelfDoubt(query models.Query, ctx Context, ig Ignorance) SelfDoubt {
	tokens := len(strings.Fields(query.Text))

	confidence := math.Max(0.2, 1-0.15*float64(len(ig.Gaps)))
	clarity := math.Min(1, 0.5+float64(tokens)/100)

	evidence := 0.5
	if ctx.Interactions > 0 {
		evidence += 0.3
	}
	if len(ctx.Episodes) > 0 {
		evidence += 0.2
	}
	evidence = clip01(evidence)

	sd := SelfDoubt{
		Confidence:        confidence,
		ReasoningClarity:  clarity,
		EvidenceStrength:  evidence,
		AlternativesCount: len(ctx.Backends),
		Uncertainty:       ig.Score,
	}
	sd.Composite = composite(sd)
	return sd
}

// composite folds the self-doubt dimensions into [0,1]. The alternatives
// penalty is capped at 0.2.
func composite(sd SelfDoubt) float64 {
	penalty := math.Min(0.2, 0.05*float64(sd.AlternativesCount))
	raw := 0.35*sd.Confidence +
		0.25*sd.ReasoningClarity +
		0.25*sd.EvidenceStrength +
		0.15*(1-sd.Uncertainty) -
		penalty
	return clip01(raw)
}

// selectStrategy resolves the effective strategy for this query. A valid
// hint wins; ADAPTIVE resolves to the strategy with the best mean quality
// in the session history, breaking ties toward BALANCED.
func (a *Analyzer) selectStrategy(query models.Query, ctx Context) Strategy {
	chosen := a.defaultStrategy
	if hint := Strategy(strings.ToUpper(query.Options.StrategyHint)); hint != "" {
		switch hint {
		case StrategyConservative, StrategyExploratory, StrategyBalanced, StrategyAdaptive:
			chosen = hint
		}
	}
	if chosen != StrategyAdaptive {
		return chosen
	}
	return resolveAdaptive(ctx.Episodes)
}

// resolveAdaptive picks the concrete strategy whose prior episodes score
// best. Episodes record the meta strategy under metadata["meta_strategy"].
func resolveAdaptive(episodes []models.Episode) Strategy {
	sums := map[Strategy]float64{}
	counts := map[Strategy]int{}
	for _, ep := range episodes {
		s := Strategy(ep.Metadata["meta_strategy"])
		switch s {
		case StrategyConservative, StrategyExploratory, StrategyBalanced:
			sums[s] += ep.Quality
			counts[s]++
		}
	}

	best := StrategyBalanced
	bestMean := -1.0
	// Fixed iteration order keeps resolution deterministic.
	for _, s := range []Strategy{StrategyBalanced, StrategyConservative, StrategyExploratory} {
		if counts[s] == 0 {
			continue
		}
		mean := sums[s] / float64(counts[s])
		if mean > bestMean {
			best = s
			bestMean = mean
		}
	}
	return best
}

func temporalSnapshot(ctx Context, now time.Time) Temporal {
	t := Temporal{Interactions: ctx.Interactions, ContextFreshness: 1}
	if !ctx.SessionStart.IsZero() {
		t.SessionAgeS = now.Sub(ctx.SessionStart).Seconds()
	}
	if !ctx.LastInteraction.IsZero() {
		minutes := now.Sub(ctx.LastInteraction).Minutes()
		if minutes > 0 {
			t.ContextFreshness = math.Exp(-minutes / 10)
		}
	}
	return t
}

// hasConflictingEvidence reports whether the history contains both clear
// successes and clear failures for similar ground.
func hasConflictingEvidence(episodes []models.Episode) bool {
	var good, bad bool
	for _, ep := range episodes {
		if ep.Quality >= 0.7 {
			good = true
		}
		if ep.Quality > 0 && ep.Quality < 0.4 {
			bad = true
		}
	}
	return good && bad
}

func conservativeState(diagnostic string) MetaState {
	return MetaState{
		Ignorance: Ignorance{Type: IgnoranceUnknownUnknowns, Score: 1, Gaps: []string{diagnostic}},
		SelfDoubt: SelfDoubt{Composite: 0, Uncertainty: 1},
		Strategy:  StrategyConservative,
		Temporal:  Temporal{ContextFreshness: 1},
	}
}

// RecordQuality feeds a final answer quality back into the aggregate
// statistics exposed on the status surface.
func (a *Analyzer) RecordQuality(q float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentQualities = append(a.recentQualities, q)
	if len(a.recentQualities) > 50 {
		a.recentQualities = a.recentQualities[len(a.recentQualities)-50:]
	}
}

// Statistics is the meta-cognition section of /v1/status.
type Statistics struct {
	DecisionsMade   int       `json:"decisions_made"`
	MeanConfidence  float64   `json:"mean_confidence"`
	RecentQualities []float64 `json:"recent_qualities,omitempty"`
}

// Stats returns a snapshot of the aggregate counters.
func (a *Analyzer) Stats() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Statistics{
		DecisionsMade:   a.decisions,
		RecentQualities: append([]float64(nil), a.recentQualities...),
	}
	if a.decisions > 0 {
		s.MeanConfidence = a.confidenceSum / float64(a.decisions)
	}
	return s
}

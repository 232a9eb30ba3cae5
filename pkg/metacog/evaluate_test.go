package metacog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iagenerativa/hlcs/pkg/models"
)

func TestEvaluateEmptyAnswerScoresZero(t *testing.T) {
	a := NewAnalyzer("balanced")
	assert.Equal(t, 0.0, a.Evaluate("q", "", nil))
	assert.Equal(t, 0.0, a.Evaluate("q", "   ", nil))
}

func TestEvaluateShortAnswerIsPenalized(t *testing.T) {
	a := NewAnalyzer("balanced")
	// base 0.5, short -0.2, fewer than three sentences
	assert.InDelta(t, 0.3, a.Evaluate("q", "yes", nil), 1e-9)
}

func TestEvaluateWellFormedAnswer(t *testing.T) {
	a := NewAnalyzer("balanced")
	answer := "Reverse-mode differentiation propagates adjoints. " +
		"It walks the computation graph backwards. " +
		"The cost is one backward pass per output."
	// base 0.5, length bonus +0.1, three sentences +0.1
	assert.InDelta(t, 0.7, a.Evaluate("q", answer, nil), 1e-9)
}

func TestEvaluateOverlongAnswerIsPenalized(t *testing.T) {
	a := NewAnalyzer("balanced")
	answer := strings.Repeat("This sentence pads the answer well past the limit. ", 120)
	// base 0.5, overlong -0.1, sentences +0.1
	assert.InDelta(t, 0.5, a.Evaluate("q", answer, nil), 1e-9)
}

func TestEvaluateCriteriaBonus(t *testing.T) {
	a := NewAnalyzer("balanced")
	answer := "The gradient flows backward through the graph. " +
		"Each node stores its adjoint value. " +
		"Memory usage grows with graph depth."

	full := a.Evaluate("q", answer, []string{"gradient", "adjoint"})
	half := a.Evaluate("q", answer, []string{"gradient", "hessian"})
	none := a.Evaluate("q", answer, nil)

	assert.InDelta(t, none+0.3, full, 1e-9)
	assert.InDelta(t, none+0.15, half, 1e-9)
}

func TestEvaluateIsBoundedAndPure(t *testing.T) {
	a := NewAnalyzer("balanced")
	answer := "A thorough answer. With several sentences. And criteria words everywhere. Gradient adjoint memory."
	criteria := []string{"gradient", "adjoint", "memory"}

	first := a.Evaluate("q", answer, criteria)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.Evaluate("q", answer, criteria))
	}
	assert.LessOrEqual(t, first, 1.0)
	assert.GreaterOrEqual(t, first, 0.0)
}

func TestCritiqueNamesMissingCriteria(t *testing.T) {
	a := NewAnalyzer("balanced")

	critique := a.Critique("q", "short", []string{"latency"})
	assert.Contains(t, critique, "too short")
	assert.Contains(t, critique, "address the criterion: latency")

	assert.Contains(t, a.Critique("q", "", nil), "empty")
}

func TestNarrativeFoci(t *testing.T) {
	a := NewAnalyzer("balanced")
	episodes := []models.Episode{
		{QueryText: "deploy migration to production", StrategyUsed: "complex", Quality: 0.9},
		{QueryText: "check migration status", StrategyUsed: "simple", Quality: 0.3},
		{QueryText: "rollback migration plan", StrategyUsed: "complex", Quality: 0.8},
	}

	assert.Equal(t, "No prior interactions in this session.", a.Narrative(nil, FocusLearning))

	learning := a.Narrative(episodes, FocusLearning)
	assert.Contains(t, learning, "2 succeeded")

	patterns := a.Narrative(episodes, FocusPatterns)
	assert.Contains(t, patterns, "complex")

	goals := a.Narrative(episodes, FocusGoals)
	assert.Contains(t, goals, "migration")
}

package metacog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iagenerativa/hlcs/pkg/models"
)

func TestRouteIsDeterministic(t *testing.T) {
	a := NewAnalyzer("balanced")
	state := MetaState{
		Strategy:    StrategyBalanced,
		Complexity:  0.6,
		Criticality: 0.8,
		SelfDoubt:   SelfDoubt{Composite: 0.4},
	}
	opts := models.QueryOptions{AllowEnsemble: true}

	first := a.RouteQuery(state, allBackends(), opts, models.ModalityText)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.RouteQuery(state, allBackends(), opts, models.ModalityText))
	}
}

func TestRouteModalityDispatch(t *testing.T) {
	a := NewAnalyzer("balanced")
	state := MetaState{Strategy: StrategyBalanced}

	route := a.RouteQuery(state, allBackends(), models.QueryOptions{}, models.ModalityImage)
	assert.Equal(t, BackendToolServer, route.PrimaryBackend)
	assert.False(t, route.UseEnsemble)

	// Without the matching capability the query degrades to text routing.
	route = a.RouteQuery(state, toolOnlyBackends(), models.QueryOptions{}, models.ModalityAudio)
	assert.Equal(t, BackendToolServer, route.PrimaryBackend)
	assert.NotEmpty(t, route.Rationale)
}

func TestRouteBalancedComplexityBands(t *testing.T) {
	a := NewAnalyzer("balanced")

	tests := []struct {
		complexity    float64
		wantBackend   string
		wantRetrieval bool
	}{
		{0.2, BackendToolServer, false},
		{0.55, BackendToolServer, true},
		{0.85, BackendLocalReasoner, false},
	}
	for _, tt := range tests {
		state := MetaState{Strategy: StrategyBalanced, Complexity: tt.complexity}
		route := a.RouteQuery(state, allBackends(), models.QueryOptions{}, models.ModalityText)
		assert.Equal(t, tt.wantBackend, route.PrimaryBackend, "complexity %v", tt.complexity)
		assert.Equal(t, tt.wantRetrieval, route.WithRetrieval, "complexity %v", tt.complexity)
	}
}

func TestRouteHighComplexityWithoutLocalFallsBackToTools(t *testing.T) {
	a := NewAnalyzer("balanced")
	state := MetaState{Strategy: StrategyBalanced, Complexity: 0.9}

	route := a.RouteQuery(state, toolOnlyBackends(), models.QueryOptions{}, models.ModalityText)
	assert.Equal(t, BackendToolServer, route.PrimaryBackend)
	assert.True(t, route.WithRetrieval)
}

func TestRouteConservativePrefersTools(t *testing.T) {
	a := NewAnalyzer("conservative")
	state := MetaState{Strategy: StrategyConservative, Complexity: 0.9}

	route := a.RouteQuery(state, allBackends(), models.QueryOptions{}, models.ModalityText)
	assert.Equal(t, BackendToolServer, route.PrimaryBackend)
}

func TestRouteExploratoryUsesComposite(t *testing.T) {
	a := NewAnalyzer("exploratory")

	high := MetaState{Strategy: StrategyExploratory, SelfDoubt: SelfDoubt{Composite: 0.7}}
	low := MetaState{Strategy: StrategyExploratory, SelfDoubt: SelfDoubt{Composite: 0.3}}

	assert.Equal(t, BackendLocalReasoner,
		a.RouteQuery(high, allBackends(), models.QueryOptions{}, models.ModalityText).PrimaryBackend)
	assert.Equal(t, BackendToolServer,
		a.RouteQuery(low, allBackends(), models.QueryOptions{}, models.ModalityText).PrimaryBackend)
}

func TestRouteEnsembleRequiresAllThreeConditions(t *testing.T) {
	a := NewAnalyzer("balanced")
	base := MetaState{
		Strategy:    StrategyBalanced,
		Complexity:  0.3,
		Criticality: 0.8,
		SelfDoubt:   SelfDoubt{Composite: 0.4},
	}

	route := a.RouteQuery(base, allBackends(), models.QueryOptions{AllowEnsemble: true}, models.ModalityText)
	assert.True(t, route.UseEnsemble)

	noEnsembleOpt := a.RouteQuery(base, allBackends(), models.QueryOptions{}, models.ModalityText)
	assert.False(t, noEnsembleOpt.UseEnsemble)

	confident := base
	confident.SelfDoubt.Composite = 0.6
	assert.False(t, a.RouteQuery(confident, allBackends(), models.QueryOptions{AllowEnsemble: true}, models.ModalityText).UseEnsemble)

	lowStakes := base
	lowStakes.Criticality = 0.5
	assert.False(t, a.RouteQuery(lowStakes, allBackends(), models.QueryOptions{AllowEnsemble: true}, models.ModalityText).UseEnsemble)
}

func TestRouteRationaleCarriesLearningRecommendations(t *testing.T) {
	a := NewAnalyzer("balanced")
	state := MetaState{
		Strategy:  StrategyBalanced,
		Ignorance: Ignorance{Type: IgnoranceKnownUnknowns, Gaps: []string{"image_analyzer"}},
	}

	route := a.RouteQuery(state, toolOnlyBackends(), models.QueryOptions{}, models.ModalityText)

	found := false
	for _, r := range route.Rationale {
		if r == `learning: acquire or configure capability "image_analyzer"` {
			found = true
		}
	}
	assert.True(t, found, "rationale should include the learning recommendation, got %v", route.Rationale)
}

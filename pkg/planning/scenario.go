package planning

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// Scenario scoring constants. Simulation is a pure function of the
// assumptions so repeated runs agree.
const (
	scenarioBase          = 0.7
	scenarioHighPenalty   = 0.2
	scenarioLowBonus      = 0.1
	scenarioThinResources = 0.15
	scenarioOverConstrain = 0.1
	scenarioFloor         = 0.1
	scenarioCeiling       = 0.95
)

// CreateScenario stores a what-if and immediately scores it.
func (p *Planner) CreateScenario(title string, assumptions Assumptions) (*Scenario, error) {
	if title == "" {
		return nil, models.E(models.KindInvalidInput, "scenario title is empty")
	}
	switch assumptions.Complexity {
	case "", "low", "medium", "high":
	default:
		return nil, models.Ef(models.KindInvalidInput, "unknown complexity %q", assumptions.Complexity)
	}

	probability, reasoning := simulate(assumptions)
	s := &Scenario{
		ID:                          uuid.NewString(),
		Title:                       title,
		Assumptions:                 assumptions,
		SimulatedSuccessProbability: probability,
		Reasoning:                   reasoning,
	}

	p.mu.Lock()
	p.scenarios[s.ID] = s
	p.mu.Unlock()

	p.logger.Info("Scenario simulated", "scenario_id", s.ID,
		"title", title, "probability", probability)
	out := *s
	return &out, nil
}

// Scenario returns a snapshot of one scenario.
func (p *Planner) Scenario(id string) (*Scenario, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scenarios[id]
	if !ok {
		return nil, models.Ef(models.KindNotFound, "scenario %s not found", id)
	}
	out := *s
	return &out, nil
}

// simulate scores assumptions from a fixed base: high complexity and
// thin resourcing pull the estimate down, low complexity lifts it, and
// the result is clipped to [0.1, 0.95].
func simulate(a Assumptions) (float64, string) {
	probability := scenarioBase
	reasoning := "baseline estimate"

	switch a.Complexity {
	case "high":
		probability -= scenarioHighPenalty
		reasoning += "; high complexity lowers odds"
	case "low":
		probability += scenarioLowBonus
		reasoning += "; low complexity raises odds"
	}
	if len(a.Resources) < 2 {
		probability -= scenarioThinResources
		reasoning += "; fewer than two resources"
	}
	if len(a.Constraints) > 3 {
		probability -= scenarioOverConstrain
		reasoning += fmt.Sprintf("; %d constraints", len(a.Constraints))
	}

	if probability < scenarioFloor {
		probability = scenarioFloor
	}
	if probability > scenarioCeiling {
		probability = scenarioCeiling
	}
	return probability, reasoning
}

// CompareScenarios ranks stored scenarios by simulated success
// probability, best first. Ties break on title for stable output.
func (p *Planner) CompareScenarios(ids []string) ([]Scenario, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Scenario, 0, len(ids))
	for _, id := range ids {
		s, ok := p.scenarios[id]
		if !ok {
			return nil, models.Ef(models.KindNotFound, "scenario %s not found", id)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SimulatedSuccessProbability != out[j].SimulatedSuccessProbability {
			return out[i].SimulatedSuccessProbability > out[j].SimulatedSuccessProbability
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

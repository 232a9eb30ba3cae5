package metacog

import (
	"time"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// IgnoranceType tags what kind of gap dominates the current query.
type IgnoranceType string

const (
	IgnoranceKnownUnknowns   IgnoranceType = "KNOWN_UNKNOWNS"
	IgnoranceUnknownUnknowns IgnoranceType = "UNKNOWN_UNKNOWNS"
	IgnoranceEpistemic       IgnoranceType = "EPISTEMIC"
	IgnoranceAleatory        IgnoranceType = "ALEATORY"
)

// Strategy influences routing choices.
type Strategy string

const (
	StrategyConservative Strategy = "CONSERVATIVE"
	StrategyExploratory  Strategy = "EXPLORATORY"
	StrategyBalanced     Strategy = "BALANCED"
	StrategyAdaptive     Strategy = "ADAPTIVE"
)

// Ignorance is the capability-gap assessment for one query.
type Ignorance struct {
	Type  IgnoranceType `json:"type"`
	Score float64       `json:"score"`
	Gaps  []string      `json:"gaps,omitempty"`
}

// SelfDoubt aggregates the confidence dimensions into a composite scalar.
type SelfDoubt struct {
	Confidence        float64 `json:"confidence"`
	ReasoningClarity  float64 `json:"reasoning_clarity"`
	EvidenceStrength  float64 `json:"evidence_strength"`
	AlternativesCount int     `json:"alternatives_count"`
	Uncertainty       float64 `json:"uncertainty"`
	Composite         float64 `json:"composite"`
}

// Temporal is the session time snapshot at analysis time.
type Temporal struct {
	SessionAgeS      float64 `json:"session_age_s"`
	ContextFreshness float64 `json:"context_freshness"`
	Interactions     int     `json:"interactions"`
}

// MetaState is the per-query scratchpad produced by Analyze. It is
// discarded once the episode is recorded.
type MetaState struct {
	Ignorance   Ignorance `json:"ignorance"`
	SelfDoubt   SelfDoubt `json:"self_doubt"`
	Narrative   string    `json:"narrative"`
	Temporal    Temporal  `json:"temporal"`
	Strategy    Strategy  `json:"strategy"`
	Complexity  float64   `json:"complexity"`
	Criticality float64   `json:"criticality"`
}

// Backend names known to the router.
const (
	BackendToolServer    = "tool_server"
	BackendLocalReasoner = "local_reasoner"
)

// Backend describes one available backend and its capability tags.
type Backend struct {
	Name         string
	Capabilities []string
}

func (b Backend) has(capability string) bool {
	for _, c := range b.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Context carries everything Analyze consults besides the query itself.
type Context struct {
	// Episodes is bounded, most recent first.
	Episodes []models.Episode
	Backends []Backend

	SessionStart    time.Time
	LastInteraction time.Time
	Interactions    int
}

// Route is the routing recommendation for one query.
type Route struct {
	PrimaryBackend string   `json:"primary_backend"`
	UseEnsemble    bool     `json:"use_ensemble"`
	WithRetrieval  bool     `json:"with_retrieval"`
	Rationale      []string `json:"rationale"`
}

// Risk is the score the consensus auto-voter compares against its
// threshold: the inverse of the composite confidence behind the route.
func (s *MetaState) Risk() float64 {
	return clip01(1 - s.SelfDoubt.Composite)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package metacog

import (
	"fmt"
	"strings"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// NarrativeFocus selects the lens the narrative summary is written through.
type NarrativeFocus string

const (
	FocusLearning NarrativeFocus = "learning"
	FocusGoals    NarrativeFocus = "goals"
	FocusPatterns NarrativeFocus = "patterns"
)

const narrativeWindow = 5

// buildNarrative renders a deterministic summary of the most recent
// episodes. The narrative exists for explainability only; routing never
// consumes it.
func buildNarrative(episodes []models.Episode, focus NarrativeFocus) string {
	if len(episodes) == 0 {
		return "No prior interactions in this session."
	}
	window := episodes
	if len(window) > narrativeWindow {
		window = window[:narrativeWindow]
	}

	successes, failures := 0, 0
	for _, ep := range window {
		if ep.Quality >= 0.7 {
			successes++
		} else {
			failures++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Over the last %d interactions: %d succeeded, %d fell short.",
		len(window), successes, failures)

	switch focus {
	case FocusGoals:
		fmt.Fprintf(&b, " Recent activity centers on: %s.", dominantTopic(window))
	case FocusPatterns:
		fmt.Fprintf(&b, " Most used strategy: %s.", dominantStrategy(window))
	default: // learning
		if failures > successes {
			b.WriteString(" Quality is trending low; prefer cautious routing.")
		} else {
			b.WriteString(" Outcomes are stable; current routing is serving well.")
		}
	}
	return b.String()
}

// Narrative exposes the narrative generator with an explicit focus for the
// status surface.
func (a *Analyzer) Narrative(episodes []models.Episode, focus NarrativeFocus) string {
	return buildNarrative(episodes, focus)
}

func dominantStrategy(episodes []models.Episode) string {
	counts := map[string]int{}
	for _, ep := range episodes {
		if ep.StrategyUsed != "" {
			counts[ep.StrategyUsed]++
		}
	}
	best, bestN := "unknown", 0
	for s, n := range counts {
		if n > bestN || (n == bestN && s < best) {
			best, bestN = s, n
		}
	}
	return best
}

func dominantTopic(episodes []models.Episode) string {
	counts := map[string]int{}
	for _, ep := range episodes {
		for _, w := range strings.Fields(strings.ToLower(ep.QueryText)) {
			if len(w) > 5 {
				counts[w]++
			}
		}
	}
	best, bestN := "general conversation", 0
	for w, n := range counts {
		if n > bestN || (n == bestN && w < best) {
			best, bestN = w, n
		}
	}
	return best
}

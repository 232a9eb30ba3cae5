package metacog

import (
	"fmt"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// RouteQuery computes the routing recommendation. Pure over the
// (state, backends, options, modality) tuple: identical inputs always
// produce the identical route.
func (a *Analyzer) RouteQuery(state MetaState, backends []Backend, opts models.QueryOptions, modality models.Modality) Route {
	route := Route{PrimaryBackend: BackendToolServer}

	// Modality dispatch comes first: a matching capability decides alone.
	if modality != models.ModalityText {
		if b, cap := backendForModality(backends, modality); b != "" {
			route.PrimaryBackend = b
			route.Rationale = append(route.Rationale,
				fmt.Sprintf("modality %s served by %s via %s", modality, b, cap))
			route.Rationale = append(route.Rationale, learningRecommendations(state.Ignorance)...)
			return route
		}
		route.Rationale = append(route.Rationale,
			fmt.Sprintf("no backend advertises a capability for modality %s, treating as text", modality))
	}

	localAvailable := hasBackend(backends, BackendLocalReasoner)
	toolsAvailable := hasBackend(backends, BackendToolServer)

	switch state.Strategy {
	case StrategyConservative:
		if toolsAvailable {
			route.PrimaryBackend = BackendToolServer
			route.Rationale = append(route.Rationale, "conservative strategy prefers remote tools")
		} else if localAvailable {
			route.PrimaryBackend = BackendLocalReasoner
			route.Rationale = append(route.Rationale, "conservative fallback to local reasoner, tools unavailable")
		}
	case StrategyExploratory:
		if localAvailable && state.SelfDoubt.Composite >= 0.5 {
			route.PrimaryBackend = BackendLocalReasoner
			route.Rationale = append(route.Rationale,
				fmt.Sprintf("exploratory strategy with composite %.2f prefers local reasoner", state.SelfDoubt.Composite))
		} else {
			route.PrimaryBackend = BackendToolServer
			route.Rationale = append(route.Rationale, "exploratory strategy falls back to tools under low composite")
		}
	default: // BALANCED, and ADAPTIVE already resolved during analysis
		switch {
		case state.Complexity < 0.5:
			route.PrimaryBackend = BackendToolServer
			route.Rationale = append(route.Rationale,
				fmt.Sprintf("low complexity %.2f routed to tools", state.Complexity))
		case state.Complexity < 0.7:
			route.PrimaryBackend = BackendToolServer
			route.WithRetrieval = true
			route.Rationale = append(route.Rationale,
				fmt.Sprintf("medium complexity %.2f routed to tools with retrieval", state.Complexity))
		default:
			if localAvailable {
				route.PrimaryBackend = BackendLocalReasoner
				route.Rationale = append(route.Rationale,
					fmt.Sprintf("high complexity %.2f routed to local reasoner", state.Complexity))
			} else {
				route.PrimaryBackend = BackendToolServer
				route.WithRetrieval = true
				route.Rationale = append(route.Rationale,
					"high complexity but local reasoner unavailable, using tools with retrieval")
			}
		}
	}

	if opts.AllowEnsemble && state.SelfDoubt.Composite < 0.5 && state.Criticality >= 0.7 &&
		localAvailable && toolsAvailable {
		route.UseEnsemble = true
		route.Rationale = append(route.Rationale,
			fmt.Sprintf("ensemble enabled: composite %.2f below 0.5 with criticality %.2f",
				state.SelfDoubt.Composite, state.Criticality))
	}

	route.Rationale = append(route.Rationale, learningRecommendations(state.Ignorance)...)
	return route
}

func hasBackend(backends []Backend, name string) bool {
	for _, b := range backends {
		if b.Name == name {
			return true
		}
	}
	return false
}

// backendForModality finds a backend advertising the capability matching a
// non-text modality. Mixed modality accepts either media capability.
func backendForModality(backends []Backend, modality models.Modality) (string, string) {
	var caps []string
	switch modality {
	case models.ModalityImage:
		caps = []string{"image_analyzer"}
	case models.ModalityAudio:
		caps = []string{"audio_transcriber"}
	case models.ModalityMixed:
		caps = []string{"image_analyzer", "audio_transcriber"}
	}
	for _, cap := range caps {
		for _, b := range backends {
			if b.has(cap) {
				return b.Name, cap
			}
		}
	}
	return "", ""
}

// learningRecommendations turns ignorance gaps into actionable notes that
// ride along in the route rationale.
func learningRecommendations(ig Ignorance) []string {
	var recs []string
	for _, gap := range ig.Gaps {
		recs = append(recs, fmt.Sprintf("learning: acquire or configure capability %q", gap))
	}
	if ig.Type == IgnoranceUnknownUnknowns && len(recs) == 0 {
		recs = append(recs, "learning: no session history yet, outcomes will calibrate future routing")
	}
	return recs
}

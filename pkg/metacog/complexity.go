package metacog

import (
	"strings"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// engineeringKeywords mark queries that need deep reasoning or code work.
var engineeringKeywords = []string{
	"implement", "algorithm", "code", "function", "debug", "refactor",
	"architecture", "derive", "prove", "optimize", "differentiation",
	"compile", "kubernetes", "migration", "protocol", "concurrency",
}

// criticalKeywords mark queries whose side effects are hard to undo.
var criticalKeywords = []string{
	"deploy", "delete", "drop", "production", "migration", "shutdown",
	"irreversible", "payment", "credentials", "rollback",
}

// classifyComplexity scores query complexity in [0,1] from token length,
// engineering keyword hits, and the prior-episode hit rate for similar
// queries. Pure over its inputs.
func classifyComplexity(query models.Query, episodes []models.Episode) float64 {
	text := strings.ToLower(query.Text)
	tokens := strings.Fields(text)

	var score float64
	switch {
	case len(tokens) <= 10:
		score = 0.2
	case len(tokens) <= 30:
		score = 0.45
	default:
		score = 0.7
	}

	hits := 0
	for _, kw := range engineeringKeywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	if hits > 3 {
		hits = 3
	}
	score += 0.15 * float64(hits)

	// Prior successes on similar ground make the query less novel.
	if rate := priorHitRate(tokens, episodes); rate > 0 {
		score -= 0.2 * rate
	}

	return clip01(score)
}

// priorHitRate is the fraction of prior episodes that share vocabulary with
// the query and ended with good quality.
func priorHitRate(tokens []string, episodes []models.Episode) float64 {
	if len(episodes) == 0 || len(tokens) == 0 {
		return 0
	}
	vocab := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if len(t) > 3 {
			vocab[t] = true
		}
	}
	if len(vocab) == 0 {
		return 0
	}

	hits := 0
	for _, ep := range episodes {
		if ep.Quality < 0.7 {
			continue
		}
		shared := 0
		for _, w := range strings.Fields(strings.ToLower(ep.QueryText)) {
			if vocab[w] {
				shared++
			}
		}
		if shared >= 2 {
			hits++
		}
	}
	return float64(hits) / float64(len(episodes))
}

// classifyCriticality scores how risky acting on the query is, from 0.1 for
// ordinary conversation up to 1.0 when several destructive keywords appear.
func classifyCriticality(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.1
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			score += 0.25
		}
	}
	return clip01(score)
}

// requiredCapabilities lists the capability tags this query needs served.
func requiredCapabilities(query models.Query) []string {
	caps := []string{"conversational_responder"}
	switch query.Modality {
	case models.ModalityImage:
		caps = append(caps, "image_analyzer")
	case models.ModalityAudio:
		caps = append(caps, "audio_transcriber")
	case models.ModalityMixed:
		caps = append(caps, "image_analyzer", "audio_transcriber")
	}
	if classifyComplexity(query, nil) >= 0.5 {
		caps = append(caps, "retriever", "synthesize")
	}
	return caps
}

package metacog

import "strings"

// Evaluate scores a candidate answer in [0,1] with a rule-based judge.
// Pure: no side effects, no hidden state. An empty answer scores zero.
func (a *Analyzer) Evaluate(queryText, answer string, criteria []string) float64 {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return 0
	}

	score := 0.5

	switch n := len(trimmed); {
	case n < 50:
		score -= 0.2
	case n > 5000:
		score -= 0.1
	default:
		score += 0.1
	}

	if countSentences(trimmed) >= 3 {
		score += 0.1
	}

	if len(criteria) > 0 {
		met := 0
		lower := strings.ToLower(trimmed)
		for _, c := range criteria {
			if strings.Contains(lower, strings.ToLower(c)) {
				met++
			}
		}
		score += 0.3 * float64(met) / float64(len(criteria))
	}

	return clip01(score)
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	return n
}

// Critique explains what the evaluator penalized, phrased so a refinement
// pass can address it directly.
func (a *Analyzer) Critique(queryText, answer string, criteria []string) string {
	trimmed := strings.TrimSpace(answer)
	var notes []string
	if trimmed == "" {
		return "the answer is empty; produce a substantive response to the question"
	}
	if len(trimmed) < 50 {
		notes = append(notes, "the answer is too short; expand with supporting detail")
	}
	if len(trimmed) > 5000 {
		notes = append(notes, "the answer is too long; condense to the essential points")
	}
	if countSentences(trimmed) < 3 {
		notes = append(notes, "develop the reasoning across several sentences")
	}
	lower := strings.ToLower(trimmed)
	for _, c := range criteria {
		if !strings.Contains(lower, strings.ToLower(c)) {
			notes = append(notes, "address the criterion: "+c)
		}
	}
	if len(notes) == 0 {
		return "tighten the answer and verify each claim against the question"
	}
	return strings.Join(notes, "; ")
}

package models

// ToolCallTrace records one backend tool invocation for diagnostics.
type ToolCallTrace struct {
	Tool      string  `json:"tool"`
	LatencyMS float64 `json:"latency_ms"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
}

// Diagnostics is attached to a ProcessResult under the operator surface;
// the public response omits it unless the caller is authenticated.
type Diagnostics struct {
	Workflow           string          `json:"workflow"`
	MetaStrategy       string          `json:"meta_strategy"`
	Complexity         float64         `json:"complexity"`
	Composite          float64         `json:"composite"`
	IterationQualities []float64       `json:"iteration_qualities,omitempty"`
	ToolCalls          []ToolCallTrace `json:"tool_calls,omitempty"`
	Rationale          []string        `json:"rationale,omitempty"`
	ConsensusDecision  string          `json:"consensus_decision,omitempty"`
	FallbackUsed       bool            `json:"fallback_used,omitempty"`
}

// ProcessResult is the orchestrator's public contract for one query.
type ProcessResult struct {
	Answer       string       `json:"answer"`
	Quality      float64      `json:"quality"`
	StrategyUsed string       `json:"strategy_used"`
	Iterations   int          `json:"iterations"`
	LatencyMS    int64        `json:"latency_ms"`
	Diagnostics  *Diagnostics `json:"diagnostics,omitempty"`
}

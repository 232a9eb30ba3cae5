package models

import "time"

// EpisodeStatus records how the request that produced an episode ended.
type EpisodeStatus string

const (
	EpisodeCompleted EpisodeStatus = "completed"
	EpisodeFailed    EpisodeStatus = "failed"
	EpisodeCancelled EpisodeStatus = "cancelled"
)

// Episode is the immutable record of one served request. Episodes are
// appended to the memory store and consulted read-only during routing.
type Episode struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	SessionID    string            `json:"session_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	QueryText    string            `json:"query_text"`
	AnswerText   string            `json:"answer_text"`
	StrategyUsed string            `json:"strategy_used"`
	Quality      float64           `json:"quality"`
	LatencyMS    int64             `json:"latency_ms"`
	Status       EpisodeStatus     `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Package memory implements the hierarchical episodic store. Episodes enter
// a short-term tier and are either promoted to long-term memory when their
// quality clears the configured threshold or expired after the short-term
// TTL elapses.
package memory

import (
	"context"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// Filters narrows a Search call. Zero values are "no filter".
type Filters struct {
	SessionID  string
	UserID     string
	MinQuality float64
	Limit      int
}

// ConsolidateResult reports one consolidation pass.
type ConsolidateResult struct {
	Promoted int `json:"promoted"`
	Expired  int `json:"expired"`
}

// Store is the episodic memory contract the orchestrator and the
// meta-cognition layer consume.
type Store interface {
	// Append records an episode in the short-term tier.
	Append(ctx context.Context, ep models.Episode) error
	// Recent returns up to n episodes, most recent first, optionally
	// scoped to a session.
	Recent(ctx context.Context, sessionID string, n int) ([]models.Episode, error)
	// Search matches episodes whose query text contains the given text.
	Search(ctx context.Context, queryText string, f Filters) ([]models.Episode, error)
	// Consolidate promotes high-quality short-term episodes to the
	// long-term tier and expires stale ones. Idempotent when nothing
	// was written in between.
	Consolidate(ctx context.Context) (ConsolidateResult, error)
	Close() error
}

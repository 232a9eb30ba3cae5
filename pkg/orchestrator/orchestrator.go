// Package orchestrator drives one query through the full pipeline:
// meta-cognitive analysis, the optional consensus gate, backend dispatch,
// quality evaluation with refinement, and episode persistence.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/consensus"
	"github.com/iagenerativa/hlcs/pkg/events"
	"github.com/iagenerativa/hlcs/pkg/flags"
	"github.com/iagenerativa/hlcs/pkg/memory"
	"github.com/iagenerativa/hlcs/pkg/metacog"
	"github.com/iagenerativa/hlcs/pkg/models"
	"github.com/iagenerativa/hlcs/pkg/reasoner"
	"github.com/iagenerativa/hlcs/pkg/toolserver"
)

// consensusCriticality is the criticality at which a query is gated on
// stakeholder approval even when the caller did not ask for it.
const consensusCriticality = 0.75

// episodeWindow bounds how much history the analyzer consults per query.
const episodeWindow = 20

// Deps are the orchestrator's collaborators, wired at startup.
type Deps struct {
	Tools    toolserver.Client
	Router   *toolserver.Router
	Local    reasoner.Client
	Memory   memory.Store
	Analyzer *metacog.Analyzer
	Engine   *consensus.Engine
	Bus      *events.Bus
	Flags    *flags.Store
}

// Orchestrator owns the query pipeline. Safe for concurrent use.
type Orchestrator struct {
	cfg      *config.Config
	tools    toolserver.Client
	router   *toolserver.Router
	local    reasoner.Client
	mem      memory.Store
	analyzer *metacog.Analyzer
	engine   *consensus.Engine
	bus      *events.Bus
	flags    *flags.Store
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionInfo
}

type sessionInfo struct {
	start        time.Time
	last         time.Time
	interactions int
}

// New wires an orchestrator from its dependencies.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		tools:    deps.Tools,
		router:   deps.Router,
		local:    deps.Local,
		mem:      deps.Memory,
		analyzer: deps.Analyzer,
		engine:   deps.Engine,
		bus:      deps.Bus,
		flags:    deps.Flags,
		logger:   slog.With("component", "orchestrator"),
		sessions: make(map[string]*sessionInfo),
	}
}

// Process serves one query end to end. The returned result always carries
// an answer: backend failures degrade through fallbacks rather than
// erroring, so an error return means the request itself was unusable or
// the context expired.
func (o *Orchestrator) Process(ctx context.Context, query models.Query) (models.ProcessResult, error) {
	start := time.Now()
	if query.ID == "" {
		query.ID = uuid.NewString()
	}
	if err := query.Validate(); err != nil {
		return models.ProcessResult{}, err
	}
	query.Options.Normalize(o.cfg.QualityThreshold, o.cfg.MaxIterations)

	mctx := o.metaContext(ctx, query)
	state, err := o.analyzer.Analyze(query, mctx)
	if err != nil {
		return models.ProcessResult{}, err
	}

	diags := &models.Diagnostics{
		MetaStrategy: strings.ToLower(string(state.Strategy)),
		Complexity:   state.Complexity,
		Composite:    state.SelfDoubt.Composite,
	}

	if o.needsConsensus(query, state) {
		status, rationale, err := o.consensusGate(ctx, query, state)
		if err != nil {
			return models.ProcessResult{}, err
		}
		diags.ConsensusDecision = string(status)
		if status != consensus.StatusApproved {
			result := models.ProcessResult{
				Answer:       "The request was not approved by the configured stakeholders: " + rationale,
				StrategyUsed: "rejected_by_consensus",
				Iterations:   0,
				LatencyMS:    time.Since(start).Milliseconds(),
				Diagnostics:  diags,
			}
			o.finishQuery(query, result, state, models.EpisodeCancelled)
			return result, nil
		}
	}

	route := o.analyzer.RouteQuery(state, mctx.Backends, query.Options, query.Modality)
	diags.Rationale = route.Rationale

	outcome, err := o.dispatchAndRefine(ctx, query, state, route, diags)
	if err != nil {
		failed := models.ProcessResult{
			StrategyUsed: diags.Workflow,
			LatencyMS:    time.Since(start).Milliseconds(),
			Diagnostics:  diags,
		}
		o.finishQuery(query, failed, state, models.EpisodeFailed)
		return models.ProcessResult{}, err
	}

	// The reported strategy is the workflow that produced the answer; the
	// meta-cognitive strategy stays in diagnostics.
	result := models.ProcessResult{
		Answer:       outcome.answer,
		Quality:      outcome.quality,
		StrategyUsed: diags.Workflow,
		Iterations:   outcome.iterations,
		LatencyMS:    time.Since(start).Milliseconds(),
		Diagnostics:  diags,
	}
	o.finishQuery(query, result, state, models.EpisodeCompleted)
	return result, nil
}

// needsConsensus reports whether the query must clear the stakeholder
// gate before dispatch.
func (o *Orchestrator) needsConsensus(query models.Query, state metacog.MetaState) bool {
	if o.engine == nil {
		return false
	}
	if query.Options.ConsensusRequired {
		return true
	}
	return state.Criticality >= consensusCriticality && o.engine.HasRole(consensus.RolePrimaryUser)
}

// consensusGate opens a decision for the query and blocks until it
// settles or the deadline passes.
func (o *Orchestrator) consensusGate(ctx context.Context, query models.Query, state metacog.MetaState) (consensus.Status, string, error) {
	d, err := o.engine.OpenDecision(consensus.OpenParams{
		Title:        "execute query " + query.ID,
		Description:  truncate(query.Text, 200),
		DecisionType: "query_execution",
		Criticality:  state.Criticality,
		Deadline:     time.Now().Add(o.cfg.ConsensusDeadline()),
	})
	if err != nil {
		return "", "", err
	}
	if o.cfg.Consensus.AutoVote {
		if err := o.engine.AutoVote(d.ID, state.Risk()); err != nil {
			o.logger.Warn("Agent auto-vote failed", "decision_id", d.ID, "error", err)
		}
	}
	res, err := o.engine.Await(ctx, d.ID)
	if err != nil {
		return "", "", err
	}
	o.logger.Info("Consensus gate settled", "query_id", query.ID,
		"decision_id", d.ID, "status", res.Status)
	return res.Status, res.Rationale, nil
}

// metaContext assembles the analyzer's view of the world for one query
// and advances the session counters.
func (o *Orchestrator) metaContext(ctx context.Context, query models.Query) metacog.Context {
	episodes, err := o.mem.Recent(ctx, query.SessionID, episodeWindow)
	if err != nil {
		o.logger.Warn("Episode lookup failed, analyzing without history",
			"query_id", query.ID, "error", err)
	}

	backends := []metacog.Backend{{
		Name:         metacog.BackendToolServer,
		Capabilities: o.router.Capabilities(),
	}}
	if o.local != nil && o.local.Enabled() {
		backends = append(backends, metacog.Backend{Name: metacog.BackendLocalReasoner})
	}

	now := time.Now()
	o.mu.Lock()
	key := query.SessionID
	info, ok := o.sessions[key]
	if !ok {
		info = &sessionInfo{start: now, last: now}
		o.sessions[key] = info
	}
	mctx := metacog.Context{
		Episodes:        episodes,
		Backends:        backends,
		SessionStart:    info.start,
		LastInteraction: info.last,
		Interactions:    info.interactions,
	}
	info.last = now
	info.interactions++
	o.mu.Unlock()
	return mctx
}

// finishQuery records the episode, feeds the quality signal back to the
// analyzer, and publishes the lifecycle event. All best-effort: a failed
// write never fails the request.
func (o *Orchestrator) finishQuery(query models.Query, result models.ProcessResult, state metacog.MetaState, status models.EpisodeStatus) {
	ep := models.Episode{
		ID:           query.ID,
		Timestamp:    time.Now(),
		SessionID:    query.SessionID,
		UserID:       query.UserID,
		QueryText:    query.Text,
		AnswerText:   result.Answer,
		StrategyUsed: result.StrategyUsed,
		Quality:      result.Quality,
		LatencyMS:    result.LatencyMS,
		Status:       status,
		Metadata: map[string]string{
			"meta_strategy": strings.ToLower(string(state.Strategy)),
		},
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.mem.Append(persistCtx, ep); err != nil {
		o.logger.Warn("Episode persistence failed", "query_id", query.ID, "error", err)
	}

	if status == models.EpisodeCompleted {
		o.analyzer.RecordQuality(result.Quality)
		o.bus.Publish(events.TopicQueryCompleted, map[string]any{
			"query_id": query.ID, "quality": result.Quality,
			"iterations": result.Iterations,
		})
		return
	}
	o.bus.Publish(events.TopicQueryFailed, map[string]any{
		"query_id": query.ID, "status": string(status),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

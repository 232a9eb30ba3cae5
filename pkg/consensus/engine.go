// Package consensus implements the multi-stakeholder decision engine:
// participant registration, open decisions, weighted vote tallying under
// pluggable rules, and conflict resolution at the deadline.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/events"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// agreementAlpha is the smoothing factor for the per-participant
// vote-vs-outcome agreement moving average.
const agreementAlpha = 0.1

// decisionEntry pairs a decision with its completion signal.
type decisionEntry struct {
	decision *Decision
	done     chan struct{}
}

// Engine holds the participant registry and the open-decisions table.
// Both are process-wide and guarded by one reader-writer lock; reads
// dominate in normal operation.
type Engine struct {
	cfg config.ConsensusConfig
	bus *events.Bus

	mu           sync.RWMutex
	participants map[string]*Participant
	decisions    map[string]*decisionEntry

	statePath string
	logger    *slog.Logger
}

// NewEngine builds the engine, reloading any persisted participant
// registry from stateDir.
func NewEngine(cfg config.ConsensusConfig, stateDir string, bus *events.Bus) (*Engine, error) {
	e := &Engine{
		cfg:          cfg,
		bus:          bus,
		participants: make(map[string]*Participant),
		decisions:    make(map[string]*decisionEntry),
		statePath:    participantsPath(stateDir),
		logger:       slog.With("component", "consensus"),
	}
	if err := e.loadParticipants(); err != nil {
		return nil, err
	}
	return e, nil
}

// roleWeight maps a role to its configured default weight.
func (e *Engine) roleWeight(r Role) float64 {
	switch r {
	case RolePrimaryUser:
		return e.cfg.RoleWeights.PrimaryUser
	case RoleAdministrator:
		return e.cfg.RoleWeights.Administrator
	case RoleAutonomousAgent:
		return e.cfg.RoleWeights.AutonomousAgent
	default:
		return e.cfg.RoleWeights.Observer
	}
}

// RegisterParticipant adds a stakeholder. Duplicate names are allowed;
// every registration gets a unique id.
func (e *Engine) RegisterParticipant(name string, role Role, verified bool) (*Participant, error) {
	if name == "" {
		return nil, models.E(models.KindInvalidInput, "participant name is empty")
	}
	if !ValidRole(role) {
		return nil, models.Ef(models.KindInvalidInput, "unknown role %q", role)
	}

	p := &Participant{
		ID:       uuid.NewString(),
		Name:     name,
		Role:     role,
		Verified: verified,
		Weight:   e.roleWeight(role),
	}

	e.mu.Lock()
	e.participants[p.ID] = p
	err := e.persistParticipantsLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.logger.Info("Participant registered", "participant_id", p.ID, "role", role, "weight", p.Weight)
	copy := *p
	return &copy, nil
}

// Participants returns a registry snapshot.
func (e *Engine) Participants() []Participant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Participant, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, *p)
	}
	return out
}

// HasRole reports whether any registered participant holds the role.
func (e *Engine) HasRole(role Role) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.participants {
		if p.Role == role {
			return true
		}
	}
	return false
}

// OpenParams are the caller-supplied fields for a new decision.
type OpenParams struct {
	Title             string
	Description       string
	DecisionType      string
	Criticality       float64
	RecommendedOption string
	RequiredRoles     []Role
	ConsensusType     Type
	Deadline          time.Time
}

// OpenDecision creates an OPEN decision. Decisions above 0.8 criticality
// only accept votes from verified participants.
func (e *Engine) OpenDecision(p OpenParams) (*Decision, error) {
	if p.Title == "" {
		return nil, models.E(models.KindInvalidInput, "decision title is empty")
	}
	if p.Criticality < 0 || p.Criticality > 1 {
		return nil, models.Ef(models.KindInvalidInput, "criticality %v out of [0,1]", p.Criticality)
	}
	now := time.Now()
	if !p.Deadline.After(now) {
		return nil, models.E(models.KindInvalidInput, "deadline must be in the future")
	}
	if p.ConsensusType == "" {
		p.ConsensusType = Type(e.cfg.Type)
	}
	switch p.ConsensusType {
	case TypeWeighted, TypeSimpleMajority, TypeSupermajority, TypeUnanimous, TypeAdaptive:
	default:
		return nil, models.Ef(models.KindInvalidInput, "unknown consensus type %q", p.ConsensusType)
	}
	for _, r := range p.RequiredRoles {
		if !ValidRole(r) {
			return nil, models.Ef(models.KindInvalidInput, "unknown required role %q", r)
		}
	}

	d := &Decision{
		ID:                uuid.NewString(),
		Title:             p.Title,
		Description:       p.Description,
		DecisionType:      p.DecisionType,
		Criticality:       p.Criticality,
		RecommendedOption: p.RecommendedOption,
		RequiredRoles:     p.RequiredRoles,
		ConsensusType:     p.ConsensusType,
		RequireVerified:   p.Criticality >= 0.8,
		Deadline:          p.Deadline,
		Status:            StatusOpen,
		CreatedAt:         now,
	}

	e.mu.Lock()
	e.decisions[d.ID] = &decisionEntry{decision: d, done: make(chan struct{})}
	e.mu.Unlock()

	e.logger.Info("Decision opened", "decision_id", d.ID, "title", d.Title,
		"criticality", d.Criticality, "rule", d.ConsensusType, "deadline", d.Deadline)
	copy := *d
	return &copy, nil
}

// Decision returns a snapshot of one decision.
func (e *Engine) Decision(id string) (*Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.decisions[id]
	if !ok {
		return nil, models.Ef(models.KindNotFound, "decision %s not found", id)
	}
	copy := *entry.decision
	copy.Votes = append([]Vote(nil), entry.decision.Votes...)
	return &copy, nil
}

// CastVote records (or overwrites) a participant's ballot and re-tallies.
// Voting is serialized per decision by the engine lock; the last write up
// to the deadline wins.
func (e *Engine) CastVote(decisionID, participantID string, choice Choice, rationale string) error {
	switch choice {
	case ChoiceApprove, ChoiceReject, ChoiceAbstain:
	default:
		return models.Ef(models.KindInvalidInput, "unknown choice %q", choice)
	}

	e.mu.Lock()
	entry, ok := e.decisions[decisionID]
	if !ok {
		e.mu.Unlock()
		return models.Ef(models.KindNotFound, "decision %s not found", decisionID)
	}
	d := entry.decision
	p, ok := e.participants[participantID]
	if !ok {
		e.mu.Unlock()
		return models.Ef(models.KindNotFound, "participant %s not found", participantID)
	}

	now := time.Now()
	if d.Status != StatusOpen || now.After(d.Deadline) {
		e.mu.Unlock()
		return models.Ef(models.KindPrecondition, "decision %s is closed to voting", decisionID)
	}
	if d.RequireVerified && !p.Verified {
		e.mu.Unlock()
		return models.Ef(models.KindUnauthorized,
			"decision %s requires verified participants", decisionID)
	}

	vote := Vote{ParticipantID: participantID, Choice: choice, Rationale: rationale, CastAt: now}
	replaced := false
	for i := range d.Votes {
		if d.Votes[i].ParticipantID == participantID {
			d.Votes[i] = vote
			replaced = true
			break
		}
	}
	if !replaced {
		d.Votes = append(d.Votes, vote)
	}
	e.mu.Unlock()

	e.bus.Publish(events.TopicVoteCast, map[string]any{
		"decision_id":    decisionID,
		"participant_id": participantID,
		"choice":         string(choice),
	})
	e.logger.Info("Vote cast", "decision_id", decisionID,
		"participant_id", participantID, "choice", choice, "replaced", replaced)
	return nil
}

// Tally evaluates a decision now. The underlying computation is pure; the
// engine applies the outcome when the result is decisive.
func (e *Engine) Tally(decisionID string) (TallyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.decisions[decisionID]
	if !ok {
		return TallyResult{}, models.Ef(models.KindNotFound, "decision %s not found", decisionID)
	}
	d := entry.decision
	if d.Status != StatusOpen {
		return TallyResult{Decided: true, Status: d.Status, Rationale: d.Resolution}, nil
	}

	result := tallyDecision(d, e.participants, time.Now())
	if result.Decided {
		e.closeDecisionLocked(entry, result)
	}
	return result, nil
}

// closeDecisionLocked applies a decisive tally: sets the terminal status,
// updates agreement rates, signals waiters, and publishes the closure.
// Caller holds the write lock.
func (e *Engine) closeDecisionLocked(entry *decisionEntry, result TallyResult) {
	d := entry.decision
	d.Status = result.Status
	d.Resolution = result.Rationale
	e.updateAgreementLocked(d)
	close(entry.done)

	e.bus.Publish(events.TopicDecisionClosed, map[string]any{
		"decision_id": d.ID,
		"status":      string(d.Status),
		"rationale":   d.Resolution,
	})
	e.logger.Info("Decision closed", "decision_id", d.ID,
		"status", d.Status, "rationale", d.Resolution)
}

// updateAgreementLocked folds each voter's agreement with the outcome into
// their moving average. Only approve/reject outcomes carry signal.
func (e *Engine) updateAgreementLocked(d *Decision) {
	if d.Status != StatusApproved && d.Status != StatusRejected {
		return
	}
	for _, v := range d.Votes {
		p, ok := e.participants[v.ParticipantID]
		if !ok || v.Choice == ChoiceAbstain {
			continue
		}
		agreed := 0.0
		if (v.Choice == ChoiceApprove && d.Status == StatusApproved) ||
			(v.Choice == ChoiceReject && d.Status == StatusRejected) {
			agreed = 1.0
		}
		if p.VotesCounted == 0 {
			p.AgreementRate = agreed
		} else {
			p.AgreementRate = (1-agreementAlpha)*p.AgreementRate + agreementAlpha*agreed
		}
		p.VotesCounted++
	}
	if err := e.persistParticipantsLocked(); err != nil {
		e.logger.Error("Failed to persist participant registry", "error", err)
	}
}

// awaitPollInterval is how often Await re-tallies an undecided decision.
const awaitPollInterval = 50 * time.Millisecond

// Await blocks until the decision settles, its deadline passes, or the
// context is cancelled. It re-tallies periodically so the decision settles
// as soon as incoming votes satisfy the rule; a deadline expiry runs one
// final tally so conflict resolution applies.
func (e *Engine) Await(ctx context.Context, decisionID string) (TallyResult, error) {
	e.mu.RLock()
	entry, ok := e.decisions[decisionID]
	e.mu.RUnlock()
	if !ok {
		return TallyResult{}, models.Ef(models.KindNotFound, "decision %s not found", decisionID)
	}

	deadline := time.NewTimer(time.Until(entry.decision.Deadline))
	defer deadline.Stop()
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-entry.done:
			return e.Tally(decisionID)
		case <-deadline.C:
			return e.Tally(decisionID)
		case <-ticker.C:
			result, err := e.Tally(decisionID)
			if err != nil {
				return TallyResult{}, err
			}
			if result.Decided {
				return result, nil
			}
		case <-ctx.Done():
			return TallyResult{}, models.Wrap(models.KindTimeout, "waiting for consensus", ctx.Err())
		}
	}
}

// AutoVote casts ballots for every autonomous agent: APPROVE when a
// recommended option exists and the supplied risk is under the configured
// threshold, ABSTAIN otherwise.
func (e *Engine) AutoVote(decisionID string, risk float64) error {
	e.mu.RLock()
	entry, ok := e.decisions[decisionID]
	var agents []string
	for id, p := range e.participants {
		if p.Role == RoleAutonomousAgent {
			agents = append(agents, id)
		}
	}
	var recommended string
	if ok {
		recommended = entry.decision.RecommendedOption
	}
	e.mu.RUnlock()

	if !ok {
		return models.Ef(models.KindNotFound, "decision %s not found", decisionID)
	}

	for _, id := range agents {
		choice := ChoiceAbstain
		rationale := fmt.Sprintf("auto-vote: risk %.2f vs threshold %.2f", risk, e.cfg.AgentRiskThreshold)
		if recommended != "" && risk < e.cfg.AgentRiskThreshold {
			choice = ChoiceApprove
		}
		if err := e.CastVote(decisionID, id, choice, rationale); err != nil {
			// A decision can settle mid-loop; remaining agents are moot.
			if models.IsKind(err, models.KindPrecondition) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Statistics is the consensus section of /v1/status.
type Statistics struct {
	Participants  int     `json:"participants"`
	OpenDecisions int     `json:"open_decisions"`
	Closed        int     `json:"closed_decisions"`
	MeanAgreement float64 `json:"mean_agreement_rate"`
}

// Stats returns aggregate counters over the registry and decision table.
func (e *Engine) Stats() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Statistics{Participants: len(e.participants)}
	for _, entry := range e.decisions {
		if entry.decision.Status == StatusOpen {
			s.OpenDecisions++
		} else {
			s.Closed++
		}
	}
	var sum float64
	var counted int
	for _, p := range e.participants {
		if p.VotesCounted > 0 {
			sum += p.AgreementRate
			counted++
		}
	}
	if counted > 0 {
		s.MeanAgreement = sum / float64(counted)
	}
	return s
}

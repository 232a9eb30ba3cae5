package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/events"
	"github.com/iagenerativa/hlcs/pkg/models"
)

func testConsensusConfig() config.ConsensusConfig {
	return config.ConsensusConfig{
		Type:       "ADAPTIVE",
		DeadlineMS: 30000,
		RoleWeights: config.RoleWeights{
			PrimaryUser:     0.60,
			Administrator:   0.30,
			AutonomousAgent: 0.10,
			Observer:        0.00,
		},
		AgentRiskThreshold: 0.5,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testConsensusConfig(), t.TempDir(), events.NewBus())
	require.NoError(t, err)
	return e
}

func mustRegister(t *testing.T, e *Engine, name string, role Role, verified bool) *Participant {
	t.Helper()
	p, err := e.RegisterParticipant(name, role, verified)
	require.NoError(t, err)
	return p
}

func openTestDecision(t *testing.T, e *Engine, rule Type, criticality float64) *Decision {
	t.Helper()
	d, err := e.OpenDecision(OpenParams{
		Title:         "deploy migration",
		Criticality:   criticality,
		ConsensusType: rule,
		Deadline:      time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	return d
}

func TestOpenDecisionValidation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.OpenDecision(OpenParams{Title: "", Deadline: time.Now().Add(time.Minute)})
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))

	_, err = e.OpenDecision(OpenParams{Title: "x", Criticality: 1.2, Deadline: time.Now().Add(time.Minute)})
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))

	_, err = e.OpenDecision(OpenParams{Title: "x", Deadline: time.Now().Add(-time.Second)})
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))
}

func TestWeightedApproval(t *testing.T) {
	e := newTestEngine(t)
	user := mustRegister(t, e, "ana", RolePrimaryUser, true)
	admin := mustRegister(t, e, "ops", RoleAdministrator, true)
	d := openTestDecision(t, e, TypeWeighted, 0.5)

	// 0.60 approve weight over 0.90 present weight is below the bar.
	require.NoError(t, e.CastVote(d.ID, user.ID, ChoiceApprove, ""))
	require.NoError(t, e.CastVote(d.ID, admin.ID, ChoiceReject, ""))

	res, err := e.Tally(d.ID)
	require.NoError(t, err)
	assert.True(t, res.Decided)
	assert.Equal(t, StatusApproved, res.Status)
	// 0.60/0.90 = 0.667 >= 0.60
}

func TestWeightedRejectWhenRejectWeightWins(t *testing.T) {
	e := newTestEngine(t)
	user := mustRegister(t, e, "ana", RolePrimaryUser, true)
	admin := mustRegister(t, e, "ops", RoleAdministrator, true)
	d := openTestDecision(t, e, TypeWeighted, 0.5)

	require.NoError(t, e.CastVote(d.ID, user.ID, ChoiceReject, ""))
	require.NoError(t, e.CastVote(d.ID, admin.ID, ChoiceApprove, ""))

	res, err := e.Tally(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestSimpleMajority(t *testing.T) {
	e := newTestEngine(t)
	a := mustRegister(t, e, "a", RoleAdministrator, true)
	b := mustRegister(t, e, "b", RoleAdministrator, true)
	c := mustRegister(t, e, "c", RoleAdministrator, true)
	d := openTestDecision(t, e, TypeSimpleMajority, 0.2)

	require.NoError(t, e.CastVote(d.ID, a.ID, ChoiceApprove, ""))
	require.NoError(t, e.CastVote(d.ID, b.ID, ChoiceReject, ""))
	require.NoError(t, e.CastVote(d.ID, c.ID, ChoiceApprove, ""))

	res, err := e.Tally(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, res.Status)
}

func TestSupermajorityNeedsTwoThirds(t *testing.T) {
	e := newTestEngine(t)
	a := mustRegister(t, e, "a", RoleAdministrator, true)
	b := mustRegister(t, e, "b", RoleAdministrator, true)
	c := mustRegister(t, e, "c", RoleAdministrator, true)
	d := openTestDecision(t, e, TypeSupermajority, 0.8)

	require.NoError(t, e.CastVote(d.ID, a.ID, ChoiceApprove, ""))
	require.NoError(t, e.CastVote(d.ID, b.ID, ChoiceAbstain, ""))

	res, err := e.Tally(d.ID)
	require.NoError(t, err)
	assert.False(t, res.Decided) // 1/2 present below 2/3

	require.NoError(t, e.CastVote(d.ID, c.ID, ChoiceApprove, ""))
	res, err = e.Tally(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, res.Status) // 2/3 present, inclusive
}

func TestUnanimousZeroVotersNeverApproves(t *testing.T) {
	e, err := NewEngine(testConsensusConfig(), t.TempDir(), events.NewBus())
	require.NoError(t, err)
	mustRegister(t, e, "ana", RolePrimaryUser, true)

	d, err := e.OpenDecision(OpenParams{
		Title:         "wipe cluster",
		Criticality:   0.95,
		ConsensusType: TypeUnanimous,
		RequiredRoles: []Role{RolePrimaryUser},
		Deadline:      time.Now().Add(40 * time.Millisecond),
	})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	res, err := e.Tally(d.ID)
	require.NoError(t, err)
	assert.True(t, res.Decided)
	assert.NotEqual(t, StatusApproved, res.Status)
	assert.Equal(t, StatusExpired, res.Status)
}

func TestAdaptiveRuleBands(t *testing.T) {
	tests := []struct {
		criticality float64
		want        Type
	}{
		{0.2, TypeSimpleMajority},
		{0.4, TypeWeighted},
		{0.75, TypeWeighted}, // inclusive upper bound
		{0.8, TypeSupermajority},
		{0.9, TypeSupermajority},
		{0.95, TypeUnanimous},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, effectiveRule(TypeAdaptive, tt.criticality),
			"criticality %v", tt.criticality)
	}
	assert.Equal(t, TypeWeighted, effectiveRule(TypeWeighted, 0.95))
}

func TestLastVoteWins(t *testing.T) {
	e := newTestEngine(t)
	user := mustRegister(t, e, "ana", RolePrimaryUser, true)
	d := openTestDecision(t, e, TypeWeighted, 0.5)

	require.NoError(t, e.CastVote(d.ID, user.ID, ChoiceReject, "first thoughts"))
	require.NoError(t, e.CastVote(d.ID, user.ID, ChoiceApprove, "changed my mind"))

	snapshot, err := e.Decision(d.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Votes, 1)
	assert.Equal(t, ChoiceApprove, snapshot.Votes[0].Choice)

	res, err := e.Tally(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, res.Status) // the later vote decides
}

func TestCastVoteErrors(t *testing.T) {
	e := newTestEngine(t)
	user := mustRegister(t, e, "ana", RolePrimaryUser, true)
	unverified := mustRegister(t, e, "guest", RoleObserver, false)

	err := e.CastVote("missing", user.ID, ChoiceApprove, "")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	d := openTestDecision(t, e, TypeWeighted, 0.5)
	err = e.CastVote(d.ID, "missing", ChoiceApprove, "")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	critical := openTestDecision(t, e, TypeWeighted, 0.9)
	err = e.CastVote(critical.ID, unverified.ID, ChoiceApprove, "")
	assert.Equal(t, models.KindUnauthorized, models.KindOf(err))

	// Settle the first decision, then votes bounce off the closed state.
	require.NoError(t, e.CastVote(d.ID, user.ID, ChoiceApprove, ""))
	_, err = e.Tally(d.ID)
	require.NoError(t, err)
	err = e.CastVote(d.ID, user.ID, ChoiceReject, "")
	assert.Equal(t, models.KindPrecondition, models.KindOf(err))
}

func TestDeadlineConflictResolutionPrefersPrimaryUser(t *testing.T) {
	e := newTestEngine(t)
	user := mustRegister(t, e, "ana", RolePrimaryUser, true)
	admin := mustRegister(t, e, "ops", RoleAdministrator, true)
	agent := mustRegister(t, e, "bot", RoleAutonomousAgent, true)

	d, err := e.OpenDecision(OpenParams{
		Title:         "ambiguous call",
		Criticality:   0.85, // supermajority, unreachable with these votes
		ConsensusType: TypeAdaptive,
		Deadline:      time.Now().Add(50 * time.Millisecond),
	})
	require.NoError(t, err)

	require.NoError(t, e.CastVote(d.ID, user.ID, ChoiceReject, ""))
	require.NoError(t, e.CastVote(d.ID, admin.ID, ChoiceApprove, ""))
	require.NoError(t, e.CastVote(d.ID, agent.ID, ChoiceAbstain, ""))

	time.Sleep(70 * time.Millisecond)
	res, err := e.Tally(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Contains(t, res.Rationale, "PRIMARY_USER")
}

func TestExpiryWithNoVotesReportsTimeout(t *testing.T) {
	e := newTestEngine(t)
	mustRegister(t, e, "ana", RolePrimaryUser, true)

	d, err := e.OpenDecision(OpenParams{
		Title:         "silent decision",
		Criticality:   0.5,
		ConsensusType: TypeWeighted,
		Deadline:      time.Now().Add(40 * time.Millisecond),
	})
	require.NoError(t, err)

	res, err := e.Await(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, res.Decided)
	assert.Equal(t, StatusExpired, res.Status)
	assert.Equal(t, "timeout", res.Rationale)
}

func TestAwaitReturnsWhenVoteSettles(t *testing.T) {
	e := newTestEngine(t)
	user := mustRegister(t, e, "ana", RolePrimaryUser, true)
	d := openTestDecision(t, e, TypeWeighted, 0.5)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = e.CastVote(d.ID, user.ID, ChoiceApprove, "")
	}()

	res, err := e.Await(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, res.Status)
}

func TestAutoVoteApprovesUnderThreshold(t *testing.T) {
	e := newTestEngine(t)
	agent := mustRegister(t, e, "bot", RoleAutonomousAgent, true)

	d, err := e.OpenDecision(OpenParams{
		Title:             "apply recommended option",
		Criticality:       0.5,
		RecommendedOption: "proceed",
		ConsensusType:     TypeWeighted,
		Deadline:          time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, e.AutoVote(d.ID, 0.3))
	snapshot, err := e.Decision(d.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Votes, 1)
	assert.Equal(t, agent.ID, snapshot.Votes[0].ParticipantID)
	assert.Equal(t, ChoiceApprove, snapshot.Votes[0].Choice)
}

func TestAutoVoteAbstainsOverThreshold(t *testing.T) {
	e := newTestEngine(t)
	mustRegister(t, e, "bot", RoleAutonomousAgent, true)

	d, err := e.OpenDecision(OpenParams{
		Title:             "risky option",
		Criticality:       0.5,
		RecommendedOption: "proceed",
		ConsensusType:     TypeWeighted,
		Deadline:          time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, e.AutoVote(d.ID, 0.9))
	snapshot, err := e.Decision(d.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Votes, 1)
	assert.Equal(t, ChoiceAbstain, snapshot.Votes[0].Choice)
}

func TestParticipantRegistryPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus()

	e, err := NewEngine(testConsensusConfig(), dir, bus)
	require.NoError(t, err)
	p := mustRegister(t, e, "ana", RolePrimaryUser, true)

	reopened, err := NewEngine(testConsensusConfig(), dir, bus)
	require.NoError(t, err)

	participants := reopened.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, p.ID, participants[0].ID)
	assert.Equal(t, RolePrimaryUser, participants[0].Role)
	assert.Equal(t, 0.60, participants[0].Weight)
}

func TestAgreementRateTracksOutcomes(t *testing.T) {
	e := newTestEngine(t)
	user := mustRegister(t, e, "ana", RolePrimaryUser, true)

	d := openTestDecision(t, e, TypeWeighted, 0.5)
	require.NoError(t, e.CastVote(d.ID, user.ID, ChoiceApprove, ""))
	_, err := e.Tally(d.ID)
	require.NoError(t, err)

	participants := e.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, 1.0, participants[0].AgreementRate)
	assert.Equal(t, 1, participants[0].VotesCounted)

	stats := e.Stats()
	assert.Equal(t, 1, stats.Participants)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 1.0, stats.MeanAgreement)
}

package consensus

import (
	"fmt"
	"time"
)

// effectiveRule resolves ADAPTIVE into a concrete rule by criticality.
// The weighted band includes both endpoints, so criticality 0.75 still
// tallies as WEIGHTED.
func effectiveRule(rule Type, criticality float64) Type {
	if rule != TypeAdaptive {
		return rule
	}
	switch {
	case criticality < 0.4:
		return TypeSimpleMajority
	case criticality <= 0.75:
		return TypeWeighted
	case criticality <= 0.9:
		return TypeSupermajority
	default:
		return TypeUnanimous
	}
}

// ballot is one counted vote joined with its participant's weight and role.
type ballot struct {
	role   Role
	weight float64
	choice Choice
}

// tallyDecision is the pure tally function: it depends only on the
// decision's votes and deadline, the participant registry snapshot, and
// the supplied clock. It never mutates anything.
func tallyDecision(d *Decision, participants map[string]*Participant, now time.Time) TallyResult {
	rule := effectiveRule(d.ConsensusType, d.Criticality)

	ballots := make([]ballot, 0, len(d.Votes))
	for _, v := range d.Votes {
		p, ok := participants[v.ParticipantID]
		if !ok || !d.requiresRole(p.Role) {
			continue
		}
		ballots = append(ballots, ballot{role: p.Role, weight: p.Weight, choice: v.Choice})
	}

	if res, decided := applyRule(rule, d, ballots); decided {
		return res
	}

	if now.After(d.Deadline) {
		return resolvePastDeadline(d, participants)
	}

	return TallyResult{Decided: false, Status: StatusOpen,
		Rationale: fmt.Sprintf("rule %s not yet satisfied by %d counted votes", rule, len(ballots))}
}

// applyRule evaluates one rule over the counted ballots. Abstentions are
// present but never approving.
func applyRule(rule Type, d *Decision, ballots []ballot) (TallyResult, bool) {
	var approve, reject, present int
	var approveW, rejectW, presentW float64
	for _, b := range ballots {
		present++
		presentW += b.weight
		switch b.choice {
		case ChoiceApprove:
			approve++
			approveW += b.weight
		case ChoiceReject:
			reject++
			rejectW += b.weight
		}
	}

	switch rule {
	case TypeWeighted:
		if presentW > 0 && approveW/presentW >= 0.60 {
			return TallyResult{Decided: true, Status: StatusApproved,
				Rationale: fmt.Sprintf("weighted approval %.2f of %.2f present weight", approveW, presentW)}, true
		}
		if rejectW > approveW {
			return TallyResult{Decided: true, Status: StatusRejected,
				Rationale: fmt.Sprintf("reject weight %.2f exceeds approve weight %.2f", rejectW, approveW)}, true
		}
	case TypeSimpleMajority:
		if approve > reject {
			return TallyResult{Decided: true, Status: StatusApproved,
				Rationale: fmt.Sprintf("simple majority %d approve vs %d reject", approve, reject)}, true
		}
	case TypeSupermajority:
		if present > 0 && float64(approve)/float64(present) >= 2.0/3.0 {
			return TallyResult{Decided: true, Status: StatusApproved,
				Rationale: fmt.Sprintf("supermajority %d of %d present", approve, present)}, true
		}
	case TypeUnanimous:
		if present == 0 || approve != present {
			return TallyResult{}, false
		}
		if !allRequiredRolesVoted(d, ballots) {
			return TallyResult{}, false
		}
		return TallyResult{Decided: true, Status: StatusApproved,
			Rationale: fmt.Sprintf("unanimous approval from all %d present voters", present)}, true
	}
	return TallyResult{}, false
}

// allRequiredRolesVoted checks that at least one ballot exists per required
// role. With no explicit required roles a single ballot suffices.
func allRequiredRolesVoted(d *Decision, ballots []ballot) bool {
	if len(d.RequiredRoles) == 0 {
		return len(ballots) > 0
	}
	for _, role := range d.RequiredRoles {
		found := false
		for _, b := range ballots {
			if b.role == role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// resolvePastDeadline settles a decision no rule decided by its deadline.
// A primary user's vote is adopted first, then an administrator's; with
// neither, silence expires the decision and any other votes reject it.
func resolvePastDeadline(d *Decision, participants map[string]*Participant) TallyResult {
	if len(d.Votes) == 0 {
		return TallyResult{Decided: true, Status: StatusExpired,
			Rationale: "timeout"}
	}
	for _, role := range []Role{RolePrimaryUser, RoleAdministrator} {
		for _, v := range d.Votes {
			p, ok := participants[v.ParticipantID]
			if !ok || p.Role != role || v.Choice == ChoiceAbstain {
				continue
			}
			status := StatusRejected
			if v.Choice == ChoiceApprove {
				status = StatusApproved
			}
			return TallyResult{Decided: true, Status: status,
				Rationale: fmt.Sprintf("deadline conflict resolved by %s vote: %s", role, v.Choice)}
		}
	}
	return TallyResult{Decided: true, Status: StatusRejected,
		Rationale: "deadline reached with no deciding rule and no user or administrator vote"}
}

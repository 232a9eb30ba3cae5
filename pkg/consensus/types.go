package consensus

import "time"

// Role classifies a participant in the consensus process.
type Role string

const (
	RolePrimaryUser     Role = "PRIMARY_USER"
	RoleAdministrator   Role = "ADMINISTRATOR"
	RoleAutonomousAgent Role = "AUTONOMOUS_AGENT"
	RoleObserver        Role = "OBSERVER"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RolePrimaryUser, RoleAdministrator, RoleAutonomousAgent, RoleObserver:
		return true
	}
	return false
}

// Participant is a registered stakeholder. Weight defaults from the
// configured role weights at registration time.
type Participant struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Role     Role    `json:"role"`
	Verified bool    `json:"verified"`
	Weight   float64 `json:"weight"`

	// AgreementRate is the exponential moving average of how often this
	// participant's votes matched the final outcome.
	AgreementRate float64 `json:"agreement_rate"`
	VotesCounted  int     `json:"votes_counted"`
}

// Type selects the tally rule for a decision.
type Type string

const (
	TypeWeighted       Type = "WEIGHTED"
	TypeSimpleMajority Type = "SIMPLE_MAJORITY"
	TypeSupermajority  Type = "SUPERMAJORITY"
	TypeUnanimous      Type = "UNANIMOUS"
	TypeAdaptive       Type = "ADAPTIVE"
)

// Choice is one participant's position on a decision.
type Choice string

const (
	ChoiceApprove Choice = "APPROVE"
	ChoiceReject  Choice = "REJECT"
	ChoiceAbstain Choice = "ABSTAIN"
)

// Status is a decision's lifecycle state.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
	StatusDeferred Status = "DEFERRED"
)

// Vote is one cast ballot. A participant casting again overwrites their
// previous vote up to the deadline.
type Vote struct {
	ParticipantID string    `json:"participant_id"`
	Choice        Choice    `json:"choice"`
	Rationale     string    `json:"rationale,omitempty"`
	CastAt        time.Time `json:"cast_at"`
}

// Decision is one open question put to the stakeholders.
type Decision struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	DecisionType      string    `json:"type,omitempty"`
	Criticality       float64   `json:"criticality"`
	RecommendedOption string    `json:"recommended_option,omitempty"`
	RequiredRoles     []Role    `json:"required_roles,omitempty"`
	ConsensusType     Type      `json:"consensus_type"`
	RequireVerified   bool      `json:"require_verified"`
	Deadline          time.Time `json:"deadline"`
	Votes             []Vote    `json:"votes"`
	Status            Status    `json:"status"`
	Resolution        string    `json:"resolution,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// requiresRole reports whether votes from the given role count toward the
// tally. An empty required-role list admits every role.
func (d *Decision) requiresRole(r Role) bool {
	if len(d.RequiredRoles) == 0 {
		return true
	}
	for _, rr := range d.RequiredRoles {
		if rr == r {
			return true
		}
	}
	return false
}

// TallyResult reports one tally pass over a decision.
type TallyResult struct {
	Decided   bool   `json:"decided"`
	Status    Status `json:"status"`
	Rationale string `json:"rationale"`
}

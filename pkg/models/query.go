package models

import (
	"strings"

	"github.com/google/uuid"
)

// Modality describes the input media of a query.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityMixed Modality = "mixed"
)

// Attachment is a non-text input carried alongside the query text.
type Attachment struct {
	Kind     Modality `json:"kind"`
	Name     string   `json:"name,omitempty"`
	MimeType string   `json:"mime_type,omitempty"`
	// Data is an opaque reference or inline payload forwarded verbatim to
	// the backend tool; the core never inspects it.
	Data string `json:"data,omitempty"`
}

// QueryOptions tune a single request. Zero values mean "use configured
// defaults"; Normalize fills them in.
type QueryOptions struct {
	QualityThreshold  float64 `json:"quality_threshold,omitempty"`
	MaxIterations     int     `json:"max_iterations,omitempty"`
	StrategyHint      string  `json:"strategy_hint,omitempty"`
	AllowEnsemble     bool    `json:"allow_ensemble,omitempty"`
	ConsensusRequired bool    `json:"consensus_required,omitempty"`
}

// Normalize clamps options into their valid ranges, substituting the given
// defaults for unset values.
func (o *QueryOptions) Normalize(defaultThreshold float64, defaultIterations int) {
	if o.QualityThreshold <= 0 || o.QualityThreshold > 1 {
		o.QualityThreshold = defaultThreshold
	}
	if o.MaxIterations < 1 {
		o.MaxIterations = defaultIterations
	}
	if o.MaxIterations > 10 {
		o.MaxIterations = 10
	}
}

// Query is one request flowing through the orchestrator.
type Query struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Modality    Modality     `json:"modality"`
	Attachments []Attachment `json:"attachments,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	Options     QueryOptions `json:"options"`
}

// NewQuery builds a query with a fresh ID and a modality derived from the
// attachments: no attachments means text, one kind means that kind, more
// than one distinct kind means mixed.
func NewQuery(text string, attachments []Attachment) Query {
	q := Query{
		ID:          uuid.NewString(),
		Text:        text,
		Modality:    ModalityText,
		Attachments: attachments,
	}
	kinds := map[Modality]bool{}
	for _, a := range attachments {
		if a.Kind != "" && a.Kind != ModalityText {
			kinds[a.Kind] = true
		}
	}
	switch len(kinds) {
	case 0:
	case 1:
		for k := range kinds {
			q.Modality = k
		}
	default:
		q.Modality = ModalityMixed
	}
	return q
}

// Validate checks the request-level invariants.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return E(KindInvalidInput, "query text is empty")
	}
	switch q.Modality {
	case ModalityText, ModalityImage, ModalityAudio, ModalityMixed:
	default:
		return Ef(KindInvalidInput, "unknown modality %q", q.Modality)
	}
	return nil
}

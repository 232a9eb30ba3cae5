package api

import (
	"context"
	"encoding/json"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iagenerativa/hlcs/pkg/consensus"
	"github.com/iagenerativa/hlcs/pkg/models"
	"github.com/iagenerativa/hlcs/pkg/version"
)

// NewMCPServer exposes the core operations as MCP tools so agent callers
// can drive the pipeline over the same protocol the tool server speaks.
func (s *Server) NewMCPServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "hlcs",
		Version: version.Version,
	}, nil)

	server.AddTool(&mcpsdk.Tool{
		Name:        "process_query",
		Description: "Run a query through the orchestration pipeline and return the answer",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string"},
				"user_id": {"type": "string"},
				"session_id": {"type": "string"}
			},
			"required": ["text"]
		}`),
	}, s.mcpProcessQuery)

	server.AddTool(&mcpsdk.Tool{
		Name:        "open_decision",
		Description: "Open a stakeholder decision and return its id",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"description": {"type": "string"},
				"criticality": {"type": "number"},
				"deadline_ms": {"type": "integer"}
			},
			"required": ["title"]
		}`),
	}, s.mcpOpenDecision)

	server.AddTool(&mcpsdk.Tool{
		Name:        "cast_vote",
		Description: "Cast or update a participant's vote on an open decision",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"decision_id": {"type": "string"},
				"participant_id": {"type": "string"},
				"choice": {"type": "string", "enum": ["APPROVE", "REJECT", "ABSTAIN"]},
				"rationale": {"type": "string"}
			},
			"required": ["decision_id", "participant_id", "choice"]
		}`),
	}, s.mcpCastVote)

	server.AddTool(&mcpsdk.Tool{
		Name:        "tally_decision",
		Description: "Tally a decision and return its status",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"decision_id": {"type": "string"}
			},
			"required": ["decision_id"]
		}`),
	}, s.mcpTallyDecision)

	return server
}

func mcpText(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

func mcpError(err error) (*mcpsdk.CallToolResult, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}, nil
}

func (s *Server) mcpProcessQuery(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var in struct {
		Text      string `json:"text"`
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
		return mcpError(models.Wrap(models.KindInvalidInput, "invalid arguments", err))
	}

	query := models.NewQuery(in.Text, nil)
	query.UserID = in.UserID
	query.SessionID = in.SessionID

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout())
	defer cancel()
	if err := s.deps.Limiter.Admit(query.ID, cancel); err != nil {
		return mcpError(err)
	}
	defer s.deps.Limiter.Release(query.ID)

	result, err := s.deps.Orchestrator.Process(runCtx, query)
	if err != nil {
		return mcpError(err)
	}
	result.Diagnostics = nil
	return mcpText(result)
}

func (s *Server) mcpOpenDecision(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var in struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Criticality float64 `json:"criticality"`
		DeadlineMS  int     `json:"deadline_ms"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
		return mcpError(models.Wrap(models.KindInvalidInput, "invalid arguments", err))
	}

	deadline := s.cfg.ConsensusDeadline()
	if in.DeadlineMS > 0 {
		deadline = time.Duration(in.DeadlineMS) * time.Millisecond
	}
	d, err := s.deps.Engine.OpenDecision(consensus.OpenParams{
		Title:       in.Title,
		Description: in.Description,
		Criticality: in.Criticality,
		Deadline:    time.Now().Add(deadline),
	})
	if err != nil {
		return mcpError(err)
	}
	return mcpText(d)
}

func (s *Server) mcpCastVote(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var in struct {
		DecisionID    string `json:"decision_id"`
		ParticipantID string `json:"participant_id"`
		Choice        string `json:"choice"`
		Rationale     string `json:"rationale"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
		return mcpError(models.Wrap(models.KindInvalidInput, "invalid arguments", err))
	}
	if err := s.deps.Engine.CastVote(in.DecisionID, in.ParticipantID,
		consensus.Choice(in.Choice), in.Rationale); err != nil {
		return mcpError(err)
	}
	return mcpText(map[string]string{"status": "recorded"})
}

func (s *Server) mcpTallyDecision(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var in struct {
		DecisionID string `json:"decision_id"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
		return mcpError(models.Wrap(models.KindInvalidInput, "invalid arguments", err))
	}
	result, err := s.deps.Engine.Tally(in.DecisionID)
	if err != nil {
		return mcpError(err)
	}
	return mcpText(result)
}

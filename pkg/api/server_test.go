package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/consensus"
	"github.com/iagenerativa/hlcs/pkg/events"
	"github.com/iagenerativa/hlcs/pkg/flags"
	"github.com/iagenerativa/hlcs/pkg/memory"
	"github.com/iagenerativa/hlcs/pkg/metacog"
	"github.com/iagenerativa/hlcs/pkg/orchestrator"
	"github.com/iagenerativa/hlcs/pkg/planning"
	"github.com/iagenerativa/hlcs/pkg/queue"
	"github.com/iagenerativa/hlcs/pkg/reasoner"
	"github.com/iagenerativa/hlcs/pkg/toolserver"
)

const testOperatorToken = "test-operator-token"

// answer long enough to clear the default quality bar.
const cannedAnswer = "Certainly, here is a thorough explanation. It covers the main point in detail. It also notes the relevant caveats."

type stubTools struct {
	fail bool
}

func (s *stubTools) CallTool(ctx context.Context, name string, args map[string]any) (toolserver.CallResult, error) {
	if s.fail {
		return toolserver.CallResult{}, context.DeadlineExceeded
	}
	return toolserver.CallResult{Success: true, Text: cannedAnswer}, nil
}

func (s *stubTools) ListTools(context.Context) ([]toolserver.ToolInfo, error) {
	if s.fail {
		return nil, context.DeadlineExceeded
	}
	return []toolserver.ToolInfo{{Name: "saul.respond"}}, nil
}

func (s *stubTools) Health(context.Context) toolserver.HealthStatus {
	if s.fail {
		return toolserver.HealthDown
	}
	return toolserver.HealthOK
}
func (s *stubTools) Close() error { return nil }

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Memory.PersistDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	store, err := memory.NewSQLite(cfg.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := consensus.NewEngine(cfg.Consensus, cfg.StateDir, bus)
	require.NoError(t, err)

	flagStore, err := flags.NewStore(cfg.StateDir, cfg.FeatureFlags)
	require.NoError(t, err)

	tools := &stubTools{}
	router := toolserver.NewRouter(cfg.Capabilities)
	analyzer := metacog.NewAnalyzer(cfg.StrategyDefault)
	local := reasoner.New(cfg.Backends.LocalReasoner)

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Tools:    tools,
		Router:   router,
		Local:    local,
		Memory:   store,
		Analyzer: analyzer,
		Engine:   engine,
		Bus:      bus,
	})

	return NewServer(cfg, Deps{
		Orchestrator: orch,
		Limiter:      queue.NewLimiter(cfg.MaxConcurrentRequests),
		Engine:       engine,
		Planner:      planning.NewPlanner(cfg.Planner, bus),
		Analyzer:     analyzer,
		Tools:        tools,
		Router:       router,
		Local:        local,
		Memory:       store,
		Flags:        flagStore,
		Bus:          bus,
	}, testOperatorToken)
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestProcessQueryEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodPost, "/v1/query", gin.H{
		"text": "Hello there, how are you today?",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		QueryID string `json:"query_id"`
		Result  struct {
			Answer      string          `json:"answer"`
			Quality     float64         `json:"quality"`
			Diagnostics json.RawMessage `json:"diagnostics"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.QueryID)
	assert.Equal(t, cannedAnswer, resp.Result.Answer)
	assert.GreaterOrEqual(t, resp.Result.Quality, 0.7)
	// Diagnostics are stripped without the operator token.
	assert.Empty(t, resp.Result.Diagnostics)
}

func TestProcessQueryDiagnosticsForOperator(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodPost, "/v1/query", gin.H{
		"text": "Hello there, how are you today?",
	}, map[string]string{operatorHeader: testOperatorToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"workflow":"simple"`)
}

func TestProcessQueryValidation(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodPost, "/v1/query", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")
}

func TestProcessQueryRejectedWhenQueueFull(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxConcurrentRequests = 1
	})
	engine := s.Routes()

	require.NoError(t, s.deps.Limiter.Admit("occupier", func() {}))
	defer s.deps.Limiter.Release("occupier")

	w := doJSON(t, engine, http.MethodPost, "/v1/query", gin.H{
		"text": "Hello there, how are you today?",
	}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "BACKEND_UNAVAILABLE")
	assert.Contains(t, w.Body.String(), `"retry_after_seconds":2`)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotContains(t, w.Body.String(), "metacognition")

	w = doJSON(t, engine, http.MethodGet, "/v1/status", nil,
		map[string]string{operatorHeader: testOperatorToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "metacognition")
	assert.Contains(t, w.Body.String(), "planner")
}

func TestStatusDegradedWhenToolServerDown(t *testing.T) {
	s := newTestServer(t, nil)
	s.deps.Tools.(*stubTools).fail = true
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	w = doJSON(t, engine, http.MethodGet, "/v1/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tools_error")
}

func TestCapabilitiesEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodGet, "/v1/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "conversational_responder")
	assert.Contains(t, w.Body.String(), "saul.respond")
}

func TestPlanningEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodPost, "/v1/planning/goals", gin.H{
		"title":            "publish report",
		"success_criteria": []string{"search prior reports", "summarize findings"},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var goal struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &goal))

	w = doJSON(t, engine, http.MethodGet, "/v1/planning/goals/"+goal.ID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/v1/planning/goals/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/v1/planning/plans", gin.H{
		"goal_id":  goal.ID,
		"strategy": "SEQUENTIAL",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var plan struct {
		ID    string `json:"id"`
		Steps []struct {
			ID string `json:"id"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Len(t, plan.Steps, 2)

	w = doJSON(t, engine, http.MethodPost, "/v1/planning/plans/"+plan.ID+"/execute", nil, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSCIEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodPost, "/v1/sci/participants", gin.H{
		"name":     "alice",
		"role":     "PRIMARY_USER",
		"verified": true,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p struct {
		ID     string  `json:"id"`
		Weight float64 `json:"weight"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, 0.60, p.Weight)

	w = doJSON(t, engine, http.MethodPost, "/v1/sci/decisions", gin.H{
		"title":       "enable the new retriever",
		"criticality": 0.5,
		"deadline_ms": 60000,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))

	w = doJSON(t, engine, http.MethodPost, "/v1/sci/votes", gin.H{
		"decision_id":    d.ID,
		"participant_id": p.ID,
		"choice":         "APPROVE",
	}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/v1/sci/decisions/"+d.ID+"/tally", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "APPROVED")
}

func TestOperatorSurfaceRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	engine := s.Routes()

	w := doJSON(t, engine, http.MethodGet, "/v1/flags", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/v1/flags", nil,
		map[string]string{operatorHeader: testOperatorToken})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodPut, "/v1/flags/new_pipeline", gin.H{
		"enabled":  true,
		"strategy": "ALL",
	}, map[string]string{operatorHeader: testOperatorToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, engine, http.MethodPost, "/v1/memory/consolidate", nil,
		map[string]string{operatorHeader: testOperatorToken})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMCPSurface(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	transport := &mcpsdk.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), transport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t,
		[]string{"process_query", "open_decision", "cast_vote", "tally_decision"}, names)

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "process_query",
		Arguments: map[string]any{"text": "Hello there, how are you today?"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, cannedAnswer)
}

// Package api exposes the orchestration pipeline over HTTP with gin, plus
// an MCP tool surface for machine callers.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

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

// Deps are the components the server fronts.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Limiter      *queue.Limiter
	Engine       *consensus.Engine
	Planner      *planning.Planner
	Analyzer     *metacog.Analyzer
	Tools        toolserver.Client
	Router       *toolserver.Router
	Local        reasoner.Client
	Memory       memory.Store
	Flags        *flags.Store
	Bus          *events.Bus
}

// Server is the HTTP facade over the orchestration components.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	// operatorToken gates the diagnostics surface; empty disables it.
	operatorToken string
}

// NewServer wires the server. The operator token comes from the
// environment so it never lands in config files.
func NewServer(cfg *config.Config, deps Deps, operatorToken string) *Server {
	return &Server{
		cfg:           cfg,
		deps:          deps,
		logger:        slog.With("component", "api"),
		operatorToken: operatorToken,
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())

	engine.GET("/health", s.HealthCheck)

	// MCP callers speak streamable HTTP against the same listener.
	mcpServer := s.NewMCPServer()
	mcpHandler := mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return mcpServer }, nil)
	engine.Any("/mcp", gin.WrapH(mcpHandler))

	v1 := engine.Group("/v1")
	{
		v1.POST("/query", s.ProcessQuery)
		v1.GET("/status", s.Status)
		v1.GET("/capabilities", s.Capabilities)

		pl := v1.Group("/planning")
		{
			pl.POST("/goals", s.CreateGoal)
			pl.GET("/goals", s.ListGoals)
			pl.GET("/goals/:id", s.GetGoal)
			pl.POST("/goals/:id/cancel", s.CancelGoal)
			pl.GET("/goals/:id/milestones", s.MilestoneProgress)
			pl.POST("/milestones", s.RecordMilestone)
			pl.POST("/milestones/:id/check", s.CheckMilestone)
			pl.POST("/plans", s.CreatePlan)
			pl.GET("/plans/:id", s.GetPlan)
			pl.POST("/plans/:id/execute", s.ExecutePlan)
			pl.POST("/scenarios", s.CreateScenario)
			pl.POST("/scenarios/compare", s.CompareScenarios)
			pl.POST("/hypotheses", s.CreateHypothesis)
			pl.POST("/hypotheses/:id/test", s.TestHypothesis)
		}

		sci := v1.Group("/sci")
		{
			sci.POST("/participants", s.RegisterParticipant)
			sci.GET("/participants", s.ListParticipants)
			sci.POST("/decisions", s.OpenDecision)
			sci.GET("/decisions/:id", s.GetDecision)
			sci.POST("/decisions/:id/tally", s.TallyDecision)
			sci.POST("/votes", s.CastVote)
		}

		op := v1.Group("", s.requireOperator())
		{
			op.GET("/flags", s.ListFlags)
			op.PUT("/flags/:name", s.SetFlag)
			op.POST("/memory/consolidate", s.Consolidate)
			op.GET("/memory/episodes", s.SearchEpisodes)
		}
	}
	return engine
}

// HLCS server: fronts the remote tool server and the local reasoner with
// the meta-cognitive orchestration pipeline, and exposes it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iagenerativa/hlcs/pkg/api"
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
	"github.com/iagenerativa/hlcs/pkg/version"
)

// Exit codes: 0 clean shutdown, 2 configuration error, 3 strict startup
// probe failed, 130 interrupted.
const (
	exitOK          = 0
	exitConfig      = 2
	exitStrictProbe = 3
	exitInterrupted = 130
)

const shutdownGrace = 10 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir",
		getEnv("HLCS_CONFIG_DIR", "./config"),
		"Path to configuration directory")
	strict := flag.Bool("strict", false,
		"Fail startup when the tool server is unreachable")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	slog.Info("Starting HLCS", "version", version.Full(), "config_dir", *configDir)

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return exitConfig
	}

	bus := events.NewBus()
	defer bus.Close()

	store, err := memory.NewSQLite(cfg.Memory)
	if err != nil {
		slog.Error("Failed to open episodic memory", "error", err)
		return exitConfig
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing episodic memory", "error", err)
		}
	}()

	flagStore, err := flags.NewStore(cfg.StateDir, cfg.FeatureFlags)
	if err != nil {
		slog.Error("Failed to load feature flags", "error", err)
		return exitConfig
	}

	engine, err := consensus.NewEngine(cfg.Consensus, cfg.StateDir, bus)
	if err != nil {
		slog.Error("Failed to initialize consensus engine", "error", err)
		return exitConfig
	}

	tools := toolserver.NewMCPClient(cfg.Backends.ToolServer)
	defer func() { _ = tools.Close() }()

	if *strict {
		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		health := tools.Health(probeCtx)
		cancel()
		if health == toolserver.HealthDown {
			slog.Error("Tool server unreachable and --strict is set",
				"url", cfg.Backends.ToolServer.URL)
			return exitStrictProbe
		}
		slog.Info("Tool server probe passed", "health", health)
	}

	local := reasoner.New(cfg.Backends.LocalReasoner)
	router := toolserver.NewRouter(cfg.Capabilities)
	analyzer := metacog.NewAnalyzer(cfg.StrategyDefault)
	planner := planning.NewPlanner(cfg.Planner, bus)
	limiter := queue.NewLimiter(cfg.MaxConcurrentRequests)

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Tools:    tools,
		Router:   router,
		Local:    local,
		Memory:   store,
		Analyzer: analyzer,
		Engine:   engine,
		Bus:      bus,
		Flags:    flagStore,
	})

	server := api.NewServer(cfg, api.Deps{
		Orchestrator: orch,
		Limiter:      limiter,
		Engine:       engine,
		Planner:      planner,
		Analyzer:     analyzer,
		Tools:        tools,
		Router:       router,
		Local:        local,
		Memory:       store,
		Flags:        flagStore,
		Bus:          bus,
	}, os.Getenv("HLCS_OPERATOR_TOKEN"))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Routes(),
	}

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Hourly memory consolidation.
	go runConsolidation(backgroundCtx, store)

	// Surface lifecycle events in the log.
	go events.Forward(backgroundCtx, bus, func(ev events.Event) {
		slog.Info("Event", "topic", ev.Topic, "payload", ev.Payload)
	}, events.Topics()...)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	interrupted := false
	select {
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
		interrupted = sig == syscall.SIGINT
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	slog.Info("HLCS stopped")

	if interrupted {
		return exitInterrupted
	}
	return exitOK
}

// runConsolidation promotes and expires episodes on a fixed interval until
// the context is cancelled.
func runConsolidation(ctx context.Context, store memory.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := store.Consolidate(ctx)
			if err != nil {
				slog.Error("Memory consolidation failed", "error", err)
				continue
			}
			slog.Info("Memory consolidated",
				"promoted", result.Promoted, "expired", result.Expired)
		}
	}
}

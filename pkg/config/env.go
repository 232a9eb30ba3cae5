package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is prepended to every recognized override variable.
const EnvPrefix = "HLCS_"

// applyEnvOverrides applies HLCS_<UPPER_SNAKE_KEY_PATH> variables over the
// merged configuration. Only scalar keys are overridable; structured keys
// (capabilities, feature_flags) come from the file. Feature flag on/off
// switches have their own HLCS_FEATURE_<NAME> convention handled in pkg/flags.
func applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"LISTEN_ADDRESS", setString(&cfg.ListenAddress)},
		{"REQUEST_TIMEOUT_MS", setInt(&cfg.RequestTimeoutMS)},
		{"MAX_CONCURRENT_REQUESTS", setInt(&cfg.MaxConcurrentRequests)},
		{"QUALITY_THRESHOLD", setFloat(&cfg.QualityThreshold)},
		{"MAX_ITERATIONS", setInt(&cfg.MaxIterations)},
		{"COMPLEXITY_THRESHOLD", setFloat(&cfg.ComplexityThreshold)},
		{"STRATEGY_DEFAULT", setString(&cfg.StrategyDefault)},
		{"STATE_DIR", setString(&cfg.StateDir)},
		{"CONSENSUS_DEFAULTS_TYPE", setString(&cfg.Consensus.Type)},
		{"CONSENSUS_DEFAULTS_DEADLINE_MS", setInt(&cfg.Consensus.DeadlineMS)},
		{"CONSENSUS_DEFAULTS_AGENT_RISK_THRESHOLD", setFloat(&cfg.Consensus.AgentRiskThreshold)},
		{"CONSENSUS_DEFAULTS_AUTO_VOTE", setBool(&cfg.Consensus.AutoVote)},
		{"CONSENSUS_DEFAULTS_ROLE_WEIGHTS_PRIMARY_USER", setFloat(&cfg.Consensus.RoleWeights.PrimaryUser)},
		{"CONSENSUS_DEFAULTS_ROLE_WEIGHTS_ADMINISTRATOR", setFloat(&cfg.Consensus.RoleWeights.Administrator)},
		{"CONSENSUS_DEFAULTS_ROLE_WEIGHTS_AUTONOMOUS_AGENT", setFloat(&cfg.Consensus.RoleWeights.AutonomousAgent)},
		{"CONSENSUS_DEFAULTS_ROLE_WEIGHTS_OBSERVER", setFloat(&cfg.Consensus.RoleWeights.Observer)},
		{"BACKENDS_TOOL_SERVER_URL", setString(&cfg.Backends.ToolServer.URL)},
		{"BACKENDS_TOOL_SERVER_TIMEOUT_MS", setInt(&cfg.Backends.ToolServer.TimeoutMS)},
		{"BACKENDS_TOOL_SERVER_RETRIES", setInt(&cfg.Backends.ToolServer.Retries)},
		{"BACKENDS_LOCAL_REASONER_ENABLED", setBool(&cfg.Backends.LocalReasoner.Enabled)},
		{"BACKENDS_LOCAL_REASONER_URL", setString(&cfg.Backends.LocalReasoner.URL)},
		{"BACKENDS_LOCAL_REASONER_TIMEOUT_MS", setInt(&cfg.Backends.LocalReasoner.TimeoutMS)},
		{"MEMORY_PERSIST_DIR", setString(&cfg.Memory.PersistDir)},
		{"MEMORY_STM_TTL_HOURS", setInt(&cfg.Memory.STMTTLHours)},
		{"MEMORY_LTM_PROMOTION_THRESHOLD", setFloat(&cfg.Memory.LTMPromotionThreshold)},
		{"PLANNER_MAX_STEP_ATTEMPTS", setInt(&cfg.Planner.MaxStepAttempts)},
		{"PLANNER_STEP_CONCURRENCY", setInt(&cfg.Planner.StepConcurrency)},
		{"PLANNER_BACKOFF_INITIAL_MS", setInt(&cfg.Planner.BackoffInitialMS)},
	}

	for _, o := range overrides {
		raw, ok := os.LookupEnv(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.apply(raw); err != nil {
			return fmt.Errorf("environment override %s%s: %w", EnvPrefix, o.key, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(raw string) error {
		*dst = raw
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(raw string) error {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("expected integer, got %q", raw)
		}
		*dst = v
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(raw string) error {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("expected number, got %q", raw)
		}
		*dst = v
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(raw string) error {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("expected boolean, got %q", raw)
		}
		*dst = v
		return nil
	}
}

package config

import (
	"fmt"
	"time"
)

// Config is the full runtime configuration, loaded from hlcs.yaml with
// HLCS_-prefixed environment overrides applied on top.
type Config struct {
	ListenAddress         string  `yaml:"listen_address"`
	RequestTimeoutMS      int     `yaml:"request_timeout_ms"`
	MaxConcurrentRequests int     `yaml:"max_concurrent_requests"`
	QualityThreshold      float64 `yaml:"quality_threshold"`
	MaxIterations         int     `yaml:"max_iterations"`
	ComplexityThreshold   float64 `yaml:"complexity_threshold"`
	StrategyDefault       string  `yaml:"strategy_default"`

	// StateDir holds the small JSON files the core persists itself
	// (feature flags, participant registry).
	StateDir string `yaml:"state_dir"`

	Consensus ConsensusConfig `yaml:"consensus_defaults"`
	Backends  BackendsConfig  `yaml:"backends"`
	Memory    MemoryConfig    `yaml:"memory"`
	Planner   PlannerConfig   `yaml:"planner"`

	// Capabilities maps logical capability tags (retriever, synthesize, ...)
	// to concrete tool names on the tool server.
	Capabilities map[string]string `yaml:"capabilities"`

	FeatureFlags map[string]FlagConfig `yaml:"feature_flags"`
}

// ConsensusConfig carries the defaults applied to decisions the
// orchestrator opens itself.
type ConsensusConfig struct {
	Type               string      `yaml:"type"`
	DeadlineMS         int         `yaml:"deadline_ms"`
	RoleWeights        RoleWeights `yaml:"role_weights"`
	AgentRiskThreshold float64     `yaml:"agent_risk_threshold"`
	AutoVote           bool        `yaml:"auto_vote"`
}

// RoleWeights are the default vote weights per participant role.
type RoleWeights struct {
	PrimaryUser     float64 `yaml:"primary_user"`
	Administrator   float64 `yaml:"administrator"`
	AutonomousAgent float64 `yaml:"autonomous_agent"`
	Observer        float64 `yaml:"observer"`
}

type BackendsConfig struct {
	ToolServer    ToolServerConfig    `yaml:"tool_server"`
	LocalReasoner LocalReasonerConfig `yaml:"local_reasoner"`
}

type ToolServerConfig struct {
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Retries   int    `yaml:"retries"`
}

type LocalReasonerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type MemoryConfig struct {
	PersistDir            string  `yaml:"persist_dir"`
	STMTTLHours           int     `yaml:"stm_ttl_hours"`
	LTMPromotionThreshold float64 `yaml:"ltm_promotion_threshold"`
}

// PlannerConfig tunes plan execution.
type PlannerConfig struct {
	MaxStepAttempts  int `yaml:"max_step_attempts"`
	StepConcurrency  int `yaml:"step_concurrency"`
	BackoffInitialMS int `yaml:"backoff_initial_ms"`
}

// FlagConfig is one feature flag entry.
type FlagConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Strategy          string   `yaml:"strategy"`
	RolloutPercentage float64  `yaml:"rollout_percentage"`
	Whitelist         []string `yaml:"whitelist"`
}

// Default returns the built-in configuration user files are merged over.
func Default() *Config {
	return &Config{
		ListenAddress:         ":8700",
		RequestTimeoutMS:      30000,
		MaxConcurrentRequests: 32,
		QualityThreshold:      0.7,
		MaxIterations:         3,
		ComplexityThreshold:   0.5,
		StrategyDefault:       "adaptive",
		StateDir:              "./data/state",
		Consensus: ConsensusConfig{
			Type:       "ADAPTIVE",
			DeadlineMS: 30000,
			RoleWeights: RoleWeights{
				PrimaryUser:     0.60,
				Administrator:   0.30,
				AutonomousAgent: 0.10,
				Observer:        0.00,
			},
			AgentRiskThreshold: 0.5,
			AutoVote:           false,
		},
		Backends: BackendsConfig{
			ToolServer: ToolServerConfig{
				URL:       "http://localhost:3000",
				TimeoutMS: 30000,
				Retries:   3,
			},
			LocalReasoner: LocalReasonerConfig{
				Enabled:   false,
				URL:       "http://localhost:8601",
				TimeoutMS: 60000,
			},
		},
		Memory: MemoryConfig{
			PersistDir:            "./data/memory",
			STMTTLHours:           24,
			LTMPromotionThreshold: 0.8,
		},
		Planner: PlannerConfig{
			MaxStepAttempts:  2,
			StepConcurrency:  4,
			BackoffInitialMS: 100,
		},
		Capabilities: map[string]string{
			"conversational_responder": "saul.respond",
			"retriever":                "rag.search",
			"image_analyzer":           "vision.analyze",
			"audio_transcriber":        "audio.transcribe",
			"classifier":               "text.classify",
			"synthesize":               "text.synthesize",
		},
		FeatureFlags: map[string]FlagConfig{
			// Ensemble dispatch ships enabled; operators can stage it
			// with PERCENTAGE or WHITELIST rollout.
			"ensemble": {Enabled: true, Strategy: "ALL"},
		},
	}
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// ConsensusDeadline returns the default decision deadline as a duration.
func (c *Config) ConsensusDeadline() time.Duration {
	return time.Duration(c.Consensus.DeadlineMS) * time.Millisecond
}

// Validate checks cross-field invariants after merge and env overrides.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address must not be empty")
	}
	if c.QualityThreshold <= 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be in (0,1], got %v", c.QualityThreshold)
	}
	if c.MaxIterations < 1 || c.MaxIterations > 10 {
		return fmt.Errorf("max_iterations must be in [1,10], got %d", c.MaxIterations)
	}
	if c.ComplexityThreshold < 0 || c.ComplexityThreshold > 1 {
		return fmt.Errorf("complexity_threshold must be in [0,1], got %v", c.ComplexityThreshold)
	}
	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("max_concurrent_requests must be positive, got %d", c.MaxConcurrentRequests)
	}
	if c.Backends.ToolServer.URL == "" {
		return fmt.Errorf("backends.tool_server.url must not be empty")
	}
	if c.Consensus.DeadlineMS <= 0 {
		return fmt.Errorf("consensus_defaults.deadline_ms must be positive, got %d", c.Consensus.DeadlineMS)
	}
	if t := c.Consensus.AgentRiskThreshold; t < 0 || t > 1 {
		return fmt.Errorf("consensus_defaults.agent_risk_threshold must be in [0,1], got %v", t)
	}
	if c.Planner.MaxStepAttempts < 1 {
		return fmt.Errorf("planner.max_step_attempts must be positive, got %d", c.Planner.MaxStepAttempts)
	}
	if c.Planner.StepConcurrency < 1 {
		return fmt.Errorf("planner.step_concurrency must be positive, got %d", c.Planner.StepConcurrency)
	}
	for name, f := range c.FeatureFlags {
		switch f.Strategy {
		case "", "ALL", "PERCENTAGE", "WHITELIST":
		default:
			return fmt.Errorf("feature_flags.%s.strategy %q is not one of ALL, PERCENTAGE, WHITELIST", name, f.Strategy)
		}
		if f.RolloutPercentage < 0 || f.RolloutPercentage > 100 {
			return fmt.Errorf("feature_flags.%s.rollout_percentage must be in [0,100], got %v", name, f.RolloutPercentage)
		}
	}
	return nil
}

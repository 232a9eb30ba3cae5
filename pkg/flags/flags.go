// Package flags implements feature flags with per-user rollout. Evaluation
// is pure: IsEnabled depends only on the flag table and the user id, so the
// same inputs always produce the same answer.
package flags

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// Strategy selects how a flag applies to users.
type Strategy string

const (
	StrategyAll        Strategy = "ALL"
	StrategyPercentage Strategy = "PERCENTAGE"
	StrategyWhitelist  Strategy = "WHITELIST"
)

// Flag is one feature flag entry.
type Flag struct {
	Name              string   `json:"name"`
	Enabled           bool     `json:"enabled"`
	Strategy          Strategy `json:"strategy"`
	RolloutPercentage float64  `json:"rollout_percentage"`
	Whitelist         []string `json:"whitelist,omitempty"`
}

// EnvOverridePrefix marks environment variables that force a flag on or off
// regardless of the stored table: HLCS_FEATURE_<NAME>=true|false.
const EnvOverridePrefix = "HLCS_FEATURE_"

// Store holds the flag table. Reads dominate; updates publish atomically
// under the write lock and are persisted as a small JSON file.
type Store struct {
	mu    sync.RWMutex
	flags map[string]Flag
	path  string
}

// NewStore builds a store from configuration, overlaying any previously
// persisted table found under stateDir.
func NewStore(stateDir string, configured map[string]config.FlagConfig) (*Store, error) {
	s := &Store{
		flags: make(map[string]Flag, len(configured)),
		path:  statePath(stateDir),
	}
	for name, fc := range configured {
		strategy := Strategy(fc.Strategy)
		if strategy == "" {
			strategy = StrategyAll
		}
		s.flags[name] = Flag{
			Name:              name,
			Enabled:           fc.Enabled,
			Strategy:          strategy,
			RolloutPercentage: fc.RolloutPercentage,
			Whitelist:         fc.Whitelist,
		}
	}
	if err := s.loadPersisted(); err != nil {
		return nil, err
	}
	return s, nil
}

// IsEnabled evaluates a flag for a user. Environment overrides win, then the
// stored table; unknown flags are disabled.
func (s *Store) IsEnabled(name, userID string) bool {
	if raw, ok := os.LookupEnv(EnvOverridePrefix + strings.ToUpper(name)); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return v
		}
	}

	s.mu.RLock()
	flag, ok := s.flags[name]
	s.mu.RUnlock()
	if !ok || !flag.Enabled {
		return false
	}

	switch flag.Strategy {
	case StrategyAll:
		return true
	case StrategyPercentage:
		return rolloutBucket(name, userID) < flag.RolloutPercentage
	case StrategyWhitelist:
		for _, id := range flag.Whitelist {
			if id == userID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Set replaces a flag entry and persists the table.
func (s *Store) Set(flag Flag) error {
	if flag.Name == "" {
		return models.E(models.KindInvalidInput, "flag name is empty")
	}
	switch flag.Strategy {
	case StrategyAll, StrategyPercentage, StrategyWhitelist:
	default:
		return models.Ef(models.KindInvalidInput, "unknown flag strategy %q", flag.Strategy)
	}
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		return models.Ef(models.KindInvalidInput, "rollout percentage %v out of [0,100]", flag.RolloutPercentage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flag.Name] = flag
	return s.persistLocked()
}

// List returns a snapshot of all flags.
func (s *Store) List() []Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Flag, 0, len(s.flags))
	for _, f := range s.flags {
		out = append(out, f)
	}
	return out
}

// rolloutBucket maps (flag, user) to a stable bucket in [0,100). Users with
// no id hash on the flag name alone, so anonymous traffic is consistent too.
func rolloutBucket(name, userID string) float64 {
	sum := sha256.Sum256([]byte(name + ":" + userID))
	return float64(binary.BigEndian.Uint64(sum[:8]) % 10000) / 100
}

func statePath(stateDir string) string {
	return fmt.Sprintf("%s/feature_flags.json", stateDir)
}

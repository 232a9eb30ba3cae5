package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func participantsPath(stateDir string) string {
	if stateDir == "" {
		return ""
	}
	return filepath.Join(stateDir, "participants.json")
}

// persistParticipantsLocked writes the registry with an atomic replace.
// Caller holds the write lock.
func (e *Engine) persistParticipantsLocked() error {
	if e.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(e.statePath), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(e.participants, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding participant registry: %w", err)
	}

	tmp := e.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing participant registry: %w", err)
	}
	if err := os.Rename(tmp, e.statePath); err != nil {
		return fmt.Errorf("replacing participant registry: %w", err)
	}
	return nil
}

// loadParticipants restores the persisted registry if one exists.
func (e *Engine) loadParticipants() error {
	if e.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(e.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading participant registry: %w", err)
	}

	var stored map[string]*Participant
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parsing participant registry %s: %w", e.statePath, err)
	}
	e.participants = stored
	if e.participants == nil {
		e.participants = make(map[string]*Participant)
	}
	return nil
}

package flags

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// persistLocked writes the flag table to disk with an atomic replace.
// Caller holds the write lock.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(s.flags, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding feature flags: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing feature flags: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing feature flags file: %w", err)
	}
	return nil
}

// loadPersisted overlays the stored table, if any, onto the configured one.
// Stored entries win so runtime changes survive restarts.
func (s *Store) loadPersisted() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading feature flags: %w", err)
	}

	var stored map[string]Flag
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parsing feature flags %s: %w", s.path, err)
	}
	for name, f := range stored {
		s.flags[name] = f
	}
	return nil
}

package contextstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Snapshot writes the whole tree as JSON to target, or to the store's
// default path when target is empty, then writes a timestamped backup. It
// returns the written path, or "" and the error when the write failed.
// Failures are also logged; callers on the cycle path may ignore them.
func (s *Store) Snapshot(target string) (string, error) {
	if target == "" {
		target = s.snapshotPath
	}
	if target == "" {
		err := errors.New("no snapshot target configured")
		s.logger.Error("failed to save context", zap.Error(err))
		return "", err
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s.tree, "", "  ")
	now := s.clock.Now()
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("failed to encode context", zap.Error(err))
		return "", fmt.Errorf("encode context: %w", err)
	}

	if err := writeFile(target, data); err != nil {
		s.logger.Error("failed to save context", zap.String("path", target), zap.Error(err))
		return "", err
	}
	s.logger.Info("context saved", zap.String("path", target))

	if s.backupDir != "" {
		backup := filepath.Join(s.backupDir, fmt.Sprintf("context_%s.json", now.Format("20060102_150405")))
		if err := writeFile(backup, data); err != nil {
			s.logger.Error("failed to create context backup", zap.String("path", backup), zap.Error(err))
		} else {
			s.logger.Debug("context backup created", zap.String("path", backup))
		}
	}
	return target, nil
}

// Load replaces the tree with the snapshot at path, or the default path when
// empty. A missing file leaves the tree untouched and is not an error.
func (s *Store) Load(path string) error {
	if path == "" {
		path = s.snapshotPath
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read context snapshot: %w", err)
	}

	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("parse context snapshot: %w", err)
	}
	if tree == nil {
		tree = make(map[string]any)
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	s.logger.Info("context loaded", zap.String("path", path))
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Package history persists deployment records to a JSON history file so
// records survive server restarts.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/pkg/logging"
)

// FileSink stores every deployment record in a single JSON file keyed by
// deployment ID. Writes replace the whole file via a temp file and rename
// so a crash mid-write never leaves a torn history.
type FileSink struct {
	path string

	mu      sync.Mutex
	records map[string]*interfaces.DeploymentRecord
}

// NewFileSink creates a sink backed by path, loading any existing history
func NewFileSink(path string) (*FileSink, error) {
	s := &FileSink{
		path:    path,
		records: make(map[string]*interfaces.DeploymentRecord),
	}

	data, err := os.ReadFile(path) //nolint:gosec // history path comes from server configuration
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read history file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse history file %s: %w", path, err)
	}

	logging.History.Info("loaded deployment history records=%d", len(s.records))
	return s, nil
}

// Persist writes the record's current state to the history file.
// The stored copy is detached from the caller's record.
func (s *FileSink) Persist(record *interfaces.DeploymentRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("cannot persist record without an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = copyRecord(record)
	return s.flushLocked()
}

// Remove deletes a record from the history file; used when a sub-record
// has been absorbed into its parent
func (s *FileSink) Remove(deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[deploymentID]; !ok {
		return nil
	}
	delete(s.records, deploymentID)
	return s.flushLocked()
}

// Load returns all persisted records, oldest first
func (s *FileSink) Load() ([]*interfaces.DeploymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*interfaces.DeploymentRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, copyRecord(record))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// flushLocked writes the full record map to disk; the caller holds s.mu
func (s *FileSink) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary history file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary history file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// copyRecord returns a deep copy of a record
func copyRecord(record *interfaces.DeploymentRecord) *interfaces.DeploymentRecord {
	c := *record
	c.Logs = make([]interfaces.LogLine, len(record.Logs))
	copy(c.Logs, record.Logs)
	if record.StartedAt != nil {
		startedAt := *record.StartedAt
		c.StartedAt = &startedAt
	}
	if record.CompletedAt != nil {
		completedAt := *record.CompletedAt
		c.CompletedAt = &completedAt
	}
	return &c
}

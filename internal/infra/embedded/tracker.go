package embedded

import (
	"fmt"
	"sync"
	"time"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/pkg/logging"
)

// Tracker implements interfaces.DeploymentTracker using in-memory storage.
// Every mutation is persisted to the history sink while the lock is held,
// so the history file always reflects the last completed mutation.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*interfaces.DeploymentRecord
	history interfaces.HistorySink // Optional persistent storage
	logger  *logging.Logger
}

// NewTracker creates a new embedded deployment tracker
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*interfaces.DeploymentRecord),
		logger:  logging.NewLogger("embedded-tracker"),
	}
}

// Load restores records from the history sink and keeps the sink for
// future persistence. Records restored in status running belong to a
// previous process; they are marked failed since their worker is gone.
func (t *Tracker) Load(history interfaces.HistorySink) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = history

	if history == nil {
		// History is optional, so this is not an error
		return nil
	}

	records, err := history.Load()
	if err != nil {
		return fmt.Errorf("failed to load deployment history: %w", err)
	}

	interrupted := 0
	for _, record := range records {
		if record.Status == interfaces.DeploymentStatusRunning {
			record.Status = interfaces.DeploymentStatusFailed
			now := time.Now()
			record.Logs = append(record.Logs, interfaces.LogLine{
				Time:    now,
				Message: "ERROR: deployment interrupted by server restart",
			})
			if record.CompletedAt == nil {
				record.CompletedAt = &now
			}
			t.persistRecord(record)
			interrupted++
		}
		t.records[record.ID] = record
	}

	t.logger.Info("Loaded %d deployments from history (%d marked failed after restart)", len(records), interrupted)
	return nil
}

// Create registers a new record in the tracker
func (t *Tracker) Create(record *interfaces.DeploymentRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.ID == "" {
		return fmt.Errorf("deployment ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[record.ID]; exists {
		return fmt.Errorf("deployment %s already exists", record.ID)
	}

	// Store a copy to prevent external modifications
	r := copyRecord(record)
	t.records[record.ID] = r

	// Persist while holding the lock so the history file never skips a state
	t.persistRecord(r)

	return nil
}

// GetByID returns a copy of a record by its ID
func (t *Tracker) GetByID(deploymentID string) (*interfaces.DeploymentRecord, error) {
	if deploymentID == "" {
		return nil, fmt.Errorf("deployment ID is empty")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	record, exists := t.records[deploymentID]
	if !exists {
		return nil, fmt.Errorf("deployment %s not found", deploymentID)
	}

	return copyRecord(record), nil
}

// GetStatus returns the status of a record
func (t *Tracker) GetStatus(deploymentID string) (interfaces.DeploymentStatus, error) {
	if deploymentID == "" {
		return "", fmt.Errorf("deployment ID is empty")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	record, exists := t.records[deploymentID]
	if !exists {
		return "", fmt.Errorf("deployment %s not found", deploymentID)
	}

	return record.Status, nil
}

// SetStatus updates the status of a record. Terminal states are sticky:
// once a record is success or failed its status never changes again.
func (t *Tracker) SetStatus(deploymentID string, status interfaces.DeploymentStatus) error {
	if deploymentID == "" {
		return fmt.Errorf("deployment ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.records[deploymentID]
	if !exists {
		return fmt.Errorf("deployment %s not found", deploymentID)
	}

	if record.Status.IsTerminal() {
		return fmt.Errorf("deployment %s already %s", deploymentID, record.Status)
	}

	record.Status = status

	now := time.Now()
	switch {
	case status == interfaces.DeploymentStatusRunning:
		if record.StartedAt == nil {
			record.StartedAt = &now
		}
	case status.IsTerminal():
		if record.CompletedAt == nil {
			record.CompletedAt = &now
		}
	}

	t.persistRecord(record)

	return nil
}

// SetCurrentStep updates the record's step progress counter
func (t *Tracker) SetCurrentStep(deploymentID string, current int) error {
	if deploymentID == "" {
		return fmt.Errorf("deployment ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.records[deploymentID]
	if !exists {
		return fmt.Errorf("deployment %s not found", deploymentID)
	}

	record.CurrentStep = current
	t.persistRecord(record)

	return nil
}

// AppendLog appends a timestamped line to the record's log
func (t *Tracker) AppendLog(deploymentID string, message string) error {
	if deploymentID == "" {
		return fmt.Errorf("deployment ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.records[deploymentID]
	if !exists {
		return fmt.Errorf("deployment %s not found", deploymentID)
	}

	record.Logs = append(record.Logs, interfaces.LogLine{
		Time:    time.Now(),
		Message: message,
	})
	t.persistRecord(record)

	return nil
}

// List returns copies of records matching the filter
func (t *Tracker) List(filter interfaces.DeploymentFilter) ([]*interfaces.DeploymentRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var results []*interfaces.DeploymentRecord
	for _, record := range t.records {
		if matchesFilter(record, filter) {
			results = append(results, copyRecord(record))
		}
	}

	return results, nil
}

// Remove deletes a record from the tracker and the history sink.
// Used only for sub-records that have been absorbed into their parent.
func (t *Tracker) Remove(deploymentID string) error {
	if deploymentID == "" {
		return fmt.Errorf("deployment ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[deploymentID]; !exists {
		return fmt.Errorf("deployment %s not found", deploymentID)
	}

	delete(t.records, deploymentID)

	if remover, ok := t.history.(interface{ Remove(string) error }); ok && t.history != nil {
		if err := remover.Remove(deploymentID); err != nil {
			t.logger.Warn("Failed to remove deployment %s from history: %v", deploymentID, err)
		}
	}

	return nil
}

// persistRecord saves a record to the history sink; the caller holds t.mu
func (t *Tracker) persistRecord(record *interfaces.DeploymentRecord) {
	if t.history == nil {
		return
	}
	if err := t.history.Persist(record); err != nil {
		t.logger.Warn("Failed to persist deployment %s to history: %v", record.ID, err)
	}
}

// matchesFilter checks if a record matches the given filter criteria
func matchesFilter(record *interfaces.DeploymentRecord, filter interfaces.DeploymentFilter) bool {
	if len(filter.Status) > 0 {
		statusMatches := false
		for _, status := range filter.Status {
			if record.Status == status {
				statusMatches = true
				break
			}
		}
		if !statusMatches {
			return false
		}
	}

	if len(filter.Kind) > 0 {
		kindMatches := false
		for _, kind := range filter.Kind {
			if record.Kind == kind {
				kindMatches = true
				break
			}
		}
		if !kindMatches {
			return false
		}
	}

	if !filter.CreatedAfter.IsZero() && record.CreatedAt.Before(filter.CreatedAfter) {
		return false
	}
	if !filter.CreatedBefore.IsZero() && record.CreatedAt.After(filter.CreatedBefore) {
		return false
	}

	return true
}

// copyRecord returns a deep copy so callers never share log slices with
// the tracker's stored record
func copyRecord(record *interfaces.DeploymentRecord) *interfaces.DeploymentRecord {
	r := *record
	r.Logs = make([]interfaces.LogLine, len(record.Logs))
	copy(r.Logs, record.Logs)
	if record.StartedAt != nil {
		startedAt := *record.StartedAt
		r.StartedAt = &startedAt
	}
	if record.CompletedAt != nil {
		completedAt := *record.CompletedAt
		r.CompletedAt = &completedAt
	}
	return &r
}

package steps

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/pkg/logging"
)

// TrackerSink is a LogSink that appends to a tracked deployment record
type TrackerSink struct {
	tracker interfaces.DeploymentTracker
	id      string
}

// NewTrackerSink creates a sink bound to one deployment record
func NewTrackerSink(tracker interfaces.DeploymentTracker, deploymentID string) *TrackerSink {
	return &TrackerSink{tracker: tracker, id: deploymentID}
}

// Append appends a log line to the bound record. An append against a
// removed record is dropped; the record owner has already finished.
func (s *TrackerSink) Append(message string) {
	if err := s.tracker.AppendLog(s.id, message); err != nil {
		logging.Steps.Debug("dropped log line deployment=%s: %v", s.id, err)
	}
}

// SubRecords manages the short-lived child records file and SQL steps run
// under. A sub-record exists only while its command runs; its log is then
// absorbed into the parent with a kind prefix and the record is removed.
type SubRecords struct {
	tracker interfaces.DeploymentTracker
}

// NewSubRecords creates a sub-record manager backed by the tracker
func NewSubRecords(tracker interfaces.DeploymentTracker) *SubRecords {
	return &SubRecords{tracker: tracker}
}

// Begin creates a sub-record under the parent and returns its ID and sink
func (s *SubRecords) Begin(kind interfaces.RecordKind, parentID, ftNumber string) (string, interfaces.LogSink, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate sub-deployment ID: %w", err)
	}

	now := time.Now()
	record := &interfaces.DeploymentRecord{
		ID:          id,
		Kind:        kind,
		ParentID:    parentID,
		FTNumber:    ftNumber,
		Status:      interfaces.DeploymentStatusRunning,
		InitiatedBy: "system",
		CreatedAt:   now,
		StartedAt:   &now,
	}
	if err := s.tracker.Create(record); err != nil {
		return "", nil, fmt.Errorf("failed to create sub-deployment: %w", err)
	}

	return id, NewTrackerSink(s.tracker, id), nil
}

// Absorb copies the sub-record's log lines into the parent with the given
// prefix, then removes the sub-record. Absorb is called for both
// successful and failed commands so no output is lost.
func (s *SubRecords) Absorb(subID, parentID, prefix string) error {
	record, err := s.tracker.GetByID(subID)
	if err != nil {
		return fmt.Errorf("failed to read sub-deployment %s: %w", subID, err)
	}

	for _, line := range record.Logs {
		if err := s.tracker.AppendLog(parentID, prefix+line.Message); err != nil {
			return fmt.Errorf("failed to absorb log into %s: %w", parentID, err)
		}
	}

	if err := s.tracker.Remove(subID); err != nil {
		return fmt.Errorf("failed to remove sub-deployment %s: %w", subID, err)
	}
	return nil
}

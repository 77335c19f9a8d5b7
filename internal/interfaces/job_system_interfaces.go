package interfaces

import (
	"context"
)

// DeploymentQueue accepts deployments for asynchronous execution
type DeploymentQueue interface {
	// Enqueue adds a deployment to the queue
	Enqueue(ctx context.Context, deployment *QueuedDeployment) error
	// Size returns the current number of deployments in the queue
	Size() int
	// GetMetrics returns queue metrics
	GetMetrics() QueueMetrics
	// Close closes the queue
	Close()
}

// DeploymentTracker is the deployment record store: it owns every live and
// historical record, synchronizes access between the per-deployment worker
// and concurrent pollers, and persists each mutation to the history sink.
type DeploymentTracker interface {
	// Create registers a new record in status running
	Create(record *DeploymentRecord) error
	// GetByID returns a copy of a record, or an error if it does not exist
	GetByID(deploymentID string) (*DeploymentRecord, error)
	// GetStatus returns the status of a record
	GetStatus(deploymentID string) (DeploymentStatus, error)
	// SetStatus transitions a record's status; terminal states are sticky
	SetStatus(deploymentID string, status DeploymentStatus) error
	// SetCurrentStep updates the record's step progress counters
	SetCurrentStep(deploymentID string, current int) error
	// AppendLog appends a timestamped line to the record's log
	AppendLog(deploymentID string, message string) error
	// List returns copies of records matching the filter
	List(filter DeploymentFilter) ([]*DeploymentRecord, error)
	// Remove deletes a record; used only for absorbed sub-records
	Remove(deploymentID string) error
}

// WorkerPool executes queued deployments in the background
type WorkerPool interface {
	// Start begins processing deployments from the queue
	Start()
	// Stop gracefully stops the worker pool
	Stop(ctx context.Context) error
}

// HistorySink durably persists deployment records. Persistence is
// at-least-once: writing the same state twice is acceptable, losing an
// update is not.
type HistorySink interface {
	// Persist writes the record's current state to durable storage
	Persist(record *DeploymentRecord) error
	// Load restores previously persisted records, oldest first
	Load() ([]*DeploymentRecord, error)
}

// LogSink receives log lines emitted during step execution
type LogSink interface {
	// Append appends a log line; the sink applies the timestamp
	Append(message string)
}

// StepRun is the execution context a handler receives for one step
type StepRun struct {
	DeploymentID string
	FTNumber     string
	Step         Step
	Sink         LogSink
}

// StepHandler performs one kind of deployment step
type StepHandler interface {
	// Kind returns the step kind this handler executes
	Kind() StepKind
	// Execute performs the step, emitting progress to the run's sink.
	// Every failure is logged to the sink in a human-readable form before
	// a non-nil error is returned.
	Execute(ctx context.Context, run StepRun) error
}

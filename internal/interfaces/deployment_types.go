package interfaces

import (
	"time"
)

// DeploymentStatus represents the lifecycle state of a deployment
type DeploymentStatus string

// DeploymentStatus constants represent the various states of a deployment
const (
	DeploymentStatusRunning DeploymentStatus = "running"
	DeploymentStatusSuccess DeploymentStatus = "success"
	DeploymentStatusFailed  DeploymentStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
// Transitions are monotonic: running -> success or running -> failed, never back.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusSuccess || s == DeploymentStatusFailed
}

// RecordKind distinguishes top-level deployments from the short-lived
// sub-records some step handlers create and absorb into the parent log
type RecordKind string

// RecordKind constants represent the kinds of deployment records
const (
	RecordKindTemplate RecordKind = "template_deployment"
	RecordKindFile     RecordKind = "file"
	RecordKindSQL      RecordKind = "sql"
)

// LogLine is a single timestamped entry in a deployment's log.
// Lines are append-only and never mutated after being appended.
type LogLine struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String renders the line the way the deployment log endpoints expose it
func (l LogLine) String() string {
	return "[" + l.Time.Format("15:04:05") + "] " + l.Message
}

// DeploymentRecord is one execution instance of a template: mutable status,
// an append-only log, and metadata about who started it and how far it got.
// Exactly one worker mutates a record; any number of readers may poll it.
type DeploymentRecord struct {
	ID           string           `json:"id"`
	Kind         RecordKind       `json:"type"`
	ParentID     string           `json:"parent_id,omitempty"`
	TemplateName string           `json:"template_name,omitempty"`
	FTNumber     string           `json:"ft_number,omitempty"`
	Status       DeploymentStatus `json:"status"`
	Logs         []LogLine        `json:"logs"`
	InitiatedBy  string           `json:"initiated_by"`
	Role         string           `json:"user_role,omitempty"`
	CurrentStep  int              `json:"current_step"`
	TotalSteps   int              `json:"total_steps"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// QueuedDeployment represents a deployment waiting for or undergoing execution
type QueuedDeployment struct {
	ID           string    `json:"id"`
	TemplateName string    `json:"template_name"`
	FTNumber     string    `json:"ft_number"`
	Template     *Template `json:"template"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeploymentFilter provides filtering options for querying deployments
type DeploymentFilter struct {
	Status        []DeploymentStatus
	Kind          []RecordKind
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// QueueMetrics provides metrics about the deployment queue
type QueueMetrics struct {
	TotalEnqueued    int64
	TotalDequeued    int64
	CurrentDepth     int
	AverageWaitTime  time.Duration
	OldestDeployment time.Time
}

// UserInfo identifies the user who initiated a deployment.
// The engine records the identity; it does not enforce policy.
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

package interfaces

// DeploymentService handles deployment business logic
type DeploymentService interface {
	// CreateDeployment validates the request, registers a record, and
	// enqueues the deployment for background execution
	CreateDeployment(request *DeploymentRequest) (*DeploymentRecord, error)

	// GetDeploymentByID retrieves a deployment record by its ID
	GetDeploymentByID(deploymentID string) (*DeploymentRecord, error)

	// GetDeploymentLogs returns the rendered log lines of a deployment
	GetDeploymentLogs(deploymentID string) ([]string, error)

	// ListDeployments returns deployment records matching the filter criteria
	ListDeployments(filter DeploymentFilter) ([]*DeploymentRecord, error)

	// GetQueueMetrics returns metrics about the deployment queue
	GetQueueMetrics() QueueMetrics
}

// DeploymentRequest represents a request to execute a template
type DeploymentRequest struct {
	TemplateName string   `json:"template_name"`
	FTNumber     string   `json:"ft_number,omitempty"`
	Initiator    UserInfo `json:"-"`
}

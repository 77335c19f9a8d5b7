package deployment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/logging"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// Service implements interfaces.DeploymentService. Creating a deployment
// is synchronous up to the enqueue: the template is loaded and validated
// first, so a bad template name fails the request instead of the run.
type Service struct {
	templates interfaces.TemplateStore
	tracker   interfaces.DeploymentTracker
	queue     interfaces.DeploymentQueue
	logger    *logging.Logger
}

// NewService creates the deployment service
func NewService(templates interfaces.TemplateStore, tracker interfaces.DeploymentTracker, queue interfaces.DeploymentQueue) *Service {
	return &Service{
		templates: templates,
		tracker:   tracker,
		queue:     queue,
		logger:    logging.NewLogger("deployment-service"),
	}
}

// CreateDeployment validates the request, registers a running record, and
// enqueues the deployment for background execution
func (s *Service) CreateDeployment(request *interfaces.DeploymentRequest) (*interfaces.DeploymentRecord, error) {
	if request == nil || request.TemplateName == "" {
		return nil, ErrInvalidRequest
	}

	tmpl, err := s.templates.Load(request.TemplateName)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, &Error{
			Code:       "TEMPLATE_INVALID",
			Message:    fmt.Sprintf("Template %s could not be loaded: %v", request.TemplateName, err),
			HTTPStatus: 400,
		}
	}

	deploymentID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate deployment ID: %w", err)
	}

	ftNumber := request.FTNumber
	if ftNumber == "" {
		ftNumber = tmpl.Metadata.FTNumber
	}

	initiator := request.Initiator.Username
	if initiator == "" {
		initiator = "system"
	}

	totalSteps := len(tmpl.Steps)

	now := time.Now()
	record := &interfaces.DeploymentRecord{
		ID:           deploymentID,
		Kind:         interfaces.RecordKindTemplate,
		TemplateName: request.TemplateName,
		FTNumber:     ftNumber,
		Status:       interfaces.DeploymentStatusRunning,
		Logs: []interfaces.LogLine{
			{Time: now, Message: "Starting template deployment: " + request.TemplateName},
		},
		InitiatedBy: initiator,
		Role:        request.Initiator.Role,
		TotalSteps:  totalSteps,
		CreatedAt:   now,
	}

	if err := s.tracker.Create(record); err != nil {
		return nil, fmt.Errorf("failed to register deployment: %w", err)
	}

	queued := &interfaces.QueuedDeployment{
		ID:           deploymentID,
		TemplateName: request.TemplateName,
		FTNumber:     ftNumber,
		Template:     tmpl,
		CreatedAt:    now,
	}

	if err := s.queue.Enqueue(context.Background(), queued); err != nil {
		// The record stays failed in history so the rejection is visible
		_ = s.tracker.AppendLog(deploymentID, fmt.Sprintf("Template execution failed: %v", err))
		_ = s.tracker.SetStatus(deploymentID, interfaces.DeploymentStatusFailed)

		if strings.Contains(err.Error(), "queue is full") {
			return nil, ErrQueueFull
		}
		return nil, fmt.Errorf("failed to enqueue deployment: %w", err)
	}

	s.logger.Infof("Started template deployment %s for template %s by %s", deploymentID, request.TemplateName, initiator)
	return s.tracker.GetByID(deploymentID)
}

// GetDeploymentByID retrieves a deployment record by its ID
func (s *Service) GetDeploymentByID(deploymentID string) (*interfaces.DeploymentRecord, error) {
	record, err := s.tracker.GetByID(deploymentID)
	if err != nil {
		return nil, ErrDeploymentNotFound
	}
	return record, nil
}

// GetDeploymentLogs returns the rendered log lines of a deployment
func (s *Service) GetDeploymentLogs(deploymentID string) ([]string, error) {
	record, err := s.tracker.GetByID(deploymentID)
	if err != nil {
		return nil, ErrDeploymentNotFound
	}

	lines := make([]string, len(record.Logs))
	for i, line := range record.Logs {
		lines[i] = line.String()
	}
	return lines, nil
}

// ListDeployments returns deployment records matching the filter, newest
// first. Sub-records are excluded unless the filter asks for them.
func (s *Service) ListDeployments(filter interfaces.DeploymentFilter) ([]*interfaces.DeploymentRecord, error) {
	if len(filter.Kind) == 0 {
		filter.Kind = []interfaces.RecordKind{interfaces.RecordKindTemplate}
	}

	records, err := s.tracker.List(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	sortRecordsNewestFirst(records)
	return records, nil
}

// GetQueueMetrics returns metrics about the deployment queue
func (s *Service) GetQueueMetrics() interfaces.QueueMetrics {
	return s.queue.GetMetrics()
}

// sortRecordsNewestFirst orders records by creation time descending
func sortRecordsNewestFirst(records []*interfaces.DeploymentRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

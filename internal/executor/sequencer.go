// Package executor runs queued deployments: it walks a template's steps
// in order, dispatches each to its handler, and finalizes the record.
package executor

import (
	"context"
	"fmt"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/logging"
	"github.com/fixdeploy/fixdeploy/internal/steps"
)

// Sequencer executes a deployment's steps sequentially and fail-fast:
// the first failing step stops the run and fails the record.
type Sequencer struct {
	tracker  interfaces.DeploymentTracker
	registry *steps.Registry
	logger   *logging.Logger
}

// NewSequencer creates a sequencer over the tracker and step registry
func NewSequencer(tracker interfaces.DeploymentTracker, registry *steps.Registry) *Sequencer {
	return &Sequencer{
		tracker:  tracker,
		registry: registry,
		logger:   logging.NewLogger("sequencer"),
	}
}

// Execute runs one queued deployment to completion. It owns the record's
// final status; every exit path leaves the record success or failed.
// A deployment whose record is missing is abandoned silently, matching
// a record removed between enqueue and execution.
func (s *Sequencer) Execute(ctx context.Context, deployment *interfaces.QueuedDeployment) {
	if _, err := s.tracker.GetByID(deployment.ID); err != nil {
		s.logger.Errorf("Deployment %s not found, abandoning execution", deployment.ID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Deployment %s panicked: %v", deployment.ID, r)
			s.appendLog(deployment.ID, fmt.Sprintf("Template execution failed: %v", r))
			s.finalize(deployment.ID, interfaces.DeploymentStatusFailed)
		}
	}()

	if deployment.Template == nil {
		s.appendLog(deployment.ID, "Template execution failed: no template attached")
		s.finalize(deployment.ID, interfaces.DeploymentStatusFailed)
		return
	}

	ordered := deployment.Template.SortedSteps()
	totalSteps := len(ordered)

	sink := steps.NewTrackerSink(s.tracker, deployment.ID)

	for i, step := range ordered {
		stepNum := i + 1
		if err := s.tracker.SetCurrentStep(deployment.ID, stepNum); err != nil {
			s.logger.Errorf("Failed to update step counter for %s: %v", deployment.ID, err)
		}

		description := step.Description
		if description == "" {
			description = "Unknown step"
		}
		sink.Append(fmt.Sprintf("Step %d/%d: %s", stepNum, totalSteps, description))
		s.logger.StepExecutionStart(string(step.Type), description, stepNum, totalSteps)

		if err := s.executeStep(ctx, deployment, step, sink); err != nil {
			sink.Append(fmt.Sprintf("Step %d failed. Stopping deployment.", stepNum))
			s.logger.StepExecutionFailed(string(step.Type), description, err)
			s.logger.DeploymentSummary(i, totalSteps)
			s.finalize(deployment.ID, interfaces.DeploymentStatusFailed)
			return
		}

		sink.Append(fmt.Sprintf("Step %d completed successfully.", stepNum))
		s.logger.StepExecutionSuccess(string(step.Type), description)
	}

	sink.Append("Template deployment completed successfully!")
	s.logger.DeploymentSummary(totalSteps, totalSteps)
	s.finalize(deployment.ID, interfaces.DeploymentStatusSuccess)
}

// executeStep dispatches one step to its handler, containing panics so a
// handler bug fails the step rather than the server
func (s *Sequencer) executeStep(ctx context.Context, deployment *interfaces.QueuedDeployment, step interfaces.Step, sink interfaces.LogSink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sink.Append(fmt.Sprintf("Error executing %s: %v", step.Type, r))
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()

	handler, ok := s.registry.Get(step.Type)
	if !ok {
		sink.Append(fmt.Sprintf("Unknown step type: %s", step.Type))
		return fmt.Errorf("unknown step type: %s", step.Type)
	}

	return handler.Execute(ctx, interfaces.StepRun{
		DeploymentID: deployment.ID,
		FTNumber:     deployment.FTNumber,
		Step:         step,
		Sink:         sink,
	})
}

func (s *Sequencer) finalize(deploymentID string, status interfaces.DeploymentStatus) {
	if err := s.tracker.SetStatus(deploymentID, status); err != nil {
		s.logger.Errorf("Failed to finalize deployment %s as %s: %v", deploymentID, status, err)
	}
}

func (s *Sequencer) appendLog(deploymentID, message string) {
	if err := s.tracker.AppendLog(deploymentID, message); err != nil {
		s.logger.Errorf("Failed to append log for %s: %v", deploymentID, err)
	}
}

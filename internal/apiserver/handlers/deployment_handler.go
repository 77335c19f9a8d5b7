// Package handlers provides HTTP request handlers for the API server.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fixdeploy/fixdeploy/internal/deployment"
	"github.com/fixdeploy/fixdeploy/internal/identity"
	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/logging"
)

// Package-level logger for global functions
var logger = logging.NewLogger("deployment-handler")

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON safely writes JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode response")
		logger.Errorf("JSON encoding error: %v, data: %+v", err, data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write response body: %v", err)
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	response := ErrorResponse{
		Error:   code,
		Message: message,
	}

	jsonData, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error: failed to encode error response"))
		logger.Errorf("Failed to encode error response: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write error response: %v", err)
	}
}

// writeDeploymentError maps service errors to HTTP responses
func writeDeploymentError(w http.ResponseWriter, err error) {
	if depErr, ok := deployment.IsDeploymentError(err); ok {
		writeError(w, depErr.HTTPStatus, depErr.Code, depErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

// DeploymentRequest is the POST body for starting a deployment
type DeploymentRequest struct {
	TemplateName string `json:"template_name"`
	FTNumber     string `json:"ft_number,omitempty"`
}

// ErrMissingTemplateName is returned when the request names no template
var ErrMissingTemplateName = errors.New("template_name is required")

// DeploymentHandler handles deployment-related HTTP requests
type DeploymentHandler struct {
	deploymentService interfaces.DeploymentService
	logger            *logging.Logger
}

// NewDeploymentHandler creates a new deployment handler
func NewDeploymentHandler(deploymentService interfaces.DeploymentService) (*DeploymentHandler, error) {
	if deploymentService == nil {
		return nil, errors.New("deployment service is required")
	}
	return &DeploymentHandler{
		deploymentService: deploymentService,
		logger:            logging.NewLogger("deployment-handler"),
	}, nil
}

// CreateDeployment starts a new template deployment
// @Summary Start template deployment
// @Description Start executing a deployment template in the background and return the deployment ID for polling
// @Tags deployments
// @Accept json
// @Produce json
// @Param deployment body DeploymentRequest true "Deployment request"
// @Success 201 {object} map[string]interface{} "Deployment started"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 404 {object} map[string]interface{} "Template not found"
// @Failure 503 {object} map[string]interface{} "Queue full"
// @Router /deployments [post]
func (h *DeploymentHandler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req DeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON in request body")
		return
	}

	if req.TemplateName == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", ErrMissingTemplateName.Error())
		return
	}

	record, err := h.deploymentService.CreateDeployment(&interfaces.DeploymentRequest{
		TemplateName: req.TemplateName,
		FTNumber:     req.FTNumber,
		Initiator:    identity.FromRequest(r),
	})
	if err != nil {
		writeDeploymentError(w, err)
		return
	}

	response := h.buildRecordResponse(record)

	metrics := h.deploymentService.GetQueueMetrics()
	response["queue_info"] = map[string]interface{}{
		"queue_depth":       metrics.CurrentDepth,
		"average_wait_time": metrics.AverageWaitTime.Seconds(),
	}

	writeJSON(w, http.StatusCreated, response)
}

// GetDeployment retrieves a deployment by ID
// @Summary Get deployment details
// @Description Retrieve the current status of a deployment
// @Tags deployments
// @Accept json
// @Produce json
// @Param id path string true "Deployment ID"
// @Success 200 {object} map[string]interface{} "Deployment details"
// @Failure 404 {object} map[string]interface{} "Deployment not found"
// @Router /deployments/{id} [get]
func (h *DeploymentHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "id")

	record, err := h.deploymentService.GetDeploymentByID(deploymentID)
	if err != nil {
		writeDeploymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.buildRecordResponse(record))
}

// GetDeploymentLogs retrieves the rendered logs of a deployment
// @Summary Get deployment logs
// @Description Retrieve the status and accumulated log lines of a deployment, suitable for polling
// @Tags deployments
// @Accept json
// @Produce json
// @Param id path string true "Deployment ID"
// @Success 200 {object} map[string]interface{} "Deployment logs"
// @Failure 404 {object} map[string]interface{} "Deployment not found"
// @Router /deployments/{id}/logs [get]
func (h *DeploymentHandler) GetDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "id")

	record, err := h.deploymentService.GetDeploymentByID(deploymentID)
	if err != nil {
		writeDeploymentError(w, err)
		return
	}

	logs, err := h.deploymentService.GetDeploymentLogs(deploymentID)
	if err != nil {
		writeDeploymentError(w, err)
		return
	}

	response := map[string]interface{}{
		"id":           record.ID,
		"status":       string(record.Status),
		"logs":         logs,
		"initiated_by": record.InitiatedBy,
	}
	if record.StartedAt != nil {
		response["started_at"] = record.StartedAt.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, response)
}

// ListDeployments retrieves the deployment history
// @Summary List deployments
// @Description Retrieve all template deployments with their current status, newest first
// @Tags deployments
// @Accept json
// @Produce json
// @Success 200 {array} map[string]interface{} "List of deployments"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /deployments [get]
func (h *DeploymentHandler) ListDeployments(w http.ResponseWriter, _ *http.Request) {
	records, err := h.deploymentService.ListDeployments(interfaces.DeploymentFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}

	response := make([]map[string]interface{}, len(records))
	for i, record := range records {
		response[i] = h.buildRecordResponse(record)
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *DeploymentHandler) buildRecordResponse(record *interfaces.DeploymentRecord) map[string]interface{} {
	response := map[string]interface{}{
		"id":            record.ID,
		"type":          string(record.Kind),
		"template_name": record.TemplateName,
		"status":        string(record.Status),
		"current_step":  record.CurrentStep,
		"total_steps":   record.TotalSteps,
		"initiated_by":  record.InitiatedBy,
		"created_at":    record.CreatedAt.Format(time.RFC3339),
	}

	if record.FTNumber != "" {
		response["ft_number"] = record.FTNumber
	}
	if record.Role != "" {
		response["user_role"] = record.Role
	}
	if record.StartedAt != nil {
		response["started_at"] = record.StartedAt.Format(time.RFC3339)
	}
	if record.CompletedAt != nil {
		response["completed_at"] = record.CompletedAt.Format(time.RFC3339)
	}

	return response
}

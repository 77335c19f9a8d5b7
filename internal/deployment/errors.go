// Package deployment provides the deployment service and error handling
package deployment

import (
	"errors"
	"fmt"
)

// Error represents a structured deployment error with context
type Error struct {
	Code       string // Machine-readable error code
	Message    string // Human-readable message
	HTTPStatus int    // Suggested HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common deployment errors
var (
	ErrDeploymentNotFound = &Error{
		Code:       "DEPLOYMENT_NOT_FOUND",
		Message:    "Deployment not found",
		HTTPStatus: 404, // Not Found
	}

	ErrTemplateNotFound = &Error{
		Code:       "TEMPLATE_NOT_FOUND",
		Message:    "Template not found",
		HTTPStatus: 404, // Not Found
	}

	ErrInvalidRequest = &Error{
		Code:       "INVALID_REQUEST",
		Message:    "Invalid deployment request",
		HTTPStatus: 400, // Bad Request
	}

	ErrQueueFull = &Error{
		Code:       "QUEUE_FULL",
		Message:    "Deployment queue is full",
		HTTPStatus: 503, // Service Unavailable
	}
)

// IsDeploymentError checks if an error is a deployment.Error
func IsDeploymentError(err error) (*Error, bool) {
	var depErr *Error
	if errors.As(err, &depErr) {
		return depErr, true
	}
	return nil, false
}

// Package middleware provides HTTP middleware for request validation and processing.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	chi "github.com/go-chi/chi/v5"
)

const (
	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize = 1 * 1024 * 1024
)

// ValidationError represents a validation error response
type ValidationError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// IDValidator creates a middleware that validates deployment IDs in URL parameters
func IDValidator(paramName string) func(http.Handler) http.Handler {
	// Valid ID pattern: alphanumeric and hyphens, 1-100 characters
	validIDPattern := regexp.MustCompile(`^[a-zA-Z0-9-]{1,100}$`)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, paramName)

			if id == "" {
				writeValidationError(w, fmt.Sprintf("%s is required", paramName), paramName)
				return
			}

			if !validIDPattern.MatchString(id) {
				writeValidationError(w, fmt.Sprintf("%s contains invalid characters or is too long", paramName), paramName)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TemplateNameValidator creates a middleware that validates template names
// in URL parameters. Template names become file path components, so the
// pattern excludes separators and dot-dot sequences.
func TemplateNameValidator(paramName string) func(http.Handler) http.Handler {
	validNamePattern := regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,98}[a-zA-Z0-9]$`)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, paramName)

			if name == "" {
				writeValidationError(w, fmt.Sprintf("%s is required", paramName), paramName)
				return
			}

			if !validNamePattern.MatchString(name) {
				writeValidationError(w, fmt.Sprintf("%s contains invalid characters or format", paramName), paramName)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ContentTypeValidator ensures requests have proper content type
func ContentTypeValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only validate on requests with body
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				if r.ContentLength > 0 || r.Header.Get("Transfer-Encoding") != "" {
					contentType := r.Header.Get("Content-Type")
					if contentType != "application/json" {
						writeValidationError(w, "Content-Type must be application/json", "header")
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimiter caps request body size to prevent oversized payloads
func BodyLimiter() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeValidationError writes a validation error response
func writeValidationError(w http.ResponseWriter, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	response := ValidationError{
		Error:   "validation_error",
		Message: message,
		Field:   field,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Best effort - the client still gets the status code
		_ = err
	}
}

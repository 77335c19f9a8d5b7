// Package apiserver provides HTTP API endpoints and server functionality for fixdeploy
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/fixdeploy/fixdeploy/internal/apiserver/handlers"
	customMiddleware "github.com/fixdeploy/fixdeploy/internal/apiserver/middleware"
	"github.com/fixdeploy/fixdeploy/internal/config"
	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/logging"
)

// APIServer provides HTTP API endpoints for deployment management
type APIServer struct {
	router            chi.Router
	server            *http.Server
	queue             interfaces.DeploymentQueue
	tracker           interfaces.DeploymentTracker
	workerPool        interfaces.WorkerPool
	deploymentService interfaces.DeploymentService
	templates         interfaces.TemplateStore
	inventory         interfaces.InventoryService
	config            *config.ServerConfig
	logger            *logging.Logger
}

// Components bundles the dependencies of the API server
type Components struct {
	Queue             interfaces.DeploymentQueue
	Tracker           interfaces.DeploymentTracker
	WorkerPool        interfaces.WorkerPool
	DeploymentService interfaces.DeploymentService
	Templates         interfaces.TemplateStore
	Inventory         interfaces.InventoryService
}

// NewAPIServer creates a new API server over the given components
func NewAPIServer(cfg *config.ServerConfig, components Components) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if components.Queue == nil {
		return nil, fmt.Errorf("deployment queue is required")
	}
	if components.Tracker == nil {
		return nil, fmt.Errorf("deployment tracker is required")
	}
	if components.DeploymentService == nil {
		return nil, fmt.Errorf("deployment service is required")
	}
	if components.Templates == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if components.Inventory == nil {
		return nil, fmt.Errorf("inventory service is required")
	}

	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID) // Generate unique request ID for tracing
	router.Use(middleware.RealIP)    // Get real client IP for logging
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes) // Remove trailing slashes for consistent routing
	router.Use(middleware.Timeout(60 * time.Second))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	apiServer := &APIServer{
		router:            router,
		server:            server,
		queue:             components.Queue,
		tracker:           components.Tracker,
		workerPool:        components.WorkerPool,
		deploymentService: components.DeploymentService,
		templates:         components.Templates,
		inventory:         components.Inventory,
		config:            cfg,
		logger:            logging.NewLogger("apiserver"),
	}

	if err := apiServer.setupRoutes(); err != nil {
		return nil, err
	}

	// Global 404 handler that returns JSON instead of HTML.
	// Set after routes to ensure it's the fallback.
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
	})

	return apiServer, nil
}

// setupRoutes wires the versioned API routes
func (s *APIServer) setupRoutes() error {
	deploymentHandler, err := handlers.NewDeploymentHandler(s.deploymentService)
	if err != nil {
		return fmt.Errorf("failed to create deployment handler: %w", err)
	}

	opsHandler := handlers.NewOperationsHandler(s.config, s.templates, s.inventory)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
		})

		// Apply content type and body size validation to all endpoints
		r.Use(customMiddleware.ContentTypeValidator())
		r.Use(customMiddleware.BodyLimiter())

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", deploymentHandler.CreateDeployment)
			r.Get("/", deploymentHandler.ListDeployments)

			r.Route("/{id}", func(r chi.Router) {
				// Apply ID validation to all endpoints with {id} parameter
				r.Use(customMiddleware.IDValidator("id"))

				r.Get("/", deploymentHandler.GetDeployment)
				r.Get("/logs", deploymentHandler.GetDeploymentLogs)
			})
		})

		r.With(customMiddleware.TemplateNameValidator("name")).
			Get("/templates/{name}", opsHandler.GetTemplate)
		r.Get("/templates", opsHandler.ListTemplates)
		r.Get("/inventory/playbooks", opsHandler.ListPlaybooks)
		r.Get("/inventory/helm-types", opsHandler.ListHelmTypes)
		r.Get("/system/config", opsHandler.GetConfig)
		r.Get("/system/runtime", opsHandler.GetRuntimeInfo)

		r.Get("/queue/metrics", s.getQueueMetrics)
		r.Get("/system/health", s.getSystemHealth)
	})

	// Swagger UI endpoint
	s.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", s.config.Port)),
	))

	return nil
}

// GetDeploymentService returns the deployment service instance
func (s *APIServer) GetDeploymentService() interfaces.DeploymentService {
	return s.deploymentService
}

// getQueueMetrics returns queue metrics
// @Summary Get queue metrics
// @Description Get metrics about the deployment queue
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Queue metrics"
// @Router /queue/metrics [get]
func (s *APIServer) getQueueMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := s.deploymentService.GetQueueMetrics()

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_enqueued":    metrics.TotalEnqueued,
		"total_dequeued":    metrics.TotalDequeued,
		"current_depth":     metrics.CurrentDepth,
		"average_wait_time": metrics.AverageWaitTime.String(),
		"oldest_deployment": metrics.OldestDeployment.Format(time.RFC3339),
	})
}

// componentHealth represents the health status of a system component
type componentHealth struct {
	Status  string
	Details map[string]interface{}
	Healthy bool
}

// getSystemHealth returns system health status
// @Summary Health check
// @Description Check if the API server is running and healthy
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Service is healthy"
// @Success 503 {object} map[string]interface{} "Service unhealthy"
// @Router /system/health [get]
func (s *APIServer) getSystemHealth(w http.ResponseWriter, _ *http.Request) {
	queueHealth := s.checkQueueHealth()
	trackerHealth := s.checkTrackerHealth()
	workerPoolHealth := s.checkWorkerPoolHealth()

	overallHealthy := queueHealth.Healthy && trackerHealth.Healthy && workerPoolHealth.Healthy

	componentDetails := map[string]interface{}{
		"queue":      queueHealth.Details,
		"tracker":    trackerHealth.Details,
		"workerPool": workerPoolHealth.Details,
	}

	s.sendHealthResponse(w, overallHealthy, componentDetails, s.getSystemMetrics())
}

// checkQueueHealth checks the health of the queue component
func (s *APIServer) checkQueueHealth() componentHealth {
	if s.queue == nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": "Queue not initialized",
			},
			Healthy: false,
		}
	}

	metrics := s.queue.GetMetrics()
	details := map[string]interface{}{
		"status":   "healthy",
		"depth":    metrics.CurrentDepth,
		"enqueued": metrics.TotalEnqueued,
		"dequeued": metrics.TotalDequeued,
	}

	healthy := true
	if metrics.CurrentDepth > 1000 {
		details["status"] = "warning"
		details["message"] = "Queue depth is high"
		healthy = false
	}

	return componentHealth{
		Status:  details["status"].(string),
		Details: details,
		Healthy: healthy,
	}
}

// checkTrackerHealth checks the health of the tracker component
func (s *APIServer) checkTrackerHealth() componentHealth {
	if s.tracker == nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": "Tracker not initialized",
			},
			Healthy: false,
		}
	}

	// List recent deployments to verify the tracker is working
	records, err := s.tracker.List(interfaces.DeploymentFilter{
		CreatedAfter: time.Now().Add(-1 * time.Minute),
	})
	if err != nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": fmt.Sprintf("Failed to query tracker: %v", err),
			},
			Healthy: false,
		}
	}

	return componentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"status":             "healthy",
			"recent_deployments": len(records),
		},
		Healthy: true,
	}
}

// checkWorkerPoolHealth checks the health of the worker pool
func (s *APIServer) checkWorkerPoolHealth() componentHealth {
	if s.workerPool == nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": "Worker pool not initialized",
			},
			Healthy: false,
		}
	}

	return componentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"status": "healthy",
		},
		Healthy: true,
	}
}

// getSystemMetrics returns current system metrics
func (s *APIServer) getSystemMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"gc_count": m.NumGC,
		},
	}
}

// sendHealthResponse sends the health check response
func (s *APIServer) sendHealthResponse(w http.ResponseWriter, healthy bool, components, system map[string]interface{}) {
	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	response := map[string]interface{}{
		"status":     status,
		"time":       time.Now().Format(time.RFC3339),
		"components": components,
		"system":     system,
		"version": map[string]interface{}{
			"api": "v1",
		},
	}

	statusCode := http.StatusOK
	if !healthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

// Start starts the API server
func (s *APIServer) Start() error {
	s.logger.Infof("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Router returns the HTTP router for testing
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down API server...")

	// Stop worker pool if present
	if s.workerPool != nil {
		if err := s.workerPool.Stop(ctx); err != nil {
			s.logger.Warnf("Warning: failed to stop worker pool: %v", err)
		}
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

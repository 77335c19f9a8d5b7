package handlers

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"

	"github.com/fixdeploy/fixdeploy/internal/config"
	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/logging"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// OperationsHandler handles template catalog, inventory, and system endpoints
type OperationsHandler struct {
	config    *config.ServerConfig
	templates interfaces.TemplateStore
	inventory interfaces.InventoryService
	logger    *logging.Logger
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(
	cfg *config.ServerConfig,
	templates interfaces.TemplateStore,
	inventory interfaces.InventoryService,
) *OperationsHandler {
	return &OperationsHandler{
		config:    cfg,
		templates: templates,
		inventory: inventory,
		logger:    logging.NewLogger("operations-handler"),
	}
}

// RegisterRoutes registers template, inventory, and system routes
func (h *OperationsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/templates", h.ListTemplates)
	r.Get("/templates/{name}", h.GetTemplate)
	r.Get("/inventory/playbooks", h.ListPlaybooks)
	r.Get("/inventory/helm-types", h.ListHelmTypes)
	r.Get("/system/config", h.GetConfig)
	r.Get("/system/runtime", h.GetRuntimeInfo)
}

// ListTemplates returns the names of available deployment templates
// @Summary List templates
// @Description List the deployment templates available on disk
// @Tags templates
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Template names"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /templates [get]
func (h *OperationsHandler) ListTemplates(w http.ResponseWriter, _ *http.Request) {
	names, err := h.templates.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": names,
		"count":     len(names),
	})
}

// GetTemplate returns one template's full definition
// @Summary Get template
// @Description Retrieve a deployment template's metadata and steps
// @Tags templates
// @Accept json
// @Produce json
// @Param name path string true "Template name"
// @Success 200 {object} map[string]interface{} "Template definition"
// @Failure 404 {object} map[string]interface{} "Template not found"
// @Router /templates/{name} [get]
func (h *OperationsHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	tmpl, err := h.templates.Load(name)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Template not found")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     name,
		"template": tmpl,
	})
}

// ListPlaybooks returns the playbook names known to the inventory
// @Summary List playbooks
// @Description List the Ansible playbooks registered in the inventory
// @Tags inventory
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Playbook names"
// @Router /inventory/playbooks [get]
func (h *OperationsHandler) ListPlaybooks(w http.ResponseWriter, _ *http.Request) {
	names := h.inventory.ListPlaybooks()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"playbooks": names,
		"count":     len(names),
	})
}

// ListHelmTypes returns the Helm deployment types known to the inventory
// @Summary List Helm deployment types
// @Description List the Helm upgrade deployment types registered in the inventory
// @Tags inventory
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Helm deployment types"
// @Router /inventory/helm-types [get]
func (h *OperationsHandler) ListHelmTypes(w http.ResponseWriter, _ *http.Request) {
	types := h.inventory.ListHelmTypes()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"helm_types": types,
		"count":      len(types),
	})
}

// GetConfig returns the current server configuration
// @Summary Get server configuration
// @Description Get the current server configuration (sanitized)
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Server configuration"
// @Router /system/config [get]
func (h *OperationsHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.config.GetSanitized())
}

// GetRuntimeInfo returns Go runtime information
// @Summary Get runtime information
// @Description Get Go runtime statistics for the server process
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Runtime information"
// @Router /system/runtime [get]
func (h *OperationsHandler) GetRuntimeInfo(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"gc_count": m.NumGC,
		},
	})
}

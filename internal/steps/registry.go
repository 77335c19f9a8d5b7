package steps

import (
	"time"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// Config carries the execution settings shared by all handlers
type Config struct {
	// FixFilesDir is the root directory fix files are read from
	FixFilesDir string
	// TargetGroup is the inventory group playbook and helm steps run against
	TargetGroup string
	// RunUser is the remote user for ansible runs
	RunUser string
	// Forks is the ansible parallelism for playbook runs
	Forks int
	// StepTimeout bounds file, SQL, and service commands
	StepTimeout time.Duration
	// PlaybookTimeout bounds playbook and helm commands
	PlaybookTimeout time.Duration
	// VerifyChecksums enables post-copy file verification
	VerifyChecksums bool
	// AnsibleInventoryPath is the fallback inventory for playbook runs
	AnsibleInventoryPath string
	// VaultPasswordFile is the fallback vault password file for playbook runs
	VaultPasswordFile string
	// ExtraVarsFile is the fallback extra vars file for playbook runs
	ExtraVarsFile string
}

// Deps bundles the collaborators handlers are built from
type Deps struct {
	Inventory interfaces.InventoryService
	Tracker   interfaces.DeploymentTracker
	Runner    CommandRunner
	Config    Config
}

// Registry maps step kinds to their handlers
type Registry struct {
	handlers map[interfaces.StepKind]interfaces.StepHandler
}

// NewRegistry creates a registry from the given handlers
func NewRegistry(handlers ...interfaces.StepHandler) *Registry {
	r := &Registry{
		handlers: make(map[interfaces.StepKind]interfaces.StepHandler, len(handlers)),
	}
	for _, h := range handlers {
		r.handlers[h.Kind()] = h
	}
	return r
}

// DefaultRegistry builds the registry with every supported step kind
func DefaultRegistry(deps Deps) *Registry {
	decoder := template.NewSpecDecoder()
	subRecords := NewSubRecords(deps.Tracker)

	return NewRegistry(
		NewFileHandler(deps, decoder, subRecords),
		NewSQLHandler(deps, decoder, subRecords),
		NewServiceHandler(deps, decoder),
		NewPlaybookHandler(deps, decoder),
		NewHelmHandler(deps, decoder),
	)
}

// Get returns the handler for a step kind
func (r *Registry) Get(kind interfaces.StepKind) (interfaces.StepHandler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered step kinds
func (r *Registry) Kinds() []interfaces.StepKind {
	kinds := make([]interfaces.StepKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

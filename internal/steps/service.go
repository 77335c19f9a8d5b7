package steps

import (
	"context"
	"fmt"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// ServiceHandler runs systemctl operations on target hosts over ansible
type ServiceHandler struct {
	deps    Deps
	decoder *template.SpecDecoder
}

// NewServiceHandler creates the service_restart step handler
func NewServiceHandler(deps Deps, decoder *template.SpecDecoder) *ServiceHandler {
	return &ServiceHandler{deps: deps, decoder: decoder}
}

// Kind returns the step kind this handler executes
func (h *ServiceHandler) Kind() interfaces.StepKind {
	return interfaces.StepKindServiceRestart
}

// Execute runs the systemctl operation on every target VM. A status
// operation is informational: its output is logged but a non-zero exit
// never fails the step.
func (h *ServiceHandler) Execute(ctx context.Context, run interfaces.StepRun) error {
	var spec template.ServiceRestartSpec
	if err := h.decoder.Decode(run.Step, &spec); err != nil {
		run.Sink.Append("Missing service name or target VMs")
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	vms := make([]interfaces.VMEntry, 0, len(spec.TargetVMs))
	for _, name := range spec.TargetVMs {
		vm, ok := h.deps.Inventory.ResolveVM(name)
		if !ok {
			run.Sink.Append(fmt.Sprintf("VM %s not found in inventory", name))
			return fmt.Errorf("%w: vm %s", ErrLookupMiss, name)
		}
		vms = append(vms, vm)
	}

	for _, vm := range vms {
		cmd := Command{
			Name: "ansible",
			Args: []string{
				vm.IP, "-i", vm.IP + ",",
				"-m", "shell",
				"-a", fmt.Sprintf("systemctl %s %s", spec.Operation, spec.Service),
				"-u", "root",
				"--become",
			},
			Timeout: h.deps.Config.StepTimeout,
		}

		err := h.deps.Runner.Run(ctx, cmd, run.Sink)
		if err != nil {
			if spec.Operation == "status" {
				run.Sink.Append(fmt.Sprintf("Service %s status check reported an error on %s", spec.Service, vm.IP))
				continue
			}
			run.Sink.Append(fmt.Sprintf("Service operation failed: %v", err))
			return err
		}

		run.Sink.Append(fmt.Sprintf("Systemctl %s %s executed on %s", spec.Operation, spec.Service, vm.IP))
	}

	return nil
}

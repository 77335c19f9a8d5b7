package steps

import (
	"context"
	"fmt"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// helmLinePrefix marks streamed helm output in the deployment log
const helmLinePrefix = "HELM: "

// HelmHandler runs helm upgrades. The upgrade command comes from the
// inventory and executes on the target group through ansible's shell
// module; the server never invokes helm directly.
type HelmHandler struct {
	deps    Deps
	decoder *template.SpecDecoder
}

// NewHelmHandler creates the helm_upgrade step handler
func NewHelmHandler(deps Deps, decoder *template.SpecDecoder) *HelmHandler {
	return &HelmHandler{deps: deps, decoder: decoder}
}

// Kind returns the step kind this handler executes
func (h *HelmHandler) Kind() interfaces.StepKind {
	return interfaces.StepKindHelmUpgrade
}

// Execute runs the upgrade command for the step's deployment type
func (h *HelmHandler) Execute(ctx context.Context, run interfaces.StepRun) error {
	var spec template.HelmUpgradeSpec
	if err := h.decoder.Decode(run.Step, &spec); err != nil {
		run.Sink.Append("Missing helm deployment type")
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	helmCmd, ok := h.deps.Inventory.ResolveHelmCommand(spec.DeploymentType)
	if !ok {
		run.Sink.Append(fmt.Sprintf("Helm deployment type %s not found in inventory", spec.DeploymentType))
		return fmt.Errorf("%w: helm_upgrade %s", ErrLookupMiss, spec.DeploymentType)
	}

	run.Sink.Append(fmt.Sprintf("Running Helm upgrade: %s on %s", helmCmd.Command, h.deps.Config.TargetGroup))

	cmd := Command{
		Name: "ansible",
		Args: []string{
			h.deps.Config.TargetGroup,
			"-i", h.deps.Config.AnsibleInventoryPath,
			"-m", "shell",
			"-a", helmCmd.Command,
		},
		Timeout: h.deps.Config.PlaybookTimeout,
		Prefix:  helmLinePrefix,
	}

	if err := h.deps.Runner.Run(ctx, cmd, run.Sink); err != nil {
		run.Sink.Append(fmt.Sprintf("Helm upgrade failed: %v", err))
		return err
	}

	run.Sink.Append(fmt.Sprintf("Helm upgrade for %s completed successfully", spec.DeploymentType))
	return nil
}

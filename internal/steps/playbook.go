package steps

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// PlaybookHandler runs ansible playbooks resolved from the inventory.
// Playbook output streams straight into the parent deployment log so
// long runs show progress while still executing.
type PlaybookHandler struct {
	deps    Deps
	decoder *template.SpecDecoder
}

// NewPlaybookHandler creates the ansible_playbook step handler
func NewPlaybookHandler(deps Deps, decoder *template.SpecDecoder) *PlaybookHandler {
	return &PlaybookHandler{deps: deps, decoder: decoder}
}

// Kind returns the step kind this handler executes
func (h *PlaybookHandler) Kind() interfaces.StepKind {
	return interfaces.StepKindAnsiblePlaybook
}

// Execute runs the named playbook against the configured target group
func (h *PlaybookHandler) Execute(ctx context.Context, run interfaces.StepRun) error {
	var spec template.AnsiblePlaybookSpec
	if err := h.decoder.Decode(run.Step, &spec); err != nil {
		run.Sink.Append("Missing playbook name")
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	entry, ok := h.deps.Inventory.ResolvePlaybook(spec.Playbook)
	if !ok {
		run.Sink.Append(fmt.Sprintf("Playbook %s not found in inventory", spec.Playbook))
		return fmt.Errorf("%w: playbook %s", ErrLookupMiss, spec.Playbook)
	}

	run.Sink.Append(fmt.Sprintf("Running Ansible playbook: %s on %s with %s user",
		spec.Playbook, h.deps.Config.TargetGroup, h.deps.Config.RunUser))

	cmd := Command{
		Name:    "ansible-playbook",
		Args:    h.buildArgs(entry),
		Timeout: h.deps.Config.PlaybookTimeout,
	}

	if err := h.deps.Runner.Run(ctx, cmd, run.Sink); err != nil {
		run.Sink.Append(fmt.Sprintf("Playbook %s failed: %v", spec.Playbook, err))
		return err
	}

	run.Sink.Append(fmt.Sprintf("Playbook %s completed successfully", spec.Playbook))
	return nil
}

// buildArgs assembles the ansible-playbook command line. Per-playbook
// inventory settings win over the server-wide defaults.
func (h *PlaybookHandler) buildArgs(entry interfaces.PlaybookEntry) []string {
	inventoryPath := entry.Inventory
	if inventoryPath == "" {
		inventoryPath = h.deps.Config.AnsibleInventoryPath
	}

	forks := entry.Forks
	if forks <= 0 {
		forks = h.deps.Config.Forks
	}

	args := []string{
		"-i", inventoryPath,
		entry.Path,
		"--limit", h.deps.Config.TargetGroup,
		"--user", h.deps.Config.RunUser,
		"--forks", strconv.Itoa(forks),
	}

	extraVars := entry.ExtraVars
	if len(extraVars) == 0 && h.deps.Config.ExtraVarsFile != "" {
		extraVars = []string{"@" + h.deps.Config.ExtraVarsFile}
	}
	for _, extraVar := range extraVars {
		args = append(args, "-e", extraVar)
	}

	vaultFile := entry.VaultPasswordFile
	if vaultFile == "" {
		vaultFile = h.deps.Config.VaultPasswordFile
	}
	if vaultFile != "" {
		args = append(args, "--vault-password-file", vaultFile)
	}

	return args
}

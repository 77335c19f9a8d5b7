package steps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// filePrefix marks absorbed file sub-deployment log lines in the parent
const filePrefix = "[FILE] "

// FileHandler deploys fix files to target hosts with ansible's copy
// module. Each copy runs under a short-lived sub-record that is absorbed
// into the parent log when the command finishes.
type FileHandler struct {
	deps       Deps
	decoder    *template.SpecDecoder
	subRecords *SubRecords
}

// NewFileHandler creates the file_deployment step handler
func NewFileHandler(deps Deps, decoder *template.SpecDecoder, subRecords *SubRecords) *FileHandler {
	return &FileHandler{deps: deps, decoder: decoder, subRecords: subRecords}
}

// Kind returns the step kind this handler executes
func (h *FileHandler) Kind() interfaces.StepKind {
	return interfaces.StepKindFileDeployment
}

// Execute copies every file to every target VM, failing fast on the
// first copy that does not land
func (h *FileHandler) Execute(ctx context.Context, run interfaces.StepRun) error {
	var spec template.FileDeploymentSpec
	if err := h.decoder.Decode(run.Step, &spec); err != nil {
		run.Sink.Append("Missing files or target VMs for file deployment")
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	targetUser := spec.TargetUser
	if targetUser == "" {
		targetUser = "root"
	}

	ftNumber := spec.FTNumber
	if ftNumber == "" {
		ftNumber = run.FTNumber
	}

	// Resolve every VM up front so a bad name fails before any copy runs
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
		for _, fileName := range spec.Files {
			sourcePath := h.sourcePath(ftNumber, fileName)
			if _, err := os.Stat(sourcePath); err != nil {
				run.Sink.Append(fmt.Sprintf("Source file %s not found", sourcePath))
				return fmt.Errorf("%w: %s", ErrSourceMissing, sourcePath)
			}

			if err := h.copyFile(ctx, run, vm, targetUser, sourcePath, spec.TargetPath, fileName); err != nil {
				return err
			}

			run.Sink.Append(fmt.Sprintf("File %s deployed to %s:%s", fileName, vm.IP, spec.TargetPath))

			if h.deps.Config.VerifyChecksums {
				if err := h.verifyChecksum(ctx, run, vm, targetUser, sourcePath, spec.TargetPath, fileName); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// copyFile runs one ansible copy under a sub-record and absorbs its log
func (h *FileHandler) copyFile(ctx context.Context, run interfaces.StepRun, vm interfaces.VMEntry, targetUser, sourcePath, targetPath, fileName string) error {
	subID, subSink, err := h.subRecords.Begin(interfaces.RecordKindFile, run.DeploymentID, run.FTNumber)
	if err != nil {
		run.Sink.Append(fmt.Sprintf("File deployment failed: %v", err))
		return err
	}

	cmd := Command{
		Name: "ansible",
		Args: []string{
			vm.IP, "-i", vm.IP + ",",
			"-m", "copy",
			"-a", fmt.Sprintf("src=%s dest=%s backup=yes", sourcePath, filepath.Join(targetPath, fileName)),
			"-u", targetUser,
			"--become",
		},
		Timeout: h.deps.Config.StepTimeout,
	}
	runErr := h.deps.Runner.Run(ctx, cmd, subSink)

	// A failed absorb never masks the command failure
	if err := h.subRecords.Absorb(subID, run.DeploymentID, filePrefix); err != nil {
		run.Sink.Append(fmt.Sprintf("File deployment failed: %v", err))
		if runErr == nil {
			return err
		}
	}

	return runErr
}

// verifyChecksum compares the local file digest with the remote copy's
func (h *FileHandler) verifyChecksum(ctx context.Context, run interfaces.StepRun, vm interfaces.VMEntry, targetUser, sourcePath, targetPath, fileName string) error {
	localSum, err := sha256File(sourcePath)
	if err != nil {
		run.Sink.Append(fmt.Sprintf("Checksum verification failed for %s: %v", fileName, err))
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, fileName)
	}

	capture := &captureSink{}
	cmd := Command{
		Name: "ansible",
		Args: []string{
			vm.IP, "-i", vm.IP + ",",
			"-m", "shell",
			"-a", "sha256sum " + filepath.Join(targetPath, fileName),
			"-u", targetUser,
			"--become",
		},
		Timeout: h.deps.Config.StepTimeout,
	}
	if err := h.deps.Runner.Run(ctx, cmd, capture); err != nil {
		run.Sink.Append(fmt.Sprintf("Checksum verification failed for %s on %s", fileName, vm.IP))
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, fileName)
	}

	if !capture.contains(localSum) {
		run.Sink.Append(fmt.Sprintf("Checksum mismatch for %s on %s", fileName, vm.IP))
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, fileName)
	}

	run.Sink.Append(fmt.Sprintf("Checksum verified for %s on %s", fileName, vm.IP))
	return nil
}

// sourcePath resolves a fix file name under the fix files root
func (h *FileHandler) sourcePath(ftNumber, fileName string) string {
	if ftNumber != "" {
		return filepath.Join(h.deps.Config.FixFilesDir, ftNumber, fileName)
	}
	return filepath.Join(h.deps.Config.FixFilesDir, fileName)
}

// sha256File computes the hex digest of a local file
func sha256File(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is confined to the fix files directory
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// captureSink collects log lines in memory for inspection
type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *captureSink) Append(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, message)
}

func (s *captureSink) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range s.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

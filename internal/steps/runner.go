package steps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/pkg/logging"
)

// Command describes one external tool invocation
type Command struct {
	Name string
	Args []string
	// Env holds extra KEY=VALUE entries appended to the process environment.
	// Secrets travel here, never in Args: Args are echoed into the
	// deployment log, Env entries are not.
	Env     []string
	Timeout time.Duration
	// Prefix is prepended to every output line appended to the sink
	Prefix string
}

// String renders the command line the way it appears in deployment logs
func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// CommandRunner executes external commands, streaming output to a sink
type CommandRunner interface {
	Run(ctx context.Context, cmd Command, sink interfaces.LogSink) error
}

// ExecRunner runs commands as subprocesses. Output lines are appended to
// the sink as they arrive so pollers see progress mid-command.
type ExecRunner struct{}

// NewExecRunner creates a subprocess command runner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command and classifies its failure mode
func (r *ExecRunner) Run(ctx context.Context, cmd Command, sink interfaces.LogSink) error {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, cmd.Name, cmd.Args...) //nolint:gosec // command and args come from operator-managed inventory
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		sink.Append(fmt.Sprintf("%sError executing command: %v", cmd.Prefix, err))
		return fmt.Errorf("%w: failed to start %s: %v", ErrTransport, cmd.Name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout, cmd.Prefix, sink)
	go streamLines(&wg, stderr, cmd.Prefix, sink)
	wg.Wait()

	waitErr := proc.Wait()

	exitCode := 0
	if proc.ProcessState != nil {
		exitCode = proc.ProcessState.ExitCode()
	}
	logging.CommandExecuted(cmd.String(), exitCode)

	if waitErr == nil {
		sink.Append(fmt.Sprintf("%sCommand executed successfully: %s", cmd.Prefix, cmd.String()))
		return nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		sink.Append(fmt.Sprintf("%sCommand timed out after %s: %s", cmd.Prefix, cmd.Timeout, cmd.String()))
		return fmt.Errorf("%w: %s", ErrSubprocessTimeout, cmd.String())
	}

	// Caller cancellation, typically server shutdown, is not a command failure
	if errors.Is(runCtx.Err(), context.Canceled) {
		sink.Append(fmt.Sprintf("%sCommand canceled: %s", cmd.Prefix, cmd.String()))
		return fmt.Errorf("%s: %w", cmd.String(), context.Canceled)
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		sink.Append(fmt.Sprintf("%sCommand failed with return code %d: %s", cmd.Prefix, exitCode, cmd.String()))
		return ExitError(exitCode)
	}

	sink.Append(fmt.Sprintf("%sError executing command: %v", cmd.Prefix, waitErr))
	return fmt.Errorf("%w: %s: %v", ErrTransport, cmd.Name, waitErr)
}

// streamLines copies output lines into the sink with the given prefix
func streamLines(wg *sync.WaitGroup, r io.Reader, prefix string, sink interfaces.LogSink) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		sink.Append(prefix + line)
	}
}

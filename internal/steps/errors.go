// Package steps implements the handlers that execute each deployment
// step kind by driving external tools (ansible, psql) as subprocesses.
package steps

import (
	"errors"
	"fmt"
)

// Step failure classes. Handlers wrap these so the sequencer and tests
// can distinguish why a step failed without parsing log text.
var (
	// ErrLookupMiss indicates a logical name was not found in the inventory
	ErrLookupMiss = errors.New("inventory lookup miss")
	// ErrSourceMissing indicates a referenced fix file does not exist
	ErrSourceMissing = errors.New("source file missing")
	// ErrSubprocessTimeout indicates an external command exceeded its deadline
	ErrSubprocessTimeout = errors.New("subprocess timed out")
	// ErrNonZeroExit indicates an external command exited with a failure code
	ErrNonZeroExit = errors.New("command exited with non-zero status")
	// ErrTransport indicates the external tool could not be started or
	// failed outside of its own exit status
	ErrTransport = errors.New("command transport failed")
	// ErrInvalidSpec indicates the step payload could not be decoded
	ErrInvalidSpec = errors.New("invalid step spec")
	// ErrChecksumMismatch indicates a deployed file failed verification
	ErrChecksumMismatch = errors.New("checksum verification failed")
)

// ExitError wraps ErrNonZeroExit with the command's exit code
func ExitError(code int) error {
	return fmt.Errorf("%w: exit code %d", ErrNonZeroExit, code)
}

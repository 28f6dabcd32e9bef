// Package process terminates OS processes that policy blocks.
package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

// ErrInvalidPID is returned for process IDs that cannot name a user process.
var ErrInvalidPID = errors.New("invalid process id")

// ErrExecutableMismatch is returned when the running process is not the
// executable it was reported as.
var ErrExecutableMismatch = errors.New("process executable does not match")

// ErrUnverifiable is returned when the executable behind a PID cannot be
// determined, so the PID cannot be tied to an observation.
var ErrUnverifiable = errors.New("process executable cannot be verified")

// Terminator kills processes by PID.
type Terminator struct {
	self int
}

// NewTerminator creates a Terminator that refuses to kill selfPID.
func NewTerminator(selfPID int) *Terminator {
	return &Terminator{self: selfPID}
}

// Terminate forcibly stops pid after checking that it runs
// executablePath. An already exited process is not an error.
func (t *Terminator) Terminate(pid int, executablePath string) error {
	if pid <= 1 || pid == t.self {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	if executablePath == "" {
		return fmt.Errorf("%w: pid %d has no reported executable", ErrUnverifiable, pid)
	}

	running, err := executable(pid)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: pid %d: %v", ErrUnverifiable, pid, err)
	}
	if !samePath(running, executablePath) {
		return fmt.Errorf("%w: pid %d runs %s, not %s", ErrExecutableMismatch, pid, running, executablePath)
	}
	return terminate(pid)
}

// samePath compares two executable paths after resolving symlinks in
// want. Windows paths compare case-insensitively.
func samePath(running, want string) bool {
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	running, want = filepath.Clean(running), filepath.Clean(want)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(running, want)
	}
	return running == want
}

// Alive reports whether pid names a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return alive(pid)
}

// Interrupt asks pid to shut down gracefully: SIGTERM on Unix, termination
// on Windows.
func Interrupt(pid int) error {
	if pid <= 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	return interrupt(pid)
}

// ShutdownSignals returns the signals that should stop the agent cleanly.
func ShutdownSignals() []os.Signal {
	return shutdownSignals()
}

var _ outbound.ProcessTerminator = (*Terminator)(nil)

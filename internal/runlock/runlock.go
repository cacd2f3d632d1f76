// Package runlock serializes sweeps per host with a pid lockfile. A lock
// held by a dead process is adopted, so a crashed run never wedges the
// schedule.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// ErrHeld is returned when a live process already holds the lock.
var ErrHeld = errors.New("run lock held by a live process")

// Lock is an acquired lockfile.
type Lock struct {
	path   string
	logger *zap.Logger
}

// Acquire takes the lockfile at path, writing this process id. If the file
// exists and its holder is still alive, ErrHeld is returned with the
// holder's pid in the message. A stale lock is adopted.
func Acquire(path string, logger *zap.Logger) (*Lock, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		pid, perr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d, lockfile %s)", ErrHeld, pid, path)
		}
		logger.Warn("adopting stale run lock",
			zap.String("path", path),
			zap.String("previous_holder", strings.TrimSpace(string(raw))))
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read lockfile %s: %w", path, err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write lockfile %s: %w", path, err)
	}
	logger.Info("run lock acquired", zap.String("path", path), zap.Int("pid", pid))
	return &Lock{path: path, logger: logger}, nil
}

// Release removes the lockfile if this process still holds it.
func (l *Lock) Release() {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if strings.TrimSpace(string(raw)) != strconv.Itoa(os.Getpid()) {
		l.logger.Warn("lockfile no longer held by this process, leaving it",
			zap.String("path", l.path))
		return
	}
	if err := os.Remove(l.path); err != nil {
		l.logger.Warn("failed to remove lockfile", zap.String("path", l.path), zap.Error(err))
		return
	}
	l.logger.Info("run lock released", zap.String("path", l.path))
}

// processAlive reports whether a process with the given pid exists.
// Signal 0 probes without delivering anything; EPERM still means alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

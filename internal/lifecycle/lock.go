package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = "bridge.lock"

// ErrAlreadyRunning is returned when a live bridge process holds the
// lock.
var ErrAlreadyRunning = errors.New("lifecycle: another bridge instance is running")

// Lock is the held single-instance lock.
type Lock struct {
	path string
	pid  int
}

// AcquireLock takes the single-instance pid lock under dataDir. A lock
// owned by a dead process is replaced; a live owner aborts with
// ErrAlreadyRunning.
func AcquireLock(dataDir string) (*Lock, error) {
	path := filepath.Join(dataDir, lockFileName)

	if pid, err := readLockPID(path); err == nil {
		if processAlive(pid) {
			return nil, fmt.Errorf("%w: pid %d", ErrAlreadyRunning, pid)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	pid := os.Getpid()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", err)
	}
	return &Lock{path: path, pid: pid}, nil
}

// Release removes the lock if this process still owns it. Safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	pid, err := readLockPID(l.path)
	if err != nil || pid != l.pid {
		return nil
	}
	return os.Remove(l.path)
}

// LockHolder returns the pid of a live lock owner under dataDir, if any.
func LockHolder(dataDir string) (int, bool) {
	pid, err := readLockPID(filepath.Join(dataDir, lockFileName))
	if err != nil || !processAlive(pid) {
		return 0, false
	}
	return pid, true
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse lock pid: %w", err)
	}
	return pid, nil
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

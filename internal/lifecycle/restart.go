package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"pocketbridge/internal/logger"
)

// Restart replaces the running bridge: terminate the lock holder, then
// start a fresh detached `run`. The new process restores pairing, focus,
// and delivery cursors from the state database, so from the relay side a
// restart is one short gap, not a re-pairing.
func Restart(dataDir string) error {
	if pid, held := LockHolder(dataDir); held {
		logger.Info("stopping running bridge", "pid", pid)
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal pid %d: %w", pid, err)
		}
		if !waitExit(pid, 5*time.Second) {
			logger.Warn("bridge did not exit, killing", "pid", pid)
			_ = syscall.Kill(pid, syscall.SIGKILL)
			waitExit(pid, 2*time.Second)
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(exe, "run")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start new bridge: %w", err)
	}
	logger.Info("bridge restarted", "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}

func waitExit(pid int, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !processAlive(pid)
}

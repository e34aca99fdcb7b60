// Package process probes whether other codemie processes are still alive.
// The lock manager leans on it to decide when a sync.lock left behind by a
// crashed run may be reclaimed.
package process

import (
	"os"
	"syscall"
)

// IsProcessAlive reports whether a process with the given PID exists.
// Works on Unix-like systems (macOS, Linux) by sending signal 0, which
// probes for existence without delivering anything.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	// On Unix FindProcess never fails, even for dead PIDs; the signal probe
	// below is the real check.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))

	// nil means alive and signalable. EPERM means alive but owned by
	// someone else (e.g. root), which still counts: its lock must be
	// respected. ESRCH means the process is gone.
	return err == nil || os.IsPermission(err)
}

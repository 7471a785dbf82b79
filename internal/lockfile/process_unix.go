//go:build unix

package lockfile

import "syscall"

// isProcessRunning probes liveness with signal 0. A pid of 0 would hit
// our own process group, so it reads as not running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

//go:build windows

package lockfile

import "os"

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// FindProcess always succeeds on Windows; a live handle is enough of
	// a liveness signal for staleness reporting.
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

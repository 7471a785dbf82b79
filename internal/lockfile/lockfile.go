// Package lockfile guards single-instance daemon execution with an
// advisory lock on a metadata file. braid serve takes the lock before
// opening watchers or the scheduler; a second serve against the same
// state directory fails fast instead of double-syncing the fleet.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileName is the lock file kept next to the state database.
const FileName = "braid.lock"

// ErrLocked reports that another live process holds the lock.
var ErrLocked = errors.New("another braid daemon holds the lock")

// LockInfo describes the holder, written as JSON into the lock file so
// status tooling can say who owns the directory.
type LockInfo struct {
	PID       int       `json:"pid"`
	Database  string    `json:"database,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held daemon lock. Release on shutdown.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Acquire takes the exclusive lock in dir, creating the directory as
// needed, and records the holder. When the lock is held by a live
// process the error wraps ErrLocked and names the pid.
func Acquire(dir string, info LockInfo) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		holder, _ := ReadLockInfo(dir)
		_ = f.Close()
		if !errors.Is(err, errLockBusy) {
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if holder != nil && holder.PID > 0 {
			return nil, fmt.Errorf("%w (pid %d since %s)", ErrLocked,
				holder.PID, holder.StartedAt.Format(time.RFC3339))
		}
		return nil, ErrLocked
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	data, err := json.Marshal(info)
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("encoding lock info: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		if _, err := f.WriteAt(data, 0); err == nil {
			_ = f.Sync()
		}
	}

	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and removes the file. Safe on nil.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := flockUnlock(l.f)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return cerr
}

// ReadLockInfo reads the holder metadata from dir's lock file. It
// understands both the JSON format and a bare pid left by older builds.
// A missing file returns an error; callers treat that as "not running".
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != 0 {
		return &info, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format")
	}
	return &LockInfo{PID: pid}, nil
}

// IsStale reports whether dir's lock file names a process that is no
// longer running. A missing lock file is not stale, just absent.
func IsStale(dir string) bool {
	info, err := ReadLockInfo(dir)
	if err != nil {
		return false
	}
	return !isProcessRunning(info.PID)
}

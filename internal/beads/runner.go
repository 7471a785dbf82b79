// Package beads drives the per-repository Beads issue stores that live
// in each project's working tree: bd CLI operations, JSONL and SQLite
// reads, idempotent layout setup, and the git stage/commit/push that
// publishes changes.
package beads

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/telemetry"
)

// slowCall matches the remote layer's warning threshold.
const slowCall = 5 * time.Second

// Runner executes bd subcommands inside a project working tree. Every
// invocation appends --no-daemon so the engine never contends with a
// background daemon for the store lock. Arguments travel as an argv
// vector, never through a shell, so titles with quotes, dollar signs,
// and backticks arrive intact.
type Runner struct {
	Bin     string        // bd binary, "bd" when empty
	Delay   time.Duration // pause after each call, 0 disables
	Logger  *zap.Logger
	Metrics *telemetry.SyncMetrics
}

func NewRunner(logger *zap.Logger, metrics *telemetry.SyncMetrics, delay time.Duration) *Runner {
	return &Runner{Bin: "bd", Delay: delay, Logger: logger, Metrics: metrics}
}

// CommandError carries the exit status and captured stderr of a failed
// bd or git call.
type CommandError struct {
	Op     string
	Dir    string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s in %s: %v", e.Op, e.Dir, e.Err)
	}
	return fmt.Sprintf("%s in %s: %v: %s", e.Op, e.Dir, e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Run executes one bd command with dir as the working directory and
// returns its stdout.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	bin := r.Bin
	if bin == "" {
		bin = "bd"
	}
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, args...)
	argv = append(argv, "--no-daemon")

	op := "bd"
	if len(args) > 0 {
		op = "bd " + args[0]
	}

	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	r.Metrics.RecordLatency(ctx, "beads", op, float64(elapsed.Milliseconds()))
	if elapsed > slowCall {
		r.Logger.Warn("slow bd call",
			zap.String("op", op),
			zap.String("dir", dir),
			zap.Duration("elapsed", elapsed),
		)
	}

	r.pause(ctx)

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s in %s: %w", op, dir, ctx.Err())
		}
		return nil, &CommandError{Op: op, Dir: dir, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// pause applies the configured inter-op delay. Some bd builds hold the
// SQLite lock briefly after exit; the delay keeps rapid-fire cascades
// from tripping over it.
func (r *Runner) pause(ctx context.Context) {
	if r.Delay <= 0 {
		return
	}
	select {
	case <-time.After(r.Delay):
	case <-ctx.Done():
	}
}

// SanitizeTitle collapses whitespace runs to single spaces and strips
// control characters, so multi-line Huly titles survive the CLI
// boundary as a single argument.
func SanitizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsControl(r):
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

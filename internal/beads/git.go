package beads

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CommitMessage renders the timestamped message every Beads commit
// carries.
func CommitMessage(t time.Time) string {
	return fmt.Sprintf("chore(beads): sync changes at %s", t.Format("2006-01-02 15:04:05"))
}

// FlushFunc stages and commits pending store changes under a message.
// Adapter.SyncFlush is the usual implementation.
type FlushFunc func(ctx context.Context, message string) error

// Committer publishes a project's .beads changes to git. It exists for
// the cases bd sync cannot handle itself: trees where the pre-commit
// hook fails, trees where an over-broad ignore rule hides the JSONL
// export, and trees where bd reports nothing to commit while the
// working copy is in fact dirty.
type Committer struct {
	Logger *zap.Logger
	Git    string // git binary, "git" when empty
	Push   bool   // push after a successful commit
}

func NewCommitter(logger *zap.Logger, push bool) *Committer {
	return &Committer{Logger: logger, Git: "git", Push: push}
}

// Publish flushes pending changes through flush, recovers from the
// known commit failure modes, and pushes when configured. A push
// failure never fails the publish; the commit is durable locally and
// the next cycle retries the push.
func (c *Committer) Publish(ctx context.Context, dir string, now time.Time, flush FlushFunc) error {
	message := CommitMessage(now)

	if err := flush(ctx, message); err != nil {
		if err := c.commitFallback(ctx, dir, message, err); err != nil {
			return err
		}
	}

	if c.Push {
		if err := c.push(ctx, dir); err != nil {
			c.Logger.Warn("git push failed, will retry next cycle",
				zap.String("dir", dir), zap.Error(err))
		}
	}
	return nil
}

// commitFallback handles a failed flush. When the store files are
// untouched the failure was "nothing to commit" and there is nothing to
// do. Otherwise stage them explicitly and commit directly, bypassing
// hooks on a second attempt if the first one dies in a pre-commit hook.
func (c *Committer) commitFallback(ctx context.Context, dir, message string, flushErr error) error {
	files := storeFiles(dir)
	dirty, err := c.isDirty(ctx, dir, files)
	if err != nil {
		return fmt.Errorf("checking working tree after failed flush: %w (flush: %v)", err, flushErr)
	}
	if !dirty {
		if !isNothingToCommit(flushErr) {
			c.Logger.Warn("bd sync failed but store files are clean, treating as committed",
				zap.String("dir", dir), zap.Error(flushErr))
		}
		return nil
	}

	c.Logger.Info("recovering commit with explicit staging",
		zap.String("dir", dir), zap.Error(flushErr))

	if err := c.stage(ctx, dir, files); err != nil {
		return err
	}
	if _, err := c.git(ctx, dir, "commit", "-m", message); err != nil {
		if isNothingToCommit(err) {
			return nil
		}
		c.Logger.Warn("commit failed, retrying with hooks bypassed",
			zap.String("dir", dir), zap.Error(err))
		if _, err := c.git(ctx, dir, "commit", "--no-verify", "-m", message); err != nil {
			if isNothingToCommit(err) {
				return nil
			}
			return fmt.Errorf("committing beads changes: %w", err)
		}
	}
	return nil
}

// storeFiles lists the repo-relative files the committer owns: the JSONL
// exports, the store's config trio, and the repository .gitattributes.
// Databases and daemon state are deliberately absent; naming files one
// by one is what keeps the force flag in stage from dragging them in.
func storeFiles(dir string) []string {
	beadsDir := FindBeadsDir(dir)
	if beadsDir == "" {
		return nil
	}
	var files []string
	add := func(p string) {
		if _, err := os.Stat(p); err != nil {
			return
		}
		if rel, err := filepath.Rel(dir, p); err == nil {
			files = append(files, rel)
		}
	}
	add(FindJSONLPath(beadsDir))
	for _, name := range []string{"deletions.jsonl", "interactions.jsonl", "metadata.json", "config.yaml", ".gitignore"} {
		add(filepath.Join(beadsDir, name))
	}
	add(filepath.Join(dir, ".gitattributes"))
	return files
}

// isDirty reports whether any store file has pending changes. The
// --ignored flag makes an export swallowed by an over-broad ignore rule
// count as dirty instead of silently vanishing from the status.
func (c *Committer) isDirty(ctx context.Context, dir string, files []string) (bool, error) {
	if len(files) == 0 {
		return false, nil
	}
	args := append([]string{"status", "--porcelain", "--ignored", "--"}, files...)
	out, err := c.git(ctx, dir, args...)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// stage force-adds the named store files. The force flag defeats ignore
// rules; the file list keeps it from touching anything else.
func (c *Committer) stage(ctx context.Context, dir string, files []string) error {
	args := append([]string{"add", "-f", "--"}, files...)
	if _, err := c.git(ctx, dir, args...); err != nil {
		return fmt.Errorf("staging store files: %w", err)
	}
	return nil
}

func (c *Committer) push(ctx context.Context, dir string) error {
	_, err := c.git(ctx, dir, "push")
	return err
}

// git runs one git command in dir and returns combined output. git
// writes "nothing to commit" to stdout, so both streams matter for
// failure matching.
func (c *Committer) git(ctx context.Context, dir string, args ...string) (string, error) {
	bin := c.Git
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s in %s: %w", args[0], dir, ctx.Err())
		}
		return "", &CommandError{Op: "git " + args[0], Dir: dir, Stderr: out.String(), Err: err}
	}
	return out.String(), nil
}

func isNothingToCommit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nothing to commit") ||
		strings.Contains(msg, "nothing added to commit") ||
		strings.Contains(msg, "no changes added to commit")
}

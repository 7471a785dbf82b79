package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/braid/internal/types"
)

// Verify sqliteTx implements Tx at compile time
var _ Tx = (*sqliteTx)(nil)

// sqliteTx implements the Tx interface over a dedicated connection with an
// active transaction.
type sqliteTx struct {
	conn *sql.Conn
}

// RunInTransaction executes fn within a database transaction.
//
// The transaction uses BEGIN IMMEDIATE to acquire the write lock up front,
// preventing deadlocks when multiple goroutines compete for it. On error or
// panic the transaction is rolled back; a panic is re-raised to the caller.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	// A dedicated connection keeps every statement of the transaction on
	// the same underlying SQLite handle.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			panic(r) // Rollback happens via the committed=false check above
		}
	}()

	if err := fn(&sqliteTx{conn: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry starts an IMMEDIATE transaction, retrying with
// doubling delays when another writer holds the lock.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// UpsertProject inserts or merges a project within the transaction.
func (t *sqliteTx) UpsertProject(ctx context.Context, p *types.Project) error {
	return upsertProject(ctx, t.conn, p)
}

// UpsertIssue inserts or merges a mapping row within the transaction.
func (t *sqliteTx) UpsertIssue(ctx context.Context, patch types.IssuePatch) error {
	return upsertIssue(ctx, t.conn, patch)
}

// UpdateParentChild rewrites both parent pointers within the transaction.
func (t *sqliteTx) UpdateParentChild(ctx context.Context, childIdentifier, parentHulyID, parentBeadsID string) error {
	return updateParentChild(ctx, t.conn, childIdentifier, parentHulyID, parentBeadsID)
}

// MarkDeletedFromHuly tombstones an issue within the transaction.
func (t *sqliteTx) MarkDeletedFromHuly(ctx context.Context, identifier string) error {
	return markDeletedFromHuly(ctx, t.conn, identifier)
}

// SetHulySyncCursor advances the watermark within the transaction.
func (t *sqliteTx) SetHulySyncCursor(ctx context.Context, projectIdentifier, iso string) error {
	return setHulySyncCursor(ctx, t.conn, projectIdentifier, iso)
}

// UpsertProjectFile records a docs upload within the transaction.
func (t *sqliteTx) UpsertProjectFile(ctx context.Context, f *types.ProjectFile) error {
	return upsertProjectFile(ctx, t.conn, f)
}

// Package braid provides a minimal public API for tooling that reads the
// sync engine's state database directly.
//
// Most integrations should talk to the running service instead. This
// package exports only the record types and a store opener for Go tools
// that want programmatic access to braid's mapping state.
package braid

import (
	"context"

	"github.com/steveyegge/braid/internal/store"
	"github.com/steveyegge/braid/internal/types"
)

// Core record types
type (
	Issue   = types.Issue
	Project = types.Project
	SyncRun = types.SyncRun
)

// Status vocabularies of the three synced systems
type (
	HulyStatus  = types.HulyStatus
	VibeStatus  = types.VibeStatus
	BeadsStatus = types.BeadsStatus
)

// Huly status constants
const (
	HulyBacklog    = types.HulyBacklog
	HulyTodo       = types.HulyTodo
	HulyInProgress = types.HulyInProgress
	HulyInReview   = types.HulyInReview
	HulyDone       = types.HulyDone
	HulyCancelled  = types.HulyCancelled
)

// Beads status constants
const (
	BeadsOpen       = types.BeadsOpen
	BeadsInProgress = types.BeadsInProgress
	BeadsBlocked    = types.BeadsBlocked
	BeadsDeferred   = types.BeadsDeferred
	BeadsClosed     = types.BeadsClosed
)

// ErrNotFound is returned by lookups for records that don't exist.
// Callers match it with errors.Is.
var ErrNotFound = store.ErrNotFound

// Store is the interface to braid's state database.
type Store = store.Store

// Open opens the braid state database at path, creating it if needed.
// External orchestration should treat the store as read-mostly: issue
// rows belong to the sync engine.
func Open(ctx context.Context, path string) (Store, error) {
	return store.New(ctx, path)
}

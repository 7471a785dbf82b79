package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/braid/internal/store"
	"github.com/steveyegge/braid/internal/types"
)

const storageScopeName = "github.com/steveyegge/braid/store"

// InstrumentedStore wraps store.Store with OTel tracing and metrics.
// Every method gets a span and is counted in braid.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  store.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s store.Store) store.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("braid.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("braid.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("braid.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Projects ────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertProject(ctx context.Context, p *types.Project) error {
	attrs := []attribute.KeyValue{attribute.String("braid.project", p.Identifier)}
	ctx, span, t := s.op(ctx, "UpsertProject", attrs...)
	err := s.inner.UpsertProject(ctx, p)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetProject(ctx context.Context, identifier string) (*types.Project, error) {
	attrs := []attribute.KeyValue{attribute.String("braid.project", identifier)}
	ctx, span, t := s.op(ctx, "GetProject", attrs...)
	v, err := s.inner.GetProject(ctx, identifier)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetAllProjects(ctx context.Context) ([]*types.Project, error) {
	ctx, span, t := s.op(ctx, "GetAllProjects")
	v, err := s.inner.GetAllProjects(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) SetProjectEmpty(ctx context.Context, identifier string, empty bool) error {
	attrs := []attribute.KeyValue{
		attribute.String("braid.project", identifier),
		attribute.Bool("braid.project.empty", empty),
	}
	ctx, span, t := s.op(ctx, "SetProjectEmpty", attrs...)
	err := s.inner.SetProjectEmpty(ctx, identifier, empty)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) SetLettaSyncedAt(ctx context.Context, identifier string, at time.Time) error {
	attrs := []attribute.KeyValue{attribute.String("braid.project", identifier)}
	ctx, span, t := s.op(ctx, "SetLettaSyncedAt", attrs...)
	err := s.inner.SetLettaSyncedAt(ctx, identifier, at)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Issues ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertIssue(ctx context.Context, patch types.IssuePatch) error {
	attrs := []attribute.KeyValue{attribute.String("braid.issue", patch.Identifier)}
	ctx, span, t := s.op(ctx, "UpsertIssue", attrs...)
	err := s.inner.UpsertIssue(ctx, patch)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetIssue(ctx context.Context, identifier string) (*types.Issue, error) {
	attrs := []attribute.KeyValue{attribute.String("braid.issue", identifier)}
	ctx, span, t := s.op(ctx, "GetIssue", attrs...)
	v, err := s.inner.GetIssue(ctx, identifier)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetProjectIssues(ctx context.Context, projectIdentifier string) ([]*types.Issue, error) {
	attrs := []attribute.KeyValue{attribute.String("braid.project", projectIdentifier)}
	ctx, span, t := s.op(ctx, "GetProjectIssues", attrs...)
	v, err := s.inner.GetProjectIssues(ctx, projectIdentifier)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetAllIssues(ctx context.Context) ([]*types.Issue, error) {
	ctx, span, t := s.op(ctx, "GetAllIssues")
	v, err := s.inner.GetAllIssues(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) UpdateParentChild(ctx context.Context, childIdentifier, parentHulyID, parentBeadsID string) error {
	attrs := []attribute.KeyValue{attribute.String("braid.issue", childIdentifier)}
	ctx, span, t := s.op(ctx, "UpdateParentChild", attrs...)
	err := s.inner.UpdateParentChild(ctx, childIdentifier, parentHulyID, parentBeadsID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateSubIssueCount(ctx context.Context, identifier string, n int) error {
	attrs := []attribute.KeyValue{attribute.String("braid.issue", identifier)}
	ctx, span, t := s.op(ctx, "UpdateSubIssueCount", attrs...)
	err := s.inner.UpdateSubIssueCount(ctx, identifier, n)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) MarkDeletedFromHuly(ctx context.Context, identifier string) error {
	attrs := []attribute.KeyValue{attribute.String("braid.issue", identifier)}
	ctx, span, t := s.op(ctx, "MarkDeletedFromHuly", attrs...)
	err := s.inner.MarkDeletedFromHuly(ctx, identifier)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ClearBeadsMapping(ctx context.Context, identifier string) error {
	attrs := []attribute.KeyValue{attribute.String("braid.issue", identifier)}
	ctx, span, t := s.op(ctx, "ClearBeadsMapping", attrs...)
	err := s.inner.ClearBeadsMapping(ctx, identifier)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ClearVibeMapping(ctx context.Context, identifier string) error {
	attrs := []attribute.KeyValue{attribute.String("braid.issue", identifier)}
	ctx, span, t := s.op(ctx, "ClearVibeMapping", attrs...)
	err := s.inner.ClearVibeMapping(ctx, identifier)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Cursors ─────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) GetHulySyncCursor(ctx context.Context, projectIdentifier string) (string, error) {
	attrs := []attribute.KeyValue{attribute.String("braid.project", projectIdentifier)}
	ctx, span, t := s.op(ctx, "GetHulySyncCursor", attrs...)
	v, err := s.inner.GetHulySyncCursor(ctx, projectIdentifier)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) SetHulySyncCursor(ctx context.Context, projectIdentifier, iso string) error {
	attrs := []attribute.KeyValue{attribute.String("braid.project", projectIdentifier)}
	ctx, span, t := s.op(ctx, "SetHulySyncCursor", attrs...)
	err := s.inner.SetHulySyncCursor(ctx, projectIdentifier, iso)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Sync runs ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) StartSyncRun(ctx context.Context) (int64, error) {
	ctx, span, t := s.op(ctx, "StartSyncRun")
	v, err := s.inner.StartSyncRun(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) CompleteSyncRun(ctx context.Context, id int64, status types.SyncRunStatus, stats types.SyncRunStats) error {
	attrs := []attribute.KeyValue{attribute.String("braid.run.status", string(status))}
	ctx, span, t := s.op(ctx, "CompleteSyncRun", attrs...)
	err := s.inner.CompleteSyncRun(ctx, id, status, stats)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetRecentSyncRuns(ctx context.Context, limit int) ([]*types.SyncRun, error) {
	ctx, span, t := s.op(ctx, "GetRecentSyncRuns")
	v, err := s.inner.GetRecentSyncRuns(ctx, limit)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Project files ───────────────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertProjectFile(ctx context.Context, f *types.ProjectFile) error {
	attrs := []attribute.KeyValue{attribute.String("braid.project", f.ProjectIdentifier)}
	ctx, span, t := s.op(ctx, "UpsertProjectFile", attrs...)
	err := s.inner.UpsertProjectFile(ctx, f)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetProjectFiles(ctx context.Context, projectIdentifier string) ([]*types.ProjectFile, error) {
	attrs := []attribute.KeyValue{attribute.String("braid.project", projectIdentifier)}
	ctx, span, t := s.op(ctx, "GetProjectFiles", attrs...)
	v, err := s.inner.GetProjectFiles(ctx, projectIdentifier)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Transactions ────────────────────────────────────────────────────────────

// RunInTransaction wraps the whole transaction in a single span; statements
// inside run against the undecorated store.
func (s *InstrumentedStore) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/docparse"
	"github.com/sells-group/catalog-ingest/internal/family"
	"github.com/sells-group/catalog-ingest/internal/harvest"
	"github.com/sells-group/catalog-ingest/internal/metrics"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/objectstore"
	"github.com/sells-group/catalog-ingest/internal/oracle"
	"github.com/sells-group/catalog-ingest/internal/runlog"
	"github.com/sells-group/catalog-ingest/internal/schema"
	"github.com/sells-group/catalog-ingest/internal/template"
)

// Request is one ingestion task.
type Request struct {
	DocumentRef string                  `json:"document_ref"`
	Hints       model.Hints             `json:"hints"`
	RunID       string                  `json:"run_id"`
	Bundle      *model.ExtractionBundle `json:"bundle,omitempty"`
}

// Config holds pipeline thresholds and budgets.
type Config struct {
	DefaultFamily     string
	MinAttributes     int
	CanonThreshold    float64
	TemplateThreshold float64
	ClassifyThreshold float64
	MaxVariantKeys    int
	RunBudget         time.Duration
	OracleTimeout     time.Duration
	LockWait          time.Duration
	LockPoll          time.Duration
	BackfillLimit     int
	TextSampleBytes   int
	BackgroundTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunBudget <= 0 {
		c.RunBudget = 5 * time.Minute
	}
	if c.LockPoll <= 0 {
		c.LockPoll = 250 * time.Millisecond
	}
	if c.TextSampleBytes <= 0 {
		c.TextSampleBytes = 8000
	}
	if c.BackgroundTimeout <= 0 {
		c.BackgroundTimeout = 2 * time.Minute
	}
	return c
}

// Deps are the collaborators of an Ingestor. Objects and Parser may be nil
// when every request carries a bundle; Oracle, RunLog and Metrics may be nil.
type Deps struct {
	Store      catalog.Store
	Objects    objectstore.Store
	Parser     docparse.Parser
	Oracle     oracle.Oracle
	RunLog     runlog.Sink
	Metrics    *metrics.Metrics
	Blueprints []model.Family
}

// Ingestor runs the ingestion state machine for one document at a time per
// run ID. It is safe for concurrent use.
type Ingestor struct {
	cfg      Config
	store    catalog.Store
	objects  objectstore.Store
	parser   docparse.Parser
	runlog   runlog.Sink
	metrics  *metrics.Metrics
	families *family.Catalog
	resolver *family.Resolver
	harvest  *harvest.Harvester
	schema   *schema.Negotiator
	synth    *template.Synthesizer
	backfill *schema.Backfiller
	gate     normalize.Gate

	bg sync.WaitGroup
}

// New wires an Ingestor from cfg and deps.
func New(cfg Config, deps Deps) *Ingestor {
	cfg = cfg.withDefaults()
	sink := deps.RunLog
	if sink == nil {
		sink = runlog.Nop{}
	}
	in := &Ingestor{
		cfg:      cfg,
		store:    deps.Store,
		objects:  deps.Objects,
		parser:   deps.Parser,
		runlog:   sink,
		metrics:  deps.Metrics,
		families: family.NewCatalog(deps.Blueprints, deps.Store),
		backfill: schema.NewBackfiller(deps.Store, cfg.BackfillLimit),
		gate:     normalize.Gate{MinAttributes: cfg.MinAttributes},
	}

	resolverCfg := family.ResolverConfig{
		DefaultFamily: cfg.DefaultFamily,
		Threshold:     cfg.ClassifyThreshold,
		OracleTimeout: cfg.OracleTimeout,
	}
	schemaCfg := schema.Config{CanonThreshold: cfg.CanonThreshold, MaxVariantKeys: cfg.MaxVariantKeys}
	if deps.Oracle != nil {
		in.resolver = family.NewResolver(deps.Blueprints, deps.Oracle, resolverCfg)
		in.harvest = harvest.New(deps.Oracle)
		in.schema = schema.New(deps.Store, deps.Oracle, schemaCfg)
		in.synth = template.NewSynthesizer(deps.Store, deps.Oracle, cfg.TemplateThreshold)
	} else {
		in.resolver = family.NewResolver(deps.Blueprints, nil, resolverCfg)
		in.harvest = harvest.New(nil)
		in.schema = schema.New(deps.Store, nil, schemaCfg)
		in.synth = template.NewSynthesizer(deps.Store, nil, cfg.TemplateThreshold)
	}
	return in
}

// Families exposes the family catalog.
func (in *Ingestor) Families() *family.Catalog {
	return in.families
}

// Ingest runs one document through the pipeline under the run lock and the
// wall-clock budget. A structured result is returned for every outcome;
// the error is non-nil for run-level conditions (timeout, cancellation,
// lock contention, unreadable source, unreachable store, schema not ready).
// model.Retryable tells which of them are safe to retry.
func (in *Ingestor) Ingest(ctx context.Context, req Request) (*model.IngestResult, error) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	start := time.Now()
	r := newRun(in, req)

	runCtx, cancel := context.WithTimeout(ctx, in.cfg.RunBudget)
	defer cancel()

	lock, err := in.acquireLock(runCtx, req.RunID)
	if err != nil && eris.Is(err, model.ErrRunTimeout) && ctx.Err() != nil {
		err = in.interrupted(ctx, req.RunID, model.RunResolvingFamily)
	}
	if err != nil {
		res := r.abort(err)
		in.finish(ctx, r, res, err, start)
		return res, err
	}
	defer func() {
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer relCancel()
		if err := lock.Release(relCtx); err != nil {
			zap.L().Warn("pipeline: release run lock failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}()

	type outcome struct {
		res *model.IngestResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.execute(runCtx)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if runCtx.Err() != nil && (errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded)) {
			o.err = in.interrupted(ctx, req.RunID, r.currentStatus())
			o.res = r.abort(o.err)
		}
		in.finish(ctx, r, o.res, o.err, start)
		return o.res, o.err
	case <-runCtx.Done():
		err := in.interrupted(ctx, req.RunID, r.currentStatus())
		res := r.abort(err)
		in.finish(ctx, r, res, err, start)
		return res, err
	}
}

// interrupted describes why runCtx ended: the parent context going away
// (worker shutdown, caller cancel) or the run budget running out.
func (in *Ingestor) interrupted(parent context.Context, runID string, status model.RunStatus) error {
	if err := parent.Err(); err != nil {
		return eris.Wrapf(model.ErrRunCancelled, "pipeline: run %s cancelled during %s: %v", runID, status, err)
	}
	return eris.Wrapf(model.ErrRunTimeout, "pipeline: run %s exceeded %s during %s", runID, in.cfg.RunBudget, status)
}

// acquireLock polls for the run lock until LockWait elapses.
func (in *Ingestor) acquireLock(ctx context.Context, runID string) (catalog.RunLock, error) {
	deadline := time.Now().Add(in.cfg.LockWait)
	for {
		lock, ok, err := in.store.AcquireRunLock(ctx, runID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrapf(model.ErrRunTimeout, "pipeline: acquire run lock %s: %v", runID, err)
			}
			return nil, eris.Wrapf(model.ErrStoreUnreachable, "pipeline: acquire run lock %s: %v", runID, err)
		}
		if ok {
			return lock, nil
		}
		if !time.Now().Before(deadline) {
			return nil, eris.Wrapf(model.ErrLockContention, "pipeline: run %s is held by another worker", runID)
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(model.ErrRunTimeout, "pipeline: waiting for run lock %s", runID)
		case <-time.After(in.cfg.LockPoll):
		}
	}
}

// finish logs the terminal state and records metrics.
func (in *Ingestor) finish(ctx context.Context, r *run, res *model.IngestResult, err error, start time.Time) {
	elapsed := time.Since(start)
	in.metrics.ObserveRun(res, elapsed)

	entry := runlog.Entry{
		RunID:       res.RunID,
		Status:      string(res.Status),
		Family:      res.Family,
		DocumentRef: r.req.DocumentRef,
		Processed:   res.Processed,
		Written:     res.Written,
		Skipped:     len(res.Skipped),
		Detail: map[string]any{
			"doc_type":    res.DocType,
			"inserted":    res.Inserted,
			"skips":       res.SkipCounts(),
			"duration_ms": elapsed.Milliseconds(),
		},
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.log(context.WithoutCancel(ctx), entry)

	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.Status)),
		zap.String("family", res.Family),
		zap.Int("processed", res.Processed),
		zap.Int("written", res.Written),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		zap.L().Warn("pipeline: run aborted", append(fields, zap.Error(err))...)
		return
	}
	zap.L().Info("pipeline: run complete", fields...)
}

// Drain waits for background view refreshes and backfills to finish, or for
// ctx to end.
func (in *Ingestor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pipeline: drain background work")
	}
}

// background runs fn detached from the request context, tracked by Drain.
func (in *Ingestor) background(ctx context.Context, name string, fn func(ctx context.Context)) {
	in.bg.Add(1)
	go func() {
		defer in.bg.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.cfg.BackgroundTimeout)
		defer cancel()
		start := time.Now()
		fn(bgCtx)
		zap.L().Debug("pipeline: background task done", zap.String("task", name), zap.Duration("elapsed", time.Since(start)))
	}()
}

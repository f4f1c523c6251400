// Package worker runs ingestion as a Temporal workflow so queued documents
// are processed at least once, with retries for transient run failures.
package worker

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
)

// ActivityName is the registered name of the ingestion activity.
const ActivityName = "IngestDocument"

// Ingester runs one ingestion. *pipeline.Ingestor satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.Request) (*model.IngestResult, error)
}

// Activities holds the Temporal activities backed by an Ingester.
type Activities struct {
	ingester Ingester
}

// NewActivities creates the activity set.
func NewActivities(in Ingester) *Activities {
	return &Activities{ingester: in}
}

// Ingest runs the pipeline for req. Errors the pipeline marks retryable are
// returned as plain errors so the retry policy applies; the rest fail the
// workflow immediately.
func (a *Activities) Ingest(ctx context.Context, req pipeline.Request) (*model.IngestResult, error) {
	info := activity.GetInfo(ctx)
	log := zap.L().With(
		zap.String("run_id", req.RunID),
		zap.String("document_ref", req.DocumentRef),
		zap.Int32("attempt", info.Attempt),
	)

	res, err := a.ingester.Ingest(ctx, req)
	if err == nil {
		log.Info("worker: ingestion complete",
			zap.String("status", string(res.Status)),
			zap.Int("written", res.Written),
		)
		return res, nil
	}

	if model.Retryable(err) {
		log.Warn("worker: ingestion failed, will retry", zap.Error(err))
		return nil, temporal.NewApplicationErrorWithCause(err.Error(), ErrorType(err), err)
	}
	log.Error("worker: ingestion failed permanently", zap.Error(err))
	return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrorType(err), err, res)
}

// ErrorType names the run-level failure for Temporal error matching.
func ErrorType(err error) string {
	types := []struct {
		target error
		name   string
	}{
		{model.ErrSourceUnreadable, "SourceUnreadable"},
		{model.ErrSchemaNotReady, "SchemaNotReady"},
		{model.ErrRunTimeout, "RunTimeout"},
		{model.ErrRunCancelled, "RunCancelled"},
		{model.ErrLockContention, "LockContention"},
		{model.ErrStoreUnreachable, "StoreUnreachable"},
		{model.ErrStoreError, "StoreError"},
	}
	for _, t := range types {
		if errors.Is(err, t.target) {
			return t.name
		}
	}
	return "IngestFailed"
}

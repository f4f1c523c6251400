package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/pipeline"
)

// Config configures the worker and the enqueue client.
type Config struct {
	TaskQueue   string
	MaxAttempts int32
	RunBudget   time.Duration
}

// Register adds the workflow and activities to r.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(IngestWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.Ingest, activity.RegisterOptions{Name: ActivityName})
}

// Run polls cfg.TaskQueue until ctx is cancelled.
func Run(ctx context.Context, c client.Client, cfg Config, acts *Activities) error {
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	Register(w, acts)
	if err := w.Start(); err != nil {
		return eris.Wrap(err, "worker: start")
	}
	zap.L().Info("worker: polling", zap.String("task_queue", cfg.TaskQueue))
	<-ctx.Done()
	w.Stop()
	zap.L().Info("worker: stopped", zap.String("task_queue", cfg.TaskQueue))
	return nil
}

// Starter is the subset of client.Client used to enqueue runs.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// Enqueue submits req and returns its run ID. The workflow ID is derived
// from the run ID, so enqueuing a run that is already executing attaches to
// it instead of starting a second one.
func Enqueue(ctx context.Context, c Starter, cfg Config, req pipeline.Request) (string, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(req.RunID),
		TaskQueue: cfg.TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, WorkflowName, WorkflowInput{
		Request:     req,
		MaxAttempts: cfg.MaxAttempts,
		RunBudget:   cfg.RunBudget,
	})
	if err != nil {
		return "", eris.Wrapf(err, "worker: start workflow for run %s", req.RunID)
	}
	zap.L().Info("worker: run enqueued",
		zap.String("run_id", req.RunID),
		zap.String("workflow_id", run.GetID()),
		zap.String("execution", run.GetRunID()),
	)
	return req.RunID, nil
}

// WorkflowID is the workflow ID of an ingestion run.
func WorkflowID(runID string) string {
	return "ingest-" + runID
}

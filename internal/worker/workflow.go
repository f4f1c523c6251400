package worker

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
)

// WorkflowName is the registered name of the ingestion workflow.
const WorkflowName = "IngestWorkflow"

// WorkflowInput is the argument of IngestWorkflow.
type WorkflowInput struct {
	Request     pipeline.Request `json:"request"`
	MaxAttempts int32            `json:"max_attempts"`
	// RunBudget bounds one activity attempt; the pipeline enforces its own
	// watchdog inside it.
	RunBudget time.Duration `json:"run_budget"`
}

const (
	defaultRunBudget   = 5 * time.Minute
	defaultMaxAttempts = 5
)

// IngestWorkflow executes one ingestion activity under a retry policy.
func IngestWorkflow(ctx workflow.Context, in WorkflowInput) (*model.IngestResult, error) {
	budget := in.RunBudget
	if budget <= 0 {
		budget = defaultRunBudget
	}
	attempts := in.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: budget + 30*time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    2 * time.Minute,
			MaximumAttempts:    attempts,
		},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("ingest workflow started", "run_id", in.Request.RunID, "document_ref", in.Request.DocumentRef)

	var res model.IngestResult
	if err := workflow.ExecuteActivity(ctx, ActivityName, in.Request).Get(ctx, &res); err != nil {
		logger.Warn("ingest workflow failed", "run_id", in.Request.RunID, "error", err)
		return nil, err
	}
	return &res, nil
}

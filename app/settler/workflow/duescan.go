package workflow

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/proofofgood/engine/app/settler/types"
)

// DueScanWorkflow runs one scan over due challenges and fans out finalize
// workflows. It is started by the due-scan schedule; the cron fallback in
// the settler app calls the activity directly instead.
func (wc *Context) DueScanWorkflow(ctx workflow.Context) (types.DueScanOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting due scan workflow")

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    3, // if this scan fails, the next scheduled one covers it
		},
		TaskQueue: wc.TemporalClient.GetSettleQueue(),
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result types.DueScanOutput
	err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ScanDue).Get(ctx, &result)
	if err != nil {
		logger.Error("Due scan activity failed", "error", err.Error())
		return result, err
	}

	logger.Info("Due scan workflow completed",
		"due", result.Due,
		"scheduled", result.Scheduled,
		"failed", result.Failed,
		"duration_ms", result.DurationMs)

	return result, nil
}

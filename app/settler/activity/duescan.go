package activity

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/proofofgood/engine/app/settler/types"
	"github.com/proofofgood/engine/pkg/utils"
)

// ScanDue asks the engine which challenges are past their grace window and
// starts one finalize workflow per challenge. Workflow IDs are derived from
// the challenge ID, so overlapping scans never produce duplicate runs.
func (c *Context) ScanDue(ctx context.Context) (types.DueScanOutput, error) {
	start := time.Now()

	due, err := c.API.DueChallenges(ctx)
	if err != nil {
		return types.DueScanOutput{}, err
	}
	if len(due) == 0 {
		return types.DueScanOutput{DurationMs: durationMs(start)}, nil
	}

	maxBatch := utils.EnvInt("SETTLE_BATCH_SIZE", 0)

	var scheduled atomic.Int32
	var failed atomic.Int32

	pool := c.scanBatchPool()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, id := range due {
		challengeID := id

		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}

			options := client.StartWorkflowOptions{
				ID:        c.TemporalClient.GetFinalizeWorkflowID(challengeID),
				TaskQueue: c.TemporalClient.GetSettleQueue(),
				RetryPolicy: &sdktemporal.RetryPolicy{
					InitialInterval:    time.Second,
					BackoffCoefficient: 1.2,
					MaximumInterval:    5 * time.Second,
					MaximumAttempts:    0,
				},
			}

			_, err := c.TemporalClient.TClient.ExecuteWorkflow(groupCtx, options, "FinalizeChallengeWorkflow", types.FinalizeInput{
				ChallengeID: challengeID,
				MaxBatch:    maxBatch,
			})
			if err != nil {
				var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
				if errors.As(err, &alreadyStarted) {
					scheduled.Add(1) // a previous scan got here first
					return
				}
				c.Logger.Warn("failed to start finalize workflow",
					zap.String("challengeId", challengeID),
					zap.Error(err),
				)
				failed.Add(1)
				return
			}
			scheduled.Add(1)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		c.Logger.Warn("due scan group encountered error", zap.Error(err))
	}

	out := types.DueScanOutput{
		Due:        len(due),
		Scheduled:  int(scheduled.Load()),
		Failed:     int(failed.Load()),
		DurationMs: durationMs(start),
	}

	c.Logger.Info("Due scan completed",
		zap.Int("due", out.Due),
		zap.Int("scheduled", out.Scheduled),
		zap.Int("failed", out.Failed),
		zap.Float64("duration_ms", out.DurationMs),
	)

	return out, nil
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

package activity

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/proofofgood/engine/app/settler/types"
)

// FinalizeStep settles one bounded batch for a challenge. The engine
// resumes from its journaled cursor, so this activity is safe to retry
// and safe to run again after a crash mid-settlement.
func (c *Context) FinalizeStep(ctx context.Context, in types.FinalizeInput) (types.FinalizeStepOutput, error) {
	logger := activity.GetLogger(ctx)

	out, err := c.API.FinalizeStep(ctx, in.ChallengeID, in.MaxBatch)
	if err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Permanent() {
			// 4xx means retrying the exact same request cannot succeed:
			// the challenge is cancelled, unknown, or not yet due.
			c.Logger.Warn("Finalize rejected by engine",
				zap.String("challengeId", in.ChallengeID),
				zap.Int("status", status.Code))
			return types.FinalizeStepOutput{}, sdktemporal.NewNonRetryableApplicationError(
				status.Error(), "FinalizeRejected", err)
		}
		return types.FinalizeStepOutput{}, err
	}

	logger.Info("Finalize step applied",
		"challengeId", in.ChallengeID,
		"settled", out.Settled,
		"cursor", out.Cursor,
		"done", out.Done)

	return out, nil
}

package workflow

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/proofofgood/engine/app/settler/types"
)

// stepsPerRun bounds history growth; long settlements continue as new.
const stepsPerRun = 50

// FinalizeChallengeWorkflow drives a challenge from due to finalized by
// repeatedly applying bounded settlement steps until the engine reports
// done. Each step is idempotent on the engine side, so worker crashes and
// activity retries never double-pay. One workflow per challenge ID keeps
// concurrent scans from racing each other.
func (wc *Context) FinalizeChallengeWorkflow(ctx workflow.Context, in types.FinalizeInput) (types.FinalizeOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting finalize workflow", "challengeId", in.ChallengeID)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    0, // retry until done; 4xx steps are non-retryable
		},
		TaskQueue: wc.TemporalClient.GetSettleQueue(),
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	out := types.FinalizeOutput{ChallengeID: in.ChallengeID}

	for out.Steps < stepsPerRun {
		var step types.FinalizeStepOutput
		err := workflow.ExecuteActivity(ctx, wc.ActivityContext.FinalizeStep, in).Get(ctx, &step)
		if err != nil {
			logger.Error("Finalize step failed", "challengeId", in.ChallengeID, "error", err.Error())
			return out, err
		}

		out.Steps++
		out.Settled += step.Settled

		if step.Done {
			out.Done = true
			logger.Info("Finalize workflow completed",
				"challengeId", in.ChallengeID,
				"steps", out.Steps,
				"settled", out.Settled)
			return out, nil
		}
	}

	// Too many steps for one run: carry on with a fresh history. The
	// journaled cursor means the next run picks up exactly where we stopped.
	logger.Info("Finalize continuing as new",
		"challengeId", in.ChallengeID,
		"steps", out.Steps,
		"settled", out.Settled)
	return out, workflow.NewContinueAsNewError(ctx, FinalizeWorkflowName, in)
}

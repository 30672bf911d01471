package workflow

import (
	"github.com/proofofgood/engine/app/settler/activity"
	"github.com/proofofgood/engine/pkg/temporal"
)

// Workflow names, referenced when starting runs from outside this package.
const (
	FinalizeWorkflowName = "FinalizeChallengeWorkflow"
	DueScanWorkflowName  = "DueScanWorkflow"
)

// Context holds the workflow context.
type Context struct {
	TemporalClient  *temporal.Client
	ActivityContext *activity.Context
}

package temporal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go.temporal.io/api/enums/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	workflowservicepb "go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"github.com/proofofgood/engine/pkg/utils"
)

type Client struct {
	TClient   client.Client
	TSClient  client.ScheduleClient
	Namespace string

	// Task Queues
	SettleQueue string // settle - finalize workflows and due-scan activities run here.

	// Schedule IDs
	DueScanScheduleID string

	// Workflow IDs
	FinalizeWorkflowID string
}

type Health struct {
	ConnectionOK bool                      `json:"connection_ok"`
	SettleQueue  []*taskqueuepb.PollerInfo `json:"settle_queue"`
}

func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", "proofofgood")
	loggerWrapper := NewZapAdapter(logger)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, loggerWrapper)
	if err != nil {
		return nil, err
	}

	if _, err = tClient.CheckHealth(ctx, nil); err != nil {
		return nil, err
	}

	return &Client{
		TClient:   tClient,
		TSClient:  tClient.ScheduleClient(),
		Namespace: ns,
		// for now this is just hardcoded, could be configurable if we need it
		SettleQueue:        "settle",
		DueScanScheduleID:  "duescan",
		FinalizeWorkflowID: "finalize:%s",
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// GetSettleQueue returns the settlement task queue.
func (c *Client) GetSettleQueue() string { return c.SettleQueue }

// GetDueScanScheduleID returns the schedule ID for the due-challenge scan.
func (c *Client) GetDueScanScheduleID() string { return c.DueScanScheduleID }

// GetFinalizeWorkflowID returns the workflow ID for finalizing a challenge.
// One workflow ID per challenge keeps finalize runs deduplicated.
func (c *Client) GetFinalizeWorkflowID(challengeID string) string {
	return fmt.Sprintf(c.FinalizeWorkflowID, challengeID)
}

// GetScheduleSpec returns a schedule spec for the given interval.
func (c *Client) GetScheduleSpec(interval time.Duration) client.ScheduleSpec {
	return client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: interval}}}
}

// OneMinuteSpec returns a schedule spec for one minute.
func (c *Client) OneMinuteSpec() client.ScheduleSpec {
	return c.GetScheduleSpec(time.Minute)
}

// Health returns the health of the Temporal client.
func (c *Client) Health(ctx context.Context) (Health, error) {
	h := Health{ConnectionOK: true}
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	svc := c.TClient.WorkflowService()
	if svc != nil {
		if rep, err := svc.DescribeTaskQueue(ctx, &workflowservicepb.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: c.SettleQueue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_WORKFLOW,
		}); err == nil {
			h.SettleQueue = rep.GetPollers()
		}
	}
	return h, nil
}

// Close closes the underlying Temporal connection.
func (c *Client) Close() {
	c.TClient.Close()
}

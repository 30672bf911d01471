package settler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/proofofgood/engine/app/settler/activity"
	"github.com/proofofgood/engine/app/settler/workflow"
	"github.com/proofofgood/engine/pkg/logging"
	"github.com/proofofgood/engine/pkg/temporal"
	"github.com/proofofgood/engine/pkg/utils"
)

// App is the settlement worker. It polls the engine API for due
// challenges and drives each one to finalized through Temporal workflows.
// The scan itself is triggered either by a local cron or by a Temporal
// schedule, selected via DUESCAN_MODE.
type App struct {
	Worker          worker.Worker
	TemporalClient  *temporal.Client
	ActivityContext *activity.Context

	// Cron triggers due scans when DUESCAN_MODE=cron.
	Cron     *cron.Cron
	CronSpec string

	Logger *zap.Logger
	Server *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}

	activityContext := &activity.Context{
		Logger:             logger,
		API:                activity.NewAPIClient(),
		TemporalClient:     temporalClient,
		ScanMaxParallelism: utils.EnvInt("SCAN_MAX_PARALLELISM", 0),
	}
	workflowContext := workflow.Context{
		TemporalClient:  temporalClient,
		ActivityContext: activityContext,
	}

	// Settlement is serialized per challenge by the engine's writer lock,
	// so the worker needs breadth across challenges, not depth per one.
	wkr := worker.New(
		temporalClient.TClient,
		temporalClient.GetSettleQueue(),
		worker.Options{
			MaxConcurrentWorkflowTaskPollers:       5,
			MaxConcurrentActivityTaskPollers:       5,
			MaxConcurrentWorkflowTaskExecutionSize: 200,
			MaxConcurrentActivityExecutionSize:     200,
			WorkerStopTimeout:                      1 * time.Minute,
		},
	)

	wkr.RegisterWorkflowWithOptions(
		workflowContext.FinalizeChallengeWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.FinalizeWorkflowName},
	)
	wkr.RegisterWorkflowWithOptions(
		workflowContext.DueScanWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.DueScanWorkflowName},
	)
	wkr.RegisterActivity(activityContext.FinalizeStep)
	wkr.RegisterActivity(activityContext.ScanDue)

	app := &App{
		Worker:          wkr,
		TemporalClient:  temporalClient,
		ActivityContext: activityContext,
		CronSpec:        utils.Env("DUESCAN_CRON", "*/30 * * * * *"),
		Logger:          logger,
	}

	switch mode := utils.Env("DUESCAN_MODE", "cron"); mode {
	case "schedule":
		if err := app.EnsureDueScanSchedule(ctx); err != nil {
			logger.Fatal("Unable to ensure due scan schedule", zap.Error(err))
		}
	case "cron":
		if err := app.SetupScheduler(ctx, cron.DefaultLogger, app.CronSpec); err != nil {
			logger.Fatal("Unable to set up due scan cron", zap.Error(err))
		}
	default:
		logger.Fatal("Unknown DUESCAN_MODE", zap.String("mode", mode))
	}

	app.SetupServer()

	return app
}

// SetupScheduler sets up the local cron scheduler for due scans.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		if _, err := a.ActivityContext.ScanDue(rctx); err != nil {
			logger.Info("[settler] due scan error", "error", err)
		}
	})
	if err != nil {
		return err
	}

	return nil
}

// EnsureDueScanSchedule creates the Temporal schedule that runs the due
// scan workflow once a minute, if it does not already exist.
func (a *App) EnsureDueScanSchedule(ctx context.Context) error {
	id := a.TemporalClient.GetDueScanScheduleID()
	h := a.TemporalClient.TSClient.GetHandle(ctx, id)
	_, err := h.Describe(ctx)
	if err == nil {
		a.Logger.Info("Due scan schedule already exists", zap.String("id", id))
		return nil
	}

	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		a.Logger.Info("Creating due scan schedule", zap.String("id", id))
		_, scheduleErr := a.TemporalClient.TSClient.Create(
			ctx, client.ScheduleOptions{
				ID:   id,
				Spec: a.TemporalClient.OneMinuteSpec(),
				Action: &client.ScheduleWorkflowAction{
					Workflow:                 workflow.DueScanWorkflowName,
					TaskQueue:                a.TemporalClient.GetSettleQueue(),
					WorkflowExecutionTimeout: 10 * time.Minute,
					WorkflowTaskTimeout:      2 * time.Minute,
				},
			},
		)
		return scheduleErr
	}
	return err
}

// SetupServer sets up the HTTP server for liveness and readiness probes.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.TemporalClient.Health(r.Context()); err != nil {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
	})).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// Start starts the worker and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	if err := a.Worker.Start(); err != nil {
		a.Logger.Fatal("Unable to start worker", zap.Error(err))
	}
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("[settler] Cron started", zap.String("cronSpec", a.CronSpec))
	}
	go func() { _ = a.Server.ListenAndServe() }()

	<-ctx.Done()
	a.Stop()
}

// Stop stops the worker.
func (a *App) Stop() {
	_ = a.Server.Close()
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.Worker.Stop()
	a.TemporalClient.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

package api

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/app/api/types"
	"github.com/proofofgood/engine/pkg/db/analytics"
	"github.com/proofofgood/engine/pkg/db/ledger"
	"github.com/proofofgood/engine/pkg/engine"
	"github.com/proofofgood/engine/pkg/evidence"
	"github.com/proofofgood/engine/pkg/journal"
	"github.com/proofofgood/engine/pkg/logging"
	"github.com/proofofgood/engine/pkg/model"
	"github.com/proofofgood/engine/pkg/policy"
	"github.com/proofofgood/engine/pkg/redis"
	"github.com/proofofgood/engine/pkg/social"
	"github.com/proofofgood/engine/pkg/utils"
)

// fanout forwards committed events to every configured sink. Sinks are
// best-effort by contract, so fanout has no error path.
type fanout struct {
	sinks []engine.Publisher
}

func (f *fanout) PublishEvent(ctx context.Context, ev model.Event) {
	for _, sink := range f.sinks {
		sink.PublishEvent(ctx, ev)
	}
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	app := &types.App{Logger: logger}

	// Journal: postgres ledger by default, in-memory when explicitly disabled.
	var jnl journal.Journal
	if utils.Env("POSTGRES_ENABLED", "true") == "true" {
		ledgerDb, ledgerErr := ledger.New(ctx, logger, "api")
		if ledgerErr != nil {
			logger.Fatal("Unable to initialize ledger database", zap.Error(ledgerErr))
		}
		app.LedgerDB = ledgerDb
		jnl = ledgerDb
	} else {
		logger.Warn("Postgres disabled - journal is in-memory and will not survive restarts")
		jnl = journal.NewMemory()
	}

	var sinks []engine.Publisher

	// ClickHouse analytics sink (optional).
	if utils.Env("CLICKHOUSE_ENABLED", "false") == "true" {
		analyticsDb, chErr := analytics.New(ctx, logger, "api")
		if chErr != nil {
			logger.Warn("Failed to initialize analytics database - analytics endpoints will be disabled",
				zap.Error(chErr))
		} else {
			app.AnalyticsDB = analyticsDb
		}
	} else {
		logger.Info("ClickHouse disabled - analytics endpoints will not be available")
	}

	// Redis client for real-time WebSocket events (optional).
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, redisErr := redis.NewClient(ctx, logger)
		if redisErr != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket real-time events will be disabled",
				zap.Error(redisErr))
		} else {
			app.RedisClient = redisClient
			sinks = append(sinks, redis.NewEventPublisher(redisClient, logger))
			logger.Info("Redis client initialized for WebSocket real-time events")
		}
	} else {
		logger.Info("Redis disabled - WebSocket real-time events will not be available")
	}

	// Analytics ingestion: synchronous sink by default; with Redis enabled
	// it can instead tail the firehose stream through a consumer group so
	// ClickHouse writes never sit on the commit path.
	if app.AnalyticsDB != nil {
		recorder := analytics.NewRecorder(app.AnalyticsDB, logger)
		if app.RedisClient != nil && utils.Env("ANALYTICS_INGEST", "sync") == "stream" {
			consumer, consErr := redis.NewStreamConsumer(app.RedisClient, redis.StreamConsumerConfig{
				Stream:   redis.EventFirehoseStream,
				Group:    "analytics",
				Consumer: utils.Env("HOSTNAME", "api"),
				Logger:   logger,
			})
			if consErr != nil {
				logger.Fatal("Unable to initialize analytics stream consumer", zap.Error(consErr))
			}
			go func() {
				runErr := consumer.Run(ctx, func(ctx context.Context, msg redis.Message) error {
					ev, decErr := msg.DecodeEvent()
					if decErr != nil {
						logger.Warn("Skipping undecodable stream message", zap.String("id", msg.ID), zap.Error(decErr))
						return nil
					}
					recorder.PublishEvent(ctx, ev)
					return nil
				})
				if runErr != nil && !errors.Is(runErr, context.Canceled) {
					logger.Error("Analytics stream consumer stopped", zap.Error(runErr))
				}
			}()
			logger.Info("Analytics ingestion tailing the Redis event stream")
		} else {
			sinks = append(sinks, recorder)
		}
	}

	// Eligibility: live follow graph when configured, permissive otherwise.
	var eligibility policy.Eligibility
	if graphURLs := utils.SplitCSV(utils.Env("SOCIAL_GRAPH_URL", "")); len(graphURLs) > 0 {
		graph := social.New(social.Opts{Endpoints: graphURLs})
		eligibility = policy.NewGraphEligibility(graph,
			uint64(utils.EnvInt("VERIFIER_MIN_FOLLOWERS", policy.DefaultVerifierMinFollowers)))
		logger.Info("Social graph eligibility enabled", zap.Strings("urls", graphURLs))
	} else {
		eligibility = &policy.Static{AllowAll: true}
		logger.Info("No social graph configured - community verification is open to all")
	}

	// Evidence store: gateway when configured, self-attested otherwise.
	if gatewayURL := utils.Env("EVIDENCE_GATEWAY_URL", ""); gatewayURL != "" {
		gateway, gwErr := evidence.NewGateway(evidence.GatewayOpts{BaseURL: gatewayURL})
		if gwErr != nil {
			logger.Fatal("Invalid evidence gateway configuration", zap.Error(gwErr))
		}
		app.Evidence = gateway
		logger.Info("Evidence gateway enabled", zap.String("url", gatewayURL))
	} else {
		app.Evidence = &evidence.Static{AcceptAll: true}
	}

	eng, engErr := engine.New(ctx, engine.Config{
		Logger:             logger,
		Journal:            jnl,
		Eligibility:        eligibility,
		Publisher:          &fanout{sinks: sinks},
		BootstrapAdmin:     utils.Env("BOOTSTRAP_ADMIN", ""),
		DefaultGraceWindow: utils.EnvDuration("DEFAULT_GRACE_WINDOW", 0),
		SettleBatchSize:    utils.EnvInt("SETTLE_BATCH_SIZE", 0),
		MinVerifierTrust:   utils.EnvFloat("VERIFIER_MIN_TRUST", 0),
	})
	if engErr != nil {
		logger.Fatal("Unable to initialize engine", zap.Error(engErr))
	}
	app.Engine = eng

	return app
}

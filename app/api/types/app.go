package types

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/db/analytics"
	"github.com/proofofgood/engine/pkg/db/ledger"
	"github.com/proofofgood/engine/pkg/engine"
	"github.com/proofofgood/engine/pkg/evidence"
	"github.com/proofofgood/engine/pkg/redis"
)

// User is an admin console account.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type App struct {
	// Engine is the single authoritative challenge ledger for this process.
	Engine *engine.Engine

	// LedgerDB is the postgres journal; nil when running on the in-memory
	// journal (tests, local development).
	LedgerDB *ledger.DB

	// AnalyticsDB is the optional ClickHouse sink; nil when disabled.
	AnalyticsDB *analytics.DB

	// RedisClient powers the live event feed; nil when disabled.
	RedisClient *redis.Client

	// Evidence checks proof references before they enter the ledger.
	Evidence evidence.Store

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.LedgerDB != nil {
		if err := a.LedgerDB.Close(); err != nil {
			a.Logger.Error("Failed to close ledger connection", zap.Error(err))
		}
	}
	if a.AnalyticsDB != nil {
		if err := a.AnalyticsDB.Close(); err != nil {
			a.Logger.Error("Failed to close analytics connection", zap.Error(err))
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

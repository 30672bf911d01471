// Package analytics is the ClickHouse sink for the event firehose. It is
// strictly best-effort: the postgres ledger stays authoritative and every
// table here can be rebuilt by replaying the journal.
package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/db/clickhouse"
)

// DB represents the ClickHouse analytics database.
type DB struct {
	clickhouse.Client
	Name string
}

// New creates and initializes the analytics database instance.
func New(ctx context.Context, logger *zap.Logger, component string) (*DB, error) {
	name := clickhouse.SanitizeName("pog_analytics")

	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", component),
	), name, clickhouse.GetPoolConfigForComponent(component))
	if err != nil {
		return nil, err
	}

	db := &DB{
		Client: client,
		Name:   name,
	}

	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// InitializeDB ensures the analytics database and tables exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	if err := db.SwitchToTargetDatabase(ctx); err != nil {
		return fmt.Errorf("failed to switch to database %s: %w", db.Name, err)
	}

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"challenge_events", db.initChallengeEvents},
		{"settlement_outcomes", db.initSettlementOutcomes},
	}

	for _, op := range initOps {
		if err := op.fn(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", op.name, err)
		}
	}

	db.Logger.Info("Analytics database initialized",
		zap.String("database", db.Name),
		zap.Duration("took", time.Since(initStart)))

	return nil
}

func (db *DB) initChallengeEvents(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS challenge_events (
			seq UInt64,
			challenge_id String,
			kind LowCardinality(String),
			at DateTime64(3, 'UTC'),
			payload String
		) ENGINE = %s
		PARTITION BY toYYYYMM(at)
		ORDER BY (challenge_id, seq)
	`, clickhouse.MergeTree)
	return db.Exec(ctx, query)
}

func (db *DB) initSettlementOutcomes(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS settlement_outcomes (
			challenge_id String,
			participant String,
			outcome LowCardinality(String),
			amount UInt64,
			settled_at DateTime64(3, 'UTC')
		) ENGINE = %s
		PARTITION BY toYYYYMM(settled_at)
		ORDER BY (participant, settled_at)
	`, clickhouse.MergeTree)
	return db.Exec(ctx, query)
}

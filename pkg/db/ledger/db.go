// Package ledger is the authoritative persistence layer. The events table
// is the append-only journal the engine replays on boot; every other table
// is a materialized view maintained in the same transaction as the append,
// so the views never disagree with the journal.
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/db/postgres"
)

// DB represents the PostgreSQL ledger database.
type DB struct {
	postgres.Client
	Name string
}

// New creates and initializes the ledger database instance.
func New(ctx context.Context, logger *zap.Logger, component string) (*DB, error) {
	name := "ledger"

	client, err := postgres.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", component),
	), name, postgres.GetPoolConfigForComponent(component))
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

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// InitializeDB ensures the required tables exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	db.Logger.Info("Initializing ledger database", zap.String("database", db.Name))

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"events", db.initEvents},
		{"challenges", db.initChallenges},
		{"participations", db.initParticipations},
		{"votes", db.initVotes},
		{"settlements", db.initSettlements},
		{"escrow_accounts", db.initEscrowAccounts},
		{"roles", db.initRoles},
		{"settlement_cursors", db.initSettlementCursors},
	}

	for _, op := range initOps {
		if err := op.fn(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", op.name, err)
		}
	}

	db.Logger.Info("Ledger database initialized",
		zap.String("database", db.Name),
		zap.Duration("took", time.Since(initStart)))

	return nil
}

func (db *DB) initEvents(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			seq BIGSERIAL PRIMARY KEY,
			challenge_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_challenge ON events (challenge_id, seq);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initChallenges(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS challenges (
			id TEXT PRIMARY KEY,
			creator TEXT NOT NULL,
			kind SMALLINT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			stake_amount BIGINT NOT NULL,
			creator_deposit BIGINT NOT NULL,
			deadline TIMESTAMPTZ NOT NULL,
			grace_window_seconds BIGINT NOT NULL,
			max_participants INT NOT NULL,
			fee_bps INT NOT NULL,
			participant_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			finalized_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_challenges_state ON challenges (state, deadline);
		CREATE INDEX IF NOT EXISTS idx_challenges_creator ON challenges (creator);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initParticipations(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS participations (
			challenge_id TEXT NOT NULL,
			participant TEXT NOT NULL,
			stake_locked BIGINT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL,
			proof_state TEXT NOT NULL DEFAULT 'none',
			evidence_ref TEXT NOT NULL DEFAULT '',
			proof_note TEXT NOT NULL DEFAULT '',
			submitted_at TIMESTAMPTZ,
			PRIMARY KEY (challenge_id, participant)
		);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initVotes(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS votes (
			challenge_id TEXT NOT NULL,
			participant TEXT NOT NULL,
			verifier TEXT NOT NULL,
			decision TEXT NOT NULL,
			cast_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (challenge_id, participant, verifier)
		);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initSettlements(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS settlements (
			challenge_id TEXT NOT NULL,
			participant TEXT NOT NULL,
			outcome TEXT NOT NULL,
			amount BIGINT NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (challenge_id, participant)
		);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initEscrowAccounts(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS escrow_accounts (
			challenge_id TEXT PRIMARY KEY,
			total_in BIGINT NOT NULL DEFAULT 0,
			locked BIGINT NOT NULL DEFAULT 0,
			paid_out BIGINT NOT NULL DEFAULT 0,
			fee_accrued BIGINT NOT NULL DEFAULT 0,
			slashed BIGINT NOT NULL DEFAULT 0,
			deposit_refunds BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initRoles(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS roles (
			role TEXT NOT NULL,
			target TEXT NOT NULL,
			granted BOOLEAN NOT NULL,
			granted_by TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (role, target)
		);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initSettlementCursors(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS settlement_cursors (
			challenge_id TEXT PRIMARY KEY,
			cursor INT NOT NULL DEFAULT 0,
			done BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`
	return db.Exec(ctx, query)
}

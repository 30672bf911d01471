package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/proofofgood/engine/pkg/model"
)

// Append stores the event and refreshes the materialized views inside a
// single transaction. The assigned sequence number comes back from the
// events table, so concurrent appends across processes stay strictly
// ordered.
func (db *DB) Append(ctx context.Context, ev model.Event) (model.Event, error) {
	err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO events (challenge_id, kind, at, payload)
			VALUES ($1, $2, $3, $4)
			RETURNING seq
		`
		if err := tx.QueryRow(ctx, query,
			ev.ChallengeID, string(ev.Kind), ev.At, []byte(ev.Payload),
		).Scan(&ev.Seq); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return db.materialize(ctx, tx, ev)
	})
	if err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// Replay streams every stored event in sequence order.
func (db *DB) Replay(ctx context.Context, fn func(model.Event) error) error {
	query := `
		SELECT seq, challenge_id, kind, at, payload
		FROM events
		ORDER BY seq ASC
	`
	rows, err := db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("replay events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev model.Event
		var kind string
		var payload []byte
		if err := rows.Scan(&ev.Seq, &ev.ChallengeID, &kind, &ev.At, &payload); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.Payload = payload
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSeq returns the highest assigned sequence number, zero when empty.
func (db *DB) LastSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := db.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

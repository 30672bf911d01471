package analytics

import (
	"context"
	"fmt"

	"github.com/proofofgood/engine/pkg/model"
)

// InsertEvent appends one journal event to the firehose table.
func (db *DB) InsertEvent(ctx context.Context, ev model.Event) error {
	query := `
		INSERT INTO challenge_events (seq, challenge_id, kind, at, payload)
		VALUES (?, ?, ?, ?, ?)
	`
	return db.Exec(ctx, query, ev.Seq, ev.ChallengeID, string(ev.Kind), ev.At, string(ev.Payload))
}

// InsertOutcomes batch-inserts settlement records.
func (db *DB) InsertOutcomes(ctx context.Context, records []model.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := db.PrepareBatch(ctx, `
		INSERT INTO settlement_outcomes (challenge_id, participant, outcome, amount, settled_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare outcomes batch: %w", err)
	}

	for _, rec := range records {
		if err := batch.Append(
			rec.ChallengeID, rec.Participant, rec.Outcome.String(), rec.Amount, rec.SettledAt,
		); err != nil {
			return fmt.Errorf("append outcome: %w", err)
		}
	}

	return batch.Send()
}

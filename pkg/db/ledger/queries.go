package ledger

import (
	"context"
	"fmt"

	"github.com/proofofgood/engine/pkg/model"
)

// EventsByChallenge returns the journal slice for one challenge in sequence
// order, the raw material for audit views.
func (db *DB) EventsByChallenge(ctx context.Context, challengeID string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT seq, challenge_id, kind, at, payload
		FROM events
		WHERE challenge_id = $1
		ORDER BY seq ASC
		LIMIT $2
	`
	rows, err := db.Query(ctx, query, challengeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var kind string
		var payload []byte
		if err := rows.Scan(&ev.Seq, &ev.ChallengeID, &kind, &ev.At, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EscrowRow is the persisted escrow view for one challenge.
func (db *DB) EscrowRow(ctx context.Context, challengeID string) (model.EscrowAccount, error) {
	query := `
		SELECT total_in, locked, paid_out, fee_accrued, slashed, deposit_refunds
		FROM escrow_accounts
		WHERE challenge_id = $1
	`
	var totalIn, locked, paidOut, fee, slashed, refunds int64
	err := db.QueryRow(ctx, query, challengeID).Scan(&totalIn, &locked, &paidOut, &fee, &slashed, &refunds)
	if err != nil {
		return model.EscrowAccount{}, fmt.Errorf("query escrow: %w", err)
	}
	return model.EscrowAccount{
		ChallengeID:    challengeID,
		TotalIn:        uint64(totalIn),
		Locked:         uint64(locked),
		PaidOut:        uint64(paidOut),
		FeeAccrued:     uint64(fee),
		Slashed:        uint64(slashed),
		DepositRefunds: uint64(refunds),
	}, nil
}

// CountEvents reports the journal length, used by the health endpoint.
func (db *DB) CountEvents(ctx context.Context) (uint64, error) {
	var n uint64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

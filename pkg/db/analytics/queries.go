package analytics

import (
	"context"
	"fmt"
	"time"
)

// LeaderboardRow aggregates one participant's settled history.
type LeaderboardRow struct {
	Participant string `ch:"participant" json:"participant"`
	Won         uint64 `ch:"won" json:"won"`
	Lost        uint64 `ch:"lost" json:"lost"`
	Refunded    uint64 `ch:"refunded" json:"refunded"`
	TotalPaid   uint64 `ch:"total_paid" json:"totalPaid"`
}

// Leaderboard returns the top participants ranked by wins, then by total
// amount paid out.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT
			participant,
			countIf(outcome = 'won') AS won,
			countIf(outcome = 'lost') AS lost,
			countIf(outcome = 'refunded') AS refunded,
			sum(amount) AS total_paid
		FROM settlement_outcomes
		GROUP BY participant
		ORDER BY won DESC, total_paid DESC
		LIMIT ?
	`
	var rows []LeaderboardRow
	if err := db.Select(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	return rows, nil
}

// ActivityRow is one day of journal activity.
type ActivityRow struct {
	Day    time.Time `ch:"day" json:"day"`
	Kind   string    `ch:"kind" json:"kind"`
	Events uint64    `ch:"events" json:"events"`
}

// Activity returns per-kind daily event counts over the trailing window.
func (db *DB) Activity(ctx context.Context, days int) ([]ActivityRow, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	query := `
		SELECT
			toStartOfDay(at) AS day,
			kind,
			count() AS events
		FROM challenge_events
		WHERE at >= now() - INTERVAL ? DAY
		GROUP BY day, kind
		ORDER BY day DESC, kind ASC
	`
	var rows []ActivityRow
	if err := db.Select(ctx, &rows, query, days); err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	return rows, nil
}

// ParticipantHistoryRow is one settled challenge for one participant.
type ParticipantHistoryRow struct {
	ChallengeID string    `ch:"challenge_id" json:"challengeId"`
	Outcome     string    `ch:"outcome" json:"outcome"`
	Amount      uint64    `ch:"amount" json:"amount"`
	SettledAt   time.Time `ch:"settled_at" json:"settledAt"`
}

// ParticipantHistory returns a participant's settled challenges, newest first.
func (db *DB) ParticipantHistory(ctx context.Context, participant string, limit int) ([]ParticipantHistoryRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT challenge_id, outcome, amount, settled_at
		FROM settlement_outcomes
		WHERE participant = ?
		ORDER BY settled_at DESC
		LIMIT ?
	`
	var rows []ParticipantHistoryRow
	if err := db.Select(ctx, &rows, query, participant, limit); err != nil {
		return nil, fmt.Errorf("query participant history: %w", err)
	}
	return rows, nil
}

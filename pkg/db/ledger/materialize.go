package ledger

import (
	"context"
	"fmt"

	"github.com/proofofgood/engine/pkg/db/postgres"
	"github.com/proofofgood/engine/pkg/model"
)

// materialize folds one journal event into the view tables. It runs inside
// the append transaction, so a failed view update rolls the event back too.
func (db *DB) materialize(ctx context.Context, exec postgres.Executor, ev model.Event) error {
	payload, err := model.DecodePayload(ev)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *model.ChallengeCreatedPayload:
		return db.applyChallengeCreated(ctx, exec, ev, p)
	case *model.ChallengeActivatedPayload:
		return db.setChallengeState(ctx, exec, ev, model.StateActive)
	case *model.ParticipantJoinedPayload:
		return db.applyParticipantJoined(ctx, exec, ev, p)
	case *model.ProofSubmittedPayload:
		return db.applyProofSubmitted(ctx, exec, ev, p)
	case *model.VoteCastPayload:
		return db.applyVoteCast(ctx, exec, ev, p)
	case *model.SettlementChunkAppliedPayload:
		return db.applySettlementChunk(ctx, exec, ev, p)
	case *model.ChallengeFinalizedPayload:
		return db.applyChallengeFinalized(ctx, exec, ev)
	case *model.ChallengeCancelledPayload:
		return db.applyChallengeCancelled(ctx, exec, ev, p)
	case *model.RoleGrantedPayload:
		return db.applyRoleChange(ctx, exec, ev, p.Role, p.Target, p.By, true)
	case *model.RoleRevokedPayload:
		return db.applyRoleChange(ctx, exec, ev, p.Role, p.Target, p.By, false)
	default:
		return fmt.Errorf("materialize: unhandled event kind %q", ev.Kind)
	}
}

func (db *DB) applyChallengeCreated(ctx context.Context, exec postgres.Executor, ev model.Event, p *model.ChallengeCreatedPayload) error {
	ch := p.Challenge
	query := `
		INSERT INTO challenges (
			id, creator, kind, title, category, state,
			stake_amount, creator_deposit, deadline, grace_window_seconds,
			max_participants, fee_bps, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := exec.Exec(ctx, query,
		ch.ID, ch.Creator, int16(ch.Kind), ch.Title, ch.Category, ch.State.String(),
		int64(ch.StakeAmount), int64(ch.CreatorDeposit), ch.Deadline, int64(ch.GraceWindow.Seconds()),
		ch.MaxParticipants, int32(ch.Policy.FeeBps), ch.CreatedAt, ev.At,
	); err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}

	escrow := `
		INSERT INTO escrow_accounts (challenge_id, total_in, locked, updated_at)
		VALUES ($1, $2, $2, $3)
		ON CONFLICT (challenge_id) DO NOTHING
	`
	if _, err := exec.Exec(ctx, escrow, ch.ID, int64(ch.CreatorDeposit), ev.At); err != nil {
		return fmt.Errorf("open escrow: %w", err)
	}

	cursor := `
		INSERT INTO settlement_cursors (challenge_id, cursor, done, updated_at)
		VALUES ($1, 0, FALSE, $2)
		ON CONFLICT (challenge_id) DO NOTHING
	`
	if _, err := exec.Exec(ctx, cursor, ch.ID, ev.At); err != nil {
		return fmt.Errorf("init settlement cursor: %w", err)
	}
	return nil
}

func (db *DB) setChallengeState(ctx context.Context, exec postgres.Executor, ev model.Event, state model.ChallengeState) error {
	query := `UPDATE challenges SET state = $2, updated_at = $3 WHERE id = $1`
	if _, err := exec.Exec(ctx, query, ev.ChallengeID, state.String(), ev.At); err != nil {
		return fmt.Errorf("set challenge state: %w", err)
	}
	return nil
}

func (db *DB) applyParticipantJoined(ctx context.Context, exec postgres.Executor, ev model.Event, p *model.ParticipantJoinedPayload) error {
	query := `
		INSERT INTO participations (challenge_id, participant, stake_locked, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (challenge_id, participant) DO NOTHING
	`
	if _, err := exec.Exec(ctx, query, ev.ChallengeID, p.Participant, int64(p.Stake), ev.At); err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}

	count := `
		UPDATE challenges SET participant_count = participant_count + 1, updated_at = $2
		WHERE id = $1
	`
	if _, err := exec.Exec(ctx, count, ev.ChallengeID, ev.At); err != nil {
		return fmt.Errorf("bump participant count: %w", err)
	}

	escrow := `
		UPDATE escrow_accounts
		SET total_in = total_in + $2, locked = locked + $2, updated_at = $3
		WHERE challenge_id = $1
	`
	if _, err := exec.Exec(ctx, escrow, ev.ChallengeID, int64(p.Stake), ev.At); err != nil {
		return fmt.Errorf("lock stake: %w", err)
	}
	return nil
}

func (db *DB) applyProofSubmitted(ctx context.Context, exec postgres.Executor, ev model.Event, p *model.ProofSubmittedPayload) error {
	query := `
		UPDATE participations
		SET proof_state = 'submitted', evidence_ref = $3, proof_note = $4, submitted_at = $5
		WHERE challenge_id = $1 AND participant = $2
	`
	if _, err := exec.Exec(ctx, query, ev.ChallengeID, p.Participant, p.EvidenceRef, p.Note, ev.At); err != nil {
		return fmt.Errorf("record proof: %w", err)
	}
	return nil
}

func (db *DB) applyVoteCast(ctx context.Context, exec postgres.Executor, ev model.Event, p *model.VoteCastPayload) error {
	query := `
		INSERT INTO votes (challenge_id, participant, verifier, decision, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (challenge_id, participant, verifier) DO NOTHING
	`
	if _, err := exec.Exec(ctx, query, ev.ChallengeID, p.Participant, p.Verifier, p.Decision.String(), ev.At); err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (db *DB) applySettlementChunk(ctx context.Context, exec postgres.Executor, ev model.Event, p *model.SettlementChunkAppliedPayload) error {
	var paid int64
	for _, rec := range p.Records {
		query := `
			INSERT INTO settlements (challenge_id, participant, outcome, amount, settled_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (challenge_id, participant) DO NOTHING
		`
		if _, err := exec.Exec(ctx, query,
			ev.ChallengeID, rec.Participant, rec.Outcome.String(), int64(rec.Amount), ev.At,
		); err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
		paid += int64(rec.Amount)
	}

	escrow := `
		UPDATE escrow_accounts
		SET locked = locked - $2 - $3 - $4,
			paid_out = paid_out + $2,
			fee_accrued = fee_accrued + $3,
			slashed = slashed + $4,
			updated_at = $5
		WHERE challenge_id = $1
	`
	if _, err := exec.Exec(ctx, escrow,
		ev.ChallengeID, paid, int64(p.Fee), int64(p.Slashed), ev.At,
	); err != nil {
		return fmt.Errorf("settle escrow: %w", err)
	}

	cursor := `
		UPDATE settlement_cursors SET cursor = $2, updated_at = $3
		WHERE challenge_id = $1
	`
	if _, err := exec.Exec(ctx, cursor, ev.ChallengeID, p.Cursor, ev.At); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	return db.setChallengeState(ctx, exec, ev, model.StateFinalizing)
}

func (db *DB) applyChallengeFinalized(ctx context.Context, exec postgres.Executor, ev model.Event) error {
	query := `
		UPDATE challenges SET state = $2, finalized_at = $3, updated_at = $3
		WHERE id = $1
	`
	if _, err := exec.Exec(ctx, query, ev.ChallengeID, model.StateFinalized.String(), ev.At); err != nil {
		return fmt.Errorf("finalize challenge: %w", err)
	}

	cursor := `
		UPDATE settlement_cursors SET done = TRUE, updated_at = $2
		WHERE challenge_id = $1
	`
	if _, err := exec.Exec(ctx, cursor, ev.ChallengeID, ev.At); err != nil {
		return fmt.Errorf("close cursor: %w", err)
	}
	return nil
}

func (db *DB) applyChallengeCancelled(ctx context.Context, exec postgres.Executor, ev model.Event, p *model.ChallengeCancelledPayload) error {
	if p.DepositRefund > 0 {
		escrow := `
			UPDATE escrow_accounts
			SET locked = locked - $2, deposit_refunds = deposit_refunds + $2, updated_at = $3
			WHERE challenge_id = $1
		`
		if _, err := exec.Exec(ctx, escrow, ev.ChallengeID, int64(p.DepositRefund), ev.At); err != nil {
			return fmt.Errorf("refund deposit: %w", err)
		}
	}
	return db.setChallengeState(ctx, exec, ev, model.StateCancelled)
}

func (db *DB) applyRoleChange(ctx context.Context, exec postgres.Executor, ev model.Event, role, target, by string, granted bool) error {
	query := `
		INSERT INTO roles (role, target, granted, granted_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (role, target) DO UPDATE SET
			granted = EXCLUDED.granted,
			granted_by = EXCLUDED.granted_by,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := exec.Exec(ctx, query, role, target, granted, by, ev.At); err != nil {
		return fmt.Errorf("record role change: %w", err)
	}
	return nil
}

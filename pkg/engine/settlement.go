package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/model"
)

// settlementPlan is the deterministic settlement of a whole challenge,
// derived purely from frozen proof and vote state. It is recomputed on
// every finalize invocation (including after a crash) so the persisted
// cursor is the only resume state needed.
type settlementPlan struct {
	outcomes []plannedOutcome // in join order
	share    uint64           // per-winner slice of the net reward pool
	fee      uint64           // protocol fee plus integer-division remainder
	slashed  uint64           // net pool forfeited when nobody wins
}

type plannedOutcome struct {
	participant string
	stake       uint64
	outcome     model.Outcome
	payout      uint64
}

// FinalizeResult reports the progress of one finalize invocation.
type FinalizeResult struct {
	Settled int                     `json:"settled"` // records written by this invocation
	Cursor  int                     `json:"cursor"`  // next unsettled index
	Done    bool                    `json:"done"`    // challenge reached Finalized
	Summary *model.ChallengeSummary `json:"summary,omitempty"`
}

// Finalize processes one bounded batch of settlements for a challenge that
// has passed its grace window (or has no participants). It is idempotent
// at the whole-challenge level and resumable from the journaled cursor:
// calling it repeatedly, including after a crash, never double-pays.
// Finalize is permissionless: it only ever executes the settlement the
// frozen vote state mandates, so caller identity is recorded for audit but
// grants no discretion. maxBatch <= 0 uses the configured default.
func (e *Engine) Finalize(ctx context.Context, id, caller string, maxBatch int) (FinalizeResult, error) {
	st, serr := e.stateFor(id)
	if serr != nil {
		return FinalizeResult{}, serr
	}
	if maxBatch <= 0 {
		maxBatch = e.batchSize
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ch := st.challenge()
	if ch.State == model.StateFinalized {
		// Whole-challenge idempotence: repeat calls return the stored summary.
		return FinalizeResult{Cursor: st.cursor, Done: true, Summary: st.summary.Load()}, nil
	}
	if st.halted.Load() {
		return FinalizeResult{Cursor: st.cursor}, newError(KindConsistency, CodeConsistency,
			"challenge %s is halted pending manual audit", id)
	}
	if ch.State != model.StateActive && ch.State != model.StateFinalizing {
		return FinalizeResult{}, newError(KindState, CodeStateError,
			"challenge %s is %s and cannot be finalized", id, ch.State)
	}
	if len(st.order) > 0 && e.clock.Now().Before(ch.VoteWindowEnd()) {
		return FinalizeResult{}, newError(KindState, CodeStateError,
			"challenge %s grace window is still open", id)
	}

	plan, planErr := e.computePlan(st, &ch)
	if planErr != nil {
		e.haltChallenge(st, id, planErr)
		return FinalizeResult{Cursor: st.cursor}, planErr
	}

	// A participant-less challenge still has to drain any creator deposit
	// out of escrow; an empty chunk carries the fee and slash movements.
	needDrain := ch.State == model.StateActive && len(plan.outcomes) == 0 && plan.fee+plan.slashed > 0

	settled := 0
	if st.cursor < len(plan.outcomes) || needDrain {
		prev := st.cursor
		chunkErr := e.applyNextChunk(ctx, st, plan, maxBatch)
		if chunkErr != nil {
			if chunkErr.Kind == KindConsistency {
				e.haltChallenge(st, id, chunkErr)
			}
			return FinalizeResult{Cursor: st.cursor}, chunkErr
		}
		settled = st.cursor - prev
	}

	if st.cursor < len(plan.outcomes) {
		// More participants remain; the caller resumes from the journaled cursor.
		return FinalizeResult{Settled: settled, Cursor: st.cursor}, nil
	}

	// Every participant is settled; the escrow must be fully drained before
	// the challenge is sealed.
	if acc, ok := e.accounts.Get(id); ok && acc.Locked != 0 {
		consErr := newError(KindConsistency, CodeConsistency,
			"challenge %s escrow still holds %d after settlement", id, acc.Locked)
		e.haltChallenge(st, id, consErr)
		return FinalizeResult{Cursor: st.cursor}, consErr
	}

	summary := e.buildSummary(st)
	summary.State = model.StateFinalized
	ev, eerr := e.event(model.EventChallengeFinalized, id, &model.ChallengeFinalizedPayload{Summary: summary})
	if eerr != nil {
		return FinalizeResult{Cursor: st.cursor}, eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		if cerr.Kind == KindConsistency {
			e.haltChallenge(st, id, cerr)
		}
		return FinalizeResult{Cursor: st.cursor}, cerr
	}

	e.logger.Info("challenge finalized",
		zap.String("challenge", id),
		zap.String("caller", caller),
		zap.Int("participants", summary.Participants),
		zap.Int("won", summary.Won),
		zap.Int("lost", summary.Lost),
		zap.Int("refunded", summary.Refunded),
		zap.Uint64("paid", summary.TotalPaid),
		zap.Uint64("fee", summary.FeeRetained),
		zap.Uint64("slashed", summary.Slashed))
	return FinalizeResult{Settled: settled, Cursor: st.cursor, Done: true, Summary: st.summary.Load()}, nil
}

// computePlan derives every participant's outcome and payout. Pure over
// the frozen vote state, so every invocation computes the identical plan.
func (e *Engine) computePlan(st *challengeState, ch *model.Challenge) (*settlementPlan, *Error) {
	plan := &settlementPlan{outcomes: make([]plannedOutcome, 0, len(st.order))}

	var losersStake uint64
	winners := 0
	for _, addr := range st.order {
		p, ok := st.parts.Load(addr)
		if !ok {
			return nil, newError(KindConsistency, CodeConsistency,
				"join order references unknown participant %s on challenge %s", addr, ch.ID)
		}
		out := outcomeFor(ch, p, st.votesFor(addr))
		plan.outcomes = append(plan.outcomes, plannedOutcome{
			participant: addr,
			stake:       p.StakeLocked,
			outcome:     out,
		})
		switch out {
		case model.OutcomeWon:
			winners++
		case model.OutcomeLost:
			losersStake += p.StakeLocked
		}
	}

	poolGross := losersStake + ch.CreatorDeposit
	plan.fee = ch.Policy.Fee(poolGross)
	poolNet := poolGross - plan.fee
	if winners > 0 {
		plan.share = poolNet / uint64(winners)
		// integer remainder accrues to the fee so every unit stays accounted
		plan.fee += poolNet - plan.share*uint64(winners)
	} else {
		plan.slashed = poolNet
	}

	for i := range plan.outcomes {
		switch plan.outcomes[i].outcome {
		case model.OutcomeWon:
			plan.outcomes[i].payout = plan.outcomes[i].stake + plan.share
		case model.OutcomeRefunded:
			plan.outcomes[i].payout = plan.outcomes[i].stake
		}
	}
	return plan, nil
}

// applyNextChunk journals and applies one batch of settlements starting at
// the persisted cursor. The fee and slash movements ride on the final
// chunk, after which the escrow must be fully drained.
func (e *Engine) applyNextChunk(ctx context.Context, st *challengeState, plan *settlementPlan, maxBatch int) *Error {
	ch := st.challenge()
	end := st.cursor + maxBatch
	if end > len(plan.outcomes) {
		end = len(plan.outcomes)
	}

	now := e.clock.Now()
	records := make([]model.SettlementRecord, 0, end-st.cursor)
	for _, po := range plan.outcomes[st.cursor:end] {
		if _, dup := st.settlements.Load(po.participant); dup {
			return newError(KindConsistency, CodeDuplicateSettlement,
				"settlement already recorded for %s on challenge %s", po.participant, ch.ID)
		}
		records = append(records, model.SettlementRecord{
			ChallengeID: ch.ID,
			Participant: po.participant,
			Outcome:     po.outcome,
			Amount:      po.payout,
			SettledAt:   now,
		})
	}

	payload := &model.SettlementChunkAppliedPayload{
		Records: records,
		Cursor:  end,
	}
	if end == len(plan.outcomes) {
		payload.Fee = plan.fee
		payload.Slashed = plan.slashed
	}

	ev, eerr := e.event(model.EventSettlementChunkApplied, ch.ID, payload)
	if eerr != nil {
		return eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return cerr
	}
	return nil
}

// haltChallenge freezes further mutation after a failed invariant check.
// Already-settled participants remain settled; the challenge surfaces for
// manual audit instead of silently continuing.
func (e *Engine) haltChallenge(st *challengeState, id string, cause *Error) {
	st.halted.Store(true)
	e.logger.Error("challenge halted for manual audit",
		zap.String("challenge", id),
		zap.Error(cause))
}

// buildSummary aggregates current state from the lock-free snapshots, so
// both the finalize path (lock held) and live queries (no lock) share it.
func (e *Engine) buildSummary(st *challengeState) model.ChallengeSummary {
	ch := st.challenge()
	s := model.ChallengeSummary{
		ChallengeID:  ch.ID,
		State:        ch.State,
		Participants: st.parts.Size(),
		Proofs:       st.proofCount(),
		Votes:        st.voteCount(),
	}
	st.parts.Range(func(_ string, p *model.Participation) bool {
		s.TotalStaked += p.StakeLocked
		return true
	})
	st.settlements.Range(func(_ string, r *model.SettlementRecord) bool {
		switch r.Outcome {
		case model.OutcomeWon:
			s.Won++
		case model.OutcomeLost:
			s.Lost++
		case model.OutcomeRefunded:
			s.Refunded++
		}
		s.TotalPaid += r.Amount
		return true
	})
	if acc, ok := e.accounts.Get(ch.ID); ok {
		s.FeeRetained = acc.FeeAccrued
		s.Slashed = acc.Slashed
	}
	return s
}

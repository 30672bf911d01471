package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/model"
)

// Rebuild replays the journal from the start, materializing challenge,
// participation, vote, settlement, escrow and role views. The same apply
// path also runs for live commits, so a rebuilt engine is bit-identical to
// the one that wrote the journal.
func (e *Engine) Rebuild(ctx context.Context) error {
	count := 0
	err := e.journal.Replay(ctx, func(ev model.Event) error {
		count++
		if applyErr := e.apply(ev); applyErr != nil {
			return applyErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	if count > 0 {
		e.logger.Info("journal replayed", zap.Int("events", count))
	}
	return nil
}

// apply materializes one journal record. Apply functions are deterministic
// over the event alone: they never consult the clock and trust the record,
// validation having run before the append.
func (e *Engine) apply(ev model.Event) *Error {
	decoded, err := model.DecodePayload(ev)
	if err != nil {
		return newError(KindConsistency, CodeConsistency, "corrupt journal record: %v", err)
	}

	switch payload := decoded.(type) {
	case *model.ChallengeCreatedPayload:
		return e.applyChallengeCreated(ev, payload)
	case *model.ChallengeActivatedPayload:
		return e.applyChallengeActivated(ev)
	case *model.ParticipantJoinedPayload:
		return e.applyParticipantJoined(ev, payload)
	case *model.ProofSubmittedPayload:
		return e.applyProofSubmitted(ev, payload)
	case *model.VoteCastPayload:
		return e.applyVoteCast(ev, payload)
	case *model.SettlementChunkAppliedPayload:
		return e.applySettlementChunk(ev, payload)
	case *model.ChallengeFinalizedPayload:
		return e.applyChallengeFinalized(ev, payload)
	case *model.ChallengeCancelledPayload:
		return e.applyChallengeCancelled(ev, payload)
	case *model.RoleGrantedPayload:
		e.access.set(payload.Role, payload.Target)
		return nil
	case *model.RoleRevokedPayload:
		e.access.unset(payload.Role, payload.Target)
		return nil
	default:
		return newError(KindConsistency, CodeConsistency, "unhandled event kind %s at seq %d", ev.Kind, ev.Seq)
	}
}

func (e *Engine) applyChallengeCreated(ev model.Event, payload *model.ChallengeCreatedPayload) *Error {
	ch := payload.Challenge
	e.observeChallengeID(ch.ID)
	e.challenges.Store(ch.ID, newChallengeState(ch))
	e.accounts.Open(ch.ID)
	if ch.CreatorDeposit > 0 {
		return e.accounts.Lock(ch.ID, ch.CreatorDeposit)
	}
	return nil
}

func (e *Engine) applyChallengeActivated(ev model.Event) *Error {
	st, err := e.stateFor(ev.ChallengeID)
	if err != nil {
		return err
	}
	st.setState(model.StateActive)
	return nil
}

func (e *Engine) applyParticipantJoined(ev model.Event, payload *model.ParticipantJoinedPayload) *Error {
	st, err := e.stateFor(ev.ChallengeID)
	if err != nil {
		return err
	}
	if lockErr := e.accounts.Lock(ev.ChallengeID, payload.Stake); lockErr != nil {
		return lockErr
	}
	st.parts.Store(payload.Participant, &model.Participation{
		ChallengeID: ev.ChallengeID,
		Participant: payload.Participant,
		JoinedAt:    ev.At,
		StakeLocked: payload.Stake,
		ProofState:  model.ProofNone,
	})
	st.order = append(st.order, payload.Participant)
	return nil
}

func (e *Engine) applyProofSubmitted(ev model.Event, payload *model.ProofSubmittedPayload) *Error {
	st, err := e.stateFor(ev.ChallengeID)
	if err != nil {
		return err
	}
	prev, ok := st.parts.Load(payload.Participant)
	if !ok {
		return newError(KindConsistency, CodeConsistency,
			"proof for unknown participant %s on challenge %s", payload.Participant, ev.ChallengeID)
	}
	next := *prev
	next.ProofState = model.ProofSubmitted
	next.EvidenceRef = payload.EvidenceRef
	next.ProofNote = payload.Note
	next.SubmittedAt = ev.At
	st.parts.Store(payload.Participant, &next)
	return nil
}

func (e *Engine) applyVoteCast(ev model.Event, payload *model.VoteCastPayload) *Error {
	st, err := e.stateFor(ev.ChallengeID)
	if err != nil {
		return err
	}
	prev := st.votesFor(payload.Participant)
	next := make(map[string]model.VerificationVote, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	next[payload.Verifier] = model.VerificationVote{
		ChallengeID: ev.ChallengeID,
		Participant: payload.Participant,
		Verifier:    payload.Verifier,
		Decision:    payload.Decision,
		CastAt:      ev.At,
	}
	st.votes.Store(payload.Participant, next)
	return nil
}

func (e *Engine) applySettlementChunk(ev model.Event, payload *model.SettlementChunkAppliedPayload) *Error {
	st, err := e.stateFor(ev.ChallengeID)
	if err != nil {
		return err
	}
	if st.challenge().State == model.StateActive {
		st.setState(model.StateFinalizing)
	}

	for i := range payload.Records {
		rec := payload.Records[i]
		if _, dup := st.settlements.Load(rec.Participant); dup {
			return newError(KindConsistency, CodeDuplicateSettlement,
				"second settlement for %s on challenge %s", rec.Participant, ev.ChallengeID)
		}
		// Lost stakes stay in escrow as the reward pool; winners and
		// refunds release funds participant by participant.
		if rec.Amount > 0 {
			if payErr := e.accounts.PayOut(ev.ChallengeID, rec.Amount); payErr != nil {
				return payErr
			}
		}
		st.settlements.Store(rec.Participant, &rec)
	}
	st.cursor = payload.Cursor

	if payload.Fee > 0 {
		if feeErr := e.accounts.AccrueFee(ev.ChallengeID, payload.Fee); feeErr != nil {
			return feeErr
		}
	}
	if payload.Slashed > 0 {
		if slashErr := e.accounts.Slash(ev.ChallengeID, payload.Slashed); slashErr != nil {
			return slashErr
		}
	}
	return e.accounts.CheckConservation(ev.ChallengeID)
}

func (e *Engine) applyChallengeFinalized(ev model.Event, payload *model.ChallengeFinalizedPayload) *Error {
	st, err := e.stateFor(ev.ChallengeID)
	if err != nil {
		return err
	}
	st.setState(model.StateFinalized)
	summary := payload.Summary
	st.summary.Store(&summary)
	return nil
}

func (e *Engine) applyChallengeCancelled(ev model.Event, payload *model.ChallengeCancelledPayload) *Error {
	st, err := e.stateFor(ev.ChallengeID)
	if err != nil {
		return err
	}
	if payload.DepositRefund > 0 {
		if refErr := e.accounts.RefundDeposit(ev.ChallengeID, payload.DepositRefund); refErr != nil {
			return refErr
		}
	}
	st.setState(model.StateCancelled)
	return nil
}

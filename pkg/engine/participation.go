package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/model"
)

// Join locks the participant's stake into escrow and records the
// participation. Capacity, deadline and uniqueness are enforced under the
// challenge's writer lock so concurrent joins cannot oversubscribe.
func (e *Engine) Join(ctx context.Context, id, participant string, stakeValue uint64) (model.Participation, error) {
	if participant == "" {
		return model.Participation{}, newError(KindValidation, CodeInvalidParameter, "participant address required")
	}
	st, serr := e.stateFor(id)
	if serr != nil {
		return model.Participation{}, serr
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ch := st.challenge()
	if ch.State != model.StateActive {
		return model.Participation{}, newError(KindState, CodeChallengeNotActive,
			"challenge %s is %s", id, ch.State)
	}
	now := e.clock.Now()
	if !now.Before(ch.Deadline) {
		return model.Participation{}, newError(KindState, CodeDeadlinePassed,
			"challenge %s deadline has passed", id)
	}
	if len(st.order) >= ch.MaxParticipants {
		return model.Participation{}, newError(KindState, CodeCapacityExceeded,
			"challenge %s is full (%d participants)", id, ch.MaxParticipants)
	}
	if _, joined := st.parts.Load(participant); joined {
		return model.Participation{}, newError(KindConflict, CodeAlreadyJoined,
			"%s already joined challenge %s", participant, id)
	}
	if stakeValue != ch.StakeAmount {
		return model.Participation{}, newError(KindValidation, CodeStakeMismatch,
			"challenge %s requires a stake of %d, got %d", id, ch.StakeAmount, stakeValue)
	}

	if ch.Kind.Restricted() {
		ok, err := e.eligibility.IsEligible(ctx, participant)
		if err != nil {
			return model.Participation{}, wrapExternal(CodeExternalDependency, err,
				"eligibility lookup for %s", participant)
		}
		if !ok {
			return model.Participation{}, newError(KindAuthorization, CodeNotEligible,
				"%s is not eligible to join challenge %s", participant, id)
		}
	}
	if ch.RequiresFollow {
		followers, err := e.eligibility.FollowerCount(ctx, participant)
		if err != nil {
			return model.Participation{}, wrapExternal(CodeExternalDependency, err,
				"follower lookup for %s", participant)
		}
		if followers < ch.MinFollowers {
			return model.Participation{}, newError(KindAuthorization, CodeNotEligible,
				"%s has %d followers, challenge %s requires %d", participant, followers, id, ch.MinFollowers)
		}
	}

	ev, eerr := e.event(model.EventParticipantJoined, id, &model.ParticipantJoinedPayload{
		Participant: participant,
		Stake:       stakeValue,
	})
	if eerr != nil {
		return model.Participation{}, eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return model.Participation{}, cerr
	}

	e.logger.Debug("participant joined",
		zap.String("challenge", id),
		zap.String("participant", participant),
		zap.Uint64("stake", stakeValue))
	p, _ := st.parts.Load(participant)
	return *p, nil
}

// SubmitProof records an evidence reference for the participant. The core
// never inspects evidence content, it stores and compares only the ref.
// Re-submission before the deadline overwrites the reference so mistakes
// can be corrected.
func (e *Engine) SubmitProof(ctx context.Context, id, participant, evidenceRef, note string) (model.Participation, error) {
	if evidenceRef == "" {
		return model.Participation{}, newError(KindValidation, CodeInvalidParameter, "evidence reference required")
	}
	if len(evidenceRef) > maxEvidenceRefLen {
		return model.Participation{}, newError(KindValidation, CodeInvalidParameter,
			"evidence reference exceeds %d bytes", maxEvidenceRefLen)
	}
	st, serr := e.stateFor(id)
	if serr != nil {
		return model.Participation{}, serr
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ch := st.challenge()
	prev, joined := st.parts.Load(participant)
	if !joined {
		return model.Participation{}, newError(KindState, CodeNotParticipant,
			"%s has not joined challenge %s", participant, id)
	}
	if ch.State != model.StateActive {
		return model.Participation{}, newError(KindState, CodeChallengeNotActive,
			"challenge %s is %s", id, ch.State)
	}
	if !e.clock.Now().Before(ch.Deadline) {
		return model.Participation{}, newError(KindState, CodeDeadlinePassed,
			"challenge %s deadline has passed", id)
	}

	ev, eerr := e.event(model.EventProofSubmitted, id, &model.ProofSubmittedPayload{
		Participant: participant,
		EvidenceRef: evidenceRef,
		Note:        note,
		Resubmitted: prev.ProofState == model.ProofSubmitted,
	})
	if eerr != nil {
		return model.Participation{}, eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return model.Participation{}, cerr
	}

	p, _ := st.parts.Load(participant)
	return *p, nil
}

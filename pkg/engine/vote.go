package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/model"
)

// CastVote records one verifier's judgment of one participant's evidence.
// Exactly one vote per (verifier, participant); votes are accepted from
// submission until the end of the grace window.
func (e *Engine) CastVote(ctx context.Context, id, participant, verifier string, decision model.VoteDecision) (model.VerificationVote, error) {
	if verifier == "" {
		return model.VerificationVote{}, newError(KindValidation, CodeInvalidParameter, "verifier address required")
	}
	if decision != model.VoteApprove && decision != model.VoteReject {
		return model.VerificationVote{}, newError(KindValidation, CodeInvalidParameter, "decision must be approve or reject")
	}
	if verifier == participant {
		return model.VerificationVote{}, newError(KindValidation, CodeInvalidParameter,
			"participants cannot verify their own evidence")
	}
	st, serr := e.stateFor(id)
	if serr != nil {
		return model.VerificationVote{}, serr
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ch := st.challenge()
	target, joined := st.parts.Load(participant)
	if !joined {
		return model.VerificationVote{}, newError(KindState, CodeNotParticipant,
			"%s has not joined challenge %s", participant, id)
	}
	if target.ProofState != model.ProofSubmitted {
		return model.VerificationVote{}, newError(KindState, CodeStateError,
			"%s has not submitted evidence on challenge %s", participant, id)
	}
	if !e.clock.Now().Before(ch.VoteWindowEnd()) {
		return model.VerificationVote{}, newError(KindState, CodeDeadlinePassed,
			"voting on challenge %s closed at the end of the grace window", id)
	}

	if authErr := e.authorizeVerifier(ctx, &ch, verifier); authErr != nil {
		return model.VerificationVote{}, authErr
	}

	if vs := st.votesFor(participant); vs != nil {
		if _, dup := vs[verifier]; dup {
			return model.VerificationVote{}, newError(KindConflict, CodeDuplicateVote,
				"%s already voted on %s for challenge %s", verifier, participant, id)
		}
	}

	ev, eerr := e.event(model.EventVoteCast, id, &model.VoteCastPayload{
		Participant: participant,
		Verifier:    verifier,
		Decision:    decision,
	})
	if eerr != nil {
		return model.VerificationVote{}, eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return model.VerificationVote{}, cerr
	}

	e.logger.Debug("vote cast",
		zap.String("challenge", id),
		zap.String("participant", participant),
		zap.String("verifier", verifier),
		zap.String("decision", decision.String()))
	return st.votesFor(participant)[verifier], nil
}

// authorizeVerifier applies the two-tier verifier model: membership in the
// challenge's assigned set always qualifies; on open challenges a
// platform community_verifier or an address the eligibility policy accepts
// may also vote.
func (e *Engine) authorizeVerifier(ctx context.Context, ch *model.Challenge, verifier string) *Error {
	if ch.AssignedVerifier(verifier) {
		return nil
	}
	if ch.Kind.Restricted() {
		return newError(KindAuthorization, CodeUnauthorizedVerifier,
			"%s is not an assigned verifier for challenge %s", verifier, ch.ID)
	}
	if e.access.HasRole(model.RoleCommunityVerifier, verifier) {
		return nil
	}
	ok, err := e.eligibility.IsEligible(ctx, verifier)
	if err != nil {
		return wrapExternal(CodeExternalDependency, err, "verifier eligibility lookup for %s", verifier)
	}
	if !ok {
		return newError(KindAuthorization, CodeUnauthorizedVerifier,
			"%s is not eligible to verify challenge %s", verifier, ch.ID)
	}
	if e.minTrust > 0 {
		score, terr := e.eligibility.TrustScore(ctx, verifier)
		if terr != nil {
			return wrapExternal(CodeExternalDependency, terr, "trust score lookup for %s", verifier)
		}
		if score < e.minTrust {
			return newError(KindAuthorization, CodeUnauthorizedVerifier,
				"%s trust score %.2f is below the verification floor", verifier, score)
		}
	}
	return nil
}

// outcomeFor evaluates the consensus rule for one participant at the
// finalize boundary:
//   - no evidence: Lost, no ambiguity;
//   - quorum reached and approvals strictly ahead: Won;
//   - quorum reached otherwise: Lost;
//   - quorum unreached: Refunded, because insufficient verifier attention
//     is not the participant's fault.
func outcomeFor(ch *model.Challenge, p *model.Participation, votes map[string]model.VerificationVote) model.Outcome {
	if p.ProofState != model.ProofSubmitted {
		return model.OutcomeLost
	}
	approve, reject := 0, 0
	for _, v := range votes {
		switch v.Decision {
		case model.VoteApprove:
			approve++
		case model.VoteReject:
			reject++
		}
	}
	quorum := ch.Policy.Quorum.Required(len(ch.Verifiers))
	if approve+reject < quorum {
		return model.OutcomeRefunded
	}
	if approve > reject {
		return model.OutcomeWon
	}
	return model.OutcomeLost
}

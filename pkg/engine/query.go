package engine

import (
	"sort"
	"time"

	"github.com/proofofgood/engine/pkg/model"
)

// GetChallenge returns a snapshot of a challenge. Reads never take the
// writer lock.
func (e *Engine) GetChallenge(id string) (model.Challenge, error) {
	st, err := e.stateFor(id)
	if err != nil {
		return model.Challenge{}, err
	}
	return st.challenge(), nil
}

// ListChallenges returns snapshots of every challenge, ordered by id.
func (e *Engine) ListChallenges() []model.Challenge {
	out := make([]model.Challenge, 0, e.challenges.Size())
	e.challenges.Range(func(_ string, st *challengeState) bool {
		out = append(out, st.challenge())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListParticipants returns all participations in join order.
func (e *Engine) ListParticipants(id string) ([]model.Participation, error) {
	st, err := e.stateFor(id)
	if err != nil {
		return nil, err
	}
	return st.participants(), nil
}

// ListVotes returns all votes on one participant's evidence.
func (e *Engine) ListVotes(id, participant string) ([]model.VerificationVote, error) {
	st, err := e.stateFor(id)
	if err != nil {
		return nil, err
	}
	vs := st.votesFor(participant)
	out := make([]model.VerificationVote, 0, len(vs))
	for _, v := range vs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Verifier < out[j].Verifier })
	return out, nil
}

// GetSettlement returns the immutable settlement record for a participant.
func (e *Engine) GetSettlement(id, participant string) (model.SettlementRecord, error) {
	st, err := e.stateFor(id)
	if err != nil {
		return model.SettlementRecord{}, err
	}
	rec, ok := st.settlements.Load(participant)
	if !ok {
		return model.SettlementRecord{}, newError(KindState, CodeNotFound,
			"no settlement for %s on challenge %s", participant, id)
	}
	return *rec, nil
}

// GetEscrow returns the escrow account snapshot for a challenge.
func (e *Engine) GetEscrow(id string) (model.EscrowAccount, error) {
	if _, err := e.stateFor(id); err != nil {
		return model.EscrowAccount{}, err
	}
	acc, ok := e.accounts.Get(id)
	if !ok {
		return model.EscrowAccount{}, newError(KindConsistency, CodeConsistency,
			"challenge %s has no escrow account", id)
	}
	return acc, nil
}

// GetChallengeSummary aggregates stake, participant and outcome counts.
// Finalized challenges return the sealed summary from the journal.
func (e *Engine) GetChallengeSummary(id string) (model.ChallengeSummary, error) {
	st, err := e.stateFor(id)
	if err != nil {
		return model.ChallengeSummary{}, err
	}
	if s := st.summary.Load(); s != nil {
		return *s, nil
	}
	return e.buildSummary(st), nil
}

// DueChallenges lists challenges whose grace window has elapsed and that
// still need settlement work, for the external finalize scheduler.
func (e *Engine) DueChallenges(now time.Time) []string {
	var due []string
	e.challenges.Range(func(id string, st *challengeState) bool {
		if st.halted.Load() {
			return true
		}
		ch := st.challenge()
		switch ch.State {
		case model.StateActive, model.StateFinalizing:
			if !now.Before(ch.VoteWindowEnd()) {
				due = append(due, id)
			}
		}
		return true
	})
	sort.Strings(due)
	return due
}

// Halted reports whether the challenge is frozen pending manual audit.
func (e *Engine) Halted(id string) bool {
	st, err := e.stateFor(id)
	if err != nil {
		return false
	}
	return st.halted.Load()
}

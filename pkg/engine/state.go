package engine

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proofofgood/engine/pkg/model"
)

// challengeState is the materialized view of one challenge. All mutation
// happens under mu (a single logical writer per challenge); reads go
// through atomic snapshots and the concurrent maps and never block the
// writer. Stored participation and vote values are immutable copies,
// replaced wholesale on update.
type challengeState struct {
	mu sync.Mutex

	header      atomic.Pointer[model.Challenge]
	order       []string // join order; writer-only, drives deterministic settlement
	parts       *xsync.Map[string, *model.Participation]
	votes       *xsync.Map[string, map[string]model.VerificationVote] // participant -> verifier -> vote
	settlements *xsync.Map[string, *model.SettlementRecord]

	cursor  int // next unsettled index into order; writer-only, journaled per chunk
	halted  atomic.Bool
	summary atomic.Pointer[model.ChallengeSummary] // stored once Finalized
}

func newChallengeState(ch model.Challenge) *challengeState {
	st := &challengeState{
		parts:       xsync.NewMap[string, *model.Participation](),
		votes:       xsync.NewMap[string, map[string]model.VerificationVote](),
		settlements: xsync.NewMap[string, *model.SettlementRecord](),
	}
	st.header.Store(&ch)
	return st
}

// challenge returns the current header snapshot.
func (st *challengeState) challenge() model.Challenge {
	return *st.header.Load()
}

// setState publishes a new header with the given lifecycle state.
func (st *challengeState) setState(s model.ChallengeState) {
	next := st.challenge()
	next.State = s
	st.header.Store(&next)
}

// participants returns all participations sorted by join time, then
// address for a stable order between equal timestamps.
func (st *challengeState) participants() []model.Participation {
	out := make([]model.Participation, 0, st.parts.Size())
	st.parts.Range(func(_ string, p *model.Participation) bool {
		out = append(out, *p)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Participant < out[j].Participant
	})
	return out
}

// votesFor returns the vote set for one participant. The returned map is
// the immutable published copy and must not be mutated.
func (st *challengeState) votesFor(participant string) map[string]model.VerificationVote {
	vs, _ := st.votes.Load(participant)
	return vs
}

// voteCount counts all votes cast on this challenge.
func (st *challengeState) voteCount() int {
	n := 0
	st.votes.Range(func(_ string, vs map[string]model.VerificationVote) bool {
		n += len(vs)
		return true
	})
	return n
}

// proofCount counts participations with submitted evidence.
func (st *challengeState) proofCount() int {
	n := 0
	st.parts.Range(func(_ string, p *model.Participation) bool {
		if p.ProofState == model.ProofSubmitted {
			n++
		}
		return true
	})
	return n
}

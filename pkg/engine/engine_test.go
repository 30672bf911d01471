package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/proofofgood/engine/pkg/engine"
	"github.com/proofofgood/engine/pkg/journal"
	"github.com/proofofgood/engine/pkg/model"
	"github.com/proofofgood/engine/pkg/policy"
)

// manualClock lets tests move time explicitly. The engine has no internal
// scheduler, so deadline behavior is fully driven by this.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine  *engine.Engine
	journal *journal.Memory
	clock   *manualClock
	policy  *policy.Static
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newManualClock()
	jrnl := journal.NewMemory()
	pol := policy.NewStatic()

	eng, err := engine.New(context.Background(), engine.Config{
		Logger:         zaptest.NewLogger(t),
		Clock:          clock,
		Journal:        jrnl,
		Eligibility:    pol,
		BootstrapAdmin: "admin1",
	})
	require.NoError(t, err)

	return &testEnv{engine: eng, journal: jrnl, clock: clock, policy: pol}
}

// openParams returns a community challenge one hour from now with a
// 30 minute grace window and a two-voter quorum.
func openParams(clock *manualClock) engine.CreateParams {
	return engine.CreateParams{
		Title:           "run 5k every day",
		Category:        "fitness",
		Kind:            model.KindCommunity,
		StakeAmount:     1_000_000,
		Deadline:        clock.Now().Add(time.Hour),
		GraceWindow:     30 * time.Minute,
		MaxParticipants: 10,
		Policy: &model.EconomicPolicy{
			FeeBps:           500,
			Quorum:           model.QuorumRule{Kind: model.QuorumFixedCount, Count: 2},
			SlashDestination: "treasury",
			FeeAccount:       "protocol_fees",
		},
	}
}

func TestCreateChallengeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := openParams(env.clock)

	tests := []struct {
		name    string
		creator string
		mutate  func(*engine.CreateParams)
	}{
		{name: "empty creator", creator: ""},
		{name: "deadline in the past", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.Deadline = env.clock.Now().Add(-time.Minute)
		}},
		{name: "deadline exactly now", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.Deadline = env.clock.Now()
		}},
		{name: "zero capacity", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.MaxParticipants = 0
		}},
		{name: "restricted kind without verifiers", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.Kind = model.KindCustom
			p.Verifiers = nil
		}},
		{name: "no-stake kind with stake", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.Kind = model.KindNoStake
			p.StakeAmount = 100
		}},
		{name: "duplicate verifier", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.Kind = model.KindCustom
			p.Verifiers = []string{"v1", "v2", "v1"}
		}},
		{name: "fee above 100 percent", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.Policy = &model.EconomicPolicy{
				FeeBps:           model.FeeDenominator + 1,
				Quorum:           model.QuorumRule{Kind: model.QuorumFixedCount, Count: 1},
				SlashDestination: "treasury",
			}
		}},
		{name: "missing slash destination", creator: "alice", mutate: func(p *engine.CreateParams) {
			p.Policy = &model.EconomicPolicy{
				FeeBps: 100,
				Quorum: model.QuorumRule{Kind: model.QuorumFixedCount, Count: 1},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			_, err := env.engine.CreateChallenge(ctx, tt.creator, p)
			require.Error(t, err)
			assert.True(t, engine.IsKind(err, engine.KindValidation), "expected validation error, got %v", err)
		})
	}
}

func TestChallengeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("open kinds start active", func(t *testing.T) {
		ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
		require.NoError(t, err)
		assert.Equal(t, model.StateActive, ch.State)
		assert.NotEmpty(t, ch.ID)
	})

	t.Run("restricted kinds wait for activation", func(t *testing.T) {
		p := openParams(env.clock)
		p.Kind = model.KindCustom
		p.Verifiers = []string{"v1", "v2", "v3"}
		p.Policy = nil

		ch, err := env.engine.CreateChallenge(ctx, "alice", p)
		require.NoError(t, err)
		assert.Equal(t, model.StateProposed, ch.State)

		_, err = env.engine.ActivateChallenge(ctx, ch.ID, "stranger")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindAuthorization))

		activated, err := env.engine.ActivateChallenge(ctx, ch.ID, "admin1")
		require.NoError(t, err)
		assert.Equal(t, model.StateActive, activated.State)

		_, err = env.engine.ActivateChallenge(ctx, ch.ID, "admin1")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindState))
	})

	t.Run("unknown challenge", func(t *testing.T) {
		_, err := env.engine.GetChallenge("c999999")
		require.Error(t, err)
		assert.Equal(t, engine.CodeNotFound, engine.CodeOf(err))
	})

	t.Run("ids are sequential", func(t *testing.T) {
		a, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
		require.NoError(t, err)
		b, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
		require.NoError(t, err)
		assert.Less(t, a.ID, b.ID)
	})
}

func TestCancelChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("cancel refunds creator deposit", func(t *testing.T) {
		p := openParams(env.clock)
		p.CreatorDeposit = 250_000
		ch, err := env.engine.CreateChallenge(ctx, "alice", p)
		require.NoError(t, err)

		cancelled, err := env.engine.CancelChallenge(ctx, ch.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, model.StateCancelled, cancelled.State)

		acc, err := env.engine.GetEscrow(ch.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(250_000), acc.TotalIn)
		assert.Equal(t, uint64(250_000), acc.DepositRefunds)
		assert.Zero(t, acc.Locked)
	})

	t.Run("admin can cancel someone else's challenge", func(t *testing.T) {
		ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
		require.NoError(t, err)
		_, err = env.engine.CancelChallenge(ctx, ch.ID, "admin1")
		require.NoError(t, err)
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
		require.NoError(t, err)
		_, err = env.engine.CancelChallenge(ctx, ch.ID, "mallory")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindAuthorization))
	})

	t.Run("cancel with participants is refused", func(t *testing.T) {
		ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
		require.NoError(t, err)
		_, err = env.engine.Join(ctx, ch.ID, "bob", ch.StakeAmount)
		require.NoError(t, err)

		_, err = env.engine.CancelChallenge(ctx, ch.ID, "alice")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindState))
	})

	t.Run("join after cancel is refused", func(t *testing.T) {
		ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
		require.NoError(t, err)
		_, err = env.engine.CancelChallenge(ctx, ch.ID, "alice")
		require.NoError(t, err)

		_, err = env.engine.Join(ctx, ch.ID, "bob", ch.StakeAmount)
		require.Error(t, err)
		assert.Equal(t, engine.CodeChallengeNotActive, engine.CodeOf(err))
	})
}

func TestJoin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
	require.NoError(t, err)

	t.Run("stake locks into escrow", func(t *testing.T) {
		p, err := env.engine.Join(ctx, ch.ID, "bob", ch.StakeAmount)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), p.StakeLocked)
		assert.Equal(t, model.ProofNone, p.ProofState)

		acc, err := env.engine.GetEscrow(ch.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), acc.Locked)
		assert.Equal(t, uint64(1_000_000), acc.TotalIn)
	})

	t.Run("wrong stake amount", func(t *testing.T) {
		_, err := env.engine.Join(ctx, ch.ID, "carol", ch.StakeAmount-1)
		require.Error(t, err)
		assert.Equal(t, engine.CodeStakeMismatch, engine.CodeOf(err))
	})

	t.Run("double join", func(t *testing.T) {
		_, err := env.engine.Join(ctx, ch.ID, "bob", ch.StakeAmount)
		require.Error(t, err)
		assert.Equal(t, engine.CodeAlreadyJoined, engine.CodeOf(err))
		assert.True(t, engine.IsKind(err, engine.KindConflict))
	})

	t.Run("capacity is enforced", func(t *testing.T) {
		p := openParams(env.clock)
		p.MaxParticipants = 1
		small, err := env.engine.CreateChallenge(ctx, "alice", p)
		require.NoError(t, err)

		_, err = env.engine.Join(ctx, small.ID, "bob", small.StakeAmount)
		require.NoError(t, err)
		_, err = env.engine.Join(ctx, small.ID, "carol", small.StakeAmount)
		require.Error(t, err)
		assert.Equal(t, engine.CodeCapacityExceeded, engine.CodeOf(err))
	})

	t.Run("join at the deadline", func(t *testing.T) {
		p := openParams(env.clock)
		late, err := env.engine.CreateChallenge(ctx, "alice", p)
		require.NoError(t, err)

		env.clock.Advance(time.Hour) // exactly the deadline
		_, err = env.engine.Join(ctx, late.ID, "bob", late.StakeAmount)
		require.Error(t, err)
		assert.Equal(t, engine.CodeDeadlinePassed, engine.CodeOf(err))
	})

	t.Run("follower gate on social challenges", func(t *testing.T) {
		p := openParams(env.clock)
		p.Kind = model.KindSocial
		p.RequiresFollow = true
		p.MinFollowers = 5
		social, err := env.engine.CreateChallenge(ctx, "alice", p)
		require.NoError(t, err)

		env.policy.Followers["popular"] = 9
		env.policy.Followers["lurker"] = 2

		_, err = env.engine.Join(ctx, social.ID, "popular", social.StakeAmount)
		require.NoError(t, err)

		_, err = env.engine.Join(ctx, social.ID, "lurker", social.StakeAmount)
		require.Error(t, err)
		assert.Equal(t, engine.CodeNotEligible, engine.CodeOf(err))
	})
}

func TestSubmitProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
	require.NoError(t, err)
	_, err = env.engine.Join(ctx, ch.ID, "bob", ch.StakeAmount)
	require.NoError(t, err)

	t.Run("requires membership", func(t *testing.T) {
		_, err := env.engine.SubmitProof(ctx, ch.ID, "carol", "ipfs://proof", "")
		require.Error(t, err)
		assert.Equal(t, engine.CodeNotParticipant, engine.CodeOf(err))
	})

	t.Run("requires a reference", func(t *testing.T) {
		_, err := env.engine.SubmitProof(ctx, ch.ID, "bob", "", "")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindValidation))
	})

	t.Run("rejects oversized references", func(t *testing.T) {
		huge := make([]byte, 513)
		for i := range huge {
			huge[i] = 'a'
		}
		_, err := env.engine.SubmitProof(ctx, ch.ID, "bob", string(huge), "")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindValidation))
	})

	t.Run("resubmission overwrites", func(t *testing.T) {
		first, err := env.engine.SubmitProof(ctx, ch.ID, "bob", "ipfs://one", "first try")
		require.NoError(t, err)
		assert.Equal(t, model.ProofSubmitted, first.ProofState)

		second, err := env.engine.SubmitProof(ctx, ch.ID, "bob", "ipfs://two", "better run")
		require.NoError(t, err)
		assert.Equal(t, "ipfs://two", second.EvidenceRef)
		assert.Equal(t, "better run", second.ProofNote)
	})

	t.Run("closed at the deadline", func(t *testing.T) {
		env.clock.Advance(time.Hour)
		_, err := env.engine.SubmitProof(ctx, ch.ID, "bob", "ipfs://late", "")
		require.Error(t, err)
		assert.Equal(t, engine.CodeDeadlinePassed, engine.CodeOf(err))
	})
}

func TestCastVote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.policy.Eligible["v1"] = true
	env.policy.Eligible["v2"] = true

	ch, err := env.engine.CreateChallenge(ctx, "alice", openParams(env.clock))
	require.NoError(t, err)
	_, err = env.engine.Join(ctx, ch.ID, "bob", ch.StakeAmount)
	require.NoError(t, err)
	_, err = env.engine.Join(ctx, ch.ID, "carol", ch.StakeAmount)
	require.NoError(t, err)
	_, err = env.engine.SubmitProof(ctx, ch.ID, "bob", "ipfs://bob", "")
	require.NoError(t, err)

	t.Run("no vote before evidence", func(t *testing.T) {
		_, err := env.engine.CastVote(ctx, ch.ID, "carol", "v1", model.VoteApprove)
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindState))
	})

	t.Run("no self verification", func(t *testing.T) {
		_, err := env.engine.CastVote(ctx, ch.ID, "bob", "bob", model.VoteApprove)
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindValidation))
	})

	t.Run("ineligible community verifier", func(t *testing.T) {
		_, err := env.engine.CastVote(ctx, ch.ID, "bob", "rando", model.VoteApprove)
		require.Error(t, err)
		assert.Equal(t, engine.CodeUnauthorizedVerifier, engine.CodeOf(err))
	})

	t.Run("platform community verifier role qualifies", func(t *testing.T) {
		require.NoError(t, env.engine.GrantRole(ctx, model.RoleCommunityVerifier, "trusted", "admin1"))
		_, err := env.engine.CastVote(ctx, ch.ID, "bob", "trusted", model.VoteApprove)
		require.NoError(t, err)
	})

	t.Run("one vote per verifier per participant", func(t *testing.T) {
		v, err := env.engine.CastVote(ctx, ch.ID, "bob", "v1", model.VoteApprove)
		require.NoError(t, err)
		assert.Equal(t, model.VoteApprove, v.Decision)

		_, err = env.engine.CastVote(ctx, ch.ID, "bob", "v1", model.VoteReject)
		require.Error(t, err)
		assert.Equal(t, engine.CodeDuplicateVote, engine.CodeOf(err))
	})

	t.Run("assigned verifiers only on restricted kinds", func(t *testing.T) {
		p := openParams(env.clock)
		p.Kind = model.KindCustom
		p.Verifiers = []string{"ref1", "ref2", "ref3"}
		p.Policy = nil
		restricted, err := env.engine.CreateChallenge(ctx, "alice", p)
		require.NoError(t, err)
		_, err = env.engine.ActivateChallenge(ctx, restricted.ID, "admin1")
		require.NoError(t, err)
		_, err = env.engine.Join(ctx, restricted.ID, "dave", restricted.StakeAmount)
		require.NoError(t, err)
		_, err = env.engine.SubmitProof(ctx, restricted.ID, "dave", "ipfs://dave", "")
		require.NoError(t, err)

		// v1 is community-eligible but not in the assigned set
		_, err = env.engine.CastVote(ctx, restricted.ID, "dave", "v1", model.VoteApprove)
		require.Error(t, err)
		assert.Equal(t, engine.CodeUnauthorizedVerifier, engine.CodeOf(err))

		_, err = env.engine.CastVote(ctx, restricted.ID, "dave", "ref1", model.VoteApprove)
		require.NoError(t, err)
	})

	t.Run("voting closes with the grace window", func(t *testing.T) {
		env.clock.Advance(90 * time.Minute) // past deadline + grace
		_, err := env.engine.CastVote(ctx, ch.ID, "bob", "v2", model.VoteApprove)
		require.Error(t, err)
		assert.Equal(t, engine.CodeDeadlinePassed, engine.CodeOf(err))
	})
}

func TestRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("bootstrap admin exists", func(t *testing.T) {
		assert.True(t, env.engine.HasRole(model.RoleAdmin, "admin1"))
	})

	t.Run("grant and revoke", func(t *testing.T) {
		require.NoError(t, env.engine.GrantRole(ctx, model.RoleRelayer, "relay1", "admin1"))
		assert.True(t, env.engine.HasRole(model.RoleRelayer, "relay1"))

		require.NoError(t, env.engine.RevokeRole(ctx, model.RoleRelayer, "relay1", "admin1"))
		assert.False(t, env.engine.HasRole(model.RoleRelayer, "relay1"))
	})

	t.Run("double grant conflicts", func(t *testing.T) {
		require.NoError(t, env.engine.GrantRole(ctx, model.RoleRelayer, "relay2", "admin1"))
		err := env.engine.GrantRole(ctx, model.RoleRelayer, "relay2", "admin1")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindConflict))
	})

	t.Run("revoking a missing role fails", func(t *testing.T) {
		err := env.engine.RevokeRole(ctx, model.RoleRelayer, "ghost", "admin1")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindState))
	})

	t.Run("self granting is forbidden", func(t *testing.T) {
		err := env.engine.GrantRole(ctx, model.RoleAdmin, "admin1", "admin1")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindAuthorization))
	})

	t.Run("non-admin cannot grant", func(t *testing.T) {
		err := env.engine.GrantRole(ctx, model.RoleRelayer, "relay3", "mallory")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindAuthorization))
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		err := env.engine.GrantRole(ctx, "superuser", "x", "admin1")
		require.Error(t, err)
		assert.True(t, engine.IsKind(err, engine.KindValidation))
	})
}

func TestBootstrapAdminRunsOnce(t *testing.T) {
	env := newTestEnv(t)

	before, err := env.journal.LastSeq(context.Background())
	require.NoError(t, err)

	// A second engine over the same journal must not grant again.
	eng2, err := engine.New(context.Background(), engine.Config{
		Clock:          env.clock,
		Journal:        env.journal,
		BootstrapAdmin: "admin1",
	})
	require.NoError(t, err)
	assert.True(t, eng2.HasRole(model.RoleAdmin, "admin1"))

	after, err := env.journal.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestVerifierTrustFloor(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock()
	pol := policy.NewStatic()
	pol.AllowAll = true
	pol.Scores["veteran"] = 5.0
	pol.Scores["newcomer"] = 0.5

	eng, err := engine.New(ctx, engine.Config{
		Logger:           zaptest.NewLogger(t),
		Clock:            clock,
		Journal:          journal.NewMemory(),
		Eligibility:      pol,
		MinVerifierTrust: 2.0,
	})
	require.NoError(t, err)

	ch, err := eng.CreateChallenge(ctx, "alice", openParams(clock))
	require.NoError(t, err)
	_, err = eng.Join(ctx, ch.ID, "bob", ch.StakeAmount)
	require.NoError(t, err)
	_, err = eng.SubmitProof(ctx, ch.ID, "bob", "ipfs://bob", "")
	require.NoError(t, err)

	_, err = eng.CastVote(ctx, ch.ID, "bob", "veteran", model.VoteApprove)
	require.NoError(t, err)

	_, err = eng.CastVote(ctx, ch.ID, "bob", "newcomer", model.VoteApprove)
	require.Error(t, err)
	assert.Equal(t, engine.CodeUnauthorizedVerifier, engine.CodeOf(err))
	assert.True(t, engine.IsKind(err, engine.KindAuthorization))
}

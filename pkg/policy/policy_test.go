package policy_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofofgood/engine/pkg/policy"
)

// fakeGraph is a canned follow graph for eligibility tests.
type fakeGraph struct {
	followers map[string]uint64
	err       error
}

func (f *fakeGraph) FollowerCount(_ context.Context, addr string) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.followers[addr], nil
}

func (f *fakeGraph) Follows(_ context.Context, follower, target string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return false, nil
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := policy.NewStatic()
	s.Eligible["v1"] = true
	s.Scores["v1"] = 4.2
	s.Followers["v1"] = 17

	ok, err := s.IsEligible(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsEligible(ctx, "stranger")
	require.NoError(t, err)
	assert.False(t, ok)

	score, err := s.TrustScore(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 4.2, score)

	n, err := s.FollowerCount(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	t.Run("allow all", func(t *testing.T) {
		open := policy.NewStatic()
		open.AllowAll = true
		ok, err := open.IsEligible(ctx, "anyone")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestGraphEligibility(t *testing.T) {
	ctx := context.Background()
	g := &fakeGraph{followers: map[string]uint64{
		"whale":    10_000,
		"regular":  25,
		"drive-by": 3,
	}}
	e := policy.NewGraphEligibility(g, 0)
	require.Equal(t, uint64(policy.DefaultVerifierMinFollowers), e.VerifierMinFollowers)

	t.Run("follower floor", func(t *testing.T) {
		ok, err := e.IsEligible(ctx, "regular")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = e.IsEligible(ctx, "drive-by")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("trust grows logarithmically", func(t *testing.T) {
		whale, err := e.TrustScore(ctx, "whale")
		require.NoError(t, err)
		regular, err := e.TrustScore(ctx, "regular")
		require.NoError(t, err)
		assert.InDelta(t, math.Log1p(10_000), whale, 1e-9)
		assert.InDelta(t, math.Log1p(25), regular, 1e-9)
		// four hundred times the followers yields well under four times the trust
		assert.Less(t, whale, 4*regular)

		none, err := e.TrustScore(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, none)
	})

	t.Run("graph errors propagate", func(t *testing.T) {
		boom := errors.New("graph down")
		broken := policy.NewGraphEligibility(&fakeGraph{err: boom}, 5)

		_, err := broken.IsEligible(ctx, "x")
		assert.ErrorIs(t, err, boom)
		_, err = broken.TrustScore(ctx, "x")
		assert.ErrorIs(t, err, boom)
		_, err = broken.FollowerCount(ctx, "x")
		assert.ErrorIs(t, err, boom)
	})
}

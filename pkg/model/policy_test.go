package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofofgood/engine/pkg/model"
)

func TestFee(t *testing.T) {
	tests := []struct {
		name     string
		bps      uint32
		gross    uint64
		expected uint64
	}{
		{"zero fee", 0, 1_000_000, 0},
		{"zero pool", 500, 0, 0},
		{"five percent", 500, 1_000_000, 50_000},
		{"rounds down", 500, 999, 49},
		{"full confiscation", 10_000, 1_234, 1_234},
		{"one basis point on one unit", 1, 1, 0},
		{"near-overflow pool", 500, math.MaxUint64, math.MaxUint64 / 10_000 * 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.EconomicPolicy{FeeBps: tt.bps}
			assert.Equal(t, tt.expected, p.Fee(tt.gross))
		})
	}

	t.Run("fee never exceeds the pool", func(t *testing.T) {
		p := model.EconomicPolicy{FeeBps: 10_000}
		for _, gross := range []uint64{1, 7, 10_001, math.MaxUint64} {
			assert.LessOrEqual(t, p.Fee(gross), gross)
		}
	})
}

func TestEconomicPolicyValidate(t *testing.T) {
	base := model.EconomicPolicy{FeeBps: 500, SlashDestination: "treasury"}
	require.NoError(t, base.Validate())

	t.Run("fee above 100 percent", func(t *testing.T) {
		p := base
		p.FeeBps = 10_001
		assert.Error(t, p.Validate())
	})

	t.Run("missing slash destination", func(t *testing.T) {
		p := base
		p.SlashDestination = ""
		assert.Error(t, p.Validate())
	})
}

func TestQuorumRequired(t *testing.T) {
	tests := []struct {
		name     string
		rule     model.QuorumRule
		assigned int
		expected int
	}{
		{"majority of three", model.QuorumRule{Kind: model.QuorumAssignedMajority}, 3, 2},
		{"majority of four", model.QuorumRule{Kind: model.QuorumAssignedMajority}, 4, 3},
		{"majority of one", model.QuorumRule{Kind: model.QuorumAssignedMajority}, 1, 1},
		{"majority with no assigned set", model.QuorumRule{Kind: model.QuorumAssignedMajority}, 0, 1},
		{"fixed count", model.QuorumRule{Kind: model.QuorumFixedCount, Count: 5}, 0, 5},
		{"fixed count floors at one", model.QuorumRule{Kind: model.QuorumFixedCount}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.rule.Required(tt.assigned))
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	open := model.DefaultPolicy(model.KindCommunity)
	assert.Equal(t, uint32(500), open.FeeBps)
	assert.Equal(t, model.QuorumFixedCount, open.Quorum.Kind)
	assert.Equal(t, model.DefaultOpenQuorum, open.Quorum.Count)
	require.NoError(t, open.Validate())

	restricted := model.DefaultPolicy(model.KindCustom)
	assert.Equal(t, model.QuorumAssignedMajority, restricted.Quorum.Kind)
	require.NoError(t, restricted.Validate())
}

func TestKindRoundTrip(t *testing.T) {
	kinds := []model.ChallengeKind{
		model.KindCommunity,
		model.KindCustom,
		model.KindCommunityService,
		model.KindSocial,
		model.KindStorageIncentive,
		model.KindNoStake,
	}
	for _, k := range kinds {
		parsed, ok := model.ParseChallengeKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, parsed)
	}

	_, ok := model.ParseChallengeKind("bogus")
	assert.False(t, ok)

	assert.True(t, model.KindCustom.Restricted())
	assert.True(t, model.KindCommunityService.Restricted())
	assert.False(t, model.KindCommunity.Restricted())
	assert.False(t, model.KindNoStake.Staked())
	assert.True(t, model.KindSocial.Staked())
}

func TestVoteDecisionRoundTrip(t *testing.T) {
	for _, d := range []model.VoteDecision{model.VoteApprove, model.VoteReject} {
		parsed, ok := model.ParseVoteDecision(d.String())
		require.True(t, ok)
		assert.Equal(t, d, parsed)
	}
	_, ok := model.ParseVoteDecision("abstain")
	assert.False(t, ok)
}

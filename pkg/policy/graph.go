package policy

import (
	"context"
	"math"

	"github.com/proofofgood/engine/pkg/social"
)

// GraphEligibility derives eligibility from a live follow graph. An address
// qualifies as a community verifier once its follower count reaches
// VerifierMinFollowers, and its trust score grows logarithmically with
// followers so a handful of whales cannot dominate open verification.
type GraphEligibility struct {
	Graph social.Graph
	// VerifierMinFollowers is the follower floor for community verifiers.
	VerifierMinFollowers uint64
}

// DefaultVerifierMinFollowers keeps drive-by accounts out of open
// verification without requiring any real standing.
const DefaultVerifierMinFollowers = 10

func NewGraphEligibility(g social.Graph, minFollowers uint64) *GraphEligibility {
	if minFollowers == 0 {
		minFollowers = DefaultVerifierMinFollowers
	}
	return &GraphEligibility{Graph: g, VerifierMinFollowers: minFollowers}
}

func (g *GraphEligibility) IsEligible(ctx context.Context, addr string) (bool, error) {
	n, err := g.Graph.FollowerCount(ctx, addr)
	if err != nil {
		return false, err
	}
	return n >= g.VerifierMinFollowers, nil
}

func (g *GraphEligibility) TrustScore(ctx context.Context, addr string) (float64, error) {
	n, err := g.Graph.FollowerCount(ctx, addr)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return math.Log1p(float64(n)), nil
}

func (g *GraphEligibility) FollowerCount(ctx context.Context, addr string) (int, error) {
	n, err := g.Graph.FollowerCount(ctx, addr)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		n = math.MaxInt64
	}
	return int(n), nil
}

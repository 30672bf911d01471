// Package policy abstracts the social-trust heuristics the platform uses
// for verifier and participant eligibility behind a single capability, so
// settlement correctness never depends on a particular social-graph
// implementation.
package policy

import (
	"context"
)

// Eligibility is the capability the engine consumes. Implementations may
// consult a follow graph, a static allowlist, or anything else; the engine
// only ever sees these three signatures.
type Eligibility interface {
	// IsEligible reports whether the address may act as a community
	// verifier on open challenges.
	IsEligible(ctx context.Context, addr string) (bool, error)
	// TrustScore returns a non-negative reputation score for the address.
	TrustScore(ctx context.Context, addr string) (float64, error)
	// FollowerCount supports the follower-gated joining of social
	// challenges.
	FollowerCount(ctx context.Context, addr string) (int, error)
}

// Static is a fixed in-memory eligibility table. It is the default when no
// social graph is configured and the workhorse for tests.
type Static struct {
	Eligible  map[string]bool
	Scores    map[string]float64
	Followers map[string]int
	// AllowAll short-circuits IsEligible to true for every address.
	AllowAll bool
}

func NewStatic() *Static {
	return &Static{
		Eligible:  map[string]bool{},
		Scores:    map[string]float64{},
		Followers: map[string]int{},
	}
}

func (s *Static) IsEligible(_ context.Context, addr string) (bool, error) {
	if s.AllowAll {
		return true, nil
	}
	return s.Eligible[addr], nil
}

func (s *Static) TrustScore(_ context.Context, addr string) (float64, error) {
	return s.Scores[addr], nil
}

func (s *Static) FollowerCount(_ context.Context, addr string) (int, error) {
	return s.Followers[addr], nil
}

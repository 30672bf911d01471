package model

import (
	"errors"
	"math"
)

// QuorumKind selects how the vote threshold for a participant is derived.
type QuorumKind uint8

const (
	// QuorumAssignedMajority requires a strict majority of the assigned
	// verifier set. Only meaningful when the challenge has assigned verifiers.
	QuorumAssignedMajority QuorumKind = iota
	// QuorumFixedCount requires a fixed number of distinct eligible voters,
	// the default for open challenges where the verifier set is unbounded.
	QuorumFixedCount
)

// QuorumRule is the configured vote threshold for a challenge.
type QuorumRule struct {
	Kind  QuorumKind `json:"kind"`
	Count int        `json:"count,omitempty"` // used by QuorumFixedCount
}

// Required resolves the rule to a concrete threshold given the size of the
// assigned verifier set (zero for open challenges).
func (q QuorumRule) Required(assigned int) int {
	switch q.Kind {
	case QuorumAssignedMajority:
		if assigned == 0 {
			// no assigned set to take a majority of; fall back to one voter
			return 1
		}
		return assigned/2 + 1
	case QuorumFixedCount:
		if q.Count < 1 {
			return 1
		}
		return q.Count
	default:
		return 1
	}
}

// FeeDenominator is the basis-point scale for the protocol fee fraction.
const FeeDenominator = 10_000

// DefaultOpenQuorum is the number of distinct community voters an open
// challenge needs before consensus is considered reached.
const DefaultOpenQuorum = 3

// EconomicPolicy is attached to a challenge at creation so fee, quorum and
// slashing behavior can vary per challenge and be tested independently of
// the settlement engine.
type EconomicPolicy struct {
	FeeBps           uint32     `json:"feeBps"` // protocol fee in basis points
	Quorum           QuorumRule `json:"quorum"`
	SlashDestination string     `json:"slashDestination"` // receives forfeited stakes when nobody wins
	FeeAccount       string     `json:"feeAccount"`
}

var (
	errFeeTooHigh = errors.New("fee fraction exceeds 100%")
	errNoSlashDst = errors.New("slash destination required")
)

// Validate rejects policies that could break conservation.
func (p EconomicPolicy) Validate() error {
	if p.FeeBps > FeeDenominator {
		return errFeeTooHigh
	}
	if p.SlashDestination == "" {
		return errNoSlashDst
	}
	return nil
}

// DefaultPolicy returns the platform defaults for a challenge kind:
// majority of the assigned set for restricted kinds, a fixed community
// quorum for open kinds.
func DefaultPolicy(kind ChallengeKind) EconomicPolicy {
	quorum := QuorumRule{Kind: QuorumFixedCount, Count: DefaultOpenQuorum}
	if kind.Restricted() {
		quorum = QuorumRule{Kind: QuorumAssignedMajority}
	}
	return EconomicPolicy{
		FeeBps:           500, // 5%
		Quorum:           quorum,
		SlashDestination: "treasury",
		FeeAccount:       "protocol_fees",
	}
}

// Fee computes the protocol fee on a gross reward-pool amount.
func (p EconomicPolicy) Fee(gross uint64) uint64 {
	bps := uint64(p.FeeBps)
	if bps == 0 || gross == 0 {
		return 0
	}
	if gross <= math.MaxUint64/bps {
		return gross * bps / FeeDenominator
	}
	// pools this large cannot multiply first without overflow
	return gross / FeeDenominator * bps
}

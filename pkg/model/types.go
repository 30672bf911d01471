package model

import (
	"time"
)

// ChallengeKind mirrors the platform's challenge type enum. Kinds differ in
// who may verify (assigned set vs community), whether a stake is required,
// and whether joining is gated on the participant's follow graph.
type ChallengeKind uint8

const (
	KindCommunity ChallengeKind = iota // open verification, staked
	KindCustom                         // creator-assigned verifiers, admin activation
	KindCommunityService               // assigned verifiers, admin activation
	KindSocial                         // open verification, follower-gated joining
	KindStorageIncentive               // open verification, creator bonus pool
	KindNoStake                        // open verification, zero stake
)

// Restricted kinds carry a creator-assigned verifier set and stay Proposed
// until an admin activates them.
func (k ChallengeKind) Restricted() bool {
	return k == KindCustom || k == KindCommunityService
}

// Staked reports whether joining locks a non-zero stake.
func (k ChallengeKind) Staked() bool {
	return k != KindNoStake
}

func (k ChallengeKind) String() string {
	switch k {
	case KindCommunity:
		return "community"
	case KindCustom:
		return "custom"
	case KindCommunityService:
		return "community_service"
	case KindSocial:
		return "social_challenge"
	case KindStorageIncentive:
		return "storage_incentive"
	case KindNoStake:
		return "no_stake"
	default:
		return "unknown"
	}
}

// ParseChallengeKind maps the wire name back to a kind.
func ParseChallengeKind(s string) (ChallengeKind, bool) {
	switch s {
	case "community":
		return KindCommunity, true
	case "custom":
		return KindCustom, true
	case "community_service":
		return KindCommunityService, true
	case "social_challenge":
		return KindSocial, true
	case "storage_incentive":
		return KindStorageIncentive, true
	case "no_stake":
		return KindNoStake, true
	default:
		return 0, false
	}
}

// ChallengeState is the lifecycle state. Transitions only move forward:
// Proposed -> Active -> Finalizing -> Finalized, or
// Proposed/Active (zero participants) -> Cancelled.
type ChallengeState uint8

const (
	StateProposed ChallengeState = iota
	StateActive
	StateFinalizing
	StateFinalized
	StateCancelled
)

func (s ChallengeState) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProofState tracks evidence submission per participation.
type ProofState uint8

const (
	ProofNone ProofState = iota
	ProofSubmitted
)

// VoteDecision is a verifier's judgment of a participant's evidence.
type VoteDecision uint8

const (
	VoteApprove VoteDecision = iota + 1
	VoteReject
)

func (d VoteDecision) String() string {
	switch d {
	case VoteApprove:
		return "approve"
	case VoteReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseVoteDecision maps the wire name back to a decision.
func ParseVoteDecision(s string) (VoteDecision, bool) {
	switch s {
	case "approve":
		return VoteApprove, true
	case "reject":
		return VoteReject, true
	default:
		return 0, false
	}
}

// Outcome is a participant's settled result.
type Outcome uint8

const (
	OutcomeWon Outcome = iota + 1
	OutcomeLost
	OutcomeRefunded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWon:
		return "won"
	case OutcomeLost:
		return "lost"
	case OutcomeRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Platform-wide roles. Verifier assignment for Restricted challenges is
// per-challenge data on the Challenge itself, not a platform role.
const (
	RoleAdmin             = "admin"
	RoleRelayer           = "relayer"
	RoleCommunityVerifier = "community_verifier"
)

// Challenge holds the configuration and lifecycle state of one challenge.
// Amounts are uint64 base units (micro-tokens); time comparisons always use
// the injected clock, never the wall clock.
type Challenge struct {
	ID          string        `json:"id"`
	Creator     string        `json:"creator"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	MetadataRef string        `json:"metadataRef"` // opaque content ref, never inspected
	Kind        ChallengeKind `json:"kind"`

	StakeAmount    uint64        `json:"stakeAmount"`
	CreatorDeposit uint64        `json:"creatorDeposit"` // bonus pool, joins rewards at settlement
	Deadline       time.Time     `json:"deadline"`
	GraceWindow    time.Duration `json:"graceWindow"`

	MaxParticipants int      `json:"maxParticipants"`
	Verifiers       []string `json:"verifiers"` // assigned set; may be empty for open kinds
	RequiresFollow  bool     `json:"requiresFollow"`
	MinFollowers    int      `json:"minFollowers"`

	State     ChallengeState `json:"state"`
	Policy    EconomicPolicy `json:"policy"`
	CreatedAt time.Time      `json:"createdAt"`
}

// VoteWindowEnd is the instant after which no further votes register.
func (c *Challenge) VoteWindowEnd() time.Time {
	return c.Deadline.Add(c.GraceWindow)
}

// AssignedVerifier reports membership in the challenge's assigned set.
func (c *Challenge) AssignedVerifier(addr string) bool {
	for _, v := range c.Verifiers {
		if v == addr {
			return true
		}
	}
	return false
}

// Participation is one participant's membership in one challenge.
// (ChallengeID, Participant) is unique.
type Participation struct {
	ChallengeID string     `json:"challengeId"`
	Participant string     `json:"participant"`
	JoinedAt    time.Time  `json:"joinedAt"`
	StakeLocked uint64     `json:"stakeLocked"`
	ProofState  ProofState `json:"proofState"`
	EvidenceRef string     `json:"evidenceRef,omitempty"`
	ProofNote   string     `json:"proofNote,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt,omitempty"`
}

// VerificationVote is one verifier's judgment of one participant's evidence.
// (ChallengeID, Participant, Verifier) is unique.
type VerificationVote struct {
	ChallengeID string       `json:"challengeId"`
	Participant string       `json:"participant"`
	Verifier    string       `json:"verifier"`
	Decision    VoteDecision `json:"decision"`
	CastAt      time.Time    `json:"castAt"`
}

// SettlementRecord is written exactly once per (challenge, participant) and
// is immutable thereafter.
type SettlementRecord struct {
	ChallengeID string    `json:"challengeId"`
	Participant string    `json:"participant"`
	Outcome     Outcome   `json:"outcome"`
	Amount      uint64    `json:"amount"`
	SettledAt   time.Time `json:"settledAt"`
}

// EscrowAccount is the single source of truth for one challenge's funds.
// Conservation: TotalIn == Locked + PaidOut + FeeAccrued + Slashed + the
// deposit refunded on cancel. Every mutation goes through the accounting
// store so the invariant can be checked after each operation.
type EscrowAccount struct {
	ChallengeID    string `json:"challengeId"`
	TotalIn        uint64 `json:"totalIn"`        // everything ever locked in, stakes plus deposit
	Locked         uint64 `json:"locked"`         // unsettled stakes plus unspent deposit
	PaidOut        uint64 `json:"paidOut"`        // sum over settlement records
	FeeAccrued     uint64 `json:"feeAccrued"`     // protocol fee retained
	Slashed        uint64 `json:"slashed"`        // forfeited to the policy's slash destination
	DepositRefunds uint64 `json:"depositRefunds"` // creator deposit returned on cancel
}

// ChallengeSummary aggregates a challenge for dashboards and for the
// idempotent finalize response.
type ChallengeSummary struct {
	ChallengeID  string         `json:"challengeId"`
	State        ChallengeState `json:"state"`
	Participants int            `json:"participants"`
	Proofs       int            `json:"proofs"`
	Votes        int            `json:"votes"`
	Won          int            `json:"won"`
	Lost         int            `json:"lost"`
	Refunded     int            `json:"refunded"`
	TotalStaked  uint64         `json:"totalStaked"`
	TotalPaid    uint64         `json:"totalPaid"`
	FeeRetained  uint64         `json:"feeRetained"`
	Slashed      uint64         `json:"slashed"`
}

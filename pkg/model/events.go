package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies a record in the append-only ledger journal.
// Materialized views (challenges, participations, votes, settlements,
// escrow accounts, roles) must be exactly reproducible by replaying the
// journal from empty state.
type EventKind string

const (
	EventChallengeCreated       EventKind = "ChallengeCreated"
	EventChallengeActivated     EventKind = "ChallengeActivated"
	EventParticipantJoined      EventKind = "ParticipantJoined"
	EventProofSubmitted         EventKind = "ProofSubmitted"
	EventVoteCast               EventKind = "VoteCast"
	EventSettlementChunkApplied EventKind = "SettlementChunkApplied"
	EventChallengeFinalized     EventKind = "ChallengeFinalized"
	EventChallengeCancelled     EventKind = "ChallengeCancelled"
	EventRoleGranted            EventKind = "RoleGranted"
	EventRoleRevoked            EventKind = "RoleRevoked"
)

// Event is one journal record. Seq is assigned by the journal on append
// and is strictly increasing across the whole ledger.
type Event struct {
	Seq         uint64          `json:"seq"`
	ChallengeID string          `json:"challengeId,omitempty"` // empty for role events
	Kind        EventKind       `json:"kind"`
	At          time.Time       `json:"at"`
	Payload     json.RawMessage `json:"payload"`
}

type ChallengeCreatedPayload struct {
	Challenge Challenge `json:"challenge"`
}

type ChallengeActivatedPayload struct {
	By string `json:"by"`
}

type ParticipantJoinedPayload struct {
	Participant string `json:"participant"`
	Stake       uint64 `json:"stake"`
}

type ProofSubmittedPayload struct {
	Participant string `json:"participant"`
	EvidenceRef string `json:"evidenceRef"`
	Note        string `json:"note,omitempty"`
	Resubmitted bool   `json:"resubmitted,omitempty"`
}

type VoteCastPayload struct {
	Participant string       `json:"participant"`
	Verifier    string       `json:"verifier"`
	Decision    VoteDecision `json:"decision"`
}

// SettlementChunkAppliedPayload records one bounded batch of settlements.
// Cursor is the index of the next unsettled participant in join order, the
// persisted resume point for the next chunk.
type SettlementChunkAppliedPayload struct {
	Records []SettlementRecord `json:"records"`
	Cursor  int                `json:"cursor"`
	Fee     uint64             `json:"fee"`     // fee accrued by this chunk
	Slashed uint64             `json:"slashed"` // forfeited to slash destination by this chunk
}

type ChallengeFinalizedPayload struct {
	Summary ChallengeSummary `json:"summary"`
}

type ChallengeCancelledPayload struct {
	By            string `json:"by"`
	DepositRefund uint64 `json:"depositRefund"`
}

type RoleGrantedPayload struct {
	Role   string `json:"role"`
	Target string `json:"target"`
	By     string `json:"by"`
}

type RoleRevokedPayload struct {
	Role   string `json:"role"`
	Target string `json:"target"`
	By     string `json:"by"`
}

// NewEvent marshals a typed payload into a journal record. Seq is zero
// until the journal assigns it.
func NewEvent(kind EventKind, challengeID string, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{
		ChallengeID: challengeID,
		Kind:        kind,
		At:          at.UTC(),
		Payload:     raw,
	}, nil
}

// DecodePayload decodes an event payload into the typed struct for its kind.
func DecodePayload(ev Event) (any, error) {
	var payload any
	switch ev.Kind {
	case EventChallengeCreated:
		payload = &ChallengeCreatedPayload{}
	case EventChallengeActivated:
		payload = &ChallengeActivatedPayload{}
	case EventParticipantJoined:
		payload = &ParticipantJoinedPayload{}
	case EventProofSubmitted:
		payload = &ProofSubmittedPayload{}
	case EventVoteCast:
		payload = &VoteCastPayload{}
	case EventSettlementChunkApplied:
		payload = &SettlementChunkAppliedPayload{}
	case EventChallengeFinalized:
		payload = &ChallengeFinalizedPayload{}
	case EventChallengeCancelled:
		payload = &ChallengeCancelledPayload{}
	case EventRoleGranted:
		payload = &RoleGrantedPayload{}
	case EventRoleRevoked:
		payload = &RoleRevokedPayload{}
	default:
		return nil, fmt.Errorf("unknown event kind %q at seq %d", ev.Kind, ev.Seq)
	}
	if err := json.Unmarshal(ev.Payload, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload at seq %d: %w", ev.Kind, ev.Seq, err)
	}
	return payload, nil
}

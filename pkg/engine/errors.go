package engine

import (
	"errors"
	"fmt"
)

// ErrorKind buckets every failure an operation can return. Nothing fails
// silently: each operation returns a typed success value or an *Error.
type ErrorKind uint8

const (
	// KindValidation: malformed or out-of-range input; the caller's fault,
	// never retried automatically.
	KindValidation ErrorKind = iota + 1
	// KindAuthorization: caller lacks the required role or eligibility.
	KindAuthorization
	// KindState: operation invalid for the challenge's current lifecycle
	// state (join after deadline, cancel with participants, ...).
	KindState
	// KindConflict: violates a uniqueness invariant (double join, double
	// vote, double settlement for the same participant).
	KindConflict
	// KindConsistency: a defensive invariant check failed during finalize.
	// Fatal for that challenge; halts further mutation pending manual audit.
	KindConsistency
	// KindExternal: evidence/identity/journal dependency unreachable.
	// Surfaced to the caller; operations are idempotent by key so the
	// caller may safely retry.
	KindExternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindConflict:
		return "conflict"
	case KindConsistency:
		return "consistency"
	case KindExternal:
		return "external_dependency"
	default:
		return "unknown"
	}
}

// Stable error codes exposed to API clients.
const (
	CodeInvalidParameter     = "invalid_parameter"
	CodeNotFound             = "not_found"
	CodeChallengeNotActive   = "challenge_not_active"
	CodeDeadlinePassed       = "deadline_passed"
	CodeCapacityExceeded     = "capacity_exceeded"
	CodeAlreadyJoined        = "already_joined"
	CodeStakeMismatch        = "stake_mismatch"
	CodeNotEligible          = "not_eligible"
	CodeNotParticipant       = "not_participant"
	CodeDuplicateVote        = "duplicate_vote"
	CodeUnauthorizedVerifier = "unauthorized_verifier"
	CodeUnauthorized         = "unauthorized"
	CodeStateError           = "state_error"
	CodeDuplicateSettlement  = "duplicate_settlement"
	CodeConsistency          = "consistency_failure"
	CodeExternalDependency   = "external_dependency"
)

// Error is the typed failure returned by every engine operation.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func wrapExternal(code string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindExternal, Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is an engine Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// CodeOf extracts the stable code from an engine error, or "" for foreign
// errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/model"
)

// CreateParams is the creator-supplied challenge configuration.
type CreateParams struct {
	Title           string
	Description     string
	Category        string
	MetadataRef     string
	Kind            model.ChallengeKind
	StakeAmount     uint64
	CreatorDeposit  uint64
	Deadline        time.Time
	GraceWindow     time.Duration // zero means the platform default
	MaxParticipants int
	Verifiers       []string
	RequiresFollow  bool
	MinFollowers    int
	Policy          *model.EconomicPolicy // nil means the kind's default policy
}

// CreateChallenge validates the configuration and registers a new
// challenge. Restricted kinds start Proposed and wait for admin
// activation; all other kinds are Active immediately.
func (e *Engine) CreateChallenge(ctx context.Context, creator string, p CreateParams) (model.Challenge, error) {
	if creator == "" {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter, "creator address required")
	}
	now := e.clock.Now()
	if !p.Deadline.After(now) {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter,
			"deadline %s is not in the future", p.Deadline.Format(time.RFC3339))
	}
	if p.MaxParticipants <= 0 {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter,
			"maxParticipants must be positive, got %d", p.MaxParticipants)
	}
	if p.Kind.Restricted() && len(p.Verifiers) == 0 {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter,
			"%s challenges require an assigned verifier set", p.Kind)
	}
	if !p.Kind.Staked() && p.StakeAmount != 0 {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter,
			"no-stake challenges must have a zero stake amount")
	}
	if p.GraceWindow < 0 {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter, "grace window must not be negative")
	}
	if p.RequiresFollow && p.MinFollowers < 0 {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter, "minFollowers must not be negative")
	}
	if seen := dupVerifier(p.Verifiers); seen != "" {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter,
			"verifier %s listed more than once", seen)
	}

	pol := model.DefaultPolicy(p.Kind)
	if p.Policy != nil {
		pol = *p.Policy
	}
	if err := pol.Validate(); err != nil {
		return model.Challenge{}, newError(KindValidation, CodeInvalidParameter, "economic policy: %v", err)
	}

	grace := p.GraceWindow
	if grace == 0 {
		grace = e.graceWindow
	}

	state := model.StateActive
	if p.Kind.Restricted() {
		state = model.StateProposed
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	ch := model.Challenge{
		ID:              e.newChallengeID(),
		Creator:         creator,
		Title:           p.Title,
		Description:     p.Description,
		Category:        p.Category,
		MetadataRef:     p.MetadataRef,
		Kind:            p.Kind,
		StakeAmount:     p.StakeAmount,
		CreatorDeposit:  p.CreatorDeposit,
		Deadline:        p.Deadline.UTC(),
		GraceWindow:     grace,
		MaxParticipants: p.MaxParticipants,
		Verifiers:       append([]string(nil), p.Verifiers...),
		RequiresFollow:  p.RequiresFollow,
		MinFollowers:    p.MinFollowers,
		State:           state,
		Policy:          pol,
		CreatedAt:       now.UTC(),
	}

	ev, eerr := e.event(model.EventChallengeCreated, ch.ID, &model.ChallengeCreatedPayload{Challenge: ch})
	if eerr != nil {
		return model.Challenge{}, eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return model.Challenge{}, cerr
	}

	e.logger.Info("challenge created",
		zap.String("challenge", ch.ID),
		zap.String("creator", creator),
		zap.String("kind", ch.Kind.String()),
		zap.Uint64("stake", ch.StakeAmount),
		zap.Int("maxParticipants", ch.MaxParticipants))
	return ch, nil
}

// ActivateChallenge moves a Proposed challenge to Active. Admin only.
func (e *Engine) ActivateChallenge(ctx context.Context, id, caller string) (model.Challenge, error) {
	if !e.access.HasRole(model.RoleAdmin, caller) {
		return model.Challenge{}, newError(KindAuthorization, CodeUnauthorized,
			"activation requires the admin role")
	}
	st, serr := e.stateFor(id)
	if serr != nil {
		return model.Challenge{}, serr
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ch := st.challenge()
	if ch.State != model.StateProposed {
		return model.Challenge{}, newError(KindState, CodeStateError,
			"challenge %s is %s, only proposed challenges can be activated", id, ch.State)
	}

	ev, eerr := e.event(model.EventChallengeActivated, id, &model.ChallengeActivatedPayload{By: caller})
	if eerr != nil {
		return model.Challenge{}, eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return model.Challenge{}, cerr
	}
	return st.challenge(), nil
}

// CancelChallenge is the only destructive-but-safe path, restricted to
// empty challenges. The creator bonus deposit is returned in full.
func (e *Engine) CancelChallenge(ctx context.Context, id, caller string) (model.Challenge, error) {
	st, serr := e.stateFor(id)
	if serr != nil {
		return model.Challenge{}, serr
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ch := st.challenge()
	if caller != ch.Creator && !e.access.HasRole(model.RoleAdmin, caller) {
		return model.Challenge{}, newError(KindAuthorization, CodeUnauthorized,
			"only the creator or an admin may cancel challenge %s", id)
	}
	if ch.State != model.StateProposed && ch.State != model.StateActive {
		return model.Challenge{}, newError(KindState, CodeStateError,
			"challenge %s is %s and can no longer be cancelled", id, ch.State)
	}
	if len(st.order) != 0 {
		return model.Challenge{}, newError(KindState, CodeStateError,
			"challenge %s has %d participants and cannot be cancelled", id, len(st.order))
	}

	ev, eerr := e.event(model.EventChallengeCancelled, id, &model.ChallengeCancelledPayload{
		By:            caller,
		DepositRefund: ch.CreatorDeposit,
	})
	if eerr != nil {
		return model.Challenge{}, eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return model.Challenge{}, cerr
	}

	e.logger.Info("challenge cancelled",
		zap.String("challenge", id),
		zap.String("by", caller),
		zap.Uint64("depositRefund", ch.CreatorDeposit))
	return st.challenge(), nil
}

// GrantRole assigns a platform role. Admin only; self-granting is
// forbidden outside the initialization bootstrap.
func (e *Engine) GrantRole(ctx context.Context, role, target, caller string) error {
	if err := e.checkRoleChange(role, target, caller); err != nil {
		return err
	}
	if e.access.HasRole(role, target) {
		return newError(KindConflict, CodeStateError, "%s already holds role %s", target, role)
	}
	ev, eerr := e.event(model.EventRoleGranted, "", &model.RoleGrantedPayload{Role: role, Target: target, By: caller})
	if eerr != nil {
		return eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return cerr
	}
	return nil
}

// RevokeRole removes a platform role. Admin only.
func (e *Engine) RevokeRole(ctx context.Context, role, target, caller string) error {
	if err := e.checkRoleChange(role, target, caller); err != nil {
		return err
	}
	if !e.access.HasRole(role, target) {
		return newError(KindState, CodeStateError, "%s does not hold role %s", target, role)
	}
	ev, eerr := e.event(model.EventRoleRevoked, "", &model.RoleRevokedPayload{Role: role, Target: target, By: caller})
	if eerr != nil {
		return eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return cerr
	}
	return nil
}

// HasRole exposes role membership to the API layer.
func (e *Engine) HasRole(role, target string) bool {
	return e.access.HasRole(role, target)
}

func (e *Engine) checkRoleChange(role, target, caller string) *Error {
	if !platformRoles[role] {
		return newError(KindValidation, CodeInvalidParameter, "unknown role %q", role)
	}
	if target == "" {
		return newError(KindValidation, CodeInvalidParameter, "target address required")
	}
	if !e.access.HasRole(model.RoleAdmin, caller) {
		return newError(KindAuthorization, CodeUnauthorized, "role changes require the admin role")
	}
	if caller == target {
		return newError(KindAuthorization, CodeUnauthorized, "self-granting is forbidden")
	}
	return nil
}

func dupVerifier(vs []string) string {
	seen := make(map[string]bool, len(vs))
	for _, v := range vs {
		if seen[v] {
			return v
		}
		seen[v] = true
	}
	return ""
}

package engine

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proofofgood/engine/pkg/model"
)

var platformRoles = map[string]bool{
	model.RoleAdmin:             true,
	model.RoleRelayer:           true,
	model.RoleCommunityVerifier: true,
}

// AccessControl is the platform role registry. Role state is journaled
// like everything else, so grants survive replay; this type only holds the
// materialized assignments and the permission checks evaluated per call.
type AccessControl struct {
	roles  *xsync.Map[string, bool] // key role + "\x00" + target
	admins *xsync.Counter
}

func NewAccessControl() *AccessControl {
	return &AccessControl{
		roles:  xsync.NewMap[string, bool](),
		admins: xsync.NewCounter(),
	}
}

func roleKey(role, target string) string { return role + "\x00" + target }

// HasRole reports whether target currently holds role.
func (ac *AccessControl) HasRole(role, target string) bool {
	held, ok := ac.roles.Load(roleKey(role, target))
	return ok && held
}

// HasAnyAdmin reports whether at least one admin exists, used to decide
// whether the one-time bootstrap grant is still permitted.
func (ac *AccessControl) HasAnyAdmin() bool {
	return ac.admins.Value() > 0
}

func (ac *AccessControl) set(role, target string) {
	if ac.HasRole(role, target) {
		return
	}
	ac.roles.Store(roleKey(role, target), true)
	if role == model.RoleAdmin {
		ac.admins.Inc()
	}
}

func (ac *AccessControl) unset(role, target string) {
	if !ac.HasRole(role, target) {
		return
	}
	ac.roles.Delete(roleKey(role, target))
	if role == model.RoleAdmin {
		ac.admins.Dec()
	}
}

package control

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("operator not authenticated")
	ErrForbidden       = errors.New("operator not permitted")
)

type Role string

const (
	RoleViewer      Role = "viewer"
	RoleOperator    Role = "operator"
	RoleRiskOfficer Role = "risk_officer"
	RoleAdmin       Role = "admin"
)

type Permission string

const (
	PermissionViewStatus         Permission = "view_status"
	PermissionPause              Permission = "pause"
	PermissionResume             Permission = "resume"
	PermissionActivateKillSwitch Permission = "activate_kill_switch"
	PermissionResetKillSwitch    Permission = "reset_kill_switch"
)

// Operator is an authenticated human or service acting on the control surface
type Operator struct {
	ID    string `json:"id"`
	Roles []Role `json:"roles"`
}

func (o Operator) String() string {
	return o.ID
}

// Authorizer decides whether op may use perm
type Authorizer interface {
	Authorize(op Operator, perm Permission) error
}

// DefaultRolePermissions grants viewers status only, operators pause and
// emergency stop, risk officers also resume and reset
func DefaultRolePermissions() map[Role][]Permission {
	return map[Role][]Permission{
		RoleViewer:   {PermissionViewStatus},
		RoleOperator: {PermissionViewStatus, PermissionPause, PermissionActivateKillSwitch},
		RoleRiskOfficer: {
			PermissionViewStatus, PermissionPause, PermissionResume,
			PermissionActivateKillSwitch, PermissionResetKillSwitch,
		},
	}
}

// RoleAuthorizer grants permissions by role. Admin holds every permission.
type RoleAuthorizer struct {
	grants map[Role]map[Permission]bool
}

func NewRoleAuthorizer(perms map[Role][]Permission) *RoleAuthorizer {
	if perms == nil {
		perms = DefaultRolePermissions()
	}
	grants := make(map[Role]map[Permission]bool, len(perms))
	for role, list := range perms {
		set := make(map[Permission]bool, len(list))
		for _, p := range list {
			set[p] = true
		}
		grants[Role(strings.ToLower(string(role)))] = set
	}
	return &RoleAuthorizer{grants: grants}
}

func (a *RoleAuthorizer) Authorize(op Operator, perm Permission) error {
	if strings.TrimSpace(op.ID) == "" {
		return ErrUnauthenticated
	}
	for _, r := range op.Roles {
		role := Role(strings.ToLower(string(r)))
		if role == RoleAdmin || a.grants[role][perm] {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %s", ErrForbidden, op.ID, perm)
}

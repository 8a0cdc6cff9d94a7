// Package authz implements role and row-level authorization for the ledger.
//
// Roles form a closed enumeration with one scoping strategy per variant, so
// adding a role is an exhaustive, compile-checked change rather than a new
// string comparison. Authorization decisions are pure functions of an
// explicit Context and the row in question; nothing here reads ambient or
// global state.
package authz

import (
	"github.com/openedc/ledgercore/pkg/fault"
)

// Role is a granted capability profile. The zero value is invalid.
type Role int

const (
	roleInvalid Role = iota
	// RoleInvestigator captures and corrects data at assigned sites.
	RoleInvestigator
	// RoleCoordinator captures data at assigned sites on behalf of
	// investigators.
	RoleCoordinator
	// RoleMonitor reads data at assigned sites; never writes.
	RoleMonitor
	// RoleAuditor reads everything, everywhere; never writes.
	RoleAuditor
	// RoleAdministrator manages role assignments. Administrators do not
	// read or write subject data: duty separation is structural.
	RoleAdministrator
)

// roleNames is the wire form of each role.
var roleNames = map[Role]string{
	RoleInvestigator:  "investigator",
	RoleCoordinator:   "coordinator",
	RoleMonitor:       "monitor",
	RoleAuditor:       "auditor",
	RoleAdministrator: "administrator",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "invalid"
}

// ParseRole maps a wire name to a Role.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return roleInvalid, fault.Validationf("unknown role %q", name)
}

// Scoping is a role's row-visibility strategy.
type Scoping int

const (
	// ScopeSites restricts the role to rows tied to its assigned sites.
	ScopeSites Scoping = iota
	// ScopeGlobal bypasses the site-assignment lookup entirely.
	ScopeGlobal
	// ScopeNone grants no row visibility at all.
	ScopeNone
)

// Scoping returns the row-visibility strategy for the role. The switch is
// exhaustive over the closed enumeration.
func (r Role) Scoping() Scoping {
	switch r {
	case RoleInvestigator, RoleCoordinator, RoleMonitor:
		return ScopeSites
	case RoleAuditor:
		return ScopeGlobal
	case RoleAdministrator:
		return ScopeNone
	default:
		return ScopeNone
	}
}

// CanWriteData reports whether the role may append domain events at all.
func (r Role) CanWriteData() bool {
	switch r {
	case RoleInvestigator, RoleCoordinator:
		return true
	case RoleMonitor, RoleAuditor, RoleAdministrator:
		return false
	default:
		return false
	}
}

// CanManageRoles reports whether the role may grant or revoke assignments.
func (r Role) CanManageRoles() bool {
	return r == RoleAdministrator
}

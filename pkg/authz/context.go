package authz

import (
	"time"

	"github.com/openedc/ledgercore/pkg/fault"
)

// Assignment is one actor↔role grant. An actor may hold many simultaneous
// assignments; at most one row exists per (actor, role).
type Assignment struct {
	ActorID   string    `json:"actor_id"`
	Role      Role      `json:"role"`
	GrantedAt time.Time `json:"granted_at"`
	GrantedBy string    `json:"granted_by"`
	Active    bool      `json:"active"`
	Notes     string    `json:"notes,omitempty"`
}

// Context is the explicit authorization state passed into every call: who
// is acting, under which selected role, with which granted set, over which
// selected site scopes. It is rebuilt from storage every transaction so a
// revocation takes effect on the very next call, not at next login.
type Context struct {
	ActorID    string
	ActiveRole Role
	Granted    []Assignment
	SessionID  string
	// SiteScopes is the site-assignment lookup result for site-scoped
	// roles. Ignored by globally scoped roles.
	SiteScopes []string
}

// Validate confirms the active role is still present and active in the
// granted set. Called at session start and re-checked every transaction.
func (c Context) Validate() error {
	if c.ActorID == "" {
		return fault.Authorizationf("authorization context has no actor")
	}
	if len(c.Granted) == 0 {
		return fault.Authorizationf("actor %s holds no role assignments", c.ActorID)
	}
	for _, a := range c.Granted {
		if a.Role == c.ActiveRole && a.Active {
			return nil
		}
	}
	return fault.Authorizationf("active role %s is not among actor %s's active assignments", c.ActiveRole, c.ActorID)
}

// CanSeeScope is the row visibility predicate: a pure function of
// (context, row scope).
func (c Context) CanSeeScope(scopeID string) bool {
	switch c.ActiveRole.Scoping() {
	case ScopeGlobal:
		return true
	case ScopeSites:
		for _, s := range c.SiteScopes {
			if s == scopeID {
				return true
			}
		}
		return false
	case ScopeNone:
		return false
	default:
		return false
	}
}

// AuthorizeAppend gates a write to (subjectID, scopeID). The role must be a
// writing role and the row must fall inside its scope.
func (c Context) AuthorizeAppend(scopeID string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.ActiveRole.CanWriteData() {
		return fault.Authorizationf("role %s cannot append events", c.ActiveRole)
	}
	if !c.CanSeeScope(scopeID) {
		return fault.Authorizationf("role %s has no access to scope %s", c.ActiveRole, scopeID)
	}
	return nil
}

// AuthorizeRead gates a read of rows in scopeID.
func (c Context) AuthorizeRead(scopeID string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.CanSeeScope(scopeID) {
		return fault.Authorizationf("role %s has no access to scope %s", c.ActiveRole, scopeID)
	}
	return nil
}

// AuthorizeRoleChange gates grant/revoke calls.
func (c Context) AuthorizeRoleChange() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.ActiveRole.CanManageRoles() {
		return fault.Authorizationf("role %s cannot manage role assignments", c.ActiveRole)
	}
	return nil
}

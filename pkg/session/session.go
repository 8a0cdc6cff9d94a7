// Package session models authenticated sessions and the claims supplied by
// the external identity provider.
//
// A session moves Unauthenticated → Authenticated(active role) →
// Expired/Revoked. Expiry is a timestamp comparison made at transaction
// time; there is no background sweep.
package session

import (
	"time"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/fault"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateExpired
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Session is one authenticated span of work under a single selected role.
type Session struct {
	SessionID      string     `json:"session_id"`
	ActorID        string     `json:"actor_id"`
	ActiveRole     authz.Role `json:"active_role"`
	ScopeSelection []string   `json:"scope_selection,omitempty"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// StateAt returns the session state as of now.
func (s Session) StateAt(now time.Time) State {
	switch {
	case s.SessionID == "" || s.ActorID == "":
		return StateUnauthenticated
	case s.RevokedAt != nil && !s.RevokedAt.After(now):
		return StateRevoked
	case !s.ExpiresAt.After(now):
		return StateExpired
	default:
		return StateAuthenticated
	}
}

// CheckActive rejects any transaction made outside the Authenticated state.
func (s Session) CheckActive(now time.Time) error {
	switch state := s.StateAt(now); state {
	case StateAuthenticated:
		return nil
	default:
		return fault.Authorizationf("session %s is %s", s.SessionID, state)
	}
}

// SelectRole validates the role chosen at authentication against the
// actor's granted set. The set must be non-empty; single-role callers have
// no choice but still pass through the same check.
func SelectRole(granted []authz.Assignment, chosen authz.Role) (authz.Role, error) {
	active := make([]authz.Assignment, 0, len(granted))
	for _, a := range granted {
		if a.Active {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return 0, fault.Authorizationf("actor holds no active role assignments")
	}
	if chosen == 0 && len(active) == 1 {
		return active[0].Role, nil
	}
	for _, a := range active {
		if a.Role == chosen {
			return chosen, nil
		}
	}
	return 0, fault.Authorizationf("role %s is not among the caller's active assignments", chosen)
}

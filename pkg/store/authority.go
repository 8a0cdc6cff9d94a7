package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/fault"
	"github.com/openedc/ledgercore/pkg/session"
)

// querier abstracts *sql.DB and *sql.Tx so authority resolution runs inside
// the caller's transaction when one is open.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// resolveContext rebuilds the caller's authorization context from storage.
// Every transaction pays this lookup so that a mid-session revocation fails
// the very next call, with no logout required. When the caller presents a
// session, its state and selected role are checked too.
func (s *Store) resolveContext(ctx context.Context, q querier, caller Caller) (authz.Context, error) {
	granted, err := s.assignments(ctx, q, caller.ActorID)
	if err != nil {
		return authz.Context{}, err
	}
	sites, err := s.siteScopes(ctx, q, caller.ActorID)
	if err != nil {
		return authz.Context{}, err
	}

	actx := authz.Context{
		ActorID:    caller.ActorID,
		ActiveRole: caller.ActiveRole,
		Granted:    granted,
		SessionID:  caller.SessionID,
		SiteScopes: sites,
	}

	if caller.SessionID != "" {
		sess, err := s.session(ctx, q, caller.SessionID)
		if err != nil {
			return authz.Context{}, err
		}
		if sess.ActorID != caller.ActorID {
			return authz.Context{}, fault.Authorizationf("session %s does not belong to actor %s", caller.SessionID, caller.ActorID)
		}
		if sess.ActiveRole != caller.ActiveRole {
			return authz.Context{}, fault.Authorizationf("session %s was opened under role %s", caller.SessionID, sess.ActiveRole)
		}
		if err := sess.CheckActive(s.clock()); err != nil {
			return authz.Context{}, err
		}
	}

	return actx, actx.Validate()
}

// assignments loads the actor's full role-assignment set.
func (s *Store) assignments(ctx context.Context, q querier, actorID string) ([]authz.Assignment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT actor_id, role, granted_at, granted_by, active, COALESCE(notes, '')
		 FROM role_assignments WHERE actor_id = $1`, actorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []authz.Assignment
	for rows.Next() {
		var a authz.Assignment
		var roleName string
		if err := rows.Scan(&a.ActorID, &roleName, &a.GrantedAt, &a.GrantedBy, &a.Active, &a.Notes); err != nil {
			return nil, err
		}
		role, err := authz.ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		a.Role = role
		out = append(out, a)
	}
	return out, rows.Err()
}

// siteScopes loads the actor's site-assignment lookup set.
func (s *Store) siteScopes(ctx context.Context, q querier, actorID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT scope_id FROM site_assignments WHERE actor_id = $1`, actorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		out = append(out, scope)
	}
	return out, rows.Err()
}

// session loads one session row.
func (s *Store) session(ctx context.Context, q querier, sessionID string) (session.Session, error) {
	var (
		sess      session.Session
		roleName  string
		scopes    sql.NullString
		revokedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		`SELECT session_id, actor_id, active_role, scope_selection, issued_at, expires_at, revoked_at
		 FROM sessions WHERE session_id = $1`, sessionID).
		Scan(&sess.SessionID, &sess.ActorID, &roleName, &scopes, &sess.IssuedAt, &sess.ExpiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, fault.Authorizationf("session %s not found", sessionID)
	}
	if err != nil {
		return session.Session{}, err
	}
	role, err := authz.ParseRole(roleName)
	if err != nil {
		return session.Session{}, err
	}
	sess.ActiveRole = role
	if scopes.Valid && scopes.String != "" {
		sess.ScopeSelection = splitScopes(scopes.String)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	return sess, nil
}

// Scope selections are stored comma-joined; scope ids never contain commas.

func splitScopes(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, ",")
}

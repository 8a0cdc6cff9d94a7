package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/fault"
	"github.com/openedc/ledgercore/pkg/session"
)

// DefaultSessionTTL bounds an authenticated span of work.
const DefaultSessionTTL = 8 * time.Hour

// StartSession authenticates an actor into one selected role. The role must
// be among the actor's active assignments; an actor with a single active
// role may pass zero and have it selected automatically.
func (s *Store) StartSession(ctx context.Context, actorID string, chosen authz.Role, scopeSelection []string) (session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "store.StartSession")
	defer span.End()

	if actorID == "" {
		return session.Session{}, fault.Validationf("actor_id is required")
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return session.Session{}, spanErr(span, err)
	}
	defer rollback(tx)

	granted, err := s.assignments(ctx, tx, actorID)
	if err != nil {
		return session.Session{}, spanErr(span, err)
	}
	role, err := session.SelectRole(granted, chosen)
	if err != nil {
		return session.Session{}, spanErr(span, err)
	}

	if role.Scoping() == authz.ScopeSites {
		sites, err := s.siteScopes(ctx, tx, actorID)
		if err != nil {
			return session.Session{}, spanErr(span, err)
		}
		allowed := make(map[string]bool, len(sites))
		for _, sc := range sites {
			allowed[sc] = true
		}
		for _, sc := range scopeSelection {
			if !allowed[sc] {
				return session.Session{}, spanErr(span, fault.Authorizationf("scope %s is not assigned to actor %s", sc, actorID))
			}
		}
	}

	now := s.clock()
	sess := session.Session{
		SessionID:      uuid.NewString(),
		ActorID:        actorID,
		ActiveRole:     role,
		ScopeSelection: scopeSelection,
		IssuedAt:       now,
		ExpiresAt:      now.Add(DefaultSessionTTL),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, actor_id, active_role, scope_selection, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.SessionID, sess.ActorID, sess.ActiveRole.String(), joinScopes(sess.ScopeSelection),
		sess.IssuedAt, sess.ExpiresAt)
	if err != nil {
		return session.Session{}, spanErr(span, s.mapDBErr(err, "session insert failed"))
	}
	if err := tx.Commit(); err != nil {
		return session.Session{}, spanErr(span, s.mapDBErr(err, "session commit failed"))
	}

	s.logger.InfoContext(ctx, "session started",
		"session_id", sess.SessionID, "actor_id", actorID, "role", role.String())
	return sess, nil
}

// GetSession loads one session row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	return s.session(ctx, s.db, sessionID)
}

// RevokeSession ends a session immediately. Only the session's owner or an
// administrator may revoke it. Any in-flight transaction already holding the
// session fails at its next authority check.
func (s *Store) RevokeSession(ctx context.Context, caller Caller, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "store.RevokeSession")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return spanErr(span, err)
	}
	defer rollback(tx)

	target, err := s.session(ctx, tx, sessionID)
	if err != nil {
		return spanErr(span, err)
	}
	if target.ActorID != caller.ActorID {
		actx, err := s.resolveContext(ctx, tx, caller)
		if err != nil {
			return spanErr(span, err)
		}
		if err := actx.AuthorizeRoleChange(); err != nil {
			return spanErr(span, fault.Authorizationf("only the session owner or an administrator may revoke session %s", sessionID))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE session_id = $2 AND revoked_at IS NULL`,
		s.clock(), sessionID); err != nil {
		return spanErr(span, s.mapDBErr(err, "session revoke failed"))
	}
	if err := tx.Commit(); err != nil {
		return spanErr(span, s.mapDBErr(err, "session revoke commit failed"))
	}
	s.logger.InfoContext(ctx, "session revoked", "session_id", sessionID, "by", caller.ActorID)
	return nil
}

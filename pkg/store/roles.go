package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/canonicalize"
	"github.com/openedc/ledgercore/pkg/fault"
	"github.com/openedc/ledgercore/pkg/integrity"
)

// roleChainLockKey is the advisory lock namespace for the role ledger.
// Every writer takes the same key, so chain reads and inserts serialize
// and the previous-hash read can never race a concurrent append.
const roleChainLockKey = 0x6c656467 // "ledg"

type roleChange struct {
	ActorID   string
	Role      authz.Role
	Action    string // "grant" or "revoke"
	ChangedBy string
	Notes     string
}

// GrantRole records a role grant in the chained role ledger and activates
// the assignment. Only administrators may change roles.
func (s *Store) GrantRole(ctx context.Context, caller Caller, actorID string, role authz.Role, notes string) error {
	return s.changeRole(ctx, caller, roleChange{
		ActorID:   actorID,
		Role:      role,
		Action:    "grant",
		ChangedBy: caller.ActorID,
		Notes:     notes,
	})
}

// RevokeRole records a revocation. The assignment row is deactivated, not
// deleted: the grant history stays reconstructible from the role ledger.
// Revocation takes effect on the actor's next transaction.
func (s *Store) RevokeRole(ctx context.Context, caller Caller, actorID string, role authz.Role, notes string) error {
	return s.changeRole(ctx, caller, roleChange{
		ActorID:   actorID,
		Role:      role,
		Action:    "revoke",
		ChangedBy: caller.ActorID,
		Notes:     notes,
	})
}

func (s *Store) changeRole(ctx context.Context, caller Caller, ch roleChange) error {
	ctx, span := s.tracer.Start(ctx, "store.changeRole")
	defer span.End()

	if _, err := authz.ParseRole(ch.Role.String()); err != nil {
		return spanErr(span, err)
	}

	return spanErr(span, fault.RetrySerialization(ctx, 3, func() error {
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}
		defer rollback(tx)

		actx, err := s.resolveContext(ctx, tx, caller)
		if err != nil {
			return err
		}
		if err := actx.AuthorizeRoleChange(); err != nil {
			return err
		}
		if ch.Action == "revoke" && ch.ActorID == caller.ActorID && ch.Role == caller.ActiveRole {
			return fault.BusinessRulef("cannot revoke your own active role")
		}

		if err := s.lockRoleChain(ctx, tx); err != nil {
			return err
		}
		if err := s.appendRoleLedger(ctx, tx, ch); err != nil {
			return err
		}
		if err := s.applyAssignment(ctx, tx, ch); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return s.mapDBErr(err, "role change commit failed")
		}
		s.logger.InfoContext(ctx, "role changed",
			"actor_id", ch.ActorID, "role", ch.Role.String(),
			"action", ch.Action, "changed_by", ch.ChangedBy)
		return nil
	}))
}

// lockRoleChain serializes role-ledger writers. Postgres gets a transaction
// advisory lock; SQLite writers already serialize on the database lock, and
// the log_id primary key backstops both.
func (s *Store) lockRoleChain(ctx context.Context, tx *sql.Tx) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, roleChainLockKey); err != nil {
		return s.mapDBErr(err, "role chain lock failed")
	}
	return nil
}

// appendRoleLedger writes the next chained row. The chain hash binds each
// row to its predecessor, so a deleted or rewritten row breaks verification
// at that position.
func (s *Store) appendRoleLedger(ctx context.Context, tx *sql.Tx, ch roleChange) error {
	prevID, prevHash, err := s.lastRoleLink(ctx, tx)
	if err != nil {
		return err
	}

	entry := map[string]any{
		"actor_id":   ch.ActorID,
		"role":       ch.Role.String(),
		"action":     ch.Action,
		"changed_by": ch.ChangedBy,
		"notes":      ch.Notes,
	}
	contentHash, err := canonicalize.CanonicalHash(entry)
	if err != nil {
		return fault.Wrap(fault.Integrity, "role entry hash failed", err)
	}
	logID := prevID + 1
	chainHash, err := integrity.ChainHash(prevHash, contentHash, logID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO role_ledger (log_id, actor_id, role, action, changed_by, notes, changed_at, content_hash, chain_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		logID, ch.ActorID, ch.Role.String(), ch.Action, ch.ChangedBy, ch.Notes, s.clock(), contentHash, chainHash)
	if err != nil {
		return s.mapDBErr(err, "role ledger insert failed")
	}
	return nil
}

func (s *Store) lastRoleLink(ctx context.Context, tx *sql.Tx) (int64, string, error) {
	var id int64
	var hash string
	err := tx.QueryRowContext(ctx,
		`SELECT log_id, chain_hash FROM role_ledger ORDER BY log_id DESC LIMIT 1`).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, integrity.GenesisHash, nil
	}
	if err != nil {
		return 0, "", s.mapDBErr(err, "role chain read failed")
	}
	return id, hash, nil
}

func (s *Store) applyAssignment(ctx context.Context, tx *sql.Tx, ch roleChange) error {
	active := ch.Action == "grant"
	_, err := tx.ExecContext(ctx,
		`INSERT INTO role_assignments (actor_id, role, granted_at, granted_by, active, notes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (actor_id, role) DO UPDATE SET
		   active = excluded.active,
		   granted_at = excluded.granted_at,
		   granted_by = excluded.granted_by,
		   notes = excluded.notes`,
		ch.ActorID, ch.Role.String(), s.clock(), ch.ChangedBy, active, ch.Notes)
	if err != nil {
		return s.mapDBErr(err, "role assignment write failed")
	}
	return nil
}

// AssignSite grants a site-scoped actor visibility into one scope.
func (s *Store) AssignSite(ctx context.Context, caller Caller, actorID, scopeID string) error {
	return s.siteChange(ctx, caller, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO site_assignments (actor_id, scope_id, granted_at, granted_by)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (actor_id, scope_id) DO NOTHING`,
			actorID, scopeID, s.clock(), caller.ActorID)
		return err
	})
}

// UnassignSite removes a scope from an actor's visibility set.
func (s *Store) UnassignSite(ctx context.Context, caller Caller, actorID, scopeID string) error {
	return s.siteChange(ctx, caller, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM site_assignments WHERE actor_id = $1 AND scope_id = $2`,
			actorID, scopeID)
		return err
	})
}

func (s *Store) siteChange(ctx context.Context, caller Caller, write func(*sql.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "store.siteChange")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return spanErr(span, err)
	}
	defer rollback(tx)

	actx, err := s.resolveContext(ctx, tx, caller)
	if err != nil {
		return spanErr(span, err)
	}
	if err := actx.AuthorizeRoleChange(); err != nil {
		return spanErr(span, err)
	}
	if err := write(tx); err != nil {
		return spanErr(span, s.mapDBErr(err, "site assignment write failed"))
	}
	if err := tx.Commit(); err != nil {
		return spanErr(span, s.mapDBErr(err, "site assignment commit failed"))
	}
	return nil
}

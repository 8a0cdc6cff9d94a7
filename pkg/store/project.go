package store

import (
	"context"
	"database/sql"

	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
)

// project folds one ledger record into the state table. It runs inside the
// append transaction, so the read model can never drift from the ledger.
func (s *Store) project(ctx context.Context, tx *sql.Tx, rec event.Record) error {
	switch rec.Kind {
	case event.KindEnroll, event.KindCreate, event.KindUpdate, event.KindCorrect:
		return s.upsertState(ctx, tx, rec, false)
	case event.KindDelete:
		return s.upsertState(ctx, tx, rec, true)
	default:
		return fault.Integrityf("no projection for event kind %q", rec.Kind)
	}
}

func (s *Store) upsertState(ctx context.Context, tx *sql.Tx, rec event.Record, deleted bool) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO state (subject_id, scope_id, payload, deleted, updated_at, last_sequence_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (subject_id, scope_id) DO UPDATE SET
		   payload = excluded.payload,
		   deleted = excluded.deleted,
		   updated_at = excluded.updated_at,
		   last_sequence_id = excluded.last_sequence_id`,
		rec.SubjectID, rec.ScopeID, string(rec.Payload), deleted, rec.ServerTime, rec.SequenceID,
	)
	if err != nil {
		return s.mapDBErr(err, "state projection failed")
	}
	return nil
}

// The read model is derived state. Callers that try to write it directly are
// always refused; the only way to change state is AppendEvent, which records
// who changed what and why.

// OverwriteState refuses direct writes to the projection.
func (s *Store) OverwriteState(ctx context.Context, caller Caller, subjectID, scopeID string) error {
	return fault.Authorizationf("state is derived from the ledger; append an event instead")
}

// UpdateEvent refuses in-place edits of ledger rows.
func (s *Store) UpdateEvent(ctx context.Context, caller Caller, sequenceID int64) error {
	return fault.Authorizationf("ledger rows are immutable; append a correction event instead")
}

// DeleteEvent refuses removal of ledger rows.
func (s *Store) DeleteEvent(ctx context.Context, caller Caller, sequenceID int64) error {
	return fault.Authorizationf("ledger rows are immutable; append a delete event instead")
}

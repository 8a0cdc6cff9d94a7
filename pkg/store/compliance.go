package store

import (
	"context"

	"github.com/openedc/ledgercore/pkg/compliance"
	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/integrity"
)

// EventsInWindow reads every ledger row whose server time falls inside the
// window, in sequence order. Verification-gated like the other sweeps.
func (s *Store) EventsInWindow(ctx context.Context, caller Caller, w compliance.Window) ([]event.Record, error) {
	ctx, span := s.tracer.Start(ctx, "store.EventsInWindow")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, spanErr(span, err)
	}
	defer rollback(tx)
	if err := s.authorizeVerify(ctx, tx, caller); err != nil {
		return nil, spanErr(span, err)
	}

	query := `SELECT sequence_id, correlation_id, kind, subject_id, scope_id, payload,
		actor_id, actor_role, client_time, server_time, parent_sequence_id, reason,
		device_id, net_addr, session_id, content_hash, hash_version
		FROM events`
	var args []any
	switch {
	case !w.From.IsZero() && !w.To.IsZero():
		query += ` WHERE server_time >= $1 AND server_time <= $2`
		args = append(args, w.From, w.To)
	case !w.From.IsZero():
		query += ` WHERE server_time >= $1`
		args = append(args, w.From)
	case !w.To.IsZero():
		query += ` WHERE server_time <= $1`
		args = append(args, w.To)
	}
	query += ` ORDER BY sequence_id ASC`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "window read failed"))
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, rec)
	}
	return out, spanErr(span, rows.Err())
}

// complianceSource binds a caller to the store's sweep reads so the
// compliance reporter stays ignorant of authorization.
type complianceSource struct {
	s      *Store
	caller Caller
}

// ComplianceSource adapts the store into a report source for one caller.
func (s *Store) ComplianceSource(caller Caller) compliance.Source {
	return complianceSource{s: s, caller: caller}
}

func (c complianceSource) EventsInWindow(ctx context.Context, w compliance.Window) ([]event.Record, error) {
	return c.s.EventsInWindow(ctx, c.caller, w)
}

func (c complianceSource) SequenceGaps(ctx context.Context) ([]integrity.Gap, error) {
	return c.s.DetectSequenceGaps(ctx, c.caller, 0, 0)
}

func (c complianceSource) RoleLedger(ctx context.Context) (integrity.LogResult, error) {
	return c.s.VerifyRoleLedger(ctx, c.caller)
}

package store

import (
	"context"
	"database/sql"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
	"github.com/openedc/ledgercore/pkg/integrity"
)

// Verification is read-only and never gated by site scope: auditors and
// monitors run sweeps across the whole ledger. Only roles with at least
// read authority anywhere may verify.

func (s *Store) authorizeVerify(ctx context.Context, tx *sql.Tx, caller Caller) error {
	actx, err := s.resolveContext(ctx, tx, caller)
	if err != nil {
		return err
	}
	if actx.ActiveRole.Scoping() == authz.ScopeNone {
		return fault.Authorizationf("role %s cannot run verification", actx.ActiveRole)
	}
	return nil
}

// VerifyRecord re-derives one record's content signature and compares it to
// the stored value.
func (s *Store) VerifyRecord(ctx context.Context, caller Caller, sequenceID int64) (integrity.RecordCheck, error) {
	ctx, span := s.tracer.Start(ctx, "store.VerifyRecord")
	defer span.End()

	check := integrity.RecordCheck{SequenceID: sequenceID}

	tx, err := s.begin(ctx)
	if err != nil {
		return check, spanErr(span, err)
	}
	defer rollback(tx)
	if err := s.authorizeVerify(ctx, tx, caller); err != nil {
		return check, spanErr(span, err)
	}

	rec, err := s.eventBySequence(ctx, tx, sequenceID)
	if err != nil {
		return check, spanErr(span, err)
	}
	ok, err := integrity.VerifyRecord(*rec)
	if err != nil {
		return check, spanErr(span, err)
	}
	check.Valid = ok
	if !ok {
		check.Reason = "content signature mismatch"
		s.logger.WarnContext(ctx, "record signature mismatch", "sequence_id", sequenceID)
	}
	return check, nil
}

// VerifyCorrelationChain re-verifies every record of one correlation chain:
// per-record signatures plus parent linkage.
func (s *Store) VerifyCorrelationChain(ctx context.Context, caller Caller, correlationID string) ([]integrity.RecordCheck, error) {
	ctx, span := s.tracer.Start(ctx, "store.VerifyCorrelationChain")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, spanErr(span, err)
	}
	defer rollback(tx)
	if err := s.authorizeVerify(ctx, tx, caller); err != nil {
		return nil, spanErr(span, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT sequence_id, correlation_id, kind, subject_id, scope_id, payload,
		 actor_id, actor_role, client_time, server_time, parent_sequence_id, reason,
		 device_id, net_addr, session_id, content_hash, hash_version
		 FROM events WHERE correlation_id = $1 ORDER BY sequence_id ASC`, correlationID)
	if err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "chain read failed"))
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "chain scan failed"))
	}
	if len(records) == 0 {
		return nil, fault.BusinessRulef("no records for correlation %s", correlationID)
	}
	return integrity.VerifyChain(records)
}

// VerifyRoleLedger walks the chained role log forward from genesis. A
// deleted, reordered, or rewritten row surfaces as a break at the first
// untrustworthy position.
func (s *Store) VerifyRoleLedger(ctx context.Context, caller Caller) (integrity.LogResult, error) {
	ctx, span := s.tracer.Start(ctx, "store.VerifyRoleLedger")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return integrity.LogResult{}, spanErr(span, err)
	}
	defer rollback(tx)
	if err := s.authorizeVerify(ctx, tx, caller); err != nil {
		return integrity.LogResult{}, spanErr(span, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT log_id, content_hash, chain_hash FROM role_ledger ORDER BY log_id ASC`)
	if err != nil {
		return integrity.LogResult{}, spanErr(span, s.mapDBErr(err, "role ledger read failed"))
	}
	defer rows.Close()

	var entries []integrity.LogEntry
	for rows.Next() {
		var e integrity.LogEntry
		if err := rows.Scan(&e.LogID, &e.ContentHash, &e.ChainHash); err != nil {
			return integrity.LogResult{}, spanErr(span, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return integrity.LogResult{}, spanErr(span, s.mapDBErr(err, "role ledger scan failed"))
	}

	result, err := integrity.VerifySequentialLog(entries)
	if err != nil {
		return integrity.LogResult{}, spanErr(span, err)
	}
	if !result.Valid {
		s.logger.ErrorContext(ctx, "role ledger chain broken", "first_break_at", result.FirstBreakAt)
	}
	return result, nil
}

// DetectSequenceGaps scans the event ledger for missing sequence ids within
// an optional [from, to] window (zero means unbounded on that side).
func (s *Store) DetectSequenceGaps(ctx context.Context, caller Caller, from, to int64) ([]integrity.Gap, error) {
	ctx, span := s.tracer.Start(ctx, "store.DetectSequenceGaps")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, spanErr(span, err)
	}
	defer rollback(tx)
	if err := s.authorizeVerify(ctx, tx, caller); err != nil {
		return nil, spanErr(span, err)
	}

	query := `SELECT sequence_id FROM events`
	var args []any
	switch {
	case from > 0 && to > 0:
		query += ` WHERE sequence_id >= $1 AND sequence_id <= $2`
		args = append(args, from, to)
	case from > 0:
		query += ` WHERE sequence_id >= $1`
		args = append(args, from)
	case to > 0:
		query += ` WHERE sequence_id <= $1`
		args = append(args, to)
	}
	query += ` ORDER BY sequence_id ASC`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "sequence scan failed"))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, spanErr(span, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "sequence scan failed"))
	}
	return integrity.DetectGaps(ids), nil
}

func (s *Store) eventBySequence(ctx context.Context, q querier, sequenceID int64) (*event.Record, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT sequence_id, correlation_id, kind, subject_id, scope_id, payload,
		 actor_id, actor_role, client_time, server_time, parent_sequence_id, reason,
		 device_id, net_addr, session_id, content_hash, hash_version
		 FROM events WHERE sequence_id = $1`, sequenceID)
	if err != nil {
		return nil, s.mapDBErr(err, "event read failed")
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fault.BusinessRulef("event %d does not exist", sequenceID)
	}
	rec, err := scanEvent(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

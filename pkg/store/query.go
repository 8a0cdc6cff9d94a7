package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
)

// StateRow is one projected read-model row.
type StateRow struct {
	SubjectID      string          `json:"subject_id"`
	ScopeID        string          `json:"scope_id"`
	Payload        json.RawMessage `json:"payload"`
	Deleted        bool            `json:"deleted"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastSequenceID int64           `json:"last_sequence_id"`
}

// QueryState returns the current projected record for a subject in a scope.
// Soft-deleted subjects are reported as deleted rather than absent, so a
// reader can distinguish "never existed" from "removed".
func (s *Store) QueryState(ctx context.Context, caller Caller, subjectID, scopeID string) (*StateRow, error) {
	ctx, span := s.tracer.Start(ctx, "store.QueryState")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, spanErr(span, err)
	}
	defer rollback(tx)

	actx, err := s.resolveContext(ctx, tx, caller)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if err := actx.AuthorizeRead(scopeID); err != nil {
		return nil, spanErr(span, err)
	}

	var row StateRow
	var payload string
	err = tx.QueryRowContext(ctx,
		`SELECT subject_id, scope_id, payload, deleted, updated_at, last_sequence_id
		 FROM state WHERE subject_id = $1 AND scope_id = $2`,
		subjectID, scopeID,
	).Scan(&row.SubjectID, &row.ScopeID, &payload, &row.Deleted, &row.UpdatedAt, &row.LastSequenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.BusinessRulef("no record for subject %s in scope %s", subjectID, scopeID)
	}
	if err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "state query failed"))
	}
	row.Payload = json.RawMessage(payload)

	if err := tx.Commit(); err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "state query commit failed"))
	}
	return &row, nil
}

// EventFilter narrows a ledger scan. Zero values mean "no constraint".
type EventFilter struct {
	CorrelationID string
	SubjectID     string
	ScopeID       string
	Kind          event.Kind
	AfterSequence int64
	Limit         int
}

const defaultQueryLimit = 500

// QueryEvents reads ledger rows visible to the caller, oldest first. A
// site-scoped caller only ever sees rows from scopes it is assigned to;
// the filter can narrow further but never widen.
func (s *Store) QueryEvents(ctx context.Context, caller Caller, f EventFilter) ([]event.Record, error) {
	ctx, span := s.tracer.Start(ctx, "store.QueryEvents")
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, spanErr(span, err)
	}
	defer rollback(tx)

	actx, err := s.resolveContext(ctx, tx, caller)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if f.ScopeID != "" {
		if err := actx.AuthorizeRead(f.ScopeID); err != nil {
			return nil, spanErr(span, err)
		}
	}

	query := `SELECT sequence_id, correlation_id, kind, subject_id, scope_id, payload,
		actor_id, actor_role, client_time, server_time, parent_sequence_id, reason,
		device_id, net_addr, session_id, content_hash, hash_version
		FROM events WHERE sequence_id > $1`
	args := []any{f.AfterSequence}
	n := 2
	add := func(clause string, v any) {
		query += ` AND ` + clause + placeholder(n)
		args = append(args, v)
		n++
	}
	if f.CorrelationID != "" {
		add("correlation_id = ", f.CorrelationID)
	}
	if f.SubjectID != "" {
		add("subject_id = ", f.SubjectID)
	}
	if f.ScopeID != "" {
		add("scope_id = ", f.ScopeID)
	}
	if f.Kind != "" {
		add("kind = ", string(f.Kind))
	}
	limit := f.Limit
	if limit <= 0 || limit > defaultQueryLimit {
		limit = defaultQueryLimit
	}
	query += ` ORDER BY sequence_id ASC LIMIT ` + placeholder(n)
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "ledger query failed"))
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		// Row-level gate: scope must be visible to the caller even when
		// the filter did not name one.
		if !actx.CanSeeScope(rec.ScopeID) {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "ledger scan failed"))
	}
	if err := tx.Commit(); err != nil {
		return nil, spanErr(span, s.mapDBErr(err, "ledger query commit failed"))
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (event.Record, error) {
	var rec event.Record
	var payload, kind string
	var parent sql.NullInt64
	var deviceID, netAddr, sessionID sql.NullString
	err := rows.Scan(&rec.SequenceID, &rec.CorrelationID, &kind, &rec.SubjectID, &rec.ScopeID,
		&payload, &rec.ActorID, &rec.ActorRole, &rec.ClientTime, &rec.ServerTime,
		&parent, &rec.Reason, &deviceID, &netAddr, &sessionID, &rec.ContentHash, &rec.HashVersion)
	if err != nil {
		return rec, err
	}
	rec.Kind = event.Kind(kind)
	rec.Payload = json.RawMessage(payload)
	if parent.Valid {
		rec.ParentSequenceID = &parent.Int64
	}
	if deviceID.Valid || netAddr.Valid || sessionID.Valid {
		rec.Context = &event.DeviceContext{
			DeviceID:  deviceID.String,
			NetAddr:   netAddr.String,
			SessionID: sessionID.String,
		}
	}
	return rec, nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

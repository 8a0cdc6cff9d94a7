package store

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
	"github.com/openedc/ledgercore/pkg/integrity"
)

// AppendEvent accepts one domain change: validate, authorize, insert the
// ledger row, and project the read model — all inside one transaction, so
// the projection is never stale relative to the ledger and a failure leaves
// no partial effect.
//
// Rejections are classified before any write: Validation for malformed
// requests, Authorization for role failures, BusinessRule for domain
// invariant violations.
func (s *Store) AppendEvent(ctx context.Context, caller Caller, req event.AppendRequest) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "store.AppendEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", string(req.Kind)),
		attribute.String("event.scope", req.ScopeID),
	)

	if err := req.Validate(); err != nil {
		return 0, spanErr(span, err)
	}
	if s.schemas != nil {
		if err := s.schemas.Validate(req); err != nil {
			return 0, spanErr(span, err)
		}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, spanErr(span, err)
	}
	defer rollback(tx)

	actx, err := s.resolveContext(ctx, tx, caller)
	if err != nil {
		return 0, spanErr(span, err)
	}
	if err := actx.AuthorizeAppend(req.ScopeID); err != nil {
		return 0, spanErr(span, err)
	}
	if err := s.checkInvariants(ctx, tx, req); err != nil {
		return 0, spanErr(span, err)
	}

	rec := event.Record{
		CorrelationID:    req.CorrelationID,
		Kind:             req.Kind,
		SubjectID:        req.SubjectID,
		ScopeID:          req.ScopeID,
		Payload:          req.Payload,
		ActorID:          caller.ActorID,
		ActorRole:        caller.ActiveRole.String(),
		ClientTime:       req.ClientTime,
		ServerTime:       s.clock(),
		ParentSequenceID: req.ParentSequenceID,
		Reason:           req.Reason,
		Context:          req.Context,
		HashVersion:      integrity.SignatureVersion,
	}
	rec.ContentHash, err = integrity.ContentHash(rec, integrity.SignatureVersion)
	if err != nil {
		return 0, spanErr(span, err)
	}

	seq, err := s.insertEvent(ctx, tx, rec)
	if err != nil {
		return 0, spanErr(span, s.mapDBErr(err, "ledger insert failed"))
	}
	rec.SequenceID = seq

	if err := s.project(ctx, tx, rec); err != nil {
		return 0, spanErr(span, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, spanErr(span, s.mapDBErr(err, "append commit failed"))
	}

	s.logger.DebugContext(ctx, "event appended",
		"sequence_id", seq,
		"kind", rec.Kind,
		"subject_id", rec.SubjectID,
		"scope_id", rec.ScopeID,
		"actor_id", rec.ActorID,
	)
	span.SetAttributes(attribute.Int64("event.sequence_id", seq))
	return seq, nil
}

// checkInvariants enforces domain rules against the current projection,
// inside the append transaction so concurrent appends serialize on the row.
func (s *Store) checkInvariants(ctx context.Context, tx *sql.Tx, req event.AppendRequest) error {
	var deleted bool
	err := tx.QueryRowContext(ctx,
		`SELECT deleted FROM state WHERE subject_id = $1 AND scope_id = $2`,
		req.SubjectID, req.ScopeID).Scan(&deleted)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return err
	}

	switch req.Kind {
	case event.KindEnroll, event.KindCreate:
		if exists && !deleted {
			return fault.BusinessRulef("subject %s already has a current record in scope %s", req.SubjectID, req.ScopeID)
		}
	case event.KindUpdate, event.KindCorrect, event.KindDelete:
		if !exists {
			return fault.BusinessRulef("no current record for subject %s in scope %s", req.SubjectID, req.ScopeID)
		}
	}

	if req.ParentSequenceID != nil {
		var parentCorr string
		err := tx.QueryRowContext(ctx,
			`SELECT correlation_id FROM events WHERE sequence_id = $1`,
			*req.ParentSequenceID).Scan(&parentCorr)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.BusinessRulef("parent event %d does not exist", *req.ParentSequenceID)
		}
		if err != nil {
			return err
		}
		if parentCorr != req.CorrelationID {
			return fault.BusinessRulef("parent event %d belongs to a different correlation chain", *req.ParentSequenceID)
		}
	}
	return nil
}

// insertEvent persists one ledger row and returns the assigned sequence id.
func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, rec event.Record) (int64, error) {
	var deviceID, netAddr, sessionID sql.NullString
	if rec.Context != nil {
		deviceID = nullable(rec.Context.DeviceID)
		netAddr = nullable(rec.Context.NetAddr)
		sessionID = nullable(rec.Context.SessionID)
	}

	const cols = `correlation_id, kind, subject_id, scope_id, payload, actor_id, actor_role,
		client_time, server_time, parent_sequence_id, reason, device_id, net_addr, session_id,
		content_hash, hash_version`

	if s.dialect == DialectPostgres {
		var seq int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO events (`+cols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 RETURNING sequence_id`,
			rec.CorrelationID, rec.Kind, rec.SubjectID, rec.ScopeID, string(rec.Payload),
			rec.ActorID, rec.ActorRole, rec.ClientTime, rec.ServerTime, rec.ParentSequenceID,
			rec.Reason, deviceID, netAddr, sessionID, rec.ContentHash, rec.HashVersion,
		).Scan(&seq)
		return seq, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (`+cols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.CorrelationID, rec.Kind, rec.SubjectID, rec.ScopeID, string(rec.Payload),
		rec.ActorID, rec.ActorRole, rec.ClientTime, rec.ServerTime, rec.ParentSequenceID,
		rec.Reason, deviceID, netAddr, sessionID, rec.ContentHash, rec.HashVersion,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// spanErr records err on the span and passes it through.
func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

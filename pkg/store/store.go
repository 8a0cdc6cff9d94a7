// Package store implements the durable core of the ledger over shared
// relational storage: the append-only event table, the derived read model,
// role assignments with a hash-chained change log, and sessions.
//
// It speaks both Postgres (lib/pq) and SQLite (modernc) through database/sql.
// Correctness under concurrent callers rests on the storage engine's
// transaction isolation plus explicit serialization of chained-log writers;
// there is no in-process worker pool, retry queue, or cache here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
)

// Dialect selects the SQL flavor for the few statements that differ.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// Caller identifies who is issuing a call and under which selected role.
// The granted-role set and site scopes are never trusted from the caller:
// the store re-resolves both from the assignment tables inside every
// transaction, so a revocation takes effect on the very next call.
type Caller struct {
	ActorID    string
	ActiveRole authz.Role
	SessionID  string
}

// Store is the relational event store and its derived read model.
type Store struct {
	db      *sql.DB
	dialect Dialect
	schemas *event.SchemaRegistry
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSchemaRegistry enables payload schema validation on append.
func WithSchemaRegistry(r *event.SchemaRegistry) Option {
	return func(s *Store) { s.schemas = r }
}

// WithClock overrides the server clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over an open database handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "store"),
		tracer:  otel.Tracer("ledgercore/store"),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates tables, indexes, and the immutability guard triggers.
func (s *Store) Init(ctx context.Context) error {
	ddl := pgSchema
	if s.dialect == DialectSQLite {
		ddl = sqliteSchema
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// mapDBErr classifies driver errors into the fault taxonomy. Serialization
// failures and chained-log id collisions are retryable; everything else
// passes through untouched.
func (s *Store) mapDBErr(err error, detail string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001": // serialization_failure
			return fault.Wrap(fault.SerializationConflict, detail, err)
		case "23505": // unique_violation
			return fault.Wrap(fault.SerializationConflict, detail+": id already taken", err)
		}
	}
	return err
}

// begin opens a transaction. Postgres gets explicit read-committed; the
// chained-log path upgrades its guarantees with an advisory lock rather than
// a blanket serializable level.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	if s.dialect == DialectPostgres {
		return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	}
	return s.db.BeginTx(ctx, nil)
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

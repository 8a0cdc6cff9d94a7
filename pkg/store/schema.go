package store

// The ledger's immutability is structural: guard triggers reject UPDATE and
// DELETE on the events table at the engine level, so no code path — and no
// privilege level — can rewrite a committed row through this schema.

const pgSchema = `
CREATE TABLE IF NOT EXISTS events (
	sequence_id        BIGSERIAL PRIMARY KEY,
	correlation_id     TEXT NOT NULL,
	kind               TEXT NOT NULL,
	subject_id         TEXT NOT NULL,
	scope_id           TEXT NOT NULL,
	payload            TEXT NOT NULL,
	actor_id           TEXT NOT NULL,
	actor_role         TEXT NOT NULL,
	client_time        TIMESTAMP NOT NULL,
	server_time        TIMESTAMP NOT NULL,
	parent_sequence_id BIGINT,
	reason             TEXT NOT NULL,
	device_id          TEXT,
	net_addr           TEXT,
	session_id         TEXT,
	content_hash       TEXT NOT NULL,
	hash_version       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events (correlation_id, sequence_id);
CREATE INDEX IF NOT EXISTS idx_events_subject_scope ON events (subject_id, scope_id);

CREATE OR REPLACE FUNCTION events_immutable() RETURNS trigger AS $fn$
BEGIN
	RAISE EXCEPTION 'ledger rows are immutable';
END
$fn$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS events_no_rewrite ON events;
CREATE TRIGGER events_no_rewrite
	BEFORE UPDATE OR DELETE ON events
	FOR EACH ROW EXECUTE FUNCTION events_immutable();

CREATE TABLE IF NOT EXISTS state (
	subject_id       TEXT NOT NULL,
	scope_id         TEXT NOT NULL,
	payload          TEXT NOT NULL,
	deleted          BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at       TIMESTAMP NOT NULL,
	last_sequence_id BIGINT NOT NULL,
	PRIMARY KEY (subject_id, scope_id)
);

CREATE TABLE IF NOT EXISTS role_assignments (
	actor_id   TEXT NOT NULL,
	role       TEXT NOT NULL,
	granted_at TIMESTAMP NOT NULL,
	granted_by TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	notes      TEXT,
	PRIMARY KEY (actor_id, role)
);

CREATE TABLE IF NOT EXISTS site_assignments (
	actor_id TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	PRIMARY KEY (actor_id, scope_id)
);

CREATE TABLE IF NOT EXISTS role_ledger (
	log_id       BIGINT PRIMARY KEY,
	actor_id     TEXT NOT NULL,
	role         TEXT NOT NULL,
	action       TEXT NOT NULL,
	changed_by   TEXT NOT NULL,
	notes        TEXT,
	changed_at   TIMESTAMP NOT NULL,
	content_hash TEXT NOT NULL,
	chain_hash   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	actor_id        TEXT NOT NULL,
	active_role     TEXT NOT NULL,
	scope_selection TEXT,
	issued_at       TIMESTAMP NOT NULL,
	expires_at      TIMESTAMP NOT NULL,
	revoked_at      TIMESTAMP
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	sequence_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id     TEXT NOT NULL,
	kind               TEXT NOT NULL,
	subject_id         TEXT NOT NULL,
	scope_id           TEXT NOT NULL,
	payload            TEXT NOT NULL,
	actor_id           TEXT NOT NULL,
	actor_role         TEXT NOT NULL,
	client_time        TIMESTAMP NOT NULL,
	server_time        TIMESTAMP NOT NULL,
	parent_sequence_id INTEGER,
	reason             TEXT NOT NULL,
	device_id          TEXT,
	net_addr           TEXT,
	session_id         TEXT,
	content_hash       TEXT NOT NULL,
	hash_version       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events (correlation_id, sequence_id);
CREATE INDEX IF NOT EXISTS idx_events_subject_scope ON events (subject_id, scope_id);

CREATE TRIGGER IF NOT EXISTS events_no_update
	BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'ledger rows are immutable');
END;
CREATE TRIGGER IF NOT EXISTS events_no_delete
	BEFORE DELETE ON events
BEGIN
	SELECT RAISE(ABORT, 'ledger rows are immutable');
END;

CREATE TABLE IF NOT EXISTS state (
	subject_id       TEXT NOT NULL,
	scope_id         TEXT NOT NULL,
	payload          TEXT NOT NULL,
	deleted          BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at       TIMESTAMP NOT NULL,
	last_sequence_id INTEGER NOT NULL,
	PRIMARY KEY (subject_id, scope_id)
);

CREATE TABLE IF NOT EXISTS role_assignments (
	actor_id   TEXT NOT NULL,
	role       TEXT NOT NULL,
	granted_at TIMESTAMP NOT NULL,
	granted_by TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	notes      TEXT,
	PRIMARY KEY (actor_id, role)
);

CREATE TABLE IF NOT EXISTS site_assignments (
	actor_id TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	PRIMARY KEY (actor_id, scope_id)
);

CREATE TABLE IF NOT EXISTS role_ledger (
	log_id       INTEGER PRIMARY KEY,
	actor_id     TEXT NOT NULL,
	role         TEXT NOT NULL,
	action       TEXT NOT NULL,
	changed_by   TEXT NOT NULL,
	notes        TEXT,
	changed_at   TIMESTAMP NOT NULL,
	content_hash TEXT NOT NULL,
	chain_hash   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	actor_id        TEXT NOT NULL,
	active_role     TEXT NOT NULL,
	scope_selection TEXT,
	issued_at       TIMESTAMP NOT NULL,
	expires_at      TIMESTAMP NOT NULL,
	revoked_at      TIMESTAMP
);
`

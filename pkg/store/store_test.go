package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
	"github.com/openedc/ledgercore/pkg/integrity"
)

var testClock = func() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, DialectPostgres, WithClock(testClock)), mock
}

// expectAuthority queues the role and site assignment lookups that open
// every store transaction.
func expectAuthority(mock sqlmock.Sqlmock, actorID, role string, active bool, scopes ...string) {
	mock.ExpectQuery("SELECT actor_id, role, granted_at, granted_by, active").
		WithArgs(actorID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"actor_id", "role", "granted_at", "granted_by", "active", "notes"}).
			AddRow(actorID, role, testClock(), "admin-0", active, ""))

	siteRows := sqlmock.NewRows([]string{"scope_id"})
	for _, s := range scopes {
		siteRows.AddRow(s)
	}
	mock.ExpectQuery("SELECT scope_id FROM site_assignments").
		WithArgs(actorID).
		WillReturnRows(siteRows)
}

func validAppend() event.AppendRequest {
	return event.AppendRequest{
		CorrelationID: "subj-1:site-1",
		Kind:          event.KindEnroll,
		SubjectID:     "subj-1",
		ScopeID:       "site-1",
		Payload:       json.RawMessage(`{"arm":"A"}`),
		ClientTime:    testClock().Add(-time.Minute),
		Reason:        "initial enrollment",
	}
}

func investigator() Caller {
	return Caller{ActorID: "inv-1", ActiveRole: authz.RoleInvestigator}
}

func TestAppendEvent_Enroll(t *testing.T) {
	s, mock := newMockStore(t)
	req := validAppend()

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", true, "site-1")
	mock.ExpectQuery("SELECT deleted FROM state").
		WithArgs(req.SubjectID, req.ScopeID).
		WillReturnRows(sqlmock.NewRows([]string{"deleted"})) // no current record
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	seq, err := s.AppendEvent(context.Background(), investigator(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent_ValidationBeforeWrite(t *testing.T) {
	s, _ := newMockStore(t)

	req := validAppend()
	req.Reason = ""

	_, err := s.AppendEvent(context.Background(), investigator(), req)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestAppendEvent_RevokedRoleFailsNextTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", false, "site-1")
	mock.ExpectRollback()

	_, err := s.AppendEvent(context.Background(), investigator(), validAppend())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Authorization))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent_ScopeDenied(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", true, "site-2") // not site-1
	mock.ExpectRollback()

	_, err := s.AppendEvent(context.Background(), investigator(), validAppend())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Authorization))
}

func TestAppendEvent_MonitorCannotWrite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectAuthority(mock, "mon-1", "monitor", true, "site-1")
	mock.ExpectRollback()

	caller := Caller{ActorID: "mon-1", ActiveRole: authz.RoleMonitor}
	_, err := s.AppendEvent(context.Background(), caller, validAppend())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Authorization))
}

func TestAppendEvent_DuplicateEnrollment(t *testing.T) {
	s, mock := newMockStore(t)
	req := validAppend()

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", true, "site-1")
	mock.ExpectQuery("SELECT deleted FROM state").
		WithArgs(req.SubjectID, req.ScopeID).
		WillReturnRows(sqlmock.NewRows([]string{"deleted"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.AppendEvent(context.Background(), investigator(), req)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.BusinessRule))
}

func TestAppendEvent_ReEnrollAfterDelete(t *testing.T) {
	s, mock := newMockStore(t)
	req := validAppend()

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", true, "site-1")
	mock.ExpectQuery("SELECT deleted FROM state").
		WithArgs(req.SubjectID, req.ScopeID).
		WillReturnRows(sqlmock.NewRows([]string{"deleted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_id"}).AddRow(int64(12)))
	mock.ExpectExec("INSERT INTO state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := s.AppendEvent(context.Background(), investigator(), req)
	assert.NoError(t, err)
}

func TestAppendEvent_UpdateWithoutRecord(t *testing.T) {
	s, mock := newMockStore(t)
	req := validAppend()
	req.Kind = event.KindUpdate

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", true, "site-1")
	mock.ExpectQuery("SELECT deleted FROM state").
		WithArgs(req.SubjectID, req.ScopeID).
		WillReturnRows(sqlmock.NewRows([]string{"deleted"}))
	mock.ExpectRollback()

	_, err := s.AppendEvent(context.Background(), investigator(), req)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.BusinessRule))
}

func TestAppendEvent_CorrectParentWrongChain(t *testing.T) {
	s, mock := newMockStore(t)
	parent := int64(3)
	req := validAppend()
	req.Kind = event.KindCorrect
	req.ParentSequenceID = &parent

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", true, "site-1")
	mock.ExpectQuery("SELECT deleted FROM state").
		WithArgs(req.SubjectID, req.ScopeID).
		WillReturnRows(sqlmock.NewRows([]string{"deleted"}).AddRow(false))
	mock.ExpectQuery("SELECT correlation_id FROM events").
		WithArgs(parent).
		WillReturnRows(sqlmock.NewRows([]string{"correlation_id"}).AddRow("other-chain"))
	mock.ExpectRollback()

	_, err := s.AppendEvent(context.Background(), investigator(), req)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.BusinessRule))
}

func TestDirectWriteGuards(t *testing.T) {
	s, _ := newMockStore(t)
	ctx := context.Background()
	caller := Caller{ActorID: "admin-1", ActiveRole: authz.RoleAdministrator}

	for name, err := range map[string]error{
		"state":  s.OverwriteState(ctx, caller, "subj-1", "site-1"),
		"update": s.UpdateEvent(ctx, caller, 1),
		"delete": s.DeleteEvent(ctx, caller, 1),
	} {
		assert.True(t, fault.IsKind(err, fault.Authorization), "guard %s", name)
	}
}

func TestGrantRole_GenesisChain(t *testing.T) {
	s, mock := newMockStore(t)
	caller := Caller{ActorID: "admin-1", ActiveRole: authz.RoleAdministrator}

	mock.ExpectBegin()
	expectAuthority(mock, "admin-1", "administrator", true)
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(int64(roleChainLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT log_id, chain_hash FROM role_ledger").
		WillReturnRows(sqlmock.NewRows([]string{"log_id", "chain_hash"})) // empty ledger
	mock.ExpectExec("INSERT INTO role_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO role_assignments").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.GrantRole(context.Background(), caller, "inv-2", authz.RoleInvestigator, "site staff")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRole_NotAdministrator(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectAuthority(mock, "coord-1", "coordinator", true)
	mock.ExpectRollback()

	caller := Caller{ActorID: "coord-1", ActiveRole: authz.RoleCoordinator}
	err := s.GrantRole(context.Background(), caller, "inv-2", authz.RoleInvestigator, "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Authorization))
}

func TestChangeRole_RetriesOnIDCollision(t *testing.T) {
	s, mock := newMockStore(t)
	caller := Caller{ActorID: "admin-1", ActiveRole: authz.RoleAdministrator}

	// First attempt loses the id race.
	mock.ExpectBegin()
	expectAuthority(mock, "admin-1", "administrator", true)
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(int64(roleChainLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT log_id, chain_hash FROM role_ledger").
		WillReturnRows(sqlmock.NewRows([]string{"log_id", "chain_hash"}).
			AddRow(int64(4), "aaaa"))
	mock.ExpectExec("INSERT INTO role_ledger").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	// Second attempt sees the winner's row and chains after it.
	mock.ExpectBegin()
	expectAuthority(mock, "admin-1", "administrator", true)
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(int64(roleChainLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT log_id, chain_hash FROM role_ledger").
		WillReturnRows(sqlmock.NewRows([]string{"log_id", "chain_hash"}).
			AddRow(int64(5), "bbbb"))
	mock.ExpectExec("INSERT INTO role_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO role_assignments").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.GrantRole(context.Background(), caller, "inv-2", authz.RoleInvestigator, "")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryState_DeletedStillVisible(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectAuthority(mock, "mon-1", "monitor", true, "site-1")
	mock.ExpectQuery("SELECT subject_id, scope_id, payload, deleted").
		WithArgs("subj-1", "site-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"subject_id", "scope_id", "payload", "deleted", "updated_at", "last_sequence_id"}).
			AddRow("subj-1", "site-1", `{"arm":"A"}`, true, testClock(), int64(9)))
	mock.ExpectCommit()

	caller := Caller{ActorID: "mon-1", ActiveRole: authz.RoleMonitor}
	row, err := s.QueryState(context.Background(), caller, "subj-1", "site-1")
	require.NoError(t, err)
	assert.True(t, row.Deleted)
	assert.Equal(t, int64(9), row.LastSequenceID)
}

func TestQueryEvents_RowLevelScopeFilter(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"sequence_id", "correlation_id", "kind", "subject_id", "scope_id",
		"payload", "actor_id", "actor_role", "client_time", "server_time",
		"parent_sequence_id", "reason", "device_id", "net_addr", "session_id",
		"content_hash", "hash_version"}
	now := testClock()
	rows := sqlmock.NewRows(cols).
		AddRow(int64(1), "c1", "enroll", "subj-1", "site-1", `{}`, "inv-1", "investigator",
			now, now, nil, "r", nil, nil, nil, "h1", 1).
		AddRow(int64(2), "c2", "enroll", "subj-2", "site-2", `{}`, "inv-2", "investigator",
			now, now, nil, "r", nil, nil, nil, "h2", 1)

	mock.ExpectBegin()
	expectAuthority(mock, "inv-1", "investigator", true, "site-1")
	mock.ExpectQuery("SELECT sequence_id, correlation_id, kind").
		WillReturnRows(rows)
	mock.ExpectCommit()

	out, err := s.QueryEvents(context.Background(), investigator(), EventFilter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "site-1", out[0].ScopeID)
}

func TestVerifyRoleLedger_ReportsFirstBreak(t *testing.T) {
	s, mock := newMockStore(t)

	// Build a valid 5-row chain, then drop row 3 from the result set.
	prev := integrity.GenesisHash
	rows := sqlmock.NewRows([]string{"log_id", "content_hash", "chain_hash"})
	for i := int64(1); i <= 5; i++ {
		content := "content-" + string(rune('0'+i))
		chain, err := integrity.ChainHash(prev, content, i)
		require.NoError(t, err)
		if i != 3 {
			rows.AddRow(i, content, chain)
		}
		prev = chain
	}

	mock.ExpectBegin()
	expectAuthority(mock, "aud-1", "auditor", true)
	mock.ExpectQuery("SELECT log_id, content_hash, chain_hash FROM role_ledger").
		WillReturnRows(rows)

	caller := Caller{ActorID: "aud-1", ActiveRole: authz.RoleAuditor}
	result, err := s.VerifyRoleLedger(context.Background(), caller)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(3), result.FirstBreakAt)
}

func TestDetectSequenceGaps(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"sequence_id"})
	for _, id := range []int64{1, 2, 3, 6, 7, 10} {
		rows.AddRow(id)
	}

	mock.ExpectBegin()
	expectAuthority(mock, "aud-1", "auditor", true)
	mock.ExpectQuery("SELECT sequence_id FROM events").
		WillReturnRows(rows)

	caller := Caller{ActorID: "aud-1", ActiveRole: authz.RoleAuditor}
	gaps, err := s.DetectSequenceGaps(context.Background(), caller, 0, 0)
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, integrity.Gap{Start: 4, End: 5, MissingCount: 2}, gaps[0])
	assert.Equal(t, integrity.Gap{Start: 8, End: 9, MissingCount: 2}, gaps[1])
}

func TestStartSession_RoleNotGranted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT actor_id, role, granted_at, granted_by, active").
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"actor_id", "role", "granted_at", "granted_by", "active", "notes"}).
			AddRow("inv-1", "monitor", testClock(), "admin-0", true, ""))
	mock.ExpectRollback()

	_, err := s.StartSession(context.Background(), "inv-1", authz.RoleInvestigator, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Authorization))
}

func TestStartSession_SingleRoleAutoSelect(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT actor_id, role, granted_at, granted_by, active").
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"actor_id", "role", "granted_at", "granted_by", "active", "notes"}).
			AddRow("inv-1", "investigator", testClock(), "admin-0", true, ""))
	mock.ExpectQuery("SELECT scope_id FROM site_assignments").
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"scope_id"}).AddRow("site-1"))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sess, err := s.StartSession(context.Background(), "inv-1", 0, []string{"site-1"})
	require.NoError(t, err)
	assert.Equal(t, authz.RoleInvestigator, sess.ActiveRole)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, testClock().Add(DefaultSessionTTL), sess.ExpiresAt)
}

func TestRevokeSession_OwnerAllowed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT session_id, actor_id, active_role").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"session_id", "actor_id", "active_role", "scope_selection", "issued_at", "expires_at", "revoked_at"}).
			AddRow("sess-1", "inv-1", "investigator", "site-1", testClock(), testClock().Add(time.Hour), nil))
	mock.ExpectExec("UPDATE sessions SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RevokeSession(context.Background(), investigator(), "sess-1")
	assert.NoError(t, err)
}

func TestMapDBErr_SerializationFailure(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.mapDBErr(&pq.Error{Code: "40001"}, "commit")
	assert.True(t, fault.IsKind(err, fault.SerializationConflict))

	err = s.mapDBErr(&pq.Error{Code: "23505"}, "insert")
	assert.True(t, fault.IsKind(err, fault.SerializationConflict))

	plain := s.mapDBErr(assert.AnError, "other")
	_, classified := fault.KindOf(plain)
	assert.False(t, classified)
}

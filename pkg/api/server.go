package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/compliance"
	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
	"github.com/openedc/ledgercore/pkg/store"
)

const maxBodyBytes = 1 << 20

// Server wires the store and compliance reporter behind the HTTP surface.
type Server struct {
	store    *store.Store
	reporter *compliance.Reporter
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	ready    func(ctx context.Context) error
}

// NewServer assembles the API. ready is the readiness probe, normally the
// database ping.
func NewServer(st *store.Store, rep *compliance.Reporter, auth *Authenticator, rl *RateLimiter, ready func(ctx context.Context) error) *Server {
	return &Server{
		store:    st,
		reporter: rep,
		auth:     auth,
		limiter:  rl,
		logger:   slog.Default().With("component", "api"),
		ready:    ready,
	}
}

// Handler builds the full route table. Health endpoints sit outside auth
// and rate limiting so probes never compete with traffic.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	authed := http.NewServeMux()
	authed.HandleFunc("POST /v1/events", s.handleAppendEvent)
	authed.HandleFunc("GET /v1/events", s.handleQueryEvents)
	authed.HandleFunc("GET /v1/state/{subject}/{scope}", s.handleQueryState)
	authed.HandleFunc("GET /v1/verify/records/{id}", s.handleVerifyRecord)
	authed.HandleFunc("GET /v1/verify/chains/{correlation}", s.handleVerifyChain)
	authed.HandleFunc("GET /v1/verify/role-ledger", s.handleVerifyRoleLedger)
	authed.HandleFunc("GET /v1/verify/gaps", s.handleDetectGaps)
	authed.HandleFunc("GET /v1/compliance/report", s.handleComplianceReport)
	authed.HandleFunc("POST /v1/roles/grant", s.handleGrantRole)
	authed.HandleFunc("POST /v1/roles/revoke", s.handleRevokeRole)
	authed.HandleFunc("POST /v1/sites/assign", s.handleAssignSite)
	authed.HandleFunc("POST /v1/sites/unassign", s.handleUnassignSite)
	authed.HandleFunc("POST /v1/sessions", s.handleStartSession)
	authed.HandleFunc("DELETE /v1/sessions/{id}", s.handleRevokeSession)

	mux.Handle("/v1/", s.limiter.Middleware(s.auth.Middleware(authed)))

	return RequestLogger(s.logger)(mux)
}

func caller(w http.ResponseWriter, r *http.Request) (store.Caller, bool) {
	c, ok := CallerFrom(r.Context())
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Unauthorized", "no authenticated caller")
	}
	return c, ok
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteFault(w, r, fault.Validationf("malformed request body: %v", err))
		return false
	}
	return true
}

type appendEventRequest struct {
	CorrelationID    string               `json:"correlation_id"`
	Kind             string               `json:"kind"`
	SubjectID        string               `json:"subject_id"`
	ScopeID          string               `json:"scope_id"`
	Payload          json.RawMessage      `json:"payload"`
	ClientTime       time.Time            `json:"client_time"`
	ParentSequenceID *int64               `json:"parent_sequence_id,omitempty"`
	Reason           string               `json:"reason"`
	Context          *event.DeviceContext `json:"context,omitempty"`
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var body appendEventRequest
	if !decode(w, r, &body) {
		return
	}

	seq, err := s.store.AppendEvent(r.Context(), c, event.AppendRequest{
		CorrelationID:    body.CorrelationID,
		Kind:             event.Kind(body.Kind),
		SubjectID:        body.SubjectID,
		ScopeID:          body.ScopeID,
		Payload:          body.Payload,
		ClientTime:       body.ClientTime,
		ParentSequenceID: body.ParentSequenceID,
		Reason:           body.Reason,
		Context:          body.Context,
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]int64{"sequence_id": seq})
}

func (s *Server) handleQueryState(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	row, err := s.store.QueryState(r.Context(), c, r.PathValue("subject"), r.PathValue("scope"))
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, row)
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := store.EventFilter{
		CorrelationID: q.Get("correlation_id"),
		SubjectID:     q.Get("subject_id"),
		ScopeID:       q.Get("scope_id"),
		Kind:          event.Kind(q.Get("kind")),
	}
	if after := q.Get("after"); after != "" {
		n, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			WriteFault(w, r, fault.Validationf("after must be an integer"))
			return
		}
		filter.AfterSequence = n
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			WriteFault(w, r, fault.Validationf("limit must be an integer"))
			return
		}
		filter.Limit = n
	}

	records, err := s.store.QueryEvents(r.Context(), c, filter)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) handleVerifyRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteFault(w, r, fault.Validationf("record id must be an integer"))
		return
	}
	check, err := s.store.VerifyRecord(r.Context(), c, id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, check)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	checks, err := s.store.VerifyCorrelationChain(r.Context(), c, r.PathValue("correlation"))
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"records": checks})
}

func (s *Server) handleVerifyRoleLedger(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	result, err := s.store.VerifyRoleLedger(r.Context(), c)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetectGaps(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	parse := func(name string) (int64, bool) {
		v := r.URL.Query().Get(name)
		if v == "" {
			return 0, true
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			WriteFault(w, r, fault.Validationf("%s must be an integer", name))
			return 0, false
		}
		return n, true
	}
	from, ok := parse("from")
	if !ok {
		return
	}
	to, ok := parse("to")
	if !ok {
		return
	}
	gaps, err := s.store.DetectSequenceGaps(r.Context(), c, from, to)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"gaps": gaps})
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var window compliance.Window
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteFault(w, r, fault.Validationf("from must be RFC 3339"))
			return
		}
		window.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteFault(w, r, fault.Validationf("to must be RFC 3339"))
			return
		}
		window.To = t
	}

	report, err := s.reporter.Generate(r.Context(), s.store.ComplianceSource(c), window)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

type roleChangeRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Notes   string `json:"notes,omitempty"`
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, s.store.GrantRole)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, s.store.RevokeRole)
}

func (s *Server) handleRoleChange(w http.ResponseWriter, r *http.Request,
	apply func(context.Context, store.Caller, string, authz.Role, string) error) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var body roleChangeRequest
	if !decode(w, r, &body) {
		return
	}
	role, err := authz.ParseRole(body.Role)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if body.ActorID == "" {
		WriteFault(w, r, fault.Validationf("actor_id is required"))
		return
	}
	if err := apply(r.Context(), c, body.ActorID, role, body.Notes); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type siteChangeRequest struct {
	ActorID string `json:"actor_id"`
	ScopeID string `json:"scope_id"`
}

func (s *Server) handleAssignSite(w http.ResponseWriter, r *http.Request) {
	s.handleSiteChange(w, r, s.store.AssignSite)
}

func (s *Server) handleUnassignSite(w http.ResponseWriter, r *http.Request) {
	s.handleSiteChange(w, r, s.store.UnassignSite)
}

func (s *Server) handleSiteChange(w http.ResponseWriter, r *http.Request,
	apply func(context.Context, store.Caller, string, string) error) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var body siteChangeRequest
	if !decode(w, r, &body) {
		return
	}
	if body.ActorID == "" || body.ScopeID == "" {
		WriteFault(w, r, fault.Validationf("actor_id and scope_id are required"))
		return
	}
	if err := apply(r.Context(), c, body.ActorID, body.ScopeID); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type startSessionRequest struct {
	Role           string   `json:"role,omitempty"`
	ScopeSelection []string `json:"scope_selection,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var body startSessionRequest
	if !decode(w, r, &body) {
		return
	}
	var role authz.Role
	if body.Role != "" {
		parsed, err := authz.ParseRole(body.Role)
		if err != nil {
			WriteFault(w, r, err)
			return
		}
		role = parsed
	}
	sess, err := s.store.StartSession(r.Context(), c.ActorID, role, body.ScopeSelection)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	if err := s.store.RevokeSession(r.Context(), c, r.PathValue("id")); err != nil {
		WriteFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			WriteProblem(w, r, http.StatusServiceUnavailable, "Not Ready", err.Error())
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

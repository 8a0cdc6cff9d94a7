// Package api exposes the ledger core over HTTP. Error responses use RFC
// 7807 problem details; every fault kind maps to a fixed status code.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/openedc/ledgercore/pkg/fault"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// retryAfterSeconds is the suggested backoff for serialization conflicts.
const retryAfterSeconds = 1

// statusFor maps a fault kind to the HTTP contract:
// Validation 422, BusinessRule 409, Authorization 403, Integrity 500,
// SerializationConflict 409 with a Retry-After header.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.Validation:
		return http.StatusUnprocessableEntity
	case fault.BusinessRule:
		return http.StatusConflict
	case fault.Authorization:
		return http.StatusForbidden
	case fault.Integrity:
		return http.StatusInternalServerError
	case fault.SerializationConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteFault writes err as a problem document. Unclassified errors become
// opaque 500s so internal detail never leaks.
func WriteFault(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := fault.KindOf(err)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error", "an internal error occurred")
		return
	}
	if kind == fault.SerializationConflict {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	WriteProblem(w, r, statusFor(kind), kind.String(), err.Error())
}

// WriteProblem writes an RFC 7807 problem document.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://ledgercore.openedc.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteJSON writes a success body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package event defines the immutable ledger record and the pre-write
// validation applied to every append request.
//
// Records are business facts: once committed they are never mutated or
// deleted. Sequence ids and the server timestamp are store-assigned; the
// content hash is computed once at insert time over a fixed, versioned field
// list and never recomputed or overwritten.
package event

import (
	"encoding/json"
	"time"

	"github.com/openedc/ledgercore/pkg/fault"
)

// Kind categorizes the domain operation an event captures.
type Kind string

const (
	// KindEnroll registers a subject into a scope. At most one non-deleted
	// enrollment may exist per (subject, scope).
	KindEnroll Kind = "enroll"
	// KindCreate records the first data capture for a (subject, scope) key.
	KindCreate Kind = "create"
	// KindUpdate supersedes the current projected payload for the key.
	KindUpdate Kind = "update"
	// KindCorrect supersedes a specific earlier event, referenced by
	// ParentSequenceID.
	KindCorrect Kind = "correct"
	// KindDelete soft-deletes the projected row. The ledger rows remain.
	KindDelete Kind = "delete"
)

// ValidKinds is the closed set of accepted operation kinds.
var ValidKinds = map[Kind]bool{
	KindEnroll:  true,
	KindCreate:  true,
	KindUpdate:  true,
	KindCorrect: true,
	KindDelete:  true,
}

// DeviceContext carries optional capture-context metadata.
type DeviceContext struct {
	DeviceID  string `json:"device_id,omitempty"`
	NetAddr   string `json:"net_addr,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Record is a single committed ledger row.
type Record struct {
	SequenceID       int64           `json:"sequence_id"`
	CorrelationID    string          `json:"correlation_id"`
	Kind             Kind            `json:"kind"`
	SubjectID        string          `json:"subject_id"`
	ScopeID          string          `json:"scope_id"`
	Payload          json.RawMessage `json:"payload"`
	ActorID          string          `json:"actor_id"`
	ActorRole        string          `json:"actor_role"`
	ClientTime       time.Time       `json:"client_time"`
	ServerTime       time.Time       `json:"server_time"`
	ParentSequenceID *int64          `json:"parent_sequence_id,omitempty"`
	Reason           string          `json:"reason"`
	Context          *DeviceContext  `json:"context,omitempty"`
	ContentHash      string          `json:"content_hash"`
	HashVersion      int             `json:"hash_version"`
}

// AppendRequest is the caller-supplied portion of a record. Sequence id,
// server time, content hash and hash version are assigned by the store.
type AppendRequest struct {
	CorrelationID    string
	Kind             Kind
	SubjectID        string
	ScopeID          string
	Payload          json.RawMessage
	ClientTime       time.Time
	ParentSequenceID *int64
	Reason           string
	Context          *DeviceContext
}

// Validate rejects requests missing required fields before any write.
// Actor identity is carried separately by the authorization context and
// checked there; everything else required by the record contract is here.
func (r AppendRequest) Validate() error {
	switch {
	case r.CorrelationID == "":
		return fault.Validationf("correlation_id is required")
	case !ValidKinds[r.Kind]:
		return fault.Validationf("unknown operation kind %q", r.Kind)
	case r.SubjectID == "":
		return fault.Validationf("subject_id is required")
	case r.ScopeID == "":
		return fault.Validationf("scope_id is required")
	case len(r.Payload) == 0:
		return fault.Validationf("payload is required")
	case r.Reason == "":
		return fault.Validationf("reason is required")
	case r.ClientTime.IsZero():
		return fault.Validationf("client_time is required")
	}
	if !json.Valid(r.Payload) {
		return fault.Validationf("payload is not valid JSON")
	}
	if r.Kind == KindCorrect && r.ParentSequenceID == nil {
		return fault.Validationf("correct events must reference a parent_sequence_id")
	}
	return nil
}

// Package integrity implements the tamper-evidence layer of the ledger:
// per-record content signatures, correlation-chain validation, sequential
// (blockchain-style) chain hashing, and sequence-gap detection.
//
// Mismatches are findings, never silently corrected. Verification always
// reports where trust ends, not just that it ended.
package integrity

import (
	"encoding/json"
	"time"

	"github.com/openedc/ledgercore/pkg/canonicalize"
	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
)

// SignatureVersion is the current signing-envelope version, recorded on each
// row at write time. Verification always uses the version the row was
// written under.
const SignatureVersion = 1

// envelopeV1 is the fixed field list covered by a version-1 content
// signature. Field order on the wire is irrelevant: hashing happens over the
// RFC 8785 canonical form. Adding, removing, or renaming a field here is a
// new envelope version, never an edit to this one.
type envelopeV1 struct {
	CorrelationID    string               `json:"correlation_id"`
	Kind             event.Kind           `json:"kind"`
	SubjectID        string               `json:"subject_id"`
	ScopeID          string               `json:"scope_id"`
	Payload          json.RawMessage      `json:"payload"`
	ActorID          string               `json:"actor_id"`
	ActorRole        string               `json:"actor_role"`
	ClientTime       time.Time            `json:"client_time"`
	ServerTime       time.Time            `json:"server_time"`
	ParentSequenceID *int64               `json:"parent_sequence_id"`
	Reason           string               `json:"reason"`
	Context          *event.DeviceContext `json:"context"`
}

// ContentHash computes the content signature for a record under the given
// envelope version.
func ContentHash(rec event.Record, version int) (string, error) {
	switch version {
	case 1:
		env := envelopeV1{
			CorrelationID:    rec.CorrelationID,
			Kind:             rec.Kind,
			SubjectID:        rec.SubjectID,
			ScopeID:          rec.ScopeID,
			Payload:          rec.Payload,
			ActorID:          rec.ActorID,
			ActorRole:        rec.ActorRole,
			ClientTime:       rec.ClientTime,
			ServerTime:       rec.ServerTime,
			ParentSequenceID: rec.ParentSequenceID,
			Reason:           rec.Reason,
			Context:          rec.Context,
		}
		return canonicalize.CanonicalHash(env)
	default:
		return "", fault.Integrityf("unknown signature envelope version %d", version)
	}
}

// VerifyRecord recomputes the record's content signature under its recorded
// envelope version and compares it to the stored value. A mismatch is
// tampering evidence, reported, never repaired.
func VerifyRecord(rec event.Record) (bool, error) {
	computed, err := ContentHash(rec, rec.HashVersion)
	if err != nil {
		return false, err
	}
	return computed == rec.ContentHash, nil
}

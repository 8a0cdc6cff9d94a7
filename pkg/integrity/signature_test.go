package integrity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/fault"
)

func sampleRecord(t *testing.T) event.Record {
	t.Helper()
	rec := event.Record{
		SequenceID:    41,
		CorrelationID: "corr-1",
		Kind:          event.KindCreate,
		SubjectID:     "S1",
		ScopeID:       "SiteA",
		Payload:       json.RawMessage(`{"visit":"baseline","weight_kg":72.5}`),
		ActorID:       "inv-7",
		ActorRole:     "investigator",
		ClientTime:    time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		ServerTime:    time.Date(2026, 3, 14, 9, 30, 2, 0, time.UTC),
		Reason:        "initial data entry",
		HashVersion:   SignatureVersion,
	}
	hash, err := ContentHash(rec, SignatureVersion)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	rec.ContentHash = hash
	return rec
}

func TestVerifyRecordRoundTrip(t *testing.T) {
	rec := sampleRecord(t)
	ok, err := VerifyRecord(rec)
	if err != nil {
		t.Fatalf("VerifyRecord failed: %v", err)
	}
	if !ok {
		t.Error("freshly signed record must verify")
	}
}

func TestVerifyRecordDetectsFieldTampering(t *testing.T) {
	tampers := map[string]func(*event.Record){
		"payload":     func(r *event.Record) { r.Payload = json.RawMessage(`{"visit":"baseline","weight_kg":99.9}`) },
		"actor":       func(r *event.Record) { r.ActorID = "someone-else" },
		"reason":      func(r *event.Record) { r.Reason = "edited after the fact" },
		"client time": func(r *event.Record) { r.ClientTime = r.ClientTime.Add(time.Hour) },
		"server time": func(r *event.Record) { r.ServerTime = r.ServerTime.Add(time.Minute) },
		"subject":     func(r *event.Record) { r.SubjectID = "S2" },
		"parent ref":  func(r *event.Record) { p := int64(7); r.ParentSequenceID = &p },
		"context":     func(r *event.Record) { r.Context = &event.DeviceContext{DeviceID: "tablet-9"} },
	}
	for name, tamper := range tampers {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord(t)
			tamper(&rec)
			ok, err := VerifyRecord(rec)
			if err != nil {
				t.Fatalf("VerifyRecord failed: %v", err)
			}
			if ok {
				t.Errorf("tampered %s field went undetected", name)
			}
		})
	}
}

func TestVerifyRecordSequenceIDNotCovered(t *testing.T) {
	// The store assigns sequence ids after hashing; they are chain-protected
	// in sequential logs, not part of the content signature.
	rec := sampleRecord(t)
	rec.SequenceID = 9999
	ok, err := VerifyRecord(rec)
	if err != nil {
		t.Fatalf("VerifyRecord failed: %v", err)
	}
	if !ok {
		t.Error("sequence id must not affect the content signature")
	}
}

func TestContentHashUnknownVersion(t *testing.T) {
	rec := sampleRecord(t)
	_, err := ContentHash(rec, 99)
	if !fault.IsKind(err, fault.Integrity) {
		t.Errorf("want Integrity fault for unknown version, got %v", err)
	}
}

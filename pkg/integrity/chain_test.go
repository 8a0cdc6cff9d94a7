package integrity

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/openedc/ledgercore/pkg/event"
)

func chainRecords(t *testing.T, n int) []event.Record {
	t.Helper()
	records := make([]event.Record, 0, n)
	for i := 1; i <= n; i++ {
		rec := event.Record{
			SequenceID:    int64(i),
			CorrelationID: "corr-1",
			Kind:          event.KindUpdate,
			SubjectID:     "S1",
			ScopeID:       "SiteA",
			Payload:       json.RawMessage(fmt.Sprintf(`{"revision":%d}`, i)),
			ActorID:       "inv-7",
			ActorRole:     "investigator",
			ClientTime:    time.Date(2026, 3, 14, 9, 0, i, 0, time.UTC),
			ServerTime:    time.Date(2026, 3, 14, 9, 0, i+1, 0, time.UTC),
			Reason:        "data entry",
			HashVersion:   SignatureVersion,
		}
		if i == 1 {
			rec.Kind = event.KindCreate
		}
		if i > 1 {
			parent := int64(i - 1)
			rec.ParentSequenceID = &parent
			rec.Kind = event.KindCorrect
		}
		hash, err := ContentHash(rec, SignatureVersion)
		if err != nil {
			t.Fatalf("ContentHash failed: %v", err)
		}
		rec.ContentHash = hash
		records = append(records, rec)
	}
	return records
}

func TestVerifyChainAllValid(t *testing.T) {
	checks, err := VerifyChain(chainRecords(t, 4))
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if len(checks) != 4 {
		t.Fatalf("got %d checks, want 4", len(checks))
	}
	for _, c := range checks {
		if !c.Valid {
			t.Errorf("record %d reported invalid: %s", c.SequenceID, c.Reason)
		}
	}
}

func TestVerifyChainReportsPerRecord(t *testing.T) {
	records := chainRecords(t, 4)
	// Tamper with record 2 only; 3 and 4 stay individually valid.
	records[1].Payload = json.RawMessage(`{"revision":"forged"}`)

	checks, err := VerifyChain(records)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	wantValid := map[int64]bool{1: true, 2: false, 3: true, 4: true}
	for _, c := range checks {
		if c.Valid != wantValid[c.SequenceID] {
			t.Errorf("record %d valid = %v, want %v (%s)", c.SequenceID, c.Valid, wantValid[c.SequenceID], c.Reason)
		}
	}
}

func TestVerifyChainUnresolvedParent(t *testing.T) {
	records := chainRecords(t, 3)
	// Point record 3 at a parent that was never part of this chain.
	orphan := int64(77)
	records[2].ParentSequenceID = &orphan
	hash, err := ContentHash(records[2], SignatureVersion)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	records[2].ContentHash = hash

	checks, err := VerifyChain(records)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	last := checks[len(checks)-1]
	if last.Valid {
		t.Error("record with unresolved parent must fail")
	}
	if last.Reason == "" {
		t.Error("failure must carry a reason")
	}
}

func TestVerifyChainAcceptsUnsortedInput(t *testing.T) {
	records := chainRecords(t, 3)
	shuffled := []event.Record{records[2], records[0], records[1]}
	checks, err := VerifyChain(shuffled)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	for i, c := range checks {
		if c.SequenceID != int64(i+1) {
			t.Errorf("check %d covers sequence %d, want %d", i, c.SequenceID, i+1)
		}
		if !c.Valid {
			t.Errorf("record %d reported invalid: %s", c.SequenceID, c.Reason)
		}
	}
}

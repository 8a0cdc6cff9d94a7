package integrity

import (
	"fmt"
	"sort"

	"github.com/openedc/ledgercore/pkg/event"
)

// RecordCheck is the verification result for one record in a correlation
// chain. The validator never collapses a chain into a single aggregate: each
// record carries its own pass/fail and reason.
type RecordCheck struct {
	SequenceID int64  `json:"sequence_id"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
}

// VerifyChain walks every record sharing a correlation id in sequence order,
// re-verifying each content signature and confirming that declared parent
// references resolve to earlier records of the same chain.
func VerifyChain(records []event.Record) ([]RecordCheck, error) {
	sorted := make([]event.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceID < sorted[j].SequenceID
	})

	seen := make(map[int64]bool, len(sorted))
	checks := make([]RecordCheck, 0, len(sorted))

	for _, rec := range sorted {
		check := RecordCheck{SequenceID: rec.SequenceID, Valid: true}

		ok, err := VerifyRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("verify chain: record %d: %w", rec.SequenceID, err)
		}
		switch {
		case !ok:
			check.Valid = false
			check.Reason = "content signature mismatch"
		case rec.ParentSequenceID != nil && !seen[*rec.ParentSequenceID]:
			check.Valid = false
			check.Reason = fmt.Sprintf("parent %d not found among earlier records of this chain", *rec.ParentSequenceID)
		}

		seen[rec.SequenceID] = true
		checks = append(checks, check)
	}
	return checks, nil
}

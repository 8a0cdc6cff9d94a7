// Package compliance runs read-only batch verification over the ledger and
// aggregates the results into a report. Checks never mutate state: a failed
// check is evidence requiring investigation, not something to repair.
package compliance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/integrity"
)

// Status is a check outcome. Aggregation always takes the worst value.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the lowercase name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult is one check's outcome: a status, how many records it covered
// or flagged, and a human-readable detail.
type CheckResult struct {
	Check  string `json:"check"`
	Status Status `json:"status"`
	Count  int    `json:"count"`
	Detail string `json:"detail"`
}

// HashSweep re-verifies every record's content signature. Any mismatch
// fails the check; the detail names the offending sequence ids up to a cap.
func HashSweep(records []event.Record) CheckResult {
	result := CheckResult{Check: "hash_validity", Status: StatusPass, Count: len(records)}

	var bad []int64
	for _, rec := range records {
		ok, err := integrity.VerifyRecord(rec)
		if err != nil || !ok {
			bad = append(bad, rec.SequenceID)
		}
	}
	if len(bad) == 0 {
		result.Detail = fmt.Sprintf("all %d record signatures verified", len(records))
		return result
	}
	result.Status = StatusFail
	result.Count = len(bad)
	result.Detail = fmt.Sprintf("%d of %d record signatures failed verification: %s",
		len(bad), len(records), summarizeIDs(bad))
	return result
}

// GapReport turns detected sequence gaps into a check result.
func GapReport(gaps []integrity.Gap) CheckResult {
	if len(gaps) == 0 {
		return CheckResult{Check: "sequence_gaps", Status: StatusPass, Detail: "sequence ids are dense"}
	}
	var missing int64
	for _, g := range gaps {
		missing += g.MissingCount
	}
	return CheckResult{
		Check:  "sequence_gaps",
		Status: StatusFail,
		Count:  int(missing),
		Detail: fmt.Sprintf("%d sequence ids missing across %d gaps; first gap %d-%d",
			missing, len(gaps), gaps[0].Start, gaps[0].End),
	}
}

// CompletenessSweep checks the required-field contract on every record.
// Custom rules, when supplied, add domain-specific completeness predicates.
func CompletenessSweep(records []event.Record, rules *RuleSet) CheckResult {
	result := CheckResult{Check: "field_completeness", Status: StatusPass, Count: len(records)}

	var bad []int64
	for _, rec := range records {
		if reason := incompleteReason(rec); reason != "" {
			bad = append(bad, rec.SequenceID)
			continue
		}
		if rules != nil {
			ok, err := rules.Evaluate(rec)
			if err != nil || !ok {
				bad = append(bad, rec.SequenceID)
			}
		}
	}
	if len(bad) == 0 {
		result.Detail = fmt.Sprintf("all %d records complete", len(records))
		return result
	}
	result.Status = StatusFail
	result.Count = len(bad)
	result.Detail = fmt.Sprintf("%d of %d records incomplete: %s", len(bad), len(records), summarizeIDs(bad))
	return result
}

func incompleteReason(rec event.Record) string {
	switch {
	case rec.ActorID == "":
		return "missing actor_id"
	case rec.ActorRole == "":
		return "missing actor_role"
	case rec.Reason == "":
		return "missing reason"
	case len(rec.Payload) == 0:
		return "missing payload"
	case rec.ClientTime.IsZero():
		return "missing client_time"
	case rec.ServerTime.IsZero():
		return "missing server_time"
	case rec.ContentHash == "":
		return "missing content_hash"
	default:
		return ""
	}
}

// RoleLedgerCheck reports on the chained role log's forward-walk result.
func RoleLedgerCheck(result integrity.LogResult) CheckResult {
	if result.Valid {
		return CheckResult{Check: "role_ledger_chain", Status: StatusPass, Detail: "role ledger chain intact"}
	}
	return CheckResult{
		Check:  "role_ledger_chain",
		Status: StatusFail,
		Count:  1,
		Detail: fmt.Sprintf("role ledger chain broken; nothing at or after position %d is trustworthy", result.FirstBreakAt),
	}
}

// Worst returns the most severe status among the results. An empty result
// set passes vacuously.
func Worst(results []CheckResult) Status {
	worst := StatusPass
	for _, r := range results {
		if r.Status > worst {
			worst = r.Status
		}
	}
	return worst
}

const idSummaryCap = 10

func summarizeIDs(ids []int64) string {
	shown := ids
	suffix := ""
	if len(shown) > idSummaryCap {
		shown = shown[:idSummaryCap]
		suffix = fmt.Sprintf(" and %d more", len(ids)-idSummaryCap)
	}
	out := ""
	for i, id := range shown {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", id)
	}
	return out + suffix
}

// Window bounds a report to records whose server time falls inside it.
// A zero bound is open on that side.
type Window struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

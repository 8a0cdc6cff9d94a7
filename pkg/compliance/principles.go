package compliance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openedc/ledgercore/pkg/event"
	"github.com/openedc/ledgercore/pkg/integrity"
)

// The named-principle checklist: each principle is a boolean predicate over
// the sweep inputs plus a human-readable detail. Principles can be disabled
// per profile but never redefined.

// PrincipleInput is the material a checklist run works from.
type PrincipleInput struct {
	Records   []event.Record
	Gaps      []integrity.Gap
	RoleLog   integrity.LogResult
	ReadError error // non-nil when any source read failed
}

type principle struct {
	name  string
	check func(in PrincipleInput, p Profile) (bool, string)
}

var principles = []principle{
	{"attribution", checkAttribution},
	{"legibility", checkLegibility},
	{"contemporaneity", checkContemporaneity},
	{"originality", checkOriginality},
	{"accuracy", checkAccuracy},
	{"completeness", checkCompleteness},
	{"consistency", checkConsistency},
	{"durability", checkDurability},
	{"availability", checkAvailability},
}

// PrincipleChecklist evaluates every enabled principle.
func PrincipleChecklist(in PrincipleInput, p Profile) []CheckResult {
	results := make([]CheckResult, 0, len(principles))
	for _, pr := range principles {
		if p.disabled(pr.name) {
			continue
		}
		ok, detail := pr.check(in, p)
		status := StatusPass
		if !ok {
			status = StatusFail
		}
		results = append(results, CheckResult{
			Check:  "principle:" + pr.name,
			Status: status,
			Count:  len(in.Records),
			Detail: detail,
		})
	}
	return results
}

func checkAttribution(in PrincipleInput, _ Profile) (bool, string) {
	for _, rec := range in.Records {
		if rec.ActorID == "" || rec.ActorRole == "" {
			return false, fmt.Sprintf("record %d lacks actor attribution", rec.SequenceID)
		}
	}
	return true, "every record names its actor and role"
}

func checkLegibility(in PrincipleInput, _ Profile) (bool, string) {
	for _, rec := range in.Records {
		if !json.Valid(rec.Payload) {
			return false, fmt.Sprintf("record %d payload is not readable JSON", rec.SequenceID)
		}
	}
	return true, "every payload is readable JSON"
}

func checkContemporaneity(in PrincipleInput, p Profile) (bool, string) {
	skew := p.MaxClockSkew
	if skew <= 0 {
		skew = 24 * time.Hour
	}
	for _, rec := range in.Records {
		d := rec.ServerTime.Sub(rec.ClientTime)
		if d < 0 {
			d = -d
		}
		if d > skew {
			return false, fmt.Sprintf("record %d was captured %s from its server commit, beyond the %s allowance",
				rec.SequenceID, d, skew)
		}
	}
	return true, fmt.Sprintf("all records committed within %s of capture", skew)
}

func checkOriginality(in PrincipleInput, _ Profile) (bool, string) {
	for _, rec := range in.Records {
		if rec.ContentHash == "" || rec.HashVersion < 1 {
			return false, fmt.Sprintf("record %d carries no original content signature", rec.SequenceID)
		}
	}
	return true, "every record carries its insert-time signature"
}

func checkAccuracy(in PrincipleInput, _ Profile) (bool, string) {
	for _, rec := range in.Records {
		ok, err := integrity.VerifyRecord(rec)
		if err != nil || !ok {
			return false, fmt.Sprintf("record %d signature does not match its content", rec.SequenceID)
		}
	}
	return true, "all record signatures verify against stored content"
}

func checkCompleteness(in PrincipleInput, _ Profile) (bool, string) {
	if len(in.Gaps) > 0 {
		return false, fmt.Sprintf("%d sequence gaps detected; records are missing", len(in.Gaps))
	}
	for _, rec := range in.Records {
		if reason := incompleteReason(rec); reason != "" {
			return false, fmt.Sprintf("record %d: %s", rec.SequenceID, reason)
		}
	}
	return true, "sequence is dense and all required fields are present"
}

func checkConsistency(in PrincipleInput, _ Profile) (bool, string) {
	var prev time.Time
	var prevSeq int64
	for _, rec := range in.Records {
		if rec.SequenceID < prevSeq {
			return false, fmt.Sprintf("record %d is out of sequence order", rec.SequenceID)
		}
		if !prev.IsZero() && rec.ServerTime.Before(prev) {
			return false, fmt.Sprintf("record %d has a server time before its predecessor", rec.SequenceID)
		}
		prev, prevSeq = rec.ServerTime, rec.SequenceID
	}
	return true, "server timestamps are monotonic in sequence order"
}

func checkDurability(in PrincipleInput, _ Profile) (bool, string) {
	if !in.RoleLog.Valid {
		return false, fmt.Sprintf("role ledger chain broken at position %d", in.RoleLog.FirstBreakAt)
	}
	return true, "chained logs survive intact"
}

func checkAvailability(in PrincipleInput, _ Profile) (bool, string) {
	if in.ReadError != nil {
		return false, fmt.Sprintf("ledger reads failed during the sweep: %v", in.ReadError)
	}
	return true, "all ledger sources were readable"
}

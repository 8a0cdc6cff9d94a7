package integrity

import (
	"fmt"
	"testing"

	"github.com/openedc/ledgercore/pkg/canonicalize"
)

// buildLog constructs a well-formed n-row chained log.
func buildLog(t *testing.T, n int) []LogEntry {
	t.Helper()
	entries := make([]LogEntry, 0, n)
	prev := GenesisHash
	for i := 1; i <= n; i++ {
		content := canonicalize.HashBytes([]byte(fmt.Sprintf("role change %d", i)))
		chain, err := ChainHash(prev, content, int64(i))
		if err != nil {
			t.Fatalf("ChainHash failed: %v", err)
		}
		entries = append(entries, LogEntry{LogID: int64(i), ContentHash: content, ChainHash: chain})
		prev = chain
	}
	return entries
}

func TestVerifySequentialLogIntact(t *testing.T) {
	res, err := VerifySequentialLog(buildLog(t, 5))
	if err != nil {
		t.Fatalf("VerifySequentialLog failed: %v", err)
	}
	if !res.Valid {
		t.Errorf("intact log reported broken at %d", res.FirstBreakAt)
	}
}

func TestVerifySequentialLogEmpty(t *testing.T) {
	res, err := VerifySequentialLog(nil)
	if err != nil {
		t.Fatalf("VerifySequentialLog failed: %v", err)
	}
	if !res.Valid {
		t.Error("empty log is trivially valid")
	}
}

// Deleting row 3 of a 5-row log must break the chain at position 3 — the
// smallest position whose expected chain value can no longer be produced —
// not at position 4 where the first surviving mismatched row happens to sit.
func TestVerifySequentialLogDeletedRow(t *testing.T) {
	entries := buildLog(t, 5)
	withoutRow3 := append(append([]LogEntry{}, entries[:2]...), entries[3:]...)

	res, err := VerifySequentialLog(withoutRow3)
	if err != nil {
		t.Fatalf("VerifySequentialLog failed: %v", err)
	}
	if res.Valid {
		t.Fatal("log with deleted row reported valid")
	}
	if res.FirstBreakAt != 3 {
		t.Errorf("FirstBreakAt = %d, want 3", res.FirstBreakAt)
	}
}

// Deleting row 3 and renumbering the survivors to close the id gap must
// still break at position 3: the renumbered row cannot reproduce the chain
// value the id demands.
func TestVerifySequentialLogDeletedAndRenumbered(t *testing.T) {
	entries := buildLog(t, 5)
	renumbered := append(append([]LogEntry{}, entries[:2]...), entries[3:]...)
	for i := range renumbered {
		renumbered[i].LogID = int64(i + 1)
	}

	res, err := VerifySequentialLog(renumbered)
	if err != nil {
		t.Fatalf("VerifySequentialLog failed: %v", err)
	}
	if res.Valid {
		t.Fatal("renumbered log reported valid")
	}
	if res.FirstBreakAt != 3 {
		t.Errorf("FirstBreakAt = %d, want 3", res.FirstBreakAt)
	}
}

func TestVerifySequentialLogModifiedRow(t *testing.T) {
	for k := 1; k <= 5; k++ {
		t.Run(fmt.Sprintf("row %d", k), func(t *testing.T) {
			entries := buildLog(t, 5)
			entries[k-1].ContentHash = canonicalize.HashBytes([]byte("forged content"))

			res, err := VerifySequentialLog(entries)
			if err != nil {
				t.Fatalf("VerifySequentialLog failed: %v", err)
			}
			if res.Valid {
				t.Fatal("modified log reported valid")
			}
			if res.FirstBreakAt != int64(k) {
				t.Errorf("FirstBreakAt = %d, want %d", res.FirstBreakAt, k)
			}
		})
	}
}

// A tampered row whose own stored chain hash is recomputed to look
// self-consistent is still caught: its successor's stored hash no longer
// matches, and the break is attributed to the successor — the first
// position the forward walk can prove wrong.
func TestVerifySequentialLogRecomputedTamper(t *testing.T) {
	entries := buildLog(t, 5)
	entries[2].ContentHash = canonicalize.HashBytes([]byte("forged content"))
	chain, err := ChainHash(entries[1].ChainHash, entries[2].ContentHash, entries[2].LogID)
	if err != nil {
		t.Fatalf("ChainHash failed: %v", err)
	}
	entries[2].ChainHash = chain

	res, err := VerifySequentialLog(entries)
	if err != nil {
		t.Fatalf("VerifySequentialLog failed: %v", err)
	}
	if res.Valid {
		t.Fatal("tampered log reported valid")
	}
	if res.FirstBreakAt != 4 {
		t.Errorf("FirstBreakAt = %d, want 4", res.FirstBreakAt)
	}
}

func TestDetectGaps(t *testing.T) {
	cases := []struct {
		name string
		ids  []int64
		want []Gap
	}{
		{name: "dense", ids: []int64{1, 2, 3, 4, 5}, want: nil},
		{name: "empty", ids: nil, want: nil},
		{name: "single", ids: []int64{42}, want: nil},
		{
			name: "one gap",
			ids:  []int64{1, 2, 5, 6},
			want: []Gap{{Start: 3, End: 4, MissingCount: 2}},
		},
		{
			name: "multiple gaps unsorted",
			ids:  []int64{10, 1, 2, 7, 8},
			want: []Gap{{Start: 3, End: 6, MissingCount: 4}, {Start: 9, End: 9, MissingCount: 1}},
		},
		{name: "duplicates ignored", ids: []int64{1, 1, 2, 2, 3}, want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectGaps(tc.ids)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d gaps %v, want %d %v", len(got), got, len(tc.want), tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("gap %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

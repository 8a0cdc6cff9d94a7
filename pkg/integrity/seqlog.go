package integrity

import (
	"github.com/openedc/ledgercore/pkg/canonicalize"
)

// GenesisHash seeds the sequential chain: row 1 links to this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// LogEntry is one row of a strictly sequential, hash-chained log.
// Log ids are dense and store-assigned starting at 1.
type LogEntry struct {
	LogID       int64  `json:"log_id"`
	ContentHash string `json:"content_hash"`
	ChainHash   string `json:"chain_hash"`
}

// chainLink is the digested form linking a row to its predecessor.
type chainLink struct {
	PreviousChainHash string `json:"previous_chain_hash"`
	ContentHash       string `json:"content_hash"`
	LogID             int64  `json:"log_id"`
}

// ChainHash computes the chain hash for a row: a digest over the previous
// row's chain hash, this row's content digest, and this row's own id. The id
// is part of the link so a deleted-and-renumbered row cannot reproduce its
// neighbour's hash.
func ChainHash(prevChainHash, contentHash string, logID int64) (string, error) {
	return canonicalize.CanonicalHash(chainLink{
		PreviousChainHash: prevChainHash,
		ContentHash:       contentHash,
		LogID:             logID,
	})
}

// LogResult reports sequential-log verification. When Valid is false,
// FirstBreakAt is the smallest log position that can no longer be trusted;
// nothing at or after that position is trustworthy even if its own stored
// hash appears self-consistent.
type LogResult struct {
	Valid        bool  `json:"valid"`
	FirstBreakAt int64 `json:"first_break_at,omitempty"`
}

// VerifySequentialLog walks the log forward from genesis, recomputing every
// chain hash and comparing it to the stored value. Entries must be supplied
// in ascending log-id order, which is how the store reads them.
//
// A missing id (deletion without renumbering) breaks the chain at the
// missing position itself: that is the smallest position whose expected
// chain value can no longer be produced. Random-access per-row checking
// cannot detect deleted-and-renumbered rows, which is why this walk is the
// only supported verification mode.
func VerifySequentialLog(entries []LogEntry) (LogResult, error) {
	prev := GenesisHash
	expectedID := int64(1)

	for _, e := range entries {
		if e.LogID != expectedID {
			return LogResult{Valid: false, FirstBreakAt: expectedID}, nil
		}
		computed, err := ChainHash(prev, e.ContentHash, e.LogID)
		if err != nil {
			return LogResult{}, err
		}
		if computed != e.ChainHash {
			return LogResult{Valid: false, FirstBreakAt: e.LogID}, nil
		}
		prev = e.ChainHash
		expectedID++
	}
	return LogResult{Valid: true}, nil
}

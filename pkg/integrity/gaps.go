package integrity

import "sort"

// Gap is a contiguous run of missing sequence ids.
type Gap struct {
	Start        int64 `json:"start"`
	End          int64 `json:"end"`
	MissingCount int64 `json:"missing_count"`
}

// DetectGaps scans sequence ids for skips. It is a cheap first-order signal
// of record loss, complementary to hash validation: a gap means rows are
// absent, while an intact dense sequence says nothing about row contents.
//
// Ids may arrive unsorted; duplicates are ignored. Gaps are reported between
// the smallest and largest observed id only — whether the log ought to start
// at 1 is the caller's policy.
func DetectGaps(ids []int64) []Gap {
	if len(ids) < 2 {
		return nil
	}

	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var gaps []Gap
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur-prev > 1 {
			gaps = append(gaps, Gap{
				Start:        prev + 1,
				End:          cur - 1,
				MissingCount: cur - prev - 1,
			})
		}
	}
	return gaps
}

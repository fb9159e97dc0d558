package progress

import "math"

// CalculateProgress converts a baseline and the two observed heights into a
// whole percentage. An unknown baseline is always 0%. When the chain height
// is not above the baseline (stale or unreachable RPC), an indexer at or past
// the baseline reads as 100%.
func CalculateProgress(baseline *int64, indexerHeight, chainHeight int64) int32 {
	if baseline == nil {
		return 0
	}

	base := *baseline
	var ratio float64
	switch {
	case chainHeight > 0 && chainHeight > base:
		ratio = float64(indexerHeight-base) / float64(chainHeight-base)
		ratio = math.Min(math.Max(ratio, 0), 1)
	case indexerHeight >= base:
		ratio = 1
	}

	return int32(math.Floor(ratio * 100))
}

package rules

import (
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/solatis/watchkeeper/internal/types"
)

// FilterCandidates normalizes one raw batch into the candidate list the
// evaluator walks. Unmapped classes are dropped and returned separately so
// callers can still count them; exact duplicates keep their first
// occurrence. Order is descending score, ties by original position, with
// unscored detections after every scored one.
func FilterCandidates(raw []types.DetectionResult, logger *slog.Logger) (candidates, dropped []types.DetectionResult) {
	candidates = make([]types.DetectionResult, 0, len(raw))

	for _, d := range raw {
		if _, ok := MapClass(d.ClassName); !ok {
			if logger != nil {
				logger.Debug("class not mapped", "class", d.ClassName)
			}
			dropped = append(dropped, d)
			continue
		}
		if slices.ContainsFunc(candidates, func(c types.DetectionResult) bool { return sameDetection(c, d) }) {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case !sortable(a):
			return false
		case !sortable(b):
			return true
		default:
			return *a.Score > *b.Score
		}
	})

	if logger != nil {
		logger.Debug("candidates filtered", "in", len(raw), "out", len(candidates), "dropped", len(dropped))
	}
	return candidates, dropped
}

// sortable reports whether d has a score that orders. NaN sorts with the
// unscored detections; the score gate still rejects it.
func sortable(d types.DetectionResult) bool {
	return d.HasScore() && !math.IsNaN(*d.Score)
}

func sameDetection(a, b types.DetectionResult) bool {
	if a.ClassName != b.ClassName || a.Label != b.Label || a.HasBoundingBox != b.HasBoundingBox {
		return false
	}
	if (a.Score == nil) != (b.Score == nil) {
		return false
	}
	if a.Score != nil && *a.Score != *b.Score {
		return false
	}
	return slices.Equal(a.Zones, b.Zones)
}

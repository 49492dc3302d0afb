package repository

import (
	"sort"

	"github.com/m-mizutani/atlas/pkg/model"
)

// rrfK dampens the weight gap between adjacent ranks in reciprocal rank
// fusion. 60 is the constant from the original RRF paper.
const rrfK = 60

// fuseHits merges a semantic and a lexical result list by reciprocal
// rank fusion: each record scores the sum of 1/(rrfK+rank) over the
// lists it appears in, with rank counted from 1. Ties keep the order in
// which records were first encountered, semantic list first.
func fuseHits(semantic, lexical []model.MemoryHit, limit int) []model.MemoryHit {
	fused := make([]model.MemoryHit, 0, len(semantic)+len(lexical))
	seen := map[int64]int{}

	accumulate := func(hits []model.MemoryHit) {
		for rank, hit := range hits {
			score := 1.0 / float64(rrfK+rank+1)
			if idx, ok := seen[hit.ID]; ok {
				fused[idx].Score += score
				continue
			}
			hit.Score = score
			seen[hit.ID] = len(fused)
			fused = append(fused, hit)
		}
	}

	accumulate(semantic)
	accumulate(lexical)

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	return truncHits(fused, limit)
}

func truncHits(hits []model.MemoryHit, limit int) []model.MemoryHit {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

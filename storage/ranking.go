package storage

import (
	"cmp"
	"slices"

	"github.com/poiesic/ragcore/core"
)

// SortRanked orders search results by score descending, then chunk index
// ascending, then content key ascending. Every VectorRepository returns
// results in this order.
func SortRanked(results []core.RankedChunk) {
	slices.SortFunc(results, func(a, b core.RankedChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Chunk.Index, b.Chunk.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.ContentKey, b.Chunk.ContentKey)
	})
}

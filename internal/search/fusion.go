// Package search implements hybrid retrieval: parallel semantic and
// keyword search fused with Reciprocal Rank Fusion.
package search

import (
	"sort"

	"github.com/codescope/codescope/internal/chunk"
	"github.com/codescope/codescope/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter; k=60 is the
// widely validated default.
const DefaultRRFConstant = 60

// FusedResult is a single result after RRF fusion.
type FusedResult struct {
	ChunkID string
	// Score is the RRF score: Σ over lists containing the chunk of
	// 1/(c + rank). Insensitive to absolute score magnitudes.
	Score float64
	// SemanticRank and KeywordRank are 1-indexed; 0 means absent from
	// that list.
	SemanticRank int
	KeywordRank  int
	// VectorScore is the raw similarity, preserved for tie-breaking.
	VectorScore  float64
	KeywordScore float64
	MatchedTerms []string
	// Chunk is the hydrated payload when the vector list supplied it.
	Chunk *chunk.CodeChunk
}

// FuseRRF combines vector and keyword rankings. For each chunk id seen in
// either list, score(id) = Σ 1/(c + rank_L(id)) over the lists containing
// it. Results sort by score descending; ties break by vector score
// descending, then id ascending.
func FuseRRF(c int, vec []*store.VectorResult, keyword []*store.KeywordResult) []*FusedResult {
	if c <= 0 {
		c = DefaultRRFConstant
	}
	if len(vec) == 0 && len(keyword) == 0 {
		return []*FusedResult{}
	}

	fused := make(map[string]*FusedResult, len(vec)+len(keyword))
	get := func(id string) *FusedResult {
		if r, ok := fused[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		fused[id] = r
		return r
	}

	for rank, r := range vec {
		f := get(r.ID)
		f.SemanticRank = rank + 1
		f.VectorScore = float64(r.Score)
		f.Chunk = r.Chunk
		f.Score += 1.0 / float64(c+rank+1)
	}
	for rank, r := range keyword {
		f := get(r.ID)
		f.KeywordRank = rank + 1
		f.KeywordScore = r.Score
		f.MatchedTerms = r.MatchedTerms
		f.Score += 1.0 / float64(c+rank+1)
	}

	results := make([]*FusedResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		return a.ChunkID < b.ChunkID
	})
	return results
}

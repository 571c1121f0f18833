package semantic

import (
	"sort"

	"github.com/corpusmcp/corpusmcp/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 holds up
// across retrieval domains and is the common default elsewhere.
const DefaultRRFConstant = 60

// FusedHit is one chunk's combined ranking evidence after fusion.
type FusedHit struct {
	ChunkID      string
	RRFScore     float64 // normalized to 0-1 after fusion
	BM25Score    float64
	BM25Rank     int // 1-indexed, 0 if absent from the keyword list
	VectorScore  float64
	VectorRank   int // 1-indexed, 0 if absent from the vector list
	InBoth       bool
	MatchedTerms []string
}

// RRFFusion merges two ranked lists with weighted Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_i / (k + rank_i)
//
// Rank-based fusion sidesteps the incompatible score scales of BM25 and
// cosine similarity.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns a fusion instance with the given smoothing constant.
// Non-positive k selects the default.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines keyword and vector rankings.
//
// A chunk present in only one list still receives a contribution from the
// missing source, computed at rank max(len(bm25), len(vector))+1, so
// single-source hits are penalized rather than starved.
//
// The returned slice is sorted by RRFScore descending with deterministic
// tie-breaking, and scores are normalized so the top hit is 1.0. Empty
// inputs yield an empty, non-nil slice.
func (f *RRFFusion) Fuse(bm25 []*store.BM25Result, vector []*store.VectorResult, weights Weights) []*FusedHit {
	if len(bm25) == 0 && len(vector) == 0 {
		return []*FusedHit{}
	}

	hits := make(map[string]*FusedHit, len(bm25)+len(vector))
	get := func(id string) *FusedHit {
		h, ok := hits[id]
		if !ok {
			h = &FusedHit{ChunkID: id}
			hits[id] = h
		}
		return h
	}

	for rank, r := range bm25 {
		h := get(r.DocID)
		h.BM25Score = r.Score
		h.BM25Rank = rank + 1
		h.MatchedTerms = r.MatchedTerms
		h.RRFScore += weights.BM25 / float64(f.K+rank+1)
	}

	for rank, r := range vector {
		h := get(r.ID)
		h.VectorScore = float64(r.Score)
		h.VectorRank = rank + 1
		h.RRFScore += weights.Semantic / float64(f.K+rank+1)
		if h.BM25Rank > 0 {
			h.InBoth = true
		}
	}

	missingRank := len(bm25)
	if len(vector) > missingRank {
		missingRank = len(vector)
	}
	missingRank++

	for _, h := range hits {
		if h.BM25Rank == 0 {
			h.RRFScore += weights.BM25 / float64(f.K+missingRank)
		}
		if h.VectorRank == 0 {
			h.RRFScore += weights.Semantic / float64(f.K+missingRank)
		}
	}

	fused := make([]*FusedHit, 0, len(hits))
	for _, h := range hits {
		fused = append(fused, h)
	}
	sort.Slice(fused, func(i, j int) bool {
		return lessHit(fused[i], fused[j])
	})

	normalize(fused)
	return fused
}

// lessHit orders a before b. Ties fall through to membership in both lists,
// then raw BM25 score (exact-match signal), then chunk ID so ordering is
// stable across runs.
func lessHit(a, b *FusedHit) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBoth != b.InBoth {
		return a.InBoth
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.ChunkID < b.ChunkID
}

// normalize rescales scores so the top hit is 1.0. The slice is already
// sorted, so the first element carries the maximum.
func normalize(hits []*FusedHit) {
	if len(hits) == 0 || hits[0].RRFScore == 0 {
		return
	}
	max := hits[0].RRFScore
	for _, h := range hits {
		h.RRFScore /= max
	}
}

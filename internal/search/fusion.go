package search

import "sort"

// Fusion parameters.
const (
	// DefaultAlpha is the dense weight in alpha blending.
	DefaultAlpha = 0.6
	// DefaultRRFK is the rank-smoothing constant for reciprocal rank fusion.
	DefaultRRFK = 60
)

// fused tracks one candidate across both constituent lists. order is the
// insertion index used as a stable tie-break: BM25 candidates enter first,
// so on equal scores they stay ahead of dense-only candidates.
type fused struct {
	result Result
	score  float64
	order  int
}

// AlphaBlend fuses BM25 and dense result lists by weighted sum of min-max
// normalized scores. alpha is the dense weight; a candidate missing from a
// list contributes 0 from that list.
func AlphaBlend(bm25, dense []Result, alpha float64) []Result {
	bm25Norm := normalizeScores(bm25)
	denseNorm := normalizeScores(dense)

	merged := map[string]*fused{}
	order := 0
	for i, r := range bm25 {
		f := getOrCreate(merged, r, &order)
		f.score += (1 - alpha) * bm25Norm[i]
		f.result.BM25Rank = i + 1
	}
	for i, r := range dense {
		f := getOrCreate(merged, r, &order)
		f.score += alpha * denseNorm[i]
		f.result.DenseRank = i + 1
	}
	return toSortedResults(merged)
}

// RRF fuses BM25 and dense result lists by reciprocal rank:
// score = sum over lists of 1/(k + rank). Score magnitudes are ignored, so
// the two lists need no calibration against each other.
func RRF(bm25, dense []Result, k int) []Result {
	if k <= 0 {
		k = DefaultRRFK
	}

	merged := map[string]*fused{}
	order := 0
	for i, r := range bm25 {
		f := getOrCreate(merged, r, &order)
		f.score += 1 / float64(k+i+1)
		f.result.BM25Rank = i + 1
	}
	for i, r := range dense {
		f := getOrCreate(merged, r, &order)
		f.score += 1 / float64(k+i+1)
		f.result.DenseRank = i + 1
	}
	return toSortedResults(merged)
}

// getOrCreate returns the fused entry for a chunk id, creating it from the
// first list the candidate appears in.
func getOrCreate(merged map[string]*fused, r Result, order *int) *fused {
	if f, ok := merged[r.ChunkID]; ok {
		return f
	}
	f := &fused{result: r, order: *order}
	*order++
	merged[r.ChunkID] = f
	return f
}

// toSortedResults materializes the union sorted by fused score descending,
// insertion order on ties, and stamps ranks and search type.
func toSortedResults(merged map[string]*fused) []Result {
	entries := make([]*fused, 0, len(merged))
	for _, f := range merged {
		entries = append(entries, f)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		// Ties: a better dense rank wins when both candidates have one;
		// otherwise insertion order holds, which keeps BM25-only
		// candidates ahead of dense-only ones.
		di, dj := entries[i].result.DenseRank, entries[j].result.DenseRank
		if di > 0 && dj > 0 && di != dj {
			return di < dj
		}
		return entries[i].order < entries[j].order
	})

	results := make([]Result, len(entries))
	for rank, f := range entries {
		r := f.result
		r.Score = f.score
		r.Rank = rank + 1
		r.SearchType = SearchTypeHybrid
		results[rank] = r
	}
	return results
}

// normalizeScores min-max normalizes scores within one list. A constant
// list maps to all ones so presence still contributes weight.
func normalizeScores(results []Result) []float64 {
	if len(results) == 0 {
		return nil
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	norm := make([]float64, len(results))
	if max == min {
		for i := range norm {
			norm[i] = 1
		}
		return norm
	}
	for i, r := range results {
		norm[i] = (r.Score - min) / (max - min)
	}
	return norm
}

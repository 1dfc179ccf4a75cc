package search

import "math"

// MMR parameters.
const (
	// DefaultMMRLambda balances relevance against redundancy.
	DefaultMMRLambda = 0.7
	// DefaultSimilarityThreshold marks pairs considered near-duplicates.
	DefaultSimilarityThreshold = 0.8
	// keywordBoostCap bounds the keyword-overlap addition to cosine.
	keywordBoostCap = 0.2
)

// MMRDiversifier re-orders a ranked list by maximal marginal relevance:
// each pick maximizes λ·relevance − (1−λ)·max similarity to the picks so
// far. Similarity is tiered on chunk identity before falling back to a
// continuous text measure.
type MMRDiversifier struct {
	Lambda              float64
	SimilarityThreshold float64
}

// NewMMRDiversifier returns a diversifier with the given λ; out-of-range
// values reset to the default.
func NewMMRDiversifier(lambda, similarityThreshold float64) *MMRDiversifier {
	if lambda < 0 || lambda > 1 {
		lambda = DefaultMMRLambda
	}
	if similarityThreshold <= 0 || similarityThreshold > 1 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	return &MMRDiversifier{Lambda: lambda, SimilarityThreshold: similarityThreshold}
}

// Diversify greedily selects up to k candidates. The first pick is the
// highest-relevance candidate; each later pick records its mmr_score,
// relevance_score, and diversity_score (max similarity to earlier picks).
// Candidates whose similarity to an earlier pick reaches
// SimilarityThreshold are skipped as near-duplicates; when only such
// candidates remain, the best of them still fills the list up to k.
func (m *MMRDiversifier) Diversify(query string, candidates []Result, k int) []Result {
	if len(candidates) == 0 {
		return nil
	}
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}

	queryTF := termFrequencies(Tokenize(query))
	passageTFs := make([]map[string]float64, len(candidates))
	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		passageTFs[i] = termFrequencies(Tokenize(c.Content))
		if len(queryTF) == 0 {
			relevance[i] = c.Score
		} else {
			relevance[i] = cosine(queryTF, passageTFs[i])
		}
	}

	selected := make([]Result, 0, k)
	selectedIdx := make([]int, 0, k)
	remaining := make(map[int]struct{}, len(candidates))
	for i := range candidates {
		remaining[i] = struct{}{}
	}

	for len(selected) < k && len(remaining) > 0 {
		bestIdx, bestScore, bestDiversity := -1, math.Inf(-1), 0.0
		anyIdx, anyScore, anyDiversity := -1, math.Inf(-1), 0.0
		for idx := range remaining {
			maxSim := 0.0
			for _, picked := range selectedIdx {
				sim := m.similarity(candidates[idx], candidates[picked], passageTFs[idx], passageTFs[picked])
				if sim > maxSim {
					maxSim = sim
				}
			}
			score := m.Lambda*relevance[idx] - (1-m.Lambda)*maxSim
			if score > anyScore || (score == anyScore && (anyIdx == -1 || idx < anyIdx)) {
				anyIdx, anyScore, anyDiversity = idx, score, maxSim
			}
			if len(selectedIdx) > 0 && maxSim >= m.SimilarityThreshold {
				continue
			}
			if score > bestScore || (score == bestScore && (bestIdx == -1 || idx < bestIdx)) {
				bestIdx, bestScore, bestDiversity = idx, score, maxSim
			}
		}
		if bestIdx == -1 {
			// Only near-duplicates remain.
			bestIdx, bestScore, bestDiversity = anyIdx, anyScore, anyDiversity
		}

		pick := candidates[bestIdx]
		pick.MMRScore = bestScore
		pick.RelevanceScore = relevance[bestIdx]
		pick.DiversityScore = bestDiversity
		pick.Score = bestScore
		pick.Rank = len(selected) + 1
		selected = append(selected, pick)
		selectedIdx = append(selectedIdx, bestIdx)
		delete(remaining, bestIdx)
	}
	return selected
}

// similarity is the tiered measure: identity tiers first, then cosine over
// term frequencies with a keyword-overlap boost.
func (m *MMRDiversifier) similarity(a, b Result, tfA, tfB map[string]float64) float64 {
	switch {
	case a.ChunkID == b.ChunkID && a.ChunkID != "":
		return 1.0
	case a.DocumentID == b.DocumentID && a.Section != "" && a.Section == b.Section:
		return 0.9
	case a.DocumentID == b.DocumentID && a.DocumentID != 0:
		return 0.7
	case a.Code == b.Code && a.Code != "":
		return 0.6
	}

	sim := cosine(tfA, tfB) + keywordOverlapBoost(tfA, tfB)
	if sim > 1 {
		sim = 1
	}
	return sim
}

// termFrequencies builds a TF vector from a token slice.
func termFrequencies(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

// cosine computes cosine similarity between two sparse TF vectors.
func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for t, va := range a {
		normA += va * va
		if vb, ok := b[t]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// keywordOverlapBoost scales shared-term coverage of the smaller vector
// into a bounded additive boost.
func keywordOverlapBoost(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	shared := 0
	for t := range smaller {
		if _, ok := larger[t]; ok {
			shared++
		}
	}
	return keywordBoostCap * float64(shared) / float64(len(smaller))
}

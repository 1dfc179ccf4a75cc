package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// BM25 parameters, classical defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// russianStopWords is the fixed stop-word set for query and corpus
// tokenization.
var russianStopWords = buildStopWordMap([]string{
	"и", "в", "на", "с", "по", "для", "не", "от", "до", "из", "к", "о",
	"об", "у", "за", "при", "что", "как", "это", "или", "а", "но", "же",
	"бы", "то", "так", "его", "ее", "её", "их", "мы", "вы", "они", "он",
	"она", "оно", "был", "была", "было", "были", "быть", "есть", "если",
	"чем", "том", "этом", "также", "более", "менее", "все", "всех",
	"может", "могут", "должен", "должна", "должно", "должны", "который",
	"которая", "которое", "которые", "данный", "данной", "данного",
})

// wordRe extracts letter/digit runs. Interior dots are kept so that
// document codes ("22.13330") and section references ("5.2.1") stay
// whole tokens.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:\.[\p{L}\p{N}]+)*`)

// Tokenize lowercases text, strips non-word characters, and drops
// single-rune tokens and Russian stop words.
func Tokenize(text string) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 {
			continue
		}
		if _, stop := russianStopWords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// BM25Document is a corpus entry supplied by the caller (post-filter).
type BM25Document struct {
	ID      string
	Content string

	// Result carries the chunk payload used to materialize search
	// results; scoring ignores it.
	Result Result
}

// BM25Engine is a pure in-memory BM25 ranker. Fit trains it on a corpus;
// Search scores a query against that corpus, refitting first whenever the
// supplied corpus differs from the fitted one. Search holds the lock
// across the staleness check, the refit, and the scoring, so concurrent
// queries with different post-filter corpora never score against each
// other's fit.
type BM25Engine struct {
	mu sync.Mutex

	docTokens []map[string]int
	docLens   []int
	avgLen    float64
	idf       map[string]float64
	fittedFP  uint64
}

// NewBM25Engine creates an untrained engine.
func NewBM25Engine() *BM25Engine {
	return &BM25Engine{idf: map[string]float64{}}
}

// corpusFingerprint identifies a corpus by its chunk-id sequence. Order
// matters: scoring indexes the fitted statistics by slice position.
func corpusFingerprint(docs []BM25Document) uint64 {
	h := xxhash.New()
	for _, d := range docs {
		_, _ = h.WriteString(d.ID)
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}

// Fit recomputes document frequencies, IDF, per-document term frequencies,
// and lengths for the given corpus.
func (e *BM25Engine) Fit(docs []BM25Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fit(docs)
}

func (e *BM25Engine) fit(docs []BM25Document) {
	e.docTokens = make([]map[string]int, len(docs))
	e.docLens = make([]int, len(docs))
	df := make(map[string]int)

	total := 0
	for i, doc := range docs {
		tokens := Tokenize(doc.Content)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t := range tf {
			df[t]++
		}
		e.docTokens[i] = tf
		e.docLens[i] = len(tokens)
		total += len(tokens)
	}

	n := float64(len(docs))
	e.avgLen = 0
	if len(docs) > 0 {
		e.avgLen = float64(total) / n
	}

	e.idf = make(map[string]float64, len(df))
	for t, f := range df {
		e.idf[t] = math.Log((n - float64(f) + 0.5) / (float64(f) + 0.5))
	}
	e.fittedFP = corpusFingerprint(docs)
}

// Search tokenizes the query and scores each document, dropping zero
// scores and sorting descending. The engine refits itself when the
// supplied corpus is not the fitted one, including a same-length corpus
// produced by a different filter.
func (e *BM25Engine) Search(query string, docs []BM25Document, k int) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fp := corpusFingerprint(docs); fp != e.fittedFP {
		e.fit(docs)
	}

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || len(docs) == 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i := range docs {
		score := e.scoreDoc(queryTokens, i)
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	results := make([]Result, len(hits))
	for rank, h := range hits {
		r := docs[h.idx].Result
		r.ChunkID = docs[h.idx].ID
		r.Content = docs[h.idx].Content
		r.Score = h.score
		r.Rank = rank + 1
		r.SearchType = SearchTypeBM25
		results[rank] = r
	}
	return results
}

// scoreDoc sums BM25 term contributions for one fitted document.
func (e *BM25Engine) scoreDoc(queryTokens []string, idx int) float64 {
	tf := e.docTokens[idx]
	dl := float64(e.docLens[idx])

	var score float64
	for _, t := range queryTokens {
		f := float64(tf[t])
		if f == 0 {
			continue
		}
		idf := e.idf[t]
		norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*dl/e.avgLen))
		score += idf * norm
	}
	return score
}

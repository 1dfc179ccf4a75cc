// Package chunker converts extracted document text into ranking-friendly
// passages: token-budgeted, sentence-aware, with overlap between adjacent
// chunks and a header-merging pass that keeps headings attached to their
// body text.
package chunker

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/normatech/normrag/internal/config"
)

// Chunk is a single passage produced by the chunker.
type Chunk struct {
	ChunkID       string
	DocumentID    int64
	DocumentTitle string
	Content       string
	ChunkType     string
	Page          int
	Chapter       string
	Section       string
	SectionTitle  string

	// Merged marks chunks produced by a merging rule (header merge or
	// small-tail merge); such chunks may exceed the max token budget.
	Merged bool

	// Sentences is the number of sentences in the chunk.
	Sentences int
}

// Tokens estimates the token count of the chunk content.
func (c *Chunk) Tokens(tokensPerChar float64) int {
	return EstimateTokens(c.Content, tokensPerChar)
}

// EstimateTokens applies the chars-based token heuristic.
func EstimateTokens(text string, tokensPerChar float64) int {
	if tokensPerChar <= 0 {
		tokensPerChar = 0.25
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) * tokensPerChar))
}

// pageMarkerRe matches the literal page markers inserted by the parser.
var pageMarkerRe = regexp.MustCompile(`Страница\s+(\d+)\s+из\s+\d+`)

// sentenceBoundaryRe finds candidate sentence terminators. A candidate is
// accepted when the following rune is an uppercase letter or a digit, or
// the text ends.
var sentenceBoundaryRe = regexp.MustCompile(`[.!?;]+[ \t\r\n]+`)

// headerTailRe matches a trailing header marker, optionally followed by a
// numeric reference ("... подпункт 5.2.1.").
var headerTailRe = regexp.MustCompile(`(?i)(глава|раздел|часть|пункт|подпункт|статья|параграф|абзац|подраздел)\s*(\d+(\.\d+)*)?\.?\s*$`)

// chapterRe matches chapter-level headings.
var chapterRe = regexp.MustCompile(`(?m)(ГЛАВА|РАЗДЕЛ|ЧАСТЬ)\s+(\d+|[IVXLC]+)[.\-\s]+([^\n.]{0,120})`)

// sectionRe matches numeric section headings: N.N[.N[.N]] Title.
var sectionRe = regexp.MustCompile(`(?m)(^|\n)\s*(\d+(?:\.\d+){1,3})[.\s\-]+([А-ЯЁA-Z][^\n]{0,120})`)

// Chunker splits document text into chunks.
type Chunker struct {
	cfg config.ChunkingConfig
}

// New creates a Chunker with the given configuration.
func New(cfg config.ChunkingConfig) *Chunker {
	return &Chunker{cfg: cfg}
}

// page is an internal page of text with its 1-based number.
type page struct {
	number int
	text   string
}

// sentence is a sentence with its source page.
type sentence struct {
	text   string
	tokens int
	page   int
}

// Chunk splits text into ordered chunks for the given document.
//
// Buffers do not span page boundaries: each page starts a fresh sentence
// buffer, so consecutive chunks share overlap sentences only within a page.
func (c *Chunker) Chunk(text string, documentID int64, documentTitle string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []Chunk
	for _, pg := range splitPages(text) {
		sentences := c.splitSentences(pg.text, pg.number)
		chunks = c.accumulate(chunks, sentences)
	}

	if c.cfg.MergeEnabled {
		chunks = c.mergeHeaders(chunks)
	}

	c.tagStructure(chunks)

	for i := range chunks {
		chunks[i].ChunkID = fmt.Sprintf("doc%d_chunk_%d", documentID, i)
		chunks[i].DocumentID = documentID
		chunks[i].DocumentTitle = documentTitle
		chunks[i].ChunkType = "paragraph"
	}
	return chunks
}

// splitPages splits text on page markers, preserving page numbers.
// Text without markers is a single page 1.
func splitPages(text string) []page {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []page{{number: 1, text: text}}
	}

	var pages []page
	// Text before the first marker belongs to page 1.
	if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
		pages = append(pages, page{number: 1, text: head})
	}
	for i, loc := range locs {
		num := 1
		fmt.Sscanf(text[loc[2]:loc[3]], "%d", &num)
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if body != "" {
			pages = append(pages, page{number: num, text: body})
		}
	}
	return pages
}

// splitSentences splits page text into sentences, dropping sentences
// shorter than min_sentence_length characters.
func (c *Chunker) splitSentences(text string, pageNum int) []sentence {
	minLen := c.cfg.MinSentenceLength
	if minLen <= 0 {
		minLen = 10
	}

	var out []sentence
	add := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) < minLen {
			return
		}
		out = append(out, sentence{
			text:   s,
			tokens: EstimateTokens(s, c.cfg.TokensPerChar),
			page:   pageNum,
		})
	}

	start := 0
	for _, loc := range sentenceBoundaryRe.FindAllStringIndex(text, -1) {
		next, _ := utf8.DecodeRuneInString(text[loc[1]:])
		// Accept the boundary only when the continuation looks like a new
		// sentence: capital letter or digit.
		if next != utf8.RuneError && !unicode.IsUpper(next) && !unicode.IsDigit(next) {
			continue
		}
		add(text[start:loc[0]] + strings.TrimRight(text[loc[0]:loc[1]], " \t\r\n"))
		start = loc[1]
	}
	if start < len(text) {
		add(text[start:])
	}
	return out
}

// accumulate greedily packs sentences into chunks, seeding each new buffer
// with trailing overlap sentences from the emitted chunk.
func (c *Chunker) accumulate(chunks []Chunk, sentences []sentence) []Chunk {
	if len(sentences) == 0 {
		return chunks
	}

	var buf []sentence
	bufTokens := 0
	emitted := 0

	emit := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, c.buildChunk(buf))
		emitted++

		overlap := int(math.Ceil(float64(len(buf)) * c.cfg.OverlapRatio))
		if overlap < c.cfg.MinOverlapSentences {
			overlap = c.cfg.MinOverlapSentences
		}
		if overlap >= len(buf) {
			overlap = len(buf) - 1
		}
		if overlap < 0 {
			overlap = 0
		}
		buf = append([]sentence(nil), buf[len(buf)-overlap:]...)
		bufTokens = 0
		for _, s := range buf {
			bufTokens += s.tokens
		}
	}

	for _, s := range sentences {
		if bufTokens > 0 && bufTokens+s.tokens >= c.cfg.MaxTokens {
			emit()
		}
		buf = append(buf, s)
		bufTokens += s.tokens

		if bufTokens >= c.cfg.TargetTokens && bufTokens >= c.cfg.MinTokens {
			emit()
		}
	}

	// Trailing buffer: if below min_tokens, merge into the previous chunk;
	// with no previous chunk, keep as a single small chunk.
	if len(buf) > 0 {
		onlyOverlap := emitted > 0 && bufTokens > 0 && c.isOverlapOnly(buf, chunks)
		if !onlyOverlap {
			if bufTokens < c.cfg.MinTokens && len(chunks) > 0 {
				last := &chunks[len(chunks)-1]
				last.Content = last.Content + " " + joinSentences(buf)
				last.Sentences += len(buf)
				last.Merged = true
			} else {
				chunks = append(chunks, c.buildChunk(buf))
			}
		}
	}
	return chunks
}

// isOverlapOnly reports whether buf holds nothing beyond the overlap seed
// copied from the last emitted chunk.
func (c *Chunker) isOverlapOnly(buf []sentence, chunks []Chunk) bool {
	if len(chunks) == 0 {
		return false
	}
	last := chunks[len(chunks)-1].Content
	for _, s := range buf {
		if !strings.Contains(last, s.text) {
			return false
		}
	}
	return true
}

// buildChunk materializes a chunk from a sentence buffer.
func (c *Chunker) buildChunk(buf []sentence) Chunk {
	return Chunk{
		Content:   joinSentences(buf),
		Page:      buf[0].page,
		Sentences: len(buf),
	}
}

func joinSentences(buf []sentence) string {
	parts := make([]string, len(buf))
	for i, s := range buf {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

// mergeHeaders merges adjacent chunk pairs when the first ends with a
// heading marker, the second starts mid-sentence, or the first carries
// unbalanced quotes or brackets, provided the combined size fits.
func (c *Chunker) mergeHeaders(chunks []Chunk) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}

	out := make([]Chunk, 0, len(chunks))
	out = append(out, chunks[0])
	for _, next := range chunks[1:] {
		prev := &out[len(out)-1]
		combined := EstimateTokens(prev.Content, c.cfg.TokensPerChar) +
			EstimateTokens(next.Content, c.cfg.TokensPerChar)
		if combined <= c.cfg.MaxMergedTokens && shouldMerge(prev.Content, next.Content) {
			prev.Content = prev.Content + " " + next.Content
			prev.Sentences += next.Sentences
			prev.Merged = true
			continue
		}
		out = append(out, next)
	}
	return out
}

// shouldMerge applies the header-merging predicates.
func shouldMerge(first, second string) bool {
	if headerTailRe.MatchString(first) {
		return true
	}
	if r, _ := utf8.DecodeRuneInString(second); r != utf8.RuneError && unicode.IsLower(r) {
		return true
	}
	return hasUnbalanced(first)
}

// hasUnbalanced reports unbalanced «», straight quotes, or brackets.
func hasUnbalanced(s string) bool {
	if strings.Count(s, "«") != strings.Count(s, "»") {
		return true
	}
	if strings.Count(s, `"`)%2 != 0 {
		return true
	}
	pairs := [][2]string{{"(", ")"}, {"[", "]"}, {"{", "}"}}
	for _, p := range pairs {
		if strings.Count(s, p[0]) != strings.Count(s, p[1]) {
			return true
		}
	}
	return false
}

// tagStructure assigns the governing chapter and section to each chunk by
// carrying the nearest preceding heading forward. Inside a single chunk the
// deepest numeric code wins for section and the nearest chapter heading
// wins for chapter.
func (c *Chunker) tagStructure(chunks []Chunk) {
	var curChapter, curSection, curSectionTitle string

	for i := range chunks {
		content := chunks[i].Content

		if ms := chapterRe.FindAllStringSubmatch(content, -1); len(ms) > 0 {
			last := ms[len(ms)-1]
			curChapter = strings.TrimSpace(last[1] + " " + last[2] + " " + strings.TrimSpace(last[3]))
		}

		if ms := sectionRe.FindAllStringSubmatch(content, -1); len(ms) > 0 {
			best := ms[0]
			for _, m := range ms[1:] {
				if strings.Count(m[2], ".") > strings.Count(best[2], ".") {
					best = m
				}
			}
			curSection = best[2]
			curSectionTitle = strings.TrimSpace(best[3])
		}

		chunks[i].Chapter = curChapter
		chunks[i].Section = curSection
		chunks[i].SectionTitle = curSectionTitle
	}
}

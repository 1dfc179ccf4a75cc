// Package meta derives normative-document metadata from filenames and
// chunk text: document code, type, edition year, status, and topic tags.
package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DocType is the recognized normative document family.
type DocType string

const (
	DocTypeGOST    DocType = "GOST"
	DocTypeSP      DocType = "SP"
	DocTypeSNiP    DocType = "SNiP"
	DocTypeFNP     DocType = "FNP"
	DocTypeCorpStd DocType = "CORP_STD"
	DocTypeOther   DocType = "OTHER"
)

// Status is the regulatory status of a document.
type Status string

const (
	StatusActive   Status = "active"
	StatusRepealed Status = "repealed"
	StatusReplaced Status = "replaced"
	StatusUnknown  Status = "unknown"
)

// DocumentMeta is the per-document metadata record.
type DocumentMeta struct {
	DocID       int64    `json:"doc_id"`
	DocType     DocType  `json:"doc_type"`
	DocNumber   string   `json:"doc_number"`
	DocTitle    string   `json:"doc_title"`
	EditionYear int      `json:"edition_year,omitempty"`
	Status      Status   `json:"status"`
	ReplacedBy  string   `json:"replaced_by,omitempty"`
	Tags        []string `json:"tags"`
	Checksum    string   `json:"checksum,omitempty"`
	IngestedAt  string   `json:"ingested_at"`
	Lang        string   `json:"lang"`
}

// ChunkMeta extends the document record with chunk-level fields.
type ChunkMeta struct {
	DocumentMeta
	Section   string `json:"section,omitempty"`
	Paragraph string `json:"paragraph,omitempty"`
	Page      int    `json:"page"`
	ChunkID   string `json:"chunk_id"`
	ChunkType string `json:"chunk_type"`
}

// Code returns the canonical document code, e.g. "СП 22.13330".
func (m *DocumentMeta) Code() string {
	prefix := map[DocType]string{
		DocTypeGOST:    "ГОСТ",
		DocTypeSP:      "СП",
		DocTypeSNiP:    "СНиП",
		DocTypeFNP:     "ФНП",
		DocTypeCorpStd: "А",
	}[m.DocType]
	if prefix == "" || m.DocNumber == "" {
		return ""
	}
	return prefix + " " + m.DocNumber
}

// Recognition patterns, ordered; first match wins.
var codePatterns = []struct {
	docType DocType
	re      *regexp.Regexp
}{
	{DocTypeGOST, regexp.MustCompile(`(?i)ГОСТ\s*Р?\s*(\d+(?:\.\d+)*)(?:[-–](\d{2,4}))?`)},
	{DocTypeSP, regexp.MustCompile(`(?i)СП\s*(\d+\.\d+)(?:[-–.](\d{2,4}))?`)},
	{DocTypeSNiP, regexp.MustCompile(`(?i)СНиП\s*(\d+(?:\.\d+)*)(?:[-–](\d{2,4}))?`)},
	{DocTypeFNP, regexp.MustCompile(`(?i)ФНП\s*(\d+(?:\.\d+)*)(?:[-–](\d{2,4}))?`)},
	{DocTypeFNP, regexp.MustCompile(`(?i)ПБ\s*(\d+(?:\.\d+)*)(?:[-–](\d{2,4}))?`)},
	// \b is ASCII-only, so the Cyrillic prefix needs an explicit boundary.
	{DocTypeCorpStd, regexp.MustCompile(`(?i)(?:^|\s)А\s*(\d+\.\d+)`)},
}

// paragraphRe matches hierarchical paragraph references like 5.2.1.
var paragraphRe = regexp.MustCompile(`\d+(\.\d+){1,3}`)

// typeTags maps a document family to its baseline tags.
var typeTags = map[DocType][]string{
	DocTypeGOST:    {"гост", "стандарт"},
	DocTypeSP:      {"сп", "свод правил", "строительство"},
	DocTypeSNiP:    {"снип", "строительство"},
	DocTypeFNP:     {"фнп", "промышленная безопасность"},
	DocTypeCorpStd: {"корпоративный стандарт"},
}

// keywordTags maps filename substrings (lowercase) to topic tags.
var keywordTags = []struct {
	substr string
	tag    string
}{
	{"электр", "electrical"},
	{"пожар", "fire"},
	{"огнест", "fire"},
	{"конструкц", "structural"},
	{"несущ", "structural"},
	{"сталь", "steel"},
	{"стальн", "steel"},
	{"бетон", "concrete"},
	{"железобетон", "concrete"},
	{"фундамент", "foundation"},
	{"основани", "foundation"},
	{"вентиляц", "hvac"},
	{"отоплени", "hvac"},
	{"водоснабж", "plumbing"},
	{"канализац", "plumbing"},
	{"сейсм", "seismic"},
	{"сварк", "welding"},
	{"изоляц", "insulation"},
}

// Extract derives a DocumentMeta from a filename and document id.
func Extract(filename string, documentID int64) DocumentMeta {
	m := DocumentMeta{
		DocID:      documentID,
		DocType:    DocTypeOther,
		Status:     StatusUnknown,
		IngestedAt: time.Now().UTC().Format(time.RFC3339),
		Lang:       "ru",
	}

	base := strings.TrimSuffix(filename, ext(filename))
	m.DocTitle = strings.TrimSpace(base)

	for _, p := range codePatterns {
		match := p.re.FindStringSubmatch(base)
		if match == nil {
			continue
		}
		m.DocType = p.docType
		m.DocNumber = match[1]
		if len(match) > 2 && match[2] != "" {
			m.EditionYear = normalizeYear(match[2])
		}
		break
	}

	m.Status = extractStatus(base)
	m.Tags = extractTags(base, m.DocType)
	return m
}

// DetectCodes finds every document code mentioned in free text, in order
// of appearance, deduplicated. Used to spot queries that name a specific
// document.
func DetectCodes(text string) []string {
	prefix := map[DocType]string{
		DocTypeGOST:    "ГОСТ",
		DocTypeSP:      "СП",
		DocTypeSNiP:    "СНиП",
		DocTypeFNP:     "ФНП",
		DocTypeCorpStd: "А",
	}

	type found struct {
		pos  int
		code string
	}
	var hits []found
	for _, p := range codePatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			number := text[loc[2]:loc[3]]
			hits = append(hits, found{pos: loc[0], code: prefix[p.docType] + " " + number})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]struct{}, len(hits))
	var codes []string
	for _, h := range hits {
		if _, dup := seen[h.code]; dup {
			continue
		}
		seen[h.code] = struct{}{}
		codes = append(codes, h.code)
	}
	return codes
}

// ForChunk composes the per-chunk metadata record from the document record
// and the chunk content.
func ForChunk(doc DocumentMeta, chunkID, chunkType, section string, page int, content string) ChunkMeta {
	cm := ChunkMeta{
		DocumentMeta: doc,
		Section:      section,
		Page:         page,
		ChunkID:      chunkID,
		ChunkType:    chunkType,
	}
	if p := paragraphRe.FindString(content); p != "" {
		cm.Paragraph = p
	}
	return cm
}

// Checksum returns the hex SHA-256 of content. Shared with duplicate
// detection in the store.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// normalizeYear expands 2-digit years: yy <= 30 means 20yy, else 19yy.
func normalizeYear(s string) int {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	if y >= 100 {
		return y
	}
	if y <= 30 {
		return 2000 + y
	}
	return 1900 + y
}

// extractStatus scans for status keywords, case-insensitive.
func extractStatus(name string) Status {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "отменен"):
		return StatusRepealed
	case strings.Contains(lower, "заменен"), strings.Contains(lower, "изм"):
		return StatusReplaced
	case strings.Contains(lower, "действующий"), strings.Contains(lower, "актуальный"):
		return StatusActive
	}
	return StatusUnknown
}

// extractTags unions type-based tags and keyword-based tags.
func extractTags(name string, docType DocType) []string {
	seen := make(map[string]struct{})
	var tags []string
	add := func(t string) {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	for _, t := range typeTags[docType] {
		add(t)
	}
	lower := strings.ToLower(name)
	for _, kt := range keywordTags {
		if strings.Contains(lower, kt.substr) {
			add(kt.tag)
		}
	}
	return tags
}

// ext returns the filename extension including the dot, or "".
func ext(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
}

// Payload flattens the chunk metadata into the opaque map stored in the
// vector-store point payload.
func (cm *ChunkMeta) Payload() map[string]any {
	p := map[string]any{
		"doc_type":     string(cm.DocType),
		"doc_number":   cm.DocNumber,
		"status":       string(cm.Status),
		"tags":         cm.Tags,
		"lang":         cm.Lang,
		"ingested_at":  cm.IngestedAt,
		"edition_year": cm.EditionYear,
	}
	if cm.Checksum != "" {
		p["checksum"] = cm.Checksum
	}
	if cm.Paragraph != "" {
		p["paragraph"] = cm.Paragraph
	}
	return p
}

// String implements fmt.Stringer for log output.
func (m DocumentMeta) String() string {
	return fmt.Sprintf("%s %s (%d, %s)", m.DocType, m.DocNumber, m.EditionYear, m.Status)
}

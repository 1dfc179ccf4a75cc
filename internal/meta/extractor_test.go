package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCodes(t *testing.T) {
	tests := []struct {
		filename string
		docType  DocType
		number   string
		year     int
		code     string
	}{
		{"СП 22.13330.2016 Основания зданий.pdf", DocTypeSP, "22.13330", 2016, "СП 22.13330"},
		{"ГОСТ 27751-2014.pdf", DocTypeGOST, "27751", 2014, "ГОСТ 27751"},
		{"ГОСТ Р 54257-10.docx", DocTypeGOST, "54257", 2010, "ГОСТ 54257"},
		{"СНиП 2.01.07-85 Нагрузки и воздействия.pdf", DocTypeSNiP, "2.01.07", 1985, "СНиП 2.01.07"},
		{"ПБ 558-03.pdf", DocTypeFNP, "558", 2003, "ФНП 558"},
		{"А 5.1 Корпоративный стандарт сварки.docx", DocTypeCorpStd, "5.1", 0, "А 5.1"},
		{"Пояснительная записка.txt", DocTypeOther, "", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := Extract(tt.filename, 7)
			assert.Equal(t, tt.docType, m.DocType)
			assert.Equal(t, tt.number, m.DocNumber)
			assert.Equal(t, tt.year, m.EditionYear)
			assert.Equal(t, tt.code, m.Code())
			assert.Equal(t, int64(7), m.DocID)
		})
	}
}

func TestNormalizeYear(t *testing.T) {
	assert.Equal(t, 2016, normalizeYear("2016"))
	assert.Equal(t, 2010, normalizeYear("10"))
	assert.Equal(t, 2030, normalizeYear("30"))
	assert.Equal(t, 1985, normalizeYear("85"))
	assert.Equal(t, 0, normalizeYear("xx"))
}

func TestExtractStatus(t *testing.T) {
	assert.Equal(t, StatusRepealed, Extract("СП 1.1 (отменен).pdf", 1).Status)
	assert.Equal(t, StatusReplaced, Extract("ГОСТ 100 заменен.pdf", 1).Status)
	assert.Equal(t, StatusActive, Extract("СП 2.2 действующий.pdf", 1).Status)
	assert.Equal(t, StatusUnknown, Extract("СП 3.3.pdf", 1).Status)
}

func TestExtractTags(t *testing.T) {
	m := Extract("СП 76.13330 Электротехнические устройства.pdf", 1)
	assert.Contains(t, m.Tags, "сп")
	assert.Contains(t, m.Tags, "electrical")

	m = Extract("ГОСТ 27772 Прокат стальной для конструкций.pdf", 2)
	assert.Contains(t, m.Tags, "steel")
	assert.Contains(t, m.Tags, "structural")
}

func TestDetectCodes(t *testing.T) {
	codes := DetectCodes("Сравните требования СП 22.13330 и ГОСТ 27751 к основаниям")
	assert.Equal(t, []string{"СП 22.13330", "ГОСТ 27751"}, codes)

	assert.Empty(t, DetectCodes("что такое фундамент"))

	// Duplicate mentions collapse.
	codes = DetectCodes("СП 22.13330, снова СП 22.13330")
	assert.Equal(t, []string{"СП 22.13330"}, codes)
}

func TestForChunkParagraph(t *testing.T) {
	doc := Extract("СП 22.13330.2016.pdf", 3)
	cm := ForChunk(doc, "doc3_chunk_0", "paragraph", "5.2", 14, "Согласно пункту 5.2.1 нагрузка не должна превышать...")
	assert.Equal(t, "5.2.1", cm.Paragraph)
	assert.Equal(t, 14, cm.Page)

	payload := cm.Payload()
	assert.Equal(t, "SP", payload["doc_type"])
	assert.Equal(t, "5.2.1", payload["paragraph"])
}

func TestChecksumStable(t *testing.T) {
	a := Checksum([]byte("содержимое документа"))
	b := Checksum([]byte("содержимое документа"))
	c := Checksum([]byte("другое содержимое"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

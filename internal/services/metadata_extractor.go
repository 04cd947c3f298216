package services

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/jdkato/prose/v2"

	"lumina-iq/internal/models"
)

// MetadataExtractor extracts structural metadata from document chunks:
// chapter/section identifiers, page numbers, heading hierarchy, content types
// and simple text statistics.
type MetadataExtractor struct {
	logger *log.Logger
}

// NewMetadataExtractor creates a new metadata extractor
func NewMetadataExtractor(logger *log.Logger) *MetadataExtractor {
	return &MetadataExtractor{logger: logger}
}

// headingPattern pairs a compiled pattern with whether its second capture
// group carries a title. First match wins across the ordered table.
type headingPattern struct {
	re       *regexp.Regexp
	hasTitle bool
}

var chapterPatterns = []headingPattern{
	{regexp.MustCompile(`(?im)^chapter\s+(\d+)[:\s]+(.+)$`), true},
	{regexp.MustCompile(`(?im)^chapter\s+(\d+)(?:\s|$)`), false},
	{regexp.MustCompile(`(?im)^ch\.\s*(\d+)[:\s]+(.+)$`), true},
	{regexp.MustCompile(`(?im)^unit\s+(\d+)[:\s]+(.+)$`), true},
	{regexp.MustCompile(`(?im)^lesson\s+(\d+)[:\s]+(.+)$`), true},
}

var sectionPatterns = []headingPattern{
	{regexp.MustCompile(`(?im)^section\s+(\d+(?:\.\d+)?)[:\s]+(.+)$`), true},
	{regexp.MustCompile(`(?im)^(\d+\.\d+\.\d+)[:\s]+(.+)$`), true},
	{regexp.MustCompile(`(?im)^(\d+\.\d+)[:\s]+(.+)$`), true},
}

var pagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)page\s+(\d+)`),
	regexp.MustCompile(`(?i)p\.\s*(\d+)`),
	regexp.MustCompile(`\[(\d+)\]`),
}

// contentTypeIndicators maps content types to the phrases that signal them.
// Order matters: the first matching type becomes the primary content type.
var contentTypeIndicators = []struct {
	Type       string
	Indicators []string
}{
	{models.ContentTypeDefinition, []string{
		"is defined as", "is called", "refers to", "is known as",
		"definition:", "def:", "means that", "is a term",
	}},
	{models.ContentTypeExample, []string{
		"for example", "for instance", "e.g.", "such as",
		"example:", "consider", "suppose", "let us",
	}},
	{models.ContentTypeTheorem, []string{
		"theorem", "lemma", "corollary", "proposition",
		"proof:", "we prove", "to prove",
	}},
	{models.ContentTypeFormula, []string{
		"=", "≈", "≠", "≤", "≥", "∑", "∫", "∂",
		"formula:", "equation:", "where:",
	}},
	{models.ContentTypeConcept, []string{
		"important", "key concept", "fundamental", "essential",
		"note that", "remember", "it is important",
	}},
	{models.ContentTypeApplication, []string{
		"application", "used to", "applied in", "practical",
		"in practice", "real world", "use case",
	}},
	{models.ContentTypeSummary, []string{
		"in summary", "to summarize", "in conclusion", "overall",
		"key points", "main ideas", "recap",
	}},
}

var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)\s`)
	listMarkerRe      = regexp.MustCompile(`(?m)^\s*[-•*]\s`)
	codeMarkerRe      = regexp.MustCompile("```|`|def |class |function|import |#include")
	sentenceEndRe     = regexp.MustCompile(`[.!?]+`)
)

// ChapterInfo extracts a chapter number and title from text. Returns nil when
// no pattern matches.
func (e *MetadataExtractor) ChapterInfo(text string) (int, string, bool) {
	for _, p := range chapterPatterns {
		match := p.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		num, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		title := fmt.Sprintf("Chapter %d", num)
		if p.hasTitle && len(match) > 2 {
			title = strings.TrimSpace(match[2])
		}
		return num, title, true
	}
	return 0, "", false
}

// SectionInfo extracts a section number and title from text.
func (e *MetadataExtractor) SectionInfo(text string) (string, string, bool) {
	for _, p := range sectionPatterns {
		match := p.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		num := match[1]
		title := fmt.Sprintf("Section %s", num)
		if p.hasTitle && len(match) > 2 {
			title = strings.TrimSpace(match[2])
		}
		return num, title, true
	}
	return "", "", false
}

// PageNumber extracts a page number from text.
func (e *MetadataExtractor) PageNumber(text string) (int, bool) {
	for _, re := range pagePatterns {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		num, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		return num, true
	}
	return 0, false
}

// ContentTypes returns the content type labels present in text, in indicator
// table order. Falls back to the generic content label when nothing matches.
func (e *MetadataExtractor) ContentTypes(text string) []string {
	textLower := strings.ToLower(text)

	var types []string
	for _, entry := range contentTypeIndicators {
		for _, indicator := range entry.Indicators {
			if strings.Contains(textLower, indicator) {
				types = append(types, entry.Type)
				break
			}
		}
	}

	if len(types) == 0 {
		types = append(types, models.ContentTypeContent)
	}
	return types
}

// HeadingLevel reports whether a line looks like a heading and at what level
// (1-6). Recognizes markdown prefixes, numbered outlines and short all-caps
// lines.
func (e *MetadataExtractor) HeadingLevel(line string) (int, bool) {
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "#") {
		level := 0
		for _, ch := range line {
			if ch != '#' {
				break
			}
			level++
		}
		if level > 6 {
			level = 6
		}
		return level, true
	}

	if match := numberedHeadingRe.FindStringSubmatch(line); match != nil {
		level := strings.Count(match[1], ".") + 1
		if level > 6 {
			level = 6
		}
		return level, true
	}

	if len(line) > 5 && len(line) < 100 && line == strings.ToUpper(line) && line != strings.ToLower(line) {
		return 2, true
	}

	return 0, false
}

// SentenceCount counts the sentences in text using NLP segmentation, falling
// back to punctuation counting when segmentation fails.
func (e *MetadataExtractor) SentenceCount(text string) int {
	doc, err := prose.NewDocument(text, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		return len(sentenceEndRe.FindAllString(text, -1))
	}
	return len(doc.Sentences())
}

// Extract builds the full metadata for one chunk. contextBefore is the text of
// the preceding chunk and is consulted for chapter detection only when the
// chunk itself has no chapter heading.
func (e *MetadataExtractor) Extract(chunkText string, chunkIndex, totalChunks int, documentName, contextBefore string) models.ChunkMetadata {
	metadata := models.ChunkMetadata{
		ChunkIndex:    chunkIndex,
		SequentialID:  chunkIndex,
		TotalChunks:   totalChunks,
		DocumentName:  documentName,
		ChunkPosition: fmt.Sprintf("%d/%d", chunkIndex+1, totalChunks),
		IsFirst:       chunkIndex == 0,
		IsLast:        chunkIndex == totalChunks-1,
	}

	num, title, ok := e.ChapterInfo(chunkText)
	if !ok && contextBefore != "" {
		num, title, ok = e.ChapterInfo(contextBefore)
	}
	if ok {
		metadata.ChapterNumber = &num
		metadata.ChapterTitle = &title
	}

	if secNum, secTitle, found := e.SectionInfo(chunkText); found {
		metadata.SectionNumber = &secNum
		metadata.SectionTitle = &secTitle
	}

	if page, found := e.PageNumber(chunkText); found {
		metadata.PageNumber = &page
	}

	metadata.ContentTypes = e.ContentTypes(chunkText)
	metadata.PrimaryContentType = metadata.ContentTypes[0]

	// Only the first 5 lines are checked for headings: a heading deeper into
	// a chunk belongs to the next chunk's structure, not this one's.
	lines := strings.Split(chunkText, "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	var minLevel int
	for _, line := range lines {
		if level, isHeading := e.HeadingLevel(line); isHeading {
			metadata.HasHeadings = true
			if minLevel == 0 || level < minLevel {
				minLevel = level
			}
		}
	}
	if metadata.HasHeadings {
		metadata.MinHeadingLevel = &minLevel
	}

	metadata.CharCount = len(chunkText)
	metadata.WordCount = len(strings.Fields(chunkText))
	metadata.SentenceCount = e.SentenceCount(chunkText)

	metadata.HasLists = listMarkerRe.MatchString(chunkText)
	metadata.HasCode = codeMarkerRe.MatchString(chunkText)
	metadata.HasQuestions = strings.Contains(chunkText, "?")

	return metadata
}

// Propagate carries chapter and section identifiers forward through chunks
// that lack their own heading. A chunk that declares its own chapter/section
// becomes the new current value; chunks without one inherit it. Single
// left-to-right pass, mutates the metadata in place.
func (e *MetadataExtractor) Propagate(metadataList []*models.ChunkMetadata) {
	var currentChapter *int
	var currentChapterTitle *string
	var currentSection *string
	var currentSectionTitle *string

	for _, metadata := range metadataList {
		if metadata.ChapterNumber != nil {
			currentChapter = metadata.ChapterNumber
			currentChapterTitle = metadata.ChapterTitle
		} else if currentChapter != nil {
			metadata.ChapterNumber = currentChapter
			metadata.ChapterTitle = currentChapterTitle
		}

		if metadata.SectionNumber != nil {
			currentSection = metadata.SectionNumber
			currentSectionTitle = metadata.SectionTitle
		} else if currentSection != nil {
			metadata.SectionNumber = currentSection
			metadata.SectionTitle = currentSectionTitle
		}
	}
}

package models

// Content type labels assigned to chunks during metadata extraction.
// ContentTypeContent is the fallback when no specific indicator matches.
const (
	ContentTypeDefinition  = "definition"
	ContentTypeExample     = "example"
	ContentTypeTheorem     = "theorem"
	ContentTypeFormula     = "formula"
	ContentTypeConcept     = "concept"
	ContentTypeApplication = "application"
	ContentTypeSummary     = "summary"
	ContentTypeContent     = "content"
)

// Retrieval source tags for chunks produced by the advanced retrieval paths.
const (
	SourceHyDE        = "HyDE"
	SourceRegular     = "Regular"
	SourceAdvancedRAG = "Advanced_RAG"
)

// ChunkMetadata holds the structural metadata extracted from a document chunk.
// ChapterNumber/ChapterTitle and SectionNumber/SectionTitle may be filled in
// after extraction by the forward-propagation pass; all other fields are fixed
// at extraction time.
type ChunkMetadata struct {
	ChunkIndex    int    `json:"chunk_index"`
	SequentialID  int    `json:"sequential_id"`
	TotalChunks   int    `json:"total_chunks"`
	DocumentName  string `json:"document_name"`
	ChunkPosition string `json:"chunk_position"`
	IsFirst       bool   `json:"is_first"`
	IsLast        bool   `json:"is_last"`

	ChapterNumber *int    `json:"chapter_number,omitempty"`
	ChapterTitle  *string `json:"chapter_title,omitempty"`
	SectionNumber *string `json:"section_number,omitempty"`
	SectionTitle  *string `json:"section_title,omitempty"`
	PageNumber    *int    `json:"page_number,omitempty"`

	// ContentTypes is ordered by indicator-table order; it is never empty.
	ContentTypes       []string `json:"content_types"`
	PrimaryContentType string   `json:"primary_content_type"`

	HasHeadings     bool `json:"has_headings"`
	MinHeadingLevel *int `json:"min_heading_level,omitempty"`

	CharCount     int `json:"char_count"`
	WordCount     int `json:"word_count"`
	SentenceCount int `json:"sentence_count"`

	HasLists     bool `json:"has_lists"`
	HasCode      bool `json:"has_code"`
	HasQuestions bool `json:"has_questions"`
}

// ToPayload converts the metadata to a flat map suitable for storage as a
// vector store payload. Optional fields are omitted when unset so payload
// filters on them behave as "field absent" rather than "field null".
func (m *ChunkMetadata) ToPayload() map[string]interface{} {
	payload := map[string]interface{}{
		"chunk_index":          m.ChunkIndex,
		"sequential_id":        m.SequentialID,
		"total_chunks":         m.TotalChunks,
		"document_name":        m.DocumentName,
		"chunk_position":       m.ChunkPosition,
		"is_first":             m.IsFirst,
		"is_last":              m.IsLast,
		"content_types":        m.ContentTypes,
		"primary_content_type": m.PrimaryContentType,
		"has_headings":         m.HasHeadings,
		"char_count":           m.CharCount,
		"word_count":           m.WordCount,
		"sentence_count":       m.SentenceCount,
		"has_lists":            m.HasLists,
		"has_code":             m.HasCode,
		"has_questions":        m.HasQuestions,
	}

	if m.ChapterNumber != nil {
		payload["chapter_number"] = *m.ChapterNumber
	}
	if m.ChapterTitle != nil {
		payload["chapter_title"] = *m.ChapterTitle
	}
	if m.SectionNumber != nil {
		payload["section_number"] = *m.SectionNumber
	}
	if m.SectionTitle != nil {
		payload["section_title"] = *m.SectionTitle
	}
	if m.PageNumber != nil {
		payload["page_number"] = *m.PageNumber
	}
	if m.MinHeadingLevel != nil {
		payload["min_heading_level"] = *m.MinHeadingLevel
	}

	return payload
}

// MetadataFromPayload rebuilds ChunkMetadata from a stored payload map.
// Numeric values arrive as float64 after JSON decoding.
func MetadataFromPayload(payload map[string]interface{}) ChunkMetadata {
	m := ChunkMetadata{
		ChunkIndex:         payloadInt(payload, "chunk_index"),
		SequentialID:       payloadInt(payload, "sequential_id"),
		TotalChunks:        payloadInt(payload, "total_chunks"),
		DocumentName:       payloadString(payload, "document_name"),
		ChunkPosition:      payloadString(payload, "chunk_position"),
		IsFirst:            payloadBool(payload, "is_first"),
		IsLast:             payloadBool(payload, "is_last"),
		PrimaryContentType: payloadString(payload, "primary_content_type"),
		HasHeadings:        payloadBool(payload, "has_headings"),
		CharCount:          payloadInt(payload, "char_count"),
		WordCount:          payloadInt(payload, "word_count"),
		SentenceCount:      payloadInt(payload, "sentence_count"),
		HasLists:           payloadBool(payload, "has_lists"),
		HasCode:            payloadBool(payload, "has_code"),
		HasQuestions:       payloadBool(payload, "has_questions"),
	}

	if v, ok := payloadIntOk(payload, "chapter_number"); ok {
		m.ChapterNumber = &v
	}
	if v, ok := payload["chapter_title"].(string); ok {
		m.ChapterTitle = &v
	}
	if v, ok := payload["section_number"].(string); ok {
		m.SectionNumber = &v
	}
	if v, ok := payload["section_title"].(string); ok {
		m.SectionTitle = &v
	}
	if v, ok := payloadIntOk(payload, "page_number"); ok {
		m.PageNumber = &v
	}
	if v, ok := payloadIntOk(payload, "min_heading_level"); ok {
		m.MinHeadingLevel = &v
	}

	switch raw := payload["content_types"].(type) {
	case []interface{}:
		types := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				types = append(types, s)
			}
		}
		m.ContentTypes = types
	case []string:
		m.ContentTypes = raw
	}
	if len(m.ContentTypes) == 0 && m.PrimaryContentType != "" {
		m.ContentTypes = []string{m.PrimaryContentType}
	}

	return m
}

func payloadInt(payload map[string]interface{}, key string) int {
	v, _ := payloadIntOk(payload, key)
	return v
}

func payloadIntOk(payload map[string]interface{}, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadBool(payload map[string]interface{}, key string) bool {
	if v, ok := payload[key].(bool); ok {
		return v
	}
	return false
}

// RetrievedChunk is a chunk returned from a retrieval strategy, carrying its
// similarity score and any scores added by reranking. Constructed fresh per
// query and never persisted.
type RetrievedChunk struct {
	Text           string        `json:"text"`
	Score          float32       `json:"score"`
	ChunkIndex     int           `json:"chunk_index"`
	Metadata       ChunkMetadata `json:"metadata"`
	CompositeScore *float64      `json:"composite_score,omitempty"`
	DensityScore   *float64      `json:"density_score,omitempty"`
	Source         string        `json:"source,omitempty"`

	// Set by consistency retrieval: the fraction of retrieval samples this
	// chunk appeared in, and the raw appearance count.
	ConsistencyScore *float64 `json:"consistency_score,omitempty"`
	Appearances      int      `json:"appearances,omitempty"`
}

// SequentialID returns the chunk's position in document order, falling back to
// the stored chunk index when the rich metadata is missing.
func (c *RetrievedChunk) SequentialID() int {
	if c.Metadata.DocumentName != "" || c.Metadata.TotalChunks > 0 {
		return c.Metadata.SequentialID
	}
	return c.ChunkIndex
}

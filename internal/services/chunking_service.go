package services

import (
	"log"
	"regexp"
	"strings"

	"lumina-iq/internal/models"
)

// ChunkingService splits document text into chunks for retrieval, optionally
// attaching rich structural metadata.
type ChunkingService struct {
	extractor *MetadataExtractor
	logger    *log.Logger
}

// NewChunkingService creates a new chunking service
func NewChunkingService(extractor *MetadataExtractor, logger *log.Logger) *ChunkingService {
	return &ChunkingService{
		extractor: extractor,
		logger:    logger,
	}
}

// DocumentChunk is a chunk of document text with its extracted metadata.
type DocumentChunk struct {
	Text     string
	Metadata models.ChunkMetadata
}

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

// ChunkText splits text into overlapping chunks, preferring paragraph and
// sentence boundaries over hard cuts. Purely functional over its input.
func (s *ChunkingService) ChunkText(text string, chunkSize, chunkOverlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Printf("Warning: empty text provided for chunking")
		return nil
	}

	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + chunkSize

		// Not at the end of the text: prefer a natural break inside the window.
		if end < len(text) {
			if pos := strings.LastIndex(text[start:end], "\n\n"); pos > 0 {
				end = start + pos + 2
			} else {
				bestBreak := -1
				for _, breakChar := range []string{".", "!", "?", "\n"} {
					if pos := strings.LastIndex(text[start:end], breakChar); pos > bestBreak && pos > 0 {
						bestBreak = pos
					}
				}
				if bestBreak != -1 {
					end = start + bestBreak + 1
				}
			}
		}

		sliceEnd := end
		if sliceEnd > len(text) {
			sliceEnd = len(text)
		}
		if chunk := strings.TrimSpace(text[start:sliceEnd]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Move start with overlap. When a break sits so early in the window
		// that the overlap step would not advance (or the overlap is not
		// smaller than the emitted chunk), fall through to the chunk end so
		// every iteration makes progress. The advance uses the unclamped
		// window end so a final partial window steps past the text instead
		// of re-emitting its own tail.
		newStart := end - chunkOverlap
		if newStart <= start || newStart >= end {
			newStart = end
		}
		start = newStart
	}

	avgSize := 0
	if len(chunks) > 0 {
		avgSize = len(text) / len(chunks)
	}
	s.logger.Printf("Split text into %d chunks (total %d chars, avg %d)", len(chunks), len(text), avgSize)

	return chunks
}

// ChunkByParagraphs splits text on paragraph boundaries, combining small
// paragraphs until maxChunkSize is reached.
func (s *ChunkingService) ChunkByParagraphs(text string, maxChunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := paragraphSplitRe.Split(text, -1)

	var chunks []string
	var current strings.Builder

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > maxChunkSize {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			current.WriteString(para)
		} else {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
		}
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	s.logger.Printf("Split text into %d paragraph-based chunks", len(chunks))

	return chunks
}

// ChunkWithMetadata chunks text and extracts structural metadata per chunk,
// using the preceding chunk as context for chapter detection, then propagates
// chapter/section identifiers forward through chunks without their own heading.
func (s *ChunkingService) ChunkWithMetadata(text, documentName string, chunkSize, chunkOverlap int) []DocumentChunk {
	chunks := s.ChunkText(text, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	result := make([]DocumentChunk, 0, len(chunks))
	metadataList := make([]*models.ChunkMetadata, 0, len(chunks))
	contextBefore := ""

	for i, chunkText := range chunks {
		ctx := ""
		if i > 0 {
			ctx = contextBefore
		}
		metadata := s.extractor.Extract(chunkText, i, len(chunks), documentName, ctx)
		metadataList = append(metadataList, &metadata)
		result = append(result, DocumentChunk{Text: chunkText})
		contextBefore = chunkText
	}

	s.extractor.Propagate(metadataList)

	chapters := make(map[int]struct{})
	sections := make(map[string]struct{})
	for i := range result {
		result[i].Metadata = *metadataList[i]
		if metadataList[i].ChapterNumber != nil {
			chapters[*metadataList[i].ChapterNumber] = struct{}{}
		}
		if metadataList[i].SectionNumber != nil {
			sections[*metadataList[i].SectionNumber] = struct{}{}
		}
	}

	s.logger.Printf("Created %d chunks with metadata: %d chapters, %d sections found",
		len(result), len(chapters), len(sections))

	return result
}

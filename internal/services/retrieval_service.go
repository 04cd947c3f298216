package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"lumina-iq/internal/embeddings"
	"lumina-iq/internal/models"
	"lumina-iq/internal/repositories"
)

// Confidence thresholds for applying metadata filters. Each strategy trades
// off differently between mis-scoping and false negatives.
const (
	chatChapterConfidence         = 0.90
	evaluationChapterConfidence   = 0.80
	evaluationSectionConfidence   = 0.85
	qaGenerationChapterConfidence = 0.70
	qaGenerationSectionConfidence = 0.80
	notesChapterConfidence        = 0.70
	notesSectionConfidence        = 0.80

	evaluationScoreThreshold      = 0.75
	evaluationRetryScoreThreshold = 0.70

	expansionWindow = 2

	// notesFilterLimit bounds the exhaustive filter-only lookup; the notes
	// strategy must cover the full chapter/section, not just the top hits.
	notesFilterLimit = 500
)

// RetrievalService routes queries to one of four retrieval strategies based on
// the classified use case, each with its own filtering, ordering and expansion
// policy.
type RetrievalService struct {
	vectorRepo        repositories.VectorRepository
	embedder          embeddings.Embedder
	classifier        *QueryClassifier
	metadataExtractor *QueryMetadataExtractor
	reranker          *Reranker
	logger            *log.Logger

	strategies map[models.UseCase]strategyFunc
}

type strategyFunc func(ctx context.Context, req *RetrieveRequest, queryMetadata models.QueryMetadata, requirements models.RetrievalRequirements) *models.RetrievalResult

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(
	vectorRepo repositories.VectorRepository,
	embedder embeddings.Embedder,
	classifier *QueryClassifier,
	metadataExtractor *QueryMetadataExtractor,
	reranker *Reranker,
	logger *log.Logger,
) *RetrievalService {
	s := &RetrievalService{
		vectorRepo:        vectorRepo,
		embedder:          embedder,
		classifier:        classifier,
		metadataExtractor: metadataExtractor,
		reranker:          reranker,
		logger:            logger,
	}
	s.strategies = map[models.UseCase]strategyFunc{
		models.UseCaseChat:         s.chatStrategy,
		models.UseCaseEvaluation:   s.evaluationStrategy,
		models.UseCaseQAGeneration: s.qaGenerationStrategy,
		models.UseCaseNotes:        s.notesStrategy,
	}
	return s
}

// RetrieveRequest is a retrieval call. UseCase is optional; when empty the
// query is classified automatically. TopK defaults to 5.
type RetrieveRequest struct {
	Query    string
	Token    string
	Filename string
	UseCase  string
	TopK     int
}

func (req *RetrieveRequest) scope() repositories.Scope {
	return repositories.Scope{Token: req.Token, Filename: req.Filename}
}

// Retrieve is the main entry point: classifies the query if needed, extracts
// query metadata, derives requirements and dispatches to the matching
// strategy. Always returns a fully populated result, never an error for
// expected conditions.
func (s *RetrievalService) Retrieve(ctx context.Context, req *RetrieveRequest) *models.RetrievalResult {
	if req.TopK <= 0 {
		req.TopK = 5
	}

	useCase, known := models.ParseUseCase(req.UseCase)
	if !known {
		classification := s.classifier.Classify(req.Query)
		useCase = classification.UseCase
		s.logger.Printf("Auto-detected use case: %s (confidence %.2f)", useCase, classification.Confidence)
	}

	queryMetadata := s.metadataExtractor.ExtractAll(req.Query)
	requirements := s.classifier.ExtractContextRequirements(req.Query, useCase)

	strategy, ok := s.strategies[useCase]
	if !ok {
		strategy = s.chatStrategy
		useCase = models.UseCaseChat
	}

	result := strategy(ctx, req, queryMetadata, requirements)
	result.UseCase = useCase
	result.QueryMetadata = &queryMetadata
	result.Requirements = &requirements

	return result
}

// chatStrategy: semantic search over 3x candidates with reranking. Allows
// cross-chapter results; the chapter filter only applies at high confidence
// and is dropped on an empty result.
func (s *RetrievalService) chatStrategy(ctx context.Context, req *RetrieveRequest, queryMetadata models.QueryMetadata, requirements models.RetrievalRequirements) *models.RetrievalResult {
	s.logger.Printf("Using CHAT retrieval strategy (top_k=%d)", req.TopK)

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return strategyError("chat", fmt.Sprintf("CHAT strategy failed: %v", err))
	}

	var filters []repositories.MetadataFilter
	if queryMetadata.Chapter.Confidence > chatChapterConfidence {
		filters = append(filters, repositories.MetadataFilter{Key: "chapter_number", Value: *queryMetadata.Chapter.Value})
	}

	initialLimit := req.TopK * 3
	results, err := s.vectorRepo.Search(ctx, repositories.SearchQuery{
		Vector:  queryEmbedding,
		Scope:   req.scope(),
		Filters: filters,
		TopK:    initialLimit,
	})
	if err != nil {
		return strategyError("chat", fmt.Sprintf("CHAT strategy failed: %v", err))
	}

	if len(results) == 0 && len(filters) > 0 {
		s.logger.Printf("No results with filters, retrying without")
		results, err = s.vectorRepo.Search(ctx, repositories.SearchQuery{
			Vector: queryEmbedding,
			Scope:  req.scope(),
			TopK:   initialLimit,
		})
		if err != nil {
			return strategyError("chat", fmt.Sprintf("CHAT strategy failed: %v", err))
		}
	}

	reranked := s.reranker.Rerank(chunksFromResults(results), req.TopK)
	context := buildContext(reranked, contextStyleConversational)

	s.logger.Printf("CHAT strategy retrieved %d chunks", len(reranked))

	return &models.RetrievalResult{
		Status:    models.StatusSuccess,
		Chunks:    reranked,
		Context:   context,
		NumChunks: len(reranked),
		Strategy:  "chat",
		Message:   fmt.Sprintf("Retrieved %d chunks using CHAT strategy", len(reranked)),
	}
}

// evaluationStrategy: precise search at a high similarity threshold, with one
// relaxed retry, then each hit is expanded with its sequential neighbors so
// answer checking sees complete surrounding context.
func (s *RetrievalService) evaluationStrategy(ctx context.Context, req *RetrieveRequest, queryMetadata models.QueryMetadata, requirements models.RetrievalRequirements) *models.RetrievalResult {
	s.logger.Printf("Using EVALUATION retrieval strategy (top_k=%d)", req.TopK)

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return strategyError("evaluation", fmt.Sprintf("EVALUATION strategy failed: %v", err))
	}

	var filters []repositories.MetadataFilter
	if queryMetadata.Chapter.Confidence > evaluationChapterConfidence {
		filters = append(filters, repositories.MetadataFilter{Key: "chapter_number", Value: *queryMetadata.Chapter.Value})
	}
	if queryMetadata.Section.Confidence > evaluationSectionConfidence {
		filters = append(filters, repositories.MetadataFilter{Key: "section_number", Value: *queryMetadata.Section.Value})
	}

	threshold := float32(evaluationScoreThreshold)
	results, err := s.vectorRepo.Search(ctx, repositories.SearchQuery{
		Vector:         queryEmbedding,
		Scope:          req.scope(),
		Filters:        filters,
		TopK:           req.TopK,
		ScoreThreshold: &threshold,
	})
	if err != nil {
		return strategyError("evaluation", fmt.Sprintf("EVALUATION strategy failed: %v", err))
	}

	if len(results) == 0 && len(filters) > 0 {
		s.logger.Printf("No results with filters, retrying without")
		retryThreshold := float32(evaluationRetryScoreThreshold)
		results, err = s.vectorRepo.Search(ctx, repositories.SearchQuery{
			Vector:         queryEmbedding,
			Scope:          req.scope(),
			TopK:           req.TopK,
			ScoreThreshold: &retryThreshold,
		})
		if err != nil {
			return strategyError("evaluation", fmt.Sprintf("EVALUATION strategy failed: %v", err))
		}
	}

	core := chunksFromResults(results)
	expanded, err := s.expandContext(ctx, req.scope(), core, expansionWindow)
	if err != nil {
		// Expansion failure degrades to the core hits rather than failing.
		s.logger.Printf("Warning: context expansion failed: %v", err)
		expanded = core
	}

	context := buildContext(expanded, contextStyleDetailed)

	s.logger.Printf("EVALUATION strategy retrieved %d chunks (with expansion)", len(expanded))

	return &models.RetrievalResult{
		Status:        models.StatusSuccess,
		Chunks:        expanded,
		Context:       context,
		NumChunks:     len(expanded),
		NumCoreChunks: len(core),
		Strategy:      "evaluation",
		Message:       fmt.Sprintf("Retrieved %d core chunks with %d expanded chunks", len(core), len(expanded)-len(core)),
	}
}

// qaGenerationStrategy: strict chapter scoping with no silent fallback, since
// mixing chapters would break the one-chapter quiz contract. Results extend
// into a contiguous sequential window so question generation sees the text in
// document order.
func (s *RetrievalService) qaGenerationStrategy(ctx context.Context, req *RetrieveRequest, queryMetadata models.QueryMetadata, requirements models.RetrievalRequirements) *models.RetrievalResult {
	chunksNeeded := requirements.NumChunks
	s.logger.Printf("Using QA_GENERATION retrieval strategy (chunks_needed=%d)", chunksNeeded)

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return strategyError("qa_generation", fmt.Sprintf("QA_GENERATION strategy failed: %v", err))
	}

	var filters []repositories.MetadataFilter
	var filteredByChapter *int
	if queryMetadata.Chapter.Confidence > qaGenerationChapterConfidence {
		filters = append(filters, repositories.MetadataFilter{Key: "chapter_number", Value: *queryMetadata.Chapter.Value})
		filteredByChapter = queryMetadata.Chapter.Value
		s.logger.Printf("Filtering to chapter %d", *queryMetadata.Chapter.Value)
	}
	if queryMetadata.Section.Confidence > qaGenerationSectionConfidence {
		filters = append(filters, repositories.MetadataFilter{Key: "section_number", Value: *queryMetadata.Section.Value})
	}

	results, err := s.vectorRepo.Search(ctx, repositories.SearchQuery{
		Vector:  queryEmbedding,
		Scope:   req.scope(),
		Filters: filters,
		TopK:    chunksNeeded,
	})
	if err != nil {
		return strategyError("qa_generation", fmt.Sprintf("QA_GENERATION strategy failed: %v", err))
	}

	if len(results) == 0 {
		s.logger.Printf("Warning: no results found for Q&A generation")
		return strategyError("qa_generation", "No content found matching the criteria. Please check chapter/topic specification.")
	}

	chunks := chunksFromResults(results)
	sortChunksBySequentialID(chunks)

	sequential, err := s.fillSequentialWindow(ctx, req.scope(), chunks, chunksNeeded)
	if err != nil {
		s.logger.Printf("Warning: sequential fill failed: %v", err)
		sequential = chunks
	}
	if len(sequential) > chunksNeeded {
		sequential = sequential[:chunksNeeded]
	}

	context := buildContext(sequential, contextStyleStructured)

	s.logger.Printf("QA_GENERATION strategy retrieved %d sequential chunks", len(sequential))

	return &models.RetrievalResult{
		Status:            models.StatusSuccess,
		Chunks:            sequential,
		Context:           context,
		NumChunks:         len(sequential),
		Strategy:          "qa_generation",
		FilteredByChapter: filteredByChapter,
		Message:           fmt.Sprintf("Retrieved %d sequential chunks for Q&A generation", len(sequential)),
	}
}

// notesStrategy: exhaustive coverage of a chapter or section. When a filter is
// available all matching chunks are fetched without similarity scoring, since
// notes must cover the whole section, not just the most-similar parts.
// Reranking is skipped: document order matters more than relevance rank.
func (s *RetrievalService) notesStrategy(ctx context.Context, req *RetrieveRequest, queryMetadata models.QueryMetadata, requirements models.RetrievalRequirements) *models.RetrievalResult {
	s.logger.Printf("Using NOTES retrieval strategy")

	var filters []repositories.MetadataFilter
	if queryMetadata.Chapter.Confidence > notesChapterConfidence {
		filters = append(filters, repositories.MetadataFilter{Key: "chapter_number", Value: *queryMetadata.Chapter.Value})
		s.logger.Printf("Generating notes for chapter %d", *queryMetadata.Chapter.Value)
	} else if queryMetadata.Section.Confidence > notesSectionConfidence {
		filters = append(filters, repositories.MetadataFilter{Key: "section_number", Value: *queryMetadata.Section.Value})
	}

	var results []*repositories.SearchResult
	var err error

	if len(filters) == 0 {
		// No chapter/section to scope to: fall back to plain semantic search.
		var queryEmbedding []float32
		queryEmbedding, err = s.embedder.EmbedQuery(ctx, req.Query)
		if err != nil {
			return strategyError("notes", fmt.Sprintf("NOTES strategy failed: %v", err))
		}
		results, err = s.vectorRepo.Search(ctx, repositories.SearchQuery{
			Vector: queryEmbedding,
			Scope:  req.scope(),
			TopK:   requirements.NumChunks,
		})
	} else {
		results, err = s.vectorRepo.GetByFilter(ctx, req.scope(), filters, notesFilterLimit)
	}
	if err != nil {
		return strategyError("notes", fmt.Sprintf("NOTES strategy failed: %v", err))
	}

	if len(results) == 0 {
		s.logger.Printf("Warning: no chunks found for notes generation")
		return strategyError("notes", "No content found for notes generation")
	}

	chunks := chunksFromResults(results)
	sortChunksBySequentialID(chunks)

	sections, grouped := groupBySections(chunks)
	context := buildHierarchicalContext(sections, grouped)

	s.logger.Printf("NOTES strategy retrieved %d chunks in %d sections", len(chunks), len(sections))

	return &models.RetrievalResult{
		Status:      models.StatusSuccess,
		Chunks:      chunks,
		Context:     context,
		NumChunks:   len(chunks),
		NumSections: len(sections),
		Strategy:    "notes",
		Message:     fmt.Sprintf("Retrieved %d chunks across %d sections for notes", len(chunks), len(sections)),
	}
}

// expandContext fetches the sequential neighbors of each chunk within the
// window and merges them in, deduplicated by sequential id. Core chunks keep
// their scores; neighbors follow in document order.
func (s *RetrievalService) expandContext(ctx context.Context, scope repositories.Scope, chunks []*models.RetrievedChunk, window int) ([]*models.RetrievedChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	seen := make(map[int]struct{}, len(chunks))
	for _, chunk := range chunks {
		seen[chunk.SequentialID()] = struct{}{}
	}

	expanded := append([]*models.RetrievedChunk{}, chunks...)
	var neighbors []*models.RetrievedChunk

	for _, chunk := range chunks {
		seqID := chunk.SequentialID()
		minID := seqID - window
		if minID < 0 {
			minID = 0
		}
		results, err := s.vectorRepo.GetBySequentialRange(ctx, scope, minID, seqID+window)
		if err != nil {
			return nil, err
		}
		for _, result := range results {
			id := result.Metadata.SequentialID
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			neighbors = append(neighbors, chunkFromResult(result))
		}
	}

	sortChunksBySequentialID(neighbors)
	return append(expanded, neighbors...), nil
}

// fillSequentialWindow extends sorted chunks into a contiguous run of
// targetCount chunks starting at the first hit's position.
func (s *RetrievalService) fillSequentialWindow(ctx context.Context, scope repositories.Scope, chunks []*models.RetrievedChunk, targetCount int) ([]*models.RetrievedChunk, error) {
	if len(chunks) >= targetCount || len(chunks) == 0 {
		return chunks, nil
	}

	minID := chunks[0].SequentialID()
	maxID := minID + targetCount - 1

	results, err := s.vectorRepo.GetBySequentialRange(ctx, scope, minID, maxID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(chunks))
	for _, chunk := range chunks {
		seen[chunk.SequentialID()] = struct{}{}
	}

	merged := append([]*models.RetrievedChunk{}, chunks...)
	for _, result := range results {
		id := result.Metadata.SequentialID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, chunkFromResult(result))
	}

	sortChunksBySequentialID(merged)
	return merged, nil
}

// Context rendering styles.
const (
	contextStyleConversational = "conversational"
	contextStyleDetailed       = "detailed"
	contextStyleStructured     = "structured"
)

func buildContext(chunks []*models.RetrievedChunk, style string) string {
	if len(chunks) == 0 {
		return ""
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		switch style {
		case contextStyleDetailed:
			chapter := "N/A"
			if chunk.Metadata.ChapterNumber != nil {
				chapter = fmt.Sprintf("%d", *chunk.Metadata.ChapterNumber)
			}
			section := "N/A"
			if chunk.Metadata.SectionNumber != nil {
				section = *chunk.Metadata.SectionNumber
			}
			parts = append(parts, fmt.Sprintf("[Chunk %d | Chapter %s | Section %s | Score: %.2f]\n%s",
				i+1, chapter, section, chunk.Score, chunk.Text))
		case contextStyleStructured:
			parts = append(parts, fmt.Sprintf("[Chunk %d]\n%s", chunk.SequentialID(), chunk.Text))
		default:
			parts = append(parts, fmt.Sprintf("[Chunk %d, Relevance: %.2f]\n%s", i+1, chunk.Score, chunk.Text))
		}
	}

	return strings.Join(parts, "\n\n")
}

// groupBySections groups chunks by section number, preserving the order in
// which sections first appear. Chunks without a section fall under "General".
func groupBySections(chunks []*models.RetrievedChunk) ([]string, map[string][]*models.RetrievedChunk) {
	var sections []string
	grouped := make(map[string][]*models.RetrievedChunk)

	for _, chunk := range chunks {
		section := "General"
		if chunk.Metadata.SectionNumber != nil {
			section = *chunk.Metadata.SectionNumber
		}
		if _, ok := grouped[section]; !ok {
			sections = append(sections, section)
		}
		grouped[section] = append(grouped[section], chunk)
	}

	return sections, grouped
}

func buildHierarchicalContext(sections []string, grouped map[string][]*models.RetrievedChunk) string {
	banner := strings.Repeat("=", 60)
	var parts []string

	for _, section := range sections {
		parts = append(parts, fmt.Sprintf("\n%s\n%s\n%s", banner, section, banner))
		for _, chunk := range grouped[section] {
			parts = append(parts, chunk.Text)
		}
	}

	return strings.Join(parts, "\n\n")
}

func strategyError(strategy, message string) *models.RetrievalResult {
	return &models.RetrievalResult{
		Status:    models.StatusError,
		Chunks:    []*models.RetrievedChunk{},
		Context:   "",
		NumChunks: 0,
		Strategy:  strategy,
		Message:   message,
	}
}

func chunkFromResult(result *repositories.SearchResult) *models.RetrievedChunk {
	return &models.RetrievedChunk{
		Text:       result.Text,
		Score:      result.Score,
		ChunkIndex: result.ChunkIndex,
		Metadata:   result.Metadata,
	}
}

func chunksFromResults(results []*repositories.SearchResult) []*models.RetrievedChunk {
	chunks := make([]*models.RetrievedChunk, 0, len(results))
	for _, result := range results {
		chunks = append(chunks, chunkFromResult(result))
	}
	return chunks
}

func sortChunksBySequentialID(chunks []*models.RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].SequentialID() < chunks[j].SequentialID()
	})
}

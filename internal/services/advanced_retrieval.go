package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"lumina-iq/internal/embeddings"
	"lumina-iq/internal/models"
	"lumina-iq/internal/repositories"
)

const (
	// dedupPrefixLen is the text prefix length used to deduplicate chunks
	// across query variants.
	dedupPrefixLen = 100

	// variantRetryBackoff is the single retry delay applied to a failed
	// fan-out variant before it is skipped.
	variantRetryBackoff = 500 * time.Millisecond
)

// AdvancedRetrievalService implements the multi-query and HyDE retrieval
// paths: several independent searches fanned out in parallel, merged by text
// prefix deduplication, then reranked.
type AdvancedRetrievalService struct {
	vectorRepo    repositories.VectorRepository
	embedder      embeddings.Embedder
	reranker      *Reranker
	logger        *log.Logger
	maxConcurrent int
}

// NewAdvancedRetrievalService creates a new advanced retrieval service.
// maxConcurrent bounds the parallel fan-out of query variants.
func NewAdvancedRetrievalService(
	vectorRepo repositories.VectorRepository,
	embedder embeddings.Embedder,
	reranker *Reranker,
	maxConcurrent int,
	logger *log.Logger,
) *AdvancedRetrievalService {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &AdvancedRetrievalService{
		vectorRepo:    vectorRepo,
		embedder:      embedder,
		reranker:      reranker,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// queryVariants derives paraphrase templates from a base query. No LLM call:
// the templates shift the phrasing enough to hit different regions of the
// embedding space.
func queryVariants(baseQuery string, count int) []string {
	variants := []string{
		baseQuery,
		fmt.Sprintf("Explain the key concepts related to: %s", baseQuery),
		fmt.Sprintf("What are the main points about: %s", baseQuery),
		fmt.Sprintf("Describe the important aspects of: %s", baseQuery),
		fmt.Sprintf("What information is provided about: %s", baseQuery),
	}
	if count < len(variants) {
		variants = variants[:count]
	}
	return variants
}

// MultiQueryRetrieve searches with several paraphrased variants of the base
// query in parallel and merges the results, deduplicated by text prefix. A
// failed variant is retried once with backoff, then logged and skipped; the
// batch never aborts as long as one variant succeeds.
func (s *AdvancedRetrievalService) MultiQueryRetrieve(ctx context.Context, baseQuery, token, filename string, queriesToGenerate, chunksPerQuery int) []*models.RetrievedChunk {
	if queriesToGenerate <= 0 {
		queriesToGenerate = 5
	}
	if chunksPerQuery <= 0 {
		chunksPerQuery = 5
	}

	s.logger.Printf("Starting multi-query retrieval (%d variants)", queriesToGenerate)

	variants := queryVariants(baseQuery, queriesToGenerate)
	scope := repositories.Scope{Token: token, Filename: filename}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxConcurrent)
	variantResults := make([][]*repositories.SearchResult, len(variants))

	for i, variant := range variants {
		wg.Add(1)
		go func(i int, variant string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results, err := s.searchVariant(ctx, variant, scope, chunksPerQuery)
			if err != nil {
				s.logger.Printf("Warning: query variant failed: %q: %v", truncate(variant, 30), err)
				return
			}
			mu.Lock()
			variantResults[i] = results
			mu.Unlock()
		}(i, variant)
	}
	wg.Wait()

	// Merge in variant order so deduplication is deterministic regardless of
	// completion order.
	seen := make(map[string]struct{})
	var merged []*models.RetrievedChunk
	for _, results := range variantResults {
		for _, result := range results {
			key := dedupKey(result.Text)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, chunkFromResult(result))
		}
	}

	s.logger.Printf("Multi-query retrieval found %d unique chunks", len(merged))
	return merged
}

// searchVariant embeds and searches one variant, retrying once with backoff.
func (s *AdvancedRetrievalService) searchVariant(ctx context.Context, query string, scope repositories.Scope, limit int) ([]*repositories.SearchResult, error) {
	results, err := s.embedAndSearch(ctx, query, scope, limit)
	if err == nil {
		return results, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(variantRetryBackoff):
	}

	return s.embedAndSearch(ctx, query, scope, limit)
}

func (s *AdvancedRetrievalService) embedAndSearch(ctx context.Context, query string, scope repositories.Scope, limit int) ([]*repositories.SearchResult, error) {
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.vectorRepo.Search(ctx, repositories.SearchQuery{
		Vector: embedding,
		Scope:  scope,
		TopK:   limit,
	})
}

// hypotheticalPassage synthesizes a templated passage resembling an ideal
// answer, closing the semantic gap between question and answer embeddings.
func hypotheticalPassage(query string) string {
	return fmt.Sprintf(
		"This section explains %s. It provides detailed information about "+
			"the key concepts, definitions, examples, and practical applications of %s. "+
			"The text includes specific facts, figures, and explanations that help understand "+
			"%s thoroughly. It describes the main points, important details, and "+
			"critical aspects related to %s.",
		query, query, query, query)
}

// HyDERetrieve searches with the embedding of a hypothetical answer passage,
// merges in a smaller regular-query search for diversity, and falls back to a
// plain regular search if the HyDE path fails entirely.
func (s *AdvancedRetrievalService) HyDERetrieve(ctx context.Context, query, token, filename string, topK int) *models.RetrievalResult {
	if topK <= 0 {
		topK = 10
	}

	s.logger.Printf("Starting HyDE retrieval: %q", truncate(query, 50))
	scope := repositories.Scope{Token: token, Filename: filename}

	hydeResults, hydeErr := s.embedAndSearch(ctx, hypotheticalPassage(query), scope, topK)
	if hydeErr == nil {
		s.logger.Printf("HyDE retrieval found %d chunks", len(hydeResults))

		// A failed regular search only loses the diversity fill.
		regularLimit := topK / 2
		if regularLimit < 1 {
			regularLimit = 1
		}
		regularResults, err := s.embedAndSearch(ctx, query, scope, regularLimit)
		if err != nil {
			s.logger.Printf("Warning: regular search for HyDE merge failed: %v", err)
		}

		seen := make(map[string]struct{})
		var combined []*models.RetrievedChunk
		for _, result := range hydeResults {
			key := dedupKey(result.Text)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			chunk := chunkFromResult(result)
			chunk.Source = models.SourceHyDE
			combined = append(combined, chunk)
		}
		for _, result := range regularResults {
			key := dedupKey(result.Text)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			chunk := chunkFromResult(result)
			chunk.Source = models.SourceRegular
			combined = append(combined, chunk)
		}

		if len(combined) > topK {
			combined = combined[:topK]
		}

		s.logger.Printf("HyDE combined retrieval: %d unique chunks", len(combined))

		return &models.RetrievalResult{
			Status:    models.StatusSuccess,
			Chunks:    combined,
			Context:   buildContext(combined, contextStyleConversational),
			NumChunks: len(combined),
			Strategy:  "hyde",
			Message:   fmt.Sprintf("Retrieved %d chunks using HyDE", len(combined)),
		}
	}

	s.logger.Printf("HyDE retrieval failed, falling back to regular search: %v", hydeErr)

	fallbackResults, err := s.embedAndSearch(ctx, query, scope, topK)
	if err != nil {
		return &models.RetrievalResult{
			Status:    models.StatusError,
			Chunks:    []*models.RetrievedChunk{},
			Context:   "",
			NumChunks: 0,
			Strategy:  "hyde",
			Message:   fmt.Sprintf("Both HyDE and fallback failed: %v", err),
		}
	}

	chunks := chunksFromResults(fallbackResults)
	for _, chunk := range chunks {
		chunk.Source = models.SourceRegular
	}

	return &models.RetrievalResult{
		Status:    models.StatusFallback,
		Chunks:    chunks,
		Context:   buildContext(chunks, contextStyleConversational),
		NumChunks: len(chunks),
		Strategy:  "hyde",
		Message:   fmt.Sprintf("Using fallback retrieval: %v", hydeErr),
	}
}

// DecomposeTopic breaks a topic into subtopic queries for more focused and
// diverse retrieval. Rule based, no LLM call.
func (s *AdvancedRetrievalService) DecomposeTopic(topic string) []string {
	subtopics := []string{
		topic,
		fmt.Sprintf("definition and meaning of %s", topic),
		fmt.Sprintf("examples and applications of %s", topic),
		fmt.Sprintf("key concepts in %s", topic),
		fmt.Sprintf("important aspects of %s", topic),
	}

	topicLower := strings.ToLower(topic)
	if containsAny(topicLower, "process", "method", "approach") {
		subtopics = append(subtopics, fmt.Sprintf("steps and procedures in %s", topic))
	}
	if containsAny(topicLower, "theory", "principle", "law") {
		subtopics = append(subtopics, fmt.Sprintf("principles and theories of %s", topic))
	}
	if containsAny(topicLower, "history", "evolution", "development") {
		subtopics = append(subtopics, fmt.Sprintf("historical development of %s", topic))
	}

	return subtopics
}

// RetrieveForQuestions combines decomposition, multi-query retrieval and
// density reranking to gather content for question generation. Focused mode
// decomposes the topic first; comprehensive mode uses the query as-is.
func (s *AdvancedRetrievalService) RetrieveForQuestions(ctx context.Context, query, token, filename string, numQuestions int, focused bool) *models.RetrievalResult {
	if numQuestions <= 0 {
		numQuestions = 25
	}

	s.logger.Printf("Starting advanced retrieval for question generation (%d questions)", numQuestions)

	var queries []string
	switch {
	case focused && query != "":
		queries = s.DecomposeTopic(query)
	case query != "":
		queries = []string{query}
	default:
		queries = []string{"comprehensive content"}
	}
	// Cap the subtopic fan-out to keep provider usage bounded.
	if len(queries) > 3 {
		queries = queries[:3]
	}

	chunksNeeded := numQuestions
	if chunksNeeded < 20 {
		chunksNeeded = 20
	}

	seen := make(map[string]struct{})
	var allChunks []*models.RetrievedChunk
	for _, subQuery := range queries {
		chunks := s.MultiQueryRetrieve(ctx, subQuery, token, filename, 3, 5)
		for _, chunk := range chunks {
			key := dedupKey(chunk.Text)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			allChunks = append(allChunks, chunk)
		}
	}

	if len(allChunks) == 0 {
		s.logger.Printf("Warning: no chunks retrieved, falling back to basic retrieval")
		fallbackQuery := query
		if fallbackQuery == "" {
			fallbackQuery = "generate questions"
		}
		results, err := s.embedAndSearch(ctx, fallbackQuery, repositories.Scope{Token: token, Filename: filename}, 15)
		if err != nil || len(results) == 0 {
			return &models.RetrievalResult{
				Status:    models.StatusError,
				Chunks:    []*models.RetrievedChunk{},
				Context:   "",
				NumChunks: 0,
				Strategy:  "advanced_rag",
				Message:   "Advanced retrieval found no content",
			}
		}
		chunks := chunksFromResults(results)
		return &models.RetrievalResult{
			Status:    models.StatusFallback,
			Chunks:    chunks,
			Context:   buildContext(chunks, contextStyleConversational),
			NumChunks: len(chunks),
			Strategy:  "advanced_rag",
			Message:   fmt.Sprintf("Fallback retrieval returned %d chunks", len(chunks)),
		}
	}

	reranked := s.reranker.Rerank(allChunks, chunksNeeded)
	for _, chunk := range reranked {
		chunk.Source = models.SourceAdvancedRAG
	}

	parts := make([]string, 0, len(reranked))
	for i, chunk := range reranked {
		composite := 0.0
		if chunk.CompositeScore != nil {
			composite = *chunk.CompositeScore
		}
		density := 0.0
		if chunk.DensityScore != nil {
			density = *chunk.DensityScore
		}
		parts = append(parts, fmt.Sprintf("[Chunk %d, Relevance: %.2f, Info Density: %.1f]\n%s",
			i+1, composite, density, chunk.Text))
	}

	s.logger.Printf("Advanced retrieval completed with %d chunks", len(reranked))

	return &models.RetrievalResult{
		Status:    models.StatusSuccess,
		Chunks:    reranked,
		Context:   strings.Join(parts, "\n\n"),
		NumChunks: len(reranked),
		Strategy:  "advanced_rag",
		Message:   fmt.Sprintf("Retrieved %d high-quality chunks using advanced RAG", len(reranked)),
	}
}

// consistencySampleLimit is the per-sample search size for consistency checks.
const consistencySampleLimit = 5

// consistencyVariants phrases the query differently per retrieval sample so
// agreement across samples is meaningful.
func consistencyVariants(query string, count int) []string {
	variants := []string{
		query,
		fmt.Sprintf("Information about: %s", query),
		fmt.Sprintf("Explain: %s", query),
	}
	if count < len(variants) {
		variants = variants[:count]
	}
	return variants
}

// ConsistencyRetrieve runs several retrievals with rephrased queries and scores
// each chunk by the fraction of samples it appeared in. Chunks that surface
// regardless of phrasing are more reliable grounding for generated answers.
func (s *AdvancedRetrievalService) ConsistencyRetrieve(ctx context.Context, query, token, filename string, numSamples int) *models.RetrievalResult {
	if numSamples <= 0 {
		numSamples = 3
	}

	s.logger.Printf("Starting consistency retrieval (%d samples): %q", numSamples, truncate(query, 50))
	scope := repositories.Scope{Token: token, Filename: filename}

	var retrievals [][]*repositories.SearchResult
	for _, variant := range consistencyVariants(query, numSamples) {
		results, err := s.embedAndSearch(ctx, variant, scope, consistencySampleLimit)
		if err != nil {
			s.logger.Printf("Warning: consistency sample failed: %v", err)
			continue
		}
		retrievals = append(retrievals, results)
	}

	if len(retrievals) == 0 {
		return &models.RetrievalResult{
			Status:    models.StatusError,
			Chunks:    []*models.RetrievedChunk{},
			Context:   "",
			NumChunks: 0,
			Strategy:  "consistency",
			Message:   "All retrieval attempts failed",
		}
	}

	// Each sample counts a chunk at most once, so the score is the fraction
	// of samples the chunk appeared in.
	frequency := make(map[string]int)
	data := make(map[string]*models.RetrievedChunk)
	var order []string

	for _, results := range retrievals {
		sampleSeen := make(map[string]struct{})
		for _, result := range results {
			key := dedupKey(result.Text)
			if _, ok := sampleSeen[key]; ok {
				continue
			}
			sampleSeen[key] = struct{}{}
			frequency[key]++
			if _, ok := data[key]; !ok {
				data[key] = chunkFromResult(result)
				order = append(order, key)
			}
		}
	}

	chunks := make([]*models.RetrievedChunk, 0, len(order))
	total := 0.0
	for _, key := range order {
		score := float64(frequency[key]) / float64(numSamples)
		chunk := data[key]
		chunk.ConsistencyScore = &score
		chunk.Appearances = frequency[key]
		chunks = append(chunks, chunk)
		total += score
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return *chunks[i].ConsistencyScore > *chunks[j].ConsistencyScore
	})

	avgConsistency := total / float64(len(chunks))

	s.logger.Printf("Consistency check found %d chunks (avg consistency %.2f)", len(chunks), avgConsistency)

	return &models.RetrievalResult{
		Status:           models.StatusSuccess,
		Chunks:           chunks,
		Context:          buildContext(chunks, contextStyleConversational),
		NumChunks:        len(chunks),
		Strategy:         "consistency",
		ConsistencyScore: avgConsistency,
		NumRetrievals:    len(retrievals),
		Message:          fmt.Sprintf("Found %d consistent chunks across %d retrievals", len(chunks), len(retrievals)),
	}
}

func dedupKey(text string) string {
	if len(text) > dedupPrefixLen {
		return text[:dedupPrefixLen]
	}
	return text
}

// truncate shortens a string for logging, cutting on a rune boundary so the
// output stays valid UTF-8.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

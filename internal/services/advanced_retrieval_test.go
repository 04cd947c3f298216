package services

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"lumina-iq/internal/models"
	"lumina-iq/internal/repositories"
)

// ============================================================================
// Test Setup
// ============================================================================

func setupTestAdvancedRetrievalService(t *testing.T) (*AdvancedRetrievalService, *MockEmbedder, *MockVectorRepository) {
	mockEmbedder := new(MockEmbedder)
	mockVectorRepo := new(MockVectorRepository)

	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)

	service := NewAdvancedRetrievalService(
		mockVectorRepo,
		mockEmbedder,
		NewReranker(logger),
		5,
		logger,
	)

	return service, mockEmbedder, mockVectorRepo
}

func embeddingFor(seed float32) []float32 {
	vec := make([]float32, 8)
	vec[0] = seed
	return vec
}

func matchVector(seed float32) interface{} {
	return mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return len(q.Vector) > 0 && q.Vector[0] == seed
	})
}

// ============================================================================
// MultiQueryRetrieve
// ============================================================================

func TestMultiQueryRetrieve_MergesInVariantOrder(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	baseQuery := "photosynthesis"
	variantQuery := "Explain the key concepts related to: photosynthesis"

	mockEmbedder.On("EmbedQuery", mock.Anything, baseQuery).Return(embeddingFor(1), nil)
	mockEmbedder.On("EmbedQuery", mock.Anything, variantQuery).Return(embeddingFor(2), nil)

	mockVectorRepo.On("Search", mock.Anything, matchVector(1)).Return([]*repositories.SearchResult{
		makeSearchResult("Chloroplasts capture light energy for the cell.", 0.9, 1),
	}, nil)
	mockVectorRepo.On("Search", mock.Anything, matchVector(2)).Return([]*repositories.SearchResult{
		makeSearchResult("The Calvin cycle fixes carbon into sugars.", 0.8, 2),
	}, nil)

	chunks := service.MultiQueryRetrieve(context.Background(), baseQuery, "user-1", "bio.pdf", 2, 5)

	assert.Len(t, chunks, 2)
	// The base query's hits always come first regardless of goroutine timing.
	assert.Contains(t, chunks[0].Text, "Chloroplasts")
	assert.Contains(t, chunks[1].Text, "Calvin cycle")
}

func TestMultiQueryRetrieve_DeduplicatesByTextPrefix(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embeddingFor(1), nil)

	// Both variants hit the same chunk.
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Mitochondria generate ATP through oxidative phosphorylation.", 0.9, 1),
	}, nil)

	chunks := service.MultiQueryRetrieve(context.Background(), "cellular respiration", "user-1", "bio.pdf", 3, 5)

	assert.Len(t, chunks, 1)
}

func TestMultiQueryRetrieve_ToleratesFailedVariant(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	baseQuery := "osmosis"
	variantQuery := "Explain the key concepts related to: osmosis"

	// The variant fails on both the initial attempt and the retry.
	mockEmbedder.On("EmbedQuery", mock.Anything, baseQuery).Return(embeddingFor(1), nil)
	mockEmbedder.On("EmbedQuery", mock.Anything, variantQuery).Return(nil, errors.New("rate limited"))

	mockVectorRepo.On("Search", mock.Anything, matchVector(1)).Return([]*repositories.SearchResult{
		makeSearchResult("Water moves across the membrane toward higher solute concentration.", 0.9, 1),
	}, nil)

	chunks := service.MultiQueryRetrieve(context.Background(), baseQuery, "user-1", "bio.pdf", 2, 5)

	assert.Len(t, chunks, 1)
	mockEmbedder.AssertNumberOfCalls(t, "EmbedQuery", 3) // 1 success + 1 failure + 1 retry
}

// ============================================================================
// HyDERetrieve
// ============================================================================

func TestHyDERetrieve_TagsSources(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	// The hypothetical passage embeds differently from the raw query.
	mockEmbedder.On("EmbedQuery", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "This section explains")
	})).Return(embeddingFor(1), nil)
	mockEmbedder.On("EmbedQuery", mock.Anything, "what is entropy").Return(embeddingFor(2), nil)

	mockVectorRepo.On("Search", mock.Anything, matchVector(1)).Return([]*repositories.SearchResult{
		makeSearchResult("Entropy measures the disorder of a system.", 0.9, 1),
	}, nil)
	mockVectorRepo.On("Search", mock.Anything, matchVector(2)).Return([]*repositories.SearchResult{
		makeSearchResult("The second law states entropy never decreases.", 0.8, 2),
	}, nil)

	result := service.HyDERetrieve(context.Background(), "what is entropy", "user-1", "physics.pdf", 10)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "hyde", result.Strategy)
	assert.Len(t, result.Chunks, 2)
	assert.Equal(t, models.SourceHyDE, result.Chunks[0].Source)
	assert.Equal(t, models.SourceRegular, result.Chunks[1].Source)
}

func TestHyDERetrieve_FallsBackToRegularSearch(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "This section explains")
	})).Return(nil, errors.New("context length exceeded"))
	mockEmbedder.On("EmbedQuery", mock.Anything, "what is entropy").Return(embeddingFor(2), nil)

	mockVectorRepo.On("Search", mock.Anything, matchVector(2)).Return([]*repositories.SearchResult{
		makeSearchResult("Entropy measures the disorder of a system.", 0.8, 1),
	}, nil)

	result := service.HyDERetrieve(context.Background(), "what is entropy", "user-1", "physics.pdf", 10)

	assert.Equal(t, models.StatusFallback, result.Status)
	assert.Len(t, result.Chunks, 1)
	assert.Equal(t, models.SourceRegular, result.Chunks[0].Source)
}

func TestHyDERetrieve_TotalFailure(t *testing.T) {
	service, mockEmbedder, _ := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(nil, errors.New("provider down"))

	result := service.HyDERetrieve(context.Background(), "what is entropy", "user-1", "physics.pdf", 10)

	assert.Equal(t, models.StatusError, result.Status)
	assert.Empty(t, result.Chunks)
	assert.Contains(t, result.Message, "provider down")
}

func TestHyDERetrieve_TopKOfOne(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "This section explains")
	})).Return(embeddingFor(1), nil)
	mockEmbedder.On("EmbedQuery", mock.Anything, "what is entropy").Return(embeddingFor(2), nil)

	// Both the hypothetical search and the diversity fill must ask for at
	// least one result; a zero limit would match neither expectation.
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return len(q.Vector) > 0 && q.Vector[0] == 1 && q.TopK == 1
	})).Return([]*repositories.SearchResult{
		makeSearchResult("Entropy measures the disorder of a system.", 0.9, 1),
	}, nil)
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return len(q.Vector) > 0 && q.Vector[0] == 2 && q.TopK == 1
	})).Return([]*repositories.SearchResult{
		makeSearchResult("The second law states entropy never decreases.", 0.8, 2),
	}, nil)

	result := service.HyDERetrieve(context.Background(), "what is entropy", "user-1", "physics.pdf", 1)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Len(t, result.Chunks, 1)
	assert.Equal(t, models.SourceHyDE, result.Chunks[0].Source)
}

func TestHyDERetrieve_TruncatesToTopK(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embeddingFor(1), nil)

	hydeResults := []*repositories.SearchResult{
		makeSearchResult("First distinct passage about waves.", 0.9, 1),
		makeSearchResult("Second distinct passage about frequency.", 0.8, 2),
		makeSearchResult("Third distinct passage about amplitude.", 0.7, 3),
	}
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return(hydeResults, nil)

	result := service.HyDERetrieve(context.Background(), "waves", "user-1", "physics.pdf", 2)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Len(t, result.Chunks, 2)
}

// ============================================================================
// DecomposeTopic
// ============================================================================

func TestDecomposeTopic_BaseSubtopics(t *testing.T) {
	service, _, _ := setupTestAdvancedRetrievalService(t)

	subtopics := service.DecomposeTopic("gravity")

	assert.Len(t, subtopics, 5)
	assert.Equal(t, "gravity", subtopics[0])
	assert.Contains(t, subtopics, "definition and meaning of gravity")
}

func TestDecomposeTopic_ConditionalSubtopics(t *testing.T) {
	service, _, _ := setupTestAdvancedRetrievalService(t)

	subtopics := service.DecomposeTopic("the process of photosynthesis")
	assert.Len(t, subtopics, 6)
	assert.Contains(t, subtopics, "steps and procedures in the process of photosynthesis")

	subtopics = service.DecomposeTopic("laws of motion")
	assert.Len(t, subtopics, 6)
	assert.Contains(t, subtopics, "principles and theories of laws of motion")

	subtopics = service.DecomposeTopic("history of flight")
	assert.Len(t, subtopics, 6)
	assert.Contains(t, subtopics, "historical development of history of flight")
}

// ============================================================================
// RetrieveForQuestions
// ============================================================================

func TestRetrieveForQuestions_Success(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embeddingFor(1), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Newton's first law describes inertia in moving bodies.", 0.9, 1),
		makeSearchResult("Acceleration is proportional to the net applied force.", 0.8, 2),
	}, nil)

	result := service.RetrieveForQuestions(context.Background(), "newton's laws", "user-1", "physics.pdf", 10, false)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "advanced_rag", result.Strategy)
	assert.Equal(t, 2, result.NumChunks)
	for _, chunk := range result.Chunks {
		assert.Equal(t, models.SourceAdvancedRAG, chunk.Source)
	}
	assert.Contains(t, result.Context, "Info Density")
}

func TestRetrieveForQuestions_FallbackToBasicSearch(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embeddingFor(1), nil)

	// Multi-query pass finds nothing; the basic search with a wider limit does.
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return q.TopK == 5
	})).Return([]*repositories.SearchResult{}, nil)
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return q.TopK == 15
	})).Return([]*repositories.SearchResult{
		makeSearchResult("General content about the requested topic.", 0.6, 1),
	}, nil)

	result := service.RetrieveForQuestions(context.Background(), "obscure topic", "user-1", "physics.pdf", 10, false)

	assert.Equal(t, models.StatusFallback, result.Status)
	assert.Equal(t, 1, result.NumChunks)
}

func TestRetrieveForQuestions_NoContentAnywhere(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embeddingFor(1), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{}, nil)

	result := service.RetrieveForQuestions(context.Background(), "missing topic", "user-1", "physics.pdf", 10, false)

	assert.Equal(t, models.StatusError, result.Status)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, "Advanced retrieval found no content", result.Message)
}

func TestRetrieveForQuestions_EmptyQueryFallbackSearch(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embeddingFor(1), nil)

	// The multi-query pass over "comprehensive content" finds nothing; the
	// basic fallback must substitute a concrete query for the empty string.
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return q.TopK == 5
	})).Return([]*repositories.SearchResult{}, nil)
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return q.TopK == 15
	})).Return([]*repositories.SearchResult{
		makeSearchResult("General content spanning the whole document.", 0.6, 1),
	}, nil)

	result := service.RetrieveForQuestions(context.Background(), "", "user-1", "physics.pdf", 10, false)

	assert.Equal(t, models.StatusFallback, result.Status)
	assert.Equal(t, 1, result.NumChunks)
	mockEmbedder.AssertCalled(t, "EmbedQuery", mock.Anything, "generate questions")
}

func TestRetrieveForQuestions_FocusedModeDecomposesTopic(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embeddingFor(1), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Relevant passage about the focused topic.", 0.9, 1),
	}, nil)

	result := service.RetrieveForQuestions(context.Background(), "thermodynamics", "user-1", "physics.pdf", 10, true)

	assert.Equal(t, models.StatusSuccess, result.Status)
	// 3 subtopics x 3 variants each, all sharing one embedding mock.
	assert.Equal(t, 9, len(mockEmbedder.Calls))
}

// ============================================================================
// ConsistencyRetrieve
// ============================================================================

func TestConsistencyRetrieve_ScoresByAppearanceFrequency(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, "osmosis").Return(embeddingFor(1), nil)
	mockEmbedder.On("EmbedQuery", mock.Anything, "Information about: osmosis").Return(embeddingFor(2), nil)
	mockEmbedder.On("EmbedQuery", mock.Anything, "Explain: osmosis").Return(embeddingFor(3), nil)

	stable := makeSearchResult("Water moves across the membrane toward higher solute concentration.", 0.9, 1)
	phrasingA := makeSearchResult("Turgor pressure keeps plant cells rigid.", 0.7, 2)
	phrasingB := makeSearchResult("Reverse osmosis forces water against the gradient.", 0.6, 3)

	// One chunk surfaces in every sample, the others in a single sample each.
	mockVectorRepo.On("Search", mock.Anything, matchVector(1)).Return([]*repositories.SearchResult{stable, phrasingA}, nil)
	mockVectorRepo.On("Search", mock.Anything, matchVector(2)).Return([]*repositories.SearchResult{stable}, nil)
	mockVectorRepo.On("Search", mock.Anything, matchVector(3)).Return([]*repositories.SearchResult{stable, phrasingB}, nil)

	result := service.ConsistencyRetrieve(context.Background(), "osmosis", "user-1", "bio.pdf", 3)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "consistency", result.Strategy)
	assert.Len(t, result.Chunks, 3)
	assert.Equal(t, 3, result.NumRetrievals)

	top := result.Chunks[0]
	assert.Contains(t, top.Text, "Water moves")
	assert.NotNil(t, top.ConsistencyScore)
	assert.Equal(t, 1.0, *top.ConsistencyScore)
	assert.Equal(t, 3, top.Appearances)

	// (1 + 1/3 + 1/3) / 3
	assert.InDelta(t, 5.0/9.0, result.ConsistencyScore, 0.001)
	assert.Contains(t, result.Message, "across 3 retrievals")
}

func TestConsistencyRetrieve_AllSamplesFail(t *testing.T) {
	service, mockEmbedder, _ := setupTestAdvancedRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(nil, errors.New("provider down"))

	result := service.ConsistencyRetrieve(context.Background(), "osmosis", "user-1", "bio.pdf", 3)

	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, "All retrieval attempts failed", result.Message)
	assert.Empty(t, result.Chunks)
	// Failed samples are skipped, not retried.
	mockEmbedder.AssertNumberOfCalls(t, "EmbedQuery", 3)
}

// ============================================================================
// truncate
// ============================================================================

func TestTruncate_CutsOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 40)

	out := truncate(s, 30)

	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 30, utf8.RuneCountInString(out))
	assert.Equal(t, "short", truncate("short", 30))
}

package services

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"lumina-iq/internal/models"
	"lumina-iq/internal/repositories"
)

// ============================================================================
// Test Setup
// ============================================================================

func setupTestRetrievalService(t *testing.T) (*RetrievalService, *MockEmbedder, *MockVectorRepository) {
	mockEmbedder := new(MockEmbedder)
	mockVectorRepo := new(MockVectorRepository)

	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)

	service := NewRetrievalService(
		mockVectorRepo,
		mockEmbedder,
		NewQueryClassifier(logger),
		NewQueryMetadataExtractor(logger),
		NewReranker(logger),
		logger,
	)

	return service, mockEmbedder, mockVectorRepo
}

func testEmbedding() []float32 {
	return make([]float32, 8)
}

func makeSearchResult(text string, score float32, sequentialID int) *repositories.SearchResult {
	return &repositories.SearchResult{
		ChunkID:    "chunk",
		Text:       text,
		Score:      score,
		ChunkIndex: sequentialID,
		Metadata: models.ChunkMetadata{
			ChunkIndex:   sequentialID,
			SequentialID: sequentialID,
			TotalChunks:  100,
			DocumentName: "book.pdf",
		},
	}
}

// ============================================================================
// Dispatch
// ============================================================================

func TestRetrieve_AutoClassifiesUseCase(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Gravity pulls objects toward each other.", 0.9, 0),
	}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "What is gravity?",
		Token:    "user-1",
		Filename: "physics.pdf",
	})

	assert.Equal(t, models.UseCaseChat, result.UseCase)
	assert.Equal(t, "chat", result.Strategy)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.NotNil(t, result.QueryMetadata)
	assert.NotNil(t, result.Requirements)
}

func TestRetrieve_ExplicitUseCaseSkipsClassification(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Momentum is conserved in closed systems.", 0.8, 3),
	}, nil)
	mockVectorRepo.On("GetBySequentialRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*repositories.SearchResult{}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "What is momentum?",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "evaluation",
	})

	assert.Equal(t, models.UseCaseEvaluation, result.UseCase)
	assert.Equal(t, "evaluation", result.Strategy)
}

// ============================================================================
// Chat strategy
// ============================================================================

func TestChatStrategy_SearchesTripleTopK(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return q.TopK == 15 && q.Scope.Token == "user-1" && q.Scope.Filename == "physics.pdf"
	})).Return([]*repositories.SearchResult{
		makeSearchResult("Gravity is a force of attraction between masses.", 0.9, 0),
		makeSearchResult("Tides are caused by the moon's gravitational pull.", 0.7, 4),
	}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "What is gravity?",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "chat",
		TopK:     5,
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.NumChunks)
	assert.Contains(t, result.Context, "Relevance:")
	mockVectorRepo.AssertExpectations(t)
}

func TestChatStrategy_RetriesWithoutChapterFilter(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)

	// First search carries the chapter filter and finds nothing.
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return len(q.Filters) == 1 && q.Filters[0].Key == "chapter_number"
	})).Return([]*repositories.SearchResult{}, nil).Once()

	// Retry without filters succeeds.
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return len(q.Filters) == 0
	})).Return([]*repositories.SearchResult{
		makeSearchResult("Entropy always increases in isolated systems.", 0.8, 9),
	}, nil).Once()

	// "from chapter 7" puts chapter confidence at 0.95, above the 0.90 bar.
	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "Tell me from chapter 7 how entropy works",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "chat",
		TopK:     5,
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.NumChunks)
	mockVectorRepo.AssertExpectations(t)
}

func TestChatStrategy_EmbedderFailureReturnsErrorResult(t *testing.T) {
	service, mockEmbedder, _ := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(nil, errors.New("quota exceeded"))

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "What is gravity?",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "chat",
	})

	assert.Equal(t, models.StatusError, result.Status)
	assert.Empty(t, result.Chunks)
	assert.Contains(t, result.Message, "quota exceeded")
}

// ============================================================================
// Evaluation strategy
// ============================================================================

func TestEvaluationStrategy_ExpandsWithNeighbors(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return q.ScoreThreshold != nil && *q.ScoreThreshold == 0.75
	})).Return([]*repositories.SearchResult{
		makeSearchResult("Photosynthesis converts light energy into glucose.", 0.85, 10),
	}, nil)
	mockVectorRepo.On("GetBySequentialRange", mock.Anything, mock.Anything, 8, 12).
		Return([]*repositories.SearchResult{
			makeSearchResult("Chlorophyll absorbs red and blue light.", 0, 9),
			makeSearchResult("Photosynthesis converts light energy into glucose.", 0, 10),
			makeSearchResult("Oxygen is released as a byproduct.", 0, 11),
		}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "My answer is photosynthesis makes glucose",
		Token:    "user-1",
		Filename: "bio.pdf",
		UseCase:  "evaluation",
		TopK:     5,
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.NumCoreChunks)
	assert.Equal(t, 3, result.NumChunks)
	assert.Contains(t, result.Context, "Chapter")
	mockVectorRepo.AssertExpectations(t)
}

func TestEvaluationStrategy_ExpansionFailureDegradesToCore(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Mitosis produces two identical daughter cells.", 0.8, 5),
	}, nil)
	mockVectorRepo.On("GetBySequentialRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("store unavailable"))

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "check my answer on mitosis",
		Token:    "user-1",
		Filename: "bio.pdf",
		UseCase:  "evaluation",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.NumChunks)
}

// ============================================================================
// QA generation strategy
// ============================================================================

func TestQAGenerationStrategy_EmptyResultIsTerminalError(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "Generate 10 questions from chapter 99",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "qa_generation",
	})

	assert.Equal(t, models.StatusError, result.Status)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, "No content found matching the criteria. Please check chapter/topic specification.", result.Message)
	// No unfiltered retry: mixing chapters would break the quiz contract.
	mockVectorRepo.AssertNumberOfCalls(t, "Search", 1)
}

func TestQAGenerationStrategy_SortsBySequentialID(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Third passage in document order.", 0.9, 30),
		makeSearchResult("First passage in document order.", 0.7, 10),
		makeSearchResult("Second passage in document order.", 0.8, 20),
	}, nil)
	mockVectorRepo.On("GetBySequentialRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*repositories.SearchResult{}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "generate questions about motion",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "qa_generation",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 3, result.NumChunks)
	assert.Equal(t, 10, result.Chunks[0].SequentialID())
	assert.Equal(t, 20, result.Chunks[1].SequentialID())
	assert.Equal(t, 30, result.Chunks[2].SequentialID())
}

func TestQAGenerationStrategy_FillsSequentialWindow(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.Anything).Return([]*repositories.SearchResult{
		makeSearchResult("Seed hit.", 0.9, 5),
	}, nil)
	mockVectorRepo.On("GetBySequentialRange", mock.Anything, mock.Anything, 5, 19).
		Return([]*repositories.SearchResult{
			makeSearchResult("Seed hit.", 0, 5),
			makeSearchResult("Next chunk.", 0, 6),
			makeSearchResult("Another chunk.", 0, 7),
		}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "generate questions about motion",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "qa_generation",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 3, result.NumChunks)
	mockVectorRepo.AssertExpectations(t)
}

func TestQAGenerationStrategy_ReportsChapterFilter(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return len(q.Filters) == 1 && q.Filters[0].Key == "chapter_number" && q.Filters[0].Value == 4
	})).Return([]*repositories.SearchResult{
		makeSearchResult("Chapter four content.", 0.8, 40),
	}, nil)
	mockVectorRepo.On("GetBySequentialRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*repositories.SearchResult{}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "Generate questions from chapter 4",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "qa_generation",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	if assert.NotNil(t, result.FilteredByChapter) {
		assert.Equal(t, 4, *result.FilteredByChapter)
	}
}

// ============================================================================
// Notes strategy
// ============================================================================

func TestNotesStrategy_FilterOnlyLookupForChapter(t *testing.T) {
	service, _, mockVectorRepo := setupTestRetrievalService(t)

	sec1, sec2 := "2.1", "2.2"
	first := makeSearchResult("Forces cause acceleration.", 0, 1)
	first.Metadata.SectionNumber = &sec1
	second := makeSearchResult("Friction opposes motion.", 0, 2)
	second.Metadata.SectionNumber = &sec2

	mockVectorRepo.On("GetByFilter", mock.Anything, mock.Anything, mock.MatchedBy(func(filters []repositories.MetadataFilter) bool {
		return len(filters) == 1 && filters[0].Key == "chapter_number" && filters[0].Value == 2
	}), mock.Anything).Return([]*repositories.SearchResult{second, first}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "notes on chapter 2",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "notes",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.NumChunks)
	assert.Equal(t, 2, result.NumSections)
	assert.Contains(t, result.Context, "2.1")
	assert.Contains(t, result.Context, "2.2")
	// Sequential order restored even though the store returned them reversed.
	assert.Equal(t, 1, result.Chunks[0].SequentialID())
	mockVectorRepo.AssertExpectations(t)
}

func TestNotesStrategy_SemanticFallbackWithoutChapter(t *testing.T) {
	service, mockEmbedder, mockVectorRepo := setupTestRetrievalService(t)

	mockEmbedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(testEmbedding(), nil)
	mockVectorRepo.On("Search", mock.Anything, mock.MatchedBy(func(q repositories.SearchQuery) bool {
		return q.TopK == 20 && len(q.Filters) == 0
	})).Return([]*repositories.SearchResult{
		makeSearchResult("Thermal energy transfers as heat.", 0.7, 3),
	}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "summarize the ideas around heat transfer",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "notes",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.NumChunks)
	mockVectorRepo.AssertExpectations(t)
}

func TestNotesStrategy_EmptyIsError(t *testing.T) {
	service, _, mockVectorRepo := setupTestRetrievalService(t)

	mockVectorRepo.On("GetByFilter", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*repositories.SearchResult{}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "notes on chapter 42",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "notes",
	})

	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, "No content found for notes generation", result.Message)
}

func TestNotesStrategy_GroupsUnsectionedUnderGeneral(t *testing.T) {
	service, _, mockVectorRepo := setupTestRetrievalService(t)

	mockVectorRepo.On("GetByFilter", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*repositories.SearchResult{
			makeSearchResult("Ungrouped content.", 0, 0),
		}, nil)

	result := service.Retrieve(context.Background(), &RetrieveRequest{
		Query:    "notes on chapter 1",
		Token:    "user-1",
		Filename: "physics.pdf",
		UseCase:  "notes",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Contains(t, result.Context, "General")
}

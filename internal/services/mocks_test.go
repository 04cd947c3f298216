package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"lumina-iq/internal/repositories"
)

// ============================================================================
// Mock Embedder
// ============================================================================

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// ============================================================================
// Mock Vector Repository
// ============================================================================

type MockVectorRepository struct {
	mock.Mock
}

func (m *MockVectorRepository) EnsureCollection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockVectorRepository) Search(ctx context.Context, query repositories.SearchQuery) ([]*repositories.SearchResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.SearchResult), args.Error(1)
}

func (m *MockVectorRepository) GetByFilter(ctx context.Context, scope repositories.Scope, filters []repositories.MetadataFilter, limit int) ([]*repositories.SearchResult, error) {
	args := m.Called(ctx, scope, filters, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.SearchResult), args.Error(1)
}

func (m *MockVectorRepository) GetBySequentialRange(ctx context.Context, scope repositories.Scope, minID, maxID int) ([]*repositories.SearchResult, error) {
	args := m.Called(ctx, scope, minID, maxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.SearchResult), args.Error(1)
}

func (m *MockVectorRepository) UpsertChunks(ctx context.Context, chunks []*repositories.IndexedChunk) (int, error) {
	args := m.Called(ctx, chunks)
	return args.Int(0), args.Error(1)
}

func (m *MockVectorRepository) DeleteDocument(ctx context.Context, scope repositories.Scope) error {
	args := m.Called(ctx, scope)
	return args.Error(0)
}

func (m *MockVectorRepository) DocumentExists(ctx context.Context, scope repositories.Scope) (bool, error) {
	args := m.Called(ctx, scope)
	return args.Bool(0), args.Error(1)
}

func (m *MockVectorRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockVectorRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ============================================================================
// Mock Document Repository
// ============================================================================

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) CheckDocument(ctx context.Context, token, fileHash string) (*repositories.TrackedDocument, error) {
	args := m.Called(ctx, token, fileHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repositories.TrackedDocument), args.Error(1)
}

func (m *MockDocumentRepository) AddDocument(ctx context.Context, doc *repositories.TrackedDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentRepository) RemoveDocument(ctx context.Context, token, fileHash string) error {
	args := m.Called(ctx, token, fileHash)
	return args.Error(0)
}

func (m *MockDocumentRepository) RemoveByFilename(ctx context.Context, token, filename string) error {
	args := m.Called(ctx, token, filename)
	return args.Error(0)
}

func (m *MockDocumentRepository) ListDocuments(ctx context.Context, token string) ([]*repositories.TrackedDocument, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.TrackedDocument), args.Error(1)
}

func (m *MockDocumentRepository) CountDocuments(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDocumentRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

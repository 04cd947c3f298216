package repositories

import (
	"context"

	"lumina-iq/internal/models"
)

// VectorRepository defines the interface for vector store operations.
// This abstracts Qdrant operations and allows for easy testing and
// implementation swapping.
type VectorRepository interface {
	// Collection Management
	EnsureCollection(ctx context.Context) error

	// Search and Retrieval
	Search(ctx context.Context, query SearchQuery) ([]*SearchResult, error)
	GetByFilter(ctx context.Context, scope Scope, filters []MetadataFilter, limit int) ([]*SearchResult, error)
	GetBySequentialRange(ctx context.Context, scope Scope, minID, maxID int) ([]*SearchResult, error)

	// Indexing
	UpsertChunks(ctx context.Context, chunks []*IndexedChunk) (int, error)
	DeleteDocument(ctx context.Context, scope Scope) error
	DocumentExists(ctx context.Context, scope Scope) (bool, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Scope identifies the slice of the collection a query operates on. Token
// isolates a user's documents; Filename narrows to a single document and may
// be empty.
type Scope struct {
	Token    string
	Filename string
}

// MetadataFilter is an exact-match condition on a chunk metadata field. Key is
// the bare metadata field name (e.g. "chapter_number"); the repository maps it
// to the stored payload path.
type MetadataFilter struct {
	Key   string
	Value interface{}
}

// SearchQuery is a vector similarity search request.
type SearchQuery struct {
	Vector         []float32
	Scope          Scope
	Filters        []MetadataFilter
	TopK           int
	ScoreThreshold *float32
}

// SearchResult is a single chunk returned from the vector store.
type SearchResult struct {
	ChunkID    string
	Text       string
	Score      float32
	ChunkIndex int
	Metadata   models.ChunkMetadata
}

// IndexedChunk is a chunk ready for storage: text, embedding and metadata.
type IndexedChunk struct {
	ID        string
	Text      string
	Embedding []float32
	Token     string
	Filename  string
	Metadata  models.ChunkMetadata
}

// VectorRepositoryError represents errors from the vector repository
type VectorRepositoryError struct {
	Operation string
	Err       error
	Message   string
}

func (e *VectorRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + ": " + e.Err.Error()
	}
	return e.Operation + ": unknown error"
}

func (e *VectorRepositoryError) Unwrap() error {
	return e.Err
}

// NewVectorRepositoryError creates a new vector repository error
func NewVectorRepositoryError(operation string, err error, message string) *VectorRepositoryError {
	return &VectorRepositoryError{
		Operation: operation,
		Err:       err,
		Message:   message,
	}
}

// Common error constructors
func CollectionUnavailableError(err error) error {
	return NewVectorRepositoryError(
		"ensure_collection",
		err,
		"",
	)
}

func SearchFailedError(err error) error {
	return NewVectorRepositoryError(
		"search",
		err,
		"",
	)
}

func UpsertFailedError(err error, message string) error {
	return NewVectorRepositoryError(
		"upsert_chunks",
		err,
		message,
	)
}

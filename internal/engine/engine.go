// Package engine wires the retrieval pipeline together and exposes the
// caller-facing API: one retrieval entry point that routes across the four
// strategies, plus indexing and document management.
package engine

import (
	"context"
	"fmt"
	"log"

	"lumina-iq/config"
	"lumina-iq/internal/db"
	"lumina-iq/internal/embeddings"
	"lumina-iq/internal/models"
	"lumina-iq/internal/repositories"
	"lumina-iq/internal/services"
)

// Engine is the composition root for the retrieval system.
type Engine struct {
	retrieval *services.RetrievalService
	advanced  *services.AdvancedRetrievalService
	indexing  *services.IndexingService

	vectorRepo repositories.VectorRepository
	docRepo    repositories.DocumentRepository
	redis      *db.RedisClient
	logger     *log.Logger
}

// New builds a fully wired engine from configuration. The vector collection
// is created on first use if missing.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*Engine, error) {
	qdrant := db.NewQdrantClient(db.QdrantConfig{
		URL:     cfg.QdrantURL,
		APIKey:  cfg.QdrantAPIKey,
		Timeout: cfg.QdrantTimeout,
	})

	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	embedder, err := embeddings.NewOpenAIEmbedder(embeddings.Options{
		Model:         cfg.EmbeddingModel,
		Dimension:     cfg.EmbeddingDimensions,
		BatchSize:     cfg.EmbeddingBatchSize,
		OpenAIAPIKey:  cfg.EmbeddingAPIKey,
		OpenAIBaseURL: cfg.EmbeddingBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectorRepo := repositories.NewQdrantVectorRepository(qdrant, cfg.QdrantCollection, cfg.EmbeddingDimensions, logger)
	if err := vectorRepo.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	docRepo := repositories.NewRedisDocumentRepository(redisClient, logger)

	metadataExtractor := services.NewMetadataExtractor(logger)
	chunking := services.NewChunkingService(metadataExtractor, logger)
	classifier := services.NewQueryClassifier(logger)
	queryMetadata := services.NewQueryMetadataExtractor(logger)
	reranker := services.NewReranker(logger)

	retrieval := services.NewRetrievalService(vectorRepo, embedder, classifier, queryMetadata, reranker, logger)
	advanced := services.NewAdvancedRetrievalService(vectorRepo, embedder, reranker, cfg.MaxConcurrentQueries, logger)
	indexing := services.NewIndexingService(chunking, embedder, vectorRepo, docRepo, cfg.ChunkSize, cfg.ChunkOverlap, logger)

	return &Engine{
		retrieval:  retrieval,
		advanced:   advanced,
		indexing:   indexing,
		vectorRepo: vectorRepo,
		docRepo:    docRepo,
		redis:      redisClient,
		logger:     logger,
	}, nil
}

// Retrieve routes a query through classification, metadata extraction and the
// matching retrieval strategy.
func (e *Engine) Retrieve(ctx context.Context, query, token, filename, useCase string, topK int) *models.RetrievalResult {
	return e.retrieval.Retrieve(ctx, &services.RetrieveRequest{
		Query:    query,
		Token:    token,
		Filename: filename,
		UseCase:  useCase,
		TopK:     topK,
	})
}

// Index chunks, embeds and stores a document for later retrieval.
func (e *Engine) Index(ctx context.Context, filename, content, token string) *models.IndexResult {
	return e.indexing.Index(ctx, filename, content, token)
}

// MultiQueryRetrieve retrieves with paraphrased query variants for broader
// topical coverage.
func (e *Engine) MultiQueryRetrieve(ctx context.Context, query, token, filename string, queriesToGenerate, chunksPerQuery int) []*models.RetrievedChunk {
	return e.advanced.MultiQueryRetrieve(ctx, query, token, filename, queriesToGenerate, chunksPerQuery)
}

// HyDERetrieve retrieves using a hypothetical answer passage embedding.
func (e *Engine) HyDERetrieve(ctx context.Context, query, token, filename string, topK int) *models.RetrievalResult {
	return e.advanced.HyDERetrieve(ctx, query, token, filename, topK)
}

// ConsistencyRetrieve retrieves with several rephrasings of the same query and
// scores chunks by how consistently they appear across the samples.
func (e *Engine) ConsistencyRetrieve(ctx context.Context, query, token, filename string, numSamples int) *models.RetrievalResult {
	return e.advanced.ConsistencyRetrieve(ctx, query, token, filename, numSamples)
}

// RetrieveForQuestions gathers question-generation content using the combined
// advanced techniques.
func (e *Engine) RetrieveForQuestions(ctx context.Context, query, token, filename string, numQuestions int, focused bool) *models.RetrievalResult {
	return e.advanced.RetrieveForQuestions(ctx, query, token, filename, numQuestions, focused)
}

// DeleteDocument removes a document from the vector store and the registry.
func (e *Engine) DeleteDocument(ctx context.Context, filename, token string) error {
	return e.indexing.DeleteDocument(ctx, filename, token)
}

// IsIndexed reports whether a document has chunks in the vector store.
func (e *Engine) IsIndexed(ctx context.Context, filename, token string) (bool, error) {
	return e.indexing.IsIndexed(ctx, filename, token)
}

// ListDocuments returns the indexed documents tracked for a user.
func (e *Engine) ListDocuments(ctx context.Context, token string) ([]*repositories.TrackedDocument, error) {
	return e.docRepo.ListDocuments(ctx, token)
}

// DocumentCount returns the number of documents indexed for a user.
func (e *Engine) DocumentCount(ctx context.Context, token string) (int64, error) {
	return e.docRepo.CountDocuments(ctx, token)
}

// Ping checks connectivity to the vector store and the registry.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.vectorRepo.Ping(ctx); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	if err := e.docRepo.Ping(ctx); err != nil {
		return fmt.Errorf("document registry: %w", err)
	}
	return nil
}

// Close releases all client connections.
func (e *Engine) Close() error {
	if err := e.vectorRepo.Close(); err != nil {
		return err
	}
	return e.redis.Close()
}

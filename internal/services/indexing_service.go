package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"lumina-iq/internal/embeddings"
	"lumina-iq/internal/models"
	"lumina-iq/internal/repositories"
)

// IndexingService runs the indexing pipeline: content hashing and duplicate
// detection, chunking with metadata extraction, embedding and vector store
// upsert, and registry tracking.
type IndexingService struct {
	chunking   *ChunkingService
	embedder   embeddings.Embedder
	vectorRepo repositories.VectorRepository
	docRepo    repositories.DocumentRepository
	logger     *log.Logger

	chunkSize    int
	chunkOverlap int
}

// NewIndexingService creates a new indexing service
func NewIndexingService(
	chunking *ChunkingService,
	embedder embeddings.Embedder,
	vectorRepo repositories.VectorRepository,
	docRepo repositories.DocumentRepository,
	chunkSize, chunkOverlap int,
	logger *log.Logger,
) *IndexingService {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap <= 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 200
	}
	return &IndexingService{
		chunking:     chunking,
		embedder:     embedder,
		vectorRepo:   vectorRepo,
		docRepo:      docRepo,
		logger:       logger,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// hashContent returns the SHA-256 hex digest of document content.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Index chunks, embeds and stores a document. Re-uploads of identical content
// are detected by content hash: the same filename reports already_indexed, a
// different filename reports duplicate with a pointer to the original.
func (s *IndexingService) Index(ctx context.Context, filename, content, token string) *models.IndexResult {
	fileHash := hashContent(content)

	existing, err := s.docRepo.CheckDocument(ctx, token, fileHash)
	if err != nil {
		s.logger.Printf("Error checking document registry: %v", err)
		return indexError(filename, fmt.Sprintf("Failed to check document registry: %v", err))
	}
	if existing != nil {
		if existing.Filename == filename {
			s.logger.Printf("Document %s already indexed", filename)
			return &models.IndexResult{
				Status:     models.StatusAlreadyIndexed,
				Filename:   filename,
				FileHash:   fileHash,
				NumChunks:  existing.NumChunks,
				UploadDate: existing.UploadDate.Format(time.RFC3339),
				Message:    fmt.Sprintf("Document %s is already indexed", filename),
			}
		}
		s.logger.Printf("Duplicate content: %s matches %s", filename, existing.Filename)
		return &models.IndexResult{
			Status:           models.StatusDuplicate,
			Filename:         filename,
			FileHash:         fileHash,
			OriginalFilename: existing.Filename,
			UploadDate:       existing.UploadDate.Format(time.RFC3339),
			Message:          fmt.Sprintf("Identical content already indexed as %s", existing.Filename),
		}
	}

	chunks := s.chunking.ChunkWithMetadata(content, filename, s.chunkSize, s.chunkOverlap)
	if len(chunks) == 0 {
		s.logger.Printf("Warning: no chunks produced for %s", filename)
		return indexError(filename, "Document produced no chunks; is it empty?")
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return indexError(filename, fmt.Sprintf("Embedding failed: %v", err))
	}
	if len(vectors) != len(chunks) {
		return indexError(filename, fmt.Sprintf("Embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors)))
	}

	indexed := make([]*repositories.IndexedChunk, len(chunks))
	chapters := make(map[int]struct{})
	sections := make(map[string]struct{})
	for i, chunk := range chunks {
		indexed[i] = &repositories.IndexedChunk{
			ID:        uuid.NewString(),
			Text:      chunk.Text,
			Embedding: vectors[i],
			Token:     token,
			Filename:  filename,
			Metadata:  chunk.Metadata,
		}
		if chunk.Metadata.ChapterNumber != nil {
			chapters[*chunk.Metadata.ChapterNumber] = struct{}{}
		}
		if chunk.Metadata.SectionNumber != nil {
			sections[*chunk.Metadata.SectionNumber] = struct{}{}
		}
	}

	numIndexed, err := s.vectorRepo.UpsertChunks(ctx, indexed)
	if err != nil {
		return indexError(filename, fmt.Sprintf("Vector store upsert failed: %v", err))
	}

	if err := s.docRepo.AddDocument(ctx, &repositories.TrackedDocument{
		Token:      token,
		FileHash:   fileHash,
		Filename:   filename,
		NumChunks:  numIndexed,
		UploadDate: time.Now().UTC(),
	}); err != nil {
		// The vectors are stored; a tracking failure only loses duplicate
		// detection for this document.
		s.logger.Printf("Warning: failed to track document %s: %v", filename, err)
	}

	s.logger.Printf("Indexed %s: %d/%d chunks, %d chapters, %d sections",
		filename, numIndexed, len(chunks), len(chapters), len(sections))

	return &models.IndexResult{
		Status:        models.StatusSuccess,
		Filename:      filename,
		FileHash:      fileHash,
		NumChunks:     len(chunks),
		NumIndexed:    numIndexed,
		ChaptersFound: len(chapters),
		SectionsFound: len(sections),
		Message:       fmt.Sprintf("Indexed %d chunks from %s", numIndexed, filename),
	}
}

// DeleteDocument removes a document's chunks from the vector store and its
// registry records.
func (s *IndexingService) DeleteDocument(ctx context.Context, filename, token string) error {
	scope := repositories.Scope{Token: token, Filename: filename}
	if err := s.vectorRepo.DeleteDocument(ctx, scope); err != nil {
		return err
	}
	if err := s.docRepo.RemoveByFilename(ctx, token, filename); err != nil {
		return err
	}
	s.logger.Printf("Deleted document %s for token %s", filename, token)
	return nil
}

// IsIndexed reports whether any chunks exist for the document.
func (s *IndexingService) IsIndexed(ctx context.Context, filename, token string) (bool, error) {
	return s.vectorRepo.DocumentExists(ctx, repositories.Scope{Token: token, Filename: filename})
}

func indexError(filename, message string) *models.IndexResult {
	return &models.IndexResult{
		Status:   models.StatusError,
		Filename: filename,
		Message:  message,
	}
}

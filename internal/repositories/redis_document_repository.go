package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"lumina-iq/internal/db"
)

// Key layout:
//   lumina:doc:{token}:{hash}  -> JSON TrackedDocument
//   lumina:docs:{token}        -> set of file hashes for the user

// RedisDocumentRepository implements DocumentRepository backed by Redis.
type RedisDocumentRepository struct {
	redis  *db.RedisClient
	logger *log.Logger
}

// NewRedisDocumentRepository creates a Redis-backed document registry.
func NewRedisDocumentRepository(redis *db.RedisClient, logger *log.Logger) *RedisDocumentRepository {
	return &RedisDocumentRepository{
		redis:  redis,
		logger: logger,
	}
}

func docKey(token, fileHash string) string {
	return fmt.Sprintf("lumina:doc:%s:%s", token, fileHash)
}

func docSetKey(token string) string {
	return fmt.Sprintf("lumina:docs:%s", token)
}

// CheckDocument returns the tracked record for a content hash, or nil when the
// document has never been indexed for this user.
func (r *RedisDocumentRepository) CheckDocument(ctx context.Context, token, fileHash string) (*TrackedDocument, error) {
	exists, err := r.redis.Exists(ctx, docKey(token, fileHash))
	if err != nil {
		return nil, NewDocumentRepositoryError("check_document", err, "")
	}
	if exists == 0 {
		return nil, nil
	}

	raw, err := r.redis.Get(ctx, docKey(token, fileHash))
	if err != nil {
		return nil, NewDocumentRepositoryError("check_document", err, "")
	}

	var doc TrackedDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, NewDocumentRepositoryError("check_document", err, "corrupt document record")
	}
	return &doc, nil
}

// AddDocument records a newly indexed document. The record and the user's
// hash set are updated atomically.
func (r *RedisDocumentRepository) AddDocument(ctx context.Context, doc *TrackedDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return NewDocumentRepositoryError("add_document", err, "")
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, docKey(doc.Token, doc.FileHash), data, 0)
	pipe.SAdd(ctx, docSetKey(doc.Token), doc.FileHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewDocumentRepositoryError("add_document", err, "")
	}
	return nil
}

// RemoveDocument deletes the tracking record for a content hash.
func (r *RedisDocumentRepository) RemoveDocument(ctx context.Context, token, fileHash string) error {
	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, docKey(token, fileHash))
	pipe.SRem(ctx, docSetKey(token), fileHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewDocumentRepositoryError("remove_document", err, "")
	}
	return nil
}

// RemoveByFilename deletes any tracking records whose filename matches. Used
// when the caller deletes by filename rather than hash.
func (r *RedisDocumentRepository) RemoveByFilename(ctx context.Context, token, filename string) error {
	docs, err := r.ListDocuments(ctx, token)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.Filename == filename {
			if err := r.RemoveDocument(ctx, token, doc.FileHash); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListDocuments returns all tracked documents for a user. Stale set entries
// whose record is gone are skipped with a warning.
func (r *RedisDocumentRepository) ListDocuments(ctx context.Context, token string) ([]*TrackedDocument, error) {
	hashes, err := r.redis.SMembers(ctx, docSetKey(token))
	if err != nil {
		return nil, NewDocumentRepositoryError("list_documents", err, "")
	}

	docs := make([]*TrackedDocument, 0, len(hashes))
	for _, hash := range hashes {
		doc, err := r.CheckDocument(ctx, token, hash)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			r.logger.Printf("Warning: stale document hash %s for token %s", hash, token)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// CountDocuments returns the number of tracked documents for a user without
// loading the records.
func (r *RedisDocumentRepository) CountDocuments(ctx context.Context, token string) (int64, error) {
	count, err := r.redis.SCard(ctx, docSetKey(token))
	if err != nil {
		return 0, NewDocumentRepositoryError("count_documents", err, "")
	}
	return count, nil
}

// Ping checks Redis connectivity.
func (r *RedisDocumentRepository) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx)
}

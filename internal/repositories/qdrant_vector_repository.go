package repositories

import (
	"context"
	"fmt"
	"log"
	"sort"

	"lumina-iq/internal/db"
	"lumina-iq/internal/models"
)

// upsertBatchSize is the number of points sent per upsert request.
const upsertBatchSize = 100

// payloadIndexes are the payload fields indexed at collection creation so that
// filtered searches stay fast as the collection grows.
var payloadIndexes = []struct {
	Field  string
	Schema string
}{
	{"token", "keyword"},
	{"filename", "keyword"},
	{"metadata.chapter_number", "integer"},
	{"metadata.section_number", "keyword"},
	{"metadata.sequential_id", "integer"},
	{"metadata.primary_content_type", "keyword"},
}

// QdrantVectorRepository implements VectorRepository backed by Qdrant.
type QdrantVectorRepository struct {
	client     *db.QdrantClient
	collection string
	vectorSize int
	logger     *log.Logger
}

// NewQdrantVectorRepository creates a vector repository for one collection.
func NewQdrantVectorRepository(client *db.QdrantClient, collection string, vectorSize int, logger *log.Logger) *QdrantVectorRepository {
	return &QdrantVectorRepository{
		client:     client,
		collection: collection,
		vectorSize: vectorSize,
		logger:     logger,
	}
}

// EnsureCollection creates the collection and its payload indexes if they do
// not exist yet. Safe to call on every startup.
func (r *QdrantVectorRepository) EnsureCollection(ctx context.Context) error {
	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return CollectionUnavailableError(err)
	}
	if exists {
		return nil
	}

	r.logger.Printf("Creating collection %s (vector size %d)", r.collection, r.vectorSize)
	if err := r.client.CreateCollection(ctx, r.collection, r.vectorSize); err != nil {
		return CollectionUnavailableError(err)
	}

	for _, idx := range payloadIndexes {
		if err := r.client.CreateFieldIndex(ctx, r.collection, idx.Field, idx.Schema); err != nil {
			// Index creation failing is not fatal: searches still work, slower.
			r.logger.Printf("Warning: failed to create payload index %s: %v", idx.Field, err)
		}
	}

	return nil
}

// scopeConditions translates a scope into filter conditions.
func scopeConditions(scope Scope) []db.Condition {
	var conditions []db.Condition
	if scope.Token != "" {
		conditions = append(conditions, db.MatchCondition("token", scope.Token))
	}
	if scope.Filename != "" {
		conditions = append(conditions, db.MatchCondition("filename", scope.Filename))
	}
	return conditions
}

// metadataConditions translates metadata filters, prefixing keys with the
// nested payload path.
func metadataConditions(filters []MetadataFilter) []db.Condition {
	conditions := make([]db.Condition, 0, len(filters))
	for _, f := range filters {
		conditions = append(conditions, db.MatchCondition("metadata."+f.Key, f.Value))
	}
	return conditions
}

func buildFilter(scope Scope, filters []MetadataFilter) *db.Filter {
	must := append(scopeConditions(scope), metadataConditions(filters)...)
	if len(must) == 0 {
		return nil
	}
	return &db.Filter{Must: must}
}

// Search runs a vector similarity search within the query's scope.
func (r *QdrantVectorRepository) Search(ctx context.Context, query SearchQuery) ([]*SearchResult, error) {
	hits, err := r.client.SearchPoints(ctx, r.collection, query.Vector, buildFilter(query.Scope, query.Filters), query.TopK, query.ScoreThreshold)
	if err != nil {
		return nil, SearchFailedError(err)
	}

	results := make([]*SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, scoredPointToResult(hit))
	}
	return results, nil
}

// GetByFilter retrieves chunks matching metadata filters without similarity
// scoring, ordered by sequential position.
func (r *QdrantVectorRepository) GetByFilter(ctx context.Context, scope Scope, filters []MetadataFilter, limit int) ([]*SearchResult, error) {
	points, err := r.client.ScrollPoints(ctx, r.collection, buildFilter(scope, filters), limit)
	if err != nil {
		return nil, NewVectorRepositoryError("get_by_filter", err, "")
	}

	results := make([]*SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, scrolledPointToResult(p))
	}
	sortBySequentialID(results)
	return results, nil
}

// GetBySequentialRange retrieves chunks whose sequential_id falls within
// [minID, maxID], ordered by sequential position. Used for context expansion.
func (r *QdrantVectorRepository) GetBySequentialRange(ctx context.Context, scope Scope, minID, maxID int) ([]*SearchResult, error) {
	must := scopeConditions(scope)
	must = append(must, db.RangeCondition("metadata.sequential_id", float64(minID), float64(maxID)))

	points, err := r.client.ScrollPoints(ctx, r.collection, &db.Filter{Must: must}, maxID-minID+1)
	if err != nil {
		return nil, NewVectorRepositoryError("get_by_sequential_range", err, "")
	}

	results := make([]*SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, scrolledPointToResult(p))
	}
	sortBySequentialID(results)
	return results, nil
}

// UpsertChunks stores chunks in batches. A failed batch is logged and skipped
// so one bad batch does not lose the rest; the returned count is the number of
// chunks actually stored.
func (r *QdrantVectorRepository) UpsertChunks(ctx context.Context, chunks []*IndexedChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	indexed := 0
	var lastErr error

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		points := make([]db.Point, 0, len(batch))
		for _, chunk := range batch {
			points = append(points, db.Point{
				ID:     chunk.ID,
				Vector: chunk.Embedding,
				Payload: map[string]interface{}{
					"filename":     chunk.Filename,
					"chunk_index":  chunk.Metadata.ChunkIndex,
					"text":         chunk.Text,
					"token":        chunk.Token,
					"total_chunks": chunk.Metadata.TotalChunks,
					"metadata":     chunk.Metadata.ToPayload(),
				},
			})
		}

		if err := r.client.UpsertPoints(ctx, r.collection, points); err != nil {
			r.logger.Printf("Error upserting batch %d-%d: %v", start, end, err)
			lastErr = err
			continue
		}
		indexed += len(batch)
	}

	if indexed == 0 && lastErr != nil {
		return 0, UpsertFailedError(lastErr, "all upsert batches failed")
	}
	return indexed, nil
}

// DeleteDocument removes every chunk in the scope. Scope.Filename must be set.
func (r *QdrantVectorRepository) DeleteDocument(ctx context.Context, scope Scope) error {
	if scope.Filename == "" {
		return NewVectorRepositoryError("delete_document", nil, "filename is required")
	}
	filter := &db.Filter{Must: scopeConditions(scope)}
	if err := r.client.DeletePoints(ctx, r.collection, filter); err != nil {
		return NewVectorRepositoryError("delete_document", err, "")
	}
	return nil
}

// DocumentExists reports whether any chunks exist in the scope.
func (r *QdrantVectorRepository) DocumentExists(ctx context.Context, scope Scope) (bool, error) {
	count, err := r.client.CountPoints(ctx, r.collection, &db.Filter{Must: scopeConditions(scope)})
	if err != nil {
		return false, NewVectorRepositoryError("document_exists", err, "")
	}
	return count > 0, nil
}

// Ping checks connectivity to Qdrant.
func (r *QdrantVectorRepository) Ping(ctx context.Context) error {
	return r.client.Healthz(ctx)
}

// Close releases the underlying HTTP connections.
func (r *QdrantVectorRepository) Close() error {
	r.client.Close()
	return nil
}

func scoredPointToResult(p db.ScoredPoint) *SearchResult {
	result := &SearchResult{
		ChunkID: fmt.Sprintf("%v", p.ID),
		Score:   p.Score,
	}
	fillFromPayload(result, p.Payload)
	return result
}

func scrolledPointToResult(p db.ScrolledPoint) *SearchResult {
	result := &SearchResult{
		ChunkID: fmt.Sprintf("%v", p.ID),
	}
	fillFromPayload(result, p.Payload)
	return result
}

func fillFromPayload(result *SearchResult, payload map[string]interface{}) {
	if text, ok := payload["text"].(string); ok {
		result.Text = text
	}
	if idx, ok := payload["chunk_index"].(float64); ok {
		result.ChunkIndex = int(idx)
	}
	if meta, ok := payload["metadata"].(map[string]interface{}); ok {
		result.Metadata = models.MetadataFromPayload(meta)
	}
}

func sortBySequentialID(results []*SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Metadata.SequentialID < results[j].Metadata.SequentialID
	})
}

package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantClient wraps HTTP calls to the Qdrant REST API.
// This avoids compatibility issues with the official Go client library.
type QdrantClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// QdrantConfig holds configuration for the Qdrant connection.
type QdrantConfig struct {
	URL     string // e.g. http://localhost:6333 or a Qdrant Cloud URL
	APIKey  string
	Timeout time.Duration
}

// NewQdrantClient creates a new Qdrant REST client.
func NewQdrantClient(config QdrantConfig) *QdrantClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &QdrantClient{
		baseURL: strings.TrimRight(config.URL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Filter condition types mirroring the Qdrant query DSL. Only the subset the
// engine needs is modelled: must-clauses with exact match or integer range.

// Match matches a payload field against an exact value.
type Match struct {
	Value interface{} `json:"value"`
}

// Range matches a numeric payload field against an inclusive range.
type Range struct {
	GTE *float64 `json:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

// Condition is a single field condition.
type Condition struct {
	Key   string `json:"key"`
	Match *Match `json:"match,omitempty"`
	Range *Range `json:"range,omitempty"`
}

// Filter is a conjunction of conditions.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// MatchCondition builds an exact-match condition.
func MatchCondition(key string, value interface{}) Condition {
	return Condition{Key: key, Match: &Match{Value: value}}
}

// RangeCondition builds an inclusive numeric range condition.
func RangeCondition(key string, gte, lte float64) Condition {
	return Condition{Key: key, Range: &Range{GTE: &gte, LTE: &lte}}
}

// Point is a single vector point with payload.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      interface{}            `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// ScrolledPoint is a point returned from a scroll (no score).
type ScrolledPoint struct {
	ID      interface{}            `json:"id"`
	Payload map[string]interface{} `json:"payload"`
}

// qdrantEnvelope is the standard Qdrant response wrapper.
type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status interface{}     `json:"status"`
	Time   float64         `json:"time"`
}

func (c *QdrantClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed (status %d): %s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}

	var envelope qdrantEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}

	return nil
}

// ErrNotFound is returned when Qdrant answers 404 for a resource.
var ErrNotFound = fmt.Errorf("qdrant: not found")

// Healthz checks if Qdrant is alive.
func (c *QdrantClient) Healthz(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create healthz request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthz request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz failed with status: %d", resp.StatusCode)
	}
	return nil
}

// CollectionExists checks whether a collection exists.
func (c *QdrantClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateCollection creates a collection with cosine distance vectors.
func (c *QdrantClient) CreateCollection(ctx context.Context, name string, vectorSize int) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+name, body, nil)
}

// DeleteCollection deletes a collection.
func (c *QdrantClient) DeleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
}

// CreateFieldIndex creates a payload index used to accelerate filtered search.
// Schema is one of "keyword", "integer", "float", "bool".
func (c *QdrantClient) CreateFieldIndex(ctx context.Context, collection, field, schema string) error {
	body := map[string]interface{}{
		"field_name":   field,
		"field_schema": schema,
	}
	return c.do(ctx, http.MethodPut, "/collections/"+collection+"/index?wait=true", body, nil)
}

// UpsertPoints inserts or replaces points in a collection.
func (c *QdrantClient) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	body := map[string]interface{}{
		"points": points,
	}
	return c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
}

// SearchPoints runs a vector similarity search with an optional filter and
// score threshold. Payloads are always returned.
func (c *QdrantClient) SearchPoints(ctx context.Context, collection string, vector []float32, filter *Filter, limit int, scoreThreshold *float32) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil && len(filter.Must) > 0 {
		body["filter"] = filter
	}
	if scoreThreshold != nil {
		body["score_threshold"] = *scoreThreshold
	}

	var hits []ScoredPoint
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

type scrollResult struct {
	Points         []ScrolledPoint `json:"points"`
	NextPageOffset interface{}     `json:"next_page_offset"`
}

// ScrollPoints retrieves points matching a filter without scoring, following
// pagination until limit points are collected or the collection is exhausted.
func (c *QdrantClient) ScrollPoints(ctx context.Context, collection string, filter *Filter, limit int) ([]ScrolledPoint, error) {
	if limit <= 0 {
		limit = 100
	}

	var collected []ScrolledPoint
	var offset interface{}

	for len(collected) < limit {
		pageSize := limit - len(collected)
		body := map[string]interface{}{
			"limit":        pageSize,
			"with_payload": true,
			"with_vector":  false,
		}
		if filter != nil && len(filter.Must) > 0 {
			body["filter"] = filter
		}
		if offset != nil {
			body["offset"] = offset
		}

		var page scrollResult
		if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &page); err != nil {
			return nil, err
		}

		collected = append(collected, page.Points...)
		if page.NextPageOffset == nil || len(page.Points) == 0 {
			break
		}
		offset = page.NextPageOffset
	}

	return collected, nil
}

// DeletePoints deletes all points matching a filter.
func (c *QdrantClient) DeletePoints(ctx context.Context, collection string, filter *Filter) error {
	body := map[string]interface{}{
		"filter": filter,
	}
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
}

// CountPoints counts points matching a filter.
func (c *QdrantClient) CountPoints(ctx context.Context, collection string, filter *Filter) (int, error) {
	body := map[string]interface{}{
		"exact": true,
	}
	if filter != nil && len(filter.Must) > 0 {
		body["filter"] = filter
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Close closes idle HTTP connections.
func (c *QdrantClient) Close() {
	c.httpClient.CloseIdleConnections()
}

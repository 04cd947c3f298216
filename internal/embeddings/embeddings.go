package embeddings

import (
	"context"
)

// Embedder converts text into dense vectors. Implementations must return one
// vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options configures an embedder.
type Options struct {
	Model     string
	Dimension int
	BatchSize int

	OpenAIAPIKey  string
	OpenAIBaseURL string
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	QdrantTimeout    time.Duration

	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingBatchSize  int

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	ChunkSize    int
	ChunkOverlap int

	MaxConcurrentQueries int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		QdrantURL:        getenv("LUMINA_QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     getenv("LUMINA_QDRANT_API_KEY", ""),
		QdrantCollection: getenv("LUMINA_QDRANT_COLLECTION", "lumina_documents"),
		QdrantTimeout:    time.Duration(getenvInt("LUMINA_QDRANT_TIMEOUT_SECONDS", 30)) * time.Second,

		EmbeddingAPIKey:     getenv("LUMINA_EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL:    getenv("LUMINA_EMBEDDING_BASE_URL", ""),
		EmbeddingModel:      getenv("LUMINA_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getenvInt("LUMINA_EMBEDDING_DIMENSIONS", 1536),
		EmbeddingBatchSize:  getenvInt("LUMINA_EMBEDDING_BATCH_SIZE", 64),

		RedisHost:     getenv("LUMINA_REDIS_HOST", "localhost"),
		RedisPort:     getenvInt("LUMINA_REDIS_PORT", 6379),
		RedisPassword: getenv("LUMINA_REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("LUMINA_REDIS_DB", 0),

		ChunkSize:    getenvInt("LUMINA_CHUNK_SIZE", 1000),
		ChunkOverlap: getenvInt("LUMINA_CHUNK_OVERLAP", 200),

		MaxConcurrentQueries: getenvInt("LUMINA_MAX_CONCURRENT_QUERIES", 5),
	}
}

func getenv(k, fallback string) string {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

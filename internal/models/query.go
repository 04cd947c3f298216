package models

// UseCase is the caller's intent category; it selects the retrieval strategy.
type UseCase string

const (
	UseCaseChat         UseCase = "chat"
	UseCaseEvaluation   UseCase = "evaluation"
	UseCaseQAGeneration UseCase = "qa_generation"
	UseCaseNotes        UseCase = "notes"
)

// ParseUseCase maps a caller-supplied string to a known use case.
func ParseUseCase(s string) (UseCase, bool) {
	switch UseCase(s) {
	case UseCaseChat, UseCaseEvaluation, UseCaseQAGeneration, UseCaseNotes:
		return UseCase(s), true
	}
	return "", false
}

// QueryClassification is the result of classifying a free-text query.
type QueryClassification struct {
	UseCase         UseCase         `json:"use_case"`
	Confidence      float64         `json:"confidence"`
	MatchedKeywords []string        `json:"matched_keywords"`
	Scores          map[UseCase]int `json:"all_scores,omitempty"`
}

// Difficulty is the requested difficulty level for generated questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IntGuess is an extracted integer value with an independent confidence score.
// Value is nil when nothing was extracted (confidence 0).
type IntGuess struct {
	Value      *int    `json:"value"`
	Confidence float64 `json:"confidence"`
}

// StringGuess is an extracted string value with an independent confidence score.
type StringGuess struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

// DifficultyGuess always carries a value; it defaults to medium at 0.50.
type DifficultyGuess struct {
	Value      Difficulty `json:"value"`
	Confidence float64    `json:"confidence"`
}

// QueryMetadata is the structured intent extracted from a query.
type QueryMetadata struct {
	Chapter    IntGuess        `json:"chapter"`
	Section    StringGuess     `json:"section"`
	Topic      StringGuess     `json:"topic"`
	Difficulty DifficultyGuess `json:"difficulty"`
}

// ChunkSizePreference expresses how large retrieved chunks should be for a
// given use case.
type ChunkSizePreference string

const (
	ChunkSizeSmall  ChunkSizePreference = "small"
	ChunkSizeMedium ChunkSizePreference = "medium"
	ChunkSizeLarge  ChunkSizePreference = "large"
)

// RetrievalRequirements is the per-use-case retrieval policy. Derived per
// query, never persisted.
type RetrievalRequirements struct {
	ChunkSizePreference ChunkSizePreference `json:"chunk_size_preference"`
	SequentialContext   bool                `json:"sequential_context"`
	NumChunks           int                 `json:"num_chunks"`
	RerankingNeeded     bool                `json:"reranking_needed"`
	ContextExpansion    bool                `json:"context_expansion"`
}

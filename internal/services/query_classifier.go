package services

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"lumina-iq/internal/models"
)

// QueryClassifier maps free-text queries to a use case via keyword and regex
// scoring, and derives per-use-case retrieval requirements.
type QueryClassifier struct {
	logger *log.Logger
}

// NewQueryClassifier creates a new query classifier
func NewQueryClassifier(logger *log.Logger) *QueryClassifier {
	return &QueryClassifier{logger: logger}
}

// useCasePriority is the explicit tie-break order when keyword-match counts
// are equal: the more specific intents win over the conversational default.
var useCasePriority = []models.UseCase{
	models.UseCaseQAGeneration,
	models.UseCaseEvaluation,
	models.UseCaseNotes,
	models.UseCaseChat,
}

var useCaseKeywords = map[models.UseCase][]string{
	models.UseCaseQAGeneration: {
		"generate questions", "create questions", "make questions",
		"generate quiz", "create quiz", "make quiz",
		"generate q&a", "create q&a", "question generation",
		"generate mcq", "create mcq", "multiple choice",
		"generate test", "create test",
	},
	models.UseCaseEvaluation: {
		"evaluate", "check answer", "grade", "assess",
		"is this correct", "is this right", "verify answer",
		"check my answer", "correct answer", "validate",
		"score", "marks", "feedback on",
	},
	models.UseCaseNotes: {
		"generate notes", "create notes", "make notes",
		"summarize", "summary", "overview", "outline",
		"key points", "main points", "important points",
		"explain chapter", "explain section", "notes on",
		"give me notes",
	},
	models.UseCaseChat: {
		"how does", "tell me about", "describe",
		"can you explain", "help me understand",
	},
}

// Regex overrides fire after the keyword pass and unconditionally replace the
// result: these phrasings are unambiguous regardless of keyword density.
var classifierOverrides = []struct {
	re         *regexp.Regexp
	useCase    models.UseCase
	confidence float64
}{
	{regexp.MustCompile(`\b\d+\s+questions?\b`), models.UseCaseQAGeneration, 0.95},
	{regexp.MustCompile(`(my answer|the answer) (is|was)`), models.UseCaseEvaluation, 0.90},
	{regexp.MustCompile(`(notes? (on|for|about)|summarize (chapter|section))`), models.UseCaseNotes, 0.90},
}

var numQuestionsRe = regexp.MustCompile(`(\d+)\s+questions?`)

// Classify maps a query to a use case with a confidence score. Defaults to
// chat at confidence 0.5 when nothing matches.
func (c *QueryClassifier) Classify(query string) models.QueryClassification {
	queryLower := strings.ToLower(query)

	matches := make(map[models.UseCase][]string)
	scores := make(map[models.UseCase]int)
	for _, useCase := range useCasePriority {
		for _, keyword := range useCaseKeywords[useCase] {
			if strings.Contains(queryLower, keyword) {
				matches[useCase] = append(matches[useCase], keyword)
			}
		}
		scores[useCase] = len(matches[useCase])
	}

	classification := models.QueryClassification{
		UseCase:         models.UseCaseChat,
		Confidence:      0.5,
		MatchedKeywords: []string{},
		Scores:          scores,
	}

	best := 0
	for _, useCase := range useCasePriority {
		if scores[useCase] > best {
			best = scores[useCase]
			classification.UseCase = useCase
			classification.MatchedKeywords = matches[useCase]
		}
	}
	if best > 0 {
		classification.Confidence = 0.6 + float64(best)*0.15
		if classification.Confidence > 1.0 {
			classification.Confidence = 1.0
		}
	}

	for _, override := range classifierOverrides {
		if override.re.MatchString(queryLower) {
			classification.UseCase = override.useCase
			classification.Confidence = override.confidence
		}
	}

	c.logger.Printf("Query classified as %s (confidence %.2f, keywords %v)",
		classification.UseCase, classification.Confidence, classification.MatchedKeywords)

	return classification
}

// ExtractContextRequirements returns the retrieval policy for a use case. For
// qa_generation the chunk count scales with the number of questions asked.
func (c *QueryClassifier) ExtractContextRequirements(query string, useCase models.UseCase) models.RetrievalRequirements {
	requirements := models.RetrievalRequirements{
		ChunkSizePreference: models.ChunkSizeMedium,
		SequentialContext:   false,
		NumChunks:           5,
		RerankingNeeded:     true,
		ContextExpansion:    false,
	}

	switch useCase {
	case models.UseCaseQAGeneration:
		requirements.ChunkSizePreference = models.ChunkSizeLarge
		requirements.SequentialContext = true
		requirements.NumChunks = 15
		if match := numQuestionsRe.FindStringSubmatch(strings.ToLower(query)); match != nil {
			if n, err := strconv.Atoi(match[1]); err == nil && n > 15 {
				requirements.NumChunks = n
			}
		}

	case models.UseCaseEvaluation:
		requirements.ChunkSizePreference = models.ChunkSizeSmall
		requirements.ContextExpansion = true

	case models.UseCaseNotes:
		requirements.ChunkSizePreference = models.ChunkSizeLarge
		requirements.SequentialContext = true
		requirements.NumChunks = 20
		requirements.RerankingNeeded = false
	}

	return requirements
}

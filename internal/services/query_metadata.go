package services

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"lumina-iq/internal/models"
)

// QueryMetadataExtractor pulls structured intent out of a query: chapter
// number, section number, topic phrase and difficulty level, each with an
// independent confidence score.
type QueryMetadataExtractor struct {
	logger *log.Logger
}

// NewQueryMetadataExtractor creates a new query metadata extractor
func NewQueryMetadataExtractor(logger *log.Logger) *QueryMetadataExtractor {
	return &QueryMetadataExtractor{logger: logger}
}

var queryChapterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bchapter\s+(\d+)\b`),
	regexp.MustCompile(`\bch\.?\s*(\d+)\b`),
	regexp.MustCompile(`\bunit\s+(\d+)\b`),
	regexp.MustCompile(`\blesson\s+(\d+)\b`),
}

var querySectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsection\s+(\d+(?:\.\d+)?)\b`),
	regexp.MustCompile(`\bsec\.?\s*(\d+(?:\.\d+)?)\b`),
}

var queryTopicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:about|on|regarding|concerning)\s+(.+)`),
	regexp.MustCompile(`(?:questions? (?:on|about))\s+(.+)`),
	regexp.MustCompile(`(?:notes? (?:on|about))\s+(.+)`),
	regexp.MustCompile(`(?:explain|describe|summarize)\s+(.+)`),
}

var topicTrailerRe = regexp.MustCompile(`(?i)\s+(from|in|chapter|section).*$`)

// topicStopwords are skipped by the fallback topic heuristic.
var topicStopwords = map[string]struct{}{
	"generate": {}, "create": {}, "make": {}, "questions": {},
	"notes": {}, "about": {}, "from": {}, "chapter": {},
}

var difficultyKeywords = []struct {
	level models.Difficulty
	words []string
}{
	{models.DifficultyEasy, []string{"easy", "simple", "basic", "beginner"}},
	{models.DifficultyHard, []string{"hard", "difficult", "advanced", "complex"}},
	{models.DifficultyMedium, []string{"medium", "moderate", "intermediate"}},
}

// ExtractChapter extracts a chapter number. Explicit phrasings ("from chapter
// N" / "in chapter N") score higher than a bare mention.
func (e *QueryMetadataExtractor) ExtractChapter(query string) models.IntGuess {
	queryLower := strings.ToLower(query)

	for _, re := range queryChapterPatterns {
		match := re.FindStringSubmatch(queryLower)
		if match == nil {
			continue
		}
		num, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		confidence := 0.85
		if strings.Contains(queryLower, "from chapter") || strings.Contains(queryLower, "in chapter") {
			confidence = 0.95
		}
		return models.IntGuess{Value: &num, Confidence: confidence}
	}

	return models.IntGuess{}
}

// ExtractSection extracts a section number ("section 3.2", "sec 4").
func (e *QueryMetadataExtractor) ExtractSection(query string) models.StringGuess {
	queryLower := strings.ToLower(query)

	for _, re := range querySectionPatterns {
		if match := re.FindStringSubmatch(queryLower); match != nil {
			section := match[1]
			return models.StringGuess{Value: &section, Confidence: 0.90}
		}
	}

	return models.StringGuess{}
}

// ExtractTopic extracts the topic phrase. Falls back to the first few
// meaningful words at low confidence when no phrase pattern matches.
func (e *QueryMetadataExtractor) ExtractTopic(query string) models.StringGuess {
	queryLower := strings.ToLower(query)

	for _, re := range queryTopicPatterns {
		match := re.FindStringSubmatch(queryLower)
		if match == nil {
			continue
		}
		topic := strings.TrimSpace(topicTrailerRe.ReplaceAllString(match[1], ""))
		if topic == "" {
			continue
		}
		return models.StringGuess{Value: &topic, Confidence: 0.80}
	}

	var words []string
	for _, w := range strings.Fields(query) {
		if len(w) <= 3 {
			continue
		}
		if _, stop := topicStopwords[strings.ToLower(w)]; stop {
			continue
		}
		words = append(words, w)
		if len(words) == 5 {
			break
		}
	}
	if len(words) > 0 {
		topic := strings.Join(words, " ")
		return models.StringGuess{Value: &topic, Confidence: 0.50}
	}

	return models.StringGuess{}
}

// ExtractDifficulty extracts the requested difficulty, defaulting to medium
// at low confidence.
func (e *QueryMetadataExtractor) ExtractDifficulty(query string) models.DifficultyGuess {
	queryLower := strings.ToLower(query)

	for _, entry := range difficultyKeywords {
		for _, word := range entry.words {
			if strings.Contains(queryLower, word) {
				return models.DifficultyGuess{Value: entry.level, Confidence: 0.90}
			}
		}
	}

	return models.DifficultyGuess{Value: models.DifficultyMedium, Confidence: 0.50}
}

// ExtractAll extracts every metadata field from a query.
func (e *QueryMetadataExtractor) ExtractAll(query string) models.QueryMetadata {
	metadata := models.QueryMetadata{
		Chapter:    e.ExtractChapter(query),
		Section:    e.ExtractSection(query),
		Topic:      e.ExtractTopic(query),
		Difficulty: e.ExtractDifficulty(query),
	}

	e.logger.Printf("Extracted query metadata: chapter=%v section=%v difficulty=%s",
		intGuessValue(metadata.Chapter), stringGuessValue(metadata.Section), metadata.Difficulty.Value)

	return metadata
}

func intGuessValue(g models.IntGuess) interface{} {
	if g.Value == nil {
		return nil
	}
	return *g.Value
}

func stringGuessValue(g models.StringGuess) interface{} {
	if g.Value == nil {
		return nil
	}
	return *g.Value
}

package services

import (
	"log"
	"regexp"
	"sort"
	"strings"

	"lumina-iq/internal/models"
)

// Reranker post-processes candidate chunks: it blends vector similarity with
// an information density heuristic and greedily selects chunks while rejecting
// near-duplicates.
type Reranker struct {
	logger *log.Logger
}

// NewReranker creates a new reranker
func NewReranker(logger *log.Logger) *Reranker {
	return &Reranker{logger: logger}
}

var numberTokenRe = regexp.MustCompile(`\b\d+\.?\d*\b`)

// informativePhrases signal content worth asking questions about.
var informativePhrases = []string{
	"because", "therefore", "thus", "however", "important",
	"significant", "key", "main", "primary", "essential",
	"for example", "such as", "including", "defined as",
	"means that", "refers to", "results in", "causes",
}

var definitionMarkers = []string{
	"is defined as", "refers to", "means", "is a", "are",
}

// CalculateDensity scores how information-dense a chunk is. Factors: numeric
// tokens, informative phrases, sentence count, a length sweet spot and the
// presence of definition markers. No upper cap on the total.
func (r *Reranker) CalculateDensity(text string) float64 {
	score := 0.0
	textLower := strings.ToLower(text)

	numbers := float64(len(numberTokenRe.FindAllString(text, -1))) * 0.1
	if numbers > 1.0 {
		numbers = 1.0
	}
	score += numbers

	phraseHits := 0
	for _, phrase := range informativePhrases {
		if strings.Contains(textLower, phrase) {
			phraseHits++
		}
	}
	phrases := float64(phraseHits) * 0.15
	if phrases > 1.5 {
		phrases = 1.5
	}
	score += phrases

	sentences := float64(len(sentenceEndRe.FindAllString(text, -1))) * 0.1
	if sentences > 1.0 {
		sentences = 1.0
	}
	score += sentences

	switch length := len(text); {
	case length >= 200 && length <= 800:
		score += 1.0
	case (length >= 100 && length < 200) || (length > 800 && length <= 1200):
		score += 0.5
	}

	for _, marker := range definitionMarkers {
		if strings.Contains(textLower, marker) {
			score += 0.5
			break
		}
	}

	return score
}

// densityNormalizer is the assumed maximum density for score blending.
const densityNormalizer = 5.0

// diversityOverlapThreshold rejects a candidate whose leading text shares more
// than this fraction of words with a recently accepted chunk.
const diversityOverlapThreshold = 0.7

// Rerank orders chunks by a composite of similarity and density, then applies
// a diversity pass: a candidate is dropped when its first 200 characters share
// more than 70% of words with any of the last 3 accepted chunks. The sliding
// window keeps the check linear and tolerates topical clusters reappearing
// later in the list.
func (r *Reranker) Rerank(chunks []*models.RetrievedChunk, topK int) []*models.RetrievedChunk {
	r.logger.Printf("Reranking %d chunks", len(chunks))

	scored := make([]*models.RetrievedChunk, len(chunks))
	for i, chunk := range chunks {
		density := r.CalculateDensity(chunk.Text)
		composite := float64(chunk.Score)*0.5 + (density/densityNormalizer)*0.5

		c := *chunk
		c.DensityScore = &density
		c.CompositeScore = &composite
		scored[i] = &c
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].CompositeScore > *scored[j].CompositeScore
	})

	var diverse []*models.RetrievedChunk
	for _, chunk := range scored {
		if len(diverse) >= topK {
			break
		}

		words := prefixWordSet(chunk.Text)
		isDiverse := true

		recent := diverse
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		for _, selected := range recent {
			if wordOverlap(words, prefixWordSet(selected.Text)) > diversityOverlapThreshold {
				isDiverse = false
				break
			}
		}

		if isDiverse {
			diverse = append(diverse, chunk)
		}
	}

	r.logger.Printf("Reranked to %d diverse chunks", len(diverse))
	return diverse
}

// prefixWordSet returns the set of words in the first 200 characters.
func prefixWordSet(text string) map[string]struct{} {
	prefix := strings.ToLower(text)
	if len(prefix) > 200 {
		prefix = prefix[:200]
	}
	set := make(map[string]struct{})
	for _, w := range strings.Fields(prefix) {
		set[w] = struct{}{}
	}
	return set
}

// wordOverlap returns the fraction of candidate words present in selected.
func wordOverlap(candidate, selected map[string]struct{}) float64 {
	if len(candidate) == 0 {
		return 0
	}
	shared := 0
	for w := range candidate {
		if _, ok := selected[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(candidate))
}

// DifficultyProfile summarizes how hard a chunk set is to ask questions about.
type DifficultyProfile struct {
	Difficulty string   `json:"difficulty"`
	Levels     []string `json:"levels"`
	AvgDensity float64  `json:"avg_density"`
	AvgLength  float64  `json:"avg_length"`
}

// AnalyzeDifficulty inspects chunk density and length to suggest question
// difficulty and matching Bloom's taxonomy levels.
func (r *Reranker) AnalyzeDifficulty(chunks []*models.RetrievedChunk) DifficultyProfile {
	if len(chunks) == 0 {
		return DifficultyProfile{Difficulty: "medium", Levels: []string{}}
	}

	totalDensity := 0.0
	totalLength := 0
	for _, chunk := range chunks {
		totalDensity += r.CalculateDensity(chunk.Text)
		totalLength += len(chunk.Text)
	}
	avgDensity := totalDensity / float64(len(chunks))
	avgLength := float64(totalLength) / float64(len(chunks))

	profile := DifficultyProfile{AvgDensity: avgDensity, AvgLength: avgLength}
	switch {
	case avgDensity > 3.0 && avgLength > 500:
		profile.Difficulty = "advanced"
		profile.Levels = []string{"Analyzing", "Evaluating", "Creating"}
	case avgDensity > 2.0:
		profile.Difficulty = "medium"
		profile.Levels = []string{"Understanding", "Applying", "Analyzing"}
	default:
		profile.Difficulty = "basic"
		profile.Levels = []string{"Remembering", "Understanding"}
	}

	return profile
}

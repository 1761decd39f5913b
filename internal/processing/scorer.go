package processing

import (
	"regexp"
	"sort"
	"strings"

	"harmonia/internal/models"
	"harmonia/internal/prompts"
)

// ConfidenceFactors breaks down how a candidate memory was scored.
type ConfidenceFactors struct {
	LLMConfidence       float64 `json:"llm_confidence"`
	ContentQuality      float64 `json:"content_quality"`
	EntitySupport       float64 `json:"entity_support"`
	ContextRelevance    float64 `json:"context_relevance"`
	TemporalConsistency float64 `json:"temporal_consistency"`
	SourceReliability   float64 `json:"source_reliability"`
	ComplexityBonus     float64 `json:"complexity_bonus"`
	LengthPenalty       float64 `json:"length_penalty"`
	FinalScore          float64 `json:"final_score"`
}

// ScoringContext carries the signals available when scoring a candidate.
type ScoringContext struct {
	OriginalMessage   string
	ExtractedEntities []Entity
	Preprocessed      *PreprocessedMessage
	UserMessageCount  int
}

// positiveQualityCues are indicator groups; any word from a group counts
// that group once.
var positiveQualityCues = [][]string{
	{"specific", "names"},
	{"exact", "numbers"},
	{"precise", "dates"},
	{"detailed", "descriptions"},
	{"explicit", "statements"},
	{"clear", "relationships"},
	{"concrete", "actions"},
}

var negativeQualityTerms = []string{
	"vague", "maybe", "perhaps", "might", "could be", "not sure",
	"unclear", "ambiguous", "contradictory",
}

var temporalConsistencyMarkers = []string{
	"yesterday", "today", "tomorrow", "monday", "tuesday",
	"wednesday", "thursday", "friday", "saturday", "sunday",
}

var temporalDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}`),
	regexp.MustCompile(`\d{1,2}:\d{2}`),
	regexp.MustCompile(`\b\d+\s+(?:days?|weeks?|months?|years?)\b`),
}

// ConfidenceScorer combines LLM confidence with content signals into a
// final per-memory confidence.
type ConfidenceScorer struct{}

func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{}
}

// Score computes a confidence breakdown for one candidate memory.
func (s *ConfidenceScorer) Score(mem *prompts.ExtractedMemory, ctx *ScoringContext) ConfidenceFactors {
	if ctx == nil {
		ctx = &ScoringContext{}
	}

	factors := ConfidenceFactors{
		LLMConfidence:       mem.Confidence,
		ContentQuality:      scoreContentQuality(mem),
		EntitySupport:       scoreEntitySupport(mem, ctx),
		ContextRelevance:    scoreContextRelevance(mem, ctx),
		TemporalConsistency: scoreTemporalConsistency(mem),
		SourceReliability:   scoreSourceReliability(ctx),
		ComplexityBonus:     complexityBonus(mem),
		LengthPenalty:       lengthPenalty(mem),
	}

	weighted := factors.LLMConfidence*0.30 +
		factors.ContentQuality*0.20 +
		factors.EntitySupport*0.15 +
		factors.ContextRelevance*0.15 +
		factors.TemporalConsistency*0.10 +
		factors.SourceReliability*0.10

	final := weighted*0.8 + mem.MemoryType.Baseline()*0.2
	final += factors.ComplexityBonus
	final -= factors.LengthPenalty
	factors.FinalScore = clamp01(final)
	return factors
}

// ScoreAll scores every candidate and returns the factors sorted by final
// score, highest first.
func (s *ConfidenceScorer) ScoreAll(memories []prompts.ExtractedMemory, ctx *ScoringContext) []ConfidenceFactors {
	scored := make([]ConfidenceFactors, len(memories))
	for i := range memories {
		scored[i] = s.Score(&memories[i], ctx)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].FinalScore > scored[j].FinalScore })
	return scored
}

// Level maps a score to a coarse confidence label.
func (s *ConfidenceScorer) Level(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.6:
		return "medium"
	case score >= 0.4:
		return "low"
	default:
		return "unreliable"
	}
}

func scoreContentQuality(mem *prompts.ExtractedMemory) float64 {
	content := strings.ToLower(mem.Content)
	score := 0.5

	for _, cue := range positiveQualityCues {
		for _, word := range cue {
			if strings.Contains(content, word) {
				score += 0.1
				break
			}
		}
	}
	for _, term := range negativeQualityTerms {
		if strings.Contains(content, term) {
			score -= 0.15
		}
	}

	if len(mem.Entities) > 0 {
		score += 0.1
	}
	if mem.TemporalInfo != "" {
		score += 0.1
	}

	wordCount := len(strings.Fields(mem.Content))
	switch {
	case wordCount >= 5 && wordCount <= 20:
		score += 0.1
	case wordCount < 3:
		score -= 0.2
	case wordCount > 30:
		score -= 0.1
	}

	return clamp01(score)
}

func scoreEntitySupport(mem *prompts.ExtractedMemory, ctx *ScoringContext) float64 {
	if len(mem.Entities) == 0 {
		return 0.3
	}

	score := 0.4 + float64(len(mem.Entities))*0.1
	if score > 0.8 {
		score = 0.8
	}

	// Candidates whose entities were independently detected score higher.
	for _, me := range mem.Entities {
		lower := strings.ToLower(me)
		for _, ee := range ctx.ExtractedEntities {
			if strings.Contains(strings.ToLower(ee.Text), lower) {
				score += 0.1
				break
			}
		}
	}

	return clamp01(score)
}

func scoreContextRelevance(mem *prompts.ExtractedMemory, ctx *ScoringContext) float64 {
	original := strings.ToLower(ctx.OriginalMessage)
	content := strings.ToLower(mem.Content)
	if original == "" {
		return 0.5
	}

	messageWords := wordSet(original)
	memoryWords := wordSet(content)
	if len(messageWords) == 0 || len(memoryWords) == 0 {
		return 0.2
	}

	overlap := 0
	union := len(messageWords)
	for w := range memoryWords {
		if messageWords[w] {
			overlap++
		} else {
			union++
		}
	}

	score := float64(overlap) / float64(union) * 2
	if score > 0.9 {
		score = 0.9
	}
	if strings.Contains(original, strings.TrimSpace(content)) {
		score += 0.1
	}
	return clamp01(score)
}

func scoreTemporalConsistency(mem *prompts.ExtractedMemory) float64 {
	if mem.TemporalInfo == "" {
		return 0.7
	}
	info := strings.ToLower(mem.TemporalInfo)
	score := 0.5

	for _, marker := range temporalConsistencyMarkers {
		if strings.Contains(info, marker) {
			score += 0.3
			break
		}
	}
	for _, pattern := range temporalDatePatterns {
		if pattern.MatchString(info) {
			score += 0.2
			break
		}
	}
	return clamp01(score)
}

func scoreSourceReliability(ctx *ScoringContext) float64 {
	score := 0.7

	if pre := ctx.Preprocessed; pre != nil {
		if pre.ComplexityScore > 0.6 {
			score += 0.1
		}
		if pre.ContainsPII {
			score -= 0.1
		}
		if pre.WordCount >= 5 && pre.WordCount <= 50 {
			score += 0.1
		}
	}
	if ctx.UserMessageCount > 10 {
		score += 0.1
	}

	if score < 0.2 {
		score = 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func complexityBonus(mem *prompts.ExtractedMemory) float64 {
	bonus := 0.0
	if len(mem.Entities) > 1 {
		bonus += 0.05
	}
	if len(mem.Relationships) > 0 {
		bonus += 0.05
	}
	if len(mem.Context) > 10 {
		bonus += 0.05
	}
	if mem.TemporalInfo != "" {
		bonus += 0.05
	}
	if bonus > 0.2 {
		bonus = 0.2
	}
	return bonus
}

func lengthPenalty(mem *prompts.ExtractedMemory) float64 {
	wordCount := len(strings.Fields(mem.Content))
	charCount := len(mem.Content)

	penalty := 0.0
	switch {
	case wordCount < 3:
		penalty += 0.2
	case wordCount < 5:
		penalty += 0.1
	}
	switch {
	case wordCount > 60:
		penalty += 0.2
	case wordCount > 40:
		penalty += 0.1
	}
	if charCount < 10 || charCount > 300 {
		penalty += 0.1
	}

	if penalty > 0.4 {
		penalty = 0.4
	}
	return penalty
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

// TypeThreshold returns the acceptance threshold for a memory type; a few
// types that tend to be phrased indirectly get a lower bar.
func TypeThreshold(mt models.MemoryType, defaultThreshold float64) float64 {
	switch mt {
	case models.MemoryTypePersonal, models.MemoryTypeSkill, models.MemoryTypePreference:
		return 0.5
	default:
		return defaultThreshold
	}
}

package processing

import (
	"testing"

	"harmonia/internal/models"
	"harmonia/internal/prompts"
)

func TestScoreBounds(t *testing.T) {
	s := NewConfidenceScorer()

	candidates := []prompts.ExtractedMemory{
		{Content: "x", MemoryType: models.MemoryTypeFactual, Confidence: 0.0},
		{Content: "User works at Google as a software engineer", MemoryType: models.MemoryTypeFactual, Confidence: 1.0, Entities: []string{"Google"}},
		{Content: "maybe vague unclear", MemoryType: models.MemoryTypeEpisodic, Confidence: 0.3},
	}

	for _, c := range candidates {
		factors := s.Score(&c, nil)
		if factors.FinalScore < 0 || factors.FinalScore > 1 {
			t.Errorf("final score for %q = %f, out of range", c.Content, factors.FinalScore)
		}
	}
}

func TestContentQualityPositiveCues(t *testing.T) {
	plain := prompts.ExtractedMemory{Content: "User enjoys weekend trips with friends"}
	cued := prompts.ExtractedMemory{Content: "User gave the exact dates and specific names for the trip"}

	plainScore := scoreContentQuality(&plain)
	cuedScore := scoreContentQuality(&cued)
	if cuedScore <= plainScore {
		t.Errorf("definite phrasing scored %f, hedge-free baseline %f", cuedScore, plainScore)
	}
}

func TestScoreRichCandidateBeatsWeak(t *testing.T) {
	s := NewConfidenceScorer()
	message := "My sister Maria works at Fidelity in Boston and loves hiking on weekends"
	ctx := &ScoringContext{
		OriginalMessage: message,
		Preprocessed:    NewPreprocessor().Preprocess(message),
	}

	rich := prompts.ExtractedMemory{
		Content:      "User's sister Maria works at Fidelity in Boston",
		MemoryType:   models.MemoryTypeRelational,
		Confidence:   0.9,
		Entities:     []string{"Maria", "Fidelity", "Boston"},
		TemporalInfo: "weekends",
		Context:      "family and career discussion",
	}
	weak := prompts.ExtractedMemory{
		Content:    "maybe likes something",
		MemoryType: models.MemoryTypeEpisodic,
		Confidence: 0.3,
	}

	richScore := s.Score(&rich, ctx).FinalScore
	weakScore := s.Score(&weak, ctx).FinalScore
	if richScore <= weakScore {
		t.Errorf("rich candidate %f should outrank weak candidate %f", richScore, weakScore)
	}
}

func TestScoreAllSorted(t *testing.T) {
	s := NewConfidenceScorer()
	memories := []prompts.ExtractedMemory{
		{Content: "hm", MemoryType: models.MemoryTypeEpisodic, Confidence: 0.2},
		{Content: "User is a senior Go engineer at Stripe", MemoryType: models.MemoryTypeFactual, Confidence: 0.95, Entities: []string{"Stripe"}},
		{Content: "User enjoys cooking Italian food", MemoryType: models.MemoryTypePreference, Confidence: 0.7},
	}

	scored := s.ScoreAll(memories, nil)
	for i := 1; i < len(scored); i++ {
		if scored[i].FinalScore > scored[i-1].FinalScore {
			t.Errorf("scores not sorted descending: %f before %f", scored[i-1].FinalScore, scored[i].FinalScore)
		}
	}
}

func TestLevel(t *testing.T) {
	s := NewConfidenceScorer()

	tests := []struct {
		score float64
		want  string
	}{
		{0.95, "high"},
		{0.8, "high"},
		{0.7, "medium"},
		{0.5, "low"},
		{0.2, "unreliable"},
	}
	for _, tt := range tests {
		if got := s.Level(tt.score); got != tt.want {
			t.Errorf("Level(%f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestLengthPenaltyCaps(t *testing.T) {
	tiny := prompts.ExtractedMemory{Content: "no"}
	if p := lengthPenalty(&tiny); p < 0.2 {
		t.Errorf("penalty for two-char content = %f, want >= 0.2", p)
	}

	long := prompts.ExtractedMemory{Content: repeatWords("word", 80)}
	if p := lengthPenalty(&long); p > 0.4 {
		t.Errorf("penalty = %f, exceeds cap 0.4", p)
	}
}

func TestComplexityBonusCap(t *testing.T) {
	mem := prompts.ExtractedMemory{
		Content:       "User works with Maria and Jake on the platform team",
		Entities:      []string{"Maria", "Jake"},
		Relationships: []string{"colleague"},
		Context:       "long enough context string",
		TemporalInfo:  "every monday",
	}
	if b := complexityBonus(&mem); b != 0.2 {
		t.Errorf("fully loaded candidate bonus = %f, want capped 0.2", b)
	}
}

func TestTypeThreshold(t *testing.T) {
	tests := []struct {
		mt   models.MemoryType
		want float64
	}{
		{models.MemoryTypePersonal, 0.5},
		{models.MemoryTypeSkill, 0.5},
		{models.MemoryTypePreference, 0.5},
		{models.MemoryTypeFactual, 0.7},
		{models.MemoryTypeGoal, 0.7},
	}
	for _, tt := range tests {
		if got := TypeThreshold(tt.mt, 0.7); got != tt.want {
			t.Errorf("TypeThreshold(%s) = %f, want %f", tt.mt, got, tt.want)
		}
	}
}

func repeatWords(w string, n int) string {
	out := w
	for i := 1; i < n; i++ {
		out += " " + w
	}
	return out
}

package search

import (
	"strings"
	"testing"
	"time"

	"harmonia/internal/models"
)

func bm25Memory(content string, conf float64, age time.Duration) *models.Memory {
	return &models.Memory{
		MemoryID:        "m",
		UserID:          "u",
		Content:         content,
		Category:        models.MemoryTypeFactual,
		ConfidenceScore: conf,
		CreatedAt:       time.Now().Add(-age),
		IsActive:        true,
	}
}

func testCorpus() *corpusStats {
	return &corpusStats{
		TotalDocs:    100,
		AvgDocLength: 40,
		TermDocFreq: map[string]int{
			"espresso": 3,
			"the":      95,
			"likes":    60,
		},
	}
}

func TestBM25RareTermScoresHigher(t *testing.T) {
	stats := testCorpus()

	rare := bm25Score(bm25Memory("User likes espresso", 1.0, 0), "espresso", stats)
	common := bm25Score(bm25Memory("User likes the morning", 1.0, 0), "the", stats)
	if rare <= common {
		t.Errorf("rare term score %f should beat common term score %f", rare, common)
	}
}

func TestBM25NoMatchFloor(t *testing.T) {
	stats := testCorpus()
	score := bm25Score(bm25Memory("User plays tennis", 1.0, 0), "espresso", stats)
	if score != minRelevance {
		t.Errorf("no-match score = %f, want floor %f", score, minRelevance)
	}
}

func TestBM25ConfidenceScaling(t *testing.T) {
	stats := testCorpus()
	m1 := bm25Memory("User likes espresso", 1.0, 0)
	m2 := bm25Memory("User likes espresso", 0.5, 0)

	s1 := bm25Score(m1, "espresso", stats)
	s2 := bm25Score(m2, "espresso", stats)
	if s2 >= s1 {
		t.Errorf("low-confidence score %f should be below %f", s2, s1)
	}
}

func TestRecencyBoost(t *testing.T) {
	fresh := bm25Memory("x", 1.0, 24*time.Hour)
	stale := bm25Memory("x", 1.0, 60*24*time.Hour)

	base := 1.0
	if got := recencyBoost(base, fresh); got <= base {
		t.Errorf("fresh memory not boosted: %f", got)
	}
	if got := recencyBoost(base, stale); got != base {
		t.Errorf("stale memory boosted: %f", got)
	}
}

func TestRankResultsCategoryBoost(t *testing.T) {
	stats := testCorpus()
	pref := bm25Memory("User likes espresso", 0.8, 0)
	pref.Category = models.MemoryTypePreference
	pref.MemoryID = "pref"
	fact := bm25Memory("User likes espresso", 0.8, 0)
	fact.MemoryID = "fact"

	results := rankResults([]*models.Memory{fact, pref}, "espresso",
		stats, &Options{SortBy: SortRelevance, BoostCategories: []models.MemoryType{models.MemoryTypePreference}})

	if results[0].Memory.MemoryID != "pref" {
		t.Errorf("boosted category did not rank first: %s", results[0].Memory.MemoryID)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", results[0].Rank, results[1].Rank)
	}
}

func TestSnippet(t *testing.T) {
	short := "User likes espresso"
	if got := Snippet(short, "espresso", 200); got != short {
		t.Errorf("short content modified: %q", got)
	}

	long := strings.Repeat("padding words here ", 20) + "espresso appears late" + strings.Repeat(" trailing", 10)
	got := Snippet(long, "espresso", 100)
	if !strings.Contains(got, "espresso") {
		t.Errorf("snippet misses query term: %q", got)
	}
	if !strings.HasPrefix(got, "...") {
		t.Errorf("truncated snippet missing leading ellipsis: %q", got)
	}
	if len(got) > 110 {
		t.Errorf("snippet too long: %d chars", len(got))
	}
}

func TestHighlights(t *testing.T) {
	got := highlights("User likes espresso in the morning", "espresso tennis morning")
	if len(got) != 2 {
		t.Fatalf("highlights = %v, want espresso and morning", got)
	}
	if got[0] != "espresso" || got[1] != "morning" {
		t.Errorf("highlights = %v", got)
	}
}

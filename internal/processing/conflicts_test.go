package processing

import (
	"testing"
	"time"

	"harmonia/internal/models"
)

func testMemory(id, content string, conf float64, createdAt time.Time) *models.Memory {
	return &models.Memory{
		MemoryID:        id,
		UserID:          "user-1",
		Content:         content,
		Category:        models.MemoryTypePreference,
		ConfidenceScore: conf,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
		IsActive:        true,
	}
}

func TestSimilarityIdentical(t *testing.T) {
	d := NewConflictDetector()

	if got := d.Similarity("User likes coffee", "user likes coffee!"); got != 1.0 {
		t.Errorf("normalized-equal similarity = %f, want 1.0", got)
	}
	if got := d.Similarity("", "anything"); got != 0 {
		t.Errorf("empty similarity = %f, want 0", got)
	}
}

func TestSimilarityOrdering(t *testing.T) {
	d := NewConflictDetector()

	close := d.Similarity("User likes strong coffee", "User likes coffee")
	far := d.Similarity("User likes strong coffee", "User plays tennis on weekends")
	if close <= far {
		t.Errorf("similar pair %f should score above unrelated pair %f", close, far)
	}
}

func TestDetectExactDuplicate(t *testing.T) {
	d := NewConflictDetector()
	now := time.Now()

	newMem := testMemory("new", "User likes coffee", 0.9, now)
	existing := testMemory("old", "user likes coffee", 0.8, now.Add(-time.Hour))

	conflicts := d.Detect(newMem, []*models.Memory{existing})
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != models.ConflictExactDuplicate {
		t.Errorf("type = %s, want exact_duplicate", c.Type)
	}
	if c.Severity != models.SeverityLow {
		t.Errorf("severity = %s, want low", c.Severity)
	}
	if c.SuggestedAction != "update_timestamp" {
		t.Errorf("suggested action = %s", c.SuggestedAction)
	}
}

func TestDetectContradiction(t *testing.T) {
	d := NewConflictDetector()
	now := time.Now()

	newMem := testMemory("new", "User doesn't like coffee anymore", 0.9, now)
	existing := testMemory("old", "User likes coffee", 0.8, now.Add(-24*time.Hour))

	conflicts := d.Detect(newMem, []*models.Memory{existing})
	if len(conflicts) == 0 {
		t.Fatal("no conflicts detected")
	}
	if conflicts[0].Type != models.ConflictContradiction {
		t.Errorf("type = %s, want contradiction", conflicts[0].Type)
	}
	if conflicts[0].Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", conflicts[0].Severity)
	}
}

func TestDetectUpdateNeeded(t *testing.T) {
	d := NewConflictDetector()
	now := time.Now()

	newMem := testMemory("new", "User now works at Google", 0.9, now)
	existing := testMemory("old", "User works at Google", 0.8, now.Add(-48*time.Hour))

	conflicts := d.Detect(newMem, []*models.Memory{existing})
	if len(conflicts) == 0 {
		t.Fatal("no conflicts detected")
	}
	if conflicts[0].Type != models.ConflictUpdateNeeded {
		t.Errorf("type = %s, want update_needed", conflicts[0].Type)
	}
}

func TestDetectSkipsInactive(t *testing.T) {
	d := NewConflictDetector()
	now := time.Now()

	existing := testMemory("old", "User likes coffee", 0.8, now.Add(-time.Hour))
	existing.IsActive = false

	newMem := testMemory("new", "User likes coffee", 0.9, now)
	if conflicts := d.Detect(newMem, []*models.Memory{existing}); len(conflicts) != 0 {
		t.Errorf("inactive memory produced %d conflicts, want 0", len(conflicts))
	}
}

func TestDetectTemporalOverlap(t *testing.T) {
	d := NewConflictDetector()
	now := time.Now()

	ts1 := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)
	ts2 := ts1.Add(time.Hour)

	newMem := testMemory("new", "Dentist appointment downtown", 0.9, now)
	newMem.Timestamp = &ts2
	existing := testMemory("old", "Team standup with the whole group", 0.8, now.Add(-time.Hour))
	existing.Timestamp = &ts1

	conflicts := d.Detect(newMem, []*models.Memory{existing})
	if len(conflicts) == 0 {
		t.Fatal("no conflicts detected")
	}
	if conflicts[0].Type != models.ConflictTemporalOverlap {
		t.Errorf("type = %s, want temporal_overlap", conflicts[0].Type)
	}
}

func TestDetectSeverityOrdering(t *testing.T) {
	d := NewConflictDetector()
	now := time.Now()

	newMem := testMemory("new", "User doesn't like coffee", 0.9, now)
	similar := testMemory("sim", "User doesn't like tea", 0.7, now.Add(-time.Hour))
	contradicting := testMemory("con", "User likes coffee", 0.8, now.Add(-24*time.Hour))

	conflicts := d.Detect(newMem, []*models.Memory{similar, contradicting})
	if len(conflicts) < 2 {
		t.Fatalf("got %d conflicts, want 2", len(conflicts))
	}
	if conflicts[0].Severity.Rank() < conflicts[1].Severity.Rank() {
		t.Errorf("conflicts not ordered by severity: %s before %s", conflicts[0].Severity, conflicts[1].Severity)
	}
}

func TestIsContradictionPairs(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"User likes coffee", "User doesn't like coffee", true},
		{"User loves coffee", "User hates coffee", true},
		{"User is married", "User is single", true},
		{"User works at Google", "User is unemployed", true},
		{"User lives in Boston", "User moved from Boston", true},
		{"User likes coffee", "User likes tea", false},
	}
	for _, tt := range tests {
		if got := isContradiction(tt.a, tt.b); got != tt.want {
			t.Errorf("isContradiction(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	d := NewConflictDetector()

	summary := d.Summary(nil)
	if summary["total_conflicts"] != 0 {
		t.Errorf("empty summary total = %v", summary["total_conflicts"])
	}

	conflicts := []*models.Conflict{
		{Type: models.ConflictExactDuplicate, Severity: models.SeverityLow, Similarity: 0.97},
		{Type: models.ConflictContradiction, Severity: models.SeverityHigh, Similarity: 0.7},
	}
	summary = d.Summary(conflicts)
	if summary["total_conflicts"] != 2 {
		t.Errorf("total = %v, want 2", summary["total_conflicts"])
	}
	if summary["highest_similarity"] != 0.97 {
		t.Errorf("highest_similarity = %v, want 0.97", summary["highest_similarity"])
	}
}

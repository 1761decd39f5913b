package models

import (
	"strings"
	"testing"
	"time"
)

func validMemory() *Memory {
	now := time.Now()
	return &Memory{
		MemoryID:        "mem-1",
		UserID:          "alice",
		Content:         "User works at Google",
		Category:        MemoryTypeFactual,
		ConfidenceScore: 0.9,
		CreatedAt:       now,
		UpdatedAt:       now,
		IsActive:        true,
	}
}

func TestMemoryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Memory)
		wantErr bool
	}{
		{"valid", func(m *Memory) {}, false},
		{"missing id", func(m *Memory) { m.MemoryID = "" }, true},
		{"missing user", func(m *Memory) { m.UserID = "" }, true},
		{"blank content", func(m *Memory) { m.Content = "   " }, true},
		{"content too long", func(m *Memory) { m.Content = strings.Repeat("a", MaxContentLength+1) }, true},
		{"bad category", func(m *Memory) { m.Category = "vibes" }, true},
		{"confidence below range", func(m *Memory) { m.ConfidenceScore = -0.1 }, true},
		{"confidence above range", func(m *Memory) { m.ConfidenceScore = 1.1 }, true},
		{"confidence at bounds", func(m *Memory) { m.ConfidenceScore = 1.0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMemory()
			tt.mutate(m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseMemoryType(t *testing.T) {
	tests := []struct {
		input   string
		want    MemoryType
		wantErr bool
	}{
		{"personal", MemoryTypePersonal, false},
		{"  Factual ", MemoryTypeFactual, false},
		{"TEMPORAL", MemoryTypeTemporal, false},
		{"unknown", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMemoryType(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMemoryType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMemoryType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestBaselineConfidence(t *testing.T) {
	for _, mt := range AllMemoryTypes {
		b := mt.Baseline()
		if b < 0.70 || b > 0.90 {
			t.Errorf("baseline for %s = %f, want within [0.70, 0.90]", mt, b)
		}
	}
	if got := MemoryType("nope").Baseline(); got != 0.70 {
		t.Errorf("unknown type baseline = %f, want 0.70", got)
	}
}

func TestRelatedMemories(t *testing.T) {
	m := validMemory()
	if got := m.RelatedMemories(); got != nil {
		t.Errorf("expected no related memories, got %v", got)
	}

	m.AddRelatedMemory("mem-2")
	m.AddRelatedMemory("mem-3")
	m.AddRelatedMemory("mem-2") // duplicate ignored

	got := m.RelatedMemories()
	if len(got) != 2 || got[0] != "mem-2" || got[1] != "mem-3" {
		t.Errorf("RelatedMemories() = %v, want [mem-2 mem-3]", got)
	}
}

func TestMetadataJSON(t *testing.T) {
	m := validMemory()
	s, err := m.MetadataJSON()
	if err != nil {
		t.Fatalf("MetadataJSON() error = %v", err)
	}
	if s != "{}" {
		t.Errorf("empty metadata serialized as %q, want {}", s)
	}

	m.Metadata = map[string]interface{}{"source": "chat"}
	s, err = m.MetadataJSON()
	if err != nil {
		t.Fatalf("MetadataJSON() error = %v", err)
	}
	if !strings.Contains(s, `"source":"chat"`) {
		t.Errorf("MetadataJSON() = %q, missing source field", s)
	}
}

func TestSeverityRank(t *testing.T) {
	if SeverityHigh.Rank() <= SeverityMedium.Rank() || SeverityMedium.Rank() <= SeverityLow.Rank() {
		t.Error("severity ranks must be strictly ordered high > medium > low")
	}
}

package prompts

import (
	"strings"
	"testing"

	"harmonia/internal/models"
)

func testContext() *Context {
	return &Context{
		UserID:              "alice",
		SessionID:           "sess-1",
		MessageText:         "I work at Google",
		Mode:                models.ExtractionModerate,
		MemoryTypes:         models.AllMemoryTypes,
		MaxMemories:         10,
		ConfidenceThreshold: 0.7,
	}
}

func TestSystemPromptModes(t *testing.T) {
	b := NewBuilder()

	tests := []struct {
		mode     models.ExtractionMode
		contains string
		excludes string
	}{
		{models.ExtractionStrict, "Only extract explicit", "weak inferences"},
		{models.ExtractionModerate, "Balance accuracy with completeness", "Only extract explicit"},
		{models.ExtractionPermissive, "Include weak inferences", "Only extract explicit"},
	}

	for _, tt := range tests {
		ctx := testContext()
		ctx.Mode = tt.mode
		prompt := b.SystemPrompt(ctx)
		if !strings.Contains(prompt, tt.contains) {
			t.Errorf("mode %s: prompt missing %q", tt.mode, tt.contains)
		}
		if strings.Contains(prompt, tt.excludes) {
			t.Errorf("mode %s: prompt should not contain %q", tt.mode, tt.excludes)
		}
		if !strings.Contains(prompt, "personal, factual") {
			t.Errorf("mode %s: prompt missing memory types list", tt.mode)
		}
	}
}

func TestUserPromptPreviousMemories(t *testing.T) {
	b := NewBuilder()

	ctx := testContext()
	prompt := b.UserPrompt(ctx)
	if strings.Contains(prompt, "PREVIOUS MEMORIES") {
		t.Error("prompt should omit previous-memories block when none exist")
	}

	ctx.PreviousMemories = []map[string]interface{}{{"content": "User has a cat"}}
	prompt = b.UserPrompt(ctx)
	if !strings.Contains(prompt, "PREVIOUS MEMORIES") || !strings.Contains(prompt, "User has a cat") {
		t.Error("prompt missing previous-memories context")
	}
}

func TestTypePrompt(t *testing.T) {
	b := NewBuilder()
	prompt, err := b.TypePrompt(models.MemoryTypePreference, testContext())
	if err != nil {
		t.Fatalf("TypePrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "PREFERENCE memories") {
		t.Error("type prompt missing preference focus")
	}
	if _, err := b.TypePrompt("bogus", testContext()); err == nil {
		t.Error("TypePrompt(bogus) should fail")
	}
}

func TestParseResponse(t *testing.T) {
	raw := `{
		"memories": [
			{"content": "User works at Google", "memory_type": "factual", "confidence": 0.9},
			{"content": "User has a cat", "memory_type": "relational", "confidence": 0.8, "entities": ["cat"]}
		],
		"extraction_confidence": 0.85,
		"reasoning": "two clear facts"
	}`

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if len(resp.Memories) != 2 {
		t.Fatalf("memories = %d, want 2", len(resp.Memories))
	}
	if resp.Memories[0].MemoryType != models.MemoryTypeFactual {
		t.Errorf("memory type = %s, want factual", resp.Memories[0].MemoryType)
	}
	if resp.ExtractionConfidence != 0.85 {
		t.Errorf("extraction confidence = %f, want 0.85", resp.ExtractionConfidence)
	}
}

func TestParseResponseCodeFence(t *testing.T) {
	raw := "```json\n{\"memories\": [], \"extraction_confidence\": 0.5, \"reasoning\": \"\"}\n```"
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if len(resp.Memories) != 0 {
		t.Errorf("memories = %d, want 0", len(resp.Memories))
	}
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I extracted some memories!"},
		{"missing memories field", `{"extraction_confidence": 0.5}`},
		{"missing content", `{"memories": [{"memory_type": "factual", "confidence": 0.9}]}`},
		{"unknown type", `{"memories": [{"content": "x", "memory_type": "vibes", "confidence": 0.9}]}`},
		{"confidence out of range", `{"memories": [{"content": "x", "memory_type": "factual", "confidence": 1.5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResponse(tt.raw); err == nil {
				t.Error("ParseResponse() should fail")
			}
		})
	}
}

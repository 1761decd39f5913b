package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MemoryType classifies an extracted memory. The set is closed; anything the
// LLM returns outside it is rejected during validation rather than coerced.
type MemoryType string

const (
	MemoryTypePersonal   MemoryType = "personal"
	MemoryTypeFactual    MemoryType = "factual"
	MemoryTypeEmotional  MemoryType = "emotional"
	MemoryTypeProcedural MemoryType = "procedural"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeRelational MemoryType = "relational"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeGoal       MemoryType = "goal"
	MemoryTypeSkill      MemoryType = "skill"
	MemoryTypeTemporal   MemoryType = "temporal"
)

// AllMemoryTypes lists every valid memory type in a stable order.
var AllMemoryTypes = []MemoryType{
	MemoryTypePersonal,
	MemoryTypeFactual,
	MemoryTypeEmotional,
	MemoryTypeProcedural,
	MemoryTypeEpisodic,
	MemoryTypeRelational,
	MemoryTypePreference,
	MemoryTypeGoal,
	MemoryTypeSkill,
	MemoryTypeTemporal,
}

// baselineConfidence is blended into every scored memory at 20% weight.
var baselineConfidence = map[MemoryType]float64{
	MemoryTypePersonal:   0.80,
	MemoryTypeFactual:    0.85,
	MemoryTypeTemporal:   0.90,
	MemoryTypePreference: 0.75,
	MemoryTypeSkill:      0.80,
	MemoryTypeEmotional:  0.70,
	MemoryTypeEpisodic:   0.75,
	MemoryTypeRelational: 0.70,
	MemoryTypeProcedural: 0.80,
	MemoryTypeGoal:       0.75,
}

// IsValid reports whether t is one of the ten known memory types.
func (t MemoryType) IsValid() bool {
	_, ok := baselineConfidence[t]
	return ok
}

// Baseline returns the per-type baseline confidence (0.70 when unknown).
func (t MemoryType) Baseline() float64 {
	if b, ok := baselineConfidence[t]; ok {
		return b
	}
	return 0.70
}

// ParseMemoryType converts a string into a MemoryType.
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown memory type: %q", s)
	}
	return t, nil
}

// ExtractionMode controls how aggressively the LLM is asked to extract.
type ExtractionMode string

const (
	ExtractionStrict     ExtractionMode = "strict"
	ExtractionModerate   ExtractionMode = "moderate"
	ExtractionPermissive ExtractionMode = "permissive"
)

// MaxContentLength bounds the extracted statement.
const MaxContentLength = 10000

// Memory is the central record: one typed fact about one user.
type Memory struct {
	MemoryID        string                 `json:"memory_id"`
	UserID          string                 `json:"user_id"`
	Content         string                 `json:"content"`
	OriginalMessage string                 `json:"original_message,omitempty"`
	Category        MemoryType             `json:"category"`
	ConfidenceScore float64                `json:"confidence_score"`
	Timestamp       *time.Time             `json:"timestamp,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Embedding       []byte                 `json:"-"` // reserved, unused
	IsActive        bool                   `json:"is_active"`
}

// Validate checks the field constraints shared by every write path.
func (m *Memory) Validate() error {
	if m.MemoryID == "" {
		return errors.New("memory_id is required")
	}
	if m.UserID == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("content is required")
	}
	if len(m.Content) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", MaxContentLength)
	}
	if !m.Category.IsValid() {
		return fmt.Errorf("invalid category: %q", m.Category)
	}
	if m.ConfidenceScore < 0 || m.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score out of range: %f", m.ConfidenceScore)
	}
	return nil
}

// MetadataJSON serializes metadata for storage. Empty metadata becomes "{}".
func (m *Memory) MetadataJSON() (string, error) {
	if len(m.Metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// RelatedMemories returns the cross-link id list stored in metadata.
func (m *Memory) RelatedMemories() []string {
	if m.Metadata == nil {
		return nil
	}
	raw, ok := m.Metadata["related_memories"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AddRelatedMemory appends id to metadata.related_memories if not present.
func (m *Memory) AddRelatedMemory(id string) {
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	existing := m.RelatedMemories()
	for _, e := range existing {
		if e == id {
			return
		}
	}
	m.Metadata["related_memories"] = append(existing, id)
}

// UpdateType tags an audit row in memory_updates.
type UpdateType string

const (
	UpdateTypeCreate  UpdateType = "create"
	UpdateTypeUpdate  UpdateType = "update"
	UpdateTypeMerge   UpdateType = "merge"
	UpdateTypeReplace UpdateType = "replace"
	UpdateTypeArchive UpdateType = "archive"
	UpdateTypeLink    UpdateType = "link"
)

// MemoryUpdate is an append-only audit record for one memory mutation.
type MemoryUpdate struct {
	UpdateID        string     `json:"update_id"`
	MemoryID        string     `json:"memory_id"`
	PreviousContent string     `json:"previous_content,omitempty"`
	NewContent      string     `json:"new_content,omitempty"`
	UpdateType      UpdateType `json:"update_type"`
	UpdatedBy       string     `json:"updated_by"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Session groups ingest writes. Optional; retrieval never requires it.
type Session struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"message_count"`
	MemoryCount  int       `json:"memory_count"`
}

package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"harmonia/internal/models"
)

const baseSystemTemplate = `You are a memory extraction AI for the Harmonia Memory System. Your task is to analyze user messages and extract meaningful memories that should be preserved.

EXTRACTION GUIDELINES:
- EXTRACT ALL DISTINCT FACTS: Each separate piece of information should be a separate memory
- Extract memories that are personal, factual, emotional, or otherwise significant
- Focus on information that would be valuable to remember in future conversations
- Maintain accuracy - only extract what is explicitly stated or clearly implied
- Assign appropriate confidence scores (0.0-1.0) based on clarity and certainty
- Categorize memories by type: {{memory_types_list}}

CRITICAL RULE: If a message contains multiple facts, create multiple memories.

EXAMPLES:
Input: "My name is John Smith, I work at Google, I have a cat"
MUST extract 3 memories:
1. "User's name is John Smith" (personal)
2. "User works at Google" (factual)
3. "User has a cat" (relational)

EXTRACTION MODE: {{extraction_mode}}
{{#if is_strict_mode}}
- Only extract explicit, clearly stated information
- Require high confidence (>0.8) for all extractions
{{/if}}
{{#if is_moderate_mode}}
- Extract clear statements and reasonable inferences
- Balance accuracy with completeness
{{/if}}
{{#if is_permissive_mode}}
- Extract all potentially valuable information
- Include weak inferences and implications
{{/if}}

RESPONSE FORMAT:
Return a JSON object with this exact structure:
{
  "memories": [
    {
      "content": "Clear, concise description of the memory",
      "memory_type": "one of: personal, factual, emotional, procedural, episodic, relational, preference, goal, skill, temporal",
      "confidence": 0.95,
      "entities": ["person", "place", "thing"],
      "temporal_info": "time/date information if relevant",
      "context": "situational context if helpful",
      "relationships": ["connection to other concepts"]
    }
  ],
  "extraction_confidence": 0.92,
  "reasoning": "Brief explanation of extraction decisions"
}

IMPORTANT: Return ONLY valid JSON. No additional text before or after.`

const mainExtractionTemplate = `{{#if has_previous_memories}}
PREVIOUS MEMORIES FOR CONTEXT:
{{previous_memories}}

{{/if}}
USER MESSAGE TO ANALYZE:
"{{message_text}}"

EXTRACTION PARAMETERS:
- Maximum memories to extract: {{max_memories}}
- Minimum confidence threshold: {{confidence_threshold}}
- User timezone: {{user_timezone}}
- Session ID: {{session_id}}

Analyze the user message and extract relevant memories according to the guidelines. Focus on information that would be valuable for future conversations with this user.`

// typeFocus holds the per-type focused prompt bodies.
var typeFocus = map[models.MemoryType]string{
	models.MemoryTypePersonal:   "PERSONAL memories: personal information about the user, biographical details, personal characteristics or traits, individual circumstances",
	models.MemoryTypeFactual:    "FACTUAL memories: objective facts and information, data points, verifiable information, knowledge claims",
	models.MemoryTypeEmotional:  "EMOTIONAL memories: expressed feelings and emotions, emotional reactions, mood indicators, emotional states and changes",
	models.MemoryTypeProcedural: "PROCEDURAL memories: how-to information and processes, step-by-step procedures, methods and techniques, workflow descriptions",
	models.MemoryTypeEpisodic:   "EPISODIC memories: specific events and experiences, temporal occurrences, narrative episodes, situational memories",
	models.MemoryTypeRelational: "RELATIONAL memories: relationships between people, connections between concepts, social interactions, network associations",
	models.MemoryTypePreference: "PREFERENCE memories: likes and dislikes, preferences and opinions, taste and style choices, value judgments",
	models.MemoryTypeGoal:       "GOAL memories: objectives and targets, aspirations and ambitions, plans and intentions, desired outcomes",
	models.MemoryTypeSkill:      "SKILL memories: abilities and competencies, learned skills and expertise, talents and capabilities, proficiencies",
	models.MemoryTypeTemporal:   "TEMPORAL memories: time-related information, schedules and appointments, dates and deadlines, temporal patterns",
}

// Context carries everything a rendered extraction prompt needs.
type Context struct {
	UserID              string
	SessionID           string
	MessageText         string
	PreviousMemories    []map[string]interface{}
	UserTimezone        string
	Mode                models.ExtractionMode
	MemoryTypes         []models.MemoryType
	MaxMemories         int
	ConfidenceThreshold float64
	Timestamp           time.Time
}

func (c *Context) templateContext() map[string]interface{} {
	typeNames := make([]string, len(c.MemoryTypes))
	for i, t := range c.MemoryTypes {
		typeNames[i] = string(t)
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	tz := c.UserTimezone
	if tz == "" {
		tz = "UTC"
	}

	prev := make([]map[string]interface{}, len(c.PreviousMemories))
	copy(prev, c.PreviousMemories)

	return map[string]interface{}{
		"user_id":                c.UserID,
		"session_id":             c.SessionID,
		"message_text":           c.MessageText,
		"previous_memories":      prev,
		"user_timezone":          tz,
		"extraction_mode":        string(c.Mode),
		"memory_types_list":      strings.Join(typeNames, ", "),
		"max_memories":           c.MaxMemories,
		"confidence_threshold":   c.ConfidenceThreshold,
		"timestamp":              ts.Format(time.RFC3339),
		"date":                   ts.Format("2006-01-02"),
		"time":                   ts.Format("15:04:05"),
		"has_previous_memories":  len(c.PreviousMemories) > 0,
		"previous_memory_count":  len(c.PreviousMemories),
		"is_strict_mode":         c.Mode == models.ExtractionStrict,
		"is_moderate_mode":       c.Mode == models.ExtractionModerate,
		"is_permissive_mode":     c.Mode == models.ExtractionPermissive,
	}
}

// Builder renders extraction prompts from its registered templates.
type Builder struct {
	system *Template
	main   *Template
	byType map[models.MemoryType]*Template
}

// NewBuilder registers the built-in extraction templates.
func NewBuilder() *Builder {
	b := &Builder{
		system: NewTemplate("base_system", "1.0", baseSystemTemplate),
		main:   NewTemplate("main_extraction", "1.0", mainExtractionTemplate),
		byType: map[models.MemoryType]*Template{},
	}
	for mt, focus := range typeFocus {
		text := fmt.Sprintf("Focus on extracting %s.\n\nUSER MESSAGE: \"{{message_text}}\"\n\nExtract these memories following the standard JSON format.", focus)
		b.byType[mt] = NewTemplate(string(mt)+"_memory", "1.0", text)
	}
	return b
}

// SystemPrompt renders the system prompt alone.
func (b *Builder) SystemPrompt(ctx *Context) string {
	return b.system.Render(ctx.templateContext())
}

// UserPrompt renders the main extraction prompt alone.
func (b *Builder) UserPrompt(ctx *Context) string {
	return b.main.Render(ctx.templateContext())
}

// FullPrompt combines system and extraction prompts.
func (b *Builder) FullPrompt(ctx *Context) string {
	return b.SystemPrompt(ctx) + "\n\n" + b.UserPrompt(ctx)
}

// TypePrompt renders a per-type focused prompt prefixed by the system prompt.
func (b *Builder) TypePrompt(mt models.MemoryType, ctx *Context) (string, error) {
	tpl, ok := b.byType[mt]
	if !ok {
		return "", fmt.Errorf("no template for memory type %q", mt)
	}
	return b.SystemPrompt(ctx) + "\n\n" + tpl.Render(ctx.templateContext()), nil
}

// Templates returns every built-in template for registry seeding.
func (b *Builder) Templates() []*Template {
	out := []*Template{b.system, b.main}
	for _, mt := range models.AllMemoryTypes {
		out = append(out, b.byType[mt])
	}
	return out
}

// ExtractedMemory is one candidate from the LLM response.
type ExtractedMemory struct {
	Content       string            `json:"content"`
	MemoryType    models.MemoryType `json:"memory_type"`
	Confidence    float64           `json:"confidence"`
	Entities      []string          `json:"entities,omitempty"`
	TemporalInfo  string            `json:"temporal_info,omitempty"`
	Context       string            `json:"context,omitempty"`
	Relationships []string          `json:"relationships,omitempty"`
}

// ExtractionResponse is the strict JSON envelope the LLM must return.
type ExtractionResponse struct {
	Memories             []ExtractedMemory `json:"memories"`
	ExtractionConfidence float64           `json:"extraction_confidence"`
	Reasoning            string            `json:"reasoning"`
}

// ParseResponse validates and parses the raw LLM output. Any structural
// problem is a hard error; candidates with unknown types or out-of-range
// confidence fail the whole response.
func ParseResponse(raw string) (*ExtractionResponse, error) {
	trimmed := strings.TrimSpace(raw)
	// Models sometimes wrap JSON in a code fence despite instructions.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var envelope struct {
		Memories             []json.RawMessage `json:"memories"`
		ExtractionConfidence float64           `json:"extraction_confidence"`
		Reasoning            string            `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if envelope.Memories == nil {
		return nil, fmt.Errorf("response missing 'memories' field")
	}

	resp := &ExtractionResponse{
		ExtractionConfidence: envelope.ExtractionConfidence,
		Reasoning:            envelope.Reasoning,
	}

	for i, raw := range envelope.Memories {
		var mem ExtractedMemory
		if err := json.Unmarshal(raw, &mem); err != nil {
			return nil, fmt.Errorf("memory %d is malformed: %w", i, err)
		}
		if strings.TrimSpace(mem.Content) == "" {
			return nil, fmt.Errorf("memory %d missing required field 'content'", i)
		}
		if !mem.MemoryType.IsValid() {
			return nil, fmt.Errorf("memory %d has invalid memory type: %q", i, mem.MemoryType)
		}
		if mem.Confidence < 0 || mem.Confidence > 1 {
			return nil, fmt.Errorf("memory %d has invalid confidence score: %f", i, mem.Confidence)
		}
		resp.Memories = append(resp.Memories, mem)
	}

	return resp, nil
}

package processing

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"harmonia/internal/models"
)

// PreprocessedMessage is the analysis result for one incoming message.
type PreprocessedMessage struct {
	OriginalText        string                 `json:"original_text"`
	CleanedText         string                 `json:"cleaned_text"`
	WordCount           int                    `json:"word_count"`
	CharCount           int                    `json:"char_count"`
	Language            string                 `json:"language"`
	EntitiesDetected    []string               `json:"entities_detected"`
	ContainsPII         bool                   `json:"contains_pii"`
	SentimentIndicators map[string]float64     `json:"sentiment_indicators"`
	TemporalMarkers     []string               `json:"temporal_markers"`
	ComplexityScore     float64                `json:"complexity_score"`
	Metadata            map[string]interface{} `json:"preprocessing_metadata"`
}

// ExtractionHints guide the extraction pipeline based on preprocessing.
type ExtractionHints struct {
	SuggestedMemoryTypes []models.MemoryType   `json:"suggested_memory_types"`
	Mode                 models.ExtractionMode `json:"extraction_mode"`
	FocusAreas           []string              `json:"focus_areas"`
	ConfidenceAdjustment float64               `json:"confidence_adjustment"`
}

var (
	piiPatterns = map[string]*regexp.Regexp{
		"email":       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		"phone":       regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`),
		"ssn":         regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`),
		"credit_card": regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	}

	temporalMarkerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:yesterday|today|tomorrow|tonight)\b`),
		regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\b`),
		regexp.MustCompile(`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?:\s?[ap]m)?\b`),
		regexp.MustCompile(`(?i)\b(?:last|next|this)\s+(?:week|month|year|weekend)\b`),
		regexp.MustCompile(`(?i)\b\d+\s+(?:days?|weeks?|months?|years?)\s+(?:ago|from now)\b`),
	}

	basicEntityPatterns = map[string]*regexp.Regexp{
		"person":       regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`),
		"organization": regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*\s+(?:Inc|Corp|LLC|Ltd|Co)\.?\b`),
		"location":     regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\s+(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Boulevard|Blvd|City|State)\b`),
		"money":        regexp.MustCompile(`\$\d+(?:,\d{3})*(?:\.\d{2})?`),
		"percentage":   regexp.MustCompile(`\d+(?:\.\d+)?%`),
		"number":       regexp.MustCompile(`\b\d+(?:,\d{3})*(?:\.\d+)?\b`),
	}

	curlyQuotes   = regexp.MustCompile("[“”‘’`]")
	multiSpace    = regexp.MustCompile(`\s+`)
	multiBang     = regexp.MustCompile(`!{2,}`)
	multiQuestion = regexp.MustCompile(`\?{2,}`)
	multiDot      = regexp.MustCompile(`\.{3,}`)
)

var positiveWords = map[string]bool{
	"love": true, "like": true, "enjoy": true, "happy": true, "excited": true,
	"amazing": true, "great": true, "wonderful": true, "fantastic": true,
	"excellent": true, "awesome": true, "brilliant": true, "perfect": true, "beautiful": true,
}

var negativeWords = map[string]bool{
	"hate": true, "dislike": true, "angry": true, "sad": true, "frustrated": true,
	"terrible": true, "awful": true, "horrible": true, "disgusting": true,
	"annoying": true, "boring": true, "stupid": true, "worst": true,
}

// Preprocessor cleans and analyzes raw messages before extraction.
type Preprocessor struct{}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Preprocess analyzes a raw message and returns cleaned text plus signals
// used to gate extraction and pick a mode.
func (p *Preprocessor) Preprocess(messageText string) *PreprocessedMessage {
	if strings.TrimSpace(messageText) == "" {
		return emptyResult(messageText)
	}

	cleaned := cleanText(messageText)
	words := strings.Fields(cleaned)
	wordCount := len(words)
	charCount := len(cleaned)

	entities := detectBasicEntities(cleaned)
	sentiment := analyzeSentiment(cleaned)
	markers := findTemporalMarkers(cleaned)

	return &PreprocessedMessage{
		OriginalText:        messageText,
		CleanedText:         cleaned,
		WordCount:           wordCount,
		CharCount:           charCount,
		Language:            detectLanguage(cleaned),
		EntitiesDetected:    entities,
		ContainsPII:         detectPII(cleaned),
		SentimentIndicators: sentiment,
		TemporalMarkers:     markers,
		ComplexityScore:     calculateComplexity(cleaned, wordCount, len(entities)),
		Metadata: map[string]interface{}{
			"processed_at":          time.Now().Format(time.RFC3339),
			"preprocessing_version": "1.0",
		},
	}
}

func emptyResult(original string) *PreprocessedMessage {
	return &PreprocessedMessage{
		OriginalText:        original,
		Language:            "unknown",
		SentimentIndicators: map[string]float64{"positive": 0, "negative": 0, "neutral": 1},
		Metadata: map[string]interface{}{
			"processed_at":          time.Now().Format(time.RFC3339),
			"preprocessing_version": "1.0",
			"empty_message":         true,
		},
	}
}

func cleanText(text string) string {
	text = multiSpace.ReplaceAllString(strings.TrimSpace(text), " ")
	text = curlyQuotes.ReplaceAllString(text, `"`)
	text = multiBang.ReplaceAllString(text, "!")
	text = multiQuestion.ReplaceAllString(text, "?")
	text = multiDot.ReplaceAllString(text, "...")
	return text
}

func detectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}
	ascii := 0
	total := 0
	for _, r := range text {
		total++
		if r < 128 {
			ascii++
		}
	}
	if total == 0 {
		return "unknown"
	}
	if float64(ascii)/float64(total) > 0.9 {
		return "en"
	}
	return "other"
}

func detectBasicEntities(text string) []string {
	var entities []string
	for entityType, pattern := range basicEntityPatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			entities = append(entities, entityType+":"+match)
		}
	}
	return entities
}

func detectPII(text string) bool {
	for _, pattern := range piiPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

func analyzeSentiment(text string) map[string]float64 {
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		words[strings.Trim(w, ".,!?\"'")] = true
	}

	positive := 0
	negative := 0
	for w := range words {
		if positiveWords[w] {
			positive++
		}
		if negativeWords[w] {
			negative++
		}
	}

	total := positive + negative
	if total == 0 {
		return map[string]float64{"positive": 0, "negative": 0, "neutral": 1}
	}
	posRatio := float64(positive) / float64(total)
	negRatio := float64(negative) / float64(total)
	neutral := 1.0 - (posRatio + negRatio)
	if neutral < 0 {
		neutral = 0
	}
	return map[string]float64{"positive": posRatio, "negative": negRatio, "neutral": neutral}
}

func findTemporalMarkers(text string) []string {
	seen := map[string]bool{}
	var markers []string
	for _, pattern := range temporalMarkerPatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			key := strings.ToLower(match)
			if !seen[key] {
				seen[key] = true
				markers = append(markers, match)
			}
		}
	}
	return markers
}

func punctuationCount(text string) int {
	count := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			count++
		}
	}
	return count
}

func calculateComplexity(text string, wordCount, entityCount int) float64 {
	if wordCount == 0 {
		return 0
	}

	totalWordLen := 0
	for _, w := range strings.Fields(text) {
		totalWordLen += len(w)
	}
	avgWordLen := float64(totalWordLen) / float64(wordCount)
	entityDensity := float64(entityCount) / float64(wordCount)
	punctDensity := float64(punctuationCount(text)) / float64(len(text))

	wordScore := clamp01(avgWordLen / 10.0)
	entityScore := clamp01(entityDensity * 5.0)
	punctScore := clamp01(punctDensity * 10.0)

	return clamp01(wordScore*0.3 + entityScore*0.4 + punctScore*0.3)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ShouldExtract reports whether a message is worth sending to the LLM.
// Very short, punctuation-heavy, or trivially simple messages are skipped.
func (p *Preprocessor) ShouldExtract(pre *PreprocessedMessage) bool {
	if pre.WordCount == 0 {
		return false
	}
	if pre.WordCount < 3 {
		return false
	}
	if pre.CharCount > 0 {
		ratio := float64(punctuationCount(pre.CleanedText)) / float64(pre.CharCount)
		if ratio > 0.5 {
			return false
		}
	}
	if pre.ComplexityScore < 0.1 {
		return false
	}
	return true
}

// Hints derives extraction guidance from the preprocessing signals.
func (p *Preprocessor) Hints(pre *PreprocessedMessage) *ExtractionHints {
	hints := &ExtractionHints{Mode: models.ExtractionModerate}

	if len(pre.TemporalMarkers) > 0 {
		hints.SuggestedMemoryTypes = append(hints.SuggestedMemoryTypes, models.MemoryTypeTemporal)
	}
	if pre.SentimentIndicators["positive"] > 0.3 || pre.SentimentIndicators["negative"] > 0.3 {
		hints.SuggestedMemoryTypes = append(hints.SuggestedMemoryTypes,
			models.MemoryTypeEmotional, models.MemoryTypePreference)
	}
	for _, e := range pre.EntitiesDetected {
		if strings.HasPrefix(e, "person:") {
			hints.SuggestedMemoryTypes = append(hints.SuggestedMemoryTypes, models.MemoryTypeRelational)
			break
		}
	}
	if pre.ComplexityScore > 0.7 {
		hints.SuggestedMemoryTypes = append(hints.SuggestedMemoryTypes,
			models.MemoryTypeFactual, models.MemoryTypeProcedural)
	}

	if pre.ComplexityScore > 0.8 {
		hints.Mode = models.ExtractionPermissive
	} else if pre.ComplexityScore < 0.3 {
		hints.Mode = models.ExtractionStrict
	}

	if pre.ContainsPII {
		hints.FocusAreas = append(hints.FocusAreas, "handle_pii_carefully")
	}
	if len(pre.TemporalMarkers) > 0 {
		hints.FocusAreas = append(hints.FocusAreas, "temporal_information")
	}
	if len(pre.EntitiesDetected) > 0 {
		hints.FocusAreas = append(hints.FocusAreas, "entity_relationships")
	}

	if pre.WordCount > 0 && pre.WordCount < 5 {
		hints.ConfidenceAdjustment = -0.1
	} else if pre.ComplexityScore > 0.8 {
		hints.ConfidenceAdjustment = 0.1
	}

	return hints
}

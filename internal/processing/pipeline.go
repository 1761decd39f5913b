package processing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"harmonia/internal/llm"
	"harmonia/internal/metrics"
	"harmonia/internal/models"
	"harmonia/internal/prompts"
)

// ErrParse signals the LLM returned output that failed strict validation.
var ErrParse = errors.New("extraction response parse failure")

// PipelineConfig tunes the extraction pipeline.
type PipelineConfig struct {
	ConfidenceThreshold float64
	MaxMemories         int
	MaxRetries          int
	RetryDelay          time.Duration
	BatchWorkers        int
	RequestsPerSecond   float64
}

// Request is one message to run through extraction.
type Request struct {
	UserID           string
	SessionID        string
	MessageText      string
	Mode             models.ExtractionMode
	MemoryTypes      []models.MemoryType
	PreviousMemories []map[string]interface{}
	Timestamp        time.Time
}

// Result is the outcome of processing one message.
type Result struct {
	Success          bool                      `json:"success"`
	Memories         []prompts.ExtractedMemory `json:"memories"`
	ConfidenceScores []ConfidenceFactors       `json:"confidence_scores"`
	ProcessingTimeMS float64                   `json:"processing_time_ms"`
	Preprocessed     *PreprocessedMessage      `json:"preprocessing_summary"`
	Entities         []Entity                  `json:"extracted_entities"`
	Temporal         []TemporalInfo            `json:"temporal_expressions,omitempty"`
	Skipped          bool                      `json:"skipped"`
	SkipReason       string                    `json:"skip_reason,omitempty"`
	ErrorMessage     string                    `json:"error_message,omitempty"`
	Err              error                     `json:"-"`
	Metadata         map[string]interface{}    `json:"metadata,omitempty"`
}

// Pipeline runs preprocess, entity extraction, LLM extraction, scoring and
// filtering for one message at a time.
type Pipeline struct {
	client       *llm.Client
	builder      *prompts.Builder
	preprocessor *Preprocessor
	entities     *EntityExtractor
	scorer       *ConfidenceScorer
	limiter      *rate.Limiter
	cfg          PipelineConfig
}

// NewPipeline wires the pipeline components together.
func NewPipeline(client *llm.Client, cfg PipelineConfig) *Pipeline {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.MaxMemories == 0 {
		cfg.MaxMemories = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.BatchWorkers == 0 {
		cfg.BatchWorkers = 5
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}

	return &Pipeline{
		client:       client,
		builder:      prompts.NewBuilder(),
		preprocessor: NewPreprocessor(),
		entities:     NewEntityExtractor(),
		scorer:       NewConfidenceScorer(),
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cfg:          cfg,
	}
}

// Process runs the full extraction pipeline for a single message.
func (p *Pipeline) Process(ctx context.Context, req *Request) *Result {
	start := time.Now()

	pre := p.preprocessor.Preprocess(req.MessageText)
	if !p.preprocessor.ShouldExtract(pre) {
		return &Result{
			Success:          true,
			Skipped:          true,
			SkipReason:       "message not suitable for memory extraction",
			Preprocessed:     pre,
			ProcessingTimeMS: msSince(start),
		}
	}

	entities := p.entities.Extract(pre.CleanedText)
	hints := p.preprocessor.Hints(pre)

	reference := req.Timestamp
	if reference.IsZero() {
		reference = time.Now()
	}
	temporal := NewTemporalResolver(reference).ParseAll(pre.CleanedText)

	mode := req.Mode
	if mode == "" {
		mode = hints.Mode
	}
	memoryTypes := req.MemoryTypes
	if len(memoryTypes) == 0 {
		memoryTypes = hints.SuggestedMemoryTypes
	}
	if len(memoryTypes) == 0 {
		memoryTypes = models.AllMemoryTypes
	}

	promptCtx := &prompts.Context{
		UserID:              req.UserID,
		SessionID:           req.SessionID,
		MessageText:         pre.CleanedText,
		PreviousMemories:    req.PreviousMemories,
		Mode:                mode,
		MemoryTypes:         memoryTypes,
		MaxMemories:         p.cfg.MaxMemories,
		ConfidenceThreshold: p.cfg.ConfidenceThreshold,
		Timestamp:           reference,
	}

	raw, err := p.generateWithRetry(ctx, promptCtx)
	if err != nil {
		metrics.Get().RecordExtractionFailure("llm")
		return p.failedResult(pre, entities, start, err)
	}

	parsed, err := prompts.ParseResponse(raw)
	if err != nil {
		metrics.Get().RecordExtractionFailure("parse")
		return p.failedResult(pre, entities, start, fmt.Errorf("%w: %v", ErrParse, err))
	}

	scoringCtx := &ScoringContext{
		OriginalMessage:   req.MessageText,
		ExtractedEntities: entities,
		Preprocessed:      pre,
	}

	type scored struct {
		memory  prompts.ExtractedMemory
		factors ConfidenceFactors
	}
	var kept []scored
	for _, mem := range parsed.Memories {
		factors := p.scorer.Score(&mem, scoringCtx)
		factors.FinalScore = clamp01(factors.FinalScore + hints.ConfidenceAdjustment)
		mem.Confidence = factors.FinalScore

		if factors.FinalScore >= TypeThreshold(mem.MemoryType, p.cfg.ConfidenceThreshold) {
			kept = append(kept, scored{mem, factors})
		}
	}

	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			if kept[j].factors.FinalScore > kept[i].factors.FinalScore {
				kept[i], kept[j] = kept[j], kept[i]
			}
		}
	}
	if len(kept) > p.cfg.MaxMemories {
		kept = kept[:p.cfg.MaxMemories]
	}

	result := &Result{
		Success:          true,
		Preprocessed:     pre,
		Entities:         entities,
		Temporal:         temporal,
		ProcessingTimeMS: msSince(start),
		Metadata: map[string]interface{}{
			"extraction_mode":           string(mode),
			"memories_before_filtering": len(parsed.Memories),
			"memories_after_filtering":  len(kept),
			"extraction_confidence":     parsed.ExtractionConfidence,
		},
	}
	for _, s := range kept {
		result.Memories = append(result.Memories, s.memory)
		result.ConfidenceScores = append(result.ConfidenceScores, s.factors)
	}

	metrics.Get().RecordExtraction(time.Since(start).Seconds())
	log.Printf("🧠 Extracted %d memories (of %d candidates) in %.1fms for user %s",
		len(result.Memories), len(parsed.Memories), result.ProcessingTimeMS, req.UserID)
	return result
}

func (p *Pipeline) generateWithRetry(ctx context.Context, promptCtx *prompts.Context) (string, error) {
	opts := &llm.Options{Temperature: 0.1, TopP: 0.9, NumPredict: 600}
	system := p.builder.SystemPrompt(promptCtx)
	user := p.builder.UserPrompt(promptCtx)

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}

		raw, err := p.client.Generate(ctx, user, system, opts)
		if err == nil {
			return raw, nil
		}
		if errors.Is(err, llm.ErrModelNotFound) || errors.Is(err, llm.ErrUnavailable) {
			return "", err
		}
		lastErr = err
		if attempt < p.cfg.MaxRetries-1 {
			log.Printf("⚠️ Extraction attempt %d failed: %v, retrying", attempt+1, err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.cfg.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}
	return "", fmt.Errorf("memory extraction failed after %d attempts: %w", p.cfg.MaxRetries, lastErr)
}

func (p *Pipeline) failedResult(pre *PreprocessedMessage, entities []Entity, start time.Time, err error) *Result {
	log.Printf("❌ Memory extraction failed: %v", err)
	return &Result{
		Success:          false,
		Preprocessed:     pre,
		Entities:         entities,
		ProcessingTimeMS: msSince(start),
		ErrorMessage:     err.Error(),
		Err:              err,
	}
}

// ProcessBatch runs requests through a bounded worker pool, preserving the
// input order in the returned slice.
func (p *Pipeline) ProcessBatch(ctx context.Context, requests []*Request) []*Result {
	results := make([]*Result, len(requests))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.BatchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.Process(ctx, requests[i])
			}
		}()
	}

	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	log.Printf("📦 Batch processed %d messages", len(requests))
	return results
}

// Stats summarizes pipeline configuration and LLM client counters.
func (p *Pipeline) Stats() map[string]interface{} {
	return map[string]interface{}{
		"llm_stats": p.client.Stats(),
		"config": map[string]interface{}{
			"confidence_threshold": p.cfg.ConfidenceThreshold,
			"max_memories":         p.cfg.MaxMemories,
			"max_retries":          p.cfg.MaxRetries,
			"batch_workers":        p.cfg.BatchWorkers,
		},
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

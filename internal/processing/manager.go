package processing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"harmonia/internal/database"
	"harmonia/internal/metrics"
	"harmonia/internal/models"
	"harmonia/internal/prompts"
)

// StoreRequest is one ingest call into the manager.
type StoreRequest struct {
	UserID      string
	SessionID   string
	Message     string
	Metadata    map[string]interface{}
	Mode        models.ExtractionMode
	MemoryTypes []models.MemoryType
	Timestamp   time.Time
}

// StoreOutcome summarizes everything one message produced.
type StoreOutcome struct {
	Success           bool                   `json:"success"`
	Action            models.StorageAction   `json:"action"`
	Memory            *models.Memory         `json:"memory,omitempty"`
	StoredMemoryIDs   []string               `json:"stored_memory_ids,omitempty"`
	MemoriesProcessed int                    `json:"memories_processed"`
	MemoriesStored    int                    `json:"memories_stored"`
	ConflictsResolved []models.Resolution    `json:"conflicts_resolved"`
	ProcessingTimeMS  float64                `json:"processing_time_ms"`
	Results           []*models.StoreResult  `json:"results,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Error             string                 `json:"error,omitempty"`
}

// Manager orchestrates extraction, conflict handling and persistence for
// one message at a time.
type Manager struct {
	router   *database.Router
	pipeline *Pipeline
	detector *ConflictDetector
	resolver *ConflictResolver
}

// NewManager wires the store path together.
func NewManager(router *database.Router, pipeline *Pipeline, resolver *ConflictResolver) *Manager {
	return &Manager{
		router:   router,
		pipeline: pipeline,
		detector: NewConflictDetector(),
		resolver: resolver,
	}
}

// StoreFromMessage runs the full ingest flow: extract candidate memories
// from the message, then store each one with conflict resolution. The first
// stored memory becomes the primary; the rest are listed in the metadata.
func (m *Manager) StoreFromMessage(ctx context.Context, req *StoreRequest) (*StoreOutcome, error) {
	start := time.Now()

	store, err := m.router.Store(req.UserID)
	if err != nil {
		return nil, err
	}

	previous, err := store.Recent(ctx, 5)
	if err != nil {
		log.Printf("⚠️ Failed to load previous memories for context: %v", err)
	}
	var previousContext []map[string]interface{}
	for _, p := range previous {
		previousContext = append(previousContext, map[string]interface{}{
			"content":  p.Content,
			"category": string(p.Category),
		})
	}

	result := m.pipeline.Process(ctx, &Request{
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		MessageText:      req.Message,
		Mode:             req.Mode,
		MemoryTypes:      req.MemoryTypes,
		PreviousMemories: previousContext,
		Timestamp:        req.Timestamp,
	})
	if !result.Success {
		if result.Err != nil {
			return nil, fmt.Errorf("memory extraction failed: %w", result.Err)
		}
		return nil, fmt.Errorf("memory extraction failed: %s", result.ErrorMessage)
	}

	outcome := &StoreOutcome{
		Success:           true,
		Action:            models.StorageNoChange,
		ConflictsResolved: []models.Resolution{},
		Metadata:          map[string]interface{}{},
	}
	if result.Skipped {
		outcome.Metadata["skip_reason"] = result.SkipReason
	}

	reference := req.Timestamp
	if reference.IsZero() {
		reference = time.Now()
	}
	temporal := NewTemporalResolver(reference)

	for i := range result.Memories {
		extracted := &result.Memories[i]
		single := m.storeSingle(ctx, store, req, extracted, temporal)
		outcome.Results = append(outcome.Results, single)
		outcome.MemoriesProcessed++

		if single.Memory != nil && single.Action != models.StorageError && single.Action != models.StorageConflictDetected {
			outcome.MemoriesStored++
			outcome.StoredMemoryIDs = append(outcome.StoredMemoryIDs, single.Memory.MemoryID)
			if outcome.Memory == nil {
				outcome.Memory = single.Memory
				outcome.Action = single.Action
			}
		}
		outcome.ConflictsResolved = append(outcome.ConflictsResolved, single.ConflictsResolved...)
		if single.Action == models.StorageConflictDetected && outcome.Memory == nil {
			outcome.Action = models.StorageConflictDetected
		}
	}

	if req.SessionID != "" {
		if err := store.TouchSession(ctx, req.SessionID, outcome.MemoriesStored); err != nil {
			log.Printf("⚠️ Failed to update session %s: %v", req.SessionID, err)
		}
	}

	if len(outcome.StoredMemoryIDs) > 1 {
		outcome.Metadata["stored_memory_ids"] = outcome.StoredMemoryIDs
	}
	outcome.ProcessingTimeMS = msSince(start)
	return outcome, nil
}

func (m *Manager) storeSingle(ctx context.Context, store *database.Store, req *StoreRequest, extracted *prompts.ExtractedMemory, temporal *TemporalResolver) *models.StoreResult {
	memory := m.buildMemory(req, extracted, temporal)
	if err := memory.Validate(); err != nil {
		log.Printf("⚠️ Skipping invalid extracted memory: %v", err)
		metrics.Get().RecordStore(string(models.StorageError))
		return &models.StoreResult{Action: models.StorageError, Error: err.Error()}
	}

	similar, err := store.FindSimilar(ctx, memory.Content, 10)
	if err != nil {
		log.Printf("⚠️ Similar-memory lookup failed: %v", err)
	}

	conflicts := m.detector.Detect(memory, similar)
	if len(conflicts) == 0 {
		if err := store.Create(ctx, memory); err != nil {
			metrics.Get().RecordStore(string(models.StorageError))
			return &models.StoreResult{Action: models.StorageError, Error: err.Error()}
		}
		metrics.Get().RecordStore(string(models.StorageCreated))
		return &models.StoreResult{Action: models.StorageCreated, Memory: memory}
	}

	resolutions := m.resolver.ResolveAll(conflicts)
	return m.applyResolutions(ctx, store, memory, resolutions)
}

func (m *Manager) buildMemory(req *StoreRequest, extracted *prompts.ExtractedMemory, temporal *TemporalResolver) *models.Memory {
	now := time.Now()
	memory := &models.Memory{
		MemoryID:        uuid.NewString(),
		UserID:          req.UserID,
		Content:         extracted.Content,
		OriginalMessage: req.Message,
		Category:        extracted.MemoryType,
		ConfidenceScore: extracted.Confidence,
		CreatedAt:       now,
		UpdatedAt:       now,
		IsActive:        true,
		Metadata:        map[string]interface{}{},
	}

	for k, v := range req.Metadata {
		memory.Metadata[k] = v
	}
	if len(extracted.Entities) > 0 {
		memory.Metadata["entities"] = extracted.Entities
	}
	if req.SessionID != "" {
		memory.Metadata["session_id"] = req.SessionID
	}
	memory.Metadata["extraction_confidence"] = extracted.Confidence

	if extracted.TemporalInfo != "" {
		if info := temporal.Parse(extracted.TemporalInfo); info != nil && info.Start != nil {
			memory.Timestamp = info.Start
			memory.Metadata["temporal_info"] = extracted.TemporalInfo
		}
	}

	return memory
}

func (m *Manager) applyResolutions(ctx context.Context, store *database.Store, memory *models.Memory, resolutions []models.Resolution) *models.StoreResult {
	result := &models.StoreResult{ConflictsResolved: resolutions}
	createNew := false
	stored := false

	for _, res := range resolutions {
		switch res.Action {
		case models.ActionTimestampUpdated:
			existing := res.PrimaryMemory
			if err := store.Touch(ctx, existing.MemoryID); err != nil {
				log.Printf("⚠️ Failed to refresh duplicate %s: %v", existing.MemoryID, err)
				continue
			}
			result.Action = models.StorageUpdated
			result.Memory = existing
			stored = true

		case models.ActionReplaced:
			for _, old := range res.AffectedMemories {
				if err := store.Archive(ctx, old.MemoryID, "resolver"); err != nil {
					log.Printf("⚠️ Failed to archive replaced memory %s: %v", old.MemoryID, err)
				}
			}
			createNew = true
			result.Action = models.StorageReplaced

		case models.ActionMerged:
			merged := res.PrimaryMemory
			if err := store.Update(ctx, merged, models.UpdateTypeMerge); err != nil {
				log.Printf("⚠️ Failed to persist merge into %s: %v", merged.MemoryID, err)
				continue
			}
			result.Action = models.StorageMerged
			result.Memory = merged
			stored = true

		case models.ActionLinked:
			for _, linked := range res.AffectedMemories {
				if err := store.Update(ctx, linked, models.UpdateTypeLink); err != nil {
					log.Printf("⚠️ Failed to persist link on %s: %v", linked.MemoryID, err)
				}
			}
			createNew = true
			if result.Action == "" {
				result.Action = models.StorageCreated
			}

		case models.ActionKeptBoth:
			for _, other := range res.AffectedMemories {
				if err := store.Update(ctx, other, models.UpdateTypeUpdate); err != nil {
					log.Printf("⚠️ Failed to persist metadata on %s: %v", other.MemoryID, err)
				}
			}
			createNew = true
			if result.Action == "" {
				result.Action = models.StorageCreated
			}

		case models.ActionArchived:
			for _, old := range res.AffectedMemories {
				if err := store.Archive(ctx, old.MemoryID, "resolver"); err != nil {
					log.Printf("⚠️ Failed to archive superseded memory %s: %v", old.MemoryID, err)
				}
			}
			createNew = true
			if result.Action == "" {
				result.Action = models.StorageUpdated
			}

		case models.ActionNone:
			if res.RequiresUserIntervention && !stored && !createNew {
				result.Action = models.StorageConflictDetected
			}
		}
	}

	if createNew {
		if err := store.Create(ctx, memory); err != nil {
			metrics.Get().RecordStore(string(models.StorageError))
			result.Action = models.StorageError
			result.Error = err.Error()
			return result
		}
		result.Memory = memory
		if result.Action == "" {
			result.Action = models.StorageCreated
		}
	}

	if result.Action == "" {
		result.Action = models.StorageConflictDetected
	}
	metrics.Get().RecordStore(string(result.Action))
	return result
}

// StoreDirect persists a pre-built memory, bypassing extraction but still
// running conflict detection.
func (m *Manager) StoreDirect(ctx context.Context, memory *models.Memory) (*models.StoreResult, error) {
	if err := memory.Validate(); err != nil {
		return nil, err
	}
	store, err := m.router.Store(memory.UserID)
	if err != nil {
		return nil, err
	}

	similar, err := store.FindSimilar(ctx, memory.Content, 10)
	if err != nil {
		log.Printf("⚠️ Similar-memory lookup failed: %v", err)
	}
	conflicts := m.detector.Detect(memory, similar)
	if len(conflicts) == 0 {
		if err := store.Create(ctx, memory); err != nil {
			return nil, err
		}
		metrics.Get().RecordStore(string(models.StorageCreated))
		return &models.StoreResult{Action: models.StorageCreated, Memory: memory}, nil
	}
	return m.applyResolutions(ctx, store, memory, m.resolver.ResolveAll(conflicts)), nil
}

// Resolver exposes the shared resolver for audit and rollback endpoints.
func (m *Manager) Resolver() *ConflictResolver {
	return m.resolver
}

// Stats merges pipeline and resolver statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"pipeline":    m.pipeline.Stats(),
		"resolutions": m.resolver.Statistics(),
	}
}

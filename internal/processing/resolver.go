package processing

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"harmonia/internal/metrics"
	"harmonia/internal/models"
)

// ResolverPreferences tunes automatic conflict resolution.
type ResolverPreferences struct {
	ConfidenceThreshold float64
	MaxMergesPerBatch   int
	PreserveOriginal    bool
}

// DefaultResolverPreferences mirror the conservative defaults: replace only
// clearly better contradictions, cap merges per batch at three.
func DefaultResolverPreferences() ResolverPreferences {
	return ResolverPreferences{
		ConfidenceThreshold: 0.8,
		MaxMergesPerBatch:   3,
		PreserveOriginal:    true,
	}
}

// ConflictResolver applies resolution strategies and keeps an audit trail
// with rollback snapshots.
type ConflictResolver struct {
	prefs ResolverPreferences

	mu    sync.Mutex
	audit []*models.AuditEntry
}

func NewConflictResolver(prefs ResolverPreferences) *ConflictResolver {
	if prefs.ConfidenceThreshold == 0 {
		prefs.ConfidenceThreshold = 0.8
	}
	if prefs.MaxMergesPerBatch == 0 {
		prefs.MaxMergesPerBatch = 3
	}
	return &ConflictResolver{prefs: prefs}
}

// ResolveAll resolves conflicts in severity order. After the per-batch merge
// cap, further merge candidates are downgraded to user intervention.
func (r *ConflictResolver) ResolveAll(conflicts []*models.Conflict) []models.Resolution {
	if len(conflicts) == 0 {
		return nil
	}

	sorted := make([]*models.Conflict, len(conflicts))
	copy(sorted, conflicts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	merges := 0
	var resolutions []models.Resolution
	for _, conflict := range sorted {
		strategy := r.strategyFor(conflict)
		if strategy == models.StrategyMerge && merges >= r.prefs.MaxMergesPerBatch {
			strategy = models.StrategyUserChoose
		}

		resolution := r.apply(conflict, strategy)
		if resolution.Action == models.ActionMerged {
			merges++
		}
		metrics.Get().RecordResolution(string(resolution.Strategy))
		resolutions = append(resolutions, resolution)
	}

	log.Printf("🔧 Resolved %d conflicts (%d merges)", len(resolutions), merges)
	return resolutions
}

// Resolve handles a single conflict.
func (r *ConflictResolver) Resolve(conflict *models.Conflict) models.Resolution {
	return r.apply(conflict, r.strategyFor(conflict))
}

func (r *ConflictResolver) strategyFor(conflict *models.Conflict) models.ResolutionStrategy {
	if conflict.Type == models.ConflictContradiction {
		newConf := conflict.NewMemory.ConfidenceScore
		existingConf := conflict.ExistingMemory.ConfidenceScore
		if newConf > existingConf && newConf >= r.prefs.ConfidenceThreshold {
			return models.StrategyReplace
		}
		return models.StrategyUserChoose
	}

	switch conflict.Type {
	case models.ConflictExactDuplicate:
		return models.StrategyUpdateTimestamp
	case models.ConflictUpdateNeeded:
		return models.StrategyReplace
	case models.ConflictMergeCandidate:
		return models.StrategyMerge
	case models.ConflictTemporalOverlap:
		return models.StrategyUserChoose
	case models.ConflictRelatedMemory:
		return models.StrategyLink
	}
	return models.StrategyKeepBoth
}

func (r *ConflictResolver) apply(conflict *models.Conflict, strategy models.ResolutionStrategy) models.Resolution {
	var resolution models.Resolution

	switch strategy {
	case models.StrategyUpdateTimestamp:
		resolution = r.updateTimestamp(conflict)
	case models.StrategyReplace:
		resolution = r.replace(conflict)
	case models.StrategyMerge:
		resolution = r.merge(conflict)
	case models.StrategyLink:
		resolution = r.link(conflict)
	case models.StrategyKeepBoth:
		resolution = r.keepBoth(conflict)
	case models.StrategyArchiveOld:
		resolution = r.archiveOld(conflict)
	default:
		resolution = r.userChoose(conflict)
	}

	resolution.ConflictType = conflict.Type
	entry := r.recordAudit(conflict, &resolution)
	resolution.AuditID = entry.AuditID
	return resolution
}

func (r *ConflictResolver) updateTimestamp(conflict *models.Conflict) models.Resolution {
	existing := conflict.ExistingMemory
	existing.UpdatedAt = time.Now()

	return models.Resolution{
		Action:        models.ActionTimestampUpdated,
		Strategy:      models.StrategyUpdateTimestamp,
		PrimaryMemory: existing,
		Details:       "exact duplicate, refreshed existing memory",
	}
}

func (r *ConflictResolver) replace(conflict *models.Conflict) models.Resolution {
	newMem := conflict.NewMemory
	existing := conflict.ExistingMemory

	if r.prefs.PreserveOriginal {
		if newMem.Metadata == nil {
			newMem.Metadata = map[string]interface{}{}
		}
		newMem.Metadata["replaced_memory_id"] = existing.MemoryID
		newMem.Metadata["original_created_at"] = existing.CreatedAt.Format(time.RFC3339)
	}

	existing.IsActive = false
	if existing.Metadata == nil {
		existing.Metadata = map[string]interface{}{}
	}
	existing.Metadata["archived_reason"] = "replaced_by_newer"
	existing.Metadata["replaced_by"] = newMem.MemoryID
	existing.UpdatedAt = time.Now()

	return models.Resolution{
		Action:           models.ActionReplaced,
		Strategy:         models.StrategyReplace,
		PrimaryMemory:    newMem,
		AffectedMemories: []*models.Memory{existing},
		Details:          conflict.Details,
	}
}

func (r *ConflictResolver) merge(conflict *models.Conflict) models.Resolution {
	newMem := conflict.NewMemory
	existing := conflict.ExistingMemory

	originalContent := existing.Content
	existing.Content = MergeContents(existing.Content, newMem.Content)
	existing.UpdatedAt = time.Now()
	if newMem.ConfidenceScore > existing.ConfidenceScore {
		existing.ConfidenceScore = newMem.ConfidenceScore
	}

	if existing.Metadata == nil {
		existing.Metadata = map[string]interface{}{}
	}
	existing.Metadata["merged_with"] = newMem.MemoryID
	existing.Metadata["merge_timestamp"] = time.Now().Format(time.RFC3339)
	existing.Metadata["pre_merge_content"] = originalContent

	return models.Resolution{
		Action:           models.ActionMerged,
		Strategy:         models.StrategyMerge,
		PrimaryMemory:    existing,
		AffectedMemories: []*models.Memory{newMem},
		Details:          "contents combined into existing memory",
	}
}

func (r *ConflictResolver) link(conflict *models.Conflict) models.Resolution {
	newMem := conflict.NewMemory
	existing := conflict.ExistingMemory

	existing.AddRelatedMemory(newMem.MemoryID)
	newMem.AddRelatedMemory(existing.MemoryID)
	existing.UpdatedAt = time.Now()

	return models.Resolution{
		Action:           models.ActionLinked,
		Strategy:         models.StrategyLink,
		PrimaryMemory:    newMem,
		AffectedMemories: []*models.Memory{existing},
		Details:          "memories cross-referenced",
	}
}

func (r *ConflictResolver) keepBoth(conflict *models.Conflict) models.Resolution {
	newMem := conflict.NewMemory
	existing := conflict.ExistingMemory

	if newMem.Metadata == nil {
		newMem.Metadata = map[string]interface{}{}
	}
	newMem.Metadata["related_but_distinct"] = existing.MemoryID
	if existing.Metadata == nil {
		existing.Metadata = map[string]interface{}{}
	}
	existing.Metadata["related_but_distinct"] = newMem.MemoryID
	existing.UpdatedAt = time.Now()

	return models.Resolution{
		Action:           models.ActionKeptBoth,
		Strategy:         models.StrategyKeepBoth,
		PrimaryMemory:    newMem,
		AffectedMemories: []*models.Memory{existing},
		Details:          "kept as separate entries",
	}
}

func (r *ConflictResolver) archiveOld(conflict *models.Conflict) models.Resolution {
	newMem := conflict.NewMemory
	existing := conflict.ExistingMemory

	existing.IsActive = false
	if existing.Metadata == nil {
		existing.Metadata = map[string]interface{}{}
	}
	existing.Metadata["archived_reason"] = "superseded_by_new"
	existing.Metadata["superseded_by"] = newMem.MemoryID
	existing.UpdatedAt = time.Now()

	if newMem.Metadata == nil {
		newMem.Metadata = map[string]interface{}{}
	}
	newMem.Metadata["superseded_memory"] = existing.MemoryID

	return models.Resolution{
		Action:           models.ActionArchived,
		Strategy:         models.StrategyArchiveOld,
		PrimaryMemory:    newMem,
		AffectedMemories: []*models.Memory{existing},
		Details:          "older memory archived",
	}
}

func (r *ConflictResolver) userChoose(conflict *models.Conflict) models.Resolution {
	return models.Resolution{
		Action:                   models.ActionNone,
		Strategy:                 models.StrategyUserChoose,
		PrimaryMemory:            conflict.NewMemory,
		AffectedMemories:         []*models.Memory{conflict.ExistingMemory},
		RequiresUserIntervention: true,
		SuggestedActions:         []string{"replace", "merge", "keep_both", "archive_old"},
		Details:                  conflict.Details,
	}
}

// MergeContents combines two contents sentence-wise, dropping sentences that
// are substrings of longer ones and ordering longest first.
func MergeContents(content1, content2 string) string {
	collect := func(content string) []string {
		var out []string
		for _, s := range strings.Split(content, ".") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	var merged []string
	for _, sentence := range append(collect(content1), collect(content2)...) {
		unique := true
		for i := 0; i < len(merged); i++ {
			existing := merged[i]
			if strings.EqualFold(sentence, existing) {
				unique = false
				break
			}
			if len(sentence) < len(existing) && strings.Contains(strings.ToLower(existing), strings.ToLower(sentence)) {
				unique = false
				break
			}
			if len(sentence) > len(existing) && strings.Contains(strings.ToLower(sentence), strings.ToLower(existing)) {
				merged = append(merged[:i], merged[i+1:]...)
				break
			}
		}
		if unique {
			merged = append(merged, sentence)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return len(merged[i]) > len(merged[j]) })
	return strings.Join(merged, ". ") + "."
}

func (r *ConflictResolver) recordAudit(conflict *models.Conflict, resolution *models.Resolution) *models.AuditEntry {
	entry := &models.AuditEntry{
		AuditID:         uuid.NewString(),
		UserID:          conflict.NewMemory.UserID,
		Timestamp:       time.Now(),
		Action:          resolution.Action,
		Strategy:        resolution.Strategy,
		ConflictType:    conflict.Type,
		OriginalContent: map[string]string{},
		NewContent:      map[string]string{},
		RollbackData:    map[string]*models.Memory{},
	}

	if resolution.PrimaryMemory != nil {
		entry.MemoryIDs = append(entry.MemoryIDs, resolution.PrimaryMemory.MemoryID)
		entry.NewContent[resolution.PrimaryMemory.MemoryID] = resolution.PrimaryMemory.Content
	}
	for _, m := range resolution.AffectedMemories {
		entry.MemoryIDs = append(entry.MemoryIDs, m.MemoryID)
		entry.OriginalContent[m.MemoryID] = m.Content
		snapshot := *m
		entry.RollbackData[m.MemoryID] = &snapshot
	}
	if existing := conflict.ExistingMemory; existing != nil && entry.OriginalContent[existing.MemoryID] == "" {
		entry.OriginalContent[existing.MemoryID] = existing.Content
	}

	r.mu.Lock()
	r.audit = append(r.audit, entry)
	r.mu.Unlock()
	return entry
}

// AuditTrail returns audit entries, newest first, optionally filtered by
// user and limited.
func (r *ConflictResolver) AuditTrail(userID string, limit int) []*models.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditEntry
	for _, entry := range r.audit {
		if userID == "" || entry.UserID == userID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Rollback restores affected memories from the audit snapshot. The restored
// memories are returned for the caller to persist.
func (r *ConflictResolver) Rollback(auditID string) ([]*models.Memory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.audit {
		if entry.AuditID != auditID {
			continue
		}
		var restored []*models.Memory
		for _, snapshot := range entry.RollbackData {
			m := *snapshot
			restored = append(restored, &m)
		}
		log.Printf("↩️ Rolled back resolution %s (%d memories restored)", auditID, len(restored))
		return restored, true
	}
	return nil, false
}

// Statistics aggregates the audit trail by action, strategy and type.
func (r *ConflictResolver) Statistics() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	actions := map[string]int{}
	strategies := map[string]int{}
	conflictTypes := map[string]int{}
	acted := 0
	for _, entry := range r.audit {
		actions[string(entry.Action)]++
		strategies[string(entry.Strategy)]++
		conflictTypes[string(entry.ConflictType)]++
		if entry.Action != models.ActionNone {
			acted++
		}
	}

	stats := map[string]interface{}{
		"total_resolutions": len(r.audit),
		"actions":           actions,
		"strategies":        strategies,
		"conflict_types":    conflictTypes,
	}
	if len(r.audit) > 0 {
		stats["success_rate"] = float64(acted) / float64(len(r.audit))
	}
	return stats
}

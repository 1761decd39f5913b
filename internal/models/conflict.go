package models

import "time"

// ConflictType classifies the relationship between a candidate memory and an
// existing one.
type ConflictType string

const (
	ConflictExactDuplicate  ConflictType = "exact_duplicate"
	ConflictContradiction   ConflictType = "contradiction"
	ConflictUpdateNeeded    ConflictType = "update_needed"
	ConflictMergeCandidate  ConflictType = "merge_candidate"
	ConflictTemporalOverlap ConflictType = "temporal_overlap"
	ConflictRelatedMemory   ConflictType = "related_memory"
)

// Severity orders conflicts for resolution; higher severities resolve first.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank maps a severity to a sortable weight.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ResolutionStrategy names how a conflict is reconciled.
type ResolutionStrategy string

const (
	StrategyUpdateTimestamp ResolutionStrategy = "update_timestamp"
	StrategyReplace         ResolutionStrategy = "replace"
	StrategyMerge           ResolutionStrategy = "merge"
	StrategyLink            ResolutionStrategy = "link"
	StrategyKeepBoth        ResolutionStrategy = "keep_both"
	StrategyArchiveOld      ResolutionStrategy = "archive_old"
	StrategyUserChoose      ResolutionStrategy = "user_choose"
)

// Conflict describes one detected collision between a new memory and an
// existing active memory of the same user.
type Conflict struct {
	Type            ConflictType `json:"conflict_type"`
	Severity        Severity     `json:"severity"`
	Confidence      float64      `json:"confidence"`
	Similarity      float64      `json:"similarity"`
	NewMemory       *Memory      `json:"new_memory"`
	ExistingMemory  *Memory      `json:"existing_memory"`
	SuggestedAction string       `json:"suggested_action"`
	Details         string       `json:"details,omitempty"`
}

// ResolutionAction tags what the resolver actually did.
type ResolutionAction string

const (
	ActionTimestampUpdated ResolutionAction = "timestamp_updated"
	ActionReplaced         ResolutionAction = "replaced"
	ActionMerged           ResolutionAction = "merged"
	ActionLinked           ResolutionAction = "linked"
	ActionKeptBoth         ResolutionAction = "kept_both"
	ActionArchived         ResolutionAction = "archived"
	ActionNone             ResolutionAction = "no_action"
)

// Resolution is the outcome of applying a strategy to one conflict.
type Resolution struct {
	Action                   ResolutionAction   `json:"action"`
	Strategy                 ResolutionStrategy `json:"strategy"`
	ConflictType             ConflictType       `json:"conflict_type"`
	PrimaryMemory            *Memory            `json:"primary_memory,omitempty"`
	AffectedMemories         []*Memory          `json:"affected_memories,omitempty"`
	RequiresUserIntervention bool               `json:"requires_user_intervention"`
	SuggestedActions         []string           `json:"suggested_actions,omitempty"`
	AuditID                  string             `json:"audit_id,omitempty"`
	Details                  string             `json:"details,omitempty"`
}

// AuditEntry journals one resolution with enough data to undo it.
type AuditEntry struct {
	AuditID         string             `json:"audit_id"`
	UserID          string             `json:"user_id"`
	Timestamp       time.Time          `json:"timestamp"`
	Action          ResolutionAction   `json:"action"`
	Strategy        ResolutionStrategy `json:"strategy"`
	ConflictType    ConflictType       `json:"conflict_type"`
	MemoryIDs       []string           `json:"memory_ids"`
	OriginalContent map[string]string  `json:"original_content"`
	NewContent      map[string]string  `json:"new_content"`
	RollbackData    map[string]*Memory `json:"rollback_data"`
}

// StorageAction tags the final outcome of one store operation.
type StorageAction string

const (
	StorageCreated          StorageAction = "created"
	StorageUpdated          StorageAction = "updated"
	StorageMerged           StorageAction = "merged"
	StorageReplaced         StorageAction = "replaced"
	StorageConflictDetected StorageAction = "conflict_detected"
	StorageNoChange         StorageAction = "no_change"
	StorageBatchCreated     StorageAction = "batch_created"
	StorageError            StorageAction = "error"
)

// StoreResult summarizes one write through the memory manager.
type StoreResult struct {
	Action            StorageAction          `json:"action"`
	Memory            *Memory                `json:"memory,omitempty"`
	ConflictsResolved []Resolution           `json:"conflicts_resolved,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Error             string                 `json:"error,omitempty"`
}

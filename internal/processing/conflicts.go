package processing

import (
	"log"
	"regexp"
	"sort"
	"strings"

	"harmonia/internal/metrics"
	"harmonia/internal/models"
)

// Detector thresholds; similarity is a blend of sequence matching and
// entity overlap.
const (
	exactDuplicateThreshold  = 0.95
	partialDuplicateThreshold = 0.6
	relatedMemoryThreshold   = 0.4
	temporalOverlapHours     = 2.0
)

var conflictEntityPatterns = map[string]*regexp.Regexp{
	"person":       regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})\s+(?:works?|is|has|lives?|goes?)\b`),
	"location":     regexp.MustCompile(`\b(?:in|at|from|to)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})\b`),
	"organization": regexp.MustCompile(`(?i)\b(?:works?\s+at|employed\s+by|company|corporation)\s+([A-Za-z]+(?:\s+[A-Za-z]+){0,2})\b`),
	"date":         regexp.MustCompile(`(?i)\b(\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}[-/]\d{1,2}[-/]\d{1,2}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?)\b`),
	"time":         regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}(?:\s*[ap]m)?|\d{1,2}\s*[ap]m)\b`),
}

var (
	prefPattern    = regexp.MustCompile(`\b(?:like|love|enjoy)s?\s+([a-z]+)`)
	negPrefPattern = regexp.MustCompile(`\b(?:don't|doesn't|never)\s+(?:like|love|enjoy)\s+([a-z]+)`)
	hatePattern    = regexp.MustCompile(`\b(?:hate|dislike)s?\s+([a-z]+)`)
	worksAtPattern = regexp.MustCompile(`\bworks?\s+at\s+([a-z\s]+)`)
	livesInPattern = regexp.MustCompile(`\blives?\s+in\s+([a-z\s]+)`)
	movedPattern   = regexp.MustCompile(`\bmoved\s+(?:from|away)`)

	nonWordPattern = regexp.MustCompile(`[^\w\s]`)
)

var simpleContradictions = [][2]string{
	{"married", "single"},
	{"employed", "unemployed"},
	{"likes coffee", "doesn't like coffee"},
	{"loves coffee", "hates coffee"},
}

var updateIndicators = []string{
	"now works at", "moved to", "recently", "currently",
	"updated", "changed", "new", "latest",
}

// ConflictDetector finds conflicts between a new memory and the user's
// existing memories.
type ConflictDetector struct{}

func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

// Detect compares newMemory against every active existing memory and
// returns conflicts ordered by severity, then similarity.
func (d *ConflictDetector) Detect(newMemory *models.Memory, existing []*models.Memory) []*models.Conflict {
	var conflicts []*models.Conflict

	for _, em := range existing {
		if !em.IsActive {
			continue
		}
		similarity := d.Similarity(newMemory.Content, em.Content)
		if conflict := d.classify(newMemory, em, similarity); conflict != nil {
			conflicts = append(conflicts, conflict)
			metrics.Get().RecordConflict(string(conflict.Type))
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Severity != conflicts[j].Severity {
			return conflicts[i].Severity.Rank() > conflicts[j].Severity.Rank()
		}
		return conflicts[i].Similarity > conflicts[j].Similarity
	})

	if len(conflicts) > 0 {
		log.Printf("⚔️ Detected %d conflicts for new memory %s", len(conflicts), newMemory.MemoryID)
	}
	return conflicts
}

// Similarity blends normalized sequence similarity with entity overlap.
func (d *ConflictDetector) Similarity(content1, content2 string) float64 {
	if content1 == "" || content2 == "" {
		return 0
	}

	norm1 := normalizeContent(content1)
	norm2 := normalizeContent(content2)
	if norm1 == norm2 {
		return 1.0
	}

	base := sequenceSimilarity(norm1, norm2)
	entity := entityOverlap(content1, content2)

	final := base*0.7 + entity*0.3
	if final > 1.0 {
		final = 1.0
	}
	return final
}

func (d *ConflictDetector) classify(newMem, existing *models.Memory, similarity float64) *models.Conflict {
	build := func(ct models.ConflictType, sev models.Severity, conf float64, reason, action string) *models.Conflict {
		return &models.Conflict{
			Type:            ct,
			Severity:        sev,
			Confidence:      conf,
			Similarity:      similarity,
			NewMemory:       newMem,
			ExistingMemory:  existing,
			SuggestedAction: action,
			Details:         reason,
		}
	}

	switch {
	case similarity >= exactDuplicateThreshold:
		return build(models.ConflictExactDuplicate, models.SeverityLow, 0.95,
			"nearly identical content", "update_timestamp")

	case similarity >= partialDuplicateThreshold:
		if isContradiction(newMem.Content, existing.Content) {
			return build(models.ConflictContradiction, models.SeverityHigh, 0.85,
				"contradictory information detected", "resolve_contradiction")
		}
		if isUpdate(newMem, existing) {
			return build(models.ConflictUpdateNeeded, models.SeverityMedium, 0.8,
				"content appears to be an update", "update_memory")
		}
		return build(models.ConflictMergeCandidate, models.SeverityMedium, 0.75,
			"similar content that could be merged", "merge_memories")

	case hasTemporalOverlap(newMem, existing):
		return build(models.ConflictTemporalOverlap, models.SeverityMedium, 0.7,
			"temporal overlap detected", "check_temporal_conflict")

	case similarity >= relatedMemoryThreshold:
		return build(models.ConflictRelatedMemory, models.SeverityLow, 0.6,
			"related content detected", "link_memories")
	}

	return nil
}

func normalizeContent(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	normalized = nonWordPattern.ReplaceAllString(normalized, "")
	return multiSpace.ReplaceAllString(normalized, " ")
}

// sequenceSimilarity is the classic matching-blocks ratio:
// 2*matches / (len(a)+len(b)).
func sequenceSimilarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	matches := matchingChars([]rune(a), []rune(b))
	return 2.0 * float64(matches) / float64(len([]rune(a))+len([]rune(b)))
}

func matchingChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	bestI, bestJ, bestLen := 0, 0, 0
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > bestLen {
					bestLen = lengths[j]
					bestI = i - bestLen
					bestJ = j - bestLen
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}

	if bestLen == 0 {
		return 0
	}
	return bestLen +
		matchingChars(a[:bestI], b[:bestJ]) +
		matchingChars(a[bestI+bestLen:], b[bestJ+bestLen:])
}

func entityOverlap(content1, content2 string) float64 {
	entities1 := conflictEntities(content1)
	entities2 := conflictEntities(content2)
	if len(entities1) == 0 && len(entities2) == 0 {
		return 0
	}

	total := 0.0
	types := 0
	for entityType := range conflictEntityPatterns {
		set1 := entities1[entityType]
		set2 := entities2[entityType]
		if len(set1) == 0 && len(set2) == 0 {
			continue
		}
		types++
		if len(set1) == 0 || len(set2) == 0 {
			continue
		}
		intersection := 0
		union := len(set1)
		for e := range set2 {
			if set1[e] {
				intersection++
			} else {
				union++
			}
		}
		if union > 0 {
			total += float64(intersection) / float64(union)
		}
	}

	if types == 0 {
		return 0
	}
	return total / float64(types)
}

func conflictEntities(content string) map[string]map[string]bool {
	entities := map[string]map[string]bool{}
	for entityType, pattern := range conflictEntityPatterns {
		for _, m := range pattern.FindAllStringSubmatch(content, -1) {
			value := strings.TrimSpace(m[1])
			if value == "" {
				continue
			}
			if entities[entityType] == nil {
				entities[entityType] = map[string]bool{}
			}
			entities[entityType][titleCase(value)] = true
		}
	}
	return entities
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func isContradiction(content1, content2 string) bool {
	c1 := strings.ToLower(content1)
	c2 := strings.ToLower(content2)

	pref1 := prefPattern.FindStringSubmatch(c1)
	pref2 := prefPattern.FindStringSubmatch(c2)
	negPref1 := negPrefPattern.FindStringSubmatch(c1)
	negPref2 := negPrefPattern.FindStringSubmatch(c2)

	if pref1 != nil && negPref2 != nil && pref1[1] == negPref2[1] {
		return true
	}
	if pref2 != nil && negPref1 != nil && pref2[1] == negPref1[1] {
		return true
	}

	hate1 := hatePattern.FindStringSubmatch(c1)
	hate2 := hatePattern.FindStringSubmatch(c2)
	if pref1 != nil && hate2 != nil && pref1[1] == hate2[1] {
		return true
	}
	if pref2 != nil && hate1 != nil && pref2[1] == hate1[1] {
		return true
	}

	for _, pair := range simpleContradictions {
		if strings.Contains(c1, pair[0]) && strings.Contains(c2, pair[1]) {
			return true
		}
		if strings.Contains(c1, pair[1]) && strings.Contains(c2, pair[0]) {
			return true
		}
	}

	works1 := worksAtPattern.MatchString(c1)
	works2 := worksAtPattern.MatchString(c2)
	if (works1 && strings.Contains(c2, "unemployed")) || (works2 && strings.Contains(c1, "unemployed")) {
		return true
	}

	lives1 := livesInPattern.MatchString(c1)
	lives2 := livesInPattern.MatchString(c2)
	moved1 := movedPattern.MatchString(c1)
	moved2 := movedPattern.MatchString(c2)
	if (lives1 && moved2) || (lives2 && moved1) {
		return true
	}

	return false
}

func isUpdate(newMem, existing *models.Memory) bool {
	if !newMem.CreatedAt.After(existing.CreatedAt) {
		return false
	}
	content := strings.ToLower(newMem.Content)
	for _, indicator := range updateIndicators {
		if strings.Contains(content, indicator) {
			return true
		}
	}
	return false
}

func hasTemporalOverlap(newMem, existing *models.Memory) bool {
	if newMem.Timestamp == nil || existing.Timestamp == nil {
		return false
	}
	diff := newMem.Timestamp.Sub(*existing.Timestamp).Hours()
	if diff < 0 {
		diff = -diff
	}
	return diff <= temporalOverlapHours
}

// Summary aggregates detected conflicts by type and severity.
func (d *ConflictDetector) Summary(conflicts []*models.Conflict) map[string]interface{} {
	if len(conflicts) == 0 {
		return map[string]interface{}{
			"total_conflicts": 0,
			"by_type":         map[string]int{},
			"by_severity":     map[string]int{},
		}
	}

	byType := map[string]int{}
	bySeverity := map[string]int{}
	highest := 0.0
	for _, c := range conflicts {
		byType[string(c.Type)]++
		bySeverity[string(c.Severity)]++
		if c.Similarity > highest {
			highest = c.Similarity
		}
	}

	return map[string]interface{}{
		"total_conflicts":    len(conflicts),
		"by_type":            byType,
		"by_severity":        bySeverity,
		"highest_similarity": highest,
	}
}

package search

import (
	"context"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"harmonia/internal/database"
	"harmonia/internal/models"
)

// BM25 parameters: k1 controls term-frequency saturation, b controls
// document-length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75

	snippetLength = 200
	minRelevance  = 0.1
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// corpusStats summarizes one user's active memories for IDF computation.
type corpusStats struct {
	TotalDocs    int
	AvgDocLength float64
	TermDocFreq  map[string]int
}

// corpusStats returns cached per-user corpus statistics, rebuilding them on
// a cache miss. Falls back to safe defaults if the scan fails.
func (e *Engine) corpusStats(ctx context.Context, store *database.Store) *corpusStats {
	if cached, ok := e.corpus.Get(store.UserID()); ok {
		return cached.(*corpusStats)
	}

	stats := &corpusStats{TermDocFreq: map[string]int{}}
	rows, err := store.Engine().DB().QueryContext(ctx,
		`SELECT content FROM memories WHERE is_active = 1`)
	if err != nil {
		log.Printf("⚠️ [SEARCH] Corpus scan failed for user %s: %v", store.UserID(), err)
		return &corpusStats{TotalDocs: 1, AvgDocLength: 100, TermDocFreq: map[string]int{}}
	}
	defer rows.Close()

	totalLength := 0
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			continue
		}
		words := wordPattern.FindAllString(strings.ToLower(content), -1)
		totalLength += len(content)
		stats.TotalDocs++

		seen := map[string]bool{}
		for _, w := range words {
			if !seen[w] {
				seen[w] = true
				stats.TermDocFreq[w]++
			}
		}
	}
	if stats.TotalDocs > 0 {
		stats.AvgDocLength = float64(totalLength) / float64(stats.TotalDocs)
	}

	e.corpus.SetDefault(store.UserID(), stats)
	return stats
}

// InvalidateCorpus drops the cached statistics for one user. Called after
// bulk writes so the next search reflects them.
func (e *Engine) InvalidateCorpus(userID string) {
	e.corpus.Delete(userID)
}

// rankResults scores every hit and, for relevance ordering, re-sorts by the
// final score. Other sort orders keep the SQL ordering and only attach
// scores and snippets.
func rankResults(memories []*models.Memory, query string, stats *corpusStats, options *Options) []Result {
	results := make([]Result, len(memories))
	for i, m := range memories {
		score := bm25Score(m, query, stats)
		if options.BoostRecent {
			score = recencyBoost(score, m)
		}
		for _, cat := range options.BoostCategories {
			if m.Category == cat {
				score *= 1.2
				break
			}
		}

		results[i] = Result{
			Memory:     m,
			Relevance:  score,
			Rank:       i + 1,
			Snippet:    Snippet(m.Content, query, snippetLength),
			Highlights: highlights(m.Content, query),
		}
	}

	if options.SortBy == SortRelevance {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
		for i := range results {
			results[i].Rank = i + 1
		}
	}
	return results
}

// bm25Score is the classic Okapi BM25 sum over query terms, scaled by the
// memory's confidence.
func bm25Score(m *models.Memory, query string, stats *corpusStats) float64 {
	content := strings.ToLower(m.Content)
	terms := wordPattern.FindAllString(strings.ToLower(query), -1)
	if len(terms) == 0 || stats.TotalDocs == 0 || stats.AvgDocLength == 0 {
		return minRelevance
	}

	docLength := float64(len(wordPattern.FindAllString(content, -1)))
	score := 0.0
	for _, term := range terms {
		tf := float64(strings.Count(content, term))
		if tf == 0 {
			continue
		}

		df := stats.TermDocFreq[term]
		if df == 0 {
			df = 1
		}
		idf := math.Log((float64(stats.TotalDocs) - float64(df) + 0.5) / (float64(df) + 0.5))
		if idf < 0.01 {
			idf = 0.01
		}

		numerator := tf * (bm25K1 + 1)
		denominator := tf + bm25K1*(1-bm25B+bm25B*(docLength/stats.AvgDocLength))
		score += idf * (numerator / denominator)
	}

	if m.ConfidenceScore > 0 {
		score *= m.ConfidenceScore
	}
	if score < minRelevance {
		score = minRelevance
	}
	return score
}

// recencyBoost inflates scores for memories created within the last 30 days,
// up to +50% for brand-new ones.
func recencyBoost(score float64, m *models.Memory) float64 {
	if m.CreatedAt.IsZero() {
		return score
	}
	daysOld := time.Since(m.CreatedAt).Hours() / 24
	if daysOld < 0 || daysOld > 30 {
		return score
	}
	boost := 1.0 - (daysOld/30.0)*0.5
	if boost < 0.1 {
		boost = 0.1
	}
	return score * (1.0 + boost)
}

// Snippet returns up to maxLength characters of content centered near the
// first query term hit, with ellipses marking truncation.
func Snippet(content, query string, maxLength int) string {
	if len(content) <= maxLength {
		return content
	}

	start := 0
	lower := strings.ToLower(content)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if pos := strings.Index(lower, term); pos != -1 {
			start = pos - 50
			if start < 0 {
				start = 0
			}
			break
		}
	}

	end := start + maxLength
	if end > len(content) {
		end = len(content)
	}
	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return snippet
}

// highlights lists the query terms that actually occur in the content.
func highlights(content, query string) []string {
	lower := strings.ToLower(content)
	var out []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(lower, term) {
			out = append(out, term)
		}
	}
	return out
}

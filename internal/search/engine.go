package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"harmonia/internal/database"
	"harmonia/internal/metrics"
	"harmonia/internal/models"
)

// ErrInvalidQuery signals a query the engine refuses to run.
var ErrInvalidQuery = errors.New("invalid search query")

const maxQueryLength = 1000

// SortBy selects the result ordering column.
type SortBy string

const (
	SortRelevance  SortBy = "relevance"
	SortCreatedAt  SortBy = "created_at"
	SortUpdatedAt  SortBy = "updated_at"
	SortConfidence SortBy = "confidence_score"
	SortTimestamp  SortBy = "timestamp"
)

// sortColumns whitelists the ORDER BY targets; anything else falls back to
// relevance.
var sortColumns = map[SortBy]string{
	SortCreatedAt:  "created_at",
	SortUpdatedAt:  "updated_at",
	SortConfidence: "confidence_score",
	SortTimestamp:  "timestamp",
}

// SortOrder is the ordering direction.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Filter narrows a search or listing.
type Filter struct {
	Category      models.MemoryType
	FromDate      *time.Time
	ToDate        *time.Time
	MinConfidence *float64
	MaxConfidence *float64
}

// Options control pagination, ordering, and ranking boosts.
type Options struct {
	Limit           int
	Offset          int
	SortBy          SortBy
	SortOrder       SortOrder
	IncludeInactive bool
	BoostRecent     bool
	BoostCategories []models.MemoryType
}

// Result is one ranked hit.
type Result struct {
	Memory     *models.Memory `json:"memory"`
	Relevance  float64        `json:"relevance_score"`
	Rank       int            `json:"rank"`
	Snippet    string         `json:"snippet,omitempty"`
	Highlights []string       `json:"highlights,omitempty"`
}

// Results is a page of hits plus pagination bookkeeping.
type Results struct {
	Results         []Result  `json:"results"`
	TotalCount      int       `json:"total_count"`
	Query           string    `json:"query"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	HasMore         bool      `json:"has_more"`
	Limit           int       `json:"limit"`
	Offset          int       `json:"offset"`
	SortBy          SortBy    `json:"sort_by"`
	SortOrder       SortOrder `json:"sort_order"`
}

// Engine runs full-text search and listing over per-user stores, ranking
// FTS hits with BM25.
type Engine struct {
	router       *database.Router
	corpus       *gocache.Cache
	defaultLimit int
	maxLimit     int

	mu          sync.Mutex
	searches    int64
	totalTimeMS float64
}

// NewEngine builds a search engine on top of the database router. Corpus
// statistics for BM25 are cached per user for corpusTTL (five minutes when
// zero).
func NewEngine(router *database.Router, defaultLimit, maxLimit int, corpusTTL time.Duration) *Engine {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	if corpusTTL <= 0 {
		corpusTTL = 5 * time.Minute
	}
	return &Engine{
		router:       router,
		corpus:       gocache.New(corpusTTL, 2*corpusTTL),
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

func (e *Engine) normalize(opts *Options) *Options {
	out := Options{BoostRecent: true, SortBy: SortRelevance, SortOrder: OrderDesc}
	if opts != nil {
		out = *opts
	}
	if out.Limit <= 0 {
		out.Limit = e.defaultLimit
	}
	if out.Limit > e.maxLimit {
		out.Limit = e.maxLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	if out.SortBy == "" {
		out.SortBy = SortRelevance
	}
	if out.SortOrder != OrderAsc {
		out.SortOrder = OrderDesc
	}
	return &out
}

// Search runs a ranked full-text search within one user's memories.
func (e *Engine) Search(ctx context.Context, userID, query string, filter *Filter, opts *Options) (*Results, error) {
	start := time.Now()
	options := e.normalize(opts)
	if filter == nil {
		filter = &Filter{}
	}

	parsed, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	if parsed == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}

	store, err := e.router.Store(userID)
	if err != nil {
		return nil, err
	}

	memories, err := e.executeSearch(ctx, store, BuildFTSQuery(parsed), filter, options)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	stats := e.corpusStats(ctx, store)
	ranked := rankResults(memories, parsed, stats, options)
	page := paginate(ranked, options)

	results := &Results{
		Results:         page,
		TotalCount:      len(ranked),
		Query:           query,
		ExecutionTimeMS: msSince(start),
		HasMore:         options.Offset+len(page) < len(ranked),
		Limit:           options.Limit,
		Offset:          options.Offset,
		SortBy:          options.SortBy,
		SortOrder:       options.SortOrder,
	}

	e.recordSearch(results.ExecutionTimeMS)
	metrics.Get().RecordSearch(time.Since(start).Seconds())
	log.Printf("🔍 Search %q for user %s: %d hits in %.1fms", query, userID, len(page), results.ExecutionTimeMS)
	return results, nil
}

// List returns memories without a text query, with filters, sorting, and
// pagination. Relevance falls back to the confidence score.
func (e *Engine) List(ctx context.Context, userID string, filter *Filter, opts *Options) (*Results, error) {
	start := time.Now()
	options := e.normalize(opts)
	if filter == nil {
		filter = &Filter{}
	}

	store, err := e.router.Store(userID)
	if err != nil {
		return nil, err
	}

	memories, err := e.executeListing(ctx, store, filter, options)
	if err != nil {
		return nil, fmt.Errorf("listing failed: %w", err)
	}

	all := make([]Result, len(memories))
	for i, m := range memories {
		all[i] = Result{
			Memory:    m,
			Relevance: m.ConfidenceScore,
			Rank:      i + 1,
			Snippet:   Snippet(m.Content, "", snippetLength),
		}
	}
	page := paginate(all, options)

	results := &Results{
		Results:         page,
		TotalCount:      len(all),
		ExecutionTimeMS: msSince(start),
		HasMore:         options.Offset+len(page) < len(all),
		Limit:           options.Limit,
		Offset:          options.Offset,
		SortBy:          options.SortBy,
		SortOrder:       options.SortOrder,
	}

	e.recordSearch(results.ExecutionTimeMS)
	return results, nil
}

// ParseQuery trims, strips FTS-hostile characters, drops an unmatched
// trailing quote, and bounds the length.
func ParseQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	if len(query) > maxQueryLength {
		return "", fmt.Errorf("%w: query too long (max %d characters)", ErrInvalidQuery, maxQueryLength)
	}

	if strings.Count(query, `"`)%2 != 0 {
		last := strings.LastIndex(query, `"`)
		query = query[:last] + query[last+1:]
	}

	query = strings.NewReplacer("'", "", "(", "", ")", "", "^", "").Replace(query)
	return strings.TrimSpace(query), nil
}

// BuildFTSQuery widens multi-term queries: every term ORed, plus the whole
// phrase, so exact sequences rank above scattered matches.
func BuildFTSQuery(parsed string) string {
	// Embedded quote marks would terminate the FTS5 phrase early, so drop
	// them before wrapping. FTS5 has no backslash escapes.
	plain := strings.ReplaceAll(parsed, `"`, "")
	terms := strings.Fields(plain)
	switch len(terms) {
	case 0:
		return "*"
	case 1:
		return terms[0]
	default:
		return fmt.Sprintf(`(%s) OR "%s"`, strings.Join(terms, " OR "), strings.Join(terms, " "))
	}
}

func (e *Engine) executeSearch(ctx context.Context, store *database.Store, ftsQuery string, filter *Filter, options *Options) ([]*models.Memory, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + database.QualifiedMemoryColumns("m") + `
		FROM memories m
		JOIN memories_fts ON memories_fts.memory_id = m.memory_id
		WHERE memories_fts MATCH ?`)
	args := []interface{}{ftsQuery}
	if !options.IncludeInactive {
		sb.WriteString(" AND m.is_active = 1")
	}

	appendFilters(&sb, &args, filter, "m.")
	appendOrder(&sb, options, "m.", "memories_fts.rank")

	rows, err := store.Engine().DB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, store.UserID())
}

func (e *Engine) executeListing(ctx context.Context, store *database.Store, filter *Filter, options *Options) ([]*models.Memory, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + database.QualifiedMemoryColumns("m") + `
		FROM memories m
		WHERE 1 = 1`)
	var args []interface{}
	if !options.IncludeInactive {
		sb.WriteString(" AND m.is_active = 1")
	}

	appendFilters(&sb, &args, filter, "m.")
	appendOrder(&sb, options, "m.", "m.confidence_score DESC")

	rows, err := store.Engine().DB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, store.UserID())
}

func appendFilters(sb *strings.Builder, args *[]interface{}, filter *Filter, prefix string) {
	if filter.Category != "" {
		sb.WriteString(" AND " + prefix + "category = ?")
		*args = append(*args, string(filter.Category))
	}
	if filter.FromDate != nil {
		sb.WriteString(" AND " + prefix + "created_at >= ?")
		*args = append(*args, database.FormatTime(*filter.FromDate))
	}
	if filter.ToDate != nil {
		sb.WriteString(" AND " + prefix + "created_at <= ?")
		*args = append(*args, database.FormatTime(*filter.ToDate))
	}
	if filter.MinConfidence != nil {
		sb.WriteString(" AND " + prefix + "confidence_score >= ?")
		*args = append(*args, *filter.MinConfidence)
	}
	if filter.MaxConfidence != nil {
		sb.WriteString(" AND " + prefix + "confidence_score <= ?")
		*args = append(*args, *filter.MaxConfidence)
	}
}

func appendOrder(sb *strings.Builder, options *Options, prefix, relevanceOrder string) {
	column, ok := sortColumns[options.SortBy]
	if !ok {
		sb.WriteString(" ORDER BY " + relevanceOrder)
		return
	}
	direction := "DESC"
	if options.SortOrder == OrderAsc {
		direction = "ASC"
	}
	sb.WriteString(" ORDER BY " + prefix + column + " " + direction)
}

func collect(rows *sql.Rows, userID string) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m, err := database.ScanMemory(rows, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func paginate(results []Result, options *Options) []Result {
	if options.Offset >= len(results) {
		return []Result{}
	}
	end := options.Offset + options.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[options.Offset:end]
}

func (e *Engine) recordSearch(elapsedMS float64) {
	e.mu.Lock()
	e.searches++
	e.totalTimeMS += elapsedMS
	e.mu.Unlock()
}

// Stats reports rolling search counters.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := map[string]interface{}{
		"total_searches": e.searches,
	}
	if e.searches > 0 {
		out["avg_execution_time_ms"] = e.totalTimeMS / float64(e.searches)
	}
	return out
}

// Health verifies the FTS index answers for one user.
func (e *Engine) Health(ctx context.Context, userID string) error {
	store, err := e.router.Store(userID)
	if err != nil {
		return err
	}
	var n int
	return store.Engine().DB().QueryRowContext(ctx, `SELECT count(*) FROM memories_fts`).Scan(&n)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

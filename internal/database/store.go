package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"harmonia/internal/models"
)

var (
	// ErrNotFound signals a missing memory id.
	ErrNotFound = errors.New("memory not found")
	// ErrDuplicate signals a memory id collision on create.
	ErrDuplicate = errors.New("memory already exists")
)

// timeFormat matches the DDL defaults so trigger-written and Go-written
// timestamps compare correctly.
const timeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders a timestamp the way the schema stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeFormat, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Store provides memory CRUD over one user's Engine.
type Store struct {
	engine *Engine
	userID string
}

// NewStore binds a Store to an engine for one user.
func NewStore(engine *Engine, userID string) *Store {
	return &Store{engine: engine, userID: userID}
}

// Engine exposes the underlying engine (used by the search layer).
func (s *Store) Engine() *Engine {
	return s.engine
}

// UserID returns the owner of this store.
func (s *Store) UserID() string {
	return s.userID
}

const memoryColumns = `memory_id, content, original_message, category, confidence_score,
	timestamp, created_at, updated_at, metadata, embedding, is_active`

// ScanMemory reads one row selected with the memory column list. The search
// layer uses it for its own queries.
func ScanMemory(row interface{ Scan(...interface{}) error }, userID string) (*models.Memory, error) {
	var (
		m            models.Memory
		originalMsg  sql.NullString
		eventTime    sql.NullString
		createdAt    string
		updatedAt    string
		metadataJSON string
		embedding    []byte
		isActive     int
	)

	err := row.Scan(&m.MemoryID, &m.Content, &originalMsg, &m.Category, &m.ConfidenceScore,
		&eventTime, &createdAt, &updatedAt, &metadataJSON, &embedding, &isActive)
	if err != nil {
		return nil, err
	}

	m.UserID = userID
	m.OriginalMessage = originalMsg.String
	if eventTime.Valid && eventTime.String != "" {
		t := parseTime(eventTime.String)
		m.Timestamp = &t
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	m.Embedding = embedding
	m.IsActive = isActive != 0

	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &m.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", m.MemoryID, err)
		}
	}
	return &m, nil
}

// Exists reports whether a memory id is present (active or not).
func (s *Store) Exists(ctx context.Context, memoryID string) (bool, error) {
	var one int
	err := s.engine.DB().QueryRowContext(ctx,
		`SELECT 1 FROM memories WHERE memory_id = ?`, memoryID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts a new memory and its create audit row in one transaction.
// Returns ErrDuplicate on id collision.
func (s *Store) Create(ctx context.Context, m *models.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}
	exists, err := s.Exists(ctx, m.MemoryID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}

	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.Before(m.CreatedAt) {
		m.UpdatedAt = m.CreatedAt
	}

	return s.engine.WithTx(ctx, func(tx *sql.Tx) error {
		return s.insertTx(ctx, tx, m)
	})
}

// insertTx writes a memory and its audit row within an open transaction.
func (s *Store) insertTx(ctx context.Context, tx *sql.Tx, m *models.Memory) error {
	metadata, err := m.MetadataJSON()
	if err != nil {
		return err
	}

	var eventTime interface{}
	if m.Timestamp != nil {
		eventTime = FormatTime(*m.Timestamp)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MemoryID, m.Content, m.OriginalMessage, string(m.Category), m.ConfidenceScore,
		eventTime, FormatTime(m.CreatedAt), FormatTime(m.UpdatedAt), metadata, m.Embedding,
		boolToInt(m.IsActive),
	)
	if err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}

	return s.auditTx(ctx, tx, m.MemoryID, "", m.Content, models.UpdateTypeCreate)
}

// Get returns an active memory, or ErrNotFound.
func (s *Store) Get(ctx context.Context, memoryID string) (*models.Memory, error) {
	row := s.engine.DB().QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE memory_id = ? AND is_active = 1`, memoryID)
	m, err := ScanMemory(row, s.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetAny returns a memory regardless of is_active. Used by rollback and
// conflict side effects.
func (s *Store) GetAny(ctx context.Context, memoryID string) (*models.Memory, error) {
	row := s.engine.DB().QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE memory_id = ?`, memoryID)
	m, err := ScanMemory(row, s.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// Update rewrites content, confidence, metadata, and is_active for one
// memory. A content change appends an audit row.
func (s *Store) Update(ctx context.Context, m *models.Memory, updateType models.UpdateType) error {
	prev, err := s.GetAny(ctx, m.MemoryID)
	if err != nil {
		return err
	}

	metadata, err := m.MetadataJSON()
	if err != nil {
		return err
	}

	m.UpdatedAt = time.Now()

	return s.engine.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE memories
			 SET content = ?, category = ?, confidence_score = ?, metadata = ?,
			     is_active = ?, updated_at = ?
			 WHERE memory_id = ?`,
			m.Content, string(m.Category), m.ConfidenceScore, metadata,
			boolToInt(m.IsActive), FormatTime(m.UpdatedAt), m.MemoryID,
		)
		if err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}

		if prev.Content != m.Content {
			return s.auditTx(ctx, tx, m.MemoryID, prev.Content, m.Content, updateType)
		}
		return nil
	})
}

// Touch refreshes updated_at without changing content.
func (s *Store) Touch(ctx context.Context, memoryID string) error {
	res, err := s.engine.Exec(ctx,
		`UPDATE memories SET updated_at = ? WHERE memory_id = ?`,
		FormatTime(time.Now()), memoryID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Archive soft-deletes a memory, recording the audit row.
func (s *Store) Archive(ctx context.Context, memoryID string, updatedBy string) error {
	prev, err := s.GetAny(ctx, memoryID)
	if err != nil {
		return err
	}

	return s.engine.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE memories SET is_active = 0, updated_at = ? WHERE memory_id = ?`,
			FormatTime(time.Now()), memoryID)
		if err != nil {
			return err
		}
		return s.auditWithActorTx(ctx, tx, memoryID, prev.Content, prev.Content, models.UpdateTypeArchive, updatedBy)
	})
}

// Restore reactivates a soft-deleted memory (rollback path).
func (s *Store) Restore(ctx context.Context, memoryID string) error {
	res, err := s.engine.Exec(ctx,
		`UPDATE memories SET is_active = 1, updated_at = ? WHERE memory_id = ?`,
		FormatTime(time.Now()), memoryID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a memory. soft=true flips is_active; soft=false removes the
// row (the FTS trigger cleans the index either way).
func (s *Store) Delete(ctx context.Context, memoryID string, soft bool) error {
	if soft {
		return s.Archive(ctx, memoryID, "system")
	}
	res, err := s.engine.Exec(ctx, `DELETE FROM memories WHERE memory_id = ?`, memoryID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent returns up to limit active memories, newest first. Used to build
// LLM context for extraction.
func (s *Store) Recent(ctx context.Context, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE is_active = 1 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows, s.userID)
}

// FindSimilar runs an FTS match seeded from the candidate's content and
// returns active memories for conflict detection. The seed is the first
// ~100 chars with FTS-unsafe characters stripped.
func (s *Store) FindSimilar(ctx context.Context, content string, limit int) ([]*models.Memory, error) {
	seed := similaritySeed(content)
	if len(seed) < 3 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	terms := strings.Fields(seed)
	query := strings.Join(terms, " OR ")

	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT `+QualifiedMemoryColumns("m")+`
		 FROM memories m
		 JOIN memories_fts ON memories_fts.memory_id = m.memory_id
		 WHERE memories_fts MATCH ? AND m.is_active = 1
		 ORDER BY memories_fts.rank LIMIT ?`, query, limit)
	if err != nil {
		// An unparsable seed means no candidates, not a failed write. Anything
		// else (closed handle, corrupt index) must surface.
		if isFTSSyntaxError(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows, s.userID)
}

func QualifiedMemoryColumns(alias string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// similaritySeed strips quotes, commas, and parens and truncates to 100 chars.
func similaritySeed(content string) string {
	cleaned := strings.NewReplacer(`"`, "", "'", "", ",", "", "(", "", ")", "", "^", "").Replace(content)
	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > 100 {
		cleaned = string(runes[:100])
		// Avoid splitting a word in half.
		if idx := strings.LastIndex(cleaned, " "); idx > 0 {
			cleaned = cleaned[:idx]
		}
	}
	return cleaned
}

func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "unknown special query") ||
		strings.Contains(msg, "malformed MATCH")
}

func collectMemories(rows *sql.Rows, userID string) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m, err := ScanMemory(rows, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateHistory returns audit rows for one memory, oldest first.
func (s *Store) UpdateHistory(ctx context.Context, memoryID string) ([]*models.MemoryUpdate, error) {
	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT update_id, memory_id, previous_content, new_content, update_type, updated_by, updated_at
		 FROM memory_updates WHERE memory_id = ? ORDER BY updated_at ASC`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.MemoryUpdate
	for rows.Next() {
		var (
			u         models.MemoryUpdate
			prev, nxt sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&u.UpdateID, &u.MemoryID, &prev, &nxt, &u.UpdateType, &u.UpdatedBy, &updatedAt); err != nil {
			return nil, err
		}
		u.PreviousContent = prev.String
		u.NewContent = nxt.String
		u.UpdatedAt = parseTime(updatedAt)
		out = append(out, &u)
	}
	return out, rows.Err()
}

// TouchSession upserts the session row, bumping the message counter and
// adding storedMemories to the memory counter.
func (s *Store) TouchSession(ctx context.Context, sessionID string, storedMemories int) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.engine.Exec(ctx,
		`INSERT INTO sessions (session_id, message_count, memory_count)
		 VALUES (?, 1, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   message_count = message_count + 1,
		   memory_count = memory_count + excluded.memory_count,
		   last_active_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		sessionID, storedMemories)
	return err
}

// Stats reports row counts for health and admin endpoints.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{}
	queries := map[string]string{
		"total_memories":  `SELECT count(*) FROM memories`,
		"active_memories": `SELECT count(*) FROM memories WHERE is_active = 1`,
		"audit_rows":      `SELECT count(*) FROM memory_updates`,
		"sessions":        `SELECT count(*) FROM sessions`,
	}
	for name, q := range queries {
		var n int
		if err := s.engine.DB().QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("stats query %s failed: %w", name, err)
		}
		stats[name] = n
	}
	return stats, nil
}

func (s *Store) auditTx(ctx context.Context, tx *sql.Tx, memoryID, prevContent, newContent string, t models.UpdateType) error {
	return s.auditWithActorTx(ctx, tx, memoryID, prevContent, newContent, t, "system")
}

func (s *Store) auditWithActorTx(ctx context.Context, tx *sql.Tx, memoryID, prevContent, newContent string, t models.UpdateType, actor string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO memory_updates (update_id, memory_id, previous_content, new_content, update_type, updated_by, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), memoryID, prevContent, newContent, string(t), actor, FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrInvalidUser signals a user id outside the safe character class.
var ErrInvalidUser = errors.New("invalid user id")

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DatabaseFileName is the per-user database file.
const DatabaseFileName = "harmonia.db"

// Router maps user ids to storage engines. Engines are created lazily on
// first access and cached; idle handles are evicted and closed by the cache.
type Router struct {
	dataDir string
	mu      sync.Mutex
	handles *gocache.Cache
}

// NewRouter creates a router rooted at dataDir. idleTTL bounds how long an
// unused engine stays open; sweepPeriod is the eviction scan interval.
func NewRouter(dataDir string, idleTTL, sweepPeriod time.Duration) (*Router, error) {
	usersDir := filepath.Join(dataDir, "users")
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create users directory: %w", err)
	}

	handles := gocache.New(idleTTL, sweepPeriod)
	handles.OnEvicted(func(userID string, v interface{}) {
		if engine, ok := v.(*Engine); ok {
			log.Printf("🧹 [ROUTER] Closing idle handle for user %s", userID)
			engine.Close()
		}
	})

	return &Router{dataDir: dataDir, handles: handles}, nil
}

// ValidateUserID rejects anything outside [A-Za-z0-9._-]+.
func ValidateUserID(userID string) error {
	if userID == "" || !userIDPattern.MatchString(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	return nil
}

func (r *Router) userPath(userID string) string {
	return filepath.Join(r.dataDir, "users", userID, DatabaseFileName)
}

// Get returns the engine for userID, creating directory and schema on first
// access. Concurrent calls for the same user return the same engine.
func (r *Router) Get(userID string) (*Engine, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.handles.Get(userID); ok {
		engine := v.(*Engine)
		// Refresh the idle clock on every access.
		r.handles.SetDefault(userID, engine)
		return engine, nil
	}

	engine, err := NewEngine(r.userPath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage for user %s: %w", userID, err)
	}
	r.handles.SetDefault(userID, engine)
	log.Printf("📂 [ROUTER] Opened storage for user %s", userID)
	return engine, nil
}

// Store returns a Store bound to userID's engine.
func (r *Router) Store(userID string) (*Store, error) {
	engine, err := r.Get(userID)
	if err != nil {
		return nil, err
	}
	return NewStore(engine, userID), nil
}

// Exists reports whether a database file exists for userID without opening it.
func (r *Router) Exists(userID string) bool {
	if ValidateUserID(userID) != nil {
		return false
	}
	_, err := os.Stat(r.userPath(userID))
	return err == nil
}

// List returns every user id with an on-disk database.
func (r *Router) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dataDir, "users"))
	if err != nil {
		return nil, err
	}
	var users []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.dataDir, "users", e.Name(), DatabaseFileName)); err == nil {
			users = append(users, e.Name())
		}
	}
	return users, nil
}

// Delete closes the handle and removes the user's database files including
// WAL sidecars. The user directory is removed when empty afterwards.
func (r *Router) Delete(userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}

	r.mu.Lock()
	if v, ok := r.handles.Get(userID); ok {
		v.(*Engine).Close()
		r.handles.Delete(userID)
	}
	r.mu.Unlock()

	base := r.userPath(userID)
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	// Best effort; a non-empty directory stays.
	os.Remove(filepath.Dir(base))

	log.Printf("🗑️ [ROUTER] Deleted storage for user %s", userID)
	return nil
}

// Backup writes a consistent snapshot of one user's database to destPath.
func (r *Router) Backup(ctx context.Context, userID, destPath string) error {
	engine, err := r.Get(userID)
	if err != nil {
		return err
	}
	return engine.Backup(ctx, destPath)
}

// Health pings every open handle.
func (r *Router) Health(ctx context.Context) map[string]error {
	out := map[string]error{}
	for userID, item := range r.handles.Items() {
		engine := item.Object.(*Engine)
		out[userID] = engine.Health(ctx)
	}
	return out
}

// UserStats describes one user's on-disk footprint.
type UserStats struct {
	UserID    string `json:"user_id"`
	DiskBytes int64  `json:"disk_bytes"`
	Open      bool   `json:"open"`
}

// Stats reports disk usage for every user database, open or not.
func (r *Router) Stats() ([]UserStats, error) {
	users, err := r.List()
	if err != nil {
		return nil, err
	}

	out := make([]UserStats, 0, len(users))
	for _, userID := range users {
		base := r.userPath(userID)
		var size int64
		for _, path := range []string{base, base + "-wal", base + "-shm"} {
			if fi, err := os.Stat(path); err == nil {
				size += fi.Size()
			}
		}
		_, open := r.handles.Get(userID)
		out = append(out, UserStats{UserID: userID, DiskBytes: size, Open: open})
	}
	return out, nil
}

// OpenHandles returns how many engines are currently cached.
func (r *Router) OpenHandles() int {
	return r.handles.ItemCount()
}

// CloseAll closes every cached engine. Idempotent.
func (r *Router) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, item := range r.handles.Items() {
		item.Object.(*Engine).Close()
		r.handles.Delete(userID)
	}
}

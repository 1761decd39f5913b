package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter(t.TempDir(), 30*time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	t.Cleanup(r.CloseAll)
	return r
}

func TestValidateUserID(t *testing.T) {
	valid := []string{"alice", "bob-2", "user_1", "a.b.c", "A-Z_0.9"}
	for _, id := range valid {
		if err := ValidateUserID(id); err != nil {
			t.Errorf("ValidateUserID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{"", "../etc", "a b", "user/1", "ünïcode", "semi;colon"}
	for _, id := range invalid {
		if err := ValidateUserID(id); !errors.Is(err, ErrInvalidUser) {
			t.Errorf("ValidateUserID(%q) = %v, want ErrInvalidUser", id, err)
		}
	}
}

func TestLazyCreation(t *testing.T) {
	r := newTestRouter(t)

	if r.Exists("alice") {
		t.Error("Exists() before first access should be false")
	}

	engine, err := r.Get("alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if engine == nil {
		t.Fatal("Get() returned nil engine")
	}
	if !r.Exists("alice") {
		t.Error("Exists() after first access should be true")
	}
}

func TestSameHandleForSameUser(t *testing.T) {
	r := newTestRouter(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles = map[*Engine]bool{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine, err := r.Get("alice")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			handles[engine] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(handles) != 1 {
		t.Errorf("concurrent Get() produced %d distinct handles, want 1", len(handles))
	}
}

func TestPerUserIsolation(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	aliceStore, err := r.Store("isolation_alice")
	if err != nil {
		t.Fatal(err)
	}
	bobStore, err := r.Store("isolation_bob")
	if err != nil {
		t.Fatal(err)
	}

	m := testMemory("mem-1", "My favorite language is Go")
	if err := aliceStore.Create(ctx, m); err != nil {
		t.Fatal(err)
	}

	if _, err := bobStore.Get(ctx, "mem-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bob sees alice's memory: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesFiles(t *testing.T) {
	r := newTestRouter(t)

	store, err := r.Store("alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), testMemory("mem-1", "something")); err != nil {
		t.Fatal(err)
	}

	path := store.Engine().Path()
	if err := r.Delete("alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("file %s still exists after delete", p)
		}
	}
	if r.Exists("alice") {
		t.Error("Exists() after delete should be false")
	}
}

func TestListUsers(t *testing.T) {
	r := newTestRouter(t)

	for _, id := range []string{"alice", "bob"} {
		if _, err := r.Get(id); err != nil {
			t.Fatal(err)
		}
	}

	users, err := r.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Errorf("List() = %v, want two users", users)
	}
}

func TestBackup(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	store, err := r.Store("alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, testMemory("mem-1", "backed up fact")); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := r.Backup(ctx, "alice", dest); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	restored, err := NewEngine(dest)
	if err != nil {
		t.Fatalf("opening backup failed: %v", err)
	}
	defer restored.Close()

	var count int
	if err := restored.DB().QueryRow(`SELECT count(*) FROM memories`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("backup memory count = %d, want 1", count)
	}
}

func TestStats(t *testing.T) {
	r := newTestRouter(t)
	if _, err := r.Get("alice"); err != nil {
		t.Fatal(err)
	}

	stats, err := r.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if len(stats) != 1 || stats[0].UserID != "alice" || stats[0].DiskBytes == 0 {
		t.Errorf("Stats() = %+v, want alice with nonzero size", stats)
	}
}

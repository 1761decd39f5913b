package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"harmonia/internal/database"
	"harmonia/internal/llm"
	"harmonia/internal/models"
	"harmonia/internal/processing"
	"harmonia/internal/prompts"
	"harmonia/internal/search"
)

const extractionBody = `{
	"memories": [
		{
			"content": "User's sister Maria lives in Boston",
			"memory_type": "relational",
			"confidence": 0.92,
			"entities": ["Maria", "Boston"]
		}
	],
	"extraction_confidence": 0.9,
	"reasoning": "clear family fact"
}`

type testEnv struct {
	app    *fiber.App
	router *database.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": extractionBody})
	}))
	t.Cleanup(server.Close)

	router, err := database.NewRouter(t.TempDir(), time.Minute, 0)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	t.Cleanup(router.CloseAll)

	client := llm.NewClient(server.URL, "test-model", 5*time.Second, 0)
	pipeline := processing.NewPipeline(client, processing.PipelineConfig{
		RetryDelay:        time.Millisecond,
		RequestsPerSecond: 1000,
	})
	resolver := processing.NewConflictResolver(processing.DefaultResolverPreferences())
	manager := processing.NewManager(router, pipeline, resolver)
	engine := search.NewEngine(router, 10, 100, 0)

	registry, err := prompts.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	for _, tpl := range prompts.NewBuilder().Templates() {
		if _, err := registry.Register(tpl, "built-in", "test"); err != nil {
			t.Fatalf("register template: %v", err)
		}
	}

	memoryHandler := NewMemoryHandler(manager, engine, router)
	healthHandler := NewHealthHandler(router, client, engine, manager)
	adminHandler := NewAdminHandler(router, registry, engine, t.TempDir())

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.Handle)
	api.Get("/health/simple", healthHandler.Simple)
	api.Get("/stats", healthHandler.Stats)

	memory := api.Group("/memory")
	memory.Post("/store", memoryHandler.Store)
	memory.Get("/search", memoryHandler.Search)
	memory.Get("/list", memoryHandler.List)
	memory.Get("/export", memoryHandler.Export)
	memory.Get("/:id", memoryHandler.Get)
	memory.Delete("/:id", memoryHandler.Delete)

	admin := api.Group("/admin")
	admin.Get("/users", adminHandler.Users)
	admin.Delete("/users/:id", adminHandler.DeleteUser)
	admin.Post("/users/:id/backup", adminHandler.BackupUser)
	admin.Get("/prompts", adminHandler.Prompts)

	return &testEnv{app: app, router: router}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func (e *testEnv) seed(t *testing.T, userID string, contents ...string) []string {
	t.Helper()
	store, err := e.router.Store(userID)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	ids := make([]string, len(contents))
	for i, content := range contents {
		m := &models.Memory{
			MemoryID:        fmt.Sprintf("mem-%d", i),
			UserID:          userID,
			Content:         content,
			Category:        models.MemoryTypeFactual,
			ConfidenceScore: 0.8,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
			IsActive:        true,
		}
		if err := store.Create(context.Background(), m); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		ids[i] = m.MemoryID
	}
	return ids
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestStoreEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/memory/store",
		`{"user_id": "alice", "session_id": "sess-1", "message": "My sister Maria lives in Boston and works at a hospital there"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	if body["action"] != "created" {
		t.Errorf("action = %v", body["action"])
	}
	if body["memories_stored"] != float64(1) {
		t.Errorf("memories_stored = %v", body["memories_stored"])
	}
}

func TestStoreValidation(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/memory/store", `{"message": "hello"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if code := errorCode(t, body); code != CodeValidation {
		t.Errorf("code = %q", code)
	}

	status, _ = env.do(t, http.MethodPost, "/api/v1/memory/store", `{"user_id": "alice"}`)
	if status != http.StatusBadRequest {
		t.Errorf("missing message status = %d, want 400", status)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice",
		"User likes espresso from the cafe downtown",
		"User plays tennis on saturdays",
	)

	status, body := env.do(t, http.MethodGet, "/api/v1/memory/search?user_id=alice&query=espresso", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["total_count"] != float64(1) {
		t.Errorf("total_count = %v", body["total_count"])
	}
	results, ok := body["results"].([]interface{})
	if !ok || len(results) != 1 {
		t.Fatalf("results = %v", body["results"])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/memory/search?user_id=alice", "")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if code := errorCode(t, body); code != CodeValidation {
		t.Errorf("code = %q", code)
	}
}

func TestListEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "First memory", "Second memory", "Third memory")

	status, body := env.do(t, http.MethodGet, "/api/v1/memory/list?user_id=alice&limit=2", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["total_count"] != float64(3) {
		t.Errorf("total_count = %v", body["total_count"])
	}
	if body["has_more"] != true {
		t.Errorf("has_more = %v", body["has_more"])
	}
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "User likes espresso")

	status, body := env.do(t, http.MethodGet, "/api/v1/memory/export?user_id=alice&format=csv", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	data, _ := body["data"].(string)
	if !strings.HasPrefix(data, "memory_id,") {
		t.Errorf("csv data = %q", data)
	}
	if body["memory_count"] != float64(1) {
		t.Errorf("memory_count = %v", body["memory_count"])
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/memory/export?user_id=alice&format=xml", "")
	if status != http.StatusBadRequest {
		t.Errorf("unsupported format status = %d, body = %v", status, body)
	}
}

func TestGetAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seed(t, "alice", "User likes espresso")

	status, body := env.do(t, http.MethodGet, "/api/v1/memory/"+ids[0]+"?user_id=alice", "")
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	memory, ok := body["memory"].(map[string]interface{})
	if !ok || memory["content"] != "User likes espresso" {
		t.Errorf("memory = %v", body["memory"])
	}

	status, _ = env.do(t, http.MethodDelete, "/api/v1/memory/"+ids[0]+"?user_id=alice", "")
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/memory/"+ids[0]+"?user_id=alice", "")
	if status != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", status)
	}
	if code := errorCode(t, body); code != CodeNotFound {
		t.Errorf("code = %q", code)
	}
}

func TestHealthSimple(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/health/simple", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestHealthFull(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	components, ok := body["components"].(map[string]interface{})
	if !ok {
		t.Fatalf("components = %v", body["components"])
	}
	if _, ok := components["llm"]; !ok {
		t.Error("llm component missing")
	}
	if _, ok := components["database"]; !ok {
		t.Error("database component missing")
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "User likes espresso")

	status, body := env.do(t, http.MethodGet, "/api/v1/stats", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	for _, key := range []string{"processing", "llm", "search", "storage"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %s section", key)
		}
	}
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "User likes espresso")

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/users", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["user_count"] != float64(1) {
		t.Errorf("user_count = %v", body["user_count"])
	}

	status, _ = env.do(t, http.MethodDelete, "/api/v1/admin/users/alice", "")
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/admin/users", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["user_count"] != float64(0) {
		t.Errorf("user_count after delete = %v", body["user_count"])
	}

	status, _ = env.do(t, http.MethodDelete, "/api/v1/admin/users/alice", "")
	if status != http.StatusNotFound {
		t.Errorf("delete missing user status = %d", status)
	}
}

func TestAdminBackup(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "User likes espresso")

	status, body := env.do(t, http.MethodPost, "/api/v1/admin/users/alice/backup", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	path, _ := body["backup_path"].(string)
	if path == "" {
		t.Error("backup_path missing")
	}
}

func TestAdminPrompts(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/prompts", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	templates, ok := body["templates"].(map[string]interface{})
	if !ok || len(templates) == 0 {
		t.Fatalf("templates = %v", body["templates"])
	}
	if _, ok := templates["base_system"]; !ok {
		t.Error("base_system template missing")
	}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-model" {
			t.Errorf("model = %v, want test-model", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]string{"response": `{"memories": []}`})
	})

	c := NewClient(srv.URL, "test-model", 5*time.Second, 3)
	got, err := c.Generate(context.Background(), "prompt", "system", &Options{Temperature: 0.1})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != `{"memories": []}` {
		t.Errorf("Generate() = %q", got)
	}

	stats := c.Stats()
	if stats.RequestsMade != 1 || stats.RequestsFailed != 0 {
		t.Errorf("stats = %+v, want one successful request", stats)
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	})

	c := NewClient(srv.URL, "test-model", 5*time.Second, 3)
	got, err := c.Generate(context.Background(), "prompt", "", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v, want retry success", err)
	}
	if got != "ok" {
		t.Errorf("Generate() = %q, want ok", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("server calls = %d, want 3", calls)
	}
}

func TestGenerateModelNotFoundNotRetried(t *testing.T) {
	var calls int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "model 'nope' not found"}`))
	})

	c := NewClient(srv.URL, "nope", 5*time.Second, 3)
	_, err := c.Generate(context.Background(), "prompt", "", nil)
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("Generate() error = %v, want ErrModelNotFound", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server calls = %d, want exactly 1 (no retry)", calls)
	}
}

func TestGenerateConnectionRefusedNotRetried(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "model", time.Second, 3)

	start := time.Now()
	_, err := c.Generate(context.Background(), "prompt", "", nil)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrUnavailable", err)
	}
	// A failed dial must not enter the backoff loop.
	if elapsed > 500*time.Millisecond {
		t.Errorf("Generate() took %v, want immediate failure", elapsed)
	}
}

func TestListModelsAndModelExists(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]interface{}{
				{"name": "llama3.2:3b", "size": 123},
				{"name": "qwen2.5:7b"},
			},
		})
	})

	c := NewClient(srv.URL, "llama3.2:3b", 5*time.Second, 3)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0].Name != "llama3.2:3b" {
		t.Errorf("ListModels() = %+v", models)
	}

	ok, err := c.ModelExists(context.Background(), "qwen2.5:7b")
	if err != nil || !ok {
		t.Errorf("ModelExists(qwen2.5:7b) = %v, %v; want true, nil", ok, err)
	}
	ok, _ = c.ModelExists(context.Background(), "missing")
	if ok {
		t.Error("ModelExists(missing) = true, want false")
	}
}

func TestHealthDegradedWhenModelMissing(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"models": []map[string]interface{}{{"name": "other-model"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "hi"})
	})

	c := NewClient(srv.URL, "wanted-model", 5*time.Second, 0)
	report := c.Health(context.Background())
	if report.Status != "degraded" {
		t.Errorf("Health().Status = %q, want degraded", report.Status)
	}
}

func TestHealthUnhealthyWhenUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "model", time.Second, 0)
	report := c.Health(context.Background())
	if report.Status != "unhealthy" {
		t.Errorf("Health().Status = %q, want unhealthy", report.Status)
	}
}

func TestErrorRingCapped(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "model", 100*time.Millisecond, 0)
	for i := 0; i < 15; i++ {
		c.Generate(context.Background(), "p", "", nil)
	}
	stats := c.Stats()
	if len(stats.LastErrors) > 10 {
		t.Errorf("error ring length = %d, want <= 10", len(stats.LastErrors))
	}
	if stats.RequestsFailed != 15 {
		t.Errorf("RequestsFailed = %d, want 15", stats.RequestsFailed)
	}
}

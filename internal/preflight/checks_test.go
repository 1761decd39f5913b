package preflight

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"harmonia/internal/config"
	"harmonia/internal/llm"
)

func testConfig(t *testing.T, llmHost string) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		LLMHost:             llmHost,
		LLMModel:            "test-model",
		ConfidenceThreshold: 0.7,
	}
}

func TestRunAllHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": "test-model"}},
		})
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	client := llm.NewClient(server.URL, "test-model", 5*time.Second, 0)

	results := NewChecker(cfg, client).RunAll()
	if HasFailures(results) {
		t.Fatalf("unexpected failures: %+v", results)
	}
	for _, r := range results {
		if r.Status != "pass" {
			t.Errorf("%s = %s (%s)", r.Name, r.Status, r.Message)
		}
	}
}

func TestLLMUnreachableIsWarning(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	client := llm.NewClient("http://127.0.0.1:1", "test-model", time.Second, 0)

	results := NewChecker(cfg, client).RunAll()
	if HasFailures(results) {
		t.Fatalf("LLM outage should not fail preflight: %+v", results)
	}

	found := false
	for _, r := range results {
		if r.Name == "LLM Connectivity" {
			found = true
			if r.Status != "warning" {
				t.Errorf("LLM check = %s, want warning", r.Status)
			}
		}
	}
	if !found {
		t.Error("LLM connectivity check missing")
	}
}

func TestInvalidConfigFails(t *testing.T) {
	cfg := testConfig(t, "localhost:11434") // missing scheme
	client := llm.NewClient("http://127.0.0.1:1", "test-model", time.Second, 0)

	results := NewChecker(cfg, client).RunAll()
	if !HasFailures(results) {
		t.Fatal("invalid config should fail preflight")
	}
}

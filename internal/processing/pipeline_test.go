package processing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"harmonia/internal/llm"
)

func fakeOllama(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *llm.Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, llm.NewClient(server.URL, "test-model", 5*time.Second, 0)
}

func extractionResponse(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": body})
	}
}

func testPipeline(client *llm.Client) *Pipeline {
	return NewPipeline(client, PipelineConfig{
		RetryDelay:        time.Millisecond,
		RequestsPerSecond: 1000,
	})
}

func TestProcessExtractsMemories(t *testing.T) {
	_, client := fakeOllama(t, extractionResponse(t, `{
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
	}`))
	p := testPipeline(client)

	result := p.Process(context.Background(), &Request{
		UserID:      "user-1",
		MessageText: "My sister Maria lives in Boston and works at a hospital there",
	})

	if !result.Success {
		t.Fatalf("process failed: %s", result.ErrorMessage)
	}
	if result.Skipped {
		t.Fatalf("unexpectedly skipped: %s", result.SkipReason)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("got %d memories, want 1", len(result.Memories))
	}
	if result.Memories[0].Content != "User's sister Maria lives in Boston" {
		t.Errorf("content = %q", result.Memories[0].Content)
	}
	if len(result.ConfidenceScores) != 1 {
		t.Errorf("got %d confidence breakdowns, want 1", len(result.ConfidenceScores))
	}
	if result.Memories[0].Confidence != result.ConfidenceScores[0].FinalScore {
		t.Errorf("memory confidence %f != final score %f",
			result.Memories[0].Confidence, result.ConfidenceScores[0].FinalScore)
	}
}

func TestProcessSkipsTrivialMessages(t *testing.T) {
	var calls int32
	_, client := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	p := testPipeline(client)

	result := p.Process(context.Background(), &Request{UserID: "user-1", MessageText: "ok thanks"})
	if !result.Success || !result.Skipped {
		t.Fatalf("trivial message should be skipped, got %+v", result)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("LLM called %d times for a skipped message", calls)
	}
}

func TestProcessFiltersLowConfidence(t *testing.T) {
	_, client := fakeOllama(t, extractionResponse(t, `{
		"memories": [
			{"content": "hm", "memory_type": "episodic", "confidence": 0.1}
		],
		"extraction_confidence": 0.4
	}`))
	p := testPipeline(client)

	result := p.Process(context.Background(), &Request{
		UserID:      "user-1",
		MessageText: "My sister Maria lives in Boston and works at a hospital there",
	})
	if !result.Success {
		t.Fatalf("process failed: %s", result.ErrorMessage)
	}
	if len(result.Memories) != 0 {
		t.Errorf("low-confidence candidate survived filtering: %+v", result.Memories)
	}
	if result.Metadata["memories_before_filtering"] != 1 {
		t.Errorf("metadata = %v", result.Metadata)
	}
}

func TestProcessParseFailure(t *testing.T) {
	_, client := fakeOllama(t, extractionResponse(t, `not json at all`))
	p := testPipeline(client)

	result := p.Process(context.Background(), &Request{
		UserID:      "user-1",
		MessageText: "My sister Maria lives in Boston and works at a hospital there",
	})
	if result.Success {
		t.Fatal("parse failure should fail the result")
	}
	if result.ErrorMessage == "" {
		t.Error("missing error message")
	}
}

func TestProcessRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest) // permanent per-request, retried by the pipeline
			w.Write([]byte(`bad request`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": `{"memories": [], "extraction_confidence": 0.5}`})
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "test-model", 5*time.Second, 0)
	p := testPipeline(client)

	result := p.Process(context.Background(), &Request{
		UserID:      "user-1",
		MessageText: "My sister Maria lives in Boston and works at a hospital there",
	})
	if !result.Success {
		t.Fatalf("process failed after retry: %s", result.ErrorMessage)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("LLM called %d times, want 2", got)
	}
}

func TestProcessModelNotFoundNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`model "test-model" not found`))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "test-model", 5*time.Second, 0)
	p := testPipeline(client)

	result := p.Process(context.Background(), &Request{
		UserID:      "user-1",
		MessageText: "My sister Maria lives in Boston and works at a hospital there",
	})
	if result.Success {
		t.Fatal("missing model should fail the result")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("LLM called %d times for a missing model, want 1", got)
	}
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	_, client := fakeOllama(t, extractionResponse(t, `{"memories": [], "extraction_confidence": 0.5}`))
	p := testPipeline(client)

	requests := []*Request{
		{UserID: "u", MessageText: "My sister Maria lives in Boston with her family"},
		{UserID: "u", MessageText: "ok"},
		{UserID: "u", MessageText: "I work at a startup downtown as a backend engineer"},
	}
	results := p.ProcessBatch(context.Background(), requests)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r == nil {
			t.Fatalf("result %d is nil", i)
		}
	}
	if !results[1].Skipped {
		t.Error("second message should be skipped")
	}
	if results[0].Skipped || results[2].Skipped {
		t.Error("substantive messages should not be skipped")
	}
}

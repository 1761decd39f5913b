package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"harmonia/internal/metrics"
)

var (
	// ErrModelNotFound is surfaced immediately, never retried.
	ErrModelNotFound = errors.New("model not found")
	// ErrUnavailable signals the completion service cannot be reached.
	ErrUnavailable = errors.New("llm service unavailable")
)

// Options are generation parameters passed straight to the completion API.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelInfo describes one available model.
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	Digest     string `json:"digest,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// HealthReport is the result of one health probe.
type HealthReport struct {
	Status          string    `json:"status"` // healthy, degraded, unhealthy
	Host            string    `json:"host"`
	DefaultModel    string    `json:"default_model"`
	ResponseTimeMS  float64   `json:"response_time_ms"`
	ModelsAvailable []string  `json:"models_available"`
	Errors          []string  `json:"errors,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Stats are rolling client statistics, safe to read at any time.
type Stats struct {
	RequestsMade    int64          `json:"requests_made"`
	RequestsFailed  int64          `json:"requests_failed"`
	AvgResponseMS   float64        `json:"avg_response_ms"`
	LastRequestTime time.Time      `json:"last_request_time"`
	ModelsUsed      []string       `json:"models_used"`
	LastErrors      []RequestError `json:"last_errors,omitempty"`
	Connected       bool           `json:"connected"`
	SuccessRate     float64        `json:"success_rate"`
}

// RequestError is one entry of the last-error ring (capacity 10).
type RequestError struct {
	Error     string    `json:"error"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Client talks to an Ollama-compatible completion service.
type Client struct {
	host         string
	defaultModel string
	maxRetries   int
	httpClient   *http.Client

	mu           sync.Mutex
	connected    bool
	requestsMade int64
	requestsFail int64
	totalLatency time.Duration
	lastRequest  time.Time
	modelsUsed   map[string]bool
	lastErrors   []RequestError
}

// NewClient builds a client. host must include the scheme.
func NewClient(host, defaultModel string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		host:         strings.TrimSuffix(host, "/"),
		defaultModel: defaultModel,
		maxRetries:   maxRetries,
		httpClient:   &http.Client{Timeout: timeout},
		modelsUsed:   map[string]bool{},
	}
}

// DefaultModel returns the configured model name.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

func (c *Client) recordResult(model string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsMade++
	c.lastRequest = time.Now()
	if err != nil {
		c.requestsFail++
		c.lastErrors = append(c.lastErrors, RequestError{
			Error:     err.Error(),
			Model:     model,
			Timestamp: time.Now(),
		})
		if len(c.lastErrors) > 10 {
			c.lastErrors = c.lastErrors[len(c.lastErrors)-10:]
		}
		return
	}
	c.totalLatency += latency
	c.modelsUsed[model] = true
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

// post sends a JSON request and decodes the response into out. Retries with
// exponential backoff; model-missing and connection-refused errors surface
// immediately.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrUnavailable, err)
			// A failed dial means nothing is listening; retrying only
			// delays the caller's error.
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Op == "dial" {
				return backoff.Permanent(wrapped)
			}
			return wrapped
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusNotFound || containsModelError(respBody) {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrModelNotFound, strings.TrimSpace(string(respBody))))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("llm request failed: status %d: %s", resp.StatusCode, respBody))
		}

		return json.Unmarshal(respBody, out)
	}

	return backoff.Retry(op, c.retryPolicy(ctx))
}

func containsModelError(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "model") && strings.Contains(lower, "not found")
}

// Generate runs one prompt through /api/generate and returns the raw text.
func (c *Client) Generate(ctx context.Context, prompt, system string, opts *Options) (string, error) {
	model := c.defaultModel
	payload := map[string]interface{}{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}
	if system != "" {
		payload["system"] = system
	}
	if opts != nil {
		payload["options"] = opts
	}

	var result struct {
		Response string `json:"response"`
	}

	start := time.Now()
	err := c.post(ctx, "/api/generate", payload, &result)
	latency := time.Since(start)
	c.recordResult(model, latency, err)

	if m := metrics.Get(); m != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.RecordLLMRequest(outcome, latency.Seconds())
	}

	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// Chat runs a conversation through /api/chat.
func (c *Client) Chat(ctx context.Context, messages []Message, opts *Options) (string, error) {
	model := c.defaultModel
	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	if opts != nil {
		payload["options"] = opts
	}

	var result struct {
		Message Message `json:"message"`
	}

	start := time.Now()
	err := c.post(ctx, "/api/chat", payload, &result)
	c.recordResult(model, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

// ListModels returns the models the service reports.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// ModelExists reports whether name is available.
func (c *Client) ModelExists(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Health probes the service: lists models, checks the default model is
// present, and pokes it with a tiny generation to catch stuck models.
func (c *Client) Health(ctx context.Context) HealthReport {
	start := time.Now()
	report := HealthReport{
		Status:       "healthy",
		Host:         c.host,
		DefaultModel: c.defaultModel,
		CheckedAt:    time.Now(),
	}

	models, err := c.ListModels(ctx)
	if err != nil {
		report.Status = "unhealthy"
		report.Errors = append(report.Errors, fmt.Sprintf("connection failed: %v", err))
	} else {
		for _, m := range models {
			report.ModelsAvailable = append(report.ModelsAvailable, m.Name)
		}

		available := false
		for _, name := range report.ModelsAvailable {
			if name == c.defaultModel {
				available = true
				break
			}
		}
		if !available {
			report.Status = "degraded"
			report.Errors = append(report.Errors, fmt.Sprintf("default model %q not available", c.defaultModel))
		} else {
			probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			_, probeErr := c.Generate(probeCtx, "Hello", "", &Options{NumPredict: 5})
			cancel()
			if probeErr != nil {
				report.Status = "degraded"
				report.Errors = append(report.Errors, fmt.Sprintf("model probe failed: %v", probeErr))
			}
		}
	}

	report.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	c.mu.Lock()
	c.connected = report.Status != "unhealthy"
	c.mu.Unlock()

	if report.Status != "healthy" {
		log.Printf("⚠️ [LLM] Health check %s: %v", report.Status, report.Errors)
	}
	return report
}

// Stats returns a snapshot of the rolling statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		RequestsMade:    c.requestsMade,
		RequestsFailed:  c.requestsFail,
		LastRequestTime: c.lastRequest,
		Connected:       c.connected,
		LastErrors:      append([]RequestError(nil), c.lastErrors...),
	}
	for m := range c.modelsUsed {
		s.ModelsUsed = append(s.ModelsUsed, m)
	}
	succeeded := c.requestsMade - c.requestsFail
	if succeeded > 0 {
		s.AvgResponseMS = float64(c.totalLatency.Milliseconds()) / float64(succeeded)
	}
	if c.requestsMade > 0 {
		s.SuccessRate = float64(succeeded) / float64(c.requestsMade) * 100.0
	}
	return s
}

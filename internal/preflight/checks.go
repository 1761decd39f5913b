package preflight

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"harmonia/internal/config"
	"harmonia/internal/llm"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before the server starts
type Checker struct {
	cfg    *config.Config
	client *llm.Client
}

// NewChecker creates a new preflight checker
func NewChecker(cfg *config.Config, client *llm.Client) *Checker {
	return &Checker{cfg: cfg, client: client}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkConfiguration(),
		c.checkDataDirectory(),
		c.checkLLMConnectivity(),
	}

	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("\n📊 Pre-flight summary: %d passed, %d failed, %d warnings\n", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkConfiguration validates the loaded configuration
func (c *Checker) checkConfiguration() CheckResult {
	if err := c.cfg.Validate(); err != nil {
		return CheckResult{
			Name:    "Configuration",
			Status:  "fail",
			Message: "Configuration invalid",
			Error:   err,
		}
	}
	return CheckResult{
		Name:    "Configuration",
		Status:  "pass",
		Message: "Configuration valid",
	}
}

// checkDataDirectory verifies the data directory exists and is writable
func (c *Checker) checkDataDirectory() CheckResult {
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return CheckResult{
			Name:    "Data Directory",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot create data directory %s", c.cfg.DataDir),
			Error:   err,
		}
	}

	probe := filepath.Join(c.cfg.DataDir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Name:    "Data Directory",
			Status:  "fail",
			Message: fmt.Sprintf("Data directory %s is not writable", c.cfg.DataDir),
			Error:   err,
		}
	}
	os.Remove(probe)

	return CheckResult{
		Name:    "Data Directory",
		Status:  "pass",
		Message: fmt.Sprintf("Data directory %s is writable", c.cfg.DataDir),
	}
}

// checkLLMConnectivity probes the LLM host. An unreachable LLM is a warning,
// not a failure: stored memories stay searchable without it.
func (c *Checker) checkLLMConnectivity() CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	models, err := c.client.ListModels(ctx)
	if err != nil {
		return CheckResult{
			Name:    "LLM Connectivity",
			Status:  "warning",
			Message: fmt.Sprintf("Cannot reach LLM at %s (extraction disabled until it recovers)", c.cfg.LLMHost),
			Error:   err,
		}
	}

	for _, m := range models {
		if m.Name == c.cfg.LLMModel {
			return CheckResult{
				Name:    "LLM Connectivity",
				Status:  "pass",
				Message: fmt.Sprintf("LLM reachable, model %s available", c.cfg.LLMModel),
			}
		}
	}
	return CheckResult{
		Name:    "LLM Connectivity",
		Status:  "warning",
		Message: fmt.Sprintf("LLM reachable but model %s not pulled", c.cfg.LLMModel),
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Port    string
	DataDir string

	// LLM (Ollama-compatible completion service)
	LLMHost                string
	LLMModel               string
	LLMTimeout             time.Duration
	LLMMaxRetries          int
	LLMHealthCheckInterval time.Duration
	LLMRequestsPerSecond   float64

	// Extraction pipeline
	ConfidenceThreshold float64
	MaxMemories         int
	BatchWorkers        int

	// Conflict resolution
	ContradictionThreshold float64
	MaxMergesPerBatch      int

	// Search
	CorpusStatsTTL  time.Duration
	DefaultPageSize int
	MaxPageSize     int

	// Multi-tenant router
	HandleIdleTTL     time.Duration
	HandleSweepPeriod time.Duration

	// Security
	APIKeyRequired bool
	APIKeys        []string

	// Rate limiting
	RateLimitEnabled   bool
	RequestsPerMinute  int
	RequestsPerHour    int
}

// fileConfig mirrors the optional YAML overlay (HARMONIA_CONFIG). Environment
// variables win over file values; file values win over defaults.
type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`
	LLM struct {
		Host    string `yaml:"host"`
		Model   string `yaml:"model"`
		Timeout int    `yaml:"timeout_seconds"`
	} `yaml:"llm"`
	Memory struct {
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
		MaxMemories         int     `yaml:"max_memories"`
	} `yaml:"memory"`
	Security struct {
		APIKeyRequired bool     `yaml:"api_key_required"`
		APIKeys        []string `yaml:"api_keys"`
	} `yaml:"security"`
}

// Load loads configuration from environment variables with defaults.
// If HARMONIA_CONFIG points at a YAML file, its values fill in before the
// environment is consulted.
func Load() *Config {
	fc := loadFile(getEnv("HARMONIA_CONFIG", ""))

	apiKeysEnv := getEnv("HARMONIA_API_KEYS", strings.Join(fc.Security.APIKeys, ","))
	var apiKeys []string
	for _, k := range strings.Split(apiKeysEnv, ",") {
		if k = strings.TrimSpace(k); k != "" {
			apiKeys = append(apiKeys, k)
		}
	}

	return &Config{
		Port:    getEnv("PORT", defaultStr(fc.Server.Port, "8000")),
		DataDir: getEnv("HARMONIA_DATA_DIR", defaultStr(fc.Storage.DataDir, "./data")),

		LLMHost:                getEnv("OLLAMA_HOST", defaultStr(fc.LLM.Host, "http://localhost:11434")),
		LLMModel:               getEnv("OLLAMA_MODEL", defaultStr(fc.LLM.Model, "llama3.2:3b")),
		LLMTimeout:             time.Duration(getIntEnv("OLLAMA_TIMEOUT_SECONDS", defaultInt(fc.LLM.Timeout, 30))) * time.Second,
		LLMMaxRetries:          getIntEnv("OLLAMA_MAX_RETRIES", 3),
		LLMHealthCheckInterval: time.Duration(getIntEnv("OLLAMA_HEALTH_INTERVAL_SECONDS", 300)) * time.Second,
		LLMRequestsPerSecond:   getFloatEnv("OLLAMA_REQUESTS_PER_SECOND", 5.0),

		ConfidenceThreshold: getFloatEnv("MEMORY_CONFIDENCE_THRESHOLD", defaultFloat(fc.Memory.ConfidenceThreshold, 0.7)),
		MaxMemories:         getIntEnv("MEMORY_MAX_PER_MESSAGE", defaultInt(fc.Memory.MaxMemories, 10)),
		BatchWorkers:        getIntEnv("MEMORY_BATCH_WORKERS", 5),

		ContradictionThreshold: getFloatEnv("CONFLICT_CONTRADICTION_THRESHOLD", 0.8),
		MaxMergesPerBatch:      getIntEnv("CONFLICT_MAX_MERGES_PER_BATCH", 3),

		CorpusStatsTTL:  time.Duration(getIntEnv("SEARCH_CORPUS_STATS_TTL_SECONDS", 300)) * time.Second,
		DefaultPageSize: getIntEnv("SEARCH_DEFAULT_PAGE_SIZE", 10),
		MaxPageSize:     getIntEnv("SEARCH_MAX_PAGE_SIZE", 100),

		HandleIdleTTL:     time.Duration(getIntEnv("ROUTER_HANDLE_IDLE_SECONDS", 1800)) * time.Second,
		HandleSweepPeriod: time.Duration(getIntEnv("ROUTER_SWEEP_SECONDS", 600)) * time.Second,

		APIKeyRequired: getBoolEnv("HARMONIA_API_KEY_REQUIRED", fc.Security.APIKeyRequired),
		APIKeys:        apiKeys,

		RateLimitEnabled:  getBoolEnv("RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 100),
		RequestsPerHour:   getIntEnv("RATE_LIMIT_PER_HOUR", 1000),
	}
}

// Validate reports obvious misconfiguration before the server starts serving.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.LLMHost, "http://") && !strings.HasPrefix(c.LLMHost, "https://") {
		return fmt.Errorf("OLLAMA_HOST must start with http:// or https://, got %q", c.LLMHost)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold out of range: %f", c.ConfidenceThreshold)
	}
	if c.APIKeyRequired && len(c.APIKeys) == 0 {
		return fmt.Errorf("API key auth enabled but no keys configured (set HARMONIA_API_KEYS)")
	}
	return nil
}

func loadFile(path string) fileConfig {
	var fc fileConfig
	if path == "" {
		return fc
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc
	}
	// A malformed file is ignored; env vars and defaults still apply.
	_ = yaml.Unmarshal(data, &fc)
	return fc
}

func defaultStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func defaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func defaultFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

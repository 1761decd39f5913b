package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg := Load()

	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.LLMModel != "llama3.2:3b" {
		t.Errorf("LLMModel = %q, want llama3.2:3b", cfg.LLMModel)
	}
	if cfg.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %f, want 0.7", cfg.ConfidenceThreshold)
	}
	if cfg.MaxMemories != 10 {
		t.Errorf("MaxMemories = %d, want 10", cfg.MaxMemories)
	}
	if cfg.APIKeyRequired {
		t.Error("APIKeyRequired should default to false")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("PORT", "9000")
	t.Setenv("HARMONIA_API_KEYS", "key-a, key-b ,")
	t.Setenv("HARMONIA_API_KEY_REQUIRED", "true")
	t.Setenv("MEMORY_CONFIDENCE_THRESHOLD", "0.55")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key-a" || cfg.APIKeys[1] != "key-b" {
		t.Errorf("APIKeys = %v, want [key-a key-b]", cfg.APIKeys)
	}
	if !cfg.APIKeyRequired {
		t.Error("APIKeyRequired should be true")
	}
	if cfg.ConfidenceThreshold != 0.55 {
		t.Errorf("ConfidenceThreshold = %f, want 0.55", cfg.ConfidenceThreshold)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	os.Clearenv()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "8080"
llm:
  model: qwen2.5:7b
memory:
  confidence_threshold: 0.6
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HARMONIA_CONFIG", path)
	t.Setenv("PORT", "7777") // env wins over file

	cfg := Load()

	if cfg.Port != "7777" {
		t.Errorf("Port = %q, want env override 7777", cfg.Port)
	}
	if cfg.LLMModel != "qwen2.5:7b" {
		t.Errorf("LLMModel = %q, want qwen2.5:7b from file", cfg.LLMModel)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %f, want 0.6 from file", cfg.ConfidenceThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad llm host", func(c *Config) { c.LLMHost = "localhost:11434" }, true},
		{"threshold out of range", func(c *Config) { c.ConfidenceThreshold = 1.5 }, true},
		{"auth without keys", func(c *Config) { c.APIKeyRequired = true; c.APIKeys = nil }, true},
		{"auth with keys", func(c *Config) { c.APIKeyRequired = true; c.APIKeys = []string{"k"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

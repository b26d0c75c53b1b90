// Package config loads service configuration from the environment with an
// optional YAML overlay file.
//
// Precedence: YAML file values override the built-in defaults, environment
// variables override both. A missing file is not an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the context pipeline service.
type Config struct {
	Port    string `yaml:"port"`     // HTTP port (default "8240")
	DataDir string `yaml:"data_dir"` // Directory for SQLite databases (default "./data")

	OllamaURL  string `yaml:"ollama_url"`  // Ollama API base URL
	EmbedModel string `yaml:"embed_model"` // Ollama embedding model
	GenModel   string `yaml:"gen_model"`   // Ollama generation model

	EmbedDim       int           `yaml:"embed_dim"`       // fallback embedding dimension (default 256)
	BackendTimeout time.Duration `yaml:"backend_timeout"` // per-call timeout for external backends

	RateWindow time.Duration `yaml:"rate_window"` // per-user pipeline throttle window
}

// Load builds a Config from defaults, an optional YAML file, and the
// environment, in that order.
func Load(path string) (Config, error) {
	cfg := Config{
		Port:           "8240",
		DataDir:        "./data",
		OllamaURL:      "http://localhost:11434",
		EmbedModel:     "nomic-embed-text",
		GenModel:       "llama3.2",
		EmbedDim:       256,
		BackendTimeout: 30 * time.Second,
		RateWindow:     30 * time.Second,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.Port = envOr("CONTEXTD_PORT", cfg.Port)
	cfg.DataDir = envOr("CONTEXTD_DATA_DIR", cfg.DataDir)
	cfg.OllamaURL = envOr("OLLAMA_URL", cfg.OllamaURL)
	cfg.EmbedModel = envOr("OLLAMA_EMBED_MODEL", cfg.EmbedModel)
	cfg.GenModel = envOr("OLLAMA_GEN_MODEL", cfg.GenModel)
	if v := os.Getenv("CONTEXTD_EMBED_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EmbedDim = n
		}
	}
	if v := os.Getenv("CONTEXTD_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BackendTimeout = d
		}
	}
	if v := os.Getenv("CONTEXTD_RATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateWindow = d
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

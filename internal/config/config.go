// Package config provides configuration loading and structs for the kiku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs"`
	CORSOrigins        []string `yaml:"cors_origins"`
	MaxUploadBytes     int64    `yaml:"max_upload_bytes"`
}

// RequestTimeout returns the per-request deadline applied by the HTTP layer.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// StorageConfig selects the durable backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // sqlite or bolt
	Path    string `yaml:"path"`
	Index   string `yaml:"index"` // memory or faiss
}

// EmbeddingConfig holds embedder settings for every provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // mock, onnx or openai
	ModelPath  string `yaml:"model_path"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	Truncate   string `yaml:"truncate"` // truncate or reject
	CacheSize  int    `yaml:"cache_size"`
	BatchSize  int    `yaml:"batch_size"`
}

// ChunkingConfig controls sentence grouping.
type ChunkingConfig struct {
	GroupSize int    `yaml:"group_size"`
	Splitter  string `yaml:"splitter"` // punkt or regex
}

// RetrievalConfig bounds the number of neighbors returned.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	MaxK int `yaml:"max_k"`
}

// GenerationConfig selects the answer generation service.
type GenerationConfig struct {
	Provider    string `yaml:"provider"` // gemini, openai or echo
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Timeout returns the HTTP client timeout for the generation service.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// WatchConfig maps watched directories to namespaces.
type WatchConfig struct {
	Directories []WatchDirectory `yaml:"directories"`
	Extensions  []string         `yaml:"extensions"`
	Recursive   *bool            `yaml:"recursive"`
}

// WatchDirectory binds one directory to the namespace its files are ingested into.
type WatchDirectory struct {
	Directory string `yaml:"directory"`
	Namespace string `yaml:"namespace"`
}

// RecursiveOrDefault reports whether to watch recursively; true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// APIKey resolves the secret named by envName. Empty envName yields "".
func APIKey(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

// Load reads and parses the config file at path, expands paths, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Path = expandPath(cfg.Storage.Path, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i].Directory = expandPath(cfg.Watch.Directories[i].Directory, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("invalid config: storage.backend %q (want sqlite or bolt)", c.Storage.Backend)
	}
	switch c.Storage.Index {
	case "memory", "faiss":
	default:
		return fmt.Errorf("invalid config: storage.index %q (want memory or faiss)", c.Storage.Index)
	}
	switch c.Embedding.Provider {
	case "mock", "onnx", "openai":
	default:
		return fmt.Errorf("invalid config: embedding.provider %q", c.Embedding.Provider)
	}
	switch c.Embedding.Truncate {
	case "truncate", "reject":
	default:
		return fmt.Errorf("invalid config: embedding.truncate %q (want truncate or reject)", c.Embedding.Truncate)
	}
	switch c.Chunking.Splitter {
	case "punkt", "regex":
	default:
		return fmt.Errorf("invalid config: chunking.splitter %q (want punkt or regex)", c.Chunking.Splitter)
	}
	switch c.Generation.Provider {
	case "gemini", "openai", "echo":
	default:
		return fmt.Errorf("invalid config: generation.provider %q", c.Generation.Provider)
	}
	if c.Retrieval.TopK > c.Retrieval.MaxK {
		return fmt.Errorf("invalid config: retrieval.top_k %d exceeds max_k %d", c.Retrieval.TopK, c.Retrieval.MaxK)
	}
	for _, d := range c.Watch.Directories {
		if d.Namespace == "" {
			return fmt.Errorf("invalid config: watch directory %s has no namespace", d.Directory)
		}
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

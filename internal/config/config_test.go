package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  backend: bolt
  path: "kiku.bolt"
embedding:
  provider: mock
  dimensions: 8
retrieval:
  top_k: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "bolt" {
		t.Errorf("backend = %s, want bolt", cfg.Storage.Backend)
	}
	if !filepath.IsAbs(cfg.Storage.Path) {
		t.Errorf("storage path should be absolute, got %s", cfg.Storage.Path)
	}
	if cfg.Embedding.Dimensions != 8 {
		t.Errorf("dimensions = %d, want 8", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("top_k = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, `
debug: true
embedding:
  provider: mock
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: "./data/kiku.db"
embedding:
  provider: mock
watch:
  directories:
    - directory: "./dev/sample"
      namespace: sample
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "kiku.db")
	if cfg.Storage.Path != wantDB {
		t.Errorf("storage path = %s, want %s", cfg.Storage.Path, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	wantWatch := filepath.Join(dir, "dev", "sample")
	if cfg.Watch.Directories[0].Directory != wantWatch {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0].Directory, wantWatch)
	}
	if cfg.Watch.Directories[0].Namespace != "sample" {
		t.Errorf("watch namespace = %s, want sample", cfg.Watch.Directories[0].Namespace)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"backend", "storage:\n  backend: postgres\n", "storage.backend"},
		{"truncate policy", "embedding:\n  provider: mock\n  truncate: drop\n", "embedding.truncate"},
		{"splitter", "embedding:\n  provider: mock\nchunking:\n  splitter: nltk\n", "chunking.splitter"},
		{"generation", "embedding:\n  provider: mock\ngeneration:\n  provider: claude\n", "generation.provider"},
		{"top_k above max_k", "embedding:\n  provider: mock\nretrieval:\n  top_k: 50\n  max_k: 10\n", "top_k"},
		{"watch without namespace", "embedding:\n  provider: mock\nwatch:\n  directories:\n    - directory: /tmp/x\n", "no namespace"},
		{"bad yaml", "server: [", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout() != 60*time.Second {
		t.Errorf("default request timeout: got %v", cfg.Server.RequestTimeout())
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Index != "memory" {
		t.Errorf("default storage: got %+v", cfg.Storage)
	}
	if cfg.Chunking.GroupSize != 5 || cfg.Chunking.Splitter != "punkt" {
		t.Errorf("default chunking: got %+v", cfg.Chunking)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("default top_k: got %d", cfg.Retrieval.TopK)
	}
	if cfg.Embedding.Truncate != "truncate" {
		t.Errorf("default truncate policy: got %s", cfg.Embedding.Truncate)
	}
	if cfg.Generation.Provider != "gemini" || cfg.Generation.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("default generation: got %+v", cfg.Generation)
	}
	if len(cfg.Watch.Extensions) == 0 || cfg.Watch.Extensions[0] != ".txt" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_NonPositiveGroupSize(t *testing.T) {
	cfg := &Config{Chunking: ChunkingConfig{GroupSize: -3}}
	ApplyDefaults(cfg)
	if cfg.Chunking.GroupSize != 5 {
		t.Errorf("group size = %d, want 5", cfg.Chunking.GroupSize)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []WatchDirectory{{Directory: "/tmp/docs", Namespace: "docs"}}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestAPIKey(t *testing.T) {
	t.Setenv("KIKU_TEST_KEY", "secret")
	if got := APIKey("KIKU_TEST_KEY"); got != "secret" {
		t.Errorf("APIKey = %q, want secret", got)
	}
	if got := APIKey(""); got != "" {
		t.Errorf("APIKey(\"\") = %q, want empty", got)
	}
}

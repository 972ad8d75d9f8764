package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 60
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "/usr/local/var/kiku/data/kiku.db"
	}
	if cfg.Storage.Index == "" {
		cfg.Storage.Index = "memory"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kiku/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 && cfg.Embedding.Provider != "openai" {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.Truncate == "" {
		cfg.Embedding.Truncate = "truncate"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Chunking.GroupSize <= 0 {
		cfg.Chunking.GroupSize = 5
	}
	if cfg.Chunking.Splitter == "" {
		cfg.Chunking.Splitter = "punkt"
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MaxK <= 0 {
		cfg.Retrieval.MaxK = 100
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "gemini"
	}
	switch cfg.Generation.Provider {
	case "gemini":
		if cfg.Generation.BaseURL == "" {
			cfg.Generation.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
		}
		if cfg.Generation.Model == "" {
			cfg.Generation.Model = "gemini-2.0-flash"
		}
		if cfg.Generation.APIKeyEnv == "" {
			cfg.Generation.APIKeyEnv = "GEMINI_API_KEY"
		}
	case "openai":
		if cfg.Generation.Model == "" {
			cfg.Generation.Model = "gpt-4o-mini"
		}
		if cfg.Generation.APIKeyEnv == "" {
			cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = 60
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

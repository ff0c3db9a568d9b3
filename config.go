package research

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the research engine.
type Config struct {
	// WorkspaceDir is where the database and content files live.
	// Defaults to ~/.research_data.
	WorkspaceDir string `json:"workspace_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat"`
	Embedding LLMConfig `json:"embedding"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim"`

	// Chunking
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`

	// Scraper
	RequestTimeout time.Duration `json:"request_timeout"`

	// Web search
	BraveAPIKey            string        `json:"brave_api_key"`
	SearXNGBaseURL         string        `json:"searxng_base_url"`
	SearchProviderTimeout  time.Duration `json:"search_provider_timeout"`
	SearXNGInstanceTimeout time.Duration `json:"searxng_instance_timeout"`
	SearchRetryBaseDelay   time.Duration `json:"search_retry_base_delay"`
	SearchRetryMax         int           `json:"search_retry_max"`

	// Agent
	AgentMaxIterations        int `json:"agent_max_iterations"`
	AgentMaxConcurrentScrapes int `json:"agent_max_concurrent_scrapes"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider"` // ollama, lmstudio, openai, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. The database is stored in ~/.research_data/library.db.
func DefaultConfig() Config {
	return Config{
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "ministral-3:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "embeddinggemma:latest",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:              768,
		ChunkSize:                 512,
		ChunkOverlap:              64,
		RequestTimeout:            30 * time.Second,
		SearchProviderTimeout:     10 * time.Second,
		SearXNGInstanceTimeout:    5 * time.Second,
		SearchRetryBaseDelay:      time.Second,
		SearchRetryMax:            2,
		AgentMaxIterations:        5,
		AgentMaxConcurrentScrapes: 3,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by environment
// variables. Call godotenv.Load first if a .env file should apply.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("RESEARCH_WORKSPACE"); v != "" {
		cfg.WorkspaceDir = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.Chat.APIKey
	}

	cfg.EmbeddingDim = envInt("EMBEDDING_DIM", cfg.EmbeddingDim)
	cfg.ChunkSize = envInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = envInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.RequestTimeout = envSeconds("REQUEST_TIMEOUT", cfg.RequestTimeout)

	cfg.BraveAPIKey = envString("BRAVE_API_KEY", cfg.BraveAPIKey)
	cfg.SearXNGBaseURL = envString("SEARXNG_BASE_URL", cfg.SearXNGBaseURL)
	cfg.SearchProviderTimeout = envSeconds("SEARCH_PROVIDER_TIMEOUT", cfg.SearchProviderTimeout)
	cfg.SearXNGInstanceTimeout = envSeconds("SEARXNG_INSTANCE_TIMEOUT", cfg.SearXNGInstanceTimeout)
	cfg.SearchRetryBaseDelay = envSeconds("SEARCH_RETRY_BASE_DELAY", cfg.SearchRetryBaseDelay)
	cfg.SearchRetryMax = envInt("SEARCH_RETRY_MAX", cfg.SearchRetryMax)

	cfg.AgentMaxIterations = envInt("AGENT_MAX_ITERATIONS", cfg.AgentMaxIterations)
	cfg.AgentMaxConcurrentScrapes = envInt("AGENT_MAX_CONCURRENT_SCRAPES", cfg.AgentMaxConcurrentScrapes)

	return cfg
}

// resolveWorkspace fills in the default workspace directory.
func (c *Config) resolveWorkspace() string {
	if c.WorkspaceDir != "" {
		return c.WorkspaceDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".research_data"
	}
	return filepath.Join(home, ".research_data")
}

// DBPath is the full path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.resolveWorkspace(), "library.db")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}

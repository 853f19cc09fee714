package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "./configs/config.yaml"

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// pgdriver (default) or pq
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type VectorStoreConfig struct {
	// postgres or chromem
	Type       string `yaml:"type"`
	Dimensions int    `yaml:"dimensions"`
	IndexLists int    `yaml:"index_lists"`
	// chromem only, empty keeps the collection in memory
	Path       string `yaml:"path"`
	Compress   bool   `yaml:"compress"`
	Collection string `yaml:"collection"`
}

type EmbeddingConfig struct {
	// openai or ollama
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	// openai, anthropic or ollama
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RAGConfig struct {
	ChunkSize        int     `yaml:"chunk_size"`
	ChunkOverlap     int     `yaml:"chunk_overlap"`
	TopK             int     `yaml:"top_k"`
	// nil means the default 0.25; an explicit 0 is kept
	MinSimilarity    *float64 `yaml:"min_similarity"`
	EmbedConcurrency int     `yaml:"embed_concurrency"`
}

type ScraperConfig struct {
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRedirects int           `yaml:"max_redirects"`
	MaxPages     int           `yaml:"max_pages"`
	MinWords     int           `yaml:"min_words"`
	RequestDelay time.Duration `yaml:"request_delay"`
}

type TranscriptConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	StartupDelay time.Duration `yaml:"startup_delay"`
	FetchDelay   time.Duration `yaml:"fetch_delay"`
	// optional, enables the cross-process run lock
	RedisURL string        `yaml:"redis_url"`
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	// rebuild the vector index after a run when it is still deferred
	EnsureIndex bool `yaml:"ensure_index"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	RAG         RAGConfig         `yaml:"rag"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Log         LogConfig         `yaml:"log"`
}

// LoadConfig reads the yaml file at path, expanding ${VAR} references from the
// environment. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	ApplyDefaults(cfg)
	applyEnvFallbacks(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Float returns a pointer to v, for optional config values.
func Float(v float64) *float64 {
	return &v
}

func ApplyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "postgres"
	}
	if cfg.VectorStore.Dimensions == 0 {
		cfg.VectorStore.Dimensions = 1536
	}
	if cfg.VectorStore.IndexLists == 0 {
		cfg.VectorStore.IndexLists = 100
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "chunks"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Model = "claude-sonnet-4-20250514"
		case "ollama":
			cfg.LLM.Model = "llama3.2"
		default:
			cfg.LLM.Model = "gpt-4o-mini"
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 500
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MinSimilarity == nil {
		cfg.RAG.MinSimilarity = Float(0.25)
	}
	if cfg.RAG.EmbedConcurrency == 0 {
		cfg.RAG.EmbedConcurrency = 4
	}

	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if cfg.Scraper.Timeout == 0 {
		cfg.Scraper.Timeout = 10 * time.Second
	}
	if cfg.Scraper.MaxRedirects == 0 {
		cfg.Scraper.MaxRedirects = 5
	}
	if cfg.Scraper.MaxPages == 0 {
		cfg.Scraper.MaxPages = 5
	}
	if cfg.Scraper.MinWords == 0 {
		cfg.Scraper.MinWords = 50
	}
	if cfg.Scraper.RequestDelay == 0 {
		cfg.Scraper.RequestDelay = 500 * time.Millisecond
	}

	if cfg.Transcript.BaseURL == "" {
		cfg.Transcript.BaseURL = "https://transcriptapi.com"
	}
	if cfg.Transcript.Timeout == 0 {
		cfg.Transcript.Timeout = 30 * time.Second
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Hour
	}
	if cfg.Scheduler.StartupDelay == 0 {
		cfg.Scheduler.StartupDelay = 10 * time.Second
	}
	if cfg.Scheduler.FetchDelay == 0 {
		cfg.Scheduler.FetchDelay = 500 * time.Millisecond
	}
	if cfg.Scheduler.LockKey == "" {
		cfg.Scheduler.LockKey = "knowledge-rag:retrain"
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = 55 * time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// keys commonly exported by the hosting environment
func applyEnvFallbacks(cfg *Config) {
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Transcript.APIKey == "" {
		cfg.Transcript.APIKey = os.Getenv("TRANSCRIPT_API_KEY")
	}
	if cfg.Scheduler.RedisURL == "" {
		cfg.Scheduler.RedisURL = os.Getenv("REDIS_URL")
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "pgdriver", "pq":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	switch c.VectorStore.Type {
	case "postgres", "chromem":
	default:
		errs = append(errs, fmt.Errorf("vector_store.type: unknown store %q", c.VectorStore.Type))
	}
	switch c.Embedding.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap: must be in [0, %d)", c.RAG.ChunkSize))
	}
	if m := c.RAG.MinSimilarity; m != nil && (*m < -1 || *m >= 1) {
		errs = append(errs, errors.New("rag.min_similarity: must be in [-1, 1)"))
	}
	if c.VectorStore.Dimensions < 0 || c.Embedding.BatchSize < 0 || c.RAG.TopK < 0 {
		errs = append(errs, errors.New("dimensions, batch_size and top_k must not be negative"))
	}
	return errors.Join(errs...)
}

// NeedsDatabase reports whether the configured stores require Postgres.
func (c *Config) NeedsDatabase() bool {
	return strings.EqualFold(c.VectorStore.Type, "postgres")
}

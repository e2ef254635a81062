package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// LLM
	LLMProvider     string
	ReasoningModel  string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	AnthropicAPIKey string
	LLMMaxRetries   int

	// Search
	SearchProvider string
	ExaAPIKey      string
	MistralAPIKey  string

	// Run store
	StoreBackend  string
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RunTTL        time.Duration

	// Research
	ReportPath          string
	ResearchConcurrency int
	ResultsPerQuery     int

	// Archive
	ArchiveEnabled bool
	EmbeddingModel string
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int

	Port string
}

var defaults = map[string]any{
	"LLM_PROVIDER":         "openai",
	"REASONING_MODEL":      "gpt-4o",
	"LLM_MAX_RETRIES":      3,
	"SEARCH_PROVIDER":      "exa",
	"STORE_BACKEND":        "sqlite",
	"SQLITE_PATH":          filepath.Join(".research", "runs.db"),
	"REDIS_ADDR":           "localhost:6379",
	"RUN_TTL":              "168h",
	"REPORT_PATH":          "report.md",
	"RESEARCH_CONCURRENCY": 1,
	"RESULTS_PER_QUERY":    1,
	"ARCHIVE_ENABLED":      false,
	"EMBEDDING_MODEL":      "gemini-embedding-001",
	"COLLECTION_NAME":      "research_archive",
	"CHUNK_SIZE":           1000,
	"CHUNK_OVERLAP":        200,
	"PORT":                 "8081",
}

// secrets are bound so they can come from the environment without a default.
var secrets = []string{
	"OPENAI_API_KEY", "GOOGLE_API_KEY", "ANTHROPIC_API_KEY",
	"EXA_API_KEY", "MISTRAL_API_KEY", "DATABASE_URL", "REDIS_PASSWORD",
}

// Load reads .env, then an optional config file, then the environment.
// configFile may be empty to search the default locations.
func Load(configFile string) (*Config, error) {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range secrets {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("research-helper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "research-helper"))
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		LLMProvider:     strings.ToLower(v.GetString("LLM_PROVIDER")),
		ReasoningModel:  v.GetString("REASONING_MODEL"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		GoogleAPIKey:    v.GetString("GOOGLE_API_KEY"),
		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		LLMMaxRetries:   v.GetInt("LLM_MAX_RETRIES"),

		SearchProvider: strings.ToLower(v.GetString("SEARCH_PROVIDER")),
		ExaAPIKey:      v.GetString("EXA_API_KEY"),
		MistralAPIKey:  v.GetString("MISTRAL_API_KEY"),

		StoreBackend:  strings.ToLower(v.GetString("STORE_BACKEND")),
		SQLitePath:    v.GetString("SQLITE_PATH"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RunTTL:        v.GetDuration("RUN_TTL"),

		ReportPath:          v.GetString("REPORT_PATH"),
		ResearchConcurrency: v.GetInt("RESEARCH_CONCURRENCY"),
		ResultsPerQuery:     v.GetInt("RESULTS_PER_QUERY"),

		ArchiveEnabled: v.GetBool("ARCHIVE_ENABLED"),
		EmbeddingModel: v.GetString("EMBEDDING_MODEL"),
		CollectionName: v.GetString("COLLECTION_NAME"),
		ChunkSize:      v.GetInt("CHUNK_SIZE"),
		ChunkOverlap:   v.GetInt("CHUNK_OVERLAP"),

		Port: v.GetString("PORT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case "openai", "google", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.SearchProvider {
	case "exa", "arxiv":
	default:
		errs = append(errs, fmt.Errorf("unknown SEARCH_PROVIDER %q", c.SearchProvider))
	}
	switch c.StoreBackend {
	case "sqlite", "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("STORE_BACKEND=postgres requires DATABASE_URL"))
	}
	if c.ArchiveEnabled && c.DatabaseURL == "" {
		errs = append(errs, errors.New("ARCHIVE_ENABLED requires DATABASE_URL"))
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("invalid chunking: size %d, overlap %d", c.ChunkSize, c.ChunkOverlap))
	}
	if c.ReportPath == "" {
		errs = append(errs, errors.New("REPORT_PATH must not be empty"))
	}
	return errors.Join(errs...)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "gpt-4o", cfg.ReasoningModel)
	assert.Equal(t, 3, cfg.LLMMaxRetries)
	assert.Equal(t, "exa", cfg.SearchProvider)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, filepath.Join(".research", "runs.db"), cfg.SQLitePath)
	assert.Equal(t, 168*time.Hour, cfg.RunTTL)
	assert.Equal(t, "report.md", cfg.ReportPath)
	assert.Equal(t, 1, cfg.ResearchConcurrency)
	assert.Equal(t, 1, cfg.ResultsPerQuery)
	assert.False(t, cfg.ArchiveEnabled)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, "8081", cfg.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("SEARCH_PROVIDER", "arxiv")
	t.Setenv("RESEARCH_CONCURRENCY", "4")
	t.Setenv("RUN_TTL", "2h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
	assert.Equal(t, "arxiv", cfg.SearchProvider)
	assert.Equal(t, 4, cfg.ResearchConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.RunTTL)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_backend: redis\nredis_addr: cache:6379\nreport_path: out/final.md\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, "out/final.md", cfg.ReportPath)

	t.Setenv("REDIS_ADDR", "env:6379")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env:6379", cfg.RedisAddr, "environment wins over file")
}

func TestLoad_DefaultConfigFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "research-helper.yaml"), []byte("port: \"9090\"\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.ErrorContains(t, err, "failed to read config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LLMProvider:    "openai",
			SearchProvider: "exa",
			StoreBackend:   "sqlite",
			ReportPath:     "report.md",
			ChunkSize:      1000,
			ChunkOverlap:   200,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown llm", func(c *Config) { c.LLMProvider = "cohere" }, "LLM_PROVIDER"},
		{"unknown search", func(c *Config) { c.SearchProvider = "bing" }, "SEARCH_PROVIDER"},
		{"unknown store", func(c *Config) { c.StoreBackend = "etcd" }, "STORE_BACKEND"},
		{"postgres without url", func(c *Config) { c.StoreBackend = "postgres" }, "DATABASE_URL"},
		{"archive without url", func(c *Config) { c.ArchiveEnabled = true }, "ARCHIVE_ENABLED"},
		{"overlap too large", func(c *Config) { c.ChunkOverlap = 1000 }, "invalid chunking"},
		{"empty report path", func(c *Config) { c.ReportPath = "" }, "REPORT_PATH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

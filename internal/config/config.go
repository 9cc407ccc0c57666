package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the lexrag API configuration.
type Config struct {
	HTTP       HTTPConfig                 `yaml:"http"`
	Database   DatabaseConfig             `yaml:"database"`
	SQLite     SQLiteConfig               `yaml:"sqlite"`
	Auth       AuthConfig                 `yaml:"auth"`
	Providers  ProvidersConfig            `yaml:"providers"`
	Embedding  map[string]EmbeddingConfig `yaml:"embedding"`
	Generation GenerationConfig           `yaml:"generation"`
	Retrieval  RetrievalConfig            `yaml:"retrieval"`
	Cache      CacheConfig                `yaml:"cache"`
	Analytics  AnalyticsConfig            `yaml:"analytics"`
	Logging    LoggingConfig              `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// SQLiteConfig holds the sqlite database settings. The interaction log always
// lives here; content and retrieval use it only when selected as backends.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ProvidersConfig selects backend implementations by name, resolved once at
// startup. Requests can never override the selection.
type ProvidersConfig struct {
	Embedding string `yaml:"embedding"` // openai, google
	Retrieval string `yaml:"retrieval"` // redis, sqlite
	Content   string `yaml:"content"`   // redis, sqlite
}

// EmbeddingConfig holds settings for one named embedding backend.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	Model         string  `yaml:"model"`
	Temperature   float32 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	SystemMessage string  `yaml:"system_message"`
	Jurisdiction  string  `yaml:"jurisdiction"`
}

// RetrievalConfig holds retrieval defaults and provenance settings.
type RetrievalConfig struct {
	IndexName      string  `yaml:"index_name"`
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	SourcePrefix   string  `yaml:"source_prefix"`
}

// CacheConfig holds response and embedding cache settings.
type CacheConfig struct {
	TTLSec          int `yaml:"ttl_sec"`
	MaxEntries      int `yaml:"max_entries"`
	EmbeddingTTLSec int `yaml:"embedding_ttl_sec"`
}

// AnalyticsConfig holds interaction log retention settings.
type AnalyticsConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "lexrag.db"
	}
	if c.Providers.Embedding == "" {
		c.Providers.Embedding = "openai"
	}
	if c.Providers.Retrieval == "" {
		c.Providers.Retrieval = "redis"
	}
	if c.Providers.Content == "" {
		c.Providers.Content = "redis"
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4.1"
	}
	if c.Retrieval.IndexName == "" {
		c.Retrieval.IndexName = "document_index"
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.ScoreThreshold == 0 {
		c.Retrieval.ScoreThreshold = 0.7
	}
	if c.Retrieval.SourcePrefix == "" {
		c.Retrieval.SourcePrefix = "kb://documents/"
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 3600
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1024
	}
	if c.Cache.EmbeddingTTLSec <= 0 {
		c.Cache.EmbeddingTTLSec = 86400
	}
	if c.Analytics.RetentionDays <= 0 {
		c.Analytics.RetentionDays = 90
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.needsRedis() && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required when a redis backend is selected")
	}
	if _, ok := c.Embedding[c.Providers.Embedding]; !ok {
		return fmt.Errorf("embedding.%s settings are required for the selected embedding provider",
			c.Providers.Embedding)
	}
	return nil
}

func (c *Config) needsRedis() bool {
	return c.Providers.Retrieval == "redis" || c.Providers.Content == "redis"
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

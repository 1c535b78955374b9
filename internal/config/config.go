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

// Config holds the pairwise API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Services ServicesConfig `yaml:"services"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
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

// DatabaseConfig holds cache persistence connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// ServiceConfig holds settings for one OpenAI-compatible backend.
type ServiceConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ServicesConfig holds the three model backends. They may point at the same
// deployment or at three different ones.
type ServicesConfig struct {
	Embedding ServiceConfig `yaml:"embedding"`
	Chat      ServiceConfig `yaml:"chat"`
	Rerank    ServiceConfig `yaml:"rerank"`
}

// PipelineConfig holds recommendation pipeline settings.
type PipelineConfig struct {
	CatalogPath            string              `yaml:"catalog_path"`
	TopKCandidates         int                 `yaml:"top_k_candidates"`
	TopKReturn             int                 `yaml:"top_k_return"`
	UseQueryNormalizer     bool                `yaml:"use_query_normalizer"`
	UseComplementGenerator bool                `yaml:"use_complement_generator"`
	UseComplementCache     bool                `yaml:"use_complement_cache"`
	NormalizeTimeoutSec    int                 `yaml:"normalize_timeout_sec"`
	NormalizedMaxLen       int                 `yaml:"normalized_max_len"`
	CacheTTLHours          int                 `yaml:"cache_ttl_hours"`
	FallbackComplements    map[string][]string `yaml:"fallback_complements"`
	WarmupIndex            bool                `yaml:"warmup_index"`
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

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
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
		// Rerank over a large candidate set can exceed the default.
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	applyServiceDefaults(&c.Services.Embedding, 30)
	applyServiceDefaults(&c.Services.Chat, 30)
	applyServiceDefaults(&c.Services.Rerank, 60)
	if c.Pipeline.CatalogPath == "" {
		c.Pipeline.CatalogPath = "data/products.json"
	}
	if c.Pipeline.TopKCandidates <= 0 {
		c.Pipeline.TopKCandidates = 20
	}
	if c.Pipeline.TopKReturn <= 0 {
		c.Pipeline.TopKReturn = 8
	}
	if c.Pipeline.NormalizeTimeoutSec <= 0 {
		c.Pipeline.NormalizeTimeoutSec = 10
	}
	if c.Pipeline.NormalizedMaxLen <= 0 {
		c.Pipeline.NormalizedMaxLen = 100
	}
	if c.Pipeline.CacheTTLHours <= 0 {
		c.Pipeline.CacheTTLHours = 168
	}
}

func applyServiceDefaults(s *ServiceConfig, timeoutSec int) {
	if s.TimeoutSec <= 0 {
		s.TimeoutSec = timeoutSec
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Services.Embedding.BaseURL == "" {
		return fmt.Errorf("services.embedding.base_url is required")
	}
	if c.Services.Embedding.Model == "" {
		return fmt.Errorf("services.embedding.model is required")
	}
	if c.Pipeline.UseComplementGenerator || c.Pipeline.UseQueryNormalizer {
		if c.Services.Chat.BaseURL == "" || c.Services.Chat.Model == "" {
			return fmt.Errorf("services.chat is required when the complement generator or query normalizer is enabled")
		}
	}
	if c.Services.Rerank.BaseURL == "" {
		return fmt.Errorf("services.rerank.base_url is required")
	}
	return nil
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

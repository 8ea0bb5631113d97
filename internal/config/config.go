package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoAPIKey is returned by Validate when the generative source has no key.
var ErrNoAPIKey = errors.New("LLM API key not configured (set GEMINI_API_KEY or llm.api_key)")

// Config holds all angelscout configuration.
type Config struct {
	Name string `yaml:"name"`

	// Generative source
	LLM LLMConfig `yaml:"llm"`

	// Record store backend
	Storage StorageConfig `yaml:"storage"`

	// Shared cache backend and TTLs
	Cache CacheConfig `yaml:"cache"`

	// Accumulation job coordination
	Accumulate AccumulateConfig `yaml:"accumulate"`

	// Query orchestration
	Search SearchConfig `yaml:"search"`

	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the Gemini candidate source.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxResults  int     `yaml:"max_results"`
	Timeout     string  `yaml:"timeout"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Driver       string   `yaml:"driver"` // memory, sqlite, postgres, s3
	SQLitePath   string   `yaml:"sqlite_path"`
	PostgresDSN  string   `yaml:"postgres_dsn"`
	S3           S3Config `yaml:"s3"`
	ReadCacheTTL string   `yaml:"read_cache_ttl"`
}

// S3Config configures the object-store backend.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// CacheConfig selects the shared cache backend.
type CacheConfig struct {
	Driver   string `yaml:"driver"` // memory, sqlite
	Path     string `yaml:"path"`
	QueryTTL string `yaml:"query_ttl"`
	LockTTL  string `yaml:"lock_ttl"`
}

// AccumulateConfig tunes lock staleness and the wait loop.
type AccumulateConfig struct {
	StaleAfter   string `yaml:"stale_after"`
	PollInterval string `yaml:"poll_interval"`
	MaxWait      string `yaml:"max_wait"`
}

// SearchConfig tunes the query orchestrator.
type SearchConfig struct {
	PageSize     int    `yaml:"page_size"`
	RefreshStale bool   `yaml:"refresh_stale"`
	RefreshAfter string `yaml:"refresh_after"` // minimum entry age before a refresh
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "angelscout",
		LLM: LLMConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.4,
			MaxResults:  20,
			Timeout:     "90s",
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			SQLitePath:   "data/angelscout.db",
			S3:           S3Config{Key: "investors.json", Region: "us-east-1"},
			ReadCacheTTL: "5s",
		},
		Cache: CacheConfig{
			Driver:   "memory",
			Path:     "data/angelscout-cache.db",
			QueryTTL: "1h",
			LockTTL:  "5m",
		},
		Accumulate: AccumulateConfig{
			StaleAfter:   "2m",
			PollInterval: "2s",
			MaxWait:      "60s",
		},
		Search: SearchConfig{
			PageSize:     50,
			RefreshAfter: "10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields defaults; env overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("ANGELSCOUT_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if d := os.Getenv("ANGELSCOUT_STORAGE_DRIVER"); d != "" {
		c.Storage.Driver = d
	}
	if p := os.Getenv("ANGELSCOUT_SQLITE_PATH"); p != "" {
		c.Storage.SQLitePath = p
	}
	if dsn := os.Getenv("ANGELSCOUT_POSTGRES_DSN"); dsn != "" {
		c.Storage.PostgresDSN = dsn
	}
	if b := os.Getenv("ANGELSCOUT_S3_BUCKET"); b != "" {
		c.Storage.S3.Bucket = b
	}
	if e := os.Getenv("ANGELSCOUT_S3_ENDPOINT"); e != "" {
		c.Storage.S3.Endpoint = e
	}
	if r := os.Getenv("ANGELSCOUT_S3_REGION"); r != "" {
		c.Storage.S3.Region = r
	}
	if ps := os.Getenv("ANGELSCOUT_S3_PATH_STYLE"); ps != "" {
		c.Storage.S3.PathStyle = strings.EqualFold(ps, "true")
	}
	if d := os.Getenv("ANGELSCOUT_CACHE_DRIVER"); d != "" {
		c.Cache.Driver = d
	}
	if p := os.Getenv("ANGELSCOUT_CACHE_PATH"); p != "" {
		c.Cache.Path = p
	}
}

// ValidStorageDrivers lists all supported record store backends.
var ValidStorageDrivers = []string{"memory", "sqlite", "postgres", "s3"}

// ValidCacheDrivers lists all supported shared cache backends.
var ValidCacheDrivers = []string{"memory", "sqlite"}

// Validate validates the configuration. requireKey is false for offline runs.
func (c *Config) Validate(requireKey bool) error {
	if requireKey && c.LLM.APIKey == "" {
		return ErrNoAPIKey
	}
	if !contains(ValidStorageDrivers, c.Storage.Driver) {
		return fmt.Errorf("invalid storage driver: %s (valid: %v)", c.Storage.Driver, ValidStorageDrivers)
	}
	if !contains(ValidCacheDrivers, c.Cache.Driver) {
		return fmt.Errorf("invalid cache driver: %s (valid: %v)", c.Cache.Driver, ValidCacheDrivers)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn required for postgres driver")
	}
	if c.Storage.Driver == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket required for s3 driver")
	}
	if c.Search.PageSize < 0 {
		return fmt.Errorf("search.page_size must not be negative")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// =============================================================================
// DURATION GETTERS
// =============================================================================

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the per-call generative source timeout.
func (c *Config) GetLLMTimeout() time.Duration { return parseDuration(c.LLM.Timeout, 90*time.Second) }

// GetReadCacheTTL returns the record store read-through cache lifetime.
func (c *Config) GetReadCacheTTL() time.Duration {
	return parseDuration(c.Storage.ReadCacheTTL, 5*time.Second)
}

// GetQueryTTL returns the per-query cache expiry.
func (c *Config) GetQueryTTL() time.Duration { return parseDuration(c.Cache.QueryTTL, time.Hour) }

// GetLockTTL returns the job lock expiry.
func (c *Config) GetLockTTL() time.Duration { return parseDuration(c.Cache.LockTTL, 5*time.Minute) }

// GetStaleAfter returns the age after which a held lock is reclaimed.
func (c *Config) GetStaleAfter() time.Duration {
	return parseDuration(c.Accumulate.StaleAfter, 2*time.Minute)
}

// GetPollInterval returns the wait-loop polling interval.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Accumulate.PollInterval, 2*time.Second)
}

// GetRefreshAfter returns how old a per-query entry must be to be refreshed.
func (c *Config) GetRefreshAfter() time.Duration {
	return parseDuration(c.Search.RefreshAfter, 10*time.Minute)
}

// GetMaxWait returns the wait-loop cap.
func (c *Config) GetMaxWait() time.Duration { return parseDuration(c.Accumulate.MaxWait, time.Minute) }

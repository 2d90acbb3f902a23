// Package config loads and validates engine configuration.
//
// Configuration is resolved in priority order:
//  1. Environment variables (DOCSEEK_*), highest priority
//  2. Config file (.docseek.yaml in the indexed root, or an explicit path)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	enginerr "github.com/docseek/docseek/internal/errors"
)

// Default values for the engine configuration.
const (
	DefaultMaxConcurrentJobs = 2
	DefaultJobTimeoutMinutes = 30
	DefaultDebounceWindowMS  = 500
	DefaultBatchSize         = 32
	DefaultVectorCacheSize   = 1024
	DefaultSuggestionCache   = 256
	DefaultFullTextWeight    = 0.5
	DefaultSemanticWeight    = 0.5
	DefaultEmbeddingModelID  = "builtin-minhash-256"
)

// Config represents the complete docseek configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IndexConfig configures on-disk index locations.
type IndexConfig struct {
	// DataDir is the engine-owned index directory.
	// Defaults to <root>/.docseek when empty.
	DataDir string `yaml:"data_dir"`

	// MaxFileSizeMB is the largest file the indexer will read (default 50).
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

// SearchConfig configures hybrid search parameters.
type SearchConfig struct {
	// FullTextWeight is the weight of the full-text leg in hybrid mode (0.0-1.0).
	FullTextWeight float64 `yaml:"full_text_weight"`

	// SemanticWeight is the weight of the semantic leg in hybrid mode (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight"`

	// MaxResults caps the number of results returned per query.
	MaxResults int `yaml:"max_results"`

	// SuggestionCacheSize bounds the query-prefix suggestion cache.
	SuggestionCacheSize int `yaml:"suggestion_cache_size"`
}

// EmbeddingConfig configures the embedding model.
type EmbeddingConfig struct {
	// ModelID names the embedding model (name+version).
	// Unknown ids put the embedding store into degraded mode.
	ModelID string `yaml:"model_id"`

	// BatchSize is the number of texts embedded per batch.
	BatchSize int `yaml:"batch_size"`

	// VectorCacheSize bounds the number of raw vectors held in memory.
	VectorCacheSize int `yaml:"vector_cache_size"`
}

// JobsConfig configures the background job scheduler.
type JobsConfig struct {
	// MaxConcurrent is the maximum number of simultaneously running jobs.
	MaxConcurrent int `yaml:"max_concurrent"`

	// TimeoutMinutes is the per-job execution budget.
	TimeoutMinutes int `yaml:"timeout_minutes"`

	// DetachGraceSeconds is how long a cancelled/timed-out job may run on
	// before the scheduler forcibly frees its slot.
	DetachGraceSeconds int `yaml:"detach_grace_seconds"`
}

// WatcherConfig configures the file change watcher.
type WatcherConfig struct {
	// DebounceWindowMS is the event coalescing window in milliseconds.
	DebounceWindowMS int `yaml:"debounce_window_ms"`

	// Exclude lists glob patterns never indexed or watched.
	Exclude []string `yaml:"exclude"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// defaultExcludePatterns are always excluded from watching and scanning.
// Patterns match file and directory base names. Dot-prefixed names are
// excluded unconditionally and need no pattern here.
var defaultExcludePatterns = []string{
	"node_modules",
	"*.tmp",
	"*.swp",
	"~$*",
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			MaxFileSizeMB: 50,
		},
		Search: SearchConfig{
			FullTextWeight:      DefaultFullTextWeight,
			SemanticWeight:      DefaultSemanticWeight,
			MaxResults:          50,
			SuggestionCacheSize: DefaultSuggestionCache,
		},
		Embedding: EmbeddingConfig{
			ModelID:         DefaultEmbeddingModelID,
			BatchSize:       DefaultBatchSize,
			VectorCacheSize: DefaultVectorCacheSize,
		},
		Jobs: JobsConfig{
			MaxConcurrent:      DefaultMaxConcurrentJobs,
			TimeoutMinutes:     DefaultJobTimeoutMinutes,
			DetachGraceSeconds: 10,
		},
		Watcher: WatcherConfig{
			DebounceWindowMS: DefaultDebounceWindowMS,
			Exclude:          defaultExcludePatterns,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply
	case err != nil:
		return nil, enginerr.Wrap(enginerr.ErrCodeConfigNotFound, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, enginerr.New(enginerr.ErrCodeConfigInvalid,
				fmt.Sprintf("cannot parse %s: %v", filepath.Base(path), err), err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config values from DOCSEEK_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DOCSEEK_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Jobs.MaxConcurrent = n
		}
	}
	if v := os.Getenv("DOCSEEK_JOB_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Jobs.TimeoutMinutes = n
		}
	}
	if v := os.Getenv("DOCSEEK_DEBOUNCE_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watcher.DebounceWindowMS = n
		}
	}
	if v := os.Getenv("DOCSEEK_EMBEDDING_MODEL_ID"); v != "" {
		c.Embedding.ModelID = v
	}
	if v := os.Getenv("DOCSEEK_FULL_TEXT_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.FullTextWeight = f
		}
	}
	if v := os.Getenv("DOCSEEK_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("DOCSEEK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Jobs.MaxConcurrent < 1 {
		return enginerr.New(enginerr.ErrCodeConfigInvalid,
			fmt.Sprintf("jobs.max_concurrent must be >= 1, got %d", c.Jobs.MaxConcurrent), nil)
	}
	if c.Jobs.TimeoutMinutes < 1 {
		return enginerr.New(enginerr.ErrCodeConfigInvalid,
			fmt.Sprintf("jobs.timeout_minutes must be >= 1, got %d", c.Jobs.TimeoutMinutes), nil)
	}
	if c.Watcher.DebounceWindowMS < 1 {
		return enginerr.New(enginerr.ErrCodeConfigInvalid,
			fmt.Sprintf("watcher.debounce_window_ms must be >= 1, got %d", c.Watcher.DebounceWindowMS), nil)
	}
	if c.Search.FullTextWeight < 0 || c.Search.SemanticWeight < 0 {
		return enginerr.New(enginerr.ErrCodeConfigInvalid, "hybrid weights must be non-negative", nil)
	}
	if c.Search.FullTextWeight+c.Search.SemanticWeight == 0 {
		return enginerr.New(enginerr.ErrCodeConfigInvalid, "hybrid weights must not both be zero", nil)
	}
	if c.Embedding.BatchSize < 1 {
		return enginerr.New(enginerr.ErrCodeConfigInvalid,
			fmt.Sprintf("embedding.batch_size must be >= 1, got %d", c.Embedding.BatchSize), nil)
	}
	if c.Embedding.ModelID == "" {
		return enginerr.New(enginerr.ErrCodeConfigInvalid, "embedding.model_id must not be empty", nil)
	}
	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// JobTimeout returns the per-job timeout as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutMinutes) * time.Minute
}

// DetachGrace returns the forced-detach grace period as a duration.
func (c *Config) DetachGrace() time.Duration {
	return time.Duration(c.Jobs.DetachGraceSeconds) * time.Second
}

// DebounceWindow returns the watcher debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Watcher.DebounceWindowMS) * time.Millisecond
}

// MaxFileSize returns the maximum indexable file size in bytes.
func (c *Config) MaxFileSize() int64 {
	if c.Index.MaxFileSizeMB <= 0 {
		return 50 * 1024 * 1024
	}
	return int64(c.Index.MaxFileSizeMB) * 1024 * 1024
}

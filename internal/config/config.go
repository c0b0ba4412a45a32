// Package config loads the archive engine's YAML configuration, following
// the bridge's struct-of-structs-plus-WithDefaults pattern (see
// pkg/search/config.go) without the bridgev2 meta-config upgrade machinery,
// which has no analogue outside a multi-account bridge process.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbrichman/scry/pkg/shared/stringutil"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the root configuration for the archive engine: where the
// database lives, how embeddings are produced, how the worker pool behaves,
// and the defaults search/RAG requests fall back to when a caller omits a
// parameter.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Worker    WorkerConfig    `yaml:"worker"`
	Search    SearchConfig    `yaml:"search"`
	RAG       RAGConfig       `yaml:"rag"`
	Log       LogConfig       `yaml:"log"`
	Import    ImportConfig    `yaml:"import"`
}

// ImportConfig holds per-extractor knobs passed through to extract.Options
// at import time.
type ImportConfig struct {
	YouTube YouTubeImportConfig `yaml:"youtube"`
}

// YouTubeImportConfig configures the YouTube watch-history extractor.
type YouTubeImportConfig struct {
	// IncludeChannel appends the channel name to watched-video content.
	// nil = true (included by default), mirroring the original importer's
	// include_channel=True default.
	IncludeChannel *bool `yaml:"include_channel,omitempty"`
	// GroupByDay collapses same-day watch events into one message.
	GroupByDay bool `yaml:"group_by_day"`
}

// IncludeChannelOrDefault resolves the nil = true default for IncludeChannel.
func (c YouTubeImportConfig) IncludeChannelOrDefault() bool {
	if c.IncludeChannel == nil {
		return true
	}
	return *c.IncludeChannel
}

// StoreConfig locates the SQLite archive database.
type StoreConfig struct {
	Path   string       `yaml:"path"`
	Vector VectorConfig `yaml:"vector"`
}

// VectorConfig controls whether nearest-neighbour search tries to load the
// sqlite-vec extension before falling back to the brute-force scan.
// ExtensionPath is passed straight to SQLite's load_extension(); leave it
// empty if vec0 is already compiled into the sqlite3 build in use.
type VectorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ExtensionPath string `yaml:"extension_path"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Provider string       `yaml:"provider"` // openai | local | stub
	Model    string       `yaml:"model"`
	OpenAI   OpenAIConfig `yaml:"openai"`
	Local    LocalConfig  `yaml:"local"`
}

type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LocalConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// WorkerConfig tunes the embedding job-queue worker.
type WorkerConfig struct {
	PollIntervalMs    int `yaml:"poll_interval_ms"`
	LeaseSeconds      int `yaml:"lease_seconds"`
	ConcurrentLeases  int `yaml:"concurrent_leases"`
	ReclaimIntervalMs int `yaml:"reclaim_interval_ms"`
	BatchSize         int `yaml:"batch_size"`
}

// SearchConfig sets the default hybrid fusion weights and candidate sizing.
type SearchConfig struct {
	DefaultMode  string  `yaml:"default_mode"` // auto | fts | vector | hybrid
	FTSWeight    float64 `yaml:"fts_weight"`
	VectorWeight float64 `yaml:"vector_weight"`
	DefaultLimit int     `yaml:"default_limit"`
}

// RAGConfig sets the default contextual-retrieval parameters.
type RAGConfig struct {
	TopKWindows          int     `yaml:"top_k_windows"`
	OverfetchFactor      int     `yaml:"overfetch_factor"`
	ContextWindow        int     `yaml:"context_window"`
	ProximityDecayLambda float64 `yaml:"proximity_decay_lambda"`
	MaxWindowSize        int     `yaml:"max_window_size"`
	TokenModel           string  `yaml:"token_model"`
}

// LogConfig controls zerolog's output format and level.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads and parses the YAML file at path, then applies WithDefaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults fills unset fields with the archive engine's defaults,
// mutating and returning c for chaining.
func (c *Config) WithDefaults() *Config {
	if c.Store.Path == "" {
		c.Store.Path = "scry.db"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "stub"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	// The config file rarely carries a live key; fall back to the
	// environment rather than force every deployment to template the yaml.
	c.Embedding.OpenAI.APIKey = stringutil.FirstNonEmpty(c.Embedding.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY"))
	if c.Embedding.OpenAI.BaseURL == "" {
		c.Embedding.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.Embedding.OpenAI.TimeoutSeconds <= 0 {
		c.Embedding.OpenAI.TimeoutSeconds = 30
	}
	if c.Embedding.Local.TimeoutSeconds <= 0 {
		c.Embedding.Local.TimeoutSeconds = 30
	}

	if c.Worker.PollIntervalMs <= 0 {
		c.Worker.PollIntervalMs = 500
	}
	if c.Worker.LeaseSeconds <= 0 {
		c.Worker.LeaseSeconds = 60
	}
	if c.Worker.ConcurrentLeases <= 0 {
		c.Worker.ConcurrentLeases = 4
	}
	if c.Worker.ReclaimIntervalMs <= 0 {
		c.Worker.ReclaimIntervalMs = c.Worker.PollIntervalMs * 10
	}
	if c.Worker.BatchSize <= 0 {
		c.Worker.BatchSize = 16
	}

	if c.Search.DefaultMode == "" {
		c.Search.DefaultMode = "auto"
	}
	if c.Search.FTSWeight == 0 && c.Search.VectorWeight == 0 {
		c.Search.FTSWeight = 0.4
		c.Search.VectorWeight = 0.6
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 20
	}

	if c.RAG.TopKWindows <= 0 {
		c.RAG.TopKWindows = 5
	}
	if c.RAG.OverfetchFactor <= 0 {
		c.RAG.OverfetchFactor = 3
	}
	if c.RAG.ContextWindow <= 0 {
		c.RAG.ContextWindow = 2
	}
	if c.RAG.ProximityDecayLambda == 0 {
		c.RAG.ProximityDecayLambda = 0.5
	}
	if c.RAG.MaxWindowSize <= 0 {
		c.RAG.MaxWindowSize = 20
	}
	if c.RAG.TokenModel == "" {
		c.RAG.TokenModel = "gpt-4"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return c
}

// OpenAITimeout returns the OpenAI embedding call timeout as a Duration.
func (c EmbeddingConfig) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}

// LocalTimeout returns the local embedding call timeout as a Duration.
func (c EmbeddingConfig) LocalTimeout() time.Duration {
	return time.Duration(c.Local.TimeoutSeconds) * time.Second
}

// PollInterval returns the worker's poll interval as a Duration.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// LeaseDuration returns the worker's lease duration.
func (c WorkerConfig) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// ReclaimInterval returns the worker's expired-lease reclaim interval.
func (c WorkerConfig) ReclaimInterval() time.Duration {
	return time.Duration(c.ReclaimIntervalMs) * time.Millisecond
}

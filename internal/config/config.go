// Package config provides configuration loading and management for adkx.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/tool/mcptool"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config is the root configuration.
type Config struct {
	App        string                    `json:"app"                  mapstructure:"app"`
	Model      string                    `json:"model,omitempty"      mapstructure:"model"`
	Backend    BackendConfig             `json:"backend"              mapstructure:"backend"`
	Storage    StorageConfig             `json:"storage"              mapstructure:"storage"`
	Cache      CacheConfig               `json:"cache"                mapstructure:"cache"`
	Compaction CompactionConfig          `json:"compaction"           mapstructure:"compaction"`
	Plugins    PluginsConfig             `json:"plugins"              mapstructure:"plugins"`
	Server     ServerConfig              `json:"server"               mapstructure:"server"`
	Run        RunConfig                 `json:"run"                  mapstructure:"run"`
	Retention  RetentionConfig           `json:"retention"            mapstructure:"retention"`
	MCP        map[string]mcptool.Config `json:"mcp,omitempty"        mapstructure:"mcp"`
}

// BackendConfig selects the Gemini API or Vertex AI. Empty fields fall back
// to the GOOGLE_* environment variables read by the genai client.
type BackendConfig struct {
	APIKey   string `json:"api_key,omitempty"  mapstructure:"api_key"`
	VertexAI bool   `json:"vertex_ai"          mapstructure:"vertex_ai"`
	Project  string `json:"project,omitempty"  mapstructure:"project"`
	Location string `json:"location,omitempty" mapstructure:"location"`
}

// StorageConfig selects where sessions and artifacts live.
type StorageConfig struct {
	Driver string `json:"driver"         mapstructure:"driver"`
	Path   string `json:"path,omitempty" mapstructure:"path"`
}

// CacheConfig enables context caching.
type CacheConfig struct {
	Enabled   bool          `json:"enabled"    mapstructure:"enabled"`
	Intervals int           `json:"intervals"  mapstructure:"intervals"`
	TTL       time.Duration `json:"ttl"        mapstructure:"ttl"`
	MinTokens int           `json:"min_tokens" mapstructure:"min_tokens"`
}

// CompactionConfig enables sliding window compaction. Zero Interval
// disables it.
type CompactionConfig struct {
	Interval int `json:"interval" mapstructure:"interval"`
	Overlap  int `json:"overlap"  mapstructure:"overlap"`
}

// PluginsConfig toggles the built-in plugins.
type PluginsConfig struct {
	Logging   bool `json:"logging"                  mapstructure:"logging"`
	Metrics   bool `json:"metrics"                  mapstructure:"metrics"`
	Logprobs  bool `json:"logprobs"                 mapstructure:"logprobs"`
	SaveFiles bool `json:"save_files"               mapstructure:"save_files"`
	KeepTurns int  `json:"keep_turns,omitempty"     mapstructure:"keep_turns"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Addr            string        `json:"addr"             mapstructure:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// RunConfig tunes invocations.
type RunConfig struct {
	Streaming   bool `json:"streaming"     mapstructure:"streaming"`
	MaxLLMCalls int  `json:"max_llm_calls" mapstructure:"max_llm_calls"`
	Resumable   bool `json:"resumable"     mapstructure:"resumable"`
}

// RetentionConfig is the default policy of 'runs prune'.
type RetentionConfig struct {
	KeepLast int `json:"keep_last" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days" mapstructure:"keep_days"`
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	cc := cache.DefaultConfig()
	return Config{
		App:     "hello_world",
		Model:   "gemini-2.0-flash",
		Storage: StorageConfig{Driver: StorageMemory},
		Cache: CacheConfig{
			Intervals: cc.CacheIntervals,
			TTL:       cc.TTL,
			MinTokens: cc.MinTokens,
		},
		Server: ServerConfig{Addr: ":8000", ShutdownTimeout: 10 * time.Second},
	}
}

// CacheSettings returns the cache config for apps, nil when caching is off.
func (c Config) CacheSettings() *cache.Config {
	if !c.Cache.Enabled {
		return nil
	}
	return &cache.Config{CacheIntervals: c.Cache.Intervals, TTL: c.Cache.TTL, MinTokens: c.Cache.MinTokens}
}

// Validate checks cross-field constraints the schema cannot express.
func (c Config) Validate() error {
	if c.App == "" {
		return errors.New("app is required")
	}
	if c.Storage.Driver == StorageSQLite && c.Storage.Path == "" {
		return errors.New("storage.path is required for the sqlite driver")
	}
	if cc := c.CacheSettings(); cc != nil {
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if c.Compaction.Interval < 0 || c.Compaction.Overlap < 0 {
		return errors.New("compaction interval and overlap must not be negative")
	}
	if c.Retention.KeepLast < 0 || c.Retention.KeepDays < 0 {
		return errors.New("retention keep_last and keep_days must not be negative")
	}
	return nil
}

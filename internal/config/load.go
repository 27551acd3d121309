package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultPath is the config file read when none is given.
var DefaultPath = filepath.Join(".adkx", "config.yaml")

// EnvPrefix prefixes environment overrides, e.g. ADKX_CACHE_ENABLED.
const EnvPrefix = "ADKX"

// LoadDotEnv loads .env files into the process environment. Missing files
// are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
		log.Debug().Str("path", p).Msg("config: loaded env file")
	}
	return nil
}

// Load reads the config file at path into v, applies ADKX_ environment
// overrides and decodes the result over Default. The file itself is
// validated against the schema. A missing file at the default path is not
// an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	settings, err := readFile(path)
	switch {
	case isMissing(err) && path == DefaultPath:
		log.Debug().Str("path", path).Msg("config: no config file, using defaults")
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := ValidateSettings(settings); err != nil {
			return Config{}, err
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return Config{}, fmt.Errorf("merge config: %w", err)
		}
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file does not mention it.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("app", d.App)
	v.SetDefault("model", d.Model)
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.vertex_ai", false)
	v.SetDefault("backend.project", "")
	v.SetDefault("backend.location", "")
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", "")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.intervals", d.Cache.Intervals)
	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("cache.min_tokens", d.Cache.MinTokens)
	v.SetDefault("compaction.interval", 0)
	v.SetDefault("compaction.overlap", 0)
	v.SetDefault("plugins.logging", false)
	v.SetDefault("plugins.metrics", false)
	v.SetDefault("plugins.logprobs", false)
	v.SetDefault("plugins.save_files", false)
	v.SetDefault("plugins.keep_turns", 0)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("run.streaming", false)
	v.SetDefault("run.max_llm_calls", 0)
	v.SetDefault("run.resumable", false)
	v.SetDefault("retention.keep_last", 0)
	v.SetDefault("retention.keep_days", 0)
}

// ValidateFile checks the file at path against the schema and the
// cross-field rules without environment overrides.
func ValidateFile(path string) error {
	settings, err := readFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return err
	}
	_, err = Load(viper.New(), path)
	return err
}

func readFile(path string) (map[string]any, error) {
	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return nil, err
	}
	return file.AllSettings(), nil
}

func isMissing(err error) bool {
	if err == nil {
		return false
	}
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

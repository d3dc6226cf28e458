package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port string `toml:"port"`

	// Auth
	APIKey         string   `toml:"api_key"`
	AllowedOrigins []string `toml:"allowed_origins"`

	// Compile service
	CompilerURL     string        `toml:"compiler_url"`
	CompilerAPIKey  string        `toml:"compiler_api_key"`
	CompilerTimeout time.Duration `toml:"compiler_timeout"`

	// Worker pool
	WorkerCount  int  `toml:"worker_count"`
	MaxQueueSize int  `toml:"max_queue_size"`
	InlineDecode bool `toml:"inline_decode"`

	// Upload and payload limits
	MaxUploadBytes  int64 `toml:"max_upload_bytes"`
	MaxSyncTeXBytes int64 `toml:"max_synctex_bytes"`

	// Sync state
	RetainIndexOnDecodeError bool   `toml:"retain_index_on_decode_error"`
	CacheDir                 string `toml:"cache_dir"`

	// Job state
	JobTTL      time.Duration `toml:"job_ttl"`
	StatsWindow time.Duration `toml:"stats_window"`

	LogLevel string `toml:"log_level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:                     "8090",
		CompilerTimeout:          5 * time.Minute,
		WorkerCount:              2,
		MaxQueueSize:             100,
		MaxUploadBytes:           104857600, // 100MB
		MaxSyncTeXBytes:          268435456, // 256MB inflated
		RetainIndexOnDecodeError: true,
		JobTTL:                   1 * time.Hour,
		StatsWindow:              1 * time.Hour,
		LogLevel:                 "info",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// TEXSYNC_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("TEXSYNC_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("TEXSYNC_API_KEY", cfg.APIKey)
	cfg.AllowedOrigins = envList("ALLOWED_ORIGINS", cfg.AllowedOrigins)

	cfg.CompilerURL = envOr("COMPILER_URL", cfg.CompilerURL)
	cfg.CompilerAPIKey = envOr("COMPILER_API_KEY", cfg.CompilerAPIKey)
	cfg.CompilerTimeout = envDuration("COMPILER_TIMEOUT", cfg.CompilerTimeout)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.InlineDecode = envBool("INLINE_DECODE", cfg.InlineDecode)

	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.MaxSyncTeXBytes = envInt64("MAX_SYNCTEX_BYTES", cfg.MaxSyncTeXBytes)

	cfg.RetainIndexOnDecodeError = envBool("RETAIN_INDEX_ON_DECODE_ERROR", cfg.RetainIndexOnDecodeError)
	cfg.CacheDir = envOr("CACHE_DIR", cfg.CacheDir)

	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)
	cfg.StatsWindow = envDuration("STATS_WINDOW", cfg.StatsWindow)

	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)

	def := Defaults()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.MaxSyncTeXBytes <= 0 {
		cfg.MaxSyncTeXBytes = def.MaxSyncTeXBytes
	}
	if cfg.CompilerTimeout <= 0 {
		cfg.CompilerTimeout = def.CompilerTimeout
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("TEXSYNC_API_KEY is required")
	}
	if c.CompilerURL != "" && !strings.HasPrefix(c.CompilerURL, "http://") && !strings.HasPrefix(c.CompilerURL, "https://") {
		return fmt.Errorf("COMPILER_URL must be an http(s) URL, got %q", c.CompilerURL)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

package config

import (
	"time"

	redisclient "github.com/vietddude/curator/internal/infra/redis"
	"github.com/vietddude/curator/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	Library    LibraryConfig      `yaml:"library"`
	Source     SourceConfig       `yaml:"source"`
	Categories []CategoryConfig   `yaml:"categories"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LibraryConfig holds local knowledge-base paths.
type LibraryConfig struct {
	MediaDir string `yaml:"media_dir"`
}

// SourceConfig holds settings for the remote content source.
type SourceConfig struct {
	CookiesDir         string      `yaml:"cookies_dir"`
	Rate               RateConfig  `yaml:"rate"`
	Retry              RetryConfig `yaml:"retry"`
	BlockAfterFailures int         `yaml:"block_after_failures"`
	YtdlpPath          string      `yaml:"ytdlp_path"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
}

// RateConfig bounds outbound call frequency to the remote source.
type RateConfig struct {
	Calls  int           `yaml:"calls"`
	Period time.Duration `yaml:"period"`
}

// RetryConfig defines backoff behavior for remote calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
	MaxDelay        time.Duration `yaml:"max_delay"`
}

// CategoryConfig defines one compute category gated by the admission queue.
type CategoryConfig struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

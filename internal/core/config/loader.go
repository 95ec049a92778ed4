package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Library.MediaDir == "" {
		cfg.Library.MediaDir = "downloads"
	}
	if cfg.Source.CookiesDir == "" {
		cfg.Source.CookiesDir = "cookies"
	}
	if cfg.Source.YtdlpPath == "" {
		cfg.Source.YtdlpPath = "yt-dlp"
	}
	if cfg.Source.FetchTimeout == 0 {
		cfg.Source.FetchTimeout = 10 * time.Minute
	}
	if cfg.Source.Rate.Calls == 0 {
		cfg.Source.Rate.Calls = 1
	}
	if cfg.Source.Rate.Period == 0 {
		cfg.Source.Rate.Period = 2 * time.Second
	}
	if cfg.Source.Retry.MaxAttempts == 0 {
		cfg.Source.Retry.MaxAttempts = 4
	}
	if cfg.Source.Retry.BaseDelay == 0 {
		cfg.Source.Retry.BaseDelay = 2 * time.Second
	}
	if cfg.Source.Retry.BackoffMultiple == 0 {
		cfg.Source.Retry.BackoffMultiple = 2.0
	}
	if cfg.Source.Retry.MaxDelay == 0 {
		cfg.Source.Retry.MaxDelay = 60 * time.Second
	}
	if cfg.Source.BlockAfterFailures == 0 {
		cfg.Source.BlockAfterFailures = 3
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []CategoryConfig{
			{Name: "transcribe"},
			{Name: "analyze"},
			{Name: "search"},
		}
	}
}

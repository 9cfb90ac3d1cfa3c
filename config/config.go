package config

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultUserAgents is the fixed pool of client identities rotated per request.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/111.0",
}

// Config holds pipeline, model and server configuration.
type Config struct {
	BaseURL          string
	MaxPages         int // 0 follows the pagination chain to its end
	Delay            time.Duration
	Timeout          time.Duration
	UserAgents       []string
	RespectRobotsTxt bool

	DatabaseURL  string
	ExportFile   string
	ExportFormat string // csv, json, dual, or none

	ModelDir     string
	ClusterCount int
	ClusterSeed  uint64

	ListenAddr  string
	MetricsAddr string
	RedisAddr   string
	LockTTL     time.Duration

	Verbose bool
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	agents := make([]string, len(DefaultUserAgents))
	copy(agents, DefaultUserAgents)

	return &Config{
		BaseURL:          "https://books.toscrape.com/",
		MaxPages:         0,
		Delay:            time.Second,
		Timeout:          10 * time.Second,
		UserAgents:       agents,
		RespectRobotsTxt: false,
		DatabaseURL:      "data/livraria.db",
		ExportFile:       "data/livros.csv",
		ExportFormat:     "csv",
		ModelDir:         "models",
		ClusterCount:     5,
		ClusterSeed:      42,
		ListenAddr:       ":1312",
		MetricsAddr:      "",
		RedisAddr:        "",
		LockTTL:          30 * time.Minute,
		Verbose:          false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agent pool cannot be empty")
	}
	for i, agent := range c.UserAgents {
		if agent == "" {
			return fmt.Errorf("user agent %d is empty", i)
		}
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL cannot be empty")
	}
	switch c.ExportFormat {
	case "csv", "json", "dual":
		if c.ExportFile == "" {
			return fmt.Errorf("export file cannot be empty")
		}
	case "none":
	default:
		return fmt.Errorf("export format must be csv, json, dual, or none")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("model dir cannot be empty")
	}
	if c.ClusterCount <= 0 {
		return fmt.Errorf("cluster count must be positive")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be positive")
	}

	return nil
}

// Package config loads the scraper's configuration from an optional YAML file
// and ATLAS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/atlas-scraper/pkg/client"
	"github.com/Sternrassler/atlas-scraper/pkg/extract"
	"github.com/Sternrassler/atlas-scraper/pkg/logging"
	"github.com/Sternrassler/atlas-scraper/pkg/pagination"
	"github.com/Sternrassler/atlas-scraper/pkg/scrape"
)

// EnvPrefix prefixes every environment override, e.g. ATLAS_SERVER_ADDR.
const EnvPrefix = "ATLAS"

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Site    SiteConfig    `mapstructure:"site"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	StaticDir       string        `mapstructure:"static_dir"`  // served at / when set
	SendBuffer      int           `mapstructure:"send_buffer"` // per-session event queue
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SiteConfig describes the admin site being scraped
type SiteConfig struct {
	ListURL       string        `mapstructure:"list_url"`
	DetailURLBase string        `mapstructure:"detail_url_base"`
	UserAgent     string        `mapstructure:"user_agent"`
	Sort          string        `mapstructure:"sort"`
	SearchField   string        `mapstructure:"search_field"`
	Timeout       time.Duration `mapstructure:"timeout"`
	StateVariable string        `mapstructure:"state_variable"` // window global embedding the page state
	TokenPrefixes []string      `mapstructure:"token_prefixes"` // comma-separated in the environment
}

// ScrapeConfig holds pacing and retry settings
type ScrapeConfig struct {
	PageLimit   int           `mapstructure:"page_limit"`
	PageDelay   time.Duration `mapstructure:"page_delay"`
	Concurrency int           `mapstructure:"concurrency"`
	BatchDelay  time.Duration `mapstructure:"batch_delay"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// RedisConfig enables the shared rate-limit cooldown when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	MaxWait  time.Duration `mapstructure:"max_wait"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	site := client.DefaultConfig()
	pace := pagination.DefaultConfig()
	retry := client.DefaultRetryConfig()
	markers := extract.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			SendBuffer:      64,
			ShutdownTimeout: 10 * time.Second,
		},
		Site: SiteConfig{
			ListURL:       site.ListURL,
			DetailURLBase: site.DetailURLBase,
			UserAgent:     site.UserAgent,
			Sort:          site.Sort,
			SearchField:   site.SearchField,
			Timeout:       site.Timeout,
			StateVariable: markers.StateVariable,
			TokenPrefixes: markers.TokenPrefixes,
		},
		Scrape: ScrapeConfig{
			PageLimit:   pace.Limit,
			PageDelay:   pace.PageDelay,
			Concurrency: pace.Concurrency,
			BatchDelay:  pace.BatchDelay,
			MaxRetries:  retry.MaxRetries,
			RetryDelay:  retry.Delay,
		},
		Redis: RedisConfig{
			MaxWait: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultConfigPath returns the per-user config directory
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "atlas-scraper")
}

// Load reads configuration from path, or from atlas-scraper.yaml in the
// working directory or user config directory when path is empty, then
// applies ATLAS_* environment overrides. A missing default file is not an
// error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("atlas-scraper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir := defaultConfigPath(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.static_dir", d.Server.StaticDir)
	v.SetDefault("server.send_buffer", d.Server.SendBuffer)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("site.list_url", d.Site.ListURL)
	v.SetDefault("site.detail_url_base", d.Site.DetailURLBase)
	v.SetDefault("site.user_agent", d.Site.UserAgent)
	v.SetDefault("site.sort", d.Site.Sort)
	v.SetDefault("site.search_field", d.Site.SearchField)
	v.SetDefault("site.timeout", d.Site.Timeout)
	v.SetDefault("site.state_variable", d.Site.StateVariable)
	v.SetDefault("site.token_prefixes", d.Site.TokenPrefixes)

	v.SetDefault("scrape.page_limit", d.Scrape.PageLimit)
	v.SetDefault("scrape.page_delay", d.Scrape.PageDelay)
	v.SetDefault("scrape.concurrency", d.Scrape.Concurrency)
	v.SetDefault("scrape.batch_delay", d.Scrape.BatchDelay)
	v.SetDefault("scrape.max_retries", d.Scrape.MaxRetries)
	v.SetDefault("scrape.retry_delay", d.Scrape.RetryDelay)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.max_wait", d.Redis.MaxWait)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
}

// Validate rejects settings no run could work with.
func (c *Config) Validate() error {
	switch {
	case c.Site.ListURL == "":
		return fmt.Errorf("site.list_url is required")
	case c.Site.DetailURLBase == "":
		return fmt.Errorf("site.detail_url_base is required")
	case c.Scrape.PageLimit <= 0:
		return fmt.Errorf("scrape.page_limit must be positive, got %d", c.Scrape.PageLimit)
	case c.Scrape.Concurrency <= 0:
		return fmt.Errorf("scrape.concurrency must be positive, got %d", c.Scrape.Concurrency)
	case c.Scrape.MaxRetries < 0:
		return fmt.Errorf("scrape.max_retries must not be negative, got %d", c.Scrape.MaxRetries)
	case c.Server.SendBuffer < 0:
		return fmt.Errorf("server.send_buffer must not be negative, got %d", c.Server.SendBuffer)
	}
	return nil
}

// RunConfig converts the file settings into a scrape run configuration.
func (c *Config) RunConfig() scrape.Config {
	return scrape.Config{
		Client: client.Config{
			ListURL:       c.Site.ListURL,
			DetailURLBase: c.Site.DetailURLBase,
			UserAgent:     c.Site.UserAgent,
			Sort:          c.Site.Sort,
			SearchField:   c.Site.SearchField,
			Timeout:       c.Site.Timeout,
		},
		Pagination: pagination.Config{
			Limit:       c.Scrape.PageLimit,
			PageDelay:   c.Scrape.PageDelay,
			Concurrency: c.Scrape.Concurrency,
			BatchDelay:  c.Scrape.BatchDelay,
		},
		Retry: client.RetryConfig{
			MaxRetries: c.Scrape.MaxRetries,
			Delay:      c.Scrape.RetryDelay,
		},
		Extract: extract.Config{
			StateVariable: c.Site.StateVariable,
			TokenPrefixes: c.Site.TokenPrefixes,
		},
	}
}

// LoggerConfig returns the logging setup for this configuration.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

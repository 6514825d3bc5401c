// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. GALLERY_CRAWLER_CONCURRENCY.
const EnvPrefix = "GALLERY"

// DefaultListingURL is the page the records are scraped from.
const DefaultListingURL = "https://en.wikipedia.org/wiki/List_of_animal_names"

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Output   OutputConfig   `mapstructure:"output"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig locates the listing page.
type SourceConfig struct {
	ListingURL string `mapstructure:"listing_url"`
	// BaseURL resolves host-relative detail links. Defaults to the listing's origin.
	BaseURL string `mapstructure:"base_url"`
}

// CrawlerConfig governs the acquisition coordinator.
type CrawlerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	ChainTimeout  time.Duration `mapstructure:"chain_timeout"`
	GlobalTimeout time.Duration `mapstructure:"global_timeout"`
	QueueDepth    int           `mapstructure:"queue_depth"`
}

// HTTPConfig configures the fetcher and its retry behavior.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxRetries   int           `mapstructure:"max_retries"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// OutputConfig sets where artifacts land.
type OutputConfig struct {
	// Location is a directory or a gs://bucket/prefix URL.
	Location string `mapstructure:"location"`
	Report   string `mapstructure:"report"`
	Manifest string `mapstructure:"manifest"`
	Title    string `mapstructure:"title"`
}

// ProgressConfig tunes the progress hub and metrics export.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	MetricsFile    string        `mapstructure:"metrics_file"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"concurrency":    "crawler.concurrency",
	"timeout":        "crawler.chain_timeout",
	"global-timeout": "crawler.global_timeout",
	"output":         "output.location",
	"listing-url":    "source.listing_url",
	"max-retries":    "http.max_retries",
	"metrics-file":   "progress.metrics_file",
	"dev":            "logging.development",
	"log-level":      "logging.level",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in FlagKeys that were set on flags (which may be nil).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Source.BaseURL == "" {
		cfg.Source.BaseURL = originOf(cfg.Source.ListingURL)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.listing_url", DefaultListingURL)
	v.SetDefault("source.base_url", "")
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.chain_timeout", "30s")
	v.SetDefault("crawler.global_timeout", "0s")
	v.SetDefault("crawler.queue_depth", 0)
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.user_agent", "animal-gallery/1.0 (+https://github.com/JakeFAU/animal-gallery)")
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.max_body_bytes", 20*1024*1024)
	v.SetDefault("output.location", "output")
	v.SetDefault("output.report", "output.html")
	v.SetDefault("output.manifest", "outcomes.json")
	v.SetDefault("output.title", "Animal Information")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.metrics_file", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateAbsURL("source.listing_url", c.Source.ListingURL); err != nil {
		return err
	}
	if err := validateAbsURL("source.base_url", c.Source.BaseURL); err != nil {
		return err
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.ChainTimeout < 0 {
		return fmt.Errorf("crawler.chain_timeout must be >= 0")
	}
	if c.Crawler.GlobalTimeout < 0 {
		return fmt.Errorf("crawler.global_timeout must be >= 0")
	}
	if c.Crawler.QueueDepth < 0 {
		return fmt.Errorf("crawler.queue_depth must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if strings.TrimSpace(c.Output.Location) == "" {
		return fmt.Errorf("output.location is required")
	}
	if strings.TrimSpace(c.Output.Report) == "" || strings.TrimSpace(c.Output.Manifest) == "" {
		return fmt.Errorf("output.report and output.manifest are required")
	}
	return nil
}

func validateAbsURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url", key)
	}
	return nil
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_CRAWL_WORKERS.
const EnvPrefix = "HARVESTER"

// Config captures every harvester knob.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Output     OutputConfig     `mapstructure:"output"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlConfig describes which months to harvest and how.
type CrawlConfig struct {
	Start         string        `mapstructure:"start"`
	End           string        `mapstructure:"end"`
	Workers       int           `mapstructure:"workers"`
	MaxItems      int           `mapstructure:"max_items"`
	ListingURL    string        `mapstructure:"listing_url"`
	TitleTypes    []string      `mapstructure:"title_types"`
	PageSize      int           `mapstructure:"page_size"`
	IncludeAdult  bool          `mapstructure:"include_adult"`
	MaxExpansions int           `mapstructure:"max_expansions"`
	ExpandTimeout time.Duration `mapstructure:"expand_timeout"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	ItemsTimeout  time.Duration `mapstructure:"items_timeout"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver"`
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
}

// EnrichmentConfig configures the metadata API client.
type EnrichmentConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	ImageBase    string        `mapstructure:"image_base"`
	Parallelism  int           `mapstructure:"parallelism"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// HTTPConfig tunes the shared HTTP client.
type HTTPConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
}

// OutputConfig lists the local file sinks. Empty paths disable them.
type OutputConfig struct {
	JSONPath string `mapstructure:"json_path"`
	CSVPath  string `mapstructure:"csv_path"`
}

// DBConfig enables the Postgres record sink when DSN is set.
type DBConfig struct {
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Migrate bool   `mapstructure:"migrate"`
}

// RedisConfig enables cross-process dedup when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// StorageConfig enables the per-run GCS object when Bucket is set.
type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig enables per-record notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server. Empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file, the environment
// and any changed flags in flags (flag names use dashes, e.g. max-items
// maps to crawl.max_items).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// flagKeys maps config keys to CLI flag names.
var flagKeys = map[string]string{
	"crawl.start":         "start",
	"crawl.end":           "end",
	"crawl.workers":       "workers",
	"crawl.max_items":     "max-items",
	"browser.driver":      "driver",
	"browser.headless":    "headless",
	"output.json_path":    "json",
	"output.csv_path":     "csv",
	"server.addr":         "status-addr",
	"logging.development": "dev",
	"logging.level":       "log-level",
}

// setDefaults registers every key, including empty ones, so AutomaticEnv
// overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.start", "2000-01")
	v.SetDefault("crawl.end", "")
	v.SetDefault("crawl.workers", 3)
	v.SetDefault("crawl.max_items", 0)
	v.SetDefault("crawl.title_types", []string{"feature", "tv_series"})
	v.SetDefault("crawl.page_size", 250)
	v.SetDefault("crawl.include_adult", true)
	v.SetDefault("crawl.max_expansions", 200)
	v.SetDefault("crawl.expand_timeout", "5s")
	v.SetDefault("crawl.settle_delay", "1s")
	v.SetDefault("crawl.items_timeout", "10s")
	v.SetDefault("crawl.listing_url", "")

	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.action_timeout", "15s")

	v.SetDefault("enrichment.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.image_base", "https://image.tmdb.org/t/p/original")
	v.SetDefault("enrichment.parallelism", 10)
	v.SetDefault("enrichment.max_attempts", 5)
	v.SetDefault("enrichment.backoff_base", "500ms")
	v.SetDefault("enrichment.backoff_max", "10s")
	v.SetDefault("enrichment.rate_limit_rps", 40)
	v.SetDefault("enrichment.rate_burst", 10)

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_idle_conns", 100)
	v.SetDefault("http.max_idle_conns_per_host", 20)

	v.SetDefault("output.json_path", "data/records.jsonl")
	v.SetDefault("output.csv_path", "data/records.csv")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "media_records")
	v.SetDefault("db.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "harvester:claim")
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "harvests")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.addr", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	start, err := crawler.ParseWorkUnit(c.Crawl.Start, false)
	if err != nil {
		errs = append(errs, fmt.Errorf("crawl.start: %w", err))
	}
	if c.Crawl.End != "" {
		end, err := crawler.ParseWorkUnit(c.Crawl.End, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("crawl.end: %w", err))
		} else if !start.IsZero() && start.After(end) {
			errs = append(errs, fmt.Errorf("crawl.start %s is after crawl.end %s", start, end))
		}
	}
	if c.Crawl.Workers <= 0 {
		errs = append(errs, fmt.Errorf("crawl.workers must be > 0"))
	}
	if c.Crawl.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("crawl.max_items must be >= 0"))
	}
	if c.Crawl.MaxExpansions <= 0 {
		errs = append(errs, fmt.Errorf("crawl.max_expansions must be > 0"))
	}
	if strings.TrimSpace(c.Enrichment.APIKey) == "" {
		errs = append(errs, fmt.Errorf("enrichment.api_key is required (HARVESTER_ENRICHMENT_API_KEY)"))
	}
	if c.Enrichment.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("enrichment.parallelism must be > 0"))
	}
	if c.Enrichment.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("enrichment.max_attempts must be > 0"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be > 0"))
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set"))
	}
	switch strings.ToLower(c.Browser.Driver) {
	case "chromedp", "rod", "playwright":
	default:
		errs = append(errs, fmt.Errorf("browser.driver %q is not one of chromedp, rod, playwright", c.Browser.Driver))
	}
	return errors.Join(errs...)
}

// Range returns the parsed first and last work units. A missing end is
// the zero unit.
func (c Config) Range() (crawler.WorkUnit, crawler.WorkUnit, error) {
	start, err := crawler.ParseWorkUnit(c.Crawl.Start, false)
	if err != nil {
		return crawler.WorkUnit{}, crawler.WorkUnit{}, fmt.Errorf("crawl.start: %w", err)
	}
	var end crawler.WorkUnit
	if c.Crawl.End != "" {
		if end, err = crawler.ParseWorkUnit(c.Crawl.End, true); err != nil {
			return crawler.WorkUnit{}, crawler.WorkUnit{}, fmt.Errorf("crawl.end: %w", err)
		}
	}
	return start, end, nil
}

// Package config loads and validates worker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Store         StoreConfig         `mapstructure:"store"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Publisher     PublisherConfig     `mapstructure:"publisher"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	PageSpeed     PageSpeedConfig     `mapstructure:"pagespeed"`
	SearchConsole SearchConsoleConfig `mapstructure:"searchconsole"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior. An empty APIKey disables auth.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WorkerConfig sizes the worker pools.
type WorkerConfig struct {
	AuditConcurrency int `mapstructure:"audit_concurrency"`
	CrawlConcurrency int `mapstructure:"crawl_concurrency"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Driver      string       `mapstructure:"driver"`
	Capacity    int          `mapstructure:"capacity"`
	MaxAttempts int          `mapstructure:"max_attempts"`
	PubSub      PubSubRoutes `mapstructure:"pubsub"`
}

// PubSubRoutes names the topic and subscription used for each run kind.
type PubSubRoutes struct {
	ProjectID         string `mapstructure:"project_id"`
	AuditTopic        string `mapstructure:"audit_topic"`
	AuditSubscription string `mapstructure:"audit_subscription"`
	CrawlTopic        string `mapstructure:"crawl_topic"`
	CrawlSubscription string `mapstructure:"crawl_subscription"`
}

// StoreConfig selects where runs and results are persisted.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	RunsTable    string `mapstructure:"runs_table"`
	ResultsTable string `mapstructure:"results_table"`
	TokensTable  string `mapstructure:"tokens_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
}

// SQLiteConfig points at the single-node database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig sets where result documents are archived.
type ArchiveConfig struct {
	Driver string           `mapstructure:"driver"`
	Local  LocalArchive     `mapstructure:"local"`
	GCS    GCSArchiveConfig `mapstructure:"gcs"`
}

// LocalArchive writes results below BaseDir.
type LocalArchive struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSArchiveConfig writes results into a bucket.
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PublisherConfig holds metadata for completion notifications.
type PublisherConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// CacheConfig selects the response cache for PageSpeed and Search Console.
type CacheConfig struct {
	Driver     string        `mapstructure:"driver"`
	Redis      RedisConfig   `mapstructure:"redis"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// RedisConfig addresses the shared cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FetchConfig configures the HTML fetchers.
type FetchConfig struct {
	UserAgent    string         `mapstructure:"user_agent"`
	Timeout      time.Duration  `mapstructure:"timeout"`
	MaxBodyBytes int            `mapstructure:"max_body_bytes"`
	Headless     HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	RemoteURL   string        `mapstructure:"remote_url"`
	MinWords    int           `mapstructure:"min_words"`
}

// PageSpeedConfig configures the PageSpeed Insights client. An empty
// APIKey disables the performance section.
type PageSpeedConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Strategy   string        `mapstructure:"strategy"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// SearchConsoleConfig configures the Search Console client.
type SearchConsoleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	RedirectURL     string        `mapstructure:"redirect_url"`
	Endpoint        string        `mapstructure:"endpoint"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	DefaultIdentity string        `mapstructure:"default_identity"`
}

// CrawlerConfig holds the crawl defaults applied when a job omits them.
type CrawlerConfig struct {
	Limit               int           `mapstructure:"limit"`
	MaxDepth            int           `mapstructure:"max_depth"`
	SameHostOnly        bool          `mapstructure:"same_host_only"`
	PageTimeout         time.Duration `mapstructure:"page_timeout"`
	OverallTimeout      time.Duration `mapstructure:"overall_timeout"`
	Concurrency         int           `mapstructure:"concurrency"`
	PolitenessDelay     time.Duration `mapstructure:"politeness_delay"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	NormalizeDuplicates bool          `mapstructure:"normalize_duplicates"`
	UserAgent           string        `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEO_AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal, including keys that default to empty.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("worker.audit_concurrency", 3)
	v.SetDefault("worker.crawl_concurrency", 2)

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.capacity", 100)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.pubsub.project_id", "")
	v.SetDefault("queue.pubsub.audit_topic", "seo-audits")
	v.SetDefault("queue.pubsub.audit_subscription", "seo-audits-worker")
	v.SetDefault("queue.pubsub.crawl_topic", "seo-crawls")
	v.SetDefault("queue.pubsub.crawl_subscription", "seo-crawls-worker")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.runs_table", "seo_runs")
	v.SetDefault("store.postgres.results_table", "seo_results")
	v.SetDefault("store.postgres.tokens_table", "gsc_tokens")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.sqlite.path", "seo-audit.db")

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.local.base_dir", "")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.prefix", "")

	v.SetDefault("publisher.driver", "none")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "seo-runs-completed")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.default_ttl", 10*time.Minute)

	v.SetDefault("fetch.user_agent", "SEO-Audit-Bot/1.0")
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 1)
	v.SetDefault("fetch.headless.nav_timeout", 45*time.Second)
	v.SetDefault("fetch.headless.user_agent", "")
	v.SetDefault("fetch.headless.remote_url", "")
	v.SetDefault("fetch.headless.min_words", 50)

	v.SetDefault("pagespeed.api_key", "")
	v.SetDefault("pagespeed.base_url", "")
	v.SetDefault("pagespeed.strategy", "mobile")
	v.SetDefault("pagespeed.timeout", 30*time.Second)
	v.SetDefault("pagespeed.max_retries", 2)
	v.SetDefault("pagespeed.cache_ttl", 10*time.Minute)

	v.SetDefault("searchconsole.enabled", false)
	v.SetDefault("searchconsole.client_id", "")
	v.SetDefault("searchconsole.client_secret", "")
	v.SetDefault("searchconsole.redirect_url", "")
	v.SetDefault("searchconsole.endpoint", "")
	v.SetDefault("searchconsole.cache_ttl", 10*time.Minute)
	v.SetDefault("searchconsole.default_identity", "")

	v.SetDefault("crawler.limit", 200)
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.same_host_only", true)
	v.SetDefault("crawler.page_timeout", 10*time.Second)
	v.SetDefault("crawler.overall_timeout", 2*time.Minute)
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.politeness_delay", 100*time.Millisecond)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.normalize_duplicates", false)
	v.SetDefault("crawler.user_agent", "SEO-Audit-Crawler/1.0")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr must be set")
	}
	if c.Worker.AuditConcurrency <= 0 {
		add("worker.audit_concurrency must be > 0")
	}
	if c.Worker.CrawlConcurrency <= 0 {
		add("worker.crawl_concurrency must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		add("queue.max_attempts must be > 0")
	}

	switch c.Queue.Driver {
	case "memory":
	case "pubsub":
		r := c.Queue.PubSub
		if r.ProjectID == "" || r.AuditTopic == "" || r.AuditSubscription == "" ||
			r.CrawlTopic == "" || r.CrawlSubscription == "" {
			add("queue.pubsub needs project_id and both topic/subscription pairs")
		}
	default:
		add("queue.driver %q is not one of memory|pubsub", c.Queue.Driver)
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			add("store.postgres.dsn must be set when store.driver is postgres")
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			add("store.sqlite.path must be set when store.driver is sqlite")
		}
	default:
		add("store.driver %q is not one of memory|postgres|sqlite", c.Store.Driver)
	}

	switch c.Archive.Driver {
	case "none", "memory":
	case "local":
		if c.Archive.Local.BaseDir == "" {
			add("archive.local.base_dir must be set when archive.driver is local")
		}
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			add("archive.gcs.bucket must be set when archive.driver is gcs")
		}
	default:
		add("archive.driver %q is not one of none|memory|local|gcs", c.Archive.Driver)
	}

	switch c.Publisher.Driver {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			add("publisher.project_id and publisher.topic must be set when publisher.driver is pubsub")
		}
	default:
		add("publisher.driver %q is not one of none|memory|pubsub", c.Publisher.Driver)
	}

	switch c.Cache.Driver {
	case "none", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			add("cache.redis.addr must be set when cache.driver is redis")
		}
	default:
		add("cache.driver %q is not one of memory|redis|none", c.Cache.Driver)
	}

	if c.Fetch.Timeout <= 0 {
		add("fetch.timeout must be > 0")
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		add("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	if s := c.PageSpeed.Strategy; s != "mobile" && s != "desktop" {
		add("pagespeed.strategy %q is not one of mobile|desktop", s)
	}
	if c.SearchConsole.Enabled && (c.SearchConsole.ClientID == "" || c.SearchConsole.ClientSecret == "") {
		add("searchconsole.client_id and client_secret must be set when searchconsole is enabled")
	}

	if c.Crawler.Limit <= 0 {
		add("crawler.limit must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		add("crawler.max_depth must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		add("crawler.concurrency must be > 0")
	}
	if c.Crawler.PageTimeout <= 0 {
		add("crawler.page_timeout must be > 0")
	}
	return errors.Join(errs...)
}

// PageSpeedEnabled reports whether the performance section can be fetched.
func (c Config) PageSpeedEnabled() bool {
	return strings.TrimSpace(c.PageSpeed.APIKey) != ""
}

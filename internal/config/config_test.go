package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Worker.AuditConcurrency)
	assert.Equal(t, 2, cfg.Worker.CrawlConcurrency)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "none", cfg.Archive.Driver)
	assert.Equal(t, 200, cfg.Crawler.Limit)
	assert.Equal(t, 5, cfg.Crawler.MaxDepth)
	assert.True(t, cfg.Crawler.SameHostOnly)
	assert.False(t, cfg.Crawler.NormalizeDuplicates)
	assert.Equal(t, 10*time.Second, cfg.Crawler.PageTimeout)
	assert.Equal(t, "mobile", cfg.PageSpeed.Strategy)
	assert.False(t, cfg.PageSpeedEnabled())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  addr: ":9090"
  api_key: secret
worker:
  audit_concurrency: 6
queue:
  driver: pubsub
  pubsub:
    project_id: seo-prod
store:
  driver: postgres
  postgres:
    dsn: postgres://seo@localhost/seo
archive:
  driver: gcs
  gcs:
    bucket: seo-results
pagespeed:
  api_key: psi-key
  strategy: desktop
crawler:
  limit: 25
  max_depth: 0
  page_timeout: 4s
  same_host_only: false
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 6, cfg.Worker.AuditConcurrency)
	assert.Equal(t, "seo-prod", cfg.Queue.PubSub.ProjectID)
	assert.Equal(t, "seo-audits", cfg.Queue.PubSub.AuditTopic)
	assert.Equal(t, "postgres://seo@localhost/seo", cfg.Store.Postgres.DSN)
	assert.Equal(t, "seo_runs", cfg.Store.Postgres.RunsTable)
	assert.Equal(t, "seo-results", cfg.Archive.GCS.Bucket)
	assert.True(t, cfg.PageSpeedEnabled())
	assert.Equal(t, "desktop", cfg.PageSpeed.Strategy)
	assert.Equal(t, 25, cfg.Crawler.Limit)
	assert.Equal(t, 0, cfg.Crawler.MaxDepth)
	assert.Equal(t, 4*time.Second, cfg.Crawler.PageTimeout)
	assert.False(t, cfg.Crawler.SameHostOnly)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SEO_AUDIT_WORKER_CRAWL_CONCURRENCY", "7")
	t.Setenv("SEO_AUDIT_PAGESPEED_API_KEY", "from-env")
	t.Setenv("SEO_AUDIT_CRAWLER_POLITENESS_DELAY", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Worker.CrawlConcurrency)
	assert.Equal(t, "from-env", cfg.PageSpeed.APIKey)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.PolitenessDelay)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"queue driver", func(c *Config) { c.Queue.Driver = "kafka" }, "queue.driver"},
		{"pubsub routes", func(c *Config) { c.Queue.Driver = "pubsub" }, "queue.pubsub"},
		{"postgres dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.postgres.dsn"},
		{"local archive", func(c *Config) { c.Archive.Driver = "local" }, "archive.local.base_dir"},
		{"gcs archive", func(c *Config) { c.Archive.Driver = "gcs" }, "archive.gcs.bucket"},
		{"publisher", func(c *Config) { c.Publisher.Driver = "pubsub" }, "publisher.project_id"},
		{"cache", func(c *Config) { c.Cache.Driver = "memcached" }, "cache.driver"},
		{"headless", func(c *Config) {
			c.Fetch.Headless.Enabled = true
			c.Fetch.Headless.MaxParallel = 0
		}, "fetch.headless.max_parallel"},
		{"strategy", func(c *Config) { c.PageSpeed.Strategy = "tablet" }, "pagespeed.strategy"},
		{"search console", func(c *Config) { c.SearchConsole.Enabled = true }, "searchconsole.client_id"},
		{"crawl limit", func(c *Config) { c.Crawler.Limit = 0 }, "crawler.limit"},
		{"crawl depth", func(c *Config) { c.Crawler.MaxDepth = -1 }, "crawler.max_depth"},
		{"workers", func(c *Config) { c.Worker.AuditConcurrency = 0 }, "worker.audit_concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

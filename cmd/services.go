package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/api"
	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	memorycache "github.com/JakeFAU/seo-audit-worker/internal/cache/memory"
	rediscache "github.com/JakeFAU/seo-audit-worker/internal/cache/redis"
	"github.com/JakeFAU/seo-audit-worker/internal/config"
	"github.com/JakeFAU/seo-audit-worker/internal/crawler"
	collyfetcher "github.com/JakeFAU/seo-audit-worker/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/seo-audit-worker/internal/fetcher/headless"
	"github.com/JakeFAU/seo-audit-worker/internal/hash/sha256"
	"github.com/JakeFAU/seo-audit-worker/internal/headless/detector"
	"github.com/JakeFAU/seo-audit-worker/internal/pagespeed"
	"github.com/JakeFAU/seo-audit-worker/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/seo-audit-worker/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/seo-audit-worker/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/seo-audit-worker/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/seo-audit-worker/internal/queue/pubsub"
	"github.com/JakeFAU/seo-audit-worker/internal/searchconsole"
	gcsstore "github.com/JakeFAU/seo-audit-worker/internal/storage/gcs"
	localstore "github.com/JakeFAU/seo-audit-worker/internal/storage/local"
	"github.com/JakeFAU/seo-audit-worker/internal/storage/memory"
	"github.com/JakeFAU/seo-audit-worker/internal/storage/postgres"
	"github.com/JakeFAU/seo-audit-worker/internal/storage/sqlite"
	"github.com/JakeFAU/seo-audit-worker/internal/worker"
)

// services owns every long-lived collaborator built from configuration.
// close releases them in reverse order of construction.
type services struct {
	cfg    config.Config
	logger *zap.Logger

	runs      audit.RunStore
	tokens    searchconsole.TokenStore
	archive   audit.BlobStore
	publisher audit.Publisher
	cache     audit.Cache
	fetcher   audit.Fetcher
	crawler   *crawler.Crawler
	perf      *pagespeed.Client
	insights  *searchconsole.Client

	ready   map[string]api.ReadinessCheck
	closers []func()
}

func (s *services) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// newServices builds stores, caches, fetchers and API clients. On error
// anything already opened is released.
func newServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*services, error) {
	svc := &services{cfg: cfg, logger: logger, ready: map[string]api.ReadinessCheck{}}
	steps := []func(context.Context) error{svc.openStore, svc.openArchive, svc.openPublisher}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			svc.close()
			return nil, err
		}
	}
	svc.openCache(ctx)
	svc.buildFetchers()
	svc.buildClients()
	return svc, nil
}

func (s *services) openStore(ctx context.Context) error {
	switch s.cfg.Store.Driver {
	case "postgres":
		pg := s.cfg.Store.Postgres
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:          pg.DSN,
			RunsTable:    pg.RunsTable,
			ResultsTable: pg.ResultsTable,
			TokensTable:  pg.TokensTable,
			MaxConns:     pg.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s.onClose(pool.Close)
		tables := postgres.Tables{Runs: pg.RunsTable, Results: pg.ResultsTable, Tokens: pg.TokensTable}
		if err := postgres.Migrate(ctx, pool, tables); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		runs, err := postgres.NewRunStore(pool, tables)
		if err != nil {
			return fmt.Errorf("postgres run store: %w", err)
		}
		tokens, err := postgres.NewTokenStore(pool, tables)
		if err != nil {
			return fmt.Errorf("postgres token store: %w", err)
		}
		s.runs, s.tokens = runs, tokens
		s.ready["store"] = runs.Ping
	case "sqlite":
		runs, err := sqlite.Open(s.cfg.Store.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		s.onClose(func() {
			if err := runs.Close(); err != nil {
				s.logger.Warn("close sqlite failed", zap.Error(err))
			}
		})
		s.runs = runs
		s.tokens = sqlite.NewTokenStore(runs)
		s.ready["store"] = runs.Ping
	default:
		s.runs = memory.NewRunStore()
		s.tokens = searchconsole.NewMemoryTokenStore()
	}
	s.logger.Info("run store ready", zap.String("driver", s.cfg.Store.Driver))
	return nil
}

func (s *services) openArchive(ctx context.Context) error {
	switch s.cfg.Archive.Driver {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("storage client: %w", err)
		}
		s.onClose(func() {
			if err := client.Close(); err != nil {
				s.logger.Warn("close storage client failed", zap.Error(err))
			}
		})
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: s.cfg.Archive.GCS.Bucket, Prefix: s.cfg.Archive.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("gcs archive: %w", err)
		}
		s.archive = store
		s.ready["archive"] = store.Check
	case "local":
		store, err := localstore.New(localstore.Config{BaseDir: s.cfg.Archive.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive: %w", err)
		}
		s.archive = store
	case "memory":
		s.archive = memory.NewBlobStore()
	}
	return nil
}

func (s *services) openPublisher(ctx context.Context) error {
	switch s.cfg.Publisher.Driver {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, s.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		s.onClose(func() {
			pub.Close()
			if err := client.Close(); err != nil {
				s.logger.Warn("close pubsub publisher client failed", zap.Error(err))
			}
		})
		s.publisher = pub
	case "memory":
		s.publisher = memorypublisher.New()
	}
	return nil
}

func (s *services) openCache(ctx context.Context) {
	switch s.cfg.Cache.Driver {
	case "redis":
		client := rediscache.NewClient(rediscache.Config{
			Addr:     s.cfg.Cache.Redis.Addr,
			Password: s.cfg.Cache.Redis.Password,
			DB:       s.cfg.Cache.Redis.DB,
		})
		s.onClose(func() {
			if err := client.Close(); err != nil {
				s.logger.Warn("close redis failed", zap.Error(err))
			}
		})
		s.cache = rediscache.New(client, "seo-audit:")
		s.ready["cache"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn("redis unreachable; cache calls will miss", zap.Error(err))
		}
	case "memory":
		s.cache = memorycache.New(s.cfg.Cache.DefaultTTL, 2*s.cfg.Cache.DefaultTTL)
	}
}

func (s *services) buildFetchers() {
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:   s.cfg.Fetch.UserAgent,
		Timeout:     s.cfg.Fetch.Timeout,
		MaxBodySize: s.cfg.Fetch.MaxBodyBytes,
	}, nil)
	s.fetcher = plain

	if h := s.cfg.Fetch.Headless; h.Enabled {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       h.MaxParallel,
			UserAgent:         h.UserAgent,
			NavigationTimeout: h.NavTimeout,
			RemoteURL:         h.RemoteURL,
		})
		if err != nil {
			s.logger.Warn("headless fetcher init failed; continuing without rendering", zap.Error(err))
		} else {
			s.onClose(browser.Close)
			s.fetcher = headlessfetcher.NewPromoting(plain, browser, detector.NewHeuristic(h.MinWords), s.logger.Named("headless"))
		}
	}

	limiter := ratelimit.New(ratelimit.Config{Interval: s.cfg.Crawler.PolitenessDelay})
	s.crawler = crawler.New(s.fetcher, limiter, s.cfg.Crawler.UserAgent, s.logger.Named("crawler"))
}

func (s *services) buildClients() {
	httpClient := &http.Client{Timeout: s.cfg.PageSpeed.Timeout + 5*time.Second}
	s.perf = pagespeed.New(pagespeed.Config{
		APIKey:     s.cfg.PageSpeed.APIKey,
		BaseURL:    s.cfg.PageSpeed.BaseURL,
		Strategy:   s.cfg.PageSpeed.Strategy,
		Timeout:    s.cfg.PageSpeed.Timeout,
		MaxRetries: s.cfg.PageSpeed.MaxRetries,
		CacheTTL:   s.cfg.PageSpeed.CacheTTL,
	}, httpClient, s.cache, s.logger.Named("pagespeed"))

	if sc := s.cfg.SearchConsole; sc.Enabled {
		s.insights = searchconsole.New(searchconsole.Config{
			ClientID:     sc.ClientID,
			ClientSecret: sc.ClientSecret,
			RedirectURL:  sc.RedirectURL,
			Endpoint:     sc.Endpoint,
			CacheTTL:     sc.CacheTTL,
		}, s.tokens, s.cache, nil, nil, s.logger.Named("searchconsole"))
	}
}

// workerDeps returns the lifecycle collaborators shared by both processors.
func (s *services) workerDeps() worker.Deps {
	return worker.Deps{
		Store:     s.runs,
		Archive:   s.archive,
		Publisher: s.publisher,
		Hasher:    sha256.New(),
		Topic:     s.cfg.Publisher.Topic,
		Logger:    s.logger.Named("worker"),
	}
}

func (s *services) auditProcessor(deps worker.Deps) *worker.AuditProcessor {
	var insights worker.InsightsSource
	if s.insights != nil {
		insights = s.insights
	}
	return worker.NewAuditProcessor(deps, s.fetcher, s.perf, insights, s.tokens, worker.AuditConfig{
		FetchTimeout:    s.cfg.Fetch.Timeout,
		DefaultIdentity: s.cfg.SearchConsole.DefaultIdentity,
	})
}

func (s *services) crawlDefaults() crawler.Options {
	c := s.cfg.Crawler
	return crawler.Options{
		Limit:               c.Limit,
		SameHostOnly:        c.SameHostOnly,
		MaxDepth:            c.MaxDepth,
		PageTimeout:         c.PageTimeout,
		OverallTimeout:      c.OverallTimeout,
		Concurrency:         c.Concurrency,
		RespectRobots:       c.RespectRobots,
		NormalizeDuplicates: c.NormalizeDuplicates,
	}
}

// runQueue pairs a queue with its optional consumer start hook.
type runQueue struct {
	audit.Queue
	start func(ctx context.Context)
}

func (s *services) openQueue(ctx context.Context) (runQueue, error) {
	q := s.cfg.Queue
	if q.Driver != "pubsub" {
		mq := queuememory.NewQueue(q.Capacity, time.Second)
		s.onClose(mq.Close)
		return runQueue{Queue: mq, start: func(context.Context) {}}, nil
	}

	client, err := pubsub.NewClient(ctx, q.PubSub.ProjectID)
	if err != nil {
		return runQueue{}, fmt.Errorf("pubsub client: %w", err)
	}
	pq, err := queuepubsub.New(client, queuepubsub.Config{
		Routes: map[audit.RunKind]queuepubsub.Route{
			audit.KindAudit: {Topic: q.PubSub.AuditTopic, Subscription: q.PubSub.AuditSubscription},
			audit.KindCrawl: {Topic: q.PubSub.CrawlTopic, Subscription: q.PubSub.CrawlSubscription},
		},
		MaxOutstanding: s.cfg.Worker.AuditConcurrency + s.cfg.Worker.CrawlConcurrency,
	}, s.logger.Named("queue"))
	if err != nil {
		_ = client.Close()
		return runQueue{}, fmt.Errorf("pubsub queue: %w", err)
	}
	s.onClose(func() {
		pq.Close()
		if err := client.Close(); err != nil {
			s.logger.Warn("close pubsub queue client failed", zap.Error(err))
		}
	})
	return runQueue{Queue: pq, start: pq.Start}, nil
}

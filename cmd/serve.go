package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/api"
	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/dispatcher"
	"github.com/JakeFAU/seo-audit-worker/internal/id/uuid"
	"github.com/JakeFAU/seo-audit-worker/internal/worker"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the queue workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer svc.close()

	queue, err := svc.openQueue(ctx)
	if err != nil {
		return err
	}

	deps := svc.workerDeps()
	wcfg := worker.Config{MaxAttempts: c.cfg.Queue.MaxAttempts}
	auditProc := svc.auditProcessor(deps)
	crawlProc := worker.NewCrawlProcessor(deps, svc.crawler, svc.crawlDefaults())

	pools := []dispatcher.Pool{
		{Kind: audit.KindAudit, Workers: workers(queue, audit.KindAudit, auditProc, wcfg, c.cfg.Worker.AuditConcurrency, c.logger)},
		{Kind: audit.KindCrawl, Workers: workers(queue, audit.KindCrawl, crawlProc, wcfg, c.cfg.Worker.CrawlConcurrency, c.logger)},
	}
	dispatch := dispatcher.New(queue, pools, c.logger.Named("dispatcher"))

	apiDeps := api.Deps{
		Runs:   svc.runs,
		Queue:  dispatch,
		IDs:    uuid.New(),
		Clock:  utcClock{},
		Hasher: deps.Hasher,
		States: svc.cache,
		Ready:  svc.ready,
	}
	if svc.insights != nil {
		apiDeps.GSC = svc.insights
	}
	apiServer := api.NewServer(apiDeps, api.Config{
		APIKey:         c.cfg.Server.APIKey,
		RequestTimeout: c.cfg.Server.RequestTimeout,
	}, c.logger.Named("api"))

	srv := &http.Server{
		Addr:              c.cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadTimeout:       c.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	queue.start(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		c.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	c.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.logger.Error("server shutdown error", zap.Error(err))
	}
	<-done
	c.logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func workers(queue audit.Queue, kind audit.RunKind, h worker.Handler, cfg worker.Config, n int, logger *zap.Logger) []dispatcher.Runner {
	out := make([]dispatcher.Runner, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, worker.New(queue, kind, h, cfg,
			logger.Named("worker").With(zap.String("kind", string(kind)), zap.Int("index", i))))
	}
	return out
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

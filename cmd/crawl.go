package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-audit-worker/internal/crawler"
	"github.com/JakeFAU/seo-audit-worker/internal/urlutil"
)

type crawlFlags struct {
	limit       int
	depth       int
	allHosts    bool
	csv         bool
	pageTimeout int
}

func newCrawlCmd(c *cli) *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site from a start URL and print JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.crawlOnce(cmd.Context(), args[0], f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum pages to fetch (default from config)")
	cmd.Flags().IntVar(&f.depth, "depth", -1, "maximum link depth (default from config)")
	cmd.Flags().BoolVar(&f.allHosts, "all-hosts", false, "follow links to other hosts")
	cmd.Flags().IntVar(&f.pageTimeout, "timeout-ms", 0, "per-page timeout in milliseconds")
	cmd.Flags().BoolVar(&f.csv, "csv", false, "print one CSV row per page instead of JSON")
	return cmd
}

func (c *cli) crawlOnce(ctx context.Context, startURL string, f crawlFlags, out io.Writer) error {
	if !urlutil.IsHTTP(startURL) {
		return fmt.Errorf("%q is not an absolute http(s) URL", startURL)
	}
	svc, err := newServices(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer svc.close()

	result, err := svc.crawler.Crawl(ctx, startURL, f.apply(svc.crawlDefaults()))
	if err != nil {
		return fmt.Errorf("crawl %s: %w", startURL, err)
	}
	if f.csv {
		return crawler.ExportCSV(out, result)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write crawl result: %w", err)
	}
	return nil
}

func (f crawlFlags) apply(opts crawler.Options) crawler.Options {
	if f.limit > 0 {
		opts.Limit = f.limit
	}
	if f.depth >= 0 {
		opts.MaxDepth = f.depth
	}
	if f.allHosts {
		opts.SameHostOnly = false
	}
	if f.pageTimeout > 0 {
		opts.PageTimeout = time.Duration(f.pageTimeout) * time.Millisecond
	}
	return opts
}

// Package cmd defines the seo-audit CLI.
//
// Architecture overview:
//   - serve: internal/api.Server accepts audit and crawl submissions, persists a queued run through the
//     configured RunStore (memory, Postgres or SQLite) and enqueues a message. The dispatcher runs one worker
//     pool per run kind against the queue (in-memory or Pub/Sub); workers settle each delivery with Ack/Nack.
//   - Audits: the colly fetcher (optionally promoted to headless Chrome) fetches the page while PageSpeed
//     Insights and Search Console are queried concurrently. The parser and scoring engine produce the
//     AuditResult, which is saved write-once, archived (memory, local disk or GCS) and announced on Pub/Sub.
//   - Crawls: a bounded breadth-first crawl with per-host politeness, robots.txt and sitemap probes.
//   - audit / crawl: one-shot commands that run the same pipeline in-process and print the result.
//
// Configuration comes from an optional YAML file (--config), a .env file and SEO_AUDIT_* environment
// variables, e.g. SEO_AUDIT_STORE_DRIVER=postgres or SEO_AUDIT_PAGESPEED_API_KEY.
package cmd

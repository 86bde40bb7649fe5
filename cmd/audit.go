package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/id/uuid"
	"github.com/JakeFAU/seo-audit-worker/internal/storage/memory"
	"github.com/JakeFAU/seo-audit-worker/internal/urlutil"
)

func newAuditCmd(c *cli) *cobra.Command {
	var job audit.AuditJob
	cmd := &cobra.Command{
		Use:   "audit <url>",
		Short: "Audit a single page and print the result JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job.PageURL = args[0]
			return c.auditOnce(cmd.Context(), job, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&job.TargetKeyword, "keyword", "", "target keyword to check placement for")
	cmd.Flags().StringVar(&job.AccountID, "account", "", "Search Console identity to query insights for")
	return cmd
}

// auditOnce runs the audit pipeline in-process against a throwaway run store.
func (c *cli) auditOnce(ctx context.Context, job audit.AuditJob, out io.Writer) error {
	if !urlutil.IsHTTP(job.PageURL) {
		return fmt.Errorf("%q is not an absolute http(s) URL", job.PageURL)
	}
	svc, err := newServices(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer svc.close()

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	job.RunID = runID

	runs := memory.NewRunStore()
	deps := svc.workerDeps()
	deps.Store = runs
	deps.Publisher = nil
	if err := svc.auditProcessor(deps).Process(ctx, job); err != nil {
		return fmt.Errorf("audit %s: %w", job.PageURL, err)
	}

	run, err := runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status != audit.StatusReady {
		return fmt.Errorf("audit %s %s: %s", job.PageURL, run.Status, run.Error)
	}
	body, err := runs.GetResult(ctx, runID)
	if err != nil {
		return fmt.Errorf("load result: %w", err)
	}
	return writeIndented(out, body)
}

func writeIndented(out io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("indent result: %w", err)
	}
	buf.WriteByte('\n')
	if _, err := buf.WriteTo(out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

package crawler

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

var csvHeader = []string{
	"URL", "Depth", "Status", "Title", "H1 Present", "Word Count",
	"Images Missing Alt", "Noindex", "Canonical", "Meta Description",
	"H1 Count", "H2 Count", "H3 Count", "Internal Links", "External Links",
	"Total Images", "Load Time (ms)", "Found On", "Error",
}

// ExportCSV writes one row per crawled page.
func ExportCSV(w io.Writer, result audit.CrawlResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range result.Pages {
		row := []string{
			p.URL,
			strconv.Itoa(p.Depth),
			strconv.Itoa(p.Status),
			p.Title,
			yesNo(p.H1Present),
			strconv.Itoa(p.WordCount),
			strconv.Itoa(p.ImagesMissingAlt),
			yesNo(p.Noindex),
			p.Canonical,
			p.MetaDescription,
			strconv.Itoa(p.H1Count),
			strconv.Itoa(p.H2Count),
			strconv.Itoa(p.H3Count),
			strconv.Itoa(p.InternalLinks),
			strconv.Itoa(p.ExternalLinks),
			strconv.Itoa(p.ImagesTotal),
			strconv.FormatInt(p.LoadTimeMs, 10),
			p.FoundOn,
			p.Error,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Package templates holds the HTML views of the importer.
package templates

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/product-importer/internal/core"
)

// DashboardData is what the dashboard page shows.
type DashboardData struct {
	Imports     []core.ImportJob
	Stats       *core.ProductStats
	GeneratedAt time.Time
}

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Product Importer</title>
<style>
body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
table{border-collapse:collapse;width:100%}
th,td{padding:.4rem .6rem;border-bottom:1px solid #e5e7eb;text-align:left}
.status-completed{color:#047857}.status-failed{color:#b91c1c}
.muted{color:#6b7280}
</style>
</head>
<body>
<h1>Product Importer</h1>
`

// Dashboard renders recent imports and catalogue totals.
func Dashboard(data DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, pageHead); err != nil {
			return err
		}
		if data.Stats != nil {
			if _, err := fmt.Fprintf(w, "<p>%d products (%d active, %d inactive)</p>\n",
				data.Stats.TotalProducts, data.Stats.ActiveProducts, data.Stats.InactiveProducts); err != nil {
				return err
			}
		}
		if err := ImportTable(data.Imports).Render(ctx, w); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "<p class=\"muted\">Generated %s</p>\n</body>\n</html>\n",
			templ.EscapeString(data.GeneratedAt.UTC().Format(time.RFC3339)))
		return err
	})
}

// ImportTable renders the recent import jobs.
func ImportTable(jobs []core.ImportJob) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if len(jobs) == 0 {
			_, err := io.WriteString(w, "<p class=\"muted\">No imports yet.</p>\n")
			return err
		}
		if _, err := io.WriteString(w, "<h2>Recent imports</h2>\n<table>\n<tr><th>File</th><th>Status</th><th>Progress</th><th>Created</th><th>Updated</th><th>Errors</th><th>Started</th></tr>\n"); err != nil {
			return err
		}
		for _, j := range jobs {
			_, err := fmt.Fprintf(w,
				"<tr><td title=\"%s\">%s</td><td class=\"status-%s\">%s</td><td>%.2f%%</td><td>%d</td><td>%d</td><td>%d</td><td>%s</td></tr>\n",
				templ.EscapeString(j.ID),
				templ.EscapeString(j.Filename),
				templ.EscapeString(string(j.Status)),
				templ.EscapeString(string(j.Status)),
				j.ProgressPercentage,
				j.CreatedCount,
				j.UpdatedCount,
				j.ErrorCount,
				templ.EscapeString(j.CreatedAt.UTC().Format("2006-01-02 15:04")),
			)
			if err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</table>\n")
		return err
	})
}

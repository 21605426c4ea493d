package web

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/pipeline"
	"github.com/JonMunkholm/datastage/internal/tables"
	"github.com/a-h/templ"
)

// DashboardData is everything the dashboard page shows.
type DashboardData struct {
	Status       pipeline.GateStatus
	Tables       []tables.TableFile
	Runs         []history.Run
	LastManifest time.Time
}

const dashboardHead = `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">` +
	`<title>datastage</title><style>` +
	`body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse;margin-bottom:2rem}` +
	`td,th{border:1px solid #ccc;padding:.25rem .75rem;text-align:left}.failed{color:#b00}` +
	`</style></head><body>`

// Dashboard renders the serve-mode landing page.
func Dashboard(data DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}

		ew.print(dashboardHead)
		ew.print("<h1>datastage</h1>")
		if data.Status.Running {
			ew.print(`<p id="status">A staging run is in progress.</p>`)
		} else {
			ew.print(`<p id="status">Idle.</p>`)
		}
		if !data.LastManifest.IsZero() {
			ew.printf("<p>Last successful run: %s</p>", templ.EscapeString(data.LastManifest.Format(time.RFC3339)))
		}

		ew.print("<h2>Tables</h2>")
		if len(data.Tables) == 0 {
			ew.print("<p>No tables staged yet.</p>")
		} else {
			ew.print("<table><tr><th>Name</th><th>Rows</th><th>Columns</th><th>Size</th></tr>")
			for _, t := range data.Tables {
				ew.printf("<tr><td>%s</td><td>%d</td><td>%d</td><td>%d</td></tr>",
					templ.EscapeString(t.Name), t.Rows, len(t.Columns), t.Size)
			}
			ew.print("</table>")
		}

		ew.print("<h2>Recent runs</h2>")
		if len(data.Runs) == 0 {
			ew.print("<p>No runs recorded.</p>")
		} else {
			ew.print("<table><tr><th>Started</th><th>Status</th><th>Tables</th><th>Duration</th><th>Error</th></tr>")
			for _, run := range data.Runs {
				ew.printf(`<tr class="%s"><td>%s</td><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>`,
					templ.EscapeString(run.Status),
					templ.EscapeString(run.StartedAt.Format(time.RFC3339)),
					templ.EscapeString(run.Status),
					run.Tables,
					templ.EscapeString(run.Duration().Round(time.Millisecond).String()),
					templ.EscapeString(run.Code+" "+run.Error),
				)
			}
			ew.print("</table>")
		}

		ew.print("</body></html>")
		return ew.err
	})
}

// errWriter keeps the first write error so rendering reads linearly.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) print(s string) {
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err == nil {
		_, e.err = fmt.Fprintf(e.w, format, args...)
	}
}

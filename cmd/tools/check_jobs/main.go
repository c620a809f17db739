// check_jobs prints recent scrape jobs and per-source health straight from
// the database, for operators without dashboard access.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/paul828919/CONNECT-sub002/internal/db"
	"github.com/paul828919/CONNECT-sub002/internal/ingest"
)

func main() {
	limit := flag.Int("limit", 20, "Number of recent jobs to show")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	jobs, err := store.ListRecentJobs(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Status", "Priority", "Attempts", "Window", "Next Retry", "Last Error"})
	for _, job := range jobs {
		nextRetry := "-"
		if job.NextRetryAt != nil {
			nextRetry = job.NextRetryAt.Format("15:04:05")
		}
		lastError := job.LastError
		if len(lastError) > 60 {
			lastError = lastError[:57] + "..."
		}
		t.AppendRow(table.Row{
			job.SourceID, job.Status, job.Priority,
			job.Attempts, job.WindowKey, nextRetry, lastError,
		})
	}
	t.Render()

	registry, err := ingest.LoadRegistry(os.Getenv("SOURCES_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	st := table.NewWriter()
	st.SetOutputMirror(os.Stdout)
	st.AppendHeader(table.Row{"Source", "Last Run", "Success Rate", "Dead Letters", "Manual Review"})
	for _, src := range registry.Sources {
		status, err := store.SourceStatus(ctx, src.ID)
		if err != nil {
			log.Printf("status for %s: %v", src.ID, err)
			continue
		}
		lastRun := "-"
		if status.LastRunAt != nil {
			lastRun = status.LastRunAt.Format(time.DateTime)
		}
		st.AppendRow(table.Row{
			src.ID, lastRun,
			formatPercent(status.SuccessRate),
			status.DeadLetterCount, status.ManualReview,
		})
	}
	st.Render()
}

func formatPercent(rate float64) string {
	if rate < 0 {
		return "-"
	}
	return strconv.FormatFloat(rate*100, 'f', 1, 64) + "%"
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/ai"
	"github.com/paul828919/CONNECT-sub002/internal/api"
	"github.com/paul828919/CONNECT-sub002/internal/cache"
	"github.com/paul828919/CONNECT-sub002/internal/db"
	"github.com/paul828919/CONNECT-sub002/internal/events"
	"github.com/paul828919/CONNECT-sub002/internal/extract"
	"github.com/paul828919/CONNECT-sub002/internal/ingest"
	"github.com/paul828919/CONNECT-sub002/internal/match"
	"github.com/paul828919/CONNECT-sub002/internal/models"
	"github.com/paul828919/CONNECT-sub002/internal/notify"
	"github.com/paul828919/CONNECT-sub002/internal/queue"
	"github.com/paul828919/CONNECT-sub002/internal/scheduler"
)

const jobTimeout = 10 * time.Minute

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	registry, err := ingest.LoadRegistry(os.Getenv("SOURCES_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}

	store := db.NewStore(pool)
	hub := events.NewHub()

	matchCache := cache.New(cache.DefaultTTL)
	matchCache.SubscribeTo(hub)

	fetcher := ingest.NewPoliteFetcher(registry)
	aiClient := ai.NewClient(os.Getenv("OLLAMA_HOST"), os.Getenv("OLLAMA_MODEL"), 0, 0)
	attachments := extract.NewAttachmentExtractor(fetcher)
	if convertURL := os.Getenv("CONVERT_SERVICE_URL"); convertURL != "" {
		attachments.WithConverter(api.NewConvertClient(convertURL, os.Getenv("CONVERT_SERVICE_TOKEN")))
	}
	chain := extract.NewChain(
		extract.NewRuleExtractor(),
		extract.NewLLMExtractor(aiClient),
		attachments,
	)
	pipeline := ingest.NewPipeline(pool, registry, fetcher, chain, hub)

	profileClient := api.NewOrgProfileClient(
		os.Getenv("PROFILE_SERVICE_URL"),
		os.Getenv("PROFILE_SERVICE_TOKEN"),
	)
	matches := match.NewService(store, profileClient, matchCache)

	var sink notify.Sink
	if url := os.Getenv("NOTIFY_WEBHOOK_URL"); url != "" {
		sink = notify.NewWebhookSink(url, os.Getenv("NOTIFY_WEBHOOK_TOKEN"))
	}
	notifier := notify.NewNotifier(matches, profileClient, store, sink)
	fetcher.OnSuspend = func(sourceID string, until time.Time) {
		notifier.OpsAlert(sourceID, "suspended", "cooldown until "+until.Format(time.RFC3339))
	}

	runner := func(ctx context.Context, sourceID string) error {
		ctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		started := time.Now()
		_, err := pipeline.IngestSource(ctx, sourceID)
		if err != nil {
			return err
		}
		if err := notifier.AfterIngestion(ctx, started); err != nil {
			log.Printf("post-ingestion notifications for %s: %v", sourceID, err)
		}
		return nil
	}
	jobQueue := queue.New(store, runner, queue.WithAlertFunc(
		func(sourceID string, status models.JobStatus, lastError string) {
			notifier.OpsAlert(sourceID, string(status), lastError)
		}))
	go jobQueue.Start(ctx)

	sourceIDs := make([]string, 0, len(registry.Sources))
	for _, src := range registry.Sources {
		sourceIDs = append(sourceIDs, src.ID)
	}
	go scheduler.New(jobQueue, sourceIDs).Run(ctx)

	// Daily housekeeping: expire past-deadline programs, then warn about
	// matched programs closing soon.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := pipeline.ExpireSweep(ctx); err != nil {
					log.Printf("expire sweep: %v", err)
				} else if n > 0 {
					log.Printf("expire sweep: %d programs expired", n)
				}
				if err := notifier.DeadlineSweep(ctx); err != nil {
					log.Printf("deadline sweep: %v", err)
				}
			}
		}
	}()

	srv := api.NewServer(store, pipeline, matches, hub, fetcher, registry)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Echo.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("Server starting on port %s...", port)
	if err := srv.Start(port); err != nil {
		log.Print(err)
	}
}

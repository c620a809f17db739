// Package queue runs scrape jobs with bounded concurrency, per-source caps,
// retry with exponential backoff, and terminal dead-letter and manual-review
// states driven by the fetch error taxonomy.
package queue

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/paul828919/CONNECT-sub002/internal/ingest"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

const (
	defaultMaxWorkers   = 4
	defaultPerSourceCap = 2
	defaultMaxAttempts  = 4
	defaultBackoffBase  = 2 * time.Minute
	defaultBackoffCap   = 2 * time.Hour
	defaultPollInterval = 30 * time.Second
)

// JobStore is the slice of the database layer the queue needs.
type JobStore interface {
	InsertScrapeJob(ctx context.Context, job *models.ScrapeJob) (bool, error)
	DuePendingJobs(ctx context.Context, now time.Time, limit int) ([]models.ScrapeJob, error)
	MarkJobRunning(ctx context.Context, id uuid.UUID) (bool, error)
	RecordJobSuccess(ctx context.Context, id uuid.UUID) error
	RecordJobFailure(ctx context.Context, id uuid.UUID, status models.JobStatus, lastError string, nextRetryAt *time.Time) error
}

// Runner executes the actual scrape work for a source.
type Runner func(ctx context.Context, sourceID string) error

// Queue polls for due jobs and dispatches them under two limits: a global
// worker budget and a per-source cap so hammering retries on one agency can
// never crowd out the rest.
type Queue struct {
	store        JobStore
	run          Runner
	workers      *semaphore.Weighted
	maxAttempts  int
	perSourceCap int
	backoffBase  time.Duration
	backoffCap   time.Duration
	pollInterval time.Duration
	now          func() time.Time
	alert        func(sourceID string, status models.JobStatus, lastError string)

	mu      sync.Mutex
	running map[string]int // sourceID -> in-flight jobs
	wg      sync.WaitGroup
}

type Option func(*Queue)

func WithMaxWorkers(n int) Option {
	return func(q *Queue) { q.workers = semaphore.NewWeighted(int64(n)) }
}

func WithPerSourceCap(n int) Option {
	return func(q *Queue) { q.perSourceCap = n }
}

func WithBackoff(base, cap time.Duration) Option {
	return func(q *Queue) { q.backoffBase, q.backoffCap = base, cap }
}

func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithAlertFunc registers a callback fired when a job reaches a terminal
// failure state (dead-lettered or parked for manual review).
func WithAlertFunc(f func(sourceID string, status models.JobStatus, lastError string)) Option {
	return func(q *Queue) { q.alert = f }
}

func New(store JobStore, run Runner, opts ...Option) *Queue {
	q := &Queue{
		store:        store,
		run:          run,
		workers:      semaphore.NewWeighted(defaultMaxWorkers),
		maxAttempts:  defaultMaxAttempts,
		perSourceCap: defaultPerSourceCap,
		backoffBase:  defaultBackoffBase,
		backoffCap:   defaultBackoffCap,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		running:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a pending job. The (source, window) uniqueness constraint
// makes re-triggers within the same window a no-op; the return value reports
// whether a new job was actually created.
func (q *Queue) Enqueue(ctx context.Context, sourceID string, priority models.JobPriority, windowKey string) (bool, error) {
	job := &models.ScrapeJob{
		ID:          uuid.New(),
		SourceID:    sourceID,
		Priority:    priority,
		MaxAttempts: q.maxAttempts,
		Status:      models.JobPending,
		WindowKey:   windowKey,
	}
	return q.store.InsertScrapeJob(ctx, job)
}

// Start runs the dispatch loop until the context is cancelled, then waits
// for in-flight jobs to finish.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return
		case <-ticker.C:
			if err := q.Dispatch(ctx); err != nil {
				log.Printf("[queue] dispatch: %v", err)
			}
		}
	}
}

// Dispatch claims due pending jobs and hands them to workers.
func (q *Queue) Dispatch(ctx context.Context) error {
	jobs, err := q.store.DuePendingJobs(ctx, q.now(), 20)
	if err != nil {
		return fmt.Errorf("listing due jobs: %w", err)
	}

	for _, job := range jobs {
		if !q.tryReserveSource(job.SourceID) {
			continue
		}
		if !q.workers.TryAcquire(1) {
			q.releaseSource(job.SourceID)
			return nil
		}
		claimed, err := q.store.MarkJobRunning(ctx, job.ID)
		if err != nil || !claimed {
			q.workers.Release(1)
			q.releaseSource(job.SourceID)
			continue
		}

		job := job
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer q.workers.Release(1)
			defer q.releaseSource(job.SourceID)
			q.process(ctx, job)
		}()
	}
	return nil
}

func (q *Queue) tryReserveSource(sourceID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running[sourceID] >= q.perSourceCap {
		return false
	}
	q.running[sourceID]++
	return true
}

func (q *Queue) releaseSource(sourceID string) {
	q.mu.Lock()
	q.running[sourceID]--
	if q.running[sourceID] <= 0 {
		delete(q.running, sourceID)
	}
	q.mu.Unlock()
}

func (q *Queue) process(ctx context.Context, job models.ScrapeJob) {
	err := q.run(ctx, job.SourceID)
	if err == nil {
		if dbErr := q.store.RecordJobSuccess(ctx, job.ID); dbErr != nil {
			log.Printf("[queue] recording success for %s: %v", job.ID, dbErr)
		}
		return
	}

	attempt := job.Attempts + 1
	status, retryAt := NextAction(err, attempt, job.MaxAttempts, q.backoffBase, q.backoffCap, q.now())
	log.Printf("[queue] job %s (source %s) attempt %d/%d failed (%s): %v",
		job.ID, job.SourceID, attempt, job.MaxAttempts, ingest.Classify(err), err)

	if dbErr := q.store.RecordJobFailure(ctx, job.ID, status, err.Error(), retryAt); dbErr != nil {
		log.Printf("[queue] recording failure for %s: %v", job.ID, dbErr)
	}
	if q.alert != nil && (status == models.JobDeadLettered || status == models.JobManualReview) {
		q.alert(job.SourceID, status, err.Error())
	}
}

// NextAction decides a failed job's fate from the error taxonomy:
//
//	transient  -> retry with exponential backoff, dead-letter at max attempts
//	blocked    -> same backoff shape; the fetcher's own cooldown keeps early
//	              retries from touching the source anyway
//	structural -> manual review immediately; retries cannot fix layout drift
//	quota      -> short fixed delay until the budget window refills
func NextAction(err error, attempt, maxAttempts int, base, cap time.Duration, now time.Time) (models.JobStatus, *time.Time) {
	switch ingest.Classify(err) {
	case ingest.ClassStructural:
		return models.JobManualReview, nil
	case ingest.ClassQuota:
		t := now.Add(base)
		return models.JobPending, &t
	}
	// transient and blocked
	if attempt >= maxAttempts {
		return models.JobDeadLettered, nil
	}
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * base
	if delay > cap {
		delay = cap
	}
	t := now.Add(delay)
	return models.JobPending, &t
}

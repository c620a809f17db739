package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/ingest"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.ScrapeJob
	keys map[string]bool // sourceID+windowKey dedupe
}

func newMemStore() *memStore {
	return &memStore{
		jobs: make(map[uuid.UUID]*models.ScrapeJob),
		keys: make(map[string]bool),
	}
}

func (m *memStore) InsertScrapeJob(_ context.Context, job *models.ScrapeJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := job.SourceID + "|" + job.WindowKey
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	cp := *job
	m.jobs[job.ID] = &cp
	return true, nil
}

func (m *memStore) DuePendingJobs(_ context.Context, now time.Time, limit int) ([]models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.ScrapeJob
	for _, j := range m.jobs {
		if j.Status != models.JobPending {
			continue
		}
		if j.NextRetryAt != nil && j.NextRetryAt.After(now) {
			continue
		}
		due = append(due, *j)
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (m *memStore) MarkJobRunning(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobPending {
		return false, nil
	}
	j.Status = models.JobRunning
	return true, nil
}

func (m *memStore) RecordJobSuccess(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status = models.JobSucceeded
	j.Attempts++
	return nil
}

func (m *memStore) RecordJobFailure(_ context.Context, id uuid.UUID, status models.JobStatus, lastError string, nextRetryAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status = status
	j.Attempts++
	j.LastError = lastError
	j.NextRetryAt = nextRetryAt
	return nil
}

func (m *memStore) get(id uuid.UUID) models.ScrapeJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) clearRetryDelay(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].NextRetryAt = nil
}

func TestEnqueueDedupesWindow(t *testing.T) {
	store := newMemStore()
	q := New(store, func(context.Context, string) error { return nil })

	created, err := q.Enqueue(context.Background(), "smtech", models.PriorityStandard, "2026-02-10-am")
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	created, err = q.Enqueue(context.Background(), "smtech", models.PriorityStandard, "2026-02-10-am")
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Error("duplicate window enqueue created a second job")
	}
}

func TestRepeatedTimeoutsDeadLetterOneSourceOnly(t *testing.T) {
	store := newMemStore()

	var mu sync.Mutex
	runs := map[string]int{}
	runner := func(_ context.Context, sourceID string) error {
		mu.Lock()
		runs[sourceID]++
		mu.Unlock()
		if sourceID == "btp" {
			return errors.New("context deadline exceeded")
		}
		return nil
	}

	q := New(store, runner,
		WithMaxWorkers(2),
		WithBackoff(time.Minute, time.Hour),
	)
	q.maxAttempts = 3

	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "btp", models.PriorityStandard, "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, "smtech", models.PriorityStandard, "w1"); err != nil {
		t.Fatal(err)
	}

	var btpID, smtechID uuid.UUID
	for id, j := range store.jobs {
		if j.SourceID == "btp" {
			btpID = id
		} else {
			smtechID = id
		}
	}

	// drive three dispatch rounds, clearing the backoff delay between them
	for round := 0; round < 3; round++ {
		if err := q.Dispatch(ctx); err != nil {
			t.Fatalf("dispatch round %d: %v", round, err)
		}
		q.wg.Wait()
		if store.get(btpID).Status == models.JobPending {
			store.clearRetryDelay(btpID)
		}
	}

	btp := store.get(btpID)
	if btp.Status != models.JobDeadLettered {
		t.Fatalf("btp job status = %s after %d attempts, want dead_lettered", btp.Status, btp.Attempts)
	}
	if btp.Attempts != 3 {
		t.Errorf("btp attempts = %d, want 3", btp.Attempts)
	}

	smtech := store.get(smtechID)
	if smtech.Status != models.JobSucceeded {
		t.Errorf("smtech job status = %s, want succeeded; one source's failures must not affect another", smtech.Status)
	}
	if runs["smtech"] != 1 {
		t.Errorf("smtech ran %d times, want 1", runs["smtech"])
	}
}

func TestNextAction(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	base, cap := time.Minute, time.Hour

	t.Run("transient backs off exponentially", func(t *testing.T) {
		status, retry := NextAction(errors.New("i/o timeout"), 1, 4, base, cap, now)
		if status != models.JobPending || retry == nil {
			t.Fatalf("status=%s retry=%v", status, retry)
		}
		if got := retry.Sub(now); got != time.Minute {
			t.Errorf("first retry delay = %v, want 1m", got)
		}

		_, retry = NextAction(errors.New("i/o timeout"), 3, 4, base, cap, now)
		if got := retry.Sub(now); got != 4*time.Minute {
			t.Errorf("third retry delay = %v, want 4m", got)
		}
	})

	t.Run("transient dead-letters at max attempts", func(t *testing.T) {
		status, retry := NextAction(errors.New("connection refused"), 4, 4, base, cap, now)
		if status != models.JobDeadLettered || retry != nil {
			t.Errorf("status=%s retry=%v, want dead_lettered/nil", status, retry)
		}
	})

	t.Run("structural goes to manual review immediately", func(t *testing.T) {
		status, retry := NextAction(ingest.ErrChallengeWall, 1, 4, base, cap, now)
		if status != models.JobManualReview || retry != nil {
			t.Errorf("status=%s retry=%v, want manual_review/nil", status, retry)
		}
	})

	t.Run("blocked backs off exponentially like transient", func(t *testing.T) {
		status, retry := NextAction(ingest.ErrSourceSuspended, 1, 4, base, cap, now)
		if status != models.JobPending || retry == nil {
			t.Fatalf("status=%s retry=%v", status, retry)
		}
		if got := retry.Sub(now); got != time.Minute {
			t.Errorf("first blocked delay = %v, want 1m", got)
		}

		_, retry = NextAction(ingest.ErrSourceSuspended, 3, 4, base, cap, now)
		if got := retry.Sub(now); got != 4*time.Minute {
			t.Errorf("third blocked delay = %v, want 4m", got)
		}
	})

	t.Run("blocked dead-letters at max attempts", func(t *testing.T) {
		status, retry := NextAction(ingest.ErrSourceSuspended, 4, 4, base, cap, now)
		if status != models.JobDeadLettered || retry != nil {
			t.Errorf("status=%s retry=%v, want dead_lettered/nil", status, retry)
		}
	})

	t.Run("backoff is capped", func(t *testing.T) {
		_, retry := NextAction(errors.New("i/o timeout"), 9, 10, base, cap, now)
		if got := retry.Sub(now); got != cap {
			t.Errorf("capped delay = %v, want %v", got, cap)
		}
	})
}

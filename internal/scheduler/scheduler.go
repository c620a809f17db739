// Package scheduler triggers ingestion windows on a fixed daily cadence:
// two windows per day normally, four during the first quarter when Korean
// agencies concentrate their annual program announcements.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// Season is the announcement-volume regime the cadence follows.
type Season string

const (
	SeasonNormal Season = "NORMAL"
	SeasonPeak   Season = "PEAK"
)

// window hours, KST
var (
	normalHours = []int{9, 15}
	peakHours   = []int{9, 12, 15, 18}
)

var seoul = loadSeoul()

func loadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// SeasonFor returns PEAK for January through March, when the bulk of the
// year's programs are announced, and NORMAL otherwise.
func SeasonFor(t time.Time) Season {
	switch t.In(seoul).Month() {
	case time.January, time.February, time.March:
		return SeasonPeak
	}
	return SeasonNormal
}

// WindowHours returns the scheduled window start hours for the day.
func WindowHours(season Season) []int {
	if season == SeasonPeak {
		return peakHours
	}
	return normalHours
}

// CurrentWindowKey identifies the window the given instant falls into, or
// "" when no window has opened yet today. The key is stable across the whole
// window so re-triggers dedupe against the same scrape job.
func CurrentWindowKey(t time.Time) string {
	local := t.In(seoul)
	hours := WindowHours(SeasonFor(t))
	open := -1
	for _, h := range hours {
		if local.Hour() >= h {
			open = h
		}
	}
	if open < 0 {
		return ""
	}
	return fmt.Sprintf("%s-%02d", local.Format("2006-01-02"), open)
}

// Enqueuer inserts a scrape job for a source, deduped by window key.
type Enqueuer interface {
	Enqueue(ctx context.Context, sourceID string, priority models.JobPriority, windowKey string) (bool, error)
}

// Scheduler wakes on a ticker and enqueues one job per source per window.
// The queue's (source, window) uniqueness makes the wakeups idempotent, so
// the tick interval only bounds how late a window can start.
type Scheduler struct {
	enqueuer  Enqueuer
	sourceIDs []string
	interval  time.Duration
	now       func() time.Time
}

func New(enqueuer Enqueuer, sourceIDs []string) *Scheduler {
	return &Scheduler{
		enqueuer:  enqueuer,
		sourceIDs: sourceIDs,
		interval:  5 * time.Minute,
		now:       time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run ticks until the context is cancelled. A tick fires immediately on
// start so a restart mid-window does not wait out the interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enqueues jobs for the current window, if one is open.
func (s *Scheduler) Tick(ctx context.Context) {
	key := CurrentWindowKey(s.now())
	if key == "" {
		return
	}
	priority := models.PriorityStandard
	if SeasonFor(s.now()) == SeasonPeak {
		priority = models.PriorityHigh
	}
	for _, id := range s.sourceIDs {
		created, err := s.enqueuer.Enqueue(ctx, id, priority, key)
		if err != nil {
			log.Printf("[scheduler] enqueue %s for window %s: %v", id, key, err)
			continue
		}
		if created {
			log.Printf("[scheduler] window %s: enqueued %s", key, id)
		}
	}
}

package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fastState is a politeness budget with the waiting collapsed so tests run
// quickly: no min delay, no jitter, a token bucket that never blocks.
func fastState(suspendAfter int) *sourceState {
	s := newSourceState(FetchConfig{RequestsPerMin: 600000, SuspendAfter: suspendAfter})
	s.minDelay = 0
	s.jitter = 0
	return s
}

func newTestFetcher(sourceID string, s *sourceState) *PoliteFetcher {
	f := NewPoliteFetcher(nil)
	f.states[sourceID] = s
	return f
}

func TestFetchBytesFailsFastWhileSuspended(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	s := fastState(3)
	s.suspendedUntil = time.Now().Add(time.Hour)
	f := newTestFetcher("btp", s)

	_, err := f.FetchBytes(context.Background(), "btp", srv.URL+"/files/notice.pdf")
	if !errors.Is(err, ErrSourceSuspended) {
		t.Fatalf("expected ErrSourceSuspended, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("suspended source still hit the network %d times", n)
	}
}

func TestFetchBytesCountsBlocksTowardSuspension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher("btp", fastState(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.FetchBytes(ctx, "btp", srv.URL+"/files/notice.pdf"); err == nil {
			t.Fatalf("attempt %d: expected a block error", i+1)
		}
	}
	if f.SuspendedUntil("btp").IsZero() {
		t.Fatal("two consecutive 403s should have suspended the source")
	}
	if _, err := f.FetchBytes(ctx, "btp", srv.URL+"/files/notice.pdf"); !errors.Is(err, ErrSourceSuspended) {
		t.Fatalf("expected ErrSourceSuspended after cooldown started, got %v", err)
	}
}

func TestFetchBytesHonorsRobots(t *testing.T) {
	var fileHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /files/\n"))
			return
		}
		atomic.AddInt32(&fileHits, 1)
	}))
	defer srv.Close()

	f := newTestFetcher("smtech", fastState(3))

	_, err := f.FetchBytes(context.Background(), "smtech", srv.URL+"/files/notice.pdf")
	if !errors.Is(err, ErrDisallowedByRobots) {
		t.Fatalf("expected ErrDisallowedByRobots, got %v", err)
	}
	if n := atomic.LoadInt32(&fileHits); n != 0 {
		t.Fatalf("disallowed path was fetched %d times", n)
	}
}

func TestFetchBytesWaitsMinDelayBetweenRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 stub"))
	}))
	defer srv.Close()

	s := fastState(3)
	s.minDelay = 150 * time.Millisecond
	f := newTestFetcher("iris", s)
	ctx := context.Background()

	if _, err := f.FetchBytes(ctx, "iris", srv.URL+"/files/a.pdf"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	start := time.Now()
	if _, err := f.FetchBytes(ctx, "iris", srv.URL+"/files/b.pdf"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if elapsed := time.Since(start); elapsed < s.minDelay {
		t.Fatalf("second fetch ran after %v, want at least %v", elapsed, s.minDelay)
	}
}

func TestAgencyAliasSharesBudget(t *testing.T) {
	reg := &Registry{Sources: []SourceConfig{
		{ID: "btp-list", AgencyID: "btp"},
	}}
	f := NewPoliteFetcher(reg)

	if f.state("btp") != f.state("btp-list") {
		t.Fatal("agency alias should resolve to the source's own budget")
	}
}

package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultTimeout   = 30 * time.Second
	defaultRPM       = 12.0
	defaultMinDelay  = 2 * time.Second
	defaultJitter    = 1 * time.Second
	defaultSuspendN  = 3
	defaultCooldown  = 60 * time.Minute
	maxBodyBytes     = 10 * 1024 * 1024
)

// sourceState tracks one source's token bucket and block history.
type sourceState struct {
	limiter           *rate.Limiter
	minDelay          time.Duration
	jitter            time.Duration
	timeout           time.Duration
	acceptLanguage    string
	suspendAfter      int
	cooldown          time.Duration
	lastFetch         time.Time
	consecutiveBlocks int
	suspendedUntil    time.Time
}

// PoliteFetcher fetches pages within each source's politeness budget: a
// token bucket sized from requests_per_minute, a jittered minimum delay
// between requests, and hard robots.txt compliance via the underlying
// collector. Repeated 403/429 responses suspend the source for a cooldown.
type PoliteFetcher struct {
	userAgent string

	// OnSuspend, when set, is called as a source enters its cooldown. Wired
	// to the ops-alert notifier.
	OnSuspend func(sourceID string, until time.Time)

	mu     sync.Mutex
	states map[string]*sourceState
}

func NewPoliteFetcher(registry *Registry) *PoliteFetcher {
	f := &PoliteFetcher{
		userAgent: defaultUserAgent,
		states:    make(map[string]*sourceState),
	}
	if registry != nil {
		for _, src := range registry.Sources {
			s := newSourceState(src.Fetch)
			f.states[src.ID] = s
			// Attachment downloads are keyed by agency, so the agency alias
			// must resolve to the same budget as the source itself.
			if src.AgencyID != "" {
				if _, ok := f.states[src.AgencyID]; !ok {
					f.states[src.AgencyID] = s
				}
			}
		}
	}
	return f
}

func newSourceState(cfg FetchConfig) *sourceState {
	s := &sourceState{
		minDelay:       defaultMinDelay,
		jitter:         defaultJitter,
		timeout:        defaultTimeout,
		acceptLanguage: "ko-KR,ko;q=0.9,en;q=0.5",
		suspendAfter:   defaultSuspendN,
		cooldown:       defaultCooldown,
	}
	rpm := defaultRPM
	if cfg.RequestsPerMin > 0 {
		rpm = cfg.RequestsPerMin
	}
	s.limiter = rate.NewLimiter(rate.Limit(rpm/60.0), 1)
	if cfg.MinDelaySeconds > 0 {
		s.minDelay = time.Duration(cfg.MinDelaySeconds * float64(time.Second))
	}
	if cfg.JitterSeconds > 0 {
		s.jitter = time.Duration(cfg.JitterSeconds * float64(time.Second))
	}
	if cfg.TimeoutSeconds > 0 {
		s.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.SuspendAfter > 0 {
		s.suspendAfter = cfg.SuspendAfter
	}
	if cfg.CooldownMinutes > 0 {
		s.cooldown = time.Duration(cfg.CooldownMinutes) * time.Minute
	}
	if cfg.AcceptLanguage != "" {
		s.acceptLanguage = cfg.AcceptLanguage
	}
	return s
}

func (f *PoliteFetcher) state(sourceID string) *sourceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[sourceID]
	if !ok {
		s = newSourceState(FetchConfig{})
		f.states[sourceID] = s
	}
	return s
}

// SuspendedUntil reports when a suspended source becomes available again.
// Zero time means the source is not suspended.
func (f *PoliteFetcher) SuspendedUntil(sourceID string) time.Time {
	s := f.state(sourceID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Now().Before(s.suspendedUntil) {
		return s.suspendedUntil
	}
	return time.Time{}
}

// Fetch retrieves one page for a source, waiting out the politeness budget
// first. Returns ErrSourceSuspended without touching the network while the
// source is cooling down.
func (f *PoliteFetcher) Fetch(ctx context.Context, sourceID, targetURL string) (*FetchedDocument, error) {
	s := f.state(sourceID)

	if err := f.waitTurn(ctx, s, sourceID); err != nil {
		return nil, err
	}

	doc, err := f.fetchOnce(s, targetURL, true)
	f.recordOutcome(s, sourceID, err)
	return doc, err
}

// waitTurn blocks until the source's token bucket and jittered min-delay both
// allow a request, or fails fast when suspended.
func (f *PoliteFetcher) waitTurn(ctx context.Context, s *sourceState, sourceID string) error {
	f.mu.Lock()
	if until := s.suspendedUntil; time.Now().Before(until) {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s until %s", ErrSourceSuspended, sourceID, until.Format(time.RFC3339))
	}
	wait := time.Until(s.lastFetch.Add(s.minDelay))
	if s.jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(s.jitter)))
	}
	f.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	s.lastFetch = time.Now()
	f.mu.Unlock()
	return nil
}

// fetchOnce runs one colly request. detectCharset transcodes legacy Korean
// encodings to UTF-8 and must stay off for binary attachment downloads.
func (f *PoliteFetcher) fetchOnce(s *sourceState, targetURL string, detectCharset bool) (*FetchedDocument, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", targetURL, err)
	}

	opts := []colly.CollectorOption{
		colly.UserAgent(f.userAgent),
		colly.AllowedDomains(parsed.Hostname()),
		colly.MaxBodySize(maxBodyBytes),
		colly.AllowURLRevisit(),
	}
	if detectCharset {
		opts = append(opts, colly.DetectCharset())
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(s.timeout)
	// colly skips robots.txt unless told otherwise
	c.IgnoreRobotsTxt = false
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", s.acceptLanguage)
	})

	var result *FetchedDocument
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode == http.StatusForbidden || r.StatusCode == http.StatusTooManyRequests) {
			fetchErr = &blockedError{statusCode: r.StatusCode, url: targetURL}
			return
		}
		fetchErr = err
	})

	if err := c.Visit(targetURL); err != nil {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return nil, fmt.Errorf("%w: %s", ErrDisallowedByRobots, targetURL)
		}
		// Visit surfaces HTTP error statuses as its own generic error; the
		// OnError callback has already mapped 403/429 to a blockedError.
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, err
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("no response received for %s", targetURL)
	}
	if isChallengePage(result) {
		return nil, fmt.Errorf("%w: %s", ErrChallengeWall, targetURL)
	}
	return result, nil
}

// recordOutcome updates the block counter. Enough consecutive 403/429s flip
// the source into a cooldown suspension; any success resets the counter.
func (f *PoliteFetcher) recordOutcome(s *sourceState, sourceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var be *blockedError
	switch {
	case err == nil:
		s.consecutiveBlocks = 0
	case errors.As(err, &be):
		s.consecutiveBlocks++
		if s.consecutiveBlocks >= s.suspendAfter {
			s.suspendedUntil = time.Now().Add(s.cooldown)
			s.consecutiveBlocks = 0
			log.Printf("[fetch] source %s suspended until %s after repeated HTTP %d",
				sourceID, s.suspendedUntil.Format(time.RFC3339), be.statusCode)
			if f.OnSuspend != nil {
				go f.OnSuspend(sourceID, s.suspendedUntil)
			}
		}
	}
}

// isChallengePage detects anti-bot interstitials on otherwise successful
// responses. These pages must never be parsed as announcement content.
func isChallengePage(doc *FetchedDocument) bool {
	if ct := strings.ToLower(doc.ContentType); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	raw, err := io.ReadAll(doc.Body)
	doc.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) > 64*1024 {
		return false
	}
	body := strings.ToLower(string(raw))
	markers := []string{
		"cf-challenge", "challenge-platform", "just a moment",
		"incapsula", "_incapsula_", "captcha",
		"비정상적인 접근", "자동입력 방지",
	}
	for _, m := range markers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// FetchBytes downloads an attachment on the same politeness budget as the
// source's page fetches: token bucket, min delay, robots rules, suspension,
// and 403/429 block accounting all apply.
func (f *PoliteFetcher) FetchBytes(ctx context.Context, sourceID, targetURL string) ([]byte, error) {
	s := f.state(sourceID)

	if err := f.waitTurn(ctx, s, sourceID); err != nil {
		return nil, err
	}

	doc, err := f.fetchOnce(s, targetURL, false)
	f.recordOutcome(s, sourceID, err)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()
	return io.ReadAll(io.LimitReader(doc.Body, maxBodyBytes))
}

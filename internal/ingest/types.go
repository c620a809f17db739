package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/ai"
)

// RawAnnouncement is the untrusted item a strategy pulls off a source before
// normalization and extraction.
type RawAnnouncement struct {
	Title         string
	BodyHTML      string
	ExternalID    string
	AgencyID      string
	SourceURL     string
	AttachmentURL string
	AnnouncedRaw  string
	DeadlineRaw   string
	Extra         map[string]string
}

// FetchedDocument is the raw result of one polite fetch.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
}

// Fetcher retrieves raw content from a URL, enforcing per-source politeness.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID, url string) (*FetchedDocument, error)
	FetchBytes(ctx context.Context, sourceID, url string) ([]byte, error)
}

// Sentinel errors the strategies and queue key their behavior on.
var (
	// ErrChallengeWall means the source served an anti-bot challenge page.
	// Retrying feeds the wall; the job goes straight to manual review.
	ErrChallengeWall = errors.New("challenge wall detected")

	// ErrSourceSuspended means this source tripped its block threshold and is
	// cooling down. Work for it fails fast until the suspension lapses.
	ErrSourceSuspended = errors.New("source suspended")

	// ErrDisallowedByRobots means robots.txt forbids the path. Hard failure,
	// never retried.
	ErrDisallowedByRobots = errors.New("disallowed by robots.txt")

	// ErrStructuralParse means the page fetched fine but no longer matches
	// the configured selectors. The source layout changed; retrying the same
	// selectors cannot help.
	ErrStructuralParse = errors.New("page structure does not match selectors")
)

// ErrorClass drives retry policy in the work queue.
type ErrorClass string

const (
	ClassTransient  ErrorClass = "transient"  // retry with backoff
	ClassBlocked    ErrorClass = "blocked"    // back off hard, suspend source
	ClassStructural ErrorClass = "structural" // no retry, operator attention
	ClassAmbiguity  ErrorClass = "ambiguity"  // data kept, flagged low confidence
	ClassQuota      ErrorClass = "quota"      // defer until budget refills
)

// blockedError wraps a status-code block (403/429) so the fetcher's caller
// can tell it from ordinary HTTP failures.
type blockedError struct {
	statusCode int
	url        string
}

func (e *blockedError) Error() string {
	return fmt.Sprintf("blocked with HTTP %d at %s", e.statusCode, e.url)
}

// Classify maps an error to its taxonomy class.
func Classify(err error) ErrorClass {
	var be *blockedError
	switch {
	case errors.As(err, &be), errors.Is(err, ErrSourceSuspended):
		return ClassBlocked
	case errors.Is(err, ErrChallengeWall),
		errors.Is(err, ErrDisallowedByRobots),
		errors.Is(err, ErrStructuralParse):
		return ClassStructural
	case errors.Is(err, ai.ErrBudgetExhausted):
		return ClassQuota
	}
	return ClassTransient
}

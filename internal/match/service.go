package match

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/cache"
	"github.com/paul828919/CONNECT-sub002/internal/db"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// OrgDirectory resolves organization profiles. Profiles are owned by the
// account service; this service only reads them.
type OrgDirectory interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.OrganizationProfile, error)
	ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ProgramStore is the slice of the storage layer the service needs.
type ProgramStore interface {
	ListProgramsWithProfiles(ctx context.Context, status models.ProgramStatus, agencyID string, limit int) ([]db.ProgramWithProfile, error)
	GetProgram(ctx context.Context, id uuid.UUID) (*models.FundingProgram, error)
	SaveMatchResult(ctx context.Context, m *models.MatchResult) error
	GetMatchResult(ctx context.Context, id uuid.UUID) (*models.MatchResult, error)
}

// Service computes and serves match results for organizations against the
// currently active programs.
type Service struct {
	store      ProgramStore
	directory  OrgDirectory
	cache      *cache.MatchCache
	cfg        Config
	thresholds Thresholds
	now        func() time.Time
}

func NewService(store ProgramStore, directory OrgDirectory, mc *cache.MatchCache) *Service {
	return &Service{
		store:      store,
		directory:  directory,
		cache:      mc,
		cfg:        DefaultConfig(),
		thresholds: DefaultThresholds(),
		now:        time.Now,
	}
}

// WithClock fixes the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Thresholds() Thresholds { return s.thresholds }

// ListOptions narrow and page a match listing.
type ListOptions struct {
	MinScore int        // 0 means the default listing threshold
	Since    *time.Time // only programs updated after this instant
	Limit    int
	Offset   int
}

// MatchView is one listing row: the score plus enough program context to
// render it without a second lookup.
type MatchView struct {
	Match        models.MatchResult `json:"match"`
	ProgramTitle string             `json:"program_title"`
	AgencyID     string             `json:"agency_id"`
	SourceURL    string             `json:"source_url"`
	DeadlineAt   *time.Time         `json:"deadline_at,omitempty"`
}

// Page is a score-ordered slice of a full listing.
type Page struct {
	Matches []MatchView `json:"matches"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// MatchesForOrg scores the organization against every active program and
// returns the rows above the threshold, highest score first. Results come
// from the cache when the cached copy is still for the program's current
// revision; everything else is recomputed and persisted.
func (s *Service) MatchesForOrg(ctx context.Context, orgID uuid.UUID, opts ListOptions) (*Page, error) {
	org, err := s.directory.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load organization %s: %w", orgID, err)
	}

	rows, err := s.store.ListProgramsWithProfiles(ctx, models.ProgramActive, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list active programs: %w", err)
	}

	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = s.thresholds.Listing
	}

	now := s.now()
	views := make([]MatchView, 0, len(rows))
	for _, row := range rows {
		if opts.Since != nil && !row.Program.UpdatedAt.After(*opts.Since) {
			continue
		}

		result := s.scoreOne(ctx, *org, row, now)
		if !result.GatePassed || result.Score < minScore {
			continue
		}
		views = append(views, MatchView{
			Match:        result,
			ProgramTitle: row.Program.Title,
			AgencyID:     row.Program.AgencyID,
			SourceURL:    row.Program.SourceURL,
			DeadlineAt:   row.Program.DeadlineAt,
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Match.Score != views[j].Match.Score {
			return views[i].Match.Score > views[j].Match.Score
		}
		di, dj := views[i].DeadlineAt, views[j].DeadlineAt
		switch {
		case di == nil && dj == nil:
			return views[i].Match.ProgramID.String() < views[j].Match.ProgramID.String()
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})

	total := len(views)
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &Page{Matches: views[offset:end], Total: total, Limit: limit, Offset: offset}, nil
}

// NewMatchesForOrg counts notification-worthy matches among programs updated
// after the cutoff. Used by the notifier after ingestion runs.
func (s *Service) NewMatchesForOrg(ctx context.Context, orgID uuid.UUID, since time.Time) (int, []MatchView, error) {
	page, err := s.MatchesForOrg(ctx, orgID, ListOptions{
		MinScore: s.thresholds.Notification,
		Since:    &since,
		Limit:    100,
	})
	if err != nil {
		return 0, nil, err
	}
	return page.Total, page.Matches, nil
}

func (s *Service) scoreOne(ctx context.Context, org models.OrganizationProfile, row db.ProgramWithProfile, now time.Time) models.MatchResult {
	if s.cache != nil {
		if hit, ok := s.cache.Get(org.ID, row.Program.ID); ok &&
			hit.ProgramUpdatedAt.Equal(row.Program.UpdatedAt) {
			return hit
		}
	}

	result := Score(org, row.Program, row.Profile, s.cfg, now)

	if s.cache != nil {
		s.cache.Put(result)
	}
	if err := s.store.SaveMatchResult(ctx, &result); err != nil {
		// Persistence is for analytics; the response does not depend on it.
		log.Printf("save match result org=%s program=%s: %v", org.ID, row.Program.ID, err)
	}
	return result
}

// Explanation is a persisted match with its factor breakdown and a
// human-readable narrative.
type Explanation struct {
	Match        models.MatchResult `json:"match"`
	ProgramTitle string             `json:"program_title"`
	Narrative    string             `json:"narrative"`
}

// Explain loads a persisted match result and renders the narrative for it.
func (s *Service) Explain(ctx context.Context, matchID uuid.UUID) (*Explanation, error) {
	m, err := s.store.GetMatchResult(ctx, matchID)
	if err != nil {
		return nil, err
	}
	title := "(program removed)"
	if p, err := s.store.GetProgram(ctx, m.ProgramID); err == nil {
		title = p.Title
	}
	return &Explanation{
		Match:        *m,
		ProgramTitle: title,
		Narrative:    Narrative(*m, title),
	}, nil
}

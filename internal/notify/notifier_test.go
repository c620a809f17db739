package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/cache"
	"github.com/paul828919/CONNECT-sub002/internal/db"
	"github.com/paul828919/CONNECT-sub002/internal/match"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

type captureSink struct {
	sent []Notification
}

func (c *captureSink) Deliver(_ context.Context, n Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

type stubStore struct {
	rows    []db.ProgramWithProfile
	results map[uuid.UUID]models.MatchResult
}

func (s *stubStore) ListProgramsWithProfiles(ctx context.Context, status models.ProgramStatus, agencyID string, limit int) ([]db.ProgramWithProfile, error) {
	return s.rows, nil
}

func (s *stubStore) GetProgram(ctx context.Context, id uuid.UUID) (*models.FundingProgram, error) {
	for _, row := range s.rows {
		if row.Program.ID == id {
			p := row.Program
			return &p, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *stubStore) SaveMatchResult(ctx context.Context, m *models.MatchResult) error {
	if s.results == nil {
		s.results = make(map[uuid.UUID]models.MatchResult)
	}
	s.results[m.ID] = *m
	return nil
}

func (s *stubStore) GetMatchResult(ctx context.Context, id uuid.UUID) (*models.MatchResult, error) {
	m, ok := s.results[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &m, nil
}

func (s *stubStore) ListProgramsClosingWithin(ctx context.Context, now time.Time, days int) ([]models.FundingProgram, error) {
	cutoff := now.AddDate(0, 0, days)
	var out []models.FundingProgram
	for _, row := range s.rows {
		d := row.Program.DeadlineAt
		if d != nil && d.After(now) && !d.After(cutoff) {
			out = append(out, row.Program)
		}
	}
	return out, nil
}

type stubDirectory struct {
	orgs map[uuid.UUID]models.OrganizationProfile
}

func (s *stubDirectory) GetOrganization(ctx context.Context, id uuid.UUID) (*models.OrganizationProfile, error) {
	org, ok := s.orgs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &org, nil
}

func (s *stubDirectory) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(s.orgs))
	for id := range s.orgs {
		ids = append(ids, id)
	}
	return ids, nil
}

func fixtureOrg() models.OrganizationProfile {
	return models.OrganizationProfile{
		ID:               uuid.New(),
		Name:             "테크노바",
		OrgType:          models.OrgSME,
		IndustrySector:   "ai",
		IndustryKeywords: []string{"machine learning"},
		TRL:              7,
		Employees:        24,
		FoundedAt:        time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC),
		Region:           "BUSAN",
		HasRnDExperience: true,
		Structure:        models.StructureCorporate,
	}
}

func fixtureRow(deadline, updatedAt time.Time) db.ProgramWithProfile {
	tier1 := models.Provenance{Source: models.SourceTier1, Confidence: models.ConfidenceHigh}
	min, max := 6, 8
	return db.ProgramWithProfile{
		Program: models.FundingProgram{
			ID:         uuid.New(),
			AgencyID:   "smtech",
			Title:      "중소기업 기술혁신개발사업",
			Status:     models.ProgramActive,
			DeadlineAt: &deadline,
			UpdatedAt:  updatedAt,
		},
		Profile: &models.EligibilityProfile{
			OrgTypes:         models.OrgTypeField{Values: []models.OrgType{models.OrgSME}, Provenance: tier1},
			TRL:              models.IntRangeField{Min: &min, Max: &max, Provenance: tier1},
			IndustryKeywords: models.StringListField{Values: []string{"machine learning"}, Provenance: tier1},
		},
	}
}

func fixtureNotifier(t *testing.T, store *stubStore, org models.OrganizationProfile, now time.Time) (*Notifier, *captureSink) {
	t.Helper()
	dir := &stubDirectory{orgs: map[uuid.UUID]models.OrganizationProfile{org.ID: org}}
	svc := match.NewService(store, dir, cache.New(cache.DefaultTTL)).WithClock(func() time.Time { return now })
	sink := &captureSink{}
	return NewNotifier(svc, dir, store, sink).WithClock(func() time.Time { return now }), sink
}

func TestAfterIngestionNotifiesOnlyWhenNewMatchesExist(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	org := fixtureOrg()

	store := &stubStore{rows: []db.ProgramWithProfile{
		fixtureRow(now.AddDate(0, 0, 20), now.Add(-time.Hour)),
	}}
	notifier, sink := fixtureNotifier(t, store, org, now)

	if err := notifier.AfterIngestion(context.Background(), now.Add(-6*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.sent))
	}
	n := sink.sent[0]
	if n.Kind != KindNewMatches || n.OrgID != org.ID || n.NewMatchCount != 1 {
		t.Fatalf("unexpected notification: %+v", n)
	}

	// A second run with a cutoff after the program's update stays silent.
	sink.sent = nil
	if err := notifier.AfterIngestion(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("expected silence, got %+v", sink.sent)
	}
}

func TestDeadlineSweepEmitsDaysRemaining(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	org := fixtureOrg()

	soon := fixtureRow(now.AddDate(0, 0, 3), now.Add(-time.Hour))
	far := fixtureRow(now.AddDate(0, 0, 30), now.Add(-time.Hour))
	store := &stubStore{rows: []db.ProgramWithProfile{soon, far}}
	notifier, sink := fixtureNotifier(t, store, org, now)

	if err := notifier.DeadlineSweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.sent))
	}
	n := sink.sent[0]
	if n.Kind != KindDeadlineApproaching || n.ProgramID != soon.Program.ID {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.DeadlineInDays != 3 {
		t.Fatalf("expected 3 days remaining, got %d", n.DeadlineInDays)
	}
}

func TestOpsAlertCarriesSourceAndStatus(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	notifier, sink := fixtureNotifier(t, &stubStore{}, fixtureOrg(), now)

	notifier.OpsAlert("btp", string(models.JobDeadLettered), "request timed out")

	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.sent))
	}
	n := sink.sent[0]
	if n.Kind != KindOpsAlert || n.SourceID != "btp" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

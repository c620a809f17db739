package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/events"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGetExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	c := New(24 * time.Hour).WithClock(fixedClock(now))

	result := models.MatchResult{
		OrganizationID: uuid.New(),
		ProgramID:      uuid.New(),
		Score:          72,
		GatePassed:     true,
	}
	c.Put(result)

	if got, ok := c.Get(result.OrganizationID, result.ProgramID); !ok || got.Score != 72 {
		t.Fatalf("fresh entry: ok=%v score=%d", ok, got.Score)
	}

	c.WithClock(fixedClock(now.Add(24*time.Hour + time.Second)))
	if _, ok := c.Get(result.OrganizationID, result.ProgramID); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestProfileUpdateEvictsOnlyThatOrg(t *testing.T) {
	hub := events.NewHub()
	c := New(24 * time.Hour)
	c.SubscribeTo(hub)

	orgA, orgB := uuid.New(), uuid.New()
	program := uuid.New()
	c.Put(models.MatchResult{OrganizationID: orgA, ProgramID: program, Score: 60, GatePassed: true})
	c.Put(models.MatchResult{OrganizationID: orgB, ProgramID: program, Score: 55, GatePassed: true})

	hub.Publish(events.Event{Kind: events.OrgProfileUpdated, OrgID: orgA})

	if _, ok := c.Get(orgA, program); ok {
		t.Error("updated org's entry still cached; next read must recompute")
	}
	if _, ok := c.Get(orgB, program); !ok {
		t.Error("unrelated org's entry was evicted")
	}
}

func TestProgramUpdateEvictsAcrossOrgs(t *testing.T) {
	hub := events.NewHub()
	c := New(24 * time.Hour)
	c.SubscribeTo(hub)

	program, other := uuid.New(), uuid.New()
	orgA, orgB := uuid.New(), uuid.New()
	c.Put(models.MatchResult{OrganizationID: orgA, ProgramID: program, Score: 60})
	c.Put(models.MatchResult{OrganizationID: orgB, ProgramID: program, Score: 50})
	c.Put(models.MatchResult{OrganizationID: orgA, ProgramID: other, Score: 45})

	hub.Publish(events.Event{Kind: events.ProgramUpdated, ProgramID: program})

	if c.Len() != 1 {
		t.Fatalf("cache has %d entries, want only the unrelated program's", c.Len())
	}
	if _, ok := c.Get(orgA, other); !ok {
		t.Error("unrelated program's entry was evicted")
	}
}

func TestBroadcastProgramUpdateFlushes(t *testing.T) {
	hub := events.NewHub()
	c := New(24 * time.Hour)
	c.SubscribeTo(hub)

	c.Put(models.MatchResult{OrganizationID: uuid.New(), ProgramID: uuid.New(), Score: 70})
	c.Put(models.MatchResult{OrganizationID: uuid.New(), ProgramID: uuid.New(), Score: 30})

	// an expire sweep publishes without a program id
	hub.Publish(events.Event{Kind: events.ProgramUpdated})

	if c.Len() != 0 {
		t.Errorf("cache has %d entries after broadcast invalidation, want 0", c.Len())
	}
}

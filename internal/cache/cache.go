// Package cache holds computed match results for their TTL. The policy is
// miss-over-stale: any doubt about freshness evicts, because scores are
// always recomputable from source data.
package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/events"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

const DefaultTTL = 24 * time.Hour

type key struct {
	orgID     uuid.UUID
	programID uuid.UUID
}

type entry struct {
	result    models.MatchResult
	expiresAt time.Time
}

// MatchCache is an in-process TTL cache for (organization, program) scores.
// Subscribing it to the event hub evicts entries the moment either side of
// the pair changes.
type MatchCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[key]entry
}

func New(ttl time.Duration) *MatchCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MatchCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[key]entry),
	}
}

// WithClock overrides the clock, for tests.
func (c *MatchCache) WithClock(now func() time.Time) *MatchCache {
	c.now = now
	return c
}

// SubscribeTo registers the cache's invalidation handler on the hub.
func (c *MatchCache) SubscribeTo(hub *events.Hub) {
	hub.Subscribe(c.handle)
}

func (c *MatchCache) handle(evt events.Event) {
	switch evt.Kind {
	case events.OrgProfileUpdated:
		c.InvalidateOrg(evt.OrgID)
	case events.ProgramUpdated:
		if evt.ProgramID == uuid.Nil {
			c.Flush()
			return
		}
		c.InvalidateProgram(evt.ProgramID)
	}
}

// Get returns a cached result if present and unexpired.
func (c *MatchCache) Get(orgID, programID uuid.UUID) (models.MatchResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key{orgID, programID}]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return models.MatchResult{}, false
	}
	return e.result, true
}

// Put stores a result for the TTL.
func (c *MatchCache) Put(result models.MatchResult) {
	c.mu.Lock()
	c.entries[key{result.OrganizationID, result.ProgramID}] = entry{
		result:    result,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// InvalidateOrg evicts every entry for an organization.
func (c *MatchCache) InvalidateOrg(orgID uuid.UUID) {
	c.mu.Lock()
	for k := range c.entries {
		if k.orgID == orgID {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// InvalidateProgram evicts every entry for a program.
func (c *MatchCache) InvalidateProgram(programID uuid.UUID) {
	c.mu.Lock()
	for k := range c.entries {
		if k.programID == programID {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Flush drops everything.
func (c *MatchCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[key]entry)
	c.mu.Unlock()
}

// Len reports the live entry count, counting expired entries still awaiting
// eviction.
func (c *MatchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

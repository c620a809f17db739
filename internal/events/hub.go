package events

import (
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	// OrgProfileUpdated is published when the external profile service
	// reports a change to an organization profile.
	OrgProfileUpdated Kind = "org_profile_updated"
	// ProgramUpdated is published when the change detector classifies a
	// fetched record as NEW or UPDATED and the pipeline persists it.
	ProgramUpdated Kind = "program_updated"
)

type Event struct {
	Kind      Kind
	OrgID     uuid.UUID
	ProgramID uuid.UUID
}

type Handler func(Event)

// Hub is a small in-process pub/sub for invalidation events. Delivery is
// synchronous: an invalidation must never be lost, so handlers are expected
// to be cheap (cache eviction is a map delete).
type Hub struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Subscribe(fn Handler) {
	h.mu.Lock()
	h.handlers = append(h.handlers, fn)
	h.mu.Unlock()
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	handlers := h.handlers
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

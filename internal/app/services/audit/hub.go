package audit

import (
	"sync"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
)

const subscriberBuffer = 32

// Hub is an in-process fan-out of audit events keyed by organization. Slow
// subscribers miss events rather than block publishers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan audit.Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan audit.Event)}
}

// Subscribe registers for one organization's events. The returned cancel
// function closes the channel and must be called exactly once.
func (h *Hub) Subscribe(orgID string) (<-chan audit.Event, func()) {
	ch := make(chan audit.Event, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[orgID] == nil {
		h.subs[orgID] = make(map[int]chan audit.Event)
	}
	h.subs[orgID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[orgID], id)
			if len(h.subs[orgID]) == 0 {
				delete(h.subs, orgID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to the organization's subscribers without blocking.
func (h *Hub) Publish(e audit.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[e.OrganizationID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers reports how many listeners an organization has.
func (h *Hub) Subscribers(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orgID])
}

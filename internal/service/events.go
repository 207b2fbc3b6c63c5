package service

import (
	"sync"

	"github.com/harmoni/backend/internal/domain"
)

// EntitlementChange announces a new payment status for a user.
type EntitlementChange struct {
	UserID        string               `json:"userId"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Plan          string               `json:"plan,omitempty"`
}

// EntitlementHub fans status changes out to subscribers of a user.
// Slow subscribers miss events rather than block publishers.
type EntitlementHub struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string]map[int]chan EntitlementChange
	watchers map[string]map[int]func(EntitlementChange)
}

func NewEntitlementHub() *EntitlementHub {
	return &EntitlementHub{
		subs:     make(map[string]map[int]chan EntitlementChange),
		watchers: make(map[string]map[int]func(EntitlementChange)),
	}
}

// Watch registers fn for changes to userID. fn runs on its own goroutine per
// published change, so an idle watcher costs no goroutine.
func (h *EntitlementHub) Watch(userID string, fn func(EntitlementChange)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.watchers[userID] == nil {
		h.watchers[userID] = make(map[int]func(EntitlementChange))
	}
	h.watchers[userID][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers[userID], id)
		if len(h.watchers[userID]) == 0 {
			delete(h.watchers, userID)
		}
	}
}

// Subscribe returns a channel of changes for userID and a cancel func that
// closes it.
func (h *EntitlementHub) Subscribe(userID string) (<-chan EntitlementChange, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan EntitlementChange, 4)
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan EntitlementChange)
	}
	h.subs[userID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(ch)
		})
	}
}

// Publish delivers change to every subscriber of change.UserID.
func (h *EntitlementHub) Publish(change EntitlementChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[change.UserID] {
		select {
		case ch <- change:
		default:
		}
	}
	for _, fn := range h.watchers[change.UserID] {
		go fn(change)
	}
}

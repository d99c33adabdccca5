package realtime

import (
	"context"
	"sync"

	"github.com/alexjbarnes/focus-sync/internal/document"
)

// Publisher announces a new record for an identity key.
type Publisher interface {
	Publish(ctx context.Context, key string, rec document.Record) error
}

// Hub fans records out to subscribers of the same identity key. A slow
// subscriber only ever holds the newest record: older undelivered ones
// are replaced, since each record is a complete document.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan document.Record]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan document.Record]struct{})}
}

// Subscribe registers interest in key. The returned function removes
// the subscription and is safe to call more than once.
func (h *Hub) Subscribe(key string) (<-chan document.Record, func()) {
	ch := make(chan document.Record, 1)

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan document.Record]struct{})
	}

	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs[key], ch)

			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
		})
	}
}

// Publish delivers rec to every current subscriber of key. It never
// blocks.
func (h *Hub) Publish(_ context.Context, key string, rec document.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[key] {
		select {
		case ch <- rec:
		default:
			// Replace the stale record with the newer one.
			select {
			case <-ch:
			default:
			}

			ch <- rec
		}
	}

	return nil
}

// Subscribers returns the number of subscribers of key.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[key])
}

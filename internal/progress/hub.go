package progress

import (
	"log/slog"
	"sync"

	"github.com/opickel/social-recipes/internal/domain"
)

// subscriberBuffer bounds how many undelivered events a subscriber may
// hold before further events are dropped for it.
const subscriberBuffer = 16

// Hub relays progress events from running pipelines to subscribers.
// Delivery is best-effort: events published with no subscriber are
// dropped, and a subscriber that falls behind loses events rather than
// blocking the publisher. A reconnecting client re-fetches current
// state from the store instead of replaying.
type Hub struct {
	mu        sync.Mutex
	byJob     map[string]map[chan domain.ProgressEvent]struct{}
	broadcast map[chan domain.ProgressEvent]struct{}
	logger    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		byJob:     make(map[string]map[chan domain.ProgressEvent]struct{}),
		broadcast: make(map[chan domain.ProgressEvent]struct{}),
		logger:    logger,
	}
}

// Publish delivers an event to the job's subscribers and to broadcast
// subscribers. Never blocks.
func (h *Hub) Publish(event domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.byJob[event.JobID] {
		h.send(ch, event)
	}
	for ch := range h.broadcast {
		h.send(ch, event)
	}
}

func (h *Hub) send(ch chan domain.ProgressEvent, event domain.ProgressEvent) {
	select {
	case ch <- event:
	default:
		h.logger.Debug("Dropping progress event for slow subscriber",
			slog.String("job_id", event.JobID),
			slog.String("stage", event.Stage),
		)
	}
}

// Subscribe registers an observer for one job's events. The returned
// cancel function must be called when the observer disconnects; it
// closes the channel.
func (h *Hub) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.byJob[jobID]
	if !ok {
		subs = make(map[chan domain.ProgressEvent]struct{})
		h.byJob[jobID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.byJob[jobID]; ok {
			if _, present := subs[ch]; present {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.byJob, jobID)
			}
		}
	}
	return ch, cancel
}

// SubscribeAll registers an observer for every job's events, for the
// job list view.
func (h *Hub) SubscribeAll() (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	h.broadcast[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, present := h.broadcast[ch]; present {
			delete(h.broadcast, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount reports how many observers a job currently has.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byJob[jobID])
}

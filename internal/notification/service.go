// Package notification fans committed pool events out to in-process
// subscribers such as the admin live ledger stream.
package notification

import (
	"context"
	"sync"
	"time"

	"pawpool/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a committed pool event.
type EventType string

const (
	EventDeposit         EventType = "pool.deposit"
	EventRelease         EventType = "pool.release"
	EventRefund          EventType = "pool.refund"
	EventReleasePending  EventType = "pool.release_pending"
	EventReleaseCanceled EventType = "pool.release_cancelled"
	EventPenalty         EventType = "pool.cancellation_penalty"
	EventForfeit         EventType = "pool.forfeit"
	EventFrozen          EventType = "pool.frozen"
	EventUnfrozen        EventType = "pool.unfrozen"
	EventDisputeOpened   EventType = "dispute.opened"
	EventDisputeReview   EventType = "dispute.under_review"
	EventDisputeResolved EventType = "dispute.resolved"
	EventDisputeDismiss  EventType = "dispute.dismissed"
)

// Event is a single committed change. Events are published only after the
// owning database transaction commits.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Type          EventType       `json:"type"`
	ContractID    *uuid.UUID      `json:"contract_id,omitempty"`
	PaymentID     *uuid.UUID      `json:"payment_id,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	DisputeID     *uuid.UUID      `json:"dispute_id,omitempty"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status,omitempty"`
	Data          map[string]any  `json:"data,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Publisher accepts committed events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Hub is an in-memory fan-out of events to subscribers. Slow subscribers
// lose events rather than block publishers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan Event
	buffer      int
	closed      bool
	logger      logger.Logger
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(log logger.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subscribers: make(map[uuid.UUID]chan Event),
		buffer:      buffer,
		logger:      log,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes its channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.New()
	h.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking.
func (h *Hub) Publish(_ context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			h.logger.Warn("Dropping event for slow subscriber", map[string]interface{}{
				"subscriber_id": id,
				"event_type":    e.Type,
			})
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber. Later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

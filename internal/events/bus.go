// Package events carries pipeline notifications between components and out
// to stream consumers. Each topic is typed; payloads are wire-ready DTOs so
// subscribers never reach back into domain packages.
package events

import (
	"sync"
	"time"
)

// SignalEvent is the broadcast form of an ingested signal or an outcome
// change.
type SignalEvent struct {
	SignalID      string    `json:"signal_id"`
	Instrument    string    `json:"instrument"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	StopLoss      float64   `json:"stop_loss"`
	Targets       []float64 `json:"targets"`
	ConfidencePct float64   `json:"confidence_pct"`
	Outcome       string    `json:"outcome_status"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrderEvent is emitted for every acknowledged placement.
type OrderEvent struct {
	OrderID       string  `json:"order_id"`
	SubscriberID  string  `json:"subscriber_id"`
	SignalID      string  `json:"signal_id"`
	BrokerID      string  `json:"broker_id"`
	BrokerOrderID string  `json:"broker_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Qty           float64 `json:"qty"`
	Price         float64 `json:"price"`
	Paper         bool    `json:"paper"`
	Status        string  `json:"status"`
}

// RejectionEvent records a placement the broker refused or lost.
type RejectionEvent struct {
	SubscriberID string `json:"subscriber_id"`
	SignalID     string `json:"signal_id"`
	Reason       string `json:"reason"`
}

// DenialEvent records a request stopped by plan policy.
type DenialEvent struct {
	SubscriberID string `json:"subscriber_id"`
	SignalID     string `json:"signal_id"`
	Code         string `json:"code"`
}

// SessionEvent marks a broker session dropped by the validation sweep.
type SessionEvent struct {
	SubscriberID string `json:"subscriber_id"`
	BrokerID     string `json:"broker_id"`
}

// Topic fans one event type out to its subscribers. Publish never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// pipeline.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs []chan T
}

// Subscribe registers a buffered listener and returns the channel with an
// unsubscribe function that also closes it.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, buffer)
	t.subs = append(t.subs, ch)

	unsub := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, c := range t.subs {
			if c == ch {
				close(c)
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish delivers ev to every subscriber with room in its buffer.
func (t *Topic[T]) Publish(ev T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current listener count.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Bus groups the process topics.
type Bus struct {
	Signals        *Topic[SignalEvent]
	Outcomes       *Topic[SignalEvent]
	Orders         *Topic[OrderEvent]
	Rejections     *Topic[RejectionEvent]
	Denials        *Topic[DenialEvent]
	SessionExpired *Topic[SessionEvent]
}

// NewBus creates a bus with all topics ready.
func NewBus() *Bus {
	return &Bus{
		Signals:        &Topic[SignalEvent]{},
		Outcomes:       &Topic[SignalEvent]{},
		Orders:         &Topic[OrderEvent]{},
		Rejections:     &Topic[RejectionEvent]{},
		Denials:        &Topic[DenialEvent]{},
		SessionExpired: &Topic[SessionEvent]{},
	}
}

// Package signalstore owns the ingested signal set: a bounded in-memory
// cache backed by an append-only durable log.
package signalstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/pkg/db"
)

const (
	// DefaultCacheSize bounds the in-memory cache.
	DefaultCacheSize = 50

	durableRetries    = 3
	durableRetryDelay = 100 * time.Millisecond
)

var (
	ErrSignalNotFound    = errors.New("signal not found")
	ErrInvalidTransition = errors.New("invalid outcome transition")
)

// DurableLog is the store's persistence collaborator.
type DurableLog interface {
	AppendSignal(ctx context.Context, s db.SignalRecord) error
	UpdateSignalOutcome(ctx context.Context, signalID, status string) error
}

// Store keeps the most recent signals in memory (newest first) and appends
// every ingested signal to the durable log. The cache write is synchronous
// and defines the response; the log write is async best-effort, so there is
// an accepted inconsistency window when the log is down.
type Store struct {
	mu       sync.RWMutex
	cache    []Signal // index 0 is newest
	capacity int

	logStore DurableLog
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	wg       sync.WaitGroup
}

// NewStore creates a store with the given cache capacity. A nil logStore
// disables durability (used by tests that only exercise the cache).
func NewStore(capacity int, logStore DurableLog, bus *events.Bus, metrics *monitor.SystemMetrics) *Store {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Store{
		capacity: capacity,
		logStore: logStore,
		bus:      bus,
		metrics:  metrics,
	}
}

// Ingest validates the payload, assigns server-side fields, writes the cache
// synchronously, and kicks off the durable append. Returns the stored signal.
func (s *Store) Ingest(ctx context.Context, raw RawSignal) (Signal, error) {
	if err := raw.Validate(); err != nil {
		return Signal{}, err
	}

	sig := Signal{
		ID:            uuid.NewString(),
		Instrument:    raw.Instrument,
		Symbol:        raw.Symbol,
		Side:          Side(strings.ToUpper(raw.Side)),
		EntryPrice:    raw.EntryPrice,
		StopLoss:      raw.StopLoss,
		Targets:       append([]float64(nil), raw.Targets...),
		ConfidencePct: raw.ConfidencePct,
		Outcome:       OutcomeOpen,
		CreatedAt:     time.Now(),
	}

	s.mu.Lock()
	s.cache = append([]Signal{sig}, s.cache...)
	if len(s.cache) > s.capacity {
		s.cache = s.cache[:s.capacity] // evict oldest
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncrementSignals()
	}
	if s.bus != nil {
		s.bus.Signals.Publish(signalEvent(sig))
	}

	if s.logStore != nil {
		s.wg.Add(1)
		go s.appendDurable(sig)
	}

	return sig, nil
}

func signalEvent(sig Signal) events.SignalEvent {
	return events.SignalEvent{
		SignalID:      sig.ID,
		Instrument:    sig.Instrument,
		Symbol:        sig.Symbol,
		Side:          string(sig.Side),
		EntryPrice:    sig.EntryPrice,
		StopLoss:      sig.StopLoss,
		Targets:       sig.Targets,
		ConfidencePct: sig.ConfidencePct,
		Outcome:       string(sig.Outcome),
		CreatedAt:     sig.CreatedAt,
	}
}

// appendDurable retries the log write a bounded number of times. Failure is
// logged and counted, never escalated to the producer.
func (s *Store) appendDurable(sig Signal) {
	defer s.wg.Done()

	rec := db.SignalRecord{
		SignalID:      sig.ID,
		Instrument:    sig.Instrument,
		Symbol:        sig.Symbol,
		Side:          string(sig.Side),
		EntryPrice:    sig.EntryPrice,
		StopLoss:      sig.StopLoss,
		Targets:       sig.Targets,
		ConfidencePct: sig.ConfidencePct,
		OutcomeStatus: string(sig.Outcome),
		CreatedAt:     sig.CreatedAt,
	}

	var lastErr error
	for attempt := 1; attempt <= durableRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		lastErr = s.logStore.AppendSignal(ctx, rec)
		cancel()
		if lastErr == nil {
			if s.metrics != nil {
				s.metrics.LogLatency.RecordDuration(time.Since(start))
			}
			return
		}
		time.Sleep(time.Duration(attempt) * durableRetryDelay)
	}

	log.Printf("[STORE] durable write failed for signal %s: %v", sig.ID, lastErr)
	if s.metrics != nil {
		s.metrics.IncrementDurableWriteFailures()
	}
}

// Flush waits for in-flight durable writes. Intended for shutdown and tests.
func (s *Store) Flush() {
	s.wg.Wait()
}

// ListToday returns a snapshot of the cache, most-recent-first. The read is
// idempotent and holds no cursor state.
func (s *Store) ListToday() []Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Signal, len(s.cache))
	copy(out, s.cache)
	return out
}

// Get returns the cached signal with the given id.
func (s *Store) Get(id string) (Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sig := range s.cache {
		if sig.ID == id {
			return sig, nil
		}
	}
	return Signal{}, ErrSignalNotFound
}

// Len returns the current cache size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// UpdateOutcome applies a forward-only outcome transition. Signals that were
// evicted from the cache are not mutable through this path even though they
// remain in the durable log.
func (s *Store) UpdateOutcome(ctx context.Context, id string, next Outcome) (Signal, error) {
	s.mu.Lock()
	idx := -1
	for i, sig := range s.cache {
		if sig.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return Signal{}, ErrSignalNotFound
	}
	current := s.cache[idx].Outcome
	if !CanTransition(current, next) {
		s.mu.Unlock()
		return Signal{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	s.cache[idx].Outcome = next
	updated := s.cache[idx]
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Outcomes.Publish(signalEvent(updated))
	}

	if s.logStore != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.logStore.UpdateSignalOutcome(dctx, id, string(next)); err != nil {
				log.Printf("[STORE] durable outcome update failed for %s: %v", id, err)
				if s.metrics != nil {
					s.metrics.IncrementDurableWriteFailures()
				}
			}
		}()
	}

	return updated, nil
}

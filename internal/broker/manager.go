package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-core/internal/events"
	"signal-core/pkg/cache"
)

// AdapterFactory builds a live adapter for a broker id. Injected so tests
// can substitute fakes.
type AdapterFactory func(brokerID string) Adapter

// Manager owns broker sessions per subscriber. Live sessions are long-lived
// and never shared across subscribers; each subscriber also gets a private
// paper book so simulated fills stay isolated.
type Manager struct {
	mu    sync.RWMutex
	live  map[string]Adapter // subscriberID -> live session
	paper map[string]*PaperAdapter

	factory       AdapterFactory
	paperCapital  float64
	prices        *cache.PriceCache
	checkInterval time.Duration
	bus           *events.Bus

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(factory AdapterFactory, paperCapital float64, prices *cache.PriceCache, checkInterval time.Duration, bus *events.Bus) *Manager {
	if prices == nil {
		prices = cache.NewPriceCache()
	}
	return &Manager{
		live:          make(map[string]Adapter),
		paper:         make(map[string]*PaperAdapter),
		factory:       factory,
		paperCapital:  paperCapital,
		prices:        prices,
		checkInterval: checkInterval,
		bus:           bus,
		stopCh:        make(chan struct{}),
	}
}

// Connect establishes (or replaces) the subscriber's live session.
// Credentials are passed through to the adapter and never retained here.
func (m *Manager) Connect(ctx context.Context, subscriberID string, auth AuthData) (Adapter, error) {
	adapter := m.factory(auth.BrokerID)
	if err := adapter.Connect(ctx, auth); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if prev, ok := m.live[subscriberID]; ok {
		prev.Disconnect()
	}
	m.live[subscriberID] = adapter
	m.mu.Unlock()

	return adapter, nil
}

// Live returns the subscriber's live session, or nil when none is connected.
func (m *Manager) Live(subscriberID string) Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[subscriberID]
}

// Paper returns the subscriber's paper adapter, creating and connecting it
// on first use. Paper sessions have no auth and cannot fail to connect.
func (m *Manager) Paper(subscriberID string) Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.paper[subscriberID]; ok {
		return p
	}
	p := NewPaperAdapter(m.paperCapital, m.prices)
	_ = p.Connect(context.Background(), AuthData{BrokerID: PaperBrokerID})
	m.paper[subscriberID] = p
	return p
}

// Disconnect tears down the subscriber's live session. Idempotent.
func (m *Manager) Disconnect(subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if adapter, ok := m.live[subscriberID]; ok {
		adapter.Disconnect()
		delete(m.live, subscriberID)
	}
}

// LiveCount returns the number of live sessions.
func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Start launches the periodic session validation loop. Sessions that fail
// validation are dropped; the subscriber must reconnect.
func (m *Manager) Start(ctx context.Context) {
	if m.checkInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.validateAll(ctx)
			}
		}
	}()
}

// Stop shuts down the validation loop and disconnects all live sessions.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, adapter := range m.live {
		adapter.Disconnect()
		delete(m.live, id)
	}
}

func (m *Manager) validateAll(ctx context.Context) {
	m.mu.RLock()
	snapshot := make(map[string]Adapter, len(m.live))
	for id, adapter := range m.live {
		snapshot[id] = adapter
	}
	m.mu.RUnlock()

	for subscriberID, adapter := range snapshot {
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := adapter.ValidateSession(vctx)
		cancel()
		if err == nil {
			continue
		}
		log.Printf("[BROKER] session for %s failed validation: %v", subscriberID, err)
		if adapter.Status() == StatusExpired {
			m.mu.Lock()
			if m.live[subscriberID] == adapter {
				delete(m.live, subscriberID)
			}
			m.mu.Unlock()
			if m.bus != nil {
				m.bus.SessionExpired.Publish(events.SessionEvent{
					SubscriberID: subscriberID,
					BrokerID:     adapter.BrokerID(),
				})
			}
		}
	}
}

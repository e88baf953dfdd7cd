package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall pipeline performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	APILatency   *LatencyHistogram
	OrderLatency *LatencyHistogram
	LogLatency   *LatencyHistogram

	// Counters
	signalsIngested      uint64
	durableWriteFailures uint64
	ordersPlaced         uint64
	policyDenials        uint64
	apiRequests          uint64
	apiErrors            uint64

	// Broker session stats (updated periodically from main).
	liveSessions int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window.
// Stats are computed lazily and cached until new samples arrive.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:   NewLatencyHistogram(1000),
		OrderLatency: NewLatencyHistogram(1000),
		LogLatency:   NewLatencyHistogram(1000),
		lastUpdate:   time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementSignals increments the ingested signals counter.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsIngested, 1)
}

// IncrementDurableWriteFailures counts durable log appends that exhausted retries.
// These are invisible to producers; this counter is the only place they surface.
func (m *SystemMetrics) IncrementDurableWriteFailures() {
	atomic.AddUint64(&m.durableWriteFailures, 1)
}

// IncrementOrders increments the placed orders counter.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersPlaced, 1)
}

// IncrementDenials increments the policy denial counter.
func (m *SystemMetrics) IncrementDenials() {
	atomic.AddUint64(&m.policyDenials, 1)
}

// IncrementAPI increments the API request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the API error counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// DurableWriteFailures returns the current failure count.
func (m *SystemMetrics) DurableWriteFailures() uint64 {
	return atomic.LoadUint64(&m.durableWriteFailures)
}

// MetricsSnapshot is a point-in-time view for the metrics endpoint.
type MetricsSnapshot struct {
	APILatency           LatencyStats `json:"api_latency"`
	OrderLatency         LatencyStats `json:"order_latency"`
	LogLatency           LatencyStats `json:"log_latency"`
	SignalsIngested      uint64       `json:"signals_ingested"`
	DurableWriteFailures uint64       `json:"durable_write_failures"`
	OrdersPlaced         uint64       `json:"orders_placed"`
	PolicyDenials        uint64       `json:"policy_denials"`
	APIRequests          uint64       `json:"api_requests"`
	APIErrors            uint64       `json:"api_errors"`
	LiveSessions         int          `json:"live_sessions"`
	GoroutineCount       int          `json:"goroutine_count"`
	HeapAlloc            uint64       `json:"heap_alloc_bytes"`
	Timestamp            time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	liveSessions := m.liveSessions
	m.mu.RUnlock()

	return MetricsSnapshot{
		APILatency:           m.APILatency.Stats(),
		OrderLatency:         m.OrderLatency.Stats(),
		LogLatency:           m.LogLatency.Stats(),
		SignalsIngested:      atomic.LoadUint64(&m.signalsIngested),
		DurableWriteFailures: atomic.LoadUint64(&m.durableWriteFailures),
		OrdersPlaced:         atomic.LoadUint64(&m.ordersPlaced),
		PolicyDenials:        atomic.LoadUint64(&m.policyDenials),
		APIRequests:          atomic.LoadUint64(&m.apiRequests),
		APIErrors:            atomic.LoadUint64(&m.apiErrors),
		LiveSessions:         liveSessions,
		GoroutineCount:       runtime.NumGoroutine(),
		HeapAlloc:            memStats.HeapAlloc,
		Timestamp:            time.Now(),
	}
}

// SetLiveSessions updates the live broker session count.
func (m *SystemMetrics) SetLiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveSessions = n
}

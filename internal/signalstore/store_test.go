package signalstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"signal-core/pkg/db"
)

// fakeLog records durable writes in memory and can be told to fail.
type fakeLog struct {
	mu       sync.Mutex
	appends  []db.SignalRecord
	updates  map[string]string
	failNext int
}

func newFakeLog() *fakeLog {
	return &fakeLog{updates: make(map[string]string)}
}

func (f *fakeLog) AppendSignal(_ context.Context, rec db.SignalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("log unavailable")
	}
	f.appends = append(f.appends, rec)
	return nil
}

func (f *fakeLog) UpdateSignalOutcome(_ context.Context, signalID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[signalID] = status
	return nil
}

func (f *fakeLog) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appends)
}

func validRaw(symbol string) RawSignal {
	return RawSignal{
		Instrument:    "EQUITY",
		Symbol:        symbol,
		Side:          "BUY",
		EntryPrice:    100,
		StopLoss:      98,
		Targets:       []float64{102, 104, 106},
		ConfidencePct: 80,
	}
}

func mustIngest(t *testing.T, s *Store, raw RawSignal) Signal {
	t.Helper()
	sig, err := s.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatalf("Ingest(%s): %v", raw.Symbol, err)
	}
	return sig
}

func TestIngestAssignsServerFields(t *testing.T) {
	s := NewStore(10, nil, nil, nil)
	sig := mustIngest(t, s, validRaw("RELIANCE"))

	if sig.ID == "" {
		t.Error("expected a server-assigned id")
	}
	if sig.Outcome != OutcomeOpen {
		t.Errorf("outcome = %s, want OPEN", sig.Outcome)
	}
	if sig.CreatedAt.IsZero() {
		t.Error("expected a server-assigned timestamp")
	}
}

func TestIngestRejectsMalformed(t *testing.T) {
	s := NewStore(10, nil, nil, nil)
	cases := []struct {
		name string
		mod  func(*RawSignal)
	}{
		{"missing symbol", func(r *RawSignal) { r.Symbol = "" }},
		{"missing instrument", func(r *RawSignal) { r.Instrument = "" }},
		{"bad side", func(r *RawSignal) { r.Side = "HOLD" }},
		{"zero entry", func(r *RawSignal) { r.EntryPrice = 0 }},
		{"negative stop", func(r *RawSignal) { r.StopLoss = -1 }},
		{"confidence over 100", func(r *RawSignal) { r.ConfidencePct = 101 }},
		{"four targets", func(r *RawSignal) { r.Targets = []float64{101, 102, 103, 104} }},
		{"buy target below entry", func(r *RawSignal) { r.Targets = []float64{99} }},
		{"targets out of order", func(r *RawSignal) { r.Targets = []float64{104, 102} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw("TCS")
			tc.mod(&raw)
			if _, err := s.Ingest(context.Background(), raw); !errors.Is(err, ErrMalformedSignal) {
				t.Errorf("err = %v, want ErrMalformedSignal", err)
			}
		})
	}
	if s.Len() != 0 {
		t.Errorf("cache size = %d after rejected payloads, want 0", s.Len())
	}
}

func TestSellTargetsDescend(t *testing.T) {
	s := NewStore(10, nil, nil, nil)
	raw := validRaw("INFY")
	raw.Side = "SELL"
	raw.Targets = []float64{98.5, 97, 95}
	raw.StopLoss = 102
	if _, err := s.Ingest(context.Background(), raw); err != nil {
		t.Fatalf("descending sell targets rejected: %v", err)
	}
}

func TestCacheEvictsOldestBeyondCapacity(t *testing.T) {
	s := NewStore(5, nil, nil, nil)
	var ids []string
	for i := 0; i < 8; i++ {
		sig := mustIngest(t, s, validRaw(fmt.Sprintf("SYM%d", i)))
		ids = append(ids, sig.ID)
	}

	if s.Len() != 5 {
		t.Fatalf("cache size = %d, want 5", s.Len())
	}
	list := s.ListToday()
	if list[0].Symbol != "SYM7" {
		t.Errorf("newest = %s, want SYM7", list[0].Symbol)
	}
	if list[4].Symbol != "SYM3" {
		t.Errorf("oldest retained = %s, want SYM3", list[4].Symbol)
	}
	// The first three ingested are gone from the cache.
	for _, id := range ids[:3] {
		if _, err := s.Get(id); !errors.Is(err, ErrSignalNotFound) {
			t.Errorf("Get(evicted) err = %v, want ErrSignalNotFound", err)
		}
	}
}

func TestDurableLogReceivesEverySignal(t *testing.T) {
	logStore := newFakeLog()
	s := NewStore(5, logStore, nil, nil)
	for i := 0; i < 20; i++ {
		mustIngest(t, s, validRaw(fmt.Sprintf("SYM%d", i)))
	}
	s.Flush()

	if got := logStore.appendCount(); got != 20 {
		t.Errorf("durable appends = %d, want 20 (eviction must not drop log entries)", got)
	}
	if s.Len() != 5 {
		t.Errorf("cache size = %d, want 5", s.Len())
	}
}

func TestDurableFailureDoesNotAffectIngest(t *testing.T) {
	logStore := newFakeLog()
	logStore.failNext = 100 // exhaust every retry
	s := NewStore(5, logStore, nil, nil)

	sig := mustIngest(t, s, validRaw("NIFTY"))
	s.Flush()

	if _, err := s.Get(sig.ID); err != nil {
		t.Errorf("signal missing from cache after log failure: %v", err)
	}
}

func TestDurableRetrySucceedsAfterTransientFailure(t *testing.T) {
	logStore := newFakeLog()
	logStore.failNext = 2 // first two attempts fail, third succeeds
	s := NewStore(5, logStore, nil, nil)

	mustIngest(t, s, validRaw("BANKNIFTY"))
	s.Flush()

	if got := logStore.appendCount(); got != 1 {
		t.Errorf("durable appends = %d, want 1 after retries", got)
	}
}

func TestConcurrentIngest(t *testing.T) {
	logStore := newFakeLog()
	s := NewStore(50, logStore, nil, nil)

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := s.Ingest(context.Background(), validRaw(fmt.Sprintf("P%dS%d", p, i))); err != nil {
					t.Errorf("Ingest: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()
	s.Flush()

	if s.Len() != 50 {
		t.Errorf("cache size = %d, want 50", s.Len())
	}
	if got := logStore.appendCount(); got != 100 {
		t.Errorf("durable appends = %d, want 100", got)
	}
}

func TestOutcomeTransitions(t *testing.T) {
	cases := []struct {
		from, to Outcome
		ok       bool
	}{
		{OutcomeOpen, OutcomeT1, true},
		{OutcomeT1, OutcomeT2, true},
		{OutcomeT2, OutcomeT3, true},
		{OutcomeOpen, OutcomeSLHit, true},
		{OutcomeOpen, OutcomeT2, false},
		{OutcomeOpen, OutcomeT3, false},
		{OutcomeT1, OutcomeOpen, false},
		{OutcomeT2, OutcomeT1, false},
		{OutcomeT1, OutcomeSLHit, false},
		{OutcomeSLHit, OutcomeT1, false},
		{OutcomeT3, OutcomeT1, false},
		{OutcomeT1, OutcomeT1, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestUpdateOutcome(t *testing.T) {
	logStore := newFakeLog()
	s := NewStore(10, logStore, nil, nil)
	sig := mustIngest(t, s, validRaw("HDFC"))

	updated, err := s.UpdateOutcome(context.Background(), sig.ID, OutcomeT1)
	if err != nil {
		t.Fatalf("UpdateOutcome: %v", err)
	}
	if updated.Outcome != OutcomeT1 {
		t.Errorf("outcome = %s, want T1", updated.Outcome)
	}

	// Skipping a level is rejected and the stored outcome is untouched.
	if _, err := s.UpdateOutcome(context.Background(), sig.ID, OutcomeT3); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("skip err = %v, want ErrInvalidTransition", err)
	}
	got, _ := s.Get(sig.ID)
	if got.Outcome != OutcomeT1 {
		t.Errorf("outcome after rejected skip = %s, want T1", got.Outcome)
	}

	if _, err := s.UpdateOutcome(context.Background(), "no-such-id", OutcomeT1); !errors.Is(err, ErrSignalNotFound) {
		t.Errorf("unknown id err = %v, want ErrSignalNotFound", err)
	}

	s.Flush()
	logStore.mu.Lock()
	defer logStore.mu.Unlock()
	if logStore.updates[sig.ID] != "T1" {
		t.Errorf("durable outcome = %q, want T1", logStore.updates[sig.ID])
	}
}

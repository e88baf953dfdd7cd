package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"signal-core/internal/broker"
	"signal-core/internal/policy"
	"signal-core/internal/signalstore"
	"signal-core/pkg/db"
)

// countingAdapter records placements so tests can assert a denied request
// never reaches the broker.
type countingAdapter struct {
	calls atomic.Int64
	err   error
}

func (a *countingAdapter) Connect(context.Context, broker.AuthData) error { return nil }
func (a *countingAdapter) ValidateSession(context.Context) error          { return nil }
func (a *countingAdapter) PlaceOrder(context.Context, broker.OrderRequest) (string, error) {
	n := a.calls.Add(1)
	if a.err != nil {
		return "", a.err
	}
	return fmt.Sprintf("LIVE-%d", n), nil
}
func (a *countingAdapter) GetPositions(context.Context) ([]broker.Position, error) { return nil, nil }
func (a *countingAdapter) Disconnect()                                             {}
func (a *countingAdapter) Status() broker.SessionStatus                            { return broker.StatusConnected }
func (a *countingAdapter) BrokerID() string                                        { return "fake-live" }

type fixture struct {
	router  *Router
	store   *signalstore.Store
	adapter *countingAdapter
	signal  signalstore.Signal
}

// newFixture wires a router around one cached signal and a fake live
// session for sub-live.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	plans, err := policy.LoadRegistry("")
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	store := signalstore.NewStore(50, nil, nil, nil)
	sig, err := store.Ingest(context.Background(), signalstore.RawSignal{
		Instrument:    "EQUITY",
		Symbol:        "RELIANCE",
		Side:          "BUY",
		EntryPrice:    100,
		StopLoss:      97,
		Targets:       []float64{104},
		ConfidencePct: 75,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	adapter := &countingAdapter{}
	sessions := broker.NewManager(func(string) broker.Adapter { return adapter }, 100000, nil, 0, nil)
	if _, err := sessions.Connect(context.Background(), "sub-live", broker.AuthData{BrokerID: "fake-live"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	r := New(plans, policy.NewDayCounter(nil), sessions, store, nil, nil, nil, true)
	return &fixture{router: r, store: store, adapter: adapter, signal: sig}
}

func subscriber(id, plan string, capital float64) db.Subscriber {
	return db.Subscriber{ID: id, Email: id + "@example.com", PlanID: plan, Capital: capital}
}

func TestRouteDenialNeverReachesBroker(t *testing.T) {
	f := newFixture(t)
	sub := subscriber("sub-live", "PRO", 100000)

	// 1000 * 3 / 100000 = 0.03 exceeds PRO's 0.01 cap.
	order, denial, err := f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 1000, Live: true,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if denial == nil || denial.Code != string(policy.DenyRiskLimitExceeded) {
		t.Fatalf("denial = %+v, want RISK_LIMIT_EXCEEDED", denial)
	}
	if order.ID != "" {
		t.Errorf("denied request produced order %+v", order)
	}
	if got := f.adapter.calls.Load(); got != 0 {
		t.Errorf("broker calls = %d, want 0 for a denied request", got)
	}
}

func TestRouteLiveNotEntitled(t *testing.T) {
	f := newFixture(t)
	sub := subscriber("sub-basic", "BASIC", 100000)

	_, denial, err := f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 10, Live: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if denial == nil || denial.Code != string(policy.DenyLiveNotEntitled) {
		t.Fatalf("denial = %+v, want LIVE_NOT_ENTITLED", denial)
	}
}

func TestRoutePaperFallbackWithoutLiveSession(t *testing.T) {
	f := newFixture(t)
	// PRO subscriber with no connected live session asks for live: the
	// order lands on the paper book instead of failing.
	sub := subscriber("sub-no-session", "PRO", 100000)

	order, denial, err := f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 10, Live: true,
	})
	if err != nil || denial != nil {
		t.Fatalf("Route: order=%+v denial=%+v err=%v", order, denial, err)
	}
	if !order.Paper || order.BrokerID != broker.PaperBrokerID {
		t.Errorf("order = %+v, want paper placement", order)
	}
	if order.Status != "FILLED" {
		t.Errorf("paper order status = %s, want FILLED", order.Status)
	}
	if f.adapter.calls.Load() != 0 {
		t.Errorf("live adapter called %d times for a paper fallback", f.adapter.calls.Load())
	}
}

func TestRouteLivePlacement(t *testing.T) {
	f := newFixture(t)
	sub := subscriber("sub-live", "PRO", 100000)

	order, denial, err := f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 10, Live: true,
	})
	if err != nil || denial != nil {
		t.Fatalf("Route: denial=%+v err=%v", denial, err)
	}
	if order.Paper || order.BrokerID != "fake-live" {
		t.Errorf("order = %+v, want live placement", order)
	}
	if order.Status != "PLACED" {
		t.Errorf("live order status = %s, want PLACED", order.Status)
	}
	if order.Side != "BUY" {
		t.Errorf("side = %s, want signal side BUY", order.Side)
	}
	if order.Price != 100 {
		t.Errorf("price = %v, want signal entry 100", order.Price)
	}
}

func TestRouteSignalNotFound(t *testing.T) {
	f := newFixture(t)
	_, denial, err := f.router.Route(context.Background(), subscriber("s", "PRO", 100000), Request{
		SignalID: "missing", Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if denial == nil || denial.Code != CodeSignalNotFound {
		t.Fatalf("denial = %+v, want NOT_FOUND", denial)
	}
}

func TestRouteUnknownPlan(t *testing.T) {
	f := newFixture(t)
	_, denial, err := f.router.Route(context.Background(), subscriber("s", "PLATINUM", 100000), Request{
		SignalID: f.signal.ID, Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if denial == nil || denial.Code != CodeUnknownPlan {
		t.Fatalf("denial = %+v, want UNKNOWN_PLAN", denial)
	}
}

func TestRouteExecutionDisabled(t *testing.T) {
	f := newFixture(t)
	f.router.ExecutionEnabled = false
	_, denial, err := f.router.Route(context.Background(), subscriber("s", "PRO", 100000), Request{
		SignalID: f.signal.ID, Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if denial == nil || denial.Code != CodeExecutionDisabled {
		t.Fatalf("denial = %+v, want EXECUTION_DISABLED", denial)
	}
}

func TestRouteBrokerErrorsBecomeDenials(t *testing.T) {
	f := newFixture(t)
	sub := subscriber("sub-live", "PRO", 100000)

	f.adapter.err = broker.ErrBrokerTimeout
	_, denial, err := f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 10, Live: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if denial == nil || denial.Code != CodeBrokerTimeout {
		t.Fatalf("denial = %+v, want BROKER_TIMEOUT", denial)
	}
	// A failed placement never consumes the daily slot.
	f.adapter.err = nil
	_, denial, err = f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 10, Live: true,
	})
	if err != nil || denial != nil {
		t.Fatalf("follow-up placement: denial=%+v err=%v", denial, err)
	}
}

func TestRoutePaperCapitalExhausted(t *testing.T) {
	f := newFixture(t)
	// Rebuild sessions with a tiny paper wallet so a policy-clean order
	// still fails at the broker.
	f.router.Sessions = broker.NewManager(nil, 500, nil, 0, nil)
	sub := subscriber("sub-small-wallet", "PRO", 100000)

	// Risk passes (10 * 3 / 100000) but notional 10*100 exceeds 500 cash.
	order, denial, err := f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 10,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if denial == nil || denial.Code != CodeInsufficientFunds {
		t.Fatalf("denial = %+v, want INSUFFICIENT_FUNDS", denial)
	}
	if order.ID != "" {
		t.Errorf("rejected request produced order %+v", order)
	}

	// An affordable order on the same wallet succeeds.
	order, denial, err = f.router.Route(context.Background(), sub, Request{
		SignalID: f.signal.ID, Quantity: 4,
	})
	if err != nil || denial != nil {
		t.Fatalf("affordable order: denial=%+v err=%v", denial, err)
	}
	if order.Status != "FILLED" {
		t.Errorf("status = %s, want FILLED", order.Status)
	}
}

func TestDailyLimitUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	sub := subscriber("sub-live", "PRO", 100000) // 20 trades/day

	const attempts = 40
	var wg sync.WaitGroup
	var placed, limited atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, denial, err := f.router.Route(context.Background(), sub, Request{
				SignalID: f.signal.ID, Quantity: 10, Live: true,
			})
			if err != nil {
				t.Errorf("Route: %v", err)
				return
			}
			switch {
			case denial == nil:
				placed.Add(1)
			case denial.Code == string(policy.DenyDailyLimitReached):
				limited.Add(1)
			default:
				t.Errorf("unexpected denial %+v", denial)
			}
		}()
	}
	wg.Wait()

	if placed.Load() != 20 {
		t.Errorf("placed = %d, want exactly 20 (the plan's daily limit)", placed.Load())
	}
	if limited.Load() != attempts-20 {
		t.Errorf("limited = %d, want %d", limited.Load(), attempts-20)
	}
	if f.adapter.calls.Load() != 20 {
		t.Errorf("broker calls = %d, want 20", f.adapter.calls.Load())
	}
}

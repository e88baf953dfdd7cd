package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return d
}

func sampleSignal(id string) SignalRecord {
	return SignalRecord{
		SignalID:      id,
		Instrument:    "EQUITY",
		Symbol:        "RELIANCE",
		Side:          "BUY",
		EntryPrice:    2500,
		StopLoss:      2450,
		Targets:       []float64{2550, 2600},
		ConfidencePct: 80,
		OutcomeStatus: "OPEN",
		CreatedAt:     time.Now().UTC(),
	}
}

func TestSignalAppendAndOutcome(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	if err := d.AppendSignal(ctx, sampleSignal("sig-1")); err != nil {
		t.Fatalf("AppendSignal: %v", err)
	}
	if err := d.AppendSignal(ctx, sampleSignal("sig-2")); err != nil {
		t.Fatalf("AppendSignal: %v", err)
	}
	n, err := d.CountSignals(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CountSignals = %d, %v; want 2", n, err)
	}

	if err := d.UpdateSignalOutcome(ctx, "sig-1", "T1"); err != nil {
		t.Errorf("UpdateSignalOutcome: %v", err)
	}
	if err := d.UpdateSignalOutcome(ctx, "no-such", "T1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestAppendSignalDuplicateIDRejected(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	if err := d.AppendSignal(ctx, sampleSignal("sig-1")); err != nil {
		t.Fatal(err)
	}
	if err := d.AppendSignal(ctx, sampleSignal("sig-1")); err == nil {
		t.Error("duplicate signal_id accepted")
	}
}

func TestSubscriberRoundTrip(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	sub := Subscriber{
		ID:           "sub-1",
		Email:        "trader@example.com",
		PasswordHash: "$2a$10$fake",
		PlanID:       "BASIC",
		Capital:      100000,
	}
	if err := d.CreateSubscriber(ctx, sub); err != nil {
		t.Fatalf("CreateSubscriber: %v", err)
	}

	got, err := d.GetSubscriberByEmail(ctx, "trader@example.com")
	if err != nil {
		t.Fatalf("GetSubscriberByEmail: %v", err)
	}
	if got == nil || got.ID != "sub-1" || got.PlanID != "BASIC" || got.Capital != 100000 {
		t.Errorf("subscriber = %+v", got)
	}

	if got, err := d.GetSubscriberByEmail(ctx, "nobody@example.com"); err != nil || got != nil {
		t.Errorf("missing email: got=%+v err=%v, want nil, nil", got, err)
	}

	// Email is unique.
	if err := d.CreateSubscriber(ctx, sub); err == nil {
		t.Error("duplicate email accepted")
	}
}

func TestBrokerLinkLifecycle(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	if err := d.UpsertBrokerLink(ctx, BrokerLink{ID: "lnk-1", SubscriberID: "sub-1", BrokerID: "zerodha"}); err != nil {
		t.Fatalf("UpsertBrokerLink: %v", err)
	}
	link, err := d.GetActiveBrokerLink(ctx, "sub-1")
	if err != nil || link == nil || link.BrokerID != "zerodha" {
		t.Fatalf("active link = %+v, err=%v", link, err)
	}

	if err := d.DeactivateBrokerLinks(ctx, "sub-1"); err != nil {
		t.Fatalf("DeactivateBrokerLinks: %v", err)
	}
	link, err = d.GetActiveBrokerLink(ctx, "sub-1")
	if err != nil || link != nil {
		t.Errorf("after deactivate = %+v, err=%v; want nil", link, err)
	}

	if err := d.UpsertBrokerLink(ctx, BrokerLink{ID: "lnk-1", BrokerID: "zerodha"}); !errors.Is(err, ErrSubscriberIDRequired) {
		t.Errorf("missing subscriber id err = %v", err)
	}
}

func TestOrdersBySubscriberAndDayCount(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"ord-1", "ord-2"} {
		o := Order{
			ID:            id,
			SubscriberID:  "sub-1",
			SignalID:      "sig-1",
			BrokerID:      "paper",
			BrokerOrderID: "PAPER-x",
			Symbol:        "RELIANCE",
			Side:          "BUY",
			Qty:           10,
			Price:         2500,
			Product:       "INTRADAY",
			Paper:         true,
			Status:        "FILLED",
			CreatedAt:     now.Add(time.Duration(i) * time.Minute),
		}
		if err := d.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder(%s): %v", id, err)
		}
	}
	// A different subscriber's order must stay invisible.
	other := Order{ID: "ord-3", SubscriberID: "sub-2", SignalID: "sig-1", BrokerID: "paper",
		Symbol: "TCS", Side: "SELL", Qty: 1, Price: 3000, Paper: true, Status: "FILLED", CreatedAt: now}
	if err := d.CreateOrder(ctx, other); err != nil {
		t.Fatal(err)
	}

	orders, err := d.GetOrdersBySubscriber(ctx, "sub-1", 10)
	if err != nil {
		t.Fatalf("GetOrdersBySubscriber: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	if orders[0].ID != "ord-2" {
		t.Errorf("newest first: got %s", orders[0].ID)
	}

	day := now.Format("2006-01-02")
	n, err := d.CountOrdersForDay(ctx, "sub-1", day)
	if err != nil || n != 2 {
		t.Errorf("CountOrdersForDay = %d, %v; want 2", n, err)
	}
	n, err = d.CountOrdersForDay(ctx, "sub-2", day)
	if err != nil || n != 1 {
		t.Errorf("CountOrdersForDay(sub-2) = %d, %v; want 1", n, err)
	}

	if _, err := d.GetOrdersBySubscriber(ctx, "", 10); !errors.Is(err, ErrSubscriberIDRequired) {
		t.Errorf("missing subscriber id err = %v", err)
	}
}

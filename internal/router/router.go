// Package router applies plan policy to execution requests and dispatches
// allowed orders through a broker adapter. It is the only path that can
// place an order.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/broker"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/policy"
	"signal-core/internal/signalstore"
	"signal-core/pkg/db"
)

// Denial codes beyond the policy package's own reasons.
const (
	CodeSignalNotFound    = "NOT_FOUND"
	CodeUnknownPlan       = "UNKNOWN_PLAN"
	CodeSessionNotReady   = "SESSION_NOT_READY"
	CodeBrokerTimeout     = "BROKER_TIMEOUT"
	CodeExecutionDisabled = "EXECUTION_DISABLED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
)

// Request describes what the subscriber asked to execute.
type Request struct {
	SignalID string  `json:"signal_id"`
	Action   string  `json:"action"` // BUY/SELL; empty means follow the signal side
	Quantity float64 `json:"quantity"`
	Product  string  `json:"product"`
	Live     bool    `json:"live"`
}

// Denial is a structured rejection carried back to the caller. It is a
// terminal outcome for the attempt, not a system fault.
type Denial struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Router wires policy evaluation to broker dispatch.
type Router struct {
	Plans    *policy.Registry
	Days     *policy.DayCounter
	Sessions *broker.Manager
	Store    *signalstore.Store
	DB       *db.Database
	Bus      *events.Bus
	Metrics  *monitor.SystemMetrics

	ExecutionEnabled bool

	// Per-subscriber serialization of evaluate + place + increment, so two
	// concurrent requests cannot both take the last daily slot.
	subMu sync.Mutex
	subs  map[string]*sync.Mutex
}

// New creates a router.
func New(plans *policy.Registry, days *policy.DayCounter, sessions *broker.Manager, store *signalstore.Store, database *db.Database, bus *events.Bus, metrics *monitor.SystemMetrics, executionEnabled bool) *Router {
	return &Router{
		Plans:            plans,
		Days:             days,
		Sessions:         sessions,
		Store:            store,
		DB:               database,
		Bus:              bus,
		Metrics:          metrics,
		ExecutionEnabled: executionEnabled,
		subs:             make(map[string]*sync.Mutex),
	}
}

func (r *Router) lockFor(subscriberID string) *sync.Mutex {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	mu, ok := r.subs[subscriberID]
	if !ok {
		mu = &sync.Mutex{}
		r.subs[subscriberID] = mu
	}
	return mu
}

// Route resolves the subscriber's plan, evaluates the intent, and on Allow
// places the order through the selected adapter. On Deny the denial reason
// is returned without contacting any broker.
func (r *Router) Route(ctx context.Context, sub db.Subscriber, req Request) (db.Order, *Denial, error) {
	if !r.ExecutionEnabled {
		return db.Order{}, &Denial{Code: CodeExecutionDisabled, Reason: "execution is disabled on this deployment"}, nil
	}

	sig, err := r.Store.Get(req.SignalID)
	if err != nil {
		if errors.Is(err, signalstore.ErrSignalNotFound) {
			return db.Order{}, &Denial{Code: CodeSignalNotFound, Reason: "signal not in the active cache"}, nil
		}
		return db.Order{}, nil, err
	}

	plan, err := r.Plans.Resolve(sub.PlanID)
	if err != nil {
		if errors.Is(err, policy.ErrUnknownPlan) {
			return db.Order{}, &Denial{Code: CodeUnknownPlan, Reason: fmt.Sprintf("plan %s is not configured", sub.PlanID)}, nil
		}
		return db.Order{}, nil, err
	}

	side := strings.ToUpper(req.Action)
	if side == "" {
		side = string(sig.Side)
	}
	intent := policy.TradeIntent{
		Instrument: sig.Instrument,
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   req.Quantity,
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		Product:    req.Product,
		Live:       req.Live,
	}

	mu := r.lockFor(sub.ID)
	mu.Lock()
	defer mu.Unlock()

	day := r.Days.State(ctx, sub.ID)
	decision := policy.Evaluate(plan, intent, day, sub.Capital)
	if !decision.Allowed {
		if r.Metrics != nil {
			r.Metrics.IncrementDenials()
		}
		if r.Bus != nil {
			r.Bus.Denials.Publish(events.DenialEvent{
				SubscriberID: sub.ID,
				SignalID:     sig.ID,
				Code:         string(decision.Reason),
			})
		}
		return db.Order{}, &Denial{Code: string(decision.Reason), Reason: denialText(decision.Reason)}, nil
	}

	adapter, paper := r.selectAdapter(sub.ID, plan, req.Live)

	start := time.Now()
	brokerOrderID, err := adapter.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: req.Quantity,
		Price:    sig.EntryPrice,
		Product:  req.Product,
	})
	if r.Metrics != nil {
		r.Metrics.OrderLatency.RecordDuration(time.Since(start))
	}
	if err != nil {
		if r.Bus != nil {
			r.Bus.Rejections.Publish(events.RejectionEvent{
				SubscriberID: sub.ID,
				SignalID:     sig.ID,
				Reason:       err.Error(),
			})
		}
		switch {
		case errors.Is(err, broker.ErrSessionNotReady):
			return db.Order{}, &Denial{Code: CodeSessionNotReady, Reason: "broker session not connected"}, nil
		case errors.Is(err, broker.ErrBrokerTimeout):
			return db.Order{}, &Denial{Code: CodeBrokerTimeout, Reason: "broker did not acknowledge in time"}, nil
		case errors.Is(err, broker.ErrInsufficientCapital):
			return db.Order{}, &Denial{Code: CodeInsufficientFunds, Reason: "insufficient paper capital"}, nil
		}
		return db.Order{}, nil, fmt.Errorf("place order: %w", err)
	}

	// The daily slot is consumed only by an acknowledged placement.
	r.Days.Increment(sub.ID)
	if r.Metrics != nil {
		r.Metrics.IncrementOrders()
	}

	status := "PLACED"
	if paper {
		status = "FILLED" // paper fills at the requested price immediately
	}
	order := db.Order{
		ID:            uuid.NewString(),
		SubscriberID:  sub.ID,
		SignalID:      sig.ID,
		BrokerID:      adapter.BrokerID(),
		BrokerOrderID: brokerOrderID,
		Symbol:        sig.Symbol,
		Side:          side,
		Qty:           req.Quantity,
		Price:         sig.EntryPrice,
		Product:       req.Product,
		Paper:         paper,
		Status:        status,
		CreatedAt:     time.Now(),
	}
	if r.DB != nil {
		if err := r.DB.CreateOrder(ctx, order); err != nil {
			log.Printf("[ROUTER] persist order %s failed: %v", order.ID, err)
		}
	}
	if r.Bus != nil {
		r.Bus.Orders.Publish(events.OrderEvent{
			OrderID:       order.ID,
			SubscriberID:  order.SubscriberID,
			SignalID:      order.SignalID,
			BrokerID:      order.BrokerID,
			BrokerOrderID: order.BrokerOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Qty:           order.Qty,
			Price:         order.Price,
			Paper:         order.Paper,
			Status:        order.Status,
		})
	}

	return order, nil, nil
}

// selectAdapter picks the live session when the subscriber asked for live
// execution, the plan allows it, and a session is connected; the paper
// variant covers every other case.
func (r *Router) selectAdapter(subscriberID string, plan policy.Plan, live bool) (broker.Adapter, bool) {
	if live && plan.ExecutionMode == policy.ModeLive {
		if session := r.Sessions.Live(subscriberID); session != nil {
			return session, false
		}
	}
	return r.Sessions.Paper(subscriberID), true
}

func denialText(reason policy.DenyReason) string {
	switch reason {
	case policy.DenyLiveNotEntitled:
		return "plan does not include live execution"
	case policy.DenyInstrumentNotEntitled:
		return "instrument not covered by plan"
	case policy.DenyDailyLimitReached:
		return "daily trade limit reached"
	case policy.DenyRiskLimitExceeded:
		return "trade risk exceeds plan cap"
	default:
		return string(reason)
	}
}

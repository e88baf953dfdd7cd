package broker

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"signal-core/pkg/cache"
)

// PaperBrokerID identifies the simulated backend.
const PaperBrokerID = "paper"

// PaperAdapter simulates execution with no real capital movement. It never
// touches a network: order ids are generated locally and every order fills
// at the requested price, debiting a cash ledger seeded from the configured
// initial capital.
type PaperAdapter struct {
	mu     sync.Mutex
	status SessionStatus
	cash   float64
	book   map[string]*Position
	prices *cache.PriceCache
	fills  []PaperFill
}

// PaperFill records one simulated execution.
type PaperFill struct {
	OrderID  string
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
}

// NewPaperAdapter creates a disconnected paper adapter. prices may be shared
// across adapters so fills mark positions everywhere; nil allocates a
// private cache.
func NewPaperAdapter(initialCapital float64, prices *cache.PriceCache) *PaperAdapter {
	if prices == nil {
		prices = cache.NewPriceCache()
	}
	return &PaperAdapter{
		status: StatusDisconnected,
		cash:   initialCapital,
		book:   make(map[string]*Position),
		prices: prices,
	}
}

// Connect always succeeds; there is no backend to reach.
func (p *PaperAdapter) Connect(ctx context.Context, auth AuthData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusConnected
	return nil
}

// ValidateSession reports session health without side effects.
func (p *PaperAdapter) ValidateSession(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusConnected {
		return ErrSessionNotReady
	}
	return nil
}

// PlaceOrder fills immediately at the requested price.
func (p *PaperAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusConnected {
		return "", ErrSessionNotReady
	}
	if req.Quantity <= 0 || req.Price <= 0 {
		return "", fmt.Errorf("paper: invalid order: qty=%.4f price=%.4f", req.Quantity, req.Price)
	}

	notional := req.Quantity * req.Price
	buying := !strings.EqualFold(req.Side, "SELL")
	if buying && notional > p.cash {
		return "", fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCapital, notional, p.cash)
	}

	orderID := "PAPER-" + uuid.NewString()
	p.applyFill(req)
	if buying {
		p.cash -= notional
	} else {
		p.cash += notional
	}
	p.prices.Set(req.Symbol, req.Price)
	p.fills = append(p.fills, PaperFill{
		OrderID:  orderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
	})

	log.Printf("[PAPER] %s %s qty=%.4f price=%.4f", req.Side, req.Symbol, req.Quantity, req.Price)
	return orderID, nil
}

func (p *PaperAdapter) applyFill(req OrderRequest) {
	signedQty := req.Quantity
	if strings.EqualFold(req.Side, "SELL") {
		signedQty = -signedQty
	}

	pos, ok := p.book[req.Symbol]
	if !ok {
		p.book[req.Symbol] = &Position{
			Symbol:       req.Symbol,
			Side:         sideFromQty(signedQty),
			Quantity:     signedQty,
			AveragePrice: req.Price,
			Product:      req.Product,
		}
		return
	}

	prevQty := pos.Quantity
	newQty := prevQty + signedQty
	switch {
	case newQty == 0:
		delete(p.book, req.Symbol)
	case prevQty >= 0 == (signedQty >= 0):
		// Adding to the position: blend the average.
		pos.AveragePrice = (math.Abs(prevQty)*pos.AveragePrice + req.Quantity*req.Price) / math.Abs(newQty)
		pos.Quantity = newQty
	default:
		pos.Quantity = newQty
		pos.Side = sideFromQty(newQty)
		if prevQty >= 0 != (newQty >= 0) {
			// Flipped through zero; remaining lot entered at this fill.
			pos.AveragePrice = req.Price
		}
	}
}

// GetPositions returns the simulated book with last-price marks and PnL.
func (p *PaperAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusConnected {
		return nil, ErrSessionNotReady
	}

	out := make([]Position, 0, len(p.book))
	for _, pos := range p.book {
		snap := *pos
		if last, ok := p.prices.Get(pos.Symbol); ok {
			snap.LastPrice = last
		} else {
			snap.LastPrice = pos.AveragePrice
		}
		snap.PnL = (snap.LastPrice - snap.AveragePrice) * snap.Quantity
		out = append(out, snap)
	}
	return out, nil
}

// Disconnect is idempotent and always lands in DISCONNECTED.
func (p *PaperAdapter) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusDisconnected
}

// Status returns the current session status.
func (p *PaperAdapter) Status() SessionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// BrokerID identifies the paper backend.
func (p *PaperAdapter) BrokerID() string {
	return PaperBrokerID
}

// Cash returns the remaining simulated buying power.
func (p *PaperAdapter) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Fills returns a copy of the simulated executions, oldest first.
func (p *PaperAdapter) Fills() []PaperFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperFill(nil), p.fills...)
}

func sideFromQty(qty float64) string {
	if qty < 0 {
		return "SELL"
	}
	return "BUY"
}

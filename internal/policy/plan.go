// Package policy holds the plan enumeration and the pure entitlement checks
// run before any order reaches a broker.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ExecutionMode gates live order flow per plan.
type ExecutionMode string

const (
	ModePaperOnly ExecutionMode = "PAPER_ONLY"
	ModeLive      ExecutionMode = "LIVE"
)

// WildcardInstrument entitles a plan to every instrument.
const WildcardInstrument = "all"

// Plan is a named policy tier. Plans are immutable once loaded.
type Plan struct {
	ID                  string        `yaml:"id"`
	MaxTradesPerDay     int           `yaml:"max_trades_per_day"` // <= 0 means unbounded
	MaxRiskPerTrade     float64       `yaml:"max_risk_per_trade"` // fraction of capital; 0 disables live risk
	AllowedInstruments  []string      `yaml:"allowed_instruments"`
	PaperTradingAllowed bool          `yaml:"paper_trading_allowed"`
	ExecutionMode       ExecutionMode `yaml:"execution_mode"`
}

// AllowsInstrument reports whether the plan covers an instrument.
func (p Plan) AllowsInstrument(instrument string) bool {
	for _, allowed := range p.AllowedInstruments {
		if allowed == WildcardInstrument || allowed == instrument {
			return true
		}
	}
	return false
}

// ErrUnknownPlan is returned when a plan id is not in the enumeration.
var ErrUnknownPlan = errors.New("unknown plan")

// Registry is the finite plan enumeration, loaded once at process start.
type Registry struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewRegistry builds a registry from a plan list. Later entries with the
// same id override earlier ones, which lets a YAML file refine defaults.
func NewRegistry(plans []Plan) (*Registry, error) {
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan with empty id")
		}
		switch p.ExecutionMode {
		case ModePaperOnly, ModeLive:
		default:
			return nil, fmt.Errorf("plan %s: invalid execution_mode %q", p.ID, p.ExecutionMode)
		}
		m[strings.ToUpper(p.ID)] = p
	}
	return &Registry{plans: m}, nil
}

// Resolve returns the plan with the given id.
func (r *Registry) Resolve(planID string) (Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[strings.ToUpper(planID)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	return p, nil
}

// IDs returns the known plan ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plans))
	for id := range r.plans {
		ids = append(ids, id)
	}
	return ids
}

// DefaultPlans is the compiled-in enumeration used when no plans file
// overrides it.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:                  "BASIC",
			MaxTradesPerDay:     5,
			MaxRiskPerTrade:     0.0025,
			AllowedInstruments:  []string{"EQUITY"},
			PaperTradingAllowed: true,
			ExecutionMode:       ModePaperOnly,
		},
		{
			ID:                  "PRO",
			MaxTradesPerDay:     20,
			MaxRiskPerTrade:     0.01,
			AllowedInstruments:  []string{"EQUITY", "FUTURES"},
			PaperTradingAllowed: true,
			ExecutionMode:       ModeLive,
		},
		{
			ID:                  "ELITE",
			MaxTradesPerDay:     0, // unbounded
			MaxRiskPerTrade:     0.02,
			AllowedInstruments:  []string{WildcardInstrument},
			PaperTradingAllowed: true,
			ExecutionMode:       ModeLive,
		},
	}
}

package signalstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Side denotes signal direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Outcome tracks how a signal played out. Transitions are forward-only:
// OPEN -> T1 -> T2 -> T3, or OPEN -> SL_HIT (terminal).
type Outcome string

const (
	OutcomeOpen  Outcome = "OPEN"
	OutcomeT1    Outcome = "T1"
	OutcomeT2    Outcome = "T2"
	OutcomeT3    Outcome = "T3"
	OutcomeSLHit Outcome = "SL_HIT"
)

var outcomeRank = map[Outcome]int{
	OutcomeOpen: 0,
	OutcomeT1:   1,
	OutcomeT2:   2,
	OutcomeT3:   3,
}

// CanTransition reports whether moving from -> to is a single forward step.
func CanTransition(from, to Outcome) bool {
	if to == OutcomeSLHit {
		return from == OutcomeOpen
	}
	fromRank, okFrom := outcomeRank[from]
	toRank, okTo := outcomeRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank == fromRank+1
}

// Signal is a trade observation. Immutable after ingestion except Outcome.
type Signal struct {
	ID            string    `json:"signal_id"`
	Instrument    string    `json:"instrument"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	StopLoss      float64   `json:"stop_loss"`
	Targets       []float64 `json:"targets"`
	ConfidencePct float64   `json:"confidence_pct"`
	Outcome       Outcome   `json:"outcome_status"`
	CreatedAt     time.Time `json:"created_at"`
}

// RawSignal is the producer payload before server-side fields are assigned.
type RawSignal struct {
	Instrument    string    `json:"instrument"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	StopLoss      float64   `json:"stop_loss"`
	Targets       []float64 `json:"targets"`
	ConfidencePct float64   `json:"confidence_pct"`
}

// ErrMalformedSignal wraps all payload validation failures.
var ErrMalformedSignal = errors.New("malformed signal payload")

// Validate checks a raw payload. Targets must be a sequence of up to three
// levels ordered away from entry in the direction of the trade.
func (r RawSignal) Validate() error {
	if r.Instrument == "" || r.Symbol == "" {
		return fmt.Errorf("%w: instrument and symbol are required", ErrMalformedSignal)
	}
	side := Side(strings.ToUpper(r.Side))
	if side != SideBuy && side != SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrMalformedSignal)
	}
	if r.EntryPrice <= 0 || r.StopLoss <= 0 {
		return fmt.Errorf("%w: entry_price and stop_loss must be positive", ErrMalformedSignal)
	}
	if r.ConfidencePct < 0 || r.ConfidencePct > 100 {
		return fmt.Errorf("%w: confidence_pct out of range", ErrMalformedSignal)
	}
	if len(r.Targets) > 3 {
		return fmt.Errorf("%w: at most 3 targets", ErrMalformedSignal)
	}
	prev := r.EntryPrice
	for i, t := range r.Targets {
		if side == SideBuy && t <= prev {
			return fmt.Errorf("%w: target %d not ascending from entry", ErrMalformedSignal, i+1)
		}
		if side == SideSell && t >= prev {
			return fmt.Errorf("%w: target %d not descending from entry", ErrMalformedSignal, i+1)
		}
		prev = t
	}
	return nil
}

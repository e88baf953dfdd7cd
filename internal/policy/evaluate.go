package policy

import (
	"math"
)

// DenyReason is the machine-readable code carried back to the caller.
type DenyReason string

const (
	DenyLiveNotEntitled       DenyReason = "LIVE_NOT_ENTITLED"
	DenyInstrumentNotEntitled DenyReason = "INSTRUMENT_NOT_ENTITLED"
	DenyDailyLimitReached     DenyReason = "DAILY_LIMIT_REACHED"
	DenyRiskLimitExceeded     DenyReason = "RISK_LIMIT_EXCEEDED"
)

// TradeIntent describes the order a subscriber wants placed against a signal.
type TradeIntent struct {
	Instrument string
	Symbol     string
	Side       string
	Quantity   float64
	EntryPrice float64
	StopLoss   float64
	Product    string
	Live       bool // caller requested live execution
}

// DayState is the subscriber's trade count for the current trading day.
type DayState struct {
	Date   string
	Trades int
}

// Decision is the evaluation result.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Risk    float64 // computed risk fraction, for telemetry
}

// RiskFraction computes the portion of capital exposed by the stop distance:
// quantity * |entry - stop| / capital. Zero capital means the fraction is
// unbounded and any positive risk cap will deny.
func RiskFraction(intent TradeIntent, capital float64) float64 {
	exposure := intent.Quantity * math.Abs(intent.EntryPrice-intent.StopLoss)
	if capital <= 0 {
		if exposure > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return exposure / capital
}

// Evaluate runs the ordered entitlement checks; the first failing check wins.
// It is a pure function of (plan, intent, day state, capital) with no side
// effects, and must run before any broker dispatch.
func Evaluate(plan Plan, intent TradeIntent, day DayState, capital float64) Decision {
	if intent.Live && plan.ExecutionMode == ModePaperOnly {
		return Decision{Allowed: false, Reason: DenyLiveNotEntitled}
	}

	if !plan.AllowsInstrument(intent.Instrument) {
		return Decision{Allowed: false, Reason: DenyInstrumentNotEntitled}
	}

	if plan.MaxTradesPerDay > 0 && day.Trades >= plan.MaxTradesPerDay {
		return Decision{Allowed: false, Reason: DenyDailyLimitReached}
	}

	risk := RiskFraction(intent, capital)
	if risk > plan.MaxRiskPerTrade {
		return Decision{Allowed: false, Reason: DenyRiskLimitExceeded, Risk: risk}
	}

	return Decision{Allowed: true, Risk: risk}
}

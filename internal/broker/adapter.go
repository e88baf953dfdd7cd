// Package broker abstracts execution backends behind a uniform session and
// order capability set.
package broker

import (
	"context"
	"errors"
)

// SessionStatus is the session state machine:
// DISCONNECTED -> CONNECTING -> CONNECTED -> CONNECTED | EXPIRED.
type SessionStatus string

const (
	StatusDisconnected SessionStatus = "DISCONNECTED"
	StatusConnecting   SessionStatus = "CONNECTING"
	StatusConnected    SessionStatus = "CONNECTED"
	StatusExpired      SessionStatus = "EXPIRED"
)

var (
	// ErrSessionNotReady is returned by any call that requires CONNECTED.
	// The call has no side effect; the caller must re-establish the session.
	ErrSessionNotReady = errors.New("broker session not ready")

	// ErrBrokerTimeout is a failed placement, never silently retried for
	// write operations.
	ErrBrokerTimeout = errors.New("broker call timed out")

	// ErrInsufficientCapital rejects a paper buy whose notional exceeds the
	// remaining simulated cash. Nothing is filled.
	ErrInsufficientCapital = errors.New("insufficient paper capital")
)

// AuthData carries opaque session credentials. They are held in process
// memory for the session lifetime and never persisted.
type AuthData struct {
	BrokerID  string
	APIKey    string
	APISecret string
}

// OrderRequest captures one placement intent.
type OrderRequest struct {
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	Product  string
}

// Position is a live projection of the broker's book for the session.
type Position struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
	PnL          float64 `json:"pnl"`
	Product      string  `json:"product"`
}

// Adapter is the capability set every execution backend exposes. Variants
// must behave identically from the caller's perspective; callers never learn
// which backend they are talking to except through BrokerID.
type Adapter interface {
	Connect(ctx context.Context, auth AuthData) error
	ValidateSession(ctx context.Context) error
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	GetPositions(ctx context.Context) ([]Position, error)
	Disconnect()
	Status() SessionStatus
	BrokerID() string
}

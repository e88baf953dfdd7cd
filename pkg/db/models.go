package db

import (
	"time"
)

// SignalRecord is the durable form of an ingested signal.
// Targets are flattened to three nullable columns; unused slots stay zero.
type SignalRecord struct {
	SignalID      string
	Instrument    string
	Symbol        string
	Side          string
	EntryPrice    float64
	StopLoss      float64
	Targets       []float64
	ConfidencePct float64
	OutcomeStatus string
	CreatedAt     time.Time
}

// Subscriber represents an application subscriber and its entitlement.
type Subscriber struct {
	ID           string
	Email        string
	PasswordHash string
	PlanID       string
	Capital      float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BrokerLink records which broker a subscriber has connected.
// Credentials are never stored; they live only in the session's memory.
type BrokerLink struct {
	ID           string
	SubscriberID string
	BrokerID     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Order is the immutable record of one placement attempt.
type Order struct {
	ID            string
	SubscriberID  string
	SignalID      string
	BrokerID      string
	BrokerOrderID string
	Symbol        string
	Side          string
	Qty           float64
	Price         float64
	Product       string
	Paper         bool
	Status        string
	CreatedAt     time.Time
}

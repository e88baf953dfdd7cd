package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrSubscriberIDRequired = errors.New("subscriber_id is required for data isolation")
	ErrNotFound             = errors.New("record not found")
)

func targetAt(targets []float64, i int) any {
	if i < len(targets) {
		return targets[i]
	}
	return nil
}

// AppendSignal inserts a durable signal row. The signals table is
// append-only except for outcome_status.
func (d *Database) AppendSignal(ctx context.Context, s SignalRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (
			signal_id, instrument, symbol, side, entry_price, stop_loss,
			target1, target2, target3, confidence_pct, outcome_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		s.SignalID, s.Instrument, s.Symbol, s.Side, s.EntryPrice, s.StopLoss,
		targetAt(s.Targets, 0), targetAt(s.Targets, 1), targetAt(s.Targets, 2),
		s.ConfidencePct, s.OutcomeStatus, s.CreatedAt,
	)
	return err
}

// UpdateSignalOutcome mutates the only mutable column of a signal row.
func (d *Database) UpdateSignalOutcome(ctx context.Context, signalID, status string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals SET outcome_status = ? WHERE signal_id = ?
	`, status, signalID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSignals returns the total number of durable signal rows.
func (d *Database) CountSignals(ctx context.Context) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&n)
	return n, err
}

// CreateSubscriber inserts a new subscriber row.
func (d *Database) CreateSubscriber(ctx context.Context, s Subscriber) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO subscribers (id, email, password_hash, plan_id, capital, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`, s.ID, s.Email, s.PasswordHash, s.PlanID, s.Capital, s.CreatedAt)
	return err
}

// GetSubscriberByEmail returns the subscriber with the given email, or nil.
func (d *Database) GetSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, plan_id, capital, created_at, updated_at
		FROM subscribers WHERE email = ?
	`, email)
	return scanSubscriber(row)
}

// GetSubscriberByID returns the subscriber with the given id, or nil.
func (d *Database) GetSubscriberByID(ctx context.Context, id string) (*Subscriber, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, plan_id, capital, created_at, updated_at
		FROM subscribers WHERE id = ?
	`, id)
	return scanSubscriber(row)
}

func scanSubscriber(row *sql.Row) (*Subscriber, error) {
	var s Subscriber
	err := row.Scan(&s.ID, &s.Email, &s.PasswordHash, &s.PlanID, &s.Capital, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	return &s, nil
}

// UpsertBrokerLink activates a broker link for a subscriber, replacing any
// previous link for the same broker.
func (d *Database) UpsertBrokerLink(ctx context.Context, l BrokerLink) error {
	if l.SubscriberID == "" {
		return ErrSubscriberIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO broker_links (id, subscriber_id, broker_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			is_active = 1,
			updated_at = CURRENT_TIMESTAMP
	`, l.ID, l.SubscriberID, l.BrokerID)
	return err
}

// DeactivateBrokerLinks marks all links for a subscriber inactive.
func (d *Database) DeactivateBrokerLinks(ctx context.Context, subscriberID string) error {
	if subscriberID == "" {
		return ErrSubscriberIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		UPDATE broker_links SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE subscriber_id = ?
	`, subscriberID)
	return err
}

// GetActiveBrokerLink returns the subscriber's active broker link, or nil.
func (d *Database) GetActiveBrokerLink(ctx context.Context, subscriberID string) (*BrokerLink, error) {
	if subscriberID == "" {
		return nil, ErrSubscriberIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, subscriber_id, broker_id, is_active, created_at, updated_at
		FROM broker_links
		WHERE subscriber_id = ? AND is_active = 1
		LIMIT 1
	`, subscriberID)

	var l BrokerLink
	err := row.Scan(&l.ID, &l.SubscriberID, &l.BrokerID, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan broker link: %w", err)
	}
	return &l, nil
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	if o.SubscriberID == "" {
		return ErrSubscriberIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, subscriber_id, signal_id, broker_id, broker_order_id,
			symbol, side, qty, price, product, paper, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ID, o.SubscriberID, o.SignalID, o.BrokerID, o.BrokerOrderID,
		o.Symbol, o.Side, o.Qty, o.Price, o.Product, o.Paper, o.Status, o.CreatedAt,
	)
	return err
}

// GetOrdersBySubscriber returns recent orders for a subscriber, newest first.
func (d *Database) GetOrdersBySubscriber(ctx context.Context, subscriberID string, limit int) ([]Order, error) {
	if subscriberID == "" {
		return nil, ErrSubscriberIDRequired
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, subscriber_id, signal_id, broker_id, broker_order_id,
		       symbol, side, qty, price, COALESCE(product, ''), paper, status, created_at
		FROM orders
		WHERE subscriber_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, subscriberID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.SubscriberID, &o.SignalID, &o.BrokerID, &o.BrokerOrderID,
			&o.Symbol, &o.Side, &o.Qty, &o.Price, &o.Product, &o.Paper, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountOrdersForDay counts orders a subscriber placed on a trading day
// (used to seed daily counters after restart).
func (d *Database) CountOrdersForDay(ctx context.Context, subscriberID, day string) (int, error) {
	if subscriberID == "" {
		return 0, ErrSubscriberIDRequired
	}
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE subscriber_id = ? AND DATE(created_at) = ?
	`, subscriberID, day).Scan(&n)
	return n, err
}

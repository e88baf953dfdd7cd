package policy

import (
	"context"
	"sync"
	"time"
)

// tradingDay formats t as the trading-day boundary key.
func tradingDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// DaySeeder restores a subscriber's trade count after a restart.
type DaySeeder interface {
	CountOrdersForDay(ctx context.Context, subscriberID, day string) (int, error)
}

// DayCounter owns per-subscriber daily trade counts. Counts roll over at the
// trading-day boundary, checked lazily on access. The counter is an explicit
// handle passed to the router rather than process-wide state.
type DayCounter struct {
	mu     sync.Mutex
	counts map[string]DayState
	seeder DaySeeder
	now    func() time.Time
}

// NewDayCounter creates a counter. seeder may be nil.
func NewDayCounter(seeder DaySeeder) *DayCounter {
	return &DayCounter{
		counts: make(map[string]DayState),
		seeder: seeder,
		now:    time.Now,
	}
}

// State returns the subscriber's count for the current trading day, seeding
// from the durable store the first time a subscriber is seen today.
func (c *DayCounter) State(ctx context.Context, subscriberID string) DayState {
	today := tradingDay(c.now())

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.counts[subscriberID]
	if ok && st.Date == today {
		return st
	}

	st = DayState{Date: today}
	if c.seeder != nil {
		if n, err := c.seeder.CountOrdersForDay(ctx, subscriberID, today); err == nil {
			st.Trades = n
		}
	}
	c.counts[subscriberID] = st
	return st
}

// Increment records one placed trade for the subscriber's current day.
func (c *DayCounter) Increment(subscriberID string) {
	today := tradingDay(c.now())

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.counts[subscriberID]
	if st.Date != today {
		st = DayState{Date: today}
	}
	st.Trades++
	c.counts[subscriberID] = st
}

package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultDailyLimit is the shared number of model requests allowed per UTC day
	DefaultDailyLimit = 20
	// DefaultStoreTimeout bounds a single ledger operation
	DefaultStoreTimeout = 5 * time.Second
)

// Admission is the outcome of a successful Admit
type Admission struct {
	Date      string
	Count     int
	Limit     int
	Remaining int
}

// Guard enforces the daily request ceiling on top of a Store
type Guard struct {
	store   Store
	limit   int
	timeout time.Duration
}

// NewGuard creates a Guard. Non-positive limit or timeout fall back to the defaults.
func NewGuard(store Store, dailyLimit int, storeTimeout time.Duration) *Guard {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Guard{
		store:   store,
		limit:   dailyLimit,
		timeout: storeTimeout,
	}
}

// Limit returns the configured daily ceiling
func (g *Guard) Limit() int {
	return g.limit
}

// Admit consumes one request from the budget of date and reports whether the
// request may proceed. The increment happens before the comparison, so
// rejected requests are still counted in the ledger.
//
// A ledger failure is returned as ErrStoreUnavailable and the request is not admitted.
func (g *Guard) Admit(ctx context.Context, date string) (Admission, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	count, err := g.store.IncrementAndGet(ctx, date)
	if err != nil {
		slog.Error("Failed to record usage", "date", date, "error", err)
		if !errors.Is(err, ErrStoreUnavailable) {
			err = storeError("incrementing usage", err)
		}
		return Admission{}, err
	}

	if count > g.limit {
		return Admission{}, &ExceededError{
			Source: SourceLocal,
			Date:   date,
			Count:  count,
			Limit:  g.limit,
		}
	}

	return Admission{
		Date:      date,
		Count:     count,
		Limit:     g.limit,
		Remaining: g.limit - count,
	}, nil
}

// Usage reports the budget state of date without consuming any of it
func (g *Guard) Usage(ctx context.Context, date string) (Admission, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	record, err := g.store.Usage(ctx, date)
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = storeError("reading usage", err)
		}
		return Admission{}, fmt.Errorf("getting usage: %w", err)
	}

	return Admission{
		Date:      date,
		Count:     record.Count,
		Limit:     g.limit,
		Remaining: max(g.limit-record.Count, 0),
	}, nil
}

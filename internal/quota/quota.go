package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DateFormat is the layout of a usage record key (UTC calendar day)
const DateFormat = "2006-01-02"

var (
	// ErrExceeded is matched by every over-budget failure, local or upstream
	ErrExceeded = errors.New("quota exceeded")

	// ErrStoreUnavailable means the usage ledger could not be read or written
	ErrStoreUnavailable = errors.New("usage store unavailable")
)

// Source identifies who reported an over-budget condition
type Source string

const (
	// SourceLocal is the shared daily budget enforced by Guard
	SourceLocal Source = "local"
	// SourceProvider is a rate limit reported by the external model
	SourceProvider Source = "provider"
)

// ExceededError describes a rejected request. errors.Is(err, ErrExceeded) holds for it.
type ExceededError struct {
	Source Source
	Date   string
	Count  int
	Limit  int
	Err    error
}

func (e *ExceededError) Error() string {
	if e.Source == SourceProvider {
		if e.Err != nil {
			return fmt.Sprintf("provider quota exceeded: %v", e.Err)
		}
		return "provider quota exceeded"
	}
	return fmt.Sprintf("daily quota exceeded for %s: %d of %d", e.Date, e.Count, e.Limit)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrExceeded
}

func (e *ExceededError) Unwrap() error {
	return e.Err
}

// UsageRecord is the request counter for one UTC day
type UsageRecord struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Store persists per-day request counters
type Store interface {
	// IncrementAndGet atomically adds one to the counter for date and returns the new value.
	// Concurrent callers for the same date receive distinct, gap-free values.
	IncrementAndGet(ctx context.Context, date string) (int, error)

	// Usage returns the current record for date without changing it
	Usage(ctx context.Context, date string) (UsageRecord, error)
}

// Today returns the usage key for t in UTC
func Today(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

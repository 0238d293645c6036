package quota

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

const usageBucketName = "usage"

// BoltStore implements Store on a BoltDB bucket keyed by date.
// BoltDB serializes writable transactions, so the read-modify-write in
// IncrementAndGet is atomic within the process that owns the file.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates the usage bucket on an already opened database
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usageBucketName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating usage bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// IncrementAndGet increments the counter for date, creating the record on first use
func (b *BoltStore) IncrementAndGet(ctx context.Context, date string) (int, error) {
	var count int
	err := b.run(ctx, func() error {
		return b.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket([]byte(usageBucketName))
			record, err := decodeRecord(date, bucket.Get([]byte(date)))
			if err != nil {
				return err
			}
			record.Count++
			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshaling usage record: %w", err)
			}
			if err := bucket.Put([]byte(date), data); err != nil {
				return err
			}
			count = record.Count
			return nil
		})
	})
	if err != nil {
		return 0, storeError("incrementing usage", err)
	}
	return count, nil
}

// Usage returns the record for date, with a zero count if none exists yet
func (b *BoltStore) Usage(ctx context.Context, date string) (UsageRecord, error) {
	var record UsageRecord
	err := b.run(ctx, func() error {
		return b.db.View(func(tx *bbolt.Tx) error {
			var err error
			record, err = decodeRecord(date, tx.Bucket([]byte(usageBucketName)).Get([]byte(date)))
			return err
		})
	})
	if err != nil {
		return UsageRecord{}, storeError("reading usage", err)
	}
	return record, nil
}

// run executes fn but stops waiting once ctx is done. BoltDB has no context
// support, so a transaction that is already running may still commit.
func (b *BoltStore) run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeRecord(date string, data []byte) (UsageRecord, error) {
	record := UsageRecord{Date: date}
	if data == nil {
		return record, nil
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return UsageRecord{}, fmt.Errorf("unmarshaling usage record: %w", err)
	}
	return record, nil
}

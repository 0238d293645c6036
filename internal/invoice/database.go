package invoice

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "invoices"

// DB defines the interface for invoice persistence
type DB interface {
	// SaveInvoice saves an invoice to the database
	SaveInvoice(invoice *Invoice) error

	// GetInvoice retrieves an invoice by ID
	GetInvoice(id string) (*Invoice, error)

	// ListInvoices returns the invoices of a user, newest first
	ListInvoices(userID string) ([]*Invoice, error)

	// DeleteInvoice removes an invoice from the database
	DeleteInvoice(id string) error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the database file at path and creates the invoice bucket
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Bolt returns the underlying handle so other stores can share the file
func (b *BoltDB) Bolt() *bbolt.DB {
	return b.db
}

// SaveInvoice saves an invoice to the database
func (b *BoltDB) SaveInvoice(invoice *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(invoice)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return bucket.Put([]byte(invoice.ID), data)
	})
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	var invoice *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// ListInvoices returns the invoices of userID sorted by creation time, newest first
func (b *BoltDB) ListInvoices(userID string) ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var invoice Invoice
			if err := json.Unmarshal(v, &invoice); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if invoice.UserID == userID {
				invoices = append(invoices, &invoice)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}

// DeleteInvoice removes an invoice from the database
func (b *BoltDB) DeleteInvoice(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

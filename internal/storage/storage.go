// Package storage persists tracked runs, market history and AI insights.
// Store is the embedded BoltDB implementation; PGStore serves the same
// market data from PostgreSQL.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	runsBucket      = "runs"      // run records keyed by creation time
	runIDsBucket    = "run_ids"   // run id -> runs key
	artifactsBucket = "artifacts" // run id -> serialised model
	pricesBucket    = "prices"
	yieldsBucket    = "yields"
	productsBucket  = "products"
	forecastsBucket = "forecasts"
	categoryBucket  = "categories"
)

var allBuckets = []string{
	runsBucket, runIDsBucket, artifactsBucket,
	pricesBucket, yieldsBucket, productsBucket, forecastsBucket, categoryBucket,
}

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
)

// Store provides persistent storage using BoltDB.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens (or creates) the database under dataPath and its buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "sokoyetu-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// update runs fn in a write transaction unless ctx is already done.
func (s *Store) update(ctx context.Context, fn func(*bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(*bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// timeKey orders keys chronologically within a prefix.
func timeKey(prefix string, t time.Time) []byte {
	n := t.UnixNano()
	if n < 0 {
		n = 0
	}
	return []byte(fmt.Sprintf("%s%020d", prefix, n))
}

func hasPrefix(data, prefix []byte) bool {
	return bytes.HasPrefix(data, prefix)
}

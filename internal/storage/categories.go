package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// CategoryRecord is a produce category and the crop types expected in it.
type CategoryRecord struct {
	ID            int64    `json:"id" db:"id"`
	Name          string   `json:"name" db:"name"`
	ExpectedTypes []string `json:"expected_types" db:"expected_types"`
}

// PutCategory creates or replaces a category.
func (s *Store) PutCategory(ctx context.Context, c CategoryRecord) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal category: %w", err)
	}
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(categoryBucket)).Put(productKey(c.ID), data)
	})
}

// ExpectedTypes returns the crop types expected for a category.
func (s *Store) ExpectedTypes(ctx context.Context, categoryID int64) ([]string, error) {
	var c CategoryRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(categoryBucket)).Get(productKey(categoryID))
		if v == nil {
			return fmt.Errorf("%w: %d", ErrCategoryNotFound, categoryID)
		}
		return json.Unmarshal(v, &c)
	})
	return c.ExpectedTypes, err
}

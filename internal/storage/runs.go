package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"sokoyetu-ai/internal/tracking"
)

var _ tracking.Store = (*Store)(nil)

// PutRun writes run and its artifact in one transaction. An id that was
// already stored is rejected so runs stay immutable.
func (s *Store) PutRun(ctx context.Context, run tracking.Run, artifact []byte) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.update(ctx, func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(runIDsBucket))
		if ids.Get([]byte(run.ID)) != nil {
			return fmt.Errorf("%w: %s", tracking.ErrRunExists, run.ID)
		}
		key := timeKey("", run.CreatedAt)
		key = append(key, '_')
		key = append(key, run.ID...)
		if err := tx.Bucket([]byte(runsBucket)).Put(key, data); err != nil {
			return err
		}
		if err := ids.Put([]byte(run.ID), key); err != nil {
			return err
		}
		if artifact != nil {
			return tx.Bucket([]byte(artifactsBucket)).Put([]byte(run.ID), artifact)
		}
		return nil
	})
}

// Runs returns matching runs newest first.
func (s *Store) Runs(ctx context.Context, q tracking.Query) ([]tracking.Run, error) {
	var runs []tracking.Run
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run tracking.Run
			if err := json.Unmarshal(v, &run); err != nil {
				continue // Skip malformed records
			}
			if !q.Matches(run) {
				continue
			}
			runs = append(runs, run)
			if q.Limit > 0 && len(runs) >= q.Limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// Artifact returns the serialised model of a run.
func (s *Store) Artifact(ctx context.Context, runID string) ([]byte, error) {
	var out []byte
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(artifactsBucket)).Get([]byte(runID))
		if v == nil {
			return fmt.Errorf("%w: artifact of run %s", tracking.ErrNotFound, runID)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

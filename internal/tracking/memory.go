package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      []Run
	ids       map[string]bool
	artifacts map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: map[string]bool{}, artifacts: map[string][]byte{}}
}

func (m *MemoryStore) PutRun(_ context.Context, run Run, artifact []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids[run.ID] {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	m.ids[run.ID] = true
	m.runs = append(m.runs, run)
	if artifact != nil {
		m.artifacts[run.ID] = append([]byte(nil), artifact...)
	}
	return nil
}

func (m *MemoryStore) Runs(_ context.Context, q Query) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if q.Matches(m.runs[i]) {
			out = append(out, m.runs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Artifact(_ context.Context, runID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.artifacts[runID]
	if !ok {
		return nil, fmt.Errorf("%w: artifact of run %s", ErrNotFound, runID)
	}
	return append([]byte(nil), data...), nil
}

// Len reports the number of stored runs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

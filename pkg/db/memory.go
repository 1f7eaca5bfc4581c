package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps runs in process memory. The CLI records runs here when no database
// is configured, so they can be viewed later in the same session.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]Run
	allocations map[string][]Allocation
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]Run),
		allocations: make(map[string][]Allocation),
	}
}

// InsertRun implements RunStore
func (s *MemoryStore) InsertRun(_ context.Context, run *Run, allocations []Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("failed to insert run: run %s already exists", run.ID)
	}

	s.runs[run.ID] = *run
	s.allocations[run.ID] = append([]Allocation(nil), allocations...)
	return nil
}

// GetRun implements RunStore
func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, []Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return &run, append([]Allocation(nil), s.allocations[id]...), nil
}

// ListRuns implements RunStore, newest first
func (s *MemoryStore) ListRuns(_ context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

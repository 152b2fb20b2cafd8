// Package state keeps the last result of every command.
package state

import (
	"sort"
	"sync"

	"github.com/msageha/restfile/internal/model"
)

// Store maps a command name to its last result. Put replaces the whole record.
type Store interface {
	Put(r model.LastResult) error
	Get(command string) (model.LastResult, bool)
	List() []model.LastResult
}

type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]model.LastResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]model.LastResult)}
}

func (s *MemoryStore) Put(r model.LastResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.Command] = r
	return nil
}

func (s *MemoryStore) Get(command string) (model.LastResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[command]
	return r, ok
}

// List returns all records sorted by command name.
func (s *MemoryStore) List() []model.LastResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LastResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

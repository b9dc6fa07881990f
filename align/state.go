package align

import (
	"sort"
	"sync"
	"time"
)

// ResultState holds the latest result per run name for the HTTP endpoints.
type ResultState struct {
	mu      sync.RWMutex
	results map[string]*ResultRecord
	updated map[string]time.Time
}

// NewResultState creates an empty state.
func NewResultState() *ResultState {
	return &ResultState{
		results: make(map[string]*ResultRecord),
		updated: make(map[string]time.Time),
	}
}

// Update stores rec under name, replacing any earlier result.
func (s *ResultState) Update(name string, rec *ResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[name] = rec
	s.updated[name] = time.Now()
}

// Get returns the result stored under name.
func (s *ResultState) Get(name string) (*ResultRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.results[name]
	return rec, ok
}

// Names returns the stored run names in sorted order.
func (s *ResultState) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.results))
	for n := range s.results {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default returns the only result when exactly one is stored.
func (s *ResultState) Default() (string, *ResultRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.results) != 1 {
		return "", nil, false
	}
	for n, rec := range s.results {
		return n, rec, true
	}
	return "", nil, false
}

// HasResults reports whether any result is stored.
func (s *ResultState) HasResults() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results) > 0
}

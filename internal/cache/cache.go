package cache

import "sync"

// StringSet is a concurrent-safe set of strings. The crawl orchestrator uses one per run
// as its visited set.
type StringSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewStringSet creates and returns an empty StringSet.
func NewStringSet() *StringSet {
	return &StringSet{
		items: make(map[string]struct{}),
	}
}

// Add inserts key and reports whether it was absent. Check and insert happen under one lock,
// so exactly one of several concurrent callers adding the same key sees true.
func (s *StringSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.items[key]; found {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

// Has reports whether key is in the set.
func (s *StringSet) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.items[key]
	return found
}

// Remove deletes key from the set.
func (s *StringSet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Len returns the number of keys in the set.
func (s *StringSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

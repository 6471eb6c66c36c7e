// Package store - Thread-safe in-memory store.
package store

import (
	"strings"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store implementation.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Ephemeral clients that do not want enrollment to survive restarts
//
// Transactions buffer writes and apply them only when the callback succeeds,
// giving the same all-or-nothing semantics as the badger engine.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	value, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set stores value under key.
func (s *MemoryStore) Set(key string, value []byte) error {
	return s.Update(func(txn Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) error {
	return s.Update(func(txn Txn) error {
		return txn.Delete(key)
	})
}

// Keys returns every key with the given prefix.
func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Update runs fn against a buffered transaction. Writes become visible only
// if fn returns nil.
func (s *MemoryStore) Update(fn func(txn Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	txn := &memoryTxn{store: s, writes: make(map[string][]byte), deletes: make(map[string]bool)}
	if err := fn(txn); err != nil {
		return err
	}
	for key := range txn.deletes {
		delete(s.data, key)
	}
	for key, value := range txn.writes {
		s.data[key] = value
	}
	return nil
}

// View runs fn against a read-only view.
func (s *MemoryStore) View(fn func(txn Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return fn(&memoryTxn{store: s, readOnly: true})
}

// Close marks the store closed. Data is dropped.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

// memoryTxn buffers writes until commit. Reads check the buffer first so a
// transaction observes its own writes.
type memoryTxn struct {
	store    *MemoryStore
	writes   map[string][]byte
	deletes  map[string]bool
	readOnly bool
}

func (t *memoryTxn) Get(key string) ([]byte, error) {
	if !t.readOnly {
		if t.deletes[key] {
			return nil, ErrNotFound
		}
		if value, ok := t.writes[key]; ok {
			return append([]byte(nil), value...), nil
		}
	}
	value, ok := t.store.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (t *memoryTxn) Set(key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnlyTxn
	}
	delete(t.deletes, key)
	t.writes[key] = append([]byte(nil), value...)
	return nil
}

func (t *memoryTxn) Delete(key string) error {
	if t.readOnly {
		return ErrReadOnlyTxn
	}
	delete(t.writes, key)
	t.deletes[key] = true
	return nil
}

func (t *memoryTxn) Keys(prefix string) ([]string, error) {
	seen := make(map[string]bool)
	for k := range t.store.data {
		if strings.HasPrefix(k, prefix) {
			seen[k] = true
		}
	}
	if !t.readOnly {
		for k := range t.writes {
			if strings.HasPrefix(k, prefix) {
				seen[k] = true
			}
		}
		for k := range t.deletes {
			delete(seen, k)
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, nil
}

// Package store - BadgerDB-backed persistent store.
//
// BadgerStore provides persistent disk-based storage using BadgerDB with
// full transaction support. It is the default engine on platforms where the
// host does not supply its own storage.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging. Nil silences it: a client SDK
	// should not spam the host application's stderr.
	Logger badger.Logger
}

// BadgerStore is a persistent Store backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.Mutex
	closed bool
}

// NewBadgerStore opens (creating if necessary) a BadgerDB database in the
// given directory.
//
// Example:
//
//	st, err := store.NewBadgerStore(store.BadgerOptions{DataDir: "./data/skuld"})
//	if err != nil {
//		return fmt.Errorf("opening state store: %w", err)
//	}
//	defer st.Close()
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	bopts = bopts.WithInMemory(opts.InMemory)
	bopts = bopts.WithSyncWrites(opts.SyncWrites)
	bopts = bopts.WithLogger(opts.Logger)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", opts.DataDir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get returns the value for key, or ErrNotFound.
func (s *BadgerStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.View(func(txn Txn) error {
		v, err := txn.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// Set stores value under key.
func (s *BadgerStore) Set(key string, value []byte) error {
	return s.Update(func(txn Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key.
func (s *BadgerStore) Delete(key string) error {
	return s.Update(func(txn Txn) error {
		return txn.Delete(key)
	})
}

// Keys returns every key with the given prefix.
func (s *BadgerStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.View(func(txn Txn) error {
		var err error
		keys, err = txn.Keys(prefix)
		return err
	})
	return keys, err
}

// Update runs fn in a read-write BadgerDB transaction.
func (s *BadgerStore) Update(fn func(txn Txn) error) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	return s.db.Update(func(btxn *badger.Txn) error {
		return fn(&badgerTxn{txn: btxn})
	})
}

// View runs fn in a read-only BadgerDB transaction.
func (s *BadgerStore) View(fn func(txn Txn) error) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	return s.db.View(func(btxn *badger.Txn) error {
		return fn(&badgerTxn{txn: btxn, readOnly: true})
	})
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerTxn adapts a badger.Txn to the Txn interface.
type badgerTxn struct {
	txn      *badger.Txn
	readOnly bool
}

func (t *badgerTxn) Get(key string) ([]byte, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnlyTxn
	}
	return t.txn.Set([]byte(key), value)
}

func (t *badgerTxn) Delete(key string) error {
	if t.readOnly {
		return ErrReadOnlyTxn
	}
	return t.txn.Delete([]byte(key))
}

func (t *badgerTxn) Keys(prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys, nil
}

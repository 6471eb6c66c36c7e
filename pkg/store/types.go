// Package store provides the key/value state store interface and engine
// implementations for Skuld.
//
// The persistence adapter (pkg/persist) speaks to storage only through the
// Store interface: transactional get/set/delete over string keys and byte
// values. Two engines are provided, mirroring the usual production/testing
// split:
//
//   - BadgerStore: persistent disk-based storage using BadgerDB
//   - MemoryStore: thread-safe in-memory storage for tests and ephemeral use
//
// Design Principles:
//   - Testability through dependency injection (hosts may supply their own
//     Store backed by platform storage)
//   - All multi-key state changes go through Update so a failed apply never
//     leaves partially written records
//
// Example Usage:
//
//	st, err := store.NewBadgerStore(store.BadgerOptions{DataDir: "./data"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	err = st.Update(func(txn store.Txn) error {
//		if err := txn.Set("enrollment:my-exp", payload); err != nil {
//			return err
//		}
//		return txn.Delete("catalog:pending")
//	})
package store

import "errors"

// Common errors
var (
	ErrNotFound    = errors.New("key not found")
	ErrStoreClosed = errors.New("store closed")
	ErrReadOnlyTxn = errors.New("write inside read-only transaction")
)

// Txn is the view of a store inside a transaction. Reads observe earlier
// writes made in the same transaction.
type Txn interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns every key with the given prefix, in unspecified order.
	Keys(prefix string) ([]string, error)
}

// Store is the transactional key/value state store consumed by the
// persistence adapter.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key in its own transaction.
	Set(key string, value []byte) error

	// Delete removes key in its own transaction.
	Delete(key string) error

	// Keys returns every key with the given prefix.
	Keys(prefix string) ([]string, error)

	// Update runs fn in a read-write transaction. If fn returns an error
	// the transaction rolls back and nothing is persisted.
	Update(fn func(txn Txn) error) error

	// View runs fn in a read-only transaction.
	View(fn func(txn Txn) error) error

	// Close releases the engine. Further operations fail with
	// ErrStoreClosed.
	Close() error
}

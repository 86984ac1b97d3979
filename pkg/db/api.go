package db

import "errors"

// ErrNotFound is returned by Get when the key does not exist, regardless
// of the backing implementation.
var ErrNotFound = errors.New("db: key not found")

// KVStore is the key-value storage abstraction the ledger persists into.
// Implementations must make each Put/Delete durable on return.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	NewIterator(start, end []byte) (Iterator, error)
	Close() error
}

// Batch groups writes so they commit atomically. A ledger operation that
// touches several records always goes through a batch.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Iterator walks a key range in ascending key order.
// Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Valid() bool
	Close() error
}

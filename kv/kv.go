// Package kv defines the ordered key-value store the index engine runs on,
// together with in-memory, Bolt and Pebble backends.
//
// A store holds named buckets; each bucket is a sorted map of byte keys to
// byte values. Transactions are snapshot-isolated: a reader never observes
// another transaction's uncommitted writes. At most one writable transaction
// is open at any time.
package kv

import "errors"

var (
	// ErrBucketNotFound is returned by Tx.DeleteBucket when the bucket doesn't exist.
	ErrBucketNotFound = errors.New("kv: bucket not found")
	ErrClosed         = errors.New("kv: store closed")
	ErrTxClosed       = errors.New("kv: tx closed")
	ErrTxNotWritable  = errors.New("kv: tx not writable")
)

// Store represents a key-value storage backend.
type Store interface {
	// BeginTx starts a new transaction. Writable transactions are serialized:
	// BeginTx(true) blocks until the current writer finishes.
	BeginTx(writable bool) (Tx, error)
	Close() error
}

type Tx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) Bucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (Bucket, error)

	DeleteBucket(name string) error

	Commit() error

	// Rollback aborts the transaction. It is safe to call multiple times,
	// and after Commit.
	Rollback() error
}

// Bucket is a sorted key-value collection. Slices returned by Get and by
// cursors are only valid until the next mutation or the end of the
// transaction; callers must copy them to retain them.
type Bucket interface {
	// Get returns nil if the key is not found.
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() Cursor
	KeyCount() int
}

// Cursor iterates over a bucket. All methods return a nil key when the
// cursor moves past either end.
type Cursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key that has the given prefix or sorts
	// before it.
	SeekLast(prefix []byte) (key, value []byte)

	Next() (key, value []byte)
	Prev() (key, value []byte)
}

// Successor returns the smallest byte string that is greater than every
// string prefixed by prefix, or nil if there is none (prefix is empty or
// consists of 0xFF bytes only, so the range it starts is unbounded above).
func Successor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			s := append([]byte(nil), prefix[:i+1]...)
			s[i]++
			return s
		}
	}
	return nil
}

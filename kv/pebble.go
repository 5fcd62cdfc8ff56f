package kv

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type PebbleOptions struct {
	// IsTesting disables fsync on commit.
	IsTesting bool

	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS

	// CacheSize is the block cache size in bytes; 0 keeps Pebble's default.
	CacheSize int64
}

// Pebble has no buckets, so we lay them out as key prefixes:
//
//	'b' name          bucket registry entry, empty value
//	'd' name 0x00 k   key k of bucket name
const (
	pebbleRegistryTag = 'b'
	pebbleDataTag     = 'd'
)

type pebbleStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	// Pebble batches don't conflict-check each other; we serialize writers
	// the way Bolt does.
	wmu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// OpenPebble opens (creating if necessary) a Pebble database in dir.
func OpenPebble(dir string, opt PebbleOptions) (Store, error) {
	popt := &pebble.Options{FS: opt.FS}
	if opt.CacheSize > 0 {
		cache := pebble.NewCache(opt.CacheSize)
		defer cache.Unref()
		popt.Cache = cache
	}
	db, err := pebble.Open(dir, popt)
	if err != nil {
		return nil, fmt.Errorf("kv: pebble: %w", err)
	}
	s := &pebbleStore{db: db, writeOpts: pebble.Sync}
	if opt.IsTesting {
		s.writeOpts = pebble.NoSync
	}
	return s, nil
}

func (s *pebbleStore) BeginTx(writable bool) (Tx, error) {
	if writable {
		s.wmu.Lock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if writable {
			s.wmu.Unlock()
		}
		return nil, ErrClosed
	}
	if writable {
		b := s.db.NewIndexedBatch()
		return &pebbleTx{store: s, r: b, batch: b}, nil
	}
	return &pebbleTx{store: s, r: s.db.NewSnapshot()}, nil
}

func (s *pebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type pebbleTx struct {
	store  *pebbleStore
	r      pebble.Reader
	batch  *pebble.Batch
	iters  []*pebble.Iterator
	closed bool
}

func (tx *pebbleTx) Writable() bool { return tx.batch != nil }

func pebbleRegistryKey(name string) []byte {
	return append([]byte{pebbleRegistryTag}, name...)
}

func pebbleDataPrefix(name string) []byte {
	k := make([]byte, 0, len(name)+2)
	k = append(k, pebbleDataTag)
	k = append(k, name...)
	return append(k, 0)
}

func (tx *pebbleTx) get(key []byte) ([]byte, error) {
	v, closer, err := tx.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	closer.Close()
	return out, nil
}

func (tx *pebbleTx) Bucket(name string) Bucket {
	if tx.closed {
		panic(ErrTxClosed)
	}
	v, err := tx.get(pebbleRegistryKey(name))
	if err != nil {
		panic(fmt.Errorf("kv: pebble: bucket %q: %w", name, err))
	}
	if v == nil {
		return nil
	}
	return &pebbleBucket{tx: tx, prefix: pebbleDataPrefix(name)}
}

func (tx *pebbleTx) CreateBucket(name string) (Bucket, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if tx.batch == nil {
		return nil, ErrTxNotWritable
	}
	if strings.IndexByte(name, 0) >= 0 {
		return nil, fmt.Errorf("kv: pebble: invalid bucket name %q", name)
	}
	if err := tx.batch.Set(pebbleRegistryKey(name), nil, nil); err != nil {
		return nil, err
	}
	return &pebbleBucket{tx: tx, prefix: pebbleDataPrefix(name)}, nil
}

func (tx *pebbleTx) DeleteBucket(name string) error {
	if tx.closed {
		return ErrTxClosed
	}
	if tx.batch == nil {
		return ErrTxNotWritable
	}
	if tx.Bucket(name) == nil {
		return ErrBucketNotFound
	}
	prefix := pebbleDataPrefix(name)
	if err := tx.batch.DeleteRange(prefix, Successor(prefix), nil); err != nil {
		return err
	}
	return tx.batch.Delete(pebbleRegistryKey(name), nil)
}

func (tx *pebbleTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if tx.batch == nil {
		return ErrTxNotWritable
	}
	tx.closeIters()
	err := tx.batch.Commit(tx.store.writeOpts)
	tx.finish()
	return err
}

func (tx *pebbleTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closeIters()
	tx.finish()
	return nil
}

func (tx *pebbleTx) closeIters() {
	for _, it := range tx.iters {
		it.Close()
	}
	tx.iters = nil
}

func (tx *pebbleTx) finish() {
	tx.closed = true
	tx.r.Close()
	if tx.batch != nil {
		tx.store.wmu.Unlock()
	}
}

type pebbleBucket struct {
	tx     *pebbleTx
	prefix []byte
}

func (b *pebbleBucket) key(k []byte) []byte {
	full := make([]byte, 0, len(b.prefix)+len(k))
	full = append(full, b.prefix...)
	return append(full, k...)
}

func (b *pebbleBucket) Get(key []byte) []byte {
	v, err := b.tx.get(b.key(key))
	if err != nil {
		panic(fmt.Errorf("kv: pebble: get: %w", err))
	}
	return v
}

func (b *pebbleBucket) Put(key, value []byte) error {
	if b.tx.batch == nil {
		return ErrTxNotWritable
	}
	return b.tx.batch.Set(b.key(key), value, nil)
}

func (b *pebbleBucket) Delete(key []byte) error {
	if b.tx.batch == nil {
		return ErrTxNotWritable
	}
	return b.tx.batch.Delete(b.key(key), nil)
}

func (b *pebbleBucket) iter() *pebble.Iterator {
	it, err := b.tx.r.NewIter(&pebble.IterOptions{
		LowerBound: b.prefix,
		UpperBound: Successor(b.prefix),
	})
	if err != nil {
		panic(fmt.Errorf("kv: pebble: iterator: %w", err))
	}
	b.tx.iters = append(b.tx.iters, it)
	return it
}

func (b *pebbleBucket) Cursor() Cursor {
	return &pebbleCursor{b: b, it: b.iter()}
}

func (b *pebbleBucket) KeyCount() int {
	it := b.iter()
	var n int
	for valid := it.First(); valid; valid = it.Next() {
		n++
	}
	return n
}

type pebbleCursor struct {
	b  *pebbleBucket
	it *pebble.Iterator
}

func (c *pebbleCursor) pair(valid bool) ([]byte, []byte) {
	if !valid {
		return nil, nil
	}
	k := append([]byte(nil), c.it.Key()[len(c.b.prefix):]...)
	v := append([]byte{}, c.it.Value()...)
	return k, v
}

func (c *pebbleCursor) First() ([]byte, []byte) { return c.pair(c.it.First()) }

func (c *pebbleCursor) Last() ([]byte, []byte) { return c.pair(c.it.Last()) }

func (c *pebbleCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.pair(c.it.SeekGE(c.b.key(seek)))
}

func (c *pebbleCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := Successor(prefix)
	if limit == nil {
		return c.Last()
	}
	return c.pair(c.it.SeekLT(c.b.key(limit)))
}

func (c *pebbleCursor) Next() ([]byte, []byte) { return c.pair(c.it.Next()) }

func (c *pebbleCursor) Prev() ([]byte, []byte) { return c.pair(c.it.Prev()) }

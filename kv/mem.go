package kv

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/btree"
)

const memDegree = 32

type memItem struct {
	key   []byte
	value []byte
}

func memLess(a, b memItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type memTree = btree.BTreeG[memItem]

// memStore keeps every bucket in a copy-on-write B-tree. Each transaction
// works on lazy clones of the trees, so snapshots cost O(buckets) and
// committing is a map swap.
type memStore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memTree
	closed  bool
	writer  bool
}

// NewMemory returns a transient in-memory Store.
func NewMemory() Store {
	s := &memStore{buckets: make(map[string]*memTree)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStore) BeginTx(writable bool) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, ErrClosed
		}
		s.writer = true
	}

	snap := make(map[string]*memTree, len(s.buckets))
	for name, t := range s.buckets {
		snap[name] = t.Clone()
	}
	return &memTx{base: s, writable: writable, buckets: snap}, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStore
	writable bool
	buckets  map[string]*memTree
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.buckets = nil
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name string) Bucket {
	if tx.closed {
		panic(ErrTxClosed)
	}
	t := tx.buckets[name]
	if t == nil {
		return nil
	}
	return &memBucket{tx: tx, t: t}
}

func (tx *memTx) CreateBucket(name string) (Bucket, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if !tx.writable {
		return nil, ErrTxNotWritable
	}
	t := tx.buckets[name]
	if t == nil {
		t = btree.NewG[memItem](memDegree, memLess)
		tx.buckets[name] = t
	}
	return &memBucket{tx: tx, t: t}, nil
}

func (tx *memTx) DeleteBucket(name string) error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	if tx.buckets[name] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, name)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return ErrClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memBucket struct {
	tx *memTx
	t  *memTree
}

func (b *memBucket) Get(key []byte) []byte {
	item, ok := b.t.Get(memItem{key: key})
	if !ok {
		return nil
	}
	return item.value
}

func (b *memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return ErrTxNotWritable
	}
	if value == nil {
		value = []byte{}
	}
	b.t.ReplaceOrInsert(memItem{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (b *memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return ErrTxNotWritable
	}
	b.t.Delete(memItem{key: key})
	return nil
}

func (b *memBucket) Cursor() Cursor {
	return &memCursor{t: b.t}
}

func (b *memBucket) KeyCount() int { return b.t.Len() }

// memCursor remembers the key it is positioned at and re-seeks the tree on
// every move, so it stays valid across mutations of the bucket.
type memCursor struct {
	t   *memTree
	cur []byte
}

func (c *memCursor) set(item memItem, ok bool) ([]byte, []byte) {
	if !ok {
		c.cur = nil
		return nil, nil
	}
	c.cur = item.key
	return item.key, item.value
}

func (c *memCursor) First() ([]byte, []byte) { return c.set(c.t.Min()) }

func (c *memCursor) Last() ([]byte, []byte) { return c.set(c.t.Max()) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.set(c.ascend(seek, false))
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := Successor(prefix)
	if limit == nil {
		return c.Last()
	}
	return c.set(c.descend(limit, true))
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.set(c.ascend(c.cur, true))
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.set(c.descend(c.cur, true))
}

// ascend finds the first item >= pivot (> pivot if strict).
func (c *memCursor) ascend(pivot []byte, strict bool) (found memItem, ok bool) {
	c.t.AscendGreaterOrEqual(memItem{key: pivot}, func(item memItem) bool {
		if strict && bytes.Equal(item.key, pivot) {
			return true
		}
		found, ok = item, true
		return false
	})
	return
}

// descend finds the last item <= pivot (< pivot if strict).
func (c *memCursor) descend(pivot []byte, strict bool) (found memItem, ok bool) {
	c.t.DescendLessOrEqual(memItem{key: pivot}, func(item memItem) bool {
		if strict && bytes.Equal(item.key, pivot) {
			return true
		}
		found, ok = item, true
		return false
	})
	return
}

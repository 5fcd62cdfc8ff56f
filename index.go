package docindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/andreyvit/docindex/kv"
)

// Index is one secondary index: a definition, a constraint mode and a null
// policy, backed by its own bucket of the key store.
//
// Entries are laid out like this:
//
//	unique:     key     -> RID
//	non-unique: key|RID -> (empty)
//
// so a non-unique key holds a set of RIDs ordered by RID, and every entry is
// exactly one (key, RID) association in both modes.
type Index struct {
	db          *DB
	name        string
	def         IndexDefinition
	class       *Class
	unique      bool
	ignoreNulls bool
	keyTypes    []PropertyType
	ordinal     uint64
	fingerprint uint64
	bucket      string
}

// IndexOptions sets the constraint mode and the null policy of an index.
//
// With IgnoreNullValues, keys containing a null are neither stored nor
// constrained. Without it, null keys are stored and a unique index admits
// at most one of them.
type IndexOptions struct {
	Unique           bool
	IgnoreNullValues bool
}

func (idx *Index) Name() string                { return idx.name }
func (idx *Index) Definition() IndexDefinition { return idx.def }
func (idx *Index) Class() *Class               { return idx.class }
func (idx *Index) IsUnique() bool              { return idx.unique }
func (idx *Index) IgnoresNullValues() bool     { return idx.ignoreNulls }
func (idx *Index) Fields() []string            { return idx.def.Fields() }

func (idx *Index) Options() IndexOptions {
	return IndexOptions{Unique: idx.unique, IgnoreNullValues: idx.ignoreNulls}
}

func (idx *Index) String() string {
	mode := "NOTUNIQUE"
	if idx.unique {
		mode = "UNIQUE"
	}
	return fmt.Sprintf("%s %s on %v", idx.name, mode, idx.def)
}

func indexBucketName(ordinal uint64) string {
	return fmt.Sprintf("i%d", ordinal)
}

// encodeKey encodes a full or partial key of this index.
func (idx *Index) encodeKey(key Key) ([]byte, Key, error) {
	enc, canon, err := encodeKey(idx.keyTypes, key)
	if err != nil {
		return nil, nil, &IndexError{Index: idx.name, Key: key, Err: err}
	}
	return enc, canon, nil
}

// skips reports whether the null policy keeps the key out of the index.
func (idx *Index) skips(key Key) bool {
	return idx.ignoreNulls && key.HasNull()
}

func (idx *Index) bucketIn(tx *Tx) kv.Bucket {
	b := tx.ktx.Bucket(idx.bucket)
	if b == nil {
		panic(fmt.Errorf("%s: bucket %s is missing", idx.name, idx.bucket))
	}
	return b
}

// put associates rid with an encoded key. It reports whether the store was
// changed: putting an existing association, or a key the null policy
// skips, changes nothing. A unique index fails with ErrDuplicateKey if the
// key belongs to another record, and then changes nothing either.
func (idx *Index) put(tx *Tx, enc []byte, key Key, rid RID) (bool, error) {
	applied, err := idx.putEntry(tx, enc, key, rid)
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			tx.db.metrics.duplicate(idx)
		}
		return false, err
	}
	if applied {
		idx.trace(tx, "index PUT", enc, rid)
		tx.db.metrics.put(idx)
	}
	return applied, nil
}

// remove drops the association of rid with an encoded key and reports
// whether it existed. The last RID of a key takes the key with it.
func (idx *Index) remove(tx *Tx, enc []byte, key Key, rid RID) (bool, error) {
	applied, err := idx.removeEntry(tx, enc, key, rid)
	if applied {
		idx.trace(tx, "index DEL", enc, rid)
		tx.db.metrics.remove(idx)
	}
	return applied, err
}

// putEntry and removeEntry change the bucket only. The undo log calls them
// directly, so reverted mutations are neither traced nor counted.
func (idx *Index) putEntry(tx *Tx, enc []byte, key Key, rid RID) (bool, error) {
	if idx.skips(key) {
		return false, nil
	}
	b := idx.bucketIn(tx)
	if idx.unique {
		if raw := b.Get(enc); raw != nil {
			existing, err := decodeRID(raw)
			if err != nil {
				return false, &IndexError{Index: idx.name, Key: key, Err: err}
			}
			if existing == rid {
				return false, nil
			}
			return false, duplicateKeyErr(idx, key, rid, existing)
		}
		ensure(b.Put(enc, appendRID(nil, rid)))
	} else {
		full := appendRID(bytes.Clone(enc), rid)
		if hasKey(b, full) {
			return false, nil
		}
		ensure(b.Put(full, nil))
	}
	return true, nil
}

func (idx *Index) removeEntry(tx *Tx, enc []byte, key Key, rid RID) (bool, error) {
	if idx.skips(key) {
		return false, nil
	}
	b := idx.bucketIn(tx)
	if idx.unique {
		raw := b.Get(enc)
		if raw == nil {
			return false, nil
		}
		existing, err := decodeRID(raw)
		if err != nil {
			return false, &IndexError{Index: idx.name, Key: key, Err: err}
		}
		if existing != rid {
			return false, nil
		}
		ensure(b.Delete(enc))
	} else {
		full := appendRID(bytes.Clone(enc), rid)
		if !hasKey(b, full) {
			return false, nil
		}
		ensure(b.Delete(full))
	}
	return true, nil
}

// hasKey checks for a key by seeking, since some stores do not tell an
// empty value from a missing one.
func hasKey(b kv.Bucket, k []byte) bool {
	found, _ := b.Cursor().Seek(k)
	return found != nil && bytes.Equal(found, k)
}

func (idx *Index) trace(tx *Tx, msg string, enc []byte, rid RID) {
	if tx.db.verbose {
		tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, slog.String("index", idx.name), hexAttr("key", enc), slog.String("rid", rid.String()), slog.String("tx", tx.id.String()))
	}
}

// decodeEntry splits a raw index entry into its key and RID.
func (idx *Index) decodeEntry(k, v []byte) (Key, RID, error) {
	key, rest, err := decodeKey(k, len(idx.keyTypes))
	if err != nil {
		return nil, InvalidRID, err
	}
	if idx.unique {
		rid, err := decodeRID(v)
		return key, rid, err
	}
	rid, err := decodeRID(rest)
	return key, rid, err
}

// Size returns the number of (key, RID) associations in the index.
func (idx *Index) Size(tx *Tx) int {
	return idx.bucketIn(tx).KeyCount()
}

// Get returns the RIDs stored under key, in RID order. A partial key of a
// composite index matches every key it is a prefix of.
func (idx *Index) Get(tx *Tx, key ...any) ([]RID, error) {
	enc, _, err := idx.encodeKey(key)
	if err != nil {
		return nil, err
	}
	if idx.unique && len(key) == len(idx.keyTypes) {
		raw := idx.bucketIn(tx).Get(enc)
		if raw == nil {
			return nil, nil
		}
		rid, err := decodeRID(raw)
		if err != nil {
			return nil, err
		}
		return []RID{rid}, nil
	}
	var rids []RID
	err = idx.scanRange(tx, kv.PrefixRange(enc), func(_ Key, rid RID) bool {
		rids = append(rids, rid)
		return true
	})
	return rids, err
}

// Keys returns the distinct keys in ascending order.
func (idx *Index) Keys(tx *Tx) []Key {
	return idx.distinctKeys(tx, kv.All())
}

// KeysDesc returns the distinct keys in descending order.
func (idx *Index) KeysDesc(tx *Tx) []Key {
	return idx.distinctKeys(tx, kv.All().Reversed())
}

func (idx *Index) distinctKeys(tx *Tx, r kv.Range) []Key {
	var out []Key
	var last []byte
	c := r.Cursor(idx.bucketIn(tx), tx.db.logger)
	for c.Next() {
		k := c.Key()
		key, rest, err := decodeKey(k, len(idx.keyTypes))
		if err != nil {
			panic(&IndexError{Index: idx.name, Err: err})
		}
		raw := k[:len(k)-len(rest)]
		if last != nil && bytes.Equal(raw, last) {
			continue
		}
		last = bytes.Clone(raw)
		out = append(out, key)
	}
	return out
}

func (idx *Index) scanRange(tx *Tx, r kv.Range, f func(key Key, rid RID) bool) error {
	c := r.Cursor(idx.bucketIn(tx), tx.db.logger)
	for c.Next() {
		key, rid, err := idx.decodeEntry(c.Key(), c.Value())
		if err != nil {
			return &IndexError{Index: idx.name, Err: err}
		}
		if !f(key, rid) {
			break
		}
	}
	return nil
}

// clear removes every entry; used when an index is rebuilt.
func (idx *Index) clear(tx *Tx) {
	ensure(tx.ktx.DeleteBucket(idx.bucket))
	must(tx.ktx.CreateBucket(idx.bucket))
}

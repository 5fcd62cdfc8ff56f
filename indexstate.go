package docindex

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// The _indexes bucket holds one indexState per defined index, keyed by the
// lowercased index name. Ordinals name the index buckets and are never
// reused, so a dropped and redefined index never sees stale entries.
const (
	indexesBucket = "_indexes"
	metaBucket    = "_meta"
)

var lastIndexOrdinalKey = []byte("lastIndexOrdinal")

type indexState struct {
	Name        string    `msgpack:"n"`
	Class       string    `msgpack:"c"`
	Fields      []string  `msgpack:"f"`
	Unique      bool      `msgpack:"u,omitempty"`
	IgnoreNulls bool      `msgpack:"in,omitempty"`
	Ordinal     uint64    `msgpack:"o"`
	Fingerprint uint64    `msgpack:"h"`
	Built       time.Time `msgpack:"t"`
}

// indexFingerprint changes whenever the stored entries of an index would be
// laid out differently: another definition, other key types or options.
func indexFingerprint(def IndexDefinition, opt IndexOptions) uint64 {
	h := xxhash.New()
	h.WriteString(def.String())
	for _, t := range def.KeyTypes() {
		h.WriteString("|")
		h.WriteString(t.String())
	}
	fmt.Fprintf(h, "|u=%v|in=%v", opt.Unique, opt.IgnoreNullValues)
	return h.Sum64()
}

func (tx *Tx) nextIndexOrdinal() uint64 {
	b := must(tx.ktx.CreateBucket(metaBucket))
	var ord uint64
	if raw := b.Get(lastIndexOrdinalKey); raw != nil {
		ord = binary.BigEndian.Uint64(raw)
	}
	ord++
	ensure(b.Put(lastIndexOrdinalKey, binary.BigEndian.AppendUint64(nil, ord)))
	return ord
}

func (tx *Tx) saveIndexState(idx *Index) {
	is := &indexState{
		Name:        idx.name,
		Class:       idx.class.name,
		Fields:      idx.def.FieldSpecs(),
		Unique:      idx.unique,
		IgnoreNulls: idx.ignoreNulls,
		Ordinal:     idx.ordinal,
		Fingerprint: idx.fingerprint,
		Built:       time.Now().UTC(),
	}
	b := must(tx.ktx.CreateBucket(indexesBucket))
	ensure(b.Put([]byte(strings.ToLower(idx.name)), encodeMsgpack(nil, is)))
}

func (tx *Tx) deleteIndexState(idx *Index) {
	if b := tx.ktx.Bucket(indexesBucket); b != nil {
		ensure(b.Delete([]byte(strings.ToLower(idx.name))))
	}
	if tx.ktx.Bucket(idx.bucket) != nil {
		ensure(tx.ktx.DeleteBucket(idx.bucket))
	}
}

// loadIndexes reattaches the indexes persisted by earlier runs. An index
// whose definition no longer resolves against the catalog is dropped; one
// whose fingerprint changed is rebuilt from the stored records.
func (db *DB) loadIndexes(tx *Tx) error {
	b := must(tx.ktx.CreateBucket(indexesBucket))
	var states []*indexState
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		is := new(indexState)
		if err := decodeMsgpack(v, is); err != nil {
			return fmt.Errorf("index state %q: %w", k, err)
		}
		states = append(states, is)
	}

	for _, is := range states {
		opt := IndexOptions{Unique: is.Unique, IgnoreNullValues: is.IgnoreNulls}
		def, err := NewIndexDefinition(db.catalog, is.Class, is.Fields...)
		if err != nil {
			db.logger.Warn("dropping index that no longer matches the schema", "index", is.Name, "err", err)
			stale := &Index{name: is.Name, bucket: indexBucketName(is.Ordinal)}
			tx.deleteIndexState(stale)
			continue
		}
		idx := db.newIndex(is.Name, def, opt, is.Ordinal)
		db.addIndex(idx)
		must(tx.ktx.CreateBucket(idx.bucket))
		if idx.fingerprint != is.Fingerprint {
			db.logger.Info("index definition changed, rebuilding", "index", idx.name, "def", def.String())
			if err := tx.rebuildIndex(idx); err != nil {
				return err
			}
			tx.saveIndexState(idx)
		}
	}
	return nil
}

// rebuildIndex empties the index and indexes every stored record of the
// index's class and its subclasses.
func (tx *Tx) rebuildIndex(idx *Index) error {
	start := time.Now()
	idx.clear(tx)
	var records int
	for _, cls := range idx.class.Subclasses() {
		cluster := tx.db.clusterOf(cls)
		b := tx.ktx.Bucket(clusterBucketName(cluster))
		if b == nil {
			continue
		}
		var positions []int64
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			positions = append(positions, positionFromKey(k))
		}
		for _, pos := range positions {
			rid := RID{Cluster: cluster, Position: pos}
			rec, err := tx.loadRecord(rid)
			if err != nil {
				return err
			}
			keys, err := encodeKeySet(idx, Extract(idx.def, rec, idx.ignoreNulls))
			if err != nil {
				return &RecordError{RID: rid, Class: rec.class, Msg: "cannot index record", Err: err}
			}
			for _, k := range keys {
				if _, err := idx.put(tx, k.enc, k.key, rid); err != nil {
					return err
				}
			}
			records++
			if records%100000 == 0 {
				tx.db.logger.Info("still building index", "index", idx.name, "records", records, "ms", time.Since(start).Milliseconds())
			}
		}
	}
	tx.db.metrics.rebuilds.WithLabelValues(idx.name).Inc()
	tx.db.logger.Info("built index", "index", idx.name, "records", records, "entries", idx.Size(tx), "ms", time.Since(start).Milliseconds())
	return nil
}

package docindex

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpClassHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndexes
	DumpIndexEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the stored records and index entries for debugging. Each
// class lists the indexes defined on it; inherited ones are listed under
// the superclass.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, cls := range tx.db.catalog.classes {
		tx.dumpClass(&buf, f, cls)
	}
	return buf.String()
}

func (tx *Tx) dumpClass(w *strings.Builder, f DumpFlags, cls *Class) {
	prefix := cls.name
	s := tx.ClassStats(cls)
	cluster := tx.db.clusterOf(cls)

	if f.Contains(DumpClassHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (cluster %d, %d records)\n", prefix, cluster, s.Records)
	}

	if f.Contains(DumpRecords) {
		c := tx.ktx.Bucket(clusterBucketName(cluster)).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			rid := RID{Cluster: cluster, Position: positionFromKey(k)}
			rec, err := tx.loadRecord(rid)
			if err != nil {
				fmt.Fprintf(w, "%s%v ** ERROR: %v\n", prefix, rid, err)
				continue
			}
			fmt.Fprintf(w, "%s%v = (v%d) %s\n", prefix, rid, rec.version, loggableRecord(rec))
		}
	}

	if f.Contains(DumpIndexes) {
		for _, idx := range tx.db.ClassIndexes(cls.name) {
			tx.dumpIndex(w, prefix, f, idx)
		}
	}
}

func (tx *Tx) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, idx *Index) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + idx.name
	fmt.Fprintf(w, "%s (0x%x) %v\n", prefix, idx.ordinal, idx)
	if f.Contains(DumpStats) {
		s := tx.IndexStats(idx)
		fmt.Fprintf(w, "%s.stats: entries = %d, distinct_keys = %d, null_keys = %d\n", prefix, s.Entries, s.DistinctKeys, s.NullKeys)
	}

	if f.Contains(DumpIndexEntries) {
		var pos int
		err := idx.Scan(tx, All(), func(key Key, rid RID) bool {
			pos++
			fmt.Fprintf(w, "%s.%d: %v => %v\n", prefix, pos, key, rid)
			return true
		})
		if err != nil {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
		}
	}
}

package docindex

import (
	"bytes"
	"fmt"
)

type IndexStats struct {
	Entries      int
	DistinctKeys int
	NullKeys     int
}

func (tx *Tx) IndexStats(idx *Index) IndexStats {
	var s IndexStats
	var last []byte
	c := tx.ktx.Bucket(idx.bucket).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		s.Entries++
		_, rest := must2(decodeKey(k, len(idx.keyTypes)))
		raw := k[:len(k)-len(rest)]
		if last == nil || !bytes.Equal(raw, last) {
			s.DistinctKeys++
			last = bytes.Clone(raw)
		}
		if raw[0] == tagNull {
			s.NullKeys++
		}
	}
	return s
}

type ClassStats struct {
	Records int
	Indexes int
}

// ClassStats counts the records stored in the class's own cluster and the
// indexes that cover the class.
func (tx *Tx) ClassStats(cls *Class) ClassStats {
	var s ClassStats
	if b := tx.ktx.Bucket(clusterBucketName(tx.db.clusterOf(cls))); b != nil {
		s.Records = b.KeyCount()
	}
	s.Indexes = len(tx.db.classIndexes(cls))
	return s
}

func loggableRecord(rec *Record) string {
	if rec == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s%v %v", rec.class, rec.rid, rec.fields)
}

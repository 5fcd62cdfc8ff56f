package docindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// indexKey is an extracted key together with its encoding.
type indexKey struct {
	enc []byte
	key Key
}

// encodeKeySet encodes keys for idx, sorted by encoding, with duplicates
// removed.
func encodeKeySet(idx *Index, keys []Key) ([]indexKey, error) {
	out := make([]indexKey, 0, len(keys))
	for _, key := range keys {
		enc, canon, err := idx.encodeKey(key)
		if err != nil {
			return nil, err
		}
		out = append(out, indexKey{enc, canon})
	}
	slices.SortFunc(out, func(a, b indexKey) int {
		return bytes.Compare(a.enc, b.enc)
	})
	return slices.CompactFunc(out, func(a, b indexKey) bool {
		return bytes.Equal(a.enc, b.enc)
	}), nil
}

// diffKeys walks two sorted key sets in step and reports the keys only in
// old and the keys only in new. Keys present in both are left alone.
func diffKeys(old, cur []indexKey, removed, added func(k indexKey)) {
	for len(old) > 0 || len(cur) > 0 {
		var c int
		switch {
		case len(old) == 0:
			c = 1
		case len(cur) == 0:
			c = -1
		default:
			c = bytes.Compare(old[0].enc, cur[0].enc)
		}
		switch {
		case c < 0:
			removed(old[0])
			old = old[1:]
		case c > 0:
			added(cur[0])
			cur = cur[1:]
		default:
			old, cur = old[1:], cur[1:]
		}
	}
}

type indexChange struct {
	idx *Index
	indexKey
}

// indexChanges computes the mutations that bring every affected index from
// the record's prior state to its current state. A nil prior state means a
// new record; deleting means an empty current state.
func (tx *Tx) indexChanges(rec *Record, cls *Class, isNew, deleting bool) (removes, puts []indexChange, err error) {
	var changed []string
	if !isNew && !deleting {
		changed = rec.changedFields()
		if len(changed) == 0 {
			return nil, nil, nil
		}
	}
	for _, idx := range tx.db.classIndexes(cls) {
		if changed != nil && !touchesAny(idx.def, changed) {
			continue
		}
		var oldKeys, newKeys []Key
		if !isNew {
			var ok bool
			oldKeys, ok = timelineOldKeys(idx.def, rec)
			if ok {
				tx.db.metrics.timelineDiff.Inc()
			} else {
				oldKeys = extractPrior(idx.def, rec, idx.ignoreNulls)
			}
		}
		if !deleting {
			newKeys = Extract(idx.def, rec, idx.ignoreNulls)
		}
		oldSet, err := encodeKeySet(idx, oldKeys)
		if err != nil {
			return nil, nil, err
		}
		newSet, err := encodeKeySet(idx, newKeys)
		if err != nil {
			return nil, nil, err
		}
		diffKeys(oldSet, newSet, func(k indexKey) {
			removes = append(removes, indexChange{idx, k})
		}, func(k indexKey) {
			puts = append(puts, indexChange{idx, k})
		})
	}
	return removes, puts, nil
}

func touchesAny(def IndexDefinition, fields []string) bool {
	for _, f := range def.Fields() {
		if slices.Contains(fields, f) {
			return true
		}
	}
	return false
}

// onRecordSaved brings the indexes in line with a saved record. All
// removals are applied before any insertion. If an insertion hits a
// duplicate key, every mutation made for this record is undone and the
// error wraps both ErrRecordDuplicated and ErrDuplicateKey.
func (tx *Tx) onRecordSaved(rec *Record, cls *Class, rid RID, isNew bool) error {
	removes, puts, err := tx.indexChanges(rec, cls, isNew, false)
	if err != nil {
		return &RecordError{RID: rid, Class: rec.class, Msg: "cannot index record", Err: err}
	}
	return tx.applyIndexChanges(rec, rid, removes, puts)
}

// onRecordDeleted removes every index entry of a record, as of its last
// saved state.
func (tx *Tx) onRecordDeleted(rec *Record, cls *Class) error {
	removes, _, err := tx.indexChanges(rec, cls, false, true)
	if err != nil {
		return &RecordError{RID: rec.rid, Class: rec.class, Msg: "cannot unindex record", Err: err}
	}
	return tx.applyIndexChanges(rec, rec.rid, removes, nil)
}

func (tx *Tx) applyIndexChanges(rec *Record, rid RID, removes, puts []indexChange) error {
	mark := tx.undo.mark()
	for _, ch := range removes {
		applied, err := ch.idx.remove(tx, ch.enc, ch.key, rid)
		if err != nil {
			tx.undo.revertTo(tx, mark)
			return err
		}
		if applied {
			tx.undo.add(undoOp{idx: ch.idx, enc: ch.enc, key: ch.key, rid: rid, put: false})
		}
	}
	for _, ch := range puts {
		applied, err := ch.idx.put(tx, ch.enc, ch.key, rid)
		if err != nil {
			n := tx.undo.Len() - mark
			tx.undo.revertTo(tx, mark)
			tx.db.logger.LogAttrs(context.Background(), slog.LevelWarn, "record rejected", slog.String("class", rec.class), slog.String("rid", rid.String()), slog.Int("undone", n), slog.String("err", err.Error()), slog.String("tx", tx.id.String()))
			if !errors.Is(err, ErrDuplicateKey) {
				return err
			}
			tx.db.metrics.rejectedSaves.Inc()
			return recordDuplicatedErr(rec, err)
		}
		if applied {
			tx.undo.add(undoOp{idx: ch.idx, enc: ch.enc, key: ch.key, rid: rid, put: true})
		}
	}
	return nil
}

// validateRecord checks that collection fields hold the kind of container
// their property declares.
func validateRecord(cls *Class, rec *Record) error {
	for _, name := range rec.names {
		prop := cls.Property(name)
		if prop == nil {
			continue
		}
		v := rec.fields[name]
		if v == nil {
			continue
		}
		vt := valueType(v)
		if prop.typ.IsCollection() || vt.IsCollection() {
			if vt != prop.typ {
				return &RecordError{RID: rec.rid, Class: rec.class, Msg: fmt.Sprintf("field %s holds %v, declared as %v", name, vt, prop.typ), Err: ErrTypeMismatch}
			}
		}
	}
	return nil
}

package docindex

import (
	"fmt"

	"github.com/andreyvit/docindex/kv"
)

type predicateOp int

const (
	opAll predicateOp = iota
	opEq
	opGt
	opGte
	opLt
	opLte
	opBetween
	opIsNull
)

// Predicate selects index entries by key. Keys given to a predicate may be
// partial: for a composite index, Gt(1) selects keys whose first component
// is greater than 1.
//
// Range predicates never match keys whose first component is null; Eq(nil),
// IsNull and All do.
type Predicate struct {
	op     predicateOp
	lo, hi Key
	desc   bool
}

func All() Predicate               { return Predicate{op: opAll} }
func IsNull() Predicate            { return Predicate{op: opIsNull} }
func Eq(key ...any) Predicate      { return Predicate{op: opEq, lo: key} }
func Gt(key ...any) Predicate      { return Predicate{op: opGt, lo: key} }
func Gte(key ...any) Predicate     { return Predicate{op: opGte, lo: key} }
func Lt(key ...any) Predicate      { return Predicate{op: opLt, hi: key} }
func Lte(key ...any) Predicate     { return Predicate{op: opLte, hi: key} }
func Between(lo, hi Key) Predicate { return Predicate{op: opBetween, lo: lo, hi: hi} }

// Desc returns the same predicate iterating in descending key order.
func (p Predicate) Desc() Predicate {
	p.desc = true
	return p
}

func (p Predicate) String() string {
	var s string
	switch p.op {
	case opAll:
		s = "all"
	case opIsNull:
		s = "is null"
	case opEq:
		s = "= " + p.lo.String()
	case opGt:
		s = "> " + p.lo.String()
	case opGte:
		s = ">= " + p.lo.String()
	case opLt:
		s = "< " + p.hi.String()
	case opLte:
		s = "<= " + p.hi.String()
	case opBetween:
		s = fmt.Sprintf("between %v and %v", p.lo, p.hi)
	}
	if p.desc {
		s += " desc"
	}
	return s
}

// nonNull is the lowest key whose first component is not null.
var nonNull = []byte{firstNonNullTag}

// rangeFor turns the predicate into a key store range over idx.
func (p Predicate) rangeFor(idx *Index) (kv.Range, error) {
	var r kv.Range
	var lo, hi []byte
	var err error
	if p.lo != nil {
		if lo, _, err = idx.encodeKey(p.lo); err != nil {
			return r, err
		}
	}
	if p.hi != nil {
		if hi, _, err = idx.encodeKey(p.hi); err != nil {
			return r, err
		}
	}
	switch p.op {
	case opAll:
		r = kv.All()
	case opIsNull:
		r = kv.PrefixRange([]byte{tagNull})
	case opEq:
		r = kv.PrefixRange(lo)
	case opGt:
		r = kv.From(successorOrEnd(lo))
	case opGte:
		r = kv.From(maxBytes(lo, nonNull))
	case opLt:
		r = kv.Within(nonNull, hi)
	case opLte:
		r = kv.Within(nonNull, successorOrEnd(hi))
	case opBetween:
		r = kv.Within(maxBytes(lo, nonNull), successorOrEnd(hi))
	}
	r.Reverse = p.desc
	return r, nil
}

// successorOrEnd returns the first key past every key starting with k.
// Encoded keys always end with a byte below 0xFF, so the successor exists.
func successorOrEnd(k []byte) []byte {
	if s := kv.Successor(k); s != nil {
		return s
	}
	return []byte{0xFF, 0xFF, 0xFF, 0xFF}
}

func maxBytes(a, b []byte) []byte {
	if string(a) >= string(b) {
		return a
	}
	return b
}

// Query returns the RIDs of the entries matching the predicate, in key
// order. A record indexed under several matching keys appears once per key.
func (idx *Index) Query(tx *Tx, pred Predicate) ([]RID, error) {
	var out []RID
	err := idx.Scan(tx, pred, func(_ Key, rid RID) bool {
		out = append(out, rid)
		return true
	})
	return out, err
}

// Scan calls f for every entry matching the predicate until f returns
// false.
func (idx *Index) Scan(tx *Tx, pred Predicate, f func(key Key, rid RID) bool) error {
	r, err := pred.rangeFor(idx)
	if err != nil {
		return err
	}
	return idx.scanRange(tx, r, f)
}

// First returns the lowest entry of the index, nulls included.
func (idx *Index) First(tx *Tx) (Key, RID, bool) {
	return idx.edge(tx, kv.All())
}

// Last returns the highest entry of the index.
func (idx *Index) Last(tx *Tx) (Key, RID, bool) {
	return idx.edge(tx, kv.All().Reversed())
}

func (idx *Index) edge(tx *Tx, r kv.Range) (key Key, rid RID, ok bool) {
	rid = InvalidRID
	err := idx.scanRange(tx, r, func(k Key, v RID) bool {
		key, rid, ok = k, v, true
		return false
	})
	ensure(err)
	return
}

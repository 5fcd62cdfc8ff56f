package kv

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
)

const debugLogScans = false

// Range defines a half-open range of byte strings [Lower, Upper). A nil
// bound is open. Reverse scans from the upper end.
type Range struct {
	Lower   []byte
	Upper   []byte
	Reverse bool
}

func All() Range                       { return Range{} }
func From(lower []byte) Range          { return Range{Lower: lower} }
func Below(upper []byte) Range         { return Range{Upper: upper} }
func Within(lower, upper []byte) Range { return Range{Lower: lower, Upper: upper} }

// PrefixRange covers every key starting with p.
func PrefixRange(p []byte) Range {
	return Range{Lower: p, Upper: Successor(p)}
}

func (r Range) Reversed() Range { r.Reverse = true; return r }

// Empty reports whether no key can fall within the range.
func (r Range) Empty() bool {
	return r.Lower != nil && r.Upper != nil && bytes.Compare(r.Lower, r.Upper) >= 0
}

func (r Range) Contains(k []byte) bool {
	if r.Lower != nil && bytes.Compare(k, r.Lower) < 0 {
		return false
	}
	if r.Upper != nil && bytes.Compare(k, r.Upper) >= 0 {
		return false
	}
	return true
}

func (r *Range) start(c Cursor, logger *slog.Logger) ([]byte, []byte) {
	if r.Empty() {
		return nil, nil
	}
	var k, v []byte
	if r.Reverse {
		if r.Upper != nil {
			k, _ = c.Seek(r.Upper)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
		r.trace(logger, "START reverse", k)
	} else {
		if r.Lower != nil {
			k, v = c.Seek(r.Lower)
		} else {
			k, v = c.First()
		}
		r.trace(logger, "START", k)
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *Range) next(c Cursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = c.Prev()
		r.trace(logger, "PREV", k)
	} else {
		k, v = c.Next()
		r.trace(logger, "NEXT", k)
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

// match only checks the bound the scan is moving towards; the other one has
// already been satisfied by the initial seek.
func (r *Range) match(k []byte) bool {
	if r.Reverse {
		return r.Lower == nil || bytes.Compare(k, r.Lower) >= 0
	}
	return r.Upper == nil || bytes.Compare(k, r.Upper) < 0
}

func (r *Range) trace(logger *slog.Logger, msg string, k []byte) {
	if debugLogScans && logger != nil {
		logger.LogAttrs(context.Background(), slog.LevelDebug, msg, slog.String("key", hex.EncodeToString(k)))
	}
}

// Cursor returns a cursor that walks the bucket within the range.
func (r Range) Cursor(b Bucket, logger *slog.Logger) *RangeCursor {
	return &RangeCursor{rang: r, bcur: b.Cursor(), logger: logger}
}

type RangeCursor struct {
	rang   Range
	bcur   Cursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (c *RangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *RangeCursor) Key() []byte   { return c.k }
func (c *RangeCursor) Value() []byte { return c.v }

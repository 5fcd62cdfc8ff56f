package docindex

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Property values are held as plain Go values:
//
//	nil                         Null
//	bool                        BOOLEAN
//	int8, int16, int32, int64   BYTE, SHORT, INTEGER, LONG
//	float32, float64            FLOAT, DOUBLE
//	string                      STRING
//	time.Time                   DATE
//	[]byte                      BINARY
//	RID                         LINK
//	*Record                     EMBEDDED
//	*List, *Set, *Map           EMBEDDED/LINK LIST, SET, MAP
//
// normalizeValue maps other common Go types onto these.
func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, int8, int16, int32, int64, float32, float64, string, RID, *Record, *List, *Set, *Map:
		return v, nil
	case int:
		return int64(v), nil
	case uint8:
		return int16(v), nil
	case uint16:
		return int32(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows LONG", ErrTypeMismatch, v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows LONG", ErrTypeMismatch, v)
		}
		return int64(v), nil
	case time.Time:
		return v, nil
	case []byte:
		return bytes.Clone(v), nil
	case []any:
		return NewEmbeddedList(v...), nil
	case []string:
		return NewEmbeddedList(anySlice(v)...), nil
	case []int:
		return NewEmbeddedList(anySlice(v)...), nil
	case []int64:
		return NewEmbeddedList(anySlice(v)...), nil
	case []float64:
		return NewEmbeddedList(anySlice(v)...), nil
	case []RID:
		return NewLinkList(anySlice(v)...), nil
	case map[string]any:
		return newMapFrom(false, v), nil
	case map[string]string:
		return newMapFrom(false, v), nil
	case map[string]int:
		return newMapFrom(false, v), nil
	case map[string]RID:
		return newMapFrom(true, v), nil
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T", ErrTypeMismatch, v)
	}
}

func anySlice[T any](items []T) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}

func mustNormalize(v any) any {
	return must(normalizeValue(v))
}

// cloneValue returns a deep copy. Containers come back detached from any
// record, with a fresh tracker.
func cloneValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return bytes.Clone(v)
	case *Record:
		return v.clone()
	case *List:
		return v.clone()
	case *Set:
		return v.clone()
	case *Map:
		return v.clone()
	default:
		return v
	}
}

// valuesEqual is deep equality over property values. Numbers of different
// Go types are never equal.
func valuesEqual(a, b any) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case []byte:
		bb, ok := b.([]byte)
		return ok && bytes.Equal(a, bb)
	case time.Time:
		bt, ok := b.(time.Time)
		return ok && a.Equal(bt)
	case *Record:
		br, ok := b.(*Record)
		return ok && a.equalFields(br)
	case *List:
		bl, ok := b.(*List)
		return ok && a.link == bl.link && slicesEqual(a.items, bl.items)
	case *Set:
		bs, ok := b.(*Set)
		return ok && a.link == bs.link && slicesEqual(a.items, bs.items)
	case *Map:
		bm, ok := b.(*Map)
		if !ok || a.link != bm.link || len(a.keys) != len(bm.keys) {
			return false
		}
		for k, v := range a.values {
			bv, ok := bm.values[k]
			if !ok || !valuesEqual(v, bv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func slicesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// convertToKeyType converts v to the canonical representation of an index
// key component of type t: bool, int64, float64, string, time.Time, []byte
// or RID. nil stays nil.
func convertToKeyType(v any, t PropertyType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeBoolean:
		switch v := v.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err == nil {
				return b, nil
			}
		}
	case TypeInteger, TypeShort, TypeLong, TypeByte:
		n, ok := toInt64(v)
		if !ok {
			break
		}
		if lo, hi := intRange(t); n < lo || n > hi {
			return nil, fmt.Errorf("%w: %d is out of range for %v", ErrTypeMismatch, n, t)
		}
		return n, nil
	case TypeFloat, TypeDouble:
		f, ok := toFloat64(v)
		if !ok {
			break
		}
		if t == TypeFloat {
			f = float64(float32(f))
		}
		return f, nil
	case TypeString:
		switch v := v.(type) {
		case string:
			return v, nil
		case bool, int8, int16, int32, int64, float32, float64:
			return fmt.Sprint(v), nil
		case RID:
			return v.String(), nil
		}
	case TypeDate:
		switch v := v.(type) {
		case time.Time:
			return v.UTC(), nil
		case int64:
			return time.UnixMilli(v).UTC(), nil
		}
	case TypeBinary:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	case TypeLink:
		switch v := v.(type) {
		case RID:
			return v, nil
		case *Record:
			if v.RID().IsValid() {
				return v.RID(), nil
			}
			return nil, fmt.Errorf("%w: cannot link to an unsaved record", ErrTypeMismatch)
		case string:
			return ParseRID(v)
		}
	}
	return nil, fmt.Errorf("%w: cannot convert %T to %v", ErrTypeMismatch, v, t)
}

func intRange(t PropertyType) (int64, int64) {
	switch t {
	case TypeByte:
		return math.MinInt8, math.MaxInt8
	case TypeShort:
		return math.MinInt16, math.MaxInt16
	case TypeInteger:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float32:
		return toInt64(float64(v))
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch v := v.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

// valueType reports the natural property type of a normalized value.
func valueType(v any) PropertyType {
	switch v := v.(type) {
	case bool:
		return TypeBoolean
	case int8:
		return TypeByte
	case int16:
		return TypeShort
	case int32:
		return TypeInteger
	case int64:
		return TypeLong
	case float32:
		return TypeFloat
	case float64:
		return TypeDouble
	case string:
		return TypeString
	case time.Time:
		return TypeDate
	case []byte:
		return TypeBinary
	case RID:
		return TypeLink
	case *Record:
		return TypeEmbedded
	case *List:
		if v.link {
			return TypeLinkList
		}
		return TypeEmbeddedList
	case *Set:
		if v.link {
			return TypeLinkSet
		}
		return TypeEmbeddedSet
	case *Map:
		if v.link {
			return TypeLinkMap
		}
		return TypeEmbeddedMap
	default:
		return TypeAny
	}
}

package docindex

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeOne(t *testing.T, typ PropertyType, v any) []byte {
	t.Helper()
	b, _, err := encodeKey([]PropertyType{typ}, Key{v})
	require.NoError(t, err)
	return b
}

func assertAscending(t *testing.T, typ PropertyType, values ...any) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		a, b := encodeOne(t, typ, values[i-1]), encodeOne(t, typ, values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("%v (%x) does not sort before %v (%x)", values[i-1], a, values[i], b)
		}
	}
}

func TestEncodeKey_Ordering(t *testing.T) {
	assertAscending(t, TypeLong, nil, int64(math.MinInt64), int64(-1000), int64(-1), int64(0), int64(1), int64(1000), int64(math.MaxInt64))
	assertAscending(t, TypeDouble, nil, math.Inf(-1), -1e300, -1.5, -1e-300, 0.0, 1e-300, 0.5, 1.0, 1e300, math.Inf(1))
	assertAscending(t, TypeString, nil, "", "a", "a\x00", "a\x00\x00", "a\x01", "ab", "b", "\xff")
	assertAscending(t, TypeBinary, nil, []byte{}, []byte{0}, []byte{0, 0}, []byte{1}, []byte{1, 0})
	assertAscending(t, TypeBoolean, nil, false, true)
	assertAscending(t, TypeDate, nil,
		time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 1, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	assertAscending(t, TypeLink, nil, RID{0, 5}, RID{0, 6}, RID{1, 0}, RID{12, 3})
}

func TestEncodeKey_NegativeZero(t *testing.T) {
	assert.Equal(t, encodeOne(t, TypeDouble, 0.0), encodeOne(t, TypeDouble, math.Copysign(0, -1)))
}

func TestEncodeKey_TypeTagsOrder(t *testing.T) {
	var prev []byte
	for _, v := range []any{nil, true, int64(-5), -5.0, time.Unix(0, 0).UTC(), "", []byte{}, RID{}} {
		b := appendKeyComponent(nil, v)
		if prev != nil {
			assert.Negative(t, bytes.Compare(prev, b), "%T", v)
		}
		prev = b
	}
}

func TestEncodeKey_CompositeIsPrefixOrdered(t *testing.T) {
	types := []PropertyType{TypeString, TypeInteger}
	enc := func(key ...any) []byte {
		b, _, err := encodeKey(types, key)
		require.NoError(t, err)
		return b
	}
	assert.True(t, bytes.HasPrefix(enc("a", 1), enc("a")))
	assert.False(t, bytes.HasPrefix(enc("ab", 1), enc("a")))
	assert.Negative(t, bytes.Compare(enc("a", 9), enc("a\x00", 0)))
	assert.Negative(t, bytes.Compare(enc("a", nil), enc("a", -1)))
	assert.Negative(t, bytes.Compare(enc("a", 2), enc("b", 1)))
}

func TestEncodeKey_Converts(t *testing.T) {
	tests := []struct {
		typ  PropertyType
		in   any
		want any
	}{
		{TypeInteger, "42", int64(42)},
		{TypeInteger, 7.0, int64(7)},
		{TypeLong, int32(-3), int64(-3)},
		{TypeDouble, 2, 2.0},
		{TypeFloat, 0.1, float64(float32(0.1))},
		{TypeString, int64(5), "5"},
		{TypeString, RID{1, 2}, "#1:2"},
		{TypeBoolean, "true", true},
		{TypeBinary, "ab", []byte("ab")},
		{TypeLink, "#3:4", RID{3, 4}},
		{TypeDate, int64(1000), time.Unix(1, 0).UTC()},
		{TypeString, nil, nil},
	}
	for _, tt := range tests {
		_, canon, err := encodeKey([]PropertyType{tt.typ}, Key{tt.in})
		require.NoError(t, err, "%v %v", tt.typ, tt.in)
		assert.Equal(t, tt.want, canon[0], "%v %v", tt.typ, tt.in)
	}
}

func TestEncodeKey_Rejects(t *testing.T) {
	tests := []struct {
		typ PropertyType
		in  any
	}{
		{TypeByte, 300},
		{TypeInteger, int64(math.MaxInt32) + 1},
		{TypeInteger, 1.5},
		{TypeInteger, "x"},
		{TypeBoolean, 1},
		{TypeLink, NewRecord("Account")},
		{TypeDate, "yesterday"},
	}
	for _, tt := range tests {
		_, _, err := encodeKey([]PropertyType{tt.typ}, Key{tt.in})
		assert.ErrorIs(t, err, ErrTypeMismatch, "%v %v", tt.typ, tt.in)
	}

	_, _, err := encodeKey([]PropertyType{TypeString}, Key{"a", "b"})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeKey(t *testing.T) {
	types := []PropertyType{TypeString, TypeLong, TypeDouble, TypeBoolean, TypeBinary, TypeLink, TypeDate}
	when := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	in := Key{"x\x00y", int64(-42), -0.25, true, []byte{0, 1, 0}, RID{2, 9}, when}
	enc, canon, err := encodeKey(types, in)
	require.NoError(t, err)

	tail := []byte{0xAA}
	out, rest, err := decodeKey(append(enc, tail...), len(types))
	require.NoError(t, err)
	assert.Equal(t, tail, rest)
	assert.Equal(t, canon[:6], out[:6])
	assert.True(t, when.Equal(out[6].(time.Time)))

	nulls, rest, err := decodeKey([]byte{tagNull, tagNull}, 2)
	require.NoError(t, err)
	assert.Equal(t, Key{nil, nil}, nulls)
	assert.Empty(t, rest)
}

func TestDecodeKey_Corrupt(t *testing.T) {
	for _, data := range [][]byte{
		{},
		{tagInt, 1, 2},
		{tagString, 'a', 0},
		{tagString, 'a', 0, 2},
		{0xEE},
		{tagLink, 0, 0},
	} {
		_, _, err := decodeKey(data, 1)
		assert.Error(t, err, "%x", data)
	}
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, `"a"`, Key{"a"}.String())
	assert.Equal(t, "null", Key{nil}.String())
	assert.Equal(t, `(1, "b", null, #1:2)`, Key{int64(1), "b", nil, RID{1, 2}}.String())
	assert.Equal(t, "0x0102", Key{[]byte{1, 2}}.String())
}

func TestKey_HasNull(t *testing.T) {
	assert.True(t, Key{}.HasNull())
	assert.True(t, Key{"a", nil}.HasNull())
	assert.False(t, Key{"a", int64(0)}.HasNull())
}

package docindex

import (
	"errors"
	"reflect"
	"testing"
)

func TestBytesBuilder(t *testing.T) {
	var bb bytesBuilder
	_, _ = bb.Write([]byte{1, 2})
	_ = bb.WriteByte(3)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3}) {
		t.Fatalf("bb.Buf = %x, wanted 010203", bb.Buf)
	}
}

func TestEnsureCapacity(t *testing.T) {
	buf := ensureCapacity([]byte{1}, 3)
	if cap(buf) < 16 || len(buf) != 1 || buf[0] != 1 {
		t.Fatalf("ensureCapacity = len %d cap %d %x, wanted len 1 cap >= 16", len(buf), cap(buf), buf)
	}
	buf = ensureCapacity(buf, 100)
	if cap(buf) < 100 {
		t.Fatalf("cap = %d, wanted >= 100", cap(buf))
	}
	same := ensureCapacity(buf, 10)
	if &same[0] != &buf[0] {
		t.Fatalf("ensureCapacity reallocated a large enough buffer")
	}
}

func TestByteDecoder(t *testing.T) {
	buf := appendUvarint(nil, 300)
	buf = appendUvarint(buf, 1)
	buf = append(buf, 0xAA, 0xBB, 0xCC)

	d := makeByteDecoder(buf)
	if v, err := d.Uvarint(); err != nil || v != 300 {
		t.Fatalf("Uvarint #1 = (%d, %v), wanted 300", v, err)
	}
	if d.Off() != 2 {
		t.Fatalf("Off = %d, wanted 2", d.Off())
	}
	if v, err := d.Uvarint(); err != nil || v != 1 {
		t.Fatalf("Uvarint #2 = (%d, %v), wanted 1", v, err)
	}
	if rest := d.Rest(); !reflect.DeepEqual(rest, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("Rest = %x, wanted aabbcc", rest)
	}

	var de *DataError
	if _, err := d.Uvarint(); !errors.As(err, &de) {
		t.Fatalf("Uvarint at end = %v, wanted *DataError", err)
	}
}

func TestRecordValue(t *testing.T) {
	body := &storedRecord{Class: "Account", Fields: []storedField{{Name: "id", Value: toStoredValue(int64(7))}}}
	raw := appendRecordValue(nil, 5, body)

	var vle recordValue
	if err := vle.decode(raw); err != nil {
		t.Fatal(err)
	}
	if vle.FormatVer != valueFormatVerLatest || vle.ModCount != 5 {
		t.Fatalf("header = (%d, %d), wanted (%d, 5)", vle.FormatVer, vle.ModCount, valueFormatVerLatest)
	}
	sr, err := vle.body()
	if err != nil {
		t.Fatal(err)
	}
	names, values, err := sr.fieldValues()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"id"}) || values["id"] != int64(7) {
		t.Fatalf("fields = %v %v, wanted [id] map[id:7]", names, values)
	}

	if err := vle.decode([]byte{9, 0, 0}); err == nil {
		t.Fatalf("decode accepted format version 9")
	}
	if err := vle.decode([]byte{1}); err == nil {
		t.Fatalf("decode accepted a truncated value")
	}
}

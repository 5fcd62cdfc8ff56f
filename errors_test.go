package docindex

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError(t *testing.T) {
	inner := errors.New("inner")
	err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T, wanted *DataError", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	if s := err.Error(); s != "oops at 1: inner: (2) aabb" {
		t.Fatalf("err.Error() = %q", s)
	}

	data := make([]byte, 200)
	s := dataErrf(data, 0, nil, "big").Error()
	if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
		t.Fatalf("err.Error() = %q, wanted an elided dump", s)
	}
}

func TestIndexError(t *testing.T) {
	idx := &Index{name: "Account.email"}
	err := duplicateKeyErr(idx, Key{"a@example.com"}, RID{3, 1}, RID{3, 0})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("errors.Is(err, ErrDuplicateKey) = false")
	}
	want := `Account.email/"a@example.com": #3:1 cannot be indexed, key is already taken by #3:0: docindex: duplicate key`
	if s := err.Error(); s != want {
		t.Fatalf("err.Error() = %q, wanted %q", s, want)
	}
}

func TestRecordDuplicatedErr(t *testing.T) {
	rec := NewRecord("Account")
	cause := duplicateKeyErr(&Index{name: "i"}, Key{1}, InvalidRID, RID{3, 0})
	err := recordDuplicatedErr(rec, cause)
	if !errors.Is(err, ErrRecordDuplicated) || !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, wanted both ErrRecordDuplicated and ErrDuplicateKey", err)
	}
	var ie *IndexError
	if !errors.As(err, &ie) || ie.Existing != (RID{3, 0}) {
		t.Fatalf("errors.As(*IndexError) = %v", ie)
	}
	if s := err.Error(); !strings.HasPrefix(s, "Account: cannot save record: docindex: record duplicated: i/1") {
		t.Fatalf("err.Error() = %q", s)
	}
}

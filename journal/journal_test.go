package journal_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/andreyvit/docindex/journal"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func open(t testing.TB, dir string, o journal.Options) *journal.Journal {
	t.Helper()
	if o.FileName == "" {
		o.FileName = "j-*.jrnl"
	}
	o.NoSync = true
	o.Now = func() time.Time { return epoch }
	j, err := journal.Open(dir, o)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func readAll(t testing.TB, j *journal.Journal, from uint64) (seqs []uint64, data []string) {
	t.Helper()
	err := j.Read(from, func(rec journal.Record) bool {
		seqs = append(seqs, rec.Seq)
		data = append(data, string(rec.Data))
		if !rec.Time.Equal(epoch) {
			t.Errorf("record %d time = %v, wanted %v", rec.Seq, rec.Time, epoch)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return
}

func TestJournal_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir, journal.Options{})
	for i, s := range []string{"hello", "w", "orld"} {
		seq := must(j.Append([]byte(s)))
		deepEq(t, seq, uint64(i+1))
	}

	seqs, data := readAll(t, j, 0)
	deepEq(t, seqs, []uint64{1, 2, 3})
	deepEq(t, data, []string{"hello", "w", "orld"})

	_, data = readAll(t, j, 2)
	deepEq(t, data, []string{"w", "orld"})

	var n int
	ensure(j.Read(1, func(rec journal.Record) bool {
		n++
		return false
	}))
	deepEq(t, n, 1)

	deepEq(t, fileNames(t, dir), []string{"j-000000000001.jrnl"})
}

func TestJournal_Reopen(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir, journal.Options{})
	must(j.Append([]byte("a")))
	must(j.Append([]byte("b")))
	ensure(j.Close())

	j = open(t, dir, journal.Options{})
	deepEq(t, j.LastSeq(), uint64(2))
	deepEq(t, must(j.Append([]byte("c"))), uint64(3))
	_, data := readAll(t, j, 0)
	deepEq(t, data, []string{"a", "b", "c"})
	deepEq(t, j.SegmentCount(), 1)
}

func TestJournal_Rotation(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir, journal.Options{MaxFileSize: 40})
	for _, s := range []string{"one", "two", "three"} {
		must(j.Append([]byte(s)))
	}
	deepEq(t, j.SegmentCount(), 3)

	seqs, data := readAll(t, j, 2)
	deepEq(t, seqs, []uint64{2, 3})
	deepEq(t, data, []string{"two", "three"})

	j.Rotate()
	must(j.Append([]byte("four")))
	deepEq(t, j.SegmentCount(), 4)
	ensure(j.Close())

	j = open(t, dir, journal.Options{MaxFileSize: 40})
	deepEq(t, j.LastSeq(), uint64(4))
	deepEq(t, must(j.Append([]byte("five"))), uint64(5))
	seqs, _ = readAll(t, j, 0)
	deepEq(t, seqs, []uint64{1, 2, 3, 4, 5})
}

func TestJournal_TornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir, journal.Options{})
	must(j.Append([]byte("one")))
	must(j.Append([]byte("two")))
	ensure(j.Close())

	fn := filepath.Join(dir, "j-000000000001.jrnl")
	size := must(os.Stat(fn)).Size()
	appendBytes(t, fn, []byte{5, 1, 'x'})

	j = open(t, dir, journal.Options{})
	deepEq(t, j.LastSeq(), uint64(2))
	deepEq(t, must(os.Stat(fn)).Size(), size)

	deepEq(t, must(j.Append([]byte("three"))), uint64(3))
	_, data := readAll(t, j, 0)
	deepEq(t, data, []string{"one", "two", "three"})
}

func TestJournal_CorruptedRecordIsDropped(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir, journal.Options{})
	must(j.Append([]byte("one")))
	must(j.Append([]byte("two")))
	ensure(j.Close())

	fn := filepath.Join(dir, "j-000000000001.jrnl")
	raw := must(os.ReadFile(fn))
	raw[len(raw)-1] ^= 0xFF
	ensure(os.WriteFile(fn, raw, 0o666))

	j = open(t, dir, journal.Options{})
	deepEq(t, j.LastSeq(), uint64(1))
	_, data := readAll(t, j, 0)
	deepEq(t, data, []string{"one"})
}

func TestJournal_DamagedLastHeaderIsDeleted(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir, journal.Options{})
	must(j.Append([]byte("one")))
	ensure(j.Close())

	ensure(os.WriteFile(filepath.Join(dir, "j-000000000002.jrnl"), []byte("garbage"), 0o666))
	j = open(t, dir, journal.Options{})
	deepEq(t, fileNames(t, dir), []string{"j-000000000001.jrnl"})
	deepEq(t, j.LastSeq(), uint64(1))
}

func TestJournal_Closed(t *testing.T) {
	j := open(t, t.TempDir(), journal.Options{})
	ensure(j.Close())
	if _, err := j.Append([]byte("x")); !errors.Is(err, journal.ErrClosed) {
		t.Fatalf("Append after Close = %v, wanted ErrClosed", err)
	}
	if err := j.Read(0, func(journal.Record) bool { return true }); !errors.Is(err, journal.ErrClosed) {
		t.Fatalf("Read after Close = %v, wanted ErrClosed", err)
	}
}

func TestJournal_InvalidFileName(t *testing.T) {
	_, err := journal.Open(t.TempDir(), journal.Options{FileName: "nostar"})
	if err == nil {
		t.Fatalf("Open succeeded with a pattern without a star")
	}
}

func fileNames(t testing.TB, dir string) []string {
	var names []string
	for _, ent := range must(os.ReadDir(dir)) {
		names = append(names, ent.Name())
	}
	return names
}

func appendBytes(t testing.TB, fn string, data []byte) {
	f := must(os.OpenFile(fn, os.O_WRONLY|os.O_APPEND, 0))
	defer f.Close()
	must(f.Write(data))
}

func deepEq[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

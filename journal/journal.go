// Package journal implements append-only journals of checksummed records,
// kept as a sequence of segment files in one directory.
//
// File format:
//
//   - segment = header record*
//   - header = magic:64 ordinal:32 version:8 pad:24 firstSeq:64 checksum:64
//   - record = size:uvarint timestamp:uvarint data checksum:64
//
// Integers are little-endian. The header checksum covers the header fields,
// a record checksum covers its size, timestamp and data. Timestamps are Unix
// milliseconds. Sequence numbers are implicit: the n-th record of a segment
// (counting from zero) has sequence firstSeq+n.
//
// A crash can leave a torn record at the end of the last segment. Open
// truncates the segment after the last intact record, and deletes the last
// segment altogether if its header is damaged.
package journal

import (
	"bufio"
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrCorrupted          = errors.New("corrupted journal segment")
	ErrClosed             = errors.New("journal closed")
)

type Options struct {
	// FileName is the segment file name pattern, e.g. "changes-*.jrnl";
	// the star is replaced with the zero-padded segment ordinal.
	FileName string
	// MaxFileSize starts a new segment once the current one reaches it.
	MaxFileSize int64
	// NoSync skips the fsync after each append.
	NoSync bool

	Now     func() time.Time
	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x314c4e524a584944 // "DIXJRNL1" as little-endian uint64
	version0 uint8 = 0

	headerSize    = 32
	trailerSize   = 8
	maxRecordSize = 1 << 30
)

type segmentHeader struct {
	Magic    uint64
	Ordinal  uint32
	Version  uint8
	_        [3]uint8
	FirstSeq uint64
	Checksum uint64
}

// Record is one journal record as read back.
type Record struct {
	Seq  uint64
	Time time.Time
	Data []byte
}

type segment struct {
	name     string
	ordinal  uint32
	firstSeq uint64
}

// Journal is safe for concurrent use.
type Journal struct {
	dir         string
	prefix      string
	suffix      string
	maxFileSize int64
	noSync      bool
	now         func() time.Time
	logger      *slog.Logger
	verbose     bool

	lock     sync.Mutex
	segments []segment
	f        *os.File
	size     int64
	nextSeq  uint64
	err      error
	closed   bool
}

// Open opens the journal in dir, creating the directory if needed, and
// recovers the tail of the last segment.
func Open(dir string, o Options) (*Journal, error) {
	if o.FileName == "" {
		o.FileName = "*.jrnl"
	}
	prefix, suffix, ok := strings.Cut(o.FileName, "*")
	if !ok || strings.Contains(suffix, "*") {
		return nil, fmt.Errorf("journal: file name pattern %q must contain exactly one star", o.FileName)
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	j := &Journal{
		dir:         dir,
		prefix:      prefix,
		suffix:      suffix,
		maxFileSize: o.MaxFileSize,
		noSync:      o.NoSync,
		now:         o.Now,
		logger:      o.Logger,
		verbose:     o.Verbose,
		nextSeq:     1,
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) String() string {
	return j.dir
}

func (j *Journal) load() error {
	names, err := j.listSegmentFiles()
	if err != nil {
		return err
	}
	for i, name := range names {
		var h segmentHeader
		err := j.readHeaderFile(name, &h)
		if errors.Is(err, ErrCorrupted) && i == len(names)-1 {
			j.logger.LogAttrs(context.Background(), slog.LevelWarn, "journal: deleting segment with a damaged header", slog.String("dir", j.dir), slog.String("file", name))
			if err := os.Remove(filepath.Join(j.dir, name)); err != nil {
				return fmt.Errorf("journal: failed to delete damaged segment: %w", err)
			}
			break
		} else if err != nil {
			return fmt.Errorf("journal: %s: %w", name, err)
		}
		j.segments = append(j.segments, segment{name: name, ordinal: h.Ordinal, firstSeq: h.FirstSeq})
	}
	if len(j.segments) == 0 {
		return nil
	}
	return j.recoverTail()
}

// recoverTail finds the end of the last intact record of the last segment,
// truncates anything after it and reopens the segment for appending.
func (j *Journal) recoverTail() error {
	last := j.segments[len(j.segments)-1]
	fn := filepath.Join(j.dir, last.name)
	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	var ok bool
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	n, end, _, err := scanRecords(f, last.firstSeq, nil)
	if err != nil {
		return fmt.Errorf("journal: %s: %w", last.name, err)
	}
	if end < stat.Size() {
		j.logger.LogAttrs(context.Background(), slog.LevelWarn, "journal: truncating torn tail", slog.String("dir", j.dir), slog.String("file", last.name), slog.Int64("size", stat.Size()), slog.Int64("end", end))
		if err := f.Truncate(end); err != nil {
			return fmt.Errorf("journal: truncating %s: %w", last.name, err)
		}
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	j.f, j.size, j.nextSeq = f, end, last.firstSeq+n
	ok = true
	return nil
}

func (j *Journal) listSegmentFiles() ([]string, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	type entry struct {
		name    string
		ordinal uint64
	}
	var found []entry
	for _, ent := range ents {
		name := ent.Name()
		if !ent.Type().IsRegular() || !strings.HasPrefix(name, j.prefix) || !strings.HasSuffix(name, j.suffix) {
			continue
		}
		ord, err := strconv.ParseUint(name[len(j.prefix):len(name)-len(j.suffix)], 10, 32)
		if err != nil {
			continue
		}
		found = append(found, entry{name, ord})
	}
	slices.SortFunc(found, func(a, b entry) int {
		return cmp.Compare(a.ordinal, b.ordinal)
	})
	names := make([]string, len(found))
	for i, e := range found {
		names[i] = e.name
	}
	return names, nil
}

func (j *Journal) segmentName(ordinal uint32) string {
	return fmt.Sprintf("%s%012d%s", j.prefix, ordinal, j.suffix)
}

func (j *Journal) readHeaderFile(name string, h *segmentHeader) error {
	f, err := os.Open(filepath.Join(j.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	return readHeader(f, h)
}

func readHeader(r io.Reader, h *segmentHeader) error {
	var buf [headerSize]byte
	_, err := io.ReadFull(r, buf[:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrCorrupted
	} else if err != nil {
		return err
	}
	if _, err := binary.Decode(buf[:], binary.LittleEndian, h); err != nil {
		panic(err)
	}
	if h.Checksum != xxhash.Sum64(buf[:headerSize-8]) {
		return ErrCorrupted
	}
	if h.Magic != magic {
		return ErrIncompatible
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	return nil
}

func encodeHeader(ordinal uint32, firstSeq uint64) []byte {
	h := segmentHeader{
		Magic:    magic,
		Ordinal:  ordinal,
		Version:  version0,
		FirstSeq: firstSeq,
	}
	buf := make([]byte, headerSize)
	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != headerSize {
		panic("internal size mismatch")
	}
	binary.LittleEndian.PutUint64(buf[headerSize-8:], xxhash.Sum64(buf[:headerSize-8]))
	return buf
}

// Append writes a record and returns its sequence number. Empty records
// are not allowed. After a write error the journal refuses further appends.
func (j *Journal) Append(data []byte) (uint64, error) {
	if len(data) == 0 {
		panic("journal: empty record")
	}
	if len(data) > maxRecordSize {
		return 0, fmt.Errorf("journal: record of %d bytes is too large", len(data))
	}
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.closed {
		return 0, ErrClosed
	}
	if j.err != nil {
		return 0, j.err
	}

	if j.f == nil || j.size >= j.maxFileSize {
		if err := j.startSegment_locked(); err != nil {
			return 0, j.fail(err)
		}
	}

	buf := appendRecordHeader(make([]byte, 0, 2*binary.MaxVarintLen64+len(data)+trailerSize), len(data), uint64(j.now().UnixMilli()))
	buf = append(buf, data...)
	buf = binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
	if _, err := j.f.Write(buf); err != nil {
		return 0, j.fail(err)
	}
	if !j.noSync {
		if err := j.f.Sync(); err != nil {
			return 0, j.fail(err)
		}
	}
	j.size += int64(len(buf))
	seq := j.nextSeq
	j.nextSeq++
	if j.verbose {
		j.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal: appended", slog.String("dir", j.dir), slog.Uint64("seq", seq), slog.Int("size", len(data)))
	}
	return seq, nil
}

func (j *Journal) startSegment_locked() error {
	j.closeSegment_locked()

	var ordinal uint32 = 1
	if n := len(j.segments); n > 0 {
		ordinal = j.segments[n-1].ordinal + 1
	}
	name := j.segmentName(ordinal)
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return err
	}
	if _, err := f.Write(encodeHeader(ordinal, j.nextSeq)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	j.segments = append(j.segments, segment{name: name, ordinal: ordinal, firstSeq: j.nextSeq})
	j.f, j.size = f, headerSize
	if j.verbose {
		j.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal: new segment", slog.String("dir", j.dir), slog.String("file", name), slog.Uint64("first_seq", j.nextSeq))
	}
	return nil
}

func (j *Journal) closeSegment_locked() {
	if j.f != nil {
		j.f.Close()
		j.f = nil
	}
}

func (j *Journal) fail(err error) error {
	j.logger.LogAttrs(context.Background(), slog.LevelError, "journal: failed", slog.String("dir", j.dir), slog.Any("err", err))
	j.closeSegment_locked()
	if j.err == nil {
		j.err = fmt.Errorf("journal: %w", err)
	}
	return j.err
}

// Rotate makes the next append start a new segment.
func (j *Journal) Rotate() {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.closeSegment_locked()
}

// LastSeq returns the sequence number of the last appended record, or 0.
func (j *Journal) LastSeq() uint64 {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.nextSeq - 1
}

// SegmentCount returns the number of segment files.
func (j *Journal) SegmentCount() int {
	j.lock.Lock()
	defer j.lock.Unlock()
	return len(j.segments)
}

func (j *Journal) Close() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.f != nil {
		err := j.f.Close()
		j.f = nil
		return err
	}
	return nil
}

// Read calls f with every record whose sequence number is at least from,
// in order, until f returns false. Appends wait while Read runs.
func (j *Journal) Read(from uint64, f func(rec Record) bool) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.closed {
		return ErrClosed
	}
	for i, seg := range j.segments {
		if i+1 < len(j.segments) && j.segments[i+1].firstSeq <= from {
			continue
		}
		more, err := j.readSegment(seg, i == len(j.segments)-1, from, f)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (j *Journal) readSegment(seg segment, isLast bool, from uint64, f func(rec Record) bool) (bool, error) {
	file, err := os.Open(filepath.Join(j.dir, seg.name))
	if err != nil {
		return false, fmt.Errorf("journal: %w", err)
	}
	defer file.Close()
	var h segmentHeader
	if err := readHeader(file, &h); err != nil {
		return false, fmt.Errorf("journal: %s: %w", seg.name, err)
	}
	more := true
	_, _, clean, err := scanRecords(file, seg.firstSeq, func(rec Record) bool {
		if rec.Seq < from {
			return true
		}
		more = f(rec)
		return more
	})
	if err != nil {
		return false, fmt.Errorf("journal: %s: %w", seg.name, err)
	}
	if !clean && !isLast && more {
		return false, fmt.Errorf("%w: %s", ErrCorrupted, seg.name)
	}
	return more, nil
}

type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// scanRecords reads records from r, which is positioned right after the
// segment header. It stops at the end of the data, at the first torn or
// corrupted record (clean is false then), or when f returns false. end is
// the file offset just past the last intact record read.
func scanRecords(r io.Reader, firstSeq uint64, f func(rec Record) bool) (n uint64, end int64, clean bool, err error) {
	cr := &countingReader{r: bufio.NewReader(r), n: headerSize}
	torn := func(err error) bool {
		return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrCorrupted)
	}
	var hbuf [2 * binary.MaxVarintLen64]byte
	for {
		end = cr.n
		size, err := readUvarint(cr)
		if err == io.EOF {
			return n, end, true, nil
		} else if torn(err) {
			return n, end, false, nil
		} else if err != nil {
			return n, end, false, err
		}
		if size == 0 || size > maxRecordSize {
			return n, end, false, nil
		}
		ts, err := readUvarint(cr)
		if torn(err) {
			return n, end, false, nil
		} else if err != nil {
			return n, end, false, err
		}
		body := make([]byte, size+trailerSize)
		if _, err := io.ReadFull(cr, body); torn(err) {
			return n, end, false, nil
		} else if err != nil {
			return n, end, false, err
		}
		data := body[:size]

		var d xxhash.Digest
		d.Reset()
		d.Write(appendRecordHeader(hbuf[:0], int(size), ts))
		d.Write(data)
		if d.Sum64() != binary.LittleEndian.Uint64(body[size:]) {
			return n, end, false, nil
		}

		rec := Record{Seq: firstSeq + n, Time: time.UnixMilli(int64(ts)), Data: data}
		n++
		if f != nil && !f(rec) {
			return n, cr.n, true, nil
		}
	}
}

func appendRecordHeader(b []byte, size int, ts uint64) []byte {
	b = binary.AppendUvarint(b, uint64(size))
	return binary.AppendUvarint(b, ts)
}

// readUvarint is binary.ReadUvarint that reports overflow as ErrCorrupted
// and a partial varint as io.ErrUnexpectedEOF.
func readUvarint(r io.ByteReader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if b < 0x80 {
			if i == binary.MaxVarintLen64-1 && b > 1 {
				return 0, ErrCorrupted
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, ErrCorrupted
}

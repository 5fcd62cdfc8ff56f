package docindex

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateKey           = errors.New("docindex: duplicate key")
	ErrRecordDuplicated       = errors.New("docindex: record duplicated")
	ErrMalformedFieldSpec     = errors.New("docindex: malformed field specification")
	ErrUnknownProperty        = errors.New("docindex: unknown property")
	ErrUnknownClass           = errors.New("docindex: unknown class")
	ErrTrackingConflict       = errors.New("docindex: tracking conflict")
	ErrInvalidIndexDefinition = errors.New("docindex: invalid index definition")
	ErrInvalidIndexName       = errors.New("docindex: invalid index name")
	ErrIndexExists            = errors.New("docindex: index already exists")
	ErrIndexNotFound          = errors.New("docindex: index not found")
	ErrRecordNotFound         = errors.New("docindex: record not found")
	ErrJournalDisabled        = errors.New("docindex: change journal is not enabled")
	ErrTxClosed               = errors.New("docindex: transaction closed")
	ErrTxReadOnly             = errors.New("docindex: transaction is read-only")
	ErrTypeMismatch           = errors.New("docindex: type mismatch")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		}
		return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	if e.Err != nil {
		return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
	}
	return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
}

// IndexError reports a failed index operation. For duplicate keys, RID is
// the record being indexed and Existing the record that already holds Key.
type IndexError struct {
	Index    string
	Key      Key
	RID      RID
	Existing RID
	Msg      string
	Err      error
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func (e *IndexError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Index)
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(e.Key.String())
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func duplicateKeyErr(idx *Index, key Key, rid, existing RID) error {
	return &IndexError{
		Index:    idx.name,
		Key:      key,
		RID:      rid,
		Existing: existing,
		Msg:      fmt.Sprintf("%v cannot be indexed, key is already taken by %v", rid, existing),
		Err:      ErrDuplicateKey,
	}
}

// RecordError reports a failed record operation.
type RecordError struct {
	RID   RID
	Class string
	Msg   string
	Err   error
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Class)
	if e.RID.IsValid() {
		buf.WriteString(e.RID.String())
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// recordDuplicatedErr wraps a duplicate key failure; errors.Is matches both
// ErrRecordDuplicated and ErrDuplicateKey.
func recordDuplicatedErr(rec *Record, cause error) error {
	return &RecordError{
		RID:   rec.rid,
		Class: rec.class,
		Msg:   "cannot save record",
		Err:   &duplicated{cause},
	}
}

type duplicated struct {
	cause error
}

func (d *duplicated) Error() string {
	return ErrRecordDuplicated.Error() + ": " + d.cause.Error()
}

func (d *duplicated) Unwrap() []error {
	return []error{ErrRecordDuplicated, d.cause}
}

// FieldSpecError reports a field specification that cannot be turned into
// an index definition.
type FieldSpecError struct {
	Class string
	Spec  string
	Msg   string
	Err   error
}

func (e *FieldSpecError) Unwrap() error {
	return e.Err
}

func (e *FieldSpecError) Error() string {
	return e.Msg
}

func fieldSpecErrf(class, spec string, err error, format string, args ...any) error {
	return &FieldSpecError{Class: class, Spec: spec, Msg: fmt.Sprintf(format, args...), Err: err}
}

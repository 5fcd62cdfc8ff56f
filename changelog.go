package docindex

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/andreyvit/docindex/journal"
)

// ChangeSet is the journal entry of one committed transaction: the records
// it saved or deleted and the index mutations it applied, in order.
type ChangeSet struct {
	Seq     uint64         `msgpack:"-"`
	Time    time.Time      `msgpack:"-"`
	TxID    string         `msgpack:"tx"`
	Records []RecordChange `msgpack:"rec"`
	Indexes []IndexChange  `msgpack:"idx"`
}

// RecordChange describes a saved or deleted record. Fields lists the
// fields that changed since the record was loaded or last saved.
type RecordChange struct {
	RID     RID      `msgpack:"rid"`
	Class   string   `msgpack:"cls"`
	Version uint64   `msgpack:"ver"`
	Deleted bool     `msgpack:"del,omitempty"`
	Fields  []string `msgpack:"fld,omitempty"`
}

// IndexChange is one applied index mutation. Key is the encoded key; see
// DB.DecodeIndexChange.
type IndexChange struct {
	Index string `msgpack:"idx"`
	Key   []byte `msgpack:"key"`
	RID   RID    `msgpack:"rid"`
	Put   bool   `msgpack:"put,omitempty"`
}

func (c RecordChange) String() string {
	if c.Deleted {
		return fmt.Sprintf("DEL %s %v", c.Class, c.RID)
	}
	return fmt.Sprintf("SAVE %s %v v%d %v", c.Class, c.RID, c.Version, c.Fields)
}

func openJournal(opt Options, logger *slog.Logger) (*journal.Journal, error) {
	if opt.JournalDir == "" {
		return nil, nil
	}
	j, err := journal.Open(opt.JournalDir, journal.Options{
		FileName:    "changes-*.jrnl",
		MaxFileSize: opt.JournalMaxFileSize,
		NoSync:      opt.IsTesting,
		Logger:      logger,
		Verbose:     opt.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("docindex: %w", err)
	}
	return j, nil
}

// journaledFields lists every field of a new record, and the changed
// fields of a stored one.
func journaledFields(rec *Record, isNew bool) []string {
	if !isNew {
		return rec.changedFields()
	}
	names := rec.FieldNames()
	slices.Sort(names)
	return names
}

func (tx *Tx) noteRecordChange(c RecordChange) {
	if tx.db.journal != nil {
		tx.changes = append(tx.changes, c)
	}
}

// changeSet collects what the transaction did. It must be called before
// the undo log is discarded.
func (tx *Tx) changeSet() *ChangeSet {
	if len(tx.changes) == 0 && tx.undo.Len() == 0 {
		return nil
	}
	cs := &ChangeSet{TxID: tx.id.String(), Records: tx.changes}
	for _, op := range tx.undo.ops {
		cs.Indexes = append(cs.Indexes, IndexChange{Index: op.idx.name, Key: op.enc, RID: op.rid, Put: op.put})
	}
	return cs
}

// appendChangeSet journals a committed transaction. The commit is already
// durable, so a journal failure is logged and counted but not returned.
func (db *DB) appendChangeSet(cs *ChangeSet) {
	seq, err := db.journal.Append(encodeMsgpack(nil, cs))
	if err != nil {
		db.metrics.journalErrors.Inc()
		db.logger.LogAttrs(context.Background(), slog.LevelError, "journal append failed", slog.String("tx", cs.TxID), slog.Any("err", err))
		return
	}
	if db.verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal APPEND", slog.Uint64("seq", seq), slog.String("tx", cs.TxID), slog.Int("records", len(cs.Records)), slog.Int("index_ops", len(cs.Indexes)))
	}
}

// ReadChanges calls f with every journaled transaction from sequence
// number from onwards, oldest first, until f returns false.
func (db *DB) ReadChanges(from uint64, f func(cs *ChangeSet) bool) error {
	if db.journal == nil {
		return ErrJournalDisabled
	}
	var decodeErr error
	err := db.journal.Read(from, func(rec journal.Record) bool {
		cs := new(ChangeSet)
		if err := decodeMsgpack(rec.Data, cs); err != nil {
			decodeErr = fmt.Errorf("docindex: journal record %d: %w", rec.Seq, err)
			return false
		}
		cs.Seq, cs.Time = rec.Seq, rec.Time
		return f(cs)
	})
	if err != nil {
		return fmt.Errorf("docindex: %w", err)
	}
	return decodeErr
}

// LastChangeSeq returns the sequence number of the newest journaled
// transaction, or 0.
func (db *DB) LastChangeSeq() uint64 {
	if db.journal == nil {
		return 0
	}
	return db.journal.LastSeq()
}

// DecodeIndexChange decodes the key of a journaled index mutation. The
// index must still exist.
func (db *DB) DecodeIndexChange(c IndexChange) (Key, error) {
	idx := db.Index(c.Index)
	if idx == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, c.Index)
	}
	key, rest, err := decodeKey(c.Key, len(idx.keyTypes))
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, dataErrf(c.Key, len(c.Key)-len(rest), nil, "trailing bytes after %s key", idx.name)
	}
	return key, nil
}

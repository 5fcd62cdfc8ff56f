package docindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/andreyvit/docindex/kv"
)

// Tx is a unit of work over the key store. Records saved and deleted within
// it, and the index mutations their saves imply, become durable together
// on Commit or are discarded together on Rollback.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	db       *DB
	ktx      kv.Tx
	id       uuid.UUID
	writable bool
	closed   bool

	undo  undoLog
	cache *lru.Cache[RID, *Record]

	// changes is only collected when the journal is enabled.
	changes []RecordChange

	// touched holds the records saved or deleted so far, as they were
	// before, so that a rollback can put them back.
	touched map[*Record]*savedState

	onCommit   []func()
	onRollback []func()

	startTime time.Time
	stack     []byte
}

// Begin starts a transaction. Only one writable transaction runs at a
// time; Begin(true) waits for the current writer to finish.
func (db *DB) Begin(writable bool) (*Tx, error) {
	ktx, err := db.store.BeginTx(writable)
	if err != nil {
		return nil, fmt.Errorf("docindex: begin: %w", err)
	}
	tx := &Tx{
		db:        db,
		ktx:       ktx,
		id:        uuid.Must(uuid.NewV7()),
		writable:  writable,
		startTime: time.Now(),
	}
	if writable {
		db.WriterCount.Add(1)
		db.WriteCount.Add(1)
	} else {
		db.ReaderCount.Add(1)
		db.ReadCount.Add(1)
	}
	if trackTxns {
		tx.stack = debug.Stack()
		db.addTx(tx)
	}
	return tx, nil
}

func (db *DB) BeginRead() *Tx {
	tx, err := db.Begin(false)
	if err != nil {
		panic(fmt.Errorf("failed to start reading: %w", err))
	}
	return tx
}

func (db *DB) BeginUpdate() *Tx {
	tx, err := db.Begin(true)
	if err != nil {
		panic(fmt.Errorf("db.Begin(true) failed: %w", err))
	}
	return tx
}

func (db *DB) Read(f func(tx *Tx)) {
	tx := db.BeginRead()
	defer tx.Close()
	f(tx)
}

func (db *DB) Write(f func(tx *Tx)) {
	tx := db.BeginUpdate()
	defer tx.Close()
	f(tx)
	err := tx.Commit()
	if err != nil {
		panic(fmt.Errorf("commit: %w", err))
	}
}

// Tx runs f in a transaction, committing if f returns nil and rolling back
// otherwise. A panic in f is returned as an error.
func (db *DB) Tx(writable bool, f func(tx *Tx) error) error {
	tx, err := db.Begin(writable)
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) ID() uuid.UUID { return tx.id }

func (tx *Tx) DB() *DB { return tx.db }

func (tx *Tx) IsWritable() bool { return tx.writable }

// OnCommit registers f to run after a successful commit.
func (tx *Tx) OnCommit(f func()) {
	tx.onCommit = append(tx.onCommit, f)
}

// OnRollback registers f to run after the transaction is rolled back,
// including when Commit fails.
func (tx *Tx) OnRollback(f func()) {
	tx.onRollback = append(tx.onRollback, f)
}

func (tx *Tx) checkOpen() error {
	if tx.closed {
		return ErrTxClosed
	}
	return nil
}

func (tx *Tx) checkWritable() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrTxReadOnly
	}
	return nil
}

// Commit makes the transaction's writes durable. Committing a read-only
// transaction just releases it.
func (tx *Tx) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	var err error
	if tx.writable {
		var cs *ChangeSet
		if tx.db.journal != nil {
			cs = tx.changeSet()
		}
		tx.db.commitLock.Lock()
		err = tx.ktx.Commit()
		if err == nil && cs != nil {
			tx.db.appendChangeSet(cs)
		}
		tx.db.commitLock.Unlock()
	} else {
		err = tx.ktx.Rollback()
	}
	tx.finish()
	if err != nil {
		tx.db.logger.Error("commit failed", "tx", tx.id, "err", err)
		tx.db.metrics.rollbacks.Inc()
		tx.restoreRecords()
		runHooks(tx.onRollback)
		return fmt.Errorf("docindex: commit: %w", err)
	}
	tx.undo.discard()
	tx.touched = nil
	runHooks(tx.onCommit)
	return nil
}

// Rollback discards the transaction's writes and reverts its index
// mutations. Records saved or deleted within the transaction get back the
// RID, version and persisted flag they had before it; their fields keep
// the current values, and those that differ from the stored ones are
// dirty again. Rollback is a no-op on a finished transaction.
func (tx *Tx) Rollback() error {
	if tx.closed {
		return nil
	}
	n := tx.undo.Len()
	if n > 0 {
		// The key store drops the mutations anyway. Testing databases replay
		// the undo log first, which panics if the log and the indexes disagree.
		if tx.db.strict {
			tx.undo.revertTo(tx, 0)
		} else {
			tx.undo.discard()
		}
		tx.db.metrics.undoneOps.Add(float64(n))
	}
	err := tx.ktx.Rollback()
	tx.finish()
	tx.restoreRecords()
	if tx.writable {
		tx.db.metrics.rollbacks.Inc()
		tx.db.logger.LogAttrs(context.Background(), slog.LevelInfo, "rolled back", slog.String("tx", tx.id.String()), slog.Int("undone", n))
	}
	runHooks(tx.onRollback)
	if err != nil && !errors.Is(err, kv.ErrTxClosed) {
		return err
	}
	return nil
}

// Close rolls back the transaction unless it has been committed.
func (tx *Tx) Close() {
	if err := tx.Rollback(); err != nil {
		panic(err)
	}
}

func (tx *Tx) finish() {
	tx.closed = true
	tx.cache = nil
	if tx.writable {
		tx.db.WriterCount.Add(-1)
	} else {
		tx.db.ReaderCount.Add(-1)
	}
	if trackTxns {
		tx.db.removeTx(tx)
	}
}

// touch remembers how rec was before the transaction first changed it.
func (tx *Tx) touch(rec *Record) {
	if _, ok := tx.touched[rec]; ok {
		return
	}
	if tx.touched == nil {
		tx.touched = make(map[*Record]*savedState)
	}
	tx.touched[rec] = rec.captureState()
}

func (tx *Tx) restoreRecords() {
	for rec, st := range tx.touched {
		rec.restoreState(st)
	}
	if n := len(tx.touched); n > 0 && tx.db.verbose {
		tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "records restored", slog.Int("count", n), slog.String("tx", tx.id.String()))
	}
	tx.touched = nil
}

func runHooks(hooks []func()) {
	for _, f := range hooks {
		f()
	}
}

func (tx *Tx) cached(rid RID) (*Record, bool) {
	if tx.cache == nil {
		return nil, false
	}
	return tx.cache.Get(rid)
}

func (tx *Tx) remember(rec *Record) {
	if tx.db.cacheSize < 0 {
		return
	}
	if tx.cache == nil {
		tx.cache = must(lru.New[RID, *Record](tx.db.cacheSize))
	}
	tx.cache.Add(rec.rid, rec.clone())
}

func (tx *Tx) forget(rid RID) {
	if tx.cache != nil {
		tx.cache.Remove(rid)
	}
}

// Save stores the record and brings every index covering its class in line
// with it. The first save assigns a RID in the cluster of the record's
// class. If a unique index rejects the record, nothing is stored, every
// index is left as it was, and the error wraps both ErrRecordDuplicated and
// ErrDuplicateKey.
func (tx *Tx) Save(rec *Record) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	rec.ensureLoaded()
	start := time.Now()

	cls, err := tx.db.catalog.classOf(rec)
	if err != nil {
		return err
	}
	if err := validateRecord(cls, rec); err != nil {
		return err
	}

	isNew := !rec.persisted
	if !isNew && !rec.dirty && len(rec.prior) == 0 {
		return nil
	}
	tx.touch(rec)
	rid := rec.rid
	if isNew {
		rid = tx.allocateRID(cls)
	}

	if err := tx.onRecordSaved(rec, cls, rid, isNew); err != nil {
		return err
	}
	modCount := rec.version + 1
	tx.putRecordValue(rid, modCount, rec)
	tx.noteRecordChange(RecordChange{RID: rid, Class: cls.name, Version: modCount, Fields: journaledFields(rec, isNew)})

	rec.rid = rid
	rec.persisted = true
	rec.version = modCount
	rec.resetState()
	tx.remember(rec)

	if tx.db.verbose {
		tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "record SAVE", slog.String("rid", rid.String()), slog.String("record", loggableRecord(rec)), slog.Bool("new", isNew), slog.String("tx", tx.id.String()))
	}
	tx.db.metrics.saveDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

// Delete removes the record and its index entries, as of the record's last
// saved state. The record becomes new again.
func (tx *Tx) Delete(rec *Record) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if !rec.persisted {
		return &RecordError{RID: rec.rid, Class: rec.class, Msg: "cannot delete a record that was never saved", Err: ErrRecordNotFound}
	}
	cls, err := tx.db.catalog.classOf(rec)
	if err != nil {
		return err
	}
	tx.touch(rec)
	if err := tx.onRecordDeleted(rec, cls); err != nil {
		return err
	}
	rid := rec.rid
	tx.deleteRecordValue(rid)
	tx.forget(rid)
	tx.noteRecordChange(RecordChange{RID: rid, Class: cls.name, Version: rec.version, Deleted: true})
	if tx.db.verbose {
		tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "record DEL", slog.String("rid", rid.String()), slog.String("tx", tx.id.String()))
	}

	rec.rid = InvalidRID
	rec.persisted = false
	rec.version = 0
	rec.resetState()
	return nil
}

// Load reads a record. The returned record is the caller's own copy.
func (tx *Tx) Load(rid RID) (*Record, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if rec, ok := tx.cached(rid); ok {
		return rec.clone(), nil
	}
	rec, err := tx.loadRecord(rid)
	if err != nil {
		return nil, err
	}
	tx.remember(rec)
	return rec, nil
}

// Reload replaces the record's fields with their stored values, dropping
// unsaved changes. It also reloads an unloaded record.
func (tx *Tx) Reload(rec *Record) error {
	if !rec.persisted {
		return &RecordError{RID: rec.rid, Class: rec.class, Msg: "cannot reload a record that was never saved", Err: ErrRecordNotFound}
	}
	stored, err := tx.Load(rec.rid)
	if err != nil {
		return err
	}
	rec.reloadFrom(stored)
	return nil
}

// Browse calls f with every stored record of cls, and of its subclasses if
// polymorphic is set, in RID order within each cluster.
func (tx *Tx) Browse(cls *Class, polymorphic bool, f func(rec *Record) bool) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	classes := []*Class{cls}
	if polymorphic {
		classes = cls.Subclasses()
	}
	for _, c := range classes {
		cluster := tx.db.clusterOf(c)
		b := tx.ktx.Bucket(clusterBucketName(cluster))
		var positions []int64
		cur := b.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			positions = append(positions, positionFromKey(k))
		}
		for _, pos := range positions {
			rec, err := tx.Load(RID{Cluster: cluster, Position: pos})
			if err != nil {
				return err
			}
			if !f(rec) {
				return nil
			}
		}
	}
	return nil
}

// Count returns the number of stored records of cls, including those of
// its subclasses if polymorphic is set.
func (tx *Tx) Count(cls *Class, polymorphic bool) int {
	classes := []*Class{cls}
	if polymorphic {
		classes = cls.Subclasses()
	}
	var n int
	for _, c := range classes {
		n += tx.ktx.Bucket(clusterBucketName(tx.db.clusterOf(c))).KeyCount()
	}
	return n
}

package docindex

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/docindex/kv"
)

func TestTx_Hooks(t *testing.T) {
	db := setup(t)
	var log []string

	db.Write(func(tx *Tx) {
		tx.OnCommit(func() { log = append(log, "commit 1") })
		tx.OnRollback(func() { log = append(log, "rollback 1") })
	})
	err := db.Tx(true, func(tx *Tx) error {
		tx.OnCommit(func() { log = append(log, "commit 2") })
		tx.OnRollback(func() { log = append(log, "rollback 2") })
		return errors.New("nope")
	})
	require.EqualError(t, err, "nope")
	assert.Equal(t, []string{"commit 1", "rollback 2"}, log)
}

func TestTx_PanicBecomesError(t *testing.T) {
	db := setup(t)
	err := db.Tx(true, func(tx *Tx) error {
		require.NoError(t, tx.Save(account(1, "")))
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "panic: boom"), err.Error())
	db.Read(func(tx *Tx) {
		assert.Equal(t, 0, tx.Count(accountClass, false))
	})
}

func TestTx_ReadOnly(t *testing.T) {
	db := setup(t)
	db.Read(func(tx *Tx) {
		assert.False(t, tx.IsWritable())
		assert.Same(t, db, tx.DB())
		assert.ErrorIs(t, tx.Save(account(1, "")), ErrTxReadOnly)
	})
}

func TestTx_Closed(t *testing.T) {
	db := setup(t)
	tx := db.BeginUpdate()
	rec := account(1, "")
	require.NoError(t, tx.Save(rec))
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), ErrTxClosed)
	assert.ErrorIs(t, tx.Save(account(2, "")), ErrTxClosed)
	_, err := tx.Load(rec.RID())
	assert.ErrorIs(t, err, ErrTxClosed)
	assert.NoError(t, tx.Rollback())
	tx.Close()
}

func TestTx_IDsAreDistinct(t *testing.T) {
	db := setup(t)
	a := db.BeginRead()
	defer a.Close()
	b := db.BeginRead()
	defer b.Close()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 7, int(a.ID().Version()))
}

func TestTx_BrowseAndCount(t *testing.T) {
	db := setup(t)
	acc := account(1, "")
	adm := NewRecord("Admin")
	adm.Set("level", 3)
	ent := NewRecord("Entity")
	save(t, db, acc, ent, account(2, ""), adm)

	db.Read(func(tx *Tx) {
		assert.Equal(t, 2, tx.Count(accountClass, false))
		assert.Equal(t, 3, tx.Count(accountClass, true))
		assert.Equal(t, 4, tx.Count(entityClass, true))
		assert.Equal(t, 0, tx.Count(deviceClass, true))

		var classes []string
		require.NoError(t, tx.Browse(accountClass, true, func(rec *Record) bool {
			classes = append(classes, rec.Class())
			return true
		}))
		assert.Equal(t, []string{"Account", "Account", "Admin"}, classes)

		var first []RID
		require.NoError(t, tx.Browse(accountClass, false, func(rec *Record) bool {
			first = append(first, rec.RID())
			return false
		}))
		assert.Equal(t, []RID{acc.RID()}, first)
	})
}

func TestTx_LoadReturnsCopies(t *testing.T) {
	db := setup(t, func(opt *Options) { opt.RecordCacheSize = 2 })
	rec := account(1, "a@example.com")
	save(t, db, rec)

	db.Read(func(tx *Tx) {
		a := must(tx.Load(rec.RID()))
		b := must(tx.Load(rec.RID()))
		assert.NotSame(t, a, b)
		a.Set("email", "changed")
		assert.Equal(t, "a@example.com", b.Field("email"))
		assert.Equal(t, uint64(1), b.Version())
	})
}

func TestDB_DescribeOpenTxns(t *testing.T) {
	db := setup(t)
	assert.Equal(t, "NO OPEN TRANSACTIONS", db.DescribeOpenTxns())

	tx := db.BeginRead()
	desc := db.DescribeOpenTxns()
	assert.True(t, strings.HasPrefix(desc, "1 OPEN TRANSACTIONS:"), desc)
	assert.Contains(t, desc, tx.ID().String())
	tx.Close()

	assert.Equal(t, "NO OPEN TRANSACTIONS", db.DescribeOpenTxns())
}

func TestDB_TxCounters(t *testing.T) {
	db := setup(t)
	reads, writes := db.ReadCount.Load(), db.WriteCount.Load()
	db.Read(func(tx *Tx) {
		assert.EqualValues(t, 1, db.ReaderCount.Load())
	})
	db.Write(func(tx *Tx) {
		assert.EqualValues(t, 1, db.WriterCount.Load())
	})
	assert.EqualValues(t, 0, db.ReaderCount.Load())
	assert.EqualValues(t, 0, db.WriterCount.Load())
	assert.Equal(t, reads+1, db.ReadCount.Load())
	assert.Equal(t, writes+1, db.WriteCount.Load())
}

func TestTx_RollbackForgetsNewRID(t *testing.T) {
	db := setup(t)
	idx := defineIndex(t, db, "", "Account", IndexOptions{Unique: true}, "id")
	ghost := account(1, "ghost@example.com")
	err := db.Tx(true, func(tx *Tx) error {
		require.NoError(t, tx.Save(ghost))
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")
	assert.False(t, ghost.IsPersisted())
	assert.Equal(t, InvalidRID, ghost.RID())
	assert.Equal(t, uint64(0), ghost.Version())
	assert.True(t, ghost.IsDirty())
	assert.Equal(t, []string{"email", "id"}, ghost.DirtyFields())

	// the position freed by the rollback goes to the next record
	other := account(2, "other@example.com")
	save(t, db, other)
	ghost.Set("email", "ghost2@example.com")
	save(t, db, ghost)
	assert.NotEqual(t, other.RID(), ghost.RID())

	db.Read(func(tx *Tx) {
		stored, err := tx.Load(other.RID())
		require.NoError(t, err)
		assert.Equal(t, "other@example.com", stored.Field("email"))
		assert.Equal(t, 2, tx.Count(accountClass, false))
	})
	assert.Equal(t, []RID{ghost.RID()}, lookup(t, db, idx, 1))
	assert.Equal(t, []RID{other.RID()}, lookup(t, db, idx, 2))
}

func TestTx_RollbackUndoesDelete(t *testing.T) {
	db := setup(t)
	idx := defineIndex(t, db, "", "Account", IndexOptions{}, "email")
	rec := account(1, "a@example.com")
	save(t, db, rec)
	rid := rec.RID()

	tx := db.BeginUpdate()
	require.NoError(t, tx.Delete(rec))
	assert.False(t, rec.IsPersisted())
	require.NoError(t, tx.Rollback())

	assert.True(t, rec.IsPersisted())
	assert.Equal(t, rid, rec.RID())
	assert.Equal(t, uint64(1), rec.Version())
	assert.False(t, rec.IsDirty())

	rec.Set("email", "b@example.com")
	save(t, db, rec)
	assert.Equal(t, rid, rec.RID())
	assert.Nil(t, lookup(t, db, idx, "a@example.com"))
	assert.Equal(t, []RID{rid}, lookup(t, db, idx, "b@example.com"))
}

// failingStore fails every commit while failCommit is set.
type failingStore struct {
	kv.Store
	failCommit bool
}

func (s *failingStore) BeginTx(writable bool) (kv.Tx, error) {
	ktx, err := s.Store.BeginTx(writable)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: ktx, store: s}, nil
}

type failingTx struct {
	kv.Tx
	store *failingStore
}

func (tx *failingTx) Commit() error {
	if tx.store.failCommit {
		ensure(tx.Tx.Rollback())
		return errors.New("disk full")
	}
	return tx.Tx.Commit()
}

func TestTx_FailedCommitRestoresRecords(t *testing.T) {
	store := &failingStore{Store: kv.NewMemory()}
	db := setup(t, func(opt *Options) { opt.Store = store })
	idx := defineIndex(t, db, "", "Account", IndexOptions{Unique: true}, "email")
	rec := account(1, "a@example.com")
	save(t, db, rec)

	store.failCommit = true
	fresh := account(2, "c@example.com")
	err := db.Tx(true, func(tx *Tx) error {
		rec.Set("email", "b@example.com")
		if err := tx.Save(rec); err != nil {
			return err
		}
		return tx.Save(fresh)
	})
	require.ErrorContains(t, err, "disk full")
	store.failCommit = false

	assert.Equal(t, uint64(1), rec.Version())
	assert.Equal(t, []string{"email"}, rec.DirtyFields())
	assert.False(t, fresh.IsPersisted())
	assert.Equal(t, InvalidRID, fresh.RID())

	save(t, db, rec, fresh)
	assert.Nil(t, lookup(t, db, idx, "a@example.com"))
	assert.Equal(t, []RID{rec.RID()}, lookup(t, db, idx, "b@example.com"))
	assert.Equal(t, []RID{fresh.RID()}, lookup(t, db, idx, "c@example.com"))
	assert.NotEqual(t, rec.RID(), fresh.RID())
}

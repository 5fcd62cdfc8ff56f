package docindex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readChanges(t *testing.T, db *DB, from uint64) []*ChangeSet {
	t.Helper()
	var out []*ChangeSet
	require.NoError(t, db.ReadChanges(from, func(cs *ChangeSet) bool {
		out = append(out, cs)
		return true
	}))
	return out
}

func indexChangeStrings(t *testing.T, db *DB, cs *ChangeSet) []string {
	t.Helper()
	var out []string
	for _, c := range cs.Indexes {
		key, err := db.DecodeIndexChange(c)
		require.NoError(t, err)
		verb := "DEL"
		if c.Put {
			verb = "PUT"
		}
		out = append(out, verb+" "+c.Index+" "+key.String()+" -> "+c.RID.String())
	}
	return out
}

func TestChangeJournal(t *testing.T) {
	dir := t.TempDir()
	db := setup(t, func(opt *Options) { opt.JournalDir = dir })
	defineIndex(t, db, "email", "Account", IndexOptions{Unique: true}, "email")
	assert.Equal(t, uint64(0), db.LastChangeSeq())

	rec := account(1, "a@example.com")
	save(t, db, rec)
	rid := rec.RID()

	rec.Set("email", "b@example.com")
	save(t, db, rec)

	// rolled back transactions and read transactions leave no trace
	err := db.Tx(true, func(tx *Tx) error {
		require.NoError(t, tx.Save(account(2, "c@example.com")))
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")
	db.Read(func(tx *Tx) {})

	db.Write(func(tx *Tx) {
		require.NoError(t, tx.Delete(rec))
	})

	assert.Equal(t, uint64(3), db.LastChangeSeq())
	changes := readChanges(t, db, 0)
	require.Len(t, changes, 3)

	assert.Equal(t, uint64(1), changes[0].Seq)
	assert.Equal(t, []RecordChange{{RID: rid, Class: "Account", Version: 1, Fields: []string{"email", "id"}}}, changes[0].Records)
	assert.Equal(t, []string{`PUT email "a@example.com" -> ` + rid.String()}, indexChangeStrings(t, db, changes[0]))

	assert.Equal(t, []RecordChange{{RID: rid, Class: "Account", Version: 2, Fields: []string{"email"}}}, changes[1].Records)
	assert.Equal(t, []string{
		`DEL email "a@example.com" -> ` + rid.String(),
		`PUT email "b@example.com" -> ` + rid.String(),
	}, indexChangeStrings(t, db, changes[1]))

	assert.Equal(t, []RecordChange{{RID: rid, Class: "Account", Version: 2, Deleted: true}}, changes[2].Records)
	assert.Equal(t, []string{`DEL email "b@example.com" -> ` + rid.String()}, indexChangeStrings(t, db, changes[2]))

	for _, cs := range changes {
		assert.NotEmpty(t, cs.TxID)
		assert.False(t, cs.Time.IsZero())
	}
	assert.Len(t, readChanges(t, db, 3), 1)
}

func TestChangeJournal_RejectedSaveIsNotJournaled(t *testing.T) {
	db := setup(t, func(opt *Options) { opt.JournalDir = t.TempDir() })
	defineIndex(t, db, "", "Account", IndexOptions{Unique: true}, "email")
	save(t, db, account(1, "a@example.com"))

	db.Write(func(tx *Tx) {
		require.NoError(t, tx.Save(account(2, "b@example.com")))
		require.ErrorIs(t, tx.Save(account(3, "a@example.com")), ErrRecordDuplicated)
	})
	changes := readChanges(t, db, 2)
	require.Len(t, changes, 1)
	require.Len(t, changes[0].Records, 1)
	assert.Equal(t, int64(1), changes[0].Records[0].RID.Position)
	assert.Len(t, changes[0].Indexes, 1)
}

func TestChangeJournal_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(testCat, Options{IsTesting: true, JournalDir: dir})
	require.NoError(t, err)
	save(t, db, account(1, ""))
	db.Close()

	db, err = Open(testCat, Options{IsTesting: true, JournalDir: dir})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, uint64(1), db.LastChangeSeq())
	save(t, db, account(2, ""))
	assert.Len(t, readChanges(t, db, 0), 2)
}

func TestChangeJournal_Disabled(t *testing.T) {
	db := setup(t)
	save(t, db, account(1, ""))
	assert.Equal(t, uint64(0), db.LastChangeSeq())
	assert.ErrorIs(t, db.ReadChanges(0, func(*ChangeSet) bool { return true }), ErrJournalDisabled)
}

func TestRecordChange_String(t *testing.T) {
	assert.Equal(t, "SAVE Account #1:2 v3 [email]", RecordChange{RID: RID{1, 2}, Class: "Account", Version: 3, Fields: []string{"email"}}.String())
	assert.Equal(t, "DEL Account #1:2", RecordChange{RID: RID{1, 2}, Class: "Account", Deleted: true}.String())
}

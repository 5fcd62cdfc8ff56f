package docindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_PropertyReturnsValueJustSet(t *testing.T) {
	def := MustIndexDefinition(testCat, "Account", "email")
	rec := NewRecord("Account")
	for _, v := range []any{"a@example.com", nil, "b@example.com"} {
		rec.Set("email", v)
		assert.Equal(t, []Key{{v}}, Extract(def, rec, false))
		assert.Equal(t, []Key{{v}}, Extract(def, rec, true))
	}
}

func TestExtract_SetFansOutPerElement(t *testing.T) {
	def := MustIndexDefinition(testCat, "Account", "tags")
	rec := NewRecord("Account")
	rec.Set("tags", NewEmbeddedSet("c", "a", "b", "a"))
	keys := Extract(def, rec, false)
	assert.ElementsMatch(t, []Key{{"a"}, {"b"}, {"c"}}, keys)
}

func TestExtract_ListKeepsDuplicates(t *testing.T) {
	def := MustIndexDefinition(testCat, "Account", "nums")
	rec := NewRecord("Account")
	rec.Set("nums", []int{1, 1, 2})
	assert.Equal(t, []Key{{int64(1)}, {int64(1)}, {int64(2)}}, Extract(def, rec, false))
}

func TestExtract_AbsentCollection(t *testing.T) {
	def := MustIndexDefinition(testCat, "Account", "tags")
	rec := NewRecord("Account")
	assert.Nil(t, Extract(def, rec, true))
	assert.Equal(t, []Key{{nil}}, Extract(def, rec, false))

	rec.Set("tags", NewEmbeddedSet())
	assert.Empty(t, Extract(def, rec, false))
}

func TestExtract_Map(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("attrs", map[string]string{"k1": "v1", "k2": "v2"})
	assert.Equal(t, []Key{{"k1"}, {"k2"}}, Extract(MustIndexDefinition(testCat, "Account", "attrs by key"), rec, false))
	assert.Equal(t, []Key{{"v1"}, {"v2"}}, Extract(MustIndexDefinition(testCat, "Account", "attrs by value"), rec, false))
}

func TestExtract_Composite(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("id", 1)
	rec.Set("tags", NewEmbeddedSet("x", "y"))

	def := MustIndexDefinition(testCat, "Account", "id", "name")
	assert.Equal(t, []Key{{int64(1), nil}}, Extract(def, rec, true))

	def = MustIndexDefinition(testCat, "Account", "tags", "id")
	assert.Equal(t, []Key{{"x", int64(1)}, {"y", int64(1)}}, Extract(def, rec, false))

	rec.RemoveField("tags")
	assert.Nil(t, Extract(def, rec, true))
	assert.Equal(t, []Key{{nil, int64(1)}}, Extract(def, rec, false))

	// an empty collection leaves a null in its slot, like an absent one
	rec.Set("tags", NewEmbeddedSet())
	assert.Nil(t, Extract(def, rec, true))
	assert.Equal(t, []Key{{nil, int64(1)}}, Extract(def, rec, false))
}

func TestExtract_PriorUsesSnapshot(t *testing.T) {
	db := setup(t)
	rec := account(1, "a@example.com")
	rec.Set("tags", NewEmbeddedSet("x"))
	save(t, db, rec)

	rec.Set("email", "b@example.com")
	s, _ := rec.SetField("tags")
	s.Add("y")

	assert.Equal(t, []Key{{"a@example.com"}}, extractPrior(MustIndexDefinition(testCat, "Account", "email"), rec, false))
	assert.Equal(t, []Key{{"x"}}, extractPrior(MustIndexDefinition(testCat, "Account", "tags"), rec, false))
	assert.Equal(t, []Key{{int64(1)}}, extractPrior(MustIndexDefinition(testCat, "Account", "id"), rec, false))
}

func TestReplayTimeline(t *testing.T) {
	def := MustIndexDefinition(testCat, "Account", "nums").(*CollectionIndex)
	events := []ChangeEvent{
		{Type: ChangeAdd, Key: 2, NewValue: int64(3)},
		{Type: ChangeUpdate, Key: 0, OldValue: int64(1), NewValue: int64(5)},
		{Type: ChangeRemove, Key: 1, OldValue: int64(2)},
	}
	items, ok := replayTimeline(def, []any{int64(5), int64(3)}, events)
	assert.True(t, ok)
	assert.ElementsMatch(t, []any{int64(1), int64(2)}, items)

	// events that do not match the current contents are rejected
	_, ok = replayTimeline(def, []any{int64(5)}, events)
	assert.False(t, ok)
}

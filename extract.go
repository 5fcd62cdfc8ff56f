package docindex

// Extract returns the keys that rec contributes to an index with the given
// definition, computed from the record's current field values.
//
// Null values are reported faithfully as null key components; the index
// decides what to do with them. The only place where the null policy
// matters here is an absent collection, or an empty one inside a
// composite: it yields no keys when ignoreNulls is set and a single null
// key otherwise.
//
// Key components hold field values as they are; conversion to the declared
// key types happens when keys are encoded, and so does deduplication.
func Extract(def IndexDefinition, rec *Record, ignoreNulls bool) []Key {
	return extractKeys(def, rec.Field, ignoreNulls)
}

// extractPrior is Extract over the field values the record had when it was
// loaded or last saved.
func extractPrior(def IndexDefinition, rec *Record, ignoreNulls bool) []Key {
	return extractKeys(def, rec.priorField, ignoreNulls)
}

func extractKeys(def IndexDefinition, get func(name string) any, ignoreNulls bool) []Key {
	switch def := def.(type) {
	case *PropertyIndex:
		return []Key{{get(def.Property)}}

	case *CollectionIndex:
		items, ok := collectionKeyValues(def, get(def.Property))
		if !ok {
			if ignoreNulls {
				return nil
			}
			return []Key{{nil}}
		}
		keys := make([]Key, len(items))
		for i, item := range items {
			keys[i] = Key{item}
		}
		return keys

	case *CompositeIndex:
		key := make(Key, len(def.Parts))
		multi := -1
		var items []any
		for i, part := range def.Parts {
			switch part := part.(type) {
			case *PropertyIndex:
				key[i] = get(part.Property)
			case *CollectionIndex:
				multi = i
				items, _ = collectionKeyValues(part, get(part.Property))
				if len(items) == 0 {
					// absent and empty collections alike leave a null in
					// their slot
					if ignoreNulls {
						return nil
					}
					items = []any{nil}
				}
			default:
				panic("nested composite index")
			}
		}
		if multi < 0 {
			return []Key{key}
		}
		keys := make([]Key, 0, len(items))
		for _, item := range items {
			k := append(Key(nil), key...)
			k[multi] = item
			keys = append(keys, k)
		}
		return keys

	default:
		panic("unknown index definition")
	}
}

// collectionKeyValues lists the values a collection contributes to a
// collection index. ok is false if the field is absent.
func collectionKeyValues(def *CollectionIndex, v any) (items []any, ok bool) {
	switch v := v.(type) {
	case nil:
		return nil, false
	case *List:
		return v.items, true
	case *Set:
		return v.items, true
	case *Map:
		out := make([]any, 0, len(v.keys))
		for _, k := range v.keys {
			if def.By == ByValue {
				out = append(out, v.values[k])
			} else {
				out = append(out, k)
			}
		}
		return out, true
	default:
		// a scalar in a collection field is caught when the record is
		// validated, treat it as a single element
		return []any{v}, true
	}
}

// replayTimeline rebuilds the values a collection contributed to def before
// the given events happened, by undoing the events in reverse order over
// the current values. ok is false if the events do not match the current
// values, in which case the caller has to fall back to the prior snapshot.
func replayTimeline(def *CollectionIndex, current []any, events []ChangeEvent) (items []any, ok bool) {
	items = append([]any(nil), current...)
	take := func(v any) bool {
		for i, item := range items {
			if valuesEqual(item, v) {
				items = append(items[:i], items[i+1:]...)
				return true
			}
		}
		return false
	}
	byKey := def.Collection.IsMap() && def.By == ByKey
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		switch {
		case byKey && ev.Type == ChangeAdd:
			if !take(ev.Key) {
				return nil, false
			}
		case byKey && ev.Type == ChangeRemove:
			items = append(items, ev.Key)
		case byKey:
			// updates keep the key
		case ev.Type == ChangeAdd:
			if !take(ev.NewValue) {
				return nil, false
			}
		case ev.Type == ChangeRemove:
			items = append(items, ev.OldValue)
		case ev.Type == ChangeUpdate:
			if !take(ev.NewValue) {
				return nil, false
			}
			items = append(items, ev.OldValue)
		default:
			return nil, false
		}
	}
	return items, true
}

// timelineOldKeys derives the old keys of a single-field collection index
// from the record's timeline for that field, if the timeline is intact.
func timelineOldKeys(def IndexDefinition, rec *Record) ([]Key, bool) {
	cdef, ok := def.(*CollectionIndex)
	if !ok {
		return nil, false
	}
	events, ok := rec.completeTimeline(cdef.Property)
	if !ok {
		return nil, false
	}
	current, ok := collectionKeyValues(cdef, rec.Field(cdef.Property))
	if !ok {
		return nil, false
	}
	items, ok := replayTimeline(cdef, current, events)
	if !ok {
		return nil, false
	}
	keys := make([]Key, len(items))
	for i, item := range items {
		keys[i] = Key{item}
	}
	return keys, true
}

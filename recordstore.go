package docindex

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/andreyvit/docindex/kv"
)

// Records of a class live in the class's cluster bucket, keyed by position.
// The _clusters bucket maps each class to its cluster and keeps the next
// position to hand out; positions are never reused.
const clustersBucket = "_clusters"

func clusterBucketName(cluster int32) string {
	return fmt.Sprintf("c%d", cluster)
}

func positionKey(pos int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(pos))
}

func positionFromKey(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k))
}

type clusterState struct {
	Class        string `msgpack:"n"`
	Cluster      int32  `msgpack:"c"`
	NextPosition int64  `msgpack:"p"`
}

// prepareClusters assigns a cluster to every class of the catalog, reusing
// the assignments persisted by earlier runs.
func (db *DB) prepareClusters(tx *Tx) error {
	b := must(tx.ktx.CreateBucket(clustersBucket))
	states := make(map[string]*clusterState)
	var maxCluster int32 = -1
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		cs := new(clusterState)
		if err := decodeMsgpack(v, cs); err != nil {
			return fmt.Errorf("cluster state %q: %w", k, err)
		}
		states[string(k)] = cs
		maxCluster = max(maxCluster, cs.Cluster)
	}
	for _, cls := range db.catalog.classes {
		lower := strings.ToLower(cls.name)
		cs := states[lower]
		if cs == nil {
			maxCluster++
			cs = &clusterState{Class: cls.name, Cluster: maxCluster}
			ensure(b.Put([]byte(lower), encodeMsgpack(nil, cs)))
			db.logger.Info("allocated cluster", "class", cls.name, "cluster", cs.Cluster)
		}
		must(tx.ktx.CreateBucket(clusterBucketName(cs.Cluster)))
		db.clusters[cls] = cs.Cluster
		db.classByCluster[cs.Cluster] = cls
	}
	return nil
}

func (db *DB) clusterOf(cls *Class) int32 {
	cluster, ok := db.clusters[cls]
	if !ok {
		panic(fmt.Errorf("class %s does not belong to this database's catalog", cls.name))
	}
	return cluster
}

// ClusterOf returns the cluster that stores the records of cls.
func (db *DB) ClusterOf(cls *Class) int32 {
	return db.clusterOf(cls)
}

// allocateRID hands out the next position of the class's cluster. The
// counter is part of the transaction, so a rollback returns the position.
func (tx *Tx) allocateRID(cls *Class) RID {
	b := tx.ktx.Bucket(clustersBucket)
	k := []byte(strings.ToLower(cls.name))
	cs := new(clusterState)
	ensure(decodeMsgpack(b.Get(k), cs))
	rid := RID{Cluster: cs.Cluster, Position: cs.NextPosition}
	cs.NextPosition++
	ensure(b.Put(k, encodeMsgpack(nil, cs)))
	return rid
}

func (tx *Tx) clusterBucket(cluster int32) (*Class, kv.Bucket, error) {
	cls := tx.db.classByCluster[cluster]
	if cls == nil {
		return nil, nil, fmt.Errorf("%w: no class owns cluster %d", ErrRecordNotFound, cluster)
	}
	return cls, tx.ktx.Bucket(clusterBucketName(cluster)), nil
}

func (tx *Tx) putRecordValue(rid RID, modCount uint64, rec *Record) {
	b := tx.ktx.Bucket(clusterBucketName(rid.Cluster))
	ensure(b.Put(positionKey(rid.Position), appendRecordValue(nil, modCount, toStoredRecord(rec))))
}

func (tx *Tx) deleteRecordValue(rid RID) {
	b := tx.ktx.Bucket(clusterBucketName(rid.Cluster))
	ensure(b.Delete(positionKey(rid.Position)))
}

// loadRecord reads and decodes a stored record; ErrRecordNotFound if there
// is none.
func (tx *Tx) loadRecord(rid RID) (*Record, error) {
	if !rid.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrRecordNotFound, rid)
	}
	cls, b, err := tx.clusterBucket(rid.Cluster)
	if err != nil {
		return nil, err
	}
	raw := b.Get(positionKey(rid.Position))
	if raw == nil {
		return nil, &RecordError{RID: rid, Class: cls.name, Err: ErrRecordNotFound}
	}
	var vle recordValue
	if err := vle.decode(raw); err != nil {
		return nil, &RecordError{RID: rid, Class: cls.name, Msg: "corrupted record", Err: err}
	}
	sr, err := vle.body()
	if err != nil {
		return nil, &RecordError{RID: rid, Class: cls.name, Msg: "corrupted record", Err: err}
	}
	names, values, err := sr.fieldValues()
	if err != nil {
		return nil, &RecordError{RID: rid, Class: cls.name, Msg: "corrupted record", Err: err}
	}
	return newStoredRecord(sr.Class, rid, vle.ModCount, names, values), nil
}

type storedRecord struct {
	Class  string        `msgpack:"c"`
	Fields []storedField `msgpack:"f"`
}

type storedField struct {
	Name  string      `msgpack:"n"`
	Value storedValue `msgpack:"v"`
}

// storedValue is a property value in msgpack-friendly form. T is the
// PropertyType; TypeAny means null.
type storedValue struct {
	T uint8         `msgpack:"t"`
	B bool          `msgpack:"b,omitempty"`
	I int64         `msgpack:"i,omitempty"`
	C int32         `msgpack:"cl,omitempty"`
	F float64       `msgpack:"f,omitempty"`
	S string        `msgpack:"s,omitempty"`
	X []byte        `msgpack:"x,omitempty"`
	D time.Time     `msgpack:"d,omitempty"`
	L []storedValue `msgpack:"l,omitempty"`
	K []string      `msgpack:"k,omitempty"`
	E *storedRecord `msgpack:"e,omitempty"`
}

func toStoredRecord(rec *Record) *storedRecord {
	sr := &storedRecord{Class: rec.class, Fields: make([]storedField, 0, len(rec.names))}
	for _, name := range rec.names {
		sr.Fields = append(sr.Fields, storedField{Name: name, Value: toStoredValue(rec.fields[name])})
	}
	return sr
}

func toStoredValue(v any) storedValue {
	sv := storedValue{T: uint8(valueType(v))}
	switch v := v.(type) {
	case nil:
	case bool:
		sv.B = v
	case int8:
		sv.I = int64(v)
	case int16:
		sv.I = int64(v)
	case int32:
		sv.I = int64(v)
	case int64:
		sv.I = v
	case float32:
		sv.F = float64(v)
	case float64:
		sv.F = v
	case string:
		sv.S = v
	case time.Time:
		sv.D = v
	case []byte:
		sv.X = v
	case RID:
		sv.C, sv.I = v.Cluster, v.Position
	case *Record:
		sv.E = toStoredRecord(v)
	case *List:
		sv.L = toStoredValues(v.items)
	case *Set:
		sv.L = toStoredValues(v.items)
	case *Map:
		sv.K = v.keys
		for _, k := range v.keys {
			sv.L = append(sv.L, toStoredValue(v.values[k]))
		}
	default:
		panic(fmt.Errorf("cannot store %T", v))
	}
	return sv
}

func toStoredValues(items []any) []storedValue {
	out := make([]storedValue, len(items))
	for i, item := range items {
		out[i] = toStoredValue(item)
	}
	return out
}

func (sr *storedRecord) fieldValues() ([]string, map[string]any, error) {
	names := make([]string, 0, len(sr.Fields))
	values := make(map[string]any, len(sr.Fields))
	for _, f := range sr.Fields {
		v, err := f.Value.value()
		if err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		names = append(names, f.Name)
		values[f.Name] = v
	}
	return names, values, nil
}

func (sv *storedValue) value() (any, error) {
	t := PropertyType(sv.T)
	switch t {
	case TypeAny:
		return nil, nil
	case TypeBoolean:
		return sv.B, nil
	case TypeByte:
		return int8(sv.I), nil
	case TypeShort:
		return int16(sv.I), nil
	case TypeInteger:
		return int32(sv.I), nil
	case TypeLong:
		return sv.I, nil
	case TypeFloat:
		return float32(sv.F), nil
	case TypeDouble:
		return sv.F, nil
	case TypeString:
		return sv.S, nil
	case TypeDate:
		return sv.D, nil
	case TypeBinary:
		if sv.X == nil {
			return []byte{}, nil
		}
		return sv.X, nil
	case TypeLink:
		return RID{Cluster: sv.C, Position: sv.I}, nil
	case TypeEmbedded:
		if sv.E == nil {
			return nil, fmt.Errorf("embedded record without a body")
		}
		names, values, err := sv.E.fieldValues()
		if err != nil {
			return nil, err
		}
		rec := NewRecord(sv.E.Class)
		rec.fill(names, values)
		return rec, nil
	}

	items := make([]any, len(sv.L))
	for i := range sv.L {
		v, err := sv.L[i].value()
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	link := t.IsLinkContainer()
	switch {
	case t.IsList():
		return &List{container: container{link: link}, items: items}, nil
	case t.IsSet():
		s := &Set{container: container{link: link}}
		for _, item := range items {
			s.insert(item)
		}
		return s, nil
	case t.IsMap():
		if len(sv.K) != len(items) {
			return nil, fmt.Errorf("map with %d keys and %d values", len(sv.K), len(items))
		}
		m := &Map{container: container{link: link}, values: make(map[string]any, len(items))}
		for i, k := range sv.K {
			m.keys = append(m.keys, k)
			m.values[k] = items[i]
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown value type %d", sv.T)
}

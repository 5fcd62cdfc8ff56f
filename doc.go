/*
Package docindex keeps secondary indexes of a document store consistent with
mutating records, on top of an ordered key-value store (see package kv).

We implement:

1. Records: documents of a class, with scalar fields and tracked
collections (lists, sets and maps, embedded or holding links).

2. Change tracking: each collection records an ordered timeline of add,
remove and update events, and each record keeps the set of fields changed
since it was loaded or saved, plus a snapshot of their prior values.

3. Indexes: property, composite and collection (by element, map key or
map value) indexes, unique or not, with a configurable null policy.

4. Index maintenance: on save and delete, the keys a record had and the
keys it has now are diffed, and only the difference is applied. A save
that violates a unique index leaves every index as it was.

# Technical Details

**Buckets.**
Every piece of data lives in a named bucket of the key store. Bolt supports
buckets natively; the Pebble backend simulates them with key prefixes.

**Clusters.**
Each class is assigned a cluster, a positive integer stored in the _clusters
bucket. Records of the class live in bucket "c<cluster>", keyed by their
position (big-endian uint64). A RID is the (cluster, position) pair.
Positions are never reused.

**Index ordinals.**
Each index gets an ordinal from a counter in the _meta bucket, and its
entries live in bucket "i<ordinal>". Ordinals are never reused, even if an
index is dropped. The _indexes bucket holds the definition of each index
together with a fingerprint; a definition whose fingerprint changed is
rebuilt on open.

## Binary encoding

**Record value**: header, then msgpack of the record body.

**Record header**:
1. Format version (uvarint).
2. Modification count (uvarint).

**Index key**: the concatenation of self-delimiting components, each a tag
byte followed by an order-preserving encoding, so that keys compare
bytewise in key order. Nulls sort first.

**Index entry**: a unique index maps the key to the 12-byte RID; a
non-unique index stores key+RID with an empty value, so one key holds a
RID-ordered set of records.

**Change journal**: with Options.JournalDir set, every committed
transaction that saved or deleted records is appended to a journal (see
package journal) as a msgpack ChangeSet listing the record changes and the
index mutations, with index keys in the encoding above.
*/
package docindex

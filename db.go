package docindex

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andreyvit/docindex/journal"
	"github.com/andreyvit/docindex/kv"
)

const trackTxns = true

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBolt   Backend = "bolt"
	BackendPebble Backend = "pebble"
)

// DB keeps records of a catalog's classes in a key store, together with
// the secondary indexes defined on them.
type DB struct {
	store   kv.Store
	catalog *Catalog
	logger  *slog.Logger
	verbose bool
	strict  bool
	metrics *metrics
	journal *journal.Journal

	// commitLock keeps journal entries in commit order.
	commitLock sync.Mutex

	cacheSize int

	clusters       map[*Class]int32
	classByCluster map[int32]*Class

	indexesLock    sync.RWMutex
	indexes        []*Index
	indexesByLower map[string]*Index

	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	// Backend selects the key store; the default is BackendMemory.
	Backend Backend
	// Path is the Bolt file or the Pebble directory.
	Path string
	// Store, if set, is used instead of opening Backend.
	Store kv.Store

	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool

	// RecordCacheSize bounds the per-transaction cache of loaded records;
	// 0 picks a default, negative disables the cache.
	RecordCacheSize int

	// Registerer receives the index and transaction metrics.
	Registerer prometheus.Registerer

	// JournalDir enables the change journal: every committed transaction
	// that saved or deleted records is appended to it as a ChangeSet.
	JournalDir         string
	JournalMaxFileSize int64
}

const defaultRecordCacheSize = 256

func openStore(opt Options) (kv.Store, error) {
	if opt.Store != nil {
		return opt.Store, nil
	}
	switch opt.Backend {
	case "", BackendMemory:
		return kv.NewMemory(), nil
	case BackendBolt:
		if opt.Path == "" {
			return nil, errors.New("docindex: bolt backend requires a path")
		}
		return kv.OpenBolt(opt.Path, kv.BoltOptions{IsTesting: opt.IsTesting})
	case BackendPebble:
		if opt.Path == "" {
			return nil, errors.New("docindex: pebble backend requires a path")
		}
		return kv.OpenPebble(opt.Path, kv.PebbleOptions{IsTesting: opt.IsTesting})
	default:
		return nil, fmt.Errorf("docindex: unknown backend %q", opt.Backend)
	}
}

// Open opens a database for the classes of cat. Clusters are assigned to
// new classes, and the indexes defined by earlier runs are reattached.
func Open(cat *Catalog, opt Options) (*DB, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "docindex")

	m, err := newMetrics(opt.Registerer)
	if err != nil {
		return nil, fmt.Errorf("docindex: metrics: %w", err)
	}

	store, err := openStore(opt)
	if err != nil {
		return nil, err
	}
	jrnl, err := openJournal(opt, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	cacheSize := opt.RecordCacheSize
	if cacheSize == 0 {
		cacheSize = defaultRecordCacheSize
	}

	db := &DB{
		store:          store,
		catalog:        cat,
		logger:         logger,
		verbose:        opt.Verbose,
		strict:         opt.IsTesting,
		metrics:        m,
		journal:        jrnl,
		cacheSize:      cacheSize,
		clusters:       make(map[*Class]int32),
		classByCluster: make(map[int32]*Class),
		indexesByLower: make(map[string]*Index),
	}

	err = db.Tx(true, func(tx *Tx) error {
		if err := db.prepareClusters(tx); err != nil {
			return err
		}
		return db.loadIndexes(tx)
	})
	if err != nil {
		store.Close()
		if jrnl != nil {
			jrnl.Close()
		}
		return nil, fmt.Errorf("docindex: open: %w", err)
	}
	logger.Debug("opened", "backend", cmp.Or(string(opt.Backend), string(BackendMemory)), "classes", len(cat.classes), "indexes", len(db.indexes))
	return db, nil
}

func (db *DB) Catalog() *Catalog {
	return db.catalog
}

func (db *DB) Close() {
	if db.journal != nil {
		if err := db.journal.Close(); err != nil {
			panic(fmt.Errorf("docindex: closing journal: %w", err))
		}
	}
	err := db.store.Close()
	if err != nil {
		panic(fmt.Errorf("docindex: closing: %w", err))
	}
}

func (db *DB) newIndex(name string, def IndexDefinition, opt IndexOptions, ordinal uint64) *Index {
	return &Index{
		db:          db,
		name:        name,
		def:         def,
		class:       db.catalog.Class(def.ClassName()),
		unique:      opt.Unique,
		ignoreNulls: opt.IgnoreNullValues,
		keyTypes:    def.KeyTypes(),
		ordinal:     ordinal,
		fingerprint: indexFingerprint(def, opt),
		bucket:      indexBucketName(ordinal),
	}
}

func (db *DB) addIndex(idx *Index) {
	db.indexesLock.Lock()
	defer db.indexesLock.Unlock()
	db.indexes = append(db.indexes, idx)
	slices.SortFunc(db.indexes, func(a, b *Index) int {
		return cmp.Compare(a.ordinal, b.ordinal)
	})
	db.indexesByLower[strings.ToLower(idx.name)] = idx
}

func (db *DB) removeIndex(idx *Index) {
	db.indexesLock.Lock()
	defer db.indexesLock.Unlock()
	db.indexes = slices.DeleteFunc(db.indexes, func(i *Index) bool { return i == idx })
	delete(db.indexesByLower, strings.ToLower(idx.name))
}

// DefineIndex creates an index and builds it from the records already
// stored in the class and its subclasses. An empty name picks the default
// "<Class>.<field>[_<field>...]". If the existing records violate a unique
// index, the definition is rejected and nothing is left behind.
//
// DefineIndex runs its own writable transaction, so it must not be called
// while the calling goroutine holds one.
func (db *DB) DefineIndex(name string, def IndexDefinition, opt IndexOptions) (*Index, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidIndexDefinition)
	}
	if name == "" {
		name = defaultIndexName(def)
	}
	if !validIndexName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIndexName, name)
	}
	def, err := NewIndexDefinition(db.catalog, def.ClassName(), def.FieldSpecs()...)
	if err != nil {
		return nil, err
	}
	if db.Index(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, name)
	}

	var idx *Index
	err = db.Tx(true, func(tx *Tx) error {
		idx = db.newIndex(name, def, opt, tx.nextIndexOrdinal())
		must(tx.ktx.CreateBucket(idx.bucket))
		if err := tx.rebuildIndex(idx); err != nil {
			return err
		}
		tx.saveIndexState(idx)
		return nil
	})
	if err != nil {
		db.logger.Warn("index definition rejected", "index", name, "def", def.String(), "err", err)
		return nil, err
	}
	db.addIndex(idx)
	db.logger.Info("defined index", "index", idx.String())
	return idx, nil
}

// MustDefineIndex is DefineIndex for schema setup code.
func (db *DB) MustDefineIndex(name string, def IndexDefinition, opt IndexOptions) *Index {
	return must(db.DefineIndex(name, def, opt))
}

// DropIndex removes the index and all of its entries.
func (db *DB) DropIndex(idx *Index) error {
	if db.Index(idx.name) != idx {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, idx.name)
	}
	err := db.Tx(true, func(tx *Tx) error {
		tx.deleteIndexState(idx)
		return nil
	})
	if err != nil {
		return err
	}
	db.removeIndex(idx)
	db.logger.Info("dropped index", "index", idx.name)
	return nil
}

// Index looks an index up by name, ignoring case; nil if there is none.
func (db *DB) Index(name string) *Index {
	db.indexesLock.RLock()
	defer db.indexesLock.RUnlock()
	return db.indexesByLower[strings.ToLower(name)]
}

func (db *DB) MustIndex(name string) *Index {
	idx := db.Index(name)
	if idx == nil {
		panic(fmt.Errorf("%w: %s", ErrIndexNotFound, name))
	}
	return idx
}

// Indexes returns every index, in definition order.
func (db *DB) Indexes() []*Index {
	db.indexesLock.RLock()
	defer db.indexesLock.RUnlock()
	return slices.Clone(db.indexes)
}

// classIndexes returns the indexes that cover records of cls: those
// defined on cls or on any of its superclasses.
func (db *DB) classIndexes(cls *Class) []*Index {
	db.indexesLock.RLock()
	defer db.indexesLock.RUnlock()
	var out []*Index
	for _, idx := range db.indexes {
		if cls.IsSubclassOf(idx.class) {
			out = append(out, idx)
		}
	}
	return out
}

// ApplyIndexSpecs defines the indexes listed in a schema file, skipping
// those that already exist with the same definition and options.
func (db *DB) ApplyIndexSpecs(specs []IndexSpec) error {
	for _, spec := range specs {
		def, err := NewIndexDefinition(db.catalog, spec.Class, spec.Fields...)
		if err != nil {
			return fmt.Errorf("index %s: %w", spec.Name, err)
		}
		opt := IndexOptions{Unique: spec.Unique, IgnoreNullValues: spec.IgnoreNullValues}
		name := cmp.Or(spec.Name, defaultIndexName(def))
		if existing := db.Index(name); existing != nil {
			if existing.fingerprint == indexFingerprint(def, opt) {
				continue
			}
			return fmt.Errorf("%w: %s is defined as %v", ErrIndexExists, name, existing)
		}
		if _, err := db.DefineIndex(name, def, opt); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	return nil
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms\n", tx.id, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms:\n%s", tx.id, ms, tx.stack)
		}
	}

	return buf.String()
}

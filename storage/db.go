package storage

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Reader is the read side of a key-value store. Iterate visits keys that
// start with prefix in ascending byte order.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// Txn is a read-write view whose writes become visible together on commit.
// Reads observe the transaction's own pending writes.
type Txn interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Database is a generic interface for a key-value store.
// This allows the bounty store to use any backend (in-memory or persistent).
// Update calls are serialised against each other and against direct writes.
type Database interface {
	Reader
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	View(fn func(Reader) error) error
	Update(fn func(Txn) error) error
	Close() error
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = bytes.Clone(value)
	return nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return memReader{data: db.data}.Get(key)
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return memReader{data: db.data}.Has(key)
}

func (db *MemDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return memReader{data: db.data}.Iterate(prefix, fn)
}

// View runs fn against a consistent view of the database.
func (db *MemDB) View(fn func(Reader) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(memReader{data: db.data})
}

// Update runs fn with exclusive access. Writes are staged in an overlay and
// only applied when fn returns nil.
func (db *MemDB) Update(fn func(Txn) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	txn := &memTxn{base: db.data, writes: make(map[string][]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	for k, v := range txn.writes {
		if v == nil {
			delete(db.data, k)
			continue
		}
		db.data[k] = v
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error {
	// Nothing to close for an in-memory database.
	return nil
}

type memReader struct {
	data map[string][]byte
}

func (r memReader) Get(key []byte) ([]byte, error) {
	value, ok := r.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (r memReader) Has(key []byte) (bool, error) {
	_, ok := r.data[string(key)]
	return ok, nil
}

func (r memReader) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	keys := make([]string, 0)
	for k := range r.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), bytes.Clone(r.data[k])); err != nil {
			return err
		}
	}
	return nil
}

// memTxn overlays pending writes on the committed map. A nil value in writes
// marks a deletion.
type memTxn struct {
	base   map[string][]byte
	writes map[string][]byte
}

func (t *memTxn) Get(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	}
	return memReader{data: t.base}.Get(key)
}

func (t *memTxn) Has(key []byte) (bool, error) {
	if v, ok := t.writes[string(key)]; ok {
		return v != nil, nil
	}
	return memReader{data: t.base}.Has(key)
}

func (t *memTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	for k, v := range t.base {
		if strings.HasPrefix(k, string(prefix)) {
			merged[k] = v
		}
	}
	for k, v := range t.writes {
		if !strings.HasPrefix(k, string(prefix)) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return memReader{data: merged}.Iterate(prefix, fn)
}

func (t *memTxn) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	t.writes[string(key)] = bytes.Clone(value)
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	t.writes[string(key)] = nil
	return nil
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB opens a LevelDB instance backed by memory. Useful for tests
// that want LevelDB transaction semantics without touching disk.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Delete removes a key.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return translateLevelErr(ldb.db.Get(key, nil))
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return levelIterate(ldb.db.NewIterator(util.BytesPrefix(prefix), nil), fn)
}

// View runs fn against a point-in-time snapshot.
func (ldb *LevelDB) View(fn func(Reader) error) error {
	snap, err := ldb.db.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	return fn(levelSnapshot{snap: snap})
}

// Update runs fn inside a LevelDB transaction. LevelDB allows a single open
// transaction and blocks other writes until it is committed or discarded.
func (ldb *LevelDB) Update(fn func(Txn) error) error {
	tr, err := ldb.db.OpenTransaction()
	if err != nil {
		return err
	}
	if err := fn(levelTxn{tr: tr}); err != nil {
		tr.Discard()
		return err
	}
	return tr.Commit()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

func translateLevelErr(value []byte, err error) ([]byte, error) {
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

type levelIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

func levelIterate(it levelIterator, fn func(key, value []byte) error) error {
	defer it.Release()
	for it.Next() {
		if err := fn(bytes.Clone(it.Key()), bytes.Clone(it.Value())); err != nil {
			return err
		}
	}
	return it.Error()
}

type levelSnapshot struct {
	snap *leveldb.Snapshot
}

func (s levelSnapshot) Get(key []byte) ([]byte, error) {
	return translateLevelErr(s.snap.Get(key, nil))
}

func (s levelSnapshot) Has(key []byte) (bool, error) {
	return s.snap.Has(key, nil)
}

func (s levelSnapshot) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return levelIterate(s.snap.NewIterator(util.BytesPrefix(prefix), nil), fn)
}

type levelTxn struct {
	tr *leveldb.Transaction
}

func (t levelTxn) Get(key []byte) ([]byte, error) {
	return translateLevelErr(t.tr.Get(key, nil))
}

func (t levelTxn) Has(key []byte) (bool, error) {
	return t.tr.Has(key, nil)
}

func (t levelTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return levelIterate(t.tr.NewIterator(util.BytesPrefix(prefix), nil), fn)
}

func (t levelTxn) Put(key, value []byte) error {
	return t.tr.Put(key, value, nil)
}

func (t levelTxn) Delete(key []byte) error {
	return t.tr.Delete(key, nil)
}

package storage

import (
	"bytes"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("kv")

// BoltDB is a single-file persistent store backed by bbolt. All keys live in
// one bucket so prefix iteration matches the other backends.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates or opens the bbolt file at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Put(key []byte, value []byte) error {
	return b.Update(func(txn Txn) error { return txn.Put(key, value) })
}

func (b *BoltDB) Delete(key []byte) error {
	return b.Update(func(txn Txn) error { return txn.Delete(key) })
}

func (b *BoltDB) Get(key []byte) (value []byte, err error) {
	err = b.View(func(r Reader) error {
		value, err = r.Get(key)
		return err
	})
	return value, err
}

func (b *BoltDB) Has(key []byte) (ok bool, err error) {
	err = b.View(func(r Reader) error {
		ok, err = r.Has(key)
		return err
	})
	return ok, err
}

func (b *BoltDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return b.View(func(r Reader) error { return r.Iterate(prefix, fn) })
}

// View runs fn inside a read-only bbolt transaction.
func (b *BoltDB) View(fn func(Reader) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(boltTxn{bucket: tx.Bucket(boltBucket)})
	})
}

// Update runs fn inside a bbolt read-write transaction. bbolt permits one
// writer at a time.
func (b *BoltDB) Update(fn func(Txn) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(boltTxn{bucket: tx.Bucket(boltBucket)})
	})
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// boltTxn copies values out because bbolt slices are only valid for the life
// of the transaction.
type boltTxn struct {
	bucket *bolt.Bucket
}

func (t boltTxn) Get(key []byte) ([]byte, error) {
	value := t.bucket.Get(key)
	if value == nil {
		return nil, ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (t boltTxn) Has(key []byte) (bool, error) {
	return t.bucket.Get(key) != nil, nil
}

func (t boltTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	type pair struct{ key, value []byte }
	var pairs []pair
	c := t.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		pairs = append(pairs, pair{bytes.Clone(k), bytes.Clone(v)})
	}
	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

func (t boltTxn) Put(key, value []byte) error {
	if len(key) == 0 {
		return errors.New("storage: empty key")
	}
	if value == nil {
		value = []byte{}
	}
	return t.bucket.Put(key, value)
}

func (t boltTxn) Delete(key []byte) error {
	return t.bucket.Delete(key)
}

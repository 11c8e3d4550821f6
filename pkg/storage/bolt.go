package storage

import (
	"bytes"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketData = []byte("data")

// BoltStore implements Store using BoltDB. All entries live in a single
// bucket so that the bucket's B+tree ordering doubles as the store's
// lexicographic key order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "meshkv.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketData)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		// Seek through a cursor so zero-length values still count as
		// present; Get cannot tell them apart from missing keys.
		c := tx.Bucket(bucketData).Cursor()
		k, data := c.Seek(key)
		if k == nil || !bytes.Equal(k, key) {
			return ErrNotFound
		}
		// Copy since BoltDB data is only valid during the transaction
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	return value, err
}

func (s *BoltStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketData).Put(key, value)
	})
}

func (s *BoltStore) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketData).Delete(key)
	})
}

func (s *BoltStore) Has(key []byte) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		k, _ := c.Seek(key)
		found = k != nil && bytes.Equal(k, key)
		return nil
	})
	return found, err
}

// Query snapshots all entries whose key starts with prefix, in key
// order. An empty prefix matches the whole store.
func (s *BoltStore) Query(prefix []byte) (Results, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			value := make([]byte, len(v))
			copy(value, v)
			entries = append(entries, Entry{Key: key, Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sliceResults{entries: entries}, nil
}

// Batch returns a write batch applied in a single BoltDB transaction.
func (s *BoltStore) Batch() Batch {
	return &boltBatch{store: s}
}

// Sync is a no-op: BoltDB fsyncs on every committed transaction.
func (s *BoltStore) Sync(prefix []byte) error {
	return nil
}

type batchOp struct {
	del   bool
	key   []byte
	value []byte
}

type boltBatch struct {
	store *BoltStore
	ops   []batchOp
	done  bool
}

func (b *boltBatch) Put(key, value []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.ops = append(b.ops, batchOp{key: k, value: v})
	return nil
}

func (b *boltBatch) Delete(key []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	b.ops = append(b.ops, batchOp{del: true, key: k})
	return nil
}

func (b *boltBatch) Commit() error {
	if b.done {
		return fmt.Errorf("storage: batch already committed")
	}
	b.done = true
	return b.store.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketData)
		for _, op := range b.ops {
			var err error
			if op.del {
				err = bkt.Delete(op.key)
			} else {
				err = bkt.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

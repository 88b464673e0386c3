package bolt

import (
	"context"
	"encoding/binary"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

var (
	bucketValues = []byte("values")
	bucketMeta   = []byte("meta")
)

// Stats reports what the store currently holds.
type Stats struct {
	Keys        int
	UpdatedUnix int64 // last write across all keys, 0 if never written
}

// Store persists storage values in a single bbolt file. Each Set is one
// transaction, so a reader sees either the previous value or the new one.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketValues); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(_ context.Context, key domain.StorageKey) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketValues)
		if b == nil {
			return nil
		}
		// values are only valid for the life of the transaction
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *Store) Set(_ context.Context, key domain.StorageKey, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketValues).Put([]byte(key), value); err != nil {
			return err
		}
		ubuf := make([]byte, 8)
		binary.BigEndian.PutUint64(ubuf, uint64(s.now().Unix()))
		return tx.Bucket(bucketMeta).Put([]byte(key), ubuf)
	})
}

// Stats returns the key count and the most recent write time.
func (s *Store) Stats() Stats {
	st := Stats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketValues); b != nil {
			st.Keys = b.Stats().KeyN
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			return b.ForEach(func(_, v []byte) error {
				if len(v) == 8 {
					if u := int64(binary.BigEndian.Uint64(v)); u > st.UpdatedUnix {
						st.UpdatedUnix = u
					}
				}
				return nil
			})
		}
		return nil
	})
	return st
}

package localstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the directory holding the
	// local database.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt file lock.
	// Another process holding the store blocks until this expires.
	storeOpenTimeout = 5 * time.Second
)

var documentBucket = []byte("local")

// BoltStore keeps every key in a single bbolt bucket. It is exclusive
// to one process at a time; use DirStore when several processes share
// the same state.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) a bolt-backed store at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, unavailable("creating store directory", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, unavailable("opening store db", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, unavailable("initializing store db", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(documentBucket).Get([]byte(key))
		if v != nil {
			value, ok = string(v), true
		}

		return nil
	})
	if err != nil {
		return "", false, unavailable(fmt.Sprintf("reading %q", key), err)
	}

	return value, ok, nil
}

func (s *BoltStore) Set(key, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return unavailable(fmt.Sprintf("writing %q", key), err)
	}

	return nil
}

func (s *BoltStore) Remove(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentBucket).Delete([]byte(key))
	})
	if err != nil {
		return unavailable(fmt.Sprintf("removing %q", key), err)
	}

	return nil
}

// SetMany writes every value in one transaction.
func (s *BoltStore) SetMany(values map[string]string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentBucket)

		for k, v := range values {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return unavailable("writing batch", err)
	}

	return nil
}

func (s *BoltStore) All() (map[string]string, error) {
	result := make(map[string]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentBucket).ForEach(func(k, v []byte) error {
			result[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("reading all keys", err)
	}

	return result, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

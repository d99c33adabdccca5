package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	bolt "go.etcd.io/bbolt"
)

const (
	boltDirPerm     = fs.FileMode(0o700)
	boltFilePerm    = fs.FileMode(0o600)
	boltOpenTimeout = 5 * time.Second
)

var documentsBucket = []byte("documents")

// BoltStore keeps documents in a single-file bbolt database, one key per
// identity.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt store path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening document db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Get(_ context.Context, id identity.Identity) (document.Record, error) {
	if err := checkIdentity(id); err != nil {
		return document.Record{}, err
	}

	var rec document.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(documentsBucket).Get([]byte(id.Key()))
		if data == nil {
			return ErrNotFound
		}

		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return document.Record{}, fmt.Errorf("reading document for %s: %w", id, err)
	}

	return rec, nil
}

func (s *BoltStore) Put(_ context.Context, id identity.Identity, doc document.Document, device string) (document.Record, error) {
	if err := checkIdentity(id); err != nil {
		return document.Record{}, err
	}

	rec := document.Record{
		Document:  doc.Clone(),
		UpdatedAt: s.now().UTC(),
		Device:    device,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return document.Record{}, fmt.Errorf("marshalling document: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(id.Key()), data)
	})
	if err != nil {
		return document.Record{}, fmt.Errorf("writing document for %s: %w", id, err)
	}

	return rec, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

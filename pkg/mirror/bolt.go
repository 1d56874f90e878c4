package mirror

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("mirror")

// BoltMirror stores keys in a single bucket of a bbolt file. The file is
// held open (and locked) until Close.
type BoltMirror struct {
	db *bolt.DB
}

var _ Mirror = (*BoltMirror)(nil)

func NewBoltMirror(path string) (*BoltMirror, error) {
	if path == "" {
		return nil, errors.New("bolt mirror path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltMirror{db: db}, nil
}

func (m *BoltMirror) Get(_ context.Context, key string) ([]byte, bool, error) {
	var ret []byte
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		// v is only valid during the transaction
		ret = append([]byte{}, v...)
		return nil
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return nil, false, ErrClosed
	}
	return ret, found, err
}

func (m *BoltMirror) Put(_ context.Context, key string, value []byte) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func (m *BoltMirror) Delete(_ context.Context, key string) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func (m *BoltMirror) Close() error {
	return m.db.Close()
}

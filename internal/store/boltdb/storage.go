package boltdb

import (
	"fmt"
	"path/filepath"

	"go.etcd.io/bbolt"
)

const dbFileName = "replica.db"

var (
	// BoltDB bucket names
	bucketMetadata = []byte("metadata")
)

// Storage represents BoltDB-backed replica metadata storage
type Storage struct {
	db *bbolt.DB
}

// New открывает metadata хранилище в storageDir.
// Файл создается, если его еще нет.
func New(storageDir string) (*Storage, error) {
	db, err := bbolt.Open(filepath.Join(storageDir, dbFileName), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	// Инициализируем buckets
	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMetadata); err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}
		return nil
	})
}

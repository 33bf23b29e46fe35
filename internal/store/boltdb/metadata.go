package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/chrysalis/replicant/internal/store"
)

const (
	keyCursor        = "cursor"
	keyClock         = "lamport_clock"
	keyLastBootstrap = "last_bootstrap"
	keyIdentity      = "identity"
)

// SaveCursor сохраняет последний известный курсор хаба
func (s *Storage) SaveCursor(ctx context.Context, cursor int64) error {
	return s.putInt64(keyCursor, cursor)
}

// GetCursor возвращает последний известный курсор хаба.
// Возвращает 0, если синхронизации еще не было.
func (s *Storage) GetCursor(ctx context.Context) (int64, error) {
	return s.getInt64(keyCursor)
}

// SaveClock сохраняет значение часов Лампорта
func (s *Storage) SaveClock(ctx context.Context, timestamp int64) error {
	return s.putInt64(keyClock, timestamp)
}

// GetClock возвращает сохраненное значение часов Лампорта
func (s *Storage) GetClock(ctx context.Context) (int64, error) {
	return s.getInt64(keyClock)
}

// SaveLastBootstrap сохраняет время последнего успешного bootstrap
func (s *Storage) SaveLastBootstrap(ctx context.Context, at time.Time) error {
	return s.putInt64(keyLastBootstrap, at.UnixNano())
}

// GetLastBootstrap возвращает время последнего успешного bootstrap.
// Возвращает нулевое время, если bootstrap еще не выполнялся.
func (s *Storage) GetLastBootstrap(ctx context.Context) (time.Time, error) {
	nanos, err := s.getInt64(keyLastBootstrap)
	if err != nil {
		return time.Time{}, err
	}
	if nanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, nanos), nil
}

// SaveIdentity сохраняет identity реплики
func (s *Storage) SaveIdentity(ctx context.Context, identity *store.Identity) error {
	if s.db == nil {
		return store.ErrStorageClosed
	}

	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}
		if err := bucket.Put([]byte(keyIdentity), data); err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}
		return nil
	})
}

// GetIdentity возвращает identity реплики или store.ErrNotFound,
// если storageDir еще не инициализирован.
func (s *Storage) GetIdentity(ctx context.Context) (*store.Identity, error) {
	if s.db == nil {
		return nil, store.ErrStorageClosed
	}

	var identity *store.Identity

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return store.ErrNotFound
		}

		data := bucket.Get([]byte(keyIdentity))
		if data == nil {
			return store.ErrNotFound
		}

		identity = &store.Identity{}
		if err := json.Unmarshal(data, identity); err != nil {
			return fmt.Errorf("failed to unmarshal identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// putInt64 сохраняет int64 значение под заданным ключом
func (s *Storage) putInt64(key string, value int64) error {
	if s.db == nil {
		return store.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		// Конвертируем int64 в bytes
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(value))

		if err := bucket.Put([]byte(key), buf); err != nil {
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
		return nil
	})
}

// getInt64 возвращает int64 значение под заданным ключом.
// Возвращает 0, если значение не найдено.
func (s *Storage) getInt64(key string) (int64, error) {
	if s.db == nil {
		return 0, store.ErrStorageClosed
	}

	var value int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			// Значение еще не записано - возвращаем 0
			value = 0
			return nil
		}

		value = int64(binary.BigEndian.Uint64(data))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return value, nil
}

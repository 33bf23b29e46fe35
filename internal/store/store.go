// Package store определяет интерфейсы локального metadata хранилища
// реплики: курсор синхронизации, состояние часов Лампорта и identity
// записи. Реализация живет в подпакете boltdb.
package store

import (
	"context"
	"time"
)

//go:generate moq -out store_mock.go . MetadataStore

// Identity связывает storageDir с конкретной репликой.
// Несовпадение agent id при старте — признак чужой директории.
type Identity struct {
	AgentID    string `json:"agent_id"`
	InstanceID string `json:"instance_id"`
}

// MetadataStore определяет интерфейс для метаданных реплики
type MetadataStore interface {
	// SaveCursor сохраняет последний известный курсор хаба
	SaveCursor(ctx context.Context, cursor int64) error

	// GetCursor возвращает последний известный курсор хаба (0, если синхронизации не было)
	GetCursor(ctx context.Context) (int64, error)

	// SaveClock сохраняет значение часов Лампорта для восстановления после рестарта
	SaveClock(ctx context.Context, timestamp int64) error

	// GetClock возвращает сохраненное значение часов Лампорта
	GetClock(ctx context.Context) (int64, error)

	// SaveLastBootstrap сохраняет время последнего успешного bootstrap
	SaveLastBootstrap(ctx context.Context, at time.Time) error

	// GetLastBootstrap возвращает время последнего успешного bootstrap
	// (нулевое время, если bootstrap не выполнялся)
	GetLastBootstrap(ctx context.Context) (time.Time, error)

	// SaveIdentity сохраняет identity реплики
	SaveIdentity(ctx context.Context, identity *Identity) error

	// GetIdentity возвращает identity реплики или ErrNotFound
	GetIdentity(ctx context.Context) (*Identity, error)

	// Close закрывает хранилище
	Close() error
}

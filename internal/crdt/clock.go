package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// LamportClock представляет логические часы Лампорта для упорядочивания
// событий в распределенной системе без синхронизации физического времени.
// Каждая локальная мутация (claim, vote) получает timestamp через Tick,
// каждое удаленное событие продвигает счетчик через Observe.
type LamportClock struct {
	counter int64      // монотонно возрастающий счетчик
	nodeID  string     // уникальный идентификатор узла (instance id)
	mu      sync.Mutex // мьютекс для потокобезопасности
}

// NewLamportClock создает часы Лампорта с заданным идентификатором узла.
// Пустой nodeID заменяется случайным UUID.
func NewLamportClock(nodeID string) *LamportClock {
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	return &LamportClock{
		counter: 0,
		nodeID:  nodeID,
	}
}

// Tick увеличивает счетчик и возвращает новое значение timestamp.
// Используется при создании нового локального события.
func (lc *LamportClock) Tick() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return lc.counter
}

// Observe обновляет счетчик на основе полученного удаленного timestamp.
// Согласно алгоритму Лампорта: counter = max(counter, remote) + 1
func (lc *LamportClock) Observe(remoteTimestamp int64) int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remoteTimestamp > lc.counter {
		lc.counter = remoteTimestamp
	}
	lc.counter++

	return lc.counter
}

// Now возвращает текущее значение счетчика без его изменения.
func (lc *LamportClock) Now() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}

// NodeID возвращает уникальный идентификатор узла.
func (lc *LamportClock) NodeID() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.nodeID
}

// Restore устанавливает счетчик в заданное значение.
// Используется для восстановления состояния часов после перезапуска;
// значение меньше текущего игнорируется, счетчик не откатывается.
func (lc *LamportClock) Restore(timestamp int64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if timestamp > lc.counter {
		lc.counter = timestamp
	}
}

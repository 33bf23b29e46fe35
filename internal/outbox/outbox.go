// Package outbox хранит локально закоммиченные мутации, еще не
// подтвержденные хабом. Записи покидают outbox только по ack;
// при переполнении ничего не отбрасывается — старые записи просто
// остаются в очереди до доставки. Содержимое восстанавливается
// при старте из WAL (мутации без парного ack).
package outbox

import (
	"sync"

	"github.com/chrysalis/replicant/pkg/api"
)

// Outbox представляет FIFO очередь неподтвержденных deltas.
type Outbox struct {
	entries []*api.Delta
	seen    map[string]struct{} // ids присутствующих записей
	mu      sync.Mutex
}

// New создает пустой outbox.
func New() *Outbox {
	return &Outbox{
		seen: make(map[string]struct{}),
	}
}

// Add ставит delta в очередь. Повторное добавление той же delta
// (по ID) — no-op, чтобы replay WAL был идемпотентным.
func (o *Outbox) Add(delta *api.Delta) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.seen[delta.ID]; exists {
		return false
	}

	o.seen[delta.ID] = struct{}{}
	o.entries = append(o.entries, delta)
	return true
}

// Ack удаляет подтвержденные записи. Неизвестные ids игнорируются:
// хаб может подтвердить уже подтвержденное при повторной доставке.
// Возвращает количество удаленных записей.
func (o *Outbox) Ack(ids []string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, exists := o.seen[id]; exists {
			acked[id] = struct{}{}
			delete(o.seen, id)
		}
	}
	if len(acked) == 0 {
		return 0
	}

	remaining := o.entries[:0]
	for _, delta := range o.entries {
		if _, ok := acked[delta.ID]; !ok {
			remaining = append(remaining, delta)
		}
	}
	// Зануляем хвост, чтобы не держать ссылки на удаленные deltas
	for i := len(remaining); i < len(o.entries); i++ {
		o.entries[i] = nil
	}
	o.entries = remaining

	return len(acked)
}

// Pending возвращает до max старейших неподтвержденных записей
// (все, если max <= 0). Возвращается копия среза: flush может идти
// параллельно с новыми Add.
func (o *Outbox) Pending(max int) []*api.Delta {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.entries)
	if max > 0 && max < n {
		n = max
	}

	result := make([]*api.Delta, n)
	copy(result, o.entries[:n])
	return result
}

// Contains проверяет наличие записи с заданным id.
func (o *Outbox) Contains(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, exists := o.seen[id]
	return exists
}

// Len возвращает количество неподтвержденных записей.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.entries)
}

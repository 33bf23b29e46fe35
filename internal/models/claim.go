package models

import (
	"time"

	"github.com/chrysalis/replicant/pkg/api"
)

// Claim представляет семантическое утверждение в локальной реплике.
// Claim иммутабелен после создания: он никогда не удаляется из ledger,
// только проигрывает в голосовании другому claim по тому же ключу.
type Claim struct {
	CreatedAt time.Time // время создания (для информации)
	Hash      string    // content address, H(key, value, source)
	Key       string    // ключ утверждения
	Value     string    // значение утверждения
	Source    string    // источник утверждения
	CreatedBy string    // instance id создателя
	Timestamp int64     // Lamport timestamp события создания
}

// Clone создает глубокую копию claim
func (c *Claim) Clone() *Claim {
	clone := *c
	return &clone
}

// ToAPI конвертирует claim в wire формат
func (c *Claim) ToAPI() api.Claim {
	return api.Claim{
		Hash:      c.Hash,
		Key:       c.Key,
		Value:     c.Value,
		Source:    c.Source,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
		Timestamp: c.Timestamp,
	}
}

// ClaimFromAPI конвертирует wire формат в доменную модель
func ClaimFromAPI(c api.Claim) *Claim {
	return &Claim{
		Hash:      c.Hash,
		Key:       c.Key,
		Value:     c.Value,
		Source:    c.Source,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
		Timestamp: c.Timestamp,
	}
}

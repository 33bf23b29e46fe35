package models

import (
	"time"

	"github.com/chrysalis/replicant/pkg/api"
)

// Vote представляет голос участника в poll.
// Для каждой пары (PollID, VoterID) действует не более одного голоса:
// при конфликте применяется LWW (Last-Write-Wins) по Timestamp.
type Vote struct {
	CastAt    time.Time // время подачи голоса (для информации)
	PollID    string    // идентификатор poll
	VoterID   string    // идентификатор голосующего
	ClaimHash string    // hash claim, за который отдан голос
	NodeID    string    // идентификатор узла, записавшего эту версию
	Weight    float64   // вес голоса
	Timestamp int64     // Lamport timestamp для упорядочивания
}

// IsNewerThan сравнивает два голоса и определяет, какой из них новее.
// Согласно алгоритму LWW:
// 1. Сначала сравнивается Timestamp (больший выигрывает)
// 2. При равных Timestamp сравнивается NodeID (лексикографически)
// Возвращает true, если текущий голос новее, чем other.
func (v *Vote) IsNewerThan(other *Vote) bool {
	if v.Timestamp > other.Timestamp {
		return true
	}
	if v.Timestamp < other.Timestamp {
		return false
	}
	// Timestamps равны - сравниваем NodeID для детерминизма
	return v.NodeID > other.NodeID
}

// Clone создает глубокую копию голоса
func (v *Vote) Clone() *Vote {
	clone := *v
	return &clone
}

// ToAPI конвертирует vote в wire формат
func (v *Vote) ToAPI() api.Vote {
	return api.Vote{
		PollID:    v.PollID,
		VoterID:   v.VoterID,
		ClaimHash: v.ClaimHash,
		NodeID:    v.NodeID,
		Weight:    v.Weight,
		Timestamp: v.Timestamp,
		CastAt:    v.CastAt,
	}
}

// VoteFromAPI конвертирует wire формат в доменную модель.
// Нулевой вес нормализуется к 1: хаб может прислать голос без веса.
func VoteFromAPI(v api.Vote) *Vote {
	weight := v.Weight
	if weight == 0 {
		weight = 1
	}
	return &Vote{
		PollID:    v.PollID,
		VoterID:   v.VoterID,
		ClaimHash: v.ClaimHash,
		NodeID:    v.NodeID,
		Weight:    weight,
		Timestamp: v.Timestamp,
		CastAt:    v.CastAt,
	}
}

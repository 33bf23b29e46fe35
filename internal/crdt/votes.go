package crdt

import (
	"sync"

	"github.com/chrysalis/replicant/internal/models"
)

// voteSlot — ключ эффективного голоса: не более одного голоса
// на пару (poll, voter).
type voteSlot struct {
	pollID  string
	voterID string
}

// VoteMap представляет CRDT поверх голосов: union слотов
// (pollID, voterID), каждый слот независимо разрешается по LWW
// (Last-Write-Wins) правилу models.Vote.IsNewerThan. Merge
// коммутативен и идемпотентен, как и claim ledger.
type VoteMap struct {
	slots map[voteSlot]*models.Vote
	mu    sync.RWMutex // мьютекс для потокобезопасности
}

// NewVoteMap создает пустой vote map.
func NewVoteMap() *VoteMap {
	return &VoteMap{
		slots: make(map[voteSlot]*models.Vote),
	}
}

// Put записывает голос или перезаписывает существующий, если новая
// версия новее по LWW правилу. Возвращает true, если слот изменился.
func (m *VoteMap) Put(vote *models.Vote) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := voteSlot{pollID: vote.PollID, voterID: vote.VoterID}

	existing, exists := m.slots[slot]

	// Если слота нет - записываем
	if !exists {
		m.slots[slot] = vote.Clone()
		return true
	}

	// Если новая версия новее - перезаписываем
	if vote.IsNewerThan(existing) {
		m.slots[slot] = vote.Clone()
		return true
	}

	// Существующая версия новее - не трогаем
	return false
}

// Merge объединяет удаленные голоса с локальным состоянием.
// Возвращает количество изменившихся слотов.
func (m *VoteMap) Merge(remote []*models.Vote) int {
	changed := 0
	for _, vote := range remote {
		if m.Put(vote) {
			changed++
		}
	}
	return changed
}

// Get возвращает эффективный голос для пары (pollID, voterID)
// или nil, если голос не подан.
func (m *VoteMap) Get(pollID, voterID string) *models.Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vote, exists := m.slots[voteSlot{pollID: pollID, voterID: voterID}]
	if !exists {
		return nil
	}
	return vote.Clone()
}

// ByPoll возвращает все эффективные голоса заданного poll.
func (m *VoteMap) ByPoll(pollID string) []*models.Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Vote
	for slot, vote := range m.slots {
		if slot.pollID == pollID {
			result = append(result, vote.Clone())
		}
	}
	return result
}

// GetAll возвращает копии всех эффективных голосов.
func (m *VoteMap) GetAll() []*models.Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Vote, 0, len(m.slots))
	for _, vote := range m.slots {
		result = append(result, vote.Clone())
	}
	return result
}

// Size возвращает количество эффективных голосов.
func (m *VoteMap) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.slots)
}

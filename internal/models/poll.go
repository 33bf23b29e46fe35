package models

import (
	"time"

	"github.com/chrysalis/replicant/pkg/api"
)

// PollStatus представляет состояние раунда голосования
type PollStatus string

const (
	PollStatusOpen     PollStatus = "open"
	PollStatusResolved PollStatus = "resolved"
)

// Poll представляет раунд голосования по конкурирующим claims.
// Кандидаты — grow-only set: кандидат может добавиться при merge,
// но никогда не исчезает. Разрешение poll — advisory состояние,
// проигравшие claims остаются в ledger.
type Poll struct {
	CreatedAt  time.Time           // время создания poll
	Candidates map[string]struct{} // hashes конкурирующих claims
	PollID     string              // уникальный идентификатор
	Key        string              // ключ с конкуренцией (опционально)
	Status     PollStatus          // open или resolved
}

// NewPoll создает новый открытый poll с заданными кандидатами.
func NewPoll(pollID, key string, candidates []string, createdAt time.Time) *Poll {
	p := &Poll{
		PollID:     pollID,
		Key:        key,
		Status:     PollStatusOpen,
		Candidates: make(map[string]struct{}, len(candidates)),
		CreatedAt:  createdAt,
	}
	for _, hash := range candidates {
		p.Candidates[hash] = struct{}{}
	}
	return p
}

// HasCandidate проверяет наличие кандидата в poll
func (p *Poll) HasCandidate(hash string) bool {
	_, ok := p.Candidates[hash]
	return ok
}

// Clone создает глубокую копию poll
func (p *Poll) Clone() *Poll {
	candidates := make(map[string]struct{}, len(p.Candidates))
	for hash := range p.Candidates {
		candidates[hash] = struct{}{}
	}
	return &Poll{
		PollID:     p.PollID,
		Key:        p.Key,
		Status:     p.Status,
		Candidates: candidates,
		CreatedAt:  p.CreatedAt,
	}
}

// ToAPI конвертирует poll в wire формат.
// Кандидаты сортируются на стороне сериализации не здесь:
// порядок в slice не несет семантики.
func (p *Poll) ToAPI() api.Poll {
	candidates := make([]string, 0, len(p.Candidates))
	for hash := range p.Candidates {
		candidates = append(candidates, hash)
	}
	return api.Poll{
		PollID:     p.PollID,
		Key:        p.Key,
		Status:     string(p.Status),
		Candidates: candidates,
		CreatedAt:  p.CreatedAt,
	}
}

// PollFromAPI конвертирует wire формат в доменную модель.
// Неизвестный статус трактуется как open: merge никогда не должен
// "разрешать" poll только из-за битого поля.
func PollFromAPI(p api.Poll) *Poll {
	status := PollStatus(p.Status)
	if status != PollStatusOpen && status != PollStatusResolved {
		status = PollStatusOpen
	}
	poll := NewPoll(p.PollID, p.Key, p.Candidates, p.CreatedAt)
	poll.Status = status
	return poll
}

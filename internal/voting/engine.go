// Package voting реализует жизненный цикл polls и подсчет голосов.
// Состояние голосования само является CRDT: polls — grow-only set
// с grow-only набором кандидатов, голоса — union слотов (poll, voter)
// с независимым LWW разрешением каждого слота. Merge коммутативен
// и идемпотентен, как и claim ledger.
package voting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chrysalis/replicant/internal/crdt"
	"github.com/chrysalis/replicant/internal/models"
)

// Config задает политику разрешения polls.
// Кворум и таймаут — конфигурация, а не константы: политика
// разрешения принадлежит хабу и может отличаться между деплоями.
type Config struct {
	// Quorum — доля взвешенной поддержки от суммарного веса голосов
	// в poll, которую кандидат должен строго превысить для разрешения.
	Quorum float64

	// PollTimeout — интервал без новых голосов, после которого
	// открытый poll с хотя бы одним голосом разрешается по plurality.
	PollTimeout time.Duration
}

// TallyResult представляет результат подсчета голосов
type TallyResult struct {
	Totals      map[string]float64 // суммарный вес по каждому кандидату
	WinningHash string             // победитель, если poll разрешен
	TotalWeight float64            // суммарный вес всех голосов в poll
	Resolved    bool
}

// Engine представляет движок голосования одной реплики.
// Разрешение poll — advisory состояние: проигравшие claims
// остаются в ledger, ничего не удаляется.
type Engine struct {
	polls    map[string]*models.Poll
	votes    *crdt.VoteMap
	activity map[string]time.Time // время последнего голоса по каждому poll
	logger   *slog.Logger
	cfg      Config
	mu       sync.RWMutex
}

// NewEngine создает движок голосования с заданной политикой.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		polls:    make(map[string]*models.Poll),
		votes:    crdt.NewVoteMap(),
		activity: make(map[string]time.Time),
		logger:   logger,
		cfg:      cfg,
	}
}

// RegisterPoll создает poll, если он еще не известен. Для известного
// poll merge добавляет недостающих кандидатов (grow-only) и поднимает
// статус до resolved, если удаленная версия уже разрешена.
// Возвращает true, если состояние изменилось.
func (e *Engine) RegisterPoll(poll *models.Poll) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, exists := e.polls[poll.PollID]
	if !exists {
		e.polls[poll.PollID] = poll.Clone()
		return true
	}

	changed := false
	for hash := range poll.Candidates {
		if _, ok := existing.Candidates[hash]; !ok {
			existing.Candidates[hash] = struct{}{}
			changed = true
		}
	}
	// resolved побеждает open: разрешение монотонно
	if poll.Status == models.PollStatusResolved && existing.Status != models.PollStatusResolved {
		existing.Status = models.PollStatusResolved
		changed = true
	}
	return changed
}

// Vote записывает голос по LWW правилу слота (pollID, voterID).
// Голос за неизвестный poll неявно регистрирует poll с единственным
// кандидатом: poll мог быть создан на другом узле и еще не доехать.
// Возвращает true, если эффективное состояние изменилось.
func (e *Engine) Vote(vote *models.Vote) bool {
	e.mu.Lock()
	if _, exists := e.polls[vote.PollID]; !exists {
		e.polls[vote.PollID] = models.NewPoll(vote.PollID, "", []string{vote.ClaimHash}, vote.CastAt)
	} else if vote.ClaimHash != "" {
		// Кандидат мог появиться позже регистрации poll
		e.polls[vote.PollID].Candidates[vote.ClaimHash] = struct{}{}
	}
	e.mu.Unlock()

	changed := e.votes.Put(vote)
	if changed {
		e.mu.Lock()
		e.activity[vote.PollID] = time.Now()
		e.mu.Unlock()
	}
	return changed
}

// MergePolls объединяет удаленные polls. Возвращает количество изменений.
func (e *Engine) MergePolls(remote []*models.Poll) int {
	changed := 0
	for _, poll := range remote {
		if e.RegisterPoll(poll) {
			changed++
		}
	}
	return changed
}

// MergeVotes объединяет удаленные голоса. Возвращает количество изменений.
func (e *Engine) MergeVotes(remote []*models.Vote) int {
	changed := 0
	for _, vote := range remote {
		if e.Vote(vote) {
			changed++
		}
	}
	return changed
}

// GetPoll возвращает копию poll или nil.
func (e *Engine) GetPoll(pollID string) *models.Poll {
	e.mu.RLock()
	defer e.mu.RUnlock()

	poll, exists := e.polls[pollID]
	if !exists {
		return nil
	}
	return poll.Clone()
}

// HasPollForKey проверяет, есть ли poll (в любом статусе) по заданному
// ключу. Используется для того, чтобы конкуренция по ключу поднимала
// не более одного poll. Пустой ключ всегда свободен: неявно
// зарегистрированные через Vote polls бесключевые и ключ не занимают.
func (e *Engine) HasPollForKey(key string) bool {
	if key == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, poll := range e.polls {
		if poll.Key == key {
			return true
		}
	}
	return false
}

// Tally подсчитывает взвешенные голоса poll. Poll разрешается, когда
// поддержка одного кандидата строго превышает Quorum от суммарного
// веса голосов, либо по таймауту (см. ResolveIdle). Подсчет не мутирует
// состояние, кроме фиксации статуса resolved при достижении кворума.
func (e *Engine) Tally(pollID string) *TallyResult {
	e.mu.RLock()
	poll, exists := e.polls[pollID]
	e.mu.RUnlock()
	if !exists {
		return nil
	}

	result := &TallyResult{Totals: make(map[string]float64)}

	for _, vote := range e.votes.ByPoll(pollID) {
		result.Totals[vote.ClaimHash] += vote.Weight
		result.TotalWeight += vote.Weight
	}

	winner, winnerWeight := maxCandidate(result.Totals)

	if result.TotalWeight > 0 && winnerWeight > e.cfg.Quorum*result.TotalWeight {
		result.Resolved = true
		result.WinningHash = winner
		e.markResolved(poll.PollID)
		return result
	}

	// Poll мог быть разрешен ранее (по таймауту или на другом узле):
	// статус монотонен, возвращаем текущую plurality как победителя.
	if poll.Status == models.PollStatusResolved {
		result.Resolved = true
		result.WinningHash = winner
	}
	return result
}

// ResolveIdle разрешает по plurality открытые polls, в которых не было
// новых голосов дольше PollTimeout. Возвращает ids разрешенных polls.
func (e *Engine) ResolveIdle(now time.Time) []string {
	if e.cfg.PollTimeout <= 0 {
		return nil
	}

	e.mu.Lock()
	var idle []string
	for pollID, poll := range e.polls {
		if poll.Status != models.PollStatusOpen {
			continue
		}
		last, voted := e.activity[pollID]
		if voted && now.Sub(last) >= e.cfg.PollTimeout {
			poll.Status = models.PollStatusResolved
			idle = append(idle, pollID)
		}
	}
	e.mu.Unlock()

	for _, pollID := range idle {
		e.logger.Info("poll resolved by timeout", "poll_id", pollID)
	}
	return idle
}

// Polls возвращает копии всех известных polls.
func (e *Engine) Polls() []*models.Poll {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*models.Poll, 0, len(e.polls))
	for _, poll := range e.polls {
		result = append(result, poll.Clone())
	}
	return result
}

// Votes возвращает копии всех эффективных голосов.
func (e *Engine) Votes() []*models.Vote {
	return e.votes.GetAll()
}

// GetVote возвращает эффективный голос пары (pollID, voterID) или nil.
func (e *Engine) GetVote(pollID, voterID string) *models.Vote {
	return e.votes.Get(pollID, voterID)
}

// markResolved фиксирует разрешение poll.
func (e *Engine) markResolved(pollID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if poll, exists := e.polls[pollID]; exists && poll.Status != models.PollStatusResolved {
		poll.Status = models.PollStatusResolved
	}
}

// maxCandidate возвращает кандидата с наибольшим весом.
// При равенстве выигрывает лексикографически больший hash:
// детерминизм важнее справедливости tie-break.
func maxCandidate(totals map[string]float64) (string, float64) {
	var winner string
	var weight float64
	for hash, total := range totals {
		if total > weight || (total == weight && hash > winner) {
			winner = hash
			weight = total
		}
	}
	return winner, weight
}

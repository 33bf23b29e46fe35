package crdt

import (
	"sync"

	"github.com/chrysalis/replicant/internal/models"
)

// ClaimLedger представляет grow-only set (G-Set) CRDT всех известных
// claims, адресуемых по content hash. Вставка коммутативна,
// ассоциативна и идемпотентна: порядок прибытия и дублирование
// не влияют на итоговое состояние. Claims никогда не удаляются.
//
// Вторичный индекс key -> set<hash> выявляет конкуренцию: несколько
// различных claims под одним ключом. Обнаружение конфликта живет
// здесь, разрешение — в VotingEngine.
type ClaimLedger struct {
	claims   map[string]*models.Claim       // map[hash]claim
	keyIndex map[string]map[string]struct{} // map[key]set<hash>
	mu       sync.RWMutex                   // мьютекс для потокобезопасности
}

// NewClaimLedger создает пустой claim ledger.
func NewClaimLedger() *ClaimLedger {
	return &ClaimLedger{
		claims:   make(map[string]*models.Claim),
		keyIndex: make(map[string]map[string]struct{}),
	}
}

// Insert добавляет claim в ledger. Если claim с таким hash уже
// известен, возвращает isNew=false и ничего не меняет (идемпотентный
// no-op). Claim должен приходить с уже вычисленным hash.
func (l *ClaimLedger) Insert(claim *models.Claim) (hash string, isNew bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.claims[claim.Hash]; exists {
		return claim.Hash, false
	}

	l.claims[claim.Hash] = claim.Clone()

	hashes, ok := l.keyIndex[claim.Key]
	if !ok {
		hashes = make(map[string]struct{})
		l.keyIndex[claim.Key] = hashes
	}
	hashes[claim.Hash] = struct{}{}

	return claim.Hash, true
}

// Merge объединяет удаленные claims с локальным состоянием.
// Это повторный Insert для каждого элемента — классический G-Set merge,
// никакой vector-clock reconciliation не требуется.
// Возвращает количество впервые увиденных claims.
func (l *ClaimLedger) Merge(remote []*models.Claim) int {
	added := 0
	for _, claim := range remote {
		if _, isNew := l.Insert(claim); isNew {
			added++
		}
	}
	return added
}

// Get возвращает claim по hash или nil, если hash неизвестен.
func (l *ClaimLedger) Get(hash string) *models.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()

	claim, exists := l.claims[hash]
	if !exists {
		return nil
	}
	return claim.Clone()
}

// Contains проверяет наличие claim с заданным hash.
func (l *ClaimLedger) Contains(hash string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.claims[hash]
	return exists
}

// QueryByKey возвращает hashes всех claims под заданным ключом.
// Больше одного hash означает конкуренцию, которую VotingEngine
// может вынести на голосование.
func (l *ClaimLedger) QueryByKey(key string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hashes := make([]string, 0, len(l.keyIndex[key]))
	for hash := range l.keyIndex[key] {
		hashes = append(hashes, hash)
	}
	return hashes
}

// GetAll возвращает копии всех claims в ledger.
// Используется для снимков состояния и отдачи полного состояния хабу.
func (l *ClaimLedger) GetAll() []*models.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*models.Claim, 0, len(l.claims))
	for _, claim := range l.claims {
		result = append(result, claim.Clone())
	}
	return result
}

// Size возвращает количество claims в ledger.
func (l *ClaimLedger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.claims)
}

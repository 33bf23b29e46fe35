package api

import "time"

// Claim представляет одно семантическое утверждение для синхронизации.
// Hash детерминированно выводится из (key, value, source), поэтому
// повторная доставка той же записи безопасна.
type Claim struct {
	CreatedAt time.Time `json:"created_at"` // время создания записи (для информации)
	Hash      string    `json:"hash"`       // content address (hex-encoded BLAKE3)
	Key       string    `json:"key"`        // ключ утверждения
	Value     string    `json:"value"`      // значение утверждения
	Source    string    `json:"source"`     // источник (кто/что утверждает)
	CreatedBy string    `json:"created_by"` // instance id создателя
	Timestamp int64     `json:"timestamp"`  // Lamport timestamp события создания
}

// Poll представляет раунд голосования по конкурирующим claims
type Poll struct {
	CreatedAt  time.Time `json:"created_at"`
	PollID     string    `json:"poll_id"`
	Key        string    `json:"key,omitempty"` // ключ с конкуренцией (опционально)
	Status     string    `json:"status"`        // "open" или "resolved"
	Candidates []string  `json:"candidates"`    // hashes конкурирующих claims
}

// Vote представляет голос одного участника в poll.
// Действует не более одного голоса на пару (poll_id, voter_id):
// при конфликте выигрывает запись с большим timestamp.
type Vote struct {
	CastAt    time.Time `json:"cast_at"`
	PollID    string    `json:"poll_id"`
	VoterID   string    `json:"voter_id"`
	ClaimHash string    `json:"claim_hash"`
	NodeID    string    `json:"node_id"`   // instance id узла, записавшего голос
	Weight    float64   `json:"weight"`    // вес голоса (по умолчанию 1)
	Timestamp int64     `json:"timestamp"` // Lamport timestamp для LWW
}

// Poll status values
const (
	PollStatusOpen     = "open"
	PollStatusResolved = "resolved"
)

// Delta представляет одну единицу репликации: claim, vote или poll.
// ID уникален для каждой локальной мутации и используется хабом
// для подтверждения доставки (ack).
type Delta struct {
	Claim *Claim `json:"claim,omitempty"`
	Vote  *Vote  `json:"vote,omitempty"`
	Poll  *Poll  `json:"poll,omitempty"`
	ID    string `json:"id"`
	Kind  string `json:"kind"` // "claim", "vote" или "poll"
}

// Delta kinds
const (
	DeltaKindClaim = "claim"
	DeltaKindVote  = "vote"
	DeltaKindPoll  = "poll"
)

// Snapshot представляет полное состояние реплики агента на хабе.
// Возвращается HTTPS endpoint'ом при bootstrap.
type Snapshot struct {
	Claims []Claim `json:"claims"`
	Polls  []Poll  `json:"polls"`
	Votes  []Vote  `json:"votes"`
	Cursor int64   `json:"cursor"` // Lamport clock хаба на момент снимка
}

// Message представляет кадр WebSocket канала синхронизации.
// Канал двунаправленный: обе стороны шлют delta и ack кадры,
// клиент дополнительно открывает соединение кадром hello.
type Message struct {
	Delta      *Delta   `json:"delta,omitempty"`
	Type       string   `json:"type"` // "hello", "delta" или "ack"
	AgentID    string   `json:"agent_id,omitempty"`
	InstanceID string   `json:"instance_id,omitempty"`
	AckIDs     []string `json:"ack_ids,omitempty"`
	Cursor     int64    `json:"cursor,omitempty"`
}

// Message types
const (
	MessageTypeHello = "hello"
	MessageTypeDelta = "delta"
	MessageTypeAck   = "ack"
)

// ErrorResponse представляет ответ хаба с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

package wal

import (
	"github.com/chrysalis/replicant/pkg/api"
)

// RecordKind определяет тип записи журнала
type RecordKind string

const (
	RecordClaim RecordKind = "claim" // локально созданный claim
	RecordVote  RecordKind = "vote"  // локально поданный голос
	RecordPoll  RecordKind = "poll"  // локально открытый poll
	RecordAck   RecordKind = "ack"   // подтверждение доставки хабом
)

// Record представляет одну запись журнала. Мутации (claim, vote, poll)
// пишутся до того, как становятся видимыми в памяти; ack пишется, когда
// хаб подтвердил доставку соответствующей мутации. Replay восстанавливает
// ledger, голоса и outbox: локальная мутация без парного ack остается
// в outbox. Удаленные записи (Remote) восстанавливают только состояние:
// они пришли от хаба и в outbox не попадают.
type Record struct {
	Claim   *api.Claim `cbor:"claim,omitempty"`
	Vote    *api.Vote  `cbor:"vote,omitempty"`
	Poll    *api.Poll  `cbor:"poll,omitempty"`
	Kind    RecordKind `cbor:"kind"`
	EntryID string     `cbor:"entry_id"`         // id мутации; для ack - id подтвержденной мутации
	Remote  bool       `cbor:"remote,omitempty"` // запись пришла от хаба (delta или snapshot)
}

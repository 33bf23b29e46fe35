package api

// ControlRequest представляет одну строку управляющего протокола
// (line-delimited JSON на stdin). Поля заполняются в зависимости от Cmd.
type ControlRequest struct {
	Cmd       string `json:"cmd"`                 // "claim", "vote", "query", "tally", "status" или "exit"
	Key       string `json:"key,omitempty"`       // для "claim" и "query"
	Value     string `json:"value,omitempty"`     // для "claim"
	Source    string `json:"source,omitempty"`    // для "claim"
	PollID    string `json:"pollId,omitempty"`    // для "vote" и "tally"
	ClaimHash string `json:"claimHash,omitempty"` // для "vote"
}

// Control commands
const (
	CmdClaim  = "claim"
	CmdVote   = "vote"
	CmdQuery  = "query"
	CmdTally  = "tally"
	CmdStatus = "status"
	CmdExit   = "exit"
)

// ControlResponse представляет одну строку ответа (line-delimited JSON
// на stdout). Всегда ровно один объект на одну входную строку.
type ControlResponse struct {
	OK          bool    `json:"ok"`
	Error       string  `json:"error,omitempty"`
	ClaimHash   string  `json:"claimHash,omitempty"`   // ответ на "claim"
	Claims      []Claim `json:"claims,omitempty"`      // ответ на "query"
	Resolved    *bool   `json:"resolved,omitempty"`    // ответ на "tally"
	WinningHash string  `json:"winningHash,omitempty"` // ответ на "tally", если poll разрешен
	State       string  `json:"state,omitempty"`       // ответ на "status"
	Outbox      *int    `json:"outbox,omitempty"`      // ответ на "status": размер outbox
}

// Protocol error codes для поля Error
const (
	ErrCodeInvalidJSON = "invalid_json"
	ErrCodeUnknownCmd  = "unknown_cmd"
)

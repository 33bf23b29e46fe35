// Package control реализует управляющий протокол процесса: по одной
// JSON команде на строку stdin, ровно один JSON объект на строку
// stdout. stdout принадлежит протоколу целиком, вся диагностика
// уходит в stderr через slog.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chrysalis/replicant/internal/models"
	"github.com/chrysalis/replicant/internal/replicant"
	"github.com/chrysalis/replicant/internal/voting"
	"github.com/chrysalis/replicant/pkg/api"
)

// maxLineSize ограничивает длину одной команды
const maxLineSize = 1 << 20 // 1 MB

// Replica определяет операции реплики, доступные через протокол.
// Реализуется фасадом.
type Replica interface {
	AppendSemanticClaim(ctx context.Context, key, value, source string) (string, error)
	Vote(ctx context.Context, pollID, claimHash string) error
	QueryKey(ctx context.Context, key string) ([]*models.Claim, error)
	TallyPoll(ctx context.Context, pollID string) (*voting.TallyResult, error)
	State() replicant.State
	OutboxLen() int
}

// Handler обслуживает управляющий протокол поверх пары потоков.
type Handler struct {
	replica Replica
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
}

// New создает обработчик протокола. В бою in/out — это stdin/stdout.
func New(replica Replica, in io.Reader, out io.Writer, logger *slog.Logger) *Handler {
	return &Handler{
		replica: replica,
		logger:  logger,
		in:      in,
		out:     out,
	}
}

// Run читает команды до exit, EOF или отмены контекста. Возвращает
// nil на штатное завершение: и exit, и закрытие stdin — сигнал
// на чистую остановку процесса. Строка длиннее maxLineSize — ошибка
// команды, а не процесса: остаток строки отбрасывается, пишется
// ответ invalid_json, обслуживание продолжается.
func (h *Handler) Run(ctx context.Context) error {
	reader := bufio.NewReaderSize(h.in, 64*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, tooLong, err := readLine(reader)
		if err != nil && err != io.EOF {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read control input: %w", err)
		}

		if tooLong {
			if werr := h.write(&api.ControlResponse{OK: false, Error: api.ErrCodeInvalidJSON}); werr != nil {
				return fmt.Errorf("failed to write control response: %w", werr)
			}
		} else if line = strings.TrimSpace(line); line != "" {
			resp, exit := h.dispatch(ctx, line)
			if werr := h.write(resp); werr != nil {
				return fmt.Errorf("failed to write control response: %w", werr)
			}
			if exit {
				return nil
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

// readLine читает одну строку, ограничивая ее maxLineSize.
// Превысившая лимит строка дочитывается и отбрасывается целиком,
// tooLong при этом true. err == io.EOF означает конец потока;
// последняя строка без завершающего перевода при этом возвращается.
func readLine(reader *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte

	for {
		chunk, err := reader.ReadSlice('\n')
		buf = append(buf, chunk...)

		if err == nil || err == io.EOF {
			if len(buf) > maxLineSize {
				return "", true, err
			}
			return string(buf), false, err
		}
		if err != bufio.ErrBufferFull {
			return "", false, err
		}
		if len(buf) <= maxLineSize {
			continue
		}

		// Лимит превышен - дочитываем строку в никуда
		for {
			_, err := reader.ReadSlice('\n')
			if err == bufio.ErrBufferFull {
				continue
			}
			return "", true, err
		}
	}
}

// dispatch выполняет одну команду. Panic внутри команды превращается
// в ответ с ошибкой: одна битая команда не роняет процесс.
func (h *Handler) dispatch(ctx context.Context, line string) (resp *api.ControlResponse, exit bool) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic in control command", "panic", rec)
			resp = &api.ControlResponse{OK: false, Error: fmt.Sprintf("panic: %v", rec)}
			exit = false
		}
	}()

	var req api.ControlRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return &api.ControlResponse{OK: false, Error: api.ErrCodeInvalidJSON}, false
	}

	switch req.Cmd {
	case api.CmdClaim:
		return h.handleClaim(ctx, &req), false
	case api.CmdVote:
		return h.handleVote(ctx, &req), false
	case api.CmdQuery:
		return h.handleQuery(ctx, &req), false
	case api.CmdTally:
		return h.handleTally(ctx, &req), false
	case api.CmdStatus:
		return h.handleStatus(), false
	case api.CmdExit:
		return &api.ControlResponse{OK: true}, true
	default:
		return &api.ControlResponse{OK: false, Error: api.ErrCodeUnknownCmd}, false
	}
}

func (h *Handler) handleClaim(ctx context.Context, req *api.ControlRequest) *api.ControlResponse {
	if req.Key == "" {
		return &api.ControlResponse{OK: false, Error: "claim requires key"}
	}

	hash, err := h.replica.AppendSemanticClaim(ctx, req.Key, req.Value, req.Source)
	if err != nil {
		return &api.ControlResponse{OK: false, Error: err.Error()}
	}
	return &api.ControlResponse{OK: true, ClaimHash: hash}
}

func (h *Handler) handleVote(ctx context.Context, req *api.ControlRequest) *api.ControlResponse {
	if req.PollID == "" || req.ClaimHash == "" {
		return &api.ControlResponse{OK: false, Error: "vote requires pollId and claimHash"}
	}

	if err := h.replica.Vote(ctx, req.PollID, req.ClaimHash); err != nil {
		return &api.ControlResponse{OK: false, Error: err.Error()}
	}
	return &api.ControlResponse{OK: true}
}

func (h *Handler) handleQuery(ctx context.Context, req *api.ControlRequest) *api.ControlResponse {
	claims, err := h.replica.QueryKey(ctx, req.Key)
	if err != nil {
		return &api.ControlResponse{OK: false, Error: err.Error()}
	}

	out := make([]api.Claim, 0, len(claims))
	for _, claim := range claims {
		out = append(out, claim.ToAPI())
	}
	return &api.ControlResponse{OK: true, Claims: out}
}

func (h *Handler) handleTally(ctx context.Context, req *api.ControlRequest) *api.ControlResponse {
	tally, err := h.replica.TallyPoll(ctx, req.PollID)
	if err != nil {
		if errors.Is(err, replicant.ErrPollNotFound) {
			return &api.ControlResponse{OK: false, Error: "poll not found"}
		}
		return &api.ControlResponse{OK: false, Error: err.Error()}
	}

	resp := &api.ControlResponse{OK: true, Resolved: &tally.Resolved}
	if tally.Resolved {
		resp.WinningHash = tally.WinningHash
	}
	return resp
}

func (h *Handler) handleStatus() *api.ControlResponse {
	outbox := h.replica.OutboxLen()
	return &api.ControlResponse{
		OK:     true,
		State:  string(h.replica.State()),
		Outbox: &outbox,
	}
}

// write сериализует ответ одной строкой
func (h *Handler) write(resp *api.ControlResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = h.out.Write(data)
	return err
}

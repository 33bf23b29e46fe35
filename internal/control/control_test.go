package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrysalis/replicant/internal/models"
	"github.com/chrysalis/replicant/internal/replicant"
	"github.com/chrysalis/replicant/internal/voting"
	"github.com/chrysalis/replicant/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// replicaMock реализует Replica для тестов
type replicaMock struct {
	AppendSemanticClaimFunc func(ctx context.Context, key, value, source string) (string, error)
	VoteFunc                func(ctx context.Context, pollID, claimHash string) error
	QueryKeyFunc            func(ctx context.Context, key string) ([]*models.Claim, error)
	TallyPollFunc           func(ctx context.Context, pollID string) (*voting.TallyResult, error)
	StateFunc               func() replicant.State
	OutboxLenFunc           func() int
}

func (m *replicaMock) AppendSemanticClaim(ctx context.Context, key, value, source string) (string, error) {
	return m.AppendSemanticClaimFunc(ctx, key, value, source)
}

func (m *replicaMock) Vote(ctx context.Context, pollID, claimHash string) error {
	return m.VoteFunc(ctx, pollID, claimHash)
}

func (m *replicaMock) QueryKey(ctx context.Context, key string) ([]*models.Claim, error) {
	return m.QueryKeyFunc(ctx, key)
}

func (m *replicaMock) TallyPoll(ctx context.Context, pollID string) (*voting.TallyResult, error) {
	return m.TallyPollFunc(ctx, pollID)
}

func (m *replicaMock) State() replicant.State {
	if m.StateFunc == nil {
		return replicant.StateSyncing
	}
	return m.StateFunc()
}

func (m *replicaMock) OutboxLen() int {
	if m.OutboxLenFunc == nil {
		return 0
	}
	return m.OutboxLenFunc()
}

// run прогоняет входные строки через обработчик и возвращает
// по одному распарсенному ответу на строку вывода
func run(t *testing.T, replica Replica, input string) []api.ControlResponse {
	t.Helper()

	var out bytes.Buffer
	h := New(replica, strings.NewReader(input), &out, testLogger())
	require.NoError(t, h.Run(context.Background()))

	var responses []api.ControlResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp api.ControlResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "line: %s", line)
		responses = append(responses, resp)
	}
	return responses
}

func TestControl_Claim(t *testing.T) {
	replica := &replicaMock{
		AppendSemanticClaimFunc: func(ctx context.Context, key, value, source string) (string, error) {
			assert.Equal(t, "service.port", key)
			assert.Equal(t, "8080", value)
			assert.Equal(t, "configmap", source)
			return "abc123", nil
		},
	}

	responses := run(t, replica, `{"cmd":"claim","key":"service.port","value":"8080","source":"configmap"}`)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)
	assert.Equal(t, "abc123", responses[0].ClaimHash)
}

func TestControl_ClaimStorageError(t *testing.T) {
	replica := &replicaMock{
		AppendSemanticClaimFunc: func(ctx context.Context, key, value, source string) (string, error) {
			return "", errors.New("storage error: disk full")
		},
	}

	responses := run(t, replica, `{"cmd":"claim","key":"k","value":"v","source":"s"}`)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].OK)
	assert.Contains(t, responses[0].Error, "disk full")
}

func TestControl_InvalidJSON(t *testing.T) {
	responses := run(t, &replicaMock{}, `{not json`)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].OK)
	assert.Equal(t, api.ErrCodeInvalidJSON, responses[0].Error)
}

func TestControl_UnknownCmd(t *testing.T) {
	responses := run(t, &replicaMock{}, `{"cmd":"frobnicate"}`)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].OK)
	assert.Equal(t, api.ErrCodeUnknownCmd, responses[0].Error)
}

func TestControl_OneResponsePerLine(t *testing.T) {
	replica := &replicaMock{
		AppendSemanticClaimFunc: func(ctx context.Context, key, value, source string) (string, error) {
			return "h-" + key, nil
		},
	}

	// Битая строка посередине не ломает обработку следующих
	input := `{"cmd":"claim","key":"a","value":"1","source":"s"}
{garbage
{"cmd":"claim","key":"b","value":"2","source":"s"}`

	responses := run(t, replica, input)
	require.Len(t, responses, 3)
	assert.True(t, responses[0].OK)
	assert.Equal(t, "h-a", responses[0].ClaimHash)
	assert.False(t, responses[1].OK)
	assert.True(t, responses[2].OK)
	assert.Equal(t, "h-b", responses[2].ClaimHash)
}

func TestControl_BlankLinesIgnored(t *testing.T) {
	responses := run(t, &replicaMock{}, "\n\n  \n")
	assert.Empty(t, responses)
}

func TestControl_Vote(t *testing.T) {
	replica := &replicaMock{
		VoteFunc: func(ctx context.Context, pollID, claimHash string) error {
			assert.Equal(t, "p1", pollID)
			assert.Equal(t, "h1", claimHash)
			return nil
		},
	}

	responses := run(t, replica, `{"cmd":"vote","pollId":"p1","claimHash":"h1"}`)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)

	// Без pollId голос отклоняется до фасада
	responses = run(t, replica, `{"cmd":"vote","claimHash":"h1"}`)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].OK)
}

func TestControl_Query(t *testing.T) {
	replica := &replicaMock{
		QueryKeyFunc: func(ctx context.Context, key string) ([]*models.Claim, error) {
			return []*models.Claim{
				{Hash: "h1", Key: key, Value: "v1", Source: "s1"},
				{Hash: "h2", Key: key, Value: "v2", Source: "s2"},
			}, nil
		},
	}

	responses := run(t, replica, `{"cmd":"query","key":"leader"}`)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)
	require.Len(t, responses[0].Claims, 2)
	assert.Equal(t, "h1", responses[0].Claims[0].Hash)
	assert.Equal(t, "v2", responses[0].Claims[1].Value)
}

func TestControl_Tally(t *testing.T) {
	replica := &replicaMock{
		TallyPollFunc: func(ctx context.Context, pollID string) (*voting.TallyResult, error) {
			if pollID == "resolved" {
				return &voting.TallyResult{Resolved: true, WinningHash: "h-win"}, nil
			}
			if pollID == "open" {
				return &voting.TallyResult{Resolved: false}, nil
			}
			return nil, replicant.ErrPollNotFound
		},
	}

	responses := run(t, replica, `{"cmd":"tally","pollId":"resolved"}`)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)
	require.NotNil(t, responses[0].Resolved)
	assert.True(t, *responses[0].Resolved)
	assert.Equal(t, "h-win", responses[0].WinningHash)

	responses = run(t, replica, `{"cmd":"tally","pollId":"open"}`)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)
	require.NotNil(t, responses[0].Resolved)
	assert.False(t, *responses[0].Resolved)
	assert.Empty(t, responses[0].WinningHash)

	responses = run(t, replica, `{"cmd":"tally","pollId":"missing"}`)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].OK)
	assert.Equal(t, "poll not found", responses[0].Error)
}

func TestControl_Status(t *testing.T) {
	replica := &replicaMock{
		StateFunc:     func() replicant.State { return replicant.StateReconnecting },
		OutboxLenFunc: func() int { return 7 },
	}

	responses := run(t, replica, `{"cmd":"status"}`)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)
	assert.Equal(t, "RECONNECTING", responses[0].State)
	require.NotNil(t, responses[0].Outbox)
	assert.Equal(t, 7, *responses[0].Outbox)
}

func TestControl_ExitStopsLoop(t *testing.T) {
	replica := &replicaMock{
		AppendSemanticClaimFunc: func(ctx context.Context, key, value, source string) (string, error) {
			t.Fatal("command after exit must not be dispatched")
			return "", nil
		},
	}

	input := `{"cmd":"exit"}
{"cmd":"claim","key":"a","value":"1","source":"s"}`

	responses := run(t, replica, input)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)
}

func TestControl_PanicRecovered(t *testing.T) {
	replica := &replicaMock{
		AppendSemanticClaimFunc: func(ctx context.Context, key, value, source string) (string, error) {
			panic("boom")
		},
	}

	input := `{"cmd":"claim","key":"a","value":"1","source":"s"}
{"cmd":"status"}`

	responses := run(t, replica, input)
	require.Len(t, responses, 2)
	assert.False(t, responses[0].OK)
	assert.Contains(t, responses[0].Error, "boom")
	// Процесс жив, следующая команда обработана
	assert.True(t, responses[1].OK)
}

func TestControl_OversizedLineRejected(t *testing.T) {
	replica := &replicaMock{
		AppendSemanticClaimFunc: func(ctx context.Context, key, value, source string) (string, error) {
			return "h-" + key, nil
		},
	}

	// Команда на мегабайт с лишним не должна ронять обработчик:
	// ответ invalid_json и следующая строка обслуживается как обычно
	huge := `{"cmd":"claim","key":"k","value":"` +
		strings.Repeat("x", maxLineSize+10) + `","source":"s"}`
	input := huge + "\n" + `{"cmd":"claim","key":"after","value":"1","source":"s"}`

	responses := run(t, replica, input)
	require.Len(t, responses, 2)
	assert.False(t, responses[0].OK)
	assert.Equal(t, api.ErrCodeInvalidJSON, responses[0].Error)
	assert.True(t, responses[1].OK)
	assert.Equal(t, "h-after", responses[1].ClaimHash)
}

func TestControl_OversizedLastLineWithoutNewline(t *testing.T) {
	huge := strings.Repeat("y", maxLineSize+1)

	responses := run(t, &replicaMock{}, huge)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].OK)
	assert.Equal(t, api.ErrCodeInvalidJSON, responses[0].Error)
}

func TestControl_EOFEndsCleanly(t *testing.T) {
	var out bytes.Buffer
	h := New(&replicaMock{}, strings.NewReader(""), &out, testLogger())
	require.NoError(t, h.Run(context.Background()))
	assert.Empty(t, out.String())
}

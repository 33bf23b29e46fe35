package voting

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrysalis/replicant/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine() *Engine {
	return NewEngine(Config{Quorum: 2.0 / 3.0, PollTimeout: time.Minute}, testLogger())
}

func vote(pollID, voterID, claimHash string, ts int64, weight float64) *models.Vote {
	return &models.Vote{
		PollID:    pollID,
		VoterID:   voterID,
		ClaimHash: claimHash,
		NodeID:    voterID,
		Weight:    weight,
		Timestamp: ts,
	}
}

func TestEngine_RegisterPollGrowOnly(t *testing.T) {
	e := newTestEngine()

	poll := models.NewPoll("p1", "color", []string{"h1", "h2"}, time.Now())
	assert.True(t, e.RegisterPoll(poll))
	assert.False(t, e.RegisterPoll(poll), "re-registering the same poll must be a no-op")

	// Merge добавляет кандидатов, но не убирает существующих
	wider := models.NewPoll("p1", "color", []string{"h3"}, time.Now())
	assert.True(t, e.RegisterPoll(wider))

	got := e.GetPoll("p1")
	require.NotNil(t, got)
	assert.True(t, got.HasCandidate("h1"))
	assert.True(t, got.HasCandidate("h2"))
	assert.True(t, got.HasCandidate("h3"))
}

func TestEngine_VoteOverwriteNotDoubleCounted(t *testing.T) {
	e := newTestEngine()
	e.RegisterPoll(models.NewPoll("p1", "", []string{"h1", "h2"}, time.Now()))

	require.True(t, e.Vote(vote("p1", "alice", "h1", 1, 1)))
	// Тот же voter передумал: более поздний голос замещает ранний
	require.True(t, e.Vote(vote("p1", "alice", "h2", 5, 1)))

	result := e.Tally("p1")
	require.NotNil(t, result)
	assert.Equal(t, float64(0), result.Totals["h1"])
	assert.Equal(t, float64(1), result.Totals["h2"])
	assert.Equal(t, float64(1), result.TotalWeight, "voter must not be double-counted")
}

func TestEngine_VoteForUnknownPollRegistersIt(t *testing.T) {
	e := newTestEngine()

	require.True(t, e.Vote(vote("p-remote", "bob", "h9", 1, 1)))

	poll := e.GetPoll("p-remote")
	require.NotNil(t, poll)
	assert.True(t, poll.HasCandidate("h9"))
}

func TestEngine_TallyQuorum(t *testing.T) {
	e := newTestEngine()
	e.RegisterPoll(models.NewPoll("p1", "", []string{"h1", "h2"}, time.Now()))

	// 2 голоса из 3 за h1: 2 не превышает строго 2/3 * 3 = 2
	e.Vote(vote("p1", "alice", "h1", 1, 1))
	e.Vote(vote("p1", "bob", "h1", 2, 1))
	e.Vote(vote("p1", "carol", "h2", 3, 1))

	result := e.Tally("p1")
	require.NotNil(t, result)
	assert.False(t, result.Resolved)
	assert.Empty(t, result.WinningHash)

	// Четвертый голос за h1: 3 > 2/3 * 4
	e.Vote(vote("p1", "dave", "h1", 4, 1))

	result = e.Tally("p1")
	assert.True(t, result.Resolved)
	assert.Equal(t, "h1", result.WinningHash)

	// Разрешение - advisory состояние poll
	assert.Equal(t, models.PollStatusResolved, e.GetPoll("p1").Status)
}

func TestEngine_TallyWeighted(t *testing.T) {
	e := newTestEngine()
	e.RegisterPoll(models.NewPoll("p1", "", []string{"h1", "h2"}, time.Now()))

	e.Vote(vote("p1", "alice", "h1", 1, 5))
	e.Vote(vote("p1", "bob", "h2", 2, 1))

	// 5 > 2/3 * 6 = 4
	result := e.Tally("p1")
	assert.True(t, result.Resolved)
	assert.Equal(t, "h1", result.WinningHash)
}

func TestEngine_TallyUnknownPoll(t *testing.T) {
	e := newTestEngine()
	assert.Nil(t, e.Tally("missing"))
}

func TestEngine_ResolveIdle(t *testing.T) {
	e := NewEngine(Config{Quorum: 2.0 / 3.0, PollTimeout: time.Second}, testLogger())
	e.RegisterPoll(models.NewPoll("p1", "", []string{"h1", "h2"}, time.Now()))
	e.RegisterPoll(models.NewPoll("p2", "", []string{"h1"}, time.Now()))

	// Голоса только в p1: 1-1 ничья, кворума нет
	e.Vote(vote("p1", "alice", "h1", 1, 1))
	e.Vote(vote("p1", "bob", "h2", 2, 1))

	// До таймаута ничего не разрешается
	assert.Empty(t, e.ResolveIdle(time.Now()))

	resolved := e.ResolveIdle(time.Now().Add(2 * time.Second))
	assert.Equal(t, []string{"p1"}, resolved)

	// Таймаут-разрешение дает plurality победителя (tie-break по hash)
	result := e.Tally("p1")
	assert.True(t, result.Resolved)
	assert.Equal(t, "h2", result.WinningHash)

	// p2 без голосов остается открытым
	assert.Equal(t, models.PollStatusOpen, e.GetPoll("p2").Status)
}

func TestEngine_MergeCommutative(t *testing.T) {
	polls := []*models.Poll{
		models.NewPoll("p1", "k", []string{"h1"}, time.Now()),
		models.NewPoll("p2", "", []string{"h2"}, time.Now()),
	}
	votes := []*models.Vote{
		vote("p1", "alice", "h1", 3, 1),
		vote("p1", "alice", "h2", 5, 1), // новее
	}

	first := newTestEngine()
	first.MergePolls(polls)
	first.MergeVotes(votes)

	second := newTestEngine()
	second.MergeVotes(votes)
	second.MergePolls(polls)

	assert.Equal(t, "h2", first.GetVote("p1", "alice").ClaimHash)
	assert.Equal(t, "h2", second.GetVote("p1", "alice").ClaimHash)
	assert.Len(t, first.Polls(), 2)
	assert.Len(t, second.Polls(), 2)
}

func TestEngine_HasPollForKey(t *testing.T) {
	e := newTestEngine()
	e.RegisterPoll(models.NewPoll("p1", "color", []string{"h1"}, time.Now()))

	assert.True(t, e.HasPollForKey("color"))
	assert.False(t, e.HasPollForKey("size"))
}

func TestEngine_ImplicitPollDoesNotOccupyEmptyKey(t *testing.T) {
	e := newTestEngine()

	// Голос за неизвестный poll регистрирует его без ключа. Такой
	// poll не должен считаться открытым по пустому ключу
	require.True(t, e.Vote(vote("p-remote", "bob", "h9", 1, 1)))
	assert.False(t, e.HasPollForKey(""))
}

package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrysalis/replicant/internal/store"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorage_CursorRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Курсор до первой синхронизации равен 0
	cursor, err := s.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	require.NoError(t, s.SaveCursor(ctx, 42))

	cursor, err = s.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cursor)
}

func TestStorage_ClockRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveClock(ctx, 17))

	clock, err := s.GetClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(17), clock)
}

func TestStorage_LastBootstrap(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// До первого bootstrap - нулевое время
	at, err := s.GetLastBootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	now := time.Now().Truncate(time.Nanosecond)
	require.NoError(t, s.SaveLastBootstrap(ctx, now))

	at, err = s.GetLastBootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.UnixNano(), at.UnixNano())
}

func TestStorage_Identity(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetIdentity(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	identity := &store.Identity{AgentID: "agent-1", InstanceID: "instance-1"}
	require.NoError(t, s.SaveIdentity(ctx, identity))

	got, err := s.GetIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestStorage_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveCursor(ctx, 99))
	require.NoError(t, s.Close())

	s, err = New(dir)
	require.NoError(t, err)
	defer s.Close()

	cursor, err := s.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(99), cursor)
}

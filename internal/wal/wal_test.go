package wal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrysalis/replicant/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func claimRecord(entryID, hash, key, value string) *Record {
	return &Record{
		Kind:    RecordClaim,
		EntryID: entryID,
		Claim: &api.Claim{
			Hash:   hash,
			Key:    key,
			Value:  value,
			Source: "test",
		},
	}
}

func replayAll(t *testing.T, log *Log) []*Record {
	t.Helper()
	var records []*Record
	require.NoError(t, log.Replay(func(rec *Record) error {
		records = append(records, rec)
		return nil
	}))
	return records
}

func TestLog_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, testLogger())
	require.NoError(t, err)

	_, err = log.Append(claimRecord("e1", "h1", "k1", "v1"))
	require.NoError(t, err)
	_, err = log.Append(&Record{Kind: RecordVote, EntryID: "e2", Vote: &api.Vote{
		PollID: "p1", VoterID: "alice", ClaimHash: "h1", Weight: 1, Timestamp: 3,
	}})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	// Рестарт: новый открытый журнал восстанавливает те же записи
	log, err = Open(dir, testLogger())
	require.NoError(t, err)
	defer log.Close()

	records := replayAll(t, log)
	require.Len(t, records, 2)
	assert.Equal(t, RecordClaim, records[0].Kind)
	assert.Equal(t, "h1", records[0].Claim.Hash)
	assert.Equal(t, "v1", records[0].Claim.Value)
	assert.Equal(t, RecordVote, records[1].Kind)
	assert.Equal(t, "alice", records[1].Vote.VoterID)
}

func TestLog_AppendAfterReplay(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, testLogger())
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Append(claimRecord("e1", "h1", "k", "v"))
	require.NoError(t, err)

	replayAll(t, log)

	// Append после Replay не должен затирать существующие записи
	_, err = log.Append(claimRecord("e2", "h2", "k", "v2"))
	require.NoError(t, err)

	assert.Len(t, replayAll(t, log), 2)
}

func TestLog_TruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, testLogger())
	require.NoError(t, err)
	_, err = log.Append(claimRecord("e1", "h1", "k", "v"))
	require.NoError(t, err)
	_, err = log.Append(claimRecord("e2", "h2", "k", "v2"))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	// Имитируем сбой посреди записи: дописываем недописанный кадр
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x40, 0x01, 0x02}) // длина 64, но только 2 байта payload
	require.NoError(t, err)
	require.NoError(t, f.Close())

	log, err = Open(dir, testLogger())
	require.NoError(t, err)
	defer log.Close()

	// Целые записи выживают, хвост отброшен
	records := replayAll(t, log)
	require.Len(t, records, 2)

	// После truncate журнал снова принимает записи и replay чистый
	_, err = log.Append(claimRecord("e3", "h3", "k", "v3"))
	require.NoError(t, err)
	assert.Len(t, replayAll(t, log), 3)
}

func TestLog_TruncatesBadChecksum(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, testLogger())
	require.NoError(t, err)
	_, err = log.Append(claimRecord("e1", "h1", "k", "v"))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	// Портим последний байт (CRC)
	path := filepath.Join(dir, "wal.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o600))

	log, err = Open(dir, testLogger())
	require.NoError(t, err)
	defer log.Close()

	assert.Empty(t, replayAll(t, log))
}

func TestLog_Checkpoint(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, testLogger())
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Append(claimRecord("e1", "h1", "k", "v1"))
	require.NoError(t, err)
	_, err = log.Append(&Record{Kind: RecordAck, EntryID: "e1"})
	require.NoError(t, err)
	_, err = log.Append(claimRecord("e2", "h2", "k", "v2"))
	require.NoError(t, err)

	// Отбрасываем подтвержденную мутацию e1 и ее ack
	acked := map[string]bool{"e1": true}
	require.NoError(t, log.Checkpoint(func(rec *Record) *Record {
		if acked[rec.EntryID] {
			return nil
		}
		return rec
	}))

	records := replayAll(t, log)
	require.Len(t, records, 1)
	assert.Equal(t, "e2", records[0].EntryID)

	// Журнал остается дописываемым после компакции
	_, err = log.Append(claimRecord("e3", "h3", "k", "v3"))
	require.NoError(t, err)
	assert.Len(t, replayAll(t, log), 2)
}

func TestLog_CheckpointSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, testLogger())
	require.NoError(t, err)
	_, err = log.Append(claimRecord("e1", "h1", "k", "v1"))
	require.NoError(t, err)
	require.NoError(t, log.Checkpoint(func(rec *Record) *Record { return rec }))
	require.NoError(t, log.Close())

	log, err = Open(dir, testLogger())
	require.NoError(t, err)
	defer log.Close()
	assert.Len(t, replayAll(t, log), 1)
}

func TestLog_CheckpointRewritesRecords(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, testLogger())
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Append(claimRecord("e1", "h1", "k", "v1"))
	require.NoError(t, err)

	// Компакция может перезаписать запись, например понизив
	// подтвержденную локальную мутацию до удаленной
	require.NoError(t, log.Checkpoint(func(rec *Record) *Record {
		out := *rec
		out.Remote = true
		return &out
	}))

	records := replayAll(t, log)
	require.Len(t, records, 1)
	assert.Equal(t, "e1", records[0].EntryID)
	assert.True(t, records[0].Remote)
}

func TestLog_ClosedErrors(t *testing.T) {
	log, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	require.NoError(t, log.Close())

	_, err = log.Append(claimRecord("e1", "h1", "k", "v"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, log.Replay(func(*Record) error { return nil }), ErrClosed)
	assert.ErrorIs(t, log.Sync(), ErrClosed)

	// Повторный Close - no-op
	assert.NoError(t, log.Close())
}

// Package wal реализует durable append-only журнал локальных мутаций.
// Каждая запись fsync'ается до возврата из Append, поэтому успешный
// appendSemanticClaim/vote переживает рестарт процесса. Кадр записи:
// uvarint длина | CBOR payload | CRC32-C.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chrysalis/replicant/internal/codec"
)

const (
	logFileName = "wal.log"
	tmpFileName = "wal.log.tmp"

	// maxRecordSize ограничивает размер одного кадра. Защита от чтения
	// мусорной длины из поврежденного хвоста файла.
	maxRecordSize = 16 << 20 // 16 MB
)

// crcTable — CRC32-Castagnoli, аппаратно ускоренный на всех целевых платформах.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Log представляет открытый append-only журнал в storageDir.
type Log struct {
	file   *os.File
	logger *slog.Logger
	dir    string
	mu     sync.Mutex
	closed bool
}

// Open открывает (или создает) журнал в заданной директории.
func Open(dir string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	path := filepath.Join(dir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}

	return &Log{
		file:   file,
		logger: logger,
		dir:    dir,
	}, nil
}

// Append сериализует запись, дописывает ее в журнал и делает fsync.
// Возвращает offset начала кадра. Ошибка записи или fsync фатальна
// только для этого вызова: журнал остается открытым, и следующий
// Append может преуспеть.
func (l *Log) Append(rec *Record) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	frame, err := encodeFrame(rec)
	if err != nil {
		return 0, err
	}

	offset, err := l.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek wal: %w", err)
	}

	if _, err := l.file.Write(frame); err != nil {
		return 0, fmt.Errorf("failed to write wal record: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to fsync wal: %w", err)
	}

	return offset, nil
}

// Replay читает журнал с начала и вызывает fn для каждой записи.
// Поврежденный хвост (недописанный кадр после сбоя) обрезается
// с warning'ом; replay при этом завершается успешно. Используется
// один раз при старте для восстановления состояния в памяти.
func (l *Log) Replay(fn func(*Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek wal: %w", err)
	}

	reader := bufio.NewReader(l.file)
	var goodOffset int64

	for {
		rec, frameLen, err := decodeFrame(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Все после нечитаемого кадра невосстановимо - обрезаем
			l.logger.Warn("truncating corrupt wal tail",
				"offset", goodOffset,
				"error", err)
			if err := l.truncateLocked(goodOffset); err != nil {
				return err
			}
			break
		}

		if err := fn(rec); err != nil {
			return err
		}
		goodOffset += frameLen
	}

	// Возвращаем позицию файла в конец для последующих Append
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek wal: %w", err)
	}

	return nil
}

// Checkpoint переписывает журнал, пропуская каждую запись через
// compact: nil отбрасывает запись, иначе в новую версию попадает
// возвращенная (возможно перезаписанная) запись. Используется для
// отбрасывания ack'ов и дубликатов и для понижения подтвержденных
// локальных мутаций до удаленных. Новая версия пишется во временный
// файл и атомарно переименовывается, поэтому сбой посреди компакции
// никогда не теряет данные.
func (l *Log) Checkpoint(compact func(*Record) *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	tmpPath := filepath.Join(l.dir, tmpFileName)
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmpPath) // no-op после успешного rename

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to seek wal: %w", err)
	}

	reader := bufio.NewReader(l.file)
	kept := 0
	dropped := 0

	for {
		rec, _, err := decodeFrame(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Поврежденный хвост просто не попадает в новую версию
			l.logger.Warn("dropping corrupt wal tail during checkpoint", "error", err)
			break
		}

		out := compact(rec)
		if out == nil {
			dropped++
			continue
		}

		frame, err := encodeFrame(out)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.Write(frame); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}
		kept++
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to fsync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	logPath := filepath.Join(l.dir, logFileName)
	if err := os.Rename(tmpPath, logPath); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	if err := syncDir(l.dir); err != nil {
		return err
	}

	// Переоткрываем журнал поверх новой версии
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close old wal: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to reopen wal: %w", err)
	}
	l.file = file

	l.logger.Info("wal checkpoint complete", "kept", kept, "dropped", dropped)
	return nil
}

// Sync принудительно сбрасывает журнал на диск.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	return l.file.Sync()
}

// Close делает финальный fsync и закрывает журнал.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to fsync wal on close: %w", err)
	}
	return l.file.Close()
}

// truncateLocked обрезает журнал до заданного offset. Вызывается
// только под мьютексом из Replay.
func (l *Log) truncateLocked(offset int64) error {
	if err := l.file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate wal: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to fsync wal after truncate: %w", err)
	}
	return nil
}

// encodeFrame кодирует запись в кадр: uvarint длина | payload | CRC32-C.
func encodeFrame(rec *Record) ([]byte, error) {
	payload, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wal record: %w", err)
	}

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))

	frame := make([]byte, 0, n+len(payload)+4)
	frame = append(frame, lenBuf[:n]...)
	frame = append(frame, payload...)

	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc32.Checksum(payload, crcTable))
	frame = append(frame, crcBuf[:]...)

	return frame, nil
}

// decodeFrame читает один кадр. Возвращает io.EOF на чистом конце файла
// и ErrCorruptRecord на битом кадре (недописанном или с неверным CRC).
func decodeFrame(reader *bufio.Reader) (*Record, int64, error) {
	length, err := binary.ReadUvarint(reader)
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad length prefix: %v", ErrCorruptRecord, err)
	}
	if length > maxRecordSize {
		return nil, 0, fmt.Errorf("%w: record length %d exceeds limit", ErrCorruptRecord, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated payload: %v", ErrCorruptRecord, err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(reader, crcBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated checksum: %v", ErrCorruptRecord, err)
	}
	if binary.BigEndian.Uint32(crcBuf[:]) != crc32.Checksum(payload, crcTable) {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}

	rec := &Record{}
	if err := codec.Unmarshal(payload, rec); err != nil {
		return nil, 0, fmt.Errorf("%w: undecodable payload: %v", ErrCorruptRecord, err)
	}

	frameLen := int64(uvarintLen(length)) + int64(length) + 4
	return rec, frameLen, nil
}

// uvarintLen возвращает длину uvarint кодировки значения.
func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// syncDir делает fsync директории, чтобы rename пережил сбой питания.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open dir for fsync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to fsync dir: %w", err)
	}
	return nil
}

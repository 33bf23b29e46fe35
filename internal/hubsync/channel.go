// Package hubsync реализует длящийся WebSocket канал репликации
// с хабом. Входящие deltas мержатся через идемпотентные CRDT пути,
// поэтому дубликаты и нарушение порядка доставки безвредны. Исходящие
// мутации берутся из outbox и покидают его только после ack хаба.
// При разрыве соединения локальные записи продолжают успешно
// завершаться (offline-first) и накапливаются в outbox.
package hubsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/chrysalis/replicant/internal/metrics"
	"github.com/chrysalis/replicant/internal/outbox"
	"github.com/chrysalis/replicant/pkg/api"
)

const (
	// flushBatchSize ограничивает количество deltas за один проход flush
	flushBatchSize = 256

	// reconnectBase — базовый интервал backoff переподключения
	reconnectBase = time.Second

	// reconnectJitterPct — джиттер backoff в процентах
	reconnectJitterPct = 20

	// writeTimeout ограничивает одну запись в сокет
	writeTimeout = 10 * time.Second
)

// MergeSink определяет интерфейс применения входящего трафика.
// Реализуется фасадом: merge сериализуется через его actor loop.
type MergeSink interface {
	// MergeDelta применяет входящую delta к локальному состоянию
	MergeDelta(ctx context.Context, delta *api.Delta) error

	// AckEntries помечает записи outbox подтвержденными
	AckEntries(ctx context.Context, ids []string) error

	// AdvanceCursor фиксирует объявленную хабом позицию потока.
	// С нее возобновится синхронизация после переподключения.
	AdvanceCursor(cursor int64)
}

// Config задает параметры канала синхронизации
type Config struct {
	URL           string        // базовый WebSocket URL хаба
	AgentID       string        // идентификатор агента
	InstanceID    string        // идентификатор инстанса
	FlushInterval time.Duration // период отправки outbox
	MaxBackoff    time.Duration // потолок backoff переподключения
}

// Channel представляет канал синхронизации одной реплики
type Channel struct {
	cfg     Config
	sink    MergeSink
	outbox  *outbox.Outbox
	cursor  func() int64 // последний известный курсор хаба для hello
	metrics *metrics.Metrics
	logger  *slog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex // защищает conn и connected
	writeMu   sync.Mutex // gorilla разрешает только одну параллельную запись
	connected bool
}

// New создает канал синхронизации. Канал не подключается до Run.
func New(cfg Config, sink MergeSink, ob *outbox.Outbox, cursor func() int64, m *metrics.Metrics, logger *slog.Logger) *Channel {
	return &Channel{
		cfg:     cfg,
		sink:    sink,
		outbox:  ob,
		cursor:  cursor,
		metrics: m,
		logger:  logger,
	}
}

// Connected сообщает, установлено ли сейчас соединение с хабом.
func (c *Channel) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// Run ведет канал до отмены контекста: подключение с backoff,
// затем параллельные read и flush циклы, затем переподключение.
// Возвращает nil после штатной остановки.
func (c *Channel) Run(ctx context.Context) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			// connect возвращает ошибку только при отмене контекста
			return nil
		}

		c.serve(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Info("connection to hub lost, reconnecting")
	}
}

// Flush отправляет содержимое outbox немедленно. Используется при
// остановке для best-effort доставки и вызывается периодически из
// serve. Без соединения возвращается без ошибки: записи остаются
// в outbox до следующего подключения.
func (c *Channel) Flush(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	connected := c.connected
	c.connMu.Unlock()

	if !connected || conn == nil {
		return nil
	}

	pending := c.outbox.Pending(flushBatchSize)
	for _, delta := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := &api.Message{Type: api.MessageTypeDelta, Delta: delta}
		if err := c.writeMessage(conn, msg); err != nil {
			return fmt.Errorf("failed to send delta: %w", err)
		}
		c.metrics.DeltasOut.Inc()
	}

	if len(pending) > 0 {
		c.logger.Debug("outbox flushed", "sent", len(pending), "remaining", c.outbox.Len())
	}
	return nil
}

// connect устанавливает соединение с экспоненциальным backoff
// с джиттером, ограниченным MaxBackoff. Повторяет бесконечно
// до успеха или отмены контекста.
func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/api/v1/replica/%s/deltas", c.cfg.URL, c.cfg.AgentID)

	backoff := retry.WithJitterPercent(reconnectJitterPct, retry.NewExponential(reconnectBase))
	backoff = retry.WithCappedDuration(c.cfg.MaxBackoff, backoff)

	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialed, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			c.metrics.Reconnects.Inc()
			c.logger.Warn("hub dial failed", "url", url, "error", err)
			return retry.RetryableError(err)
		}

		// Анонсируем последний известный курсор: хаб дошлет пропущенное
		hello := &api.Message{
			Type:       api.MessageTypeHello,
			AgentID:    c.cfg.AgentID,
			InstanceID: c.cfg.InstanceID,
			Cursor:     c.cursor(),
		}
		if err := c.writeMessage(dialed, hello); err != nil {
			dialed.Close()
			c.logger.Warn("hello frame failed", "error", err)
			return retry.RetryableError(err)
		}

		conn = dialed
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.logger.Info("connected to hub", "url", url, "cursor", c.cursor())
	return conn, nil
}

// serve обслуживает одно установленное соединение до его разрыва
// или отмены контекста.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Закрываем сокет при отмене, чтобы разблокировать ReadMessage
	go func() {
		<-serveCtx.Done()
		conn.Close()
	}()

	// Первый flush сразу после подключения: доставляем накопленное офлайн
	if err := c.Flush(serveCtx); err != nil {
		c.logger.Warn("initial flush failed", "error", err)
	}

	go c.flushLoop(serveCtx)

	c.readLoop(serveCtx, conn)

	c.connMu.Lock()
	c.connected = false
	c.conn = nil
	c.connMu.Unlock()
}

// flushLoop периодически отправляет outbox
func (c *Channel) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("outbox flush failed", "error", err)
				return
			}
		}
	}
}

// readLoop принимает кадры хаба до разрыва соединения.
// Битый кадр — это ProtocolError: он отбрасывается с логом
// и не роняет ни процесс, ни соединение.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("read from hub failed", "error", err)
			}
			return
		}

		var msg api.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.metrics.ProtocolErrors.Inc()
			c.logger.Warn("dropping malformed hub frame", "error", err)
			continue
		}

		switch msg.Type {
		case api.MessageTypeDelta:
			if msg.Delta == nil {
				c.metrics.ProtocolErrors.Inc()
				c.logger.Warn("dropping delta frame without payload")
				continue
			}
			c.metrics.DeltasIn.Inc()
			if err := c.sink.MergeDelta(ctx, msg.Delta); err != nil {
				// Битая delta не должна портить локальное состояние;
				// курсор не двигаем - после переподключения хаб
				// дошлет кадр заново
				c.metrics.ProtocolErrors.Inc()
				c.logger.Warn("dropping unmergeable delta", "id", msg.Delta.ID, "error", err)
				continue
			}
			if msg.Cursor > 0 {
				c.sink.AdvanceCursor(msg.Cursor)
			}
		case api.MessageTypeAck:
			if err := c.sink.AckEntries(ctx, msg.AckIDs); err != nil {
				c.logger.Warn("failed to apply acks", "error", err)
			}
		default:
			c.metrics.ProtocolErrors.Inc()
			c.logger.Warn("dropping frame of unknown type", "type", msg.Type)
		}
	}
}

// writeMessage сериализует и отправляет один кадр
func (c *Channel) writeMessage(conn *websocket.Conn, msg *api.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Package metrics собирает счетчики репликации. Экспозиция через
// promhttp опциональна (--metricsAddr); счетчики обновляются всегда,
// чтобы тесты и отладка видели одну и ту же картину.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics содержит счетчики одной реплики. Каждый экземпляр несет
// собственный registry: процесс один, но тесты создают реплики пачками.
type Metrics struct {
	registry *prometheus.Registry

	ClaimsInserted  prometheus.Counter // впервые увиденные claims
	ClaimsDuplicate prometheus.Counter // идемпотентные повторные вставки
	VotesRecorded   prometheus.Counter // изменившие состояние голоса
	DeltasIn        prometheus.Counter // принятые по WebSocket deltas
	DeltasOut       prometheus.Counter // отправленные хабу deltas
	AcksReceived    prometheus.Counter // подтвержденные хабом записи
	Reconnects      prometheus.Counter // переподключения WebSocket
	ProtocolErrors  prometheus.Counter // отброшенные битые удаленные payload'ы
	OutboxSize      prometheus.Gauge   // текущий размер outbox
}

// New создает и регистрирует счетчики.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ClaimsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_claims_inserted_total",
			Help: "Number of claims inserted into the ledger for the first time",
		}),
		ClaimsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_claims_duplicate_total",
			Help: "Number of idempotent re-inserts of already known claims",
		}),
		VotesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_votes_recorded_total",
			Help: "Number of votes that changed effective voting state",
		}),
		DeltasIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_deltas_in_total",
			Help: "Number of deltas received from the hub",
		}),
		DeltasOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_deltas_out_total",
			Help: "Number of deltas sent to the hub",
		}),
		AcksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_acks_received_total",
			Help: "Number of outbox entries acknowledged by the hub",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_ws_reconnects_total",
			Help: "Number of WebSocket reconnect attempts",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replicant_protocol_errors_total",
			Help: "Number of malformed remote payloads dropped",
		}),
		OutboxSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replicant_outbox_size",
			Help: "Current number of unacknowledged local mutations",
		}),
	}

	registry.MustRegister(
		m.ClaimsInserted,
		m.ClaimsDuplicate,
		m.VotesRecorded,
		m.DeltasIn,
		m.DeltasOut,
		m.AcksReceived,
		m.Reconnects,
		m.ProtocolErrors,
		m.OutboxSize,
	)

	return m
}

// Handler возвращает HTTP handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

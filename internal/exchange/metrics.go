package exchange

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики транспортного слоя бирж
// ============================================================
//
// Покрывают REST-дискавери рынков и WebSocket-потоки:
// - живость соединений (переподключения, исчерпание попыток)
// - интенсивность входящего потока по биржам
// - латентность и исходы REST-запросов
//
// Статусы сессий (connected/error/...) экспортирует слой marketdata,
// здесь только транспорт.

// ============ WebSocket ============

// WSMessagesReceived - входящие сообщения по биржам
var WSMessagesReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "exchange",
		Name:      "ws_messages_received_total",
		Help:      "Total number of WebSocket messages received",
	},
	[]string{"exchange"},
)

// WSReconnectsTotal - успешные переподключения WebSocket
var WSReconnectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "exchange",
		Name:      "ws_reconnects_total",
		Help:      "Total number of successful WebSocket reconnects",
	},
	[]string{"exchange"},
)

// WSGiveUpsTotal - исчерпания лимита попыток переподключения
var WSGiveUpsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "exchange",
		Name:      "ws_give_ups_total",
		Help:      "Number of times WebSocket reconnection was abandoned",
	},
	[]string{"exchange"},
)

// ============ REST ============

// RESTRequestsTotal - REST-запросы по биржам и исходам
var RESTRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "exchange",
		Name:      "rest_requests_total",
		Help:      "Total number of REST requests",
	},
	[]string{"exchange", "endpoint", "outcome"}, // outcome: ok, error
)

// RESTRequestDuration - латентность REST-запросов
var RESTRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "exchange",
		Name:      "rest_request_duration_ms",
		Help:      "REST request duration in milliseconds",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"exchange", "endpoint"},
)

// ============ Вспомогательные функции ============

// RecordWSMessage записывает входящее WebSocket-сообщение
func RecordWSMessage(exchange string) {
	WSMessagesReceived.WithLabelValues(exchange).Inc()
}

// RecordWSReconnect записывает успешное переподключение
func RecordWSReconnect(exchange string) {
	WSReconnectsTotal.WithLabelValues(exchange).Inc()
}

// RecordWSGiveUp записывает отказ от дальнейших переподключений
func RecordWSGiveUp(exchange string) {
	WSGiveUpsTotal.WithLabelValues(exchange).Inc()
}

// RecordRESTRequest записывает исход и длительность REST-запроса
func RecordRESTRequest(exchange, endpoint string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RESTRequestsTotal.WithLabelValues(exchange, endpoint, outcome).Inc()
	RESTRequestDuration.WithLabelValues(exchange, endpoint).Observe(float64(elapsed.Milliseconds()))
}

package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики Prometheus ============

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "websocket",
		Name:      "connected_clients",
		Help:      "Current number of connected WebSocket clients",
	})

	messagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "websocket",
		Name:      "messages_sent_total",
		Help:      "Total number of messages sent to clients",
	})

	bytesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "websocket",
		Name:      "bytes_sent_total",
		Help:      "Total bytes sent to clients",
	})
)

func SetConnectedClients(n int) {
	connectedClients.Set(float64(n))
}

func RecordMessageSent(bytes int) {
	messagesSentTotal.Inc()
	bytesSentTotal.Add(float64(bytes))
}

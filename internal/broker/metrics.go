package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики Prometheus ============

var (
	publishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "broker",
		Name:      "publishes_total",
		Help:      "Total number of published opportunity lists",
	})

	publishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "broker",
		Name:      "publish_errors_total",
		Help:      "Publishes skipped due to serialization errors",
	})

	publishedOpportunities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "broker",
		Name:      "published_opportunities",
		Help:      "Opportunities in the last published list",
	})

	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "broker",
		Name:      "subscribers",
		Help:      "Current number of subscribers",
	})

	droppedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "broker",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a subscriber was too slow",
	})
)

func RecordPublish(opportunities int) {
	publishesTotal.Inc()
	publishedOpportunities.Set(float64(opportunities))
}

func RecordPublishError() {
	publishErrorsTotal.Inc()
}

func RecordDroppedMessage() {
	droppedMessagesTotal.Inc()
}

func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

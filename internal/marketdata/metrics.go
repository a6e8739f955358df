package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики рыночных данных ============

var (
	// VenueStatus - текущий статус сессии биржи (значение enum Status)
	VenueStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "marketdata",
			Name:      "venue_status",
			Help:      "Exchange session status (0=disconnected 1=connecting 2=connected 3=error 4=auth_error 5=unsupported 6=no_pairs)",
		},
		[]string{"exchange"},
	)

	// BookUpdates - принятые обновления стаканов
	BookUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "marketdata",
			Name:      "book_updates_total",
			Help:      "Order book updates accepted into the snapshot store",
		},
		[]string{"exchange"},
	)

	// BookRejects - отвергнутые обновления стаканов по причинам
	BookRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "marketdata",
			Name:      "book_rejects_total",
			Help:      "Order book updates rejected (crossed, invalid levels, no venue row)",
		},
		[]string{"exchange", "reason"},
	)

	// BooksStored - количество стаканов в хранилище
	BooksStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "marketdata",
			Name:      "books_stored",
			Help:      "Order books currently held per exchange",
		},
		[]string{"exchange"},
	)

	// SessionRestarts - перезапуски сессий после ошибок
	SessionRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "marketdata",
			Name:      "session_restarts_total",
			Help:      "Exchange session restarts after transient failures",
		},
		[]string{"exchange"},
	)

	// WatchersActive - работающие наблюдатели пар
	WatchersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arbitrage",
			Subsystem: "marketdata",
			Name:      "watchers_active",
			Help:      "Running per-symbol stream watchers",
		},
		[]string{"exchange"},
	)

	// SymbolsDropped - пары, выброшенные из сессии навсегда
	SymbolsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "marketdata",
			Name:      "symbols_dropped_total",
			Help:      "Symbols dropped from a session after permanent per-symbol failures",
		},
		[]string{"exchange"},
	)
)

// ============ Вспомогательные функции ============

// RecordVenueStatus обновляет gauge статуса биржи
func RecordVenueStatus(exchange string, status Status) {
	VenueStatus.WithLabelValues(exchange).Set(float64(status))
}

// RecordBookUpdate фиксирует принятый стакан
func RecordBookUpdate(exchange string) {
	BookUpdates.WithLabelValues(exchange).Inc()
}

// RecordBookReject фиксирует отвергнутый стакан
func RecordBookReject(exchange, reason string) {
	BookRejects.WithLabelValues(exchange, reason).Inc()
}

// RecordSessionRestart фиксирует перезапуск сессии
func RecordSessionRestart(exchange string) {
	SessionRestarts.WithLabelValues(exchange).Inc()
}

// RecordSymbolDropped фиксирует выброшенную пару
func RecordSymbolDropped(exchange string) {
	SymbolsDropped.WithLabelValues(exchange).Inc()
}

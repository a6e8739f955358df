package scanner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики Prometheus ============

var (
	scansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "scans_total",
		Help:      "Total number of completed scan passes",
	})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "scan_duration_seconds",
		Help:      "Duration of a single scan pass",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	opportunitiesFound = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "opportunities_found",
		Help:      "Opportunities in the last published list",
	})

	bestNetProfitPct = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "best_net_profit_pct",
		Help:      "Net profit percent of the best opportunity in the last pass",
	})

	skipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "skips_total",
		Help:      "Pairs or symbols skipped due to incomplete configuration (no_fee, no_volume)",
	}, []string{"reason"})
)

// RecordScan фиксирует итог одного прохода сканера
func RecordScan(took time.Duration, found int, bestNetPct float64) {
	scansTotal.Inc()
	scanDuration.Observe(took.Seconds())
	opportunitiesFound.Set(float64(found))
	bestNetProfitPct.Set(bestNetPct)
}

// RecordSkip фиксирует пропуск пары или символа из-за конфигурации
func RecordSkip(reason string) {
	skipsTotal.WithLabelValues(reason).Inc()
}

package handlers

import (
	"net/http"

	"github.com/rekwert/tesor/internal/config"
)

// MonitoredPairsHandler отвечает за список отслеживаемых пар
//
// Endpoints:
// - GET /api/v1/monitored_pairs - пары в разрезе бирж
type MonitoredPairsHandler struct {
	cfg *config.Config
}

func NewMonitoredPairsHandler(cfg *config.Config) *MonitoredPairsHandler {
	return &MonitoredPairsHandler{cfg: cfg}
}

// GetMonitoredPairs возвращает, какие пары сканируются на каждой бирже.
// Список статический: берётся из конфигурации, а не из фактических подписок.
func (h *MonitoredPairsHandler) GetMonitoredPairs(w http.ResponseWriter, r *http.Request) {
	pairs := make(map[string][]string, len(h.cfg.Exchanges.Enabled))
	for _, venue := range h.cfg.Exchanges.Enabled {
		symbols := make([]string, len(h.cfg.Scanner.Symbols))
		copy(symbols, h.cfg.Scanner.Symbols)
		pairs[venue] = symbols
	}

	respondJSON(w, http.StatusOK, pairs)
}

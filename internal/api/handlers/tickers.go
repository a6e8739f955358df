package handlers

import (
	"net/http"

	"github.com/rekwert/tesor/internal/exchange"
)

// TickerSource отдаёт снимок последних тикеров по живым биржам
type TickerSource interface {
	CloneTickers() map[string]map[string]*exchange.Ticker
}

// TickerHandler отвечает за просмотр последних тикеров
//
// Endpoints:
// - GET /api/v1/tickers - тикеры в разрезе биржа -> пара
type TickerHandler struct {
	source TickerSource
}

func NewTickerHandler(source TickerSource) *TickerHandler {
	return &TickerHandler{source: source}
}

func (h *TickerHandler) GetTickers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.source.CloneTickers())
}

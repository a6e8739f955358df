package handlers

import (
	"net/http"

	"github.com/rekwert/tesor/internal/marketdata"
)

// StatusSource отдаёт статусы подключений к биржам
type StatusSource interface {
	Statuses() map[string]marketdata.Status
}

// ServiceState сообщает, запущен ли сбор рыночных данных
type ServiceState interface {
	Running() bool
}

// StatusHandler отвечает за сводку состояния сервиса
//
// Endpoints:
// - GET /status - состояние сборщика данных и каждой биржи
type StatusHandler struct {
	statuses StatusSource
	state    ServiceState
}

func NewStatusHandler(statuses StatusSource, state ServiceState) *StatusHandler {
	return &StatusHandler{statuses: statuses, state: state}
}

// StatusResponse - сводка состояния сервиса. Статусы бирж
// сериализуются строками из фиксированного перечня.
type StatusResponse struct {
	Status           string                       `json:"status"`
	ServiceRunning   bool                         `json:"service_running"`
	ExchangeStatuses map[string]marketdata.Status `json:"exchange_statuses"`
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:           "running",
		ServiceRunning:   h.state.Running(),
		ExchangeStatuses: h.statuses.Statuses(),
	})
}

package handlers

import (
	"net/http"

	"github.com/rekwert/tesor/internal/scanner"
)

// OpportunitySource отдаёт последний опубликованный список возможностей
type OpportunitySource interface {
	Latest() []scanner.Opportunity
}

// OpportunityHandler отвечает за выдачу арбитражных возможностей
//
// Endpoints:
// - GET /api/v1/opportunities - текущий список, отсортированный
//   по чистой доходности
type OpportunityHandler struct {
	source OpportunitySource
}

func NewOpportunityHandler(source OpportunitySource) *OpportunityHandler {
	return &OpportunityHandler{source: source}
}

// GetOpportunities возвращает последний опубликованный список.
// Пустой список - валидный ответ: возможностей сейчас нет.
func (h *OpportunityHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.source.Latest())
}

// Package handlers содержит HTTP обработчики REST API. Каждый
// обработчик принимает узкий интерфейс источника данных, поэтому
// тестируется на ручных моках без поднятия всего сервиса.
package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// respondJSON сериализует payload с указанным статусом
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

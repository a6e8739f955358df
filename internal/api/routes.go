package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rekwert/tesor/internal/api/handlers"
	"github.com/rekwert/tesor/internal/api/middleware"
	"github.com/rekwert/tesor/internal/broker"
	"github.com/rekwert/tesor/internal/config"
	"github.com/rekwert/tesor/internal/marketdata"
	"github.com/rekwert/tesor/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Config     *config.Config
	Store      *marketdata.Store
	Broker     *broker.Broker
	Hub        *websocket.Hub
	Supervisor *marketdata.Supervisor
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (опционально за проверкой X-API-Key)
//
//	├── GET /opportunities - текущий список арбитражных возможностей
//	├── GET /monitored_pairs - отслеживаемые пары в разрезе бирж
//	└── GET /tickers - последние тикеры живых бирж
//
// /status - состояние сервиса и подключений к биржам
// /health - liveness проба
// /metrics - prometheus метрики
// /ws/opportunities - WebSocket поток списка возможностей
// /debug/pprof/* - профилирование (за DebugAuth)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. APIKeyAuth (только /api/v1, если настроен хэш ключа)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var opportunityHandler *handlers.OpportunityHandler
	if deps != nil && deps.Broker != nil {
		opportunityHandler = handlers.NewOpportunityHandler(deps.Broker)
	}

	var statusHandler *handlers.StatusHandler
	if deps != nil && deps.Store != nil && deps.Supervisor != nil {
		statusHandler = handlers.NewStatusHandler(deps.Store, deps.Supervisor)
	}

	var pairsHandler *handlers.MonitoredPairsHandler
	if deps != nil && deps.Config != nil {
		pairsHandler = handlers.NewMonitoredPairsHandler(deps.Config)
	}

	var tickerHandler *handlers.TickerHandler
	if deps != nil && deps.Store != nil {
		tickerHandler = handlers.NewTickerHandler(deps.Store)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil && deps.Config != nil && deps.Config.Security.APIKeyHash != "" {
		api.Use(middleware.APIKeyAuth(deps.Config.Security.APIKeyHash))
	}

	if opportunityHandler != nil {
		api.HandleFunc("/opportunities", opportunityHandler.GetOpportunities).Methods("GET")
	}
	if pairsHandler != nil {
		api.HandleFunc("/monitored_pairs", pairsHandler.GetMonitoredPairs).Methods("GET")
	}
	if tickerHandler != nil {
		api.HandleFunc("/tickers", tickerHandler.GetTickers).Methods("GET")
	}

	// Сводка состояния живет на корне: дашборд опрашивает её до ввода ключа
	if statusHandler != nil {
		router.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	}

	// WebSocket поток: первым сообщением приходит текущий список,
	// дальше полный список на каждой публикации сканера
	if deps != nil && deps.Hub != nil {
		router.HandleFunc("/ws/opportunities", deps.Hub.ServeWS)
	}

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Профилирование за basic auth
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)

	return router
}

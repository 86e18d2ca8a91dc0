package api

import (
	"net/http"

	"tradecore/internal/api/handlers"
	"tradecore/internal/api/middleware"
	"tradecore/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies содержит все зависимости для API handlers.
// Незаданные поля отключают соответствующие маршруты.
type Dependencies struct {
	Portfolio      handlers.PortfolioReader
	Pools          handlers.PoolLookup
	PoolStore      handlers.PoolSnapshotStore
	AccountHistory handlers.AccountHistory
	Hub            *websocket.Hub

	// Tokens == nil - API без авторизации (только для локальной разработки)
	Tokens       middleware.TokenChecker
	Origins      []string
	HealthChecks map[string]handlers.HealthCheck
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /portfolio/
//	│   ├── GET / - общее состояние портфеля
//	│   ├── GET /venues/{venue} - балансы, PnL, экспозиция площадки
//	│   └── GET /instruments/{instrument_id} - позиция и PnL инструмента
//	├── /pools/
//	│   ├── GET / - список пулов Uniswap V3
//	│   ├── GET /{address} - состояние и аналитика пула
//	│   ├── GET /{address}/snapshot - полный снимок
//	│   └── POST /{address}/snapshot - сохранить снимок в архив
//	└── /accounts/
//	    ├── GET / - счета в журнале
//	    └── GET /{account_id}/history - журнал состояний счёта
//
// /ws/stream - WebSocket для real-time обновлений
// /health - проверка зависимостей
// /metrics - Prometheus
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (/api/v1 и /ws)
//
// OPTIONS регистрируется рядом с каждым методом, иначе mux ответит 405
// на preflight до запуска CORS middleware.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.Origins))

	auth := middleware.Auth(deps.Tokens)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Portfolio != nil {
		h := handlers.NewPortfolioHandler(deps.Portfolio)
		api.HandleFunc("/portfolio", h.GetStatus).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/portfolio/venues/{venue}", h.GetVenue).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/portfolio/instruments/{instrument_id}", h.GetInstrument).Methods(http.MethodGet, http.MethodOptions)
	}

	if deps.Pools != nil {
		h := handlers.NewPoolHandler(deps.Pools, deps.PoolStore)
		api.HandleFunc("/pools", h.ListPools).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/pools/{address}", h.GetPool).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/pools/{address}/snapshot", h.GetSnapshot).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/pools/{address}/snapshot", h.SaveSnapshot).Methods(http.MethodPost)
	}

	if deps.AccountHistory != nil {
		h := handlers.NewAccountHandler(deps.AccountHistory)
		api.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/accounts/{account_id}/history", h.GetHistory).Methods(http.MethodGet, http.MethodOptions)
	}

	if deps.Hub != nil {
		router.Handle("/ws/stream", auth(http.HandlerFunc(deps.Hub.ServeWS))).Methods(http.MethodGet)
	}

	health := handlers.NewHealthHandler(deps.HealthChecks)
	router.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

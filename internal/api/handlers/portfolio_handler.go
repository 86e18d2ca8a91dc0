package handlers

import (
	"net/http"
	"strings"

	"tradecore/internal/accounts"
	"tradecore/internal/models"
	"tradecore/internal/portfolio"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// PortfolioReader - запросы портфеля, нужные API
type PortfolioReader interface {
	IsInitialized() bool
	Account(venue models.Venue) accounts.Account
	BalancesLocked(venue models.Venue) map[string]models.Money
	MarginsInit(venue models.Venue) map[models.InstrumentID]models.Money
	MarginsMaint(venue models.Venue) map[models.InstrumentID]models.Money
	RealizedPnLs(venue models.Venue) map[string]models.Money
	UnrealizedPnLs(venue models.Venue) map[string]models.Money
	TotalPnLs(venue models.Venue) map[string]models.Money
	NetExposures(venue models.Venue) (map[string]models.Money, bool)
	MarkValues(venue models.Venue) map[models.InstrumentID]models.Money
	RealizedPnL(id models.InstrumentID) (models.Money, bool)
	UnrealizedPnL(id models.InstrumentID) (models.Money, bool)
	TotalPnL(id models.InstrumentID) (models.Money, bool)
	NetExposure(id models.InstrumentID) (models.Money, bool)
	NetPosition(id models.InstrumentID) decimal.Decimal
	IsNetLong(id models.InstrumentID) bool
	IsNetShort(id models.InstrumentID) bool
	IsFlat(id models.InstrumentID) bool
	IsCompletelyFlat() bool
}

var _ PortfolioReader = (*portfolio.Portfolio)(nil)

// PortfolioHandler обрабатывает запросы к портфелю.
//
// Endpoints:
// - GET /api/v1/portfolio - общее состояние (initialized, completely_flat)
// - GET /api/v1/portfolio/venues/{venue} - сводка площадки
// - GET /api/v1/portfolio/instruments/{instrument_id} - позиция по инструменту
type PortfolioHandler struct {
	portfolio PortfolioReader
}

// NewPortfolioHandler создает новый PortfolioHandler с внедрением зависимостей.
func NewPortfolioHandler(p PortfolioReader) *PortfolioHandler {
	return &PortfolioHandler{portfolio: p}
}

// PortfolioStatus - общее состояние портфеля
type PortfolioStatus struct {
	Initialized    bool `json:"initialized"`
	CompletelyFlat bool `json:"completely_flat"`
}

// VenueSummary - сводка по площадке; суммы строками "100.50 USD"
type VenueSummary struct {
	Venue          string            `json:"venue"`
	AccountID      string            `json:"account_id,omitempty"`
	AccountType    string            `json:"account_type,omitempty"`
	Balances       map[string]string `json:"balances"`
	BalancesLocked map[string]string `json:"balances_locked"`
	MarginsInit    map[string]string `json:"margins_init,omitempty"`
	MarginsMaint   map[string]string `json:"margins_maint,omitempty"`
	RealizedPnLs   map[string]string `json:"realized_pnls"`
	UnrealizedPnLs map[string]string `json:"unrealized_pnls"`
	TotalPnLs      map[string]string `json:"total_pnls"`
	NetExposures   map[string]string `json:"net_exposures,omitempty"`
	MarkValues     map[string]string `json:"mark_values"`

	// ExposureComplete=false, если для части позиций нет цены или курса
	ExposureComplete bool `json:"exposure_complete"`
}

// InstrumentSummary - позиция по инструменту
type InstrumentSummary struct {
	InstrumentID  string `json:"instrument_id"`
	NetPosition   string `json:"net_position"`
	Side          string `json:"side"`
	RealizedPnL   string `json:"realized_pnl,omitempty"`
	UnrealizedPnL string `json:"unrealized_pnl,omitempty"`
	TotalPnL      string `json:"total_pnl,omitempty"`
	NetExposure   string `json:"net_exposure,omitempty"`
}

// GetStatus возвращает общее состояние портфеля.
//
// GET /api/v1/portfolio
//
// Response 200 OK:
//
//	{"initialized": true, "completely_flat": false}
func (h *PortfolioHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.portfolio == nil {
		writeError(w, http.StatusInternalServerError, "portfolio not initialized", nil)
		return
	}
	writeJSON(w, http.StatusOK, PortfolioStatus{
		Initialized:    h.portfolio.IsInitialized(),
		CompletelyFlat: h.portfolio.IsCompletelyFlat(),
	})
}

// GetVenue возвращает сводку площадки.
//
// GET /api/v1/portfolio/venues/{venue}
//
// Response 200 OK:
//
//	{
//	  "venue": "BITMEX",
//	  "account_id": "BITMEX-001",
//	  "account_type": "MARGIN",
//	  "balances": {"XBT": "1.00000000 XBT"},
//	  "balances_locked": {"XBT": "0.01000000 XBT"},
//	  "realized_pnls": {"XBT": "-0.00012000 XBT"},
//	  "unrealized_pnls": {"XBT": "0.00150000 XBT"},
//	  "total_pnls": {"XBT": "0.00138000 XBT"},
//	  "net_exposures": {"XBT": "0.50000000 XBT"},
//	  "mark_values": {"XBTUSD.BITMEX": "0.50000000 XBT"},
//	  "exposure_complete": true
//	}
//
// Response 404 Not Found: у площадки нет счёта
func (h *PortfolioHandler) GetVenue(w http.ResponseWriter, r *http.Request) {
	if h.portfolio == nil {
		writeError(w, http.StatusInternalServerError, "portfolio not initialized", nil)
		return
	}

	venue := models.Venue(strings.ToUpper(mux.Vars(r)["venue"]))
	if venue == "" {
		writeError(w, http.StatusBadRequest, "venue is required", nil)
		return
	}

	account := h.portfolio.Account(venue)
	if account == nil {
		writeError(w, http.StatusNotFound, "no account for venue "+string(venue), nil)
		return
	}

	summary := VenueSummary{
		Venue:          string(venue),
		AccountID:      string(account.ID()),
		AccountType:    account.Type().String(),
		Balances:       make(map[string]string),
		BalancesLocked: moneyMap(h.portfolio.BalancesLocked(venue)),
		RealizedPnLs:   moneyMap(h.portfolio.RealizedPnLs(venue)),
		UnrealizedPnLs: moneyMap(h.portfolio.UnrealizedPnLs(venue)),
		TotalPnLs:      moneyMap(h.portfolio.TotalPnLs(venue)),
		MarkValues:     instrumentMoneyMap(h.portfolio.MarkValues(venue)),
	}
	for code, b := range account.Balances() {
		summary.Balances[code] = b.Total.String()
	}
	if account.Type() == models.AccountTypeMargin {
		summary.MarginsInit = instrumentMoneyMap(h.portfolio.MarginsInit(venue))
		summary.MarginsMaint = instrumentMoneyMap(h.portfolio.MarginsMaint(venue))
	}
	if exposures, ok := h.portfolio.NetExposures(venue); ok {
		summary.NetExposures = moneyMap(exposures)
		summary.ExposureComplete = true
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetInstrument возвращает позицию портфеля по инструменту.
//
// GET /api/v1/portfolio/instruments/{instrument_id}
//
// Response 200 OK:
//
//	{
//	  "instrument_id": "XBTUSD.BITMEX",
//	  "net_position": "-100",
//	  "side": "SHORT",
//	  "realized_pnl": "0.00000000 XBT",
//	  "unrealized_pnl": "0.00012000 XBT",
//	  "total_pnl": "0.00012000 XBT",
//	  "net_exposure": "0.00150000 XBT"
//	}
//
// Поля PnL опускаются, если их нельзя посчитать (нет цены или курса).
func (h *PortfolioHandler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	if h.portfolio == nil {
		writeError(w, http.StatusInternalServerError, "portfolio not initialized", nil)
		return
	}

	id, err := models.ParseInstrumentID(mux.Vars(r)["instrument_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid instrument id", err)
		return
	}

	summary := InstrumentSummary{
		InstrumentID: id.String(),
		NetPosition:  h.portfolio.NetPosition(id).String(),
		Side:         "FLAT",
	}
	switch {
	case h.portfolio.IsNetLong(id):
		summary.Side = "LONG"
	case h.portfolio.IsNetShort(id):
		summary.Side = "SHORT"
	}

	if m, ok := h.portfolio.RealizedPnL(id); ok {
		summary.RealizedPnL = m.String()
	}
	if m, ok := h.portfolio.UnrealizedPnL(id); ok {
		summary.UnrealizedPnL = m.String()
	}
	if m, ok := h.portfolio.TotalPnL(id); ok {
		summary.TotalPnL = m.String()
	}
	if m, ok := h.portfolio.NetExposure(id); ok {
		summary.NetExposure = m.String()
	}

	writeJSON(w, http.StatusOK, summary)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"tradecore/internal/models"

	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// AccountHistory - журнал состояний счетов
type AccountHistory interface {
	History(ctx context.Context, id models.AccountID, limit int) ([]models.AccountState, error)
	AccountIDs(ctx context.Context) ([]models.AccountID, error)
}

// AccountHandler отдаёт журнал состояний счетов из архива.
//
// Endpoints:
// - GET /api/v1/accounts - счета с записями в журнале
// - GET /api/v1/accounts/{account_id}/history?limit=N - последние состояния
type AccountHandler struct {
	history AccountHistory
}

func NewAccountHandler(history AccountHistory) *AccountHandler {
	return &AccountHandler{history: history}
}

// ListAccounts возвращает идентификаторы счетов.
//
// GET /api/v1/accounts
//
// Response 200 OK:
//
//	["BITMEX-001", "SIM-001"]
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "account archive disabled", nil)
		return
	}

	ids, err := h.history.AccountIDs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts", err)
		return
	}
	if ids == nil {
		ids = []models.AccountID{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// GetHistory возвращает последние состояния счёта, от новых к старым.
//
// GET /api/v1/accounts/{account_id}/history?limit=50
//
// limit по умолчанию 100, не больше 1000.
func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "account archive disabled", nil)
		return
	}

	id := models.AccountID(mux.Vars(r)["account_id"])
	if id == "" {
		writeError(w, http.StatusBadRequest, "account id is required", nil)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	states, err := h.history.History(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get account history", err)
		return
	}
	if states == nil {
		states = []models.AccountState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, errors.New("limit must be positive")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

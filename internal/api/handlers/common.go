package handlers

import (
	"net/http"

	"tradecore/internal/models"
	"tradecore/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.L().WithComponent("api").Warn("failed to encode response", utils.Err(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// moneyMap - суммы строками "100.50 USD" по коду валюты
func moneyMap(in map[string]models.Money) map[string]string {
	out := make(map[string]string, len(in))
	for code, m := range in {
		out[code] = m.String()
	}
	return out
}

func instrumentMoneyMap(in map[models.InstrumentID]models.Money) map[string]string {
	out := make(map[string]string, len(in))
	for id, m := range in {
		out[id.String()] = m.String()
	}
	return out
}

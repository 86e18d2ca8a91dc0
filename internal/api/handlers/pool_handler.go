package handlers

import (
	"context"
	"net/http"

	"tradecore/internal/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
)

// PoolLookup - зарегистрированные профайлеры пулов
type PoolLookup interface {
	Get(addr common.Address) (*pool.Profiler, bool)
	All() []*pool.Profiler
}

// PoolSnapshotStore - архив снимков пулов
type PoolSnapshotStore interface {
	Save(ctx context.Context, s pool.Snapshot) error
}

// PoolHandler обрабатывает запросы аналитики пулов Uniswap V3.
//
// Endpoints:
// - GET /api/v1/pools - список пулов
// - GET /api/v1/pools/{address} - состояние и аналитика пула
// - GET /api/v1/pools/{address}/snapshot - полный снимок пула
// - POST /api/v1/pools/{address}/snapshot - сохранить снимок в архив
type PoolHandler struct {
	pools PoolLookup
	store PoolSnapshotStore
}

// NewPoolHandler создает PoolHandler; store == nil отключает сохранение снимков
func NewPoolHandler(pools PoolLookup, store PoolSnapshotStore) *PoolHandler {
	return &PoolHandler{pools: pools, store: store}
}

// PoolSummary - краткое состояние пула; большие числа строками
type PoolSummary struct {
	Address                  string  `json:"address"`
	Fee                      uint32  `json:"fee"`
	TickSpacing              int32   `json:"tick_spacing"`
	Initialized              bool    `json:"initialized"`
	CurrentTick              int32   `json:"current_tick"`
	SqrtPriceX96             string  `json:"sqrt_price_x96"`
	ActiveLiquidity          string  `json:"active_liquidity"`
	TotalLiquidity           string  `json:"total_liquidity"`
	LiquidityUtilizationRate float64 `json:"liquidity_utilization_rate"`
	TotalEvents              uint64  `json:"total_events"`
	LastBlock                uint64  `json:"last_block,omitempty"`
}

// PoolDetails - состояние, аналитика и оценка балансов пула.
// Отдаётся указателем: uint256.Int кодируется через (*Int).MarshalJSON
type PoolDetails struct {
	PoolSummary
	State            pool.State     `json:"state"`
	Analytics        pool.Analytics `json:"analytics"`
	EstimateBalance0 string         `json:"estimate_balance0"`
	EstimateBalance1 string         `json:"estimate_balance1"`
}

func summarize(p *pool.Profiler) PoolSummary {
	cfg := p.Config()
	state := p.State()
	active := p.ActiveLiquidity()
	total := p.TotalLiquidity()

	s := PoolSummary{
		Address:                  cfg.Address.Hex(),
		Fee:                      cfg.Fee,
		TickSpacing:              cfg.TickSpacing,
		Initialized:              p.IsInitialized(),
		CurrentTick:              state.CurrentTick,
		SqrtPriceX96:             state.SqrtPriceX96.Dec(),
		ActiveLiquidity:          active.Dec(),
		TotalLiquidity:           total.Dec(),
		LiquidityUtilizationRate: p.LiquidityUtilizationRate(),
		TotalEvents:              p.TotalEvents(),
	}
	if last, ok := p.LastProcessed(); ok {
		s.LastBlock = last.Number
	}
	return s
}

// ListPools возвращает краткое состояние всех пулов.
//
// GET /api/v1/pools
//
// Response 200 OK:
//
//	[{"address": "0x8ad5...", "fee": 3000, "tick_spacing": 60, "current_tick": -23028, ...}]
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	if h.pools == nil {
		writeError(w, http.StatusInternalServerError, "pool registry not initialized", nil)
		return
	}

	out := make([]PoolSummary, 0)
	for _, p := range h.pools.All() {
		out = append(out, summarize(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPool возвращает состояние и аналитику пула.
//
// GET /api/v1/pools/{address}
//
// Response 404 Not Found: пул не зарегистрирован
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	b0 := p.EstimateBalance0()
	b1 := p.EstimateBalance1()
	writeJSON(w, http.StatusOK, &PoolDetails{
		PoolSummary:      summarize(p),
		State:            p.State(),
		Analytics:        p.Analytics(),
		EstimateBalance0: b0.Dec(),
		EstimateBalance1: b1.Dec(),
	})
}

// GetSnapshot возвращает полный снимок пула (позиции, тики, аналитика).
//
// GET /api/v1/pools/{address}/snapshot
func (h *PoolHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	data, err := pool.MarshalSnapshot(p.ExtractSnapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode snapshot", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SaveSnapshot сохраняет текущий снимок пула в архив.
//
// POST /api/v1/pools/{address}/snapshot
//
// Response 200 OK:
//
//	{"message": "snapshot saved", "data": {"block": 12376729}}
//
// Response 503 Service Unavailable: архив отключен
func (h *PoolHandler) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot archive disabled", nil)
		return
	}
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	snapshot := p.ExtractSnapshot()
	if err := h.store.Save(r.Context(), snapshot); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{
		Message: "snapshot saved",
		Data:    map[string]uint64{"block": snapshot.BlockPosition.Number},
	})
}

func (h *PoolHandler) lookup(w http.ResponseWriter, r *http.Request) (*pool.Profiler, bool) {
	if h.pools == nil {
		writeError(w, http.StatusInternalServerError, "pool registry not initialized", nil)
		return nil, false
	}

	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid pool address", nil)
		return nil, false
	}
	p, ok := h.pools.Get(common.HexToAddress(raw))
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found", nil)
		return nil, false
	}
	return p, true
}

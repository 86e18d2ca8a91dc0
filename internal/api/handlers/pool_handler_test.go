package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tradecore/internal/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolAddress = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	lpOwner     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

// newPoolRegistry - пул 0.3% с ценой 1:10 и позицией на весь диапазон
func newPoolRegistry(t *testing.T) *pool.Registry {
	t.Helper()
	p, err := pool.NewProfiler(pool.Config{Address: poolAddress, Fee: 3000, TickSpacing: 60})
	require.NoError(t, err)
	price, err := pool.EncodeSqrtRatioX96(uint256.NewInt(1), uint256.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(price))
	block := pool.BlockPosition{Number: 12376729, TransactionIndex: 1, LogIndex: 2}
	_, err = p.ExecuteMint(lpOwner, block, pool.MinTickForSpacing(60), pool.MaxTickForSpacing(60), uint256.NewInt(3161))
	require.NoError(t, err)

	reg := pool.NewRegistry()
	require.NoError(t, reg.Add(p))
	return reg
}

func poolRequest(method, address string) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/pools/"+address, nil)
	return mux.SetURLVars(req, map[string]string{"address": address})
}

// ============ PoolHandler Tests ============

func TestPoolHandler_ListPools(t *testing.T) {
	handler := NewPoolHandler(newPoolRegistry(t), nil)

	w := httptest.NewRecorder()
	handler.ListPools(w, httptest.NewRequest(http.MethodGet, "/api/v1/pools", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var pools []PoolSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pools))
	require.Len(t, pools, 1)

	s := pools[0]
	assert.Equal(t, poolAddress.Hex(), s.Address)
	assert.Equal(t, uint32(3000), s.Fee)
	assert.True(t, s.Initialized)
	assert.Equal(t, int32(-23028), s.CurrentTick)
	assert.Equal(t, "3161", s.ActiveLiquidity)
	assert.Equal(t, 1.0, s.LiquidityUtilizationRate)
	assert.Equal(t, uint64(12376729), s.LastBlock)
}

func TestPoolHandler_GetPool(t *testing.T) {
	handler := NewPoolHandler(newPoolRegistry(t), nil)

	t.Run("returns state and estimates", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetPool(w, poolRequest(http.MethodGet, poolAddress.Hex()))

		require.Equal(t, http.StatusOK, w.Code)
		var details PoolDetails
		require.NoError(t, json.NewDecoder(w.Body).Decode(&details))
		assert.Equal(t, "9996", details.EstimateBalance0)
		assert.Equal(t, "1000", details.EstimateBalance1)
		assert.Equal(t, uint64(1), details.Analytics.TotalMints)
		assert.Equal(t, int32(-23028), details.State.CurrentTick)
	})

	t.Run("lowercase address resolves", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetPool(w, poolRequest(http.MethodGet, "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown pool", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetPool(w, poolRequest(http.MethodGet, "0x0000000000000000000000000000000000000001"))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid address", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetPool(w, poolRequest(http.MethodGet, "not-an-address"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPoolHandler_GetSnapshot(t *testing.T) {
	handler := NewPoolHandler(newPoolRegistry(t), nil)

	w := httptest.NewRecorder()
	handler.GetSnapshot(w, poolRequest(http.MethodGet, poolAddress.Hex()))

	require.Equal(t, http.StatusOK, w.Code)
	snapshot, err := pool.UnmarshalSnapshot(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, poolAddress, snapshot.Address)
	assert.Len(t, snapshot.Positions, 1)
	assert.Equal(t, uint64(12376729), snapshot.BlockPosition.Number)
}

func TestPoolHandler_SaveSnapshot(t *testing.T) {
	t.Run("persists snapshot", func(t *testing.T) {
		store := NewMockPoolStore()
		handler := NewPoolHandler(newPoolRegistry(t), store)

		w := httptest.NewRecorder()
		handler.SaveSnapshot(w, poolRequest(http.MethodPost, poolAddress.Hex()))

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, store.saved, 1)
		assert.Equal(t, poolAddress, store.saved[0].Address)
	})

	t.Run("store error", func(t *testing.T) {
		store := NewMockPoolStore()
		store.SetError("save", ErrMockDatabase)
		handler := NewPoolHandler(newPoolRegistry(t), store)

		w := httptest.NewRecorder()
		handler.SaveSnapshot(w, poolRequest(http.MethodPost, poolAddress.Hex()))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("archive disabled", func(t *testing.T) {
		handler := NewPoolHandler(newPoolRegistry(t), nil)

		w := httptest.NewRecorder()
		handler.SaveSnapshot(w, poolRequest(http.MethodPost, poolAddress.Hex()))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

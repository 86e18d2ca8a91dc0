package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/models"
)

// bitmexStub - тестовая площадка: ответы по "METHOD path" и журнал запросов
type bitmexStub struct {
	mu        sync.Mutex
	responses map[string]string
	requests  []*http.Request
	bodies    []url.Values
}

func newBitmexStub(t *testing.T, responses map[string]string) (*BitmexClient, *bitmexStub) {
	t.Helper()
	stub := &bitmexStub{responses: responses}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))

		stub.mu.Lock()
		stub.requests = append(stub.requests, r)
		stub.bodies = append(stub.bodies, form)
		resp, ok := stub.responses[r.Method+" "+r.URL.Path]
		stub.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"name":"NotFound","message":"Not Found"}}`))
			return
		}
		w.Write([]byte(resp))
	}))
	t.Cleanup(server.Close)

	c, err := NewBitmexClient(BitmexConfig{
		BaseURL:   server.URL,
		APIKey:    "key",
		APISecret: "secret",
		Retry:     fastRetry(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, stub
}

func (s *bitmexStub) last() (*http.Request, url.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.requests)
	return s.requests[n-1], s.bodies[n-1]
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================================
// Квоты и конструктор
// ============================================================

func TestBitmexQuotas(t *testing.T) {
	auth := BitmexQuotas(true)
	anon := BitmexQuotas(false)

	assert.Equal(t, 10.0, auth[BitmexQuotaGlobal].Rate)
	assert.InDelta(t, 2.0, auth[BitmexQuotaMinute].Rate, 1e-9)
	assert.Equal(t, 120.0, auth[BitmexQuotaMinute].Burst)
	assert.InDelta(t, 0.5, anon[BitmexQuotaMinute].Rate, 1e-9)
	assert.Equal(t, 30.0, anon[BitmexQuotaMinute].Burst)
}

func TestNewBitmexClientQuotasFollowCredentials(t *testing.T) {
	t.Setenv("BITMEX_API_KEY", "")
	t.Setenv("BITMEX_API_SECRET", "")

	anon, err := NewBitmexClient(BitmexConfig{})
	require.NoError(t, err)
	assert.False(t, anon.HTTP().HasCredentials())
	assert.Equal(t, 30.0, anon.HTTP().Limiter().Get(BitmexQuotaMinute).Burst())

	auth, err := NewBitmexClient(BitmexConfig{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.True(t, auth.HTTP().HasCredentials())
	assert.Equal(t, 120.0, auth.HTTP().Limiter().Get(BitmexQuotaMinute).Burst())

	_, err = NewBitmexClient(BitmexConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

// ============================================================
// Отчёты
// ============================================================

const bitmexOrdersJSON = `[
  {"orderID":"v-1","clOrdID":"O-1-entry","clOrdLinkID":"L1","account":1234,"symbol":"XBTUSD","side":"Buy",
   "orderQty":100,"price":50000.5,"ordType":"Limit","timeInForce":"GoodTillCancel","execInst":"ParticipateDoNotInitiate",
   "contingencyType":"OneTriggersTheOther","ordStatus":"New","leavesQty":100,"cumQty":0,
   "transactTime":"2024-01-02T03:04:05.000Z","timestamp":"2024-01-02T03:04:06.000Z"},
  {"orderID":"v-2","clOrdID":"O-1-tp","clOrdLinkID":"L1","account":1234,"symbol":"XBTUSD","side":"Sell",
   "orderQty":100,"price":52000,"ordType":"Limit","timeInForce":"GoodTillCancel","execInst":"ReduceOnly",
   "contingencyType":"OneTriggersTheOther","ordStatus":"New","leavesQty":100,"cumQty":0},
  {"orderID":"v-3","clOrdID":"solo","account":1234,"symbol":"XBTUSD","side":"Sell",
   "orderQty":5,"ordType":"Market","ordStatus":"Canceled","text":"Canceled: Cancel from www.bitmex.com",
   "cumQty":0}
]`

func TestBitmexGetOrders(t *testing.T) {
	c, stub := newBitmexStub(t, map[string]string{"GET /api/v1/order": bitmexOrdersJSON})

	reports, err := c.GetOrders(context.Background(), OrderQuery{Symbol: "XBTUSD", OpenOnly: true, Count: 50})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	req, _ := stub.last()
	assert.Equal(t, "XBTUSD", req.URL.Query().Get("symbol"))
	assert.Equal(t, `{"open":true}`, req.URL.Query().Get("filter"))
	assert.Equal(t, "50", req.URL.Query().Get("count"))
	assert.NotEmpty(t, req.Header.Get("api-signature"))

	entry := reports[0]
	assert.Equal(t, models.AccountID("BITMEX-1234"), entry.AccountID)
	assert.Equal(t, "XBTUSD.BITMEX", entry.InstrumentID.String())
	assert.Equal(t, models.OrderStatusAccepted, entry.Status)
	assert.Equal(t, models.OrderTypeLimit, entry.Type)
	assert.True(t, entry.PostOnly)
	assert.Equal(t, "100", entry.Quantity.String())
	require.NotNil(t, entry.Price)
	assert.Equal(t, "50000.5", entry.Price.String())
	assert.Equal(t, models.ContingencyOTO, entry.Contingency)
	assert.Equal(t, ids("O-1-tp"), entry.LinkedOrderIDs)
	assert.NotZero(t, entry.TsAccepted)

	tp := reports[1]
	assert.True(t, tp.ReduceOnly)
	assert.Equal(t, models.ClientOrderID("O-1-entry"), tp.ParentOrderID)

	solo := reports[2]
	assert.Equal(t, models.OrderStatusCanceled, solo.Status)
	assert.Equal(t, "Canceled: Cancel from www.bitmex.com", solo.CancelReason)
	assert.Equal(t, models.NoContingency, solo.Contingency)
}

func TestBitmexGetOrdersUsesInstrumentPrecision(t *testing.T) {
	c, _ := newBitmexStub(t, map[string]string{"GET /api/v1/order": bitmexOrdersJSON})
	inst := models.NewCryptoPerpetual(models.NewInstrumentID("XBTUSD", BitmexVenue),
		models.XBT, models.USD, true, 2, 0)
	c.AddInstrument(inst)

	reports, err := c.GetOrders(context.Background(), OrderQuery{})
	require.NoError(t, err)
	assert.Equal(t, "50000.50", reports[0].Price.String())
}

func TestBitmexGetExecutionsSkipsNonTrade(t *testing.T) {
	c, _ := newBitmexStub(t, map[string]string{"GET /api/v1/execution/tradeHistory": `[
	  {"execID":"e-1","orderID":"v-1","clOrdID":"O-1","account":1,"symbol":"XBTUSD","side":"Buy",
	   "lastQty":10,"lastPx":50000,"execType":"Trade","execComm":1500,"settlCurrency":"XBt",
	   "lastLiquidityInd":"RemovedLiquidity","trdMatchID":"t-1","transactTime":"2024-01-02T03:04:05Z"},
	  {"execID":"e-2","account":1,"symbol":"XBTUSD","execType":"Funding","execComm":-200,"settlCurrency":"XBt"},
	  {"execID":"e-3","orderID":"v-2","account":1,"symbol":"XBTUSDT","side":"Sell",
	   "lastQty":2,"lastPx":50001.5,"execType":"Trade","execComm":-250000,"settlCurrency":"USDt",
	   "lastLiquidityInd":"AddedLiquidity","trdMatchID":"t-2"}
	]`})

	fills, err := c.GetExecutions(context.Background(), "", 100)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	assert.Equal(t, models.TradeID("t-1"), fills[0].TradeID)
	assert.Equal(t, models.LiquidityTaker, fills[0].LiquiditySide)
	assert.Equal(t, "XBT", fills[0].Commission.Currency.Code)
	assert.True(t, fills[0].Commission.AsDecimal().Equal(dec("0.000015")))

	assert.Equal(t, models.LiquidityMaker, fills[1].LiquiditySide)
	assert.Equal(t, "USDT", fills[1].Commission.Currency.Code)
	assert.True(t, fills[1].Commission.AsDecimal().Equal(dec("-0.25")))
	assert.Equal(t, "50001.5", fills[1].LastPx.String())
}

func TestBitmexGetPositions(t *testing.T) {
	c, _ := newBitmexStub(t, map[string]string{"GET /api/v1/position": `[
	  {"account":1,"symbol":"XBTUSD","currentQty":-300,"avgEntryPrice":49000.5,"leverage":5},
	  {"account":1,"symbol":"ETHUSD","currentQty":0}
	]`})

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, models.PositionSideShort, positions[0].Side)
	assert.Equal(t, "300", positions[0].Quantity.String())
	assert.True(t, positions[0].SignedQty().Equal(dec("-300")))
	require.NotNil(t, positions[0].AvgPxOpen)
	assert.True(t, positions[0].AvgPxOpen.Equal(dec("49000.5")))

	assert.Equal(t, models.PositionSideFlat, positions[1].Side)
}

func TestBitmexGetMargins(t *testing.T) {
	c, stub := newBitmexStub(t, map[string]string{"GET /api/v1/user/margin": `[
	  {"account":77,"currency":"XBt","walletBalance":100000000,"availableMargin":60000000,"initMargin":40000000,
	   "timestamp":"2024-01-02T03:04:05Z"},
	  {"account":77,"currency":"USDt","walletBalance":5000000,"withdrawableMargin":4000000}
	]`})

	state, err := c.GetMargins(context.Background())
	require.NoError(t, err)

	req, _ := stub.last()
	assert.Equal(t, "all", req.URL.Query().Get("currency"))

	assert.Equal(t, models.AccountID("BITMEX-77"), state.AccountID)
	assert.Equal(t, models.AccountTypeMargin, state.AccountType)
	assert.True(t, state.IsReported)
	require.Len(t, state.Balances, 2)

	xbt, ok := state.Balance("XBT")
	require.True(t, ok)
	assert.True(t, xbt.Total.AsDecimal().Equal(dec("1")))
	assert.True(t, xbt.Free.AsDecimal().Equal(dec("0.6")))
	assert.True(t, xbt.Locked.AsDecimal().Equal(dec("0.4")))

	usdt, ok := state.Balance("USDT")
	require.True(t, ok)
	assert.True(t, usdt.Total.AsDecimal().Equal(dec("5")))
	assert.True(t, usdt.Free.AsDecimal().Equal(dec("4")))
}

func TestParseMarginBalanceFallbacks(t *testing.T) {
	i64 := func(v int64) *int64 { return &v }

	tests := []struct {
		name string
		m    bitmexMargin
		free string
	}{
		{"available capped", bitmexMargin{Currency: "XBt", WalletBalance: i64(1e8), AvailableMargin: i64(2e8)}, "1"},
		{"total minus init", bitmexMargin{Currency: "XBt", WalletBalance: i64(1e8), InitMargin: i64(25e6)}, "0.75"},
		{"init above total", bitmexMargin{Currency: "XBt", WalletBalance: i64(1e8), InitMargin: i64(3e8)}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := parseMarginBalance(tt.m)
			if !b.Free.AsDecimal().Equal(dec(tt.free)) {
				t.Errorf("Free = %s, want %s", b.Free.AsDecimal(), tt.free)
			}
			sum := b.Free.AsDecimal().Add(b.Locked.AsDecimal())
			assert.True(t, sum.Equal(b.Total.AsDecimal()), "total = locked + free")
		})
	}
}

func TestBitmexGetInstruments(t *testing.T) {
	c, _ := newBitmexStub(t, map[string]string{"GET /api/v1/instrument/active": `[
	  {"symbol":"XBTUSD","rootSymbol":"XBT","typ":"FFWCSX","underlying":"XBT","quoteCurrency":"USD",
	   "settlCurrency":"XBt","tickSize":0.5,"lotSize":100,"isInverse":true},
	  {"symbol":"XBTZ24","rootSymbol":"XBT","typ":"FFCCSX","underlying":"XBT","quoteCurrency":"USD",
	   "settlCurrency":"XBt","tickSize":0.5,"lotSize":100,"isInverse":true,"expiry":"2024-12-27T12:00:00Z"},
	  {"symbol":"XBT_USDT","typ":"IFXXXP","underlying":"XBT","quoteCurrency":"USDT","tickSize":0.01,"lotSize":0.0001},
	  {"symbol":".BXBT","typ":"MRCXXX","tickSize":0.01},
	  {"symbol":"BROKEN","typ":"FFWCSX"}
	]`})

	insts, err := c.GetInstruments(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, insts, 3)

	perp := insts[0]
	assert.Equal(t, "XBTUSD.BITMEX", perp.ID.String())
	assert.True(t, perp.IsInverse)
	assert.Equal(t, uint8(1), perp.PricePrecision)
	assert.Equal(t, "XBT", perp.SettlementCurrency.Code)

	fut := insts[1]
	assert.Equal(t, models.InstrumentCryptoFuture, fut.Kind)
	assert.NotZero(t, fut.Expiration)

	spot := insts[2]
	assert.Equal(t, uint8(2), spot.PricePrecision)
	assert.Equal(t, uint8(4), spot.SizePrecision)

	// Инструменты кэшируются для точности цен в отчётах
	assert.Equal(t, uint8(1), c.pricePrecision("XBTUSD", nil))
}

func TestFloatPrecision(t *testing.T) {
	tests := []struct {
		v    float64
		want uint8
	}{
		{0.5, 1},
		{0.01, 2},
		{1, 0},
		{100, 0},
		{50000.25, 2},
		{0.000000000001, 9},
	}
	for _, tt := range tests {
		if got := floatPrecision(tt.v); got != tt.want {
			t.Errorf("floatPrecision(%v) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

// ============================================================
// Торговые операции
// ============================================================

func TestBitmexSubmitOrder(t *testing.T) {
	c, stub := newBitmexStub(t, map[string]string{"POST /api/v1/order": `
	  {"orderID":"v-9","clOrdID":"O-9","account":1,"symbol":"XBTUSD","side":"Sell","orderQty":10,
	   "price":51000,"ordType":"Limit","timeInForce":"ImmediateOrCancel","ordStatus":"New","cumQty":0}`})

	qty, err := models.NewQuantity(10, 0)
	require.NoError(t, err)
	px := models.NewPrice(51000, 1)

	r, err := c.SubmitOrder(context.Background(), SubmitOrderParams{
		Symbol:        "XBTUSD",
		ClientOrderID: "O-9",
		Side:          models.OrderSideSell,
		Type:          models.OrderTypeLimit,
		Quantity:      qty,
		Price:         &px,
		TimeInForce:   models.TimeInForceIOC,
		ReduceOnly:    true,
		Contingency:   models.ContingencyOCO,
		OrderListID:   "L-9",
	})
	require.NoError(t, err)
	assert.Equal(t, models.VenueOrderID("v-9"), r.VenueOrderID)
	assert.Equal(t, models.TimeInForceIOC, r.TimeInForce)

	req, form := stub.last()
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Equal(t, "Sell", form.Get("side"))
	assert.Equal(t, "Limit", form.Get("ordType"))
	assert.Equal(t, "10", form.Get("orderQty"))
	assert.Equal(t, "51000.0", form.Get("price"))
	assert.Equal(t, "ImmediateOrCancel", form.Get("timeInForce"))
	assert.Equal(t, "ReduceOnly", form.Get("execInst"))
	assert.Equal(t, "OneCancelsTheOther", form.Get("contingencyType"))
	assert.Equal(t, "L-9", form.Get("clOrdLinkID"))
}

func TestSubmitOrderParamsValidation(t *testing.T) {
	qty, _ := models.NewQuantity(1, 0)
	px := models.NewPrice(100, 1)

	tests := []struct {
		name  string
		p     SubmitOrderParams
		field string
	}{
		{"no symbol", SubmitOrderParams{Side: models.OrderSideBuy, Quantity: qty}, "symbol"},
		{"zero qty", SubmitOrderParams{Symbol: "XBTUSD", Side: models.OrderSideBuy}, "quantity"},
		{"no side", SubmitOrderParams{Symbol: "XBTUSD", Quantity: qty}, "side"},
		{"limit without price", SubmitOrderParams{Symbol: "XBTUSD", Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Quantity: qty}, "price"},
		{"stop without trigger", SubmitOrderParams{Symbol: "XBTUSD", Side: models.OrderSideBuy, Type: models.OrderTypeStopMarket, Quantity: qty}, "trigger_price"},
		{"post only market", SubmitOrderParams{Symbol: "XBTUSD", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Quantity: qty, PostOnly: true}, "post_only"},
		{"unsupported tif", SubmitOrderParams{Symbol: "XBTUSD", Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Quantity: qty, Price: &px, TimeInForce: models.TimeInForceGTD}, "time_in_force"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.form()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.False(t, ShouldRetry(err))
		})
	}
}

func TestBitmexSubmitOrderVenueRejection(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"name":"HTTPError","message":"Account has insufficient Available Balance"}}`))
	}))
	defer server.Close()

	c, err := NewBitmexClient(BitmexConfig{BaseURL: server.URL, APIKey: "k", APISecret: "s", Retry: fastRetry()})
	require.NoError(t, err)

	qty, _ := models.NewQuantity(1, 0)
	_, err = c.SubmitOrder(context.Background(), SubmitOrderParams{
		Symbol: "XBTUSD", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Quantity: qty,
	})
	var ve *VenueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 1, calls)
}

func TestBitmexCancelAndAmend(t *testing.T) {
	c, stub := newBitmexStub(t, map[string]string{
		"DELETE /api/v1/order": `[
		  {"orderID":"v-1","clOrdID":"a","account":1,"symbol":"XBTUSD","side":"Buy","orderQty":1,"ordType":"Market","ordStatus":"Canceled"},
		  {"orderID":"v-2","clOrdID":"b","account":1,"symbol":"XBTUSD","side":"Buy","orderQty":1,"ordType":"Market","ordStatus":"Canceled"}
		]`,
		"PUT /api/v1/order": `{"orderID":"v-1","clOrdID":"a","account":1,"symbol":"XBTUSD","side":"Buy",
		  "orderQty":5,"price":100.5,"ordType":"Limit","ordStatus":"New"}`,
		"DELETE /api/v1/order/all": `[]`,
	})
	ctx := context.Background()

	reports, err := c.CancelOrders(ctx, []models.VenueOrderID{"v-1", "v-2"}, nil)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	_, form := stub.last()
	assert.Equal(t, "v-1,v-2", form.Get("orderID"))

	_, err = c.CancelOrders(ctx, nil, nil)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	qty, _ := models.NewQuantity(5, 0)
	r, err := c.AmendOrder(ctx, AmendOrderParams{ClientOrderID: "a", Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, "5", r.Quantity.String())
	_, form = stub.last()
	assert.Equal(t, "a", form.Get("origClOrdID"))

	_, err = c.AmendOrder(ctx, AmendOrderParams{VenueOrderID: "v-1"})
	assert.ErrorAs(t, err, &ve)

	all, err := c.CancelAllOrders(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Empty(t, all)
	_, form = stub.last()
	assert.Equal(t, "XBTUSD", form.Get("symbol"))
}

func TestBitmexQueryOrder(t *testing.T) {
	c, stub := newBitmexStub(t, map[string]string{"GET /api/v1/order": `[]`})

	r, err := c.QueryOrder(context.Background(), "v-404", "")
	require.NoError(t, err)
	assert.Nil(t, r)

	req, _ := stub.last()
	assert.Equal(t, `{"orderID":"v-404"}`, req.URL.Query().Get("filter"))
}

func TestBitmexUpdateLeverage(t *testing.T) {
	c, stub := newBitmexStub(t, map[string]string{"POST /api/v1/position/leverage": `
	  {"account":1,"symbol":"XBTUSD","currentQty":0,"leverage":25}`})

	p, err := c.UpdateLeverage(context.Background(), "XBTUSD", 25)
	require.NoError(t, err)
	require.NotNil(t, p.Leverage)
	assert.True(t, p.Leverage.Equal(dec("25")))
	_, form := stub.last()
	assert.Equal(t, "25", form.Get("leverage"))

	_, err = c.UpdateLeverage(context.Background(), "XBTUSD", 101)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradecore/internal/models"
	"tradecore/pkg/ratelimit"
	"tradecore/pkg/retry"
	"tradecore/pkg/utils"
)

const (
	BitmexBaseURL        = "https://www.bitmex.com"
	BitmexTestnetBaseURL = "https://testnet.bitmex.com"

	// Ключи квот REST
	BitmexQuotaGlobal = "bitmex:global"
	BitmexQuotaMinute = "bitmex:minute"
)

var bitmexQuotaKeys = []string{BitmexQuotaGlobal, BitmexQuotaMinute}

// BitmexQuotas - квоты по умолчанию: с ключами 120 req/min, без ключей 30 req/min,
// в обоих случаях не больше 10 запросов в секунду
func BitmexQuotas(authenticated bool) map[string]ratelimit.Quota {
	perMinute := 30.0
	if authenticated {
		perMinute = 120
	}
	return map[string]ratelimit.Quota{
		BitmexQuotaGlobal: ratelimit.PerSecond(10),
		BitmexQuotaMinute: ratelimit.PerMinute(perMinute),
	}
}

// BitmexConfig - настройки клиента BitMEX
type BitmexConfig struct {
	BaseURL    string // пусто - production или testnet по флагу Testnet
	Testnet    bool
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	Retry      retry.Config
	Transport  TransportConfig

	// Quotas переопределяют BitmexQuotas
	Quotas map[string]ratelimit.Quota
}

// BitmexClient - REST адаптер BitMEX поверх HTTPClient
type BitmexClient struct {
	http   *HTTPClient
	logger *utils.Logger

	mu          sync.RWMutex
	instruments map[models.Symbol]*models.Instrument
}

// NewBitmexClient создаёт клиент; ключи берутся из конфигурации или окружения
func NewBitmexClient(cfg BitmexConfig) (*BitmexClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BitmexBaseURL
		if cfg.Testnet {
			baseURL = BitmexTestnetBaseURL
		}
	}

	creds, err := ResolveCredentials(BitmexVenue, baseURL, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	quotas := cfg.Quotas
	if quotas == nil {
		quotas = BitmexQuotas(creds != nil)
	}

	httpCfg := HTTPClientConfig{
		Venue:      BitmexVenue,
		BaseURL:    baseURL,
		RecvWindow: cfg.RecvWindow,
		Retry:      cfg.Retry,
		Quotas:     quotas,
		Transport:  cfg.Transport,
	}
	if creds != nil {
		httpCfg.APIKey, httpCfg.APISecret = creds.APIKey, creds.APISecret
	}

	hc, err := NewHTTPClient(httpCfg)
	if err != nil {
		return nil, err
	}
	return &BitmexClient{
		http:        hc,
		logger:      utils.L().WithComponent("bitmex"),
		instruments: make(map[models.Symbol]*models.Instrument),
	}, nil
}

// HTTP возвращает нижележащий клиент
func (c *BitmexClient) HTTP() *HTTPClient { return c.http }

// Close закрывает соединения
func (c *BitmexClient) Close() { c.http.Close() }

// HasCredentials - заданы ли ключи для приватных запросов
func (c *BitmexClient) HasCredentials() bool { return c.http.HasCredentials() }

// AddInstrument кэширует инструмент для точности цен в отчётах
func (c *BitmexClient) AddInstrument(inst *models.Instrument) {
	c.mu.Lock()
	c.instruments[inst.ID.Symbol] = inst
	c.mu.Unlock()
}

// pricePrecision - точность инструмента; для неизвестного символа
// выводится из самого значения
func (c *BitmexClient) pricePrecision(symbol string, px *float64) uint8 {
	c.mu.RLock()
	inst, ok := c.instruments[models.Symbol(symbol)]
	c.mu.RUnlock()
	if ok {
		return inst.PricePrecision
	}
	if px != nil {
		return floatPrecision(*px)
	}
	return 1
}

func (c *BitmexClient) get(ctx context.Context, path string, query url.Values, auth bool) (*Response, error) {
	return c.http.SendRequest(ctx, http.MethodGet, path, query, nil, auth, bitmexQuotaKeys)
}

func (c *BitmexClient) send(ctx context.Context, method, path string, form url.Values) (*Response, error) {
	var body []byte
	if len(form) > 0 {
		body = []byte(form.Encode())
	}
	return c.http.SendRequest(ctx, method, path, nil, body, true, bitmexQuotaKeys)
}

// ============================================================
// Инструменты и счёт
// ============================================================

// GetInstruments загружает инструменты (activeOnly - только торгуемые)
// и кэширует их. Неподдерживаемые типы пропускаются.
func (c *BitmexClient) GetInstruments(ctx context.Context, activeOnly bool) ([]*models.Instrument, error) {
	path := "/instrument"
	if activeOnly {
		path = "/instrument/active"
	}
	resp, err := c.get(ctx, path, nil, false)
	if err != nil {
		return nil, err
	}
	raw, err := decodeResponse[[]bitmexInstrument](resp)
	if err != nil {
		return nil, err
	}

	tsInit := models.NanosNow()
	out := make([]*models.Instrument, 0, len(raw))
	for _, b := range raw {
		inst, err := parseInstrument(b, tsInit)
		if err != nil {
			c.logger.Warn("Skipping instrument", utils.String("symbol", b.Symbol), utils.Err(err))
			continue
		}
		if inst == nil {
			continue
		}
		c.AddInstrument(inst)
		out = append(out, inst)
	}
	return out, nil
}

// GetWallet - баланс кошелька в валюте BitMEX (например "XBt")
func (c *BitmexClient) GetWallet(ctx context.Context, currency string) (models.AccountBalance, error) {
	query := url.Values{}
	if currency != "" {
		query.Set("currency", currency)
	}
	resp, err := c.get(ctx, "/user/wallet", query, true)
	if err != nil {
		return models.AccountBalance{}, err
	}
	w, err := decodeResponse[bitmexWallet](resp)
	if err != nil {
		return models.AccountBalance{}, err
	}
	cur := models.CurrencyOrCrypto(mapBitmexCurrency(w.Currency))
	return models.BalanceFromTotal(bitmexAmount(w.Amount, w.Currency, cur)), nil
}

// GetMargins - состояние маржинального счёта по всем валютам
func (c *BitmexClient) GetMargins(ctx context.Context) (models.AccountState, error) {
	resp, err := c.get(ctx, "/user/margin", url.Values{"currency": {"all"}}, true)
	if err != nil {
		return models.AccountState{}, err
	}
	margins, err := decodeResponse[[]bitmexMargin](resp)
	if err != nil {
		return models.AccountState{}, err
	}

	state := models.AccountState{
		AccountType: models.AccountTypeMargin,
		IsReported:  true,
		EventID:     models.NewEventID(),
		TsInit:      models.NanosNow(),
	}
	for _, m := range margins {
		state.AccountID = bitmexAccountID(m.Account)
		state.Balances = append(state.Balances, parseMarginBalance(m))
		if ts := nanosOf(m.Timestamp); ts > state.TsEvent {
			state.TsEvent = ts
		}
	}
	if state.TsEvent == 0 {
		state.TsEvent = state.TsInit
	}
	return state, nil
}

// ============================================================
// Отчёты
// ============================================================

// OrderQuery - фильтр GetOrders
type OrderQuery struct {
	Symbol   string
	OpenOnly bool
	Count    int
	Reverse  bool
}

func (q OrderQuery) values() url.Values {
	v := url.Values{}
	if q.Symbol != "" {
		v.Set("symbol", q.Symbol)
	}
	if q.OpenOnly {
		v.Set("filter", `{"open":true}`)
	}
	if q.Count > 0 {
		v.Set("count", strconv.Itoa(q.Count))
	}
	if q.Reverse {
		v.Set("reverse", "true")
	}
	return v
}

// GetOrders - отчёты по ордерам со связанными условными ордерами
func (c *BitmexClient) GetOrders(ctx context.Context, q OrderQuery) ([]models.OrderStatusReport, error) {
	resp, err := c.get(ctx, "/order", q.values(), true)
	if err != nil {
		return nil, err
	}
	return c.orderReports(resp)
}

// orderReports разбирает список ордеров и связывает условные
func (c *BitmexClient) orderReports(resp *Response) ([]models.OrderStatusReport, error) {
	orders, err := decodeResponse[[]bitmexOrder](resp)
	if err != nil {
		return nil, err
	}

	tsInit := models.NanosNow()
	reports := make([]models.OrderStatusReport, 0, len(orders))
	for _, o := range orders {
		r, err := parseOrderStatusReport(o, c.pricePrecision(o.Symbol, o.Price), tsInit)
		if err != nil {
			c.logger.Warn("Skipping order report", utils.OrderID(o.OrderID), utils.Err(err))
			continue
		}
		reports = append(reports, r)
	}
	LinkContingentOrders(reports)
	return reports, nil
}

func (c *BitmexClient) singleReport(resp *Response) (models.OrderStatusReport, error) {
	o, err := decodeResponse[bitmexOrder](resp)
	if err != nil {
		return models.OrderStatusReport{}, err
	}
	return parseOrderStatusReport(o, c.pricePrecision(o.Symbol, o.Price), models.NanosNow())
}

// GetExecutions - исполнения (только торговые записи)
func (c *BitmexClient) GetExecutions(ctx context.Context, symbol string, count int) ([]models.FillReport, error) {
	query := url.Values{}
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	if count > 0 {
		query.Set("count", strconv.Itoa(count))
	}
	resp, err := c.get(ctx, "/execution/tradeHistory", query, true)
	if err != nil {
		return nil, err
	}
	execs, err := decodeResponse[[]bitmexExecution](resp)
	if err != nil {
		return nil, err
	}

	tsInit := models.NanosNow()
	out := make([]models.FillReport, 0, len(execs))
	for _, e := range execs {
		r, err := parseFillReport(e, c.pricePrecision(e.Symbol, e.LastPx), tsInit)
		if err != nil {
			c.logger.Warn("Skipping fill report", utils.String("exec_id", e.ExecID), utils.Err(err))
			continue
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// GetPositions - отчёты по позициям
func (c *BitmexClient) GetPositions(ctx context.Context) ([]models.PositionStatusReport, error) {
	resp, err := c.get(ctx, "/position", nil, true)
	if err != nil {
		return nil, err
	}
	positions, err := decodeResponse[[]bitmexPosition](resp)
	if err != nil {
		return nil, err
	}
	tsInit := models.NanosNow()
	out := make([]models.PositionStatusReport, 0, len(positions))
	for _, p := range positions {
		out = append(out, parsePositionReport(p, tsInit))
	}
	return out, nil
}

// ============================================================
// Торговые операции
// ============================================================

// SubmitOrderParams - новый ордер
type SubmitOrderParams struct {
	Symbol        string
	ClientOrderID models.ClientOrderID
	Side          models.OrderSide
	Type          models.OrderType
	Quantity      models.Quantity
	Price         *models.Price
	TriggerPrice  *models.Price
	TimeInForce   models.TimeInForce
	PostOnly      bool
	ReduceOnly    bool
	Contingency   models.ContingencyType
	OrderListID   models.OrderListID
	DisplayQty    *models.Quantity
	Text          string
}

func (p SubmitOrderParams) form() (url.Values, error) {
	if p.Symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !p.Quantity.IsPositive() {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	side, err := bitmexSide(p.Side)
	if err != nil {
		return nil, err
	}
	ordType, err := bitmexOrdType(p.Type)
	if err != nil {
		return nil, err
	}
	tif, err := bitmexTIF(p.TimeInForce)
	if err != nil {
		return nil, err
	}

	switch p.Type {
	case models.OrderTypeLimit, models.OrderTypeStopLimit, models.OrderTypeLimitIfTouched:
		if p.Price == nil {
			return nil, &ValidationError{Field: "price", Reason: p.Type.String() + " order requires price"}
		}
	}
	switch p.Type {
	case models.OrderTypeStopMarket, models.OrderTypeStopLimit,
		models.OrderTypeMarketIfTouched, models.OrderTypeLimitIfTouched:
		if p.TriggerPrice == nil {
			return nil, &ValidationError{Field: "trigger_price", Reason: p.Type.String() + " order requires trigger price"}
		}
	}
	if p.PostOnly && p.Type == models.OrderTypeMarket {
		return nil, &ValidationError{Field: "post_only", Reason: "not allowed for market orders"}
	}

	v := url.Values{}
	v.Set("symbol", p.Symbol)
	v.Set("side", side)
	v.Set("ordType", ordType)
	v.Set("orderQty", p.Quantity.AsDecimal().String())
	if p.Type != models.OrderTypeMarket {
		v.Set("timeInForce", tif)
	}
	if p.ClientOrderID != "" {
		v.Set("clOrdID", string(p.ClientOrderID))
	}
	if p.Price != nil {
		v.Set("price", p.Price.String())
	}
	if p.TriggerPrice != nil {
		v.Set("stopPx", p.TriggerPrice.String())
	}
	if p.DisplayQty != nil {
		v.Set("displayQty", p.DisplayQty.AsDecimal().String())
	}

	var inst []string
	if p.PostOnly {
		inst = append(inst, "ParticipateDoNotInitiate")
	}
	if p.ReduceOnly {
		inst = append(inst, "ReduceOnly")
	}
	if len(inst) > 0 {
		v.Set("execInst", strings.Join(inst, ","))
	}
	if ct := bitmexContingencyType(p.Contingency); ct != "" {
		v.Set("contingencyType", ct)
	}
	if p.OrderListID != "" {
		v.Set("clOrdLinkID", string(p.OrderListID))
	}
	if p.Text != "" {
		v.Set("text", p.Text)
	}
	return v, nil
}

// SubmitOrder отправляет ордер
func (c *BitmexClient) SubmitOrder(ctx context.Context, p SubmitOrderParams) (models.OrderStatusReport, error) {
	form, err := p.form()
	if err != nil {
		return models.OrderStatusReport{}, err
	}
	resp, err := c.send(ctx, http.MethodPost, "/order", form)
	if err != nil {
		return models.OrderStatusReport{}, err
	}
	r, err := c.singleReport(resp)
	if err == nil {
		c.logger.Info("Order submitted",
			utils.OrderID(string(r.ClientOrderID)),
			utils.String("venue_order_id", string(r.VenueOrderID)),
			utils.State(r.Status.String()),
		)
	}
	return r, err
}

// AmendOrderParams - изменение ордера по venue или client id
type AmendOrderParams struct {
	VenueOrderID  models.VenueOrderID
	ClientOrderID models.ClientOrderID
	Quantity      *models.Quantity
	Price         *models.Price
	TriggerPrice  *models.Price
}

// AmendOrder изменяет количество и цены ордера
func (c *BitmexClient) AmendOrder(ctx context.Context, p AmendOrderParams) (models.OrderStatusReport, error) {
	v := url.Values{}
	switch {
	case p.VenueOrderID != "":
		v.Set("orderID", string(p.VenueOrderID))
	case p.ClientOrderID != "":
		v.Set("origClOrdID", string(p.ClientOrderID))
	default:
		return models.OrderStatusReport{}, &ValidationError{Field: "order_id", Reason: "venue or client order id required"}
	}
	if p.Quantity == nil && p.Price == nil && p.TriggerPrice == nil {
		return models.OrderStatusReport{}, &ValidationError{Field: "amend", Reason: "nothing to amend"}
	}
	if p.Quantity != nil {
		v.Set("orderQty", p.Quantity.AsDecimal().String())
	}
	if p.Price != nil {
		v.Set("price", p.Price.String())
	}
	if p.TriggerPrice != nil {
		v.Set("stopPx", p.TriggerPrice.String())
	}

	resp, err := c.send(ctx, http.MethodPut, "/order", v)
	if err != nil {
		return models.OrderStatusReport{}, err
	}
	return c.singleReport(resp)
}

// CancelOrders отменяет ордера по venue и/или client id
func (c *BitmexClient) CancelOrders(ctx context.Context, venueIDs []models.VenueOrderID,
	clientIDs []models.ClientOrderID) ([]models.OrderStatusReport, error) {
	if len(venueIDs) == 0 && len(clientIDs) == 0 {
		return nil, &ValidationError{Field: "order_id", Reason: "at least one order id required"}
	}
	v := url.Values{}
	if len(venueIDs) > 0 {
		ids := make([]string, len(venueIDs))
		for i, id := range venueIDs {
			ids[i] = string(id)
		}
		v.Set("orderID", strings.Join(ids, ","))
	}
	if len(clientIDs) > 0 {
		ids := make([]string, len(clientIDs))
		for i, id := range clientIDs {
			ids[i] = string(id)
		}
		v.Set("clOrdID", strings.Join(ids, ","))
	}

	resp, err := c.send(ctx, http.MethodDelete, "/order", v)
	if err != nil {
		return nil, err
	}
	return c.orderReports(resp)
}

// CancelAllOrders отменяет все ордера (по символу, если задан)
func (c *BitmexClient) CancelAllOrders(ctx context.Context, symbol string) ([]models.OrderStatusReport, error) {
	v := url.Values{}
	if symbol != "" {
		v.Set("symbol", symbol)
	}
	resp, err := c.send(ctx, http.MethodDelete, "/order/all", v)
	if err != nil {
		return nil, err
	}
	return c.orderReports(resp)
}

// QueryOrder - отчёт по одному ордеру; nil, если площадка его не знает
func (c *BitmexClient) QueryOrder(ctx context.Context, venueID models.VenueOrderID,
	clientID models.ClientOrderID) (*models.OrderStatusReport, error) {
	var filter string
	switch {
	case venueID != "":
		filter = `{"orderID":"` + string(venueID) + `"}`
	case clientID != "":
		filter = `{"clOrdID":"` + string(clientID) + `"}`
	default:
		return nil, &ValidationError{Field: "order_id", Reason: "venue or client order id required"}
	}

	resp, err := c.get(ctx, "/order", url.Values{"filter": {filter}}, true)
	if err != nil {
		return nil, err
	}
	reports, err := c.orderReports(resp)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

// UpdateLeverage меняет плечо позиции (0 - кросс-маржа)
func (c *BitmexClient) UpdateLeverage(ctx context.Context, symbol string, leverage float64) (models.PositionStatusReport, error) {
	if symbol == "" {
		return models.PositionStatusReport{}, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if leverage < 0 || leverage > 100 {
		return models.PositionStatusReport{}, &ValidationError{Field: "leverage", Reason: "must be within [0, 100]"}
	}
	v := url.Values{}
	v.Set("symbol", symbol)
	v.Set("leverage", strconv.FormatFloat(leverage, 'f', -1, 64))

	resp, err := c.send(ctx, http.MethodPost, "/position/leverage", v)
	if err != nil {
		return models.PositionStatusReport{}, err
	}
	p, err := decodeResponse[bitmexPosition](resp)
	if err != nil {
		return models.PositionStatusReport{}, err
	}
	return parsePositionReport(p, models.NanosNow()), nil
}

package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

// BitmexVenue - площадка инструментов BitMEX
const BitmexVenue = "BITMEX"

// ============================================================
// JSON модели REST ответов
// ============================================================

type bitmexOrder struct {
	OrderID         string     `json:"orderID"`
	ClOrdID         string     `json:"clOrdID"`
	ClOrdLinkID     string     `json:"clOrdLinkID"`
	Account         int64      `json:"account"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	OrderQty        *int64     `json:"orderQty"`
	Price           *float64   `json:"price"`
	StopPx          *float64   `json:"stopPx"`
	OrdType         string     `json:"ordType"`
	TimeInForce     string     `json:"timeInForce"`
	ExecInst        string     `json:"execInst"`
	ContingencyType string     `json:"contingencyType"`
	OrdStatus       string     `json:"ordStatus"`
	OrdRejReason    string     `json:"ordRejReason"`
	LeavesQty       *int64     `json:"leavesQty"`
	CumQty          *int64     `json:"cumQty"`
	AvgPx           *float64   `json:"avgPx"`
	Text            string     `json:"text"`
	TransactTime    *time.Time `json:"transactTime"`
	Timestamp       *time.Time `json:"timestamp"`
}

type bitmexExecution struct {
	ExecID           string     `json:"execID"`
	OrderID          string     `json:"orderID"`
	ClOrdID          string     `json:"clOrdID"`
	Account          int64      `json:"account"`
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"`
	LastQty          *int64     `json:"lastQty"`
	LastPx           *float64   `json:"lastPx"`
	ExecType         string     `json:"execType"`
	ExecComm         *int64     `json:"execComm"`
	SettlCurrency    string     `json:"settlCurrency"`
	LastLiquidityInd string     `json:"lastLiquidityInd"`
	TrdMatchID       string     `json:"trdMatchID"`
	TransactTime     *time.Time `json:"transactTime"`
}

type bitmexPosition struct {
	Account       int64      `json:"account"`
	Symbol        string     `json:"symbol"`
	CurrentQty    *int64     `json:"currentQty"`
	AvgEntryPrice *float64   `json:"avgEntryPrice"`
	Leverage      *float64   `json:"leverage"`
	Timestamp     *time.Time `json:"timestamp"`
}

type bitmexWallet struct {
	Account   int64      `json:"account"`
	Currency  string     `json:"currency"`
	Amount    int64      `json:"amount"`
	Timestamp *time.Time `json:"timestamp"`
}

type bitmexMargin struct {
	Account            int64      `json:"account"`
	Currency           string     `json:"currency"`
	WalletBalance      *int64     `json:"walletBalance"`
	MarginBalance      *int64     `json:"marginBalance"`
	AvailableMargin    *int64     `json:"availableMargin"`
	WithdrawableMargin *int64     `json:"withdrawableMargin"`
	InitMargin         *int64     `json:"initMargin"`
	MaintMargin        *int64     `json:"maintMargin"`
	Timestamp          *time.Time `json:"timestamp"`
}

type bitmexInstrument struct {
	Symbol        string     `json:"symbol"`
	RootSymbol    string     `json:"rootSymbol"`
	State         string     `json:"state"`
	Typ           string     `json:"typ"`
	Underlying    string     `json:"underlying"`
	QuoteCurrency string     `json:"quoteCurrency"`
	SettlCurrency string     `json:"settlCurrency"`
	TickSize      *float64   `json:"tickSize"`
	LotSize       *float64   `json:"lotSize"`
	Multiplier    *float64   `json:"multiplier"`
	IsInverse     bool       `json:"isInverse"`
	InitMargin    *float64   `json:"initMargin"`
	MaintMargin   *float64   `json:"maintMargin"`
	MakerFee      *float64   `json:"makerFee"`
	TakerFee      *float64   `json:"takerFee"`
	MaxOrderQty   *float64   `json:"maxOrderQty"`
	MaxPrice      *float64   `json:"maxPrice"`
	Expiry        *time.Time `json:"expiry"`
	Listing       *time.Time `json:"listing"`
	Timestamp     *time.Time `json:"timestamp"`
}

// ============================================================
// Перечисления BitMEX
// ============================================================

var bitmexOrderTypes = map[string]models.OrderType{
	"Market":          models.OrderTypeMarket,
	"Limit":           models.OrderTypeLimit,
	"Stop":            models.OrderTypeStopMarket,
	"StopLimit":       models.OrderTypeStopLimit,
	"MarketIfTouched": models.OrderTypeMarketIfTouched,
	"LimitIfTouched":  models.OrderTypeLimitIfTouched,
	"Pegged":          models.OrderTypeLimit,
}

var bitmexTimeInForce = map[string]models.TimeInForce{
	"Day":               models.TimeInForceDay,
	"GoodTillCancel":    models.TimeInForceGTC,
	"ImmediateOrCancel": models.TimeInForceIOC,
	"FillOrKill":        models.TimeInForceFOK,
	"AtTheClose":        models.TimeInForceAtTheClose,
}

var bitmexOrderStatus = map[string]models.OrderStatus{
	"New":             models.OrderStatusAccepted,
	"PendingNew":      models.OrderStatusSubmitted,
	"PartiallyFilled": models.OrderStatusPartiallyFilled,
	"Filled":          models.OrderStatusFilled,
	"Canceled":        models.OrderStatusCanceled,
	"PendingCancel":   models.OrderStatusPendingCancel,
	"Rejected":        models.OrderStatusRejected,
	"Expired":         models.OrderStatusExpired,
	"Stopped":         models.OrderStatusTriggered,
	"Untriggered":     models.OrderStatusAccepted,
	"Triggered":       models.OrderStatusTriggered,
}

var bitmexContingency = map[string]models.ContingencyType{
	"OneCancelsTheOther":             models.ContingencyOCO,
	"OneTriggersTheOther":            models.ContingencyOTO,
	"OneUpdatesTheOtherAbsolute":     models.ContingencyOUO,
	"OneUpdatesTheOtherProportional": models.ContingencyOUO,
}

func parseBitmexSide(s string) models.OrderSide {
	switch s {
	case "Buy":
		return models.OrderSideBuy
	case "Sell":
		return models.OrderSideSell
	}
	return models.NoOrderSide
}

func bitmexSide(s models.OrderSide) (string, error) {
	switch s {
	case models.OrderSideBuy:
		return "Buy", nil
	case models.OrderSideSell:
		return "Sell", nil
	}
	return "", &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
}

func bitmexOrdType(t models.OrderType) (string, error) {
	switch t {
	case models.OrderTypeMarket:
		return "Market", nil
	case models.OrderTypeLimit:
		return "Limit", nil
	case models.OrderTypeStopMarket:
		return "Stop", nil
	case models.OrderTypeStopLimit:
		return "StopLimit", nil
	case models.OrderTypeMarketIfTouched:
		return "MarketIfTouched", nil
	case models.OrderTypeLimitIfTouched:
		return "LimitIfTouched", nil
	}
	return "", &ValidationError{Field: "order_type", Reason: fmt.Sprintf("%s not supported by BitMEX", t)}
}

func bitmexTIF(t models.TimeInForce) (string, error) {
	switch t {
	case 0, models.TimeInForceGTC:
		return "GoodTillCancel", nil
	case models.TimeInForceIOC:
		return "ImmediateOrCancel", nil
	case models.TimeInForceFOK:
		return "FillOrKill", nil
	case models.TimeInForceDay:
		return "Day", nil
	case models.TimeInForceAtTheClose:
		return "AtTheClose", nil
	}
	return "", &ValidationError{Field: "time_in_force", Reason: fmt.Sprintf("%s not supported by BitMEX", t)}
}

func bitmexContingencyType(c models.ContingencyType) string {
	switch c {
	case models.ContingencyOCO:
		return "OneCancelsTheOther"
	case models.ContingencyOTO:
		return "OneTriggersTheOther"
	case models.ContingencyOUO:
		return "OneUpdatesTheOtherAbsolute"
	}
	return ""
}

// ============================================================
// Преобразование в модели
// ============================================================

// mapBitmexCurrency - коды валют BitMEX в общие коды
func mapBitmexCurrency(code string) string {
	switch code {
	case "XBt":
		return "XBT"
	case "USDt", "LAMp":
		return "USDT"
	case "RLUSd":
		return "RLUSD"
	case "MAMUSd":
		return "MAMUSD"
	}
	return strings.ToUpper(code)
}

// currencyDivisor - BitMEX отдаёт суммы в сатоши (XBt) и микроединицах (USDt)
func currencyDivisor(code string) decimal.Decimal {
	switch code {
	case "XBt":
		return decimal.New(1, 8)
	case "USDt", "LAMp":
		return decimal.New(1, 6)
	}
	return decimal.New(1, 0)
}

func bitmexAmount(v int64, code string, c models.Currency) models.Money {
	return models.MoneyFromDecimal(decimal.New(v, 0).Div(currencyDivisor(code)), c)
}

// floatPrecision - число знаков после точки в кратчайшей записи v
func floatPrecision(v float64) uint8 {
	exp := decimal.NewFromFloat(v).Exponent()
	if exp >= 0 {
		return 0
	}
	if -exp > models.FixedPrecision {
		return models.FixedPrecision
	}
	return uint8(-exp)
}

func contracts(v int64) models.Quantity {
	if v < 0 {
		v = -v
	}
	return models.QuantityFromRaw(uint64(v)*models.FixedScalar, 0)
}

func nanosOf(t *time.Time) models.UnixNanos {
	if t == nil {
		return 0
	}
	return models.NanosFromTime(*t)
}

func bitmexAccountID(account int64) models.AccountID {
	return models.NewAccountID(BitmexVenue, strconv.FormatInt(account, 10))
}

func bitmexInstrumentID(symbol string) models.InstrumentID {
	return models.NewInstrumentID(symbol, BitmexVenue)
}

// parseOrderStatusReport - отчёт по ордеру BitMEX
func parseOrderStatusReport(o bitmexOrder, pricePrecision uint8, tsInit models.UnixNanos) (models.OrderStatusReport, error) {
	if o.Symbol == "" {
		return models.OrderStatusReport{}, fmt.Errorf("order %s without symbol", o.OrderID)
	}
	ordType, ok := bitmexOrderTypes[o.OrdType]
	if !ok {
		return models.OrderStatusReport{}, fmt.Errorf("order %s: unknown ordType %q", o.OrderID, o.OrdType)
	}
	status, ok := bitmexOrderStatus[o.OrdStatus]
	if !ok {
		return models.OrderStatusReport{}, fmt.Errorf("order %s: unknown ordStatus %q", o.OrderID, o.OrdStatus)
	}
	tif, ok := bitmexTimeInForce[o.TimeInForce]
	if !ok {
		tif = models.TimeInForceGTC
	}

	r := models.OrderStatusReport{
		ReportID:      models.NewEventID(),
		AccountID:     bitmexAccountID(o.Account),
		InstrumentID:  bitmexInstrumentID(o.Symbol),
		ClientOrderID: models.ClientOrderID(o.ClOrdID),
		VenueOrderID:  models.VenueOrderID(o.OrderID),
		OrderListID:   models.OrderListID(o.ClOrdLinkID),
		Side:          parseBitmexSide(o.Side),
		Type:          ordType,
		TimeInForce:   tif,
		Status:        status,
		Contingency:   bitmexContingency[o.ContingencyType],
		FilledQty:     models.QuantityZero(0),
		TsAccepted:    nanosOf(o.TransactTime),
		TsLast:        nanosOf(o.Timestamp),
		TsInit:        tsInit,
	}
	if o.OrderQty != nil {
		r.Quantity = contracts(*o.OrderQty)
	}
	if o.CumQty != nil {
		r.FilledQty = contracts(*o.CumQty)
	}
	if o.Price != nil {
		p := models.NewPrice(*o.Price, pricePrecision)
		r.Price = &p
	}
	if o.StopPx != nil {
		p := models.NewPrice(*o.StopPx, pricePrecision)
		r.TriggerPrice = &p
	}
	if o.AvgPx != nil {
		avg := decimal.NewFromFloat(*o.AvgPx)
		r.AvgPx = &avg
	}
	for _, inst := range strings.Split(o.ExecInst, ",") {
		switch strings.TrimSpace(inst) {
		case "ParticipateDoNotInitiate":
			r.PostOnly = true
		case "ReduceOnly", "Close":
			r.ReduceOnly = true
		}
	}
	switch status {
	case models.OrderStatusRejected:
		r.CancelReason = strings.TrimSpace(o.OrdRejReason)
	case models.OrderStatusCanceled:
		r.CancelReason = strings.TrimSpace(o.Text)
	}
	return r, nil
}

// parseFillReport - отчёт по исполнению; не-торговые записи (фандинг и т.п.) пропускаются
func parseFillReport(e bitmexExecution, pricePrecision uint8, tsInit models.UnixNanos) (*models.FillReport, error) {
	if e.ExecType != "" && e.ExecType != "Trade" {
		return nil, nil
	}
	if e.TrdMatchID == "" || e.LastQty == nil || e.LastPx == nil {
		return nil, fmt.Errorf("execution %s: missing trade fields", e.ExecID)
	}

	settl := e.SettlCurrency
	if settl == "" {
		settl = "XBt"
	}
	currency := models.CurrencyOrCrypto(mapBitmexCurrency(settl))
	commission := models.MoneyZero(currency)
	if e.ExecComm != nil {
		commission = bitmexAmount(*e.ExecComm, settl, currency)
	}

	liquidity := models.NoLiquiditySide
	switch e.LastLiquidityInd {
	case "AddedLiquidity":
		liquidity = models.LiquidityMaker
	case "RemovedLiquidity":
		liquidity = models.LiquidityTaker
	}

	return &models.FillReport{
		ReportID:      models.NewEventID(),
		AccountID:     bitmexAccountID(e.Account),
		InstrumentID:  bitmexInstrumentID(e.Symbol),
		VenueOrderID:  models.VenueOrderID(e.OrderID),
		ClientOrderID: models.ClientOrderID(e.ClOrdID),
		TradeID:       models.TradeID(e.TrdMatchID),
		Side:          parseBitmexSide(e.Side),
		LastQty:       contracts(*e.LastQty),
		LastPx:        models.NewPrice(*e.LastPx, pricePrecision),
		Commission:    commission,
		LiquiditySide: liquidity,
		TsEvent:       nanosOf(e.TransactTime),
		TsInit:        tsInit,
	}, nil
}

func parsePositionReport(p bitmexPosition, tsInit models.UnixNanos) models.PositionStatusReport {
	r := models.PositionStatusReport{
		ReportID:     models.NewEventID(),
		AccountID:    bitmexAccountID(p.Account),
		InstrumentID: bitmexInstrumentID(p.Symbol),
		Side:         models.PositionSideFlat,
		Quantity:     models.QuantityZero(0),
		TsLast:       nanosOf(p.Timestamp),
		TsInit:       tsInit,
	}
	if p.CurrentQty != nil {
		switch {
		case *p.CurrentQty > 0:
			r.Side = models.PositionSideLong
		case *p.CurrentQty < 0:
			r.Side = models.PositionSideShort
		}
		r.Quantity = contracts(*p.CurrentQty)
	}
	if p.AvgEntryPrice != nil {
		avg := decimal.NewFromFloat(*p.AvgEntryPrice)
		r.AvgPxOpen = &avg
	}
	if p.Leverage != nil {
		lev := decimal.NewFromFloat(*p.Leverage)
		r.Leverage = &lev
	}
	return r
}

// parseMarginBalance - баланс по сообщению маржи.
// Free берётся из withdrawable, затем available (не больше total), иначе total - init.
func parseMarginBalance(m bitmexMargin) models.AccountBalance {
	currency := models.CurrencyOrCrypto(mapBitmexCurrency(m.Currency))
	amount := func(v int64) models.Money { return bitmexAmount(v, m.Currency, currency) }

	total := models.MoneyZero(currency)
	switch {
	case m.WalletBalance != nil:
		total = amount(*m.WalletBalance)
	case m.MarginBalance != nil:
		total = amount(*m.MarginBalance)
	case m.AvailableMargin != nil:
		total = amount(*m.AvailableMargin)
	}

	var free models.Money
	switch {
	case m.WithdrawableMargin != nil:
		free = amount(*m.WithdrawableMargin)
	case m.AvailableMargin != nil:
		free = amount(*m.AvailableMargin)
		if free.Raw > total.Raw {
			free = total
		}
	default:
		free = total
		if m.InitMargin != nil {
			free.Raw -= amount(*m.InitMargin).Raw
		}
		if free.Raw < 0 {
			free.Raw = 0
		}
	}

	locked := models.Money{Raw: total.Raw - free.Raw, Currency: currency}
	return models.AccountBalance{Total: total, Locked: locked, Free: free}
}

// parseInstrument - инструмент BitMEX; неподдерживаемые типы дают nil без ошибки
func parseInstrument(b bitmexInstrument, tsInit models.UnixNanos) (*models.Instrument, error) {
	if b.TickSize == nil || *b.TickSize <= 0 {
		return nil, fmt.Errorf("instrument %s: missing tickSize", b.Symbol)
	}

	id := bitmexInstrumentID(b.Symbol)
	base := models.CurrencyOrCrypto(mapBitmexCurrency(b.Underlying))
	quote := models.CurrencyOrCrypto(mapBitmexCurrency(b.QuoteCurrency))
	pricePrecision := floatPrecision(*b.TickSize)

	var sizePrecision uint8
	lot := 1.0
	if b.LotSize != nil && *b.LotSize > 0 {
		lot = *b.LotSize
		sizePrecision = floatPrecision(lot)
	}

	var inst *models.Instrument
	switch b.Typ {
	case "FFWCSX", "FFWCSF":
		inst = models.NewCryptoPerpetual(id, base, quote, b.IsInverse, pricePrecision, sizePrecision)
	case "FFCCSX":
		inst = models.NewCryptoPerpetual(id, base, quote, b.IsInverse, pricePrecision, sizePrecision)
		inst.Kind = models.InstrumentCryptoFuture
		inst.InstrumentClass = models.InstrumentClassFuture
		inst.Activation = nanosOf(b.Listing)
		inst.Expiration = nanosOf(b.Expiry)
	case "IFXXXP":
		inst = models.NewCurrencyPair(id, base, quote, pricePrecision, sizePrecision)
		inst.AssetClass = models.AssetClassCryptocurrency
	default:
		return nil, nil
	}

	if b.SettlCurrency != "" {
		inst.SettlementCurrency = models.CurrencyOrCrypto(mapBitmexCurrency(b.SettlCurrency))
	}
	inst.RawSymbol = models.Symbol(b.Symbol)
	inst.Underlying = b.RootSymbol
	inst.PriceIncrement = models.PriceFromDecimal(decimal.NewFromFloat(*b.TickSize), pricePrecision)
	if inc, err := models.QuantityFromDecimal(decimal.NewFromFloat(lot), sizePrecision); err == nil {
		inst.SizeIncrement = inc
		inst.LotSize = &inc
	}
	if b.MaxOrderQty != nil && *b.MaxOrderQty > 0 {
		if q, err := models.QuantityFromDecimal(decimal.NewFromFloat(*b.MaxOrderQty), sizePrecision); err == nil {
			inst.MaxQuantity = &q
		}
	}
	if b.MaxPrice != nil && *b.MaxPrice > 0 {
		p := models.NewPrice(*b.MaxPrice, pricePrecision)
		inst.MaxPrice = &p
	}
	setDecimal := func(dst *decimal.Decimal, v *float64) {
		if v != nil {
			*dst = decimal.NewFromFloat(*v)
		}
	}
	setDecimal(&inst.MarginInit, b.InitMargin)
	setDecimal(&inst.MarginMaint, b.MaintMargin)
	setDecimal(&inst.MakerFee, b.MakerFee)
	setDecimal(&inst.TakerFee, b.TakerFee)

	inst.TsEvent = nanosOf(b.Timestamp)
	inst.TsInit = tsInit
	return inst, nil
}

package dbn

import (
	"fmt"
	"strconv"
	"time"

	"tradecore/internal/codec"
	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

// Сдвиг ts_event от открытия к закрытию бара
const (
	barCloseAdjustment1S = uint64(time.Second)
	barCloseAdjustment1M = uint64(time.Minute)
	barCloseAdjustment1H = uint64(time.Hour)
	barCloseAdjustment1D = uint64(24 * time.Hour)
)

// ============================================================
// Field parsers
// ============================================================

func parseOptionalBool(c byte) *bool {
	var v bool
	switch c {
	case 'Y':
		v = true
	case 'N':
		v = false
	default:
		return nil
	}
	return &v
}

// ParseOrderSide: A - продажа, B - покупка, прочее - NoOrderSide
func ParseOrderSide(c byte) models.OrderSide {
	switch c {
	case 'A':
		return models.OrderSideSell
	case 'B':
		return models.OrderSideBuy
	}
	return models.NoOrderSide
}

func ParseAggressorSide(c byte) models.AggressorSide {
	switch c {
	case 'A':
		return models.AggressorSeller
	case 'B':
		return models.AggressorBuyer
	}
	return models.NoAggressor
}

// ParseBookAction: A - add, C - delete, F/M - update, R - clear
func ParseBookAction(c byte) (models.BookAction, error) {
	switch c {
	case 'A':
		return models.BookActionAdd, nil
	case 'C':
		return models.BookActionDelete, nil
	case 'F', 'M':
		return models.BookActionUpdate, nil
	case 'R':
		return models.BookActionClear, nil
	}
	return 0, fmt.Errorf("%w: book action %q", codec.ErrInvalidFormat, c)
}

// checkTopAction: кроме действий книги допустимы T - сделка и N - без действия
func checkTopAction(c byte) error {
	if c == 'T' || c == 'N' {
		return nil
	}
	_, err := ParseBookAction(c)
	return err
}

func parseOptionKind(c byte) (models.OptionKind, error) {
	switch c {
	case 'C':
		return models.OptionKindCall, nil
	case 'P':
		return models.OptionKindPut, nil
	}
	return 0, fmt.Errorf("%w: option kind %q", codec.ErrInvalidFormat, c)
}

// currencyOrUSD - пустая или неизвестная валюта трактуется как USD
func currencyOrUSD(code string) models.Currency {
	if code == "" {
		return models.USD
	}
	c, err := models.CurrencyFromCode(code)
	if err != nil {
		utils.L().WithComponent("dbn").Warn("unknown currency, using USD", utils.String("code", code))
		return models.USD
	}
	return c
}

// ParseCFI разбирает первые три символа кода CFI (ISO 10962):
// категория E - акции, D - долг; атрибут I - индекс; группа I - фьючерс
func ParseCFI(cfi string) (models.AssetClass, models.InstrumentClass, error) {
	if len(cfi) < 3 {
		return 0, 0, fmt.Errorf("%w: CFI %q too short", codec.ErrInvalidFormat, cfi)
	}

	var asset models.AssetClass
	switch cfi[0] {
	case 'D':
		asset = models.AssetClassDebt
	case 'E':
		asset = models.AssetClassEquity
	}

	var class models.InstrumentClass
	if cfi[1] == 'I' {
		class = models.InstrumentClassFuture
	}
	if cfi[2] == 'I' {
		asset = models.AssetClassIndex
	}
	return asset, class, nil
}

var statusReasons = map[uint16]string{
	1:   "Scheduled",
	2:   "Surveillance intervention",
	3:   "Market event",
	4:   "Instrument activation",
	5:   "Instrument expiration",
	6:   "Recovery in process",
	10:  "Regulatory",
	11:  "Administrative",
	12:  "Non-compliance",
	13:  "Filings not current",
	14:  "SEC trading suspension",
	15:  "New issue",
	16:  "Issue available",
	17:  "Issues reviewed",
	18:  "Filing requirements satisfied",
	30:  "News pending",
	31:  "News released",
	32:  "News and resumption times",
	33:  "News not forthcoming",
	40:  "Order imbalance",
	50:  "LULD pause",
	60:  "Operational",
	70:  "Additional information requested",
	80:  "Merger effective",
	90:  "ETF",
	100: "Corporate action",
	110: "New Security offering",
	120: "Market wide halt level 1",
	121: "Market wide halt level 2",
	122: "Market wide halt level 3",
	123: "Market wide halt carryover",
	124: "Market wide halt resumption",
	130: "Quotation not available",
}

var tradingEvents = map[uint16]string{
	1: "No cancel",
	2: "Change trading session",
	3: "Implied matching on",
	4: "Implied matching off",
}

// ParseStatusReason - текст причины статуса; 0 - причины нет
func ParseStatusReason(v uint16) (string, error) {
	if v == 0 {
		return "", nil
	}
	s, ok := statusReasons[v]
	if !ok {
		return "", fmt.Errorf("%w: status reason %d", codec.ErrInvalidFormat, v)
	}
	return s, nil
}

func ParseTradingEvent(v uint16) (string, error) {
	if v == 0 {
		return "", nil
	}
	s, ok := tradingEvents[v]
	if !ok {
		return "", fmt.Errorf("%w: trading event %d", codec.ErrInvalidFormat, v)
	}
	return s, nil
}

// ============================================================
// Value decoders
// ============================================================

// DecodePrice - цена в единицах 1e-9; UNDEF сохраняется как PriceUndef
func DecodePrice(v int64, precision uint8) models.Price {
	return models.PriceFromRaw(v, precision)
}

// DecodeQuantity - целое количество
func DecodeQuantity(v uint64) models.Quantity {
	return models.QuantityFromRaw(v*models.FixedScalar, 0)
}

func decodeOptionalPrice(v int64, precision uint8) *models.Price {
	if v == UndefPrice {
		return nil
	}
	p := DecodePrice(v, precision)
	return &p
}

func decodeOptionalQuantity(v int32) *models.Quantity {
	if v == int32(^uint32(0)>>1) || v < 0 {
		return nil
	}
	q := DecodeQuantity(uint64(v))
	return &q
}

// DecodePriceIncrement - шаг цены; 0 и UNDEF означают 10^-precision
func DecodePriceIncrement(v int64, precision uint8) models.Price {
	if v == 0 || v == UndefPrice {
		return models.PriceFromRaw(pow10(models.FixedPrecision-int(precision)), precision)
	}
	if d := codec.RawDigits(v); d > precision {
		precision = d
	}
	return DecodePrice(v, precision)
}

// DecodeMultiplier - множитель в единицах 1e-9, без плавающей точки.
// Масштаб совпадает с внутренним, поэтому raw переносится как есть.
func DecodeMultiplier(v int64) models.Quantity {
	if v <= 0 || v == UndefPrice {
		return models.QuantityFromRaw(models.FixedScalar, 0)
	}
	return models.QuantityFromRaw(uint64(v), codec.RawDigits(v))
}

func decodeLotSize(v int32) models.Quantity {
	if v <= 0 || v == int32(^uint32(0)>>1) {
		return models.QuantityFromRaw(models.FixedScalar, 0)
	}
	return DecodeQuantity(uint64(v))
}

func pow10(n int) int64 {
	v := int64(1)
	for ; n > 0; n-- {
		v *= 10
	}
	return v
}

// ============================================================
// Message decoders
// ============================================================

func tradeID(seq uint32) models.TradeID {
	return models.TradeID(strconv.FormatUint(uint64(seq), 10))
}

// DecodeMbo - дельта книги или сделка. Сделка (action T) выдаётся только
// при includeTrades и size > 0 и книгу не меняет. Сторона N передаётся
// как NoOrderSide: книга определит её по order_id.
func DecodeMbo(m *MboMsg, id models.InstrumentID, precision uint8, tsInit models.UnixNanos,
	includeTrades bool) (*models.OrderBookDelta, *models.TradeTick, error) {
	if m.Action == 'T' {
		if !includeTrades || m.Size == 0 {
			return nil, nil, nil
		}
		trade := models.TradeTick{
			InstrumentID:  id,
			Price:         DecodePrice(m.Price, precision),
			Size:          DecodeQuantity(uint64(m.Size)),
			AggressorSide: ParseAggressorSide(m.Side),
			TradeID:       tradeID(m.Sequence),
			TsEvent:       models.UnixNanos(m.TsRecv),
			TsInit:        tsInit,
		}
		return nil, &trade, nil
	}

	action, err := ParseBookAction(m.Action)
	if err != nil {
		return nil, nil, err
	}
	side := ParseOrderSide(m.Side)
	if action == models.BookActionClear {
		side = models.NoOrderSide
	}

	delta := models.OrderBookDelta{
		InstrumentID: id,
		Action:       action,
		Order: models.BookOrder{
			Side:    side,
			Price:   DecodePrice(m.Price, precision),
			Size:    DecodeQuantity(uint64(m.Size)),
			OrderID: m.OrderID,
		},
		Flags:    m.Flags,
		Sequence: uint64(m.Sequence),
		TsEvent:  models.UnixNanos(m.TsRecv),
		TsInit:   tsInit,
	}
	return &delta, nil, nil
}

func decodeTrade(m *TradeMsg, id models.InstrumentID, precision uint8, tsInit models.UnixNanos) models.TradeTick {
	return models.TradeTick{
		InstrumentID:  id,
		Price:         DecodePrice(m.Price, precision),
		Size:          DecodeQuantity(uint64(m.Size)),
		AggressorSide: ParseAggressorSide(m.Side),
		TradeID:       tradeID(m.Sequence),
		TsEvent:       models.UnixNanos(m.TsRecv),
		TsInit:        tsInit,
	}
}

func decodeTop(m *Mbp1Msg, id models.InstrumentID, precision uint8, tsInit models.UnixNanos) models.QuoteTick {
	return models.QuoteTick{
		InstrumentID: id,
		BidPrice:     DecodePrice(m.Level.BidPx, precision),
		AskPrice:     DecodePrice(m.Level.AskPx, precision),
		BidSize:      DecodeQuantity(uint64(m.Level.BidSz)),
		AskSize:      DecodeQuantity(uint64(m.Level.AskSz)),
		TsEvent:      models.UnixNanos(m.TsRecv),
		TsInit:       tsInit,
	}
}

func decodeMbp10(m *Mbp10Msg, id models.InstrumentID, precision uint8, tsInit models.UnixNanos) models.OrderBookDepth10 {
	depth := models.OrderBookDepth10{
		InstrumentID: id,
		Flags:        m.Flags,
		Sequence:     uint64(m.Sequence),
		TsEvent:      models.UnixNanos(m.TsRecv),
		TsInit:       tsInit,
	}
	for i, l := range m.Levels {
		depth.Bids[i] = models.BookOrder{
			Side:  models.OrderSideBuy,
			Price: DecodePrice(l.BidPx, precision),
			Size:  DecodeQuantity(uint64(l.BidSz)),
		}
		depth.Asks[i] = models.BookOrder{
			Side:  models.OrderSideSell,
			Price: DecodePrice(l.AskPx, precision),
			Size:  DecodeQuantity(uint64(l.AskSz)),
		}
		depth.BidCounts[i] = l.BidCt
		depth.AskCounts[i] = l.AskCt
	}
	return depth
}

// BarSpec возвращает спецификацию бара и сдвиг к закрытию для rtype OHLCV
func BarSpec(rt RType) (models.BarSpecification, uint64, error) {
	spec := models.BarSpecification{Step: 1, PriceType: models.PriceTypeLast}
	switch rt {
	case RTypeOhlcv1S:
		spec.Aggregation = models.BarAggregationSecond
		return spec, barCloseAdjustment1S, nil
	case RTypeOhlcv1M:
		spec.Aggregation = models.BarAggregationMinute
		return spec, barCloseAdjustment1M, nil
	case RTypeOhlcv1H:
		spec.Aggregation = models.BarAggregationHour
		return spec, barCloseAdjustment1H, nil
	case RTypeOhlcv1D:
		spec.Aggregation = models.BarAggregationDay
		return spec, barCloseAdjustment1D, nil
	case RTypeOhlcvEod:
		// EOD-бар уже помечен временем закрытия сессии
		spec.Aggregation = models.BarAggregationDay
		return spec, 0, nil
	}
	return spec, 0, fmt.Errorf("%w: rtype 0x%02X is not a bar aggregation", codec.ErrUnsupportedMessage, uint8(rt))
}

// DecodeOhlcv - бар. ts_init сдвигается к закрытию бара; при barsOnClose
// ts_event тоже указывает на закрытие.
func DecodeOhlcv(m *OhlcvMsg, id models.InstrumentID, precision uint8, tsInit models.UnixNanos,
	barsOnClose bool) (models.Bar, error) {
	spec, adj, err := BarSpec(m.RType)
	if err != nil {
		return models.Bar{}, err
	}

	tsEvent := models.UnixNanos(m.TsEvent)
	tsInit = max(tsInit, tsEvent) + models.UnixNanos(adj)
	if barsOnClose {
		tsEvent += models.UnixNanos(adj)
	}

	return models.Bar{
		BarType: models.BarType{
			InstrumentID: id,
			Spec:         spec,
			Source:       models.AggregationSourceExternal,
		},
		Open:    DecodePrice(m.Open, precision),
		High:    DecodePrice(m.High, precision),
		Low:     DecodePrice(m.Low, precision),
		Close:   DecodePrice(m.Close, precision),
		Volume:  DecodeQuantity(m.Volume),
		TsEvent: tsEvent,
		TsInit:  tsInit,
	}, nil
}

func DecodeStatus(m *StatusMsg, id models.InstrumentID, tsInit models.UnixNanos) (models.InstrumentStatus, error) {
	if m.Action > uint16(models.MarketStatusNotAvailableForTrading) {
		return models.InstrumentStatus{}, fmt.Errorf("%w: status action %d", codec.ErrInvalidFormat, m.Action)
	}
	reason, err := ParseStatusReason(m.Reason)
	if err != nil {
		return models.InstrumentStatus{}, err
	}
	event, err := ParseTradingEvent(m.TradingEvent)
	if err != nil {
		return models.InstrumentStatus{}, err
	}
	return models.InstrumentStatus{
		InstrumentID:          id,
		Action:                models.MarketStatusAction(m.Action),
		Reason:                reason,
		TradingEvent:          event,
		IsTrading:             parseOptionalBool(m.IsTrading),
		IsQuoting:             parseOptionalBool(m.IsQuoting),
		IsShortSellRestricted: parseOptionalBool(m.IsShortSellRestricted),
		TsEvent:               models.UnixNanos(m.TsEvent),
		TsInit:                tsInit,
	}, nil
}

func DecodeImbalance(m *ImbalanceMsg, id models.InstrumentID, precision uint8, tsInit models.UnixNanos) Imbalance {
	return Imbalance{
		InstrumentID:         id,
		RefPrice:             DecodePrice(m.RefPrice, precision),
		ContBookClrPrice:     DecodePrice(m.ContBookClrPrice, precision),
		AuctInterestClrPrice: DecodePrice(m.AuctInterestClrPrice, precision),
		PairedQty:            DecodeQuantity(uint64(m.PairedQty)),
		TotalImbalanceQty:    DecodeQuantity(uint64(m.TotalImbalanceQty)),
		Side:                 ParseOrderSide(m.Side),
		SignificantImbalance: m.SignificantImbalance,
		TsEvent:              models.UnixNanos(m.TsEvent),
		TsRecv:               models.UnixNanos(m.TsRecv),
		TsInit:               tsInit,
	}
}

func DecodeStatistics(m *StatMsg, id models.InstrumentID, precision uint8, tsInit models.UnixNanos) (Statistics, error) {
	if m.StatType == 0 || m.StatType > uint16(StatVwap) {
		return Statistics{}, fmt.Errorf("%w: stat type %d", codec.ErrInvalidFormat, m.StatType)
	}
	if m.UpdateAction != uint8(StatActionAdded) && m.UpdateAction != uint8(StatActionDeleted) {
		return Statistics{}, fmt.Errorf("%w: stat update action %d", codec.ErrInvalidFormat, m.UpdateAction)
	}
	return Statistics{
		InstrumentID: id,
		StatType:     StatisticType(m.StatType),
		UpdateAction: StatisticUpdateAction(m.UpdateAction),
		Price:        decodeOptionalPrice(m.Price, precision),
		Quantity:     decodeOptionalQuantity(m.Quantity),
		ChannelID:    m.ChannelID,
		StatFlags:    m.StatFlags,
		Sequence:     m.Sequence,
		TsRef:        models.UnixNanos(m.TsRef),
		TsInDelta:    m.TsInDelta,
		TsEvent:      models.UnixNanos(m.TsEvent),
		TsRecv:       models.UnixNanos(m.TsRecv),
		TsInit:       tsInit,
	}, nil
}

// ============================================================
// Instrument definitions
// ============================================================

// DecodeInstrumentDef - определение инструмента по instrument_class:
// K - акция, F - фьючерс, S - спред фьючерсов, C/P - опцион, T/M - спред опционов
func DecodeInstrumentDef(m *InstrumentDefMsg, id models.InstrumentID, tsInit models.UnixNanos) (*models.Instrument, error) {
	currency := currencyOrUSD(m.Currency)
	increment := DecodePriceIncrement(m.MinPriceIncrement, currency.Precision)

	inst := &models.Instrument{
		ID:                 id,
		RawSymbol:          models.Symbol(m.RawSymbol),
		QuoteCurrency:      currency,
		SettlementCurrency: currency,
		PricePrecision:     increment.Precision,
		PriceIncrement:     increment,
		SizeIncrement:      models.QuantityFromRaw(models.FixedScalar, 0),
		Multiplier:         DecodeMultiplier(m.UnitOfMeasureQty),
		Exchange:           m.Exchange,
		Activation:         models.UnixNanos(m.Activation),
		Expiration:         models.UnixNanos(m.Expiration),
		TsEvent:            models.UnixNanos(m.TsRecv),
		TsInit:             tsInit,
	}
	if inst.RawSymbol == "" {
		inst.RawSymbol = id.Symbol
	}
	lot := decodeLotSize(m.MinLotSizeRoundLot)
	inst.LotSize = &lot

	assetClass := func() (models.AssetClass, error) {
		if id.Venue == "OPRA" && (m.InstrumentClass == 'C' || m.InstrumentClass == 'P' ||
			m.InstrumentClass == 'T' || m.InstrumentClass == 'M') {
			return models.AssetClassEquity, nil
		}
		asset, _, err := ParseCFI(m.CFI)
		if err != nil {
			return 0, err
		}
		if asset == 0 {
			asset = models.AssetClassCommodity
		}
		return asset, nil
	}

	switch m.InstrumentClass {
	case 'K':
		inst.Kind = models.InstrumentEquity
		inst.AssetClass = models.AssetClassEquity
		inst.InstrumentClass = models.InstrumentClassSpot
		inst.Multiplier = models.QuantityFromRaw(models.FixedScalar, 0)
		return inst, nil
	case 'F':
		inst.Kind = models.InstrumentFuturesContract
		inst.InstrumentClass = models.InstrumentClassFuture
		inst.Underlying = m.Asset
	case 'S':
		inst.Kind = models.InstrumentFuturesSpread
		inst.InstrumentClass = models.InstrumentClassFuturesSpread
		inst.Underlying = m.Asset
		inst.StrategyType = m.SecSubType
	case 'C', 'P':
		kind, err := parseOptionKind(m.InstrumentClass)
		if err != nil {
			return nil, err
		}
		strikeCurrency := currencyOrUSD(m.StrikePriceCurrency)
		strike := DecodePrice(m.StrikePrice, strikeCurrency.Precision)
		inst.Kind = models.InstrumentOptionContract
		inst.InstrumentClass = models.InstrumentClassOption
		inst.OptionKind = kind
		inst.StrikePrice = &strike
		inst.Underlying = m.Underlying
	case 'T', 'M':
		inst.Kind = models.InstrumentOptionSpread
		inst.InstrumentClass = models.InstrumentClassOptionSpread
		inst.Underlying = m.Underlying
		inst.StrategyType = m.SecSubType
	case 'B':
		return nil, fmt.Errorf("%w: instrument class 'B' (bond)", codec.ErrUnsupportedMessage)
	case 'X':
		return nil, fmt.Errorf("%w: instrument class 'X' (FX spot)", codec.ErrUnsupportedMessage)
	default:
		return nil, fmt.Errorf("%w: instrument class %q", codec.ErrUnsupportedMessage, m.InstrumentClass)
	}

	asset, err := assetClass()
	if err != nil {
		return nil, err
	}
	inst.AssetClass = asset
	return inst, nil
}

// ============================================================
// Dispatch
// ============================================================

// DecodeRecord преобразует запись в одно или два события модели.
// tsInit == nil - используется время получения записи.
func DecodeRecord(rec Record, id models.InstrumentID, precision uint8, tsInit *models.UnixNanos,
	includeTrades, barsOnClose bool) (models.Data, models.Data, error) {
	initTime := func(recv uint64) models.UnixNanos {
		if tsInit != nil {
			return *tsInit
		}
		return models.UnixNanos(recv)
	}

	switch m := rec.(type) {
	case *MboMsg:
		delta, trade, err := DecodeMbo(m, id, precision, initTime(m.TsRecv), includeTrades)
		switch {
		case err != nil:
			return nil, nil, err
		case delta != nil:
			return *delta, nil, nil
		case trade != nil:
			return *trade, nil, nil
		}
		return nil, nil, nil

	case *TradeMsg:
		return decodeTrade(m, id, precision, initTime(m.TsRecv)), nil, nil

	case *TbboMsg:
		ts := initTime(m.TsRecv)
		return decodeTop(&m.Mbp1Msg, id, precision, ts), decodeTrade(&m.TradeMsg, id, precision, ts), nil

	case *Mbp1Msg:
		if err := checkTopAction(m.Action); err != nil {
			return nil, nil, err
		}
		ts := initTime(m.TsRecv)
		quote := decodeTop(m, id, precision, ts)
		switch m.RType {
		case RTypeMbp1, RTypeCmbp1:
			if includeTrades && m.Action == 'T' {
				return quote, decodeTrade(&m.TradeMsg, id, precision, ts), nil
			}
		case RTypeTcbbo:
			if m.Price != UndefPrice && m.Size > 0 {
				return quote, decodeTrade(&m.TradeMsg, id, precision, ts), nil
			}
		}
		return quote, nil, nil

	case *Mbp10Msg:
		return decodeMbp10(m, id, precision, initTime(m.TsRecv)), nil, nil

	case *OhlcvMsg:
		bar, err := DecodeOhlcv(m, id, precision, initTime(m.TsEvent), barsOnClose)
		if err != nil {
			return nil, nil, err
		}
		return bar, nil, nil

	case *StatusMsg:
		status, err := DecodeStatus(m, id, initTime(m.TsRecv))
		if err != nil {
			return nil, nil, err
		}
		return status, nil, nil

	case *ImbalanceMsg:
		return DecodeImbalance(m, id, precision, initTime(m.TsRecv)), nil, nil

	case *StatMsg:
		stat, err := DecodeStatistics(m, id, precision, initTime(m.TsRecv))
		if err != nil {
			return nil, nil, err
		}
		return stat, nil, nil

	case *InstrumentDefMsg:
		inst, err := DecodeInstrumentDef(m, id, initTime(m.TsRecv))
		if err != nil {
			return nil, nil, err
		}
		return inst, nil, nil
	}
	return nil, nil, fmt.Errorf("%w: record %T", codec.ErrUnsupportedMessage, rec)
}

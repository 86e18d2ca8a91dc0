package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Data - общее для всех рыночных событий.
// События - значения: после создания не изменяются.
type Data interface {
	Instrument() InstrumentID
	EventTime() UnixNanos
	InitTime() UnixNanos
}

// ============================================================
// Quotes / trades
// ============================================================

// QuoteTick - лучшие bid/ask
type QuoteTick struct {
	InstrumentID InstrumentID `json:"instrument_id"`
	BidPrice     Price        `json:"bid_price"`
	AskPrice     Price        `json:"ask_price"`
	BidSize      Quantity     `json:"bid_size"`
	AskSize      Quantity     `json:"ask_size"`
	TsEvent      UnixNanos    `json:"ts_event"`
	TsInit       UnixNanos    `json:"ts_init"`
}

func (q QuoteTick) Instrument() InstrumentID { return q.InstrumentID }
func (q QuoteTick) EventTime() UnixNanos     { return q.TsEvent }
func (q QuoteTick) InitTime() UnixNanos      { return q.TsInit }

// Price возвращает цену указанного типа (BID/ASK/MID)
func (q QuoteTick) Price(t PriceType) (Price, error) {
	switch t {
	case PriceTypeBid:
		return q.BidPrice, nil
	case PriceTypeAsk:
		return q.AskPrice, nil
	case PriceTypeMid:
		mid := q.BidPrice.AsDecimal().Add(q.AskPrice.AsDecimal()).Div(decimal.NewFromInt(2))
		return PriceFromDecimal(mid, q.BidPrice.Precision+1), nil
	}
	return Price{}, fmt.Errorf("invalid price type %s for quote", t)
}

// TradeTick - сделка на площадке
type TradeTick struct {
	InstrumentID  InstrumentID  `json:"instrument_id"`
	Price         Price         `json:"price"`
	Size          Quantity      `json:"size"`
	AggressorSide AggressorSide `json:"aggressor_side"`
	TradeID       TradeID       `json:"trade_id"`
	TsEvent       UnixNanos     `json:"ts_event"`
	TsInit        UnixNanos     `json:"ts_init"`
}

func (t TradeTick) Instrument() InstrumentID { return t.InstrumentID }
func (t TradeTick) EventTime() UnixNanos     { return t.TsEvent }
func (t TradeTick) InitTime() UnixNanos      { return t.TsInit }

// ============================================================
// Order book
// ============================================================

// BookOrder - заявка в книге
type BookOrder struct {
	Side    OrderSide `json:"side"`
	Price   Price     `json:"price"`
	Size    Quantity  `json:"size"`
	OrderID uint64    `json:"order_id"`
}

// NullOrder - пустой уровень книги
var NullOrder = BookOrder{Side: NoOrderSide}

type OrderBookDelta struct {
	InstrumentID InstrumentID `json:"instrument_id"`
	Action       BookAction   `json:"action"`
	Order        BookOrder    `json:"order"`
	Flags        uint8        `json:"flags"`
	Sequence     uint64       `json:"sequence"`
	TsEvent      UnixNanos    `json:"ts_event"`
	TsInit       UnixNanos    `json:"ts_init"`
}

func (d OrderBookDelta) Instrument() InstrumentID { return d.InstrumentID }
func (d OrderBookDelta) EventTime() UnixNanos     { return d.TsEvent }
func (d OrderBookDelta) InitTime() UnixNanos      { return d.TsInit }

// IsLast - последняя запись в пакете с общим ts_event
func (d OrderBookDelta) IsLast() bool { return d.Flags&FlagLast != 0 }

// NewClearDelta - дельта очистки книги
func NewClearDelta(id InstrumentID, sequence uint64, tsEvent, tsInit UnixNanos) OrderBookDelta {
	return OrderBookDelta{
		InstrumentID: id,
		Action:       BookActionClear,
		Order:        NullOrder,
		Sequence:     sequence,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

const DepthLevels = 10

// OrderBookDepth10 - снимок 10 уровней книги
type OrderBookDepth10 struct {
	InstrumentID InstrumentID           `json:"instrument_id"`
	Bids         [DepthLevels]BookOrder `json:"bids"`
	Asks         [DepthLevels]BookOrder `json:"asks"`
	BidCounts    [DepthLevels]uint32    `json:"bid_counts"`
	AskCounts    [DepthLevels]uint32    `json:"ask_counts"`
	Flags        uint8                  `json:"flags"`
	Sequence     uint64                 `json:"sequence"`
	TsEvent      UnixNanos              `json:"ts_event"`
	TsInit       UnixNanos              `json:"ts_init"`
}

func (d OrderBookDepth10) Instrument() InstrumentID { return d.InstrumentID }
func (d OrderBookDepth10) EventTime() UnixNanos     { return d.TsEvent }
func (d OrderBookDepth10) InitTime() UnixNanos      { return d.TsInit }

// ============================================================
// Bars
// ============================================================

type BarSpecification struct {
	Step        int            `json:"step"`
	Aggregation BarAggregation `json:"aggregation"`
	PriceType   PriceType      `json:"price_type"`
}

func (s BarSpecification) String() string {
	return fmt.Sprintf("%d-%s-%s", s.Step, s.Aggregation, s.PriceType)
}

// BarType - инструмент + спецификация + источник агрегации
type BarType struct {
	InstrumentID InstrumentID      `json:"instrument_id"`
	Spec         BarSpecification  `json:"spec"`
	Source       AggregationSource `json:"aggregation_source"`
}

func (t BarType) String() string {
	return fmt.Sprintf("%s-%s-%s", t.InstrumentID, t.Spec, t.Source)
}

// Bar - OHLCV
type Bar struct {
	BarType BarType   `json:"bar_type"`
	Open    Price     `json:"open"`
	High    Price     `json:"high"`
	Low     Price     `json:"low"`
	Close   Price     `json:"close"`
	Volume  Quantity  `json:"volume"`
	TsEvent UnixNanos `json:"ts_event"`
	TsInit  UnixNanos `json:"ts_init"`
}

func (b Bar) Instrument() InstrumentID { return b.BarType.InstrumentID }
func (b Bar) EventTime() UnixNanos     { return b.TsEvent }
func (b Bar) InitTime() UnixNanos      { return b.TsInit }

// ============================================================
// Прочие обновления
// ============================================================

type MarkPriceUpdate struct {
	InstrumentID InstrumentID `json:"instrument_id"`
	Value        Price        `json:"value"`
	TsEvent      UnixNanos    `json:"ts_event"`
	TsInit       UnixNanos    `json:"ts_init"`
}

func (m MarkPriceUpdate) Instrument() InstrumentID { return m.InstrumentID }
func (m MarkPriceUpdate) EventTime() UnixNanos     { return m.TsEvent }
func (m MarkPriceUpdate) InitTime() UnixNanos      { return m.TsInit }

// FundingRateUpdate - ставка финансирования бессрочного контракта
type FundingRateUpdate struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	Rate         decimal.Decimal `json:"rate"`
	NextFunding  *UnixNanos      `json:"next_funding_ns,omitempty"`
	TsEvent      UnixNanos       `json:"ts_event"`
	TsInit       UnixNanos       `json:"ts_init"`
}

func (f FundingRateUpdate) Instrument() InstrumentID { return f.InstrumentID }
func (f FundingRateUpdate) EventTime() UnixNanos     { return f.TsEvent }
func (f FundingRateUpdate) InitTime() UnixNanos      { return f.TsInit }

// InstrumentStatus - торговый статус инструмента
type InstrumentStatus struct {
	InstrumentID          InstrumentID       `json:"instrument_id"`
	Action                MarketStatusAction `json:"action"`
	Reason                string             `json:"reason,omitempty"`
	TradingEvent          string             `json:"trading_event,omitempty"`
	IsTrading             *bool              `json:"is_trading,omitempty"`
	IsQuoting             *bool              `json:"is_quoting,omitempty"`
	IsShortSellRestricted *bool              `json:"is_short_sell_restricted,omitempty"`
	TsEvent               UnixNanos          `json:"ts_event"`
	TsInit                UnixNanos          `json:"ts_init"`
}

func (s InstrumentStatus) Instrument() InstrumentID { return s.InstrumentID }
func (s InstrumentStatus) EventTime() UnixNanos     { return s.TsEvent }
func (s InstrumentStatus) InitTime() UnixNanos      { return s.TsInit }

package models

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
)

var ErrInvalidFill = errors.New("invalid fill for position")

// Position - позиция по инструменту, агрегирующая исполнения.
// Инварианты: Quantity = |SignedQty|; Side следует знаку SignedQty;
// PeakQty не меньше Quantity; TradeIDs без повторов.
type Position struct {
	ID             PositionID    `json:"position_id"`
	TraderID       TraderID      `json:"trader_id"`
	StrategyID     StrategyID    `json:"strategy_id"`
	InstrumentID   InstrumentID  `json:"instrument_id"`
	AccountID      AccountID     `json:"account_id"`
	OpeningOrderID ClientOrderID `json:"opening_order_id"`
	ClosingOrderID ClientOrderID `json:"closing_order_id,omitempty"`

	Entry     OrderSide    `json:"entry"`
	Side      PositionSide `json:"side"`
	SignedQty float64      `json:"signed_qty"`
	Quantity  Quantity     `json:"quantity"`
	PeakQty   Quantity     `json:"peak_qty"`
	BuyQty    Quantity     `json:"buy_qty"`
	SellQty   Quantity     `json:"sell_qty"`

	PricePrecision     uint8     `json:"price_precision"`
	SizePrecision      uint8     `json:"size_precision"`
	Multiplier         Quantity  `json:"multiplier"`
	IsInverse          bool      `json:"is_inverse"`
	BaseCurrency       *Currency `json:"base_currency,omitempty"`
	QuoteCurrency      Currency  `json:"quote_currency"`
	SettlementCurrency Currency  `json:"settlement_currency"`

	AvgPxOpen      float64          `json:"avg_px_open"`
	AvgPxClose     *float64         `json:"avg_px_close,omitempty"`
	RealizedReturn float64          `json:"realized_return"`
	RealizedPnL    *Money           `json:"realized_pnl,omitempty"`
	Commissions    map[string]Money `json:"commissions"`

	Events   []OrderEvent `json:"events"`
	TradeIDs []TradeID    `json:"trade_ids"`

	TsInit     UnixNanos  `json:"ts_init"`
	TsOpened   UnixNanos  `json:"ts_opened"`
	TsLast     UnixNanos  `json:"ts_last"`
	TsClosed   *UnixNanos `json:"ts_closed,omitempty"`
	DurationNs uint64     `json:"duration_ns"`
}

// NewPosition открывает позицию первым исполнением
func NewPosition(inst *Instrument, fill OrderEvent) (*Position, error) {
	if inst.ID != fill.InstrumentID {
		return nil, fmt.Errorf("%w: instrument %s != %s", ErrInvalidFill, fill.InstrumentID, inst.ID)
	}
	if fill.PositionID == "" {
		return nil, fmt.Errorf("%w: no position id to open position", ErrInvalidFill)
	}
	mult := inst.Multiplier
	if mult.IsZero() {
		mult = QuantityFromRaw(FixedScalar, 0)
	}
	p := &Position{
		ID:                 fill.PositionID,
		TraderID:           fill.TraderID,
		StrategyID:         fill.StrategyID,
		InstrumentID:       fill.InstrumentID,
		AccountID:          fill.AccountID,
		Entry:              fill.OrderSide,
		Side:               PositionSideFlat,
		PricePrecision:     inst.PricePrecision,
		SizePrecision:      inst.SizePrecision,
		Multiplier:         mult,
		IsInverse:          inst.IsInverse,
		BaseCurrency:       inst.BaseCurrency,
		QuoteCurrency:      inst.QuoteCurrency,
		SettlementCurrency: inst.Settlement(),
		Commissions:        make(map[string]Money),
	}
	if err := p.ApplyFill(fill); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyFill применяет исполнение. Повторный trade id отклоняется без изменений.
func (p *Position) ApplyFill(fill OrderEvent) error {
	if fill.Kind != OrderEventFilled {
		return fmt.Errorf("%w: event kind %s", ErrInvalidFill, fill.Kind)
	}
	if fill.OrderSide != OrderSideBuy && fill.OrderSide != OrderSideSell {
		return fmt.Errorf("%w: no order side", ErrInvalidFill)
	}
	if slices.Contains(p.TradeIDs, fill.TradeID) {
		return fmt.Errorf("%w: %s on position %s", ErrDuplicateTrade, fill.TradeID, p.ID)
	}

	if p.Side == PositionSideFlat {
		p.reset(fill)
	}

	p.Events = append(p.Events, fill)
	p.TradeIDs = append(p.TradeIDs, fill.TradeID)

	if fill.Commission != nil {
		code := fill.Commission.Currency.Code
		if cur, ok := p.Commissions[code]; ok {
			p.Commissions[code] = cur.MustAdd(*fill.Commission)
		} else {
			p.Commissions[code] = *fill.Commission
		}
	}

	if fill.OrderSide == OrderSideBuy {
		p.handleBuy(fill)
	} else {
		p.handleSell(fill)
	}

	p.Quantity, _ = NewQuantity(math.Abs(p.SignedQty), p.SizePrecision)
	if p.Quantity.Raw > p.PeakQty.Raw {
		p.PeakQty.Raw = p.Quantity.Raw
	}

	switch {
	case p.SignedQty > 0:
		p.Entry = OrderSideBuy
		p.Side = PositionSideLong
	case p.SignedQty < 0:
		p.Entry = OrderSideSell
		p.Side = PositionSideShort
	default:
		p.Side = PositionSideFlat
		p.ClosingOrderID = fill.ClientOrderID
		closed := fill.TsEvent
		p.TsClosed = &closed
		p.DurationNs = uint64(closed - p.TsOpened)
	}

	p.TsLast = fill.TsEvent
	return nil
}

// reset - повторное открытие закрытой позиции
func (p *Position) reset(fill OrderEvent) {
	p.Events = nil
	p.TradeIDs = nil
	p.BuyQty = QuantityZero(p.SizePrecision)
	p.SellQty = QuantityZero(p.SizePrecision)
	p.Commissions = make(map[string]Money)
	p.OpeningOrderID = fill.ClientOrderID
	p.ClosingOrderID = ""
	p.PeakQty = QuantityZero(p.SizePrecision)
	p.TsInit = fill.TsInit
	p.TsOpened = fill.TsEvent
	p.TsClosed = nil
	p.DurationNs = 0
	p.AvgPxOpen = fill.LastPx.AsFloat64()
	p.AvgPxClose = nil
	p.RealizedReturn = 0
	p.RealizedPnL = nil
}

func (p *Position) commissionPnL(fill OrderEvent) float64 {
	if fill.Commission != nil && fill.Commission.Currency.Code == p.SettlementCurrency.Code {
		return -fill.Commission.AsFloat64()
	}
	return 0
}

func (p *Position) handleBuy(fill OrderEvent) {
	pnl := p.commissionPnL(fill)
	lastPx := fill.LastPx.AsFloat64()
	lastQty := fill.LastQty.AsFloat64()

	if p.SignedQty > 0 {
		p.AvgPxOpen = p.avgPxOpen(lastPx, lastQty)
	} else if p.SignedQty < 0 {
		closePx := p.avgPxClose(lastPx, lastQty)
		p.AvgPxClose = &closePx
		p.RealizedReturn = p.CalculateReturn(p.AvgPxOpen, closePx)
		pnl += p.pnlRaw(p.AvgPxOpen, lastPx, lastQty)
	}
	p.addRealized(pnl)

	p.SignedQty += lastQty
	p.BuyQty = p.BuyQty.Add(fill.LastQty)
}

func (p *Position) handleSell(fill OrderEvent) {
	pnl := p.commissionPnL(fill)
	lastPx := fill.LastPx.AsFloat64()
	lastQty := fill.LastQty.AsFloat64()

	if p.SignedQty < 0 {
		p.AvgPxOpen = p.avgPxOpen(lastPx, lastQty)
	} else if p.SignedQty > 0 {
		closePx := p.avgPxClose(lastPx, lastQty)
		p.AvgPxClose = &closePx
		p.RealizedReturn = p.CalculateReturn(p.AvgPxOpen, closePx)
		pnl += p.pnlRaw(p.AvgPxOpen, lastPx, lastQty)
	}
	p.addRealized(pnl)

	p.SignedQty -= lastQty
	p.SellQty = p.SellQty.Add(fill.LastQty)
}

func (p *Position) addRealized(pnl float64) {
	if p.RealizedPnL != nil {
		pnl += p.RealizedPnL.AsFloat64()
	}
	m := NewMoney(pnl, p.SettlementCurrency)
	p.RealizedPnL = &m
}

func weightedAvg(qty, avg, lastPx, lastQty float64) float64 {
	return (avg*qty + lastPx*lastQty) / (qty + lastQty)
}

func (p *Position) avgPxOpen(lastPx, lastQty float64) float64 {
	return weightedAvg(p.Quantity.AsFloat64(), p.AvgPxOpen, lastPx, lastQty)
}

func (p *Position) avgPxClose(lastPx, lastQty float64) float64 {
	if p.AvgPxClose == nil {
		return lastPx
	}
	closing := p.BuyQty
	if p.Side == PositionSideLong {
		closing = p.SellQty
	}
	return weightedAvg(closing.AsFloat64(), *p.AvgPxClose, lastPx, lastQty)
}

// ============================================================
// PnL
// ============================================================

func (p *Position) points(open, close float64) float64 {
	switch p.Side {
	case PositionSideLong:
		return close - open
	case PositionSideShort:
		return open - close
	}
	return 0
}

func (p *Position) pointsInverse(open, close float64) float64 {
	switch p.Side {
	case PositionSideLong:
		return 1/open - 1/close
	case PositionSideShort:
		return 1/close - 1/open
	}
	return 0
}

func (p *Position) pnlRaw(open, close, qty float64) float64 {
	qty = math.Min(qty, math.Abs(p.SignedQty))
	mult := p.Multiplier.AsFloat64()
	if p.IsInverse {
		return qty * mult * p.pointsInverse(open, close)
	}
	return qty * mult * p.points(open, close)
}

// CalculatePnL - PnL для qty между ценами открытия и закрытия
func (p *Position) CalculatePnL(open, close float64, qty Quantity) Money {
	return NewMoney(p.pnlRaw(open, close, qty.AsFloat64()), p.SettlementCurrency)
}

// CalculateReturn - доходность относительно цены открытия
func (p *Position) CalculateReturn(open, close float64) float64 {
	if open == 0 {
		return 0
	}
	return p.points(open, close) / open
}

// UnrealizedPnL - нереализованный PnL по цене last (0 для FLAT)
func (p *Position) UnrealizedPnL(last Price) Money {
	if p.Side == PositionSideFlat {
		return MoneyZero(p.SettlementCurrency)
	}
	return NewMoney(p.pnlRaw(p.AvgPxOpen, last.AsFloat64(), p.Quantity.AsFloat64()), p.SettlementCurrency)
}

// Realized - реализованный PnL (0, если исполнений ещё не было)
func (p *Position) Realized() Money {
	if p.RealizedPnL == nil {
		return MoneyZero(p.SettlementCurrency)
	}
	return *p.RealizedPnL
}

func (p *Position) TotalPnL(last Price) Money {
	return NewMoney(p.Realized().AsFloat64()+p.UnrealizedPnL(last).AsFloat64(), p.SettlementCurrency)
}

// NotionalValue - стоимость позиции по цене last
func (p *Position) NotionalValue(last Price) Money {
	if p.IsInverse && p.BaseCurrency != nil {
		return NewMoney(p.Quantity.AsFloat64()*p.Multiplier.AsFloat64()/last.AsFloat64(), *p.BaseCurrency)
	}
	return NewMoney(p.Quantity.AsFloat64()*last.AsFloat64()*p.Multiplier.AsFloat64(), p.QuoteCurrency)
}

// ============================================================
// Queries
// ============================================================

func (p *Position) IsOpen() bool   { return p.Side != PositionSideFlat && p.TsClosed == nil }
func (p *Position) IsClosed() bool { return p.Side == PositionSideFlat && p.TsClosed != nil }
func (p *Position) IsLong() bool   { return p.Side == PositionSideLong }
func (p *Position) IsShort() bool  { return p.Side == PositionSideShort }

// IsOppositeSide - сторона ордера противоположна входу
func (p *Position) IsOppositeSide(side OrderSide) bool { return p.Entry != side }

func (p *Position) EventCount() int { return len(p.Events) }

// LastEvent - последнее исполнение
func (p *Position) LastEvent() OrderEvent { return p.Events[len(p.Events)-1] }

func (p *Position) LastTradeID() TradeID {
	if len(p.TradeIDs) == 0 {
		return ""
	}
	return p.TradeIDs[len(p.TradeIDs)-1]
}

// ClientOrderIDs - уникальные id ордеров, отсортированные
func (p *Position) ClientOrderIDs() []ClientOrderID {
	seen := make(map[ClientOrderID]struct{})
	var out []ClientOrderID
	for _, e := range p.Events {
		if _, ok := seen[e.ClientOrderID]; !ok {
			seen[e.ClientOrderID] = struct{}{}
			out = append(out, e.ClientOrderID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CommissionList - комиссии по валютам, отсортированные по коду
func (p *Position) CommissionList() []Money {
	out := make([]Money, 0, len(p.Commissions))
	for _, m := range p.Commissions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency.Code < out[j].Currency.Code })
	return out
}

// PurgeEventsForOrder удаляет исполнения указанного ордера
func (p *Position) PurgeEventsForOrder(id ClientOrderID) {
	events := p.Events[:0:0]
	trades := p.TradeIDs[:0:0]
	for _, e := range p.Events {
		if e.ClientOrderID != id {
			events = append(events, e)
			trades = append(trades, e.TradeID)
		}
	}
	p.Events = events
	p.TradeIDs = trades
}

// Clone - глубокая копия (для снимков)
func (p *Position) Clone() *Position {
	c := *p
	c.Events = slices.Clone(p.Events)
	c.TradeIDs = slices.Clone(p.TradeIDs)
	c.Commissions = make(map[string]Money, len(p.Commissions))
	for k, v := range p.Commissions {
		c.Commissions[k] = v
	}
	if p.AvgPxClose != nil {
		v := *p.AvgPxClose
		c.AvgPxClose = &v
	}
	if p.RealizedPnL != nil {
		v := *p.RealizedPnL
		c.RealizedPnL = &v
	}
	if p.TsClosed != nil {
		v := *p.TsClosed
		c.TsClosed = &v
	}
	return &c
}

func (p *Position) String() string {
	qty := p.Quantity.String()
	if p.Side == PositionSideFlat {
		qty = ""
	}
	return fmt.Sprintf("Position(%s %s %s, id=%s)", p.Side, qty, p.InstrumentID, p.ID)
}

// ============================================================
// Position events
// ============================================================

type PositionEventKind uint8

const (
	PositionEventOpened PositionEventKind = iota + 1
	PositionEventChanged
	PositionEventClosed
)

var positionEventKindNames = enumNames{"", "PositionOpened", "PositionChanged", "PositionClosed"}

func (k PositionEventKind) String() string               { return positionEventKindNames.name(uint8(k)) }
func (k PositionEventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// PositionEvent - снимок позиции в момент открытия, изменения или закрытия
type PositionEvent struct {
	Kind           PositionEventKind `json:"kind"`
	EventID        string            `json:"event_id"`
	PositionID     PositionID        `json:"position_id"`
	InstrumentID   InstrumentID      `json:"instrument_id"`
	AccountID      AccountID         `json:"account_id"`
	StrategyID     StrategyID        `json:"strategy_id"`
	Side           PositionSide      `json:"side"`
	SignedQty      float64           `json:"signed_qty"`
	Quantity       Quantity          `json:"quantity"`
	AvgPxOpen      float64           `json:"avg_px_open"`
	RealizedPnL    Money             `json:"realized_pnl"`
	UnrealizedPnL  *Money            `json:"unrealized_pnl,omitempty"`
	OpeningOrderID ClientOrderID     `json:"opening_order_id"`
	ClosingOrderID ClientOrderID     `json:"closing_order_id,omitempty"`
	DurationNs     uint64            `json:"duration_ns"`
	TsEvent        UnixNanos         `json:"ts_event"`
	TsInit         UnixNanos         `json:"ts_init"`
}

// NewPositionEvent формирует событие по текущему состоянию позиции
func NewPositionEvent(p *Position, tsInit UnixNanos) PositionEvent {
	kind := PositionEventChanged
	switch {
	case p.Side == PositionSideFlat:
		kind = PositionEventClosed
	case len(p.Events) == 1:
		kind = PositionEventOpened
	}
	return PositionEvent{
		Kind:           kind,
		EventID:        NewEventID(),
		PositionID:     p.ID,
		InstrumentID:   p.InstrumentID,
		AccountID:      p.AccountID,
		StrategyID:     p.StrategyID,
		Side:           p.Side,
		SignedQty:      p.SignedQty,
		Quantity:       p.Quantity,
		AvgPxOpen:      p.AvgPxOpen,
		RealizedPnL:    p.Realized(),
		OpeningOrderID: p.OpeningOrderID,
		ClosingOrderID: p.ClosingOrderID,
		DurationNs:     p.DurationNs,
		TsEvent:        p.TsLast,
		TsInit:         tsInit,
	}
}

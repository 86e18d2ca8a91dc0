package models

import "github.com/shopspring/decimal"

// FillReport - исполнение по данным площадки
type FillReport struct {
	ReportID      string        `json:"report_id"`
	AccountID     AccountID     `json:"account_id"`
	InstrumentID  InstrumentID  `json:"instrument_id"`
	VenueOrderID  VenueOrderID  `json:"venue_order_id"`
	ClientOrderID ClientOrderID `json:"client_order_id,omitempty"`
	TradeID       TradeID       `json:"trade_id"`
	Side          OrderSide     `json:"order_side"`
	LastQty       Quantity      `json:"last_qty"`
	LastPx        Price         `json:"last_px"`
	Commission    Money         `json:"commission"`
	LiquiditySide LiquiditySide `json:"liquidity_side"`
	TsEvent       UnixNanos     `json:"ts_event"`
	TsInit        UnixNanos     `json:"ts_init"`
}

// PositionStatusReport - позиция по данным площадки
type PositionStatusReport struct {
	ReportID     string           `json:"report_id"`
	AccountID    AccountID        `json:"account_id"`
	InstrumentID InstrumentID     `json:"instrument_id"`
	Side         PositionSide     `json:"position_side"`
	Quantity     Quantity         `json:"quantity"`
	AvgPxOpen    *decimal.Decimal `json:"avg_px_open,omitempty"`
	Leverage     *decimal.Decimal `json:"leverage,omitempty"`
	TsLast       UnixNanos        `json:"ts_last"`
	TsInit       UnixNanos        `json:"ts_init"`
}

// SignedQty - количество со знаком стороны
func (r PositionStatusReport) SignedQty() decimal.Decimal {
	q := r.Quantity.AsDecimal()
	if r.Side == PositionSideShort {
		return q.Neg()
	}
	return q
}

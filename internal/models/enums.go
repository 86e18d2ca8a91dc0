package models

import (
	"fmt"
	"strings"
)

// Перечисления хранятся как uint8; в JSON и логах - строковые имена.

type enumNames []string

func (n enumNames) name(v uint8) string {
	if int(v) < len(n) && n[v] != "" {
		return n[v]
	}
	return fmt.Sprintf("UNKNOWN(%d)", v)
}

// parse - обратная операция к name, без учёта регистра;
// пустая строка и UNKNOWN(n) разбираются в числовое значение
func (n enumNames) parse(kind, s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for i, name := range n {
		if name != "" && strings.EqualFold(name, s) {
			return uint8(i), nil
		}
	}
	var v uint8
	if _, err := fmt.Sscanf(s, "UNKNOWN(%d)", &v); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("invalid %s %q", kind, s)
}

// ============================================================
// OrderSide
// ============================================================

type OrderSide uint8

const (
	NoOrderSide OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

var orderSideNames = enumNames{"NO_ORDER_SIDE", "BUY", "SELL"}

func (s OrderSide) String() string               { return orderSideNames.name(uint8(s)) }
func (s OrderSide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *OrderSide) UnmarshalText(b []byte) error {
	v, err := orderSideNames.parse("OrderSide", string(b))
	*s = OrderSide(v)
	return err
}

// Opposite возвращает противоположную сторону
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	}
	return NoOrderSide
}

// ============================================================
// OrderType / TimeInForce
// ============================================================

type OrderType uint8

const (
	OrderTypeMarket OrderType = iota + 1
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeMarketToLimit
	OrderTypeMarketIfTouched
	OrderTypeLimitIfTouched
	OrderTypeTrailingStopMarket
	OrderTypeTrailingStopLimit
)

var orderTypeNames = enumNames{"", "MARKET", "LIMIT", "STOP_MARKET", "STOP_LIMIT", "MARKET_TO_LIMIT",
	"MARKET_IF_TOUCHED", "LIMIT_IF_TOUCHED", "TRAILING_STOP_MARKET", "TRAILING_STOP_LIMIT"}

func (t OrderType) String() string               { return orderTypeNames.name(uint8(t)) }
func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := orderTypeNames.parse("OrderType", string(b))
	*t = OrderType(v)
	return err
}

type TimeInForce uint8

const (
	TimeInForceGTC TimeInForce = iota + 1
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTD
	TimeInForceDay
	TimeInForceAtTheOpen
	TimeInForceAtTheClose
)

var timeInForceNames = enumNames{"", "GTC", "IOC", "FOK", "GTD", "DAY", "AT_THE_OPEN", "AT_THE_CLOSE"}

func (t TimeInForce) String() string               { return timeInForceNames.name(uint8(t)) }
func (t TimeInForce) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (t *TimeInForce) UnmarshalText(b []byte) error {
	v, err := timeInForceNames.parse("TimeInForce", string(b))
	*t = TimeInForce(v)
	return err
}

// ============================================================
// ContingencyType
// ============================================================

type ContingencyType uint8

const (
	NoContingency ContingencyType = iota
	ContingencyOCO
	ContingencyOTO
	ContingencyOUO
)

var contingencyNames = enumNames{"NO_CONTINGENCY", "OCO", "OTO", "OUO"}

func (c ContingencyType) String() string               { return contingencyNames.name(uint8(c)) }
func (c ContingencyType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (c *ContingencyType) UnmarshalText(b []byte) error {
	v, err := contingencyNames.parse("ContingencyType", string(b))
	*c = ContingencyType(v)
	return err
}

// ============================================================
// OrderStatus
// ============================================================

type OrderStatus uint8

const (
	OrderStatusInitialized OrderStatus = iota + 1
	OrderStatusDenied
	OrderStatusEmulated
	OrderStatusReleased
	OrderStatusSubmitted
	OrderStatusAccepted
	OrderStatusRejected
	OrderStatusCanceled
	OrderStatusExpired
	OrderStatusTriggered
	OrderStatusPendingUpdate
	OrderStatusPendingCancel
	OrderStatusPartiallyFilled
	OrderStatusFilled
)

var orderStatusNames = enumNames{"", "INITIALIZED", "DENIED", "EMULATED", "RELEASED", "SUBMITTED", "ACCEPTED",
	"REJECTED", "CANCELED", "EXPIRED", "TRIGGERED", "PENDING_UPDATE", "PENDING_CANCEL", "PARTIALLY_FILLED", "FILLED"}

func (s OrderStatus) String() string               { return orderStatusNames.name(uint8(s)) }
func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := orderStatusNames.parse("OrderStatus", string(b))
	*s = OrderStatus(v)
	return err
}

// IsTerminal - из терминального статуса переходов нет
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDenied, OrderStatusRejected, OrderStatusCanceled, OrderStatusExpired, OrderStatusFilled:
		return true
	}
	return false
}

// IsOpen - ордер находится на площадке
func (s OrderStatus) IsOpen() bool {
	switch s {
	case OrderStatusAccepted, OrderStatusTriggered, OrderStatusPendingUpdate,
		OrderStatusPendingCancel, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// ============================================================
// PositionSide / AggressorSide / LiquiditySide
// ============================================================

type PositionSide uint8

const (
	NoPositionSide PositionSide = iota
	PositionSideFlat
	PositionSideLong
	PositionSideShort
)

var positionSideNames = enumNames{"NO_POSITION_SIDE", "FLAT", "LONG", "SHORT"}

func (s PositionSide) String() string               { return positionSideNames.name(uint8(s)) }
func (s PositionSide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *PositionSide) UnmarshalText(b []byte) error {
	v, err := positionSideNames.parse("PositionSide", string(b))
	*s = PositionSide(v)
	return err
}

type AggressorSide uint8

const (
	NoAggressor AggressorSide = iota
	AggressorBuyer
	AggressorSeller
)

var aggressorNames = enumNames{"NO_AGGRESSOR", "BUYER", "SELLER"}

func (s AggressorSide) String() string               { return aggressorNames.name(uint8(s)) }
func (s AggressorSide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *AggressorSide) UnmarshalText(b []byte) error {
	v, err := aggressorNames.parse("AggressorSide", string(b))
	*s = AggressorSide(v)
	return err
}

type LiquiditySide uint8

const (
	NoLiquiditySide LiquiditySide = iota
	LiquidityMaker
	LiquidityTaker
)

var liquiditySideNames = enumNames{"NO_LIQUIDITY_SIDE", "MAKER", "TAKER"}

func (s LiquiditySide) String() string               { return liquiditySideNames.name(uint8(s)) }
func (s LiquiditySide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *LiquiditySide) UnmarshalText(b []byte) error {
	v, err := liquiditySideNames.parse("LiquiditySide", string(b))
	*s = LiquiditySide(v)
	return err
}

// ============================================================
// Book / price enums
// ============================================================

type BookAction uint8

const (
	BookActionAdd BookAction = iota + 1
	BookActionUpdate
	BookActionDelete
	BookActionClear
)

var bookActionNames = enumNames{"", "ADD", "UPDATE", "DELETE", "CLEAR"}

func (a BookAction) String() string               { return bookActionNames.name(uint8(a)) }
func (a BookAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Флаги записей книги ордеров
const (
	FlagLast     uint8 = 1 << 7 // последняя запись пакета с одним ts_event
	FlagTOB      uint8 = 1 << 6
	FlagSnapshot uint8 = 1 << 5
	FlagMBP      uint8 = 1 << 4
)

type PriceType uint8

const (
	PriceTypeBid PriceType = iota + 1
	PriceTypeAsk
	PriceTypeMid
	PriceTypeLast
	PriceTypeMark
)

var priceTypeNames = enumNames{"", "BID", "ASK", "MID", "LAST", "MARK"}

func (t PriceType) String() string               { return priceTypeNames.name(uint8(t)) }
func (t PriceType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (t *PriceType) UnmarshalText(b []byte) error {
	v, err := priceTypeNames.parse("PriceType", string(b))
	*t = PriceType(v)
	return err
}

// ============================================================
// Account / OMS
// ============================================================

type OmsType uint8

const (
	OmsUnspecified OmsType = iota
	OmsNetting
	OmsHedging
)

var omsTypeNames = enumNames{"UNSPECIFIED", "NETTING", "HEDGING"}

func (t OmsType) String() string               { return omsTypeNames.name(uint8(t)) }
func (t OmsType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (t *OmsType) UnmarshalText(b []byte) error {
	v, err := omsTypeNames.parse("OmsType", string(b))
	*t = OmsType(v)
	return err
}

type AccountType uint8

const (
	AccountTypeCash AccountType = iota + 1
	AccountTypeMargin
	AccountTypeBetting
)

var accountTypeNames = enumNames{"", "CASH", "MARGIN", "BETTING"}

func (t AccountType) String() string               { return accountTypeNames.name(uint8(t)) }
func (t AccountType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (t *AccountType) UnmarshalText(b []byte) error {
	v, err := accountTypeNames.parse("AccountType", string(b))
	*t = AccountType(v)
	return err
}

// ============================================================
// Instruments
// ============================================================

type AssetClass uint8

const (
	AssetClassFX AssetClass = iota + 1
	AssetClassEquity
	AssetClassCommodity
	AssetClassDebt
	AssetClassIndex
	AssetClassCryptocurrency
	AssetClassAlternative
)

var assetClassNames = enumNames{"", "FX", "EQUITY", "COMMODITY", "DEBT", "INDEX", "CRYPTOCURRENCY", "ALTERNATIVE"}

func (a AssetClass) String() string               { return assetClassNames.name(uint8(a)) }
func (a AssetClass) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
func (a *AssetClass) UnmarshalText(b []byte) error {
	v, err := assetClassNames.parse("AssetClass", string(b))
	*a = AssetClass(v)
	return err
}

type InstrumentClass uint8

const (
	InstrumentClassSpot InstrumentClass = iota + 1
	InstrumentClassSwap
	InstrumentClassFuture
	InstrumentClassFuturesSpread
	InstrumentClassForward
	InstrumentClassCFD
	InstrumentClassBond
	InstrumentClassOption
	InstrumentClassOptionSpread
	InstrumentClassWarrant
)

var instrumentClassNames = enumNames{"", "SPOT", "SWAP", "FUTURE", "FUTURES_SPREAD", "FORWARD", "CFD",
	"BOND", "OPTION", "OPTION_SPREAD", "WARRANT"}

func (c InstrumentClass) String() string               { return instrumentClassNames.name(uint8(c)) }
func (c InstrumentClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (c *InstrumentClass) UnmarshalText(b []byte) error {
	v, err := instrumentClassNames.parse("InstrumentClass", string(b))
	*c = InstrumentClass(v)
	return err
}

type OptionKind uint8

const (
	OptionKindCall OptionKind = iota + 1
	OptionKindPut
)

var optionKindNames = enumNames{"", "CALL", "PUT"}

func (k OptionKind) String() string               { return optionKindNames.name(uint8(k)) }
func (k OptionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
func (k *OptionKind) UnmarshalText(b []byte) error {
	v, err := optionKindNames.parse("OptionKind", string(b))
	*k = OptionKind(v)
	return err
}

// ============================================================
// Bars
// ============================================================

type BarAggregation uint8

const (
	BarAggregationTick BarAggregation = iota + 1
	BarAggregationSecond
	BarAggregationMinute
	BarAggregationHour
	BarAggregationDay
)

var barAggregationNames = enumNames{"", "TICK", "SECOND", "MINUTE", "HOUR", "DAY"}

func (a BarAggregation) String() string               { return barAggregationNames.name(uint8(a)) }
func (a BarAggregation) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

type AggregationSource uint8

const (
	AggregationSourceExternal AggregationSource = iota + 1
	AggregationSourceInternal
)

var aggregationSourceNames = enumNames{"", "EXTERNAL", "INTERNAL"}

func (s AggregationSource) String() string               { return aggregationSourceNames.name(uint8(s)) }
func (s AggregationSource) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ============================================================
// Market status
// ============================================================

type MarketStatusAction uint8

const (
	MarketStatusNone MarketStatusAction = iota
	MarketStatusPreOpen
	MarketStatusPreCross
	MarketStatusQuoted
	MarketStatusCross
	MarketStatusRotation
	MarketStatusNewPriceIndication
	MarketStatusTrading
	MarketStatusHalt
	MarketStatusPause
	MarketStatusSuspend
	MarketStatusPreClose
	MarketStatusClose
	MarketStatusPostClose
	MarketStatusShortSellRestrictionChange
	MarketStatusNotAvailableForTrading
)

var marketStatusNames = enumNames{"NONE", "PRE_OPEN", "PRE_CROSS", "QUOTED", "CROSS", "ROTATION",
	"NEW_PRICE_INDICATION", "TRADING", "HALT", "PAUSE", "SUSPEND", "PRE_CLOSE", "CLOSE", "POST_CLOSE",
	"SHORT_SELL_RESTRICTION_CHANGE", "NOT_AVAILABLE_FOR_TRADING"}

func (a MarketStatusAction) String() string               { return marketStatusNames.name(uint8(a)) }
func (a MarketStatusAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

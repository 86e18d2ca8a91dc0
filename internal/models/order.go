package models

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	ErrOrderIDMismatch        = errors.New("event client order id does not match order")
	ErrDuplicateTrade         = errors.New("duplicate trade id")
)

// ============================================================
// Order events
// ============================================================

// OrderEventKind - вариант события ордера
type OrderEventKind uint8

const (
	OrderEventInitialized OrderEventKind = iota + 1
	OrderEventDenied
	OrderEventEmulated
	OrderEventReleased
	OrderEventSubmitted
	OrderEventAccepted
	OrderEventRejected
	OrderEventCanceled
	OrderEventExpired
	OrderEventTriggered
	OrderEventPendingUpdate
	OrderEventPendingCancel
	OrderEventModifyRejected
	OrderEventCancelRejected
	OrderEventUpdated
	OrderEventFilled
)

var orderEventKindNames = enumNames{"", "OrderInitialized", "OrderDenied", "OrderEmulated", "OrderReleased",
	"OrderSubmitted", "OrderAccepted", "OrderRejected", "OrderCanceled", "OrderExpired", "OrderTriggered",
	"OrderPendingUpdate", "OrderPendingCancel", "OrderModifyRejected", "OrderCancelRejected",
	"OrderUpdated", "OrderFilled"}

func (k OrderEventKind) String() string               { return orderEventKindNames.name(uint8(k)) }
func (k OrderEventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
func (k *OrderEventKind) UnmarshalText(b []byte) error {
	v, err := orderEventKindNames.parse("OrderEventKind", string(b))
	*k = OrderEventKind(v)
	return err
}

// OrderEvent - событие жизненного цикла ордера.
// Поля исполнения заполнены только для Filled, поля изменения - только для Updated.
type OrderEvent struct {
	Kind          OrderEventKind `json:"kind"`
	EventID       string         `json:"event_id"`
	TraderID      TraderID       `json:"trader_id"`
	StrategyID    StrategyID     `json:"strategy_id"`
	InstrumentID  InstrumentID   `json:"instrument_id"`
	ClientOrderID ClientOrderID  `json:"client_order_id"`
	VenueOrderID  VenueOrderID   `json:"venue_order_id,omitempty"`
	AccountID     AccountID      `json:"account_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`

	// Filled
	TradeID       TradeID       `json:"trade_id,omitempty"`
	PositionID    PositionID    `json:"position_id,omitempty"`
	OrderSide     OrderSide     `json:"order_side,omitempty"`
	OrderType     OrderType     `json:"order_type,omitempty"`
	LastQty       Quantity      `json:"last_qty"`
	LastPx        Price         `json:"last_px"`
	Currency      Currency      `json:"currency"`
	Commission    *Money        `json:"commission,omitempty"`
	LiquiditySide LiquiditySide `json:"liquidity_side,omitempty"`

	// Updated
	Quantity     Quantity `json:"quantity"`
	Price        *Price   `json:"price,omitempty"`
	TriggerPrice *Price   `json:"trigger_price,omitempty"`

	Reconciliation bool      `json:"reconciliation,omitempty"`
	TsEvent        UnixNanos `json:"ts_event"`
	TsInit         UnixNanos `json:"ts_init"`
}

// NewEventID - уникальный идентификатор события
func NewEventID() string { return uuid.NewString() }

// IsBuy - сторона исполнения
func (e OrderEvent) IsBuy() bool  { return e.OrderSide == OrderSideBuy }
func (e OrderEvent) IsSell() bool { return e.OrderSide == OrderSideSell }

// ============================================================
// Order
// ============================================================

// OrderInit - параметры создания ордера
type OrderInit struct {
	TraderID       TraderID
	StrategyID     StrategyID
	InstrumentID   InstrumentID
	ClientOrderID  ClientOrderID
	Side           OrderSide
	Type           OrderType
	Quantity       Quantity
	Price          *Price
	TriggerPrice   *Price
	TimeInForce    TimeInForce
	ExpireTime     UnixNanos
	IsReduceOnly   bool
	IsPostOnly     bool
	Contingency    ContingencyType
	OrderListID    OrderListID
	LinkedOrderIDs []ClientOrderID
	ParentOrderID  ClientOrderID
	TsInit         UnixNanos
}

// Order - ордер и его состояние; изменяется только через Apply
type Order struct {
	TraderID       TraderID        `json:"trader_id"`
	StrategyID     StrategyID      `json:"strategy_id"`
	InstrumentID   InstrumentID    `json:"instrument_id"`
	ClientOrderID  ClientOrderID   `json:"client_order_id"`
	VenueOrderID   VenueOrderID    `json:"venue_order_id,omitempty"`
	PositionID     PositionID      `json:"position_id,omitempty"`
	AccountID      AccountID       `json:"account_id,omitempty"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Quantity       Quantity        `json:"quantity"`
	Price          *Price          `json:"price,omitempty"`
	TriggerPrice   *Price          `json:"trigger_price,omitempty"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	ExpireTime     UnixNanos       `json:"expire_time_ns,omitempty"`
	IsReduceOnly   bool            `json:"is_reduce_only"`
	IsPostOnly     bool            `json:"is_post_only"`
	Contingency    ContingencyType `json:"contingency_type"`
	OrderListID    OrderListID     `json:"order_list_id,omitempty"`
	LinkedOrderIDs []ClientOrderID `json:"linked_order_ids,omitempty"`
	ParentOrderID  ClientOrderID   `json:"parent_order_id,omitempty"`

	Status      OrderStatus      `json:"status"`
	FilledQty   Quantity         `json:"filled_qty"`
	LeavesQty   Quantity         `json:"leaves_qty"`
	AvgPx       *float64         `json:"avg_px,omitempty"`
	Slippage    float64          `json:"slippage"`
	Commissions map[string]Money `json:"commissions"`
	TradeIDs    []TradeID        `json:"trade_ids"`
	Events      []OrderEvent     `json:"-"`
	TsInit      UnixNanos        `json:"ts_init"`
	TsAccepted  UnixNanos        `json:"ts_accepted,omitempty"`
	TsLast      UnixNanos        `json:"ts_last"`

	previousStatus OrderStatus
}

// NewOrder создаёт ордер в статусе INITIALIZED
func NewOrder(p OrderInit) *Order {
	o := &Order{
		TraderID:       p.TraderID,
		StrategyID:     p.StrategyID,
		InstrumentID:   p.InstrumentID,
		ClientOrderID:  p.ClientOrderID,
		Side:           p.Side,
		Type:           p.Type,
		Quantity:       p.Quantity,
		Price:          p.Price,
		TriggerPrice:   p.TriggerPrice,
		TimeInForce:    p.TimeInForce,
		ExpireTime:     p.ExpireTime,
		IsReduceOnly:   p.IsReduceOnly,
		IsPostOnly:     p.IsPostOnly,
		Contingency:    p.Contingency,
		OrderListID:    p.OrderListID,
		LinkedOrderIDs: slices.Clone(p.LinkedOrderIDs),
		ParentOrderID:  p.ParentOrderID,
		Status:         OrderStatusInitialized,
		FilledQty:      QuantityZero(p.Quantity.Precision),
		LeavesQty:      p.Quantity,
		Commissions:    make(map[string]Money),
		TsInit:         p.TsInit,
		TsLast:         p.TsInit,
	}
	if o.TimeInForce == 0 {
		o.TimeInForce = TimeInForceGTC
	}
	o.Events = append(o.Events, OrderEvent{
		Kind:          OrderEventInitialized,
		EventID:       NewEventID(),
		TraderID:      p.TraderID,
		StrategyID:    p.StrategyID,
		InstrumentID:  p.InstrumentID,
		ClientOrderID: p.ClientOrderID,
		OrderSide:     p.Side,
		OrderType:     p.Type,
		Quantity:      p.Quantity,
		Price:         p.Price,
		TriggerPrice:  p.TriggerPrice,
		TsEvent:       p.TsInit,
		TsInit:        p.TsInit,
	})
	return o
}

// Допустимые переходы между статусами
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusInitialized: {OrderStatusDenied, OrderStatusEmulated, OrderStatusReleased, OrderStatusSubmitted,
		OrderStatusRejected, OrderStatusCanceled, OrderStatusExpired},
	OrderStatusEmulated:  {OrderStatusCanceled, OrderStatusExpired, OrderStatusReleased},
	OrderStatusReleased:  {OrderStatusSubmitted, OrderStatusDenied, OrderStatusCanceled},
	OrderStatusSubmitted: {OrderStatusPendingUpdate, OrderStatusPendingCancel, OrderStatusRejected, OrderStatusCanceled,
		OrderStatusAccepted, OrderStatusTriggered, OrderStatusPartiallyFilled, OrderStatusFilled},
	OrderStatusAccepted: {OrderStatusRejected, OrderStatusPendingUpdate, OrderStatusPendingCancel, OrderStatusCanceled,
		OrderStatusTriggered, OrderStatusExpired, OrderStatusPartiallyFilled, OrderStatusFilled},
	OrderStatusPendingUpdate: {OrderStatusRejected, OrderStatusCanceled, OrderStatusExpired, OrderStatusAccepted,
		OrderStatusTriggered, OrderStatusPendingUpdate, OrderStatusPendingCancel, OrderStatusPartiallyFilled,
		OrderStatusFilled},
	OrderStatusPendingCancel: {OrderStatusRejected, OrderStatusPendingCancel, OrderStatusCanceled, OrderStatusExpired,
		OrderStatusAccepted, OrderStatusPartiallyFilled, OrderStatusFilled},
	OrderStatusTriggered: {OrderStatusRejected, OrderStatusPendingUpdate, OrderStatusPendingCancel, OrderStatusCanceled,
		OrderStatusExpired, OrderStatusPartiallyFilled, OrderStatusFilled},
	OrderStatusPartiallyFilled: {OrderStatusPendingUpdate, OrderStatusPendingCancel, OrderStatusCanceled,
		OrderStatusExpired, OrderStatusPartiallyFilled, OrderStatusFilled},
}

var eventTargetStatus = map[OrderEventKind]OrderStatus{
	OrderEventDenied:        OrderStatusDenied,
	OrderEventEmulated:      OrderStatusEmulated,
	OrderEventReleased:      OrderStatusReleased,
	OrderEventSubmitted:     OrderStatusSubmitted,
	OrderEventAccepted:      OrderStatusAccepted,
	OrderEventRejected:      OrderStatusRejected,
	OrderEventCanceled:      OrderStatusCanceled,
	OrderEventExpired:       OrderStatusExpired,
	OrderEventTriggered:     OrderStatusTriggered,
	OrderEventPendingUpdate: OrderStatusPendingUpdate,
	OrderEventPendingCancel: OrderStatusPendingCancel,
}

// CanTransition проверяет переход from -> to
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// nextStatus вычисляет статус после события без изменения ордера
func (o *Order) nextStatus(ev OrderEvent) (OrderStatus, error) {
	if o.Status.IsTerminal() {
		return 0, fmt.Errorf("%w: %s is terminal, got %s", ErrInvalidStateTransition, o.Status, ev.Kind)
	}
	switch ev.Kind {
	case OrderEventInitialized:
		return 0, fmt.Errorf("%w: order %s already initialized", ErrInvalidStateTransition, o.ClientOrderID)
	case OrderEventUpdated:
		if o.Status == OrderStatusPendingUpdate && o.previousStatus != 0 {
			return o.previousStatus, nil
		}
		return o.Status, nil
	case OrderEventModifyRejected, OrderEventCancelRejected:
		if (o.Status == OrderStatusPendingUpdate || o.Status == OrderStatusPendingCancel) && o.previousStatus != 0 {
			return o.previousStatus, nil
		}
		return o.Status, nil
	case OrderEventFilled:
		target := OrderStatusPartiallyFilled
		if ev.LastQty.Raw >= o.LeavesQty.Raw {
			target = OrderStatusFilled
		}
		if !CanTransition(o.Status, target) {
			return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, o.Status, target)
		}
		return target, nil
	}
	target, ok := eventTargetStatus[ev.Kind]
	if !ok {
		return 0, fmt.Errorf("%w: unknown event kind %d", ErrInvalidStateTransition, ev.Kind)
	}
	if !CanTransition(o.Status, target) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, o.Status, target)
	}
	return target, nil
}

// Apply применяет событие. При ошибке ордер не изменяется.
func (o *Order) Apply(ev OrderEvent) error {
	if ev.ClientOrderID != o.ClientOrderID {
		return fmt.Errorf("%w: %s != %s", ErrOrderIDMismatch, ev.ClientOrderID, o.ClientOrderID)
	}
	if ev.Kind == OrderEventFilled && slices.Contains(o.TradeIDs, ev.TradeID) {
		return fmt.Errorf("%w: %s on order %s", ErrDuplicateTrade, ev.TradeID, o.ClientOrderID)
	}
	next, err := o.nextStatus(ev)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case OrderEventAccepted:
		o.VenueOrderID = ev.VenueOrderID
		o.AccountID = ev.AccountID
		o.TsAccepted = ev.TsEvent
	case OrderEventSubmitted:
		o.AccountID = ev.AccountID
	case OrderEventUpdated:
		o.applyUpdate(ev)
	case OrderEventFilled:
		o.applyFill(ev)
	}

	if next != o.Status {
		o.previousStatus = o.Status
		o.Status = next
	}
	o.Events = append(o.Events, ev)
	o.TsLast = ev.TsEvent
	return nil
}

func (o *Order) applyUpdate(ev OrderEvent) {
	if ev.VenueOrderID != "" {
		o.VenueOrderID = ev.VenueOrderID
	}
	if ev.Quantity.IsPositive() {
		o.Quantity = ev.Quantity
		o.LeavesQty = o.Quantity.Sub(o.FilledQty)
	}
	if ev.Price != nil {
		o.Price = ev.Price
	}
	if ev.TriggerPrice != nil {
		o.TriggerPrice = ev.TriggerPrice
	}
}

func (o *Order) applyFill(ev OrderEvent) {
	if ev.VenueOrderID != "" {
		o.VenueOrderID = ev.VenueOrderID
	}
	if ev.PositionID != "" {
		o.PositionID = ev.PositionID
	}
	if ev.AccountID != "" {
		o.AccountID = ev.AccountID
	}
	o.TradeIDs = append(o.TradeIDs, ev.TradeID)

	prevFilled := o.FilledQty.AsFloat64()
	o.FilledQty = o.FilledQty.Add(ev.LastQty)
	o.LeavesQty = o.Quantity.Sub(o.FilledQty)

	lastPx := ev.LastPx.AsFloat64()
	lastQty := ev.LastQty.AsFloat64()
	if o.AvgPx == nil {
		avg := lastPx
		o.AvgPx = &avg
	} else if total := prevFilled + lastQty; total > 0 {
		avg := (*o.AvgPx*prevFilled + lastPx*lastQty) / total
		o.AvgPx = &avg
	}
	if o.Price != nil && o.AvgPx != nil {
		if o.Side == OrderSideBuy {
			o.Slippage = *o.AvgPx - o.Price.AsFloat64()
		} else {
			o.Slippage = o.Price.AsFloat64() - *o.AvgPx
		}
	}

	if ev.Commission != nil {
		code := ev.Commission.Currency.Code
		if cur, ok := o.Commissions[code]; ok {
			o.Commissions[code] = cur.MustAdd(*ev.Commission)
		} else {
			o.Commissions[code] = *ev.Commission
		}
	}
}

// PreviousStatus - статус до последнего перехода
func (o *Order) PreviousStatus() OrderStatus { return o.previousStatus }

func (o *Order) IsOpen() bool     { return o.Status.IsOpen() }
func (o *Order) IsClosed() bool   { return o.Status.IsTerminal() }
func (o *Order) IsBuy() bool      { return o.Side == OrderSideBuy }
func (o *Order) IsSell() bool     { return o.Side == OrderSideSell }
func (o *Order) HasPrice() bool   { return o.Price != nil }
func (o *Order) HasTrigger() bool { return o.TriggerPrice != nil }

// IsInflight - ордер отправлен, но ответ площадки ещё не получен
func (o *Order) IsInflight() bool {
	switch o.Status {
	case OrderStatusSubmitted, OrderStatusPendingUpdate, OrderStatusPendingCancel:
		return true
	}
	return false
}

// LastEvent - последнее применённое событие
func (o *Order) LastEvent() OrderEvent { return o.Events[len(o.Events)-1] }

// ============================================================
// Order status report
// ============================================================

// OrderStatusReport - состояние ордера по данным площадки
type OrderStatusReport struct {
	ReportID       string           `json:"report_id"`
	AccountID      AccountID        `json:"account_id"`
	InstrumentID   InstrumentID     `json:"instrument_id"`
	ClientOrderID  ClientOrderID    `json:"client_order_id,omitempty"`
	VenueOrderID   VenueOrderID     `json:"venue_order_id"`
	OrderListID    OrderListID      `json:"order_list_id,omitempty"`
	Side           OrderSide        `json:"order_side"`
	Type           OrderType        `json:"order_type"`
	TimeInForce    TimeInForce      `json:"time_in_force"`
	Status         OrderStatus      `json:"order_status"`
	Contingency    ContingencyType  `json:"contingency_type"`
	LinkedOrderIDs []ClientOrderID  `json:"linked_order_ids,omitempty"`
	ParentOrderID  ClientOrderID    `json:"parent_order_id,omitempty"`
	Quantity       Quantity         `json:"quantity"`
	FilledQty      Quantity         `json:"filled_qty"`
	Price          *Price           `json:"price,omitempty"`
	TriggerPrice   *Price           `json:"trigger_price,omitempty"`
	AvgPx          *decimal.Decimal `json:"avg_px,omitempty"`
	ExpireTime     UnixNanos        `json:"expire_time_ns,omitempty"`
	PostOnly       bool             `json:"post_only"`
	ReduceOnly     bool             `json:"reduce_only"`
	CancelReason   string           `json:"cancel_reason,omitempty"`
	TsAccepted     UnixNanos        `json:"ts_accepted"`
	TsLast         UnixNanos        `json:"ts_last"`
	TsInit         UnixNanos        `json:"ts_init"`
}

// IsContingent - ордер входит в связанную группу
func (r *OrderStatusReport) IsContingent() bool { return r.Contingency != NoContingency }

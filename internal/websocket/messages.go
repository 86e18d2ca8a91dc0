package websocket

import (
	"time"

	"tradecore/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeAccountUpdate - новое состояние счёта (events.account.*)
	MessageTypeAccountUpdate MessageType = "accountUpdate"

	// MessageTypePositionUpdate - открытие, изменение или закрытие позиции (events.position.*)
	MessageTypePositionUpdate MessageType = "positionUpdate"

	// MessageTypePortfolioUpdate - периодическая сводка PnL и экспозиции по площадке
	MessageTypePortfolioUpdate MessageType = "portfolioUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

func (b BaseMessage) messageType() MessageType { return b.Type }

// knownTypes - типы, на которые клиент может подписаться
var knownTypes = map[MessageType]struct{}{
	MessageTypeAccountUpdate:   {},
	MessageTypePositionUpdate:  {},
	MessageTypePortfolioUpdate: {},
}

// ControlMessage - управляющий кадр от клиента дашборда.
//
//	{"op": "subscribe", "types": ["portfolioUpdate"]} - только эти типы
//	{"op": "reset"} - снова все типы
type ControlMessage struct {
	Op    string        `json:"op"`
	Types []MessageType `json:"types,omitempty"`
}

// ============================================================
// Account
// ============================================================

// AccountUpdateMessage - состояние счёта
type AccountUpdateMessage struct {
	BaseMessage
	Data *AccountUpdateData `json:"data"`
}

type AccountUpdateData struct {
	AccountID    string        `json:"account_id"`
	AccountType  string        `json:"account_type"`
	BaseCurrency string        `json:"base_currency,omitempty"`
	Balances     []BalanceData `json:"balances"`
	Margins      []MarginData  `json:"margins,omitempty"`
	Reported     bool          `json:"reported"`
	TsEvent      uint64        `json:"ts_event"`
}

// BalanceData - баланс в одной валюте; суммы строками, без потери точности
type BalanceData struct {
	Currency string `json:"currency"`
	Total    string `json:"total"`
	Locked   string `json:"locked"`
	Free     string `json:"free"`
}

type MarginData struct {
	InstrumentID string `json:"instrument_id"`
	Initial      string `json:"initial"`
	Maintenance  string `json:"maintenance"`
}

// NewAccountUpdateMessage создает сообщение из события состояния счёта
func NewAccountUpdateMessage(st models.AccountState) *AccountUpdateMessage {
	data := &AccountUpdateData{
		AccountID:   string(st.AccountID),
		AccountType: st.AccountType.String(),
		Reported:    st.IsReported,
		TsEvent:     uint64(st.TsEvent),
		Balances:    make([]BalanceData, 0, len(st.Balances)),
	}
	if st.BaseCurrency != nil {
		data.BaseCurrency = st.BaseCurrency.Code
	}
	for _, b := range st.Balances {
		data.Balances = append(data.Balances, BalanceData{
			Currency: b.Currency().Code,
			Total:    b.Total.String(),
			Locked:   b.Locked.String(),
			Free:     b.Free.String(),
		})
	}
	for _, m := range st.Margins {
		data.Margins = append(data.Margins, MarginData{
			InstrumentID: m.InstrumentID.String(),
			Initial:      m.Initial.String(),
			Maintenance:  m.Maintenance.String(),
		})
	}

	return &AccountUpdateMessage{
		BaseMessage: newBase(MessageTypeAccountUpdate),
		Data:        data,
	}
}

// ============================================================
// Position
// ============================================================

// PositionUpdateMessage - событие позиции
type PositionUpdateMessage struct {
	BaseMessage
	Data *PositionUpdateData `json:"data"`
}

type PositionUpdateData struct {
	// Event - PositionOpened, PositionChanged или PositionClosed
	Event         string  `json:"event"`
	PositionID    string  `json:"position_id"`
	InstrumentID  string  `json:"instrument_id"`
	AccountID     string  `json:"account_id"`
	StrategyID    string  `json:"strategy_id"`
	Side          string  `json:"side"`
	Quantity      string  `json:"quantity"`
	SignedQty     float64 `json:"signed_qty"`
	AvgPxOpen     float64 `json:"avg_px_open"`
	RealizedPnL   string  `json:"realized_pnl"`
	UnrealizedPnL string  `json:"unrealized_pnl,omitempty"`
	TsEvent       uint64  `json:"ts_event"`
}

// NewPositionUpdateMessage создает сообщение из события позиции
func NewPositionUpdateMessage(ev models.PositionEvent) *PositionUpdateMessage {
	data := &PositionUpdateData{
		Event:        ev.Kind.String(),
		PositionID:   string(ev.PositionID),
		InstrumentID: ev.InstrumentID.String(),
		AccountID:    string(ev.AccountID),
		StrategyID:   string(ev.StrategyID),
		Side:         ev.Side.String(),
		Quantity:     ev.Quantity.String(),
		SignedQty:    ev.SignedQty,
		AvgPxOpen:    ev.AvgPxOpen,
		RealizedPnL:  ev.RealizedPnL.String(),
		TsEvent:      uint64(ev.TsEvent),
	}
	if ev.UnrealizedPnL != nil {
		data.UnrealizedPnL = ev.UnrealizedPnL.String()
	}

	return &PositionUpdateMessage{
		BaseMessage: newBase(MessageTypePositionUpdate),
		Data:        data,
	}
}

// ============================================================
// Portfolio
// ============================================================

// PortfolioUpdateMessage - сводка портфеля по площадке
type PortfolioUpdateMessage struct {
	BaseMessage
	Venue string               `json:"venue"`
	Data  *PortfolioUpdateData `json:"data"`
}

// PortfolioUpdateData - суммы по валютам ("USD" -> "100.50 USD")
type PortfolioUpdateData struct {
	RealizedPnLs   map[string]string `json:"realized_pnls"`
	UnrealizedPnLs map[string]string `json:"unrealized_pnls"`
	NetExposures   map[string]string `json:"net_exposures,omitempty"`
	Initialized    bool              `json:"initialized"`
}

// NewPortfolioUpdateMessage создает сводку; exposures может быть nil,
// если для части позиций нет цен
func NewPortfolioUpdateMessage(venue models.Venue, realized, unrealized,
	exposures map[string]models.Money, initialized bool) *PortfolioUpdateMessage {
	return &PortfolioUpdateMessage{
		BaseMessage: newBase(MessageTypePortfolioUpdate),
		Venue:       string(venue),
		Data: &PortfolioUpdateData{
			RealizedPnLs:   moneyStrings(realized),
			UnrealizedPnLs: moneyStrings(unrealized),
			NetExposures:   moneyStrings(exposures),
			Initialized:    initialized,
		},
	}
}

func moneyStrings(in map[string]models.Money) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for code, m := range in {
		out[code] = m.String()
	}
	return out
}

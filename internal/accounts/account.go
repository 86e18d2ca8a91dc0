// Package accounts - модели счетов (cash, margin) и менеджер пересчёта
// балансов по исполнениям, открытым ордерам и позициям.
package accounts

import (
	"errors"
	"fmt"
	"sort"

	"tradecore/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeBalance = errors.New("account balance negative")
	ErrNoBalance       = errors.New("no balance for currency")
	ErrMarginExceeded  = errors.New("account margin exceeded")
	ErrNoLiquiditySide = errors.New("liquidity side not specified")
	ErrBaseMismatch    = errors.New("account state base currency mismatch")
	ErrInvalidEvent    = errors.New("invalid account event")
)

// Account - общее поведение cash и margin счетов
type Account interface {
	ID() models.AccountID
	Type() models.AccountType
	BaseCurrency() *models.Currency

	Balance(code string) (models.AccountBalance, bool)
	Balances() map[string]models.AccountBalance
	BalanceTotal(code string) (models.Money, bool)
	BalanceFree(code string) (models.Money, bool)
	BalanceLocked(code string) (models.Money, bool)
	StartingBalances() map[string]models.Money
	Commissions() map[string]models.Money

	UpdateBalances(balances []models.AccountBalance) error
	UpdateCommissions(commission models.Money)
	Apply(state models.AccountState) error
	LastEvent() (models.AccountState, bool)
	Events() []models.AccountState

	CalculateBalanceLocked(inst *models.Instrument, side models.OrderSide, qty models.Quantity,
		price models.Price, useQuoteForInverse bool) (models.Money, error)
	CalculateCommission(inst *models.Instrument, lastQty models.Quantity, lastPx models.Price,
		liquidity models.LiquiditySide, useQuoteForInverse bool) (models.Money, error)
	CalculatePnLs(inst *models.Instrument, fill models.OrderEvent, position *models.Position) ([]models.Money, error)

	// State формирует событие состояния счёта
	State(tsEvent, tsInit models.UnixNanos) models.AccountState
}

// FromState создаёт счёт нужного типа из первого состояния
func FromState(state models.AccountState) Account {
	if state.AccountType == models.AccountTypeMargin {
		return NewMarginAccount(state)
	}
	return NewCashAccount(state)
}

// baseAccount - балансы, комиссии и история состояний
type baseAccount struct {
	id           models.AccountID
	accountType  models.AccountType
	baseCurrency *models.Currency
	balances     map[string]models.AccountBalance
	starting     map[string]models.Money
	commissions  map[string]models.Money
	events       []models.AccountState
}

func newBaseAccount(state models.AccountState) baseAccount {
	b := baseAccount{
		id:           state.AccountID,
		accountType:  state.AccountType,
		baseCurrency: state.BaseCurrency,
		balances:     make(map[string]models.AccountBalance, len(state.Balances)),
		starting:     make(map[string]models.Money, len(state.Balances)),
		commissions:  make(map[string]models.Money),
	}
	for _, bal := range state.Balances {
		code := bal.Currency().Code
		b.balances[code] = bal
		b.starting[code] = bal.Total
	}
	b.events = append(b.events, state)
	return b
}

func (b *baseAccount) ID() models.AccountID           { return b.id }
func (b *baseAccount) Type() models.AccountType       { return b.accountType }
func (b *baseAccount) BaseCurrency() *models.Currency { return b.baseCurrency }
func (b *baseAccount) Events() []models.AccountState  { return b.events }

func (b *baseAccount) Commissions() map[string]models.Money      { return b.commissions }
func (b *baseAccount) StartingBalances() map[string]models.Money { return b.starting }

func (b *baseAccount) LastEvent() (models.AccountState, bool) {
	if len(b.events) == 0 {
		return models.AccountState{}, false
	}
	return b.events[len(b.events)-1], true
}

// resolve подставляет базовую валюту, если код не задан
func (b *baseAccount) resolve(code string) string {
	if code == "" && b.baseCurrency != nil {
		return b.baseCurrency.Code
	}
	return code
}

func (b *baseAccount) Balance(code string) (models.AccountBalance, bool) {
	bal, ok := b.balances[b.resolve(code)]
	return bal, ok
}

func (b *baseAccount) Balances() map[string]models.AccountBalance {
	out := make(map[string]models.AccountBalance, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out
}

func (b *baseAccount) BalanceTotal(code string) (models.Money, bool) {
	bal, ok := b.Balance(code)
	return bal.Total, ok
}

func (b *baseAccount) BalanceFree(code string) (models.Money, bool) {
	bal, ok := b.Balance(code)
	return bal.Free, ok
}

func (b *baseAccount) BalanceLocked(code string) (models.Money, bool) {
	bal, ok := b.Balance(code)
	return bal.Locked, ok
}

// UpdateBalances заменяет балансы; отрицательный total - ошибка, без изменений
func (b *baseAccount) UpdateBalances(balances []models.AccountBalance) error {
	for _, bal := range balances {
		if bal.Total.Raw < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeBalance, bal.Total)
		}
	}
	for _, bal := range balances {
		b.balances[bal.Currency().Code] = bal
	}
	return nil
}

func (b *baseAccount) UpdateCommissions(commission models.Money) {
	if commission.IsZero() {
		return
	}
	code := commission.Currency.Code
	if cur, ok := b.commissions[code]; ok {
		b.commissions[code] = cur.MustAdd(commission)
		return
	}
	b.commissions[code] = commission
}

func (b *baseAccount) apply(state models.AccountState) error {
	if (state.BaseCurrency == nil) != (b.baseCurrency == nil) ||
		(state.BaseCurrency != nil && state.BaseCurrency.Code != b.baseCurrency.Code) {
		return fmt.Errorf("%w: account %s", ErrBaseMismatch, b.id)
	}
	b.balances = make(map[string]models.AccountBalance, len(state.Balances))
	for _, bal := range state.Balances {
		b.balances[bal.Currency().Code] = bal
	}
	b.events = append(b.events, state)
	return nil
}

func (b *baseAccount) sortedBalances() []models.AccountBalance {
	out := make([]models.AccountBalance, 0, len(b.balances))
	for _, bal := range b.balances {
		out = append(out, bal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency().Code < out[j].Currency().Code })
	return out
}

// ============================================================
// Общие расчёты
// ============================================================

// calculateBalanceLocked: покупка блокирует номинал в котируемой валюте,
// продажа - количество в базовой; плюс ожидаемая комиссия taker x2
func calculateBalanceLocked(inst *models.Instrument, side models.OrderSide, qty models.Quantity,
	price models.Price, useQuoteForInverse bool) (models.Money, error) {
	base := inst.QuoteCurrency
	if inst.BaseCurrency != nil {
		base = *inst.BaseCurrency
	}

	var notional decimal.Decimal
	switch side {
	case models.OrderSideBuy:
		n, err := inst.CalculateNotional(qty, price, useQuoteForInverse)
		if err != nil {
			return models.Money{}, err
		}
		notional = n.AsDecimal()
	case models.OrderSideSell:
		notional = qty.AsDecimal()
	default:
		return models.Money{}, fmt.Errorf("invalid order side %s for balance locked", side)
	}

	locked := notional.Add(notional.Mul(inst.TakerFee).Mul(decimal.NewFromInt(2)))

	switch {
	case inst.IsInverse && !useQuoteForInverse:
		return models.MoneyFromDecimal(locked, base), nil
	case side == models.OrderSideBuy:
		return models.MoneyFromDecimal(locked, inst.QuoteCurrency), nil
	default:
		return models.MoneyFromDecimal(locked, base), nil
	}
}

func calculateCommission(inst *models.Instrument, lastQty models.Quantity, lastPx models.Price,
	liquidity models.LiquiditySide, useQuoteForInverse bool) (models.Money, error) {
	notional, err := inst.CalculateNotional(lastQty, lastPx, useQuoteForInverse)
	if err != nil {
		return models.Money{}, err
	}

	var fee decimal.Decimal
	switch liquidity {
	case models.LiquidityMaker:
		fee = inst.MakerFee
	case models.LiquidityTaker:
		fee = inst.TakerFee
	default:
		return models.Money{}, ErrNoLiquiditySide
	}
	commission := notional.AsDecimal().Mul(fee)

	if inst.IsInverse && !useQuoteForInverse {
		if inst.BaseCurrency == nil {
			return models.Money{}, fmt.Errorf("inverse instrument %s without base currency", inst.ID)
		}
		return models.MoneyFromDecimal(commission, *inst.BaseCurrency), nil
	}
	return models.MoneyFromDecimal(commission, inst.QuoteCurrency), nil
}

// calculatePnLs - изменения балансов от исполнения по валютам.
// Базовая валюта инструмента учитывается только для мультивалютного счёта.
func calculatePnLs(accountBase *models.Currency, inst *models.Instrument, fill models.OrderEvent,
	position *models.Position) ([]models.Money, error) {
	qty := fill.LastQty.AsDecimal()
	if position != nil && position.Quantity.AsDecimal().LessThan(qty) {
		qty = position.Quantity.AsDecimal()
	}
	px := fill.LastPx.AsDecimal()

	var pnls []models.Money
	switch fill.OrderSide {
	case models.OrderSideBuy:
		if inst.BaseCurrency != nil && accountBase == nil {
			pnls = append(pnls, models.MoneyFromDecimal(qty, *inst.BaseCurrency))
		}
		pnls = append(pnls, models.MoneyFromDecimal(qty.Mul(px).Neg(), inst.QuoteCurrency))
	case models.OrderSideSell:
		if inst.BaseCurrency != nil && accountBase == nil {
			pnls = append(pnls, models.MoneyFromDecimal(qty.Neg(), *inst.BaseCurrency))
		}
		pnls = append(pnls, models.MoneyFromDecimal(qty.Mul(px), inst.QuoteCurrency))
	default:
		return nil, fmt.Errorf("invalid order side %s for pnl", fill.OrderSide)
	}
	return pnls, nil
}

package accounts

import (
	"fmt"
	"sort"

	"tradecore/internal/models"

	"github.com/shopspring/decimal"
)

// MarginAccount - счёт с плечом; под ордера и позиции резервируется маржа
type MarginAccount struct {
	baseAccount

	leverages       map[models.InstrumentID]decimal.Decimal
	margins         map[models.InstrumentID]models.MarginBalance
	defaultLeverage decimal.Decimal
}

// NewMarginAccount создаёт счёт из начального состояния; плечо по умолчанию 1
func NewMarginAccount(state models.AccountState) *MarginAccount {
	state.AccountType = models.AccountTypeMargin
	a := &MarginAccount{
		baseAccount:     newBaseAccount(state),
		leverages:       make(map[models.InstrumentID]decimal.Decimal),
		margins:         make(map[models.InstrumentID]models.MarginBalance),
		defaultLeverage: decimal.NewFromInt(1),
	}
	for _, m := range state.Margins {
		a.margins[m.InstrumentID] = m
	}
	return a
}

func (a *MarginAccount) String() string {
	base := "None"
	if a.baseCurrency != nil {
		base = a.baseCurrency.Code
	}
	return fmt.Sprintf("MarginAccount(id=%s, type=%s, base=%s)", a.id, a.accountType, base)
}

func (a *MarginAccount) Apply(state models.AccountState) error {
	if err := a.apply(state); err != nil {
		return err
	}
	if len(state.Margins) > 0 {
		a.margins = make(map[models.InstrumentID]models.MarginBalance, len(state.Margins))
		for _, m := range state.Margins {
			a.margins[m.InstrumentID] = m
		}
	}
	return nil
}

// ============================================================
// Leverage
// ============================================================

func (a *MarginAccount) SetDefaultLeverage(l decimal.Decimal) { a.defaultLeverage = l }

func (a *MarginAccount) SetLeverage(id models.InstrumentID, l decimal.Decimal) { a.leverages[id] = l }

func (a *MarginAccount) Leverage(id models.InstrumentID) decimal.Decimal {
	if l, ok := a.leverages[id]; ok && !l.IsZero() {
		return l
	}
	return a.defaultLeverage
}

func (a *MarginAccount) IsUnleveraged(id models.InstrumentID) bool {
	return a.Leverage(id).Equal(decimal.NewFromInt(1))
}

// ============================================================
// Margins
// ============================================================

func (a *MarginAccount) InitialMargins() map[models.InstrumentID]models.Money {
	out := make(map[models.InstrumentID]models.Money, len(a.margins))
	for id, m := range a.margins {
		out[id] = m.Initial
	}
	return out
}

func (a *MarginAccount) MaintenanceMargins() map[models.InstrumentID]models.Money {
	out := make(map[models.InstrumentID]models.Money, len(a.margins))
	for id, m := range a.margins {
		out[id] = m.Maintenance
	}
	return out
}

func (a *MarginAccount) InitialMargin(id models.InstrumentID) (models.Money, bool) {
	m, ok := a.margins[id]
	return m.Initial, ok
}

func (a *MarginAccount) MaintenanceMargin(id models.InstrumentID) (models.Money, bool) {
	m, ok := a.margins[id]
	return m.Maintenance, ok
}

// UpdateInitialMargin обновляет начальную маржу и пересчитывает баланс
func (a *MarginAccount) UpdateInitialMargin(id models.InstrumentID, margin models.Money) error {
	prev, ok := a.margins[id]
	m := prev
	if !ok {
		m = models.MarginBalance{InstrumentID: id, Maintenance: models.MoneyZero(margin.Currency)}
	}
	m.Initial = margin
	a.margins[id] = m
	return a.commitMargin(id, prev, ok, margin.Currency.Code)
}

// UpdateMaintenanceMargin обновляет поддерживающую маржу и пересчитывает баланс
func (a *MarginAccount) UpdateMaintenanceMargin(id models.InstrumentID, margin models.Money) error {
	prev, ok := a.margins[id]
	m := prev
	if !ok {
		m = models.MarginBalance{InstrumentID: id, Initial: models.MoneyZero(margin.Currency)}
	}
	m.Maintenance = margin
	a.margins[id] = m
	return a.commitMargin(id, prev, ok, margin.Currency.Code)
}

// commitMargin пересчитывает баланс; при ошибке маржа инструмента откатывается
func (a *MarginAccount) commitMargin(id models.InstrumentID, prev models.MarginBalance, existed bool, code string) error {
	err := a.RecalculateBalance(code)
	if err == nil {
		return nil
	}
	if existed {
		a.margins[id] = prev
	} else {
		delete(a.margins, id)
	}
	return err
}

// RecalculateBalance: locked = сумма маржи в валюте, free = total - locked
func (a *MarginAccount) RecalculateBalance(code string) error {
	bal, ok := a.balances[code]
	if !ok {
		return fmt.Errorf("%w: cannot recalculate %s without starting balance", ErrNoBalance, code)
	}
	var locked int64
	for _, m := range a.margins {
		if m.Initial.Currency.Code == code {
			locked += m.Initial.Raw
		}
		if m.Maintenance.Currency.Code == code {
			locked += m.Maintenance.Raw
		}
	}
	free := bal.Total.Raw - locked
	if free < 0 {
		return fmt.Errorf("%w: total %s, margin %s", ErrMarginExceeded,
			bal.Total, models.MoneyFromRaw(locked, bal.Total.Currency))
	}
	bal.Locked = models.MoneyFromRaw(locked, bal.Total.Currency)
	bal.Free = models.MoneyFromRaw(free, bal.Total.Currency)
	a.balances[code] = bal
	return nil
}

func (a *MarginAccount) marginCurrency(inst *models.Instrument, useQuoteForInverse bool) (models.Currency, error) {
	if inst.IsInverse && !useQuoteForInverse {
		if inst.BaseCurrency == nil {
			return models.Currency{}, fmt.Errorf("inverse instrument %s without base currency", inst.ID)
		}
		return *inst.BaseCurrency, nil
	}
	return inst.QuoteCurrency, nil
}

// CalculateInitialMargin: notional/leverage * (margin_init + 2 * taker_fee)
func (a *MarginAccount) CalculateInitialMargin(inst *models.Instrument, qty models.Quantity, price models.Price,
	useQuoteForInverse bool) (models.Money, error) {
	notional, err := inst.CalculateNotional(qty, price, useQuoteForInverse)
	if err != nil {
		return models.Money{}, err
	}
	adjusted := notional.AsDecimal().Div(a.Leverage(inst.ID))
	margin := adjusted.Mul(inst.MarginInit).Add(adjusted.Mul(inst.TakerFee).Mul(decimal.NewFromInt(2)))

	cur, err := a.marginCurrency(inst, useQuoteForInverse)
	if err != nil {
		return models.Money{}, err
	}
	return models.MoneyFromDecimal(margin, cur), nil
}

// CalculateMaintenanceMargin: notional/leverage * (margin_maint + taker_fee)
func (a *MarginAccount) CalculateMaintenanceMargin(inst *models.Instrument, qty models.Quantity, price models.Price,
	useQuoteForInverse bool) (models.Money, error) {
	notional, err := inst.CalculateNotional(qty, price, useQuoteForInverse)
	if err != nil {
		return models.Money{}, err
	}
	adjusted := notional.AsDecimal().Div(a.Leverage(inst.ID))
	margin := adjusted.Mul(inst.MarginMaint).Add(adjusted.Mul(inst.TakerFee))

	cur, err := a.marginCurrency(inst, useQuoteForInverse)
	if err != nil {
		return models.Money{}, err
	}
	return models.MoneyFromDecimal(margin, cur), nil
}

func (a *MarginAccount) CalculateBalanceLocked(inst *models.Instrument, side models.OrderSide, qty models.Quantity,
	price models.Price, useQuoteForInverse bool) (models.Money, error) {
	return calculateBalanceLocked(inst, side, qty, price, useQuoteForInverse)
}

func (a *MarginAccount) CalculateCommission(inst *models.Instrument, lastQty models.Quantity, lastPx models.Price,
	liquidity models.LiquiditySide, useQuoteForInverse bool) (models.Money, error) {
	return calculateCommission(inst, lastQty, lastPx, liquidity, useQuoteForInverse)
}

func (a *MarginAccount) CalculatePnLs(inst *models.Instrument, fill models.OrderEvent,
	position *models.Position) ([]models.Money, error) {
	return calculatePnLs(a.baseCurrency, inst, fill, position)
}

func (a *MarginAccount) State(tsEvent, tsInit models.UnixNanos) models.AccountState {
	margins := make([]models.MarginBalance, 0, len(a.margins))
	for _, m := range a.margins {
		margins = append(margins, m)
	}
	sort.Slice(margins, func(i, j int) bool {
		return margins[i].InstrumentID.String() < margins[j].InstrumentID.String()
	})
	return models.AccountState{
		AccountID:    a.id,
		AccountType:  models.AccountTypeMargin,
		BaseCurrency: a.baseCurrency,
		Balances:     a.sortedBalances(),
		Margins:      margins,
		EventID:      models.NewEventID(),
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

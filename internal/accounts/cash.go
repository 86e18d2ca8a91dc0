package accounts

import (
	"fmt"

	"tradecore/internal/models"
)

// CashAccount - счёт без плеча; под открытые ордера блокируется баланс
type CashAccount struct {
	baseAccount

	locked map[models.InstrumentID]map[string]models.Money
}

// NewCashAccount создаёт счёт из начального состояния
func NewCashAccount(state models.AccountState) *CashAccount {
	state.AccountType = models.AccountTypeCash
	return &CashAccount{
		baseAccount: newBaseAccount(state),
		locked:      make(map[models.InstrumentID]map[string]models.Money),
	}
}

func (a *CashAccount) String() string {
	base := "None"
	if a.baseCurrency != nil {
		base = a.baseCurrency.Code
	}
	return fmt.Sprintf("CashAccount(id=%s, type=%s, base=%s)", a.id, a.accountType, base)
}

func (a *CashAccount) Apply(state models.AccountState) error {
	return a.apply(state)
}

// UpdateBalanceLocked задаёт блокировку по инструменту и пересчитывает
// свободный остаток в валюте блокировки
func (a *CashAccount) UpdateBalanceLocked(id models.InstrumentID, locked models.Money) error {
	if locked.Raw < 0 {
		return fmt.Errorf("%w: locked %s", ErrNegativeBalance, locked)
	}
	code := locked.Currency.Code
	if _, ok := a.balances[code]; !ok {
		return fmt.Errorf("%w: %s", ErrNoBalance, code)
	}
	perCurrency, ok := a.locked[id]
	if !ok {
		perCurrency = make(map[string]models.Money)
		a.locked[id] = perCurrency
	}
	prev, existed := perCurrency[code]
	perCurrency[code] = locked
	if err := a.RecalculateBalance(code); err != nil {
		if existed {
			perCurrency[code] = prev
		} else {
			delete(perCurrency, code)
		}
		return err
	}
	return nil
}

// ClearBalanceLocked снимает все блокировки инструмента
func (a *CashAccount) ClearBalanceLocked(id models.InstrumentID) error {
	perCurrency, ok := a.locked[id]
	if !ok {
		return nil
	}
	delete(a.locked, id)
	for code := range perCurrency {
		if err := a.RecalculateBalance(code); err != nil {
			return err
		}
	}
	return nil
}

// BalancesLocked - блокировки инструмента по валютам
func (a *CashAccount) BalancesLocked(id models.InstrumentID) map[string]models.Money {
	out := make(map[string]models.Money, len(a.locked[id]))
	for code, m := range a.locked[id] {
		out[code] = m
	}
	return out
}

// RecalculateBalance: locked = сумма блокировок в валюте, free = total - locked
func (a *CashAccount) RecalculateBalance(code string) error {
	bal, ok := a.balances[code]
	if !ok {
		return nil
	}
	var locked int64
	for _, perCurrency := range a.locked {
		locked += perCurrency[code].Raw
	}
	free := bal.Total.Raw - locked
	if free < 0 {
		return fmt.Errorf("%w: total %s less than locked %s", ErrNegativeBalance,
			bal.Total, models.MoneyFromRaw(locked, bal.Total.Currency))
	}
	bal.Locked = models.MoneyFromRaw(locked, bal.Total.Currency)
	bal.Free = models.MoneyFromRaw(free, bal.Total.Currency)
	a.balances[code] = bal
	return nil
}

func (a *CashAccount) CalculateBalanceLocked(inst *models.Instrument, side models.OrderSide, qty models.Quantity,
	price models.Price, useQuoteForInverse bool) (models.Money, error) {
	return calculateBalanceLocked(inst, side, qty, price, useQuoteForInverse)
}

func (a *CashAccount) CalculateCommission(inst *models.Instrument, lastQty models.Quantity, lastPx models.Price,
	liquidity models.LiquiditySide, useQuoteForInverse bool) (models.Money, error) {
	return calculateCommission(inst, lastQty, lastPx, liquidity, useQuoteForInverse)
}

func (a *CashAccount) CalculatePnLs(inst *models.Instrument, fill models.OrderEvent,
	position *models.Position) ([]models.Money, error) {
	return calculatePnLs(a.baseCurrency, inst, fill, position)
}

func (a *CashAccount) State(tsEvent, tsInit models.UnixNanos) models.AccountState {
	return models.AccountState{
		AccountID:    a.id,
		AccountType:  models.AccountTypeCash,
		BaseCurrency: a.baseCurrency,
		Balances:     a.sortedBalances(),
		EventID:      models.NewEventID(),
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

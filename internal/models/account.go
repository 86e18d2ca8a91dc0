package models

import "fmt"

// AccountBalance - баланс в одной валюте, Free = Total - Locked
type AccountBalance struct {
	Total  Money `json:"total"`
	Locked Money `json:"locked"`
	Free   Money `json:"free"`
}

// NewAccountBalance проверяет согласованность валют и Free = Total - Locked
func NewAccountBalance(total, locked, free Money) (AccountBalance, error) {
	if total.Currency.Code != locked.Currency.Code || total.Currency.Code != free.Currency.Code {
		return AccountBalance{}, fmt.Errorf("%w: balance currencies %s/%s/%s",
			ErrCurrencyMismatch, total.Currency, locked.Currency, free.Currency)
	}
	if total.Raw-locked.Raw != free.Raw {
		return AccountBalance{}, fmt.Errorf("balance does not satisfy free = total - locked: %s - %s != %s",
			total, locked, free)
	}
	return AccountBalance{Total: total, Locked: locked, Free: free}, nil
}

// BalanceFromTotal - баланс без блокировок
func BalanceFromTotal(total Money) AccountBalance {
	return AccountBalance{Total: total, Locked: MoneyZero(total.Currency), Free: total}
}

func (b AccountBalance) Currency() Currency { return b.Total.Currency }

func (b AccountBalance) String() string {
	return fmt.Sprintf("AccountBalance(total=%s, locked=%s, free=%s)", b.Total, b.Locked, b.Free)
}

// MarginBalance - маржа по инструменту
type MarginBalance struct {
	Initial      Money        `json:"initial"`
	Maintenance  Money        `json:"maintenance"`
	InstrumentID InstrumentID `json:"instrument_id"`
}

func (m MarginBalance) Currency() Currency { return m.Initial.Currency }

// AccountState - снимок состояния счёта
type AccountState struct {
	AccountID    AccountID        `json:"account_id"`
	AccountType  AccountType      `json:"account_type"`
	BaseCurrency *Currency        `json:"base_currency,omitempty"`
	Balances     []AccountBalance `json:"balances"`
	Margins      []MarginBalance  `json:"margins,omitempty"`
	IsReported   bool             `json:"is_reported"`
	EventID      string           `json:"event_id"`
	TsEvent      UnixNanos        `json:"ts_event"`
	TsInit       UnixNanos        `json:"ts_init"`
}

// Balance возвращает баланс в валюте code
func (s AccountState) Balance(code string) (AccountBalance, bool) {
	for _, b := range s.Balances {
		if b.Total.Currency.Code == code {
			return b, true
		}
	}
	return AccountBalance{}, false
}

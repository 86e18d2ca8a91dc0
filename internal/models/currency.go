package models

import (
	"fmt"
	"strings"
	"sync"
)

// CurrencyType - тип валюты
type CurrencyType uint8

const (
	CurrencyTypeCrypto CurrencyType = iota + 1
	CurrencyTypeFiat
	CurrencyTypeCommodityBacked
)

// Currency - валюта с точностью отображения
type Currency struct {
	Code      string       `json:"code"`
	Precision uint8        `json:"precision"`
	ISO4217   uint16       `json:"iso4217"`
	Name      string       `json:"name"`
	Type      CurrencyType `json:"currency_type"`
}

var (
	USD  = Currency{Code: "USD", Precision: 2, ISO4217: 840, Name: "United States dollar", Type: CurrencyTypeFiat}
	EUR  = Currency{Code: "EUR", Precision: 2, ISO4217: 978, Name: "Euro", Type: CurrencyTypeFiat}
	GBP  = Currency{Code: "GBP", Precision: 2, ISO4217: 826, Name: "British pound", Type: CurrencyTypeFiat}
	JPY  = Currency{Code: "JPY", Precision: 0, ISO4217: 392, Name: "Japanese yen", Type: CurrencyTypeFiat}
	AUD  = Currency{Code: "AUD", Precision: 2, ISO4217: 36, Name: "Australian dollar", Type: CurrencyTypeFiat}
	BTC  = Currency{Code: "BTC", Precision: 8, Name: "Bitcoin", Type: CurrencyTypeCrypto}
	XBT  = Currency{Code: "XBT", Precision: 8, Name: "Bitcoin", Type: CurrencyTypeCrypto}
	ETH  = Currency{Code: "ETH", Precision: 8, Name: "Ether", Type: CurrencyTypeCrypto}
	USDT = Currency{Code: "USDT", Precision: 8, Name: "Tether", Type: CurrencyTypeCrypto}
	USDC = Currency{Code: "USDC", Precision: 8, Name: "USD Coin", Type: CurrencyTypeCrypto}
)

var (
	currencyMu       sync.RWMutex
	currencyRegistry = map[string]Currency{}
)

func init() {
	for _, c := range []Currency{USD, EUR, GBP, JPY, AUD, BTC, XBT, ETH, USDT, USDC} {
		currencyRegistry[c.Code] = c
	}
}

// RegisterCurrency добавляет или заменяет валюту в реестре
func RegisterCurrency(c Currency) {
	currencyMu.Lock()
	currencyRegistry[c.Code] = c
	currencyMu.Unlock()
}

// CurrencyFromCode ищет валюту по коду (без учёта регистра)
func CurrencyFromCode(code string) (Currency, error) {
	currencyMu.RLock()
	defer currencyMu.RUnlock()

	if c, ok := currencyRegistry[code]; ok {
		return c, nil
	}
	if c, ok := currencyRegistry[strings.ToUpper(code)]; ok {
		return c, nil
	}
	return Currency{}, fmt.Errorf("unknown currency code %q", code)
}

// CurrencyOrCrypto возвращает известную валюту или регистрирует новую
// криптовалюту с точностью 8
func CurrencyOrCrypto(code string) Currency {
	if c, err := CurrencyFromCode(code); err == nil {
		return c
	}
	c := Currency{Code: strings.ToUpper(code), Precision: 8, Name: strings.ToUpper(code), Type: CurrencyTypeCrypto}
	RegisterCurrency(c)
	return c
}

func (c Currency) String() string { return c.Code }
func (c Currency) IsZero() bool   { return c.Code == "" }

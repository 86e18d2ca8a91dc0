package models

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// InstrumentKind - вариант инструмента
type InstrumentKind uint8

const (
	InstrumentEquity InstrumentKind = iota + 1
	InstrumentFuturesContract
	InstrumentFuturesSpread
	InstrumentOptionContract
	InstrumentOptionSpread
	InstrumentCurrencyPair
	InstrumentCryptoPerpetual
	InstrumentCryptoFuture
)

var instrumentKindNames = enumNames{"", "EQUITY", "FUTURES_CONTRACT", "FUTURES_SPREAD", "OPTION_CONTRACT",
	"OPTION_SPREAD", "CURRENCY_PAIR", "CRYPTO_PERPETUAL", "CRYPTO_FUTURE"}

func (k InstrumentKind) String() string               { return instrumentKindNames.name(uint8(k)) }
func (k InstrumentKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
func (k *InstrumentKind) UnmarshalText(b []byte) error {
	v, err := instrumentKindNames.parse("InstrumentKind", string(b))
	*k = InstrumentKind(v)
	return err
}

var ErrQuantityRoundedToZero = errors.New("value rounded to zero for quantity")

// Instrument - определение торгуемого инструмента.
// Общие поля заполнены всегда, поля вариантов - только для своего Kind.
type Instrument struct {
	ID              InstrumentID    `json:"id"`
	RawSymbol       Symbol          `json:"raw_symbol"`
	Kind            InstrumentKind  `json:"kind"`
	AssetClass      AssetClass      `json:"asset_class"`
	InstrumentClass InstrumentClass `json:"instrument_class"`

	BaseCurrency       *Currency `json:"base_currency,omitempty"`
	QuoteCurrency      Currency  `json:"quote_currency"`
	SettlementCurrency Currency  `json:"settlement_currency"`
	IsInverse          bool      `json:"is_inverse"`

	PricePrecision uint8     `json:"price_precision"`
	SizePrecision  uint8     `json:"size_precision"`
	PriceIncrement Price     `json:"price_increment"`
	SizeIncrement  Quantity  `json:"size_increment"`
	Multiplier     Quantity  `json:"multiplier"`
	LotSize        *Quantity `json:"lot_size,omitempty"`
	MaxQuantity    *Quantity `json:"max_quantity,omitempty"`
	MinQuantity    *Quantity `json:"min_quantity,omitempty"`
	MaxPrice       *Price    `json:"max_price,omitempty"`
	MinPrice       *Price    `json:"min_price,omitempty"`

	MarginInit  decimal.Decimal `json:"margin_init"`
	MarginMaint decimal.Decimal `json:"margin_maint"`
	MakerFee    decimal.Decimal `json:"maker_fee"`
	TakerFee    decimal.Decimal `json:"taker_fee"`

	// Фьючерсы, опционы, спреды
	Exchange     string     `json:"exchange,omitempty"`
	Underlying   string     `json:"underlying,omitempty"`
	StrategyType string     `json:"strategy_type,omitempty"`
	OptionKind   OptionKind `json:"option_kind,omitempty"`
	StrikePrice  *Price     `json:"strike_price,omitempty"`
	Activation   UnixNanos  `json:"activation_ns,omitempty"`
	Expiration   UnixNanos  `json:"expiration_ns,omitempty"`
	ISIN         string     `json:"isin,omitempty"`

	TsEvent UnixNanos `json:"ts_event"`
	TsInit  UnixNanos `json:"ts_init"`
}

func (i *Instrument) Instrument() InstrumentID { return i.ID }
func (i *Instrument) EventTime() UnixNanos     { return i.TsEvent }
func (i *Instrument) InitTime() UnixNanos      { return i.TsInit }

// Settlement возвращает валюту расчётов (по умолчанию - котируемую)
func (i *Instrument) Settlement() Currency {
	if !i.SettlementCurrency.IsZero() {
		return i.SettlementCurrency
	}
	return i.QuoteCurrency
}

func (i *Instrument) multiplier() decimal.Decimal {
	if i.Multiplier.IsZero() {
		return decimal.NewFromInt(1)
	}
	return i.Multiplier.AsDecimal()
}

// CalculateNotional - номинальная стоимость qty по цене price.
// Для инверсных инструментов - в базовой валюте, если не задан useQuoteForInverse.
func (i *Instrument) CalculateNotional(qty Quantity, price Price, useQuoteForInverse bool) (Money, error) {
	if i.IsInverse {
		if useQuoteForInverse {
			return MoneyFromDecimal(qty.AsDecimal(), i.QuoteCurrency), nil
		}
		if i.BaseCurrency == nil {
			return Money{}, fmt.Errorf("inverse instrument %s without base currency", i.ID)
		}
		if price.IsZero() {
			return Money{}, fmt.Errorf("zero price for inverse notional of %s", i.ID)
		}
		amount := qty.AsDecimal().Mul(i.multiplier()).Div(price.AsDecimal())
		return MoneyFromDecimal(amount, *i.BaseCurrency), nil
	}
	amount := qty.AsDecimal().Mul(i.multiplier()).Mul(price.AsDecimal())
	return MoneyFromDecimal(amount, i.QuoteCurrency), nil
}

// CalculateBaseQuantity - эквивалентное количество базового актива
func (i *Instrument) CalculateBaseQuantity(qty Quantity, lastPx Price) (Quantity, error) {
	if lastPx.IsZero() {
		return Quantity{}, fmt.Errorf("zero price for base quantity of %s", i.ID)
	}
	return QuantityFromDecimal(qty.AsDecimal().Div(lastPx.AsDecimal()), i.SizePrecision)
}

// MakePrice округляет значение до точности инструмента
func (i *Instrument) MakePrice(v float64) Price {
	return NewPrice(v, i.PricePrecision)
}

// MakeQty округляет до точности размера (half-even, либо к нулю при roundDown).
// Положительное значение, округлившееся в ноль, - ошибка.
func (i *Instrument) MakeQty(v float64, roundDown bool) (Quantity, error) {
	d := decimal.NewFromFloat(v)
	if roundDown {
		d = d.Truncate(int32(i.SizePrecision))
	} else {
		d = d.RoundBank(int32(i.SizePrecision))
	}
	if v > 0 && d.IsZero() {
		return Quantity{}, fmt.Errorf("%w: %v", ErrQuantityRoundedToZero, v)
	}
	return QuantityFromDecimal(d, i.SizePrecision)
}

// NextBidPrice - n-й шаг цены вниз от value; nil за пределами min/max
func (i *Instrument) NextBidPrice(v float64, n int) *Price {
	inc := math.Abs(i.PriceIncrement.AsFloat64())
	if inc == 0 {
		return nil
	}
	base := math.Floor(v/inc) * inc
	p := NewPrice(base-float64(n)*inc, i.PricePrecision)
	if !i.priceInBounds(p) {
		return nil
	}
	return &p
}

// NextAskPrice - n-й шаг цены вверх от value
func (i *Instrument) NextAskPrice(v float64, n int) *Price {
	inc := math.Abs(i.PriceIncrement.AsFloat64())
	if inc == 0 {
		return nil
	}
	base := math.Ceil(v/inc) * inc
	p := NewPrice(base+float64(n)*inc, i.PricePrecision)
	if !i.priceInBounds(p) {
		return nil
	}
	return &p
}

func (i *Instrument) priceInBounds(p Price) bool {
	if i.MinPrice != nil && p.Cmp(*i.MinPrice) < 0 {
		return false
	}
	if i.MaxPrice != nil && p.Cmp(*i.MaxPrice) > 0 {
		return false
	}
	return true
}

// ============================================================
// Конструкторы частых вариантов
// ============================================================

// NewCurrencyPair - спотовая пара base/quote
func NewCurrencyPair(id InstrumentID, base, quote Currency, pricePrecision, sizePrecision uint8) *Instrument {
	b := base
	return &Instrument{
		ID:                 id,
		RawSymbol:          id.Symbol,
		Kind:               InstrumentCurrencyPair,
		AssetClass:         AssetClassFX,
		InstrumentClass:    InstrumentClassSpot,
		BaseCurrency:       &b,
		QuoteCurrency:      quote,
		SettlementCurrency: quote,
		PricePrecision:     pricePrecision,
		SizePrecision:      sizePrecision,
		PriceIncrement:     PriceFromRaw(pow10(FixedPrecision-pricePrecision), pricePrecision),
		SizeIncrement:      QuantityFromRaw(uint64(pow10(FixedPrecision-sizePrecision)), sizePrecision),
		Multiplier:         QuantityFromRaw(FixedScalar, 0),
		MarginInit:         decimal.Zero,
		MarginMaint:        decimal.Zero,
		MakerFee:           decimal.Zero,
		TakerFee:           decimal.Zero,
	}
}

// NewCryptoPerpetual - бессрочный контракт; inverse - расчёты в базовой валюте
func NewCryptoPerpetual(id InstrumentID, base, quote Currency, inverse bool, pricePrecision, sizePrecision uint8) *Instrument {
	inst := NewCurrencyPair(id, base, quote, pricePrecision, sizePrecision)
	inst.Kind = InstrumentCryptoPerpetual
	inst.AssetClass = AssetClassCryptocurrency
	inst.InstrumentClass = InstrumentClassSwap
	inst.IsInverse = inverse
	if inverse {
		inst.SettlementCurrency = base
	}
	return inst
}

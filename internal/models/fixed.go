package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

// Фиксированная точка: все raw-значения хранятся в масштабе 10^9.
// Precision - количество знаков после запятой для отображения и округления.
const (
	FixedPrecision = 9
	FixedScalar    = 1_000_000_000

	// PriceUndef - сырое значение "цены нет" (DBN UNDEF_PRICE)
	PriceUndef = math.MaxInt64
)

var (
	ErrNegativeQuantity = errors.New("quantity must be non-negative")
	ErrPrecisionTooHigh = errors.New("precision exceeds maximum of 9")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func pow10(n uint8) int64 {
	p := int64(1)
	for i := uint8(0); i < n; i++ {
		p *= 10
	}
	return p
}

// roundRaw округляет raw (масштаб 10^9) до precision знаков, half-even
func roundRaw(raw int64, precision uint8) int64 {
	if precision >= FixedPrecision {
		return raw
	}
	return decimal.New(raw, -FixedPrecision).RoundBank(int32(precision)).Shift(FixedPrecision).IntPart()
}

func rawFromFloat(v float64, precision uint8) int64 {
	if precision > FixedPrecision {
		precision = FixedPrecision
	}
	return decimal.NewFromFloat(v).RoundBank(int32(precision)).Shift(FixedPrecision).IntPart()
}

func formatRaw(raw int64, precision uint8) string {
	return decimal.New(raw, -FixedPrecision).StringFixed(int32(precision))
}

// precisionOf возвращает число знаков после точки в текстовом числе
func precisionOf(s string) uint8 {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		d, err := decimal.NewFromString(s)
		if err != nil || d.Exponent() >= 0 {
			return 0
		}
		return uint8(-d.Exponent())
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return uint8(len(s) - i - 1)
	}
	return 0
}

// ============================================================
// Price
// ============================================================

// Price - цена с фиксированной точкой (может быть отрицательной)
type Price struct {
	Raw       int64
	Precision uint8
}

// NewPrice создаёт цену из float64 с округлением до precision
func NewPrice(v float64, precision uint8) Price {
	if precision > FixedPrecision {
		precision = FixedPrecision
	}
	return Price{Raw: rawFromFloat(v, precision), Precision: precision}
}

// PriceFromRaw создаёт цену из сырого значения без округления
func PriceFromRaw(raw int64, precision uint8) Price {
	return Price{Raw: raw, Precision: precision}
}

// PriceFromDecimal создаёт цену из decimal с округлением до precision
func PriceFromDecimal(d decimal.Decimal, precision uint8) Price {
	if precision > FixedPrecision {
		precision = FixedPrecision
	}
	return Price{Raw: d.RoundBank(int32(precision)).Shift(FixedPrecision).IntPart(), Precision: precision}
}

// ParsePrice разбирает строку; precision выводится из количества знаков
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	prec := precisionOf(s)
	if prec > FixedPrecision {
		return Price{}, ErrPrecisionTooHigh
	}
	return PriceFromDecimal(d, prec), nil
}

// MustPrice - ParsePrice с паникой (для констант и тестов)
func MustPrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func PriceMax(precision uint8) Price { return Price{Raw: math.MaxInt64 - 1, Precision: precision} }
func PriceMin(precision uint8) Price { return Price{Raw: math.MinInt64 + 1, Precision: precision} }

func (p Price) IsUndefined() bool { return p.Raw == PriceUndef }
func (p Price) IsZero() bool      { return p.Raw == 0 }
func (p Price) IsPositive() bool  { return p.Raw > 0 }

func (p Price) AsDecimal() decimal.Decimal {
	return decimal.New(p.Raw, -FixedPrecision).Round(int32(p.Precision))
}

func (p Price) AsFloat64() float64 {
	return float64(p.Raw) / FixedScalar
}

// Add складывает; точность результата - максимальная из двух
func (p Price) Add(o Price) Price {
	return Price{Raw: p.Raw + o.Raw, Precision: max(p.Precision, o.Precision)}
}

func (p Price) Sub(o Price) Price {
	return Price{Raw: p.Raw - o.Raw, Precision: max(p.Precision, o.Precision)}
}

func (p Price) Cmp(o Price) int {
	switch {
	case p.Raw < o.Raw:
		return -1
	case p.Raw > o.Raw:
		return 1
	}
	return 0
}

// Equal сравнивает только raw-значения
func (p Price) Equal(o Price) bool { return p.Raw == o.Raw }

func (p Price) String() string {
	if p.IsUndefined() {
		return "UNDEF"
	}
	return formatRaw(p.Raw, p.Precision)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ============================================================
// Quantity
// ============================================================

// Quantity - неотрицательное количество с фиксированной точкой
type Quantity struct {
	Raw       uint64
	Precision uint8
}

// NewQuantity создаёт количество; отрицательные значения запрещены
func NewQuantity(v float64, precision uint8) (Quantity, error) {
	if v < 0 || math.IsNaN(v) {
		return Quantity{}, fmt.Errorf("%w: %v", ErrNegativeQuantity, v)
	}
	if precision > FixedPrecision {
		return Quantity{}, ErrPrecisionTooHigh
	}
	return Quantity{Raw: uint64(rawFromFloat(v, precision)), Precision: precision}, nil
}

// MustQuantity - NewQuantity с паникой на отрицательных значениях
func MustQuantity(v float64, precision uint8) Quantity {
	q, err := NewQuantity(v, precision)
	if err != nil {
		panic(err)
	}
	return q
}

func QuantityFromRaw(raw uint64, precision uint8) Quantity {
	return Quantity{Raw: raw, Precision: precision}
}

func QuantityZero(precision uint8) Quantity {
	return Quantity{Precision: precision}
}

// QuantityFromDecimal округляет decimal до precision; отрицательные - ошибка
func QuantityFromDecimal(d decimal.Decimal, precision uint8) (Quantity, error) {
	if d.IsNegative() {
		return Quantity{}, fmt.Errorf("%w: %s", ErrNegativeQuantity, d)
	}
	if precision > FixedPrecision {
		return Quantity{}, ErrPrecisionTooHigh
	}
	return Quantity{Raw: uint64(d.RoundBank(int32(precision)).Shift(FixedPrecision).IntPart()), Precision: precision}, nil
}

// ParseQuantity разбирает строку; precision выводится из количества знаков
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	prec := precisionOf(s)
	if prec > FixedPrecision {
		return Quantity{}, ErrPrecisionTooHigh
	}
	return QuantityFromDecimal(d, prec)
}

func MustParseQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) IsZero() bool     { return q.Raw == 0 }
func (q Quantity) IsPositive() bool { return q.Raw > 0 }

func (q Quantity) AsDecimal() decimal.Decimal {
	return decimal.New(int64(q.Raw), -FixedPrecision).Round(int32(q.Precision))
}

func (q Quantity) AsFloat64() float64 {
	return float64(q.Raw) / FixedScalar
}

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{Raw: q.Raw + o.Raw, Precision: max(q.Precision, o.Precision)}
}

// Sub вычитает с насыщением в ноль
func (q Quantity) Sub(o Quantity) Quantity {
	if o.Raw > q.Raw {
		return Quantity{Precision: max(q.Precision, o.Precision)}
	}
	return Quantity{Raw: q.Raw - o.Raw, Precision: max(q.Precision, o.Precision)}
}

func (q Quantity) Cmp(o Quantity) int {
	switch {
	case q.Raw < o.Raw:
		return -1
	case q.Raw > o.Raw:
		return 1
	}
	return 0
}

func (q Quantity) Equal(o Quantity) bool { return q.Raw == o.Raw }

func (q Quantity) String() string {
	return decimal.New(int64(q.Raw), -FixedPrecision).StringFixed(int32(q.Precision))
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseQuantity(s)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// ============================================================
// Money
// ============================================================

// Money - денежная сумма в валюте; точность берётся из валюты
type Money struct {
	Raw      int64
	Currency Currency
}

// NewMoney округляет значение до точности валюты
func NewMoney(v float64, c Currency) Money {
	return Money{Raw: rawFromFloat(v, c.Precision), Currency: c}
}

func MoneyFromRaw(raw int64, c Currency) Money {
	return Money{Raw: raw, Currency: c}
}

func MoneyFromDecimal(d decimal.Decimal, c Currency) Money {
	return Money{Raw: d.RoundBank(int32(c.Precision)).Shift(FixedPrecision).IntPart(), Currency: c}
}

func MoneyZero(c Currency) Money { return Money{Currency: c} }

// ParseMoney разбирает "100.50 USD"
func ParseMoney(s string) (Money, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Money{}, fmt.Errorf("invalid money %q", s)
	}
	c, err := CurrencyFromCode(parts[1])
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(parts[0])
	if err != nil {
		return Money{}, fmt.Errorf("invalid money %q: %w", s, err)
	}
	return MoneyFromDecimal(d, c), nil
}

func (m Money) IsZero() bool { return m.Raw == 0 }

func (m Money) AsDecimal() decimal.Decimal {
	return decimal.New(m.Raw, -FixedPrecision).Round(int32(m.Currency.Precision))
}

func (m Money) AsFloat64() float64 {
	return float64(m.Raw) / FixedScalar
}

// Add складывает суммы одной валюты
func (m Money) Add(o Money) (Money, error) {
	if m.Currency.Code != o.Currency.Code {
		return m, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency.Code, o.Currency.Code)
	}
	return Money{Raw: m.Raw + o.Raw, Currency: m.Currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if m.Currency.Code != o.Currency.Code {
		return m, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency.Code, o.Currency.Code)
	}
	return Money{Raw: m.Raw - o.Raw, Currency: m.Currency}, nil
}

// MustAdd - Add для случаев, где совпадение валют гарантировано
func (m Money) MustAdd(o Money) Money {
	r, err := m.Add(o)
	if err != nil {
		panic(err)
	}
	return r
}

func (m Money) Neg() Money { return Money{Raw: -m.Raw, Currency: m.Currency} }

func (m Money) Equal(o Money) bool {
	return m.Raw == o.Raw && m.Currency.Code == o.Currency.Code
}

func (m Money) String() string {
	return formatRaw(m.Raw, m.Currency.Precision) + " " + m.Currency.Code
}

// MarshalJSON - "100.50 USD"; сумма без валюты кодируется как null
func (m Money) MarshalJSON() ([]byte, error) {
	if m.Currency.Code == "" {
		return []byte("null"), nil
	}
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Money{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// Идентификаторы - строковые типы: сравнение строк в Go дешёвое,
// а одинаковые литералы разделяют память.
type (
	Symbol        string
	Venue         string
	AccountID     string
	ClientOrderID string
	VenueOrderID  string
	PositionID    string
	TradeID       string
	StrategyID    string
	TraderID      string
	OrderListID   string
	ComponentID   string
)

// InstrumentID = (symbol, venue), строковая форма "SYMBOL.VENUE"
type InstrumentID struct {
	Symbol Symbol `json:"symbol"`
	Venue  Venue  `json:"venue"`
}

func NewInstrumentID(symbol, venue string) InstrumentID {
	return InstrumentID{Symbol: Symbol(symbol), Venue: Venue(venue)}
}

// ParseInstrumentID разбирает "SYMBOL.VENUE" по последней точке
func ParseInstrumentID(s string) (InstrumentID, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return InstrumentID{}, fmt.Errorf("invalid instrument id %q: expected SYMBOL.VENUE", s)
	}
	return InstrumentID{Symbol: Symbol(s[:i]), Venue: Venue(s[i+1:])}, nil
}

func MustInstrumentID(s string) InstrumentID {
	id, err := ParseInstrumentID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id InstrumentID) String() string { return string(id.Symbol) + "." + string(id.Venue) }
func (id InstrumentID) IsZero() bool   { return id.Symbol == "" && id.Venue == "" }

// MarshalText позволяет использовать InstrumentID как ключ JSON-объекта;
// пустой идентификатор кодируется пустой строкой
func (id InstrumentID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *InstrumentID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = InstrumentID{}
		return nil
	}
	v, err := ParseInstrumentID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Issuer - часть AccountID до первого '-'
func (a AccountID) Issuer() string {
	s := string(a)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

func (a AccountID) String() string { return string(a) }

func NewAccountID(issuer, number string) AccountID {
	return AccountID(issuer + "-" + number)
}

// ============================================================
// UnixNanos
// ============================================================

// UnixNanos - наносекунды с начала Unix-эпохи
type UnixNanos uint64

func NanosNow() UnixNanos { return UnixNanos(time.Now().UnixNano()) }

func NanosFromTime(t time.Time) UnixNanos { return UnixNanos(t.UnixNano()) }

func MillisToNanos(ms int64) UnixNanos { return UnixNanos(ms) * UnixNanos(time.Millisecond) }

func MicrosToNanos(us int64) UnixNanos { return UnixNanos(us) * UnixNanos(time.Microsecond) }

func SecsToNanos(s float64) UnixNanos { return UnixNanos(s * float64(time.Second)) }

func (t UnixNanos) Time() time.Time { return time.Unix(0, int64(t)).UTC() }

func (t UnixNanos) Millis() int64 { return int64(t) / int64(time.Millisecond) }

func (t UnixNanos) String() string { return t.Time().Format(time.RFC3339Nano) }

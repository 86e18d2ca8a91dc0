// Package dbn - бинарный формат записей рыночных данных (DBN-совместимая
// раскладка): разбор записей, преобразование в модель и потоковый декодер.
package dbn

import (
	"encoding/binary"
	"fmt"
	"strings"

	"tradecore/internal/codec"
)

// RType - тип записи из заголовка
type RType uint8

const (
	RTypeMbp0       RType = 0x00 // trades
	RTypeMbp1       RType = 0x01
	RTypeMbp10      RType = 0x0A
	RTypeStatus     RType = 0x12
	RTypeInstrument RType = 0x13
	RTypeImbalance  RType = 0x14
	RTypeStatistics RType = 0x18
	RTypeOhlcv1S    RType = 0x20
	RTypeOhlcv1M    RType = 0x21
	RTypeOhlcv1H    RType = 0x22
	RTypeOhlcv1D    RType = 0x23
	RTypeOhlcvEod   RType = 0x24
	RTypeMbo        RType = 0xA0
	RTypeCmbp1      RType = 0xB1
	RTypeCbbo1S     RType = 0xC0
	RTypeCbbo1M     RType = 0xC1
	RTypeTcbbo      RType = 0xC2
	RTypeBbo1S      RType = 0xC3
	RTypeBbo1M      RType = 0xC4
)

// UndefPrice - цена отсутствует
const UndefPrice = int64(^uint64(0) >> 1)

// Размеры записей в байтах (кратны 4, длина в заголовке - в словах)
const (
	headerSize     = 16
	levelSize      = 32
	mboSize        = 56
	tradeSize      = 48
	mbp1Size       = tradeSize + levelSize
	mbp10Size      = tradeSize + 10*levelSize
	ohlcvSize      = 56
	statusSize     = 40
	imbalanceSize  = 112
	statSize       = 64
	instrumentSize = 148
)

// RecordHeader - общий заголовок записи
type RecordHeader struct {
	RType        RType
	PublisherID  uint16
	InstrumentID uint32
	TsEvent      uint64
}

func (h RecordHeader) Header() RecordHeader { return h }

// Record - разобранная запись
type Record interface {
	Header() RecordHeader
}

type MboMsg struct {
	RecordHeader
	OrderID   uint64
	Price     int64
	Size      uint32
	Flags     uint8
	ChannelID uint8
	Action    byte
	Side      byte
	TsRecv    uint64
	TsInDelta int32
	Sequence  uint32
}

// TradeMsg - сделка (MBP-0)
type TradeMsg struct {
	RecordHeader
	Price     int64
	Size      uint32
	Action    byte
	Side      byte
	Flags     uint8
	Depth     uint8
	TsRecv    uint64
	TsInDelta int32
	Sequence  uint32
}

type BidAskPair struct {
	BidPx int64
	AskPx int64
	BidSz uint32
	AskSz uint32
	BidCt uint32
	AskCt uint32
}

// Mbp1Msg - верх книги; та же раскладка у BBO, CBBO и TCBBO
type Mbp1Msg struct {
	TradeMsg
	Level BidAskPair
}

// TbboMsg - верх книги вместе со сделкой (схема tbbo, rtype MBP-1)
type TbboMsg struct {
	Mbp1Msg
}

type Mbp10Msg struct {
	TradeMsg
	Levels [10]BidAskPair
}

type OhlcvMsg struct {
	RecordHeader
	Open   int64
	High   int64
	Low    int64
	Close  int64
	Volume uint64
}

type StatusMsg struct {
	RecordHeader
	TsRecv                uint64
	Action                uint16
	Reason                uint16
	TradingEvent          uint16
	IsTrading             byte
	IsQuoting             byte
	IsShortSellRestricted byte
}

type ImbalanceMsg struct {
	RecordHeader
	TsRecv               uint64
	RefPrice             int64
	AuctionTime          uint64
	ContBookClrPrice     int64
	AuctInterestClrPrice int64
	SsrFillingPrice      int64
	IndMatchPrice        int64
	UpperCollar          int64
	LowerCollar          int64
	PairedQty            uint32
	TotalImbalanceQty    uint32
	MarketImbalanceQty   uint32
	UnpairedQty          uint32
	AuctionType          byte
	Side                 byte
	AuctionStatus        uint8
	FreezeStatus         uint8
	NumExtensions        uint8
	UnpairedSide         byte
	SignificantImbalance byte
}

type StatMsg struct {
	RecordHeader
	TsRecv       uint64
	TsRef        uint64
	Price        int64
	Quantity     int32
	Sequence     uint32
	TsInDelta    int32
	StatType     uint16
	ChannelID    uint16
	UpdateAction uint8
	StatFlags    uint8
}

// InstrumentDefMsg - определение инструмента (сокращённый набор полей)
type InstrumentDefMsg struct {
	RecordHeader
	TsRecv              uint64
	MinPriceIncrement   int64
	UnitOfMeasureQty    int64
	StrikePrice         int64
	Expiration          uint64
	Activation          uint64
	MinLotSizeRoundLot  int32
	InstrumentClass     byte
	Currency            string
	StrikePriceCurrency string
	Exchange            string
	Asset               string
	CFI                 string
	SecSubType          string
	Underlying          string
	RawSymbol           string
}

// Длины строковых полей определения инструмента
var instrumentStrings = [...]int{4, 4, 5, 7, 7, 6, 21, 22}

// ============================================================
// Wire helpers
// ============================================================

var le = binary.LittleEndian

type reader struct {
	b   []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	v := le.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	v := le.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	v := le.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) i32() int32 { return int32(r.u32()) }
func (r *reader) i64() int64 { return int64(r.u64()) }
func (r *reader) skip(n int) { r.off += n }

func (r *reader) str(n int) string {
	s := strings.TrimRight(string(r.b[r.off:r.off+n]), "\x00")
	r.off += n
	return s
}

type writer struct {
	b []byte
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) { w.b = le.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32) { w.b = le.AppendUint32(w.b, v) }
func (w *writer) u64(v uint64) { w.b = le.AppendUint64(w.b, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) pad(n int)    { w.b = append(w.b, make([]byte, n)...) }
func (w *writer) str(s string, n int) {
	field := make([]byte, n)
	copy(field, s)
	w.b = append(w.b, field...)
}

func (w *writer) header(h RecordHeader, size int) {
	w.u8(uint8(size / 4))
	w.u8(uint8(h.RType))
	w.u16(h.PublisherID)
	w.u32(h.InstrumentID)
	w.u64(h.TsEvent)
}

func (w *writer) level(l BidAskPair) {
	w.i64(l.BidPx)
	w.i64(l.AskPx)
	w.u32(l.BidSz)
	w.u32(l.AskSz)
	w.u32(l.BidCt)
	w.u32(l.AskCt)
}

func (r *reader) level() BidAskPair {
	return BidAskPair{
		BidPx: r.i64(),
		AskPx: r.i64(),
		BidSz: r.u32(),
		AskSz: r.u32(),
		BidCt: r.u32(),
		AskCt: r.u32(),
	}
}

func (r *reader) trade(h RecordHeader) TradeMsg {
	return TradeMsg{
		RecordHeader: h,
		Price:        r.i64(),
		Size:         r.u32(),
		Action:       r.u8(),
		Side:         r.u8(),
		Flags:        r.u8(),
		Depth:        r.u8(),
		TsRecv:       r.u64(),
		TsInDelta:    r.i32(),
		Sequence:     r.u32(),
	}
}

func (w *writer) trade(m TradeMsg) {
	w.i64(m.Price)
	w.u32(m.Size)
	w.u8(m.Action)
	w.u8(m.Side)
	w.u8(m.Flags)
	w.u8(m.Depth)
	w.u64(m.TsRecv)
	w.i32(m.TsInDelta)
	w.u32(m.Sequence)
}

// ============================================================
// Parse
// ============================================================

// recordSize - ожидаемый размер записи для rtype
func recordSize(rt RType) (int, bool) {
	switch rt {
	case RTypeMbo:
		return mboSize, true
	case RTypeMbp0:
		return tradeSize, true
	case RTypeMbp1, RTypeCmbp1, RTypeBbo1S, RTypeBbo1M, RTypeCbbo1S, RTypeCbbo1M, RTypeTcbbo:
		return mbp1Size, true
	case RTypeMbp10:
		return mbp10Size, true
	case RTypeOhlcv1S, RTypeOhlcv1M, RTypeOhlcv1H, RTypeOhlcv1D, RTypeOhlcvEod:
		return ohlcvSize, true
	case RTypeStatus:
		return statusSize, true
	case RTypeImbalance:
		return imbalanceSize, true
	case RTypeStatistics:
		return statSize, true
	case RTypeInstrument:
		return instrumentSize, true
	}
	return 0, false
}

// ParseRecord разбирает одну запись. Для схемы tbbo записи MBP-1
// возвращаются как TbboMsg.
func ParseRecord(b []byte, schema Schema) (Record, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: record shorter than header (%d bytes)", codec.ErrInvalidFormat, len(b))
	}
	r := &reader{b: b}
	length := int(r.u8()) * 4
	h := RecordHeader{RType: RType(r.u8())}
	h.PublisherID = r.u16()
	h.InstrumentID = r.u32()
	h.TsEvent = r.u64()

	size, ok := recordSize(h.RType)
	if !ok {
		return nil, fmt.Errorf("%w: rtype 0x%02X", codec.ErrUnsupportedMessage, uint8(h.RType))
	}
	if length != size || len(b) < size {
		return nil, fmt.Errorf("%w: rtype 0x%02X length %d, expected %d", codec.ErrInvalidFormat, uint8(h.RType), length, size)
	}

	switch h.RType {
	case RTypeMbo:
		return &MboMsg{
			RecordHeader: h,
			OrderID:      r.u64(),
			Price:        r.i64(),
			Size:         r.u32(),
			Flags:        r.u8(),
			ChannelID:    r.u8(),
			Action:       r.u8(),
			Side:         r.u8(),
			TsRecv:       r.u64(),
			TsInDelta:    r.i32(),
			Sequence:     r.u32(),
		}, nil
	case RTypeMbp0:
		m := r.trade(h)
		return &m, nil
	case RTypeMbp1, RTypeCmbp1, RTypeBbo1S, RTypeBbo1M, RTypeCbbo1S, RTypeCbbo1M, RTypeTcbbo:
		m := Mbp1Msg{TradeMsg: r.trade(h)}
		m.Level = r.level()
		if h.RType == RTypeMbp1 && schema == SchemaTbbo {
			return &TbboMsg{Mbp1Msg: m}, nil
		}
		return &m, nil
	case RTypeMbp10:
		m := Mbp10Msg{TradeMsg: r.trade(h)}
		for i := range m.Levels {
			m.Levels[i] = r.level()
		}
		return &m, nil
	case RTypeOhlcv1S, RTypeOhlcv1M, RTypeOhlcv1H, RTypeOhlcv1D, RTypeOhlcvEod:
		return &OhlcvMsg{
			RecordHeader: h,
			Open:         r.i64(),
			High:         r.i64(),
			Low:          r.i64(),
			Close:        r.i64(),
			Volume:       r.u64(),
		}, nil
	case RTypeStatus:
		return &StatusMsg{
			RecordHeader:          h,
			TsRecv:                r.u64(),
			Action:                r.u16(),
			Reason:                r.u16(),
			TradingEvent:          r.u16(),
			IsTrading:             r.u8(),
			IsQuoting:             r.u8(),
			IsShortSellRestricted: r.u8(),
		}, nil
	case RTypeImbalance:
		return &ImbalanceMsg{
			RecordHeader:         h,
			TsRecv:               r.u64(),
			RefPrice:             r.i64(),
			AuctionTime:          r.u64(),
			ContBookClrPrice:     r.i64(),
			AuctInterestClrPrice: r.i64(),
			SsrFillingPrice:      r.i64(),
			IndMatchPrice:        r.i64(),
			UpperCollar:          r.i64(),
			LowerCollar:          r.i64(),
			PairedQty:            r.u32(),
			TotalImbalanceQty:    r.u32(),
			MarketImbalanceQty:   r.u32(),
			UnpairedQty:          r.u32(),
			AuctionType:          r.u8(),
			Side:                 r.u8(),
			AuctionStatus:        r.u8(),
			FreezeStatus:         r.u8(),
			NumExtensions:        r.u8(),
			UnpairedSide:         r.u8(),
			SignificantImbalance: r.u8(),
		}, nil
	case RTypeStatistics:
		return &StatMsg{
			RecordHeader: h,
			TsRecv:       r.u64(),
			TsRef:        r.u64(),
			Price:        r.i64(),
			Quantity:     r.i32(),
			Sequence:     r.u32(),
			TsInDelta:    r.i32(),
			StatType:     r.u16(),
			ChannelID:    r.u16(),
			UpdateAction: r.u8(),
			StatFlags:    r.u8(),
		}, nil
	case RTypeInstrument:
		m := &InstrumentDefMsg{RecordHeader: h}
		m.TsRecv = r.u64()
		m.MinPriceIncrement = r.i64()
		m.UnitOfMeasureQty = r.i64()
		m.StrikePrice = r.i64()
		m.Expiration = r.u64()
		m.Activation = r.u64()
		m.MinLotSizeRoundLot = r.i32()
		m.InstrumentClass = r.u8()
		r.skip(3)
		fields := []*string{&m.Currency, &m.StrikePriceCurrency, &m.Exchange, &m.Asset,
			&m.CFI, &m.SecSubType, &m.Underlying, &m.RawSymbol}
		for i, f := range fields {
			*f = r.str(instrumentStrings[i])
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: rtype 0x%02X", codec.ErrUnsupportedMessage, uint8(h.RType))
}

// ============================================================
// Encode
// ============================================================

// EncodeRecord сериализует запись в ту же раскладку, что читает ParseRecord
func EncodeRecord(rec Record) ([]byte, error) {
	w := &writer{b: make([]byte, 0, 128)}

	switch m := rec.(type) {
	case *MboMsg:
		w.header(m.RecordHeader, mboSize)
		w.u64(m.OrderID)
		w.i64(m.Price)
		w.u32(m.Size)
		w.u8(m.Flags)
		w.u8(m.ChannelID)
		w.u8(m.Action)
		w.u8(m.Side)
		w.u64(m.TsRecv)
		w.i32(m.TsInDelta)
		w.u32(m.Sequence)
	case *TradeMsg:
		w.header(m.RecordHeader, tradeSize)
		w.trade(*m)
	case *TbboMsg:
		w.header(m.RecordHeader, mbp1Size)
		w.trade(m.TradeMsg)
		w.level(m.Level)
	case *Mbp1Msg:
		w.header(m.RecordHeader, mbp1Size)
		w.trade(m.TradeMsg)
		w.level(m.Level)
	case *Mbp10Msg:
		w.header(m.RecordHeader, mbp10Size)
		w.trade(m.TradeMsg)
		for _, l := range m.Levels {
			w.level(l)
		}
	case *OhlcvMsg:
		w.header(m.RecordHeader, ohlcvSize)
		w.i64(m.Open)
		w.i64(m.High)
		w.i64(m.Low)
		w.i64(m.Close)
		w.u64(m.Volume)
	case *StatusMsg:
		w.header(m.RecordHeader, statusSize)
		w.u64(m.TsRecv)
		w.u16(m.Action)
		w.u16(m.Reason)
		w.u16(m.TradingEvent)
		w.u8(m.IsTrading)
		w.u8(m.IsQuoting)
		w.u8(m.IsShortSellRestricted)
		w.pad(7)
	case *ImbalanceMsg:
		w.header(m.RecordHeader, imbalanceSize)
		w.u64(m.TsRecv)
		w.i64(m.RefPrice)
		w.u64(m.AuctionTime)
		w.i64(m.ContBookClrPrice)
		w.i64(m.AuctInterestClrPrice)
		w.i64(m.SsrFillingPrice)
		w.i64(m.IndMatchPrice)
		w.i64(m.UpperCollar)
		w.i64(m.LowerCollar)
		w.u32(m.PairedQty)
		w.u32(m.TotalImbalanceQty)
		w.u32(m.MarketImbalanceQty)
		w.u32(m.UnpairedQty)
		w.u8(m.AuctionType)
		w.u8(m.Side)
		w.u8(m.AuctionStatus)
		w.u8(m.FreezeStatus)
		w.u8(m.NumExtensions)
		w.u8(m.UnpairedSide)
		w.u8(m.SignificantImbalance)
		w.pad(1)
	case *StatMsg:
		w.header(m.RecordHeader, statSize)
		w.u64(m.TsRecv)
		w.u64(m.TsRef)
		w.i64(m.Price)
		w.i32(m.Quantity)
		w.u32(m.Sequence)
		w.i32(m.TsInDelta)
		w.u16(m.StatType)
		w.u16(m.ChannelID)
		w.u8(m.UpdateAction)
		w.u8(m.StatFlags)
		w.pad(6)
	case *InstrumentDefMsg:
		w.header(m.RecordHeader, instrumentSize)
		w.u64(m.TsRecv)
		w.i64(m.MinPriceIncrement)
		w.i64(m.UnitOfMeasureQty)
		w.i64(m.StrikePrice)
		w.u64(m.Expiration)
		w.u64(m.Activation)
		w.i32(m.MinLotSizeRoundLot)
		w.u8(m.InstrumentClass)
		w.pad(3)
		fields := []string{m.Currency, m.StrikePriceCurrency, m.Exchange, m.Asset,
			m.CFI, m.SecSubType, m.Underlying, m.RawSymbol}
		for i, f := range fields {
			w.str(f, instrumentStrings[i])
		}
	default:
		return nil, fmt.Errorf("%w: record %T", codec.ErrUnsupportedMessage, rec)
	}
	return w.b, nil
}

package tardis

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"tradecore/internal/codec"
	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

// errSkip - строка пропускается без предупреждения (нет данных)
var errSkip = errors.New("skip row")

// Stream - пакетное чтение CSV-файла. Повреждённые строки пропускаются
// с предупреждением.
type Stream[T any] struct {
	kind    string
	rows    *rowReader
	parse   func(row) (T, error)
	finish  func([]T)
	chunk   int
	limit   int
	emitted int
	done    bool
	logger  *utils.Logger
}

var _ codec.Stream[models.QuoteTick] = (*Stream[models.QuoteTick])(nil)

func newStream[T any](path, kind string, chunkSize int, limit *int, parse func(row) (T, error)) (*Stream[T], error) {
	rows, err := openRows(path)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = codec.DefaultChunkSize
	}
	s := &Stream[T]{
		kind:   kind,
		rows:   rows,
		parse:  parse,
		chunk:  chunkSize,
		logger: utils.L().WithComponent("tardis"),
	}
	if limit != nil {
		s.limit = *limit
	}
	return s, nil
}

func (s *Stream[T]) limitReached() bool {
	return s.limit > 0 && s.emitted >= s.limit
}

// Next - очередной пакет не длиннее размера чанка; io.EOF - конец файла
func (s *Stream[T]) Next() ([]T, error) {
	if s.done {
		return nil, io.EOF
	}

	out := make([]T, 0, s.chunk)
	for len(out) < s.chunk && !s.limitReached() {
		r, err := s.rows.next()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err == nil {
			var v T
			v, err = s.parse(r)
			if err == nil {
				out = append(out, v)
				s.emitted++
				continue
			}
		}
		if errors.Is(err, errSkip) {
			continue
		}
		if !errors.Is(err, codec.ErrInvalidFormat) {
			s.done = true
			return nil, fmt.Errorf("tardis %s: %w", s.kind, err)
		}
		codec.RecordSkipped("tardis")
		s.logger.Warn("skipping row", utils.String("kind", s.kind), utils.Err(err))
	}
	if s.limitReached() {
		s.done = true
	}

	if len(out) == 0 {
		return nil, io.EOF
	}
	if s.finish != nil {
		s.finish(out)
	}
	codec.RecordDecoded("tardis", s.kind, len(out))
	return out, nil
}

func (s *Stream[T]) Close() error {
	s.done = true
	return s.rows.Close()
}

// ============================================================
// Deltas
// ============================================================

func parseBookSide(s string) models.OrderSide {
	switch s {
	case "bid":
		return models.OrderSideBuy
	case "ask":
		return models.OrderSideSell
	}
	return models.NoOrderSide
}

func parseAggressor(s string) models.AggressorSide {
	switch s {
	case "buy":
		return models.AggressorBuyer
	case "sell":
		return models.AggressorSeller
	}
	return models.NoAggressor
}

// StreamDeltas читает incremental_book_L2. Снимок даёт Add, нулевой объём -
// Delete, остальное - Update. Последней дельте каждой группы с одним
// ts_event в пакете выставляется F_LAST.
func StreamDeltas(path string, chunkSize int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) (*Stream[models.OrderBookDelta], error) {
	pricePrec, sizePrec, err := inferPrecision(path, "deltas", pricePrecision, sizePrecision,
		[]string{"price"}, []string{"amount"}, 0)
	if err != nil {
		return nil, err
	}

	parse := func(r row) (models.OrderBookDelta, error) {
		tsEvent, tsInit, err := r.timestamps()
		if err != nil {
			return models.OrderBookDelta{}, err
		}
		price, err := r.price("price", pricePrec)
		if err != nil {
			return models.OrderBookDelta{}, err
		}
		size, err := r.quantity("amount", sizePrec)
		if err != nil {
			return models.OrderBookDelta{}, err
		}
		snapshot, err := strconv.ParseBool(r.get("is_snapshot"))
		if err != nil {
			return models.OrderBookDelta{}, fmt.Errorf("%w: is_snapshot=%q", codec.ErrInvalidFormat, r.get("is_snapshot"))
		}

		action := models.BookActionUpdate
		switch {
		case snapshot:
			action = models.BookActionAdd
		case size.IsZero():
			action = models.BookActionDelete
		}
		if action != models.BookActionDelete && size.IsZero() {
			return models.OrderBookDelta{}, fmt.Errorf("%w: zero size for %s, check size precision %d",
				codec.ErrInvalidFormat, action, sizePrec)
		}

		return models.OrderBookDelta{
			InstrumentID: r.instrumentID(instrumentID),
			Action:       action,
			Order: models.BookOrder{
				Side:  parseBookSide(r.get("side")),
				Price: price,
				Size:  size,
			},
			TsEvent: tsEvent,
			TsInit:  tsInit,
		}, nil
	}

	s, err := newStream(path, "deltas", chunkSize, limit, parse)
	if err != nil {
		return nil, err
	}
	s.finish = codec.MarkLast
	return s, nil
}

// ============================================================
// Quotes and trades
// ============================================================

// StreamQuotes читает quotes; пустые значения дают 0
func StreamQuotes(path string, chunkSize int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) (*Stream[models.QuoteTick], error) {
	pricePrec, sizePrec, err := inferPrecision(path, "quotes", pricePrecision, sizePrecision,
		[]string{"bid_price", "ask_price"}, []string{"bid_amount", "ask_amount"}, 0)
	if err != nil {
		return nil, err
	}

	parse := func(r row) (models.QuoteTick, error) {
		var q models.QuoteTick
		tsEvent, tsInit, err := r.timestamps()
		if err != nil {
			return q, err
		}
		if q.BidPrice, err = r.price("bid_price", pricePrec); err != nil {
			return q, err
		}
		if q.AskPrice, err = r.price("ask_price", pricePrec); err != nil {
			return q, err
		}
		if q.BidSize, err = r.quantity("bid_amount", sizePrec); err != nil {
			return q, err
		}
		if q.AskSize, err = r.quantity("ask_amount", sizePrec); err != nil {
			return q, err
		}
		q.InstrumentID = r.instrumentID(instrumentID)
		q.TsEvent = tsEvent
		q.TsInit = tsInit
		return q, nil
	}
	return newStream(path, "quotes", chunkSize, limit, parse)
}

// StreamTrades читает trades
func StreamTrades(path string, chunkSize int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) (*Stream[models.TradeTick], error) {
	pricePrec, sizePrec, err := inferPrecision(path, "trades", pricePrecision, sizePrecision,
		[]string{"price"}, []string{"amount"}, 0)
	if err != nil {
		return nil, err
	}

	parse := func(r row) (models.TradeTick, error) {
		var t models.TradeTick
		tsEvent, tsInit, err := r.timestamps()
		if err != nil {
			return t, err
		}
		if t.Price, err = r.price("price", pricePrec); err != nil {
			return t, err
		}
		if t.Size, err = r.quantity("amount", sizePrec); err != nil {
			return t, err
		}
		id := r.get("id")
		if id == "" {
			return t, fmt.Errorf("%w: empty trade id", codec.ErrInvalidFormat)
		}
		if t.Size.IsZero() {
			return t, fmt.Errorf("%w: zero size trade %s", codec.ErrInvalidFormat, id)
		}
		t.InstrumentID = r.instrumentID(instrumentID)
		t.AggressorSide = parseAggressor(r.get("side"))
		t.TradeID = models.TradeID(id)
		t.TsEvent = tsEvent
		t.TsInit = tsInit
		return t, nil
	}
	return newStream(path, "trades", chunkSize, limit, parse)
}

// ============================================================
// Depth snapshots
// ============================================================

func levelColumns(levels int) (prices, sizes []string) {
	for i := 0; i < levels; i++ {
		prices = append(prices, fmt.Sprintf("asks[%d].price", i), fmt.Sprintf("bids[%d].price", i))
		sizes = append(sizes, fmt.Sprintf("asks[%d].amount", i), fmt.Sprintf("bids[%d].amount", i))
	}
	return prices, sizes
}

// bookLevel - уровень книги; без цены - пустой уровень со счётчиком 0
func bookLevel(r row, side models.OrderSide, prefix string, i int, pricePrec, sizePrec uint8) (models.BookOrder, uint32, error) {
	pxCol := fmt.Sprintf("%s[%d].price", prefix, i)
	if r.get(pxCol) == "" {
		return models.NullOrder, 0, nil
	}
	price, err := r.price(pxCol, pricePrec)
	if err != nil {
		return models.BookOrder{}, 0, err
	}
	size, err := r.quantity(fmt.Sprintf("%s[%d].amount", prefix, i), sizePrec)
	if err != nil {
		return models.BookOrder{}, 0, err
	}
	return models.BookOrder{Side: side, Price: price, Size: size}, 1, nil
}

func streamDepth10(path string, levels, chunkSize int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) (*Stream[models.OrderBookDepth10], error) {
	kind := fmt.Sprintf("book_snapshot_%d", levels)
	priceCols, sizeCols := levelColumns(levels)
	pricePrec, sizePrec, err := inferPrecision(path, kind, pricePrecision, sizePrecision, priceCols, sizeCols, 2)
	if err != nil {
		return nil, err
	}
	depthLevels := min(levels, models.DepthLevels)

	parse := func(r row) (models.OrderBookDepth10, error) {
		d := models.OrderBookDepth10{Flags: models.FlagSnapshot}
		tsEvent, tsInit, err := r.timestamps()
		if err != nil {
			return d, err
		}
		for i := 0; i < models.DepthLevels; i++ {
			d.Bids[i] = models.NullOrder
			d.Asks[i] = models.NullOrder
		}
		for i := 0; i < depthLevels; i++ {
			if d.Bids[i], d.BidCounts[i], err = bookLevel(r, models.OrderSideBuy, "bids", i, pricePrec, sizePrec); err != nil {
				return d, err
			}
			if d.Asks[i], d.AskCounts[i], err = bookLevel(r, models.OrderSideSell, "asks", i, pricePrec, sizePrec); err != nil {
				return d, err
			}
		}
		d.InstrumentID = r.instrumentID(instrumentID)
		d.TsEvent = tsEvent
		d.TsInit = tsInit
		return d, nil
	}
	return newStream(path, kind, chunkSize, limit, parse)
}

// StreamDepth10FromSnapshot5 читает book_snapshot_5; уровни 6-10 пустые
func StreamDepth10FromSnapshot5(path string, chunkSize int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) (*Stream[models.OrderBookDepth10], error) {
	return streamDepth10(path, 5, chunkSize, pricePrecision, sizePrecision, instrumentID, limit)
}

// StreamDepth10FromSnapshot25 читает book_snapshot_25; берутся первые 10 уровней
func StreamDepth10FromSnapshot25(path string, chunkSize int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) (*Stream[models.OrderBookDepth10], error) {
	return streamDepth10(path, 25, chunkSize, pricePrecision, sizePrecision, instrumentID, limit)
}

// ============================================================
// Funding rates
// ============================================================

// StreamFundingRates читает derivative_ticker. Строки без funding_rate
// пропускаются. Точности не используются: ставка хранится как decimal.
func StreamFundingRates(path string, chunkSize int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) (*Stream[models.FundingRateUpdate], error) {
	parse := func(r row) (models.FundingRateUpdate, error) {
		var f models.FundingRateUpdate
		if r.get("funding_rate") == "" {
			return f, errSkip
		}
		tsEvent, tsInit, err := r.timestamps()
		if err != nil {
			return f, err
		}
		if f.Rate, err = r.decimal("funding_rate"); err != nil {
			return f, err
		}
		if r.get("funding_timestamp") != "" {
			next, err := r.micros("funding_timestamp")
			if err != nil {
				return f, err
			}
			f.NextFunding = &next
		}
		f.InstrumentID = r.instrumentID(instrumentID)
		f.TsEvent = tsEvent
		f.TsInit = tsInit
		return f, nil
	}

	s, err := newStream(path, "funding_rates", chunkSize, limit, parse)
	if err != nil {
		return nil, err
	}
	if !s.rows.has("funding_rate") {
		s.Close()
		return nil, fmt.Errorf("%s: %w: no funding_rate column", path, codec.ErrInvalidFormat)
	}
	return s, nil
}

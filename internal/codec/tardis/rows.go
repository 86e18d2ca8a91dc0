package tardis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tradecore/internal/codec"
	"tradecore/internal/models"
	"tradecore/pkg/utils"

	"github.com/shopspring/decimal"
)

// rowReader читает CSV с заголовком; колонки ищутся по имени
type rowReader struct {
	rc   io.ReadCloser
	r    *csv.Reader
	cols map[string]int
}

func openRows(path string) (*rowReader, error) {
	rc, err := codec.OpenFile(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(rc)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		rc.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w: empty file", path, codec.ErrInvalidFormat)
		}
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	return &rowReader{rc: rc, r: r, cols: cols}, nil
}

// next - очередная строка; ошибки разбора CSV возвращаются как ErrInvalidFormat
func (rr *rowReader) next() (row, error) {
	rec, err := rr.r.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return row{}, fmt.Errorf("%w: %v", codec.ErrInvalidFormat, perr)
		}
		return row{}, err
	}
	return row{rec: rec, cols: rr.cols}, nil
}

func (rr *rowReader) Close() error { return rr.rc.Close() }

func (rr *rowReader) has(name string) bool {
	_, ok := rr.cols[name]
	return ok
}

// ============================================================
// Row
// ============================================================

type row struct {
	rec  []string
	cols map[string]int
}

// get - значение колонки; пустая строка, если колонки нет
func (r row) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r row) decimal(name string) (decimal.Decimal, error) {
	s := r.get(name)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", codec.ErrInvalidFormat, name, s)
	}
	return d, nil
}

// decimalOrZero - пустое значение трактуется как 0
func (r row) decimalOrZero(name string) (decimal.Decimal, error) {
	if r.get(name) == "" {
		return decimal.Zero, nil
	}
	return r.decimal(name)
}

func (r row) price(name string, precision uint8) (models.Price, error) {
	d, err := r.decimalOrZero(name)
	if err != nil {
		return models.Price{}, err
	}
	return models.PriceFromDecimal(d, precision), nil
}

func (r row) quantity(name string, precision uint8) (models.Quantity, error) {
	d, err := r.decimalOrZero(name)
	if err != nil {
		return models.Quantity{}, err
	}
	q, err := models.QuantityFromDecimal(d, precision)
	if err != nil {
		return models.Quantity{}, fmt.Errorf("%w: %s: %v", codec.ErrInvalidFormat, name, err)
	}
	return q, nil
}

// micros - метка времени в микросекундах
func (r row) micros(name string) (models.UnixNanos, error) {
	s := r.get(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s=%q", codec.ErrInvalidFormat, name, s)
	}
	return models.MicrosToNanos(v), nil
}

func (r row) timestamps() (models.UnixNanos, models.UnixNanos, error) {
	tsEvent, err := r.micros("timestamp")
	if err != nil {
		return 0, 0, err
	}
	tsInit, err := r.micros("local_timestamp")
	if err != nil {
		return 0, 0, err
	}
	return tsEvent, tsInit, nil
}

func (r row) instrumentID(fixed *models.InstrumentID) models.InstrumentID {
	if fixed != nil {
		return *fixed
	}
	return InstrumentID(r.get("exchange"), r.get("symbol"))
}

// ============================================================
// Precision
// ============================================================

// inferPrecision просматривает первые строки файла и возвращает максимальное
// число знаков среди колонок цены и размера. Заданные значения не меняются.
func inferPrecision(path, kind string, pricePrecision, sizePrecision *uint8,
	priceCols, sizeCols []string, priceFloor uint8) (uint8, uint8, error) {
	if pricePrecision != nil && sizePrecision != nil {
		return *pricePrecision, *sizePrecision, nil
	}

	rr, err := openRows(path)
	if err != nil {
		return 0, 0, err
	}
	defer rr.Close()

	scan := func(r row, cols []string, cur uint8) uint8 {
		for _, c := range cols {
			if s := r.get(c); s != "" {
				cur = max(cur, codec.DecimalDigits(s))
			}
		}
		return cur
	}

	price, size := priceFloor, uint8(0)
	n := 0
	for n < codec.DefaultInferenceSample {
		r, err := rr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		n++
		if errors.Is(err, codec.ErrInvalidFormat) {
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %w", path, err)
		}
		price = scan(r, priceCols, price)
		size = scan(r, sizeCols, size)
	}

	if pricePrecision != nil {
		price = *pricePrecision
	}
	if sizePrecision != nil {
		size = *sizePrecision
	}

	codec.PrecisionInferred("tardis")
	utils.L().WithComponent("tardis").Warn("precision not set, inferred from data",
		utils.String("kind", kind),
		utils.String("path", path),
		utils.Int("price_precision", int(price)),
		utils.Int("size_precision", int(size)),
		utils.Int("sample", n),
	)
	return price, size, nil
}

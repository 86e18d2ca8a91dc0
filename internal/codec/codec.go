// Package codec - общее для декодеров рыночных данных: ошибки формата,
// определение точности, разметка пакетов дельт и открытие сжатых файлов.
package codec

import (
	"errors"
	"io"
	"strings"

	"tradecore/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidFormat - запись не разбирается; декодер пропускает её
	ErrInvalidFormat = errors.New("invalid format")
	// ErrUnsupportedMessage - неизвестный тип записи
	ErrUnsupportedMessage = errors.New("unsupported message")
)

const (
	// DefaultInferenceSample - сколько записей просматривается для вывода точности
	DefaultInferenceSample = 10_000
	// DefaultChunkSize - размер пакета по умолчанию
	DefaultChunkSize = 10_000
)

// Stream - ленивая конечная последовательность пакетов.
// Next возвращает не более chunk_size элементов и io.EOF в конце.
type Stream[T any] interface {
	Next() ([]T, error)
	Close() error
}

// Collect читает поток до конца и закрывает его
func Collect[T any](s Stream[T]) ([]T, error) {
	defer s.Close()

	var out []T
	for {
		chunk, err := s.Next()
		out = append(out, chunk...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// ============================================================
// Precision
// ============================================================

// DecimalDigits - число значащих знаков после точки в десятичной строке
// (экспоненциальная запись тоже поддерживается)
func DecimalDigits(s string) uint8 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	str := d.String()
	dot := strings.IndexByte(str, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(str[dot+1:], "0")
	if len(frac) > models.FixedPrecision {
		return models.FixedPrecision
	}
	return uint8(len(frac))
}

// RawDigits - число значащих знаков у значения с масштабом 1e-9
func RawDigits(raw int64) uint8 {
	if raw == models.PriceUndef {
		return 0
	}
	if raw < 0 {
		raw = -raw
	}
	frac := raw % models.FixedScalar
	if frac == 0 {
		return 0
	}
	digits := uint8(models.FixedPrecision)
	for frac%10 == 0 {
		frac /= 10
		digits--
	}
	return digits
}

// ============================================================
// Batches
// ============================================================

// MarkLast выставляет F_LAST последней дельте каждой группы с одним
// ts_event и последней дельте пакета
func MarkLast(deltas []models.OrderBookDelta) {
	for i := range deltas {
		if i == len(deltas)-1 || deltas[i+1].TsEvent != deltas[i].TsEvent {
			deltas[i].Flags |= models.FlagLast
		}
	}
}

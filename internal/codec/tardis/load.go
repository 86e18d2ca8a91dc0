package tardis

import (
	"fmt"

	"tradecore/internal/codec"
	"tradecore/internal/models"
)

// LoadDeltas читает весь файл. F_LAST пересчитывается по всему результату,
// а не по границам пакетов.
func LoadDeltas(path string, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) ([]models.OrderBookDelta, error) {
	s, err := StreamDeltas(path, codec.DefaultChunkSize, pricePrecision, sizePrecision, instrumentID, limit)
	if err != nil {
		return nil, err
	}
	deltas, err := codec.Collect[models.OrderBookDelta](s)
	if err != nil {
		return nil, err
	}
	for i := range deltas {
		deltas[i].Flags &^= models.FlagLast
	}
	codec.MarkLast(deltas)
	return deltas, nil
}

func LoadQuotes(path string, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) ([]models.QuoteTick, error) {
	s, err := StreamQuotes(path, codec.DefaultChunkSize, pricePrecision, sizePrecision, instrumentID, limit)
	if err != nil {
		return nil, err
	}
	return codec.Collect[models.QuoteTick](s)
}

func LoadTrades(path string, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) ([]models.TradeTick, error) {
	s, err := StreamTrades(path, codec.DefaultChunkSize, pricePrecision, sizePrecision, instrumentID, limit)
	if err != nil {
		return nil, err
	}
	return codec.Collect[models.TradeTick](s)
}

// LoadDepth10 читает book_snapshot_5 или book_snapshot_25 (levels 5 или 25)
func LoadDepth10(path string, levels int, pricePrecision, sizePrecision *uint8,
	instrumentID *models.InstrumentID, limit *int) ([]models.OrderBookDepth10, error) {
	if levels != 5 && levels != 25 {
		return nil, fmt.Errorf("unsupported snapshot levels %d, expected 5 or 25", levels)
	}
	s, err := streamDepth10(path, levels, codec.DefaultChunkSize, pricePrecision, sizePrecision, instrumentID, limit)
	if err != nil {
		return nil, err
	}
	return codec.Collect[models.OrderBookDepth10](s)
}

func LoadFundingRates(path string, instrumentID *models.InstrumentID, limit *int) ([]models.FundingRateUpdate, error) {
	s, err := StreamFundingRates(path, codec.DefaultChunkSize, nil, nil, instrumentID, limit)
	if err != nil {
		return nil, err
	}
	return codec.Collect[models.FundingRateUpdate](s)
}

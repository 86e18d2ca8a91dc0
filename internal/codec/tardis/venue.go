// Package tardis - чтение CSV-выгрузок Tardis: дельты книги, котировки,
// сделки, снимки книги и ставки финансирования.
package tardis

import (
	"strings"

	"tradecore/internal/models"
)

// exchangeVenues - площадки по идентификатору биржи Tardis
var exchangeVenues = map[string]models.Venue{
	"binance":                  "BINANCE",
	"binance-futures":          "BINANCE",
	"binance-delivery":         "BINANCE",
	"binance-options":          "BINANCE",
	"binance-european-options": "BINANCE",
	"binance-us":               "BINANCE_US",
	"bitmex":                   "BITMEX",
	"deribit":                  "DERIBIT",
	"bybit":                    "BYBIT",
	"bybit-spot":               "BYBIT",
	"bybit-options":            "BYBIT",
	"okex":                     "OKX",
	"okex-futures":             "OKX",
	"okex-swap":                "OKX",
	"okex-options":             "OKX",
	"okex-spreads":             "OKX",
	"coinbase":                 "COINBASE",
	"coinbase-international":   "COINBASE_INTX",
	"kraken":                   "KRAKEN",
	"cryptofacilities":         "KRAKEN",
	"bitfinex":                 "BITFINEX",
	"bitfinex-derivatives":     "BITFINEX",
	"huobi":                    "HUOBI",
	"huobi-dm":                 "HUOBI",
	"huobi-dm-swap":            "HUOBI",
	"huobi-dm-linear-swap":     "HUOBI",
	"gate-io":                  "GATE_IO",
	"gate-io-futures":          "GATE_IO",
	"bitget":                   "BITGET",
	"bitget-futures":           "BITGET",
	"kucoin":                   "KUCOIN",
	"kucoin-futures":           "KUCOIN",
	"hyperliquid":              "HYPERLIQUID",
	"crypto-com":               "CRYPTO_COM",
	"bingx":                    "BINGX",
}

// NormalizeVenue - площадка для биржи Tardis; для неизвестных бирж
// идентификатор приводится к верхнему регистру с заменой '-' на '_'
func NormalizeVenue(exchange string) models.Venue {
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	if v, ok := exchangeVenues[exchange]; ok {
		return v
	}
	return models.Venue(strings.ToUpper(strings.ReplaceAll(exchange, "-", "_")))
}

// InstrumentID - идентификатор инструмента по колонкам exchange и symbol
func InstrumentID(exchange, symbol string) models.InstrumentID {
	return models.NewInstrumentID(strings.ToUpper(strings.TrimSpace(symbol)), string(NormalizeVenue(exchange)))
}

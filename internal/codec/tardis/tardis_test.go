package tardis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tradecore/internal/codec"
	"tradecore/internal/models"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============ fixtures ============

const deltasCSV = `exchange,symbol,timestamp,local_timestamp,is_snapshot,side,price,amount
binance-futures,btcusdt,100,150,true,ask,50000.0,1.0
binance-futures,btcusdt,100,150,true,bid,49999.5,2.0
binance-futures,btcusdt,100,150,true,bid,49999.0,0
binance-futures,btcusdt,200,250,false,ask,50000.12,0
binance-futures,btcusdt,bad,250,false,ask,50000.12,1
binance-futures,btcusdt,200,250,false,bid,49999.123,3.0
binance-futures,btcusdt,300,350,false,ask,50000.1234,0.5
`

const quotesCSV = `exchange,symbol,timestamp,local_timestamp,ask_amount,ask_price,bid_price,bid_amount
binance,BTCUSDT,1000,2000,1.5,50001.5,50000.25,2
binance,BTCUSDT,3000,4000,,,50000.5,1
`

const tradesCSV = `exchange,symbol,timestamp,local_timestamp,id,side,price,amount
bitmex,XBTUSD,1000,1100,t-1,buy,50000.5,100
bitmex,XBTUSD,2000,2100,t-2,sell,50000,200
bitmex,XBTUSD,3000,3100,t-3,unknown,50001,1
`

const fundingCSV = `exchange,symbol,timestamp,local_timestamp,funding_timestamp,funding_rate,predicted_funding_rate,open_interest,last_price,index_price,mark_price
bybit,BTCUSDT,1000,1100,8000,0.0001,0.0002,100,50000,50000,50000
bybit,BTCUSDT,2000,2100,,,,,,,
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeGzip(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = io.WriteString(zw, content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

// snapshotCSV - одна строка снимка: ask i = 101+i, bid i = 100-i; у bid
// последнего уровня нет цены
func snapshotCSV(levels int) string {
	var header, values []string
	header = append(header, "exchange", "symbol", "timestamp", "local_timestamp")
	values = append(values, "deribit", "BTC-PERPETUAL", "5000", "5100")
	for i := 0; i < levels; i++ {
		header = append(header,
			fmt.Sprintf("asks[%d].price", i), fmt.Sprintf("asks[%d].amount", i),
			fmt.Sprintf("bids[%d].price", i), fmt.Sprintf("bids[%d].amount", i))
		bid, bidAmt := fmt.Sprint(100-i), "2"
		if i == levels-1 {
			bid, bidAmt = "", ""
		}
		values = append(values, fmt.Sprint(101+i), "1", bid, bidAmt)
	}
	return strings.Join(header, ",") + "\n" + strings.Join(values, ",") + "\n"
}

func u8(v uint8) *uint8 { return &v }
func intp(v int) *int   { return &v }

// ============ venue ============

func TestNormalizeVenue(t *testing.T) {
	tests := []struct {
		exchange string
		want     models.Venue
	}{
		{"binance-futures", "BINANCE"},
		{"okex-swap", "OKX"},
		{"BITMEX", "BITMEX"},
		{"some-new-exchange", "SOME_NEW_EXCHANGE"},
	}

	for _, tt := range tests {
		if got := NormalizeVenue(tt.exchange); got != tt.want {
			t.Errorf("NormalizeVenue(%q) = %s, ожидалось %s", tt.exchange, got, tt.want)
		}
	}

	assert.Equal(t, models.NewInstrumentID("BTCUSDT", "BINANCE"), InstrumentID("binance", "btcusdt"))
}

// ============ deltas ============

func TestStreamDeltas_InfersPrecisionAndSkipsInvalid(t *testing.T) {
	path := writeFile(t, "deltas.csv", deltasCSV)

	s, err := StreamDeltas(path, 10, nil, nil, nil, nil)
	require.NoError(t, err)
	deltas, err := codec.Collect[models.OrderBookDelta](s)
	require.NoError(t, err)

	// нулевой объём в снимке и строка с битой меткой времени пропущены
	require.Len(t, deltas, 5)

	wantActions := []models.BookAction{
		models.BookActionAdd, models.BookActionAdd, models.BookActionDelete,
		models.BookActionUpdate, models.BookActionUpdate,
	}
	for i, d := range deltas {
		assert.Equal(t, wantActions[i], d.Action, "действие дельты %d", i)
	}

	first := deltas[0]
	assert.Equal(t, models.NewInstrumentID("BTCUSDT", "BINANCE"), first.InstrumentID)
	assert.Equal(t, models.OrderSideSell, first.Order.Side)
	assert.Equal(t, uint8(4), first.Order.Price.Precision, "точность цены по выборке")
	assert.Equal(t, uint8(1), first.Order.Size.Precision, "точность размера по выборке")
	assert.Equal(t, "50000.0000", first.Order.Price.String())
	assert.Equal(t, models.UnixNanos(100_000), first.TsEvent)
	assert.Equal(t, models.UnixNanos(150_000), first.TsInit)
	assert.Equal(t, models.OrderSideBuy, deltas[1].Order.Side)
}

func TestStreamDeltas_FlagLastPerChunk(t *testing.T) {
	path := writeFile(t, "deltas.csv", deltasCSV)

	s, err := StreamDeltas(path, 3, u8(4), u8(1), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	var chunks [][]models.OrderBookDelta
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 2)
	require.Len(t, chunks[0], 3)

	lastFlags := func(ds []models.OrderBookDelta) []bool {
		out := make([]bool, len(ds))
		for i, d := range ds {
			out[i] = d.IsLast()
		}
		return out
	}
	assert.Equal(t, []bool{false, true, true}, lastFlags(chunks[0]), "конец группы и конец пакета")
	assert.Equal(t, []bool{true, true}, lastFlags(chunks[1]))

	all, err := LoadDeltas(path, u8(4), u8(1), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, true, true}, lastFlags(all), "в полном файле границы пакетов не влияют")
}

func TestStreamDeltas_InstrumentAndLimit(t *testing.T) {
	path := writeFile(t, "deltas.csv", deltasCSV)
	id := models.NewInstrumentID("BTCUSDT-PERP", "BINANCE")

	deltas, err := LoadDeltas(path, u8(2), u8(1), &id, intp(2))
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, id, deltas[0].InstrumentID)
	assert.Equal(t, "49999.50", deltas[1].Order.Price.String())
}

// ============ quotes and trades ============

func TestLoadQuotes(t *testing.T) {
	path := writeFile(t, "quotes.csv", quotesCSV)

	quotes, err := LoadQuotes(path, nil, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	q := quotes[0]
	assert.Equal(t, "50000.25", q.BidPrice.String())
	assert.Equal(t, "50001.50", q.AskPrice.String())
	assert.Equal(t, "2.0", q.BidSize.String())
	assert.Equal(t, "1.5", q.AskSize.String())
	assert.Equal(t, models.UnixNanos(1_000_000), q.TsEvent)
	assert.Equal(t, models.UnixNanos(2_000_000), q.TsInit)

	assert.True(t, quotes[1].AskPrice.IsZero(), "пустая цена - 0")
	assert.True(t, quotes[1].AskSize.IsZero())
}

func TestLoadTrades(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"plain", func(t *testing.T) string { return writeFile(t, "trades.csv", tradesCSV) }},
		{"gzip", func(t *testing.T) string { return writeGzip(t, "trades.csv.gz", tradesCSV) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades, err := LoadTrades(tt.path(t), u8(1), u8(0), nil, nil)
			require.NoError(t, err)
			require.Len(t, trades, 3)

			assert.Equal(t, models.NewInstrumentID("XBTUSD", "BITMEX"), trades[0].InstrumentID)
			assert.Equal(t, models.AggressorBuyer, trades[0].AggressorSide)
			assert.Equal(t, models.AggressorSeller, trades[1].AggressorSide)
			assert.Equal(t, models.NoAggressor, trades[2].AggressorSide)
			assert.Equal(t, models.TradeID("t-2"), trades[1].TradeID)
			assert.Equal(t, "50000.5", trades[0].Price.String())
		})
	}

	trades, err := LoadTrades(writeFile(t, "trades.csv", tradesCSV), u8(1), u8(0), nil, intp(2))
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestStreamTrades_SkipsZeroSize(t *testing.T) {
	const csv = `exchange,symbol,timestamp,local_timestamp,id,side,price,amount
bitmex,XBTUSD,1000,1100,t-1,buy,50000.5,100
bitmex,XBTUSD,2000,2100,t-2,sell,50000,0
bitmex,XBTUSD,3000,3100,t-3,sell,50001,5
`
	trades, err := LoadTrades(writeFile(t, "trades.csv", csv), u8(1), u8(0), nil, nil)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.TradeID("t-1"), trades[0].TradeID)
	assert.Equal(t, models.TradeID("t-3"), trades[1].TradeID)
	for _, tr := range trades {
		assert.False(t, tr.Size.IsZero())
	}
}

// ============ depth ============

func TestStreamDepth10FromSnapshot5(t *testing.T) {
	path := writeFile(t, "snapshot5.csv", snapshotCSV(5))

	s, err := StreamDepth10FromSnapshot5(path, 10, nil, nil, nil, nil)
	require.NoError(t, err)
	depths, err := codec.Collect[models.OrderBookDepth10](s)
	require.NoError(t, err)
	require.Len(t, depths, 1)

	d := depths[0]
	assert.Equal(t, models.NewInstrumentID("BTC-PERPETUAL", "DERIBIT"), d.InstrumentID)
	assert.Equal(t, models.FlagSnapshot, d.Flags)
	assert.Equal(t, "101.00", d.Asks[0].Price.String(), "нижняя граница точности цены - 2")
	assert.Equal(t, models.OrderSideSell, d.Asks[0].Side)
	assert.Equal(t, uint32(1), d.AskCounts[0])
	assert.Equal(t, "100.00", d.Bids[0].Price.String())
	assert.Equal(t, models.NullOrder, d.Bids[4], "уровень без цены")
	assert.Equal(t, uint32(0), d.BidCounts[4])
	assert.Equal(t, models.NullOrder, d.Asks[5], "уровни за пределами снимка")
	assert.Equal(t, models.UnixNanos(5_000_000), d.TsEvent)
}

func TestLoadDepth10FromSnapshot25(t *testing.T) {
	path := writeFile(t, "snapshot25.csv", snapshotCSV(25))

	depths, err := LoadDepth10(path, 25, u8(1), u8(0), nil, nil)
	require.NoError(t, err)
	require.Len(t, depths, 1)
	assert.Equal(t, "110.0", depths[0].Asks[9].Price.String())
	assert.Equal(t, uint32(1), depths[0].BidCounts[9])

	_, err = LoadDepth10(path, 7, nil, nil, nil, nil)
	assert.Error(t, err)
}

// ============ funding ============

func TestStreamFundingRates(t *testing.T) {
	path := writeFile(t, "derivative_ticker.csv", fundingCSV)

	rates, err := LoadFundingRates(path, nil, nil)
	require.NoError(t, err)
	require.Len(t, rates, 1, "строки без ставки пропускаются")

	f := rates[0]
	assert.Equal(t, models.NewInstrumentID("BTCUSDT", "BYBIT"), f.InstrumentID)
	assert.Equal(t, "0.0001", f.Rate.String())
	require.NotNil(t, f.NextFunding)
	assert.Equal(t, models.UnixNanos(8_000_000), *f.NextFunding)

	_, err = StreamFundingRates(writeFile(t, "trades.csv", tradesCSV), 10, nil, nil, nil, nil)
	assert.ErrorIs(t, err, codec.ErrInvalidFormat)
}

func TestOpenErrors(t *testing.T) {
	_, err := StreamTrades(filepath.Join(t.TempDir(), "missing.csv"), 10, u8(1), u8(1), nil, nil)
	assert.Error(t, err)

	_, err = StreamQuotes(writeFile(t, "empty.csv", ""), 10, u8(1), u8(1), nil, nil)
	assert.ErrorIs(t, err, codec.ErrInvalidFormat)
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tradecore/internal/cache"
	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/internal/msgbus"
	"tradecore/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replayCSV = `exchange,symbol,timestamp,local_timestamp,ask_amount,ask_price,bid_price,bid_amount
bitmex,XBTUSD,1000,2000,100,65000.5,64999.5,200
bitmex,XBTUSD,3000,4000,150,65001.0,65000.0,50
bitmex,ETHUSD,3000,4000,10,3001.5,3000.5,20
`

func collect(t *testing.T, bus *msgbus.Bus, pattern string) *[]string {
	t.Helper()
	var topics []string
	_, err := bus.Subscribe(pattern, func(topic string, _ any) {
		topics = append(topics, topic)
	}, 0)
	require.NoError(t, err)
	return &topics
}

func TestReplayQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.csv")
	require.NoError(t, os.WriteFile(path, []byte(replayCSV), 0o600))

	bus := msgbus.New("test")
	c := cache.New(cache.Config{})
	topics := collect(t, bus, "data.quotes.*")

	require.NoError(t, replayQuotes(context.Background(), c, bus, path, 2))

	assert.Equal(t, []string{
		"data.quotes.XBTUSD.BITMEX",
		"data.quotes.XBTUSD.BITMEX",
		"data.quotes.ETHUSD.BITMEX",
	}, *topics)

	q, ok := c.Quote(models.NewInstrumentID("XBTUSD", "BITMEX"))
	require.True(t, ok)
	assert.Equal(t, "65000.0", q.BidPrice.String(), "в кэше последняя котировка")
}

func TestReplayQuotes_MissingFile(t *testing.T) {
	err := replayQuotes(context.Background(), cache.New(cache.Config{}), msgbus.New("test"),
		filepath.Join(t.TempDir(), "absent.csv"), 10)
	assert.Error(t, err)
}

func TestReplayQuotes_Canceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.csv")
	require.NoError(t, os.WriteFile(path, []byte(replayCSV), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := msgbus.New("test")
	topics := collect(t, bus, "data.quotes.*")
	require.NoError(t, replayQuotes(ctx, cache.New(cache.Config{}), bus, path, 1))
	assert.Empty(t, *topics)
}

func TestVenueFeed_PublishMarks(t *testing.T) {
	client, err := exchange.NewBitmexClient(exchange.BitmexConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	defer client.Close()

	bus := msgbus.New("test")
	c := cache.New(cache.Config{})
	f := &venueFeed{client: client, cache: c, bus: bus, log: utils.L()}
	topics := collect(t, bus, "data.mark_prices.*")

	f.publishMarks([]byte(`{"table":"instrument","action":"update","data":[{"symbol":"XBTUSD","markPrice":65432.5}]}`))
	f.publishMarks([]byte(`{"table":"instrument","action":"delete","data":[{"symbol":"XBTUSD","markPrice":1}]}`))
	f.publishMarks([]byte(`not json`))

	assert.Equal(t, []string{"data.mark_prices.XBTUSD.BITMEX"}, *topics)
	mark, ok := c.MarkPrice(models.NewInstrumentID("XBTUSD", "BITMEX"))
	require.True(t, ok)
	assert.Equal(t, "65432.5", mark.Value.String())
}

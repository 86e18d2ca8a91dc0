package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/models"
)

func TestBitmexWebSocketConfig(t *testing.T) {
	cfg := BitmexWebSocketConfig("", false)
	assert.Equal(t, BitmexWSURL, cfg.URL)
	assert.Equal(t, "ping", cfg.HeartbeatText)
	assert.Equal(t, "bitmex", cfg.Name)

	assert.Equal(t, BitmexTestnetWSURL, BitmexWebSocketConfig("", true).URL)
	assert.Equal(t, "ws://local", BitmexWebSocketConfig("ws://local", true).URL)
}

func TestBitmexSubscribeFrame(t *testing.T) {
	frame, err := BitmexSubscribeFrame("instrument:XBTUSD", "instrument:ETHUSD")
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":["instrument:XBTUSD","instrument:ETHUSD"]}`, string(frame))

	_, err = BitmexSubscribeFrame()
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestBitmexParseMarkPrices(t *testing.T) {
	c, _ := newBitmexStub(t, nil)
	c.AddInstrument(models.NewCryptoPerpetual(models.MustInstrumentID("XBTUSD.BITMEX"),
		models.BTC, models.USD, true, 1, 0))

	t.Run("instrument update", func(t *testing.T) {
		frame := `{"table":"instrument","action":"update","data":[
			{"symbol":"XBTUSD","markPrice":65432.17,"timestamp":"2024-05-01T12:00:00.000Z"},
			{"symbol":"XBTUSD","fundingRate":0.0001},
			{"symbol":"ETHUSD","markPrice":3012.45}]}`

		marks, err := c.ParseMarkPrices([]byte(frame), 42)
		require.NoError(t, err)
		require.Len(t, marks, 2)

		assert.Equal(t, "XBTUSD.BITMEX", marks[0].InstrumentID.String())
		assert.Equal(t, "65432.2", marks[0].Value.String(), "округление до точности инструмента")
		assert.Equal(t, models.UnixNanos(1714564800000000000), marks[0].TsEvent)
		assert.Equal(t, models.UnixNanos(42), marks[0].TsInit)

		assert.Equal(t, "ETHUSD.BITMEX", marks[1].InstrumentID.String())
		assert.Equal(t, "3012.45", marks[1].Value.String(), "точность неизвестного символа по значению")
		assert.Equal(t, models.UnixNanos(42), marks[1].TsEvent)
	})

	ignored := []string{
		"pong",
		`{"success":true,"subscribe":"instrument:XBTUSD"}`,
		`{"table":"trade","action":"insert","data":[{"symbol":"XBTUSD","price":1}]}`,
		`{"table":"instrument","action":"delete","data":[{"symbol":"XBTUSD","markPrice":1}]}`,
	}
	for _, frame := range ignored {
		marks, err := c.ParseMarkPrices([]byte(frame), 1)
		assert.NoError(t, err, frame)
		assert.Empty(t, marks, frame)
	}

	_, err := c.ParseMarkPrices([]byte(`{"table":"instrument","data":{`), 1)
	assert.Error(t, err)
}

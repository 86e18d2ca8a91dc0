package exchange

import (
	"fmt"
	"time"

	"tradecore/internal/models"

	jsoniter "github.com/json-iterator/go"
)

const (
	BitmexWSURL        = "wss://ws.bitmex.com/realtime"
	BitmexTestnetWSURL = "wss://ws.testnet.bitmex.com/realtime"

	// BitMEX отвечает "pong" на текстовый "ping"
	bitmexHeartbeatText = "ping"
)

// BitmexWebSocketConfig - настройки потока BitMEX поверх DefaultWebSocketConfig.
// url пустой - production или testnet по флагу.
func BitmexWebSocketConfig(url string, testnet bool) WebSocketConfig {
	if url == "" {
		url = BitmexWSURL
		if testnet {
			url = BitmexTestnetWSURL
		}
	}
	cfg := DefaultWebSocketConfig(url)
	cfg.Name = "bitmex"
	cfg.Heartbeat = 5 * time.Second
	cfg.HeartbeatText = bitmexHeartbeatText
	return cfg
}

type bitmexCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// BitmexSubscribeFrame - кадр подписки на темы вида "instrument:XBTUSD"
func BitmexSubscribeFrame(topics ...string) ([]byte, error) {
	if len(topics) == 0 {
		return nil, &ValidationError{Field: "topics", Reason: "at least one topic required"}
	}
	return json.Marshal(bitmexCommand{Op: "subscribe", Args: topics})
}

// bitmexTableMessage - сообщение таблицы: partial, insert, update, delete
type bitmexTableMessage struct {
	Table  string              `json:"table"`
	Action string              `json:"action"`
	Data   jsoniter.RawMessage `json:"data"`
}

type bitmexMarkPrice struct {
	Symbol    string     `json:"symbol"`
	MarkPrice *float64   `json:"markPrice"`
	Timestamp *time.Time `json:"timestamp"`
}

// ParseMarkPrices извлекает цены маркировки из кадра таблицы instrument.
// Служебные кадры (pong, ответы на подписку, другие таблицы) дают nil без ошибки.
func (c *BitmexClient) ParseMarkPrices(data []byte, tsInit models.UnixNanos) ([]models.MarkPriceUpdate, error) {
	if len(data) == 0 || data[0] != '{' {
		return nil, nil
	}

	var msg bitmexTableMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode bitmex frame: %w", err)
	}
	if msg.Table != "instrument" || msg.Action == "delete" || len(msg.Data) == 0 {
		return nil, nil
	}

	var rows []bitmexMarkPrice
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode bitmex instrument rows: %w", err)
	}

	out := make([]models.MarkPriceUpdate, 0, len(rows))
	for _, r := range rows {
		if r.MarkPrice == nil || r.Symbol == "" {
			continue
		}
		tsEvent := nanosOf(r.Timestamp)
		if tsEvent == 0 {
			tsEvent = tsInit
		}
		out = append(out, models.MarkPriceUpdate{
			InstrumentID: bitmexInstrumentID(r.Symbol),
			Value:        models.NewPrice(*r.MarkPrice, c.pricePrecision(r.Symbol, r.MarkPrice)),
			TsEvent:      tsEvent,
			TsInit:       tsInit,
		})
	}
	return out, nil
}

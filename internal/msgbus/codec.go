package msgbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"tradecore/internal/models"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrUnknownType = errors.New("unknown message type")

// Envelope - сообщение шины в сериализованном виде для внешних брокеров
type Envelope struct {
	Topic   string              `json:"topic"`
	Type    string              `json:"type"`
	Source  string              `json:"source"`
	Payload jsoniter.RawMessage `json:"payload"`
	TsSent  models.UnixNanos    `json:"ts_sent"`
}

// Codec сопоставляет Go-типы сообщений и их имена в конверте
type Codec struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewCodec создаёт кодек с событиями, которые шина отдаёт наружу по умолчанию
func NewCodec() *Codec {
	c := &Codec{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	c.Register("AccountState", models.AccountState{})
	c.Register("PositionEvent", models.PositionEvent{})
	c.Register("OrderEvent", models.OrderEvent{})
	c.Register("QuoteTick", models.QuoteTick{})
	c.Register("TradeTick", models.TradeTick{})
	c.Register("Bar", models.Bar{})
	c.Register("MarkPriceUpdate", models.MarkPriceUpdate{})
	return c
}

// Register добавляет тип; sample - значение (не указатель)
func (c *Codec) Register(name string, sample any) {
	t := reflect.TypeOf(sample)
	c.mu.Lock()
	c.byName[name] = t
	c.byType[t] = name
	c.mu.Unlock()
}

// Encode упаковывает сообщение в JSON-конверт
func (c *Codec) Encode(topic, source string, msg any) ([]byte, error) {
	t := reflect.TypeOf(msg)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	c.mu.RLock()
	name, ok := c.byType[t]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, t)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return json.Marshal(Envelope{
		Topic:   topic,
		Type:    name,
		Source:  source,
		Payload: payload,
		TsSent:  models.NanosNow(),
	})
}

// Decode распаковывает конверт; сообщение возвращается значением
func (c *Codec) Decode(data []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	c.mu.RLock()
	t, ok := c.byName[env.Type]
	c.mu.RUnlock()
	if !ok {
		return env, nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(env.Payload, ptr.Interface()); err != nil {
		return env, nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return env, ptr.Elem().Interface(), nil
}

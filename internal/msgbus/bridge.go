package msgbus

import (
	"context"
	"strings"
	"sync"

	"tradecore/pkg/utils"

	"github.com/google/uuid"
)

// DefaultInboundPrefix - префикс тем для сообщений, пришедших из брокера.
// Исходящая пересылка такие темы пропускает, поэтому петли не возникает.
const DefaultInboundPrefix = "remote."

// BridgeConfig - общие настройки мостов во внешние брокеры
type BridgeConfig struct {
	Patterns      []string // темы, пересылаемые наружу
	InboundPrefix string   // префикс тем входящих сообщений
	BufferSize    int      // очередь исходящих сообщений
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	if c.InboundPrefix == "" {
		c.InboundPrefix = DefaultInboundPrefix
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	return c
}

type outbound struct {
	topic string
	data  []byte
}

// bridgeCore - подписка на шину, кодирование и очередь исходящих
type bridgeCore struct {
	name   string
	source string
	bus    *Bus
	codec  *Codec
	cfg    BridgeConfig
	out    chan outbound

	mu   sync.Mutex
	subs []SubscriptionID

	log *utils.Logger
}

func newBridgeCore(name string, bus *Bus, codec *Codec, cfg BridgeConfig) *bridgeCore {
	cfg = cfg.withDefaults()
	if codec == nil {
		codec = NewCodec()
	}
	return &bridgeCore{
		name:   name,
		source: name + "-" + uuid.NewString(),
		bus:    bus,
		codec:  codec,
		cfg:    cfg,
		out:    make(chan outbound, cfg.BufferSize),
		log:    utils.L().WithComponent("msgbus").With(utils.String("bridge", name)),
	}
}

// attach подписывает мост на исходящие темы
func (c *bridgeCore) attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.cfg.Patterns {
		id, err := c.bus.Subscribe(p, c.forward, 0)
		if err != nil {
			return err
		}
		c.subs = append(c.subs, id)
	}
	return nil
}

func (c *bridgeCore) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

// forward - обработчик шины; не блокирует доставку, при переполнении сообщение теряется
func (c *bridgeCore) forward(topic string, msg any) {
	if strings.HasPrefix(topic, c.cfg.InboundPrefix) {
		return
	}
	data, err := c.codec.Encode(topic, c.source, msg)
	if err != nil {
		bridgeMessages.WithLabelValues(c.name, "out", "encode_error").Inc()
		c.log.Debug("skip message", utils.Topic(topic), utils.Err(err))
		return
	}
	select {
	case c.out <- outbound{topic: topic, data: data}:
	default:
		bridgeMessages.WithLabelValues(c.name, "out", "dropped").Inc()
		c.log.Warn("outbound queue full, message dropped", utils.Topic(topic))
	}
}

// receive публикует входящий конверт в шину под префиксом
func (c *bridgeCore) receive(data []byte) {
	env, msg, err := c.codec.Decode(data)
	if err != nil {
		bridgeMessages.WithLabelValues(c.name, "in", "decode_error").Inc()
		c.log.Warn("failed to decode inbound message", utils.Err(err))
		return
	}
	if env.Source == c.source {
		return
	}
	bridgeMessages.WithLabelValues(c.name, "in", "ok").Inc()
	c.bus.Publish(c.cfg.InboundPrefix+env.Topic, msg)
}

// pump отправляет исходящие сообщения через send до отмены ctx
func (c *bridgeCore) pump(ctx context.Context, send func(context.Context, outbound) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.out:
			if err := send(ctx, m); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				bridgeMessages.WithLabelValues(c.name, "out", "error").Inc()
				c.log.Error("failed to forward message", utils.Topic(m.topic), utils.Err(err))
				continue
			}
			bridgeMessages.WithLabelValues(c.name, "out", "ok").Inc()
		}
	}
}

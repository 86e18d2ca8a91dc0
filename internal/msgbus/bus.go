// Package msgbus - внутрипроцессная шина сообщений: pub/sub по шаблонам тем
// и точечная доставка на зарегистрированные endpoint'ы.
package msgbus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"tradecore/pkg/utils"
)

var (
	ErrNoEndpoint      = errors.New("endpoint not registered")
	ErrEndpointExists  = errors.New("endpoint already registered")
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrEndpointPattern = errors.New("endpoint must not contain wildcards")
)

// Handler получает тему публикации и сообщение
type Handler func(topic string, msg any)

// EndpointHandler получает сообщение, отправленное на endpoint
type EndpointHandler func(msg any)

// SubscriptionID - дескриптор подписки для Unsubscribe
type SubscriptionID uint64

type subscription struct {
	id       SubscriptionID
	pattern  string
	handler  Handler
	priority int
}

type delivery struct {
	topic    string
	msg      any
	endpoint EndpointHandler
}

// Bus - шина сообщений.
//
// Доставка сериализована в порядке публикации. Публикация из обработчика
// ставится в очередь и доставляется после возврата текущего обработчика,
// до выхода из внешнего Publish. Публикация из другой горутины во время
// чужой доставки только встаёт в очередь и возвращается до вызова
// обработчиков. Обработчики одной темы вызываются по убыванию приоритета,
// при равенстве - в порядке подписки.
type Bus struct {
	name string

	mu        sync.RWMutex
	subs      map[SubscriptionID]*subscription
	matches   map[string][]*subscription
	endpoints map[string]EndpointHandler
	nextID    uint64

	qmu      sync.Mutex
	queue    []delivery
	draining bool

	published atomic.Uint64
	sent      atomic.Uint64

	log *utils.Logger
}

// New создаёт шину; name используется в логах и метриках
func New(name string) *Bus {
	return &Bus{
		name:      name,
		subs:      make(map[SubscriptionID]*subscription),
		matches:   make(map[string][]*subscription),
		endpoints: make(map[string]EndpointHandler),
		log:       utils.L().WithComponent("msgbus").With(utils.String("bus", name)),
	}
}

func (b *Bus) Name() string { return b.name }

// ============================================================
// Pub/Sub
// ============================================================

// Subscribe подписывает handler на темы, подходящие под pattern
func (b *Bus) Subscribe(pattern string, handler Handler, priority int) (SubscriptionID, error) {
	if pattern == "" {
		return 0, fmt.Errorf("%w: empty pattern", ErrInvalidTopic)
	}
	if handler == nil {
		return 0, errors.New("nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := SubscriptionID(b.nextID)
	b.subs[id] = &subscription{id: id, pattern: pattern, handler: handler, priority: priority}
	b.matches = make(map[string][]*subscription)

	b.log.Debug("subscribed", utils.Topic(pattern), utils.Int("priority", priority))
	return id, nil
}

// Unsubscribe снимает подписку; false, если её не было
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	b.matches = make(map[string][]*subscription)

	b.log.Debug("unsubscribed", utils.Topic(sub.pattern))
	return true
}

// HasSubscribers - есть ли подписчики на конкретную тему
func (b *Bus) HasSubscribers(topic string) bool {
	return len(b.matching(topic)) > 0
}

// Patterns возвращает шаблоны всех активных подписок
func (b *Bus) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.pattern)
	}
	sort.Strings(out)
	return out
}

// Publish доставляет сообщение всем подписчикам темы
func (b *Bus) Publish(topic string, msg any) {
	if topic == "" || hasWildcard(topic) {
		b.log.Warn("publish to invalid topic dropped", utils.Topic(topic))
		return
	}
	b.published.Add(1)
	busMessages.WithLabelValues(b.name, "publish").Inc()
	b.enqueue(delivery{topic: topic, msg: msg})
}

// matching возвращает упорядоченных подписчиков темы, кэшируя результат
func (b *Bus) matching(topic string) []*subscription {
	b.mu.RLock()
	subs, ok := b.matches[topic]
	b.mu.RUnlock()
	if ok {
		return subs
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok = b.matches[topic]; ok {
		return subs
	}
	for _, s := range b.subs {
		if IsMatching(topic, s.pattern) {
			subs = append(subs, s)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].id < subs[j].id
	})
	b.matches[topic] = subs
	return subs
}

// ============================================================
// Endpoints
// ============================================================

// Register регистрирует обработчик точечной доставки
func (b *Bus) Register(endpoint string, handler EndpointHandler) error {
	if endpoint == "" {
		return fmt.Errorf("%w: empty endpoint", ErrInvalidTopic)
	}
	if hasWildcard(endpoint) {
		return fmt.Errorf("%w: %s", ErrEndpointPattern, endpoint)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.endpoints[endpoint]; ok {
		return fmt.Errorf("%w: %s", ErrEndpointExists, endpoint)
	}
	b.endpoints[endpoint] = handler
	return nil
}

func (b *Bus) Deregister(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.endpoints[endpoint]; !ok {
		return false
	}
	delete(b.endpoints, endpoint)
	return true
}

func (b *Bus) IsRegistered(endpoint string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.endpoints[endpoint]
	return ok
}

// Send доставляет сообщение на endpoint
func (b *Bus) Send(endpoint string, msg any) error {
	b.mu.RLock()
	handler, ok := b.endpoints[endpoint]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEndpoint, endpoint)
	}
	b.sent.Add(1)
	busMessages.WithLabelValues(b.name, "send").Inc()
	b.enqueue(delivery{topic: endpoint, msg: msg, endpoint: handler})
	return nil
}

// ============================================================
// Доставка
// ============================================================

func (b *Bus) enqueue(d delivery) {
	b.qmu.Lock()
	b.queue = append(b.queue, d)
	if b.draining {
		b.qmu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = delivery{}
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.deliver(next)

		b.qmu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.qmu.Unlock()
}

func (b *Bus) deliver(d delivery) {
	if d.endpoint != nil {
		b.safeCall(d.topic, func() { d.endpoint(d.msg) })
		return
	}
	for _, s := range b.matching(d.topic) {
		handler := s.handler
		b.safeCall(d.topic, func() { handler(d.topic, d.msg) })
	}
}

// safeCall изолирует панику обработчика от остальных подписчиков
func (b *Bus) safeCall(topic string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			busHandlerPanics.WithLabelValues(b.name).Inc()
			b.log.Error("handler panic recovered", utils.Topic(topic), utils.Any("panic", r))
		}
	}()
	fn()
}

// Stats - счётчики публикаций и отправок
func (b *Bus) Stats() (published, sent uint64) {
	return b.published.Load(), b.sent.Load()
}

package websocket

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"tradecore/internal/models"
	"tradecore/internal/msgbus"
	"tradecore/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Темы шины, которые пересылаются в браузер
const (
	TopicAccounts  = "events.account.*"
	TopicPositions = "events.position.*"

	broadcastBufferSize = 256
)

// outbound - сериализованное сообщение и его тип для фильтра клиента
type outbound struct {
	kind MessageType
	data []byte
}

// jsonBufferPool убирает аллокацию буфера на каждый Broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями дашборда
//
// Назначение:
// Пересылает подключенным браузерам состояния счетов, события позиций и
// периодические сводки портфеля без polling.
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Broadcast сообщений всем активным клиентам без блокировки отправителя
// - Подписка на темы шины events.account.* и events.position.*
// - Отключение клиентов, которые не успевают читать
//
// Использование:
// 1. hub := NewHub(allowedOrigins)
// 2. go hub.Run()
// 3. hub.Attach(bus)
// 4. router.HandleFunc("/ws/stream", hub.ServeWS)
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	origins *OriginChecker
	dropped atomic.Uint64

	bus  *msgbus.Bus
	subs []msgbus.SubscriptionID

	log *utils.Logger
}

// NewHub создает Hub; пустой список origins разрешает любой Origin
func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		log:        utils.L().WithComponent("ws_hub"),
	}
}

// Run - главный цикл Hub, запускается в отдельной горутине.
// Список клиентов копируется под коротким RLock, отправка идёт без
// блокировки, медленные клиенты удаляются под Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			clear(h.clients)
			h.mu.Unlock()
			dashboardClients.Set(0)
			h.log.Info("hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			dashboardClients.Set(float64(n))
			h.log.Debug("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			dashboardClients.Set(float64(n))
			h.log.Debug("client disconnected", utils.Int("clients", n))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				if !client.wants(message.kind) {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				dashboardClients.Set(float64(n))
				h.log.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("clients", n))
			}
		}
	}
}

// Stop завершает Run и закрывает каналы клиентов; повторный вызов безопасен
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.Detach()
		close(h.stop)
	})
}

// Broadcast сериализует сообщение и ставит в очередь рассылки.
// При заполненной очереди сообщение отбрасывается: вызывающий - обработчик
// шины и ждать не должен. Сообщения без BaseMessage получают все клиенты.
func (h *Hub) Broadcast(message interface{}) {
	var kind MessageType
	if typed, ok := message.(interface{ messageType() MessageType }); ok {
		kind = typed.messageType()
	}

	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- outbound{kind: kind, data: msg}:
	case <-h.stop:
	default:
		h.dropped.Add(1)
		dashboardDropped.Inc()
	}
}

// DroppedMessages - сообщения, отброшенные из-за переполнения очереди
func (h *Hub) DroppedMessages() uint64 {
	return h.dropped.Load()
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ============================================================
// Шина
// ============================================================

// Attach подписывает Hub на события счетов и позиций
func (h *Hub) Attach(bus *msgbus.Bus) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.bus != nil {
		return fmt.Errorf("hub already attached to bus %s", h.bus.Name())
	}
	for pattern, handler := range map[string]msgbus.Handler{
		TopicAccounts:  h.onAccount,
		TopicPositions: h.onPosition,
	} {
		id, err := bus.Subscribe(pattern, handler, 0)
		if err != nil {
			for _, sub := range h.subs {
				bus.Unsubscribe(sub)
			}
			h.subs = nil
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
		h.subs = append(h.subs, id)
	}
	h.bus = bus
	return nil
}

// Detach снимает подписки на шине
func (h *Hub) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range h.subs {
		h.bus.Unsubscribe(id)
	}
	h.subs = nil
	h.bus = nil
}

func (h *Hub) onAccount(topic string, msg any) {
	switch st := msg.(type) {
	case models.AccountState:
		h.Broadcast(NewAccountUpdateMessage(st))
	case *models.AccountState:
		h.Broadcast(NewAccountUpdateMessage(*st))
	default:
		h.log.Debug("skip non-account message", utils.Topic(topic))
	}
}

func (h *Hub) onPosition(topic string, msg any) {
	switch ev := msg.(type) {
	case models.PositionEvent:
		h.Broadcast(NewPositionUpdateMessage(ev))
	case *models.PositionEvent:
		h.Broadcast(NewPositionUpdateMessage(*ev))
	default:
		h.log.Debug("skip non-position message", utils.Topic(topic))
	}
}

package exchange

import (
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ReconnectedMarker - текстовое сообщение, которое получает обработчик
// после успешного переподключения
const ReconnectedMarker = "RECONNECTED"

// Message - кадр WebSocket: тип (websocket.TextMessage, BinaryMessage) и данные
type Message struct {
	Type int
	Data []byte
}

// Text - данные кадра как строка
func (m Message) Text() string { return string(m.Data) }

// IsReconnected - синтетический маркер переподключения
func (m Message) IsReconnected() bool {
	return m.Type == websocket.TextMessage && string(m.Data) == ReconnectedMarker
}

// MessageHandler получает входящие кадры в режиме обработчика.
// Invoke вызывается из горутины чтения и не должен надолго блокировать.
type MessageHandler interface {
	Invoke(Message)
}

// HandlerFunc - функция как MessageHandler
type HandlerFunc func(Message)

func (f HandlerFunc) Invoke(m Message) { f(m) }

// PingHandler получает payload входящих ping кадров
type PingHandler func(payload []byte)

// ChannelHandler - обработчик с ограниченным буфером.
// При переполнении кадр отбрасывается и учитывается в Dropped.
type ChannelHandler struct {
	ch      chan Message
	dropped atomic.Uint64
}

// NewChannelHandler создаёт обработчик с буфером size
func NewChannelHandler(size int) *ChannelHandler {
	if size <= 0 {
		size = 1024
	}
	return &ChannelHandler{ch: make(chan Message, size)}
}

func (h *ChannelHandler) Invoke(m Message) {
	select {
	case h.ch <- m:
	default:
		h.dropped.Add(1)
	}
}

// C - канал входящих кадров
func (h *ChannelHandler) C() <-chan Message { return h.ch }

// Dropped - число отброшенных кадров
func (h *ChannelHandler) Dropped() uint64 { return h.dropped.Load() }

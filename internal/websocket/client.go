package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"tradecore/pkg/utils"

	"github.com/gorilla/websocket"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Клиент присылает только управляющие кадры (ControlMessage)
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 512
)

// OriginChecker проверяет Origin с O(1) lookup через map.
// Потокобезопасен для чтения после создания.
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker - пустой список или "*" разрешает все origins
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			checker.allowAll = true
		default:
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin; запросы без Origin (curl, сервисы) пропускаются
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client - одно WebSocket соединение дашборда.
//
// У каждого клиента две горутины: readPump принимает управляющие кадры и
// замечает отключение, writePump пишет сообщения из send.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	// types == nil - клиент получает все типы
	types atomic.Pointer[map[MessageType]struct{}]
}

// wants - нужен ли клиенту тип сообщения; нетипизированные получают все
func (c *Client) wants(kind MessageType) bool {
	types := c.types.Load()
	if types == nil || kind == "" {
		return true
	}
	_, ok := (*types)[kind]
	return ok
}

// applyControl меняет фильтр типов клиента. Неизвестные типы
// отбрасываются; подписка без известных типов - ошибка.
func (c *Client) applyControl(data []byte) error {
	var ctl ControlMessage
	if err := json.Unmarshal(data, &ctl); err != nil {
		return fmt.Errorf("decode control frame: %w", err)
	}

	switch ctl.Op {
	case "subscribe":
		types := make(map[MessageType]struct{}, len(ctl.Types))
		for _, t := range ctl.Types {
			if _, ok := knownTypes[t]; ok {
				types[t] = struct{}{}
			}
		}
		if len(types) == 0 {
			return errors.New("subscribe without known message types")
		}
		c.types.Store(&types)
	case "reset":
		c.types.Store(nil)
	default:
		return fmt.Errorf("unknown control op %q", ctl.Op)
	}
	return nil
}

// readPump читает управляющие кадры до ошибки соединения
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", utils.Err(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := c.applyControl(data); err != nil {
			c.hub.log.Debug("control frame ignored", utils.Err(err))
		}
	}
}

// writePump отправляет сообщения клиенту; накопившиеся в буфере
// сообщения склеиваются в один кадр через '\n'
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

		drain:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drain
					}
					_, _ = w.Write([]byte{'\n'})
					_, _ = w.Write(msg)
				default:
					break drain
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP соединение и регистрирует клиента.
//
// Использование в routes:
// router.HandleFunc("/ws/stream", hub.ServeWS)
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       func(r *http.Request) bool { return h.origins.Check(r.Header.Get("Origin")) },
		EnableCompression: true,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", utils.Err(err))
		return
	}

	client := &Client{
		conn: conn,
		hub:  h,
		send: make(chan []byte, clientSendBufferSize),
	}

	select {
	case h.register <- client:
	case <-h.stop:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// remove снимает клиента с регистрации, если Hub ещё работает
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/pkg/ratelimit"
	"tradecore/pkg/retry"
	"tradecore/pkg/utils"
)

const (
	gracefulCloseTimeout = 5 * time.Second
	stateCheckInterval   = 10 * time.Millisecond
	writeTimeout         = 10 * time.Second
	writerQueueSize      = 1024
)

// ConnectionMode - состояние соединения WebSocket
type ConnectionMode uint32

const (
	ModeActive ConnectionMode = iota
	ModeReconnect
	ModeDisconnect
	ModeClosed
)

func (m ConnectionMode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeReconnect:
		return "reconnect"
	case ModeDisconnect:
		return "disconnect"
	case ModeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WebSocketConfig - настройки клиента
type WebSocketConfig struct {
	// Name - имя для логов и метрик
	Name    string
	URL     string
	Headers http.Header

	// Heartbeat - интервал ping (0 - выключен); HeartbeatText заменяет ping текстом
	Heartbeat     time.Duration
	HeartbeatText string

	HandshakeTimeout time.Duration

	// ReconnectTimeout ограничивает попытку переподключения и ожидание
	// активного состояния при отправке
	ReconnectTimeout      time.Duration
	ReconnectDelayInitial time.Duration
	ReconnectDelayMax     time.Duration
	ReconnectFactor       float64
	ReconnectJitter       time.Duration
}

// DefaultWebSocketConfig - переподключение 2s..16s, попытка не дольше 10s
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		Name:                  "ws",
		URL:                   url,
		Heartbeat:             30 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		ReconnectTimeout:      10 * time.Second,
		ReconnectDelayInitial: 2 * time.Second,
		ReconnectDelayMax:     16 * time.Second,
		ReconnectFactor:       2,
	}
}

func (c *WebSocketConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "ws"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = 10 * time.Second
	}
	if c.ReconnectDelayInitial <= 0 {
		c.ReconnectDelayInitial = 2 * time.Second
	}
	if c.ReconnectDelayMax < c.ReconnectDelayInitial {
		c.ReconnectDelayMax = c.ReconnectDelayInitial
	}
	if c.ReconnectFactor < 1 {
		c.ReconnectFactor = 2
	}
}

type commandKind uint8

const (
	cmdSend commandKind = iota
	cmdUpdate
)

// writerCommand - команда горутине записи: кадр или новое соединение
type writerCommand struct {
	kind    commandKind
	msgType int
	data    []byte
	conn    *websocket.Conn
}

// WebSocketClient - клиент с одним читателем и несколькими писателями.
//
// Соединением владеют четыре горутины: чтение (в режиме обработчика),
// запись (единственный писатель в сокет), heartbeat и контроллер,
// который следит за живостью и переподключается. Состояние хранится
// атомарно; переходы Active <-> Reconnect выполняются через CAS.
type WebSocketClient struct {
	cfg        WebSocketConfig
	mode       atomic.Uint32
	streamMode bool

	limiter  *ratelimit.KeyedLimiter
	backoff  *retry.Backoff
	writerCh chan writerCommand

	// stop закрывается при Disconnect или переходе в Closed
	stop     chan struct{}
	stopOnce sync.Once

	writerDone     chan struct{}
	controllerDone chan struct{}

	mu            sync.Mutex
	handler       MessageHandler
	pingHandler   PingHandler
	postReconnect func()
	readConn      *websocket.Conn
	readerDone    chan struct{}

	subsMu        sync.RWMutex
	subscriptions map[string][]byte

	logger *utils.Logger
}

// Connect подключается в режиме обработчика: входящие кадры передаются
// handler, разрывы восстанавливаются автоматически.
func Connect(ctx context.Context, cfg WebSocketConfig, handler MessageHandler, pingHandler PingHandler,
	postReconnect func(), quotas map[string]ratelimit.Quota) (*WebSocketClient, error) {
	if handler == nil {
		return nil, &ValidationError{Field: "handler", Reason: "handler mode requires a message handler"}
	}
	c, conn, err := connect(ctx, cfg, quotas)
	if err != nil {
		return nil, err
	}
	c.handler = handler
	c.pingHandler = pingHandler
	c.postReconnect = postReconnect

	c.startReader(conn)
	c.start(conn)
	return c, nil
}

// ConnectStream подключается в режиме потока: чтением владеет вызывающий.
// Клиент не переподключается сам - после разрыва он переходит в Closed.
func ConnectStream(ctx context.Context, cfg WebSocketConfig, quotas map[string]ratelimit.Quota) (*WSReader, *WebSocketClient, error) {
	c, conn, err := connect(ctx, cfg, quotas)
	if err != nil {
		return nil, nil, err
	}
	c.streamMode = true
	c.start(conn)
	return &WSReader{conn: conn, client: c}, c, nil
}

func connect(ctx context.Context, cfg WebSocketConfig, quotas map[string]ratelimit.Quota) (*WebSocketClient, *websocket.Conn, error) {
	if cfg.URL == "" {
		return nil, nil, &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	cfg.setDefaults()

	c := &WebSocketClient{
		cfg:     cfg,
		limiter: ratelimit.NewKeyedLimiter(nil, quotas),
		backoff: retry.NewBackoff(retry.Config{
			InitialDelay: cfg.ReconnectDelayInitial,
			MaxDelay:     cfg.ReconnectDelayMax,
			Factor:       cfg.ReconnectFactor,
			Jitter:       cfg.ReconnectJitter,
		}),
		writerCh:       make(chan writerCommand, writerQueueSize),
		stop:           make(chan struct{}),
		writerDone:     make(chan struct{}),
		controllerDone: make(chan struct{}),
		subscriptions:  make(map[string][]byte),
		logger:         utils.L().WithComponent("websocket").With(utils.String("client", cfg.Name)),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	c.mode.Store(uint32(ModeActive))
	c.logger.Info("WebSocket connected", utils.URL(cfg.URL))
	return c, conn, nil
}

// start запускает горутины записи, heartbeat и контроллера
func (c *WebSocketClient) start(conn *websocket.Conn) {
	go c.writeLoop(conn)
	if c.cfg.Heartbeat > 0 {
		go c.heartbeatLoop()
	}
	go c.controllerLoop()
}

func (c *WebSocketClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrCanceled, c.cfg.URL, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "dial " + c.cfg.URL, Err: err}
		}
		return nil, &NetworkError{Op: "dial " + c.cfg.URL, Err: err}
	}
	return conn, nil
}

// ============================================================
// Состояние
// ============================================================

// Mode - текущее состояние соединения
func (c *WebSocketClient) Mode() ConnectionMode { return ConnectionMode(c.mode.Load()) }

func (c *WebSocketClient) IsActive() bool        { return c.Mode() == ModeActive }
func (c *WebSocketClient) IsReconnecting() bool  { return c.Mode() == ModeReconnect }
func (c *WebSocketClient) IsDisconnecting() bool { return c.Mode() == ModeDisconnect }
func (c *WebSocketClient) IsClosed() bool        { return c.Mode() == ModeClosed }

// IsStreamMode - чтением владеет вызывающий
func (c *WebSocketClient) IsStreamMode() bool { return c.streamMode }

func (c *WebSocketClient) terminating() bool {
	m := c.Mode()
	return m == ModeDisconnect || m == ModeClosed
}

func (c *WebSocketClient) closeStop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// markClosed - терминальное состояние без корректного закрытия
func (c *WebSocketClient) markClosed() {
	c.mode.Store(uint32(ModeClosed))
	c.closeStop()
}

// isAlive - горутина чтения ещё работает (в режиме потока всегда true)
func (c *WebSocketClient) isAlive() bool {
	c.mu.Lock()
	done := c.readerDone
	c.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// ============================================================
// Подписки
// ============================================================

// AddSubscription запоминает кадр подписки; после переподключения
// кадры отправляются заново до маркера переподключения
func (c *WebSocketClient) AddSubscription(key string, frame []byte) {
	c.subsMu.Lock()
	c.subscriptions[key] = frame
	c.subsMu.Unlock()
}

// RemoveSubscription забывает подписку
func (c *WebSocketClient) RemoveSubscription(key string) {
	c.subsMu.Lock()
	delete(c.subscriptions, key)
	c.subsMu.Unlock()
}

// Subscriptions - ключи активных подписок по возрастанию
func (c *WebSocketClient) Subscriptions() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	keys := make([]string, 0, len(c.subscriptions))
	for k := range c.subscriptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================
// Отправка
// ============================================================

// SendText отправляет текстовый кадр с учётом квот keys
func (c *WebSocketClient) SendText(ctx context.Context, text string, keys ...string) error {
	return c.send(ctx, websocket.TextMessage, []byte(text), keys)
}

// SendBytes отправляет бинарный кадр с учётом квот keys
func (c *WebSocketClient) SendBytes(ctx context.Context, data []byte, keys ...string) error {
	return c.send(ctx, websocket.BinaryMessage, data, keys)
}

// SendPong отправляет pong с payload
func (c *WebSocketClient) SendPong(ctx context.Context, payload []byte) error {
	return c.send(ctx, websocket.PongMessage, payload, nil)
}

// SendCloseMessage отправляет кадр закрытия с кодом 1000
func (c *WebSocketClient) SendCloseMessage(ctx context.Context) error {
	return c.send(ctx, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), nil)
}

// send: квоты, затем ожидание Active не дольше ReconnectTimeout, затем очередь
func (c *WebSocketClient) send(ctx context.Context, msgType int, data []byte, keys []string) error {
	if c.terminating() {
		return ErrClosed
	}
	if err := c.limiter.Wait(ctx, keys...); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrCanceled, err)
	}
	if err := c.waitActive(ctx); err != nil {
		return err
	}

	select {
	case c.writerCh <- writerCommand{kind: cmdSend, msgType: msgType, data: data}:
		return nil
	case <-c.stop:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
}

func (c *WebSocketClient) waitActive(ctx context.Context) error {
	if c.IsActive() {
		return nil
	}
	timeout := time.NewTimer(c.cfg.ReconnectTimeout)
	defer timeout.Stop()
	tick := time.NewTicker(stateCheckInterval)
	defer tick.Stop()

	for {
		switch c.Mode() {
		case ModeActive:
			return nil
		case ModeDisconnect, ModeClosed:
			return ErrClosed
		}
		select {
		case <-tick.C:
		case <-timeout.C:
			return ErrSendTimeout
		case <-c.stop:
			return ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
	}
}

// ============================================================
// Горутины
// ============================================================

func (c *WebSocketClient) startReader(conn *websocket.Conn) {
	done := make(chan struct{})
	c.mu.Lock()
	c.readConn = conn
	c.readerDone = done
	c.mu.Unlock()
	go c.readLoop(conn, done)
}

func (c *WebSocketClient) handlers() (MessageHandler, PingHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler, c.pingHandler
}

// readLoop читает кадры одного соединения до ошибки
func (c *WebSocketClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetPingHandler(func(payload string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeTimeout))
		if _, ping := c.handlers(); ping != nil {
			ping([]byte(payload))
		}
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !c.terminating() {
				c.logger.Warn("WebSocket read failed", utils.Err(err))
			}
			return
		}
		if handler, _ := c.handlers(); handler != nil {
			handler.Invoke(Message{Type: msgType, Data: data})
		}
	}
}

// writeLoop - единственный писатель в сокет
func (c *WebSocketClient) writeLoop(conn *websocket.Conn) {
	defer close(c.writerDone)
	active := conn

	for {
		select {
		case <-c.stop:
			closeGracefully(active)
			return
		case cmd := <-c.writerCh:
			if c.terminating() {
				if cmd.kind == cmdUpdate {
					cmd.conn.Close()
				}
				closeGracefully(active)
				return
			}

			switch cmd.kind {
			case cmdUpdate:
				closeGracefully(active)
				active = cmd.conn
				c.logger.Debug("Writer updated")
			case cmdSend:
				if c.Mode() == ModeReconnect {
					kind := frameKind(cmd.msgType)
					c.logger.Warn("Dropping frame dequeued during reconnect", utils.String("kind", kind), utils.Int("bytes", len(cmd.data)))
					wsFramesDropped.WithLabelValues(c.cfg.Name, kind).Inc()
					continue
				}
				active.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := active.WriteMessage(cmd.msgType, cmd.data); err != nil {
					c.logger.Error("WebSocket write failed, triggering reconnect", utils.Err(err))
					c.mode.CompareAndSwap(uint32(ModeActive), uint32(ModeReconnect))
					continue
				}
				wsFramesSent.WithLabelValues(c.cfg.Name, frameKind(cmd.msgType)).Inc()
			}
		}
	}
}

func frameKind(msgType int) string {
	switch msgType {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	case websocket.PingMessage:
		return "ping"
	case websocket.PongMessage:
		return "pong"
	case websocket.CloseMessage:
		return "close"
	}
	return "other"
}

// closeGracefully отправляет кадр закрытия не дольше gracefulCloseTimeout
func closeGracefully(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(gracefulCloseTimeout))
	_ = conn.Close()
}

// heartbeatLoop ставит ping в очередь записи, пока соединение активно
func (c *WebSocketClient) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		switch c.Mode() {
		case ModeReconnect:
			continue
		case ModeDisconnect, ModeClosed:
			return
		}

		cmd := writerCommand{kind: cmdSend, msgType: websocket.PingMessage}
		if c.cfg.HeartbeatText != "" {
			cmd.msgType = websocket.TextMessage
			cmd.data = []byte(c.cfg.HeartbeatText)
		}
		select {
		case c.writerCh <- cmd:
		case <-c.stop:
			return
		}
	}
}

// controllerLoop следит за живостью чтения и состоянием
func (c *WebSocketClient) controllerLoop() {
	defer close(c.controllerDone)
	ticker := time.NewTicker(stateCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			c.shutdown()
			return
		case <-ticker.C:
		}

		mode := c.Mode()
		if mode == ModeDisconnect || mode == ModeClosed {
			c.shutdown()
			return
		}
		if mode == ModeActive && c.isAlive() {
			continue
		}
		if mode == ModeActive && !c.mode.CompareAndSwap(uint32(ModeActive), uint32(ModeReconnect)) {
			continue
		}

		if err := c.reconnect(); err != nil {
			if c.streamMode || c.terminating() {
				continue
			}
			wsReconnects.WithLabelValues(c.cfg.Name, "failed").Inc()
			delay := c.backoff.Next()
			c.logger.Warn("Reconnect attempt failed", utils.Err(err), utils.Duration("backoff", delay))
			select {
			case <-time.After(delay):
			case <-c.stop:
			}
			continue
		}

		if c.streamMode || !c.IsActive() {
			continue
		}
		c.backoff.Reset()
		wsReconnects.WithLabelValues(c.cfg.Name, "ok").Inc()

		handler, _ := c.handlers()
		if handler != nil {
			handler.Invoke(Message{Type: websocket.TextMessage, Data: []byte(ReconnectedMarker)})
		}
		c.mu.Lock()
		post := c.postReconnect
		c.mu.Unlock()
		if post != nil {
			post()
		}
		c.logger.Info("WebSocket reconnected", utils.URL(c.cfg.URL))
	}
}

// reconnect открывает новое соединение, передаёт его писателю и
// запускает новое чтение. В режиме потока клиент сразу закрывается.
func (c *WebSocketClient) reconnect() error {
	if c.streamMode {
		c.logger.Info("Stream mode client lost connection, closing")
		c.markClosed()
		return ErrClosed
	}
	if c.terminating() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReconnectTimeout)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if c.terminating() {
		conn.Close()
		return nil
	}

	select {
	case c.writerCh <- writerCommand{kind: cmdUpdate, conn: conn}:
	case <-ctx.Done():
		conn.Close()
		return &TimeoutError{Op: "reconnect " + c.cfg.URL, Err: ctx.Err()}
	}

	// Старое чтение завершится, когда писатель закроет прежнее соединение
	if c.terminating() {
		return nil
	}
	c.startReader(conn)

	c.subsMu.RLock()
	frames := make([][]byte, 0, len(c.subscriptions))
	for _, f := range c.subscriptions {
		frames = append(frames, f)
	}
	c.subsMu.RUnlock()

	if !c.mode.CompareAndSwap(uint32(ModeReconnect), uint32(ModeActive)) {
		return nil
	}
	for _, f := range frames {
		select {
		case c.writerCh <- writerCommand{kind: cmdSend, msgType: websocket.TextMessage, data: f}:
		case <-c.stop:
			return nil
		}
	}
	return nil
}

// shutdown дожидается писателя и чтения не дольше gracefulCloseTimeout,
// затем переводит клиент в Closed и отпускает обработчики
func (c *WebSocketClient) shutdown() {
	c.closeStop()
	ctx, cancel := context.WithTimeout(context.Background(), gracefulCloseTimeout)
	defer cancel()

	select {
	case <-c.writerDone:
	case <-ctx.Done():
		c.logger.Error("Writer did not stop within graceful timeout")
	}

	c.mu.Lock()
	conn, done := c.readConn, c.readerDone
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			c.logger.Error("Reader did not stop within graceful timeout")
		}
	}

	c.mode.Store(uint32(ModeClosed))
	c.mu.Lock()
	c.handler = nil
	c.pingHandler = nil
	c.postReconnect = nil
	c.mu.Unlock()
	c.logger.Info("WebSocket closed")
}

// Disconnect закрывает соединение и останавливает горутины.
// Прерывает идущее переподключение; повторный вызов ничего не делает.
func (c *WebSocketClient) Disconnect() {
	for {
		m := c.Mode()
		if m == ModeDisconnect || m == ModeClosed {
			break
		}
		if c.mode.CompareAndSwap(uint32(m), uint32(ModeDisconnect)) {
			break
		}
	}
	c.closeStop()

	select {
	case <-c.controllerDone:
	case <-time.After(gracefulCloseTimeout + time.Second):
		c.logger.Error("Timeout waiting for controller to finish")
		c.mode.Store(uint32(ModeClosed))
	}
}

// ============================================================
// Режим потока
// ============================================================

// WSReader - читающая половина соединения в режиме потока
type WSReader struct {
	conn   *websocket.Conn
	client *WebSocketClient
}

// ReadMessage читает следующий кадр. После ошибки чтения клиент закрыт.
func (r *WSReader) ReadMessage() (Message, error) {
	msgType, data, err := r.conn.ReadMessage()
	if err != nil {
		if !r.client.terminating() {
			r.client.logger.Warn("Stream reader terminated", utils.Err(err))
		}
		r.client.markClosed()
		return Message{}, err
	}
	return Message{Type: msgType, Data: data}, nil
}

// Close закрывает читающую половину
func (r *WSReader) Close() error { return r.conn.Close() }

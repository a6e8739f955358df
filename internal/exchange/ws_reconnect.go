package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rekwert/tesor/pkg/utils"
)

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно).
	// После исчерпания вызывается onGiveUp: дальше восстановлением
	// занимается супервизор сессии, а не менеджер.
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут записи ping
	PongTimeout time.Duration
	// Максимальная пауза между входящими сообщениями.
	// Ноль отключает дедлайн чтения.
	ReadTimeout time.Duration
	// Прикладной ping вместо ping-фрейма. Bybit, например, ждёт
	// JSON {"op":"ping"} и не продлевает сессию по фрейму.
	PingPayload interface{}
}

// DefaultWSReconnectConfig возвращает конфигурацию по умолчанию: 1s, 2s, 4s...
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		MaxRetries:     10,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   15 * time.Second,
		PongTimeout:    10 * time.Second,
		ReadTimeout:    30 * time.Second,
	}
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager управляет WebSocket соединением с автоматическим переподключением
//
// Назначение:
// Обеспечивает надёжный поток рыночных данных с биржи, автоматически
// переподключаясь при разрывах с exponential backoff и повторяя подписки.
//
// Функции:
// - Автоматическое переподключение с exponential backoff
// - Повторная отправка подписок после переподключения
// - Ping/Pong и дедлайн чтения для обнаружения мёртвых соединений
// - Thread-safe операции
// - Callbacks для уведомления о событиях (connect, disconnect, message, give-up)
//
// Использование:
// 1. Создать manager: NewWSReconnectManager(...)
// 2. Установить handlers: SetOnMessage, SetOnConnect, SetOnDisconnect, SetOnGiveUp
// 3. Подключиться: Connect()
// 4. Подписаться: Subscribe(key, msg) / Unsubscribe(key, msg)
// 5. Закрыть: Close()
type WSReconnectManager struct {
	// Имя биржи (для логирования и метрик)
	exchangeName string

	// URL для подключения
	wsURL string

	// Конфигурация
	config WSReconnectConfig

	// WebSocket соединение
	conn   *websocket.Conn
	connMu sync.RWMutex

	// gorilla допускает только одного конкурентного писателя,
	// поэтому все записи в соединение идут под writeMu
	writeMu sync.Mutex

	// Состояние
	state int32 // atomic WSConnectionState

	// Счётчик попыток переподключения
	retryCount int32 // atomic

	// Канал закрытия
	closeChan chan struct{}

	// Callbacks
	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	onGiveUp     func(error)
	callbackMu   sync.RWMutex

	// Подписки для восстановления после переподключения,
	// ключ - имя топика/стрима
	subscriptions   map[string]interface{}
	subscriptionsMu sync.RWMutex

	log *utils.Logger
}

// NewWSReconnectManager создаёт новый менеджер переподключений
func NewWSReconnectManager(exchangeName, wsURL string, config WSReconnectConfig) *WSReconnectManager {
	return &WSReconnectManager{
		exchangeName:  exchangeName,
		wsURL:         wsURL,
		config:        config,
		closeChan:     make(chan struct{}),
		subscriptions: make(map[string]interface{}),
		log:           utils.L().WithExchange(exchangeName).WithComponent("ws"),
	}
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback для события подключения
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback для события отключения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// SetOnGiveUp устанавливает callback на исчерпание попыток переподключения.
// Вызывается один раз, после чего менеджер остаётся в состоянии disconnected.
func (m *WSReconnectManager) SetOnGiveUp(handler func(error)) {
	m.callbackMu.Lock()
	m.onGiveUp = handler
	m.callbackMu.Unlock()
}

// Subscribe регистрирует подписку под ключом и отправляет её, если
// соединение установлено. Во время переподключения отправка не считается
// ошибкой: зарегистрированные подписки будут повторены после dial.
func (m *WSReconnectManager) Subscribe(key string, msg interface{}) error {
	m.subscriptionsMu.Lock()
	m.subscriptions[key] = msg
	m.subscriptionsMu.Unlock()

	if err := m.Send(msg); err != nil {
		if m.GetState() == WSStateClosed {
			return err
		}
		m.log.Debug("subscribe deferred until reconnect",
			zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Unsubscribe снимает подписку с повтора и best-effort отправляет
// сообщение отписки (nil - не отправлять).
func (m *WSReconnectManager) Unsubscribe(key string, msg interface{}) {
	m.subscriptionsMu.Lock()
	delete(m.subscriptions, key)
	m.subscriptionsMu.Unlock()

	if msg != nil {
		if err := m.Send(msg); err != nil {
			m.log.Debug("unsubscribe frame not sent", zap.String("key", key), zap.Error(err))
		}
	}
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// Connect устанавливает WebSocket соединение
func (m *WSReconnectManager) Connect() error {
	// Проверяем, не закрыт ли менеджер
	select {
	case <-m.closeChan:
		return fmt.Errorf("manager is closed")
	default:
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))

	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	// Вызываем callback подключения
	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()

	if onConnect != nil {
		onConnect()
	}

	// Запускаем горутины чтения и ping
	go m.readPump()
	go m.pingPump()

	m.log.Info("websocket connected", zap.String("url", m.wsURL))

	return nil
}

// dial выполняет подключение к WebSocket
func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	// Восстанавливаем подписки
	if err := m.resubscribe(); err != nil {
		m.log.Warn("resubscribe error", zap.Error(err))
		// Не возвращаем ошибку, подписки могут быть восстановлены позже
	}

	return nil
}

// resubscribe восстанавливает подписки после переподключения
func (m *WSReconnectManager) resubscribe() error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.subscriptionsMu.RUnlock()

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	for _, sub := range subs {
		m.writeMu.Lock()
		err := conn.WriteJSON(sub)
		m.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}

	if len(subs) > 0 {
		m.log.Info("resubscribed", zap.Int("channels", len(subs)))
	}

	return nil
}

// readPump читает сообщения из WebSocket
func (m *WSReconnectManager) readPump() {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return
	}

	if m.config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		})
	}

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		// Любое входящее сообщение подтверждает живость соединения
		if m.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		}

		RecordWSMessage(m.exchangeName)

		// Отправляем сообщение в callback
		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping для проверки соединения.
// Привязан к соединению на момент запуска: после переподключения
// старый pump завершается, новый запускает reconnectLoop.
func (m *WSReconnectManager) pingPump() {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return
	}

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			current := m.conn
			m.connMu.RUnlock()

			if current != conn {
				return
			}

			if m.GetState() != WSStateConnected {
				return
			}

			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
			var err error
			if m.config.PingPayload != nil {
				err = conn.WriteJSON(m.config.PingPayload)
			} else {
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			m.writeMu.Unlock()

			if err != nil {
				m.log.Warn("ping error", zap.Error(err))
				m.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (m *WSReconnectManager) handleDisconnect(err error) {
	// Проверяем, не закрыт ли менеджер
	select {
	case <-m.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки
	state := m.GetState()
	if state == WSStateReconnecting || state == WSStateClosed {
		return
	}

	atomic.StoreInt32(&m.state, int32(WSStateReconnecting))

	// Закрываем текущее соединение
	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	// Вызываем callback отключения
	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()

	if onDisconnect != nil {
		onDisconnect(err)
	}

	if err != nil {
		m.log.Warn("websocket disconnected", zap.Error(err))
	}

	// Запускаем переподключение
	go m.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (m *WSReconnectManager) reconnectLoop() {
	delay := m.config.InitialDelay

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&m.retryCount, 1)

		// Проверяем лимит попыток
		if m.config.MaxRetries > 0 && int(retryCount) > m.config.MaxRetries {
			m.log.Error("reconnect attempts exhausted",
				zap.Int("max_retries", m.config.MaxRetries))
			atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
			RecordWSGiveUp(m.exchangeName)

			m.callbackMu.RLock()
			onGiveUp := m.onGiveUp
			m.callbackMu.RUnlock()

			if onGiveUp != nil {
				onGiveUp(fmt.Errorf("websocket reconnect to %s failed after %d attempts",
					m.wsURL, m.config.MaxRetries))
			}
			return
		}

		m.log.Info("reconnecting",
			zap.Duration("delay", delay),
			zap.Int32("attempt", retryCount),
			zap.Int("max_retries", m.config.MaxRetries))

		// Ждём перед попыткой
		select {
		case <-m.closeChan:
			return
		case <-time.After(delay):
		}

		// Пытаемся подключиться
		if err := m.dial(); err != nil {
			m.log.Warn("reconnect failed", zap.Error(err))

			// Exponential backoff
			delay = delay * 2
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		// Успешное подключение
		atomic.StoreInt32(&m.state, int32(WSStateConnected))
		atomic.StoreInt32(&m.retryCount, 0)
		RecordWSReconnect(m.exchangeName)

		// Вызываем callback подключения
		m.callbackMu.RLock()
		onConnect := m.onConnect
		m.callbackMu.RUnlock()

		if onConnect != nil {
			onConnect()
		}

		m.log.Info("websocket reconnected")

		// Запускаем горутины чтения и ping
		go m.readPump()
		go m.pingPump()

		return
	}
}

// Send отправляет сообщение через WebSocket
func (m *WSReconnectManager) Send(msg interface{}) error {
	if m.GetState() != WSStateConnected {
		return fmt.Errorf("not connected (state: %s)", m.GetState())
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Close закрывает WebSocket соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	// Проверяем, не закрыт ли уже
	select {
	case <-m.closeChan:
		return nil
	default:
		close(m.closeChan)
	}

	atomic.StoreInt32(&m.state, int32(WSStateClosed))

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}

	return nil
}

// GetRetryCount возвращает текущее количество попыток переподключения
func (m *WSReconnectManager) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}

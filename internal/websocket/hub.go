// Package websocket отдаёт поток арбитражных возможностей браузерным
// и программным клиентам. Каждое соединение получает собственную
// подписку брокера: сразу после подключения приходит текущий список,
// дальше - по сообщению на каждый тик сканера. Медленных клиентов
// отключает сам брокер, переполнившись их очередью.
package websocket

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rekwert/tesor/internal/broker"
	"github.com/rekwert/tesor/pkg/utils"
)

// Hub ведёт реестр активных соединений. Рассылкой занимается брокер;
// хабу остаётся учёт, метрики и принудительное закрытие при остановке.
type Hub struct {
	broker *broker.Broker
	log    *utils.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

func NewHub(b *broker.Broker) *Hub {
	return &Hub{
		broker:  b,
		log:     utils.L().WithComponent("websocket"),
		clients: make(map[*Client]struct{}),
	}
}

// add регистрирует клиента; false после остановки хаба
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	SetConnectedClients(len(h.clients))
	h.log.Info("websocket client connected", zap.Int("total", len(h.clients)))
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	SetConnectedClients(len(h.clients))
	h.log.Info("websocket client disconnected", zap.Int("total", len(h.clients)))
}

// ClientCount возвращает количество подключённых клиентов
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown рвёт все соединения. Подписки клиентов к этому моменту
// уже закрыты остановкой брокера; здесь добиваются читающие горутины.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
	SetConnectedClients(0)
	h.log.Info("websocket hub stopped", zap.Int("clients_closed", len(clients)))
}

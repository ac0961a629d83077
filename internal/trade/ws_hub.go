// Package trade: WebSocket hub for streaming ticks and notices.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/metrics"
	"github.com/marketsim/market-engine/internal/model"
	"github.com/marketsim/market-engine/internal/sim"
)

// Message types sent to clients.
const (
	MessageTick   = "tick"
	MessageNotice = "notice"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type      string          `json:"type"`
	Tick      int64           `json:"tick,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	Prices    []PriceUpdate   `json:"prices,omitempty"`
	Indices   []PriceUpdate   `json:"indices,omitempty"`
	Portfolio *PortfolioTotal `json:"portfolio,omitempty"`
	Notice    *sim.Notice     `json:"notice,omitempty"`
}

// PriceUpdate is the latest value of a stock or index.
type PriceUpdate struct {
	ID       string          `json:"id"`
	Ticker   string          `json:"ticker"`
	Value    decimal.Decimal `json:"value"`
	Previous decimal.Decimal `json:"previous"`
}

// PortfolioTotal is the headline portfolio figures.
type PortfolioTotal struct {
	Cash            decimal.Decimal `json:"cash"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
}

// WSHub manages WebSocket connections and broadcasts messages to all
// connected clients whenever the engine publishes.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex

	engine   *sim.Engine // set by Attach
	tickFn   func(*model.Snapshot)
	noticeFn func(sim.Notice)
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Attach subscribes the hub to the engine's tick and notice topics. Run
// unsubscribes when it returns.
func (h *WSHub) Attach(e *sim.Engine) error {
	h.tickFn, h.noticeFn = h.onTick, h.onNotice
	if err := e.Subscribe(sim.TopicTick, h.tickFn); err != nil {
		return err
	}
	if err := e.Subscribe(sim.TopicNotice, h.noticeFn); err != nil {
		e.Unsubscribe(sim.TopicTick, h.tickFn)
		return err
	}
	h.engine = e
	return nil
}

// Detach removes the hub's engine subscriptions. It is a no-op when the
// hub is not attached.
func (h *WSHub) Detach() {
	if h.engine == nil {
		return
	}
	if err := h.engine.Unsubscribe(sim.TopicTick, h.tickFn); err != nil {
		slog.Warn("ws hub unsubscribe failed", "topic", sim.TopicTick, "err", err)
	}
	if err := h.engine.Unsubscribe(sim.TopicNotice, h.noticeFn); err != nil {
		slog.Warn("ws hub unsubscribe failed", "topic", sim.TopicNotice, "err", err)
	}
	h.engine = nil
}

func (h *WSHub) onTick(s *model.Snapshot) {
	h.Broadcast(TickMessage(s))
}

func (h *WSHub) onNotice(n sim.Notice) {
	h.Broadcast(WSMessage{Type: MessageNotice, Notice: &n})
}

// TickMessage condenses a snapshot to current prices and portfolio totals.
func TickMessage(s *model.Snapshot) WSMessage {
	updatedAt := s.UpdatedAt
	msg := WSMessage{
		Type:      MessageTick,
		Tick:      s.Tick,
		UpdatedAt: &updatedAt,
		Prices:    make([]PriceUpdate, 0, len(s.Stocks)),
		Indices:   make([]PriceUpdate, 0, len(s.Indices)),
		Portfolio: &PortfolioTotal{
			Cash:            s.Portfolio.Cash,
			TotalValue:      s.Portfolio.TotalValue,
			TotalProfitLoss: s.Portfolio.TotalProfitLoss,
		},
	}
	for _, st := range s.Stocks {
		msg.Prices = append(msg.Prices, PriceUpdate{ID: st.ID, Ticker: st.Ticker, Value: st.CurrentPrice, Previous: st.PreviousPrice})
	}
	for _, idx := range s.Indices {
		msg.Indices = append(msg.Indices, PriceUpdate{ID: idx.ID, Ticker: idx.Ticker, Value: idx.CurrentValue, Previous: idx.PreviousValue})
	}
	return msg
}

// Run starts the hub's main event loop and returns when ctx is done,
// closing every client connection.
func (h *WSHub) Run(ctx context.Context) error {
	defer close(h.done)
	defer h.Detach()
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return nil

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full so the engine never blocks on slow clients.
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}

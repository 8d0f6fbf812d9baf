package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearstrike/clearstrike/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Tick is one observed trade price from the upstream exchange stream.
// Price is fixed-point with 8 decimals, matching the oracle answer format.
type Tick struct {
	Symbol string
	Price  *big.Int
	At     time.Time
}

// TickHandler is called for each trade tick received from the stream.
type TickHandler func(Tick)

// streamCommand is the subscribe/unsubscribe frame of the exchange stream
// protocol (Binance-compatible).
type streamCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// tradeMessage is the trade event payload of the exchange stream.
type tradeMessage struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // unix milliseconds
}

// streamEnvelope is the combined-stream wrapper some endpoints use.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// WSClient is a WebSocket client for an exchange trade stream. It manages
// the connection lifecycle, subscriptions, and dispatches trade ticks to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool
	nextID int64

	// Subscriptions to restore on reconnect.
	subscriptions []string

	handlerMu    sync.RWMutex
	tickHandlers []TickHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given stream URL,
// e.g. "wss://stream.binance.com:9443/ws".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection to the trade stream.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("relayer/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("relayer/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start the read loop and ping loop.
	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		if err := w.sendCommand("SUBSCRIBE", w.subscriptions); err != nil {
			return fmt.Errorf("relayer/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the trade stream for the given symbols.
func (w *WSClient) Subscribe(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("relayer/ws: not connected")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}

	if err := w.sendCommand("SUBSCRIBE", streams); err != nil {
		return fmt.Errorf("relayer/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	w.subscriptions = append(w.subscriptions, streams...)
	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnTick registers a handler that is called for every trade tick.
func (w *WSClient) OnTick(handler TickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickHandlers = append(w.tickHandlers, handler)
}

// sendCommand sends a JSON command frame. Caller must hold w.mu.
func (w *WSClient) sendCommand(method string, params []string) error {
	w.nextID++
	cmd := streamCommand{
		Method: method,
		Params: params,
		ID:     w.nextID,
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the registered handlers. It runs in its own goroutine. On
// disconnect it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw stream message and dispatches trade ticks.
// Non-trade frames (subscription acks, other events) are silently dropped.
func (w *WSClient) handleMessage(raw []byte) {
	// Unwrap the combined-stream envelope when present.
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		raw = env.Data
	}

	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Event != "trade" || msg.Symbol == "" {
		return
	}

	price, err := parsePrice(msg.Price)
	if err != nil {
		return
	}

	tick := Tick{
		Symbol: strings.ToUpper(msg.Symbol),
		Price:  price,
		At:     time.UnixMilli(msg.TradeTime),
	}
	if msg.TradeTime == 0 {
		tick.At = time.Now()
	}

	w.handlerMu.RLock()
	handlers := w.tickHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// priceDecimals is the fixed-point scale of oracle answers.
const priceDecimals = 8

// parsePrice converts a decimal price string like "60123.45" to a
// fixed-point integer with 8 decimals, without a float round trip.
func parsePrice(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("relayer/ws: empty price")
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > priceDecimals {
		frac = frac[:priceDecimals]
	}
	frac += strings.Repeat("0", priceDecimals-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("relayer/ws: malformed price %q", s)
	}
	return v, nil
}

package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every price update received on the feed.
type TickHandler func(domain.Tick)

// DisconnectHandler is called once per connection loss, before the client
// begins reconnecting. The execution layer uses it to cancel resting orders.
type DisconnectHandler func(err error)

// WSClient is a WebSocket client for the venue's real-time price feed. It
// manages the connection lifecycle, subscriptions, and dispatches ticks to
// registered handlers.
type WSClient struct {
	wsURL     string
	conn      *websocket.Conn
	pingEvery time.Duration

	mu     sync.RWMutex
	closed bool

	// Subscribed asset IDs, restored on reconnect.
	assets []string

	handlerMu          sync.RWMutex
	tickHandlers       []TickHandler
	disconnectHandlers []DisconnectHandler

	lastMsgMu sync.RWMutex
	lastMsgAt time.Time

	done chan struct{}
}

// NewWSClient creates a feed client for the given WebSocket URL.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:     wsURL,
		pingEvery: pingPeriod,
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously subscribed assets are re-subscribed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("venue/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue/ws: connect: %w", err)
	}
	w.conn = conn
	w.touch()

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	if len(w.assets) > 0 {
		if err := w.sendSubscribe(w.assets); err != nil {
			return fmt.Errorf("venue/ws: restore subscription: %w", err)
		}
	}
	return nil
}

// Subscribe subscribes to price updates for the given asset IDs.
func (w *WSClient) Subscribe(_ context.Context, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("venue/ws: not connected")
	}
	if err := w.sendSubscribe(assetIDs); err != nil {
		return fmt.Errorf("venue/ws: subscribe: %w", err)
	}
	w.assets = mergeAssets(w.assets, assetIDs)
	return nil
}

// OnTick registers a handler for every price update.
func (w *WSClient) OnTick(h TickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickHandlers = append(w.tickHandlers, h)
}

// OnDisconnect registers a handler invoked once per connection loss.
func (w *WSClient) OnDisconnect(h DisconnectHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.disconnectHandlers = append(w.disconnectHandlers, h)
}

// LastMessageAt returns when the feed last delivered any message. The feed
// watchdog treats a long gap as a dead feed even while the socket looks open.
func (w *WSClient) LastMessageAt() time.Time {
	w.lastMsgMu.RLock()
	defer w.lastMsgMu.RUnlock()
	return w.lastMsgAt
}

// Bounce drops the underlying connection without shutting the client down,
// which forces the disconnect-and-reconnect path. The silent-feed watchdog
// uses it when a connection looks open but has stopped delivering messages.
func (w *WSClient) Bounce() {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// Close shuts down the connection and stops the loops.
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

// sendSubscribe sends a subscribe command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(assetIDs []string) error {
	cmd := struct {
		Type   string   `json:"type"`
		Assets []string `json:"assets"`
	}{Type: "subscribe", Assets: assetIDs}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages from conn until it dies, then notifies disconnect
// handlers and hands off to reconnect.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.notifyDisconnect(err)
			w.reconnect()
			return
		}
		w.touch()
		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. Pings share w.mu with subscribe
// writes; the connection allows only one concurrent writer.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(w.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// tickMessage is the feed's wire format. Prices arrive as decimal strings.
type tickMessage struct {
	Type    string `json:"type"`
	AssetID string `json:"asset_id"`
	Bid     string `json:"best_bid"`
	Ask     string `json:"best_ask"`
	Price   string `json:"price"`
	TS      int64  `json:"ts_ms"`
}

// handleMessage parses a raw feed message and dispatches ticks. Unparseable
// messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "price" || msg.AssetID == "" {
		return
	}

	tick := domain.Tick{
		AssetID: msg.AssetID,
		Bid:     parsePrice(msg.Bid),
		Ask:     parsePrice(msg.Ask),
		Price:   parsePrice(msg.Price),
	}
	if msg.TS > 0 {
		tick.At = time.UnixMilli(msg.TS)
	} else {
		tick.At = time.Now()
	}

	w.handlerMu.RLock()
	handlers := w.tickHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(tick)
	}
}

func (w *WSClient) notifyDisconnect(err error) {
	w.handlerMu.RLock()
	handlers := w.disconnectHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

// reconnect re-establishes the connection with exponential backoff. It blocks
// until successful or the client is closed.
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

func (w *WSClient) touch() {
	w.lastMsgMu.Lock()
	w.lastMsgAt = time.Now()
	w.lastMsgMu.Unlock()
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func mergeAssets(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := existing[:0]
	for _, a := range existing {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	for _, a := range added {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arvindrk/silverbot/internal/domain"
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

// TickHandler is called for every decoded price tick.
type TickHandler func(domain.Tick)

// subscribeCommand is the JSON control message selecting instruments on
// the binary feed.
type subscribeCommand struct {
	GUID   string `json:"guid"`
	Method string `json:"method"`
	Data   struct {
		Mode           string   `json:"mode"`
		InstrumentKeys []string `json:"instrumentKeys"`
	} `json:"data"`
}

// Feed is the WebSocket client for the Upstox binary market data feed. It
// manages the connection lifecycle, the ltpc subscription, and dispatches
// decoded ticks to the registered handler. Frames that fail to decode are
// dropped and logged, never fatal.
type Feed struct {
	wsURL         string
	instrumentKey string
	tokens        domain.TokenSource
	logger        *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	handlerMu sync.RWMutex
	handler   TickHandler

	done chan struct{}
}

// NewFeed creates a feed client for one instrument.
//
// wsURL is the feed endpoint, e.g. "wss://feed.upstox.com/v3/feed/market-data-feed".
func NewFeed(wsURL, instrumentKey string, tokens domain.TokenSource, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:         wsURL,
		instrumentKey: instrumentKey,
		tokens:        tokens,
		logger:        logger.With(slog.String("component", "feed")),
		done:          make(chan struct{}),
	}
}

// OnTick registers the handler called for every decoded tick.
func (f *Feed) OnTick(handler TickHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handler = handler
}

// Connect establishes the WebSocket connection and subscribes to the
// instrument's ltpc stream.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("upstox/feed: %w", domain.ErrFeedDisconnected)
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("upstox/feed: access token: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := dialer.DialContext(ctx, f.wsURL, header)
	if err != nil {
		return fmt.Errorf("upstox/feed: connect: %w", err)
	}

	f.conn = conn
	f.connected = true

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.readLoop(conn)
	go f.pingLoop(conn)

	if err := f.subscribeLocked(); err != nil {
		return fmt.Errorf("upstox/feed: subscribe: %w", err)
	}

	f.logger.Info("feed connected", slog.String("instrument", f.instrumentKey))
	return nil
}

// Connected reports whether the stream is currently up.
func (f *Feed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Reconnect tears down any existing connection and dials again. Used by the
// scheduler watchdog when the stream is down or silent.
func (f *Feed) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected = false
	f.mu.Unlock()

	return f.Connect(ctx)
}

// Close shuts down the feed permanently.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		f.connected = false
		return f.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// subscribeLocked sends the ltpc subscription. Caller must hold f.mu.
func (f *Feed) subscribeLocked() error {
	cmd := subscribeCommand{
		GUID:   uuid.NewString(),
		Method: "sub",
	}
	cmd.Data.Mode = "ltpc"
	cmd.Data.InstrumentKeys = []string{f.instrumentKey}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads binary frames until the connection drops, then attempts
// reconnection with exponential backoff.
func (f *Feed) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}

			f.mu.Lock()
			if f.conn == conn {
				f.connected = false
			}
			stale := f.conn != conn
			f.mu.Unlock()

			// A newer connection owns the stream; this loop just exits.
			if stale {
				return
			}

			f.logger.Warn("feed read failed, reconnecting", slog.String("error", err.Error()))
			f.reconnect()
			return
		}

		if msgType != websocket.BinaryMessage {
			// Control acknowledgements arrive as text; nothing to do.
			continue
		}

		f.handleFrame(message)
	}
}

// pingLoop keeps the connection alive until it is replaced or closed.
func (f *Feed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.RLock()
			current := f.conn == conn
			f.mu.RUnlock()
			if !current {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame decodes one binary frame and dispatches the tick.
func (f *Feed) handleFrame(raw []byte) {
	tick, frameType, err := DecodeFrame(raw)
	if err != nil {
		f.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
		return
	}
	if frameType == FrameHeartbeat {
		return
	}
	if tick.InstrumentKey != f.instrumentKey {
		return
	}

	f.handlerMu.RLock()
	handler := f.handler
	f.handlerMu.RUnlock()

	if handler != nil {
		handler(tick)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the feed is closed.
func (f *Feed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-f.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()

		if err == nil {
			return
		}
		f.logger.Warn("feed reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
	"github.com/pieterjandubois/fundingspreadarb/internal/symbolmap"
)

const (
	pingInterval     = 15 * time.Second
	readTimeout      = 45 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 5 * time.Second
)

// WSBridge is a single venue's websocket ticker feed. It reconnects with
// exponential backoff, re-subscribes on reconnect, and parses each
// message via the supplied TickParser before pushing into Sink.
type WSBridge struct {
	venue   string
	url     string
	symbols []string

	parser  TickParser
	ids     *symbolmap.Map
	sink    Sink

	connMu sync.Mutex
	conn   *websocket.Conn

	logger *slog.Logger
}

// NewWSBridge creates a bridge for one venue's ticker stream.
func NewWSBridge(venue, url string, symbols []string, parser TickParser, ids *symbolmap.Map, sink Sink, logger *slog.Logger) *WSBridge {
	return &WSBridge{
		venue:   venue,
		url:     url,
		symbols: symbols,
		parser:  parser,
		ids:     ids,
		sink:    sink,
		logger:  logger.With("component", "ws_bridge", "venue", venue),
	}
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (b *WSBridge) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := b.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (b *WSBridge) Close() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *WSBridge) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.venue, err)
	}

	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()

	defer func() {
		b.connMu.Lock()
		conn.Close()
		b.conn = nil
		b.connMu.Unlock()
	}()

	if err := b.subscribe(); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.venue, err)
	}
	b.logger.Info("websocket connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read %s: %w", b.venue, err)
		}

		b.dispatch(msg)
	}
}

func (b *WSBridge) subscribe() error {
	return b.writeJSON(map[string]any{
		"op":      "subscribe",
		"symbols": b.symbols,
	})
}

func (b *WSBridge) dispatch(raw []byte) {
	symbol, bid, ask, tsUS, ok := b.parser.Parse(raw)
	if !ok {
		return
	}
	id := b.ids.GetOrInsert(b.venue, symbol)
	tick := marketdata.Tick{SymbolID: id, Bid: bid, Ask: ask, TimestampUS: tsUS}
	if !tick.Valid() {
		b.logger.Debug("rejecting invalid tick", "symbol", symbol, "bid", bid, "ask", ask)
		return
	}
	b.sink.Push(tick)
}

func (b *WSBridge) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.writeMessage(websocket.PingMessage, nil); err != nil {
				b.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (b *WSBridge) writeJSON(v any) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return b.conn.WriteJSON(v)
}

func (b *WSBridge) writeMessage(msgType int, data []byte) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return b.conn.WriteMessage(msgType, data)
}

package pricefeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fx-arena/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Client consumes quotes from an upstream websocket feed and republishes
// them on the board and bus. It reconnects with backoff and re-sends its
// subscription set after every reconnect.
type Client struct {
	url   string
	board *Board
	bus   *Bus
	log   *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]struct{}
}

type upstreamQuote struct {
	Symbol    string `json:"symbol"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Timestamp int64  `json:"ts"`
}

type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

func NewClient(url string, board *Board, bus *Bus, log *logger.Logger) *Client {
	return &Client{
		url:     url,
		board:   board,
		bus:     bus,
		log:     log,
		symbols: make(map[string]struct{}),
	}
}

func (c *Client) Subscribe(symbol string) error {
	c.mu.Lock()
	c.symbols[symbol] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.WriteJSON(subscribeMsg{Op: "subscribe", Symbols: []string{symbol}})
	}
	return nil
}

func (c *Client) Unsubscribe(symbol string) {
	c.mu.Lock()
	delete(c.symbols, symbol)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteJSON(subscribeMsg{Op: "unsubscribe", Symbols: []string{symbol}})
	}
}

func (c *Client) Snapshot(symbol string) (Tick, bool) {
	return c.board.Snapshot(symbol)
}

// Run connects and pumps quotes until the context is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.log.Warnw("feed disconnected", "url", c.url, "error", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	subs := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if len(subs) > 0 {
		if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Symbols: subs}); err != nil {
			return err
		}
	}
	c.log.Infow("feed connected", "url", c.url, "symbols", len(subs))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var q upstreamQuote
		if err := json.Unmarshal(data, &q); err != nil {
			continue
		}
		bid, errB := decimal.NewFromString(q.Bid)
		ask, errA := decimal.NewFromString(q.Ask)
		if errB != nil || errA != nil {
			continue
		}
		tick := NewTick(q.Symbol, bid, ask, time.UnixMilli(q.Timestamp).UTC())
		if !tick.Valid() {
			continue
		}
		c.board.Set(tick)
		c.bus.Publish(tick)
	}
}

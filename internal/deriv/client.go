package deriv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"signal_bot/internal/models"
)

var (
	ErrNotConnected = errors.New("deriv: not connected")
	ErrTimeout      = errors.New("deriv: request timed out")
	ErrMaxAttempts  = errors.New("deriv: connection attempts exhausted")
)

const (
	maxConnectAttempts = 15
	candleWaitTimeout  = 15 * time.Second
	candleFetchRetries = 3

	staleAfter       = 60 * time.Second
	watchdogInterval = 30 * time.Second

	tickHistorySize = 200
)

// Client is a WebSocket client for the Deriv price feed. One Listen
// goroutine owns the read side; request/response calls (candles, active
// symbols) are correlated by req_id through the pending map.
type Client struct {
	url    string
	symbol string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	connDone  chan struct{} // closed when this connection generation dies

	writeMu sync.Mutex

	currentPrice float64
	lastDataAt   time.Time
	ticks        []models.Tick

	pendingMu sync.Mutex
	pending   map[int]chan *simplejson.Json
	nextReqID int

	onTick func(models.Tick)

	stopChan chan struct{}
	stopOnce sync.Once
}

func New(appID, symbol string) *Client {
	return &Client{
		url:      fmt.Sprintf("wss://ws.derivws.com/websockets/v3?app_id=%s", appID),
		symbol:   symbol,
		pending:  make(map[int]chan *simplejson.Json),
		stopChan: make(chan struct{}),
	}
}

// SetTickCallback registers a function invoked for every tick received.
// Must be called before Listen.
func (c *Client) SetTickCallback(fn func(models.Tick)) {
	c.onTick = fn
}

// Connect dials the feed, retrying with capped exponential backoff until
// it succeeds or the attempt budget runs out.
func (c *Client) Connect(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    2 * time.Second,
		Max:    60 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		conn, _, err := dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.connected = true
			c.connDone = make(chan struct{})
			c.lastDataAt = time.Now()
			c.mu.Unlock()
			log.Infof("🔌 Connected to price feed (attempt %d)", attempt)
			return nil
		}

		wait := b.Duration()
		log.Warnf("Feed connect attempt %d/%d failed: %v (retrying in %s)",
			attempt, maxConnectAttempts, err, wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return ErrNotConnected
		case <-time.After(wait):
		}
	}
	return ErrMaxAttempts
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.RLock()
	conn := c.conn
	ok := c.connected
	c.mu.RUnlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// SubscribeTicks starts the tick stream for a symbol. The server
// confirms with the first tick message; no ack is awaited here.
func (c *Client) SubscribeTicks(symbol string) error {
	return c.writeJSON(map[string]interface{}{
		"ticks":     symbol,
		"subscribe": 1,
	})
}

func (c *Client) allocRequest() (int, chan *simplejson.Json) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.nextReqID++
	id := c.nextReqID
	ch := make(chan *simplejson.Json, 1)
	c.pending[id] = ch
	return id, ch
}

func (c *Client) dropRequest(id int) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) resolveRequest(id int, msg *simplejson.Json) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

// GetCandles fetches the most recent OHLC bars, retrying on timeout.
func (c *Client) GetCandles(ctx context.Context, symbol string, count, granularity int) ([]models.Candle, error) {
	var lastErr error
	for attempt := 1; attempt <= candleFetchRetries; attempt++ {
		candles, err := c.fetchCandles(ctx, symbol, count, granularity)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		log.Warnf("Candle fetch attempt %d/%d failed: %v", attempt, candleFetchRetries, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, lastErr
}

func (c *Client) fetchCandles(ctx context.Context, symbol string, count, granularity int) ([]models.Candle, error) {
	id, ch := c.allocRequest()

	req := map[string]interface{}{
		"ticks_history":     symbol,
		"adjust_start_time": 1,
		"count":             count,
		"end":               "latest",
		"granularity":       granularity,
		"style":             "candles",
		"req_id":            id,
	}
	if err := c.writeJSON(req); err != nil {
		c.dropRequest(id)
		return nil, err
	}

	select {
	case msg := <-ch:
		if errJSON, ok := msg.CheckGet("error"); ok {
			code, _ := errJSON.Get("code").String()
			text, _ := errJSON.Get("message").String()
			return nil, fmt.Errorf("deriv: candle request rejected: %s (%s)", text, code)
		}
		return parseCandles(msg)
	case <-ctx.Done():
		c.dropRequest(id)
		return nil, ctx.Err()
	case <-time.After(candleWaitTimeout):
		c.dropRequest(id)
		return nil, ErrTimeout
	}
}

func parseCandles(msg *simplejson.Json) ([]models.Candle, error) {
	raw, err := msg.Get("candles").Array()
	if err != nil {
		return nil, fmt.Errorf("deriv: malformed candles response: %w", err)
	}
	candles := make([]models.Candle, 0, len(raw))
	for i := range raw {
		item := msg.Get("candles").GetIndex(i)
		candles = append(candles, models.Candle{
			Epoch: item.Get("epoch").MustInt64(),
			Open:  item.Get("open").MustFloat64(),
			High:  item.Get("high").MustFloat64(),
			Low:   item.Get("low").MustFloat64(),
			Close: item.Get("close").MustFloat64(),
		})
	}
	return candles, nil
}

// ResolveGoldSymbol asks the server for its active symbol list and picks
// the XAU/USD symbol, preferring the canonical frxXAUUSD code.
func (c *Client) ResolveGoldSymbol(ctx context.Context) (string, error) {
	id, ch := c.allocRequest()

	req := map[string]interface{}{
		"active_symbols": "brief",
		"product_type":   "basic",
		"req_id":         id,
	}
	if err := c.writeJSON(req); err != nil {
		c.dropRequest(id)
		return "", err
	}

	select {
	case msg := <-ch:
		if errJSON, ok := msg.CheckGet("error"); ok {
			text, _ := errJSON.Get("message").String()
			return "", fmt.Errorf("deriv: active_symbols rejected: %s", text)
		}
		symbols, err := msg.Get("active_symbols").Array()
		if err != nil {
			return "", fmt.Errorf("deriv: malformed active_symbols response: %w", err)
		}
		fallback := ""
		for i := range symbols {
			sym := msg.Get("active_symbols").GetIndex(i).Get("symbol").MustString()
			if sym == "frxXAUUSD" {
				return sym, nil
			}
			if fallback == "" && containsXAUUSD(sym) {
				fallback = sym
			}
		}
		if fallback != "" {
			return fallback, nil
		}
		return "", errors.New("deriv: no XAU/USD symbol available")
	case <-ctx.Done():
		c.dropRequest(id)
		return "", ctx.Err()
	case <-time.After(candleWaitTimeout):
		c.dropRequest(id)
		return "", ErrTimeout
	}
}

func containsXAUUSD(s string) bool {
	for i := 0; i+6 <= len(s); i++ {
		if s[i:i+6] == "XAUUSD" {
			return true
		}
	}
	return false
}

// Listen reads and dispatches feed messages until the connection drops
// or Close is called. Run it in its own goroutine; it also starts the
// staleness watchdog.
func (c *Client) Listen() {
	go c.watchdog()

	for {
		c.mu.RLock()
		conn := c.conn
		ok := c.connected
		c.mu.RUnlock()
		if !ok || conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
			default:
				log.Warnf("Feed read error: %v", err)
			}
			c.markDisconnected()
			return
		}

		msg, err := simplejson.NewJson(data)
		if err != nil {
			log.Warnf("Feed sent unparseable message: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *simplejson.Json) {
	c.mu.Lock()
	c.lastDataAt = time.Now()
	c.mu.Unlock()

	switch {
	case hasKey(msg, "tick"):
		tick := models.Tick{
			Symbol: msg.Get("tick").Get("symbol").MustString(),
			Price:  msg.Get("tick").Get("quote").MustFloat64(),
			Epoch:  msg.Get("tick").Get("epoch").MustInt64(),
		}
		c.recordTick(tick)
		if c.onTick != nil {
			c.onTick(tick)
		}

	case hasKey(msg, "candles"), hasKey(msg, "active_symbols"):
		if id, err := msg.Get("req_id").Int(); err == nil {
			c.resolveRequest(id, msg)
		}

	case hasKey(msg, "error"):
		if id, err := msg.Get("req_id").Int(); err == nil {
			c.resolveRequest(id, msg)
			return
		}
		text := msg.Get("error").Get("message").MustString()
		log.Warnf("Feed error message: %s", text)

	case hasKey(msg, "pong"):
		// liveness already refreshed above
	}
}

func hasKey(msg *simplejson.Json, key string) bool {
	_, ok := msg.CheckGet(key)
	return ok
}

func (c *Client) recordTick(t models.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentPrice = t.Price
	c.ticks = append(c.ticks, t)
	if len(c.ticks) > tickHistorySize {
		c.ticks = c.ticks[len(c.ticks)-tickHistorySize:]
	}
}

// watchdog pings the server when the stream goes quiet and declares the
// connection dead after prolonged silence, so the owner reconnects. It
// is bound to one connection generation: a disconnect ends it even if a
// reconnect flips connected back on before the next tick.
func (c *Client) watchdog() {
	c.mu.RLock()
	done := c.connDone
	c.mu.RUnlock()

	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-done:
			return
		case <-ticker.C:
			c.mu.RLock()
			ok := c.connected
			silence := time.Since(c.lastDataAt)
			c.mu.RUnlock()
			if !ok {
				return
			}

			if silence > 2*staleAfter {
				log.Warn("Feed silent too long, marking connection dead")
				c.markDisconnected()
				return
			}
			if silence > staleAfter {
				if err := c.writeJSON(map[string]interface{}{"ping": 1}); err != nil {
					log.Warnf("Feed ping failed: %v", err)
					c.markDisconnected()
					return
				}
			}
		}
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	if c.connected {
		c.connected = false
		close(c.connDone)
	}
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) CurrentPrice() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPrice
}

// PriceHistory returns a copy of the recent tick buffer, oldest first.
func (c *Client) PriceHistory() []models.Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Tick, len(c.ticks))
	copy(out, c.ticks)
	return out
}

func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.markDisconnected()
}

// Reset prepares a closed client for another Connect/Listen cycle.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopChan:
		c.stopChan = make(chan struct{})
		c.stopOnce = sync.Once{}
	default:
	}
}

package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"signal_bot/config"
	"signal_bot/internal/analysis"
	"signal_bot/internal/deriv"
	"signal_bot/internal/models"
	"signal_bot/internal/state"
)

// Callbacks are how the engine reaches the notification layer without
// importing it. Wired from main after both sides exist.
type Callbacks struct {
	OnSignalOpen      func(sig *models.Signal)
	OnTP1             func(sig *models.Signal, price float64)
	OnSignalClose     func(sig *models.Signal, outcome models.Outcome, price float64, held time.Duration)
	OnUserTP1         func(userID int64, sig *models.Signal, price float64)
	OnUserSignalClose func(userID int64, sig *models.Signal, outcome models.Outcome, price float64)
	OnTracking        func(sig *models.Signal, price float64)
	OnNotice          func(text string)
}

// StrategyStatus is the operator-facing snapshot shown by /info and
// /dashboard.
type StrategyStatus struct {
	State     string
	Price     float64
	EMA       float64
	RSI       float64
	PrevRSI   float64
	ADX       float64
	ATR       float64
	StochK    float64
	StochD    float64
	UpdatedAt time.Time
}

// SignalEngine runs the analysis/tracking cycle: it is the only writer
// of signal transitions. The Telegram layer reads state through the
// shared Manager and the engine's status snapshot.
type SignalEngine struct {
	feed  *deriv.Client
	store *state.Manager
	cfg   *config.Config

	callbacks Callbacks

	mu            sync.RWMutex
	isRunning     bool
	status        StrategyStatus
	lastClosedMsg time.Time

	stopChan chan struct{}
	rng      *rand.Rand
}

func NewSignalEngine(feed *deriv.Client, store *state.Manager, cfg *config.Config) *SignalEngine {
	return &SignalEngine{
		feed:     feed,
		store:    store,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *SignalEngine) SetCallbacks(cb Callbacks) {
	e.callbacks = cb
}

func (e *SignalEngine) Start() {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	// Stale levels from before the restart must not be tracked against
	// a fresh feed.
	if n := e.store.ClearAllActiveTrades(); n > 0 {
		log.Infof("♻️ Cleared %d stale tracked trades from previous run", n)
		e.notify("♻️ Bot restarted. Previous tracked trades were cleared; waiting for the next signal.")
	}
	e.store.ClearCurrentSignal()

	log.Info("🚀 Signal engine started")
	go e.run()
}

func (e *SignalEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isRunning {
		return
	}
	e.isRunning = false
	close(e.stopChan)
	log.Info("⏸️ Signal engine stopped")
}

func (e *SignalEngine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

func (e *SignalEngine) Status() StrategyStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *SignalEngine) CurrentPrice() float64 {
	return e.feed.CurrentPrice()
}

func (e *SignalEngine) FeedConnected() bool {
	return e.feed.Connected()
}

func (e *SignalEngine) setStatus(st StrategyStatus) {
	st.UpdatedAt = time.Now()
	e.mu.Lock()
	e.status = st
	e.mu.Unlock()
}

func (e *SignalEngine) notify(text string) {
	if e.callbacks.OnNotice != nil {
		e.callbacks.OnNotice(text)
	}
}

func (e *SignalEngine) run() {
	for {
		select {
		case <-e.stopChan:
			return
		default:
		}
		e.cycle()
	}
}

// cycle is one pass of the main loop; a panic in any step is contained
// so a single bad response never kills the engine.
func (e *SignalEngine) cycle() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Engine cycle panic: %v", r)
			e.sleep(config.AnalysisInterval)
		}
	}()

	now := time.Now()

	if !config.IsMarketOpen(now) {
		status := config.GetMarketStatus(now)
		e.setStatus(StrategyStatus{State: "MARKET_CLOSED"})
		e.mu.Lock()
		shouldNotify := now.Sub(e.lastClosedMsg) >= time.Hour
		if shouldNotify {
			e.lastClosedMsg = now
		}
		e.mu.Unlock()
		if shouldNotify {
			e.notify("🛑 " + status.Message)
		}
		e.sleep(config.MarketCheckInterval)
		return
	}

	if !e.feed.Connected() {
		e.setStatus(StrategyStatus{State: "RECONNECTING"})
		if err := e.reconnect(); err != nil {
			log.Errorf("Feed reconnect failed: %v", err)
			e.sleep(config.AnalysisInterval)
		}
		return
	}

	if sig := e.store.CurrentSignal(); sig != nil {
		e.trackSignal(sig)
		return
	}

	e.analyzeOnce()
	e.idleTrack(e.jitteredInterval())
}

// idleTrack waits out the gap between analysis cycles while still
// advancing manual trades, which have no global signal to ride along
// with.
func (e *SignalEngine) idleTrack(d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(config.TrackingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if !e.feed.Connected() {
				continue
			}
			if price := e.feed.CurrentPrice(); price != 0 {
				e.applyUserTrades("", price)
			}
		}
	}
}

func (e *SignalEngine) jitteredInterval() time.Duration {
	jitter := time.Duration(e.rng.Int63n(int64(2*config.AnalysisJitter))) - config.AnalysisJitter
	return config.AnalysisInterval + jitter
}

func (e *SignalEngine) sleep(d time.Duration) {
	select {
	case <-e.stopChan:
	case <-time.After(d):
	}
}

func (e *SignalEngine) reconnect() error {
	e.feed.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := e.feed.Connect(ctx); err != nil {
		return err
	}
	if err := e.feed.SubscribeTicks(e.cfg.GoldSymbol); err != nil {
		return err
	}
	go e.feed.Listen()
	log.Info("🔁 Feed reconnected and resubscribed")
	return nil
}

// analyzeOnce fetches the candle history, recomputes indicators and
// opens a signal if the entry rules fire outside the cooldown window.
func (e *SignalEngine) analyzeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	candles, err := e.feed.GetCandles(ctx, e.cfg.GoldSymbol, config.CandleCount, config.CandleGranularity)
	if err != nil {
		log.Warnf("Candle fetch failed: %v", err)
		return
	}

	cols, err := analysis.Calculate(candles)
	if err != nil {
		log.Warnf("Indicator calculation skipped: %v", err)
		return
	}

	// The last bar is still forming; entries are judged on the two most
	// recent closed candles.
	n := cols.Len()
	latest := cols.Snapshot(n - 2)
	prev := cols.Snapshot(n - 3)

	e.setStatus(StrategyStatus{
		State:   "WAITING_ENTRY",
		Price:   e.feed.CurrentPrice(),
		EMA:     latest.EMA,
		RSI:     latest.RSI,
		PrevRSI: prev.RSI,
		ADX:     latest.ADX,
		ATR:     latest.ATR,
		StochK:  latest.StochK,
		StochD:  latest.StochD,
	})

	dir, ok := EvaluateEntry(prev, latest)
	if !ok {
		return
	}

	now := time.Now()
	if !CooldownElapsed(e.store.LastSignalTime(), now, config.SignalCooldown) {
		log.Infof("Entry for %s suppressed by cooldown", dir)
		return
	}

	entry := e.feed.CurrentPrice()
	if entry == 0 {
		entry = latest.Close
	}

	sig := NewSignal(dir, entry, now)
	e.store.SetCurrentSignal(sig)
	e.store.AppendHistory(sig)
	e.store.SetActiveTradeForAll(sig)

	log.Infof("📣 %s signal at %.2f (tp1 %.2f, tp2 %.2f, sl %.2f)",
		sig.Direction, sig.EntryPrice, sig.TP1Level, sig.TP2Level, sig.SLLevel)

	if e.callbacks.OnSignalOpen != nil {
		e.callbacks.OnSignalOpen(sig.Clone())
	}
}

// trackSignal follows the open signal tick by tick until it resolves,
// pushing a tracking update to subscribers every 15th sample.
func (e *SignalEngine) trackSignal(sig *models.Signal) {
	ticker := time.NewTicker(config.TrackingInterval)
	defer ticker.Stop()

	samples := 0
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
		}

		if !e.feed.Connected() {
			return
		}
		now := time.Now()
		if !config.IsMarketOpen(now) {
			return
		}

		price := e.feed.CurrentPrice()
		if price == 0 {
			continue
		}

		e.setStatus(StrategyStatus{State: "TRACKING", Price: price})

		switch ev := ApplyTick(sig, price); ev {
		case EventTP1:
			e.store.MarkCurrentTP1()
			e.store.PromoteTradesToTP1(sig.ID)
			log.Infof("🎯 TP1 hit at %.2f, stop moved to entry %.2f", price, sig.EntryPrice)
			if e.callbacks.OnTP1 != nil {
				e.callbacks.OnTP1(sig.Clone(), price)
			}

		case EventWin, EventLoss, EventBreakEven:
			e.closeSignal(sig, ev, price, now)
			return

		case EventNone:
			samples++
			if samples%15 == 0 && e.callbacks.OnTracking != nil {
				e.callbacks.OnTracking(sig.Clone(), price)
			}
		}

		e.applyUserTrades(sig.ID, price)
	}
}

func outcomeOf(ev TickEvent) models.Outcome {
	switch ev {
	case EventWin:
		return models.OutcomeWin
	case EventLoss:
		return models.OutcomeLoss
	case EventBreakEven:
		return models.OutcomeBreakEven
	}
	return models.OutcomePending
}

func (e *SignalEngine) closeSignal(sig *models.Signal, ev TickEvent, price float64, now time.Time) {
	outcome := outcomeOf(ev)
	held := now.Sub(sig.StartTime)

	log.Infof("🏁 Signal %s closed %s at %.2f after %s",
		sig.ID, outcome, price, held.Round(time.Second))

	// Holders of the global copy get their counters updated here; the
	// single close broadcast below covers their notification. The
	// per-user callback is reserved for manual trades.
	for userID, trade := range e.store.UserTrades() {
		if trade.ID != sig.ID {
			continue
		}
		e.store.RecordUserOutcome(userID, outcome)
	}

	e.store.ResolveHistory(sig.ID, outcome, price, now)
	e.store.ClearCurrentSignal()
	e.store.ClearTrackingMessages()

	if e.callbacks.OnSignalClose != nil {
		e.callbacks.OnSignalClose(sig.Clone(), outcome, price, held)
	}
}

// applyUserTrades advances manual (per-user) trades that are not copies
// of the global signal.
func (e *SignalEngine) applyUserTrades(globalID string, price float64) {
	for userID, trade := range e.store.UserTrades() {
		if trade.ID == globalID {
			continue
		}
		switch ev := ApplyTick(trade, price); ev {
		case EventTP1:
			e.store.SetUserTrade(userID, trade)
			if e.callbacks.OnUserTP1 != nil {
				e.callbacks.OnUserTP1(userID, trade.Clone(), price)
			}
		case EventWin, EventLoss, EventBreakEven:
			outcome := outcomeOf(ev)
			e.store.RecordUserOutcome(userID, outcome)
			if e.callbacks.OnUserSignalClose != nil {
				e.callbacks.OnUserSignalClose(userID, trade.Clone(), outcome, price)
			}
		}
	}
}

// ManualSignal runs one analysis pass for a single user. When the
// strict entry rules do not fire it falls back to a trend-following
// entry at the live price, so the command always produces a trade.
func (e *SignalEngine) ManualSignal(ctx context.Context, userID int64) (*models.Signal, error) {
	if !e.feed.Connected() {
		return nil, deriv.ErrNotConnected
	}

	candles, err := e.feed.GetCandles(ctx, e.cfg.GoldSymbol, config.CandleCount, config.CandleGranularity)
	if err != nil {
		return nil, fmt.Errorf("engine: manual signal candles: %w", err)
	}
	cols, err := analysis.Calculate(candles)
	if err != nil {
		return nil, err
	}

	n := cols.Len()
	latest := cols.Snapshot(n - 2)
	prev := cols.Snapshot(n - 3)

	dir, ok := EvaluateEntry(prev, latest)
	if !ok {
		dir = TrendEntry(latest)
	}

	entry := e.feed.CurrentPrice()
	if entry == 0 {
		entry = latest.Close
	}

	sig := NewSignal(dir, entry, time.Now())
	e.store.SetUserTrade(userID, sig)
	log.Infof("✍️ Manual %s signal for user %d at %.2f", sig.Direction, userID, sig.EntryPrice)
	return sig.Clone(), nil
}
